package circuitbreaker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainscope/txgate/internal/retry"
)

var errBoom = errors.New("boom")

func fastRetryConfigFor(cb *CircuitBreaker) {
	cb.SetRetryConfig(&retry.Config{
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		JitterFactor:   0.1,
	})
}

func newTestBreaker(t *testing.T, mutate func(*Config)) *CircuitBreaker {
	t.Helper()

	cfg := DefaultConfig().
		WithMaxFailures(2).
		WithCooldown(20 * time.Millisecond).
		WithHalfOpenMax(2).
		WithSuccessThreshold(2).
		WithCallTimeout(time.Second)
	cfg.MaxCooldown = 100 * time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}

	return New("storage", cfg, nil)
}

// tripBreaker drives the breaker from closed to open.
func tripBreaker(t *testing.T, cb *CircuitBreaker) {
	t.Helper()
	for cb.State() == StateClosed {
		cb.RecordFailure()
	}
	require.Equal(t, StateOpen, cb.State())
}

func TestBreakerStaysClosedUnderSuccess(t *testing.T) {
	cb := newTestBreaker(t, nil)

	for i := 0; i < 10; i++ {
		require.NoError(t, cb.Allow())
		cb.RecordSuccess()
	}

	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 10, cb.Stats().Successes)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cb := newTestBreaker(t, nil)

	cb.RecordFailure()
	assert.Equal(t, StateClosed, cb.State())

	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())

	err := cb.Allow()
	require.Error(t, err)

	var duErr *DependencyUnavailableError
	require.ErrorAs(t, err, &duErr)
	assert.Equal(t, "storage", duErr.Dependency)
	assert.Greater(t, duErr.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, duErr.RetryAfter, 20*time.Millisecond)
	assert.True(t, IsDependencyUnavailable(err))
}

func TestBreakerSuccessResetsConsecutiveFailures(t *testing.T) {
	cb := newTestBreaker(t, nil)

	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()

	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	cb := newTestBreaker(t, nil)
	tripBreaker(t, cb)

	time.Sleep(30 * time.Millisecond)

	require.NoError(t, cb.Allow())
	assert.Equal(t, StateHalfOpen, cb.State())

	cb.RecordSuccess()
	assert.Equal(t, StateHalfOpen, cb.State())

	cb.RecordSuccess()
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerHalfOpenTrialBudget(t *testing.T) {
	cb := newTestBreaker(t, nil)
	tripBreaker(t, cb)

	time.Sleep(30 * time.Millisecond)

	// The transitioning call consumes the first trial slot.
	require.NoError(t, cb.Allow())
	require.NoError(t, cb.Allow())

	err := cb.Allow()
	assert.ErrorIs(t, err, ErrTooManyRequests)
}

func TestBreakerHalfOpenFailureExtendsCooldown(t *testing.T) {
	cb := newTestBreaker(t, nil)
	tripBreaker(t, cb)

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, cb.Allow())
	require.Equal(t, StateHalfOpen, cb.State())

	cb.RecordFailure()
	require.Equal(t, StateOpen, cb.State())

	var duErr *DependencyUnavailableError
	require.ErrorAs(t, cb.Allow(), &duErr)
	assert.Greater(t, duErr.RetryAfter, 20*time.Millisecond, "second open should double the cooldown")
	assert.LessOrEqual(t, duErr.RetryAfter, 40*time.Millisecond)
}

func TestBreakerCooldownCappedAtMax(t *testing.T) {
	cb := newTestBreaker(t, nil)
	tripBreaker(t, cb)

	// Re-open repeatedly: cooldowns grow 20ms, 40ms, 80ms, 100ms (cap).
	for i := 0; i < 4; i++ {
		time.Sleep(110 * time.Millisecond)
		require.NoError(t, cb.Allow())
		cb.RecordFailure()
	}

	var duErr *DependencyUnavailableError
	require.ErrorAs(t, cb.Allow(), &duErr)
	assert.LessOrEqual(t, duErr.RetryAfter, 100*time.Millisecond)
}

func TestBreakerCloseResetsCooldownGrowth(t *testing.T) {
	cb := newTestBreaker(t, nil)
	tripBreaker(t, cb)

	// Re-open once so the effective cooldown doubles.
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, cb.Allow())
	cb.RecordFailure()

	// Recover fully.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, cb.Allow())
	cb.RecordSuccess()
	cb.RecordSuccess()
	require.Equal(t, StateClosed, cb.State())

	// The next trip starts from the base cooldown again.
	tripBreaker(t, cb)
	var duErr *DependencyUnavailableError
	require.ErrorAs(t, cb.Allow(), &duErr)
	assert.LessOrEqual(t, duErr.RetryAfter, 20*time.Millisecond)
}

func TestExecutePassesThroughSuccess(t *testing.T) {
	cb := newTestBreaker(t, nil)

	var calls int32
	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, 1, cb.Stats().Successes)
}

func TestExecuteRetriesTransientErrors(t *testing.T) {
	cb := newTestBreaker(t, nil)
	fastRetryConfigFor(cb)

	var calls int32
	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errBoom
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, StateClosed, cb.State())
}

func TestExecuteCountsExhaustedRetriesAsOneFailure(t *testing.T) {
	cb := newTestBreaker(t, func(cfg *Config) {
		cfg.MaxFailures = 1
	})
	fastRetryConfigFor(cb)

	var calls int32
	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return errBoom
	})

	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls), "initial call plus two retries")
	assert.Equal(t, StateOpen, cb.State())
}

func TestExecuteShortCircuitsWhenOpen(t *testing.T) {
	cb := newTestBreaker(t, nil)
	tripBreaker(t, cb)

	var calls int32
	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	assert.True(t, IsDependencyUnavailable(err))
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestExecuteDoesNotRetrySuccessfulErrors(t *testing.T) {
	errNotFound := errors.New("not found")
	cb := newTestBreaker(t, func(cfg *Config) {
		cfg.IsSuccessful = func(err error) bool {
			return err == nil || errors.Is(err, errNotFound)
		}
	})
	fastRetryConfigFor(cb)

	var calls int32
	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return errNotFound
	})

	require.ErrorIs(t, err, errNotFound)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "a successful outcome must not be retried")
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 1, cb.Stats().Successes)
}

func TestExecuteCallTimeout(t *testing.T) {
	cb := newTestBreaker(t, func(cfg *Config) {
		cfg.CallTimeout = 10 * time.Millisecond
	})
	cb.SetRetryConfig(&retry.Config{
		MaxRetries:     1,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		JitterFactor:   0.1,
	})

	var calls int32
	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		<-ctx.Done()
		return ctx.Err()
	})

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, 1, cb.Stats().Failures)
}

func TestExecuteDoesNotRetryCancelledContext(t *testing.T) {
	cb := newTestBreaker(t, nil)
	fastRetryConfigFor(cb)

	ctx, cancel := context.WithCancel(context.Background())

	var calls int32
	err := cb.Execute(ctx, func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		cancel()
		return context.Canceled
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestBreakerReset(t *testing.T) {
	cb := newTestBreaker(t, nil)
	tripBreaker(t, cb)

	cb.Reset()

	assert.Equal(t, StateClosed, cb.State())
	require.NoError(t, cb.Allow())

	stats := cb.Stats()
	assert.Zero(t, stats.Failures)
	assert.Zero(t, stats.ConsecutiveFails)
}

func TestBreakerOnStateChange(t *testing.T) {
	changes := make(chan State, 4)
	cb := newTestBreaker(t, func(cfg *Config) {
		cfg.WithOnStateChange(func(name string, from, to State) {
			changes <- to
		})
	})

	tripBreaker(t, cb)

	select {
	case to := <-changes:
		assert.Equal(t, StateOpen, to)
	case <-time.After(time.Second):
		t.Fatal("state change callback not invoked")
	}
}

func TestBreakerStats(t *testing.T) {
	cb := newTestBreaker(t, nil)

	cb.RecordSuccess()
	cb.RecordFailure()

	stats := cb.Stats()
	assert.Equal(t, StateClosed, stats.State)
	assert.Equal(t, 1, stats.Successes)
	assert.Equal(t, 1, stats.Failures)
	assert.Equal(t, 1, stats.ConsecutiveFails)
	assert.Equal(t, 2, stats.TotalRequests)
	assert.False(t, stats.LastFailure.IsZero())
	assert.Equal(t, "storage", cb.Name())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestConfigValidateNormalizes(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 5, cfg.MaxFailures)
	assert.Equal(t, 30*time.Second, cfg.Cooldown)
	assert.Equal(t, 300*time.Second, cfg.MaxCooldown)
	assert.Equal(t, 3, cfg.HalfOpenMax)
	assert.Equal(t, 2, cfg.SuccessThreshold)
	assert.Equal(t, 5*time.Second, cfg.CallTimeout)
}
