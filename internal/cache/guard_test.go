package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainscope/txgate/internal/circuitbreaker"
	"github.com/chainscope/txgate/internal/observability"
)

var errRedisDown = errors.New("connection refused")

// failingBackend errors on every operation and counts how often it is hit.
type failingBackend struct {
	calls int64
}

func (f *failingBackend) Get(context.Context, string) ([]byte, error) {
	atomic.AddInt64(&f.calls, 1)
	return nil, errRedisDown
}

func (f *failingBackend) Set(context.Context, string, []byte, time.Duration) error {
	atomic.AddInt64(&f.calls, 1)
	return errRedisDown
}

func (f *failingBackend) Delete(context.Context, string) error {
	atomic.AddInt64(&f.calls, 1)
	return errRedisDown
}

func (f *failingBackend) Close() error { return nil }

func newGuardBreaker(maxFailures int) *circuitbreaker.CircuitBreaker {
	cfg := circuitbreaker.DefaultConfig().
		WithMaxFailures(maxFailures).
		WithCooldown(time.Hour)
	return circuitbreaker.New("cache", cfg, nil)
}

func TestGuardOpensOnBackendFailures(t *testing.T) {
	backend := &failingBackend{}
	cb := newGuardBreaker(2)
	guarded := Guard(backend, cb)
	ctx := context.Background()

	_, err := guarded.Get(ctx, "k")
	assert.ErrorIs(t, err, errRedisDown)
	_, err = guarded.Get(ctx, "k")
	assert.ErrorIs(t, err, errRedisDown)
	require.Equal(t, circuitbreaker.StateOpen, cb.State())

	// The open breaker short-circuits before the backend is touched.
	_, err = guarded.Get(ctx, "k")
	assert.True(t, circuitbreaker.IsDependencyUnavailable(err))
	assert.EqualValues(t, 2, atomic.LoadInt64(&backend.calls))

	err = guarded.Set(ctx, "k", []byte("v"), time.Minute)
	assert.True(t, circuitbreaker.IsDependencyUnavailable(err))
	err = guarded.Delete(ctx, "k")
	assert.True(t, circuitbreaker.IsDependencyUnavailable(err))
	assert.EqualValues(t, 2, atomic.LoadInt64(&backend.calls))
}

func TestGuardMissesAreNotFailures(t *testing.T) {
	cfg := DefaultConfig()
	cb := newGuardBreaker(1)
	guarded := Guard(newMemoryCache(cfg, observability.NopLogger()), cb)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := guarded.Get(ctx, "absent")
		assert.ErrorIs(t, err, ErrCacheMiss)
	}
	assert.Equal(t, circuitbreaker.StateClosed, cb.State())
}

func TestGuardDisabledBackendDoesNotTrip(t *testing.T) {
	cb := newGuardBreaker(1)
	guarded := Guard(newDisabledCache(), cb)
	ctx := context.Background()

	_, err := guarded.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheDisabled)
	assert.ErrorIs(t, guarded.Set(ctx, "k", []byte("v"), time.Minute), ErrCacheDisabled)
	assert.Equal(t, circuitbreaker.StateClosed, cb.State())
}

func TestGuardNilBreakerPassesThrough(t *testing.T) {
	backend := newMemoryCache(DefaultConfig(), observability.NopLogger())
	assert.Same(t, backend, Guard(backend, nil))
}

// warnCounter counts Warn calls and discards everything else.
type warnCounter struct {
	observability.Logger
	warns int64
}

func (w *warnCounter) Warn(msg string, fields ...observability.Field) {
	atomic.AddInt64(&w.warns, 1)
}

func TestAdaptiveDisabledBackendDoesNotWarn(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TTLJitter = 0
	logger := &warnCounter{Logger: observability.NopLogger()}
	a := NewAdaptiveCache(newDisabledCache(), cfg, logger)
	defer a.Close()
	ctx := context.Background()

	var calls int64
	for i := 0; i < 3; i++ {
		value, err := a.GetOrCompute(ctx, "k", func(ctx context.Context) ([]byte, error) {
			atomic.AddInt64(&calls, 1)
			return []byte("v"), nil
		})
		require.NoError(t, err)
		assert.Equal(t, []byte("v"), value)
	}

	assert.EqualValues(t, 3, atomic.LoadInt64(&calls), "a disabled cache computes every request")
	assert.Zero(t, atomic.LoadInt64(&logger.warns))
}

func TestAdaptiveServesThroughOpenCacheBreaker(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TTLJitter = 0
	logger := &warnCounter{Logger: observability.NopLogger()}
	a := NewAdaptiveCache(Guard(&failingBackend{}, newGuardBreaker(1)), cfg, logger)
	defer a.Close()

	value, err := a.GetOrCompute(context.Background(), "k", func(ctx context.Context) ([]byte, error) {
		return []byte("v"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), value)
	assert.Zero(t, atomic.LoadInt64(&logger.warns), "an open cache breaker is not a per-request event")
}
