package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chainscope/txgate/internal/retry"
)

// State represents the state of a circuit breaker.
type State int

const (
	// StateClosed indicates the circuit is closed and calls pass through.
	StateClosed State = iota

	// StateOpen indicates the circuit is open and calls short-circuit.
	StateOpen

	// StateHalfOpen indicates the circuit is probing the dependency.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrTooManyRequests is returned when the half-open trial budget is exhausted.
var ErrTooManyRequests = errors.New("too many requests in half-open state")

// DependencyUnavailableError is returned when a call short-circuits because
// the breaker for the dependency is open.
type DependencyUnavailableError struct {
	Dependency string
	RetryAfter time.Duration
}

func (e *DependencyUnavailableError) Error() string {
	return fmt.Sprintf("dependency %q unavailable: circuit open", e.Dependency)
}

// IsDependencyUnavailable reports whether err indicates an open circuit.
func IsDependencyUnavailable(err error) bool {
	var duErr *DependencyUnavailableError
	return errors.As(err, &duErr)
}

// CircuitBreaker guards one downstream dependency.
type CircuitBreaker struct {
	name     string
	config   *Config
	retryCfg *retry.Config
	logger   *zap.Logger

	mu    sync.Mutex
	state State

	failures         int
	successes        int
	consecutiveFails int
	totalRequests    int

	halfOpenRequests int

	// consecutiveOpens drives the exponential cooldown: each re-open from
	// half-open doubles the effective cooldown up to MaxCooldown.
	consecutiveOpens int

	lastFailure     time.Time
	lastStateChange time.Time
	samplingStart   time.Time
}

// New creates a circuit breaker for the named dependency.
func New(name string, config *Config, logger *zap.Logger) *CircuitBreaker {
	if config == nil {
		config = DefaultConfig()
	}
	_ = config.Validate()

	if logger == nil {
		logger = zap.NewNop()
	}

	now := time.Now()
	return &CircuitBreaker{
		name:            name,
		config:          config,
		retryCfg:        retry.DefaultConfig(),
		logger:          logger,
		state:           StateClosed,
		lastStateChange: now,
		samplingStart:   now,
	}
}

// SetRetryConfig overrides the retry policy applied inside Execute.
func (cb *CircuitBreaker) SetRetryConfig(cfg *retry.Config) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.retryCfg = cfg
}

// Execute runs fn under the breaker. While the circuit is closed or a
// half-open trial slot is available, fn is retried locally with jittered
// backoff; only an error surviving all retries counts against the breaker.
// Each attempt is bounded by the configured call timeout.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.Allow(); err != nil {
		return err
	}

	err := retry.Do(ctx, cb.retryCfg, func() error {
		callCtx, cancel := context.WithTimeout(ctx, cb.config.CallTimeout)
		defer cancel()
		return fn(callCtx)
	}, func(err error) bool {
		// Do not burn retries on a cancelled caller or on errors the
		// breaker counts as successful outcomes (e.g. not-found).
		return !errors.Is(err, context.Canceled) && !cb.isSuccessful(err)
	})

	if cb.isSuccessful(err) {
		cb.RecordSuccess()
		return err
	}

	cb.RecordFailure()
	return err
}

// Allow checks whether a call may proceed. It returns nil when allowed,
// a DependencyUnavailableError while open, and ErrTooManyRequests when the
// half-open trial budget is exhausted.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	var err error

	switch cb.state {
	case StateClosed:
		// pass

	case StateOpen:
		cooldown := cb.currentCooldown()
		if now.Sub(cb.lastStateChange) >= cooldown {
			cb.transitionTo(StateHalfOpen)
			cb.halfOpenRequests = 1
		} else {
			err = &DependencyUnavailableError{
				Dependency: cb.name,
				RetryAfter: cooldown - now.Sub(cb.lastStateChange),
			}
		}

	case StateHalfOpen:
		if cb.halfOpenRequests < cb.config.HalfOpenMax {
			cb.halfOpenRequests++
		} else {
			err = ErrTooManyRequests
		}

	default:
		err = &DependencyUnavailableError{Dependency: cb.name}
	}

	recordRequest(cb.name, err == nil)
	return err
}

// currentCooldown returns the effective open-state cooldown, doubled for
// each consecutive re-open and capped at MaxCooldown. Callers hold cb.mu.
func (cb *CircuitBreaker) currentCooldown() time.Duration {
	cooldown := cb.config.Cooldown
	for i := 1; i < cb.consecutiveOpens; i++ {
		cooldown *= 2
		if cooldown >= cb.config.MaxCooldown {
			return cb.config.MaxCooldown
		}
	}
	if cooldown > cb.config.MaxCooldown {
		cooldown = cb.config.MaxCooldown
	}
	return cooldown
}

// RecordSuccess records a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.successes++
	cb.consecutiveFails = 0
	cb.totalRequests++

	recordSuccess(cb.name)

	switch cb.state {
	case StateHalfOpen:
		if cb.successes >= cb.config.SuccessThreshold {
			cb.consecutiveOpens = 0
			cb.transitionTo(StateClosed)
		}

	case StateClosed:
		if time.Since(cb.samplingStart) >= cb.config.SamplingDuration {
			cb.resetCounters()
		}
	}
}

// RecordFailure records a failed call.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.consecutiveFails++
	cb.totalRequests++
	cb.lastFailure = time.Now()

	recordFailure(cb.name)

	switch cb.state {
	case StateClosed:
		if time.Since(cb.samplingStart) >= cb.config.SamplingDuration {
			// Stale window: this failure starts a fresh count.
			cb.resetCounters()
			cb.failures = 1
			cb.consecutiveFails = 1
			cb.totalRequests = 1
		}
		if cb.consecutiveFails >= cb.config.MaxFailures {
			cb.consecutiveOpens++
			cb.transitionTo(StateOpen)
		}

	case StateHalfOpen:
		// Any trial failure re-opens with a longer cooldown.
		cb.consecutiveOpens++
		cb.transitionTo(StateOpen)
	}
}

// transitionTo moves the breaker to a new state. Callers hold cb.mu.
func (cb *CircuitBreaker) transitionTo(newState State) {
	oldState := cb.state
	cb.state = newState
	cb.lastStateChange = time.Now()

	cb.resetCounters()

	recordStateChange(cb.name, oldState, newState)

	cb.logger.Info("circuit breaker state changed",
		zap.String("dependency", cb.name),
		zap.String("from", oldState.String()),
		zap.String("to", newState.String()),
		zap.Int("consecutive_opens", cb.consecutiveOpens),
	)

	if cb.config.OnStateChange != nil {
		go cb.config.OnStateChange(cb.name, oldState, newState)
	}
}

// resetCounters resets the failure and success counters. Callers hold cb.mu.
func (cb *CircuitBreaker) resetCounters() {
	cb.failures = 0
	cb.successes = 0
	cb.consecutiveFails = 0
	cb.totalRequests = 0
	cb.halfOpenRequests = 0
	cb.samplingStart = time.Now()
}

// isSuccessful determines if the error should be counted as a success.
func (cb *CircuitBreaker) isSuccessful(err error) bool {
	if cb.config.IsSuccessful != nil {
		return cb.config.IsSuccessful(err)
	}
	return err == nil
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset returns the circuit breaker to closed state with fresh counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.consecutiveOpens = 0
	cb.resetCounters()
	cb.lastStateChange = time.Now()

	cb.logger.Info("circuit breaker reset", zap.String("dependency", cb.name))
}

// Name returns the dependency name guarded by this breaker.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Stats holds circuit breaker statistics.
type Stats struct {
	State            State     `json:"state"`
	Failures         int       `json:"failures"`
	Successes        int       `json:"successes"`
	ConsecutiveFails int       `json:"consecutive_failures"`
	TotalRequests    int       `json:"total_requests"`
	LastFailure      time.Time `json:"last_failure,omitempty"`
	LastStateChange  time.Time `json:"last_state_change"`
}

// Stats returns the current statistics of the circuit breaker.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Stats{
		State:            cb.state,
		Failures:         cb.failures,
		Successes:        cb.successes,
		ConsecutiveFails: cb.consecutiveFails,
		TotalRequests:    cb.totalRequests,
		LastFailure:      cb.lastFailure,
		LastStateChange:  cb.lastStateChange,
	}
}
