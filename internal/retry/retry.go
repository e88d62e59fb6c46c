// Package retry provides bounded retries with jittered exponential backoff.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Defaults applied when a Config field is zero or out of range.
const (
	DefaultMaxRetries     = 3
	DefaultInitialBackoff = 50 * time.Millisecond
	DefaultMaxBackoff     = 2 * time.Second
	DefaultJitterFactor   = 0.25
)

// Config is a retry policy. The zero value is usable; absent or out-of-range
// fields fall back to the package defaults.
type Config struct {
	// MaxRetries bounds the retry attempts after the first call.
	MaxRetries int `yaml:"maxRetries"`

	// InitialBackoff is the delay before the first retry; it doubles per
	// attempt up to MaxBackoff.
	InitialBackoff time.Duration `yaml:"initialBackoff"`
	MaxBackoff     time.Duration `yaml:"maxBackoff"`

	// JitterFactor (0..1] adds a random fraction of the backoff to each
	// delay so callers do not retry in lockstep.
	JitterFactor float64 `yaml:"jitterFactor"`
}

// DefaultConfig returns the default retry policy.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:     DefaultMaxRetries,
		InitialBackoff: DefaultInitialBackoff,
		MaxBackoff:     DefaultMaxBackoff,
		JitterFactor:   DefaultJitterFactor,
	}
}

// normalized returns the effective policy values. Safe on a nil receiver.
func (c *Config) normalized() (maxRetries int, initial, max time.Duration, jitter float64) {
	maxRetries = DefaultMaxRetries
	initial = DefaultInitialBackoff
	max = DefaultMaxBackoff
	jitter = DefaultJitterFactor
	if c == nil {
		return
	}
	if c.MaxRetries > 0 {
		maxRetries = c.MaxRetries
	}
	if c.InitialBackoff > 0 {
		initial = c.InitialBackoff
	}
	if c.MaxBackoff > 0 {
		max = c.MaxBackoff
	}
	if c.JitterFactor > 0 {
		jitter = math.Min(c.JitterFactor, 1)
	}
	return
}

// Do calls fn until it succeeds, shouldRetry rejects its error, the attempt
// budget runs out, or ctx is cancelled. A nil shouldRetry retries every
// error. The last error is returned when all attempts fail; a cancellation
// between attempts surfaces as ctx.Err().
func Do(ctx context.Context, cfg *Config, fn func() error, shouldRetry func(error) bool) error {
	maxRetries, initial, max, jitter := cfg.normalized()

	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if shouldRetry != nil && !shouldRetry(lastErr) {
			return lastErr
		}
		if attempt == maxRetries {
			return lastErr
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(CalculateBackoff(attempt, initial, max, jitter)):
		}
	}
}

// CalculateBackoff returns the delay for the given zero-based attempt:
// initial doubled per attempt plus a random jitter fraction, capped at max.
func CalculateBackoff(attempt int, initial, max time.Duration, jitterFactor float64) time.Duration {
	backoff := float64(initial) * math.Pow(2, float64(attempt))

	// Jitter prevents synchronized retries across callers.
	//nolint:gosec // G404: retry timing is not security-sensitive
	backoff += backoff * jitterFactor * rand.Float64()

	return time.Duration(math.Min(backoff, float64(max)))
}
