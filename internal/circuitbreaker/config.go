// Package circuitbreaker guards calls into downstream dependencies with
// failure-triggered short-circuiting and controlled recovery.
package circuitbreaker

import (
	"time"
)

// Config holds configuration for a circuit breaker.
type Config struct {
	// MaxFailures is the number of consecutive failures before opening the circuit.
	MaxFailures int `yaml:"maxFailures"`

	// Cooldown is the duration the circuit stays open before transitioning
	// to half-open. Subsequent re-opens from half-open double the effective
	// cooldown, capped at MaxCooldown.
	Cooldown time.Duration `yaml:"cooldown"`

	// MaxCooldown caps the exponential cooldown growth.
	MaxCooldown time.Duration `yaml:"maxCooldown"`

	// HalfOpenMax is the maximum number of trial requests allowed in half-open state.
	HalfOpenMax int `yaml:"halfOpenMax"`

	// SuccessThreshold is the number of successes needed to close the circuit
	// from half-open state.
	SuccessThreshold int `yaml:"successThreshold"`

	// SamplingDuration is the window over which consecutive failures are
	// counted while closed. After this duration the counters reset.
	SamplingDuration time.Duration `yaml:"samplingDuration"`

	// CallTimeout bounds each wrapped call. Exceeding it counts as a failure.
	CallTimeout time.Duration `yaml:"callTimeout"`

	// IsSuccessful determines if an error should be counted as a success.
	// If nil, all non-nil errors are counted as failures.
	IsSuccessful func(err error) bool `yaml:"-"`

	// OnStateChange is called when the circuit breaker state changes.
	OnStateChange func(name string, from, to State) `yaml:"-"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		MaxFailures:      5,
		Cooldown:         30 * time.Second,
		MaxCooldown:      5 * time.Minute,
		HalfOpenMax:      3,
		SuccessThreshold: 2,
		SamplingDuration: time.Minute,
		CallTimeout:      5 * time.Second,
	}
}

// Validate normalizes out-of-range values to defaults.
func (c *Config) Validate() error {
	if c.MaxFailures < 1 {
		c.MaxFailures = 5
	}
	if c.Cooldown < time.Millisecond {
		c.Cooldown = 30 * time.Second
	}
	if c.MaxCooldown < c.Cooldown {
		c.MaxCooldown = 10 * c.Cooldown
	}
	if c.HalfOpenMax < 1 {
		c.HalfOpenMax = 3
	}
	if c.SuccessThreshold < 1 {
		c.SuccessThreshold = 2
	}
	if c.SamplingDuration < time.Second {
		c.SamplingDuration = time.Minute
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 5 * time.Second
	}
	return nil
}

// WithMaxFailures sets the maximum failures.
func (c *Config) WithMaxFailures(n int) *Config {
	c.MaxFailures = n
	return c
}

// WithCooldown sets the open-state cooldown duration.
func (c *Config) WithCooldown(d time.Duration) *Config {
	c.Cooldown = d
	return c
}

// WithHalfOpenMax sets the maximum half-open trial requests.
func (c *Config) WithHalfOpenMax(n int) *Config {
	c.HalfOpenMax = n
	return c
}

// WithSuccessThreshold sets the success threshold.
func (c *Config) WithSuccessThreshold(n int) *Config {
	c.SuccessThreshold = n
	return c
}

// WithCallTimeout sets the per-call timeout.
func (c *Config) WithCallTimeout(d time.Duration) *Config {
	c.CallTimeout = d
	return c
}

// WithOnStateChange sets the state change callback.
func (c *Config) WithOnStateChange(fn func(name string, from, to State)) *Config {
	c.OnStateChange = fn
	return c
}
