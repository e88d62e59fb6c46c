// Package ratelimit enforces per-identity request budgets with a lazily
// refilled token bucket.
package ratelimit

import (
	"context"
	"time"
)

// Limiter defines the interface for rate limiting.
type Limiter interface {
	// Allow checks if a single request is allowed for the given identity.
	Allow(ctx context.Context, identity string) (*Result, error)

	// AllowN checks if n requests are allowed for the given identity.
	AllowN(ctx context.Context, identity string, n int) (*Result, error)

	// Reset clears the rate limit state for the given identity.
	Reset(ctx context.Context, identity string) error
}

// Result represents the outcome of a rate limit check.
type Result struct {
	// Allowed indicates whether the request is admitted.
	Allowed bool

	// Limit is the bucket capacity.
	Limit int

	// Remaining is the number of whole tokens left in the bucket.
	Remaining int

	// ResetAfter is the duration until the bucket is full again.
	ResetAfter time.Duration

	// RetryAfter is the duration to wait before retrying (when not allowed).
	RetryAfter time.Duration
}

// Config holds configuration for the rate limiter.
type Config struct {
	// Enabled toggles rate limiting.
	Enabled bool `yaml:"enabled"`

	// Capacity is the maximum bucket size.
	Capacity int `yaml:"capacity"`

	// RefillRate is the number of tokens added per second.
	RefillRate float64 `yaml:"refillRate"`

	// BypassPaths are exact request paths exempt from rate accounting.
	BypassPaths []string `yaml:"bypassPaths"`

	// BucketTTL is how long an idle bucket is kept before cleanup.
	BucketTTL time.Duration `yaml:"bucketTTL"`

	// CleanupInterval is how often stale buckets are swept.
	CleanupInterval time.Duration `yaml:"cleanupInterval"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		Capacity:        100,
		RefillRate:      100.0 / 60.0,
		BypassPaths:     []string{"/healthz", "/readyz", "/metrics", "/version"},
		BucketTTL:       10 * time.Minute,
		CleanupInterval: 5 * time.Minute,
	}
}

// IsBypassed reports whether the path is exempt from rate accounting.
func (c *Config) IsBypassed(path string) bool {
	for _, p := range c.BypassPaths {
		if p == path {
			return true
		}
	}
	return false
}
