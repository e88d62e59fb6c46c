package ratelimit

import (
	"context"
	"io"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Ensure TokenBucketLimiter implements io.Closer for proper resource cleanup.
var _ io.Closer = (*TokenBucketLimiter)(nil)

// TokenBucketLimiter implements the token bucket rate limiting algorithm.
// Tokens are added lazily at refill rate on each check, capped at capacity,
// and one token is consumed per admitted request.
// Implements io.Closer - call Close() when done to stop the cleanup goroutine.
type TokenBucketLimiter struct {
	rate     float64 // tokens per second
	capacity int
	logger   *zap.Logger

	buckets sync.Map

	cleanupInterval time.Duration
	bucketTTL       time.Duration
	stopCleanup     chan struct{}
	cleanupOnce     sync.Once
}

// bucket represents a token bucket for a single identity.
type bucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// NewTokenBucketLimiter creates a new token bucket rate limiter.
// Starts a background cleanup goroutine to drop stale buckets.
func NewTokenBucketLimiter(rate float64, capacity int, logger *zap.Logger) *TokenBucketLimiter {
	return NewTokenBucketLimiterWithTTL(rate, capacity, 5*time.Minute, 10*time.Minute, logger)
}

// NewTokenBucketLimiterWithTTL creates a token bucket limiter with custom TTL settings.
func NewTokenBucketLimiterWithTTL(
	rate float64,
	capacity int,
	cleanupInterval, bucketTTL time.Duration,
	logger *zap.Logger,
) *TokenBucketLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &TokenBucketLimiter{
		rate:            rate,
		capacity:        capacity,
		logger:          logger,
		cleanupInterval: cleanupInterval,
		bucketTTL:       bucketTTL,
		stopCleanup:     make(chan struct{}),
	}

	go l.cleanupLoop()

	return l
}

func (l *TokenBucketLimiter) cleanupLoop() {
	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.Cleanup(l.bucketTTL)
		case <-l.stopCleanup:
			return
		}
	}
}

// Close implements io.Closer. Stops the background cleanup goroutine.
// Safe to call multiple times.
func (l *TokenBucketLimiter) Close() error {
	l.cleanupOnce.Do(func() {
		close(l.stopCleanup)
	})
	return nil
}

// Allow implements Limiter.
func (l *TokenBucketLimiter) Allow(ctx context.Context, identity string) (*Result, error) {
	return l.AllowN(ctx, identity, 1)
}

// AllowN implements Limiter.
func (l *TokenBucketLimiter) AllowN(_ context.Context, identity string, n int) (*Result, error) {
	now := time.Now()

	value, _ := l.buckets.LoadOrStore(identity, &bucket{
		tokens:     float64(l.capacity),
		lastRefill: now,
	})
	b := value.(*bucket)

	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * l.rate
	if b.tokens > float64(l.capacity) {
		b.tokens = float64(l.capacity)
	}
	b.lastRefill = now

	allowed := b.tokens >= float64(n)
	if allowed {
		b.tokens -= float64(n)
	}

	remaining := int(b.tokens)
	if remaining < 0 {
		remaining = 0
	}

	resetAfter := l.durationForTokens(float64(l.capacity) - b.tokens)

	var retryAfter time.Duration
	if !allowed {
		retryAfter = l.durationForTokens(float64(n) - b.tokens)
	}

	metricDecision(allowed)

	return &Result{
		Allowed:    allowed,
		Limit:      l.capacity,
		Remaining:  remaining,
		ResetAfter: resetAfter,
		RetryAfter: retryAfter,
	}, nil
}

// durationForTokens returns how long the refill rate needs to produce the
// given number of tokens, rounded up to whole seconds for Retry-After use.
func (l *TokenBucketLimiter) durationForTokens(tokens float64) time.Duration {
	if tokens <= 0 || l.rate <= 0 {
		return 0
	}
	secs := math.Ceil(tokens / l.rate)
	return time.Duration(secs) * time.Second
}

// Reset implements Limiter.
func (l *TokenBucketLimiter) Reset(_ context.Context, identity string) error {
	l.buckets.Delete(identity)
	return nil
}

// Cleanup removes buckets idle for longer than maxAge.
func (l *TokenBucketLimiter) Cleanup(maxAge time.Duration) {
	now := time.Now()

	l.buckets.Range(func(key, value interface{}) bool {
		b := value.(*bucket)
		b.mu.Lock()
		if now.Sub(b.lastRefill) > maxAge {
			l.buckets.Delete(key)
		}
		b.mu.Unlock()
		return true
	})
}
