package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, rate float64, capacity int) *TokenBucketLimiter {
	t.Helper()
	l := NewTokenBucketLimiter(rate, capacity, nil)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestAllowWithinCapacity(t *testing.T) {
	l := newTestLimiter(t, 1, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := l.Allow(ctx, "client-a")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 3, res.Limit)
		assert.Equal(t, 2-i, res.Remaining)
	}

	res, err := l.Allow(ctx, "client-a")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Zero(t, res.Remaining)
	assert.Equal(t, time.Second, res.RetryAfter)
}

func TestAllowRefillsOverTime(t *testing.T) {
	l := newTestLimiter(t, 100, 1)
	ctx := context.Background()

	res, err := l.Allow(ctx, "client-a")
	require.NoError(t, err)
	require.True(t, res.Allowed)

	time.Sleep(30 * time.Millisecond)

	res, err = l.Allow(ctx, "client-a")
	require.NoError(t, err)
	assert.True(t, res.Allowed, "the bucket should have refilled")
}

func TestAllowNConsumesMultipleTokens(t *testing.T) {
	l := newTestLimiter(t, 1, 5)
	ctx := context.Background()

	res, err := l.AllowN(ctx, "client-a", 5)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Zero(t, res.Remaining)

	res, err = l.Allow(ctx, "client-a")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestRetryAfterRoundsUpToSeconds(t *testing.T) {
	l := newTestLimiter(t, 0.5, 1)
	ctx := context.Background()

	res, err := l.Allow(ctx, "client-a")
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = l.Allow(ctx, "client-a")
	require.NoError(t, err)
	require.False(t, res.Allowed)
	assert.Equal(t, 2*time.Second, res.RetryAfter, "half a token per second needs two seconds for one token")
	assert.Equal(t, 2*time.Second, res.ResetAfter)
}

func TestIdentitiesAreIsolated(t *testing.T) {
	l := newTestLimiter(t, 1, 1)
	ctx := context.Background()

	res, err := l.Allow(ctx, "client-a")
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = l.Allow(ctx, "client-a")
	require.NoError(t, err)
	require.False(t, res.Allowed)

	res, err = l.Allow(ctx, "client-b")
	require.NoError(t, err)
	assert.True(t, res.Allowed, "exhausting one identity must not affect another")
}

func TestResetRestoresBudget(t *testing.T) {
	l := newTestLimiter(t, 1, 1)
	ctx := context.Background()

	res, err := l.Allow(ctx, "client-a")
	require.NoError(t, err)
	require.True(t, res.Allowed)

	require.NoError(t, l.Reset(ctx, "client-a"))

	res, err = l.Allow(ctx, "client-a")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestCleanupDropsIdleBuckets(t *testing.T) {
	l := newTestLimiter(t, 1, 1)
	ctx := context.Background()

	res, err := l.Allow(ctx, "client-a")
	require.NoError(t, err)
	require.True(t, res.Allowed)

	time.Sleep(5 * time.Millisecond)
	l.Cleanup(time.Millisecond)

	res, err = l.Allow(ctx, "client-a")
	require.NoError(t, err)
	assert.True(t, res.Allowed, "a swept bucket starts full again")
}

func TestCloseIsIdempotent(t *testing.T) {
	l := NewTokenBucketLimiterWithTTL(1, 1, time.Minute, time.Minute, nil)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
}

func TestConfigIsBypassed(t *testing.T) {
	cfg := DefaultConfig()

	assert.True(t, cfg.IsBypassed("/healthz"))
	assert.True(t, cfg.IsBypassed("/metrics"))
	assert.False(t, cfg.IsBypassed("/api/v1/transactions"))
	assert.False(t, cfg.IsBypassed("/healthz/"))
}
