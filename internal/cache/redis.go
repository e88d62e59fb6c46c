package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/chainscope/txgate/internal/observability"
	"github.com/chainscope/txgate/internal/retry"
)

// redisRetryConfig returns the retry configuration for Redis operations.
func redisRetryConfig() *retry.Config {
	return &retry.Config{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		JitterFactor:   retry.DefaultJitterFactor,
	}
}

// isRetryableRedisError reports whether the error is a transient
// network/connection failure worth retrying.
func isRetryableRedisError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// redisCache implements a Redis-based cache.
type redisCache struct {
	logger    observability.Logger
	client    *redis.Client
	keyPrefix string

	hits   int64
	misses int64
}

func newRedisCache(cfg *Config, logger observability.Logger) (*redisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis cache ping: %w", err)
	}

	logger.Info("redis cache initialized",
		observability.String("addr", cfg.Redis.Addr),
		observability.Int("db", cfg.Redis.DB))

	return &redisCache{
		logger:    logger,
		client:    client,
		keyPrefix: cfg.KeyPrefix,
	}, nil
}

func (c *redisCache) resolveKey(key string) string {
	return c.keyPrefix + key
}

// Get retrieves a value from the cache.
func (c *redisCache) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, span := otel.Tracer(cacheTracerName).Start(ctx, "cache.Get",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("cache.backend", BackendRedis)),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		cacheOperationDuration.WithLabelValues(BackendRedis, "get").
			Observe(time.Since(start).Seconds())
	}()

	var value []byte
	err := retry.Do(ctx, redisRetryConfig(), func() error {
		var err error
		value, err = c.client.Get(ctx, c.resolveKey(key)).Bytes()
		return err
	}, isRetryableRedisError)

	if errors.Is(err, redis.Nil) {
		atomic.AddInt64(&c.misses, 1)
		cacheMissesTotal.WithLabelValues(BackendRedis).Inc()
		span.SetAttributes(attribute.Bool("cache.hit", false))
		return nil, ErrCacheMiss
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("redis get: %w", err)
	}

	atomic.AddInt64(&c.hits, 1)
	cacheHitsTotal.WithLabelValues(BackendRedis).Inc()
	span.SetAttributes(
		attribute.Bool("cache.hit", true),
		attribute.Int("cache.value_size", len(value)),
	)
	return value, nil
}

// Set stores a value in the cache.
func (c *redisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, span := otel.Tracer(cacheTracerName).Start(ctx, "cache.Set",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("cache.backend", BackendRedis),
			attribute.Int("cache.value_size", len(value)),
		),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		cacheOperationDuration.WithLabelValues(BackendRedis, "set").
			Observe(time.Since(start).Seconds())
	}()

	err := retry.Do(ctx, redisRetryConfig(), func() error {
		return c.client.Set(ctx, c.resolveKey(key), value, ttl).Err()
	}, isRetryableRedisError)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes a value from the cache.
func (c *redisCache) Delete(ctx context.Context, key string) error {
	err := retry.Do(ctx, redisRetryConfig(), func() error {
		return c.client.Del(ctx, c.resolveKey(key)).Err()
	}, isRetryableRedisError)
	if err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *redisCache) Close() error {
	return c.client.Close()
}

// Stats returns cache statistics. Size is not tracked for Redis.
func (c *redisCache) Stats() Stats {
	return Stats{
		Hits:   atomic.LoadInt64(&c.hits),
		Misses: atomic.LoadInt64(&c.misses),
	}
}
