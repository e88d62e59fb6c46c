package cache

import (
	"context"
	"errors"
	"time"

	"github.com/chainscope/txgate/internal/circuitbreaker"
)

// guardedCache routes every backend operation through a circuit breaker so a
// degraded backend turns reads into pass-through instead of stalling them.
// Misses and the disabled sentinel are business outcomes, not failures.
type guardedCache struct {
	inner   Cache
	breaker *circuitbreaker.CircuitBreaker
}

// Guard wraps backend with breaker. A nil breaker returns backend unchanged.
func Guard(backend Cache, breaker *circuitbreaker.CircuitBreaker) Cache {
	if breaker == nil {
		return backend
	}
	return &guardedCache{inner: backend, breaker: breaker}
}

func (g *guardedCache) Get(ctx context.Context, key string) ([]byte, error) {
	if err := g.breaker.Allow(); err != nil {
		return nil, err
	}
	value, err := g.inner.Get(ctx, key)
	g.record(err)
	return value, err
}

func (g *guardedCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := g.breaker.Allow(); err != nil {
		return err
	}
	err := g.inner.Set(ctx, key, value, ttl)
	g.record(err)
	return err
}

func (g *guardedCache) Delete(ctx context.Context, key string) error {
	if err := g.breaker.Allow(); err != nil {
		return err
	}
	err := g.inner.Delete(ctx, key)
	g.record(err)
	return err
}

func (g *guardedCache) Close() error {
	return g.inner.Close()
}

// Stats passes through so the admin surface still sees backend counters.
func (g *guardedCache) Stats() Stats {
	if sp, ok := g.inner.(StatsProvider); ok {
		return sp.Stats()
	}
	return Stats{}
}

func (g *guardedCache) record(err error) {
	if err == nil || errors.Is(err, ErrCacheMiss) || errors.Is(err, ErrCacheDisabled) {
		g.breaker.RecordSuccess()
		return
	}
	g.breaker.RecordFailure()
}
