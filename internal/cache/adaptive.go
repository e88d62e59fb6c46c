package cache

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chainscope/txgate/internal/circuitbreaker"
	"github.com/chainscope/txgate/internal/observability"
)

// ComputeFunc produces the value for a key on a cache miss.
type ComputeFunc func(ctx context.Context) ([]byte, error)

// flight is one in-progress computation. Late arrivals wait on done and share
// the result.
type flight struct {
	done  chan struct{}
	value []byte
	err   error
}

// keyHeat tracks per-key access history for the adaptive TTL policy.
type keyHeat struct {
	hits        int64 // atomic
	invalidated int32 // atomic, 1 when the key was invalidated since last compute
	lastAccess  int64 // atomic, unix seconds
}

// AdaptiveCache layers request coalescing and adaptive TTLs on a Cache
// backend. Concurrent misses for the same key trigger exactly one
// computation; keys that are hit repeatedly earn longer TTLs, and
// invalidation halves the next TTL so recently churned keys re-verify
// sooner.
type AdaptiveCache struct {
	backend Cache
	cfg     *Config
	logger  observability.Logger

	flights sync.Map // key -> *flight
	heat    sync.Map // key -> *keyHeat

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewAdaptiveCache wraps backend with the adaptive policy.
func NewAdaptiveCache(backend Cache, cfg *Config, logger observability.Logger) *AdaptiveCache {
	if logger == nil {
		logger = observability.NopLogger()
	}
	a := &AdaptiveCache{
		backend: backend,
		cfg:     cfg,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
	go a.sweepLoop()
	return a
}

// GetOrCompute returns the cached value for key, computing it via fn on a
// miss. When several callers miss the same key concurrently, one runs fn and
// the rest wait for its result.
func (a *AdaptiveCache) GetOrCompute(ctx context.Context, key string, fn ComputeFunc) ([]byte, error) {
	if value, err := a.backend.Get(ctx, key); err == nil {
		a.recordHit(key)
		return value, nil
	}

	f := &flight{done: make(chan struct{})}
	actual, loaded := a.flights.LoadOrStore(key, f)
	if loaded {
		// Someone else is computing; wait for their result.
		existing := actual.(*flight)
		cacheFlightWaitersTotal.Inc()
		select {
		case <-existing.done:
			return existing.value, existing.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.value, f.err = a.compute(ctx, key, fn)
	a.flights.Delete(key)
	close(f.done)
	return f.value, f.err
}

// compute rechecks the backend under the flight (a concurrent writer may
// have filled the key), then runs fn and stores the result.
func (a *AdaptiveCache) compute(ctx context.Context, key string, fn ComputeFunc) ([]byte, error) {
	if value, err := a.backend.Get(ctx, key); err == nil {
		a.recordHit(key)
		return value, nil
	}

	value, err := fn(ctx)
	if err != nil {
		cacheComputationsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	cacheComputationsTotal.WithLabelValues("ok").Inc()

	ttl := a.nextTTL(key)
	if setErr := a.backend.Set(ctx, key, value, ttl); setErr != nil && !expectedSetError(setErr) {
		// A storage failure degrades to pass-through; the value is still good.
		a.logger.Warn("cache set failed",
			observability.String("key", key),
			observability.Error(setErr))
	}
	return value, nil
}

// expectedSetError reports whether a Set failure is part of normal
// operation: a disabled backend misses by contract, and an open breaker
// already announces itself through its state-change log.
func expectedSetError(err error) bool {
	return errors.Is(err, ErrCacheDisabled) || circuitbreaker.IsDependencyUnavailable(err)
}

// Invalidate drops a key and flags it so its next TTL is halved.
func (a *AdaptiveCache) Invalidate(ctx context.Context, key string) error {
	cacheInvalidationsTotal.Inc()
	if h := a.heatFor(key); h != nil {
		atomic.StoreInt32(&h.invalidated, 1)
		atomic.StoreInt64(&h.hits, 0)
	}
	return a.backend.Delete(ctx, key)
}

// Close stops the sweep loop and closes the backend.
func (a *AdaptiveCache) Close() error {
	a.stopOnce.Do(func() { close(a.stopCh) })
	return a.backend.Close()
}

// Stats exposes backend statistics when the backend tracks them.
func (a *AdaptiveCache) Stats() Stats {
	if sp, ok := a.backend.(StatsProvider); ok {
		return sp.Stats()
	}
	return Stats{}
}

func (a *AdaptiveCache) heatFor(key string) *keyHeat {
	if v, ok := a.heat.Load(key); ok {
		return v.(*keyHeat)
	}
	return nil
}

func (a *AdaptiveCache) recordHit(key string) {
	v, _ := a.heat.LoadOrStore(key, &keyHeat{})
	h := v.(*keyHeat)
	atomic.AddInt64(&h.hits, 1)
	atomic.StoreInt64(&h.lastAccess, time.Now().Unix())
}

// nextTTL computes the TTL for the next stored value of key:
// base * (1 + hits/adaptationFactor), clamped to [min, max], halved once
// after an invalidation, then jittered.
func (a *AdaptiveCache) nextTTL(key string) time.Duration {
	v, _ := a.heat.LoadOrStore(key, &keyHeat{})
	h := v.(*keyHeat)
	atomic.StoreInt64(&h.lastAccess, time.Now().Unix())

	hits := atomic.LoadInt64(&h.hits)
	ttl := time.Duration(float64(a.cfg.BaseTTL) * (1 + float64(hits)/a.cfg.AdaptationFactor))

	if ttl < a.cfg.MinTTL {
		ttl = a.cfg.MinTTL
	}
	if ttl > a.cfg.MaxTTL {
		ttl = a.cfg.MaxTTL
	}

	if atomic.CompareAndSwapInt32(&h.invalidated, 1, 0) {
		ttl /= 2
		if ttl < a.cfg.MinTTL {
			ttl = a.cfg.MinTTL
		}
	}

	if a.cfg.TTLJitter > 0 {
		// Spread expiries so hot keys do not recompute in lockstep.
		//nolint:gosec // G404: TTL jitter is not security-sensitive
		ttl += time.Duration(float64(ttl) * a.cfg.TTLJitter * (rand.Float64() - 0.5))
	}

	cacheAdaptiveTTL.Observe(ttl.Seconds())
	return ttl
}

// sweepLoop drops heat records for keys that have gone cold so the tracking
// map does not grow without bound.
func (a *AdaptiveCache) sweepLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-2 * a.cfg.MaxTTL).Unix()
			a.heat.Range(func(k, v any) bool {
				h := v.(*keyHeat)
				if atomic.LoadInt64(&h.lastAccess) < cutoff {
					a.heat.Delete(k)
				}
				return true
			})
		case <-a.stopCh:
			return
		}
	}
}
