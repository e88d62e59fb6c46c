package health

import (
	"context"
	"time"

	"github.com/chainscope/txgate/internal/circuitbreaker"
	"github.com/chainscope/txgate/internal/storage"
)

// DefaultCheckTimeout bounds a single dependency probe.
const DefaultCheckTimeout = 5 * time.Second

// StoreCheck probes the transaction store.
func StoreCheck(store storage.Store, timeout time.Duration) CheckFunc {
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}
	return func() Check {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := store.Ping(ctx); err != nil {
			return Check{Status: StatusUnhealthy, Message: err.Error()}
		}
		return Check{Status: StatusHealthy}
	}
}

// BreakersCheck reports readiness from the circuit breaker registry. All
// breakers open means no dependency can serve and the instance should stop
// receiving traffic; a subset open is degraded.
func BreakersCheck(registry *circuitbreaker.Registry) CheckFunc {
	return func() Check {
		if registry.AllOpen() {
			return Check{Status: StatusUnhealthy, Message: "all circuit breakers open"}
		}
		for name, stats := range registry.Stats() {
			if stats.State == circuitbreaker.StateOpen {
				return Check{Status: StatusDegraded, Message: "circuit breaker open: " + name}
			}
		}
		return Check{Status: StatusHealthy}
	}
}

// PingFunc adapts a bare ping function into a readiness check.
func PingFunc(ping func(ctx context.Context) error, timeout time.Duration) CheckFunc {
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}
	return func() Check {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := ping(ctx); err != nil {
			return Check{Status: StatusUnhealthy, Message: err.Error()}
		}
		return Check{Status: StatusHealthy}
	}
}
