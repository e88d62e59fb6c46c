package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainscope/txgate/internal/circuitbreaker"
	"github.com/chainscope/txgate/internal/storage"
)

func TestHealthHandler(t *testing.T) {
	checker := NewChecker("1.2.3")

	rec := httptest.NewRecorder()
	checker.HealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
}

func TestReadinessAggregation(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		checker := NewChecker("test")
		checker.RegisterCheck("a", func() Check { return Check{Status: StatusHealthy} })

		rec := httptest.NewRecorder()
		checker.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("degraded stays 200", func(t *testing.T) {
		checker := NewChecker("test")
		checker.RegisterCheck("a", func() Check { return Check{Status: StatusDegraded} })

		rec := httptest.NewRecorder()
		checker.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		assert.Equal(t, http.StatusOK, rec.Code)

		var resp ReadinessResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, StatusDegraded, resp.Status)
	})

	t.Run("unhealthy returns 503", func(t *testing.T) {
		checker := NewChecker("test")
		checker.RegisterCheck("a", func() Check { return Check{Status: StatusHealthy} })
		checker.RegisterCheck("b", func() Check {
			return Check{Status: StatusUnhealthy, Message: "down"}
		})

		rec := httptest.NewRecorder()
		checker.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestStoreCheck(t *testing.T) {
	check := StoreCheck(storage.NewMemoryStore(), time.Second)
	assert.Equal(t, StatusHealthy, check().Status)
}

func TestPingFunc(t *testing.T) {
	fail := PingFunc(func(ctx context.Context) error { return errors.New("no route") }, time.Second)
	result := fail()
	assert.Equal(t, StatusUnhealthy, result.Status)
	assert.Equal(t, "no route", result.Message)
}

func TestBreakersCheck(t *testing.T) {
	registry := circuitbreaker.NewRegistry(nil, nil)
	check := BreakersCheck(registry)

	t.Run("empty registry healthy", func(t *testing.T) {
		assert.Equal(t, StatusHealthy, check().Status)
	})

	cfg := circuitbreaker.DefaultConfig().WithMaxFailures(1)
	a := registry.GetOrCreateWithConfig("db", cfg)
	b := registry.GetOrCreateWithConfig("redis", cfg)

	t.Run("all closed healthy", func(t *testing.T) {
		assert.Equal(t, StatusHealthy, check().Status)
	})

	t.Run("one open degraded", func(t *testing.T) {
		a.RecordFailure()
		assert.Equal(t, StatusDegraded, check().Status)
	})

	t.Run("all open unhealthy", func(t *testing.T) {
		b.RecordFailure()
		assert.Equal(t, StatusUnhealthy, check().Status)
	})
}
