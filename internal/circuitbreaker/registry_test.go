package circuitbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *Registry {
	cfg := DefaultConfig().
		WithMaxFailures(1).
		WithCooldown(20 * time.Millisecond)
	return NewRegistry(cfg, nil)
}

func TestRegistryGetMissing(t *testing.T) {
	r := newTestRegistry()
	assert.Nil(t, r.Get("postgres"))
}

func TestRegistryGetOrCreate(t *testing.T) {
	r := newTestRegistry()

	cb := r.GetOrCreate("postgres")
	require.NotNil(t, cb)
	assert.Equal(t, "postgres", cb.Name())

	assert.Same(t, cb, r.GetOrCreate("postgres"))
	assert.Same(t, cb, r.Get("postgres"))
	assert.NotSame(t, cb, r.GetOrCreate("redis"))
}

func TestRegistryGetOrCreateWithConfig(t *testing.T) {
	r := newTestRegistry()

	custom := DefaultConfig().WithMaxFailures(1)
	cb := r.GetOrCreateWithConfig("rpc", custom)
	require.NotNil(t, cb)

	// The name is already registered, so a second config is ignored.
	other := DefaultConfig().WithMaxFailures(10)
	assert.Same(t, cb, r.GetOrCreateWithConfig("rpc", other))

	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
}

func TestRegistryList(t *testing.T) {
	r := newTestRegistry()
	r.GetOrCreate("postgres")
	r.GetOrCreate("redis")

	assert.Len(t, r.List(), 2)
}

func TestRegistryAllOpen(t *testing.T) {
	r := newTestRegistry()
	assert.False(t, r.AllOpen(), "an empty registry is not degraded")

	pg := r.GetOrCreate("postgres")
	rd := r.GetOrCreate("redis")

	pg.RecordFailure()
	assert.False(t, r.AllOpen())

	rd.RecordFailure()
	assert.True(t, r.AllOpen())
}

func TestRegistryResetAll(t *testing.T) {
	r := newTestRegistry()

	pg := r.GetOrCreate("postgres")
	rd := r.GetOrCreate("redis")
	pg.RecordFailure()
	rd.RecordFailure()
	require.True(t, r.AllOpen())

	r.ResetAll()

	assert.Equal(t, StateClosed, pg.State())
	assert.Equal(t, StateClosed, rd.State())
}

func TestRegistryStats(t *testing.T) {
	r := newTestRegistry()

	r.GetOrCreate("postgres").RecordSuccess()
	r.GetOrCreate("redis").RecordFailure()

	stats := r.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, 1, stats["postgres"].Successes)
	assert.Equal(t, StateOpen, stats["redis"].State)
}
