// Package cache provides the adaptive read cache that shields transaction
// storage from repeated and concurrent identical queries.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/chainscope/txgate/internal/observability"
)

// Common cache errors.
var (
	// ErrCacheMiss indicates that the key was not found in the cache.
	ErrCacheMiss = errors.New("cache miss")

	// ErrCacheDisabled indicates that caching is disabled.
	ErrCacheDisabled = errors.New("cache disabled")

	// ErrInvalidConfig indicates that the cache configuration is invalid.
	ErrInvalidConfig = errors.New("invalid cache configuration")
)

// Backend types.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Cache is the byte-level storage interface the adaptive layer sits on.
type Cache interface {
	// Get retrieves a value from the cache.
	// Returns ErrCacheMiss if the key is not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in the cache with the given TTL.
	// A TTL of 0 means the entry never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from the cache.
	Delete(ctx context.Context, key string) error

	// Close closes the cache connection.
	Close() error
}

// Stats contains cache statistics.
type Stats struct {
	Hits   int64
	Misses int64
	Size   int64
}

// HitRate returns the cache hit rate as a percentage.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

// StatsProvider is implemented by backends that track statistics.
type StatsProvider interface {
	Stats() Stats
}

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Config configures the cache layer.
type Config struct {
	// Enabled turns caching on. A disabled cache computes every request.
	Enabled bool `yaml:"enabled"`

	// Backend selects the storage backend: memory or redis.
	Backend string `yaml:"backend"`

	// MaxEntries bounds the memory backend.
	MaxEntries int `yaml:"maxEntries"`

	// BaseTTL is the starting TTL for a freshly observed key.
	BaseTTL time.Duration `yaml:"baseTTL"`

	// MinTTL and MaxTTL clamp the adaptive TTL.
	MinTTL time.Duration `yaml:"minTTL"`
	MaxTTL time.Duration `yaml:"maxTTL"`

	// AdaptationFactor controls how quickly repeated hits stretch the TTL:
	// ttl = baseTTL * (1 + hits/adaptationFactor), clamped.
	AdaptationFactor float64 `yaml:"adaptationFactor"`

	// TTLJitter randomizes each assigned TTL by up to this fraction so that
	// hot keys do not expire in lockstep.
	TTLJitter float64 `yaml:"ttlJitter"`

	// KeyPrefix namespaces keys in shared backends.
	KeyPrefix string `yaml:"keyPrefix"`

	// Redis holds settings for the redis backend.
	Redis *RedisConfig `yaml:"redis,omitempty"`
}

// DefaultConfig returns the cache configuration defaults.
func DefaultConfig() *Config {
	return &Config{
		Enabled:          true,
		Backend:          BackendMemory,
		MaxEntries:       10000,
		BaseTTL:          15 * time.Second,
		MinTTL:           5 * time.Second,
		MaxTTL:           5 * time.Minute,
		AdaptationFactor: 10,
		TTLJitter:        0.1,
		KeyPrefix:        "txgate:cache:",
	}
}

// Validate normalizes invalid values back to defaults.
func (c *Config) Validate() error {
	def := DefaultConfig()
	if c.Backend == "" {
		c.Backend = def.Backend
	}
	if c.Backend != BackendMemory && c.Backend != BackendRedis {
		return ErrInvalidConfig
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = def.MaxEntries
	}
	if c.BaseTTL <= 0 {
		c.BaseTTL = def.BaseTTL
	}
	if c.MinTTL <= 0 {
		c.MinTTL = def.MinTTL
	}
	if c.MaxTTL < c.MinTTL {
		c.MaxTTL = def.MaxTTL
	}
	if c.AdaptationFactor <= 0 {
		c.AdaptationFactor = def.AdaptationFactor
	}
	if c.TTLJitter < 0 || c.TTLJitter > 1 {
		c.TTLJitter = def.TTLJitter
	}
	if c.Backend == BackendRedis && (c.Redis == nil || c.Redis.Addr == "") {
		return ErrInvalidConfig
	}
	return nil
}

// New creates a cache backend from the configuration.
func New(cfg *Config, logger observability.Logger) (Cache, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return newDisabledCache(), nil
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	switch cfg.Backend {
	case BackendRedis:
		return newRedisCache(cfg, logger)
	default:
		return newMemoryCache(cfg, logger), nil
	}
}

// disabledCache is a cache that always misses.
type disabledCache struct{}

func newDisabledCache() Cache {
	return &disabledCache{}
}

func (c *disabledCache) Get(_ context.Context, _ string) ([]byte, error) {
	return nil, ErrCacheDisabled
}

func (c *disabledCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error {
	return ErrCacheDisabled
}

func (c *disabledCache) Delete(_ context.Context, _ string) error {
	return ErrCacheDisabled
}

func (c *disabledCache) Close() error {
	return nil
}
