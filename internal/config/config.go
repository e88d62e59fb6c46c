package config

import (
	"fmt"
	"time"

	"github.com/chainscope/txgate/internal/cache"
	"github.com/chainscope/txgate/internal/circuitbreaker"
	"github.com/chainscope/txgate/internal/ingest"
	"github.com/chainscope/txgate/internal/middleware"
	"github.com/chainscope/txgate/internal/observability"
	"github.com/chainscope/txgate/internal/ratelimit"
	"github.com/chainscope/txgate/internal/security"
	"github.com/chainscope/txgate/internal/storage"
	"github.com/chainscope/txgate/internal/waf"
)

// Config is the full service configuration as loaded from YAML. Sections
// that carry durations mirror their package's runtime config with the
// Duration wrapper and convert via Runtime(); sections without durations
// reuse the package types directly.
type Config struct {
	Server    ServerConfig            `yaml:"server"`
	Logging   observability.LogConfig `yaml:"logging"`
	Storage   StorageConfig           `yaml:"storage"`
	Cache     CacheConfig             `yaml:"cache"`
	Auth      AuthConfig              `yaml:"auth"`
	RateLimit RateLimitConfig         `yaml:"rateLimit"`
	WAF       WAFConfig               `yaml:"waf"`
	Breaker   BreakerConfig           `yaml:"circuitBreaker"`
	Ingest    IngestConfig            `yaml:"ingest"`
	Security  security.Config         `yaml:"security"`
	CORS      middleware.CORSConfig   `yaml:"cors"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	ListenAddr      string   `yaml:"listenAddr"`
	ReadTimeout     Duration `yaml:"readTimeout"`
	WriteTimeout    Duration `yaml:"writeTimeout"`
	IdleTimeout     Duration `yaml:"idleTimeout"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout"`

	// MaxBodyBytes caps accepted request bodies; larger requests get 413.
	MaxBodyBytes int64 `yaml:"maxBodyBytes"`
}

// Validate normalizes missing server values to defaults.
func (c *ServerConfig) Validate() error {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = Duration(15 * time.Second)
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = Duration(30 * time.Second)
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = Duration(2 * time.Minute)
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = Duration(15 * time.Second)
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = middleware.DefaultMaxBodySize
	}
	return nil
}

// Storage backends.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// StorageConfig selects and configures the transaction store.
type StorageConfig struct {
	Backend  string         `yaml:"backend"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig mirrors storage.PostgresConfig for YAML.
type PostgresConfig struct {
	DSN             string   `yaml:"dsn"`
	MaxOpenConns    int      `yaml:"maxOpenConns"`
	MaxIdleConns    int      `yaml:"maxIdleConns"`
	ConnMaxLifetime Duration `yaml:"connMaxLifetime"`
}

// Runtime converts to the storage package config.
func (c *PostgresConfig) Runtime() *storage.PostgresConfig {
	return &storage.PostgresConfig{
		DSN:             c.DSN,
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime.Duration(),
	}
}

// Validate checks the backend selection.
func (c *StorageConfig) Validate() error {
	switch c.Backend {
	case "":
		c.Backend = StorageMemory
	case StorageMemory, StoragePostgres:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Backend)
	}
	if c.Backend == StoragePostgres && c.Postgres.DSN == "" {
		return fmt.Errorf("postgres backend requires storage.postgres.dsn")
	}
	def := storage.DefaultPostgresConfig()
	if c.Postgres.MaxOpenConns <= 0 {
		c.Postgres.MaxOpenConns = def.MaxOpenConns
	}
	if c.Postgres.MaxIdleConns <= 0 {
		c.Postgres.MaxIdleConns = def.MaxIdleConns
	}
	if c.Postgres.ConnMaxLifetime <= 0 {
		c.Postgres.ConnMaxLifetime = Duration(def.ConnMaxLifetime)
	}
	return nil
}

// CacheConfig mirrors cache.Config for YAML.
type CacheConfig struct {
	Enabled          bool               `yaml:"enabled"`
	Backend          string             `yaml:"backend"`
	MaxEntries       int                `yaml:"maxEntries"`
	BaseTTL          Duration           `yaml:"baseTTL"`
	MinTTL           Duration           `yaml:"minTTL"`
	MaxTTL           Duration           `yaml:"maxTTL"`
	AdaptationFactor float64            `yaml:"adaptationFactor"`
	TTLJitter        float64            `yaml:"ttlJitter"`
	KeyPrefix        string             `yaml:"keyPrefix"`
	Redis            *cache.RedisConfig `yaml:"redis,omitempty"`
}

// Runtime converts to the cache package config.
func (c *CacheConfig) Runtime() *cache.Config {
	return &cache.Config{
		Enabled:          c.Enabled,
		Backend:          c.Backend,
		MaxEntries:       c.MaxEntries,
		BaseTTL:          c.BaseTTL.Duration(),
		MinTTL:           c.MinTTL.Duration(),
		MaxTTL:           c.MaxTTL.Duration(),
		AdaptationFactor: c.AdaptationFactor,
		TTLJitter:        c.TTLJitter,
		KeyPrefix:        c.KeyPrefix,
		Redis:            c.Redis,
	}
}

// Validate delegates to the runtime config's normalization.
func (c *CacheConfig) Validate() error {
	return c.Runtime().Validate()
}

// Nonce store backends.
const (
	NonceStoreMemory = "memory"
	NonceStoreRedis  = "redis"
)

// AuthConfig configures wallet authentication.
type AuthConfig struct {
	// Enabled gates the /auth endpoints and bearer verification.
	Enabled bool `yaml:"enabled"`

	// TokenSecret signs issued credentials. Required when enabled.
	TokenSecret string `yaml:"tokenSecret"`

	TokenTTL Duration `yaml:"tokenTTL"`
	NonceTTL Duration `yaml:"nonceTTL"`

	// RequireForData gates /api/v1 routes behind a valid credential.
	RequireForData bool `yaml:"requireForData"`

	// Role granted on login; wallets listed in AdminWallets get "admin".
	Role         string   `yaml:"role"`
	AdminWallets []string `yaml:"adminWallets"`

	// NonceStore selects where issued nonces live.
	NonceStore string             `yaml:"nonceStore"`
	Redis      *cache.RedisConfig `yaml:"redis,omitempty"`
}

// Validate checks auth settings.
func (c *AuthConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.TokenSecret == "" {
		return fmt.Errorf("auth enabled without auth.tokenSecret")
	}
	switch c.NonceStore {
	case "":
		c.NonceStore = NonceStoreMemory
	case NonceStoreMemory, NonceStoreRedis:
	default:
		return fmt.Errorf("unknown nonce store %q", c.NonceStore)
	}
	if c.NonceStore == NonceStoreRedis && (c.Redis == nil || c.Redis.Addr == "") {
		return fmt.Errorf("redis nonce store requires auth.redis.addr")
	}
	if c.Role == "" {
		c.Role = "reader"
	}
	return nil
}

// RateLimitConfig mirrors ratelimit.Config for YAML.
type RateLimitConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Capacity        int      `yaml:"capacity"`
	RefillRate      float64  `yaml:"refillRate"`
	BypassPaths     []string `yaml:"bypassPaths"`
	BucketTTL       Duration `yaml:"bucketTTL"`
	CleanupInterval Duration `yaml:"cleanupInterval"`
}

// Runtime converts to the ratelimit package config.
func (c *RateLimitConfig) Runtime() *ratelimit.Config {
	return &ratelimit.Config{
		Enabled:         c.Enabled,
		Capacity:        c.Capacity,
		RefillRate:      c.RefillRate,
		BypassPaths:     c.BypassPaths,
		BucketTTL:       c.BucketTTL.Duration(),
		CleanupInterval: c.CleanupInterval.Duration(),
	}
}

// Validate normalizes limiter settings.
func (c *RateLimitConfig) Validate() error {
	def := ratelimit.DefaultConfig()
	if c.Capacity <= 0 {
		c.Capacity = def.Capacity
	}
	if c.RefillRate <= 0 {
		c.RefillRate = def.RefillRate
	}
	if c.BucketTTL <= 0 {
		c.BucketTTL = Duration(def.BucketTTL)
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = Duration(def.CleanupInterval)
	}
	return nil
}

// WAFConfig mirrors waf.Config for YAML and adds the hot-reload rules file.
type WAFConfig struct {
	Enabled              bool       `yaml:"enabled"`
	Mode                 string     `yaml:"mode"`
	Rules                []waf.Rule `yaml:"rules"`
	BanThreshold         int        `yaml:"banThreshold"`
	GreyThreshold        int        `yaml:"greyThreshold"`
	ScoreWindow          Duration   `yaml:"scoreWindow"`
	BanTTL               Duration   `yaml:"banTTL"`
	GreyTTL              Duration   `yaml:"greyTTL"`
	BypassPaths          []string   `yaml:"bypassPaths"`
	AllowedMethods       []string   `yaml:"allowedMethods"`
	MaxQueryLength       int        `yaml:"maxQueryLength"`
	MaxBodyScanBytes     int        `yaml:"maxBodyScanBytes"`
	BlockedUserAgents    []string   `yaml:"blockedUserAgents"`
	MaxEventsPerIPPerMin int        `yaml:"maxEventsPerIPPerMin"`

	// RulesFile, when set, overrides Rules and is watched for changes.
	RulesFile string `yaml:"rulesFile"`
}

// Runtime converts to the waf package config. RulesFile contents are loaded
// separately by the caller (see LoadRules).
func (c *WAFConfig) Runtime() *waf.Config {
	return &waf.Config{
		Enabled:              c.Enabled,
		Mode:                 c.Mode,
		Rules:                c.Rules,
		BanThreshold:         c.BanThreshold,
		GreyThreshold:        c.GreyThreshold,
		ScoreWindow:          c.ScoreWindow.Duration(),
		BanTTL:               c.BanTTL.Duration(),
		GreyTTL:              c.GreyTTL.Duration(),
		BypassPaths:          c.BypassPaths,
		AllowedMethods:       c.AllowedMethods,
		MaxQueryLength:       c.MaxQueryLength,
		MaxBodyScanBytes:     c.MaxBodyScanBytes,
		BlockedUserAgents:    c.BlockedUserAgents,
		MaxEventsPerIPPerMin: c.MaxEventsPerIPPerMin,
	}
}

// Validate delegates to the runtime config's normalization.
func (c *WAFConfig) Validate() error {
	return c.Runtime().Validate()
}

// BreakerConfig mirrors circuitbreaker.Config for YAML.
type BreakerConfig struct {
	MaxFailures      int      `yaml:"maxFailures"`
	Cooldown         Duration `yaml:"cooldown"`
	MaxCooldown      Duration `yaml:"maxCooldown"`
	HalfOpenMax      int      `yaml:"halfOpenMax"`
	SuccessThreshold int      `yaml:"successThreshold"`
	SamplingDuration Duration `yaml:"samplingDuration"`
	CallTimeout      Duration `yaml:"callTimeout"`
}

// Runtime converts to the circuitbreaker package config.
func (c *BreakerConfig) Runtime() *circuitbreaker.Config {
	return &circuitbreaker.Config{
		MaxFailures:      c.MaxFailures,
		Cooldown:         c.Cooldown.Duration(),
		MaxCooldown:      c.MaxCooldown.Duration(),
		HalfOpenMax:      c.HalfOpenMax,
		SuccessThreshold: c.SuccessThreshold,
		SamplingDuration: c.SamplingDuration.Duration(),
		CallTimeout:      c.CallTimeout.Duration(),
	}
}

// Validate delegates to the runtime config's normalization.
func (c *BreakerConfig) Validate() error {
	return c.Runtime().Validate()
}

// IngestConfig mirrors ingest.Config for YAML.
type IngestConfig struct {
	Enabled             bool     `yaml:"enabled"`
	URL                 string   `yaml:"url"`
	Exchange            string   `yaml:"exchange"`
	Queue               string   `yaml:"queue"`
	RoutingKey          string   `yaml:"routingKey"`
	Prefetch            int      `yaml:"prefetch"`
	ReconnectBackoff    Duration `yaml:"reconnectBackoff"`
	ReconnectMaxBackoff Duration `yaml:"reconnectMaxBackoff"`
}

// Runtime converts to the ingest package config.
func (c *IngestConfig) Runtime() *ingest.Config {
	return &ingest.Config{
		Enabled:             c.Enabled,
		URL:                 c.URL,
		Exchange:            c.Exchange,
		Queue:               c.Queue,
		RoutingKey:          c.RoutingKey,
		Prefetch:            c.Prefetch,
		ReconnectBackoff:    c.ReconnectBackoff.Duration(),
		ReconnectMaxBackoff: c.ReconnectMaxBackoff.Duration(),
	}
}

// Validate delegates to the runtime config's normalization.
func (c *IngestConfig) Validate() error {
	return c.Runtime().Validate()
}

// Default returns a Config populated with every section's defaults. Load
// unmarshals the YAML document over this, so absent sections keep their
// defaults, including enabled-by-default toggles.
func Default() *Config {
	cacheDef := cache.DefaultConfig()
	rlDef := ratelimit.DefaultConfig()
	wafDef := waf.DefaultConfig()
	cbDef := circuitbreaker.DefaultConfig()
	ingDef := ingest.DefaultConfig()

	return &Config{
		Server: ServerConfig{
			ListenAddr:      ":8080",
			ReadTimeout:     Duration(15 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			IdleTimeout:     Duration(2 * time.Minute),
			ShutdownTimeout: Duration(15 * time.Second),
			MaxBodyBytes:    middleware.DefaultMaxBodySize,
		},
		Logging: observability.DefaultLogConfig(),
		Storage: StorageConfig{
			Backend: StorageMemory,
			Postgres: PostgresConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: Duration(30 * time.Minute),
			},
		},
		Cache: CacheConfig{
			Enabled:          cacheDef.Enabled,
			Backend:          cacheDef.Backend,
			MaxEntries:       cacheDef.MaxEntries,
			BaseTTL:          Duration(cacheDef.BaseTTL),
			MinTTL:           Duration(cacheDef.MinTTL),
			MaxTTL:           Duration(cacheDef.MaxTTL),
			AdaptationFactor: cacheDef.AdaptationFactor,
			TTLJitter:        cacheDef.TTLJitter,
			KeyPrefix:        cacheDef.KeyPrefix,
		},
		Auth: AuthConfig{
			TokenTTL:   Duration(15 * time.Minute),
			NonceTTL:   Duration(2 * time.Minute),
			Role:       "reader",
			NonceStore: NonceStoreMemory,
		},
		RateLimit: RateLimitConfig{
			Enabled:         rlDef.Enabled,
			Capacity:        rlDef.Capacity,
			RefillRate:      rlDef.RefillRate,
			BypassPaths:     rlDef.BypassPaths,
			BucketTTL:       Duration(rlDef.BucketTTL),
			CleanupInterval: Duration(rlDef.CleanupInterval),
		},
		WAF: WAFConfig{
			Enabled:              wafDef.Enabled,
			Mode:                 wafDef.Mode,
			BanThreshold:         wafDef.BanThreshold,
			GreyThreshold:        wafDef.GreyThreshold,
			ScoreWindow:          Duration(wafDef.ScoreWindow),
			BanTTL:               Duration(wafDef.BanTTL),
			GreyTTL:              Duration(wafDef.GreyTTL),
			BypassPaths:          wafDef.BypassPaths,
			AllowedMethods:       wafDef.AllowedMethods,
			MaxQueryLength:       wafDef.MaxQueryLength,
			MaxBodyScanBytes:     wafDef.MaxBodyScanBytes,
			BlockedUserAgents:    wafDef.BlockedUserAgents,
			MaxEventsPerIPPerMin: wafDef.MaxEventsPerIPPerMin,
		},
		Breaker: BreakerConfig{
			MaxFailures:      cbDef.MaxFailures,
			Cooldown:         Duration(cbDef.Cooldown),
			MaxCooldown:      Duration(cbDef.MaxCooldown),
			HalfOpenMax:      cbDef.HalfOpenMax,
			SuccessThreshold: cbDef.SuccessThreshold,
			SamplingDuration: Duration(cbDef.SamplingDuration),
			CallTimeout:      Duration(cbDef.CallTimeout),
		},
		Ingest: IngestConfig{
			Exchange:            ingDef.Exchange,
			Queue:               ingDef.Queue,
			RoutingKey:          ingDef.RoutingKey,
			Prefetch:            ingDef.Prefetch,
			ReconnectBackoff:    Duration(ingDef.ReconnectBackoff),
			ReconnectMaxBackoff: Duration(ingDef.ReconnectMaxBackoff),
		},
		Security: *security.DefaultConfig(),
		CORS:     *middleware.DefaultCORSConfig(),
	}
}

// Validate normalizes and checks every section.
func (c *Config) Validate() error {
	sections := []struct {
		name string
		fn   func() error
	}{
		{"server", c.Server.Validate},
		{"storage", c.Storage.Validate},
		{"cache", c.Cache.Validate},
		{"auth", c.Auth.Validate},
		{"rateLimit", c.RateLimit.Validate},
		{"waf", c.WAF.Validate},
		{"circuitBreaker", c.Breaker.Validate},
		{"ingest", c.Ingest.Validate},
	}
	for _, s := range sections {
		if err := s.fn(); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}
