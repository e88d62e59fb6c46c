package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/chainscope/txgate/internal/auth/wallet"
	"github.com/chainscope/txgate/internal/cache"
	"github.com/chainscope/txgate/internal/circuitbreaker"
	"github.com/chainscope/txgate/internal/config"
	"github.com/chainscope/txgate/internal/health"
	"github.com/chainscope/txgate/internal/ingest"
	"github.com/chainscope/txgate/internal/observability"
	"github.com/chainscope/txgate/internal/ratelimit"
	"github.com/chainscope/txgate/internal/server"
	"github.com/chainscope/txgate/internal/storage"
	"github.com/chainscope/txgate/internal/waf"
	"github.com/chainscope/txgate/internal/ws"
)

// Breaker names, one per external dependency.
const (
	storageBreakerName = "storage"
	cacheBreakerName   = "cache"
	queueBreakerName   = "queue"
)

// application holds all wired components.
type application struct {
	cfg    *config.Config
	logger observability.Logger

	store         storage.Store
	adaptiveCache *cache.AdaptiveCache
	limiter       *ratelimit.TokenBucketLimiter
	wafEngine     *waf.Engine
	breakers      *circuitbreaker.Registry
	authenticator *wallet.Authenticator
	nonceRedis    *redis.Client
	hub           *ws.Hub
	consumer      *ingest.Consumer
	rulesWatcher  *config.RulesWatcher
	checker       *health.Checker
	server        *server.Server

	wg sync.WaitGroup
}

// newApplication wires every component from the configuration.
func newApplication(cfg *config.Config, logger observability.Logger) (*application, error) {
	zapL := observability.Zap(logger)

	app := &application{cfg: cfg, logger: logger}

	store, err := newStore(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	app.store = store

	app.breakers = circuitbreaker.NewRegistry(cfg.Breaker.Runtime(), zapL)
	storageBreakerCfg := cfg.Breaker.Runtime()
	// A missing row is a business outcome, not a storage failure; it must
	// not trip the breaker.
	storageBreakerCfg.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, storage.ErrNotFound)
	}
	storageBreaker := app.breakers.GetOrCreateWithConfig(storageBreakerName, storageBreakerCfg)

	cacheCfg := cfg.Cache.Runtime()
	backend, err := cache.New(cacheCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	if cacheCfg.Enabled && cacheCfg.Backend == cache.BackendRedis {
		// Only the networked backend gets a breaker; the in-process one
		// cannot fail in a way worth tripping on.
		backend = cache.Guard(backend, app.breakers.GetOrCreate(cacheBreakerName))
	}
	app.adaptiveCache = cache.NewAdaptiveCache(backend, cacheCfg, logger)

	wafCfg := cfg.WAF.Runtime()
	if cfg.WAF.RulesFile != "" {
		rules, err := config.LoadRules(cfg.WAF.RulesFile)
		if err != nil {
			return nil, fmt.Errorf("waf rules: %w", err)
		}
		wafCfg.Rules = rules
	}
	app.wafEngine, err = waf.NewEngine(wafCfg, zapL)
	if err != nil {
		return nil, fmt.Errorf("waf: %w", err)
	}

	if cfg.WAF.RulesFile != "" {
		app.rulesWatcher, err = config.NewRulesWatcher(cfg.WAF.RulesFile,
			app.wafEngine.UpdateRules,
			config.WithWatcherLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("waf rules watcher: %w", err)
		}
	}

	rlCfg := cfg.RateLimit.Runtime()
	app.limiter = ratelimit.NewTokenBucketLimiterWithTTL(
		rlCfg.RefillRate, rlCfg.Capacity,
		rlCfg.CleanupInterval, rlCfg.BucketTTL, zapL)

	if cfg.Auth.Enabled {
		if err := app.initAuth(); err != nil {
			return nil, fmt.Errorf("auth: %w", err)
		}
	}

	app.hub = ws.NewHub(logger)

	if cfg.Ingest.Enabled {
		processor := ingest.NewProcessor(store, app.adaptiveCache, app.hub, logger)
		app.consumer, err = ingest.NewConsumer(cfg.Ingest.Runtime(), processor, logger,
			ingest.WithBreaker(app.breakers.GetOrCreate(queueBreakerName)))
		if err != nil {
			return nil, fmt.Errorf("ingest: %w", err)
		}
	}

	app.checker = health.NewChecker(version)
	app.checker.RegisterCheck("storage", health.StoreCheck(store, health.DefaultCheckTimeout))
	app.checker.RegisterCheck("circuit_breakers", health.BreakersCheck(app.breakers))

	app.server = server.New(&cfg.Server, server.Options{
		Store:       store,
		Cache:       app.adaptiveCache,
		Breaker:     storageBreaker,
		Health:      app.checker,
		Logger:      logger,
		Auth:        app.authenticator,
		RequireAuth: cfg.Auth.Enabled && cfg.Auth.RequireForData,
		WAFEngine:   app.wafEngine,
		Hub:         app.hub,
		Version:     version,
	})
	app.server.SetHandler(buildMiddlewareChain(app.server.Handler(), app))

	return app, nil
}

// newStore opens the configured transaction store.
func newStore(cfg *config.Config, logger observability.Logger) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case config.StoragePostgres:
		return storage.NewPostgresStore(cfg.Storage.Postgres.Runtime(), logger)
	default:
		return storage.NewMemoryStore(), nil
	}
}

// initAuth builds the wallet authenticator and its nonce store.
func (app *application) initAuth() error {
	cfg := app.cfg.Auth

	issuer, err := wallet.NewTokenIssuer([]byte(cfg.TokenSecret),
		wallet.WithTokenTTL(cfg.TokenTTL.Duration()))
	if err != nil {
		return err
	}

	var store wallet.NonceStore
	if cfg.NonceStore == config.NonceStoreRedis {
		app.nonceRedis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store = wallet.NewRedisNonceStore(app.nonceRedis, "")
	} else {
		store = wallet.NewMemoryNonceStore()
	}

	app.authenticator = wallet.NewAuthenticator(store, issuer,
		wallet.WithNonceTTL(cfg.NonceTTL.Duration()),
		wallet.WithRole(cfg.Role),
		wallet.WithAdminWallets(cfg.AdminWallets),
		wallet.WithAuthLogger(app.logger))
	return nil
}

// Start launches the background components and the HTTP server.
func (app *application) Start(ctx context.Context) error {
	if app.rulesWatcher != nil {
		if err := app.rulesWatcher.Start(ctx); err != nil {
			return fmt.Errorf("waf rules watcher: %w", err)
		}
	}

	if app.consumer != nil {
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			if err := app.consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				app.logger.Error("ingest consumer stopped", observability.Error(err))
			}
		}()
	}

	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		if err := app.server.Start(); err != nil {
			app.logger.Fatal("http server failed", observability.Error(err))
		}
	}()

	return nil
}

// Stop shuts everything down in reverse dependency order.
func (app *application) Stop(ctx context.Context) error {
	var errs []error

	if err := app.server.Stop(ctx); err != nil {
		errs = append(errs, err)
	}

	if app.rulesWatcher != nil {
		if err := app.rulesWatcher.Stop(); err != nil {
			errs = append(errs, err)
		}
	}

	if err := app.hub.Close(); err != nil {
		errs = append(errs, err)
	}

	if app.authenticator != nil {
		if err := app.authenticator.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if app.nonceRedis != nil {
		if err := app.nonceRedis.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if err := app.limiter.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := app.wafEngine.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := app.adaptiveCache.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := app.store.Close(); err != nil {
		errs = append(errs, err)
	}

	app.wg.Wait()
	return errors.Join(errs...)
}
