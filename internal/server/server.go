// Package server wires the HTTP API: transaction queries, wallet auth,
// WAF administration, health and the WebSocket feed.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chainscope/txgate/internal/auth/wallet"
	"github.com/chainscope/txgate/internal/cache"
	"github.com/chainscope/txgate/internal/circuitbreaker"
	"github.com/chainscope/txgate/internal/config"
	"github.com/chainscope/txgate/internal/health"
	"github.com/chainscope/txgate/internal/observability"
	"github.com/chainscope/txgate/internal/storage"
	"github.com/chainscope/txgate/internal/waf"
	"github.com/chainscope/txgate/internal/ws"
)

// ginModeOnce ensures gin.SetMode is only called once to avoid race conditions.
var ginModeOnce sync.Once

// Options carries the dependencies the router exposes.
type Options struct {
	Store    storage.Store
	Cache    *cache.AdaptiveCache
	Breaker  *circuitbreaker.CircuitBreaker
	Health   *health.Checker
	Logger   observability.Logger

	// Auth enables the /auth endpoints and admin routes when set.
	Auth *wallet.Authenticator

	// RequireAuth gates the data routes behind a valid credential.
	RequireAuth bool

	// WAFEngine enables the /admin/waf endpoints when set.
	WAFEngine *waf.Engine

	// Hub enables /ws/transactions when set.
	Hub *ws.Hub

	Version string
}

// Server is the HTTP front of the service. The admission middleware chain
// wraps the gin engine at the net/http level; see Handler.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	handler    http.Handler
	cfg        *config.ServerConfig
	logger     observability.Logger

	mu      sync.Mutex
	running bool
}

// New builds the engine and registers all routes.
func New(cfg *config.ServerConfig, opts Options) *Server {
	if cfg == nil {
		cfg = &config.ServerConfig{}
		_ = cfg.Validate()
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}

	ginModeOnce.Do(func() {
		gin.SetMode(gin.ReleaseMode)
	})

	engine := gin.New()
	engine.ContextWithFallback = true

	s := &Server{
		engine:  engine,
		handler: engine,
		cfg:     cfg,
		logger:  logger,
	}
	s.registerRoutes(opts)
	return s
}

// registerRoutes attaches every route group to the engine.
func (s *Server) registerRoutes(opts Options) {
	if opts.Health != nil {
		s.engine.GET("/healthz", gin.WrapF(opts.Health.HealthHandler()))
		s.engine.GET("/readyz", gin.WrapF(opts.Health.ReadinessHandler()))
	}
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.engine.GET("/version", versionHandler(opts.Version))

	tx := newTxHandlers(opts.Store, opts.Cache, opts.Breaker, s.logger)
	api := s.engine.Group("/api/v1")
	if opts.RequireAuth {
		api.Use(requireCredential())
	}
	api.GET("/transactions", tx.list)
	api.GET("/transactions/:signature", tx.get)

	if opts.Auth != nil {
		ah := &authHandlers{auth: opts.Auth, logger: s.logger}
		s.engine.POST("/auth/nonce", ah.nonce)
		s.engine.POST("/auth/login", ah.login)
	}

	if opts.WAFEngine != nil {
		admin := s.engine.Group("/admin/waf", requireRole(wallet.RoleAdmin))
		wh := &wafAdminHandlers{engine: opts.WAFEngine, logger: s.logger}
		admin.GET("/stats", wh.stats)
		admin.GET("/bans", wh.bans)
		admin.POST("/ban", wh.ban)
		admin.DELETE("/ban/:ip", wh.unban)
	}

	if opts.Hub != nil {
		s.engine.GET("/ws/transactions", gin.WrapH(opts.Hub))
	}
}

// SetHandler replaces the handler served by Start, letting the caller wrap
// the engine in the admission middleware chain. Must be called before Start.
func (s *Server) SetHandler(h http.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// Handler returns the bare gin engine, unwrapped.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start runs the HTTP server and blocks until shutdown or failure.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}

	s.httpServer = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.handler,
		ReadTimeout:  s.cfg.ReadTimeout.Duration(),
		WriteTimeout: s.cfg.WriteTimeout.Duration(),
		IdleTimeout:  s.cfg.IdleTimeout.Duration(),
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("starting http server",
		observability.String("addr", s.cfg.ListenAddr))

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("stopping http server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func versionHandler(version string) gin.HandlerFunc {
	if version == "" {
		version = "dev"
	}
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service": "txgate",
			"version": version,
		})
	}
}
