// Package main is the entry point for the transaction gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/chainscope/txgate/internal/config"
	"github.com/chainscope/txgate/internal/observability"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	showVersion bool
}

func main() {
	flags := parseFlags()

	if flags.showVersion {
		printVersion()
		return
	}

	logger := initLogger(flags)
	defer func() { _ = logger.Sync() }()

	cfg := loadConfig(flags.configPath, logger)

	app, err := newApplication(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize application", observability.Error(err))
	}

	run(app, logger)
}

// parseFlags parses command line flags.
func parseFlags() cliFlags {
	configPath := flag.String("config", getEnvOrDefault("TXGATE_CONFIG_PATH", ""),
		"Path to configuration file (defaults apply when empty)")
	logLevel := flag.String("log-level", getEnvOrDefault("TXGATE_LOG_LEVEL", "info"),
		"Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", getEnvOrDefault("TXGATE_LOG_FORMAT", "json"),
		"Log format (json, console)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	return cliFlags{
		configPath:  *configPath,
		logLevel:    *logLevel,
		logFormat:   *logFormat,
		showVersion: *showVersion,
	}
}

func printVersion() {
	fmt.Printf("txgate version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// initLogger initializes the logger.
func initLogger(flags cliFlags) observability.Logger {
	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  flags.logLevel,
		Format: flags.logFormat,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

// loadConfig loads the configuration file, or the defaults when no path is
// given.
func loadConfig(path string, logger observability.Logger) *config.Config {
	logger.Info("starting txgate",
		observability.String("version", version),
		observability.String("config", path))

	if path == "" {
		cfg := config.Default()
		if err := cfg.Validate(); err != nil {
			logger.Fatal("invalid default configuration", observability.Error(err))
		}
		return cfg
	}

	cfg, err := config.Load(path)
	if err != nil {
		logger.Fatal("failed to load configuration", observability.Error(err))
	}

	logger.Info("configuration loaded",
		observability.String("listen_addr", cfg.Server.ListenAddr),
		observability.String("storage", cfg.Storage.Backend),
		observability.Bool("auth", cfg.Auth.Enabled),
		observability.Bool("waf", cfg.WAF.Enabled),
		observability.Bool("rate_limit", cfg.RateLimit.Enabled),
		observability.Bool("ingest", cfg.Ingest.Enabled))

	return cfg
}

// run starts the application and blocks until a termination signal.
func run(app *application, logger observability.Logger) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Start(ctx); err != nil {
		logger.Fatal("failed to start application", observability.Error(err))
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		app.cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	if err := app.Stop(shutdownCtx); err != nil {
		logger.Error("shutdown finished with errors", observability.Error(err))
		os.Exit(1)
	}

	logger.Info("txgate stopped")
}
