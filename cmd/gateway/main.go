// Package main is the entry point for the eventgate request gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zeventbooks/eventgate/internal/auth"
	"github.com/zeventbooks/eventgate/internal/backend"
	"github.com/zeventbooks/eventgate/internal/brand"
	"github.com/zeventbooks/eventgate/internal/config"
	"github.com/zeventbooks/eventgate/internal/gateway"
	"github.com/zeventbooks/eventgate/internal/health"
	"github.com/zeventbooks/eventgate/internal/metrics"
	"github.com/zeventbooks/eventgate/internal/observability"
	"github.com/zeventbooks/eventgate/internal/router"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// shutdownTimeout bounds the graceful drain on SIGINT/SIGTERM.
const shutdownTimeout = 30 * time.Second

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
	if cfg.Version == "0.0.0-dev" && version != "dev" {
		cfg.Version = version
	}

	srv, tracer := buildServer(cfg, logger)
	run(srv, tracer, logger)
}

// parseFlags parses command line flags.
func parseFlags() cliFlags {
	configPath := flag.String("config", getEnvOrDefault("EVENTGATE_CONFIG_PATH", "configs/eventgate.yaml"),
		"Path to configuration file")
	logLevel := flag.String("log-level", getEnvOrDefault("EVENTGATE_LOG_LEVEL", ""),
		"Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", getEnvOrDefault("EVENTGATE_LOG_FORMAT", ""),
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

// printVersion prints version information and exits.
func printVersion() {
	fmt.Printf("eventgate version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

// initLogger initializes the logger. Flag values override config later
// only when explicitly set.
func initLogger(flags cliFlags) observability.Logger {
	cfg := observability.DefaultLogConfig()
	if flags.logLevel != "" {
		cfg.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		cfg.Format = flags.logFormat
	}

	logger, err := observability.NewLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	observability.SetGlobalLogger(logger)
	return logger
}

// loadConfig loads and validates the configuration.
func loadConfig(path string, logger observability.Logger) *config.Config {
	logger.Info("starting eventgate",
		observability.String("version", version),
		observability.String("config", path),
	)

	cfg, err := config.Load(path)
	if err != nil {
		logger.Error("failed to load configuration", observability.Error(err))
		os.Exit(1)
	}
	return cfg
}

// buildServer wires every collaborator from the configuration.
func buildServer(cfg *config.Config, logger observability.Logger) (*gateway.Server, *observability.Tracer) {
	client, err := backend.NewClient(cfg.Backend.BaseURL,
		backend.WithClientLogger(logger),
		backend.WithTimeout(cfg.Backend.Timeout.Duration()),
		backend.WithBreakerSettings(cfg.Backend.Breaker.Threshold, cfg.Backend.Breaker.Cooldown.Duration()),
	)
	if err != nil {
		logger.Error("failed to create backend client", observability.Error(err))
		os.Exit(1)
	}

	tracer, err := observability.NewTracer(observability.TracerConfig{
		ServiceName:  cfg.GatewayID,
		OTLPEndpoint: cfg.Observability.Tracing.OTLPEndpoint,
		SamplingRate: cfg.Observability.Tracing.SamplingRate,
		Enabled:      cfg.Observability.Tracing.Enabled,
	})
	if err != nil {
		logger.Error("failed to create tracer", observability.Error(err))
		os.Exit(1)
	}

	m := metrics.New("eventgate")
	m.SetBuildInfo(cfg.Version, cfg.Deployment.DeploymentID)

	agg := health.NewAggregator(client, health.Fingerprint{
		DeploymentID: cfg.Deployment.DeploymentID,
		ScriptID:     cfg.Deployment.ScriptID,
		BuiltAt:      cfg.Deployment.BuiltAt,
	}, health.WithAggregatorLogger(logger))

	g := gateway.New(
		router.New(router.WithBrandAliases(cfg.Brands.Aliases)),
		brand.NewResolver(cfg.Brands.Allowed),
		auth.NewGuard(cfg.Auth.AdminToken, auth.WithGuardLogger(logger)),
		client,
		agg,
		gateway.WithGatewayLogger(logger),
		gateway.WithMetrics(m),
		gateway.WithBuildID(cfg.Deployment.DeploymentID),
	)

	return gateway.NewServer(cfg, g, m, logger, gateway.WithServerTracer(tracer)), tracer
}

// run starts the server and blocks until a shutdown signal arrives.
func run(srv *gateway.Server, tracer *observability.Tracer, logger observability.Logger) {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", observability.Error(err))
			os.Exit(1)
		}
	case sig := <-sigCh:
		logger.Info("received shutdown signal", observability.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Stop(ctx); err != nil {
		logger.Error("graceful shutdown failed", observability.Error(err))
	}
	if err := tracer.Shutdown(ctx); err != nil {
		logger.Warn("tracer shutdown failed", observability.Error(err))
	}
}

// getEnvOrDefault returns the environment value or a default.
func getEnvOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
