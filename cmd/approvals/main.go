// Package main is the entry point for the approvals server. It wires all
// dependencies together and starts the HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/nubegest/approvals/internal/config"
	"github.com/nubegest/approvals/internal/observability"
	"github.com/nubegest/approvals/internal/roster"
	"github.com/nubegest/approvals/internal/transport"
	"github.com/nubegest/approvals/internal/workflow"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "approvals", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	pool, err := connectDatabase(ctx, cfg.Database)
	if err != nil {
		logger.Error("database connection failed", zap.Error(err))
		return 1
	}
	defer pool.Close()

	store := workflow.NewPgStore(pool)
	rosterSvc := roster.NewPgRoster(pool)
	bindings := workflow.NewBindingRegistry(workflow.NewOrderBinding())

	metrics := observability.NewMetrics()

	engine := workflow.NewEngine(store, rosterSvc, bindings,
		workflow.WithLogger(logger),
		workflow.WithMetrics(metrics),
		workflow.WithDefaultBranchID(cfg.Workflow.DefaultBranchID),
	)

	deps := transport.Dependencies{
		Engine:         engine,
		Logger:         logger,
		Health:         observability.NewHealthChecker(store),
		HandlerTimeout: cfg.Server.WriteTimeout,
	}
	if cfg.Observability.Metrics.Enabled {
		deps.MetricsHandler = metrics.Handler()
		deps.Metrics = metrics.Middleware
	}
	if cfg.Observability.Tracing.Enabled {
		deps.Tracing = observability.TracingMiddleware
	}
	router := transport.NewRouter(deps)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()
	go runOverdueSweep(bgCtx, engine, logger)

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	bgCancel()

	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// connectDatabase builds the pgx pool from configuration. The DSN comes from
// the environment variable named in the config.
func connectDatabase(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	dsn := os.Getenv(cfg.DSNEnv)
	if dsn == "" {
		return nil, fmt.Errorf("environment variable %s not set", cfg.DSNEnv)
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

// runOverdueSweep periodically surfaces instances past their deadline. The
// engine never auto-expires instances; overdue ones are reported so an
// operator or an external escalation job can act on them.
func runOverdueSweep(ctx context.Context, engine *workflow.Engine, logger *zap.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			overdue, err := engine.FindOverdue(ctx, time.Now().UTC())
			if err != nil {
				logger.Error("overdue sweep failed", zap.Error(err))
				continue
			}
			for _, inst := range overdue {
				logger.Warn("workflow instance past deadline",
					zap.String("instance_id", inst.ID),
					zap.String("org_id", inst.OrgID),
					zap.String("entity_type", inst.EntityType),
					zap.String("entity_id", inst.EntityID),
					zap.Time("deadline", inst.Deadline),
				)
			}
		}
	}
}
