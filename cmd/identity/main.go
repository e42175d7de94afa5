package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/kinoteka/kinoteka/internal/app"
	"github.com/kinoteka/kinoteka/internal/observability"
	"github.com/kinoteka/kinoteka/internal/platform/cache"
	"github.com/kinoteka/kinoteka/internal/platform/db"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: "kinoteka-identity",
		Environment: cfg.AppEnv,
	}, logger)
	if err != nil {
		logger.Error("init tracing", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown", slog.Any("error", err))
		}
	}()

	dialect, err := db.ParseDialect(cfg.IdentityDriver)
	if err != nil {
		logger.Error("identity driver", slog.Any("error", err))
		os.Exit(1)
	}
	conn, err := openIdentityDB(ctx, cfg, dialect)
	if err != nil {
		logger.Error("connect identity database", slog.Any("error", err))
		os.Exit(1)
	}
	defer conn.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		// The permission cache and rate limiter degrade without Redis; the
		// client keeps retrying on each command.
		logger.Warn("redis ping", slog.Any("error", err))
		redisClient = cache.NewClient(cfg.RedisAddr)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer inspector.Close()

	router, err := app.BuildIdentityAPI(ctx, app.IdentityDeps{
		Config:    cfg,
		Logger:    logger,
		DB:        conn,
		Dialect:   dialect,
		Redis:     redisClient,
		Metrics:   observability.NewMetrics("identity"),
		Inspector: inspector,
	})
	if err != nil {
		logger.Error("build identity api", slog.Any("error", err))
		os.Exit(1)
	}

	server := &http.Server{
		Addr:         cfg.IdentityAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.IdentityAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

func openIdentityDB(ctx context.Context, cfg *app.Config, dialect db.Dialect) (*sql.DB, error) {
	dsn := cfg.PGDSN
	if dialect == db.SQLite {
		dsn = cfg.SQLitePath
	}
	return db.Open(ctx, dialect, dsn)
}
