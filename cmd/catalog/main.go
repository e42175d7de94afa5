package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kinoteka/kinoteka/internal/app"
	"github.com/kinoteka/kinoteka/internal/catalog"
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
		ServiceName: "kinoteka-catalog",
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

	pool, err := db.NewPool(ctx, cfg.CatalogDSN(), db.PoolOptions{MaxConns: 20, MaxConnIdleTime: 5 * time.Minute})
	if err != nil {
		logger.Error("connect catalog database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
		redisClient = cache.NewClient(cfg.RedisAddr)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	router, err := app.BuildCatalogAPI(app.CatalogDeps{
		Config:  cfg,
		Logger:  logger,
		Store:   catalog.NewPGStore(pool),
		Redis:   redisClient,
		Metrics: observability.NewMetrics("catalog"),
	})
	if err != nil {
		logger.Error("build catalog api", slog.Any("error", err))
		os.Exit(1)
	}

	server := &http.Server{
		Addr:         cfg.CatalogAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.CatalogAddr))
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
