package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/kinoteka/kinoteka/internal/app"
	"github.com/kinoteka/kinoteka/internal/identity"
	jobmetrics "github.com/kinoteka/kinoteka/internal/jobs"
	"github.com/kinoteka/kinoteka/internal/observability"
	"github.com/kinoteka/kinoteka/internal/platform/db"
	"github.com/kinoteka/kinoteka/jobs"
)

// metricsAddr serves the worker's Prometheus registry.
const metricsAddr = ":9102"

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	dialect, err := db.ParseDialect(cfg.IdentityDriver)
	if err != nil {
		logger.Error("identity driver", slog.Any("error", err))
		os.Exit(1)
	}
	dsn := cfg.PGDSN
	if dialect == db.SQLite {
		dsn = cfg.SQLitePath
	}
	conn, err := db.Open(ctx, dialect, dsn)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer conn.Close()

	metrics := observability.NewMetrics("worker")
	purgeJob := jobs.NewPurgeRefreshTokensJob(identity.NewSQLStore(conn, dialect), logger, jobmetrics.NewMetrics(metrics.Registerer()))

	purgeTask, err := jobs.NewPurgeRefreshTokensTask(0)
	if err != nil {
		logger.Error("build purge task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskPurgeRefreshTokens, Handler: purgeJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.RefreshPurgeCron, Task: purgeTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	metricsServer := &http.Server{Addr: metricsAddr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
