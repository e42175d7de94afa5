package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/kinoteka/kinoteka/internal/jobs"
)

// TokenPurger removes refresh tokens that expired before a cutoff.
type TokenPurger interface {
	PurgeExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error)
}

// PurgeRefreshTokensJob keeps the tokens table bounded.
type PurgeRefreshTokensJob struct {
	Store   TokenPurger
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewPurgeRefreshTokensJob wires dependencies for the purge handler.
func NewPurgeRefreshTokensJob(store TokenPurger, logger *slog.Logger, metrics *jobmetrics.Metrics) *PurgeRefreshTokensJob {
	return &PurgeRefreshTokensJob{
		Store:   store,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes TaskPurgeRefreshTokens tasks.
func (j *PurgeRefreshTokensJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("purge refresh tokens: handler not configured")
	}
	var payload PurgeRefreshTokensPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	tracker := j.Metrics.Track(TaskPurgeRefreshTokens)
	cutoff := j.clock().Add(-payload.Grace)
	logger := j.logger().With(slog.Time("cutoff", cutoff))

	purged, err := j.Store.PurgeExpiredRefreshTokens(ctx, cutoff)
	if err != nil {
		logger.Error("purge refresh tokens", slog.Any("error", err))
		return tracker.End(err)
	}
	j.Metrics.AddPurged(purged)
	logger.Info("purged refresh tokens", slog.Int64("rows", purged))
	return tracker.End(nil)
}

func (j *PurgeRefreshTokensJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
