package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/kinoteka/kinoteka/internal/jobs"
)

type fakePurger struct {
	cutoffs []time.Time
	rows    int64
	err     error
}

func (f *fakePurger) PurgeExpiredRefreshTokens(_ context.Context, now time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, now)
	return f.rows, f.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newPurgeJob(store TokenPurger, now time.Time) (*PurgeRefreshTokensJob, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	job := NewPurgeRefreshTokensJob(store, discardLogger(), jobmetrics.NewMetrics(reg))
	job.clock = func() time.Time { return now }
	return job, reg
}

func TestPurgeRefreshTokensTaskPayload(t *testing.T) {
	task, err := NewPurgeRefreshTokensTask(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, TaskPurgeRefreshTokens, task.Type())

	var payload PurgeRefreshTokensPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, time.Hour, payload.Grace)

	_, err = NewPurgeRefreshTokensTask(-time.Second)
	assert.Error(t, err)
}

func TestPurgeRefreshTokensJobAppliesGrace(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := &fakePurger{rows: 7}
	job, reg := newPurgeJob(store, now)

	task, err := NewPurgeRefreshTokensTask(30 * time.Minute)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	require.Len(t, store.cutoffs, 1)
	assert.Equal(t, now.Add(-30*time.Minute), store.cutoffs[0])
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP kinoteka_refresh_tokens_purged_total Expired refresh tokens deleted by the purge job.
# TYPE kinoteka_refresh_tokens_purged_total counter
kinoteka_refresh_tokens_purged_total 7
`), "kinoteka_refresh_tokens_purged_total"))
}

func TestPurgeRefreshTokensJobEmptyPayloadAndFailures(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := &fakePurger{err: errors.New("database is locked")}
	job, reg := newPurgeJob(store, now)

	err := job.Handle(context.Background(), asynq.NewTask(TaskPurgeRefreshTokens, nil))
	require.Error(t, err)
	assert.Equal(t, []time.Time{now}, store.cutoffs)
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP kinoteka_jobs_failures_total Failed job executions by task type.
# TYPE kinoteka_jobs_failures_total counter
kinoteka_jobs_failures_total{job="identity:purge_refresh_tokens"} 1
`), "kinoteka_jobs_failures_total"))

	err = job.Handle(context.Background(), asynq.NewTask(TaskPurgeRefreshTokens, []byte(`{"grace":`)))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	var unset *PurgeRefreshTokensJob
	assert.Error(t, unset.Handle(context.Background(), asynq.NewTask(TaskPurgeRefreshTokens, nil)))
}
