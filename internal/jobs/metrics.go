// Package jobmetrics instruments background task runs.
package jobmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the job collectors. A nil *Metrics records nothing.
type Metrics struct {
	runs     *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
	purged   prometheus.Counter
}

// NewMetrics registers job collectors on reg. A nil reg yields working but
// unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kinoteka_jobs_total",
			Help: "Job executions by task type and status.",
		}, []string{"job", "status"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kinoteka_jobs_failures_total",
			Help: "Failed job executions by task type.",
		}, []string{"job"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kinoteka_job_duration_seconds",
			Help:    "Job execution time in seconds.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 15, 60, 300},
		}, []string{"job"}),
		purged: factory.NewCounter(prometheus.CounterOpts{
			Name: "kinoteka_refresh_tokens_purged_total",
			Help: "Expired refresh tokens deleted by the purge job.",
		}),
	}
}

// Run times a single job execution.
type Run struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track starts timing job.
func (m *Metrics) Track(job string) *Run {
	return &Run{metrics: m, job: job, start: time.Now()}
}

// End records the outcome and returns err unchanged.
func (r *Run) End(err error) error {
	if r == nil || r.metrics == nil {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		r.metrics.failures.WithLabelValues(r.job).Inc()
	}
	r.metrics.runs.WithLabelValues(r.job, status).Inc()
	r.metrics.duration.WithLabelValues(r.job).Observe(time.Since(r.start).Seconds())
	return err
}

// AddPurged counts refresh tokens removed by the purge job.
func (m *Metrics) AddPurged(count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.purged.Add(float64(count))
}
