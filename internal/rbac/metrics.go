package rbac

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts decision cache outcomes.
type Metrics struct {
	hits   *prometheus.CounterVec
	misses *prometheus.CounterVec
}

// NewMetrics registers the decision cache counters. Registering twice against
// the same registry reuses the existing collectors.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	hits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kinoteka_permission_cache_hits_total",
		Help: "Permission decisions answered from cache.",
	}, []string{"kind"})
	misses := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kinoteka_permission_cache_misses_total",
		Help: "Permission decisions resolved against the identity store.",
	}, []string{"kind"})

	var err error
	if hits, err = register(reg, hits); err != nil {
		return nil, err
	}
	if misses, err = register(reg, misses); err != nil {
		return nil, err
	}
	return &Metrics{hits: hits, misses: misses}, nil
}

func register(reg prometheus.Registerer, c *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				return nil, fmt.Errorf("rbac metrics: unexpected collector type %T", already.ExistingCollector)
			}
			return existing, nil
		}
		return nil, err
	}
	return c, nil
}

func (m *Metrics) hit(kind string) {
	if m == nil {
		return
	}
	m.hits.WithLabelValues(kind).Inc()
}

func (m *Metrics) miss(kind string) {
	if m == nil {
		return
	}
	m.misses.WithLabelValues(kind).Inc()
}
