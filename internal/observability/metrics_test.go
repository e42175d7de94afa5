package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestMetricsHandlerExposesRuntimeCollectors(t *testing.T) {
	assert.Contains(t, scrape(t, NewMetrics("identity")), "go_goroutines")

	var missing *Metrics
	rr := httptest.NewRecorder()
	missing.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Nil(t, missing.Registerer())
}

func TestMetricsMiddlewareRecordsRoutePattern(t *testing.T) {
	m := NewMetrics("catalog")
	var inFlight float64
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/catalog/{id}", func(w http.ResponseWriter, r *http.Request) {
		inFlight = testutil.ToFloat64(m.inFlight)
		w.WriteHeader(http.StatusForbidden)
		w.WriteHeader(http.StatusOK)
	})

	for _, id := range []string{"a", "b"} {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/catalog/"+id, nil))
		assert.Equal(t, http.StatusForbidden, rr.Code)
	}
	assert.Equal(t, 1.0, inFlight)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.inFlight))

	body := scrape(t, m)
	assert.Contains(t, body, `kinoteka_http_requests_total{code="403",route="/catalog/{id}",service="catalog"} 2`)
	assert.Contains(t, body, `kinoteka_http_request_duration_seconds_bucket{route="/catalog/{id}",service="catalog"`)
}

func TestMetricsMiddlewareWithoutRoute(t *testing.T) {
	m := NewMetrics("identity")
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	req := httptest.NewRequest(http.MethodGet, "/nowhere", nil)
	h.ServeHTTP(httptest.NewRecorder(), req.WithContext(context.Background()))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("unmatched", "418")))
}

func TestRegistererAddsServiceLabel(t *testing.T) {
	m := NewMetrics("worker")
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "kinoteka_test_total", Help: "test"})
	require.NoError(t, m.Registerer().Register(counter))
	counter.Inc()

	require.NoError(t, testutil.GatherAndCompare(m.registry, strings.NewReader(`
# HELP kinoteka_test_total test
# TYPE kinoteka_test_total counter
kinoteka_test_total{service="worker"} 1
`), "kinoteka_test_total"))
}
