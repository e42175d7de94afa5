package ratelimit

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinoteka/kinoteka/internal/platform/cache"
	"github.com/kinoteka/kinoteka/internal/shared"
)

func newTestLimiter(t *testing.T, ceiling int) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(Config{
		Cache:      cache.NewStore(client),
		Max:        ceiling,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Registerer: prometheus.NewRegistry(),
	}), mr
}

func TestAdmitCapsConcurrentRequests(t *testing.T) {
	limiter, mr := newTestLimiter(t, 10)
	ctx := context.Background()

	var (
		mu       sync.Mutex
		releases []func()
		rejected int
		wg       sync.WaitGroup
	)
	for i := 0; i < 15; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := limiter.Admit(ctx, "u1")
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.ErrorIs(t, err, shared.ErrTooManyRequests)
				rejected++
				return
			}
			releases = append(releases, release)
		}()
	}
	wg.Wait()

	assert.Len(t, releases, 10)
	assert.Equal(t, 5, rejected)
	assert.Equal(t, 5.0, testutil.ToFloat64(limiter.rejected))

	for _, release := range releases {
		release()
	}
	v, err := mr.Get("buffer:u1")
	require.NoError(t, err)
	assert.Equal(t, "0", v)

	release, err := limiter.Admit(ctx, "u1")
	require.NoError(t, err)
	release()
}

func TestAdmitIsPerUser(t *testing.T) {
	limiter, _ := newTestLimiter(t, 1)
	ctx := context.Background()

	release, err := limiter.Admit(ctx, "a")
	require.NoError(t, err)
	defer release()

	_, err = limiter.Admit(ctx, "a")
	assert.ErrorIs(t, err, shared.ErrTooManyRequests)

	other, err := limiter.Admit(ctx, "b")
	require.NoError(t, err)
	other()
}

func TestAdmitFailsOpen(t *testing.T) {
	limiter, mr := newTestLimiter(t, 1)
	mr.Close()

	release, err := limiter.Admit(context.Background(), "u1")
	require.NoError(t, err)
	require.NotNil(t, release)
	release()
}

func TestReleaseSurvivesCanceledRequest(t *testing.T) {
	limiter, mr := newTestLimiter(t, 1)
	ctx, cancel := context.WithCancel(context.Background())

	release, err := limiter.Admit(ctx, "u1")
	require.NoError(t, err)
	cancel()
	release()

	v, err := mr.Get("buffer:u1")
	require.NoError(t, err)
	assert.Equal(t, "0", v)
}

func TestMiddlewareRejectsOverflow(t *testing.T) {
	limiter, _ := newTestLimiter(t, 10)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	gate := make(chan struct{})
	entered := make(chan struct{}, 15)
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entered <- struct{}{}
		<-gate
		w.WriteHeader(http.StatusOK)
	})
	handler := Middleware(limiter, logger)(slow)

	codes := make(chan int, 15)
	for i := 0; i < 15; i++ {
		go func() {
			req := httptest.NewRequest(http.MethodGet, "/user/auth", nil)
			req = req.WithContext(shared.ContextWithPrincipal(req.Context(), shared.Principal{UserID: "u1"}))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			codes <- rec.Code
		}()
	}

	counts := map[int]int{}
	for i := 0; i < 5; i++ {
		counts[<-codes]++
	}
	for i := 0; i < 10; i++ {
		<-entered
	}
	close(gate)
	for i := 0; i < 10; i++ {
		counts[<-codes]++
	}

	assert.Equal(t, 10, counts[http.StatusOK])
	assert.Equal(t, 5, counts[http.StatusTooManyRequests])
}

func TestMiddlewareSkipsAnonymous(t *testing.T) {
	limiter, mr := newTestLimiter(t, 1)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := Middleware(limiter, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, mr.Exists("buffer:"))
}

func TestCounterOutlivesRequestTimeout(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter := New(Config{
		Cache:          cache.NewStore(client),
		Max:            1,
		RequestTimeout: 3 * time.Minute,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	release, err := limiter.Admit(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 6*time.Minute, mr.TTL("buffer:u1"))

	mr.FastForward(4 * time.Minute)
	_, err = limiter.Admit(context.Background(), "u1")
	assert.ErrorIs(t, err, shared.ErrTooManyRequests)
	release()

	assert.Equal(t, time.Minute, counterTTL(0))
	assert.Equal(t, time.Minute, counterTTL(10*time.Second))
}

func TestReleaseAfterExpiryLeavesNoNegativeCounter(t *testing.T) {
	limiter, mr := newTestLimiter(t, 1)

	release, err := limiter.Admit(context.Background(), "u1")
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)
	require.False(t, mr.Exists("buffer:u1"))
	release()
	assert.False(t, mr.Exists("buffer:u1"))

	release, err = limiter.Admit(context.Background(), "u1")
	require.NoError(t, err)
	release()
}
