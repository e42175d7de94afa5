// Package ratelimit caps the number of in-flight requests per user.
package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kinoteka/kinoteka/internal/platform/cache"
	"github.com/kinoteka/kinoteka/internal/shared"
)

const (
	keyPrefix = "buffer:"
	// minCounterTTL is the floor for how long an idle counter survives, so a
	// process that dies mid-request cannot pin a user at the limit.
	minCounterTTL = time.Minute
)

// Limiter admits at most Max concurrent requests per user. The counter lives
// in Redis so every replica shares it.
type Limiter struct {
	cache    *cache.Store
	max      int64
	ttl      time.Duration
	logger   *slog.Logger
	rejected prometheus.Counter
}

// Config collects Limiter dependencies.
type Config struct {
	Cache *cache.Store
	Max   int
	// RequestTimeout is the longest a request may hold a slot. Counters
	// outlive it twice over.
	RequestTimeout time.Duration
	Logger         *slog.Logger
	Registerer     prometheus.Registerer
}

// New constructs a Limiter.
func New(cfg Config) *Limiter {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ceiling := int64(cfg.Max)
	if ceiling <= 0 {
		ceiling = 10
	}
	rejected := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kinoteka_rate_limit_rejections_total",
		Help: "Requests rejected by the per-user in-flight limiter.",
	})
	if cfg.Registerer != nil {
		if err := cfg.Registerer.Register(rejected); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				if existing, ok := already.ExistingCollector.(prometheus.Counter); ok {
					rejected = existing
				}
			}
		}
	}
	return &Limiter{cache: cfg.Cache, max: ceiling, ttl: counterTTL(cfg.RequestTimeout), logger: logger, rejected: rejected}
}

func counterTTL(requestTimeout time.Duration) time.Duration {
	if ttl := 2 * requestTimeout; ttl > minCounterTTL {
		return ttl
	}
	return minCounterTTL
}

// Max returns the per-user in-flight ceiling.
func (l *Limiter) Max() int64 { return l.max }

// Admit reserves one in-flight slot for userID. The returned release must be
// called once the request finishes. When the cache is unreachable the request
// is admitted and release is a no-op.
func (l *Limiter) Admit(ctx context.Context, userID string) (func(), error) {
	key := keyPrefix + userID
	n, err := l.cache.IncrExpire(ctx, key, l.ttl)
	if err != nil {
		l.logger.Warn("rate limiter unavailable, admitting request", slog.String("user_id", userID), slog.Any("error", err))
		return func() {}, nil
	}
	if n > l.max {
		l.decr(ctx, key)
		l.rejected.Inc()
		return nil, shared.ErrTooManyRequests
	}
	return func() { l.decr(ctx, key) }, nil
}

func (l *Limiter) decr(ctx context.Context, key string) {
	// the slot is returned even when the client has gone away
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	n, err := l.cache.Decr(ctx, key)
	if err != nil {
		l.logger.Warn("rate limiter release failed", slog.String("key", key), slog.Any("error", err))
		return
	}
	if n < 0 {
		// the counter expired under us; drop the TTL-less key DECR created
		if _, err := l.cache.Del(ctx, key); err != nil {
			l.logger.Warn("rate limiter reset failed", slog.String("key", key), slog.Any("error", err))
		}
	}
}
