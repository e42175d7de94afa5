package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/kinoteka/kinoteka/internal/platform/cache"
)

// FilmReader loads films by id.
type FilmReader interface {
	GetFilm(ctx context.Context, id string) (Film, error)
}

// DocumentCache is a read-through cache of film documents keyed by id.
// Entries are unfiltered; rating checks happen after a read.
type DocumentCache struct {
	source  FilmReader
	cache   *cache.Store
	ttl     time.Duration
	logger  *slog.Logger
	lookups *prometheus.CounterVec
	group   singleflight.Group
}

// NewDocumentCache wraps source. A nil registerer skips metrics.
func NewDocumentCache(source FilmReader, c *cache.Store, ttl time.Duration, logger *slog.Logger, reg prometheus.Registerer) (*DocumentCache, error) {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	dc := &DocumentCache{source: source, cache: c, ttl: ttl, logger: logger}
	if reg != nil {
		lookups := prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kinoteka_document_cache_lookups_total",
			Help: "Film document cache lookups by result.",
		}, []string{"result"})
		if err := reg.Register(lookups); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return nil, fmt.Errorf("catalog: register metrics: %w", err)
			}
			existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				return nil, fmt.Errorf("catalog: unexpected collector type %T", already.ExistingCollector)
			}
			lookups = existing
		}
		dc.lookups = lookups
	}
	return dc, nil
}

// sharedLoadTimeout bounds a load shared by concurrent callers.
const sharedLoadTimeout = 5 * time.Second

func filmKey(id string) string {
	return "film:" + id
}

// GetFilm returns the cached film or loads and caches it. Concurrent misses
// for the same id share one load. A cache outage degrades to direct reads.
func (d *DocumentCache) GetFilm(ctx context.Context, id string) (Film, error) {
	key := filmKey(id)
	var film Film
	err := d.cache.GetJSON(ctx, key, &film)
	switch {
	case err == nil:
		d.observe("hit")
		return film, nil
	case errors.Is(err, cache.ErrMiss):
		d.observe("miss")
	default:
		d.observe("error")
		d.logger.Warn("document cache read failed", slog.String("key", key), slog.Any("error", err))
		return d.source.GetFilm(ctx, id)
	}

	result := d.group.DoChan(key, func() (interface{}, error) {
		// Detached so one caller going away does not fail the others.
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedLoadTimeout)
		defer cancel()
		film, err := d.source.GetFilm(flightCtx, id)
		if err != nil {
			return Film{}, err
		}
		if err := d.cache.SetJSON(flightCtx, key, film, d.ttl); err != nil {
			d.logger.Warn("document cache write failed", slog.String("key", key), slog.Any("error", err))
		}
		return film, nil
	})
	select {
	case <-ctx.Done():
		return Film{}, ctx.Err()
	case res := <-result:
		if res.Err != nil {
			return Film{}, res.Err
		}
		return res.Val.(Film), nil
	}
}

// Evict drops a cached film.
func (d *DocumentCache) Evict(ctx context.Context, id string) error {
	_, err := d.cache.Del(ctx, filmKey(id))
	return err
}

func (d *DocumentCache) observe(result string) {
	if d.lookups == nil {
		return
	}
	d.lookups.WithLabelValues(result).Inc()
}
