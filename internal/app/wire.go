package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/kinoteka/kinoteka/internal/auth"
	"github.com/kinoteka/kinoteka/internal/catalog"
	"github.com/kinoteka/kinoteka/internal/identity"
	"github.com/kinoteka/kinoteka/internal/oauth"
	"github.com/kinoteka/kinoteka/internal/observability"
	"github.com/kinoteka/kinoteka/internal/platform/cache"
	"github.com/kinoteka/kinoteka/internal/platform/db"
	"github.com/kinoteka/kinoteka/internal/ratelimit"
	"github.com/kinoteka/kinoteka/internal/rbac"
	"github.com/kinoteka/kinoteka/jobs"
)

// IdentityDeps are the connections the identity API is built on.
type IdentityDeps struct {
	Config    *Config
	Logger    *slog.Logger
	DB        *sql.DB
	Dialect   db.Dialect
	Redis     redis.UniversalClient
	Metrics   *observability.Metrics
	Inspector jobs.QueueInspector
}

// BuildIdentityAPI wires the identity store, permission resolver, token
// service, limiter and OAuth federation into one handler.
func BuildIdentityAPI(ctx context.Context, deps IdentityDeps) (http.Handler, error) {
	cfg, logger := deps.Config, deps.Logger
	store := identity.NewSQLStore(deps.DB, deps.Dialect)
	kv := cache.NewStore(deps.Redis)
	reg := deps.Metrics.Registerer()

	rbacMetrics, err := rbac.NewMetrics(reg)
	if err != nil {
		return nil, fmt.Errorf("app: rbac metrics: %w", err)
	}
	resolver := rbac.NewResolver(rbac.ResolverConfig{
		Store:                store,
		Cache:                kv,
		TTL:                  cfg.PermissionCacheTTL,
		SubscriberPermission: cfg.SubscriberPerm,
		Logger:               logger,
		Metrics:              rbacMetrics,
	})
	rbacService := rbac.NewService(store, resolver, cfg.SuperadminRole, logger)

	tokens := auth.NewTokenIssuer(cfg.JWTSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	authService := auth.NewService(store, kv, tokens, logger)

	limiter := ratelimit.New(ratelimit.Config{
		Cache:          kv,
		Max:            cfg.UserMaxInFlight,
		RequestTimeout: cfg.AppRequestTimeout,
		Logger:         logger,
		Registerer:     reg,
	})
	limit := ratelimit.Middleware(limiter, logger)

	authHandler := auth.NewHandler(logger, authService, limit)
	rbacHandler := rbac.NewHandler(logger, rbacService, authHandler.Middleware(), limit)

	providers, err := oauth.LoadConfig(cfg.OAuthProvidersFile)
	if err != nil {
		return nil, fmt.Errorf("app: oauth providers: %w", err)
	}
	oauthClient := &http.Client{
		Timeout:   cfg.OAuthTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	registry := oauth.NewRegistry(ctx, providers, oauthClient, logger)
	oauthHandler := oauth.NewHandler(logger, registry, oauth.NewStateStore(kv, cfg.OAuthStateTTL), authService, cfg.OAuthTimeout)

	return NewIdentityRouter(IdentityRouterParams{
		Logger:       logger,
		Config:       cfg,
		Metrics:      deps.Metrics,
		AuthHandler:  authHandler,
		RBACHandler:  rbacHandler,
		OAuthHandler: oauthHandler,
		JobHandler:   jobs.NewHandler(deps.Inspector, logger),
	}), nil
}

// CatalogDeps are the connections the catalog API is built on. Viewers
// defaults to an HTTP client for the identity service.
type CatalogDeps struct {
	Config  *Config
	Logger  *slog.Logger
	Store   catalog.DocumentStore
	Redis   redis.UniversalClient
	Metrics *observability.Metrics
	Viewers catalog.ViewerResolver
}

// BuildCatalogAPI wires the document store, document cache and access filter
// into one handler.
func BuildCatalogAPI(deps CatalogDeps) (http.Handler, error) {
	cfg, logger := deps.Config, deps.Logger
	docs, err := catalog.NewDocumentCache(deps.Store, cache.NewStore(deps.Redis), cfg.DocumentCacheTTL, logger, deps.Metrics.Registerer())
	if err != nil {
		return nil, fmt.Errorf("app: document cache: %w", err)
	}
	service := catalog.NewService(catalog.ServiceConfig{
		Store:   deps.Store,
		Films:   docs,
		Ceiling: cfg.RatingCeiling,
		Logger:  logger,
	})
	viewers := deps.Viewers
	if viewers == nil {
		viewers = catalog.NewIdentityClient(cfg.IdentityURL, cfg.IdentityTimeout, logger)
	}
	return NewCatalogRouter(CatalogRouterParams{
		Logger:         logger,
		Config:         cfg,
		Metrics:        deps.Metrics,
		CatalogHandler: catalog.NewHandler(logger, service, viewers),
	}), nil
}
