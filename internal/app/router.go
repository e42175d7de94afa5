package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kinoteka/kinoteka/internal/auth"
	"github.com/kinoteka/kinoteka/internal/catalog"
	"github.com/kinoteka/kinoteka/internal/oauth"
	"github.com/kinoteka/kinoteka/internal/observability"
	"github.com/kinoteka/kinoteka/internal/rbac"
	"github.com/kinoteka/kinoteka/jobs"
)

// IdentityRouterParams groups dependencies for the identity API router.
type IdentityRouterParams struct {
	Logger       *slog.Logger
	Config       *Config
	Metrics      *observability.Metrics
	AuthHandler  *auth.Handler
	RBACHandler  *rbac.Handler
	OAuthHandler *oauth.Handler
	JobHandler   *jobs.Handler
}

// NewIdentityRouter constructs the identity and authorization API.
func NewIdentityRouter(params IdentityRouterParams) http.Handler {
	r := newBaseRouter(params.Logger, params.Config, params.Metrics, "identity")

	r.Route("/user", func(r chi.Router) {
		params.AuthHandler.MountRoutes(r)
		params.RBACHandler.MountUserRoutes(r)
	})
	r.Route("/role", params.RBACHandler.MountRoleRoutes)
	r.Route("/permission", params.RBACHandler.MountPermissionRoutes)
	if params.OAuthHandler != nil {
		r.Route("/oauth", params.OAuthHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	return r
}

// CatalogRouterParams groups dependencies for the catalog API router.
type CatalogRouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	Metrics        *observability.Metrics
	CatalogHandler *catalog.Handler
}

// NewCatalogRouter constructs the catalog API.
func NewCatalogRouter(params CatalogRouterParams) http.Handler {
	r := newBaseRouter(params.Logger, params.Config, params.Metrics, "catalog")

	r.Route("/catalog", params.CatalogHandler.MountFilmRoutes)
	r.Route("/genre", params.CatalogHandler.MountGenreRoutes)
	r.Route("/person", params.CatalogHandler.MountPersonRoutes)
	return r
}

func newBaseRouter(logger *slog.Logger, cfg *Config, metrics *observability.Metrics, service string) chi.Router {
	r := chi.NewRouter()
	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  logger,
		Config:  cfg,
		Metrics: metrics,
		Service: service,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", metrics.Handler())
	return r
}
