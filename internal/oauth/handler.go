package oauth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kinoteka/kinoteka/internal/auth"
	"github.com/kinoteka/kinoteka/internal/platform/httpx"
	"github.com/kinoteka/kinoteka/internal/shared"
)

// Authenticator signs in a federated identity.
type Authenticator interface {
	SocialLogin(ctx context.Context, ext auth.ExternalIdentity, fingerprint string) (auth.TokenPair, error)
}

// Handler serves the OAuth redirect and callback endpoints.
type Handler struct {
	logger   *slog.Logger
	registry *Registry
	states   *StateStore
	auth     Authenticator
	timeout  time.Duration
}

// NewHandler constructs a Handler. timeout bounds each code exchange.
func NewHandler(logger *slog.Logger, registry *Registry, states *StateStore, authenticator Authenticator, timeout time.Duration) *Handler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Handler{logger: logger, registry: registry, states: states, auth: authenticator, timeout: timeout}
}

// MountRoutes registers /oauth routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.index)
	r.Get("/login/{provider}", h.login)
	r.Get("/callback/{provider}", h.callback)
}

func (h *Handler) index(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string][]string{"providers": h.registry.Names()})
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "provider")
	provider, ok := h.provider(w, r, name)
	if !ok {
		return
	}
	state, err := h.states.Issue(r.Context(), name)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	http.Redirect(w, r, provider.AuthCodeURL(state), http.StatusFound)
}

// provider resolves name or writes WRONG_CALLBACK.
func (h *Handler) provider(w http.ResponseWriter, r *http.Request, name string) (Provider, bool) {
	provider, err := h.registry.Lookup(r.Context(), name)
	switch {
	case err == nil:
		return provider, true
	case errors.Is(err, ErrUnknownProvider):
		httpx.RespondError(w, r, h.logger, shared.ErrWrongCallback.WithMessage("Unknown OAuth provider"))
	default:
		h.logger.Warn("oauth provider unavailable", slog.String("provider", name), slog.Any("error", err))
		httpx.RespondError(w, r, h.logger, shared.ErrWrongCallback)
	}
	return nil, false
}

func (h *Handler) callback(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "provider")
	provider, ok := h.provider(w, r, name)
	if !ok {
		return
	}
	q := r.URL.Query()
	if err := h.states.Consume(r.Context(), name, q.Get("state")); err != nil {
		h.logger.Warn("oauth state rejected", slog.String("provider", name), slog.Any("error", err))
		httpx.RespondError(w, r, h.logger, shared.ErrWrongCallback)
		return
	}
	code := q.Get("code")
	if code == "" {
		httpx.RespondError(w, r, h.logger, shared.ErrWrongCallback)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	ident, err := provider.Exchange(ctx, code)
	if err != nil {
		h.logger.Warn("oauth exchange failed", slog.String("provider", name), slog.Any("error", err))
		httpx.RespondError(w, r, h.logger, shared.ErrWrongCallback)
		return
	}

	pair, err := h.auth.SocialLogin(r.Context(), auth.ExternalIdentity{
		Provider:   ident.Provider,
		ExternalID: ident.ExternalID,
		Email:      ident.Email,
	}, r.UserAgent())
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, pair)
}
