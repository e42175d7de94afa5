package auth

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kinoteka/kinoteka/internal/platform/httpx"
	"github.com/kinoteka/kinoteka/internal/shared"
)

// Handler wires HTTP endpoints for account and token flows.
type Handler struct {
	logger       *slog.Logger
	service      *Service
	authenticate func(http.Handler) http.Handler
	limit        func(http.Handler) http.Handler
}

// NewHandler constructs a Handler. limit is the per-user in-flight limiter
// applied after authentication.
func NewHandler(logger *slog.Logger, service *Service, limit func(http.Handler) http.Handler) *Handler {
	if limit == nil {
		limit = func(next http.Handler) http.Handler { return next }
	}
	return &Handler{
		logger:       logger,
		service:      service,
		authenticate: Authenticate(service, logger),
		limit:        limit,
	}
}

// Middleware returns the bearer authentication middleware for other handlers.
func (h *Handler) Middleware() func(http.Handler) http.Handler {
	return h.authenticate
}

// MountRoutes registers account routes on the /user router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/signup", h.signup)
	r.Post("/auth", h.login)
	r.Put("/auth", h.refresh)
	r.Group(func(r chi.Router) {
		r.Use(h.authenticate, h.limit)
		r.Post("/auth/logout", h.logout)
		r.Patch("/auth", h.modify)
		r.Get("/auth", h.history)
	})
}

type signupRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Email    string `json:"email" validate:"required,email,max=254"`
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type modifyRequest struct {
	Username *string `json:"username" validate:"omitnil,min=1,max=64"`
	Password *string `json:"password" validate:"omitnil,min=8,max=72"`
}

type historyEntry struct {
	ID          string    `json:"uuid"`
	Time        time.Time `json:"time"`
	Fingerprint string    `json:"fingerprint"`
}

func (h *Handler) signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	pair, err := h.service.Signup(r.Context(), SignupInput{Login: req.Username, Password: req.Password, Email: req.Email}, r.UserAgent())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, pair)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	pair, err := h.service.Login(r.Context(), req.Username, req.Password, r.UserAgent())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, pair)
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	token, ok := httpx.BearerToken(r)
	if !ok {
		h.fail(w, r, shared.ErrUnauthorized)
		return
	}
	pair, err := h.service.Refresh(r.Context(), token, r.UserAgent())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, pair)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	principal, _ := shared.PrincipalFromContext(r.Context())
	var req logoutRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.service.Logout(r.Context(), principal.UserID, principal.AccessToken, req.RefreshToken); err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, struct{}{})
}

func (h *Handler) modify(w http.ResponseWriter, r *http.Request) {
	principal, _ := shared.PrincipalFromContext(r.Context())
	var req modifyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.service.Modify(r.Context(), principal.UserID, ModifyInput{Login: req.Username, Password: req.Password}); err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, struct{}{})
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	principal, _ := shared.PrincipalFromContext(r.Context())
	events, err := h.service.History(r.Context(), principal.UserID, shared.PageFromRequest(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]historyEntry, 0, len(events))
	for _, e := range events {
		out = append(out, historyEntry{ID: e.ID, Time: e.At, Fingerprint: e.Fingerprint})
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	httpx.RespondError(w, r, h.logger, err)
}
