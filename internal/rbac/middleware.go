package rbac

import (
	"log/slog"
	"net/http"

	"github.com/kinoteka/kinoteka/internal/platform/httpx"
	"github.com/kinoteka/kinoteka/internal/shared"
)

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Service *Service
	Logger  *slog.Logger
}

// RequireSuperadmin ensures the authenticated caller owns the superadmin role.
// It must run after bearer authentication has placed a principal in context.
func (m Middleware) RequireSuperadmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := shared.PrincipalFromContext(r.Context())
		if !ok {
			httpx.RespondError(w, r, m.Logger, shared.ErrUnauthorized)
			return
		}
		if err := m.Service.Authorize(r.Context(), principal.UserID); err != nil {
			httpx.RespondError(w, r, m.Logger, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}
