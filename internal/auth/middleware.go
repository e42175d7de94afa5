package auth

import (
	"log/slog"
	"net/http"

	"github.com/kinoteka/kinoteka/internal/platform/httpx"
	"github.com/kinoteka/kinoteka/internal/shared"
)

// Authenticate requires a live access token and places the caller's
// principal in the request context.
func Authenticate(svc *Service, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := httpx.BearerToken(r)
			if !ok {
				httpx.RespondError(w, r, logger, shared.ErrUnauthorized)
				return
			}
			principal, err := svc.ValidateAccess(r.Context(), token)
			if err != nil {
				httpx.RespondError(w, r, logger, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithPrincipal(r.Context(), principal)))
		})
	}
}
