package ratelimit

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/kinoteka/kinoteka/internal/platform/httpx"
	"github.com/kinoteka/kinoteka/internal/shared"
)

// Middleware applies the limiter to authenticated requests. Anonymous
// requests pass through untouched.
func Middleware(limiter *Limiter, logger *slog.Logger) func(http.Handler) http.Handler {
	limit := strconv.FormatInt(limiter.Max(), 10)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := shared.PrincipalFromContext(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			release, err := limiter.Admit(r.Context(), principal.UserID)
			w.Header().Set("X-RateLimit-Limit", limit)
			if err != nil {
				logger.Info("rate limit exceeded", slog.String("user_id", principal.UserID), slog.String("path", r.URL.Path))
				httpx.RespondError(w, r, logger, err)
				return
			}
			defer release()
			next.ServeHTTP(w, r)
		})
	}
}
