// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/kinoteka/kinoteka/internal/shared"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

// StatusFor maps an error code to its HTTP status.
func StatusFor(code string) int {
	switch code {
	case shared.ErrAccessTokenExpired.Code, shared.ErrUnauthorized.Code:
		return http.StatusUnauthorized
	case shared.ErrForbidden.Code:
		return http.StatusForbidden
	case shared.ErrNotFound.Code:
		return http.StatusNotFound
	case shared.ErrValidation.Code:
		return http.StatusUnprocessableEntity
	case shared.ErrTooManyRequests.Code:
		return http.StatusTooManyRequests
	case shared.ErrSearchFailed.Code:
		return http.StatusBadGateway
	case shared.ErrInternal.Code:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// RespondError writes err as {error_code, message}. Errors outside the shared
// taxonomy are logged and reported as INTERNAL_ERROR.
func RespondError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var svcErr *shared.Error
	if !errors.As(err, &svcErr) {
		if logger != nil {
			logger.Error("unhandled error",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Any("error", err))
		}
		svcErr = shared.ErrInternal
	}
	JSON(w, StatusFor(svcErr.Code), ErrorBody{ErrorCode: svcErr.Code, Message: svcErr.Message})
}
