package shared

import "errors"

// Error is a client-facing failure with a stable machine-readable code.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// Is matches errors by code so wrapped copies compare equal.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

// WithMessage returns a copy of e carrying a more specific message.
func (e *Error) WithMessage(msg string) *Error {
	return &Error{Code: e.Code, Message: msg}
}

// Identity and authorization errors.
var (
	ErrUserNotFound           = &Error{Code: "USER_NOT_FOUND", Message: "Unknown user UUID"}
	ErrRoleNotFound           = &Error{Code: "ROLE_NOT_FOUND", Message: "Role not found"}
	ErrPermissionNotFound     = &Error{Code: "PERMISSION_NOT_FOUND", Message: "Permission with that UUID not found"}
	ErrRolePermissionNotFound = &Error{Code: "ROLE_PERMISSION_NOT_FOUND", Message: "This role doesn't have that permission"}
	ErrNoRoleOwnership        = &Error{Code: "NO_ROLE_OWNERSHIP", Message: "User has no ownership over this role"}
	ErrNotPermitted           = &Error{Code: "NOT_PERMITTED", Message: "This requires another role"}
	ErrLoginExists            = &Error{Code: "LOGIN_EXISTS", Message: "This username is already taken"}
	ErrEmailExists            = &Error{Code: "EMAIL_EXISTS", Message: "This email is already used"}
	ErrRoleExists             = &Error{Code: "ROLE_EXISTS", Message: "This role already exists"}
	ErrPermissionExists       = &Error{Code: "PERMISSION_EXISTS", Message: "This permission already exists"}
	ErrRolePermissionExists   = &Error{Code: "ROLE_PERMISSION_EXISTS", Message: "This role already has that permission"}
	ErrRoleOwnershipExists    = &Error{Code: "ROLE_OWNERSHIP_EXISTS", Message: "User already has this role"}
	ErrWrongPassword          = &Error{Code: "WRONG_PASSWORD", Message: "The password is incorrect"}
	ErrInvalidRefreshToken    = &Error{Code: "INVALID_REFRESH_TOKEN", Message: "Refresh token is invalid or has already been used"}
	ErrAccessTokenExpired     = &Error{Code: "ACCESS_TOKEN_EXPIRED", Message: "Access token has expired"}
	ErrUnauthorized           = &Error{Code: "UNAUTHORIZED", Message: "Bearer token required"}
	ErrWrongCallback          = &Error{Code: "WRONG_CALLBACK", Message: "OAuth callback could not be completed"}
	ErrTooManyRequests        = &Error{Code: "TOO_MANY_REQUESTS", Message: "API rate limit exceeded"}
	ErrNothingToModify        = &Error{Code: "NOTHING_TO_MODIFY", Message: "Provide a new username or password"}
)

// Catalog errors.
var (
	ErrNotFound     = &Error{Code: "NOT_FOUND", Message: "Film not found"}
	ErrForbidden    = &Error{Code: "FORBIDDEN", Message: "A subscription is required to view this title"}
	ErrSearchFailed = &Error{Code: "SEARCH_FAILED", Message: "Search request failed"}
)

// Transport errors.
var (
	ErrBadRequest = &Error{Code: "BAD_REQUEST", Message: "Malformed request body"}
	ErrValidation = &Error{Code: "VALIDATION_ERROR", Message: "Request validation failed"}
	ErrInternal   = &Error{Code: "INTERNAL_ERROR", Message: "Internal server error"}
)
