// Package identity is the relational store for users, roles, permissions,
// their relations, refresh tokens and the authentication audit trail.
package identity

import (
	"errors"
	"time"
)

var (
	// ErrNotFound indicates that no row matched.
	ErrNotFound = errors.New("identity: not found")
	// ErrConflict indicates a uniqueness violation.
	ErrConflict = errors.New("identity: conflict")
)

// User is an account holder. PasswordHash is a bcrypt digest.
type User struct {
	ID           string
	Login        string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// Role groups permissions and is owned by users.
type Role struct {
	ID   string
	Name string
}

// Permission is a named capability granted through roles.
type Permission struct {
	ID   string
	Name string
}

// EventType labels an authentication transition.
type EventType string

const (
	EventLogin   EventType = "login"
	EventSignup  EventType = "signup"
	EventRefresh EventType = "refresh"
)

// AuthEvent is an append-only audit record.
type AuthEvent struct {
	ID          string
	OwnerID     string
	Type        EventType
	Fingerprint string
	At          time.Time
}

// RefreshToken is the persisted half of a token pair. At most one active row
// exists per user.
type RefreshToken struct {
	ID        string
	OwnerID   string
	Value     string
	Used      bool
	CreatedAt time.Time
	ExpiresAt time.Time
}

// SocialAccount links a user to an external OAuth identity.
type SocialAccount struct {
	ID         string
	UserID     string
	Provider   string
	ExternalID string
}
