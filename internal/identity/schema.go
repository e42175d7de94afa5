package identity

import (
	"context"
	"fmt"

	"github.com/kinoteka/kinoteka/internal/platform/db"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		login TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS roles (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS permissions (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS roles_owners (
		user_id TEXT NOT NULL REFERENCES users(id),
		role_id TEXT NOT NULL REFERENCES roles(id),
		PRIMARY KEY (user_id, role_id)
	)`,
	`CREATE TABLE IF NOT EXISTS role_permissions (
		role_id TEXT NOT NULL REFERENCES roles(id),
		permission_id TEXT NOT NULL REFERENCES permissions(id),
		PRIMARY KEY (role_id, permission_id)
	)`,
	`CREATE TABLE IF NOT EXISTS auth_events (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		fingerprint TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS auth_events_owner_idx ON auth_events (owner_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS tokens (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL REFERENCES users(id),
		value TEXT NOT NULL UNIQUE,
		used BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS tokens_owner_idx ON tokens (owner_id)`,
	`CREATE TABLE IF NOT EXISTS social_accounts (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		provider TEXT NOT NULL,
		external_id TEXT NOT NULL,
		UNIQUE (provider, external_id)
	)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		login TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS roles (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS permissions (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS roles_owners (
		user_id TEXT NOT NULL REFERENCES users(id),
		role_id TEXT NOT NULL REFERENCES roles(id),
		PRIMARY KEY (user_id, role_id)
	)`,
	`CREATE TABLE IF NOT EXISTS role_permissions (
		role_id TEXT NOT NULL REFERENCES roles(id),
		permission_id TEXT NOT NULL REFERENCES permissions(id),
		PRIMARY KEY (role_id, permission_id)
	)`,
	`CREATE TABLE IF NOT EXISTS auth_events (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		fingerprint TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS auth_events_owner_idx ON auth_events (owner_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS tokens (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL REFERENCES users(id),
		value TEXT NOT NULL UNIQUE,
		used BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL,
		expires_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS tokens_owner_idx ON tokens (owner_id)`,
	`CREATE TABLE IF NOT EXISTS social_accounts (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		provider TEXT NOT NULL,
		external_id TEXT NOT NULL,
		UNIQUE (provider, external_id)
	)`,
}

// EnsureSchema creates the identity tables when they are missing.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	stmts := postgresSchema
	if s.dialect == db.SQLite {
		stmts = sqliteSchema
	}
	for _, stmt := range stmts {
		if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("identity: ensure schema: %w", err)
		}
	}
	return nil
}
