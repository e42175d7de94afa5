package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/kinoteka/kinoteka/internal/platform/db"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLStore implements the identity store on database/sql. Queries are written
// with '?' placeholders and rebound for the configured dialect.
type SQLStore struct {
	conn    *sql.DB
	dialect db.Dialect
	now     func() time.Time
}

// NewSQLStore builds a store over an open connection.
func NewSQLStore(conn *sql.DB, dialect db.Dialect) *SQLStore {
	return &SQLStore{conn: conn, dialect: dialect, now: func() time.Time { return time.Now().UTC() }}
}

func (s *SQLStore) q(query string) string {
	return s.dialect.Rebind(query)
}

// CreateUser inserts a user, normalising login and email.
func (s *SQLStore) CreateUser(ctx context.Context, u User) (User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.Login = NormalizeLogin(u.Login)
	u.Email = NormalizeLogin(u.Email)
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}
	_, err := s.conn.ExecContext(ctx, s.q(`INSERT INTO users (id, login, email, password_hash, created_at) VALUES (?, ?, ?, ?, ?)`),
		u.ID, u.Login, u.Email, u.PasswordHash, u.CreatedAt)
	if err != nil {
		return User{}, mapWriteErr("create user", err)
	}
	return u, nil
}

const userColumns = `id, login, email, password_hash, created_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Login, &u.Email, &u.PasswordHash, &u.CreatedAt); err != nil {
		return User{}, err
	}
	return u, nil
}

func (s *SQLStore) getUserBy(ctx context.Context, column, value string) (User, error) {
	row := s.conn.QueryRowContext(ctx, s.q(`SELECT `+userColumns+` FROM users WHERE `+column+` = ?`), value)
	u, err := scanUser(row)
	if err != nil {
		return User{}, mapReadErr("get user", err)
	}
	return u, nil
}

// GetUser loads a user by id.
func (s *SQLStore) GetUser(ctx context.Context, id string) (User, error) {
	return s.getUserBy(ctx, "id", id)
}

// GetUserByLogin loads a user by login.
func (s *SQLStore) GetUserByLogin(ctx context.Context, login string) (User, error) {
	return s.getUserBy(ctx, "login", NormalizeLogin(login))
}

// GetUserByEmail loads a user by email.
func (s *SQLStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return s.getUserBy(ctx, "email", NormalizeLogin(email))
}

// UpdateUser persists login, email and password hash.
func (s *SQLStore) UpdateUser(ctx context.Context, u User) (User, error) {
	u.Login = NormalizeLogin(u.Login)
	u.Email = NormalizeLogin(u.Email)
	res, err := s.conn.ExecContext(ctx, s.q(`UPDATE users SET login = ?, email = ?, password_hash = ? WHERE id = ?`),
		u.Login, u.Email, u.PasswordHash, u.ID)
	if err != nil {
		return User{}, mapWriteErr("update user", err)
	}
	if err := expectRows(res, "update user"); err != nil {
		return User{}, err
	}
	return u, nil
}

// DeleteUser removes a user together with their relations, tokens and
// social links. Auth events are retained.
func (s *SQLStore) DeleteUser(ctx context.Context, id string) error {
	return db.WithTx(ctx, s.conn, func(tx *sql.Tx) error {
		for _, stmt := range []string{
			`DELETE FROM roles_owners WHERE user_id = ?`,
			`DELETE FROM tokens WHERE owner_id = ?`,
			`DELETE FROM social_accounts WHERE user_id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, s.q(stmt), id); err != nil {
				return fmt.Errorf("identity: delete user: %w", err)
			}
		}
		res, err := tx.ExecContext(ctx, s.q(`DELETE FROM users WHERE id = ?`), id)
		if err != nil {
			return fmt.Errorf("identity: delete user: %w", err)
		}
		return expectRows(res, "delete user")
	})
}

// CreateRole inserts a role with a unique name.
func (s *SQLStore) CreateRole(ctx context.Context, name string) (Role, error) {
	r := Role{ID: uuid.NewString(), Name: strings.TrimSpace(name)}
	if _, err := s.conn.ExecContext(ctx, s.q(`INSERT INTO roles (id, name) VALUES (?, ?)`), r.ID, r.Name); err != nil {
		return Role{}, mapWriteErr("create role", err)
	}
	return r, nil
}

// GetRole loads a role by id.
func (s *SQLStore) GetRole(ctx context.Context, id string) (Role, error) {
	var r Role
	err := s.conn.QueryRowContext(ctx, s.q(`SELECT id, name FROM roles WHERE id = ?`), id).Scan(&r.ID, &r.Name)
	if err != nil {
		return Role{}, mapReadErr("get role", err)
	}
	return r, nil
}

// GetRoleByName loads a role by name.
func (s *SQLStore) GetRoleByName(ctx context.Context, name string) (Role, error) {
	var r Role
	err := s.conn.QueryRowContext(ctx, s.q(`SELECT id, name FROM roles WHERE name = ?`), strings.TrimSpace(name)).Scan(&r.ID, &r.Name)
	if err != nil {
		return Role{}, mapReadErr("get role by name", err)
	}
	return r, nil
}

// ListRoles returns all roles ordered by name.
func (s *SQLStore) ListRoles(ctx context.Context) ([]Role, error) {
	return s.queryRoles(ctx, s.conn, `SELECT id, name FROM roles ORDER BY name`)
}

// RenameRole changes a role's name.
func (s *SQLStore) RenameRole(ctx context.Context, id, name string) (Role, error) {
	r := Role{ID: id, Name: strings.TrimSpace(name)}
	res, err := s.conn.ExecContext(ctx, s.q(`UPDATE roles SET name = ? WHERE id = ?`), r.Name, r.ID)
	if err != nil {
		return Role{}, mapWriteErr("rename role", err)
	}
	if err := expectRows(res, "rename role"); err != nil {
		return Role{}, err
	}
	return r, nil
}

// DeleteRole removes a role and every ownership and grant that references it.
func (s *SQLStore) DeleteRole(ctx context.Context, id string) (Role, error) {
	var deleted Role
	err := db.WithTx(ctx, s.conn, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, s.q(`SELECT id, name FROM roles WHERE id = ?`), id).Scan(&deleted.ID, &deleted.Name); err != nil {
			return mapReadErr("delete role", err)
		}
		for _, stmt := range []string{
			`DELETE FROM roles_owners WHERE role_id = ?`,
			`DELETE FROM role_permissions WHERE role_id = ?`,
			`DELETE FROM roles WHERE id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, s.q(stmt), id); err != nil {
				return fmt.Errorf("identity: delete role: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return Role{}, err
	}
	return deleted, nil
}

// CreatePermission inserts a permission with a unique name.
func (s *SQLStore) CreatePermission(ctx context.Context, name string) (Permission, error) {
	p := Permission{ID: uuid.NewString(), Name: strings.TrimSpace(name)}
	if _, err := s.conn.ExecContext(ctx, s.q(`INSERT INTO permissions (id, name) VALUES (?, ?)`), p.ID, p.Name); err != nil {
		return Permission{}, mapWriteErr("create permission", err)
	}
	return p, nil
}

// GetPermission loads a permission by id.
func (s *SQLStore) GetPermission(ctx context.Context, id string) (Permission, error) {
	var p Permission
	err := s.conn.QueryRowContext(ctx, s.q(`SELECT id, name FROM permissions WHERE id = ?`), id).Scan(&p.ID, &p.Name)
	if err != nil {
		return Permission{}, mapReadErr("get permission", err)
	}
	return p, nil
}

// GetPermissionByName loads a permission by name.
func (s *SQLStore) GetPermissionByName(ctx context.Context, name string) (Permission, error) {
	var p Permission
	err := s.conn.QueryRowContext(ctx, s.q(`SELECT id, name FROM permissions WHERE name = ?`), strings.TrimSpace(name)).Scan(&p.ID, &p.Name)
	if err != nil {
		return Permission{}, mapReadErr("get permission by name", err)
	}
	return p, nil
}

// ListPermissions returns all permissions ordered by name.
func (s *SQLStore) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.queryPermissions(ctx, `SELECT id, name FROM permissions ORDER BY name`)
}

// RenamePermission changes a permission's name.
func (s *SQLStore) RenamePermission(ctx context.Context, id, name string) (Permission, error) {
	p := Permission{ID: id, Name: strings.TrimSpace(name)}
	res, err := s.conn.ExecContext(ctx, s.q(`UPDATE permissions SET name = ? WHERE id = ?`), p.Name, p.ID)
	if err != nil {
		return Permission{}, mapWriteErr("rename permission", err)
	}
	if err := expectRows(res, "rename permission"); err != nil {
		return Permission{}, err
	}
	return p, nil
}

// DeletePermission removes a permission and every grant that references it.
func (s *SQLStore) DeletePermission(ctx context.Context, id string) (Permission, error) {
	var deleted Permission
	err := db.WithTx(ctx, s.conn, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, s.q(`SELECT id, name FROM permissions WHERE id = ?`), id).Scan(&deleted.ID, &deleted.Name); err != nil {
			return mapReadErr("delete permission", err)
		}
		for _, stmt := range []string{
			`DELETE FROM role_permissions WHERE permission_id = ?`,
			`DELETE FROM permissions WHERE id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, s.q(stmt), id); err != nil {
				return fmt.Errorf("identity: delete permission: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return Permission{}, err
	}
	return deleted, nil
}

// AssignRole records that a user owns a role.
func (s *SQLStore) AssignRole(ctx context.Context, userID, roleID string) error {
	_, err := s.conn.ExecContext(ctx, s.q(`INSERT INTO roles_owners (user_id, role_id) VALUES (?, ?)`), userID, roleID)
	if err != nil {
		return mapWriteErr("assign role", err)
	}
	return nil
}

// RemoveRole deletes a role ownership.
func (s *SQLStore) RemoveRole(ctx context.Context, userID, roleID string) error {
	res, err := s.conn.ExecContext(ctx, s.q(`DELETE FROM roles_owners WHERE user_id = ? AND role_id = ?`), userID, roleID)
	if err != nil {
		return fmt.Errorf("identity: remove role: %w", err)
	}
	return expectRows(res, "remove role")
}

// ListUserRoles returns the roles owned by a user.
func (s *SQLStore) ListUserRoles(ctx context.Context, userID string) ([]Role, error) {
	return s.queryRoles(ctx, s.conn, `SELECT r.id, r.name FROM roles r
		JOIN roles_owners o ON o.role_id = r.id
		WHERE o.user_id = ? ORDER BY r.name`, userID)
}

// GrantPermission records that a role grants a permission.
func (s *SQLStore) GrantPermission(ctx context.Context, roleID, permissionID string) error {
	_, err := s.conn.ExecContext(ctx, s.q(`INSERT INTO role_permissions (role_id, permission_id) VALUES (?, ?)`), roleID, permissionID)
	if err != nil {
		return mapWriteErr("grant permission", err)
	}
	return nil
}

// RevokePermission deletes a role grant.
func (s *SQLStore) RevokePermission(ctx context.Context, roleID, permissionID string) error {
	res, err := s.conn.ExecContext(ctx, s.q(`DELETE FROM role_permissions WHERE role_id = ? AND permission_id = ?`), roleID, permissionID)
	if err != nil {
		return fmt.Errorf("identity: revoke permission: %w", err)
	}
	return expectRows(res, "revoke permission")
}

// ListRolePermissions returns the permissions granted by a role.
func (s *SQLStore) ListRolePermissions(ctx context.Context, roleID string) ([]Permission, error) {
	return s.queryPermissions(ctx, `SELECT p.id, p.name FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id
		WHERE rp.role_id = ? ORDER BY p.name`, roleID)
}

// AppendAuthEvent records an authentication transition.
func (s *SQLStore) AppendAuthEvent(ctx context.Context, e AuthEvent) (AuthEvent, error) {
	if e.At.IsZero() {
		e.At = s.now()
	}
	e.At = e.At.UTC()
	if e.ID == "" {
		e.ID = ulid.MustNew(ulid.Timestamp(e.At), ulid.DefaultEntropy()).String()
	}
	_, err := s.conn.ExecContext(ctx, s.q(`INSERT INTO auth_events (id, owner_id, event_type, fingerprint, created_at) VALUES (?, ?, ?, ?, ?)`),
		e.ID, e.OwnerID, string(e.Type), e.Fingerprint, e.At)
	if err != nil {
		return AuthEvent{}, mapWriteErr("append auth event", err)
	}
	return e, nil
}

// ListAuthEvents returns a user's events, newest first.
func (s *SQLStore) ListAuthEvents(ctx context.Context, ownerID string, offset, limit int) ([]AuthEvent, error) {
	rows, err := s.conn.QueryContext(ctx, s.q(`SELECT id, owner_id, event_type, fingerprint, created_at FROM auth_events
		WHERE owner_id = ? ORDER BY id DESC LIMIT ? OFFSET ?`), ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("identity: list auth events: %w", err)
	}
	defer rows.Close()
	var events []AuthEvent
	for rows.Next() {
		var e AuthEvent
		var kind string
		if err := rows.Scan(&e.ID, &e.OwnerID, &kind, &e.Fingerprint, &e.At); err != nil {
			return nil, fmt.Errorf("identity: scan auth event: %w", err)
		}
		e.Type = EventType(kind)
		events = append(events, e)
	}
	return events, rows.Err()
}

// ReplaceRefreshToken makes t the owner's only refresh token.
func (s *SQLStore) ReplaceRefreshToken(ctx context.Context, t RefreshToken) (RefreshToken, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}
	t.Used = false
	t.CreatedAt = t.CreatedAt.UTC()
	t.ExpiresAt = t.ExpiresAt.UTC()
	err := db.WithTx(ctx, s.conn, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM tokens WHERE owner_id = ?`), t.OwnerID); err != nil {
			return fmt.Errorf("identity: supersede refresh tokens: %w", err)
		}
		_, err := tx.ExecContext(ctx, s.q(`INSERT INTO tokens (id, owner_id, value, used, created_at, expires_at) VALUES (?, ?, ?, ?, ?, ?)`),
			t.ID, t.OwnerID, t.Value, false, t.CreatedAt, t.ExpiresAt)
		if err != nil {
			return mapWriteErr("insert refresh token", err)
		}
		return nil
	})
	if err != nil {
		return RefreshToken{}, err
	}
	return t, nil
}

// ConsumeRefreshToken deletes the matching active token in one statement, so
// exactly one of several concurrent callers presenting the same value wins.
func (s *SQLStore) ConsumeRefreshToken(ctx context.Context, ownerID, value string) error {
	var id string
	err := s.conn.QueryRowContext(ctx, s.q(`DELETE FROM tokens
		WHERE owner_id = ? AND value = ? AND used = ? AND expires_at > ?
		RETURNING id`), ownerID, value, false, s.now()).Scan(&id)
	if err != nil {
		return mapReadErr("consume refresh token", err)
	}
	return nil
}

// DeleteRefreshToken removes the owner's token with the given value.
func (s *SQLStore) DeleteRefreshToken(ctx context.Context, ownerID, value string) error {
	res, err := s.conn.ExecContext(ctx, s.q(`DELETE FROM tokens WHERE owner_id = ? AND value = ?`), ownerID, value)
	if err != nil {
		return fmt.Errorf("identity: delete refresh token: %w", err)
	}
	return expectRows(res, "delete refresh token")
}

// PurgeExpiredRefreshTokens deletes tokens that expired before now.
func (s *SQLStore) PurgeExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.conn.ExecContext(ctx, s.q(`DELETE FROM tokens WHERE expires_at <= ?`), now.UTC())
	if err != nil {
		return 0, fmt.Errorf("identity: purge refresh tokens: %w", err)
	}
	return res.RowsAffected()
}

// GetSocialAccount finds the link for an external identity.
func (s *SQLStore) GetSocialAccount(ctx context.Context, provider, externalID string) (SocialAccount, error) {
	var a SocialAccount
	err := s.conn.QueryRowContext(ctx, s.q(`SELECT id, user_id, provider, external_id FROM social_accounts WHERE provider = ? AND external_id = ?`),
		provider, externalID).Scan(&a.ID, &a.UserID, &a.Provider, &a.ExternalID)
	if err != nil {
		return SocialAccount{}, mapReadErr("get social account", err)
	}
	return a, nil
}

// LinkSocialAccount stores a new external identity link.
func (s *SQLStore) LinkSocialAccount(ctx context.Context, a SocialAccount) (SocialAccount, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	_, err := s.conn.ExecContext(ctx, s.q(`INSERT INTO social_accounts (id, user_id, provider, external_id) VALUES (?, ?, ?, ?)`),
		a.ID, a.UserID, a.Provider, a.ExternalID)
	if err != nil {
		return SocialAccount{}, mapWriteErr("link social account", err)
	}
	return a, nil
}

func (s *SQLStore) queryRoles(ctx context.Context, q querier, query string, args ...any) ([]Role, error) {
	rows, err := q.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("identity: list roles: %w", err)
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var r Role
		if err := rows.Scan(&r.ID, &r.Name); err != nil {
			return nil, fmt.Errorf("identity: scan role: %w", err)
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

func (s *SQLStore) queryPermissions(ctx context.Context, query string, args ...any) ([]Permission, error) {
	rows, err := s.conn.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("identity: list permissions: %w", err)
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name); err != nil {
			return nil, fmt.Errorf("identity: scan permission: %w", err)
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

func expectRows(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("identity: %s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("identity: %s: %w", op, ErrNotFound)
	}
	return nil
}

func mapReadErr(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("identity: %s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("identity: %s: %w", op, err)
}

func mapWriteErr(op string, err error) error {
	switch {
	case isUniqueViolation(err):
		return fmt.Errorf("identity: %s: %w", op, ErrConflict)
	case isForeignKeyViolation(err):
		return fmt.Errorf("identity: %s: %w", op, ErrNotFound)
	default:
		return fmt.Errorf("identity: %s: %w", op, err)
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
		return liteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(liteErr.Error(), "UNIQUE")
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		if liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY {
			return true
		}
		return liteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(liteErr.Error(), "FOREIGN KEY")
	}
	return false
}
