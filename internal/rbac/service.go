package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kinoteka/kinoteka/internal/identity"
	"github.com/kinoteka/kinoteka/internal/shared"
)

// AdminStore is the slice of the identity store used for administration.
type AdminStore interface {
	GetUser(ctx context.Context, id string) (identity.User, error)
	ListUserRoles(ctx context.Context, userID string) ([]identity.Role, error)

	CreateRole(ctx context.Context, name string) (identity.Role, error)
	GetRole(ctx context.Context, id string) (identity.Role, error)
	ListRoles(ctx context.Context) ([]identity.Role, error)
	RenameRole(ctx context.Context, id, name string) (identity.Role, error)
	DeleteRole(ctx context.Context, id string) (identity.Role, error)

	CreatePermission(ctx context.Context, name string) (identity.Permission, error)
	GetPermission(ctx context.Context, id string) (identity.Permission, error)
	ListPermissions(ctx context.Context) ([]identity.Permission, error)
	RenamePermission(ctx context.Context, id, name string) (identity.Permission, error)
	DeletePermission(ctx context.Context, id string) (identity.Permission, error)

	AssignRole(ctx context.Context, userID, roleID string) error
	RemoveRole(ctx context.Context, userID, roleID string) error
	GrantPermission(ctx context.Context, roleID, permissionID string) error
	RevokePermission(ctx context.Context, roleID, permissionID string) error
	ListRolePermissions(ctx context.Context, roleID string) ([]identity.Permission, error)
}

// Service orchestrates role, permission and assignment administration.
type Service struct {
	store          AdminStore
	resolver       *Resolver
	superadminRole string
	logger         *slog.Logger
}

// NewService constructs a Service.
func NewService(store AdminStore, resolver *Resolver, superadminRole string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, resolver: resolver, superadminRole: superadminRole, logger: logger}
}

// Authorize requires the actor to own the superadmin role.
func (s *Service) Authorize(ctx context.Context, actorID string) error {
	if _, err := s.store.GetUser(ctx, actorID); err != nil {
		return mapNotFound(err, shared.ErrUserNotFound)
	}
	roles, err := s.store.ListUserRoles(ctx, actorID)
	if err != nil {
		return fmt.Errorf("rbac: authorize: %w", err)
	}
	for _, r := range roles {
		if r.Name == s.superadminRole {
			return nil
		}
	}
	return shared.ErrNotPermitted
}

// ListRoles returns every role.
func (s *Service) ListRoles(ctx context.Context) ([]identity.Role, error) {
	return s.store.ListRoles(ctx)
}

// CreateRole adds a role with a unique name.
func (s *Service) CreateRole(ctx context.Context, name string) (identity.Role, error) {
	role, err := s.store.CreateRole(ctx, name)
	if errors.Is(err, identity.ErrConflict) {
		return identity.Role{}, shared.ErrRoleExists
	}
	return role, err
}

// RenameRole changes a role's name.
func (s *Service) RenameRole(ctx context.Context, id, name string) (identity.Role, error) {
	role, err := s.store.RenameRole(ctx, id, name)
	switch {
	case errors.Is(err, identity.ErrNotFound):
		return identity.Role{}, shared.ErrRoleNotFound
	case errors.Is(err, identity.ErrConflict):
		return identity.Role{}, shared.ErrRoleExists
	}
	return role, err
}

// DeleteRole removes a role along with its ownerships and grants.
func (s *Service) DeleteRole(ctx context.Context, id string) (identity.Role, error) {
	role, err := s.store.DeleteRole(ctx, id)
	if err != nil {
		return identity.Role{}, mapNotFound(err, shared.ErrRoleNotFound)
	}
	s.invalidate(ctx, "delete role")
	return role, nil
}

// ListPermissions returns every permission.
func (s *Service) ListPermissions(ctx context.Context) ([]identity.Permission, error) {
	return s.store.ListPermissions(ctx)
}

// CreatePermission adds a permission with a unique name.
func (s *Service) CreatePermission(ctx context.Context, name string) (identity.Permission, error) {
	perm, err := s.store.CreatePermission(ctx, name)
	if errors.Is(err, identity.ErrConflict) {
		return identity.Permission{}, shared.ErrPermissionExists
	}
	return perm, err
}

// RenamePermission changes a permission's name.
func (s *Service) RenamePermission(ctx context.Context, id, name string) (identity.Permission, error) {
	perm, err := s.store.RenamePermission(ctx, id, name)
	switch {
	case errors.Is(err, identity.ErrNotFound):
		return identity.Permission{}, shared.ErrPermissionNotFound
	case errors.Is(err, identity.ErrConflict):
		return identity.Permission{}, shared.ErrPermissionExists
	}
	if err == nil {
		// the subscriber lookup is keyed by name
		s.invalidate(ctx, "rename permission")
	}
	return perm, err
}

// DeletePermission removes a permission along with its grants.
func (s *Service) DeletePermission(ctx context.Context, id string) (identity.Permission, error) {
	perm, err := s.store.DeletePermission(ctx, id)
	if err != nil {
		return identity.Permission{}, mapNotFound(err, shared.ErrPermissionNotFound)
	}
	s.invalidate(ctx, "delete permission")
	return perm, nil
}

// RolePermissions lists what a role grants.
func (s *Service) RolePermissions(ctx context.Context, roleID string) ([]identity.Permission, error) {
	if _, err := s.store.GetRole(ctx, roleID); err != nil {
		return nil, mapNotFound(err, shared.ErrRoleNotFound)
	}
	return s.store.ListRolePermissions(ctx, roleID)
}

// GrantPermission adds a permission to a role.
func (s *Service) GrantPermission(ctx context.Context, roleID, permissionID string) (identity.Permission, error) {
	if _, err := s.store.GetRole(ctx, roleID); err != nil {
		return identity.Permission{}, mapNotFound(err, shared.ErrRoleNotFound)
	}
	perm, err := s.store.GetPermission(ctx, permissionID)
	if err != nil {
		return identity.Permission{}, mapNotFound(err, shared.ErrPermissionNotFound)
	}
	if err := s.store.GrantPermission(ctx, roleID, permissionID); err != nil {
		if errors.Is(err, identity.ErrConflict) {
			return identity.Permission{}, shared.ErrRolePermissionExists
		}
		return identity.Permission{}, err
	}
	s.invalidate(ctx, "grant permission")
	return perm, nil
}

// RevokePermission removes a permission from a role.
func (s *Service) RevokePermission(ctx context.Context, roleID, permissionID string) (identity.Permission, error) {
	perm, err := s.store.GetPermission(ctx, permissionID)
	if err != nil {
		return identity.Permission{}, mapNotFound(err, shared.ErrPermissionNotFound)
	}
	if err := s.store.RevokePermission(ctx, roleID, permissionID); err != nil {
		return identity.Permission{}, mapNotFound(err, shared.ErrRolePermissionNotFound)
	}
	s.invalidate(ctx, "revoke permission")
	return perm, nil
}

// AssignRole gives a role to a user.
func (s *Service) AssignRole(ctx context.Context, userID, roleID string) (identity.Role, error) {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return identity.Role{}, mapNotFound(err, shared.ErrUserNotFound)
	}
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return identity.Role{}, mapNotFound(err, shared.ErrRoleNotFound)
	}
	if err := s.store.AssignRole(ctx, userID, roleID); err != nil {
		if errors.Is(err, identity.ErrConflict) {
			return identity.Role{}, shared.ErrRoleOwnershipExists
		}
		return identity.Role{}, err
	}
	s.invalidate(ctx, "assign role")
	return role, nil
}

// RemoveRole takes a role away from a user.
func (s *Service) RemoveRole(ctx context.Context, userID, roleID string) (identity.Role, error) {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return identity.Role{}, mapNotFound(err, shared.ErrUserNotFound)
	}
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return identity.Role{}, mapNotFound(err, shared.ErrRoleNotFound)
	}
	if err := s.store.RemoveRole(ctx, userID, roleID); err != nil {
		return identity.Role{}, mapNotFound(err, shared.ErrNoRoleOwnership)
	}
	s.invalidate(ctx, "remove role")
	return role, nil
}

// UserRoles lists the roles a user owns.
func (s *Service) UserRoles(ctx context.Context, userID string) ([]identity.Role, error) {
	return s.resolver.ListRoles(ctx, userID)
}

// UserPermissions lists the permissions a user reaches through their roles.
func (s *Service) UserPermissions(ctx context.Context, userID string) ([]identity.Permission, error) {
	return s.resolver.ListPermissions(ctx, userID)
}

// CheckPermission answers a single membership query through the decision cache.
func (s *Service) CheckPermission(ctx context.Context, userID, permissionID string) (bool, error) {
	return s.resolver.HasPermission(ctx, userID, permissionID)
}

// IsSubscriber reports subscriber status for the catalog.
func (s *Service) IsSubscriber(ctx context.Context, userID string) (bool, error) {
	return s.resolver.IsSubscriber(ctx, userID)
}

// invalidate bumps the decision epoch. A failure is logged and the mutation
// stands; cached decisions then lapse at their TTL.
func (s *Service) invalidate(ctx context.Context, op string) {
	if err := s.resolver.Invalidate(ctx); err != nil {
		s.logger.Warn("permission cache invalidation failed", slog.String("op", op), slog.Any("error", err))
	}
}

func mapNotFound(err error, notFound *shared.Error) error {
	if errors.Is(err, identity.ErrNotFound) {
		return notFound
	}
	return err
}
