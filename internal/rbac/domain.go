package rbac

import "github.com/kinoteka/kinoteka/internal/identity"

// RoleView is the wire shape of a role.
type RoleView struct {
	ID   string `json:"uuid"`
	Name string `json:"role_name"`
}

// PermissionView is the wire shape of a permission.
type PermissionView struct {
	ID   string `json:"uuid"`
	Name string `json:"permission_name"`
}

// CheckView answers a single-permission membership query.
type CheckView struct {
	UserID       string `json:"user_uuid"`
	PermissionID string `json:"permission_uuid"`
	IsPermitted  bool   `json:"is_permitted"`
}

// SubscriptionView tells the catalog whether rating limits apply.
type SubscriptionView struct {
	UserID       string `json:"user_uuid"`
	IsSubscriber bool   `json:"is_subscriber"`
}

func toRoleView(r identity.Role) RoleView {
	return RoleView{ID: r.ID, Name: r.Name}
}

func toRoleViews(roles []identity.Role) []RoleView {
	out := make([]RoleView, 0, len(roles))
	for _, r := range roles {
		out = append(out, toRoleView(r))
	}
	return out
}

func toPermissionView(p identity.Permission) PermissionView {
	return PermissionView{ID: p.ID, Name: p.Name}
}

func toPermissionViews(perms []identity.Permission) []PermissionView {
	out := make([]PermissionView, 0, len(perms))
	for _, p := range perms {
		out = append(out, toPermissionView(p))
	}
	return out
}

type roleRequest struct {
	Name string `json:"role_name" validate:"required,max=64"`
}

type permissionRequest struct {
	Name string `json:"permission_name" validate:"required,max=64"`
}

type assignRoleRequest struct {
	RoleID string `json:"role_uuid" validate:"required"`
}

type grantPermissionRequest struct {
	PermissionID string `json:"permission_uuid" validate:"required"`
}
