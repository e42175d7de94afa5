package rbac

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kinoteka/kinoteka/internal/platform/httpx"
	"github.com/kinoteka/kinoteka/internal/shared"
)

// Handler serves role, permission and assignment endpoints.
type Handler struct {
	logger       *slog.Logger
	service      *Service
	rbac         Middleware
	authenticate func(http.Handler) http.Handler
	limit        func(http.Handler) http.Handler
}

// NewHandler builds a Handler. authenticate must place a shared.Principal in
// the request context; limit is the per-user in-flight limiter.
func NewHandler(logger *slog.Logger, service *Service, authenticate, limit func(http.Handler) http.Handler) *Handler {
	if limit == nil {
		limit = passthrough
	}
	return &Handler{
		logger:       logger,
		service:      service,
		rbac:         Middleware{Service: service, Logger: logger},
		authenticate: authenticate,
		limit:        limit,
	}
}

func passthrough(next http.Handler) http.Handler { return next }

// MountRoleRoutes registers /role routes.
func (h *Handler) MountRoleRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.authenticate, h.limit, h.rbac.RequireSuperadmin)
		r.Get("/", h.listRoles)
		r.Post("/", h.createRole)
		r.Patch("/{id}", h.renameRole)
		r.Delete("/{id}", h.deleteRole)
		r.Get("/{id}/permissions", h.listRolePermissions)
		r.Post("/{id}/permissions", h.grantPermission)
		r.Delete("/{id}/permissions/{perm_id}", h.revokePermission)
	})
}

// MountPermissionRoutes registers /permission routes.
func (h *Handler) MountPermissionRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.authenticate, h.limit, h.rbac.RequireSuperadmin)
		r.Get("/", h.listPermissions)
		r.Post("/", h.createPermission)
		r.Patch("/{id}", h.renamePermission)
		r.Delete("/{id}", h.deletePermission)
	})
}

// MountUserRoutes registers the role and permission routes under /user.
func (h *Handler) MountUserRoutes(r chi.Router) {
	// Membership checks answer a boolean only and stay open to other services.
	r.Get("/{id}/permissions/{perm_id}", h.checkPermission)

	r.Group(func(r chi.Router) {
		r.Use(h.authenticate)
		r.Get("/me/subscription", h.subscription)
		r.With(h.limit).Get("/me/roles", h.myRoles)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.authenticate, h.limit, h.rbac.RequireSuperadmin)
		r.Get("/{id}/roles", h.listUserRoles)
		r.Post("/{id}/roles", h.assignRole)
		r.Delete("/{id}/roles/{role_id}", h.removeRole)
		r.Get("/{id}/permissions", h.listUserPermissions)
	})
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRoleViews(roles))
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	role, err := h.service.CreateRole(r.Context(), req.Name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRoleView(role))
}

func (h *Handler) renameRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	role, err := h.service.RenameRole(r.Context(), chi.URLParam(r, "id"), req.Name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRoleView(role))
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	role, err := h.service.DeleteRole(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRoleView(role))
}

func (h *Handler) listRolePermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.RolePermissions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPermissionViews(perms))
}

func (h *Handler) grantPermission(w http.ResponseWriter, r *http.Request) {
	var req grantPermissionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	perm, err := h.service.GrantPermission(r.Context(), chi.URLParam(r, "id"), req.PermissionID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPermissionView(perm))
}

func (h *Handler) revokePermission(w http.ResponseWriter, r *http.Request) {
	perm, err := h.service.RevokePermission(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "perm_id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPermissionView(perm))
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPermissionViews(perms))
}

func (h *Handler) createPermission(w http.ResponseWriter, r *http.Request) {
	var req permissionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	perm, err := h.service.CreatePermission(r.Context(), req.Name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPermissionView(perm))
}

func (h *Handler) renamePermission(w http.ResponseWriter, r *http.Request) {
	var req permissionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	perm, err := h.service.RenamePermission(r.Context(), chi.URLParam(r, "id"), req.Name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPermissionView(perm))
}

func (h *Handler) deletePermission(w http.ResponseWriter, r *http.Request) {
	perm, err := h.service.DeletePermission(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPermissionView(perm))
}

func (h *Handler) listUserRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.UserRoles(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRoleViews(roles))
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	var req assignRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	role, err := h.service.AssignRole(r.Context(), chi.URLParam(r, "id"), req.RoleID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRoleView(role))
}

func (h *Handler) removeRole(w http.ResponseWriter, r *http.Request) {
	role, err := h.service.RemoveRole(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "role_id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRoleView(role))
}

func (h *Handler) listUserPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.UserPermissions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPermissionViews(perms))
}

func (h *Handler) checkPermission(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	permID := chi.URLParam(r, "perm_id")
	ok, err := h.service.CheckPermission(r.Context(), userID, permID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, CheckView{UserID: userID, PermissionID: permID, IsPermitted: ok})
}

func (h *Handler) myRoles(w http.ResponseWriter, r *http.Request) {
	principal, _ := shared.PrincipalFromContext(r.Context())
	roles, err := h.service.UserRoles(r.Context(), principal.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRoleViews(roles))
}

func (h *Handler) subscription(w http.ResponseWriter, r *http.Request) {
	principal, _ := shared.PrincipalFromContext(r.Context())
	ok, err := h.service.IsSubscriber(r.Context(), principal.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, SubscriptionView{UserID: principal.UserID, IsSubscriber: ok})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	httpx.RespondError(w, r, h.logger, err)
}
