package rbac

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinoteka/kinoteka/internal/shared"
)

func TestAuthorizeRequiresSuperadmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.store.addUser("root")
	plain := f.store.addUser("plain")
	role, err := f.service.CreateRole(ctx, "superadmin")
	require.NoError(t, err)
	_, err = f.service.AssignRole(ctx, admin.ID, role.ID)
	require.NoError(t, err)

	assert.NoError(t, f.service.Authorize(ctx, admin.ID))
	assert.ErrorIs(t, f.service.Authorize(ctx, plain.ID), shared.ErrNotPermitted)
	assert.ErrorIs(t, f.service.Authorize(ctx, "missing"), shared.ErrUserNotFound)
}

func TestRoleAdministrationErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	role, err := f.service.CreateRole(ctx, "moderator")
	require.NoError(t, err)
	_, err = f.service.CreateRole(ctx, "moderator")
	assert.ErrorIs(t, err, shared.ErrRoleExists)

	other, err := f.service.CreateRole(ctx, "viewer")
	require.NoError(t, err)
	_, err = f.service.RenameRole(ctx, other.ID, "moderator")
	assert.ErrorIs(t, err, shared.ErrRoleExists)
	_, err = f.service.RenameRole(ctx, "missing", "x")
	assert.ErrorIs(t, err, shared.ErrRoleNotFound)

	renamed, err := f.service.RenameRole(ctx, role.ID, "mod")
	require.NoError(t, err)
	assert.Equal(t, "mod", renamed.Name)

	deleted, err := f.service.DeleteRole(ctx, role.ID)
	require.NoError(t, err)
	assert.Equal(t, role.ID, deleted.ID)
	_, err = f.service.DeleteRole(ctx, role.ID)
	assert.ErrorIs(t, err, shared.ErrRoleNotFound)
}

func TestPermissionAdministrationErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	perm, err := f.service.CreatePermission(ctx, "films.view")
	require.NoError(t, err)
	_, err = f.service.CreatePermission(ctx, "films.view")
	assert.ErrorIs(t, err, shared.ErrPermissionExists)
	_, err = f.service.RenamePermission(ctx, "missing", "x")
	assert.ErrorIs(t, err, shared.ErrPermissionNotFound)
	_, err = f.service.DeletePermission(ctx, "missing")
	assert.ErrorIs(t, err, shared.ErrPermissionNotFound)

	_, err = f.service.DeletePermission(ctx, perm.ID)
	require.NoError(t, err)
	perms, err := f.service.ListPermissions(ctx)
	require.NoError(t, err)
	assert.Empty(t, perms)
}

func TestGrantAndAssignErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.store.addUser("jane")
	role, _ := f.service.CreateRole(ctx, "r")
	perm, _ := f.service.CreatePermission(ctx, "p")

	_, err := f.service.GrantPermission(ctx, "missing", perm.ID)
	assert.ErrorIs(t, err, shared.ErrRoleNotFound)
	_, err = f.service.GrantPermission(ctx, role.ID, "missing")
	assert.ErrorIs(t, err, shared.ErrPermissionNotFound)
	_, err = f.service.GrantPermission(ctx, role.ID, perm.ID)
	require.NoError(t, err)
	_, err = f.service.GrantPermission(ctx, role.ID, perm.ID)
	assert.ErrorIs(t, err, shared.ErrRolePermissionExists)

	_, err = f.service.RevokePermission(ctx, role.ID, perm.ID)
	require.NoError(t, err)
	_, err = f.service.RevokePermission(ctx, role.ID, perm.ID)
	assert.ErrorIs(t, err, shared.ErrRolePermissionNotFound)

	_, err = f.service.AssignRole(ctx, "missing", role.ID)
	assert.ErrorIs(t, err, shared.ErrUserNotFound)
	_, err = f.service.AssignRole(ctx, user.ID, "missing")
	assert.ErrorIs(t, err, shared.ErrRoleNotFound)
	_, err = f.service.AssignRole(ctx, user.ID, role.ID)
	require.NoError(t, err)
	_, err = f.service.AssignRole(ctx, user.ID, role.ID)
	assert.ErrorIs(t, err, shared.ErrRoleOwnershipExists)

	_, err = f.service.RemoveRole(ctx, user.ID, role.ID)
	require.NoError(t, err)
	_, err = f.service.RemoveRole(ctx, user.ID, role.ID)
	assert.ErrorIs(t, err, shared.ErrNoRoleOwnership)
}

func TestMutationsBumpEpoch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.store.addUser("kim")
	role, _ := f.service.CreateRole(ctx, "r")
	perm, _ := f.service.CreatePermission(ctx, "p")

	epoch := func() int64 {
		n, err := f.resolver.cache.GetInt(ctx, epochKey)
		require.NoError(t, err)
		return n
	}
	start := epoch()
	_, err := f.service.GrantPermission(ctx, role.ID, perm.ID)
	require.NoError(t, err)
	_, err = f.service.AssignRole(ctx, user.ID, role.ID)
	require.NoError(t, err)
	_, err = f.service.DeletePermission(ctx, perm.ID)
	require.NoError(t, err)
	_, err = f.service.DeleteRole(ctx, role.ID)
	require.NoError(t, err)
	assert.Equal(t, start+4, epoch())
}
