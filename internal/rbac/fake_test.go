package rbac

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kinoteka/kinoteka/internal/identity"
	"github.com/kinoteka/kinoteka/internal/platform/cache"
)

type memStore struct {
	mu          sync.Mutex
	users       map[string]identity.User
	roles       map[string]identity.Role
	perms       map[string]identity.Permission
	owners      map[string]map[string]struct{}
	grants      map[string]map[string]struct{}
	roleLookups atomic.Int64
	// rolesGate, when set, holds ListUserRoles until closed or ctx ends.
	rolesGate chan struct{}
}

func newMemStore() *memStore {
	return &memStore{
		users:  map[string]identity.User{},
		roles:  map[string]identity.Role{},
		perms:  map[string]identity.Permission{},
		owners: map[string]map[string]struct{}{},
		grants: map[string]map[string]struct{}{},
	}
}

func (m *memStore) addUser(login string) identity.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := identity.User{ID: uuid.NewString(), Login: login}
	m.users[u.ID] = u
	return u
}

func (m *memStore) GetUser(_ context.Context, id string) (identity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return identity.User{}, identity.ErrNotFound
	}
	return u, nil
}

func (m *memStore) CreateRole(_ context.Context, name string) (identity.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.roles {
		if r.Name == name {
			return identity.Role{}, identity.ErrConflict
		}
	}
	r := identity.Role{ID: uuid.NewString(), Name: name}
	m.roles[r.ID] = r
	return r, nil
}

func (m *memStore) GetRole(_ context.Context, id string) (identity.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[id]
	if !ok {
		return identity.Role{}, identity.ErrNotFound
	}
	return r, nil
}

func (m *memStore) ListRoles(_ context.Context) ([]identity.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]identity.Role, 0, len(m.roles))
	for _, r := range m.roles {
		out = append(out, r)
	}
	return out, nil
}

func (m *memStore) RenameRole(_ context.Context, id, name string) (identity.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[id]
	if !ok {
		return identity.Role{}, identity.ErrNotFound
	}
	for _, other := range m.roles {
		if other.Name == name && other.ID != id {
			return identity.Role{}, identity.ErrConflict
		}
	}
	r.Name = name
	m.roles[id] = r
	return r, nil
}

func (m *memStore) DeleteRole(_ context.Context, id string) (identity.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[id]
	if !ok {
		return identity.Role{}, identity.ErrNotFound
	}
	delete(m.roles, id)
	delete(m.grants, id)
	for _, owned := range m.owners {
		delete(owned, id)
	}
	return r, nil
}

func (m *memStore) CreatePermission(_ context.Context, name string) (identity.Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.perms {
		if p.Name == name {
			return identity.Permission{}, identity.ErrConflict
		}
	}
	p := identity.Permission{ID: uuid.NewString(), Name: name}
	m.perms[p.ID] = p
	return p, nil
}

func (m *memStore) GetPermission(_ context.Context, id string) (identity.Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.perms[id]
	if !ok {
		return identity.Permission{}, identity.ErrNotFound
	}
	return p, nil
}

func (m *memStore) GetPermissionByName(_ context.Context, name string) (identity.Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.perms {
		if p.Name == name {
			return p, nil
		}
	}
	return identity.Permission{}, identity.ErrNotFound
}

func (m *memStore) ListPermissions(_ context.Context) ([]identity.Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]identity.Permission, 0, len(m.perms))
	for _, p := range m.perms {
		out = append(out, p)
	}
	return out, nil
}

func (m *memStore) RenamePermission(_ context.Context, id, name string) (identity.Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.perms[id]
	if !ok {
		return identity.Permission{}, identity.ErrNotFound
	}
	p.Name = name
	m.perms[id] = p
	return p, nil
}

func (m *memStore) DeletePermission(_ context.Context, id string) (identity.Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.perms[id]
	if !ok {
		return identity.Permission{}, identity.ErrNotFound
	}
	delete(m.perms, id)
	for _, granted := range m.grants {
		delete(granted, id)
	}
	return p, nil
}

func (m *memStore) AssignRole(_ context.Context, userID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[userID]; !ok {
		return identity.ErrNotFound
	}
	if _, ok := m.roles[roleID]; !ok {
		return identity.ErrNotFound
	}
	owned := m.owners[userID]
	if owned == nil {
		owned = map[string]struct{}{}
		m.owners[userID] = owned
	}
	if _, ok := owned[roleID]; ok {
		return identity.ErrConflict
	}
	owned[roleID] = struct{}{}
	return nil
}

func (m *memStore) RemoveRole(_ context.Context, userID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.owners[userID][roleID]; !ok {
		return identity.ErrNotFound
	}
	delete(m.owners[userID], roleID)
	return nil
}

func (m *memStore) ListUserRoles(ctx context.Context, userID string) ([]identity.Role, error) {
	m.roleLookups.Add(1)
	if m.rolesGate != nil {
		select {
		case <-m.rolesGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []identity.Role{}
	for id := range m.owners[userID] {
		out = append(out, m.roles[id])
	}
	return out, nil
}

func (m *memStore) GrantPermission(_ context.Context, roleID, permissionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	granted := m.grants[roleID]
	if granted == nil {
		granted = map[string]struct{}{}
		m.grants[roleID] = granted
	}
	if _, ok := granted[permissionID]; ok {
		return identity.ErrConflict
	}
	granted[permissionID] = struct{}{}
	return nil
}

func (m *memStore) RevokePermission(_ context.Context, roleID, permissionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.grants[roleID][permissionID]; !ok {
		return identity.ErrNotFound
	}
	delete(m.grants[roleID], permissionID)
	return nil
}

func (m *memStore) ListRolePermissions(_ context.Context, roleID string) ([]identity.Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []identity.Permission{}
	for id := range m.grants[roleID] {
		out = append(out, m.perms[id])
	}
	return out, nil
}

func newTestCache(t *testing.T) (*cache.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return cache.NewStore(client), mr
}
