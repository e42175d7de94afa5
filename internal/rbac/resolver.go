package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kinoteka/kinoteka/internal/identity"
	"github.com/kinoteka/kinoteka/internal/platform/cache"
	"github.com/kinoteka/kinoteka/internal/shared"
)

const (
	epochKey = "perm:epoch"

	decisionGranted = "accepted"
	decisionDenied  = "denied"

	// sharedResolveTimeout bounds a traversal shared by concurrent callers.
	sharedResolveTimeout = 5 * time.Second
)

// Store is the read side of the identity store used for resolution.
type Store interface {
	GetUser(ctx context.Context, id string) (identity.User, error)
	GetPermission(ctx context.Context, id string) (identity.Permission, error)
	GetPermissionByName(ctx context.Context, name string) (identity.Permission, error)
	ListUserRoles(ctx context.Context, userID string) ([]identity.Role, error)
	ListRolePermissions(ctx context.Context, roleID string) ([]identity.Permission, error)
}

// ResolverConfig collects Resolver dependencies.
type ResolverConfig struct {
	Store                Store
	Cache                *cache.Store
	TTL                  time.Duration
	SubscriberPermission string
	Logger               *slog.Logger
	Metrics              *Metrics
}

// Resolver answers "does user U hold permission P" by traversing role
// ownership and role grants, caching each decision under the current epoch.
// Mutations bump the epoch so later reads never see a pre-mutation answer.
type Resolver struct {
	store      Store
	cache      *cache.Store
	ttl        time.Duration
	subscriber string
	logger     *slog.Logger
	metrics    *Metrics
	group      singleflight.Group
}

// NewResolver constructs a Resolver.
func NewResolver(cfg ResolverConfig) *Resolver {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Resolver{
		store:      cfg.Store,
		cache:      cfg.Cache,
		ttl:        ttl,
		subscriber: cfg.SubscriberPermission,
		logger:     logger,
		metrics:    cfg.Metrics,
	}
}

func decisionKey(epoch int64, userID, permissionID string) string {
	return "perm:v" + strconv.FormatInt(epoch, 10) + ":" + userID + ":" + permissionID
}

func permissionNameKey(epoch int64, name string) string {
	return "perm:v" + strconv.FormatInt(epoch, 10) + ":name:" + name
}

// HasPermission reports whether the user holds the permission through any of
// their roles. Unknown users and permissions are errors, never a silent false.
func (r *Resolver) HasPermission(ctx context.Context, userID, permissionID string) (bool, error) {
	epoch, cacheOK := r.epoch(ctx)
	if !cacheOK {
		return r.resolve(ctx, userID, permissionID)
	}

	key := decisionKey(epoch, userID, permissionID)
	cached, err := r.cache.Get(ctx, key)
	switch {
	case err == nil:
		r.metrics.hit("decision")
		return cached == decisionGranted, nil
	case errors.Is(err, cache.ErrMiss):
		r.metrics.miss("decision")
	default:
		r.logger.Warn("permission cache read failed", slog.String("key", key), slog.Any("error", err))
		return r.resolve(ctx, userID, permissionID)
	}

	result := r.group.DoChan(key, func() (interface{}, error) {
		// Detached so one caller going away does not fail the others.
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedResolveTimeout)
		defer cancel()
		granted, err := r.resolve(flightCtx, userID, permissionID)
		if err != nil {
			return false, err
		}
		value := decisionDenied
		if granted {
			value = decisionGranted
		}
		if err := r.cache.Set(flightCtx, key, value, r.ttl); err != nil {
			r.logger.Warn("permission cache write failed", slog.String("key", key), slog.Any("error", err))
		}
		return granted, nil
	})
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case res := <-result:
		if res.Err != nil {
			return false, res.Err
		}
		return res.Val.(bool), nil
	}
}

func (r *Resolver) resolve(ctx context.Context, userID, permissionID string) (bool, error) {
	if err := r.requireUser(ctx, userID); err != nil {
		return false, err
	}
	if _, err := r.store.GetPermission(ctx, permissionID); err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return false, shared.ErrPermissionNotFound
		}
		return false, fmt.Errorf("rbac: get permission: %w", err)
	}
	granted, err := r.effectivePermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	_, ok := granted[permissionID]
	return ok, nil
}

// ListPermissions returns the deduplicated set of permissions a user reaches
// through all of their roles, ordered by name. It bypasses the decision cache.
func (r *Resolver) ListPermissions(ctx context.Context, userID string) ([]identity.Permission, error) {
	if err := r.requireUser(ctx, userID); err != nil {
		return nil, err
	}
	granted, err := r.effectivePermissions(ctx, userID)
	if err != nil {
		return nil, err
	}
	perms := make([]identity.Permission, 0, len(granted))
	for _, p := range granted {
		perms = append(perms, p)
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].Name < perms[j].Name })
	return perms, nil
}

// ListRoles returns the roles a user owns.
func (r *Resolver) ListRoles(ctx context.Context, userID string) ([]identity.Role, error) {
	if err := r.requireUser(ctx, userID); err != nil {
		return nil, err
	}
	roles, err := r.store.ListUserRoles(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("rbac: list user roles: %w", err)
	}
	seen := make(map[string]struct{}, len(roles))
	unique := make([]identity.Role, 0, len(roles))
	for _, role := range roles {
		if _, ok := seen[role.ID]; ok {
			continue
		}
		seen[role.ID] = struct{}{}
		unique = append(unique, role)
	}
	return unique, nil
}

// IsSubscriber reports whether the user holds the subscriber permission. A
// deployment without that permission has no subscribers.
func (r *Resolver) IsSubscriber(ctx context.Context, userID string) (bool, error) {
	if r.subscriber == "" {
		return false, nil
	}
	permID, err := r.permissionID(ctx, r.subscriber)
	if errors.Is(err, identity.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return r.HasPermission(ctx, userID, permID)
}

// Invalidate moves every cached decision out of reach.
func (r *Resolver) Invalidate(ctx context.Context) error {
	if r.cache == nil {
		return nil
	}
	if _, err := r.cache.Incr(ctx, epochKey); err != nil {
		return fmt.Errorf("rbac: bump epoch: %w", err)
	}
	return nil
}

func (r *Resolver) permissionID(ctx context.Context, name string) (string, error) {
	epoch, cacheOK := r.epoch(ctx)
	if cacheOK {
		if id, err := r.cache.Get(ctx, permissionNameKey(epoch, name)); err == nil {
			r.metrics.hit("permission_name")
			return id, nil
		}
		r.metrics.miss("permission_name")
	}
	perm, err := r.store.GetPermissionByName(ctx, name)
	if err != nil {
		return "", err
	}
	if cacheOK {
		if err := r.cache.Set(ctx, permissionNameKey(epoch, name), perm.ID, r.ttl); err != nil {
			r.logger.Warn("permission name cache write failed", slog.Any("error", err))
		}
	}
	return perm.ID, nil
}

func (r *Resolver) requireUser(ctx context.Context, userID string) error {
	if _, err := r.store.GetUser(ctx, userID); err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return shared.ErrUserNotFound
		}
		return fmt.Errorf("rbac: get user: %w", err)
	}
	return nil
}

func (r *Resolver) effectivePermissions(ctx context.Context, userID string) (map[string]identity.Permission, error) {
	roles, err := r.store.ListUserRoles(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("rbac: list user roles: %w", err)
	}
	granted := make(map[string]identity.Permission)
	for _, role := range roles {
		perms, err := r.store.ListRolePermissions(ctx, role.ID)
		if err != nil {
			return nil, fmt.Errorf("rbac: list role permissions: %w", err)
		}
		for _, p := range perms {
			granted[p.ID] = p
		}
	}
	return granted, nil
}

// epoch returns the current decision generation; ok is false when the cache
// is unavailable and decisions must bypass it.
func (r *Resolver) epoch(ctx context.Context) (int64, bool) {
	if r.cache == nil {
		return 0, false
	}
	n, err := r.cache.GetInt(ctx, epochKey)
	if err != nil {
		r.logger.Warn("permission epoch read failed", slog.Any("error", err))
		return 0, false
	}
	return n, true
}
