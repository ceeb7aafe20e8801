package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/BradenHooton/keystone/internal/cache"
	"github.com/BradenHooton/keystone/internal/repositories"
)

// PermissionResolver expands roles into permissions through a policy cache
type PermissionResolver struct {
	catalog repositories.Permissions
	cache   cache.PolicyCache
	ttl     time.Duration
	logger  *slog.Logger
}

// NewPermissionResolver creates a resolver. A nil cache reads the catalog every time.
func NewPermissionResolver(catalog repositories.Permissions, policyCache cache.PolicyCache, ttl time.Duration, logger *slog.Logger) *PermissionResolver {
	return &PermissionResolver{
		catalog: catalog,
		cache:   policyCache,
		ttl:     ttl,
		logger:  logger,
	}
}

// Resolve returns the sorted union of permissions granted to roles.
// Cache failures are logged and bypassed.
func (r *PermissionResolver) Resolve(ctx context.Context, roles []string) ([]string, error) {
	if r == nil {
		return nil, nil
	}
	return r.ResolveFrom(ctx, r.catalog, roles)
}

// ResolveFrom is Resolve with cache misses read from catalog, typically the
// Permissions of the caller's transaction. A nil catalog uses the resolver's own.
func (r *PermissionResolver) ResolveFrom(ctx context.Context, catalog repositories.Permissions, roles []string) ([]string, error) {
	if r == nil || len(roles) == 0 {
		return nil, nil
	}
	if catalog == nil {
		catalog = r.catalog
	}
	if catalog == nil {
		return nil, nil
	}

	set := make(map[string]struct{})
	for _, role := range roles {
		perms, err := r.rolePermissions(ctx, catalog, role)
		if err != nil {
			return nil, err
		}
		for _, p := range perms {
			set[p] = struct{}{}
		}
	}

	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

// Grant adds a permission to a role and evicts the cached policy
func (r *PermissionResolver) Grant(ctx context.Context, role, permission string) error {
	if err := r.catalog.GrantPermission(ctx, role, permission); err != nil {
		return fmt.Errorf("failed to grant permission: %w", err)
	}
	if r.cache != nil {
		if err := r.cache.Delete(ctx, cache.RoleKey(role)); err != nil {
			r.logger.Warn("failed to evict cached policy", slog.String("role", role), slog.Any("error", err))
		}
	}
	return nil
}

func (r *PermissionResolver) rolePermissions(ctx context.Context, catalog repositories.Permissions, role string) ([]string, error) {
	key := cache.RoleKey(role)

	if r.cache != nil {
		perms, found, err := r.cache.Get(ctx, key)
		if err != nil {
			r.logger.Warn("policy cache read failed", slog.String("role", role), slog.Any("error", err))
		} else if found {
			return perms, nil
		}
	}

	perms, err := catalog.GetRolePermissions(ctx, role)
	if err != nil {
		return nil, fmt.Errorf("failed to load permissions for role %q: %w", role, err)
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, key, perms, r.ttl); err != nil {
			r.logger.Warn("policy cache write failed", slog.String("role", role), slog.Any("error", err))
		}
	}
	return perms, nil
}
