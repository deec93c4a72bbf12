package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/arklim/superauth/internal/core/domain"
	"github.com/arklim/superauth/internal/core/port"
	"github.com/arklim/superauth/internal/repository"
)

const (
	hierarchyCacheKey       = "rbac:hierarchy"
	rolePermissionsCacheKey = "rbac:role_permissions"
	roleStatsCacheKey       = "rbac:stats"

	defaultHierarchyTTL = time.Hour
)

// RoleHierarchy serves the role catalogue ordered by privilege, read through a cache.
type RoleHierarchy struct {
	roles       port.RoleRepository
	permissions port.PermissionRepository
	cache       port.Cache
	ttl         time.Duration
	group       singleflight.Group
	logger      *zap.Logger
	now         func() time.Time
}

// NewRoleHierarchy constructs a RoleHierarchy. A nil cache disables caching.
func NewRoleHierarchy(roles port.RoleRepository, permissions port.PermissionRepository, cache port.Cache, ttl time.Duration, logger *zap.Logger) *RoleHierarchy {
	if ttl <= 0 {
		ttl = defaultHierarchyTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoleHierarchy{
		roles:       roles,
		permissions: permissions,
		cache:       cache,
		ttl:         ttl,
		logger:      logger,
		now:         time.Now,
	}
}

// WithClock overrides the time source.
func (h *RoleHierarchy) WithClock(now func() time.Time) *RoleHierarchy {
	if now != nil {
		h.now = now
	}
	return h
}

// Hierarchy returns every role ordered by level descending, then name, then ID.
func (h *RoleHierarchy) Hierarchy(ctx context.Context) ([]domain.Role, error) {
	var roles []domain.Role
	err := h.readThrough(ctx, hierarchyCacheKey, &roles, func(ctx context.Context) (any, error) {
		loaded, err := h.roles.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("list roles: %w", err)
		}
		sortHierarchy(loaded)
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	return roles, nil
}

// ActiveRoles returns roles that are active and unexpired.
func (h *RoleHierarchy) ActiveRoles(ctx context.Context) ([]domain.Role, error) {
	now := h.now()
	return h.filter(ctx, func(r domain.Role) bool { return r.IsUsable(now) })
}

// ExpiredRoles returns roles whose expiry has passed.
func (h *RoleHierarchy) ExpiredRoles(ctx context.Context) ([]domain.Role, error) {
	now := h.now()
	return h.filter(ctx, func(r domain.Role) bool { return r.IsExpired(now) })
}

// ExpiringWithin returns roles that are still valid but expire in the next days days.
func (h *RoleHierarchy) ExpiringWithin(ctx context.Context, days int) ([]domain.Role, error) {
	if days <= 0 {
		return nil, domain.ValidationError("days must be positive")
	}
	now := h.now()
	horizon := now.Add(time.Duration(days) * 24 * time.Hour)
	return h.filter(ctx, func(r domain.Role) bool {
		return r.ExpiresAt != nil && r.ExpiresAt.After(now) && !r.ExpiresAt.After(horizon)
	})
}

// RoleByID resolves a role from the cached hierarchy.
func (h *RoleHierarchy) RoleByID(ctx context.Context, id string) (domain.Role, bool, error) {
	roles, err := h.Hierarchy(ctx)
	if err != nil {
		return domain.Role{}, false, err
	}
	for _, role := range roles {
		if role.ID == id {
			return role, true, nil
		}
	}
	return domain.Role{}, false, nil
}

// RolePermissions returns role ID -> permission names.
func (h *RoleHierarchy) RolePermissions(ctx context.Context) (map[string][]string, error) {
	var grants map[string][]string
	err := h.readThrough(ctx, rolePermissionsCacheKey, &grants, func(ctx context.Context) (any, error) {
		loaded, err := h.permissions.ListRoleGrants(ctx)
		if err != nil {
			return nil, fmt.Errorf("list role grants: %w", err)
		}
		if loaded == nil {
			loaded = map[string][]string{}
		}
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	return grants, nil
}

// Stats summarises the catalogue.
func (h *RoleHierarchy) Stats(ctx context.Context) (domain.RoleStats, error) {
	var stats domain.RoleStats
	err := h.readThrough(ctx, roleStatsCacheKey, &stats, func(ctx context.Context) (any, error) {
		roles, err := h.Hierarchy(ctx)
		if err != nil {
			return nil, err
		}
		total, err := h.permissions.Count(ctx)
		if err != nil {
			return nil, fmt.Errorf("count permissions: %w", err)
		}

		now := h.now()
		computed := domain.RoleStats{TotalRoles: len(roles), TotalPermissions: total, GeneratedAt: now.UTC()}
		for _, role := range roles {
			switch {
			case role.IsExpired(now):
				computed.ExpiredRoles++
			case !role.IsActive:
				computed.InactiveRoles++
			default:
				computed.ActiveRoles++
			}
			if role.IsSystem() {
				computed.SystemRoles++
			}
		}
		return computed, nil
	})
	return stats, err
}

// Invalidate drops the hierarchy and every entry derived from it.
func (h *RoleHierarchy) Invalidate(ctx context.Context) {
	h.group.Forget(hierarchyCacheKey)
	h.group.Forget(rolePermissionsCacheKey)
	h.group.Forget(roleStatsCacheKey)

	if h.cache == nil {
		return
	}
	if err := h.cache.Delete(ctx, hierarchyCacheKey, rolePermissionsCacheKey, roleStatsCacheKey); err != nil {
		h.logger.Warn("rbac hierarchy cache invalidation failed", zap.Error(err))
	}
}

func (h *RoleHierarchy) filter(ctx context.Context, keep func(domain.Role) bool) ([]domain.Role, error) {
	roles, err := h.Hierarchy(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Role, 0, len(roles))
	for _, role := range roles {
		if keep(role) {
			out = append(out, role)
		}
	}
	return out, nil
}

// readThrough decodes key into dst, loading and caching it on a miss. Concurrent
// misses for the same key share one load.
func (h *RoleHierarchy) readThrough(ctx context.Context, key string, dst any, load func(context.Context) (any, error)) error {
	if h.cache != nil {
		raw, err := h.cache.Get(ctx, key)
		switch {
		case err == nil:
			decodeErr := json.Unmarshal([]byte(raw), dst)
			if decodeErr == nil {
				return nil
			}
			h.logger.Warn("rbac cache entry corrupt", zap.String("key", key), zap.Error(decodeErr))
		case errors.Is(err, repository.ErrNotFound):
		default:
			h.logger.Warn("rbac cache read failed", zap.String("key", key), zap.Error(err))
		}
	}

	payload, err, _ := h.group.Do(key, func() (any, error) {
		value, err := load(ctx)
		if err != nil {
			return nil, err
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", key, err)
		}
		if h.cache != nil {
			if err := h.cache.Set(ctx, key, string(encoded), h.ttl); err != nil {
				h.logger.Warn("rbac cache write failed", zap.String("key", key), zap.Error(err))
			}
		}
		return encoded, nil
	})
	if err != nil {
		return err
	}

	return json.Unmarshal(payload.([]byte), dst)
}

func sortHierarchy(roles []domain.Role) {
	sort.SliceStable(roles, func(i, j int) bool {
		if roles[i].Level != roles[j].Level {
			return roles[i].Level > roles[j].Level
		}
		if roles[i].Name != roles[j].Name {
			return roles[i].Name < roles[j].Name
		}
		return roles[i].ID < roles[j].ID
	})
}
