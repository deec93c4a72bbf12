package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/superauth/internal/core/domain"
	"github.com/arklim/superauth/internal/core/port"
	"github.com/arklim/superauth/internal/infra/telemetry"
	"github.com/arklim/superauth/internal/repository"
)

const (
	userAuthorizationKeyPrefix = "rbac:user:"
	defaultUserSnapshotTTL     = 15 * time.Minute
)

// userSnapshot is the cached per-user input to authorization decisions. Activeness
// is evaluated on read so a cached snapshot never outlives an expiry.
type userSnapshot struct {
	Assignments []domain.UserRole `json:"assignments"`
	Direct      []string          `json:"direct"`
}

// UserAuthorization describes what a user currently holds.
type UserAuthorization struct {
	UserID      string                  `json:"user_id"`
	Roles       []domain.RoleAssignment `json:"roles"`
	Permissions []string                `json:"permissions"`
	HighestRole *domain.Role            `json:"highest_role,omitempty"`
}

// Authorizer answers role and permission checks. Failures are logged and resolve to deny.
type Authorizer struct {
	hierarchy   *RoleHierarchy
	assignments port.RoleAssignmentRepository
	permissions port.PermissionRepository
	cache       port.Cache
	guard       string
	ttl         time.Duration
	metrics     *telemetry.DomainMetrics
	logger      *zap.Logger
	now         func() time.Time
}

// AuthorizerOptions tunes an Authorizer.
type AuthorizerOptions struct {
	Guard   string
	TTL     time.Duration
	Metrics *telemetry.DomainMetrics
	Logger  *zap.Logger
}

// NewAuthorizer constructs an Authorizer. A nil cache disables snapshot caching.
func NewAuthorizer(hierarchy *RoleHierarchy, assignments port.RoleAssignmentRepository, permissions port.PermissionRepository, cache port.Cache, opts AuthorizerOptions) *Authorizer {
	if opts.Guard == "" {
		opts.Guard = domain.DefaultGuard
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultUserSnapshotTTL
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Authorizer{
		hierarchy:   hierarchy,
		assignments: assignments,
		permissions: permissions,
		cache:       cache,
		guard:       opts.Guard,
		ttl:         opts.TTL,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		now:         time.Now,
	}
}

// WithClock overrides the time source.
func (a *Authorizer) WithClock(now func() time.Time) *Authorizer {
	if now != nil {
		a.now = now
	}
	return a
}

// HasRole reports whether the user holds an active edge to roleName.
func (a *Authorizer) HasRole(ctx context.Context, userID, roleName string) bool {
	allowed := a.hasAnyRole(ctx, userID, []string{roleName})
	a.metrics.ObserveAuthorization("role", allowed)
	return allowed
}

// HasAnyRole reports whether the user holds at least one of roleNames.
func (a *Authorizer) HasAnyRole(ctx context.Context, userID string, roleNames ...string) bool {
	allowed := a.hasAnyRole(ctx, userID, roleNames)
	a.metrics.ObserveAuthorization("any_role", allowed)
	return allowed
}

// HasPermission reports whether the user holds permission directly or through an active role.
func (a *Authorizer) HasPermission(ctx context.Context, userID, permission string) bool {
	allowed := a.hasAllPermissions(ctx, userID, []string{permission})
	a.metrics.ObserveAuthorization("permission", allowed)
	return allowed
}

// HasAllPermissions reports whether the user holds every permission. An empty list denies.
func (a *Authorizer) HasAllPermissions(ctx context.Context, userID string, permissions ...string) bool {
	allowed := a.hasAllPermissions(ctx, userID, permissions)
	a.metrics.ObserveAuthorization("all_permissions", allowed)
	return allowed
}

// HighestActiveRole returns the user's most privileged active role.
func (a *Authorizer) HighestActiveRole(ctx context.Context, userID string) (domain.Role, bool) {
	active, err := a.activeAssignments(ctx, userID)
	if err != nil {
		a.logDenied(userID, "highest_role", err)
		return domain.Role{}, false
	}
	return highestRole(active)
}

// CanAccessRole reports whether the actor's highest level reaches the target level.
func (a *Authorizer) CanAccessRole(ctx context.Context, actorID string, target domain.Role) bool {
	highest, ok := a.HighestActiveRole(ctx, actorID)
	allowed := ok && highest.Level >= target.Level
	a.metrics.ObserveAuthorization("access_role", allowed)
	return allowed
}

// CanManageRole reports whether the actor strictly outranks the target.
func (a *Authorizer) CanManageRole(ctx context.Context, actorID string, target domain.Role) bool {
	highest, ok := a.HighestActiveRole(ctx, actorID)
	allowed := ok && highest.Level > target.Level
	a.metrics.ObserveAuthorization("manage_role", allowed)
	return allowed
}

// Authorize accepts either a permission name or a role name.
func (a *Authorizer) Authorize(ctx context.Context, userID, permissionOrRole string) bool {
	name := strings.TrimSpace(permissionOrRole)
	allowed := a.hasAllPermissions(ctx, userID, []string{name}) || a.hasAnyRole(ctx, userID, []string{name})
	a.metrics.ObserveAuthorization("authorize", allowed)
	return allowed
}

// UserAuthorization reports the user's active roles and effective permissions.
func (a *Authorizer) UserAuthorization(ctx context.Context, userID string) (UserAuthorization, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return UserAuthorization{}, domain.ValidationError("user id is required")
	}

	active, err := a.activeAssignments(ctx, userID)
	if err != nil {
		return UserAuthorization{}, err
	}
	granted, err := a.effectivePermissions(ctx, userID, active)
	if err != nil {
		return UserAuthorization{}, err
	}

	names := make([]string, 0, len(granted))
	for name := range granted {
		names = append(names, name)
	}
	sort.Strings(names)

	result := UserAuthorization{UserID: userID, Roles: active, Permissions: names}
	if role, ok := highestRole(active); ok {
		result.HighestRole = &role
	}
	return result, nil
}

// InvalidateUser drops the cached snapshot for userID.
func (a *Authorizer) InvalidateUser(ctx context.Context, userID string) {
	if a.cache == nil || strings.TrimSpace(userID) == "" {
		return
	}
	if err := a.cache.Delete(ctx, userAuthorizationKeyPrefix+userID); err != nil {
		a.logger.Warn("rbac user cache invalidation failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (a *Authorizer) hasAnyRole(ctx context.Context, userID string, roleNames []string) bool {
	wanted := make(map[string]struct{}, len(roleNames))
	for _, name := range roleNames {
		if name = strings.TrimSpace(name); name != "" {
			wanted[name] = struct{}{}
		}
	}
	if len(wanted) == 0 || strings.TrimSpace(userID) == "" {
		return false
	}

	active, err := a.activeAssignments(ctx, userID)
	if err != nil {
		a.logDenied(userID, "role", err)
		return false
	}
	for _, assignment := range active {
		if _, ok := wanted[assignment.Role.Name]; ok {
			return true
		}
	}
	return false
}

func (a *Authorizer) hasAllPermissions(ctx context.Context, userID string, permissions []string) bool {
	if len(permissions) == 0 || strings.TrimSpace(userID) == "" {
		return false
	}
	for _, p := range permissions {
		if strings.TrimSpace(p) == "" {
			return false
		}
	}

	active, err := a.activeAssignments(ctx, userID)
	if err != nil {
		a.logDenied(userID, "permission", err)
		return false
	}
	granted, err := a.effectivePermissions(ctx, userID, active)
	if err != nil {
		a.logDenied(userID, "permission", err)
		return false
	}
	for _, p := range permissions {
		if _, ok := granted[strings.TrimSpace(p)]; !ok {
			return false
		}
	}
	return true
}

func (a *Authorizer) activeAssignments(ctx context.Context, userID string) ([]domain.RoleAssignment, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, nil
	}

	snapshot, err := a.snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}

	if len(snapshot.Assignments) == 0 {
		return nil, nil
	}

	roles, err := a.hierarchy.Hierarchy(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.Role, len(roles))
	for _, role := range roles {
		byID[role.ID] = role
	}

	now := a.now()
	active := make([]domain.RoleAssignment, 0, len(snapshot.Assignments))
	for _, edge := range snapshot.Assignments {
		if edge.Guard != a.guard {
			continue
		}
		role, ok := byID[edge.RoleID]
		if !ok {
			continue
		}
		assignment := domain.RoleAssignment{Assignment: edge, Role: role}
		if assignment.IsActive(now) {
			active = append(active, assignment)
		}
	}
	return active, nil
}

func (a *Authorizer) effectivePermissions(ctx context.Context, userID string, active []domain.RoleAssignment) (map[string]struct{}, error) {
	snapshot, err := a.snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}

	granted := make(map[string]struct{}, len(snapshot.Direct))
	for _, name := range snapshot.Direct {
		granted[name] = struct{}{}
	}
	if len(active) == 0 {
		return granted, nil
	}

	grants, err := a.hierarchy.RolePermissions(ctx)
	if err != nil {
		return nil, err
	}
	for _, assignment := range active {
		for _, name := range grants[assignment.Role.ID] {
			granted[name] = struct{}{}
		}
	}
	return granted, nil
}

func (a *Authorizer) snapshot(ctx context.Context, userID string) (userSnapshot, error) {
	key := userAuthorizationKeyPrefix + userID

	if a.cache != nil {
		raw, err := a.cache.Get(ctx, key)
		switch {
		case err == nil:
			var cached userSnapshot
			if decodeErr := json.Unmarshal([]byte(raw), &cached); decodeErr == nil {
				return cached, nil
			}
		case errors.Is(err, repository.ErrNotFound):
		default:
			a.logger.Warn("rbac user cache read failed", zap.String("user_id", userID), zap.Error(err))
		}
	}

	assignments, err := a.assignments.ListByUser(ctx, userID)
	if err != nil {
		return userSnapshot{}, fmt.Errorf("list user roles: %w", err)
	}
	direct, err := a.permissions.ListDirectNamesByUser(ctx, userID, a.guard)
	if err != nil {
		return userSnapshot{}, fmt.Errorf("list direct permissions: %w", err)
	}

	snapshot := userSnapshot{Assignments: assignments, Direct: direct}
	if a.cache != nil {
		if encoded, err := json.Marshal(snapshot); err == nil {
			if err := a.cache.Set(ctx, key, string(encoded), a.ttl); err != nil {
				a.logger.Warn("rbac user cache write failed", zap.String("user_id", userID), zap.Error(err))
			}
		}
	}
	return snapshot, nil
}

func (a *Authorizer) logDenied(userID, check string, err error) {
	a.logger.Warn("authorization check failed, denying",
		zap.String("user_id", userID),
		zap.String("check", check),
		zap.Error(err),
	)
}

// highestRole picks the maximum level; ties go to the earliest assignment, then role name.
func highestRole(active []domain.RoleAssignment) (domain.Role, bool) {
	if len(active) == 0 {
		return domain.Role{}, false
	}
	best := active[0]
	for _, candidate := range active[1:] {
		switch {
		case candidate.Role.Level > best.Role.Level:
			best = candidate
		case candidate.Role.Level < best.Role.Level:
		case candidate.Assignment.AssignedAt.Before(best.Assignment.AssignedAt):
			best = candidate
		case candidate.Assignment.AssignedAt.Equal(best.Assignment.AssignedAt) && candidate.Role.Name < best.Role.Name:
			best = candidate
		}
	}
	return best.Role, true
}

var _ port.AuthorizationEngine = (*Authorizer)(nil)
