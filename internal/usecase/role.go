package usecase

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/superauth/internal/core/domain"
	"github.com/arklim/superauth/internal/core/port"
	"github.com/arklim/superauth/internal/infra/telemetry"
	"github.com/arklim/superauth/internal/repository"
)

var roleNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{1,63}$`)

// CreateRoleInput captures the payload for creating a role.
type CreateRoleInput struct {
	Name        string
	DisplayName string
	Description *string
	Level       int
	IsActive    *bool
	ExpiresAt   *time.Time
	Permissions []string
}

// CreateRoleResult returns the created role and how many permissions were attached.
type CreateRoleResult struct {
	Role                domain.Role
	AttachedPermissions int
}

// UpdateRoleInput is a partial update; nil fields are left unchanged.
type UpdateRoleInput struct {
	Name        *string
	DisplayName *string
	Description *string
	Level       *int
	IsActive    *bool
	ExpiresAt   *time.Time
	ClearExpiry bool
}

// AssignRoleOptions carries optional assignment metadata.
type AssignRoleOptions struct {
	ExpiresAt *time.Time
	Notes     *string
}

// RoleServiceConfig bounds role levels and names the guard.
type RoleServiceConfig struct {
	Guard    string
	MinLevel int
	MaxLevel int
}

// RoleService owns every mutation of roles, role permissions and user-role edges.
type RoleService struct {
	roles       port.RoleRepository
	assignments port.RoleAssignmentRepository
	permissions port.PermissionRepository
	hierarchy   *RoleHierarchy
	authz       port.AuthorizationEngine
	invalidator *CacheInvalidator
	events      port.EventPublisher
	cfg         RoleServiceConfig
	metrics     *telemetry.DomainMetrics
	logger      *zap.Logger
	now         func() time.Time
}

// NewRoleService constructs a RoleService.
func NewRoleService(
	roles port.RoleRepository,
	assignments port.RoleAssignmentRepository,
	permissions port.PermissionRepository,
	hierarchy *RoleHierarchy,
	authz port.AuthorizationEngine,
	invalidator *CacheInvalidator,
	events port.EventPublisher,
	cfg RoleServiceConfig,
	logger *zap.Logger,
) *RoleService {
	if cfg.Guard == "" {
		cfg.Guard = domain.DefaultGuard
	}
	if cfg.MinLevel <= 0 {
		cfg.MinLevel = 1
	}
	if cfg.MaxLevel < cfg.MinLevel {
		cfg.MaxLevel = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoleService{
		roles:       roles,
		assignments: assignments,
		permissions: permissions,
		hierarchy:   hierarchy,
		authz:       authz,
		invalidator: invalidator,
		events:      events,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
	}
}

// WithMetrics records cleanup results on metrics.
func (s *RoleService) WithMetrics(metrics *telemetry.DomainMetrics) *RoleService {
	s.metrics = metrics
	return s
}

// WithClock overrides the time source.
func (s *RoleService) WithClock(now func() time.Time) *RoleService {
	if now != nil {
		s.now = now
	}
	return s
}

// ListRoles returns the cached hierarchy.
func (s *RoleService) ListRoles(ctx context.Context) ([]domain.Role, error) {
	return s.hierarchy.Hierarchy(ctx)
}

// GetRole loads a role by ID.
func (s *RoleService) GetRole(ctx context.Context, roleID string) (domain.Role, error) {
	role, err := s.roles.GetByID(ctx, strings.TrimSpace(roleID))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Role{}, domain.ErrRoleNotFound
		}
		return domain.Role{}, fmt.Errorf("get role: %w", err)
	}
	return *role, nil
}

// CreateRole validates and persists a role together with its initial permissions.
func (s *RoleService) CreateRole(ctx context.Context, actorID string, input CreateRoleInput) (CreateRoleResult, error) {
	var result CreateRoleResult

	name, err := normalizeRoleName(input.Name)
	if err != nil {
		return result, err
	}
	if domain.IsSystemRole(name) {
		return result, domain.ErrSystemRoleProtected
	}
	if err := s.validateLevel(input.Level); err != nil {
		return result, err
	}

	now := s.now().UTC()
	if input.ExpiresAt != nil && !input.ExpiresAt.After(now) {
		return result, domain.ValidationError("expires_at must be in the future")
	}

	if _, err := s.roles.GetByName(ctx, s.cfg.Guard, name); err == nil {
		return result, domain.ErrRoleExists
	} else if !errors.Is(err, repository.ErrNotFound) {
		return result, fmt.Errorf("lookup role by name: %w", err)
	}

	role := domain.Role{
		ID:          uuid.NewString(),
		Name:        name,
		Guard:       s.cfg.Guard,
		DisplayName: strings.TrimSpace(input.DisplayName),
		Description: trimmedPtr(input.Description),
		Level:       input.Level,
		IsActive:    true,
		ExpiresAt:   input.ExpiresAt,
		CreatedBy:   trimmedPtr(&actorID),
		UpdatedBy:   trimmedPtr(&actorID),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if role.DisplayName == "" {
		role.DisplayName = humanize(name)
	}
	if input.IsActive != nil {
		role.IsActive = *input.IsActive
	}

	if err := s.requireManage(ctx, actorID, role); err != nil {
		return result, err
	}

	attached, err := s.roles.Create(ctx, role, input.Permissions)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return result, domain.ErrRoleExists
		}
		return result, fmt.Errorf("create role: %w", err)
	}

	s.invalidator.HierarchyChanged(ctx)
	s.publishRoleChanged(ctx, role, domain.RoleChangeCreated, actorID)

	s.logger.Info("role created",
		zap.String("role_id", role.ID),
		zap.String("role", role.Name),
		zap.Int("level", role.Level),
		zap.Int("permissions_attached", attached),
	)

	result.Role = role
	result.AttachedPermissions = attached
	return result, nil
}

// UpdateRole applies a partial update. System roles keep their names.
func (s *RoleService) UpdateRole(ctx context.Context, actorID, roleID string, input UpdateRoleInput) (domain.Role, error) {
	existing, err := s.GetRole(ctx, roleID)
	if err != nil {
		return domain.Role{}, err
	}
	if err := s.requireManage(ctx, actorID, existing); err != nil {
		return domain.Role{}, err
	}

	updated := existing
	now := s.now().UTC()

	if input.Name != nil {
		name, err := normalizeRoleName(*input.Name)
		if err != nil {
			return domain.Role{}, err
		}
		if name != existing.Name {
			if existing.IsSystem() || domain.IsSystemRole(name) {
				return domain.Role{}, domain.ErrSystemRoleProtected
			}
			if _, err := s.roles.GetByName(ctx, existing.Guard, name); err == nil {
				return domain.Role{}, domain.ErrRoleExists
			} else if !errors.Is(err, repository.ErrNotFound) {
				return domain.Role{}, fmt.Errorf("lookup role by name: %w", err)
			}
			updated.Name = name
		}
	}
	if input.DisplayName != nil {
		updated.DisplayName = strings.TrimSpace(*input.DisplayName)
	}
	if input.Description != nil {
		updated.Description = trimmedPtr(input.Description)
	}
	if input.Level != nil {
		if err := s.validateLevel(*input.Level); err != nil {
			return domain.Role{}, err
		}
		updated.Level = *input.Level
		if err := s.requireManage(ctx, actorID, updated); err != nil {
			return domain.Role{}, err
		}
	}
	if input.IsActive != nil {
		updated.IsActive = *input.IsActive
	}
	switch {
	case input.ClearExpiry:
		updated.ExpiresAt = nil
	case input.ExpiresAt != nil:
		if !input.ExpiresAt.After(now) {
			return domain.Role{}, domain.ValidationError("expires_at must be in the future")
		}
		updated.ExpiresAt = input.ExpiresAt
	}

	updated.UpdatedBy = trimmedPtr(&actorID)
	updated.UpdatedAt = now

	if err := s.roles.Update(ctx, updated); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicate):
			return domain.Role{}, domain.ErrRoleExists
		case errors.Is(err, repository.ErrNotFound):
			return domain.Role{}, domain.ErrRoleNotFound
		}
		return domain.Role{}, fmt.Errorf("update role: %w", err)
	}

	s.invalidator.HierarchyChanged(ctx)
	s.publishRoleChanged(ctx, updated, domain.RoleChangeUpdated, actorID)
	return updated, nil
}

// DeleteRole removes a non-system role that has no current users.
func (s *RoleService) DeleteRole(ctx context.Context, actorID, roleID string) error {
	role, err := s.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSystem() {
		return domain.ErrSystemRoleProtected
	}
	if err := s.requireManage(ctx, actorID, role); err != nil {
		return err
	}

	now := s.now().UTC()
	inUse, err := s.roles.CountActiveAssignments(ctx, role.ID, now)
	if err != nil {
		return fmt.Errorf("count role users: %w", err)
	}
	if inUse > 0 {
		return domain.ErrRoleInUse
	}

	deleted, err := s.roles.DeleteIfUnused(ctx, role.ID, now)
	if err != nil {
		return fmt.Errorf("delete role: %w", err)
	}
	if !deleted {
		return domain.ErrRoleInUse
	}

	s.invalidator.HierarchyChanged(ctx)
	s.publishRoleChanged(ctx, role, domain.RoleChangeDeleted, actorID)
	return nil
}

// AssignRoleToUser creates the edge. It reports false when an active edge already exists.
func (s *RoleService) AssignRoleToUser(ctx context.Context, actorID, userID, roleID string, opts AssignRoleOptions) (bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false, domain.ValidationError("user id is required")
	}

	role, err := s.GetRole(ctx, roleID)
	if err != nil {
		return false, err
	}
	now := s.now().UTC()
	if !role.IsUsable(now) {
		return false, domain.ValidationError("role %s is inactive or expired", role.Name)
	}
	if opts.ExpiresAt != nil && !opts.ExpiresAt.After(now) {
		return false, domain.ValidationError("expires_at must be in the future")
	}
	if err := s.requireManage(ctx, actorID, role); err != nil {
		return false, err
	}

	created, err := s.assignments.Assign(ctx, domain.UserRole{
		UserID:     userID,
		RoleID:     role.ID,
		Guard:      role.Guard,
		ExpiresAt:  opts.ExpiresAt,
		AssignedBy: trimmedPtr(&actorID),
		Notes:      trimmedPtr(opts.Notes),
		AssignedAt: now,
	}, now)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, domain.ErrRoleNotFound
		}
		return false, fmt.Errorf("assign role: %w", err)
	}
	if !created {
		return false, nil
	}

	s.invalidator.UserChanged(ctx, userID)

	if s.events != nil {
		event := domain.RolesAssignedEvent{
			EventID:    uuid.NewString(),
			UserID:     userID,
			RolesAdded: []domain.RoleAssignmentRef{{RoleID: role.ID, RoleName: role.Name}},
			AssignedBy: actorID,
			AssignedAt: now,
			ExpiresAt:  opts.ExpiresAt,
		}
		if err := s.events.PublishRolesAssigned(ctx, event); err != nil {
			s.logger.Warn("publish roles assigned failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return true, nil
}

// RemoveRoleFromUser deletes the edge regardless of expiry.
func (s *RoleService) RemoveRoleFromUser(ctx context.Context, actorID, userID, roleID string) (bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false, domain.ValidationError("user id is required")
	}

	role, err := s.GetRole(ctx, roleID)
	if err != nil {
		return false, err
	}
	if err := s.requireManage(ctx, actorID, role); err != nil {
		return false, err
	}

	removed, err := s.assignments.Remove(ctx, userID, role.ID, role.Guard)
	if err != nil {
		return false, fmt.Errorf("remove role: %w", err)
	}
	if !removed {
		return false, nil
	}

	s.invalidator.UserChanged(ctx, userID)

	if s.events != nil {
		event := domain.RolesRevokedEvent{
			EventID:      uuid.NewString(),
			UserID:       userID,
			RolesRemoved: []domain.RoleAssignmentRef{{RoleID: role.ID, RoleName: role.Name}},
			RevokedBy:    actorID,
			RevokedAt:    s.now().UTC(),
		}
		if err := s.events.PublishRolesRevoked(ctx, event); err != nil {
			s.logger.Warn("publish roles revoked failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return true, nil
}

// AttachPermissions grants permissions to a role; unknown names are skipped.
func (s *RoleService) AttachPermissions(ctx context.Context, actorID, roleID string, names []string) (int, error) {
	role, err := s.manageableRole(ctx, actorID, roleID)
	if err != nil {
		return 0, err
	}
	n, err := s.permissions.AttachToRole(ctx, role.ID, role.Guard, names)
	if err != nil {
		return 0, fmt.Errorf("attach permissions: %w", err)
	}
	if n > 0 {
		s.invalidator.HierarchyChanged(ctx)
	}
	return n, nil
}

// DetachPermissions revokes permissions from a role.
func (s *RoleService) DetachPermissions(ctx context.Context, actorID, roleID string, names []string) (int, error) {
	role, err := s.manageableRole(ctx, actorID, roleID)
	if err != nil {
		return 0, err
	}
	n, err := s.permissions.DetachFromRole(ctx, role.ID, role.Guard, names)
	if err != nil {
		return 0, fmt.Errorf("detach permissions: %w", err)
	}
	if n > 0 {
		s.invalidator.HierarchyChanged(ctx)
	}
	return n, nil
}

// SyncPermissions makes the role's permission set equal to names.
func (s *RoleService) SyncPermissions(ctx context.Context, actorID, roleID string, names []string) (attached int, detached int, err error) {
	role, err := s.manageableRole(ctx, actorID, roleID)
	if err != nil {
		return 0, 0, err
	}
	attached, detached, err = s.permissions.SyncRole(ctx, role.ID, role.Guard, names)
	if err != nil {
		return 0, 0, fmt.Errorf("sync permissions: %w", err)
	}
	if attached > 0 || detached > 0 {
		s.invalidator.HierarchyChanged(ctx)
	}
	return attached, detached, nil
}

// CleanupExpiredRoles deletes expired, non-system roles without current users.
// Per-role failures are logged and skipped.
func (s *RoleService) CleanupExpiredRoles(ctx context.Context) (int, error) {
	roles, err := s.roles.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list roles: %w", err)
	}

	now := s.now().UTC()
	removed := 0
	for _, role := range roles {
		if role.IsSystem() || !role.IsExpired(now) {
			continue
		}

		deleted, err := s.roles.DeleteIfUnused(ctx, role.ID, now)
		if err != nil {
			s.logger.Warn("expired role cleanup failed", zap.String("role_id", role.ID), zap.Error(err))
			continue
		}
		if !deleted {
			s.logger.Debug("expired role still assigned, keeping", zap.String("role_id", role.ID))
			continue
		}

		removed++
		s.publishRoleChanged(ctx, role, domain.RoleChangeExpired, "")
	}

	if removed > 0 {
		s.invalidator.HierarchyChanged(ctx)
	}
	s.metrics.ObserveCleanup("expired_roles", removed)
	return removed, nil
}

func (s *RoleService) manageableRole(ctx context.Context, actorID, roleID string) (domain.Role, error) {
	role, err := s.GetRole(ctx, roleID)
	if err != nil {
		return domain.Role{}, err
	}
	if err := s.requireManage(ctx, actorID, role); err != nil {
		return domain.Role{}, err
	}
	return role, nil
}

// requireManage enforces the level rule. An empty actor denotes an internal caller such as seeding.
func (s *RoleService) requireManage(ctx context.Context, actorID string, target domain.Role) error {
	if strings.TrimSpace(actorID) == "" || s.authz == nil {
		return nil
	}
	if !s.authz.CanManageRole(ctx, actorID, target) {
		return domain.ErrInsufficientLevel
	}
	return nil
}

func (s *RoleService) validateLevel(level int) error {
	if level < s.cfg.MinLevel || level > s.cfg.MaxLevel {
		return fmt.Errorf("%w: %d not in %d..%d", domain.ErrInvalidLevel, level, s.cfg.MinLevel, s.cfg.MaxLevel)
	}
	return nil
}

func (s *RoleService) publishRoleChanged(ctx context.Context, role domain.Role, action domain.RoleChangeAction, actorID string) {
	if s.events == nil {
		return
	}
	event := domain.RoleChangedEvent{
		EventID:   uuid.NewString(),
		RoleID:    role.ID,
		RoleName:  role.Name,
		Action:    action,
		Actor:     actorID,
		ChangedAt: s.now().UTC(),
	}
	if err := s.events.PublishRoleChanged(ctx, event); err != nil {
		s.logger.Warn("publish role changed failed", zap.String("role_id", role.ID), zap.Error(err))
	}
}

func normalizeRoleName(raw string) (string, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	if !roleNamePattern.MatchString(name) {
		return "", fmt.Errorf("%w: role name %q must be 2-64 lowercase letters, digits, '_' or '-'", domain.ErrInvalidName, raw)
	}
	return name, nil
}

func trimmedPtr(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// humanize turns users.create or super_admin into a display label.
func humanize(name string) string {
	words := strings.FieldsFunc(name, func(r rune) bool { return r == '_' || r == '-' || r == '.' })
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
