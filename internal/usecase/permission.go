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
	"github.com/arklim/superauth/internal/repository"
)

var permissionNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*(\.[a-z][a-z0-9_-]*)+$`)

// CreatePermissionInput captures the payload for creating a permission.
type CreatePermissionInput struct {
	Name        string
	DisplayName string
	Description *string
	Category    string
}

// UpdatePermissionInput captures the payload for updating a permission.
type UpdatePermissionInput struct {
	DisplayName *string
	Description *string
	Category    *string
}

// PermissionService manages the permission catalogue and direct user grants.
type PermissionService struct {
	permissions port.PermissionRepository
	invalidator *CacheInvalidator
	guard       string
	logger      *zap.Logger
	now         func() time.Time
}

// NewPermissionService constructs a PermissionService.
func NewPermissionService(permissions port.PermissionRepository, invalidator *CacheInvalidator, guard string, logger *zap.Logger) *PermissionService {
	if guard == "" {
		guard = domain.DefaultGuard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PermissionService{
		permissions: permissions,
		invalidator: invalidator,
		guard:       guard,
		logger:      logger,
		now:         time.Now,
	}
}

// WithClock overrides the time source.
func (s *PermissionService) WithClock(now func() time.Time) *PermissionService {
	if now != nil {
		s.now = now
	}
	return s
}

// CreatePermission provisions a new permission. The category defaults to the name's namespace.
func (s *PermissionService) CreatePermission(ctx context.Context, input CreatePermissionInput) (domain.Permission, error) {
	name, err := normalizePermissionName(input.Name)
	if err != nil {
		return domain.Permission{}, err
	}

	if _, err := s.permissions.GetByName(ctx, s.guard, name); err == nil {
		return domain.Permission{}, domain.ErrPermissionExists
	} else if !errors.Is(err, repository.ErrNotFound) {
		return domain.Permission{}, fmt.Errorf("lookup permission by name: %w", err)
	}

	now := s.now().UTC()
	permission := domain.Permission{
		ID:          uuid.NewString(),
		Name:        name,
		Guard:       s.guard,
		DisplayName: strings.TrimSpace(input.DisplayName),
		Description: trimmedPtr(input.Description),
		Category:    strings.ToLower(strings.TrimSpace(input.Category)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if permission.DisplayName == "" {
		permission.DisplayName = humanize(name)
	}
	if permission.Category == "" {
		permission.Category = domain.PermissionCategory(name)
	}

	if err := s.permissions.Create(ctx, permission); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return domain.Permission{}, domain.ErrPermissionExists
		}
		return domain.Permission{}, fmt.Errorf("create permission: %w", err)
	}

	s.logger.Info("permission created", zap.String("permission", name))
	return permission, nil
}

// UpdatePermission changes descriptive fields. Names are immutable because grants resolve by name.
func (s *PermissionService) UpdatePermission(ctx context.Context, permissionID string, input UpdatePermissionInput) (domain.Permission, error) {
	permission, err := s.GetPermission(ctx, permissionID)
	if err != nil {
		return domain.Permission{}, err
	}

	if input.DisplayName != nil {
		permission.DisplayName = strings.TrimSpace(*input.DisplayName)
	}
	if input.Description != nil {
		permission.Description = trimmedPtr(input.Description)
	}
	if input.Category != nil {
		category := strings.ToLower(strings.TrimSpace(*input.Category))
		if category == "" {
			category = domain.PermissionCategory(permission.Name)
		}
		permission.Category = category
	}
	permission.UpdatedAt = s.now().UTC()

	if err := s.permissions.Update(ctx, permission); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Permission{}, domain.ErrPermissionNotFound
		}
		return domain.Permission{}, fmt.Errorf("update permission: %w", err)
	}

	s.invalidator.HierarchyChanged(ctx)
	return permission, nil
}

// DeletePermission removes a non-system permission and every grant of it.
func (s *PermissionService) DeletePermission(ctx context.Context, permissionID string) error {
	permission, err := s.GetPermission(ctx, permissionID)
	if err != nil {
		return err
	}
	if permission.IsSystem {
		return domain.ErrSystemPermissionProtected
	}

	grantees, err := s.permissions.Delete(ctx, permission.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.ErrPermissionNotFound
		}
		return fmt.Errorf("delete permission: %w", err)
	}

	s.invalidator.HierarchyChanged(ctx)
	for _, userID := range grantees {
		s.invalidator.UserChanged(ctx, userID)
	}
	s.logger.Info("permission deleted",
		zap.String("permission", permission.Name),
		zap.Int("direct_grants", len(grantees)),
	)
	return nil
}

// GetPermission loads a permission by ID.
func (s *PermissionService) GetPermission(ctx context.Context, permissionID string) (domain.Permission, error) {
	permission, err := s.permissions.GetByID(ctx, strings.TrimSpace(permissionID))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Permission{}, domain.ErrPermissionNotFound
		}
		return domain.Permission{}, fmt.Errorf("get permission: %w", err)
	}
	return *permission, nil
}

// ListPermissions lists the catalogue, optionally narrowed to a category.
func (s *PermissionService) ListPermissions(ctx context.Context, category string) ([]domain.Permission, error) {
	permissions, err := s.permissions.List(ctx, port.PermissionFilter{
		Guard:    s.guard,
		Category: strings.ToLower(strings.TrimSpace(category)),
	})
	if err != nil {
		return nil, fmt.Errorf("list permissions: %w", err)
	}
	return permissions, nil
}

// GrantToUser grants a permission directly, by name. It reports false when the grant already existed.
func (s *PermissionService) GrantToUser(ctx context.Context, actorID, userID, permissionName string) (bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false, domain.ValidationError("user id is required")
	}
	permission, err := s.byName(ctx, permissionName)
	if err != nil {
		return false, err
	}

	granted, err := s.permissions.GrantToUser(ctx, domain.UserPermission{
		UserID:       userID,
		PermissionID: permission.ID,
		Guard:        permission.Guard,
		GrantedBy:    trimmedPtr(&actorID),
		GrantedAt:    s.now().UTC(),
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, domain.ErrPermissionNotFound
		}
		return false, fmt.Errorf("grant permission: %w", err)
	}
	if granted {
		s.invalidator.UserChanged(ctx, userID)
	}
	return granted, nil
}

// RevokeFromUser removes a direct grant. It reports false when no grant existed.
func (s *PermissionService) RevokeFromUser(ctx context.Context, userID, permissionName string) (bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false, domain.ValidationError("user id is required")
	}
	permission, err := s.byName(ctx, permissionName)
	if err != nil {
		return false, err
	}

	revoked, err := s.permissions.RevokeFromUser(ctx, userID, permission.ID, permission.Guard)
	if err != nil {
		return false, fmt.Errorf("revoke permission: %w", err)
	}
	if revoked {
		s.invalidator.UserChanged(ctx, userID)
	}
	return revoked, nil
}

func (s *PermissionService) byName(ctx context.Context, raw string) (domain.Permission, error) {
	name, err := normalizePermissionName(raw)
	if err != nil {
		return domain.Permission{}, err
	}
	permission, err := s.permissions.GetByName(ctx, s.guard, name)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Permission{}, domain.ErrPermissionNotFound
		}
		return domain.Permission{}, fmt.Errorf("lookup permission by name: %w", err)
	}
	return *permission, nil
}

func normalizePermissionName(raw string) (string, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	if len(name) > 128 || !permissionNamePattern.MatchString(name) {
		return "", fmt.Errorf("%w: permission name %q must be dot-namespaced, e.g. users.create", domain.ErrInvalidName, raw)
	}
	return name, nil
}
