package usecase

import (
	"context"
	"fmt"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/superauth/internal/core/domain"
	"github.com/arklim/superauth/internal/core/port"
)

// RoleModerator is seeded by default but is not a protected system role.
const RoleModerator = "moderator"

type defaultRole struct {
	name        string
	displayName string
	description string
	level       int
}

var defaultRoles = []defaultRole{
	{domain.RoleSuperAdmin, "Super Administrator", "Full access to every resource", 100},
	{domain.RoleAdmin, "Administrator", "Manages users, roles and settings", 80},
	{RoleModerator, "Moderator", "Moderates user accounts", 60},
	{domain.RoleUser, "User", "Regular authenticated user", 10},
	{domain.RoleGuest, "Guest", "Read-only access", 1},
}

var defaultPermissions = []string{
	"users.view", "users.create", "users.update", "users.delete",
	"roles.view", "roles.create", "roles.update", "roles.delete", "roles.assign",
	"permissions.view", "permissions.create", "permissions.update", "permissions.delete", "permissions.assign",
	"dashboard.view", "security.view", "settings.manage",
	"profile.view", "profile.update",
}

// defaultGrants maps role names to their seeded permissions. super_admin receives every permission.
var defaultGrants = map[string][]string{
	domain.RoleAdmin: {
		"users.view", "users.create", "users.update", "users.delete",
		"roles.view", "roles.create", "roles.update", "roles.assign",
		"permissions.view", "permissions.assign",
		"dashboard.view", "security.view", "settings.manage",
		"profile.view", "profile.update",
	},
	RoleModerator:    {"users.view", "users.update", "dashboard.view", "profile.view", "profile.update"},
	domain.RoleUser:  {"dashboard.view", "profile.view", "profile.update"},
	domain.RoleGuest: {"profile.view"},
}

// Seeder installs the default role and permission catalogue. Every step is an upsert keyed by name.
type Seeder struct {
	roles       port.RoleRepository
	permissions port.PermissionRepository
	invalidator *CacheInvalidator
	guard       string
	logger      *zap.Logger
	now         func() time.Time
}

// NewSeeder constructs a Seeder.
func NewSeeder(roles port.RoleRepository, permissions port.PermissionRepository, invalidator *CacheInvalidator, guard string, logger *zap.Logger) *Seeder {
	if guard == "" {
		guard = domain.DefaultGuard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Seeder{
		roles:       roles,
		permissions: permissions,
		invalidator: invalidator,
		guard:       guard,
		logger:      logger,
		now:         time.Now,
	}
}

// Seed runs every seeding step and drops the RBAC caches once at the end.
func (s *Seeder) Seed(ctx context.Context) error {
	if _, err := s.CreateDefaultPermissions(ctx); err != nil {
		return err
	}
	if _, err := s.CreateDefaultRoles(ctx); err != nil {
		return err
	}
	if err := s.AssignDefaultPermissionsToRoles(ctx); err != nil {
		return err
	}
	s.invalidator.HierarchyChanged(ctx)
	return nil
}

// CreateDefaultRoles upserts the default roles and returns them keyed by name.
func (s *Seeder) CreateDefaultRoles(ctx context.Context) (map[string]domain.Role, error) {
	now := s.now().UTC()
	out := make(map[string]domain.Role, len(defaultRoles))
	for _, def := range defaultRoles {
		description := def.description
		stored, err := s.roles.Upsert(ctx, domain.Role{
			ID:          uuid.NewString(),
			Name:        def.name,
			Guard:       s.guard,
			DisplayName: def.displayName,
			Description: &description,
			Level:       def.level,
			IsActive:    true,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		if err != nil {
			return nil, fmt.Errorf("seed role %s: %w", def.name, err)
		}
		out[def.name] = *stored
	}
	s.logger.Info("default roles seeded", zap.Int("count", len(out)))
	return out, nil
}

// CreateDefaultPermissions upserts the system permissions.
func (s *Seeder) CreateDefaultPermissions(ctx context.Context) (int, error) {
	now := s.now().UTC()
	for _, name := range defaultPermissions {
		_, err := s.permissions.Upsert(ctx, domain.Permission{
			ID:          uuid.NewString(),
			Name:        name,
			Guard:       s.guard,
			DisplayName: humanize(name),
			Category:    domain.PermissionCategory(name),
			IsSystem:    true,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		if err != nil {
			return 0, fmt.Errorf("seed permission %s: %w", name, err)
		}
	}
	s.logger.Info("default permissions seeded", zap.Int("count", len(defaultPermissions)))
	return len(defaultPermissions), nil
}

// AssignDefaultPermissionsToRoles attaches the default grants. Existing grants are left in place.
func (s *Seeder) AssignDefaultPermissionsToRoles(ctx context.Context) error {
	for _, def := range defaultRoles {
		role, err := s.roles.GetByName(ctx, s.guard, def.name)
		if err != nil {
			return fmt.Errorf("load seeded role %s: %w", def.name, err)
		}

		names := defaultGrants[def.name]
		if def.name == domain.RoleSuperAdmin {
			names = defaultPermissions
		}
		if len(names) == 0 {
			continue
		}

		attached, err := s.permissions.AttachToRole(ctx, role.ID, role.Guard, names)
		if err != nil {
			return fmt.Errorf("attach default permissions to %s: %w", def.name, err)
		}
		s.logger.Debug("default permissions attached", zap.String("role", def.name), zap.Int("attached", attached))
	}
	return nil
}
