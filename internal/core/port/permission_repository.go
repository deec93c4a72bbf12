package port

import (
	"context"

	"github.com/arklim/superauth/internal/core/domain"
)

// PermissionFilter narrows permission listings.
type PermissionFilter struct {
	Guard    string
	Category string
}

// PermissionRepository manages permission storage and grants.
type PermissionRepository interface {
	Create(ctx context.Context, permission domain.Permission) error
	Update(ctx context.Context, permission domain.Permission) error
	Upsert(ctx context.Context, permission domain.Permission) (*domain.Permission, error)
	// Delete removes the permission and returns the users that held it directly.
	Delete(ctx context.Context, id string) ([]string, error)
	GetByID(ctx context.Context, id string) (*domain.Permission, error)
	GetByName(ctx context.Context, guard, name string) (*domain.Permission, error)
	List(ctx context.Context, filter PermissionFilter) ([]domain.Permission, error)
	Count(ctx context.Context) (int, error)

	// ListRoleGrants returns role ID -> permission names for every role.
	ListRoleGrants(ctx context.Context) (map[string][]string, error)
	ListByRole(ctx context.Context, roleID string) ([]domain.Permission, error)
	AttachToRole(ctx context.Context, roleID, guard string, names []string) (int, error)
	DetachFromRole(ctx context.Context, roleID, guard string, names []string) (int, error)
	// SyncRole makes the role's permission set equal to names.
	SyncRole(ctx context.Context, roleID, guard string, names []string) (attached int, detached int, err error)

	GrantToUser(ctx context.Context, grant domain.UserPermission) (bool, error)
	RevokeFromUser(ctx context.Context, userID, permissionID, guard string) (bool, error)
	ListDirectNamesByUser(ctx context.Context, userID, guard string) ([]string, error)
}
