package port

import (
	"context"
	"time"

	"github.com/arklim/superauth/internal/core/domain"
)

// RoleRepository handles role persistence.
type RoleRepository interface {
	// Create inserts the role and attaches every existing permission whose name is in
	// permissionNames, atomically. It returns the number of permissions attached.
	Create(ctx context.Context, role domain.Role, permissionNames []string) (int, error)
	Update(ctx context.Context, role domain.Role) error
	// Upsert inserts or refreshes a role keyed by (guard, name) and returns the stored row.
	Upsert(ctx context.Context, role domain.Role) (*domain.Role, error)
	GetByID(ctx context.Context, id string) (*domain.Role, error)
	GetByName(ctx context.Context, guard, name string) (*domain.Role, error)
	List(ctx context.Context) ([]domain.Role, error)
	// DeleteIfUnused removes the role only when no unexpired assignment references it.
	// It reports false when the guard prevented the delete.
	DeleteIfUnused(ctx context.Context, id string, now time.Time) (bool, error)
	CountActiveAssignments(ctx context.Context, roleID string, now time.Time) (int, error)
}

// RoleAssignmentRepository manages user-role edges.
type RoleAssignmentRepository interface {
	// Assign creates the edge, or refreshes an expired one. It reports false when an
	// unexpired edge already exists.
	Assign(ctx context.Context, assignment domain.UserRole, now time.Time) (bool, error)
	Remove(ctx context.Context, userID, roleID, guard string) (bool, error)
	ListByUser(ctx context.Context, userID string) ([]domain.UserRole, error)
}
