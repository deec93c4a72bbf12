package domain

import (
	"strings"
	"time"
)

// DefaultGuard is the guard applied when callers do not specify one.
const DefaultGuard = "web"

// System role names. These roles can never be deleted or renamed.
const (
	RoleSuperAdmin = "super_admin"
	RoleAdmin      = "admin"
	RoleUser       = "user"
	RoleGuest      = "guest"
)

var systemRoles = map[string]struct{}{
	RoleSuperAdmin: {},
	RoleAdmin:      {},
	RoleUser:       {},
	RoleGuest:      {},
}

// IsSystemRole reports whether name belongs to the protected system role set.
func IsSystemRole(name string) bool {
	_, ok := systemRoles[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// SystemRoleNames returns the protected role names.
func SystemRoleNames() []string {
	return []string{RoleSuperAdmin, RoleAdmin, RoleUser, RoleGuest}
}

// Role defines a named privilege level that groups permissions.
type Role struct {
	ID          string
	Name        string
	Guard       string
	DisplayName string
	Description *string
	Level       int
	IsActive    bool
	ExpiresAt   *time.Time
	CreatedBy   *string
	UpdatedBy   *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsSystem reports whether the role is protected.
func (r Role) IsSystem() bool {
	return IsSystemRole(r.Name)
}

// IsExpired reports whether the role expiry has passed at now.
func (r Role) IsExpired(now time.Time) bool {
	return r.ExpiresAt != nil && !r.ExpiresAt.After(now)
}

// IsUsable reports whether the role is active and unexpired at now.
func (r Role) IsUsable(now time.Time) bool {
	return r.IsActive && !r.IsExpired(now)
}

// Permission defines a named capability such as users.create.
type Permission struct {
	ID          string
	Name        string
	Guard       string
	DisplayName string
	Description *string
	Category    string
	IsSystem    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PermissionCategory derives the namespace of a dot-separated permission name.
func PermissionCategory(name string) string {
	name = strings.TrimSpace(name)
	if idx := strings.Index(name, "."); idx > 0 {
		return name[:idx]
	}
	return "general"
}

// RolePermission links a role with a permission.
type RolePermission struct {
	RoleID       string
	PermissionID string
}

// UserRole assigns a role to a user within a guard.
type UserRole struct {
	UserID     string
	RoleID     string
	Guard      string
	ExpiresAt  *time.Time
	AssignedBy *string
	Notes      *string
	AssignedAt time.Time
}

// IsExpired reports whether the assignment expiry has passed at now.
func (u UserRole) IsExpired(now time.Time) bool {
	return u.ExpiresAt != nil && !u.ExpiresAt.After(now)
}

// RoleAssignment joins an assignment edge with its role.
type RoleAssignment struct {
	Assignment UserRole
	Role       Role
}

// IsActive applies the most restrictive rule: the edge is live only while the
// assignment, the role expiry and the role flag all allow it.
func (a RoleAssignment) IsActive(now time.Time) bool {
	return !a.Assignment.IsExpired(now) && a.Role.IsUsable(now)
}

// UserPermission grants a permission directly to a user.
type UserPermission struct {
	UserID       string
	PermissionID string
	Guard        string
	GrantedBy    *string
	GrantedAt    time.Time
}

// RoleStats summarises the role catalogue.
type RoleStats struct {
	TotalRoles       int       `json:"total_roles"`
	ActiveRoles      int       `json:"active_roles"`
	ExpiredRoles     int       `json:"expired_roles"`
	InactiveRoles    int       `json:"inactive_roles"`
	SystemRoles      int       `json:"system_roles"`
	TotalPermissions int       `json:"total_permissions"`
	GeneratedAt      time.Time `json:"generated_at"`
}
