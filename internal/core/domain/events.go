package domain

import "time"

// RoleAssignmentRef captures individual role changes associated with an event.
type RoleAssignmentRef struct {
	RoleID   string
	RoleName string
}

// RolesAssignedEvent represents the payload for superauth.user.roles.assigned messages.
type RolesAssignedEvent struct {
	EventID    string
	UserID     string
	RolesAdded []RoleAssignmentRef
	AssignedBy string
	AssignedAt time.Time
	ExpiresAt  *time.Time
}

// RolesRevokedEvent represents the payload for superauth.user.roles.revoked messages.
type RolesRevokedEvent struct {
	EventID      string
	UserID       string
	RolesRemoved []RoleAssignmentRef
	RevokedBy    string
	RevokedAt    time.Time
}

// RoleChangeAction names a catalogue mutation.
type RoleChangeAction string

const (
	RoleChangeCreated RoleChangeAction = "created"
	RoleChangeUpdated RoleChangeAction = "updated"
	RoleChangeDeleted RoleChangeAction = "deleted"
	RoleChangeExpired RoleChangeAction = "expired_cleanup"
)

// RoleChangedEvent represents the payload for superauth.role.changed messages.
type RoleChangedEvent struct {
	EventID   string
	RoleID    string
	RoleName  string
	Action    RoleChangeAction
	Actor     string
	ChangedAt time.Time
}

// RBACInvalidationScope selects which caches a peer must drop.
type RBACInvalidationScope string

const (
	RBACInvalidateHierarchy RBACInvalidationScope = "hierarchy"
	RBACInvalidateUser      RBACInvalidationScope = "user"
)

// RBACInvalidatedEvent tells peer instances to drop cached authorization data.
type RBACInvalidatedEvent struct {
	EventID  string
	Scope    RBACInvalidationScope
	UserID   string
	Origin   string
	IssuedAt time.Time
}

// NotificationRequest is handed to the notification transport.
type NotificationRequest struct {
	EventID     string
	Recipient   string
	Template    string
	Data        map[string]any
	RequestedAt time.Time
}
