package port

import (
	"context"

	"github.com/arklim/superauth/internal/core/domain"
)

// EventPublisher publishes domain events to the message bus.
type EventPublisher interface {
	PublishRolesAssigned(ctx context.Context, event domain.RolesAssignedEvent) error
	PublishRolesRevoked(ctx context.Context, event domain.RolesRevokedEvent) error
	PublishRoleChanged(ctx context.Context, event domain.RoleChangedEvent) error
	PublishRBACInvalidated(ctx context.Context, event domain.RBACInvalidatedEvent) error
	PublishLoginAnomaly(ctx context.Context, event domain.LoginAnomalyDetectedEvent) error
}

// Notifier dispatches user-facing notifications.
type Notifier interface {
	Send(ctx context.Context, recipient, template string, data map[string]any) error
}
