package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/superauth/internal/core/domain"
	"github.com/arklim/superauth/internal/core/port"
	"github.com/arklim/superauth/internal/infra/logger"
)

// StubPublisher logs events instead of sending them to Kafka. Used when kafka.enabled is false.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a development-friendly event publisher.
func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StubPublisher{logger: logger}
}

func (p *StubPublisher) logEvent(ctx context.Context, eventType, key string, at time.Time, fields ...zap.Field) {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	base := []zap.Field{
		zap.String("event_type", eventType),
		zap.String("aggregate_id", key),
		zap.Time("timestamp", at.UTC()),
	}
	logger.Annotate(p.logger, ctx).Info("stub event published", append(base, fields...)...)
}

// PublishRolesAssigned logs user.roles.assigned events.
func (p *StubPublisher) PublishRolesAssigned(ctx context.Context, event domain.RolesAssignedEvent) error {
	p.logEvent(ctx, EventRolesAssigned, event.UserID, event.AssignedAt,
		zap.Any("roles_added", roleRefs(event.RolesAdded)),
		zap.String("assigned_by", event.AssignedBy),
	)
	return nil
}

// PublishRolesRevoked logs user.roles.revoked events.
func (p *StubPublisher) PublishRolesRevoked(ctx context.Context, event domain.RolesRevokedEvent) error {
	p.logEvent(ctx, EventRolesRevoked, event.UserID, event.RevokedAt,
		zap.Any("roles_removed", roleRefs(event.RolesRemoved)),
		zap.String("revoked_by", event.RevokedBy),
	)
	return nil
}

// PublishRoleChanged logs role.changed events.
func (p *StubPublisher) PublishRoleChanged(ctx context.Context, event domain.RoleChangedEvent) error {
	p.logEvent(ctx, EventRoleChanged, event.RoleID, event.ChangedAt,
		zap.String("role_name", event.RoleName),
		zap.String("action", string(event.Action)),
	)
	return nil
}

// PublishRBACInvalidated is a no-op beyond logging: a single instance has no peers.
func (p *StubPublisher) PublishRBACInvalidated(ctx context.Context, event domain.RBACInvalidatedEvent) error {
	p.logEvent(ctx, EventRBACInvalidated, event.UserID, event.IssuedAt, zap.String("scope", string(event.Scope)))
	return nil
}

// PublishLoginAnomaly logs security.login_anomaly events.
func (p *StubPublisher) PublishLoginAnomaly(ctx context.Context, event domain.LoginAnomalyDetectedEvent) error {
	p.logEvent(ctx, EventLoginAnomaly, event.UserID, event.DetectedAt,
		zap.String("ip_address", logger.MaskIP(event.IPAddress)),
		zap.Int("risk_score", event.RiskScore),
		zap.Int("anomalies", len(event.Anomalies)),
	)
	return nil
}

var _ port.EventPublisher = (*StubPublisher)(nil)
