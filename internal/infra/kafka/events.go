package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	uuid "github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arklim/superauth/internal/core/domain"
	"github.com/arklim/superauth/internal/core/port"
	"github.com/arklim/superauth/internal/infra/config"
)

const schemaVersion = "1.0"

// Event types; the producer prefixes them with the configured topic prefix.
const (
	EventRolesAssigned    = "user.roles.assigned"
	EventRolesRevoked     = "user.roles.revoked"
	EventRoleChanged      = "role.changed"
	EventRBACInvalidated  = "rbac.invalidated"
	EventLoginAnomaly     = "security.login_anomaly"
	EventNotificationSent = "notification.requested"
)

// EventPublisher implements port.EventPublisher on top of the async producer.
type EventPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
	now      func() time.Time
}

// NewEventPublisher constructs a Kafka-backed event publisher.
func NewEventPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *EventPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventPublisher{producer: producer, appCfg: appCfg, logger: logger, now: time.Now}
}

type eventEnvelope struct {
	EventID     string            `json:"event_id"`
	EventType   string            `json:"event_type"`
	AggregateID string            `json:"aggregate_id,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
	Version     string            `json:"version"`
	Payload     json.RawMessage   `json:"payload"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type roleRef struct {
	RoleID   string `json:"role_id"`
	RoleName string `json:"role_name"`
}

type rolesAssignedPayload struct {
	UserID     string     `json:"user_id"`
	RolesAdded []roleRef  `json:"roles_added"`
	AssignedBy string     `json:"assigned_by,omitempty"`
	AssignedAt time.Time  `json:"assigned_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

type rolesRevokedPayload struct {
	UserID       string    `json:"user_id"`
	RolesRemoved []roleRef `json:"roles_removed"`
	RevokedBy    string    `json:"revoked_by,omitempty"`
	RevokedAt    time.Time `json:"revoked_at"`
}

type roleChangedPayload struct {
	RoleID    string    `json:"role_id"`
	RoleName  string    `json:"role_name"`
	Action    string    `json:"action"`
	Actor     string    `json:"actor,omitempty"`
	ChangedAt time.Time `json:"changed_at"`
}

type rbacInvalidatedPayload struct {
	Scope    string    `json:"scope"`
	UserID   string    `json:"user_id,omitempty"`
	Origin   string    `json:"origin"`
	IssuedAt time.Time `json:"issued_at"`
}

type loginAnomalyPayload struct {
	UserID     string           `json:"user_id"`
	IPAddress  string           `json:"ip_address"`
	RiskScore  int              `json:"risk_score"`
	Anomalies  []domain.Anomaly `json:"anomalies"`
	DetectedAt time.Time        `json:"detected_at"`
}

type notificationPayload struct {
	Recipient   string         `json:"recipient"`
	Template    string         `json:"template"`
	Data        map[string]any `json:"data,omitempty"`
	RequestedAt time.Time      `json:"requested_at"`
}

func (p *EventPublisher) publish(ctx context.Context, eventID, eventType, key string, ts time.Time, payload any) error {
	if ts.IsZero() {
		ts = p.now()
	}
	if eventID == "" {
		eventID = uuid.NewString()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	metadata := map[string]string{
		"service":     p.appCfg.Name,
		"environment": p.appCfg.Env,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		metadata["trace_id"] = sc.TraceID().String()
	}

	bytes, err := json.Marshal(eventEnvelope{
		EventID:     eventID,
		EventType:   eventType,
		AggregateID: key,
		Timestamp:   ts.UTC(),
		Version:     schemaVersion,
		Payload:     body,
		Metadata:    metadata,
	})
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.producer.TopicName(eventType),
		Value: sarama.ByteEncoder(bytes),
	}
	if key != "" {
		message.Key = sarama.StringEncoder(key)
	}

	select {
	case p.producer.Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func roleRefs(assignments []domain.RoleAssignmentRef) []roleRef {
	refs := make([]roleRef, 0, len(assignments))
	for _, a := range assignments {
		refs = append(refs, roleRef{RoleID: a.RoleID, RoleName: a.RoleName})
	}
	return refs
}

// PublishRolesAssigned publishes user.roles.assigned events keyed by user.
func (p *EventPublisher) PublishRolesAssigned(ctx context.Context, event domain.RolesAssignedEvent) error {
	return p.publish(ctx, event.EventID, EventRolesAssigned, event.UserID, event.AssignedAt, rolesAssignedPayload{
		UserID:     event.UserID,
		RolesAdded: roleRefs(event.RolesAdded),
		AssignedBy: event.AssignedBy,
		AssignedAt: event.AssignedAt.UTC(),
		ExpiresAt:  event.ExpiresAt,
	})
}

// PublishRolesRevoked publishes user.roles.revoked events keyed by user.
func (p *EventPublisher) PublishRolesRevoked(ctx context.Context, event domain.RolesRevokedEvent) error {
	return p.publish(ctx, event.EventID, EventRolesRevoked, event.UserID, event.RevokedAt, rolesRevokedPayload{
		UserID:       event.UserID,
		RolesRemoved: roleRefs(event.RolesRemoved),
		RevokedBy:    event.RevokedBy,
		RevokedAt:    event.RevokedAt.UTC(),
	})
}

// PublishRoleChanged publishes role.changed events keyed by role.
func (p *EventPublisher) PublishRoleChanged(ctx context.Context, event domain.RoleChangedEvent) error {
	return p.publish(ctx, event.EventID, EventRoleChanged, event.RoleID, event.ChangedAt, roleChangedPayload{
		RoleID:    event.RoleID,
		RoleName:  event.RoleName,
		Action:    string(event.Action),
		Actor:     event.Actor,
		ChangedAt: event.ChangedAt.UTC(),
	})
}

// PublishRBACInvalidated broadcasts a cache invalidation to peer instances.
func (p *EventPublisher) PublishRBACInvalidated(ctx context.Context, event domain.RBACInvalidatedEvent) error {
	return p.publish(ctx, event.EventID, EventRBACInvalidated, event.UserID, event.IssuedAt, rbacInvalidatedPayload{
		Scope:    string(event.Scope),
		UserID:   event.UserID,
		Origin:   event.Origin,
		IssuedAt: event.IssuedAt.UTC(),
	})
}

// PublishLoginAnomaly publishes security.login_anomaly events keyed by user.
func (p *EventPublisher) PublishLoginAnomaly(ctx context.Context, event domain.LoginAnomalyDetectedEvent) error {
	return p.publish(ctx, event.EventID, EventLoginAnomaly, event.UserID, event.DetectedAt, loginAnomalyPayload{
		UserID:     event.UserID,
		IPAddress:  event.IPAddress,
		RiskScore:  event.RiskScore,
		Anomalies:  event.Anomalies,
		DetectedAt: event.DetectedAt.UTC(),
	})
}

var _ port.EventPublisher = (*EventPublisher)(nil)
