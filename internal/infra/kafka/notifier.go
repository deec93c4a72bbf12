package kafka

import (
	"context"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/superauth/internal/core/domain"
	"github.com/arklim/superauth/internal/core/port"
	"github.com/arklim/superauth/internal/infra/logger"
)

// Notifier hands notification requests to the delivery service over Kafka.
type Notifier struct {
	publisher *EventPublisher
}

// NewNotifier constructs a Notifier sharing the publisher's producer.
func NewNotifier(publisher *EventPublisher) *Notifier {
	return &Notifier{publisher: publisher}
}

// Send publishes a notification.requested event keyed by recipient.
func (n *Notifier) Send(ctx context.Context, recipient, template string, data map[string]any) error {
	request := domain.NotificationRequest{
		EventID:     uuid.NewString(),
		Recipient:   strings.TrimSpace(recipient),
		Template:    template,
		Data:        data,
		RequestedAt: n.publisher.now().UTC(),
	}
	return n.publisher.publish(ctx, request.EventID, EventNotificationSent, request.Recipient, request.RequestedAt, notificationPayload{
		Recipient:   request.Recipient,
		Template:    request.Template,
		Data:        request.Data,
		RequestedAt: request.RequestedAt,
	})
}

// LogNotifier records notification requests in the log. Template data is never logged
// because it can carry one-time codes.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier constructs a development notifier.
func NewLogNotifier(log *zap.Logger) *LogNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogNotifier{logger: log}
}

// Send logs the request.
func (n *LogNotifier) Send(ctx context.Context, recipient, template string, data map[string]any) error {
	logger.Annotate(n.logger, ctx).Info("notification requested",
		zap.String("recipient", logger.MaskIdentifier(recipient)),
		zap.String("template", template),
		zap.Int("fields", len(data)),
		zap.Time("requested_at", time.Now().UTC()),
	)
	return nil
}

var (
	_ port.Notifier = (*Notifier)(nil)
	_ port.Notifier = (*LogNotifier)(nil)
)
