package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/arklim/superauth/internal/core/domain"
	"github.com/arklim/superauth/internal/infra/config"
)

// InvalidationApplier drops local caches for a peer's broadcast.
type InvalidationApplier interface {
	ApplyRemote(ctx context.Context, event domain.RBACInvalidatedEvent)
}

// InvalidationConsumer applies rbac.invalidated broadcasts from peer instances.
type InvalidationConsumer struct {
	applier InvalidationApplier
	maxLag  time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// NewInvalidationConsumer constructs a consumer. Events older than maxLag are still
// applied but logged, since a slow broadcast means peers served stale grants.
func NewInvalidationConsumer(applier InvalidationApplier, maxLag time.Duration, logger *zap.Logger) *InvalidationConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InvalidationConsumer{
		applier: applier,
		maxLag:  maxLag,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the consumer clock.
func (c *InvalidationConsumer) WithClock(clock func() time.Time) *InvalidationConsumer {
	if clock != nil {
		c.now = clock
	}
	return c
}

// HandleMessage decodes the envelope and applies the broadcast.
func (c *InvalidationConsumer) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	if msg == nil {
		return fmt.Errorf("message is nil")
	}

	var envelope eventEnvelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil {
		return fmt.Errorf("decode event envelope: %w", err)
	}
	if envelope.EventType != EventRBACInvalidated {
		c.logger.Debug("skip unrelated event", zap.String("event_type", envelope.EventType))
		return nil
	}

	var payload rbacInvalidatedPayload
	if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
		return fmt.Errorf("decode rbac invalidation: %w", err)
	}

	return c.HandleEvent(ctx, domain.RBACInvalidatedEvent{
		EventID:  envelope.EventID,
		Scope:    domain.RBACInvalidationScope(payload.Scope),
		UserID:   payload.UserID,
		Origin:   payload.Origin,
		IssuedAt: payload.IssuedAt,
	})
}

// HandleEvent applies a decoded broadcast.
func (c *InvalidationConsumer) HandleEvent(ctx context.Context, event domain.RBACInvalidatedEvent) error {
	if event.Scope == domain.RBACInvalidateUser && event.UserID == "" {
		return fmt.Errorf("user invalidation without user id")
	}

	if !event.IssuedAt.IsZero() && c.maxLag > 0 {
		if lag := c.now().Sub(event.IssuedAt); lag > c.maxLag {
			c.logger.Warn("rbac invalidation lag exceeds threshold",
				zap.Duration("lag", lag),
				zap.Duration("threshold", c.maxLag),
				zap.String("scope", string(event.Scope)),
			)
		}
	}

	c.applier.ApplyRemote(ctx, event)
	return nil
}

// Setup implements sarama.ConsumerGroupHandler.
func (c *InvalidationConsumer) Setup(sarama.ConsumerGroupSession) error { return nil }

// Cleanup implements sarama.ConsumerGroupHandler.
func (c *InvalidationConsumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim applies every message in the claim. Undecodable messages are logged and
// marked so they do not block the partition.
func (c *InvalidationConsumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := c.HandleMessage(session.Context(), msg); err != nil {
				c.logger.Warn("rbac invalidation message rejected",
					zap.String("topic", msg.Topic),
					zap.Int32("partition", msg.Partition),
					zap.Int64("offset", msg.Offset),
					zap.Error(err),
				)
			}
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

// InvalidationGroupID derives a per-instance group id. Every instance must see every
// broadcast, so instances never share a group.
func InvalidationGroupID(base, origin string) string {
	if origin == "" {
		return base
	}
	return base + "-" + origin
}

// RunInvalidationConsumer joins groupID and blocks until ctx is cancelled.
func RunInvalidationConsumer(ctx context.Context, cfg config.KafkaSettings, groupID string, consumer *InvalidationConsumer, logger *zap.Logger) error {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Version = sarama.V3_5_0_0
	// Peers only need broadcasts issued after they started.
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaCfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaCfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, groupID, saramaCfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer group.Close()

	go func() {
		for err := range group.Errors() {
			logger.Warn("kafka consumer error", zap.Error(err))
		}
	}()

	topics := []string{topicName(cfg.TopicPrefix, EventRBACInvalidated)}
	logger.Info("rbac invalidation consumer started", zap.Strings("topics", topics), zap.String("group", groupID))

	for {
		if err := group.Consume(ctx, topics, consumer); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return fmt.Errorf("consume rbac invalidations: %w", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

var _ sarama.ConsumerGroupHandler = (*InvalidationConsumer)(nil)
