package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap/zaptest"

	"github.com/arklim/superauth/internal/core/domain"
	"github.com/arklim/superauth/internal/infra/config"
)

type fakeAsyncProducer struct {
	input  chan *sarama.ProducerMessage
	errors chan *sarama.ProducerError
}

func newFakeAsyncProducer() *fakeAsyncProducer {
	return &fakeAsyncProducer{
		input:  make(chan *sarama.ProducerMessage, 1),
		errors: make(chan *sarama.ProducerError, 1),
	}
}

func (f *fakeAsyncProducer) AsyncClose() {}

func (f *fakeAsyncProducer) Close() error { return nil }

func (f *fakeAsyncProducer) Input() chan<- *sarama.ProducerMessage { return f.input }

func (f *fakeAsyncProducer) Successes() <-chan *sarama.ProducerMessage { return nil }

func (f *fakeAsyncProducer) Errors() <-chan *sarama.ProducerError { return f.errors }

func (f *fakeAsyncProducer) IsTransactional() bool { return false }

func (f *fakeAsyncProducer) BeginTxn() error { return nil }

func (f *fakeAsyncProducer) CommitTxn() error { return nil }

func (f *fakeAsyncProducer) AbortTxn() error { return nil }

func (f *fakeAsyncProducer) AddOffsetsToTxn(offsets map[string][]*sarama.PartitionOffsetMetadata, groupID string) error {
	return nil
}

func (f *fakeAsyncProducer) AddMessageToTxn(msg *sarama.ConsumerMessage, groupID string, metadata *string) error {
	return nil
}

func (f *fakeAsyncProducer) TxnStatus() sarama.ProducerTxnStatusFlag {
	return sarama.ProducerTxnStatusFlag(0)
}

func newTestPublisher(t *testing.T) (*EventPublisher, *fakeAsyncProducer) {
	t.Helper()
	asyncProducer := newFakeAsyncProducer()
	producer := &Producer{
		producer: asyncProducer,
		logger:   zaptest.NewLogger(t),
		cfg:      config.KafkaSettings{TopicPrefix: "superauth"},
		errChan:  make(chan error, 1),
		done:     make(chan struct{}),
	}
	publisher := NewEventPublisher(producer, config.AppSettings{Name: "superauth", Env: "test"}, zaptest.NewLogger(t))
	return publisher, asyncProducer
}

func receive(t *testing.T, producer *fakeAsyncProducer) (*sarama.ProducerMessage, eventEnvelope) {
	t.Helper()
	select {
	case msg := <-producer.input:
		bytes, err := msg.Value.Encode()
		if err != nil {
			t.Fatalf("Value.Encode returned error: %v", err)
		}
		var envelope eventEnvelope
		if err := json.Unmarshal(bytes, &envelope); err != nil {
			t.Fatalf("failed to unmarshal envelope: %v", err)
		}
		return msg, envelope
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message on async producer input channel")
	}
	return nil, eventEnvelope{}
}

func TestPublishRolesAssigned(t *testing.T) {
	publisher, producer := newTestPublisher(t)
	assignedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	err := publisher.PublishRolesAssigned(context.Background(), domain.RolesAssignedEvent{
		EventID:    "evt-1",
		UserID:     "user-1",
		RolesAdded: []domain.RoleAssignmentRef{{RoleID: "r-1", RoleName: "moderator"}},
		AssignedBy: "admin-1",
		AssignedAt: assignedAt,
	})
	if err != nil {
		t.Fatalf("PublishRolesAssigned returned error: %v", err)
	}

	msg, envelope := receive(t, producer)
	if msg.Topic != "superauth.user.roles.assigned" {
		t.Fatalf("unexpected topic: %s", msg.Topic)
	}
	key, _ := msg.Key.Encode()
	if string(key) != "user-1" {
		t.Fatalf("expected message keyed by user, got %q", key)
	}
	if envelope.EventID != "evt-1" || envelope.EventType != EventRolesAssigned || envelope.AggregateID != "user-1" {
		t.Fatalf("unexpected envelope: %+v", envelope)
	}
	if !envelope.Timestamp.Equal(assignedAt) {
		t.Fatalf("unexpected timestamp: %s", envelope.Timestamp)
	}
	if envelope.Metadata["service"] != "superauth" || envelope.Metadata["environment"] != "test" {
		t.Fatalf("unexpected metadata: %v", envelope.Metadata)
	}

	var payload rolesAssignedPayload
	if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if len(payload.RolesAdded) != 1 || payload.RolesAdded[0].RoleName != "moderator" || payload.AssignedBy != "admin-1" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestPublishLoginAnomaly(t *testing.T) {
	publisher, producer := newTestPublisher(t)

	err := publisher.PublishLoginAnomaly(context.Background(), domain.LoginAnomalyDetectedEvent{
		UserID:     "user-2",
		IPAddress:  "203.0.113.9",
		RiskScore:  55,
		Anomalies:  []domain.Anomaly{{Type: domain.AnomalyUnusualCountry, Severity: domain.SeverityHigh, Message: "new country"}},
		DetectedAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("PublishLoginAnomaly returned error: %v", err)
	}

	msg, envelope := receive(t, producer)
	if msg.Topic != "superauth.security.login_anomaly" {
		t.Fatalf("unexpected topic: %s", msg.Topic)
	}
	if envelope.EventID == "" {
		t.Fatal("expected generated event id")
	}

	var payload loginAnomalyPayload
	if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.RiskScore != 55 || len(payload.Anomalies) != 1 || payload.Anomalies[0].Type != domain.AnomalyUnusualCountry {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestPublishHonoursCancelledContext(t *testing.T) {
	publisher, producer := newTestPublisher(t)
	producer.input = make(chan *sarama.ProducerMessage)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := publisher.PublishRoleChanged(ctx, domain.RoleChangedEvent{RoleID: "r-1", RoleName: "editor", Action: domain.RoleChangeDeleted})
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNotifierPublishesRequest(t *testing.T) {
	publisher, producer := newTestPublisher(t)
	notifier := NewNotifier(publisher)

	if err := notifier.Send(context.Background(), " user@example.com ", "otp.login", map[string]any{"code": "123456"}); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}

	msg, envelope := receive(t, producer)
	if msg.Topic != "superauth.notification.requested" {
		t.Fatalf("unexpected topic: %s", msg.Topic)
	}

	var payload notificationPayload
	if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Recipient != "user@example.com" || payload.Template != "otp.login" || payload.Data["code"] != "123456" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestTopicName(t *testing.T) {
	cases := map[string]string{
		"role.changed":           "superauth.role.changed",
		"superauth.role.changed": "superauth.role.changed",
	}
	for in, want := range cases {
		if got := topicName("superauth", in); got != want {
			t.Fatalf("topicName(%q) = %q, want %q", in, got, want)
		}
	}
	if got := topicName("", "role.changed"); got != "role.changed" {
		t.Fatalf("expected unprefixed topic, got %q", got)
	}
}
