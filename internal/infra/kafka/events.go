package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atbmarket/account-service/internal/core/domain"
	"github.com/atbmarket/account-service/internal/core/port"
	"github.com/atbmarket/account-service/internal/infra/config"
)

const schemaVersion = "1.0"

// EventPublisher implements port.EventPublisher using Kafka.
type EventPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

// NewEventPublisher constructs a Kafka-backed event publisher.
func NewEventPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *EventPublisher {
	return &EventPublisher{producer: producer, appCfg: appCfg, logger: logger}
}

type eventEnvelope struct {
	EventID   string            `json:"event_id"`
	EventType string            `json:"event_type"`
	UserID    string            `json:"user_id,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Payload   any               `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func (p *EventPublisher) publish(ctx context.Context, eventID, eventType, userID string, ts time.Time, payload any) error {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	id := eventID
	if id == "" {
		id = uuid.NewString()
	}

	envelope := eventEnvelope{
		EventID:   id,
		EventType: eventType,
		UserID:    userID,
		Timestamp: ts.UTC(),
		Version:   schemaVersion,
		Payload:   payload,
		Metadata: map[string]string{
			"service":     p.appCfg.Name,
			"environment": p.appCfg.Env,
		},
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.producer.TopicName(eventType),
		Value: sarama.ByteEncoder(bytes),
	}

	select {
	case p.producer.Producer().Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishUserRegistered publishes account.user.registered events.
func (p *EventPublisher) PublishUserRegistered(ctx context.Context, event domain.UserRegisteredEvent) error {
	payload := struct {
		UserID       string    `json:"user_id"`
		Username     string    `json:"username"`
		Email        string    `json:"email"`
		Phone        *string   `json:"phone,omitempty"`
		HasImage     bool      `json:"has_image"`
		RegisteredAt time.Time `json:"registered_at"`
	}{
		UserID:       event.UserID,
		Username:     event.Username,
		Email:        event.Email,
		Phone:        event.Phone,
		HasImage:     event.HasImage,
		RegisteredAt: event.RegisteredAt.UTC(),
	}

	return p.publish(ctx, event.EventID, "user.registered", event.UserID, event.RegisteredAt, payload)
}

// PublishUserUpdated publishes account.user.updated events.
func (p *EventPublisher) PublishUserUpdated(ctx context.Context, event domain.UserUpdatedEvent) error {
	payload := struct {
		UserID        string    `json:"user_id"`
		ChangedFields []string  `json:"changed_fields"`
		UpdatedAt     time.Time `json:"updated_at"`
	}{
		UserID:        event.UserID,
		ChangedFields: event.ChangedFields,
		UpdatedAt:     event.UpdatedAt.UTC(),
	}

	return p.publish(ctx, event.EventID, "user.updated", event.UserID, event.UpdatedAt, payload)
}

// PublishUserDeleted publishes account.user.deleted events.
func (p *EventPublisher) PublishUserDeleted(ctx context.Context, event domain.UserDeletedEvent) error {
	payload := struct {
		UserID    string    `json:"user_id"`
		Username  string    `json:"username"`
		DeletedAt time.Time `json:"deleted_at"`
	}{
		UserID:    event.UserID,
		Username:  event.Username,
		DeletedAt: event.DeletedAt.UTC(),
	}

	return p.publish(ctx, event.EventID, "user.deleted", event.UserID, event.DeletedAt, payload)
}

var _ port.EventPublisher = (*EventPublisher)(nil)
