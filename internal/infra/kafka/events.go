package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dfedez920912/tbot-project/internal/core/domain"
	"github.com/dfedez920912/tbot-project/internal/infra/config"
	"github.com/dfedez920912/tbot-project/internal/infra/logger"
)

const schemaVersion = "1.0"

// EventPublisher implements port.EventPublisher using Kafka.
type EventPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

// NewEventPublisher constructs a Kafka-backed event publisher.
func NewEventPublisher(producer *Producer, appCfg config.AppSettings, log *zap.Logger) *EventPublisher {
	return &EventPublisher{producer: producer, appCfg: appCfg, logger: log}
}

type eventEnvelope struct {
	EventID   string            `json:"event_id"`
	EventType string            `json:"event_type"`
	Actor     string            `json:"actor,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Payload   any               `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func (p *EventPublisher) publish(ctx context.Context, eventID, eventType, actor string, ts time.Time, payload any) error {
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
		Actor:     actor,
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

// PublishPasswordChanged publishes tbot.password.changed events. The
// affected address is masked; the new password never enters the payload.
func (p *EventPublisher) PublishPasswordChanged(ctx context.Context, event domain.PasswordChangedEvent) error {
	payload := struct {
		Email     string    `json:"email"`
		ChangedBy string    `json:"changed_by"`
		Via       string    `json:"via"`
		ChangedAt time.Time `json:"changed_at"`
	}{
		Email:     logger.MaskEmail(event.Email),
		ChangedBy: logger.MaskEmail(event.ChangedBy),
		Via:       event.Via,
		ChangedAt: event.ChangedAt.UTC(),
	}

	return p.publish(ctx, event.EventID, "tbot.password.changed", event.ChangedBy, event.ChangedAt, payload)
}

// PublishSessionTerminated publishes tbot.session.terminated events.
func (p *EventPublisher) PublishSessionTerminated(ctx context.Context, event domain.SessionTerminatedEvent) error {
	payload := struct {
		SessionKey string    `json:"session_key"`
		Email      string    `json:"email,omitempty"`
		Removed    int       `json:"removed"`
		At         time.Time `json:"at"`
	}{
		SessionKey: event.SessionKey,
		Email:      logger.MaskEmail(event.Email),
		Removed:    event.Removed,
		At:         event.At.UTC(),
	}

	return p.publish(ctx, event.EventID, "tbot.session.terminated", event.Email, event.At, payload)
}

// PublishUsersSynced publishes tbot.users.synced events.
func (p *EventPublisher) PublishUsersSynced(ctx context.Context, event domain.UsersSyncedEvent) error {
	payload := struct {
		Count    int       `json:"count"`
		SyncedAt time.Time `json:"synced_at"`
	}{
		Count:    event.Count,
		SyncedAt: event.SyncedAt.UTC(),
	}

	return p.publish(ctx, event.EventID, "tbot.users.synced", "", event.SyncedAt, payload)
}
