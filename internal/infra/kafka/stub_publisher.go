package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dfedez920912/tbot-project/internal/core/domain"
	"github.com/dfedez920912/tbot-project/internal/infra/logger"
)

// StubPublisher logs events instead of sending them to Kafka. Used when no
// brokers are configured.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a development-friendly event publisher.
func NewStubPublisher(log *zap.Logger) *StubPublisher {
	return &StubPublisher{logger: log}
}

func (p *StubPublisher) logEvent(eventType string, at time.Time, fields ...zap.Field) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	fields = append(fields,
		zap.String("event_type", eventType),
		zap.Time("timestamp", at.UTC()),
	)
	p.logger.Info("Stub event published", fields...)
}

// PublishPasswordChanged logs tbot.password.changed events.
func (p *StubPublisher) PublishPasswordChanged(_ context.Context, event domain.PasswordChangedEvent) error {
	p.logEvent("tbot.password.changed", event.ChangedAt,
		zap.String("email", logger.MaskEmail(event.Email)),
		zap.String("changed_by", logger.MaskEmail(event.ChangedBy)),
		zap.String("via", event.Via),
	)
	return nil
}

// PublishSessionTerminated logs tbot.session.terminated events.
func (p *StubPublisher) PublishSessionTerminated(_ context.Context, event domain.SessionTerminatedEvent) error {
	p.logEvent("tbot.session.terminated", event.At,
		zap.String("session_key", event.SessionKey),
		zap.Int("removed", event.Removed),
	)
	return nil
}

// PublishUsersSynced logs tbot.users.synced events.
func (p *StubPublisher) PublishUsersSynced(_ context.Context, event domain.UsersSyncedEvent) error {
	p.logEvent("tbot.users.synced", event.SyncedAt,
		zap.Int("count", event.Count),
	)
	return nil
}
