package port

import (
	"context"

	"github.com/dfedez920912/tbot-project/internal/core/domain"
)

// EventPublisher emits audit events for downstream consumers. Publishing is
// best-effort from the engine's perspective.
type EventPublisher interface {
	PublishPasswordChanged(ctx context.Context, event domain.PasswordChangedEvent) error
	PublishSessionTerminated(ctx context.Context, event domain.SessionTerminatedEvent) error
	PublishUsersSynced(ctx context.Context, event domain.UsersSyncedEvent) error
}
