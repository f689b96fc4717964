package port

import (
	"context"
	"time"

	"github.com/dfedez920912/tbot-project/internal/core/domain"
)

// SessionStore persists authenticated chat sessions keyed by an opaque
// session key. Implementations must be safe for concurrent use and must
// serialize conflicting writes to the same key.
type SessionStore interface {
	// Get returns the session for key, or repository.ErrNotFound when the
	// session is absent or already expired. An expired session must behave
	// as absent on read without requiring deletion.
	Get(ctx context.Context, key string) (*domain.Session, error)

	// CreateOrReplace upserts the session, resetting CreatedAt and setting
	// ExpiresAt to now + extension.
	CreateOrReplace(ctx context.Context, key string, identity domain.Identity, extension time.Duration) error

	// Touch extends the session to now + extension. Returns
	// repository.ErrNotFound when the session does not exist.
	Touch(ctx context.Context, key string, extension time.Duration) error

	// Delete removes the session and reports how many records were removed
	// (0 or 1).
	Delete(ctx context.Context, key string) (int, error)
}
