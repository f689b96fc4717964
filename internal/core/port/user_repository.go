package port

import (
	"context"

	"github.com/dfedez920912/tbot-project/internal/core/domain"
)

// UserRepository is the local cache of directory accounts refreshed by the
// bulk sync job and consulted during contact authentication.
type UserRepository interface {
	// GetByPhone resolves a cached user by phone number, returning
	// repository.ErrNotFound when no user matches.
	GetByPhone(ctx context.Context, phone string) (*domain.DirectoryUser, error)

	// ReplaceAll atomically swaps the cache contents for the supplied set and
	// returns the number of inserted rows.
	ReplaceAll(ctx context.Context, users []domain.DirectoryUser) (int, error)
}
