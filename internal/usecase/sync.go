package usecase

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dfedez920912/tbot-project/internal/core/domain"
	"github.com/dfedez920912/tbot-project/internal/core/port"
)

// SyncService refreshes the local user cache from the directory. It backs
// the scheduled bulk sync job and is the one path allowed to surface a hard
// directory failure.
type SyncService struct {
	directory  port.Directory
	users      port.UserRepository
	publisher  port.EventPublisher
	logger     *zap.Logger
	maxRetries int
	retryDelay time.Duration
	now        func() time.Time
}

// NewSyncService constructs the bulk sync job.
func NewSyncService(
	directory port.Directory,
	users port.UserRepository,
	publisher port.EventPublisher,
	log *zap.Logger,
	maxRetries int,
	retryDelay time.Duration,
) *SyncService {
	if log == nil {
		log = zap.NewNop()
	}
	return &SyncService{
		directory:  directory,
		users:      users,
		publisher:  publisher,
		logger:     log,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		now:        time.Now,
	}
}

// Run fetches all directory accounts and swaps the cache contents. It
// returns the number of cached users.
func (s *SyncService) Run(ctx context.Context) (int, error) {
	started := s.now()

	users, err := s.directory.FetchAllUsers(ctx, s.maxRetries, s.retryDelay)
	if err != nil {
		return 0, fmt.Errorf("fetch directory users: %w", err)
	}

	count, err := s.users.ReplaceAll(ctx, users)
	if err != nil {
		return 0, fmt.Errorf("replace user cache: %w", err)
	}

	s.logger.Info("user cache synced",
		zap.Int("fetched", len(users)),
		zap.Int("cached", count),
		zap.Duration("elapsed", s.now().Sub(started)),
	)

	if err := s.publisher.PublishUsersSynced(ctx, domain.UsersSyncedEvent{
		Count:    count,
		SyncedAt: s.now().UTC(),
	}); err != nil {
		s.logger.Warn("users synced event publish failed", zap.Error(err))
	}

	return count, nil
}
