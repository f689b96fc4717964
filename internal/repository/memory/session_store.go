// Package memory provides in-process implementations of the repository
// ports, used in development and as the reference implementation in engine
// tests.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dfedez920912/tbot-project/internal/core/domain"
	"github.com/dfedez920912/tbot-project/internal/repository"
)

// SessionStore keeps sessions in a mutex-guarded map. Expired sessions are
// treated as absent on read but are not eagerly removed; CreateOrReplace
// reuses the slot.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]domain.Session
	now      func() time.Time
}

// NewSessionStore constructs an empty in-memory session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]domain.Session),
		now:      time.Now,
	}
}

// WithClock overrides the time source, primarily for tests.
func (s *SessionStore) WithClock(now func() time.Time) *SessionStore {
	if now != nil {
		s.now = now
	}
	return s
}

// Get returns the session for key, or repository.ErrNotFound when absent or
// expired.
func (s *SessionStore) Get(_ context.Context, key string) (*domain.Session, error) {
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("session key is required")
	}

	s.mu.RLock()
	session, ok := s.sessions[key]
	s.mu.RUnlock()

	if !ok || !session.IsValid(s.now()) {
		return nil, repository.ErrNotFound
	}

	copied := session
	return &copied, nil
}

// CreateOrReplace upserts the session, resetting CreatedAt and ExpiresAt.
func (s *SessionStore) CreateOrReplace(_ context.Context, key string, identity domain.Identity, extension time.Duration) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("session key is required")
	}
	if extension <= 0 {
		return fmt.Errorf("session extension must be positive")
	}

	now := s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[key] = domain.Session{
		Key:       key,
		Identity:  identity,
		CreatedAt: now,
		ExpiresAt: now.Add(extension),
	}
	return nil
}

// Touch extends an existing, still valid session to now + extension.
func (s *SessionStore) Touch(_ context.Context, key string, extension time.Duration) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("session key is required")
	}
	if extension <= 0 {
		return fmt.Errorf("session extension must be positive")
	}

	now := s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[key]
	if !ok || !session.IsValid(now) {
		return repository.ErrNotFound
	}

	session.ExpiresAt = now.Add(extension)
	s.sessions[key] = session
	return nil
}

// Delete removes the session and reports the removed count.
func (s *SessionStore) Delete(_ context.Context, key string) (int, error) {
	if strings.TrimSpace(key) == "" {
		return 0, fmt.Errorf("session key is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[key]; !ok {
		return 0, nil
	}
	delete(s.sessions, key)
	return 1, nil
}
