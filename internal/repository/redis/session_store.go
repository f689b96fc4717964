package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/dfedez920912/tbot-project/internal/core/domain"
	"github.com/dfedez920912/tbot-project/internal/repository"
)

const defaultSessionPrefix = "tbot:session"

// SessionStore keeps authenticated chat sessions in Redis. The key TTL is
// the session expiration, which makes Touch a single atomic PEXPIRE and
// guarantees expired sessions are absent on read without a sweeper.
type SessionStore struct {
	client *red.Client
	prefix string
}

type sessionPayload struct {
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// NewSessionStore constructs a Redis-backed session store.
func NewSessionStore(client *red.Client, keyPrefix string) *SessionStore {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultSessionPrefix
	}
	return &SessionStore{client: client, prefix: prefix}
}

// Get returns the session for key, or repository.ErrNotFound when absent or
// expired. ExpiresAt is reconstructed from the key's remaining TTL.
func (s *SessionStore) Get(ctx context.Context, key string) (*domain.Session, error) {
	redisKey, err := s.key(key)
	if err != nil {
		return nil, err
	}

	pipe := s.client.Pipeline()
	getCmd := pipe.Get(ctx, redisKey)
	ttlCmd := pipe.PTTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		if errors.Is(err, red.Nil) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("redis get session: %w", err)
	}

	var payload sessionPayload
	if err := json.Unmarshal([]byte(getCmd.Val()), &payload); err != nil {
		return nil, fmt.Errorf("decode session payload: %w", err)
	}

	ttl := ttlCmd.Val()
	if ttl < 0 {
		return nil, repository.ErrNotFound
	}

	return &domain.Session{
		Key:       key,
		Identity:  domain.Identity{Name: payload.Name, Email: payload.Email},
		CreatedAt: payload.CreatedAt,
		ExpiresAt: time.Now().UTC().Add(ttl),
	}, nil
}

// CreateOrReplace upserts the session with a fresh CreatedAt and a TTL of
// extension. SET with expiration is atomic per key.
func (s *SessionStore) CreateOrReplace(ctx context.Context, key string, identity domain.Identity, extension time.Duration) error {
	redisKey, err := s.key(key)
	if err != nil {
		return err
	}
	if extension <= 0 {
		return fmt.Errorf("session extension must be positive")
	}

	payload, err := json.Marshal(sessionPayload{
		Name:      identity.Name,
		Email:     identity.Email,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode session payload: %w", err)
	}

	if err := s.client.Set(ctx, redisKey, payload, extension).Err(); err != nil {
		return fmt.Errorf("redis set session: %w", err)
	}
	return nil
}

// Touch extends the session to now + extension. PEXPIRE reports whether the
// key existed, so a missing session maps to repository.ErrNotFound.
func (s *SessionStore) Touch(ctx context.Context, key string, extension time.Duration) error {
	redisKey, err := s.key(key)
	if err != nil {
		return err
	}
	if extension <= 0 {
		return fmt.Errorf("session extension must be positive")
	}

	ok, err := s.client.PExpire(ctx, redisKey, extension).Result()
	if err != nil {
		return fmt.Errorf("redis touch session: %w", err)
	}
	if !ok {
		return repository.ErrNotFound
	}
	return nil
}

// Delete removes the session and returns the number of removed records.
func (s *SessionStore) Delete(ctx context.Context, key string) (int, error) {
	redisKey, err := s.key(key)
	if err != nil {
		return 0, err
	}

	removed, err := s.client.Del(ctx, redisKey).Result()
	if err != nil {
		return 0, fmt.Errorf("redis delete session: %w", err)
	}
	return int(removed), nil
}

func (s *SessionStore) key(sessionKey string) (string, error) {
	trimmed := strings.TrimSpace(sessionKey)
	if trimmed == "" {
		return "", fmt.Errorf("session key is required")
	}
	return fmt.Sprintf("%s:%s", s.prefix, trimmed), nil
}
