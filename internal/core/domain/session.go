package domain

import "time"

// Identity is the authenticated principal a session is bound to. It is set
// once during contact authentication and never mutated afterwards.
type Identity struct {
	Name  string
	Email string
}

// Session binds an opaque chat-derived key to an authenticated directory
// identity with a sliding expiration window.
type Session struct {
	Key       string
	Identity  Identity
	CreatedAt time.Time
	ExpiresAt time.Time
}

// IsValid reports whether the session is still authenticated at the supplied
// moment. A session is valid iff now <= ExpiresAt.
func (s Session) IsValid(at time.Time) bool {
	return !at.After(s.ExpiresAt)
}
