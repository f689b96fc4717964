package domain

import "time"

// PasswordChangedEvent is published after a directory password modification
// committed. It never carries the new password.
type PasswordChangedEvent struct {
	EventID   string
	Email     string
	ChangedBy string
	Via       string
	ChangedAt time.Time
}

// SessionTerminatedEvent records an explicit session deletion.
type SessionTerminatedEvent struct {
	EventID    string
	SessionKey string
	Email      string
	Removed    int
	At         time.Time
}

// UsersSyncedEvent records a completed bulk directory-to-cache sync.
type UsersSyncedEvent struct {
	EventID  string
	Count    int
	SyncedAt time.Time
}
