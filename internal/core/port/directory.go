package port

import (
	"context"
	"time"

	"github.com/dfedez920912/tbot-project/internal/core/domain"
)

// Directory exposes the directory-service operations the engine depends on.
//
// Every membership or account-status check defaults to the restrictive
// outcome on any error: implementations return false, never an error, for
// those predicates. This is a security control, not a convenience.
type Directory interface {
	// Authenticate binds with the supplied credentials. True only on a
	// successful bind; any failure or protocol error yields false.
	Authenticate(ctx context.Context, username, password string) bool

	// ChangePassword replaces the password of the account resolved by email.
	// The result message is curated and safe to surface verbatim.
	ChangePassword(ctx context.Context, email, newPassword string) domain.PasswordChangeResult

	// FetchAllUsers runs a bounded search over all person accounts, opening a
	// fresh connection per attempt. After maxRetries exhausted attempts the
	// last error is returned; this is the only operation allowed to surface a
	// hard failure.
	FetchAllUsers(ctx context.Context, maxRetries int, retryDelay time.Duration) ([]domain.DirectoryUser, error)

	// IsGroupMember reports transitive membership of the account in the
	// configured privileged group. False on any error.
	IsGroupMember(ctx context.Context, email string) bool

	// IsAccountActive reports whether the account exists and its disabled
	// control bit is unset. False on any error.
	IsAccountActive(ctx context.Context, email string) bool

	// GetPasswordLastSet returns the instant the account password was last
	// set, decoding raw directory tick values when necessary.
	GetPasswordLastSet(ctx context.Context, email string) (time.Time, error)
}
