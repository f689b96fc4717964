package port

import "context"

// Notifier delivers best-effort email notifications after a password change
// has committed. Failures are logged by the caller and never affect the
// primary outcome.
type Notifier interface {
	// NotifyUserChanged informs the affected user, including the new
	// password so locked-out users can recover it from their mailbox.
	NotifyUserChanged(ctx context.Context, email, newPassword string) error

	// NotifyAdminsChanged informs administrators that affectedEmail changed
	// its password. The password itself is never transmitted.
	NotifyAdminsChanged(ctx context.Context, adminEmails []string, affectedEmail string) error
}
