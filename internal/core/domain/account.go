package domain

import "time"

// DirectoryUser is an account entry as the directory reports it. Phone is
// stored without a leading plus so contact-card numbers compare cleanly.
type DirectoryUser struct {
	Username string
	Name     string
	Email    string
	Phone    string
}

// PasswordChangeResult carries the outcome of a directory password
// modification. Message is curated by the directory client and is safe to
// show to the end user verbatim.
type PasswordChangeResult struct {
	Success bool
	Message string
}

// PasswordExpiryResult is the evaluated expiry status of one account.
// When Error is set, ExpiryDate and DaysRemaining are nil and IsExpired is
// true: an account whose status cannot be determined is treated as expired.
type PasswordExpiryResult struct {
	Email         string
	ExpiryDate    *time.Time
	DaysRemaining *int
	IsExpired     bool
	Error         string
}
