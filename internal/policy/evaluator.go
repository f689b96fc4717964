// Package policy turns raw directory password metadata into a user-facing
// expiry verdict. Every failure path yields IsExpired=true: the evaluator
// never fails open.
package policy

import (
	"fmt"
	"time"

	"github.com/dfedez920912/tbot-project/internal/core/domain"
)

// ExpiryDateFormat renders expiry instants for user-facing reports.
const ExpiryDateFormat = "02/01/2006 15:04 UTC"

// Evaluate computes the expiry verdict for a password last set at lastSetAt
// under a policy window of policyDays, relative to now.
//
// DaysRemaining truncates toward negative infinity, so the instant of expiry
// still reports 0 and anything past it reports a negative count meaning
// "expired N days ago".
func Evaluate(email string, lastSetAt time.Time, policyDays int, now time.Time) domain.PasswordExpiryResult {
	result := domain.PasswordExpiryResult{Email: email, IsExpired: true}

	if policyDays <= 0 {
		result.Error = fmt.Sprintf("password policy window must be positive, got %d", policyDays)
		return result
	}
	if lastSetAt.IsZero() {
		result.Error = "password last-set timestamp is missing"
		return result
	}

	expiry := lastSetAt.UTC().AddDate(0, 0, policyDays)
	days := daysBetween(now.UTC(), expiry)

	result.ExpiryDate = &expiry
	result.DaysRemaining = &days
	result.IsExpired = days < 0
	return result
}

// daysBetween returns floor((until - from) / 24h).
func daysBetween(from, until time.Time) int {
	diff := until.Sub(from)
	days := diff / (24 * time.Hour)
	if diff < 0 && diff%(24*time.Hour) != 0 {
		days--
	}
	return int(days)
}
