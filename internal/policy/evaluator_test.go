package policy

import (
	"testing"
	"time"
)

func TestEvaluateAtExactExpiry(t *testing.T) {
	now := time.Date(2024, time.April, 1, 12, 0, 0, 0, time.UTC)
	lastSet := now.AddDate(0, 0, -90)

	result := Evaluate("user@example.com", lastSet, 90, now)

	if result.Error != "" {
		t.Fatalf("unexpected error: %s", result.Error)
	}
	if result.DaysRemaining == nil || *result.DaysRemaining != 0 {
		t.Fatalf("DaysRemaining = %v, want 0", result.DaysRemaining)
	}
	if result.IsExpired {
		t.Fatal("password at exact expiry instant must not be expired")
	}
	if result.ExpiryDate == nil || !result.ExpiryDate.Equal(now) {
		t.Fatalf("ExpiryDate = %v, want %v", result.ExpiryDate, now)
	}
}

func TestEvaluateOneDayPastExpiry(t *testing.T) {
	now := time.Date(2024, time.April, 1, 12, 0, 0, 0, time.UTC)
	lastSet := now.AddDate(0, 0, -91)

	result := Evaluate("user@example.com", lastSet, 90, now)

	if result.DaysRemaining == nil || *result.DaysRemaining != -1 {
		t.Fatalf("DaysRemaining = %v, want -1", result.DaysRemaining)
	}
	if !result.IsExpired {
		t.Fatal("password one day past expiry must be expired")
	}
}

func TestEvaluateOneTickPastExpiry(t *testing.T) {
	now := time.Date(2024, time.April, 1, 12, 0, 0, 0, time.UTC)
	lastSet := now.AddDate(0, 0, -90).Add(-time.Second)

	result := Evaluate("user@example.com", lastSet, 90, now)

	if result.DaysRemaining == nil || *result.DaysRemaining != -1 {
		t.Fatalf("DaysRemaining = %v, want -1 just past the boundary", result.DaysRemaining)
	}
	if !result.IsExpired {
		t.Fatal("password past expiry instant must be expired")
	}
}

func TestEvaluateCurrentPassword(t *testing.T) {
	now := time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC)
	lastSet := now.AddDate(0, 0, -30)

	result := Evaluate("user@example.com", lastSet, 90, now)

	if result.IsExpired {
		t.Fatal("password 30 days into a 90 day window must not be expired")
	}
	if result.DaysRemaining == nil || *result.DaysRemaining != 60 {
		t.Fatalf("DaysRemaining = %v, want 60", result.DaysRemaining)
	}
}

func TestEvaluateRejectsNonPositivePolicy(t *testing.T) {
	now := time.Now().UTC()
	for _, policyDays := range []int{0, -5} {
		result := Evaluate("user@example.com", now, policyDays, now)
		if !result.IsExpired {
			t.Fatalf("policyDays=%d must fail closed as expired", policyDays)
		}
		if result.Error == "" {
			t.Fatalf("policyDays=%d must carry a diagnostic", policyDays)
		}
		if result.ExpiryDate != nil || result.DaysRemaining != nil {
			t.Fatalf("policyDays=%d must leave computed fields unset", policyDays)
		}
	}
}

func TestEvaluateRejectsMissingTimestamp(t *testing.T) {
	result := Evaluate("user@example.com", time.Time{}, 90, time.Now().UTC())
	if !result.IsExpired || result.Error == "" {
		t.Fatalf("missing timestamp must fail closed with a diagnostic, got %+v", result)
	}
}
