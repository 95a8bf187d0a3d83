package enums

import (
	"testing"
	"time"
)

func TestSubscriptionStatusTerminality(t *testing.T) {
	for _, status := range NonTerminalSubscriptionStatuses {
		if status.IsTerminal() {
			t.Fatalf("status %s should not be terminal", status)
		}
	}
	if !SubscriptionStatusCancelled.IsTerminal() {
		t.Fatalf("cancelled should be terminal")
	}
	if !SubscriptionStatusExpired.IsTerminal() {
		t.Fatalf("expired should be terminal")
	}
}

func TestSubscriptionStatusGrantsAccess(t *testing.T) {
	if !SubscriptionStatusActive.GrantsAccess() || !SubscriptionStatusTrialing.GrantsAccess() {
		t.Fatalf("active and trialing should grant access")
	}
	if SubscriptionStatusPendingPayment.GrantsAccess() || SubscriptionStatusPastDue.GrantsAccess() {
		t.Fatalf("pending_payment and past_due should not grant access")
	}
}

func TestParseSubscriptionStatus(t *testing.T) {
	if _, err := ParseSubscriptionStatus("active"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ParseSubscriptionStatus("paused"); err == nil {
		t.Fatalf("expected error for unknown status")
	}
}

func TestBillingPeriodAdvance(t *testing.T) {
	from := time.Date(2026, 1, 31, 12, 0, 0, 0, time.UTC)
	if got := BillingPeriodAnnual.Advance(from); got.Year() != 2027 {
		t.Fatalf("annual advance should move a year forward, got %v", got)
	}
	if got := BillingPeriodMonthly.Advance(from); !got.After(from) {
		t.Fatalf("monthly advance should move forward, got %v", got)
	}
}
