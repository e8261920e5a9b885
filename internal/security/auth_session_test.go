package security

import (
	"testing"
	"time"
)

func TestAuthSessionConsumeMissingIsReplay(t *testing.T) {
	tr := NewAuthSessionTracker()
	if err := tr.Consume("unknown", "example.com"); err == nil {
		t.Fatal("expected error for unknown session id")
	}
}

func TestAuthSessionConsumeTwiceFailsSecondTime(t *testing.T) {
	tr := NewAuthSessionTracker()
	tr.Register("sess-1", "example.com")

	if err := tr.Consume("sess-1", "example.com"); err != nil {
		t.Fatalf("first consume: %v", err)
	}
	if err := tr.Consume("sess-1", "example.com"); err == nil {
		t.Fatal("second consume should fail as replay")
	}
}

func TestAuthSessionConsumeHostMismatch(t *testing.T) {
	tr := NewAuthSessionTracker()
	tr.Register("sess-1", "example.com")

	if err := tr.Consume("sess-1", "other.com"); err == nil {
		t.Fatal("expected host mismatch error")
	}
}

func TestAuthSessionExpiry(t *testing.T) {
	cur := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return cur }
	tr := NewAuthSessionTrackerWithClock(clock)

	tr.Register("sess-1", "example.com")
	cur = cur.Add(16 * time.Minute)

	if err := tr.Consume("sess-1", "example.com"); err == nil {
		t.Fatal("expected expiry error after 16 minutes")
	}
}

func TestAuthSessionRegisterPurgesExpired(t *testing.T) {
	cur := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return cur }
	tr := NewAuthSessionTrackerWithClock(clock)

	tr.Register("old", "example.com")
	cur = cur.Add(20 * time.Minute)
	tr.Register("new", "example.com")

	if err := tr.Consume("old", "example.com"); err == nil {
		t.Fatal("expected old session to have been purged")
	}
	if err := tr.Consume("new", "example.com"); err != nil {
		t.Fatalf("new session should still be valid: %v", err)
	}
}
