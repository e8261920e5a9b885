package security

import (
	"sync"
	"time"

	"github.com/hitalin/notedeck/internal/errs"
)

const authSessionTTL = 15 * time.Minute

type sessionRecord struct {
	host      string
	createdAt time.Time
}

// AuthSessionTracker holds in-flight MiAuth sessions awaiting user
// approval. now is overridable so tests can simulate expiry without
// sleeping.
type AuthSessionTracker struct {
	mu   sync.Mutex
	data map[string]sessionRecord
	now  func() time.Time
}

// NewAuthSessionTracker creates an empty tracker using the wall clock.
func NewAuthSessionTracker() *AuthSessionTracker {
	return &AuthSessionTracker{
		data: make(map[string]sessionRecord),
		now:  time.Now,
	}
}

// NewAuthSessionTrackerWithClock creates a tracker driven by a caller
// supplied clock, for deterministic expiry tests.
func NewAuthSessionTrackerWithClock(now func() time.Time) *AuthSessionTracker {
	return &AuthSessionTracker{
		data: make(map[string]sessionRecord),
		now:  now,
	}
}

// Register purges expired sessions, then records a fresh one for id/host.
func (t *AuthSessionTracker) Register(sessionID, host string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.purgeLocked()
	t.data[sessionID] = sessionRecord{host: host, createdAt: t.now()}
}

// Consume removes and validates a session in one critical section: a
// missing id is a replay, an expired id is stale, and a host mismatch is
// rejected even if the id is otherwise valid.
func (t *AuthSessionTracker) Consume(sessionID, host string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.data[sessionID]
	if !ok {
		return errs.InvalidInput("auth session not found or already consumed")
	}
	delete(t.data, sessionID)

	if t.now().Sub(rec.createdAt) > authSessionTTL {
		return errs.InvalidInput("auth session expired")
	}
	if rec.host != host {
		return errs.InvalidInput("auth session host mismatch")
	}
	return nil
}

// purgeLocked removes stale entries. Caller must hold t.mu.
func (t *AuthSessionTracker) purgeLocked() {
	cutoff := t.now().Add(-authSessionTTL)
	for id, rec := range t.data {
		if rec.createdAt.Before(cutoff) {
			delete(t.data, id)
		}
	}
}
