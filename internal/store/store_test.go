package store

import (
	"testing"

	"go.uber.org/zap"

	"github.com/hitalin/notedeck/internal/metrics"
	"github.com/hitalin/notedeck/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", zap.NewNop(), metrics.NewRegistry())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertAndGetAccount(t *testing.T) {
	s := newTestStore(t)

	acct := models.Account{
		ID:       "acct-1",
		Host:     "misskey.example.com",
		Token:    "secret-token",
		UserID:   "u1",
		Username: "alice",
		Software: "misskey",
	}
	if err := s.UpsertAccount(acct); err != nil {
		t.Fatalf("UpsertAccount: %v", err)
	}

	got, err := s.GetAccount("acct-1")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if got.Username != "alice" || got.Token != "secret-token" {
		t.Fatalf("got %+v, want matching round-trip", got)
	}

	if _, err := s.GetAccount("missing"); err == nil {
		t.Fatal("expected not-found error for missing account")
	}
}

func TestUpsertAccountConflictUpdates(t *testing.T) {
	s := newTestStore(t)

	base := models.Account{ID: "acct-1", Host: "h", Token: "t1", UserID: "u1", Username: "alice", Software: "misskey"}
	if err := s.UpsertAccount(base); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	updated := base
	updated.ID = "acct-2" // different id, same (host,user_id) -> conflict path updates the original row
	updated.Token = "t2"
	updated.Username = "alice2"
	if err := s.UpsertAccount(updated); err != nil {
		t.Fatalf("conflicting upsert: %v", err)
	}

	got, err := s.GetAccount("acct-1")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if got.Token != "t2" || got.Username != "alice2" {
		t.Fatalf("got %+v, want conflict-updated row", got)
	}
}

func TestCacheNotesAndSearch(t *testing.T) {
	s := newTestStore(t)

	text := "hello world from misskey"
	note := models.NormalizedNote{
		ID:         "n1",
		AccountID:  "acct-1",
		ServerHost: "misskey.example.com",
		CreatedAt:  "2026-01-01T00:00:00.000Z",
		Text:       &text,
	}
	if err := s.CacheNote(note); err != nil {
		t.Fatalf("CacheNote: %v", err)
	}

	timeline, err := s.GetCachedTimeline("acct-1", 10)
	if err != nil {
		t.Fatalf("GetCachedTimeline: %v", err)
	}
	if len(timeline) != 1 || timeline[0].ID != "n1" {
		t.Fatalf("got %+v, want single cached note", timeline)
	}

	results, err := s.SearchCachedNotes("acct-1", "world", 10)
	if err != nil {
		t.Fatalf("SearchCachedNotes: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}

	shortResults, err := s.SearchCachedNotes("acct-1", "wo", 10)
	if err != nil {
		t.Fatalf("SearchCachedNotes (short query): %v", err)
	}
	if len(shortResults) != 1 {
		t.Fatalf("got %d results for LIKE fallback, want 1", len(shortResults))
	}

	noResults, err := s.SearchCachedNotes("acct-1", "nonexistentword", 10)
	if err != nil {
		t.Fatalf("SearchCachedNotes (no match): %v", err)
	}
	if len(noResults) != 0 {
		t.Fatalf("got %d results, want 0", len(noResults))
	}
}

func TestServerUpsertAndGet(t *testing.T) {
	s := newTestStore(t)

	srv := models.StoredServer{Host: "misskey.example.com", Software: "misskey", Version: "13.0.0", FeaturesJSON: "{}", UpdatedAt: 1}
	if err := s.UpsertServer(srv); err != nil {
		t.Fatalf("UpsertServer: %v", err)
	}

	got, err := s.GetServer("misskey.example.com")
	if err != nil {
		t.Fatalf("GetServer: %v", err)
	}
	if got.Software != "misskey" {
		t.Fatalf("got %+v, want software=misskey", got)
	}

	if _, err := s.GetServer("unknown.example.com"); err == nil {
		t.Fatal("expected not-found error for unknown server")
	}
}
