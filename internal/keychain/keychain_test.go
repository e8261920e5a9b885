package keychain

import (
	"testing"

	"github.com/zalando/go-keyring"

	"go.uber.org/zap"

	"github.com/hitalin/notedeck/internal/metrics"
	"github.com/hitalin/notedeck/internal/models"
	"github.com/hitalin/notedeck/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:", zap.NewNop(), metrics.NewRegistry())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetCredentialsMigratesRowTokenIntoKeychain(t *testing.T) {
	keyring.MockInit()

	s := newTestStore(t)
	acct := models.Account{ID: "acct-1", Host: "misskey.example.com", Token: "row-token", UserID: "u1", Username: "alice", Software: "misskey"}
	if err := s.UpsertAccount(acct); err != nil {
		t.Fatalf("UpsertAccount: %v", err)
	}

	b := New(s)
	host, token, err := b.GetCredentials("acct-1")
	if err != nil {
		t.Fatalf("GetCredentials: %v", err)
	}
	if host != "misskey.example.com" || token != "row-token" {
		t.Fatalf("got (%q, %q), want row token surfaced on first call", host, token)
	}

	got, err := s.GetAccount("acct-1")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if got.Token != "" {
		t.Fatalf("row token should have been cleared after keychain migration, got %q", got.Token)
	}

	// Second call should now hit the keychain path.
	host2, token2, err := b.GetCredentials("acct-1")
	if err != nil {
		t.Fatalf("GetCredentials (second call): %v", err)
	}
	if host2 != "misskey.example.com" || token2 != "row-token" {
		t.Fatalf("got (%q, %q) on second call, want keychain-backed token", host2, token2)
	}
}

func TestGetCredentialsNoTokenAnywhereIsAuthFault(t *testing.T) {
	keyring.MockInit()

	s := newTestStore(t)
	acct := models.Account{ID: "acct-1", Host: "misskey.example.com", UserID: "u1", Username: "alice", Software: "misskey"}
	if err := s.UpsertAccount(acct); err != nil {
		t.Fatalf("UpsertAccount: %v", err)
	}

	b := New(s)
	if _, _, err := b.GetCredentials("acct-1"); err == nil {
		t.Fatal("expected auth fault when no token exists anywhere")
	}
}

func TestGetCredentialsUnknownAccount(t *testing.T) {
	keyring.MockInit()

	s := newTestStore(t)
	b := New(s)
	if _, _, err := b.GetCredentials("nope"); err == nil {
		t.Fatal("expected not-found error for unknown account")
	}
}
