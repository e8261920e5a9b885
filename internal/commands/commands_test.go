package commands

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/zalando/go-keyring"
	"go.uber.org/zap"

	"github.com/hitalin/notedeck/internal/config"
	"github.com/hitalin/notedeck/internal/eventbus"
	"github.com/hitalin/notedeck/internal/keychain"
	"github.com/hitalin/notedeck/internal/metrics"
	"github.com/hitalin/notedeck/internal/models"
	"github.com/hitalin/notedeck/internal/security"
	"github.com/hitalin/notedeck/internal/store"
	"github.com/hitalin/notedeck/internal/streaming"
	"github.com/hitalin/notedeck/internal/upstream"
)

// fakeUpstreamHost is a non-loopback-looking name that satisfies
// security.ValidateHost; requests to it are redirected to the httptest
// server's real loopback listener below.
const fakeUpstreamHost = "upstream.test"

// redirectingClient builds an *http.Client that accepts any ServerName
// but always dials srv's actual listener, so tests can exercise
// ValidateHost with a realistic hostname while still hitting an
// httptest.Server bound to 127.0.0.1.
func redirectingClient(srv *httptest.Server) *http.Client {
	transport := srv.Client().Transport.(*http.Transport).Clone()
	realAddr := srv.Listener.Addr().String()
	transport.DialTLSContext = func(ctx context.Context, network, _ string) (net.Conn, error) {
		dialer := tls.Dialer{Config: &tls.Config{InsecureSkipVerify: true}}
		return dialer.DialContext(ctx, network, realAddr)
	}
	return &http.Client{Transport: transport, Timeout: srv.Client().Timeout}
}

func newTestService(t *testing.T, handler http.HandlerFunc) (*Service, string) {
	t.Helper()
	keyring.MockInit()

	srv := httptest.NewTLSServer(handler)
	t.Cleanup(srv.Close)

	st, err := store.Open(":memory:", zap.NewNop(), metrics.NewRegistry())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	up := upstream.New(upstream.Config{})
	up.SetHTTPClientForTesting(redirectingClient(srv))

	sm := streaming.New(config.StreamingConfig{}, eventbus.New(), st, zap.NewNop(), metrics.NewRegistry())
	kc := keychain.New(st)
	sessions := security.NewAuthSessionTracker()

	svc := New(st, kc, up, sm, sessions)
	return svc, fakeUpstreamHost
}

func TestCompleteAuthCreatesAccountAndStoresToken(t *testing.T) {
	svc, host := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"ok":    true,
			"token": "tok-123",
			"user":  map[string]interface{}{"id": "u1", "username": "alice"},
		})
	})

	session, err := svc.StartAuth(host)
	if err != nil {
		t.Fatalf("StartAuth: %v", err)
	}
	if session.URL == "" || session.SessionID == "" {
		t.Fatal("expected a populated auth session")
	}

	account, err := svc.CompleteAuth(context.Background(), session.SessionID, host)
	if err != nil {
		t.Fatalf("CompleteAuth: %v", err)
	}
	if account.Username != "alice" || account.Host != host {
		t.Fatalf("got %+v, want the new account persisted", account)
	}

	stored, err := svc.AccountIDForHost(host)
	if err != nil || stored != account.ID {
		t.Fatalf("AccountIDForHost: got (%q, %v), want %q", stored, err, account.ID)
	}

	_, token, err := svc.Credentials(account.ID)
	if err != nil || token != "tok-123" {
		t.Fatalf("Credentials: got (%q, %v), want the keychain-stored token", token, err)
	}
}

func TestCompleteAuthRejectsReplayedSession(t *testing.T) {
	svc, host := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"ok":    true,
			"token": "tok-123",
			"user":  map[string]interface{}{"id": "u1", "username": "alice"},
		})
	})

	session, err := svc.StartAuth(host)
	if err != nil {
		t.Fatalf("StartAuth: %v", err)
	}
	if _, err := svc.CompleteAuth(context.Background(), session.SessionID, host); err != nil {
		t.Fatalf("first CompleteAuth: %v", err)
	}
	if _, err := svc.CompleteAuth(context.Background(), session.SessionID, host); err == nil {
		t.Fatal("expected the second completion of the same session to fail")
	}
}

func TestDeleteAccountRemovesStoreAndKeychainEntries(t *testing.T) {
	svc, _ := newTestService(t, func(w http.ResponseWriter, r *http.Request) {})

	account := models.Account{ID: "acct-1", Host: "example.social", UserID: "u1", Username: "alice", Software: "misskey"}
	if err := svc.store.UpsertAccount(account); err != nil {
		t.Fatalf("UpsertAccount: %v", err)
	}
	if err := svc.keychain.StoreToken(account.ID, "tok"); err != nil {
		t.Fatalf("StoreToken: %v", err)
	}

	if err := svc.DeleteAccount(context.Background(), account.ID); err != nil {
		t.Fatalf("DeleteAccount: %v", err)
	}

	if _, err := svc.store.GetAccount(account.ID); err == nil {
		t.Fatal("expected account row to be gone")
	}
	if _, _, err := svc.keychain.GetCredentials(account.ID); err == nil {
		t.Fatal("expected no credentials after deletion")
	}
}

func TestAccountIDForHostNotFound(t *testing.T) {
	svc, _ := newTestService(t, func(w http.ResponseWriter, r *http.Request) {})

	if _, err := svc.AccountIDForHost("nowhere.example"); err == nil {
		t.Fatal("expected an error for an unknown host")
	}
}

func TestStartAuthRejectsSSRFDenylistedHost(t *testing.T) {
	svc, _ := newTestService(t, func(w http.ResponseWriter, r *http.Request) {})

	if _, err := svc.StartAuth("127.0.0.1"); err == nil {
		t.Fatal("expected StartAuth to reject a loopback host")
	}
}
