package gateway

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zalando/go-keyring"
	"go.uber.org/zap"

	"github.com/hitalin/notedeck/internal/bridge"
	"github.com/hitalin/notedeck/internal/commands"
	"github.com/hitalin/notedeck/internal/config"
	"github.com/hitalin/notedeck/internal/eventbus"
	"github.com/hitalin/notedeck/internal/imagecache"
	"github.com/hitalin/notedeck/internal/keychain"
	"github.com/hitalin/notedeck/internal/metrics"
	"github.com/hitalin/notedeck/internal/models"
	"github.com/hitalin/notedeck/internal/security"
	"github.com/hitalin/notedeck/internal/store"
	"github.com/hitalin/notedeck/internal/streaming"
	"github.com/hitalin/notedeck/internal/upstream"
)

func newTestServer(t *testing.T, upstreamHandler http.HandlerFunc) (*Server, string) {
	t.Helper()
	keyring.MockInit()

	var upstreamSrv *httptest.Server
	if upstreamHandler != nil {
		upstreamSrv = httptest.NewTLSServer(upstreamHandler)
		t.Cleanup(upstreamSrv.Close)
	}

	st, err := store.Open(":memory:", zap.NewNop(), metrics.NewRegistry())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	up := upstream.New(upstream.Config{})
	if upstreamSrv != nil {
		up.SetHTTPClientForTesting(upstreamSrv.Client())
	}

	bus := eventbus.New()
	sm := streaming.New(config.StreamingConfig{}, bus, st, zap.NewNop(), metrics.NewRegistry())
	kc := keychain.New(st)
	sessions := security.NewAuthSessionTracker()
	svc := commands.New(st, kc, up, sm, sessions)

	images, err := imagecache.New(t.TempDir(), 5*time.Second, zap.NewNop(), metrics.NewRegistry())
	if err != nil {
		t.Fatalf("imagecache.New: %v", err)
	}

	qb := bridge.New(bus)
	t.Cleanup(qb.Close)

	cfg := config.GatewayConfig{
		Port:         0,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  5 * time.Second,
		TokenPath:    filepath.Join(t.TempDir(), "token"),
	}

	gw, err := New(cfg, svc, bus, images, qb, zap.NewNop(), metrics.NewRegistry())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if upstreamSrv != nil {
		host := strings.TrimPrefix(upstreamSrv.URL, "https://")
		account := models.Account{ID: "acct-1", Host: host, UserID: "u1", Username: "alice", Software: "misskey"}
		if err := st.UpsertAccount(account); err != nil {
			t.Fatalf("UpsertAccount: %v", err)
		}
		if err := kc.StoreToken(account.ID, "tok-1"); err != nil {
			t.Fatalf("StoreToken: %v", err)
		}
	}

	return gw, gw.token
}

func TestIndexRequiresNoAuth(t *testing.T) {
	gw, _ := newTestServer(t, nil)
	srv := httptest.NewServer(gw.router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api")
	if err != nil {
		t.Fatalf("GET /api: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestAccountsRequiresBearerToken(t *testing.T) {
	gw, token := newTestServer(t, nil)
	srv := httptest.NewServer(gw.router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/accounts")
	if err != nil {
		t.Fatalf("GET /api/accounts: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 without a token", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/accounts", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("authenticated GET /api/accounts: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 with a valid token", resp2.StatusCode)
	}
}

func TestTimelineProxiesToUpstream(t *testing.T) {
	gw, token := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]map[string]interface{}{
			{"id": "n1", "createdAt": "2024-01-01T00:00:00.000Z", "text": "hello", "user": map[string]interface{}{"id": "u1", "username": "alice"}},
		})
	})
	srv := httptest.NewServer(gw.router)
	defer srv.Close()

	accounts, err := gw.svc.ListAccounts()
	if err != nil || len(accounts) != 1 {
		t.Fatalf("ListAccounts: %v, %+v", err, accounts)
	}
	host := accounts[0].Host

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/"+host+"/timeline/home", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET timeline: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var notes []models.NormalizedNote
	if err := json.NewDecoder(resp.Body).Decode(&notes); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(notes) != 1 || notes[0].ID != "n1" {
		t.Fatalf("got %+v, want one note with id n1", notes)
	}
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	gw, token := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {})
	srv := httptest.NewServer(gw.router)
	defer srv.Close()

	accounts, _ := gw.svc.ListAccounts()
	host := accounts[0].Host

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/"+host+"/search", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET search: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for an empty q", resp.StatusCode)
	}
}

func TestUnknownHostReturnsNotFound(t *testing.T) {
	gw, token := newTestServer(t, nil)
	srv := httptest.NewServer(gw.router)
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/nowhere.example/timeline/home", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET timeline: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for an unknown host", resp.StatusCode)
	}
}

func TestEventsStreamsPublishedEvent(t *testing.T) {
	gw, token := newTestServer(t, nil)
	srv := httptest.NewServer(gw.router)
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/events", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /api/events: %v", err)
	}
	defer resp.Body.Close()

	time.Sleep(50 * time.Millisecond)
	gw.bus.Publish(eventbus.Event{Type: "stream-note", Data: map[string]string{"id": "n1"}})

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read SSE line: %v", err)
	}
	if !strings.HasPrefix(line, "event: stream-note") {
		t.Fatalf("got %q, want an event: stream-note line", line)
	}
}
