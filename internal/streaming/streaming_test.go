package streaming

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hitalin/notedeck/internal/config"
	"github.com/hitalin/notedeck/internal/eventbus"
	"github.com/hitalin/notedeck/internal/metrics"
	"github.com/hitalin/notedeck/internal/models"
	"github.com/hitalin/notedeck/internal/store"
)

var testUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func newTestManager(t *testing.T, handler http.HandlerFunc) (*Manager, string) {
	t.Helper()
	srv := httptest.NewTLSServer(handler)
	t.Cleanup(srv.Close)

	st, err := store.Open(":memory:", zap.NewNop(), metrics.NewRegistry())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	m := New(config.StreamingConfig{ConnectTimeout: 2 * time.Second}, eventbus.New(), st, zap.NewNop(), metrics.NewRegistry())
	m.dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}

	host := strings.TrimPrefix(srv.URL, "https://")
	return m, host
}

func TestSubscribeTimelineSendsConnectFrame(t *testing.T) {
	received := make(chan []byte, 1)
	m, host := newTestManager(t, func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, data, err := conn.ReadMessage()
		if err == nil {
			received <- data
		}
		<-r.Context().Done()
	})

	ctx := context.Background()
	if err := m.Connect(ctx, "acct-1", host, "tok"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer m.Shutdown(ctx)

	if _, err := m.SubscribeTimeline("acct-1", host, models.TimelineHome); err != nil {
		t.Fatalf("SubscribeTimeline: %v", err)
	}

	select {
	case raw := <-received:
		var msg struct {
			Type string `json:"type"`
			Body struct {
				Channel string `json:"channel"`
				ID      string `json:"id"`
			} `json:"body"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("unmarshal subscribe frame: %v", err)
		}
		if msg.Type != "connect" || msg.Body.Channel != "homeTimeline" || msg.Body.ID == "" {
			t.Fatalf("got %+v, want a connect frame for homeTimeline", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for subscribe frame")
	}
}

func TestReconnectsAndResubscribesAfterDrop(t *testing.T) {
	var connCount int32
	firstConnReceived := make(chan struct{})
	secondConnReceived := make(chan []byte, 1)

	m, host := newTestManager(t, func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := atomic.AddInt32(&connCount, 1)
		if n == 1 {
			conn.ReadMessage() // the initial subscribe frame
			close(firstConnReceived)
			conn.Close() // force-drop to trigger reconnect
			return
		}
		defer conn.Close()
		_, data, err := conn.ReadMessage()
		if err == nil {
			secondConnReceived <- data
		}
		<-r.Context().Done()
	})

	ctx := context.Background()
	if err := m.Connect(ctx, "acct-1", host, "tok"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer m.Shutdown(ctx)

	if _, err := m.SubscribeTimeline("acct-1", host, models.TimelineHome); err != nil {
		t.Fatalf("SubscribeTimeline: %v", err)
	}

	select {
	case <-firstConnReceived:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first connection")
	}

	select {
	case raw := <-secondConnReceived:
		var msg struct {
			Type string `json:"type"`
			Body struct {
				Channel string `json:"channel"`
			} `json:"body"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("unmarshal resubscribe frame: %v", err)
		}
		if msg.Type != "connect" || msg.Body.Channel != "homeTimeline" {
			t.Fatalf("got %+v, want the subscription replayed on reconnect", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reconnect and resubscribe")
	}
}

func TestUnsubscribeRemovesRegistryEntry(t *testing.T) {
	m, host := newTestManager(t, func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	ctx := context.Background()
	if err := m.Connect(ctx, "acct-1", host, "tok"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer m.Shutdown(ctx)

	subID, err := m.SubscribeMain("acct-1", host)
	if err != nil {
		t.Fatalf("SubscribeMain: %v", err)
	}
	if err := m.Unsubscribe("acct-1", subID); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}

	if _, ok := m.subscriptionByID(subID); ok {
		t.Fatal("expected subscription to be removed from the registry")
	}
}

func TestDisconnectWithoutConnectionIsNoop(t *testing.T) {
	st, err := store.Open(":memory:", zap.NewNop(), metrics.NewRegistry())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer st.Close()

	m := New(config.StreamingConfig{}, eventbus.New(), st, zap.NewNop(), metrics.NewRegistry())
	if err := m.Disconnect(context.Background(), "nonexistent"); err != nil {
		t.Fatalf("Disconnect on unknown account should be a no-op, got %v", err)
	}
}
