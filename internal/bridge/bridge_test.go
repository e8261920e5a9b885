package bridge

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/hitalin/notedeck/internal/eventbus"
)

func TestQueryRoundTrip(t *testing.T) {
	bus := eventbus.New()
	qb := New(bus)
	defer qb.Close()

	reqCh, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	go func() {
		ev := <-reqCh
		req, ok := ev.Data.(map[string]interface{})
		if !ok {
			t.Error("expected query-request payload to be a map")
			return
		}
		id, _ := req["id"].(string)
		result, _ := json.Marshal(map[string]string{"ok": "yes"})
		qb.Respond(id, result)
	}()

	result, err := qb.Query(context.Background(), "deck.getLayout", map[string]string{"deckId": "d1"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}

	var decoded map[string]string
	if err := json.Unmarshal(result, &decoded); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if decoded["ok"] != "yes" {
		t.Fatalf("got %+v, want the responder's payload", decoded)
	}
}

func TestQueryTimesOutWithoutResponse(t *testing.T) {
	bus := eventbus.New()
	qb := New(bus)
	defer qb.Close()

	start := time.Now()
	_, err := qb.Query(context.Background(), "deck.getLayout", nil)
	if err == nil {
		t.Fatal("expected a timeout error when nothing responds")
	}
	if elapsed := time.Since(start); elapsed < queryTimeout {
		t.Fatalf("returned after %v, want at least the %v timeout", elapsed, queryTimeout)
	}
}

func TestQueryCanceledByContext(t *testing.T) {
	bus := eventbus.New()
	qb := New(bus)
	defer qb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := qb.Query(ctx, "deck.getLayout", nil)
	if err == nil {
		t.Fatal("expected context cancellation to end the query")
	}
}
