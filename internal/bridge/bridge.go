// Package bridge round-trips a query from the local HTTP gateway out to
// the UI over the event bus and back, for state that only the UI process
// holds (open deck layout, column configuration, in-memory view state).
package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitalin/notedeck/internal/errs"
	"github.com/hitalin/notedeck/internal/eventbus"
)

const queryTimeout = 5 * time.Second

// QueryBridge publishes a query-request event and waits for the matching
// query-response event to arrive back over the same bus.
type QueryBridge struct {
	bus        *eventbus.Bus
	unsubscribe func()

	mu      sync.Mutex
	waiters map[string]chan json.RawMessage
}

// New creates a QueryBridge that listens on bus for responses.
func New(bus *eventbus.Bus) *QueryBridge {
	ch, unsubscribe := bus.Subscribe()
	qb := &QueryBridge{
		bus:         bus,
		unsubscribe: unsubscribe,
		waiters:     make(map[string]chan json.RawMessage),
	}
	go qb.listen(ch)
	return qb
}

// Close stops listening for responses. Any in-flight Query calls still
// time out on their own.
func (qb *QueryBridge) Close() {
	qb.unsubscribe()
}

func (qb *QueryBridge) listen(ch <-chan eventbus.Event) {
	for ev := range ch {
		if ev.Type != "nd:query-response" {
			continue
		}
		envelope, ok := ev.Data.(queryResponse)
		if !ok {
			continue
		}
		qb.deliver(envelope.ID, envelope.Result)
	}
}

func (qb *QueryBridge) deliver(id string, result json.RawMessage) {
	qb.mu.Lock()
	waiter, ok := qb.waiters[id]
	if ok {
		delete(qb.waiters, id)
	}
	qb.mu.Unlock()
	if ok {
		waiter <- result
	}
}

type queryResponse struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result"`
}

// Query publishes queryType/params as a "nd:query-request" event carrying
// a fresh correlation id, then blocks until a matching "nd:query-response"
// arrives, ctx is canceled, or 5 seconds elapse.
func (qb *QueryBridge) Query(ctx context.Context, queryType string, params interface{}) (json.RawMessage, error) {
	id := uuid.NewString()
	waiter := make(chan json.RawMessage, 1)

	qb.mu.Lock()
	qb.waiters[id] = waiter
	qb.mu.Unlock()

	qb.bus.Publish(eventbus.Event{
		Type: "nd:query-request",
		Data: map[string]interface{}{
			"id":     id,
			"type":   queryType,
			"params": params,
		},
	})

	timer := time.NewTimer(queryTimeout)
	defer timer.Stop()

	select {
	case result := <-waiter:
		return result, nil
	case <-timer.C:
		qb.cancelWaiter(id)
		return nil, errs.QueryFailed("query timed out waiting for the UI to respond")
	case <-ctx.Done():
		qb.cancelWaiter(id)
		return nil, ctx.Err()
	}
}

func (qb *QueryBridge) cancelWaiter(id string) {
	qb.mu.Lock()
	delete(qb.waiters, id)
	qb.mu.Unlock()
}

// Respond is called by the gateway's response-submission endpoint to
// deliver a result reported by the UI back to a waiting Query call. It
// publishes an "nd:query-response" event carrying the correlation id.
func (qb *QueryBridge) Respond(id string, result json.RawMessage) {
	qb.bus.Publish(eventbus.Event{
		Type: "nd:query-response",
		Data: queryResponse{ID: id, Result: result},
	})
}
