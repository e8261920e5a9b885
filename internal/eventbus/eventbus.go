// Package eventbus is the in-process publish/subscribe fan-out used to
// push streaming updates and query round-trips to gateway SSE clients.
package eventbus

import (
	"encoding/json"
	"sync"
)

const subscriberBuffer = 256

// Event is one message broadcast on the bus. Data is marshaled to JSON at
// the SSE boundary, not here, so publishers can pass any JSON-serializable
// value.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Bus fans a published Event out to every live subscriber. A slow
// subscriber never blocks a publish: its channel is skipped instead of
// backing up the sender.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// New creates an empty event bus.
func New() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a new listener and returns its channel along with an
// unsubscribe function. The caller must call the returned function exactly
// once when done listening.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(existing)
		}
	}
}

// Publish fans ev out to every current subscriber. A subscriber whose
// buffer is full has this event dropped rather than stalling the
// publisher.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// MarshalEvent renders an Event in the `event: <type>\ndata: <json>\n\n`
// shape the SSE gateway writes.
func MarshalEvent(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return nil, err
	}
	var buf []byte
	buf = append(buf, "event: "...)
	buf = append(buf, ev.Type...)
	buf = append(buf, "\ndata: "...)
	buf = append(buf, data...)
	buf = append(buf, "\n\n"...)
	return buf, nil
}
