package streaming

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hitalin/notedeck/internal/eventbus"
	"github.com/hitalin/notedeck/internal/models"
	"github.com/hitalin/notedeck/internal/upstream"
)

type cmdKind int

const (
	cmdSubscribe cmdKind = iota
	cmdUnsubscribe
	cmdShutdown
)

type command struct {
	kind    cmdKind
	subID   string
	channel string
}

type exitReason int

const (
	exitDisconnected exitReason = iota
	exitShutdown
)

const (
	keepaliveInterval = 30 * time.Second
	maxBackoff        = 30 * time.Second
	initialBackoff    = 1 * time.Second
)

// runSupervisor owns one account's reconnect loop: running the first,
// already-dialed session, then redialing with exponential backoff
// whenever a session exits because the connection dropped.
func (m *Manager) runSupervisor(handle *connectionHandle, conn *websocket.Conn, url string) {
	defer func() {
		m.removeConn(handle.accountID)
		close(handle.done)
	}()

	backoff := initialBackoff

	reason := m.runSession(handle, conn)
	if reason == exitShutdown {
		return
	}

	for {
		m.emitStatus(handle.accountID, "reconnecting")

		timer := time.NewTimer(backoff)
		shutdownDuringWait := false
	waitLoop:
		for {
			select {
			case <-timer.C:
				break waitLoop
			case cmd := <-handle.cmdCh:
				if cmd.kind == cmdShutdown {
					shutdownDuringWait = true
					break waitLoop
				}
				// Subscribe/unsubscribe during the wait are already
				// reflected in the registry; runSession replays it.
			}
		}
		timer.Stop()

		if shutdownDuringWait {
			return
		}

		conn, _, err := m.dialer.Dial(url, nil)
		if err != nil {
			if m.metrics != nil {
				m.metrics.Streaming.Reconnects.Inc()
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		conn.SetReadLimit(10 << 20)
		backoff = initialBackoff
		if m.metrics != nil {
			m.metrics.Streaming.Reconnects.Inc()
		}
		m.emitStatus(handle.accountID, "connected")

		reason := m.runSession(handle, conn)
		if reason == exitShutdown {
			return
		}
	}
}

// runSession replays this account's current subscriptions over a freshly
// dialed connection, then runs the read/command multiplexing loop.
func (m *Manager) runSession(handle *connectionHandle, conn *websocket.Conn) exitReason {
	defer conn.Close()

	for _, sub := range m.subscriptionsFor(handle.accountID) {
		sendSubscribe(conn, sub.ID, sub.Channel)
	}

	return m.wsLoop(handle, conn)
}

type wsFrame struct {
	data []byte
	err  error
}

func (m *Manager) wsLoop(handle *connectionHandle, conn *websocket.Conn) exitReason {
	frames := make(chan wsFrame, 32)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			frames <- wsFrame{data: data, err: err}
			if err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case frame := <-frames:
			if frame.err != nil {
				return exitDisconnected
			}
			m.handleFrame(handle, frame.data)

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return exitDisconnected
			}

		case cmd := <-handle.cmdCh:
			switch cmd.kind {
			case cmdSubscribe:
				sendSubscribe(conn, cmd.subID, cmd.channel)
			case cmdUnsubscribe:
				sendUnsubscribe(conn, cmd.subID)
			case cmdShutdown:
				conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
				return exitShutdown
			}
		}
	}
}

func sendSubscribe(conn *websocket.Conn, subID, channel string) {
	msg := map[string]interface{}{
		"type": "connect",
		"body": map[string]string{"channel": channel, "id": subID},
	}
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	conn.WriteJSON(msg)
}

func sendUnsubscribe(conn *websocket.Conn, subID string) {
	msg := map[string]interface{}{
		"type": "disconnect",
		"body": map[string]string{"id": subID},
	}
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	conn.WriteJSON(msg)
}

// channelFrame is the outer Misskey streaming envelope.
type channelFrame struct {
	Type string `json:"type"`
	Body struct {
		ID   string          `json:"id"`
		Type string          `json:"type"`
		Body json.RawMessage `json:"body"`
	} `json:"body"`
}

func (m *Manager) handleFrame(handle *connectionHandle, data []byte) {
	if m.metrics != nil {
		m.metrics.Streaming.MessagesReceived.Inc()
	}

	var frame channelFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return
	}
	if frame.Type != "channel" || frame.Body.ID == "" {
		return
	}

	sub, ok := m.subscriptionByID(frame.Body.ID)
	if !ok {
		return
	}

	switch {
	case sub.Kind == models.SubscriptionTimeline && frame.Body.Type == "note":
		note, err := upstream.DecodeNote(frame.Body.Body, sub.AccountID, sub.Host)
		if err != nil {
			return
		}
		if err := m.store.CacheNote(note); err != nil {
			m.logger.Warn("failed to cache streamed note", zap.Error(err))
		}
		m.publish("stream-note", map[string]interface{}{
			"accountId":      sub.AccountID,
			"subscriptionId": sub.ID,
			"note":           note,
		})

	case sub.Kind == models.SubscriptionTimeline && frame.Body.Type == "noteUpdated":
		m.publish("stream-note-updated", map[string]interface{}{
			"accountId":      sub.AccountID,
			"subscriptionId": sub.ID,
			"body":           frame.Body.Body,
		})

	case sub.Kind == models.SubscriptionMain && frame.Body.Type == "notification":
		notification, err := upstream.DecodeNotification(frame.Body.Body, sub.AccountID, sub.Host)
		if err != nil {
			return
		}
		m.publish("stream-notification", map[string]interface{}{
			"accountId":      sub.AccountID,
			"subscriptionId": sub.ID,
			"notification":   notification,
		})

	case sub.Kind == models.SubscriptionMain:
		m.publish("stream-main-event", map[string]interface{}{
			"accountId":      sub.AccountID,
			"subscriptionId": sub.ID,
			"eventType":      frame.Body.Type,
			"body":           frame.Body.Body,
		})
	}
}

func (m *Manager) publish(eventType string, data interface{}) {
	if m.metrics != nil {
		m.metrics.Streaming.EventsPublished.Inc()
	}
	m.bus.Publish(eventbus.Event{Type: eventType, Data: data})
}
