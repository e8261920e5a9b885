// Package streaming maintains one reconnecting WebSocket connection per
// account to a Misskey-family server's streaming endpoint, multiplexing
// timeline and main-channel subscriptions over it and normalizing
// incoming frames onto the event bus.
package streaming

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hitalin/notedeck/internal/config"
	"github.com/hitalin/notedeck/internal/errs"
	"github.com/hitalin/notedeck/internal/eventbus"
	"github.com/hitalin/notedeck/internal/metrics"
	"github.com/hitalin/notedeck/internal/models"
	"github.com/hitalin/notedeck/internal/store"
)

// connectionHandle is everything the Manager needs to talk to a running
// supervisor goroutine for one account.
type connectionHandle struct {
	accountID string
	host      string
	cmdCh     chan command
	done      chan struct{}
}

// Manager owns every account's live connection and every live
// subscription. Each map is guarded by its own mutex, held only for the
// map access itself, never across any I/O.
type Manager struct {
	cfg     config.StreamingConfig
	dialer  websocket.Dialer
	bus     *eventbus.Bus
	store   *store.Store
	logger  *zap.Logger
	metrics *metrics.Registry

	connMu sync.Mutex
	conns  map[string]*connectionHandle

	subMu sync.Mutex
	subs  map[string]models.Subscription
}

// New creates a Manager. bus, store, and metrics must outlive it.
func New(cfg config.StreamingConfig, bus *eventbus.Bus, st *store.Store, logger *zap.Logger, reg *metrics.Registry) *Manager {
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	return &Manager{
		cfg: cfg,
		dialer: websocket.Dialer{
			HandshakeTimeout: connectTimeout,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
		bus:     bus,
		store:   st,
		logger:  logger,
		metrics: reg,
		conns:   make(map[string]*connectionHandle),
		subs:    make(map[string]models.Subscription),
	}
}

// Connect opens the account's streaming connection if one isn't already
// running. Idempotent.
func (m *Manager) Connect(ctx context.Context, accountID, host, token string) error {
	m.connMu.Lock()
	if _, exists := m.conns[accountID]; exists {
		m.connMu.Unlock()
		return nil
	}
	m.connMu.Unlock()

	url := "wss://" + host + "/streaming?i=" + token
	conn, _, err := m.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return errs.WebSocket(err)
	}
	conn.SetReadLimit(10 << 20)

	handle := &connectionHandle{
		accountID: accountID,
		host:      host,
		cmdCh:     make(chan command, 64),
		done:      make(chan struct{}),
	}

	m.connMu.Lock()
	if _, exists := m.conns[accountID]; exists {
		m.connMu.Unlock()
		conn.Close()
		return nil
	}
	m.conns[accountID] = handle
	m.connMu.Unlock()

	if m.metrics != nil {
		m.metrics.Streaming.ActiveConnections.Inc()
	}
	m.emitStatus(accountID, "connected")

	go m.runSupervisor(handle, conn, url)

	return nil
}

// Disconnect shuts the account's connection down, if any, and clears its
// subscriptions.
func (m *Manager) Disconnect(ctx context.Context, accountID string) error {
	m.connMu.Lock()
	handle, exists := m.conns[accountID]
	m.connMu.Unlock()
	if !exists {
		return nil
	}

	select {
	case handle.cmdCh <- command{kind: cmdShutdown}:
	default:
	}
	select {
	case <-handle.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.subMu.Lock()
	for id, sub := range m.subs {
		if sub.AccountID == accountID {
			delete(m.subs, id)
		}
	}
	m.subMu.Unlock()

	m.emitStatus(accountID, "disconnected")
	return nil
}

// SubscribeTimeline registers a new timeline subscription and asks the
// account's connection to subscribe immediately; it returns a
// NO_CONNECTION error when the account has no connection. The registry
// entry is recorded before delivery is confirmed, regardless of whether
// the send below actually lands.
func (m *Manager) SubscribeTimeline(accountID, host string, timelineType models.TimelineType) (string, error) {
	return m.subscribe(accountID, host, models.SubscriptionTimeline, timelineType.WSChannel())
}

// SubscribeMain registers a subscription to the account's main channel.
func (m *Manager) SubscribeMain(accountID, host string) (string, error) {
	return m.subscribe(accountID, host, models.SubscriptionMain, "main")
}

func (m *Manager) subscribe(accountID, host string, kind models.SubscriptionKind, channel string) (string, error) {
	m.connMu.Lock()
	handle, exists := m.conns[accountID]
	m.connMu.Unlock()
	if !exists {
		return "", errs.NoConnection(accountID)
	}

	subID := uuid.NewString()

	m.subMu.Lock()
	m.subs[subID] = models.Subscription{
		ID:        subID,
		AccountID: accountID,
		Host:      host,
		Kind:      kind,
		Channel:   channel,
	}
	m.subMu.Unlock()

	select {
	case handle.cmdCh <- command{kind: cmdSubscribe, subID: subID, channel: channel}:
	default:
		m.logger.Warn("dropped subscribe command, command channel full", zap.String("accountId", accountID))
	}

	return subID, nil
}

// Unsubscribe removes a subscription and tells the account's session to
// stop forwarding it; it returns a NO_CONNECTION error when the account
// has no connection.
func (m *Manager) Unsubscribe(accountID, subscriptionID string) error {
	m.connMu.Lock()
	handle, exists := m.conns[accountID]
	m.connMu.Unlock()
	if !exists {
		return errs.NoConnection(accountID)
	}

	m.subMu.Lock()
	delete(m.subs, subscriptionID)
	m.subMu.Unlock()

	select {
	case handle.cmdCh <- command{kind: cmdUnsubscribe, subID: subscriptionID}:
	default:
		m.logger.Warn("dropped unsubscribe command, command channel full", zap.String("accountId", accountID))
	}
	return nil
}

// IsConnected reports whether the account currently holds a connection
// handle (the handle may be mid-reconnect).
func (m *Manager) IsConnected(accountID string) bool {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	_, ok := m.conns[accountID]
	return ok
}

// Shutdown tears every connection down. Used at process exit.
func (m *Manager) Shutdown(ctx context.Context) {
	m.connMu.Lock()
	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	m.connMu.Unlock()

	for _, id := range ids {
		m.Disconnect(ctx, id)
	}
}

func (m *Manager) emitStatus(accountID, state string) {
	m.bus.Publish(eventbus.Event{
		Type: "stream-status",
		Data: map[string]string{"accountId": accountID, "state": state},
	})
}

// subscriptionsFor returns a snapshot of the account's current
// subscriptions, taken and released without holding the lock across I/O.
func (m *Manager) subscriptionsFor(accountID string) []models.Subscription {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	var out []models.Subscription
	for _, sub := range m.subs {
		if sub.AccountID == accountID {
			out = append(out, sub)
		}
	}
	return out
}

func (m *Manager) subscriptionByID(id string) (models.Subscription, bool) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	sub, ok := m.subs[id]
	return sub, ok
}

func (m *Manager) removeConn(accountID string) {
	m.connMu.Lock()
	delete(m.conns, accountID)
	m.connMu.Unlock()
	if m.metrics != nil {
		m.metrics.Streaming.ActiveConnections.Dec()
	}
}
