package connection

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/taskboard/boardsync/internal/model"
)

// Manager owns one WebSocket connection to the push server and runs the
// connect/retry/heartbeat state machine:
//
//	disconnected → connecting → connected
//	connected → disconnected           (clean close)
//	connected/connecting → reconnecting (unclean close or transport error)
//	reconnecting → connecting           (after ReconnectInterval)
//	reconnecting → error                (retries exhausted)
//
// Only a manual Reconnect recovers from the error state. Managers are
// constructed explicitly and injected; there is no process-wide
// singleton.
type Manager struct {
	cfg    ManagerConfig
	logger *slog.Logger

	mu             sync.Mutex
	state          State
	client         Client
	connStop       chan struct{} // closed when the current connection is torn down
	gen            uint64        // bumped on Connect/Disconnect; stale goroutines check it
	retries        int
	reconnectTimer *time.Timer

	messagesSeen  int64
	lastMessageAt time.Time
	lastConnectAt time.Time
	lastErr       error

	subMu     sync.Mutex
	nextSubID int
	msgSubs   map[int]MessageHandler
	stateSubs map[int]StateChangeHandler
	errSubs   map[int]ErrorHandler
}

// NewManager creates a connection manager. It does not connect; the
// caller decides when to call Connect.
func NewManager(cfg ManagerConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:       cfg,
		logger:    logger,
		state:     StateDisconnected,
		msgSubs:   make(map[int]MessageHandler),
		stateSubs: make(map[int]StateChangeHandler),
		errSubs:   make(map[int]ErrorHandler),
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Stats returns a point-in-time view of the manager.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := ManagerStats{
		State:         m.state,
		RetryCount:    m.retries,
		MessagesSeen:  m.messagesSeen,
		LastMessageAt: m.lastMessageAt,
		LastConnectAt: m.lastConnectAt,
	}
	if m.lastErr != nil {
		stats.LastErrorValue = m.lastErr.Error()
	}
	return stats
}

// Connect opens the transport. No-op when already connected or a
// connect is in flight. A manual Connect cancels a pending automatic
// retry and dials immediately.
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.state == StateConnected || m.state == StateConnecting {
		m.mu.Unlock()
		return
	}
	m.stopReconnectTimerLocked()
	m.gen++
	gen := m.gen
	tr := m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	if tr != nil {
		m.emitState(*tr)
	}
	go m.dial(gen)
}

// Disconnect cancels all timers, closes the transport with a clean
// close code, and settles in disconnected. Idempotent.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.gen++
	m.stopReconnectTimerLocked()
	m.teardownConnLocked()
	tr := m.setStateLocked(StateDisconnected)
	m.mu.Unlock()

	if tr != nil {
		m.emitState(*tr)
	}
}

// Reconnect is Disconnect followed by Connect after a short guard
// delay, with the retry counter reset. The only recovery from the
// error state.
func (m *Manager) Reconnect() {
	m.Disconnect()

	m.mu.Lock()
	m.retries = 0
	m.mu.Unlock()

	guard := m.cfg.ReconnectGuardDelay
	go func() {
		if guard > 0 {
			time.Sleep(guard)
		}
		m.Connect()
	}()
}

// Send serializes v as JSON and transmits it. Returns false without
// side effect when not connected, and false when the write fails.
func (m *Manager) Send(v any) bool {
	m.mu.Lock()
	cli := m.client
	connected := m.state == StateConnected && cli != nil
	m.mu.Unlock()

	if !connected {
		return false
	}

	data, err := json.Marshal(v)
	if err != nil {
		m.logger.Warn("failed to serialize outbound message", "error", err)
		return false
	}
	if err := cli.Send(data); err != nil {
		m.logger.Warn("send failed", "error", err)
		return false
	}
	return true
}

// RequestRefresh asks the server to re-broadcast current state for a
// channel.
func (m *Manager) RequestRefresh(channelKey string) bool {
	return m.Send(model.NewRefreshRequestFrame(channelKey, time.Now()))
}

// OnMessage registers a handler for every raw inbound frame. The
// returned function unsubscribes; calling it during a dispatch pass
// suppresses the handler for the remainder of that pass.
func (m *Manager) OnMessage(h MessageHandler) (unsubscribe func()) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	id := m.nextSubID
	m.nextSubID++
	m.msgSubs[id] = h
	return func() {
		m.subMu.Lock()
		delete(m.msgSubs, id)
		m.subMu.Unlock()
	}
}

// OnStateChange registers a handler for state transitions.
func (m *Manager) OnStateChange(h StateChangeHandler) (unsubscribe func()) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	id := m.nextSubID
	m.nextSubID++
	m.stateSubs[id] = h
	return func() {
		m.subMu.Lock()
		delete(m.stateSubs, id)
		m.subMu.Unlock()
	}
}

// OnError registers a handler for transport faults.
func (m *Manager) OnError(h ErrorHandler) (unsubscribe func()) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	id := m.nextSubID
	m.nextSubID++
	m.errSubs[id] = h
	return func() {
		m.subMu.Lock()
		delete(m.errSubs, id)
		m.subMu.Unlock()
	}
}

// dial opens a client for the given generation and, on success, starts
// the pump and heartbeat goroutines.
func (m *Manager) dial(gen uint64) {
	cli := NewClient(ClientConfig{
		URL:              m.cfg.URL,
		HandshakeTimeout: m.cfg.HandshakeTimeout,
		WriteTimeout:     m.cfg.WriteTimeout,
		BufferSize:       m.cfg.BufferSize,
	}, m.logger)

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.HandshakeTimeout)
	err := cli.Connect(ctx)
	cancel()

	m.mu.Lock()
	if gen != m.gen || m.state != StateConnecting {
		m.mu.Unlock()
		if err == nil {
			cli.Close()
		}
		return
	}

	if err != nil {
		trs := m.transportDownLocked(err)
		m.mu.Unlock()
		m.emitError(err)
		m.emitState(trs...)
		return
	}

	m.client = cli
	m.connStop = make(chan struct{})
	m.retries = 0
	m.lastConnectAt = time.Now()
	stop := m.connStop
	tr := m.setStateLocked(StateConnected)
	m.mu.Unlock()

	if tr != nil {
		m.emitState(*tr)
	}
	go m.pump(cli, gen, stop)
	go m.heartbeat(stop)
}

// pump forwards inbound frames to subscribers and watches for
// transport errors on the current connection.
func (m *Manager) pump(cli Client, gen uint64, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return

		case err := <-cli.Errors():
			m.mu.Lock()
			if gen != m.gen || m.client != cli {
				m.mu.Unlock()
				return
			}
			trs := m.transportDownLocked(err)
			m.mu.Unlock()

			if !isCleanClose(err) {
				m.emitError(err)
			}
			m.emitState(trs...)
			return

		case msg, ok := <-cli.Messages():
			if !ok {
				return
			}
			m.mu.Lock()
			m.messagesSeen++
			m.lastMessageAt = msg.ReceivedAt
			m.mu.Unlock()
			m.emitMessage(msg)
		}
	}
}

// heartbeat sends fire-and-forget JSON pings while the connection is
// up. A failed ping is not a failure signal; faults surface through
// the transport's own error path.
func (m *Manager) heartbeat(stop chan struct{}) {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !m.Send(model.NewPingFrame(time.Now())) {
				m.logger.Debug("heartbeat skipped, not connected")
			}
		}
	}
}

// transportDownLocked handles loss of the current connection. Caller
// holds mu. Returns the state transitions to emit after unlocking.
func (m *Manager) transportDownLocked(err error) []stateTransition {
	m.lastErr = err
	m.teardownConnLocked()

	if isCleanClose(err) {
		m.logger.Info("connection closed cleanly")
		if tr := m.setStateLocked(StateDisconnected); tr != nil {
			return []stateTransition{*tr}
		}
		return nil
	}

	m.retries++
	if m.retries >= m.cfg.MaxReconnectAttempts {
		m.logger.Error("reconnect attempts exhausted",
			"attempts", m.retries,
			"error", err,
		)
		if tr := m.setStateLocked(StateError); tr != nil {
			return []stateTransition{*tr}
		}
		return nil
	}

	m.logger.Warn("connection lost, scheduling reconnect",
		"attempt", m.retries,
		"max", m.cfg.MaxReconnectAttempts,
		"delay", m.cfg.ReconnectInterval,
		"error", err,
	)

	gen := m.gen
	m.reconnectTimer = time.AfterFunc(m.cfg.ReconnectInterval, func() {
		m.retryDial(gen)
	})
	if tr := m.setStateLocked(StateReconnecting); tr != nil {
		return []stateTransition{*tr}
	}
	return nil
}

// retryDial moves reconnecting → connecting when the retry timer fires.
func (m *Manager) retryDial(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}
	m.reconnectTimer = nil
	tr := m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	if tr != nil {
		m.emitState(*tr)
	}
	go m.dial(gen)
}

// teardownConnLocked closes the current connection, if any. Caller
// holds mu.
func (m *Manager) teardownConnLocked() {
	if m.connStop != nil {
		close(m.connStop)
		m.connStop = nil
	}
	if m.client != nil {
		cli := m.client
		m.client = nil
		go cli.Close()
	}
}

func (m *Manager) stopReconnectTimerLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}

type stateTransition struct {
	old State
	new State
}

// setStateLocked records a transition. Caller holds mu. Returns nil
// when the state is unchanged so no-op calls emit nothing.
func (m *Manager) setStateLocked(next State) *stateTransition {
	if m.state == next {
		return nil
	}
	tr := stateTransition{old: m.state, new: next}
	m.state = next
	return &tr
}

// isCleanClose reports whether err is a normal-closure close frame.
func isCleanClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure)
}

// emitState invokes state subscribers in registration order. Handlers
// unsubscribed mid-pass are skipped for the rest of the pass.
func (m *Manager) emitState(trs ...stateTransition) {
	for _, tr := range trs {
		for _, id := range subIDs(&m.subMu, m.stateSubs) {
			m.subMu.Lock()
			h, ok := m.stateSubs[id]
			m.subMu.Unlock()
			if ok {
				h(tr.old, tr.new)
			}
		}
	}
}

func (m *Manager) emitMessage(msg TimestampedMessage) {
	for _, id := range subIDs(&m.subMu, m.msgSubs) {
		m.subMu.Lock()
		h, ok := m.msgSubs[id]
		m.subMu.Unlock()
		if ok {
			h(msg)
		}
	}
}

func (m *Manager) emitError(err error) {
	for _, id := range subIDs(&m.subMu, m.errSubs) {
		m.subMu.Lock()
		h, ok := m.errSubs[id]
		m.subMu.Unlock()
		if ok {
			h(err)
		}
	}
}

// subIDs snapshots a registry's keys in registration order. IDs are
// allocated monotonically, so sorted keys equal registration order.
func subIDs[H any](mu *sync.Mutex, reg map[int]H) []int {
	mu.Lock()
	defer mu.Unlock()

	ids := make([]int, 0, len(reg))
	for id := range reg {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
