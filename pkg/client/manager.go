package client

import (
	"context"
	"io"
	"log/slog"
	"sync"
)

// Manager owns a single logical WebSocket connection: its state, its
// transport handle, and the one background receive loop. All mutable state is
// guarded by one mutex, and transport notifications are consumed by a single
// manager-owned goroutine, so caller operations, the receive loop, and
// out-of-band transport events never interleave partial updates.
//
// A transport receive that is already suspended cannot be forcibly unblocked;
// every operation that resumes after a suspension captures the connection
// epoch beforehand and discards its result if the epoch moved on.
type Manager struct {
	transport Transport
	cfg       Config
	log       *slog.Logger

	mu             sync.Mutex
	state          ConnectionState
	handle         Handle
	epoch          uint64
	subprotocol    string
	streaming      bool
	singleInFlight bool
	lastMessage    *Message
	lastErr        error
	streamCancel   context.CancelFunc

	done      chan struct{}
	closeOnce sync.Once
}

// NewManager creates a Manager on the given transport and begins consuming
// its notifications. Call Close when the manager is no longer needed.
func NewManager(transport Transport, cfg *Config) *Manager {
	m := &Manager{
		transport: transport,
		done:      make(chan struct{}),
	}
	if cfg != nil {
		m.cfg = *cfg
	}
	m.log = m.cfg.Logger
	if m.log == nil {
		m.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	go m.consumeNotifications()
	return m
}

// Connect opens a connection to url. It is a no-op when a connection already
// exists or is being established. The call returns once the transport handle
// is created; handshake completion arrives asynchronously and moves the state
// from connecting to connected.
//
// method names the HTTP method for the handshake request and is advisory: the
// WebSocket handshake is always a GET.
func (m *Manager) Connect(url, method string) error {
	m.mu.Lock()
	if m.state != StateNotConnected {
		m.mu.Unlock()
		return nil
	}

	h, err := m.transport.Open(url, OpenOptions{
		Method:           method,
		Header:           m.cfg.Header,
		Subprotocols:     m.cfg.Subprotocols,
		HandshakeTimeout: m.cfg.HandshakeTimeout,
	})
	if err != nil {
		m.mu.Unlock()
		return err
	}

	m.handle = h
	m.epoch++
	old := m.state
	m.state = StateConnecting
	m.mu.Unlock()

	m.log.Debug("connecting", "url", url, "method", method, "handle", h.ID())
	m.notifyState(old, StateConnecting)
	return nil
}

// Disconnect tears the connection down: it stops the receive loop, cancels
// the transport handle with a going-away code, and resets all state except
// LastError. Idempotent from any state.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	notify := m.disconnectLocked(CloseGoingAway, "client going away")
	m.mu.Unlock()
	if notify != nil {
		notify()
	}
}

// disconnectLocked resets everything except lastErr and bumps the epoch so
// in-flight receives resolve as stale. It returns the observer callback to
// run after the lock is released, or nil.
func (m *Manager) disconnectLocked(code CloseCode, reason string) func() {
	if m.streamCancel != nil {
		m.streamCancel()
		m.streamCancel = nil
	}
	m.streaming = false
	m.singleInFlight = false

	if m.handle != nil {
		if err := m.transport.Cancel(m.handle, code, reason); err != nil {
			m.log.Debug("transport cancel failed", "handle", m.handle.ID(), "error", err)
		}
		m.handle = nil
	}
	m.lastMessage = nil
	m.subprotocol = ""
	m.epoch++

	if m.state == StateNotConnected {
		return nil
	}
	old := m.state
	m.state = StateNotConnected
	return func() { m.notifyState(old, StateNotConnected) }
}

// Send writes a message over the active connection, blocking until the
// transport acknowledges the write or ctx is cancelled. Connection state is
// not affected; failures are returned to the caller rather than recorded.
func (m *Manager) Send(ctx context.Context, msg Message) error {
	m.mu.Lock()
	h := m.handle
	m.mu.Unlock()
	if h == nil {
		return ErrNotConnected
	}
	return m.transport.Send(ctx, h, msg)
}

// SendText sends a text message.
func (m *Manager) SendText(ctx context.Context, text string) error {
	return m.Send(ctx, Text(text))
}

// SendBinary sends a binary message.
func (m *Manager) SendBinary(ctx context.Context, data []byte) error {
	return m.Send(ctx, Binary(data))
}

// ReceiveOnce performs a one-shot receive into LastMessage. It is a no-op
// when a receive loop or another one-shot receive already owns incoming
// messages. The call blocks until a message arrives, the connection ends, or
// ctx is cancelled.
func (m *Manager) ReceiveOnce(ctx context.Context) error {
	m.mu.Lock()
	if m.handle == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	if m.streaming || m.singleInFlight {
		m.mu.Unlock()
		return nil
	}
	m.singleInFlight = true
	h := m.handle
	epoch := m.epoch
	m.mu.Unlock()

	msg, err := m.transport.Receive(ctx, h)

	m.mu.Lock()
	if epoch != m.epoch {
		// Superseded while suspended. A newer connection owns the flags now.
		m.mu.Unlock()
		return nil
	}
	if err != nil {
		m.singleInFlight = false
		m.mu.Unlock()
		if isExpectedDisconnect(err) {
			return nil
		}
		return err
	}

	// Accept as long as some receiver is still active: if streaming started
	// while this call was suspended, the message is still wanted.
	var accepted bool
	if m.handle != nil && (m.streaming || m.singleInFlight) {
		m.lastMessage = &msg
		accepted = true
	}
	m.singleInFlight = false
	m.mu.Unlock()

	if accepted {
		m.notifyMessage(msg)
	}
	return nil
}

// StartReceiving launches the background receive loop. It is a no-op when the
// loop is already running. At most one loop exists at a time.
func (m *Manager) StartReceiving() error {
	m.mu.Lock()
	if m.handle == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	if m.streaming {
		m.mu.Unlock()
		return nil
	}
	m.streaming = true
	ctx, cancel := context.WithCancel(context.Background())
	m.streamCancel = cancel
	h := m.handle
	epoch := m.epoch
	m.mu.Unlock()

	m.log.Debug("receive loop started", "handle", h.ID())
	go m.receiveLoop(ctx, h, epoch)
	return nil
}

// StopReceiving cancels the background receive loop. An iteration already
// suspended inside the transport resolves naturally and is discarded by its
// post-suspend checks. Idempotent.
func (m *Manager) StopReceiving() {
	m.mu.Lock()
	if m.streamCancel != nil {
		m.streamCancel()
		m.streamCancel = nil
	}
	m.streaming = false
	m.mu.Unlock()
}

func (m *Manager) receiveLoop(ctx context.Context, h Handle, epoch uint64) {
	for {
		m.mu.Lock()
		if epoch != m.epoch || m.handle == nil || !m.streaming {
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()

		msg, err := m.transport.Receive(ctx, h)

		m.mu.Lock()
		if epoch != m.epoch || ctx.Err() != nil {
			// Superseded connection, or this loop was stopped while suspended.
			// A replacement loop may already be running; leave all flags alone.
			m.mu.Unlock()
			return
		}
		if err != nil {
			var recorded error
			if m.handle != nil && (m.streaming || m.singleInFlight) && !isExpectedDisconnect(err) {
				m.lastErr = err
				recorded = err
			}
			m.streaming = false
			if m.streamCancel != nil {
				m.streamCancel()
				m.streamCancel = nil
			}
			m.mu.Unlock()
			if recorded != nil {
				m.notifyError(recorded)
			}
			m.log.Debug("receive loop ended", "handle", h.ID(), "error", err)
			return
		}

		var delivered bool
		if m.handle != nil && (m.streaming || m.singleInFlight) {
			accepted := msg
			m.lastMessage = &accepted
			delivered = true
		}
		m.mu.Unlock()

		if delivered {
			m.notifyMessage(msg)
		}
	}
}

// consumeNotifications is the single consumer of the transport's out-of-band
// events until Close.
func (m *Manager) consumeNotifications() {
	for {
		select {
		case <-m.done:
			return
		case n, ok := <-m.transport.Notifications():
			if !ok {
				return
			}
			switch n.Kind {
			case NotificationOpened:
				m.handleOpened(n)
			case NotificationClosed:
				m.handleClosed(n)
			}
		}
	}
}

// handleOpened moves connecting to connected, but only when the notification
// references the live handle. A notification from a superseded handle never
// mutates state.
func (m *Manager) handleOpened(n Notification) {
	m.mu.Lock()
	if m.state != StateConnecting || m.handle == nil || m.handle != n.Handle {
		m.mu.Unlock()
		m.log.Debug("ignoring stale open notification", "handle", n.Handle.ID())
		return
	}
	m.subprotocol = n.Subprotocol
	old := m.state
	m.state = StateConnected
	m.mu.Unlock()

	m.log.Debug("connected", "handle", n.Handle.ID(), "subprotocol", n.Subprotocol)
	m.notifyState(old, StateConnected)
}

// handleClosed performs a full disconnect and records a CloseError when the
// peer ends a connection the caller believed connected. In every other state
// it is ignored: that is the normal path for a closure the caller itself
// initiated.
func (m *Manager) handleClosed(n Notification) {
	m.mu.Lock()
	if m.state != StateConnected || m.handle == nil || m.handle != n.Handle {
		m.mu.Unlock()
		return
	}
	notify := m.disconnectLocked(CloseNormalClosure, "")
	err := &CloseError{Code: n.Code, Reason: n.Reason}
	m.lastErr = err
	m.mu.Unlock()

	m.log.Debug("closed by peer", "handle", n.Handle.ID(), "code", n.Code.String(), "reason", n.Reason)
	if notify != nil {
		notify()
	}
	m.notifyError(err)
}

// State returns the current connection state.
func (m *Manager) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Streaming reports whether the background receive loop is active.
func (m *Manager) Streaming() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streaming
}

// SingleInFlight reports whether a one-shot receive is outstanding.
func (m *Manager) SingleInFlight() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.singleInFlight
}

// Subprotocol returns the negotiated subprotocol, or "" before the handshake
// completes.
func (m *Manager) Subprotocol() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subprotocol
}

// LastMessage returns the most recently accepted message, or nil. The
// returned message is a copy.
func (m *Manager) LastMessage() *Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastMessage == nil {
		return nil
	}
	msg := *m.lastMessage
	return &msg
}

// LastError returns the most recent recorded failure, or nil.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// ClearError acknowledges and clears the recorded failure.
func (m *Manager) ClearError() {
	m.mu.Lock()
	m.lastErr = nil
	m.mu.Unlock()
}

// Close disconnects and stops consuming transport notifications. The manager
// must not be used afterwards.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.Disconnect()
		close(m.done)
	})
}

func (m *Manager) notifyState(old, state ConnectionState) {
	if m.cfg.OnState != nil {
		m.cfg.OnState(old, state)
	}
}

func (m *Manager) notifyMessage(msg Message) {
	if m.cfg.OnMessage != nil {
		m.cfg.OnMessage(msg)
	}
}

func (m *Manager) notifyError(err error) {
	if m.cfg.OnError != nil {
		m.cfg.OnError(err)
	}
}
