package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// =============================================================================
// Fake transport for deterministic state-machine tests
// =============================================================================

type fakeRecv struct {
	msg Message
	err error
}

type fakeHandle struct {
	id            string
	inbox         chan fakeRecv
	receiveStarts atomic.Int32
	cancelled     atomic.Bool
	cancelCode    atomic.Int64
}

func (h *fakeHandle) ID() string { return h.id }

type fakeTransport struct {
	mu      sync.Mutex
	handles []*fakeHandle
	notifs  chan Notification
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{notifs: make(chan Notification, 16)}
}

func (t *fakeTransport) Open(rawURL string, opts OpenOptions) (Handle, error) {
	if _, err := parseEndpoint(rawURL); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	h := &fakeHandle{
		id:    fmt.Sprintf("fake-%d", len(t.handles)+1),
		inbox: make(chan fakeRecv, 8),
	}
	t.handles = append(t.handles, h)
	return h, nil
}

func (t *fakeTransport) Send(ctx context.Context, h Handle, msg Message) error {
	return nil
}

func (t *fakeTransport) Receive(ctx context.Context, handle Handle) (Message, error) {
	h := handle.(*fakeHandle)
	h.receiveStarts.Add(1)
	select {
	case r := <-h.inbox:
		if ctx.Err() != nil {
			// A cancelled receive must not consume a message meant for a
			// live one; put it back.
			h.inbox <- r
			return Message{}, ctx.Err()
		}
		return r.msg, r.err
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (t *fakeTransport) Cancel(handle Handle, code CloseCode, reason string) error {
	h := handle.(*fakeHandle)
	h.cancelled.Store(true)
	h.cancelCode.Store(int64(code))
	return nil
}

func (t *fakeTransport) Notifications() <-chan Notification {
	return t.notifs
}

// handle returns the nth handle the transport has opened (1-based).
func (t *fakeTransport) handle(n int) *fakeHandle {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n > len(t.handles) {
		return nil
	}
	return t.handles[n-1]
}

func (t *fakeTransport) handleCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.handles)
}

func (t *fakeTransport) notifyOpened(h *fakeHandle, subprotocol string) {
	t.notifs <- Notification{Kind: NotificationOpened, Handle: h, Subprotocol: subprotocol}
}

func (t *fakeTransport) notifyClosed(h *fakeHandle, code CloseCode, reason string) {
	t.notifs <- Notification{Kind: NotificationClosed, Handle: h, Code: code, Reason: reason}
}

// waitFor polls until cond holds or the deadline expires.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// connectAndOpen brings a manager to connected over the fake transport.
func connectAndOpen(t *testing.T, ft *fakeTransport, m *Manager) *fakeHandle {
	t.Helper()
	if err := m.Connect("ws://example.test/ws", "GET"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	h := ft.handle(ft.handleCount())
	ft.notifyOpened(h, "")
	waitFor(t, "connected state", func() bool { return m.State() == StateConnected })
	return h
}

// =============================================================================
// Connect / state machine
// =============================================================================

func TestManager_ConnectTransitions(t *testing.T) {
	ft := newFakeTransport()
	m := NewManager(ft, nil)
	defer m.Close()

	if err := m.Connect("ws://host/path", "GET"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if m.State() != StateConnecting {
		t.Errorf("expected connecting, got %v", m.State())
	}
	if ft.handleCount() != 1 {
		t.Fatalf("expected one handle, got %d", ft.handleCount())
	}

	ft.notifyOpened(ft.handle(1), "chat.v1")
	waitFor(t, "connected state", func() bool { return m.State() == StateConnected })

	if m.Subprotocol() != "chat.v1" {
		t.Errorf("expected negotiated subprotocol, got %q", m.Subprotocol())
	}
}

func TestManager_ConnectInvalidURL(t *testing.T) {
	ft := newFakeTransport()
	m := NewManager(ft, nil)
	defer m.Close()

	err := m.Connect("not a url", "GET")
	if !errors.Is(err, ErrInvalidURL) {
		t.Fatalf("expected ErrInvalidURL, got %v", err)
	}
	if m.State() != StateNotConnected {
		t.Errorf("state must remain not connected, got %v", m.State())
	}
	if ft.handleCount() != 0 {
		t.Errorf("no handle must be created, got %d", ft.handleCount())
	}

	// http scheme is rejected too
	if err := m.Connect("http://host/path", "GET"); !errors.Is(err, ErrInvalidURL) {
		t.Errorf("expected ErrInvalidURL for http scheme, got %v", err)
	}
}

func TestManager_ConnectWhileActiveIsNoop(t *testing.T) {
	ft := newFakeTransport()
	m := NewManager(ft, nil)
	defer m.Close()

	if err := m.Connect("ws://host/a", "GET"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	// While connecting
	if err := m.Connect("ws://host/b", "GET"); err != nil {
		t.Errorf("second Connect must be a no-op, got %v", err)
	}
	if ft.handleCount() != 1 {
		t.Errorf("second Connect must not open a handle, got %d", ft.handleCount())
	}

	// While connected
	ft.notifyOpened(ft.handle(1), "")
	waitFor(t, "connected state", func() bool { return m.State() == StateConnected })
	if err := m.Connect("ws://host/c", "GET"); err != nil {
		t.Errorf("Connect while connected must be a no-op, got %v", err)
	}
	if ft.handleCount() != 1 {
		t.Errorf("Connect while connected must not open a handle, got %d", ft.handleCount())
	}
}

func TestManager_DisconnectResetsEverything(t *testing.T) {
	ft := newFakeTransport()
	m := NewManager(ft, nil)
	defer m.Close()

	h := connectAndOpen(t, ft, m)
	if err := m.StartReceiving(); err != nil {
		t.Fatalf("StartReceiving failed: %v", err)
	}
	h.inbox <- fakeRecv{msg: Text("hello")}
	waitFor(t, "message accepted", func() bool { return m.LastMessage() != nil })

	m.Disconnect()

	if m.State() != StateNotConnected {
		t.Errorf("expected not connected, got %v", m.State())
	}
	if m.Streaming() || m.SingleInFlight() {
		t.Error("receive flags must be cleared")
	}
	if m.LastMessage() != nil {
		t.Error("last message must be cleared")
	}
	if !h.cancelled.Load() {
		t.Error("transport handle must be cancelled")
	}
	if CloseCode(h.cancelCode.Load()) != CloseGoingAway {
		t.Errorf("expected goingAway close code, got %v", CloseCode(h.cancelCode.Load()))
	}
}

func TestManager_DisconnectWithoutConnection(t *testing.T) {
	ft := newFakeTransport()
	m := NewManager(ft, nil)
	defer m.Close()

	// Idempotent from any state.
	m.Disconnect()
	m.Disconnect()
	if m.State() != StateNotConnected {
		t.Errorf("expected not connected, got %v", m.State())
	}
}

func TestManager_StaleOpenNotificationIgnored(t *testing.T) {
	ft := newFakeTransport()
	m := NewManager(ft, nil)
	defer m.Close()

	if err := m.Connect("ws://host/path", "GET"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	old := ft.handle(1)
	m.Disconnect()

	if err := m.Connect("ws://host/path", "GET"); err != nil {
		t.Fatalf("reconnect failed: %v", err)
	}

	// The superseded handle's handshake completes late; it must not flip the
	// new connection to connected.
	ft.notifyOpened(old, "")
	ft.notifyClosed(old, CloseNormalClosure, "late")

	// Open the real one afterwards so we can observe ordering.
	ft.notifyOpened(ft.handle(2), "")
	waitFor(t, "connected state", func() bool { return m.State() == StateConnected })

	if m.LastError() != nil {
		t.Errorf("stale notifications must not record errors, got %v", m.LastError())
	}
}

// =============================================================================
// Closed-by-peer
// =============================================================================

func TestManager_ClosedByPeerWhileConnected(t *testing.T) {
	ft := newFakeTransport()

	var stateChanges []ConnectionState
	var stateMu sync.Mutex
	m := NewManager(ft, &Config{
		OnState: func(old, state ConnectionState) {
			stateMu.Lock()
			stateChanges = append(stateChanges, state)
			stateMu.Unlock()
		},
	})
	defer m.Close()

	h := connectAndOpen(t, ft, m)

	ft.notifyClosed(h, CloseAbnormalClosure, "peer gone")
	waitFor(t, "forced disconnect", func() bool { return m.State() == StateNotConnected })

	err := m.LastError()
	if err == nil {
		t.Fatal("expected a recorded close error")
	}
	var ce *CloseError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *CloseError, got %T", err)
	}
	if ce.Code != CloseAbnormalClosure {
		t.Errorf("expected abnormalClosure, got %v", ce.Code)
	}
	if !strings.Contains(err.Error(), "abnormalClosure") || !strings.Contains(err.Error(), "peer gone") {
		t.Errorf("error must render code name and reason, got %q", err.Error())
	}

	// Acknowledge clears the slot.
	m.ClearError()
	if m.LastError() != nil {
		t.Error("ClearError must clear the recorded error")
	}

	stateMu.Lock()
	defer stateMu.Unlock()
	want := []ConnectionState{StateConnecting, StateConnected, StateNotConnected}
	if len(stateChanges) != len(want) {
		t.Fatalf("expected %d state changes, got %v", len(want), stateChanges)
	}
	for i := range want {
		if stateChanges[i] != want[i] {
			t.Errorf("state change %d: expected %v, got %v", i, want[i], stateChanges[i])
		}
	}
}

func TestManager_ClosedByPeerWhileConnectingIgnored(t *testing.T) {
	ft := newFakeTransport()
	m := NewManager(ft, nil)
	defer m.Close()

	if err := m.Connect("ws://host/path", "GET"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	h := ft.handle(1)
	ft.notifyClosed(h, CloseAbnormalClosure, "handshake refused")

	// The notification is consumed asynchronously; opening afterwards proves
	// the close was processed first and ignored.
	ft.notifyOpened(h, "")
	waitFor(t, "connected state", func() bool { return m.State() == StateConnected })

	if m.LastError() != nil {
		t.Errorf("close while connecting must not record an error, got %v", m.LastError())
	}
}

// =============================================================================
// Send
// =============================================================================

func TestManager_SendWithoutConnection(t *testing.T) {
	ft := newFakeTransport()
	m := NewManager(ft, nil)
	defer m.Close()

	if err := m.SendText(context.Background(), "hello"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

// =============================================================================
// One-shot receive
// =============================================================================

func TestManager_ReceiveOnce(t *testing.T) {
	ft := newFakeTransport()
	m := NewManager(ft, nil)
	defer m.Close()

	h := connectAndOpen(t, ft, m)
	h.inbox <- fakeRecv{msg: Binary([]byte{0x1, 0x2})}

	if err := m.ReceiveOnce(context.Background()); err != nil {
		t.Fatalf("ReceiveOnce failed: %v", err)
	}

	msg := m.LastMessage()
	if msg == nil || msg.Type != MessageBinary || len(msg.Data) != 2 {
		t.Errorf("expected binary message, got %+v", msg)
	}
	if m.SingleInFlight() {
		t.Error("singleInFlight must be cleared after resolution")
	}
}

func TestManager_ReceiveOnceWithoutConnection(t *testing.T) {
	ft := newFakeTransport()
	m := NewManager(ft, nil)
	defer m.Close()

	if err := m.ReceiveOnce(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestManager_ReceiveOnceSecondCallIsNoop(t *testing.T) {
	ft := newFakeTransport()
	m := NewManager(ft, nil)
	defer m.Close()

	h := connectAndOpen(t, ft, m)

	done := make(chan error, 1)
	go func() { done <- m.ReceiveOnce(context.Background()) }()
	waitFor(t, "first receive outstanding", func() bool { return m.SingleInFlight() })

	// The second call must not start a second transport receive.
	if err := m.ReceiveOnce(context.Background()); err != nil {
		t.Errorf("second ReceiveOnce must be a no-op, got %v", err)
	}
	if n := h.receiveStarts.Load(); n != 1 {
		t.Errorf("expected exactly one transport receive, got %d", n)
	}

	h.inbox <- fakeRecv{msg: Text("reply")}
	if err := <-done; err != nil {
		t.Fatalf("first ReceiveOnce failed: %v", err)
	}
	if m.LastMessage() == nil || string(m.LastMessage().Data) != "reply" {
		t.Errorf("expected reply to be accepted, got %+v", m.LastMessage())
	}
}

func TestManager_ReceiveOnceWhileStreamingIsNoop(t *testing.T) {
	ft := newFakeTransport()
	m := NewManager(ft, nil)
	defer m.Close()

	h := connectAndOpen(t, ft, m)
	if err := m.StartReceiving(); err != nil {
		t.Fatalf("StartReceiving failed: %v", err)
	}
	waitFor(t, "loop receive started", func() bool { return h.receiveStarts.Load() == 1 })

	if err := m.ReceiveOnce(context.Background()); err != nil {
		t.Errorf("ReceiveOnce while streaming must be a no-op, got %v", err)
	}
	if n := h.receiveStarts.Load(); n != 1 {
		t.Errorf("expected only the loop's receive, got %d", n)
	}
}

func TestManager_ReceiveOnceAcceptsWhenStreamingStartedMeanwhile(t *testing.T) {
	ft := newFakeTransport()
	m := NewManager(ft, nil)
	defer m.Close()

	h := connectAndOpen(t, ft, m)

	done := make(chan error, 1)
	go func() { done <- m.ReceiveOnce(context.Background()) }()
	waitFor(t, "single receive outstanding", func() bool { return m.SingleInFlight() })

	// Streaming starts while the one-shot receive is suspended. The two
	// briefly overlap; the one-shot message is still wanted.
	if err := m.StartReceiving(); err != nil {
		t.Fatalf("StartReceiving failed: %v", err)
	}
	h.inbox <- fakeRecv{msg: Text("overlap")}

	if err := <-done; err != nil {
		t.Fatalf("ReceiveOnce failed: %v", err)
	}
	waitFor(t, "message accepted", func() bool {
		msg := m.LastMessage()
		return msg != nil && string(msg.Data) == "overlap"
	})
	if !m.Streaming() {
		t.Error("streaming must remain active")
	}

	m.StopReceiving()
}

func TestManager_ReceiveOnceStaleAfterDisconnect(t *testing.T) {
	ft := newFakeTransport()
	m := NewManager(ft, nil)
	defer m.Close()

	h := connectAndOpen(t, ft, m)

	done := make(chan error, 1)
	go func() { done <- m.ReceiveOnce(context.Background()) }()
	waitFor(t, "single receive outstanding", func() bool { return m.SingleInFlight() })

	m.Disconnect()

	// The suspended receive resolves after the reset; its result must not
	// corrupt the freshly-reset state.
	h.inbox <- fakeRecv{msg: Text("stale")}
	if err := <-done; err != nil {
		t.Errorf("stale resolution must be swallowed, got %v", err)
	}
	if m.LastMessage() != nil {
		t.Errorf("stale message must not be accepted, got %+v", m.LastMessage())
	}
}

// =============================================================================
// Streaming receive
// =============================================================================

func TestManager_StreamingDeliversMessages(t *testing.T) {
	ft := newFakeTransport()

	var received atomic.Int32
	m := NewManager(ft, &Config{
		OnMessage: func(msg Message) { received.Add(1) },
	})
	defer m.Close()

	h := connectAndOpen(t, ft, m)
	if err := m.StartReceiving(); err != nil {
		t.Fatalf("StartReceiving failed: %v", err)
	}
	if !m.Streaming() {
		t.Fatal("streaming flag must be set")
	}

	h.inbox <- fakeRecv{msg: Text("one")}
	h.inbox <- fakeRecv{msg: Text("two")}

	waitFor(t, "both messages", func() bool { return received.Load() == 2 })
	waitFor(t, "last message overwritten", func() bool {
		msg := m.LastMessage()
		return msg != nil && string(msg.Data) == "two"
	})
}

func TestManager_StartReceivingTwiceIsNoop(t *testing.T) {
	ft := newFakeTransport()
	m := NewManager(ft, nil)
	defer m.Close()

	h := connectAndOpen(t, ft, m)
	if err := m.StartReceiving(); err != nil {
		t.Fatalf("StartReceiving failed: %v", err)
	}
	waitFor(t, "loop receive started", func() bool { return h.receiveStarts.Load() == 1 })

	if err := m.StartReceiving(); err != nil {
		t.Errorf("second StartReceiving must be a no-op, got %v", err)
	}
	// Give a spurious second loop a chance to show itself.
	time.Sleep(20 * time.Millisecond)
	if n := h.receiveStarts.Load(); n != 1 {
		t.Errorf("expected one active loop, got %d receives", n)
	}
}

func TestManager_StartReceivingWithoutConnection(t *testing.T) {
	ft := newFakeTransport()
	m := NewManager(ft, nil)
	defer m.Close()

	if err := m.StartReceiving(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestManager_StopReceivingIdempotent(t *testing.T) {
	ft := newFakeTransport()
	m := NewManager(ft, nil)
	defer m.Close()

	// Not streaming: no-op.
	m.StopReceiving()

	connectAndOpen(t, ft, m)
	if err := m.StartReceiving(); err != nil {
		t.Fatalf("StartReceiving failed: %v", err)
	}
	m.StopReceiving()
	m.StopReceiving()
	if m.Streaming() {
		t.Error("streaming must be cleared")
	}
}

func TestManager_StreamingErrorRecorded(t *testing.T) {
	ft := newFakeTransport()

	var notified atomic.Int32
	m := NewManager(ft, &Config{
		OnError: func(err error) { notified.Add(1) },
	})
	defer m.Close()

	h := connectAndOpen(t, ft, m)
	if err := m.StartReceiving(); err != nil {
		t.Fatalf("StartReceiving failed: %v", err)
	}

	boom := errors.New("tls: bad record MAC")
	h.inbox <- fakeRecv{err: boom}

	waitFor(t, "error recorded", func() bool { return m.LastError() != nil })
	if !errors.Is(m.LastError(), boom) {
		t.Errorf("expected recorded failure, got %v", m.LastError())
	}
	if m.Streaming() {
		t.Error("loop must stop on failure")
	}
	if notified.Load() != 1 {
		t.Errorf("expected one error notification, got %d", notified.Load())
	}
}

func TestManager_StreamingExpectedDisconnectSuppressed(t *testing.T) {
	ft := newFakeTransport()
	m := NewManager(ft, nil)
	defer m.Close()

	h := connectAndOpen(t, ft, m)
	if err := m.StartReceiving(); err != nil {
		t.Fatalf("StartReceiving failed: %v", err)
	}

	// The low-level error racing a peer close frame is noise; the Closed
	// notification path is authoritative.
	h.inbox <- fakeRecv{err: fmt.Errorf("read: %w", net.ErrClosed)}

	waitFor(t, "loop stopped", func() bool { return !m.Streaming() })
	if m.LastError() != nil {
		t.Errorf("expected disconnect must be suppressed, got %v", m.LastError())
	}
}

func TestManager_StreamingStopStartRoundTrip(t *testing.T) {
	ft := newFakeTransport()
	m := NewManager(ft, nil)
	defer m.Close()

	h := connectAndOpen(t, ft, m)

	for i := 0; i < 3; i++ {
		if err := m.StartReceiving(); err != nil {
			t.Fatalf("StartReceiving #%d failed: %v", i+1, err)
		}
		want := int32(i + 1)
		waitFor(t, "loop receive started", func() bool { return h.receiveStarts.Load() == want })
		m.StopReceiving()
		if m.Streaming() {
			t.Fatalf("round %d: streaming must be cleared", i+1)
		}
	}

	// A final loop must still deliver, with no residue from stopped loops.
	if err := m.StartReceiving(); err != nil {
		t.Fatalf("final StartReceiving failed: %v", err)
	}
	h.inbox <- fakeRecv{msg: Text("fresh")}
	waitFor(t, "fresh message", func() bool {
		msg := m.LastMessage()
		return msg != nil && string(msg.Data) == "fresh"
	})
}

func TestManager_StoppedLoopResolutionIsDiscarded(t *testing.T) {
	ft := newFakeTransport()
	m := NewManager(ft, nil)
	defer m.Close()

	h := connectAndOpen(t, ft, m)
	if err := m.StartReceiving(); err != nil {
		t.Fatalf("StartReceiving failed: %v", err)
	}
	waitFor(t, "loop suspended", func() bool { return h.receiveStarts.Load() == 1 })

	m.StopReceiving()
	if err := m.StartReceiving(); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	waitFor(t, "second loop suspended", func() bool { return h.receiveStarts.Load() == 2 })

	// The new loop must still be the one streaming.
	if !m.Streaming() {
		t.Fatal("restarted loop must keep the streaming flag set")
	}

	// And it still delivers.
	h.inbox <- fakeRecv{msg: Text("after restart")}
	waitFor(t, "delivery after restart", func() bool {
		msg := m.LastMessage()
		return msg != nil && string(msg.Data) == "after restart"
	})
}

// =============================================================================
// Full-lifecycle race coverage
// =============================================================================

func TestManager_ConcurrentOperations(t *testing.T) {
	// Hammer the manager from several goroutines; correctness here is the
	// absence of races and panics, checked under -race.
	ft := newFakeTransport()
	m := NewManager(ft, nil)
	defer m.Close()

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(4)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			_ = m.Connect("ws://host/path", "GET")
			if n := ft.handleCount(); n > 0 {
				ft.notifyOpened(ft.handle(n), "")
			}
			m.Disconnect()
		}
	}()
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			_ = m.StartReceiving()
			m.StopReceiving()
		}
	}()
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
			_ = m.ReceiveOnce(ctx)
			cancel()
		}
	}()
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			_ = m.State()
			_ = m.Streaming()
			_ = m.LastMessage()
			_ = m.LastError()
		}
	}()

	time.Sleep(100 * time.Millisecond)
	close(stop)
	wg.Wait()
}
