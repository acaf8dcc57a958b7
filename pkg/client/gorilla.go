package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	gws "github.com/gorilla/websocket"
)

// gorillaReadResult carries one settled read out of the reader goroutine.
type gorillaReadResult struct {
	msg Message
	err error
}

type gorillaHandle struct {
	id         string
	ready      chan struct{}
	conn       *gws.Conn
	dialErr    error
	dialCancel context.CancelFunc
	recvSem    chan struct{}
	writeMu    sync.Mutex
}

func (h *gorillaHandle) ID() string { return h.id }

func (h *gorillaHandle) await(ctx context.Context) (*gws.Conn, error) {
	select {
	case <-h.ready:
		if h.dialErr != nil {
			return nil, h.dialErr
		}
		return h.conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GorillaTransport is an alternate Transport backed by
// github.com/gorilla/websocket. Gorilla reads are not context-aware, so a
// cancelled Receive returns early while the underlying read stays pending
// until the connection closes; the result of such an orphaned read is
// discarded.
type GorillaTransport struct {
	log    *slog.Logger
	notifs chan Notification
}

var _ Transport = (*GorillaTransport)(nil)

// NewGorillaTransport creates a GorillaTransport. A nil logger disables logging.
func NewGorillaTransport(log *slog.Logger) *GorillaTransport {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &GorillaTransport{
		log:    log,
		notifs: make(chan Notification, 16),
	}
}

// Open validates the URL, then dials in the background.
func (t *GorillaTransport) Open(rawURL string, opts OpenOptions) (Handle, error) {
	target, err := parseEndpoint(rawURL)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &gorillaHandle{
		id:         uuid.NewString(),
		ready:      make(chan struct{}),
		dialCancel: cancel,
		recvSem:    make(chan struct{}, 1),
	}
	go t.dial(ctx, h, target, opts)
	return h, nil
}

func (t *GorillaTransport) dial(ctx context.Context, h *gorillaHandle, target string, opts OpenOptions) {
	dialer := gws.Dialer{
		HandshakeTimeout: opts.HandshakeTimeout,
		Subprotocols:     opts.Subprotocols,
	}

	conn, resp, err := dialer.DialContext(ctx, target, opts.Header)
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		h.dialErr = err
		close(h.ready)
		t.log.Debug("websocket dial failed", "handle", h.id, "url", target, "error", err)
		t.emit(Notification{Kind: NotificationClosed, Handle: h, Code: CloseAbnormalClosure, Reason: err.Error()})
		return
	}

	if ctx.Err() != nil {
		// Cancelled between handshake completion and here; tear it down.
		_ = conn.Close()
		h.dialErr = ctx.Err()
		close(h.ready)
		return
	}

	h.conn = conn
	close(h.ready)
	t.log.Debug("websocket handshake completed", "handle", h.id, "subprotocol", conn.Subprotocol())
	t.emit(Notification{Kind: NotificationOpened, Handle: h, Subprotocol: conn.Subprotocol()})
}

// Send writes a message. Writes are serialized per connection.
func (t *GorillaTransport) Send(ctx context.Context, handle Handle, msg Message) error {
	h, ok := handle.(*gorillaHandle)
	if !ok {
		return ErrForeignHandle
	}
	conn, err := h.await(ctx)
	if err != nil {
		return err
	}

	typ := gws.TextMessage
	if msg.Type == MessageBinary {
		typ = gws.BinaryMessage
	}

	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	} else {
		_ = conn.SetWriteDeadline(time.Time{})
	}
	return conn.WriteMessage(typ, msg.Data)
}

// Receive returns the next message. The blocking read runs on its own
// goroutine so ctx cancellation can return control to the caller.
func (t *GorillaTransport) Receive(ctx context.Context, handle Handle) (Message, error) {
	h, ok := handle.(*gorillaHandle)
	if !ok {
		return Message{}, ErrForeignHandle
	}
	conn, err := h.await(ctx)
	if err != nil {
		return Message{}, err
	}

	select {
	case h.recvSem <- struct{}{}:
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}

	results := make(chan gorillaReadResult, 1)
	go func() {
		defer func() { <-h.recvSem }()
		typ, data, err := conn.ReadMessage()
		if err != nil {
			results <- gorillaReadResult{err: t.classifyReadError(h, err)}
			return
		}
		mt := MessageText
		if typ == gws.BinaryMessage {
			mt = MessageBinary
		}
		results <- gorillaReadResult{msg: Message{Type: mt, Data: data}}
	}()

	select {
	case res := <-results:
		return res.msg, res.err
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (t *GorillaTransport) classifyReadError(h *gorillaHandle, err error) error {
	var ce *gws.CloseError
	if errors.As(err, &ce) {
		t.log.Debug("peer closed connection", "handle", h.id, "code", ce.Code, "reason", ce.Text)
		t.emit(Notification{Kind: NotificationClosed, Handle: h, Code: CloseCode(ce.Code), Reason: ce.Text})
		return &CloseError{Code: CloseCode(ce.Code), Reason: ce.Text}
	}
	return err
}

// Cancel sends a close frame and tears down the connection. A dial still in
// flight is aborted.
func (t *GorillaTransport) Cancel(handle Handle, code CloseCode, reason string) error {
	h, ok := handle.(*gorillaHandle)
	if !ok {
		return ErrForeignHandle
	}

	h.dialCancel()
	select {
	case <-h.ready:
	default:
		return nil
	}
	if h.conn == nil {
		return nil
	}

	frame := gws.FormatCloseMessage(int(code), reason)
	h.writeMu.Lock()
	_ = h.conn.WriteControl(gws.CloseMessage, frame, time.Now().Add(5*time.Second))
	h.writeMu.Unlock()
	return h.conn.Close()
}

// Notifications returns the out-of-band event stream.
func (t *GorillaTransport) Notifications() <-chan Notification {
	return t.notifs
}

func (t *GorillaTransport) emit(n Notification) {
	select {
	case t.notifs <- n:
	default:
		t.log.Warn("notification dropped, consumer not keeping up", "handle", n.Handle.ID(), "kind", n.Kind)
	}
}
