package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"

	ws "github.com/coder/websocket"
	"github.com/google/uuid"
)

// coderHandle wraps a coder/websocket connection. The conn is nil until the
// background dial resolves and ready is closed.
type coderHandle struct {
	id         string
	ready      chan struct{}
	conn       *ws.Conn
	dialErr    error
	dialCancel context.CancelFunc
	recvSem    chan struct{}
}

func (h *coderHandle) ID() string { return h.id }

// await blocks until the dial has settled or ctx is cancelled.
func (h *coderHandle) await(ctx context.Context) (*ws.Conn, error) {
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

// CoderTransport is the default Transport, backed by github.com/coder/websocket.
// Its context-based Read makes receive cancellation immediate.
type CoderTransport struct {
	log    *slog.Logger
	notifs chan Notification
}

var _ Transport = (*CoderTransport)(nil)

// NewCoderTransport creates a CoderTransport. A nil logger disables logging.
func NewCoderTransport(log *slog.Logger) *CoderTransport {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &CoderTransport{
		log:    log,
		notifs: make(chan Notification, 16),
	}
}

// Open validates the URL, then dials in the background. The handle is usable
// immediately; Send and Receive block until the handshake settles.
func (t *CoderTransport) Open(rawURL string, opts OpenOptions) (Handle, error) {
	target, err := parseEndpoint(rawURL)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &coderHandle{
		id:         uuid.NewString(),
		ready:      make(chan struct{}),
		dialCancel: cancel,
		recvSem:    make(chan struct{}, 1),
	}
	go t.dial(ctx, h, target, opts)
	return h, nil
}

func (t *CoderTransport) dial(ctx context.Context, h *coderHandle, target string, opts OpenOptions) {
	if opts.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.HandshakeTimeout)
		defer cancel()
	}

	conn, resp, err := ws.Dial(ctx, target, &ws.DialOptions{
		HTTPHeader:   opts.Header,
		Subprotocols: opts.Subprotocols,
	})
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
		_ = conn.Close(ws.StatusGoingAway, "cancelled")
		h.dialErr = ctx.Err()
		close(h.ready)
		return
	}

	h.conn = conn
	close(h.ready)
	t.log.Debug("websocket handshake completed", "handle", h.id, "subprotocol", conn.Subprotocol())
	t.emit(Notification{Kind: NotificationOpened, Handle: h, Subprotocol: conn.Subprotocol()})
}

// Send writes a message, blocking until the peer layer accepts it or ctx is
// cancelled.
func (t *CoderTransport) Send(ctx context.Context, handle Handle, msg Message) error {
	h, ok := handle.(*coderHandle)
	if !ok {
		return ErrForeignHandle
	}
	conn, err := h.await(ctx)
	if err != nil {
		return err
	}

	typ := ws.MessageText
	if msg.Type == MessageBinary {
		typ = ws.MessageBinary
	}
	return conn.Write(ctx, typ, msg.Data)
}

// Receive returns the next message. A peer close frame is reported both as a
// Closed notification and as the returned error.
func (t *CoderTransport) Receive(ctx context.Context, handle Handle) (Message, error) {
	h, ok := handle.(*coderHandle)
	if !ok {
		return Message{}, ErrForeignHandle
	}
	conn, err := h.await(ctx)
	if err != nil {
		return Message{}, err
	}

	// One reader at a time per connection.
	select {
	case h.recvSem <- struct{}{}:
		defer func() { <-h.recvSem }()
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}

	typ, data, err := conn.Read(ctx)
	if err != nil {
		var ce ws.CloseError
		if errors.As(err, &ce) {
			t.log.Debug("peer closed connection", "handle", h.id, "code", int(ce.Code), "reason", ce.Reason)
			t.emit(Notification{Kind: NotificationClosed, Handle: h, Code: CloseCode(ce.Code), Reason: ce.Reason})
			return Message{}, &CloseError{Code: CloseCode(ce.Code), Reason: ce.Reason}
		}
		return Message{}, err
	}

	mt := MessageText
	if typ == ws.MessageBinary {
		mt = MessageBinary
	}
	return Message{Type: mt, Data: data}, nil
}

// Cancel terminates the connection. A dial still in flight is aborted.
func (t *CoderTransport) Cancel(handle Handle, code CloseCode, reason string) error {
	h, ok := handle.(*coderHandle)
	if !ok {
		return ErrForeignHandle
	}

	h.dialCancel()
	select {
	case <-h.ready:
	default:
		// Dial not settled yet; the cancel above aborts it.
		return nil
	}
	if h.conn == nil {
		return nil
	}
	return h.conn.Close(ws.StatusCode(code), reason)
}

// Notifications returns the out-of-band event stream.
func (t *CoderTransport) Notifications() <-chan Notification {
	return t.notifs
}

func (t *CoderTransport) emit(n Notification) {
	select {
	case t.notifs <- n:
	default:
		t.log.Warn("notification dropped, consumer not keeping up", "handle", n.Handle.ID(), "kind", n.Kind)
	}
}

// parseEndpoint validates that raw is a syntactically valid ws:// or wss:// URL.
func parseEndpoint(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	if (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	return u.String(), nil
}
