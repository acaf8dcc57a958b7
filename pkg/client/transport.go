package client

import (
	"context"
	"net/http"
	"time"
)

// Handle identifies one transport-level connection. Handles are opaque to
// callers: the Manager holds at most one and compares handle identity to
// discard notifications from superseded connections.
type Handle interface {
	// ID returns a unique identifier for log correlation.
	ID() string
}

// NotificationKind discriminates transport notifications.
type NotificationKind int

const (
	// NotificationOpened indicates the handshake completed.
	NotificationOpened NotificationKind = iota + 1
	// NotificationClosed indicates the connection ended.
	NotificationClosed
)

// Notification is an out-of-band event from the transport, delivered
// asynchronously from Open/Send/Receive calls.
type Notification struct {
	Kind   NotificationKind
	Handle Handle

	// Subprotocol is the negotiated subprotocol. Opened only.
	Subprotocol string

	// Code and Reason describe how the connection ended. Closed only.
	Code   CloseCode
	Reason string
}

// OpenOptions configures a single Open call.
type OpenOptions struct {
	// Method is recorded for diagnostics. The WebSocket handshake itself is
	// always an HTTP GET.
	Method string

	// Header holds additional handshake request headers.
	Header http.Header

	// Subprotocols lists subprotocols to offer during the handshake.
	Subprotocols []string

	// HandshakeTimeout bounds the dial. Zero means no client-imposed timeout.
	HandshakeTimeout time.Duration
}

// Transport is the capability the Manager consumes to reach the network.
//
// Open validates the URL and returns a handle immediately; the handshake runs
// in the background and completes via an Opened notification. Send and
// Receive block until the handshake has settled, then until the operation
// completes or ctx is cancelled. Receive resolves only when a message arrives
// or the connection ends; there is no transport-imposed timeout.
//
// Implementations serialize concurrent Receive calls on the same handle, so a
// second receiver blocks rather than corrupting the frame stream.
type Transport interface {
	Open(url string, opts OpenOptions) (Handle, error)
	Send(ctx context.Context, h Handle, msg Message) error
	Receive(ctx context.Context, h Handle) (Message, error)
	Cancel(h Handle, code CloseCode, reason string) error

	// Notifications returns the stream of out-of-band events. The same
	// channel is returned on every call.
	Notifications() <-chan Notification
}
