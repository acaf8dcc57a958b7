package client

import (
	"log/slog"
	"net/http"
	"time"
)

// Config holds Manager configuration. The zero value is usable.
type Config struct {
	// Header holds additional handshake request headers.
	Header http.Header

	// Subprotocols lists subprotocols to offer during the handshake.
	Subprotocols []string

	// HandshakeTimeout bounds each dial. Zero means no client-imposed timeout.
	HandshakeTimeout time.Duration

	// Logger receives structured diagnostics. Nil disables logging.
	Logger *slog.Logger

	// OnState is invoked after every connection state transition, outside the
	// manager lock.
	OnState func(old, new ConnectionState)

	// OnMessage is invoked after a message is accepted into LastMessage,
	// outside the manager lock.
	OnMessage func(msg Message)

	// OnError is invoked after an error is recorded into LastError, outside
	// the manager lock.
	OnError func(err error)
}
