package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// Common errors for the client package.
var (
	// ErrInvalidURL indicates the endpoint URL is not a valid ws:// or wss:// URL.
	ErrInvalidURL = errors.New("invalid websocket URL")
	// ErrNotConnected indicates an operation requires an active connection and none exists.
	ErrNotConnected = errors.New("no active connection")
	// ErrForeignHandle indicates a handle was passed to a transport that did not create it.
	ErrForeignHandle = errors.New("handle belongs to a different transport")
)

// CloseError reports that the peer closed the connection.
type CloseError struct {
	Code   CloseCode
	Reason string
}

// Error renders the close code's symbolic name and the textual reason.
func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("connection closed by peer: %s", e.Code)
	}
	return fmt.Sprintf("connection closed by peer: %s (%s)", e.Code, e.Reason)
}

// isExpectedDisconnect reports whether a receive failure is the low-level echo
// of a closure that is already reported elsewhere. A peer close frame surfaces
// twice: once as a Closed notification (authoritative, carries code and
// reason) and once as the failure of the receive call that was blocked when
// the frame arrived. The second report is noise, as are "connection already
// closed" errors and our own cancellation.
func isExpectedDisconnect(err error) bool {
	if err == nil {
		return false
	}
	var ce *CloseError
	if errors.As(err, &ce) {
		return true
	}
	return errors.Is(err, net.ErrClosed) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, syscall.ENOTCONN) ||
		errors.Is(err, syscall.ECONNRESET)
}
