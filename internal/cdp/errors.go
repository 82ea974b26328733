package cdp

import (
	"errors"
	"fmt"

	"github.com/coder/websocket"
)

// ErrConnectionClosed is returned for work that was pending or issued after
// the connection was closed by Close.
var ErrConnectionClosed = errors.New("cdp: connection closed")

// ErrSessionClosed is returned for work on a session whose target detached
// or which was detached explicitly.
var ErrSessionClosed = errors.New("cdp: session closed")

// ErrTimeout matches every *TimeoutError via errors.Is.
var ErrTimeout = errors.New("cdp: timed out waiting for response")

var errUnknownFormat = errors.New("message has neither id nor method")

// TransportError reports that the WebSocket could not be established.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("failed to connect to CDP endpoint %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ConnectionLostError reports that the socket failed underneath a live
// connection. Every in-flight call on the connection fails with it.
type ConnectionLostError struct {
	Code   websocket.StatusCode
	Reason DisconnectReason
	Err    error
}

func (e *ConnectionLostError) Error() string {
	if e.Code != -1 {
		return fmt.Sprintf("cdp: connection lost (%s, status %d): %v", e.Reason, e.Code, e.Err)
	}
	return fmt.Sprintf("cdp: connection lost (%s): %v", e.Reason, e.Err)
}

func (e *ConnectionLostError) Unwrap() error { return e.Err }

// TimeoutError is returned when no acknowledgement arrived before the
// caller's deadline. It is local to one call.
type TimeoutError struct {
	Method string
	ID     int64
	Err    error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request timed out: %s (id %d): %v", e.Method, e.ID, e.Err)
}

// Is reports ErrTimeout as a match.
func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

func (e *TimeoutError) Unwrap() error { return e.Err }

// ProtocolDecodeError describes an inbound frame that could not be decoded.
// It is logged and dropped, never returned to a caller.
type ProtocolDecodeError struct {
	Data string
	Err  error
}

func (e *ProtocolDecodeError) Error() string {
	return fmt.Sprintf("failed to parse CDP message: %v: %s", e.Err, e.Data)
}

func (e *ProtocolDecodeError) Unwrap() error { return e.Err }
