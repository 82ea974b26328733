package cdp

import "github.com/coder/websocket"

// DisconnectReason describes why a disconnect occurred.
type DisconnectReason int

const (
	// ReasonUnknown is the default when reason cannot be determined.
	ReasonUnknown DisconnectReason = iota
	// ReasonGraceful indicates the browser closed the socket normally (codes 1000, 1001).
	ReasonGraceful
	// ReasonAbnormal indicates unexpected disconnect (code 1006, network error).
	ReasonAbnormal
)

// String returns a human-readable name for the disconnect reason.
func (r DisconnectReason) String() string {
	switch r {
	case ReasonGraceful:
		return "graceful"
	case ReasonAbnormal:
		return "abnormal"
	default:
		return "unknown"
	}
}

// ClassifyCloseCode determines why a read failed based on the WebSocket close code.
// Returns the status code (-1 when the error carries none) and the reason.
func ClassifyCloseCode(err error) (websocket.StatusCode, DisconnectReason) {
	if err == nil {
		return -1, ReasonUnknown
	}

	code := websocket.CloseStatus(err)
	switch code {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return code, ReasonGraceful
	default:
		// 1006, -1 (not a close frame: EOF, timeout, reset) and anything else.
		return code, ReasonAbnormal
	}
}

// lostError builds the error that fails pending work after a read failure.
func lostError(err error) *ConnectionLostError {
	code, reason := ClassifyCloseCode(err)
	return &ConnectionLostError{Code: code, Reason: reason, Err: err}
}
