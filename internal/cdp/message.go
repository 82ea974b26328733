package cdp

import (
	"encoding/json"
	"fmt"
)

// Request represents a CDP command request.
type Request struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// Response represents a CDP command response.
type Response struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// Event represents a CDP event notification.
// SessionID is set when the event was unwrapped from a target message.
type Event struct {
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params"`
	SessionID string          `json:"-"`
}

// Error represents a CDP protocol error.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("cdp error %d: %s (%s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("cdp error %d: %s", e.Code, e.Message)
}

// message is used internally to determine message type during parsing.
type message struct {
	ID     int64           `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
}

// targetMessage is the payload of Target.receivedMessageFromTarget.
// Message holds a complete inner frame encoded as a JSON string.
type targetMessage struct {
	SessionID string `json:"sessionId"`
	TargetID  string `json:"targetId,omitempty"`
	Message   string `json:"message"`
}

// sendMessageParams is the payload of Target.sendMessageToTarget.
type sendMessageParams struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

// detachedParams is the payload of Target.detachedFromTarget.
type detachedParams struct {
	SessionID string `json:"sessionId"`
	TargetID  string `json:"targetId,omitempty"`
}

// Protocol methods the multiplexer handles itself.
const (
	methodAttachToTarget      = "Target.attachToTarget"
	methodDetachFromTarget    = "Target.detachFromTarget"
	methodSendMessageToTarget = "Target.sendMessageToTarget"
	methodCreateTarget        = "Target.createTarget"
	methodCloseTarget         = "Target.closeTarget"

	EventReceivedMessageFromTarget = "Target.receivedMessageFromTarget"
	EventDetachedFromTarget        = "Target.detachedFromTarget"
)

// encodeRequest serializes a command frame.
func encodeRequest(id int64, method string, params any) ([]byte, error) {
	data, err := json.Marshal(Request{ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return data, nil
}

// parseMessage parses a raw CDP message and returns either a Response or Event.
// Returns (response, nil, nil) for command responses.
// Returns (nil, event, nil) for events.
// Returns (nil, nil, error) for parse errors.
//
// The same decoder is used for outer frames and for the inner frames carried in
// Target.receivedMessageFromTarget, which are shaped identically.
func parseMessage(data []byte) (*Response, *Event, error) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, nil, &ProtocolDecodeError{Data: truncate(data), Err: err}
	}

	// Messages with an ID are responses to commands
	if msg.ID != 0 {
		return &Response{
			ID:     msg.ID,
			Result: msg.Result,
			Error:  msg.Error,
		}, nil, nil
	}

	// Messages with a method but no ID are events
	if msg.Method != "" {
		return nil, &Event{
			Method: msg.Method,
			Params: msg.Params,
		}, nil
	}

	return nil, nil, &ProtocolDecodeError{Data: truncate(data), Err: errUnknownFormat}
}

// maxLoggedPayload bounds how much of a bad frame is kept for diagnostics.
const maxLoggedPayload = 256

func truncate(data []byte) string {
	if len(data) > maxLoggedPayload {
		return string(data[:maxLoggedPayload]) + "..."
	}
	return string(data)
}
