package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// rawRequest is a decoded outbound frame as seen by the fake browser.
type rawRequest struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// fakeConn implements Conn. Each written frame is passed to reply, and the
// frames it returns are queued for the read loop.
type fakeConn struct {
	mu      sync.Mutex
	in      chan []byte
	written [][]byte
	closed  bool
	closeCh chan struct{}

	failOnce sync.Once
	failCh   chan struct{}
	failErr  error

	reply func(req rawRequest) [][]byte
}

func newFakeConn(reply func(req rawRequest) [][]byte) *fakeConn {
	return &fakeConn{
		in:      make(chan []byte, 256),
		closeCh: make(chan struct{}),
		failCh:  make(chan struct{}),
		reply:   reply,
	}
}

func (f *fakeConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case msg := <-f.in:
		return websocket.MessageText, msg, nil
	case <-f.failCh:
		return 0, nil, f.failErr
	case <-f.closeCh:
		return 0, nil, errors.New("connection closed")
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (f *fakeConn) Write(ctx context.Context, typ websocket.MessageType, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return errors.New("connection closed")
	}
	f.written = append(f.written, data)

	if f.reply == nil {
		return nil
	}
	var req rawRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return err
	}
	for _, frame := range f.reply(req) {
		f.in <- frame
	}
	return nil
}

func (f *fakeConn) Close(code websocket.StatusCode, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.closeCh)
	}
	return nil
}

// push queues an inbound frame as if the browser sent it unprompted.
func (f *fakeConn) push(frame []byte) {
	f.in <- frame
}

// fail makes the next Read return err, simulating a dropped socket.
func (f *fakeConn) fail(err error) {
	f.failOnce.Do(func() {
		f.failErr = err
		close(f.failCh)
	})
}

func (f *fakeConn) getWritten() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := make([][]byte, len(f.written))
	copy(result, f.written)
	return result
}

// waitWritten blocks until at least n frames were written.
func (f *fakeConn) waitWritten(t *testing.T, n int) [][]byte {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if w := f.getWritten(); len(w) >= n {
			return w
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d written frames", n)
	return nil
}

func ack(id int64, result string) []byte {
	return []byte(fmt.Sprintf(`{"id":%d,"result":%s}`, id, result))
}

func ackError(id int64, code int, message string) []byte {
	return []byte(fmt.Sprintf(`{"id":%d,"error":{"code":%d,"message":%q}}`, id, code, message))
}

func event(method, params string) []byte {
	return []byte(fmt.Sprintf(`{"method":%q,"params":%s}`, method, params))
}

// targetFrame wraps an inner frame the way the browser delivers session traffic.
func targetFrame(sessionID, inner string) []byte {
	params, _ := json.Marshal(targetMessage{SessionID: sessionID, TargetID: "T-" + sessionID, Message: inner})
	return event(EventReceivedMessageFromTarget, string(params))
}

// echoReplies acknowledges every command with result.
func echoReplies(result string) func(rawRequest) [][]byte {
	return func(req rawRequest) [][]byte {
		return [][]byte{ack(req.ID, result)}
	}
}

// browserReplies plays a browser with attachable targets. attachToTarget
// returns sessionId "S"+targetId, and session commands are acknowledged
// with {"method":<inner method>}.
func browserReplies(req rawRequest) [][]byte {
	switch req.Method {
	case methodAttachToTarget:
		var p struct {
			TargetID string `json:"targetId"`
		}
		_ = json.Unmarshal(req.Params, &p)
		return [][]byte{ack(req.ID, fmt.Sprintf(`{"sessionId":"S%s"}`, p.TargetID))}
	case methodSendMessageToTarget:
		var p sendMessageParams
		_ = json.Unmarshal(req.Params, &p)
		var inner rawRequest
		_ = json.Unmarshal([]byte(p.Message), &inner)
		return [][]byte{
			ack(req.ID, `{}`),
			targetFrame(p.SessionID, fmt.Sprintf(`{"id":%d,"result":{"method":%q}}`, inner.ID, inner.Method)),
		}
	default:
		return [][]byte{ack(req.ID, `{}`)}
	}
}
