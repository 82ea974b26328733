package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// Connection is a CDP connection to a browser endpoint.
//
// One receive goroutine reads frames in arrival order, resolves pending
// commands by id, and forwards Target.receivedMessageFromTarget payloads to
// the Session they are addressed to. Any number of goroutines may call Send
// concurrently.
type Connection struct {
	conn    Conn
	writeMu sync.Mutex
	msgID   atomic.Int64

	pending *pendingTable
	events  *registry

	sessionsMu sync.RWMutex
	sessions   map[string]*Session

	logger  *zap.Logger
	metrics *Metrics
	timeout time.Duration

	// closed is set once the connection stops accepting work, for any reason.
	closed    atomic.Bool
	closedCh  chan struct{}
	closeOnce sync.Once
	closeErr  error
	closeMu   sync.Mutex

	// stopping is set by Close, so a read failure it causes is not reported as lost.
	stopping atomic.Bool
	stopOnce sync.Once

	// done signals that the read loop has exited
	done chan struct{}
}

// NewConnection creates a connection over conn and starts its receive loop.
func NewConnection(conn Conn, opts ...Option) *Connection {
	o := buildOptions(opts)
	c := &Connection{
		conn:     conn,
		pending:  newPendingTable(),
		events:   newRegistry(),
		sessions: make(map[string]*Session),
		logger:   o.logger.Named("cdp.conn"),
		metrics:  o.metrics,
		timeout:  o.timeout,
		closedCh: make(chan struct{}),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Dial connects to a CDP WebSocket endpoint and returns a ready connection.
// Failure to establish the socket is reported as *TransportError.
func Dial(ctx context.Context, wsURL string, opts ...Option) (*Connection, error) {
	o := buildOptions(opts)
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, &TransportError{URL: wsURL, Err: err}
	}
	conn.SetReadLimit(o.readLimit)
	o.logger.Named("cdp.conn").Debug("connected", zap.String("url", wsURL))
	return NewConnection(conn, opts...), nil
}

// Send sends a CDP command and waits for the response.
// Uses the connection's default timeout.
func (c *Connection) Send(method string, params any) (json.RawMessage, error) {
	return c.SendTimeout(method, params, c.timeout)
}

// SendTimeout sends a CDP command and waits at most timeout for the response.
func (c *Connection) SendTimeout(method string, params any, timeout time.Duration) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.SendContext(ctx, method, params)
}

// SendContext sends a CDP command with a context for cancellation.
//
// The result is the raw "result" field of the acknowledgement. A protocol
// error is returned as *Error, an expired ctx as *TimeoutError, and a
// connection that closes while waiting fails the call with Err().
func (c *Connection) SendContext(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if c.closed.Load() {
		return nil, c.Err()
	}

	id := c.msgID.Add(1)
	data, err := encodeRequest(id, method, params)
	if err != nil {
		return nil, err
	}

	// Register before writing so a fast ack cannot arrive unclaimed.
	ch := c.pending.add(id)

	if err := c.write(ctx, data); err != nil {
		c.pending.remove(id)
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	c.logger.Debug("-> send", zap.ByteString("frame", data))
	c.metrics.commandSent(scopeBrowser)

	result, err := c.pending.wait(ctx, id, method, ch, c.closedCh, c.Err)
	c.metrics.commandDone(scopeBrowser, errors.Is(err, ErrTimeout))
	return result, err
}

func (c *Connection) write(ctx context.Context, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// CreateSession attaches to targetID and registers a Session for it.
func (c *Connection) CreateSession(ctx context.Context, targetID string) (*Session, error) {
	result, err := c.SendContext(ctx, methodAttachToTarget, map[string]any{
		"targetId": targetID,
		"flatten":  false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to attach to target %s: %w", targetID, err)
	}

	var attached struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(result, &attached); err != nil {
		return nil, fmt.Errorf("failed to parse attach result: %w", err)
	}
	if attached.SessionID == "" {
		return nil, fmt.Errorf("attach to target %s returned no session id", targetID)
	}

	s := newSession(c, targetID, attached.SessionID)

	c.sessionsMu.Lock()
	if c.closed.Load() {
		c.sessionsMu.Unlock()
		s.onDetached(c.Err())
		return nil, c.Err()
	}
	c.sessions[s.id] = s
	c.sessionsMu.Unlock()

	c.logger.Info("session created", zap.String("sessionId", s.id), zap.String("targetId", targetID))
	return s, nil
}

// CreateTarget opens a new page target at url and returns its target id.
func (c *Connection) CreateTarget(ctx context.Context, url string) (string, error) {
	result, err := c.SendContext(ctx, methodCreateTarget, map[string]any{"url": url})
	if err != nil {
		return "", fmt.Errorf("failed to create target: %w", err)
	}
	var created struct {
		TargetID string `json:"targetId"`
	}
	if err := json.Unmarshal(result, &created); err != nil {
		return "", fmt.Errorf("failed to parse create target result: %w", err)
	}
	return created.TargetID, nil
}

// CloseTarget closes the target with the given id.
func (c *Connection) CloseTarget(ctx context.Context, targetID string) error {
	if _, err := c.SendContext(ctx, methodCloseTarget, map[string]any{"targetId": targetID}); err != nil {
		return fmt.Errorf("failed to close target %s: %w", targetID, err)
	}
	return nil
}

// Session returns the live session with the given id, or nil.
func (c *Connection) Session(id string) *Session {
	c.sessionsMu.RLock()
	defer c.sessionsMu.RUnlock()
	return c.sessions[id]
}

// Sessions returns all live sessions.
func (c *Connection) Sessions() []*Session {
	c.sessionsMu.RLock()
	defer c.sessionsMu.RUnlock()
	result := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		result = append(result, s)
	}
	return result
}

func (c *Connection) removeSession(id string) *Session {
	c.sessionsMu.Lock()
	defer c.sessionsMu.Unlock()
	s := c.sessions[id]
	delete(c.sessions, id)
	return s
}

// Subscribe registers a handler for browser-level CDP events matching the given method.
// Multiple handlers can be registered for the same method.
func (c *Connection) Subscribe(method string, handler Handler) {
	c.events.on([]string{method}, handler)
}

// On registers handler for each of methods and returns a function that
// removes the registration.
func (c *Connection) On(methods []string, handler Handler) (unsubscribe func()) {
	return c.events.on(methods, handler)
}

// Close closes the connection and stops the read loop.
// Pending commands and every session fail with ErrConnectionClosed.
func (c *Connection) Close() error {
	var err error
	c.stopOnce.Do(func() {
		wasOpen := !c.closed.Load()
		c.stopping.Store(true)
		c.shutdown(ErrConnectionClosed)
		err = c.conn.Close(websocket.StatusNormalClosure, "client closing")
		if !wasOpen {
			// The socket already failed; closing it again reports nothing useful.
			err = nil
		}
	})

	// Wait for read loop to exit
	<-c.done

	return err
}

// Err returns the error that caused the connection to close, or nil while open.
func (c *Connection) Err() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	return c.closeErr
}

// Done is closed when the connection stops accepting work.
func (c *Connection) Done() <-chan struct{} {
	return c.closedCh
}

// shutdown fails all outstanding work with err. Only the first call has effect.
func (c *Connection) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.closeMu.Lock()
		c.closeErr = err
		c.closeMu.Unlock()

		c.closed.Store(true)
		close(c.closedCh)

		failed := c.pending.failAll(err)

		c.sessionsMu.Lock()
		sessions := c.sessions
		c.sessions = make(map[string]*Session)
		c.sessionsMu.Unlock()

		for _, s := range sessions {
			s.onDetached(err)
		}

		c.logger.Debug("connection shut down",
			zap.Error(err),
			zap.Int("failedPending", failed),
			zap.Int("closedSessions", len(sessions)))
	})
}

// readLoop reads messages from the connection and dispatches them.
func (c *Connection) readLoop() {
	defer close(c.done)

	ctx := context.Background()
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if c.stopping.Load() {
				c.shutdown(ErrConnectionClosed)
				return
			}
			lost := lostError(err)
			c.logger.Warn("connection lost", zap.Error(err), zap.Stringer("reason", lost.Reason))
			c.shutdown(lost)
			return
		}

		c.handleFrame(data)
	}
}

// handleFrame processes one inbound frame. A panic in a subscriber is
// logged and does not stop the loop.
func (c *Connection) handleFrame(data []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic while dispatching frame", zap.Any("panic", r), zap.ByteString("frame", data))
		}
	}()

	c.logger.Debug("<- recv", zap.ByteString("frame", data))

	resp, evt, err := parseMessage(data)
	if err != nil {
		c.logger.Error("dropping malformed frame", zap.Error(err))
		c.metrics.frameDropped(dropDecode)
		return
	}

	if resp != nil {
		c.dispatchResponse(resp)
		return
	}

	c.metrics.eventReceived(scopeBrowser)
	routed := true
	switch evt.Method {
	case EventReceivedMessageFromTarget:
		c.routeTargetMessage(evt)
	case EventDetachedFromTarget:
		c.handleDetached(evt)
	default:
		routed = false
	}
	if c.events.emit(*evt) == 0 && !routed {
		c.logger.Debug("dropping unhandled event", zap.String("method", evt.Method))
	}
}

// dispatchResponse hands a response to the waiting caller.
func (c *Connection) dispatchResponse(resp *Response) {
	if resp.Error != nil {
		c.logger.Debug("error response", zap.Int64("id", resp.ID), zap.Error(resp.Error))
	}
	if !c.pending.resolve(resp) {
		c.logger.Warn("no pending request for response", zap.Int64("id", resp.ID))
		c.metrics.frameDropped(dropUnknownID)
		return
	}
	c.metrics.ackReceived(scopeBrowser)
}

// routeTargetMessage unwraps a session-scoped frame and passes it to its Session.
func (c *Connection) routeTargetMessage(evt *Event) {
	var msg targetMessage
	if err := json.Unmarshal(evt.Params, &msg); err != nil {
		c.logger.Error("dropping target message", zap.Error(&ProtocolDecodeError{Data: truncate(evt.Params), Err: err}))
		c.metrics.frameDropped(dropDecode)
		return
	}

	s := c.Session(msg.SessionID)
	if s == nil {
		c.logger.Warn("message for unknown session", zap.String("sessionId", msg.SessionID))
		c.metrics.frameDropped(dropUnknownSession)
		return
	}
	s.onMessage([]byte(msg.Message))
}

// handleDetached removes the detached Session and fails its pending work.
func (c *Connection) handleDetached(evt *Event) {
	var params detachedParams
	if err := json.Unmarshal(evt.Params, &params); err != nil {
		c.logger.Error("dropping detach event", zap.Error(&ProtocolDecodeError{Data: truncate(evt.Params), Err: err}))
		c.metrics.frameDropped(dropDecode)
		return
	}

	s := c.removeSession(params.SessionID)
	if s == nil {
		c.logger.Warn("detach for unknown session", zap.String("sessionId", params.SessionID))
		return
	}
	s.onDetached(ErrSessionClosed)
	c.logger.Info("session detached", zap.String("sessionId", params.SessionID), zap.String("targetId", s.targetID))
}
