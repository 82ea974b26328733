package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Session is a conversation with one attached target, carried over the
// browser Connection.
//
// Commands are wrapped in Target.sendMessageToTarget and numbered from the
// session's own counter, independent of the connection's. Responses and
// events come back through the connection's receive loop.
type Session struct {
	conn     *Connection
	id       string
	targetID string

	msgID   atomic.Int64
	pending *pendingTable
	events  *registry

	logger  *zap.Logger
	metrics *Metrics

	closed    atomic.Bool
	closedCh  chan struct{}
	closeOnce sync.Once
	closeErr  error
	closeMu   sync.Mutex
}

func newSession(conn *Connection, targetID, sessionID string) *Session {
	return &Session{
		conn:     conn,
		id:       sessionID,
		targetID: targetID,
		pending:  newPendingTable(),
		events:   newRegistry(),
		logger:   conn.logger.Named("session").With(zap.String("sessionId", sessionID)),
		metrics:  conn.metrics,
		closedCh: make(chan struct{}),
	}
}

// ID returns the session id assigned by the browser.
func (s *Session) ID() string { return s.id }

// TargetID returns the id of the target this session is attached to.
func (s *Session) TargetID() string { return s.targetID }

// Send sends a command to the target and waits for the response using the
// connection's default timeout.
func (s *Session) Send(method string, params any) (json.RawMessage, error) {
	return s.SendTimeout(method, params, s.conn.timeout)
}

// SendTimeout sends a command to the target and waits at most timeout.
func (s *Session) SendTimeout(method string, params any, timeout time.Duration) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.SendContext(ctx, method, params)
}

// SendContext sends a command to the target with a context for cancellation.
// After the session detaches every call fails with ErrSessionClosed.
func (s *Session) SendContext(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if s.closed.Load() {
		return nil, s.Err()
	}

	id := s.msgID.Add(1)
	inner, err := encodeRequest(id, method, params)
	if err != nil {
		return nil, err
	}

	ch := s.pending.add(id)

	_, err = s.conn.SendContext(ctx, methodSendMessageToTarget, sendMessageParams{
		SessionID: s.id,
		Message:   string(inner),
	})
	if err != nil && s.pending.remove(id) {
		return nil, fmt.Errorf("failed to send %s to session %s: %w", method, s.id, err)
	}
	// With err set and the slot already gone, the inner outcome was delivered
	// and wait below returns it.

	s.logger.Debug("-> send", zap.ByteString("frame", inner))
	s.metrics.commandSent(scopeSession)

	result, err := s.pending.wait(ctx, id, method, ch, s.closedCh, s.Err)
	s.metrics.commandDone(scopeSession, errors.Is(err, ErrTimeout))
	return result, err
}

// Subscribe registers a handler for events from this target matching method.
func (s *Session) Subscribe(method string, handler Handler) {
	s.events.on([]string{method}, handler)
}

// On registers handler for each of methods and returns a function that
// removes the registration.
func (s *Session) On(methods []string, handler Handler) (unsubscribe func()) {
	return s.events.on(methods, handler)
}

// Detach detaches from the target. Calling Detach on a closed session is a no-op.
func (s *Session) Detach(ctx context.Context) error {
	if s.closed.Load() {
		return nil
	}
	_, err := s.conn.SendContext(ctx, methodDetachFromTarget, map[string]any{"sessionId": s.id})
	s.conn.removeSession(s.id)
	s.onDetached(ErrSessionClosed)
	if err != nil {
		return fmt.Errorf("failed to detach session %s: %w", s.id, err)
	}
	return nil
}

// Done is closed when the session detaches.
func (s *Session) Done() <-chan struct{} {
	return s.closedCh
}

// Err returns why the session closed, or nil while it is live.
func (s *Session) Err() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	return s.closeErr
}

// onMessage handles one inner frame routed here by the connection.
// Runs on the connection's receive goroutine.
func (s *Session) onMessage(data []byte) {
	s.logger.Debug("<- recv", zap.ByteString("frame", data))

	resp, evt, err := parseMessage(data)
	if err != nil {
		s.logger.Error("dropping malformed session frame", zap.Error(err))
		s.metrics.frameDropped(dropDecode)
		return
	}

	if resp != nil {
		if !s.pending.resolve(resp) {
			s.logger.Warn("no pending request for response", zap.Int64("id", resp.ID))
			s.metrics.frameDropped(dropUnknownID)
			return
		}
		s.metrics.ackReceived(scopeSession)
		return
	}

	evt.SessionID = s.id
	s.metrics.eventReceived(scopeSession)
	if s.events.emit(*evt) == 0 {
		s.logger.Debug("dropping unhandled event", zap.String("method", evt.Method))
	}
}

// onDetached closes the session and fails every pending command with err.
func (s *Session) onDetached(err error) {
	if err == nil {
		err = ErrSessionClosed
	}
	s.closeOnce.Do(func() {
		s.closeMu.Lock()
		s.closeErr = err
		s.closeMu.Unlock()

		s.closed.Store(true)
		close(s.closedCh)

		n := s.pending.failAll(err)
		s.events.clear()
		s.logger.Debug("session closed", zap.Error(err), zap.Int("failedPending", n))
	})
}
