// Package page tracks the frame tree and JavaScript contexts of one attached
// page target and exposes navigation and evaluation on top of them.
package page

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	cdproto "github.com/chromedp/cdproto/cdp"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/mailru/easyjson"
	"go.uber.org/zap"

	"github.com/grantcarthew/cdpmux/internal/cdp"
	"github.com/grantcarthew/cdpmux/internal/remote"
)

// ErrFrameDetached is returned for work on a frame that left the tree.
var ErrFrameDetached = errors.New("frame was detached")

// Session is the protocol conversation a page runs on.
// *cdp.Session satisfies it.
type Session interface {
	SendContext(ctx context.Context, method string, params any) (json.RawMessage, error)
	On(methods []string, handler cdp.Handler) (unsubscribe func())
}

// Events the frame manager consumes.
const (
	eventFrameAttached             = "Page.frameAttached"
	eventFrameNavigated            = "Page.frameNavigated"
	eventFrameDetached             = "Page.frameDetached"
	eventExecutionContextCreated   = "Runtime.executionContextCreated"
	eventExecutionContextDestroyed = "Runtime.executionContextDestroyed"
	eventExecutionContextsCleared  = "Runtime.executionContextsCleared"
)

// FrameEvent is published when the frame tree changes. It is one of
// FrameAttached, FrameNavigated or FrameDetached.
type FrameEvent interface {
	frameEvent()
}

// FrameAttached reports a new child frame.
type FrameAttached struct{ Frame *Frame }

// FrameNavigated reports a committed navigation.
type FrameNavigated struct{ Frame *Frame }

// FrameDetached reports a frame that left the tree.
type FrameDetached struct{ Frame *Frame }

func (FrameAttached) frameEvent()  {}
func (FrameNavigated) frameEvent() {}
func (FrameDetached) frameEvent()  {}

type frameSubscriber struct {
	id uint64
	fn func(FrameEvent)
}

// FrameManager mirrors the browser's frame tree for one session.
//
// The tree is mutated only by protocol events, which arrive on the
// connection's receive goroutine. Frame events are published after the
// tree lock is released, in the order the changes were applied.
type FrameManager struct {
	session Session
	logger  *zap.Logger
	root    *zap.Logger

	mu        sync.RWMutex
	frames    map[string]*Frame
	mainFrame *Frame
	contexts  map[runtime.ExecutionContextID]*remote.ExecutionContext
	// bound maps default contexts to their frame, which survives a main frame re-key.
	bound map[runtime.ExecutionContextID]*Frame

	subsMu sync.RWMutex
	subsID uint64
	subs   []frameSubscriber

	unsubscribe func()
}

// NewFrameManager subscribes to frame and context events on session.
// The tree is empty until the first main-frame navigation or Initialize.
func NewFrameManager(session Session, logger *zap.Logger) *FrameManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	fm := &FrameManager{
		session:  session,
		logger:   logger.Named("page.frames"),
		root:     logger,
		frames:   make(map[string]*Frame),
		contexts: make(map[runtime.ExecutionContextID]*remote.ExecutionContext),
		bound:    make(map[runtime.ExecutionContextID]*Frame),
	}
	fm.unsubscribe = session.On([]string{
		eventFrameAttached,
		eventFrameNavigated,
		eventFrameDetached,
		eventExecutionContextCreated,
		eventExecutionContextDestroyed,
		eventExecutionContextsCleared,
	}, fm.handleEvent)
	return fm
}

// Initialize seeds the tree from Page.getFrameTree, for targets that
// navigated before the session attached.
func (fm *FrameManager) Initialize(ctx context.Context) error {
	raw, err := fm.session.SendContext(ctx, cdppage.CommandGetFrameTree, cdppage.GetFrameTree())
	if err != nil {
		return fmt.Errorf("failed to get frame tree: %w", err)
	}
	var res cdppage.GetFrameTreeReturns
	if err := easyjson.Unmarshal(raw, &res); err != nil {
		return fmt.Errorf("failed to parse frame tree: %w", err)
	}
	if res.FrameTree == nil || res.FrameTree.Frame == nil {
		return fmt.Errorf("frame tree has no root frame")
	}
	fm.loadTree(res.FrameTree)
	return nil
}

// loadTree merges tree into the frames already known. Frames that events
// created before the snapshot arrived are updated in place.
func (fm *FrameManager) loadTree(tree *cdppage.FrameTree) {
	if !fm.refreshFrame(tree.Frame) {
		if tree.Frame.ParentID != "" {
			fm.onFrameAttached(string(tree.Frame.ID), string(tree.Frame.ParentID))
		}
		fm.onFrameNavigated(tree.Frame)
	}
	for _, child := range tree.ChildFrames {
		if child != nil && child.Frame != nil {
			fm.loadTree(child)
		}
	}
}

// refreshFrame updates the name, url and load state of an attached frame
// without touching its children or context. It reports false when the
// frame is not in the tree.
func (fm *FrameManager) refreshFrame(payload *cdproto.Frame) bool {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	f := fm.frames[string(payload.ID)]
	if f == nil || f.detached {
		return false
	}
	if payload.ParentID == "" && fm.mainFrame != f {
		return false
	}
	f.navigated(payload.Name, payload.URL, payload.UnreachableURL)
	return true
}

// Close stops tracking events. Frames keep their last known state.
func (fm *FrameManager) Close() {
	fm.unsubscribe()
}

// MainFrame returns the top-level frame, or nil before the first
// main-frame navigation.
func (fm *FrameManager) MainFrame() *Frame {
	fm.mu.RLock()
	f := fm.mainFrame
	fm.mu.RUnlock()
	if f == nil {
		fm.logger.Warn("main frame requested before first navigation")
	}
	return f
}

func (fm *FrameManager) mainFrameQuiet() *Frame {
	fm.mu.RLock()
	defer fm.mu.RUnlock()
	return fm.mainFrame
}

// Frames returns every attached frame, main frame first, parents before children.
func (fm *FrameManager) Frames() []*Frame {
	fm.mu.RLock()
	defer fm.mu.RUnlock()
	if fm.mainFrame == nil {
		return nil
	}
	var out []*Frame
	var walk func(f *Frame)
	walk = func(f *Frame) {
		out = append(out, f)
		for _, c := range f.children {
			walk(c)
		}
	}
	walk(fm.mainFrame)
	return out
}

// Frame returns the attached frame with the given id, or nil.
func (fm *FrameManager) Frame(id string) *Frame {
	fm.mu.RLock()
	defer fm.mu.RUnlock()
	return fm.frames[id]
}

// ExecutionContext returns the live context with the given id, or nil.
func (fm *FrameManager) ExecutionContext(id runtime.ExecutionContextID) *remote.ExecutionContext {
	fm.mu.RLock()
	defer fm.mu.RUnlock()
	return fm.contexts[id]
}

// Subscribe registers fn for frame events and returns a function that
// removes it. fn runs on the receive goroutine and must not block on
// protocol round-trips.
func (fm *FrameManager) Subscribe(fn func(FrameEvent)) (unsubscribe func()) {
	fm.subsMu.Lock()
	fm.subsID++
	id := fm.subsID
	fm.subs = append(fm.subs, frameSubscriber{id: id, fn: fn})
	fm.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			fm.subsMu.Lock()
			defer fm.subsMu.Unlock()
			kept := fm.subs[:0:0]
			for _, s := range fm.subs {
				if s.id != id {
					kept = append(kept, s)
				}
			}
			fm.subs = kept
		})
	}
}

func (fm *FrameManager) publish(events ...FrameEvent) {
	fm.subsMu.RLock()
	subs := fm.subs
	fm.subsMu.RUnlock()
	for _, evt := range events {
		for _, s := range subs {
			s.fn(evt)
		}
	}
}

func (fm *FrameManager) handleEvent(evt cdp.Event) {
	switch evt.Method {
	case eventFrameAttached:
		var ev cdppage.EventFrameAttached
		if fm.decode(evt, &ev) {
			fm.onFrameAttached(string(ev.FrameID), string(ev.ParentFrameID))
		}
	case eventFrameNavigated:
		var ev cdppage.EventFrameNavigated
		if fm.decode(evt, &ev) && ev.Frame != nil {
			fm.onFrameNavigated(ev.Frame)
		}
	case eventFrameDetached:
		var ev cdppage.EventFrameDetached
		if fm.decode(evt, &ev) {
			fm.onFrameDetached(string(ev.FrameID))
		}
	case eventExecutionContextCreated:
		var ev runtime.EventExecutionContextCreated
		if fm.decode(evt, &ev) && ev.Context != nil {
			fm.onContextCreated(ev.Context)
		}
	case eventExecutionContextDestroyed:
		var ev runtime.EventExecutionContextDestroyed
		if fm.decode(evt, &ev) {
			fm.onContextDestroyed(ev.ExecutionContextID)
		}
	case eventExecutionContextsCleared:
		fm.onContextsCleared()
	}
}

func (fm *FrameManager) decode(evt cdp.Event, v easyjson.Unmarshaler) bool {
	if err := easyjson.Unmarshal(evt.Params, v); err != nil {
		fm.logger.Error("dropping undecodable event", zap.String("method", evt.Method), zap.Error(err))
		return false
	}
	return true
}

func (fm *FrameManager) onFrameAttached(frameID, parentID string) {
	fm.mu.Lock()
	if _, ok := fm.frames[frameID]; ok {
		fm.mu.Unlock()
		return
	}
	parent := fm.frames[parentID]
	if parent == nil {
		fm.mu.Unlock()
		fm.logger.Warn("frame attached to unknown parent",
			zap.String("frameId", frameID), zap.String("parentId", parentID))
		return
	}
	f := newFrame(fm, frameID, parent)
	parent.children = append(parent.children, f)
	fm.frames[frameID] = f
	fm.mu.Unlock()

	fm.logger.Debug("frame attached", zap.String("frameId", frameID), zap.String("parentId", parentID))
	fm.publish(FrameAttached{Frame: f})
}

func (fm *FrameManager) onFrameNavigated(payload *cdproto.Frame) {
	id := string(payload.ID)
	isMain := payload.ParentID == ""

	fm.mu.Lock()
	var f *Frame
	if isMain {
		f = fm.mainFrame
	} else {
		f = fm.frames[id]
	}
	if f == nil && !isMain {
		fm.mu.Unlock()
		fm.logger.Warn("navigation for unknown frame", zap.String("frameId", id))
		return
	}

	var events []FrameEvent
	if f != nil {
		for _, child := range append([]*Frame(nil), f.children...) {
			for _, gone := range fm.removeLocked(child) {
				events = append(events, FrameDetached{Frame: gone})
			}
		}
	}

	if isMain {
		if f == nil {
			f = newFrame(fm, id, nil)
		} else if f.id != id {
			delete(fm.frames, f.id)
			f.id = id
		}
		fm.frames[id] = f
		fm.mainFrame = f
	}
	f.navigated(payload.Name, payload.URL, payload.UnreachableURL)
	fm.mu.Unlock()

	fm.logger.Debug("frame navigated", zap.String("frameId", id), zap.String("url", payload.URL))
	events = append(events, FrameNavigated{Frame: f})
	fm.publish(events...)
}

func (fm *FrameManager) onFrameDetached(frameID string) {
	fm.mu.Lock()
	f := fm.frames[frameID]
	if f == nil {
		fm.mu.Unlock()
		fm.logger.Debug("detach for unknown frame", zap.String("frameId", frameID))
		return
	}
	removed := fm.removeLocked(f)
	fm.mu.Unlock()

	events := make([]FrameEvent, 0, len(removed))
	for _, gone := range removed {
		events = append(events, FrameDetached{Frame: gone})
	}
	fm.publish(events...)
}

// removeLocked detaches f and its descendants, children first, and returns
// them in removal order. Each frame is detached at most once.
func (fm *FrameManager) removeLocked(f *Frame) []*Frame {
	if f.detached {
		return nil
	}
	var removed []*Frame
	for _, child := range append([]*Frame(nil), f.children...) {
		removed = append(removed, fm.removeLocked(child)...)
	}
	f.detach()
	delete(fm.frames, f.id)
	if f.parent != nil {
		f.parent.removeChild(f)
	}
	if fm.mainFrame == f {
		fm.mainFrame = nil
	}
	return append(removed, f)
}

func (fm *FrameManager) onContextCreated(desc *runtime.ExecutionContextDescription) {
	ec := remote.NewExecutionContext(fm.session, desc, fm.root)

	fm.mu.Lock()
	defer fm.mu.Unlock()
	fm.contexts[ec.ID()] = ec
	if !ec.IsDefault() {
		return
	}
	f := fm.frames[ec.FrameID()]
	if f == nil {
		fm.logger.Debug("default context for unknown frame",
			zap.Int64("contextId", int64(ec.ID())), zap.String("frameId", ec.FrameID()))
		return
	}
	if prev := f.context; prev != nil {
		delete(fm.bound, prev.ID())
	}
	f.setContext(ec)
	fm.bound[ec.ID()] = f
}

func (fm *FrameManager) onContextDestroyed(id runtime.ExecutionContextID) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	ec := fm.contexts[id]
	if ec == nil {
		return
	}
	fm.dropContextLocked(ec)
}

func (fm *FrameManager) onContextsCleared() {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	for _, ec := range fm.contexts {
		fm.dropContextLocked(ec)
	}
}

func (fm *FrameManager) dropContextLocked(ec *remote.ExecutionContext) {
	delete(fm.contexts, ec.ID())
	ec.MarkDestroyed()
	if f := fm.bound[ec.ID()]; f != nil {
		delete(fm.bound, ec.ID())
		if f.context == ec {
			f.setContext(nil)
		}
	}
}
