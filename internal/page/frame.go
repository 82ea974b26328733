package page

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/grantcarthew/cdpmux/internal/remote"
)

// Frame is one document in the page's frame tree.
// State is guarded by the owning FrameManager's lock.
type Frame struct {
	fm       *FrameManager
	id       string
	parent   *Frame
	children []*Frame

	name          string
	url           string
	loadingFailed bool
	detached      bool

	context *remote.ExecutionContext
	// ready is closed while a default context is bound or the frame is detached.
	ready chan struct{}
}

func newFrame(fm *FrameManager, id string, parent *Frame) *Frame {
	return &Frame{
		fm:     fm,
		id:     id,
		parent: parent,
		ready:  make(chan struct{}),
	}
}

// ID returns the browser frame id. The main frame's id can change when a
// navigation swaps its process.
func (f *Frame) ID() string {
	f.fm.mu.RLock()
	defer f.fm.mu.RUnlock()
	return f.id
}

// ParentFrame returns the parent frame, or nil for the main frame.
func (f *Frame) ParentFrame() *Frame {
	return f.parent
}

// ChildFrames returns the attached child frames in attach order.
func (f *Frame) ChildFrames() []*Frame {
	f.fm.mu.RLock()
	defer f.fm.mu.RUnlock()
	return append([]*Frame(nil), f.children...)
}

// URL returns the URL of the last committed navigation.
func (f *Frame) URL() string {
	f.fm.mu.RLock()
	defer f.fm.mu.RUnlock()
	return f.url
}

// Name returns the frame's name attribute.
func (f *Frame) Name() string {
	f.fm.mu.RLock()
	defer f.fm.mu.RUnlock()
	return f.name
}

// LoadingFailed reports whether the last navigation ended on an error page.
func (f *Frame) LoadingFailed() bool {
	f.fm.mu.RLock()
	defer f.fm.mu.RUnlock()
	return f.loadingFailed
}

// IsDetached reports whether the frame left the tree.
func (f *Frame) IsDetached() bool {
	f.fm.mu.RLock()
	defer f.fm.mu.RUnlock()
	return f.detached
}

// ExecutionContext returns the frame's default context, or nil when none
// is live.
func (f *Frame) ExecutionContext() *remote.ExecutionContext {
	f.fm.mu.RLock()
	defer f.fm.mu.RUnlock()
	return f.context
}

// WaitForExecutionContext blocks until the frame has a live default context.
// It fails with ErrFrameDetached if the frame leaves the tree first.
func (f *Frame) WaitForExecutionContext(ctx context.Context) (*remote.ExecutionContext, error) {
	for {
		f.fm.mu.RLock()
		detached, ec, ready := f.detached, f.context, f.ready
		f.fm.mu.RUnlock()

		if detached {
			return nil, ErrFrameDetached
		}
		if ec != nil && !ec.Destroyed() {
			return ec, nil
		}

		select {
		case <-ready:
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for execution context of frame %s: %w", f.ID(), ctx.Err())
		}
	}
}

// Evaluate evaluates expression in the frame's default context.
func (f *Frame) Evaluate(ctx context.Context, expression string, args ...any) (any, error) {
	ec, err := f.WaitForExecutionContext(ctx)
	if err != nil {
		return nil, err
	}
	return ec.Evaluate(ctx, expression, args...)
}

// EvaluateHandle evaluates expression in the frame's default context and
// returns a handle to the result.
func (f *Frame) EvaluateHandle(ctx context.Context, expression string, args ...any) (remote.Handle, error) {
	ec, err := f.WaitForExecutionContext(ctx)
	if err != nil {
		return nil, err
	}
	return ec.EvaluateHandle(ctx, expression, args...)
}

// Query returns the first element matching selector, or nil.
func (f *Frame) Query(ctx context.Context, selector string) (*remote.ElementHandle, error) {
	h, err := f.EvaluateHandle(ctx, `selector => document.querySelector(selector)`, selector)
	if err != nil {
		return nil, err
	}
	if el := h.AsElement(); el != nil {
		return el, nil
	}
	h.Dispose(ctx)
	return nil, nil
}

// QueryAll returns every element matching selector in document order.
func (f *Frame) QueryAll(ctx context.Context, selector string) ([]*remote.ElementHandle, error) {
	arr, err := f.EvaluateHandle(ctx, `selector => Array.from(document.querySelectorAll(selector))`, selector)
	if err != nil {
		return nil, err
	}
	defer arr.Dispose(ctx)

	props, err := arr.GetProperties(ctx)
	if err != nil {
		return nil, err
	}

	type indexed struct {
		i  int
		el *remote.ElementHandle
	}
	var found []indexed
	for name, h := range props {
		i, err := strconv.Atoi(name)
		el := h.AsElement()
		if err != nil || el == nil {
			h.Dispose(ctx)
			continue
		}
		found = append(found, indexed{i: i, el: el})
	}
	sort.Slice(found, func(a, b int) bool { return found[a].i < found[b].i })

	out := make([]*remote.ElementHandle, len(found))
	for i, e := range found {
		out[i] = e.el
	}
	return out, nil
}

// EvalOnSelector calls fn with the first element matching selector followed
// by args and returns the JSON value of the result.
func (f *Frame) EvalOnSelector(ctx context.Context, selector, fn string, args ...any) (any, error) {
	el, err := f.Query(ctx, selector)
	if err != nil {
		return nil, err
	}
	if el == nil {
		return nil, fmt.Errorf("no element matches selector %q", selector)
	}
	defer el.Dispose(ctx)
	return el.ExecutionContext().Evaluate(ctx, fn, append([]any{el}, args...)...)
}

// EvalOnSelectorAll calls fn with an array of every element matching
// selector followed by args and returns the JSON value of the result.
func (f *Frame) EvalOnSelectorAll(ctx context.Context, selector, fn string, args ...any) (any, error) {
	arr, err := f.EvaluateHandle(ctx, `selector => Array.from(document.querySelectorAll(selector))`, selector)
	if err != nil {
		return nil, err
	}
	defer arr.Dispose(ctx)
	return arr.ExecutionContext().Evaluate(ctx, fn, append([]any{arr}, args...)...)
}

func (f *Frame) navigated(name, url, unreachableURL string) {
	f.name = name
	f.url = url
	f.loadingFailed = unreachableURL != ""
}

func (f *Frame) removeChild(child *Frame) {
	for i, c := range f.children {
		if c == child {
			f.children = append(f.children[:i], f.children[i+1:]...)
			return
		}
	}
}

// setContext binds ec as the default context, or unbinds it when ec is nil.
func (f *Frame) setContext(ec *remote.ExecutionContext) {
	if f.detached {
		return
	}
	switch {
	case ec != nil && f.context == nil:
		close(f.ready)
	case ec == nil && f.context != nil:
		f.ready = make(chan struct{})
	}
	f.context = ec
}

func (f *Frame) detach() {
	if f.context == nil {
		close(f.ready)
	}
	f.context = nil
	f.detached = true
}
