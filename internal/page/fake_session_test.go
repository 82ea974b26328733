package page

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/grantcarthew/cdpmux/internal/cdp"
)

type sentCall struct {
	Method string
	Params json.RawMessage
}

type subscription struct {
	id      int
	methods []string
	fn      cdp.Handler
}

// fakeSession answers commands from per-method reply functions and
// delivers events to handlers synchronously, like the receive loop does.
// Methods without a reply function are acknowledged with {}.
type fakeSession struct {
	mu      sync.Mutex
	calls   []sentCall
	replies map[string]func(params gjson.Result) (string, error)
	subs    []subscription
	nextID  int
}

func newFakeSession() *fakeSession {
	return &fakeSession{replies: make(map[string]func(gjson.Result) (string, error))}
}

func (f *fakeSession) on(method string, reply func(params gjson.Result) (string, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[method] = reply
}

func (f *fakeSession) SendContext(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.calls = append(f.calls, sentCall{Method: method, Params: data})
	reply := f.replies[method]
	f.mu.Unlock()

	if reply == nil {
		return json.RawMessage(`{}`), nil
	}
	res, err := reply(gjson.ParseBytes(data))
	if err != nil {
		return nil, err
	}
	return json.RawMessage(res), nil
}

func (f *fakeSession) On(methods []string, handler cdp.Handler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	f.subs = append(f.subs, subscription{id: id, methods: methods, fn: handler})
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, s := range f.subs {
			if s.id == id {
				f.subs = append(f.subs[:i], f.subs[i+1:]...)
				return
			}
		}
	}
}

// emit delivers an event to every handler subscribed to method.
func (f *fakeSession) emit(method, params string) {
	f.mu.Lock()
	var handlers []cdp.Handler
	for _, s := range f.subs {
		for _, m := range s.methods {
			if m == method {
				handlers = append(handlers, s.fn)
			}
		}
	}
	f.mu.Unlock()

	evt := cdp.Event{Method: method, Params: json.RawMessage(params), SessionID: "S1"}
	for _, h := range handlers {
		h(evt)
	}
}

func (f *fakeSession) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.Method
	}
	return out
}

func (f *fakeSession) callsTo(method string) []sentCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentCall
	for _, c := range f.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeSession) subscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func reply(s string) func(gjson.Result) (string, error) {
	return func(gjson.Result) (string, error) { return s, nil }
}

// recorder collects frame events as "Kind:frameID" strings.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) record(evt FrameEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch e := evt.(type) {
	case FrameAttached:
		r.events = append(r.events, "attached:"+e.Frame.ID())
	case FrameNavigated:
		r.events = append(r.events, "navigated:"+e.Frame.ID())
	case FrameDetached:
		r.events = append(r.events, "detached:"+e.Frame.ID())
	}
}

func (r *recorder) take() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.events
	r.events = nil
	return out
}

func navigated(id, parentID, url string) string {
	frame := map[string]any{"id": id, "loaderId": "L-" + id, "url": url}
	if parentID != "" {
		frame["parentId"] = parentID
	}
	data, _ := json.Marshal(map[string]any{"frame": frame, "type": "Navigation"})
	return string(data)
}

func attached(id, parentID string) string {
	data, _ := json.Marshal(map[string]any{"frameId": id, "parentFrameId": parentID})
	return string(data)
}

func detached(id string) string {
	data, _ := json.Marshal(map[string]any{"frameId": id, "reason": "remove"})
	return string(data)
}

func contextCreated(id int, frameID string, isDefault bool) string {
	data, _ := json.Marshal(map[string]any{"context": map[string]any{
		"id":       id,
		"origin":   "http://example.test",
		"name":     "",
		"uniqueId": "u" + frameID,
		"auxData":  map[string]any{"frameId": frameID, "isDefault": isDefault},
	}})
	return string(data)
}

func contextDestroyed(id int) string {
	data, _ := json.Marshal(map[string]any{"executionContextId": id})
	return string(data)
}

// newTree builds a frame manager with main frame F0 and a default context 1.
func newTree(t *testing.T) (*fakeSession, *FrameManager) {
	t.Helper()
	fs := newFakeSession()
	fm := NewFrameManager(fs, nil)
	fs.emit(eventFrameNavigated, navigated("F0", "", "http://example.test/"))
	fs.emit(eventExecutionContextCreated, contextCreated(1, "F0", true))
	require.NotNil(t, fm.MainFrame())
	require.NotNil(t, fm.MainFrame().ExecutionContext())
	return fs, fm
}
