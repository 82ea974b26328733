package remote

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/chromedp/cdproto/runtime"
	"github.com/mailru/easyjson"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type sentCall struct {
	Method string
	Params json.RawMessage
}

// fakeClient answers commands from per-method reply functions. Methods
// without a reply function are acknowledged with {}.
type fakeClient struct {
	mu      sync.Mutex
	calls   []sentCall
	replies map[string]func(params gjson.Result) (string, error)
}

func newFakeClient() *fakeClient {
	return &fakeClient{replies: make(map[string]func(gjson.Result) (string, error))}
}

func (f *fakeClient) on(method string, reply func(params gjson.Result) (string, error)) {
	f.replies[method] = reply
}

func (f *fakeClient) SendContext(_ context.Context, method string, params any) (json.RawMessage, error) {
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

func (f *fakeClient) callsTo(method string) []sentCall {
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

func (f *fakeClient) released() []string {
	var ids []string
	for _, c := range f.callsTo(runtime.CommandReleaseObject) {
		ids = append(ids, gjson.GetBytes(c.Params, "objectId").String())
	}
	return ids
}

func newTestContext(t *testing.T, client Client, id runtime.ExecutionContextID) *ExecutionContext {
	t.Helper()
	ec := NewExecutionContext(client, &runtime.ExecutionContextDescription{
		ID:      id,
		Origin:  "http://x",
		AuxData: easyjson.RawMessage(`{"frameId":"F1","isDefault":true}`),
	}, nil)
	require.NotNil(t, ec)
	return ec
}

func reply(s string) func(gjson.Result) (string, error) {
	return func(gjson.Result) (string, error) { return s, nil }
}
