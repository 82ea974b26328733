package page

import (
	"context"
	"errors"
	"testing"
	"time"

	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

const frameTree = `{"frameTree":{"frame":{"id":"F0","loaderId":"L0","url":"about:blank"}}}`

func newTestPage(t *testing.T, fs *fakeSession, opts Options) *Page {
	t.Helper()
	fs.on(cdppage.CommandGetFrameTree, reply(frameTree))
	p, err := New(context.Background(), fs, opts)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func TestNew_EnablesDomains(t *testing.T) {
	t.Parallel()

	fs := newFakeSession()
	p := newTestPage(t, fs, Options{})

	methods := fs.methods()
	require.Len(t, methods, 4)
	assert.ElementsMatch(t, []string{cdppage.CommandEnable, cdppage.CommandSetLifecycleEventsEnabled}, methods[:2])
	assert.Equal(t, []string{cdppage.CommandGetFrameTree, runtime.CommandEnable}, methods[2:])
	assert.True(t, gjson.GetBytes(fs.callsTo(cdppage.CommandSetLifecycleEventsEnabled)[0].Params, "enabled").Bool())

	assert.Equal(t, "about:blank", p.URL())
	require.NotNil(t, p.MainFrame())
	assert.Equal(t, "F0", p.MainFrame().ID())
}

func TestNew_NetworkEvents(t *testing.T) {
	t.Parallel()

	fs := newFakeSession()
	newTestPage(t, fs, Options{NetworkEvents: true})

	assert.Len(t, fs.callsTo(network.CommandEnable), 1)
}

func TestNew_EnableFailure(t *testing.T) {
	t.Parallel()

	fs := newFakeSession()
	boom := errors.New("boom")
	fs.on(cdppage.CommandSetLifecycleEventsEnabled, func(gjson.Result) (string, error) { return "", boom })

	_, err := New(context.Background(), fs, Options{})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, fs.subscriptions())
	assert.Empty(t, fs.callsTo(runtime.CommandEnable))
}

func TestPage_NavigateWaitsForLoad(t *testing.T) {
	t.Parallel()

	fs := newFakeSession()
	p := newTestPage(t, fs, Options{})
	fs.on(cdppage.CommandNavigate, func(params gjson.Result) (string, error) {
		// A load that completes before the ack still releases the waiter.
		fs.emit(eventFrameNavigated, navigated("F0", "", params.Get("url").String()))
		fs.emit(eventLoadEventFired, `{"timestamp":1}`)
		return `{"frameId":"F0","loaderId":"L1"}`, nil
	})

	err := p.Navigate(context.Background(), "http://example.test/", NavigateOptions{WaitForLoad: true})
	require.NoError(t, err)
	assert.Equal(t, "http://example.test/", p.URL())
}

func TestPage_NavigateReferrer(t *testing.T) {
	t.Parallel()

	fs := newFakeSession()
	p := newTestPage(t, fs, Options{})
	fs.on(cdppage.CommandNavigate, reply(`{"frameId":"F0","loaderId":"L1"}`))

	require.NoError(t, p.Navigate(context.Background(), "http://example.test/", NavigateOptions{Referrer: "http://ref.test/"}))

	params := gjson.ParseBytes(fs.callsTo(cdppage.CommandNavigate)[0].Params)
	assert.Equal(t, "http://example.test/", params.Get("url").String())
	assert.Equal(t, "http://ref.test/", params.Get("referrer").String())
}

func TestPage_NavigationError(t *testing.T) {
	t.Parallel()

	fs := newFakeSession()
	p := newTestPage(t, fs, Options{})
	fs.on(cdppage.CommandNavigate, reply(`{"frameId":"F0","loaderId":"L1","errorText":"net::ERR_NAME_NOT_RESOLVED"}`))

	err := p.Navigate(context.Background(), "http://nowhere.invalid/", NavigateOptions{WaitForLoad: true})

	var navErr *NavigationError
	require.ErrorAs(t, err, &navErr)
	assert.Equal(t, "net::ERR_NAME_NOT_RESOLVED", navErr.Text)
	assert.Equal(t, "http://nowhere.invalid/", navErr.URL)
}

func TestPage_SameDocumentNavigationDoesNotWait(t *testing.T) {
	t.Parallel()

	fs := newFakeSession()
	p := newTestPage(t, fs, Options{NavigationTimeout: time.Minute})
	fs.on(cdppage.CommandNavigate, reply(`{"frameId":"F0"}`))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Navigate(ctx, "about:blank#top", NavigateOptions{WaitForLoad: true}))
}

func TestPage_WaitForLoadTimeout(t *testing.T) {
	t.Parallel()

	fs := newFakeSession()
	p := newTestPage(t, fs, Options{NavigationTimeout: 20 * time.Millisecond})
	fs.on(cdppage.CommandNavigate, reply(`{"frameId":"F0","loaderId":"L1"}`))

	err := p.Navigate(context.Background(), "http://slow.test/", NavigateOptions{WaitForLoad: true})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPage_FrameStoppedLoading(t *testing.T) {
	t.Parallel()

	fs := newFakeSession()
	p := newTestPage(t, fs, Options{NavigationTimeout: time.Second})
	fs.on(cdppage.CommandNavigate, reply(`{"frameId":"F0","loaderId":"L1"}`))
	fs.emit(eventFrameAttached, attached("F1", "F0"))

	require.NoError(t, p.Navigate(context.Background(), "http://example.test/", NavigateOptions{}))

	done := make(chan error, 1)
	go func() { done <- p.WaitForLoad(context.Background()) }()

	// A child frame finishing does not complete the page.
	fs.emit(eventFrameStoppedLoading, `{"frameId":"F1"}`)
	select {
	case <-done:
		t.Fatal("child frame completed the page load")
	case <-time.After(20 * time.Millisecond):
	}

	fs.emit(eventFrameStoppedLoading, `{"frameId":"F0"}`)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("main frame stop did not complete the page load")
	}
}

func TestPage_Evaluate(t *testing.T) {
	t.Parallel()

	fs := newFakeSession()
	p := newTestPage(t, fs, Options{})
	fs.emit(eventExecutionContextCreated, contextCreated(9, "F0", true))
	fs.on(runtime.CommandEvaluate, reply(`{"result":{"type":"number","value":42}}`))

	v, err := p.Evaluate(context.Background(), "6 * 7")
	require.NoError(t, err)
	assert.Equal(t, float64(42), v)

	h, err := p.EvaluateHandle(context.Background(), "6 * 7")
	require.NoError(t, err)
	assert.Equal(t, runtime.ExecutionContextID(9), h.ExecutionContext().ID())
}

func TestPage_Close(t *testing.T) {
	t.Parallel()

	fs := newFakeSession()
	fs.on(cdppage.CommandGetFrameTree, reply(frameTree))
	p, err := New(context.Background(), fs, Options{})
	require.NoError(t, err)
	require.Equal(t, 2, fs.subscriptions())

	p.Close()
	assert.Equal(t, 0, fs.subscriptions())
}
