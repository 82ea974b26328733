package page

import (
	"context"
	"fmt"
	"sync"
	"time"

	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/mailru/easyjson"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/grantcarthew/cdpmux/internal/cdp"
	"github.com/grantcarthew/cdpmux/internal/remote"
)

// DefaultNavigationTimeout bounds WaitForLoad when Options leaves it unset.
const DefaultNavigationTimeout = 30 * time.Second

const (
	eventLoadEventFired      = "Page.loadEventFired"
	eventFrameStoppedLoading = "Page.frameStoppedLoading"
)

// Options configures a Page.
type Options struct {
	Logger *zap.Logger
	// NetworkEvents enables the Network domain so its events reach subscribers.
	NetworkEvents bool
	// NavigationTimeout bounds each wait for a load event.
	NavigationTimeout time.Duration
}

// NavigateOptions configures one navigation.
type NavigateOptions struct {
	Referrer string
	// WaitForLoad makes Navigate return only after the load event.
	WaitForLoad bool
}

// NavigationError reports a navigation the browser refused or failed to start.
type NavigationError struct {
	URL  string
	Text string
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigation to %s failed: %s", e.URL, e.Text)
}

// Page drives one page target through its session.
type Page struct {
	session Session
	frames  *FrameManager
	tracer  *Tracer
	logger  *zap.Logger
	timeout time.Duration

	loadMu sync.Mutex
	loaded *signal

	unsubscribe func()
}

// New enables the domains a page needs on session, seeds the frame tree
// and returns a ready Page.
func New(ctx context.Context, session Session, opts Options) (*Page, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.NavigationTimeout
	if timeout <= 0 {
		timeout = DefaultNavigationTimeout
	}

	p := &Page{
		session: session,
		frames:  NewFrameManager(session, logger),
		tracer:  NewTracer(session, logger),
		logger:  logger.Named("page"),
		timeout: timeout,
		loaded:  newSignal(),
	}
	p.unsubscribe = session.On([]string{eventLoadEventFired, eventFrameStoppedLoading}, p.handleLoadEvent)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := session.SendContext(gctx, cdppage.CommandEnable, cdppage.Enable())
		return err
	})
	g.Go(func() error {
		_, err := session.SendContext(gctx, cdppage.CommandSetLifecycleEventsEnabled, cdppage.SetLifecycleEventsEnabled(true))
		return err
	})
	if opts.NetworkEvents {
		g.Go(func() error {
			_, err := session.SendContext(gctx, network.CommandEnable, network.Enable())
			return err
		})
	}
	if err := g.Wait(); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to enable page domains: %w", err)
	}

	if err := p.frames.Initialize(ctx); err != nil {
		p.Close()
		return nil, err
	}

	// Runtime last, so the contexts it reports find their frames.
	if _, err := session.SendContext(ctx, runtime.CommandEnable, runtime.Enable()); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to enable runtime: %w", err)
	}
	return p, nil
}

// Session returns the session the page runs on.
func (p *Page) Session() Session { return p.session }

// FrameManager returns the page's frame tree.
func (p *Page) FrameManager() *FrameManager { return p.frames }

// Tracer returns the page's trace recorder.
func (p *Page) Tracer() *Tracer { return p.tracer }

// MainFrame returns the top-level frame.
func (p *Page) MainFrame() *Frame { return p.frames.MainFrame() }

// Frames returns every attached frame.
func (p *Page) Frames() []*Frame { return p.frames.Frames() }

// URL returns the main frame's URL, or "" before the first navigation.
func (p *Page) URL() string {
	if f := p.frames.mainFrameQuiet(); f != nil {
		return f.URL()
	}
	return ""
}

// Navigate loads url in the main frame.
func (p *Page) Navigate(ctx context.Context, url string, opts NavigateOptions) error {
	// Reset before sending so a fast load event is not lost.
	loaded := p.resetLoad()

	params := cdppage.Navigate(url)
	if opts.Referrer != "" {
		params = params.WithReferrer(opts.Referrer)
	}
	raw, err := p.session.SendContext(ctx, cdppage.CommandNavigate, params)
	if err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	var res cdppage.NavigateReturns
	if err := easyjson.Unmarshal(raw, &res); err != nil {
		return fmt.Errorf("failed to parse navigate result: %w", err)
	}
	if res.ErrorText != "" {
		return &NavigationError{URL: url, Text: res.ErrorText}
	}
	if res.LoaderID == "" {
		// Same-document navigation fires no load event.
		loaded.fire()
	}
	p.logger.Debug("navigation started", zap.String("url", url), zap.String("loaderId", string(res.LoaderID)))

	if !opts.WaitForLoad {
		return nil
	}
	return p.WaitForLoad(ctx)
}

// WaitForLoad waits until the current document finishes loading, bounded
// by the page's navigation timeout.
func (p *Page) WaitForLoad(ctx context.Context) error {
	p.loadMu.Lock()
	loaded := p.loaded
	p.loadMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	select {
	case <-loaded.done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for page load: %w", ctx.Err())
	}
}

// Evaluate evaluates expression in the main frame.
func (p *Page) Evaluate(ctx context.Context, expression string, args ...any) (any, error) {
	f, err := p.mainFrame()
	if err != nil {
		return nil, err
	}
	return f.Evaluate(ctx, expression, args...)
}

// EvaluateHandle evaluates expression in the main frame and returns a handle
// to the result.
func (p *Page) EvaluateHandle(ctx context.Context, expression string, args ...any) (remote.Handle, error) {
	f, err := p.mainFrame()
	if err != nil {
		return nil, err
	}
	return f.EvaluateHandle(ctx, expression, args...)
}

// Close stops event tracking. The target itself stays open.
func (p *Page) Close() {
	p.unsubscribe()
	p.frames.Close()
}

func (p *Page) mainFrame() (*Frame, error) {
	f := p.frames.MainFrame()
	if f == nil {
		return nil, fmt.Errorf("page has no main frame yet")
	}
	return f, nil
}

func (p *Page) resetLoad() *signal {
	p.loadMu.Lock()
	defer p.loadMu.Unlock()
	p.loaded = newSignal()
	return p.loaded
}

func (p *Page) handleLoadEvent(evt cdp.Event) {
	switch evt.Method {
	case eventLoadEventFired:
	case eventFrameStoppedLoading:
		var ev cdppage.EventFrameStoppedLoading
		if err := easyjson.Unmarshal(evt.Params, &ev); err != nil {
			p.logger.Error("dropping undecodable event", zap.String("method", evt.Method), zap.Error(err))
			return
		}
		main := p.frames.mainFrameQuiet()
		if main == nil || main.ID() != string(ev.FrameID) {
			return
		}
	default:
		return
	}

	p.loadMu.Lock()
	loaded := p.loaded
	p.loadMu.Unlock()
	if loaded.fire() {
		p.logger.Debug("page loaded", zap.String("event", evt.Method))
	}
}

// signal is a one-shot wake-up.
type signal struct {
	once sync.Once
	ch   chan struct{}
}

func newSignal() *signal {
	return &signal{ch: make(chan struct{})}
}

// fire wakes every waiter and reports whether this call was the first.
func (s *signal) fire() bool {
	fired := false
	s.once.Do(func() {
		close(s.ch)
		fired = true
	})
	return fired
}

func (s *signal) done() <-chan struct{} {
	return s.ch
}
