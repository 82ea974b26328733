// Package browser connects to a running browser's debugging endpoint and
// opens pages on it.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/target"
	"github.com/mailru/easyjson"
	"go.uber.org/zap"

	"github.com/grantcarthew/cdpmux/internal/cdp"
	"github.com/grantcarthew/cdpmux/internal/page"
)

// ErrBrowserClosed is returned when operating on a closed browser.
var ErrBrowserClosed = errors.New("browser is closed")

// blankURL is loaded into new pages until the caller navigates.
const blankURL = "about:blank"

type options struct {
	logger            *zap.Logger
	metrics           *cdp.Metrics
	timeout           time.Duration
	readLimit         int64
	networkEvents     bool
	navigationTimeout time.Duration
}

// Option configures Connect.
type Option func(*options)

// WithLogger sets the logger for the connection and every page.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics records connection activity into m.
func WithMetrics(m *cdp.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithTimeout sets the default command timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithReadLimit caps the size of one inbound frame.
func WithReadLimit(n int64) Option {
	return func(o *options) { o.readLimit = n }
}

// WithNetworkEvents enables the Network domain on new pages.
func WithNetworkEvents(enabled bool) Option {
	return func(o *options) { o.networkEvents = enabled }
}

// WithNavigationTimeout bounds each wait for a page load.
func WithNavigationTimeout(d time.Duration) Option {
	return func(o *options) { o.navigationTimeout = d }
}

type pageEntry struct {
	page    *page.Page
	session *cdp.Session
}

// Browser owns one connection to a browser endpoint and the pages opened
// through it.
type Browser struct {
	conn   *cdp.Connection
	logger *zap.Logger
	opts   options

	mu     sync.Mutex
	pages  []pageEntry
	closed bool
}

// Connect resolves endpoint and dials the browser's WebSocket.
func Connect(ctx context.Context, endpoint string, opts ...Option) (*Browser, error) {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	wsURL, err := ResolveEndpoint(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	conn, err := cdp.Dial(ctx, wsURL,
		cdp.WithLogger(o.logger),
		cdp.WithMetrics(o.metrics),
		cdp.WithTimeout(o.timeout),
		cdp.WithReadLimit(o.readLimit),
	)
	if err != nil {
		return nil, err
	}
	return New(conn, opts...), nil
}

// New wraps an established connection. The Browser takes ownership of conn.
func New(conn *cdp.Connection, opts ...Option) *Browser {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Browser{
		conn:   conn,
		logger: o.logger.Named("browser"),
		opts:   o,
	}
}

// Connection returns the underlying connection.
func (b *Browser) Connection() *cdp.Connection {
	return b.conn
}

// NewPage opens a blank page target, attaches to it and returns it ready
// for navigation.
func (b *Browser) NewPage(ctx context.Context) (*page.Page, error) {
	if b.isClosed() {
		return nil, ErrBrowserClosed
	}

	targetID, err := b.conn.CreateTarget(ctx, blankURL)
	if err != nil {
		return nil, err
	}

	session, err := b.conn.CreateSession(ctx, targetID)
	if err != nil {
		b.closeTarget(targetID)
		return nil, err
	}

	p, err := page.New(ctx, session, page.Options{
		Logger:            b.opts.logger,
		NetworkEvents:     b.opts.networkEvents,
		NavigationTimeout: b.opts.navigationTimeout,
	})
	if err != nil {
		b.closeTarget(targetID)
		return nil, fmt.Errorf("failed to set up page %s: %w", targetID, err)
	}

	b.mu.Lock()
	b.pages = append(b.pages, pageEntry{page: p, session: session})
	b.mu.Unlock()

	b.logger.Debug("page opened", zap.String("targetId", targetID), zap.String("sessionId", session.ID()))
	return p, nil
}

// ClosePage closes the target behind p.
func (b *Browser) ClosePage(ctx context.Context, p *page.Page) error {
	b.mu.Lock()
	var entry *pageEntry
	for i := range b.pages {
		if b.pages[i].page == p {
			e := b.pages[i]
			entry = &e
			b.pages = append(b.pages[:i], b.pages[i+1:]...)
			break
		}
	}
	b.mu.Unlock()

	if entry == nil {
		return fmt.Errorf("page is not owned by this browser")
	}
	p.Close()
	return b.conn.CloseTarget(ctx, entry.session.TargetID())
}

// Pages returns the open pages whose sessions are still attached.
func (b *Browser) Pages() []*page.Page {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*page.Page
	for _, e := range b.pages {
		select {
		case <-e.session.Done():
		default:
			out = append(out, e.page)
		}
	}
	return out
}

// Version asks the browser for its product and protocol versions.
func (b *Browser) Version(ctx context.Context) (*cdpbrowser.GetVersionReturns, error) {
	raw, err := b.conn.SendContext(ctx, cdpbrowser.CommandGetVersion, cdpbrowser.GetVersion())
	if err != nil {
		return nil, fmt.Errorf("failed to get version: %w", err)
	}
	var res cdpbrowser.GetVersionReturns
	if err := easyjson.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("failed to parse version: %w", err)
	}
	return &res, nil
}

// Targets lists every target the browser knows about.
func (b *Browser) Targets(ctx context.Context) ([]*target.Info, error) {
	raw, err := b.conn.SendContext(ctx, target.CommandGetTargets, target.GetTargets())
	if err != nil {
		return nil, fmt.Errorf("failed to get targets: %w", err)
	}
	var res target.GetTargetsReturns
	if err := easyjson.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("failed to parse targets: %w", err)
	}
	return res.TargetInfos, nil
}

// Close stops every page and closes the connection. Open targets are left
// to the browser.
func (b *Browser) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	pages := b.pages
	b.pages = nil
	b.mu.Unlock()

	for _, e := range pages {
		e.page.Close()
	}
	return b.conn.Close()
}

func (b *Browser) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// closeTarget closes a half-opened page target on its own deadline.
func (b *Browser) closeTarget(targetID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.conn.CloseTarget(ctx, targetID); err != nil {
		b.logger.Debug("failed to close target", zap.String("targetId", targetID), zap.Error(err))
	}
}
