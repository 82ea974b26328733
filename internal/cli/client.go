package cli

import (
	"context"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/target"
	"go.uber.org/zap"

	"github.com/grantcarthew/cdpmux/internal/browser"
	"github.com/grantcarthew/cdpmux/internal/page"
)

// Browser is the part of *browser.Browser the commands use.
type Browser interface {
	NewPage(ctx context.Context) (*page.Page, error)
	ClosePage(ctx context.Context, p *page.Page) error
	Version(ctx context.Context) (*cdpbrowser.GetVersionReturns, error)
	Targets(ctx context.Context) ([]*target.Info, error)
	Close() error
}

// BrowserFactory opens browser connections.
type BrowserFactory interface {
	Connect(ctx context.Context, endpoint string, opts ...browser.Option) (Browser, error)
}

// defaultFactory dials the endpoint with browser.Connect.
type defaultFactory struct{}

func (defaultFactory) Connect(ctx context.Context, endpoint string, opts ...browser.Option) (Browser, error) {
	b, err := browser.Connect(ctx, endpoint, opts...)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// browserFactory is the package-level factory, replaceable for testing.
var browserFactory BrowserFactory = defaultFactory{}

// SetBrowserFactory sets the browser factory (for testing).
func SetBrowserFactory(f BrowserFactory) {
	browserFactory = f
}

// ResetBrowserFactory resets to the default factory.
func ResetBrowserFactory() {
	browserFactory = defaultFactory{}
}

func commandTimeout() time.Duration {
	return time.Duration(cfg.Timeout)
}

// connect opens a browser with the loaded configuration.
func connect(ctx context.Context) (Browser, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout())
	defer cancel()

	return browserFactory.Connect(ctx, cfg.Endpoint,
		browser.WithLogger(logger),
		browser.WithMetrics(metrics),
		browser.WithTimeout(commandTimeout()),
		browser.WithReadLimit(cfg.ReadLimit),
		browser.WithNetworkEvents(cfg.NetworkEvents),
		browser.WithNavigationTimeout(time.Duration(cfg.NavigationTimeout)),
	)
}

// withPage connects, opens a fresh page and runs fn against it. The page
// and connection are closed when fn returns.
func withPage(ctx context.Context, fn func(Browser, *page.Page) error) error {
	b, err := connect(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			logger.Debug("failed to close browser", zap.Error(err))
		}
	}()

	openCtx, cancel := context.WithTimeout(ctx, commandTimeout())
	p, err := b.NewPage(openCtx)
	cancel()
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), commandTimeout())
		defer cancel()
		if err := b.ClosePage(closeCtx, p); err != nil {
			logger.Debug("failed to close page", zap.Error(err))
		}
	}()

	return fn(b, p)
}

// openURL navigates p to url and waits for the load.
func openURL(ctx context.Context, p *page.Page, url string) error {
	return p.Navigate(ctx, normalizeURL(url), page.NavigateOptions{WaitForLoad: true})
}
