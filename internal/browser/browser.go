// Package browser drives the hotel's Chrome session over the DevTools
// protocol and exposes a tab as a dom.Document.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// ErrNoHostTab is returned by Attach when no open tab is on a host domain.
var ErrNoHostTab = errors.New("no open host tab")

// Browser wraps chromedp for Chrome automation
type Browser struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc
	config      Config
	hosts       *HostMatcher
	log         *zap.Logger

	mu    sync.Mutex
	pages map[target.ID]*Page
}

// Config holds browser automation settings
type Config struct {
	RemoteURL    string // DevTools endpoint of a running Chrome; empty launches one
	UserDataDir  string
	Headless     bool
	Timeout      time.Duration
	UserAgent    string
	WindowWidth  int
	WindowHeight int
	HostDomains  []string
}

// DefaultConfig returns sensible default browser settings
func DefaultConfig() Config {
	return Config{
		RemoteURL:    "http://127.0.0.1:9222",
		Headless:     false,
		Timeout:      60 * time.Second,
		UserAgent:    "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		WindowWidth:  1920,
		WindowHeight: 1080,
		HostDomains:  DefaultHostDomains,
	}
}

// New creates a new Browser. With a RemoteURL it connects to the hotel's
// running Chrome; otherwise it launches a local one.
func New(cfg Config, log *zap.Logger) (*Browser, error) {
	if log == nil {
		log = zap.NewNop()
	}

	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if cfg.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), cfg.RemoteURL)
	} else {
		opts := []chromedp.ExecAllocatorOption{
			chromedp.NoFirstRun,
			chromedp.NoDefaultBrowserCheck,
			chromedp.DisableGPU,
			chromedp.UserAgent(cfg.UserAgent),
			chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
		}
		if cfg.Headless {
			opts = append(opts, chromedp.Headless)
		}
		if cfg.UserDataDir != "" {
			opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	}

	ctx, cancel := chromedp.NewContext(allocCtx)

	return &Browser{
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		ctx:         ctx,
		cancel:      cancel,
		config:      cfg,
		hosts:       NewHostMatcher(cfg.HostDomains),
		log:         log,
		pages:       make(map[target.ID]*Page),
	}, nil
}

// Close cleans up browser resources. A remote Chrome is disconnected from,
// not shut down.
func (b *Browser) Close() {
	if b.cancel != nil {
		b.cancel()
	}
	if b.allocCancel != nil {
		b.allocCancel()
	}
}

// Hosts returns the matcher for host-domain URLs.
func (b *Browser) Hosts() *HostMatcher { return b.hosts }

// Tabs lists the open page targets.
func (b *Browser) Tabs(ctx context.Context) ([]*target.Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// Targets connects to the browser on first use without opening a tab.
	// The connection lives as long as the context it runs on, so this must be
	// the browser context rather than a derived one.
	infos, err := chromedp.Targets(b.ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tabs: %w", err)
	}
	var pages []*target.Info
	for _, t := range infos {
		if t.Type == "page" {
			pages = append(pages, t)
		}
	}
	return pages, nil
}

// Attach binds to the first open tab on a host domain, the one the hotel
// staff already has the guest page open in. Pages are cached per tab and
// stay attached for the life of the Browser.
func (b *Browser) Attach(ctx context.Context) (*Page, error) {
	tabs, err := b.Tabs(ctx)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.forgetClosed(tabs)

	for _, t := range tabs {
		if !b.hosts.Allowed(t.URL) {
			continue
		}
		if p, ok := b.pages[t.TargetID]; ok {
			return p, nil
		}
		b.log.Debug("attaching to tab", zap.String("url", t.URL), zap.String("target", string(t.TargetID)))
		// Cancelling a chromedp tab context closes the tab, so tab contexts
		// must not inherit cancellation from the browser context.
		tabCtx, cancel := chromedp.NewContext(context.WithoutCancel(b.ctx), chromedp.WithTargetID(t.TargetID))
		p := newPage(tabCtx, cancel, b.log)
		if err := p.enable(); err != nil {
			return nil, err
		}
		b.pages[t.TargetID] = p
		return p, nil
	}
	return nil, ErrNoHostTab
}

// forgetClosed drops cached pages whose tab is gone.
func (b *Browser) forgetClosed(tabs []*target.Info) {
	open := make(map[target.ID]bool, len(tabs))
	for _, t := range tabs {
		open[t.TargetID] = true
	}
	for id, p := range b.pages {
		if !open[id] {
			p.cancel()
			delete(b.pages, id)
		}
	}
}

// Open navigates a new tab to url and waits for the body. The tab is left
// open for the staff and is found again by Attach.
func (b *Browser) Open(ctx context.Context, url string) (*Page, error) {
	if _, err := b.Tabs(ctx); err != nil {
		return nil, err
	}
	tabCtx, cancel := chromedp.NewContext(context.WithoutCancel(b.ctx))
	p := newPage(tabCtx, cancel, b.log)
	if err := p.enable(); err != nil {
		cancel()
		return nil, err
	}

	runCtx, done := b.bounded(ctx)
	defer done()

	if err := p.run(runCtx, chromedp.Navigate(url)); err != nil {
		cancel()
		return nil, fmt.Errorf("navigation failed: %w", err)
	}
	if err := p.run(runCtx, chromedp.WaitReady("body")); err != nil {
		cancel()
		return nil, fmt.Errorf("page load failed: %w", err)
	}

	if c := chromedp.FromContext(tabCtx); c != nil && c.Target != nil {
		b.mu.Lock()
		b.pages[c.Target.TargetID] = p
		b.mu.Unlock()
	}
	return p, nil
}

func (b *Browser) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.config.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, b.config.Timeout)
}

// enable creates or attaches the tab and turns on page lifecycle events.
// As the first run on the tab context it must not use a derived context.
func (p *Page) enable() error {
	if err := chromedp.Run(p.ctx, page.Enable()); err != nil {
		return fmt.Errorf("failed to enable page events: %w", err)
	}
	return nil
}
