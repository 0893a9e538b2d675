// Package chromedp implements the render engine on top of one shared headless
// Chrome driven through chromedp. Every render opens its own tab.
package chromedp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagerender/internal/scrape"
)

const (
	defaultSettle    = 500 * time.Millisecond
	defaultUserAgent = "pagerender/1.0"
)

// Config controls how the browser is launched and how pages settle.
type Config struct {
	// ExecPath overrides the Chrome binary; empty uses chromedp's lookup.
	ExecPath  string
	UserAgent string
	// Settle is how long a page gets after body is ready before the DOM is read.
	Settle time.Duration
}

// Browser is one running Chrome process plus its warmed browser context.
type Browser struct {
	cfg             Config
	logger          *zap.Logger
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	closeOnce       sync.Once
}

// Launch starts Chrome and blocks until the browser answers.
func Launch(ctx context.Context, cfg Config, logger *zap.Logger) (*Browser, error) {
	if cfg.Settle < 0 {
		return nil, fmt.Errorf("settle must be >= 0")
	}
	if cfg.Settle == 0 {
		cfg.Settle = defaultSettle
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(cfg.UserAgent),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}

	// The browser outlives the launching request, so only its values are kept.
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)

	stopForward := forwardCancel(ctx, browserCancel)
	err := chromedp.Run(browserCtx)
	stopForward()
	if err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	logger.Info("headless browser launched", zap.String("user_agent", cfg.UserAgent))
	return &Browser{
		cfg:             cfg,
		logger:          logger,
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
	}, nil
}

// Factory adapts Launch to scrape.EngineFactory.
func Factory(cfg Config, logger *zap.Logger) scrape.EngineFactory {
	return func(ctx context.Context) (scrape.Engine, error) {
		return Launch(ctx, cfg, logger)
	}
}

// Alive reports whether the browser context is still usable.
func (b *Browser) Alive() bool {
	return b.browserCtx.Err() == nil
}

// Close shuts the browser down. It is safe to call more than once.
func (b *Browser) Close() error {
	b.closeOnce.Do(func() {
		b.browserCancel()
		b.allocatorCancel()
	})
	return nil
}

// Render loads url in a new tab and returns the document's outer HTML.
func (b *Browser) Render(ctx context.Context, url string) (string, error) {
	if !b.Alive() {
		return "", fmt.Errorf("%w: browser context closed", scrape.ErrEngineUnavailable)
	}

	tabCtx, cancelTab := chromedp.NewContext(b.browserCtx)
	defer cancelTab()

	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		tabCtx, cancelDeadline = context.WithDeadline(tabCtx, deadline)
		defer cancelDeadline()
	}
	stopForward := forwardCancel(ctx, cancelTab)
	defer stopForward()

	meta := &documentMeta{}
	chromedp.ListenTarget(tabCtx, meta.captureEvent)

	html, err := b.run(tabCtx, url)
	if err != nil {
		return "", b.wrapRunError(err)
	}
	if status := meta.status(); status >= http.StatusBadRequest {
		return "", &StatusError{URL: url, Status: status}
	}
	return html, nil
}

func (b *Browser) run(ctx context.Context, url string) (string, error) {
	var html string
	tasks := chromedp.Tasks{
		network.Enable(),
		emulation.SetUserAgentOverride(b.cfg.UserAgent),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(b.cfg.Settle),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, tasks); err != nil {
		return "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, nil
}

// wrapRunError marks errors caused by the browser itself going away.
func (b *Browser) wrapRunError(err error) error {
	if !b.Alive() || errors.Is(err, chromedp.ErrChannelClosed) || errors.Is(err, chromedp.ErrInvalidContext) {
		b.logger.Warn("headless browser lost", zap.Error(err))
		return fmt.Errorf("%w: %w", scrape.ErrEngineUnavailable, err)
	}
	return err
}

// StatusError is returned when the main document answered with an error status.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("document %s returned status %d", e.URL, e.Status)
}

// documentMeta keeps the status of the last document response seen in a tab.
type documentMeta struct {
	mu   sync.Mutex
	code int
}

func (m *documentMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	m.code = int(resp.Response.Status)
	m.mu.Unlock()
}

func (m *documentMeta) status() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.code
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
