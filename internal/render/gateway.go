// Package render owns admission control in front of the shared browser: a
// fixed pool of render permits, per-host pacing, the browser's lifecycle, and
// the per-render timeout.
package render

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/html"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/pagerender/internal/metrics"
	"github.com/JakeFAU/pagerender/internal/scrape"
	"github.com/JakeFAU/pagerender/internal/telemetry"
)

const (
	// DefaultConcurrencyLimit is the number of renders allowed at once.
	DefaultConcurrencyLimit = 50
	// DefaultTimeout bounds a single render, navigation included.
	DefaultTimeout = 60 * time.Second

	htmlMediaType = "text/html"
)

// Pacer delays a render for rawURL, typically per host.
type Pacer interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config controls the gateway.
type Config struct {
	ConcurrencyLimit int
	Timeout          time.Duration
	Minify           bool
}

// Gateway is the only component that talks to the rendering engine.
type Gateway struct {
	cfg     Config
	permits *semaphore.Weighted
	pacer   Pacer
	factory scrape.EngineFactory
	minify  *minify.M
	logger  *zap.Logger

	mu         sync.Mutex
	engine     scrape.Engine
	generation uint64
}

// NewGateway builds a gateway. The engine is launched lazily on the first
// render unless Start is called.
func NewGateway(cfg Config, factory scrape.EngineFactory, pacer Pacer, logger *zap.Logger) (*Gateway, error) {
	if factory == nil {
		return nil, errors.New("engine factory is required")
	}
	if cfg.ConcurrencyLimit < 0 {
		return nil, fmt.Errorf("concurrency limit must be >= 0")
	}
	if cfg.ConcurrencyLimit == 0 {
		cfg.ConcurrencyLimit = DefaultConcurrencyLimit
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gateway{
		cfg:     cfg,
		permits: semaphore.NewWeighted(int64(cfg.ConcurrencyLimit)),
		pacer:   pacer,
		factory: factory,
		logger:  logger,
	}
	if cfg.Minify {
		g.minify = minify.New()
		g.minify.AddFunc(htmlMediaType, html.Minify)
	}
	return g, nil
}

// Start launches the engine ahead of the first render.
func (g *Gateway) Start(ctx context.Context) error {
	if _, _, err := g.acquireEngine(ctx); err != nil {
		return err
	}
	return nil
}

// Ready reports whether a live engine is held.
func (g *Gateway) Ready() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.engine != nil && g.engine.Alive()
}

// Close shuts the engine down. Renders started afterwards relaunch it.
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.engine == nil {
		return nil
	}
	err := g.engine.Close()
	g.engine = nil
	if err != nil {
		return fmt.Errorf("close engine: %w", err)
	}
	return nil
}

// Render waits for a permit, renders rawURL, and releases the permit before
// returning. Failures are *scrape.RenderError values. Navigation failures are
// never retried here.
func (g *Gateway) Render(ctx context.Context, rawURL string) (string, error) {
	ctx, span := telemetry.Tracer("pagerender/render").Start(ctx, "render.Gateway.Render")
	defer span.End()
	span.SetAttributes(attribute.String("url.full", rawURL))

	content, err := g.render(ctx, rawURL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(attribute.Int("render.content_length", len(content)))
	return content, nil
}

func (g *Gateway) render(ctx context.Context, rawURL string) (string, error) {
	url, err := scrape.NormalizeURL(rawURL)
	if err != nil {
		return "", &scrape.RenderError{Kind: scrape.RenderInvalidURL, URL: rawURL, Err: err}
	}

	if g.pacer != nil {
		if err := g.pacer.Wait(ctx, url); err != nil {
			return "", g.contextError(ctx, url, err)
		}
	}

	waitStart := time.Now()
	if err := g.permits.Acquire(ctx, 1); err != nil {
		return "", g.contextError(ctx, url, fmt.Errorf("acquire render permit: %w", err))
	}
	defer g.permits.Release(1)

	metrics.RenderStarted(time.Since(waitStart))
	start := time.Now()
	result := "success"
	defer func() {
		metrics.RenderFinished(result, time.Since(start))
	}()

	renderCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	content, err := g.renderOnEngine(renderCtx, url)
	if err != nil {
		renderErr := g.classify(ctx, renderCtx, url, err)
		result = string(renderErr.Kind)
		g.logger.Warn("render failed",
			zap.String("url", url),
			zap.String("kind", string(renderErr.Kind)),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return "", renderErr
	}
	if content == "" {
		result = string(scrape.RenderEngineFailure)
		return "", &scrape.RenderError{Kind: scrape.RenderEngineFailure, URL: url, Err: errors.New("empty document")}
	}

	g.logger.Debug("render succeeded",
		zap.String("url", url),
		zap.Int("bytes", len(content)),
		zap.Duration("duration", time.Since(start)),
	)
	return g.postProcess(url, content), nil
}

// renderOnEngine runs one render. When the shared engine turns out to be
// unusable it is recreated once and the render is issued on the new engine;
// a second engine-level failure is final for this call.
func (g *Gateway) renderOnEngine(ctx context.Context, url string) (string, error) {
	engine, generation, err := g.acquireEngine(ctx)
	if err != nil {
		return "", err
	}
	content, err := engine.Render(ctx, url)
	if err == nil || !errors.Is(err, scrape.ErrEngineUnavailable) || ctx.Err() != nil {
		return content, err
	}

	g.logger.Warn("render engine unavailable; recreating", zap.String("url", url), zap.Error(err))
	g.invalidate(generation)
	engine, generation, err = g.acquireEngine(ctx)
	if err != nil {
		return "", err
	}
	content, err = engine.Render(ctx, url)
	if err != nil && errors.Is(err, scrape.ErrEngineUnavailable) {
		g.invalidate(generation)
	}
	return content, err
}

// acquireEngine returns the live engine, launching a new one when none is
// held or the held one is dead. The launch happens under the lock so
// concurrent renders share a single relaunch.
func (g *Gateway) acquireEngine(ctx context.Context) (scrape.Engine, uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.engine != nil && g.engine.Alive() {
		return g.engine, g.generation, nil
	}
	if g.engine != nil {
		if err := g.engine.Close(); err != nil {
			g.logger.Warn("close dead engine failed", zap.Error(err))
		}
		g.engine = nil
	}
	engine, err := g.factory(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: launch: %w", scrape.ErrEngineUnavailable, err)
	}
	g.engine = engine
	g.generation++
	metrics.ObserveEngineRestart()
	g.logger.Info("render engine launched", zap.Uint64("generation", g.generation))
	return g.engine, g.generation, nil
}

// invalidate drops the engine if it is still the given generation, so that
// several renders failing on the same dead engine trigger one relaunch.
func (g *Gateway) invalidate(generation uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.engine == nil || g.generation != generation {
		return
	}
	if err := g.engine.Close(); err != nil {
		g.logger.Warn("close failed engine", zap.Error(err))
	}
	g.engine = nil
}

func (g *Gateway) classify(parent, renderCtx context.Context, url string, err error) *scrape.RenderError {
	var renderErr *scrape.RenderError
	if errors.As(err, &renderErr) {
		return renderErr
	}
	switch {
	case parent.Err() != nil:
		return &scrape.RenderError{Kind: scrape.RenderCanceled, URL: url, Err: err}
	case errors.Is(renderCtx.Err(), context.DeadlineExceeded):
		return &scrape.RenderError{
			Kind: scrape.RenderTimeout,
			URL:  url,
			Err:  fmt.Errorf("exceeded %s: %w", g.cfg.Timeout, context.DeadlineExceeded),
		}
	default:
		return &scrape.RenderError{Kind: scrape.RenderEngineFailure, URL: url, Err: err}
	}
}

func (g *Gateway) contextError(ctx context.Context, url string, err error) *scrape.RenderError {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &scrape.RenderError{Kind: scrape.RenderTimeout, URL: url, Err: err}
	}
	return &scrape.RenderError{Kind: scrape.RenderCanceled, URL: url, Err: err}
}

func (g *Gateway) postProcess(url string, content string) string {
	if g.minify == nil {
		return content
	}
	minified, err := g.minify.String(htmlMediaType, content)
	if err != nil || minified == "" {
		g.logger.Warn("minify failed; serving raw document", zap.String("url", url), zap.Error(err))
		return content
	}
	return minified
}
