// Package fetch serves rendered pages from the cache and coalesces concurrent
// misses for the same URL onto a single render.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagerender/internal/metrics"
	"github.com/JakeFAU/pagerender/internal/scrape"
	"github.com/JakeFAU/pagerender/internal/telemetry"
)

// Store is the cache surface the coordinator needs.
type Store interface {
	GetFresh(url string) (string, bool)
	Get(url string) (scrape.Entry, bool)
	IsFresh(entry scrape.Entry) bool
	Put(url string, html string) error
}

// call is one in-flight render shared by every caller waiting on it.
type call struct {
	done   chan struct{}
	html   string
	err    error
	refs   int
	cancel context.CancelFunc

	// abandoned is set once refs drops to zero. Later callers wait on done
	// and start a new call rather than joining.
	abandoned bool
}

// Coordinator guarantees at most one in-flight render per URL.
type Coordinator struct {
	renderer scrape.Renderer
	cache    Store
	logger   *zap.Logger

	mu       sync.Mutex
	inflight map[string]*call
}

// NewCoordinator wires a coordinator over renderer and cache.
func NewCoordinator(renderer scrape.Renderer, cache Store, logger *zap.Logger) (*Coordinator, error) {
	if renderer == nil {
		return nil, errors.New("renderer is required")
	}
	if cache == nil {
		return nil, errors.New("cache is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		renderer: renderer,
		cache:    cache,
		logger:   logger,
		inflight: make(map[string]*call),
	}, nil
}

// Fetch returns fresh cached HTML for rawURL, rendering it on a miss.
func (c *Coordinator) Fetch(ctx context.Context, rawURL string) (string, error) {
	return c.traced(ctx, "fetch.Coordinator.Fetch", rawURL, true)
}

// Refresh re-renders rawURL even when the cached copy is still fresh. It
// shares in-flight renders with Fetch.
func (c *Coordinator) Refresh(ctx context.Context, rawURL string) (string, error) {
	return c.traced(ctx, "fetch.Coordinator.Refresh", rawURL, false)
}

// InFlight reports how many URLs are currently being rendered.
func (c *Coordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}

func (c *Coordinator) traced(ctx context.Context, name, rawURL string, useCache bool) (string, error) {
	ctx, span := telemetry.Tracer("pagerender/fetch").Start(ctx, name)
	defer span.End()
	span.SetAttributes(attribute.String("url.full", rawURL))

	html, err := c.fetch(ctx, rawURL, useCache)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return html, nil
}

func (c *Coordinator) fetch(ctx context.Context, rawURL string, useCache bool) (string, error) {
	url, err := scrape.NormalizeURL(rawURL)
	if err != nil {
		return "", &scrape.FetchError{Kind: scrape.FetchInvalidInput, URL: rawURL, Err: err}
	}

	if useCache {
		if html, ok := c.cache.GetFresh(url); ok {
			return html, nil
		}
	}

	for {
		cl, joined, cached, ok := c.register(ctx, url, useCache)
		if cached != "" {
			return cached, nil
		}
		if !ok {
			// Every caller left cl; wait for it to unregister before starting another.
			select {
			case <-cl.done:
				continue
			case <-ctx.Done():
				return "", fmt.Errorf("wait for render of %s: %w", url, ctx.Err())
			}
		}

		if joined {
			c.logger.Debug("joined in-flight render", zap.String("url", url))
		}

		select {
		case <-cl.done:
			return cl.html, cl.err
		case <-ctx.Done():
			c.leave(url, cl)
			return "", fmt.Errorf("wait for render of %s: %w", url, ctx.Err())
		}
	}
}

// register joins or starts the render for url. It returns fresh cached HTML
// instead when a render landed since the caller's lookup, and ok=false with an
// abandoned call that is still winding down.
func (c *Coordinator) register(ctx context.Context, url string, useCache bool) (cl *call, joined bool, cached string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, found := c.inflight[url]; found {
		if existing.abandoned {
			return existing, false, "", false
		}
		existing.refs++
		metrics.ObserveCoalescedFetch()
		return existing, true, "", true
	}

	if useCache {
		if entry, found := c.cache.Get(url); found && c.cache.IsFresh(entry) {
			return nil, false, entry.HTML, true
		}
	}
	renderCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	cl = &call{done: make(chan struct{}), refs: 1, cancel: cancel}
	c.inflight[url] = cl
	go c.run(renderCtx, url, cl)
	return cl, false, "", true
}

// run performs the render for cl. The cache is written before the registry
// entry is removed, and both happen before any waiter is released. Only run
// removes the entry, so a URL never has two renders in flight.
func (c *Coordinator) run(ctx context.Context, url string, cl *call) {
	defer cl.cancel()

	html, err := c.renderer.Render(ctx, url)
	if err == nil {
		if putErr := c.cache.Put(url, html); putErr != nil {
			err = &scrape.RenderError{Kind: scrape.RenderEngineFailure, URL: url, Err: putErr}
		}
	}

	c.mu.Lock()
	if c.inflight[url] == cl {
		delete(c.inflight, url)
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("render failed", zap.String("url", url), zap.Error(err))
		cl.err = &scrape.FetchError{Kind: scrape.FetchRenderFailed, URL: url, Err: err}
	} else {
		cl.html = html
	}
	close(cl.done)
}

// leave drops one caller's interest in cl. The last caller to leave cancels
// the render; cl stays registered as abandoned until run returns.
func (c *Coordinator) leave(url string, cl *call) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cl.refs--
	if cl.refs > 0 {
		return
	}
	cl.abandoned = true
	cl.cancel()
	c.logger.Debug("render abandoned by all callers", zap.String("url", url))
}
