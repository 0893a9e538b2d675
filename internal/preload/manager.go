// Package preload keeps a configured set of URLs warm in the cache by
// re-rendering them on a fixed interval, independent of reader traffic.
package preload

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/pagerender/internal/metrics"
	"github.com/JakeFAU/pagerender/internal/scrape"
	"github.com/JakeFAU/pagerender/internal/telemetry"
)

const (
	// DefaultInterval is shorter than the cache TTL so warm entries never go stale.
	DefaultInterval = 50 * time.Minute
	// DefaultParallelism bounds refreshes running at once within one cycle.
	DefaultParallelism = 4

	// StatusUpdated is reported after the set is replaced.
	StatusUpdated = "updated"
)

// Refresher re-renders a URL and stores the result.
type Refresher interface {
	Refresh(ctx context.Context, url string) (string, error)
}

// Describer exposes cache metadata for a URL.
type Describer interface {
	Describe(url string) (scrape.EntryInfo, bool)
}

// Config controls the refresh loop.
type Config struct {
	Interval    time.Duration
	Parallelism int
	WarmOnStart bool
	// Topic receives a RefreshEvent after each successful refresh. Empty disables publishing.
	Topic string
}

// CycleReport summarizes one refresh cycle.
type CycleReport struct {
	Attempted int
	Succeeded int
	Failed    int
}

// Manager owns the preload set and its refresh loop.
type Manager struct {
	cfg       Config
	refresher Refresher
	describer Describer
	publisher scrape.Publisher
	logger    *zap.Logger

	mu   sync.RWMutex
	urls map[string]struct{}
}

// Option customizes a Manager.
type Option func(*Manager)

// WithPublisher publishes a RefreshEvent to cfg.Topic after each successful refresh.
func WithPublisher(p scrape.Publisher) Option {
	return func(m *Manager) {
		m.publisher = p
	}
}

// WithLogger sets the manager's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager builds a manager seeded with initial. Any invalid seed URL is an error.
func NewManager(cfg Config, refresher Refresher, describer Describer, initial []string, opts ...Option) (*Manager, error) {
	if refresher == nil {
		return nil, errors.New("refresher is required")
	}
	if describer == nil {
		return nil, errors.New("describer is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = DefaultParallelism
	}
	urls, err := normalizeAll(initial)
	if err != nil {
		return nil, fmt.Errorf("initial preload urls: %w", err)
	}
	m := &Manager{
		cfg:       cfg,
		refresher: refresher,
		describer: describer,
		logger:    zap.NewNop(),
		urls:      urls,
	}
	for _, opt := range opts {
		opt(m)
	}
	metrics.SetPreloadURLs(len(urls))
	return m, nil
}

// URLs returns a sorted snapshot of the preload set.
func (m *Manager) URLs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.urls))
	for u := range m.urls {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// List joins the preload set with cache metadata. URLs never rendered
// successfully report nil timestamps and lengths.
func (m *Manager) List() []scrape.PreloadStatus {
	urls := m.URLs()
	out := make([]scrape.PreloadStatus, 0, len(urls))
	for _, u := range urls {
		status := scrape.PreloadStatus{URL: u}
		if info, ok := m.describer.Describe(u); ok {
			fetchedAt := info.FetchedAt
			length := info.Length
			status.LastUpdated = &fetchedAt
			status.ContentLength = &length
			status.ContentHash = info.Digest
		}
		out = append(out, status)
	}
	return out
}

// Update replaces the preload set with urls. If any URL is invalid the set is
// left untouched. No renders are triggered.
func (m *Manager) Update(urls []string) (scrape.UpdateResult, error) {
	next, err := normalizeAll(urls)
	if err != nil {
		return scrape.UpdateResult{}, err
	}

	m.mu.Lock()
	added, removed := diff(m.urls, next)
	m.urls = next
	m.mu.Unlock()

	metrics.SetPreloadURLs(len(next))
	m.logger.Info("preload set updated",
		zap.Int("count", len(next)),
		zap.Int("added", added),
		zap.Int("removed", removed),
	)
	return scrape.UpdateResult{
		Status:  StatusUpdated,
		Count:   len(next),
		Added:   added,
		Removed: removed,
	}, nil
}

// Run refreshes the set every Interval until ctx ends.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.logger.Info("preload loop started",
		zap.Duration("interval", m.cfg.Interval),
		zap.Bool("warm_on_start", m.cfg.WarmOnStart),
	)
	if m.cfg.WarmOnStart {
		m.RefreshCycle(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("preload loop stopped")
			return
		case <-ticker.C:
			m.RefreshCycle(ctx)
		}
	}
}

// RefreshCycle refreshes a snapshot of the set. One URL failing never stops
// the others.
func (m *Manager) RefreshCycle(ctx context.Context) CycleReport {
	ctx, span := telemetry.Tracer("pagerender/preload").Start(ctx, "preload.Manager.RefreshCycle")
	defer span.End()

	urls := m.URLs()
	start := time.Now()
	var succeeded, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Parallelism)
	for _, u := range urls {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := m.refreshOne(gctx, u); err != nil {
				failed.Add(1)
				metrics.ObservePreloadRefresh("failure")
				m.logger.Warn("preload refresh failed", zap.String("url", u), zap.Error(err))
				return nil
			}
			succeeded.Add(1)
			metrics.ObservePreloadRefresh("success")
			return nil
		})
	}
	_ = g.Wait()

	report := CycleReport{
		Attempted: int(succeeded.Load() + failed.Load()),
		Succeeded: int(succeeded.Load()),
		Failed:    int(failed.Load()),
	}
	elapsed := time.Since(start)
	metrics.ObservePreloadCycle(elapsed)
	m.logger.Info("preload cycle finished",
		zap.Int("attempted", report.Attempted),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Duration("duration", elapsed),
	)
	return report
}

func (m *Manager) refreshOne(ctx context.Context, url string) error {
	if _, err := m.refresher.Refresh(ctx, url); err != nil {
		return err
	}
	if m.publisher == nil || m.cfg.Topic == "" {
		return nil
	}
	info, ok := m.describer.Describe(url)
	if !ok {
		return nil
	}
	event := scrape.RefreshEvent{
		URL:           url,
		FetchedAt:     info.FetchedAt,
		ContentLength: info.Length,
		ContentHash:   info.Digest,
	}
	if _, err := m.publisher.Publish(ctx, m.cfg.Topic, event); err != nil {
		m.logger.Warn("publish refresh event failed", zap.String("url", url), zap.Error(err))
	}
	return nil
}

func normalizeAll(raw []string) (map[string]struct{}, error) {
	out := make(map[string]struct{}, len(raw))
	for _, r := range raw {
		u, err := scrape.NormalizeURL(r)
		if err != nil {
			return nil, &scrape.FetchError{Kind: scrape.FetchInvalidInput, URL: r, Err: err}
		}
		out[u] = struct{}{}
	}
	return out, nil
}

func diff(current, next map[string]struct{}) (added, removed int) {
	for u := range next {
		if _, ok := current[u]; !ok {
			added++
		}
	}
	for u := range current {
		if _, ok := next[u]; !ok {
			removed++
		}
	}
	return added, removed
}
