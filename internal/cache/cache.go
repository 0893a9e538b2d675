// Package cache holds rendered pages keyed by normalized URL with a fixed
// time-to-live. Staleness is computed lazily at read time; stale entries stay
// in place until a newer render overwrites them, so Describe can still report
// the last successful render of a URL.
package cache

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/pagerender/internal/metrics"
	"github.com/JakeFAU/pagerender/internal/scrape"
)

// DefaultTTL is how long a rendered page is served without re-rendering.
const DefaultTTL = time.Hour

// ErrEmptyContent is returned by Put when the rendered HTML is empty.
var ErrEmptyContent = errors.New("rendered content is empty")

// Cache is safe for concurrent use by request handlers and the preload loop.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]scrape.Entry
	ttl     time.Duration
	clock   scrape.Clock
	hasher  scrape.Hasher
}

// New creates an empty cache. A non-positive ttl falls back to DefaultTTL.
func New(ttl time.Duration, clock scrape.Clock, hasher scrape.Hasher) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		entries: make(map[string]scrape.Entry),
		ttl:     ttl,
		clock:   clock,
		hasher:  hasher,
	}
}

// TTL returns the configured time-to-live.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Get returns the entry for url whether or not it is fresh.
func (c *Cache) Get(url string) (scrape.Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[url]
	return entry, ok
}

// GetFresh returns the cached HTML for url only when the entry is younger than
// the TTL. Missing and stale entries are both misses.
func (c *Cache) GetFresh(url string) (string, bool) {
	entry, ok := c.Get(url)
	if !ok {
		metrics.ObserveCacheLookup(metrics.CacheMiss)
		return "", false
	}
	if !c.IsFresh(entry) {
		metrics.ObserveCacheLookup(metrics.CacheStale)
		return "", false
	}
	metrics.ObserveCacheLookup(metrics.CacheHit)
	return entry.HTML, true
}

// IsFresh reports whether now - fetchedAt < TTL.
func (c *Cache) IsFresh(entry scrape.Entry) bool {
	return c.clock.Now().Sub(entry.FetchedAt) < c.ttl
}

// Put stores html for url stamped with the current time, replacing any
// previous entry.
func (c *Cache) Put(url string, html string) error {
	if html == "" {
		return fmt.Errorf("put %s: %w", url, ErrEmptyContent)
	}
	digest := ""
	if c.hasher != nil {
		sum, err := c.hasher.Hash([]byte(html))
		if err != nil {
			return fmt.Errorf("hash content: %w", err)
		}
		digest = sum
	}
	entry := scrape.Entry{
		URL:       url,
		HTML:      html,
		FetchedAt: c.clock.Now(),
		Digest:    digest,
	}

	c.mu.Lock()
	c.entries[url] = entry
	size := len(c.entries)
	c.mu.Unlock()

	metrics.SetCacheEntries(size)
	return nil
}

// Describe returns metadata for url without the body.
func (c *Cache) Describe(url string) (scrape.EntryInfo, bool) {
	entry, ok := c.Get(url)
	if !ok {
		return scrape.EntryInfo{}, false
	}
	return scrape.EntryInfo{
		FetchedAt: entry.FetchedAt,
		Length:    len(entry.HTML),
		Digest:    entry.Digest,
	}, true
}

// Len returns the number of entries, fresh or stale.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
