package cache

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pagerender/internal/hash/sha256"
)

func TestCache_GetFreshHonorsTTL(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1_000, 0).UTC()}
	c := New(60*time.Second, clock, sha256.New())

	require.NoError(t, c.Put("https://x.com", "<html>x</html>"))

	clock.Advance(59 * time.Second)
	html, ok := c.GetFresh("https://x.com")
	require.True(t, ok)
	require.Equal(t, "<html>x</html>", html)

	clock.Advance(time.Second)
	_, ok = c.GetFresh("https://x.com")
	require.False(t, ok, "entry must be stale exactly at TTL")

	entry, ok := c.Get("https://x.com")
	require.True(t, ok, "stale entry stays physically present")
	require.Equal(t, "<html>x</html>", entry.HTML)
	require.False(t, c.IsFresh(entry))
}

func TestCache_PutReplacesEntryWholesale(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(0, 0).UTC()}
	c := New(time.Hour, clock, sha256.New())

	require.NoError(t, c.Put("https://x.com", "first"))
	first, ok := c.Get("https://x.com")
	require.True(t, ok)

	clock.Advance(2 * time.Hour)
	_, ok = c.GetFresh("https://x.com")
	require.False(t, ok)

	require.NoError(t, c.Put("https://x.com", "second body"))
	second, ok := c.Get("https://x.com")
	require.True(t, ok)

	require.Equal(t, "first", first.HTML, "previously returned entry is not mutated")
	require.Equal(t, "second body", second.HTML)
	require.True(t, second.FetchedAt.After(first.FetchedAt))
	require.NotEqual(t, first.Digest, second.Digest)

	html, ok := c.GetFresh("https://x.com")
	require.True(t, ok)
	require.Equal(t, "second body", html)
	require.Equal(t, 1, c.Len())
}

func TestCache_PutRejectsEmptyHTML(t *testing.T) {
	t.Parallel()

	c := New(time.Hour, &fakeClock{now: time.Unix(0, 0)}, sha256.New())

	err := c.Put("https://x.com", "")
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrEmptyContent))
	_, ok := c.Get("https://x.com")
	require.False(t, ok)
}

func TestCache_Describe(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(500, 0).UTC()}
	c := New(time.Hour, clock, sha256.New())

	_, ok := c.Describe("https://missing.com")
	require.False(t, ok)

	require.NoError(t, c.Put("https://x.com", "hello world"))
	info, ok := c.Describe("https://x.com")
	require.True(t, ok)
	require.Equal(t, 11, info.Length)
	require.Equal(t, time.Unix(500, 0).UTC(), info.FetchedAt)
	require.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", info.Digest)
}

func TestCache_DefaultTTL(t *testing.T) {
	t.Parallel()

	c := New(0, &fakeClock{}, nil)
	require.Equal(t, DefaultTTL, c.TTL())
}

func TestCache_ConcurrentPutAndGet(t *testing.T) {
	t.Parallel()

	c := New(time.Hour, &fakeClock{now: time.Unix(0, 0)}, sha256.New())

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			url := fmt.Sprintf("https://site-%d.com", i%4)
			require.NoError(t, c.Put(url, fmt.Sprintf("body-%d", i)))
			html, ok := c.GetFresh(url)
			require.True(t, ok)
			require.NotEmpty(t, html)
		}(i)
	}
	wg.Wait()
	require.Equal(t, 4, c.Len())
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
