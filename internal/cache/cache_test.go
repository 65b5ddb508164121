package cache

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-scraper/internal/crawler"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func TestCacheTTL(t *testing.T) {
	t.Parallel()

	base := time.Unix(0, 0)
	clock := &fakeClock{now: base}
	c := New(WithClock(clock.Now))
	result := &crawler.Result{URL: "https://example.com"}

	c.Set("k", result, 100*time.Millisecond)

	clock.Set(base.Add(50 * time.Millisecond))
	got, ok := c.Get("k")
	require.True(t, ok)
	require.Same(t, result, got)

	clock.Set(base.Add(100 * time.Millisecond))
	_, ok = c.Get("k")
	require.False(t, ok, "entry expires at exactly its deadline")
	require.Zero(t, c.Len(), "expired entry removed on read")

	c.Set("k", result, 100*time.Millisecond)
	clock.Set(base.Add(250 * time.Millisecond))
	_, ok = c.Get("k")
	require.False(t, ok)
}

func TestCacheDefaultTTL(t *testing.T) {
	t.Parallel()

	base := time.Unix(0, 0)
	clock := &fakeClock{now: base}
	c := New(WithClock(clock.Now))
	c.Set("k", &crawler.Result{}, 0)

	clock.Set(base.Add(DefaultTTL - time.Second))
	_, ok := c.Get("k")
	require.True(t, ok)

	clock.Set(base.Add(DefaultTTL))
	_, ok = c.Get("k")
	require.False(t, ok)

	custom := New(WithClock(clock.Now), WithDefaultTTL(time.Minute))
	custom.Set("k", &crawler.Result{}, 0)
	clock.Set(base.Add(DefaultTTL + time.Minute))
	_, ok = custom.Get("k")
	require.False(t, ok)
}

func TestCacheCleanupDeleteClear(t *testing.T) {
	t.Parallel()

	base := time.Unix(0, 0)
	clock := &fakeClock{now: base}
	c := New(WithClock(clock.Now))
	c.Set("short", &crawler.Result{}, time.Second)
	c.Set("long", &crawler.Result{}, time.Hour)
	c.Set("gone", &crawler.Result{}, time.Hour)

	c.Delete("gone")
	require.Equal(t, 2, c.Len())

	clock.Set(base.Add(time.Second))
	require.Equal(t, 1, c.Cleanup())
	require.Equal(t, 1, c.Len())

	c.Clear()
	require.Zero(t, c.Len())
}

func TestCacheRunSweeps(t *testing.T) {
	t.Parallel()

	base := time.Unix(0, 0)
	clock := &fakeClock{now: base}
	c := New(WithClock(clock.Now))
	c.Set("k", &crawler.Result{}, time.Second)
	clock.Set(base.Add(time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestKey(t *testing.T) {
	t.Parallel()

	url := "https://example.com/item"
	plain := Key(url, crawler.Options{})
	require.True(t, strings.HasPrefix(plain, url+"_"))
	require.Equal(t, plain, Key(url, crawler.Options{}), "deterministic")

	withSelectors := Key(url, crawler.Options{Extraction: crawler.ExtractionOptions{
		CustomSelectors: map[string]string{"title": "h1"},
	}})
	require.NotEqual(t, plain, withSelectors)

	withSchema := Key(url, crawler.Options{Schema: "product"})
	require.NotEqual(t, plain, withSchema)

	withExport := Key(url, crawler.Options{Export: crawler.ExportOptions{Immediate: true}})
	require.Equal(t, plain, withExport, "export settings do not change output")

	custom := Key(url, crawler.Options{Cache: crawler.CacheOptions{Key: "mine"}})
	require.Equal(t, "mine", custom)
}
