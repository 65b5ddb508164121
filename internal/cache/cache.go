// Package cache holds scrape results keyed by URL and output-affecting options.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-scraper/internal/crawler"
	"github.com/JakeFAU/realtime-scraper/internal/hash/rolling"
)

const (
	// DefaultTTL applies when Set is called without a positive ttl.
	DefaultTTL = time.Hour
	// DefaultSweepInterval is the Run period when none is given.
	DefaultSweepInterval = 5 * time.Minute
)

type entry struct {
	result    *crawler.Result
	expiresAt time.Time
}

// Option customizes a Cache.
type Option func(*Cache)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithDefaultTTL overrides DefaultTTL.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.defaultTTL = ttl
		}
	}
}

// WithLogger attaches a logger for sweep reports.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Cache is a mutex-guarded TTL map. An entry is live while now is before its
// expiry.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]entry
	defaultTTL time.Duration
	now        func() time.Time
	logger     *zap.Logger
}

// New builds an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries:    make(map[string]entry),
		defaultTTL: DefaultTTL,
		now:        time.Now,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the live entry for key. Expired entries are removed.
func (c *Cache) Get(key string) (*crawler.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return e.result, true
}

// Set stores result under key for ttl, or the default TTL when ttl <= 0.
func (c *Cache) Set(key string, result *crawler.Result, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	c.entries[key] = entry{result: result, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
}

// Delete removes key.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Clear removes every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
}

// Len reports the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Cleanup purges expired entries and returns how many were removed.
func (c *Cache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Run sweeps expired entries every interval until ctx is done.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := c.Cleanup(); removed > 0 {
				c.logger.Debug("cache sweep", zap.Int("removed", removed))
			}
		}
	}
}

type keyMaterial struct {
	SchemaName string                    `json:"schemaName,omitempty"`
	Schema     crawler.ExtractionOptions `json:"schema"`
	Fetch      crawler.FetchOptions      `json:"fetch"`
	Parse      crawler.ParseOptions      `json:"parse"`
}

// Key derives the cache key for url under opts. A caller-supplied key wins;
// otherwise the URL is suffixed with a rolling digest of the options that
// change the scraped output.
func Key(url string, opts crawler.Options) string {
	if opts.Cache.Key != "" {
		return opts.Cache.Key
	}
	raw, err := json.Marshal(keyMaterial{
		SchemaName: opts.Schema,
		Schema:     opts.Extraction,
		Fetch:      opts.Fetch,
		Parse:      opts.Parse,
	})
	if err != nil {
		return url
	}
	return url + "_" + rolling.Sum(string(raw))
}
