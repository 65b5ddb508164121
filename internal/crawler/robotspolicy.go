package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultRobotsTTL is how long a host's robots.txt stays cached.
	DefaultRobotsTTL = time.Hour
	// DefaultRobotsFailureTTL is how long a failed fetch keeps a host on the
	// allow-all verdict before robots.txt is tried again.
	DefaultRobotsFailureTTL = 5 * time.Minute
)

// RobotsDecision is the verdict for one URL.
type RobotsDecision struct {
	Allowed    bool
	CrawlDelay time.Duration
}

// RobotsConfig configures a RobotsEnforcer.
type RobotsConfig struct {
	UserAgent  string
	TTL        time.Duration
	FailureTTL time.Duration
	Client     *http.Client
	Logger     *zap.Logger
	Now        func() time.Time
}

// robotsEntry caches one host. A nil data marks a failed fetch.
type robotsEntry struct {
	data    *robotstxt.RobotsData
	expires time.Time
}

// RobotsEnforcer enforces robots.txt directives per host.
type RobotsEnforcer struct {
	client     *http.Client
	userAgent  string
	ttl        time.Duration
	failureTTL time.Duration
	logger     *zap.Logger
	now        func() time.Time

	mu    sync.Mutex
	cache map[string]robotsEntry
	group singleflight.Group
}

// NewRobotsEnforcer builds an enforcer. Nil fields fall back to defaults.
func NewRobotsEnforcer(cfg RobotsConfig) *RobotsEnforcer {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultRobotsTTL
	}
	failureTTL := cfg.FailureTTL
	if failureTTL <= 0 {
		failureTTL = min(DefaultRobotsFailureTTL, ttl)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &RobotsEnforcer{
		client:     client,
		userAgent:  cfg.UserAgent,
		ttl:        ttl,
		failureTTL: failureTTL,
		logger:     logger,
		now:        now,
		cache:      make(map[string]robotsEntry),
	}
}

// Check implements RobotsPolicy. Unreachable or broken robots.txt files allow
// everything, and that verdict is cached for FailureTTL.
func (r *RobotsEnforcer) Check(ctx context.Context, rawURL string) (RobotsDecision, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return RobotsDecision{}, fmt.Errorf("parse url: %w", err)
	}
	if parsed.Host == "" {
		return RobotsDecision{}, fmt.Errorf("parse url: missing host in %q", rawURL)
	}
	data, err := r.load(ctx, parsed)
	if err != nil {
		r.logger.Warn("robots fetch failed; allowing access", zap.String("host", parsed.Host), zap.Error(err))
		return RobotsDecision{Allowed: true}, nil
	}
	if data == nil {
		return RobotsDecision{Allowed: true}, nil
	}
	group := data.FindGroup(r.userAgent)
	if group == nil {
		return RobotsDecision{Allowed: true}, nil
	}
	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}
	if parsed.RawQuery != "" {
		path += "?" + parsed.RawQuery
	}
	return RobotsDecision{Allowed: group.Test(path), CrawlDelay: group.CrawlDelay}, nil
}

// Clear drops every cached robots.txt.
func (r *RobotsEnforcer) Clear() {
	r.mu.Lock()
	r.cache = make(map[string]robotsEntry)
	r.mu.Unlock()
}

func (r *RobotsEnforcer) load(ctx context.Context, parsed *url.URL) (*robotstxt.RobotsData, error) {
	hostKey := strings.ToLower(parsed.Scheme + "://" + parsed.Host)
	r.mu.Lock()
	entry, ok := r.cache[hostKey]
	r.mu.Unlock()
	if ok && r.now().Before(entry.expires) {
		return entry.data, nil
	}

	v, err, _ := r.group.Do(hostKey, func() (any, error) {
		data, err := r.fetch(ctx, parsed)
		if err != nil {
			if ctx.Err() == nil {
				r.store(hostKey, robotsEntry{expires: r.now().Add(r.failureTTL)})
			}
			return nil, err
		}
		r.store(hostKey, robotsEntry{data: data, expires: r.now().Add(r.ttl)})
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	data, assertOK := v.(*robotstxt.RobotsData)
	if !assertOK {
		return nil, fmt.Errorf("robots cache type mismatch: %T", v)
	}
	return data, nil
}

func (r *RobotsEnforcer) store(hostKey string, entry robotsEntry) {
	r.mu.Lock()
	r.cache[hostKey] = entry
	r.mu.Unlock()
}

func (r *RobotsEnforcer) fetch(ctx context.Context, parsed *url.URL) (*robotstxt.RobotsData, error) {
	robotsURL := url.URL{Scheme: parsed.Scheme, Host: parsed.Host, Path: "/robots.txt"}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			r.logger.Debug("Failed to close robots response body", zap.Error(cerr))
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	status := resp.StatusCode
	if status >= http.StatusInternalServerError {
		// robotstxt treats 5xx as disallow-all; a broken server allows here.
		status = http.StatusNotFound
	}
	data, err := robotstxt.FromStatusAndBytes(status, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	return data, nil
}
