package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/realtime-scraper/internal/metrics"
)

// HostPacer spaces requests to the same host by the crawl-delay that host
// declared in robots.txt.
type HostPacer struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHostPacer creates an empty HostPacer.
func NewHostPacer() *HostPacer {
	return &HostPacer{limiters: make(map[string]*rate.Limiter)}
}

// Wait blocks until a request to host may be sent, respecting the context.
// A non-positive delay never blocks.
func (p *HostPacer) Wait(ctx context.Context, host string, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	host = strings.ToLower(host)
	every := rate.Every(delay)

	p.mu.Lock()
	limiter, exists := p.limiters[host]
	if !exists {
		limiter = rate.NewLimiter(every, 1)
		p.limiters[host] = limiter
	} else if limiter.Limit() != every {
		limiter.SetLimit(every)
	}
	p.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("crawl delay wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

// Clear forgets every host.
func (p *HostPacer) Clear() {
	p.mu.Lock()
	p.limiters = make(map[string]*rate.Limiter)
	p.mu.Unlock()
}
