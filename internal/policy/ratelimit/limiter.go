// Package ratelimit implements admission control for outbound requests: a
// global sliding-window limiter served in arrival order and per-host
// crawl-delay pacing.
package ratelimit

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/realtime-scraper/internal/clock/system"
	"github.com/JakeFAU/realtime-scraper/internal/metrics"
)

// Clock supplies time to the limiter.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// Config holds rate limiter configuration. Zero values mean unlimited.
type Config struct {
	RequestsPerSecond int
	RequestsPerMinute int
	RequestsPerHour   int
	MinDelay          time.Duration
}

// Stats is a snapshot of the limiter counters.
type Stats struct {
	SecondCount int
	MinuteCount int
	HourCount   int
	Waiting     int
	Granted     int
	Throttled   int
}

type window struct {
	limit int
	span  time.Duration
	count int
	start time.Time
}

// roll resets the counter once its span has elapsed since the counter started.
func (w *window) roll(now time.Time) {
	if now.Sub(w.start) >= w.span {
		w.count = 0
		w.start = now
	}
}

// wait returns how long until the window admits another request.
func (w *window) wait(now time.Time) time.Duration {
	if w.limit <= 0 || w.count < w.limit {
		return 0
	}
	return w.start.Add(w.span).Sub(now)
}

type waiter struct {
	wake chan struct{}
}

// Limiter grants request slots in FIFO order under per-second, per-minute and
// per-hour ceilings plus a minimum delay between grants.
type Limiter struct {
	clock    Clock
	minDelay time.Duration

	mu        sync.Mutex
	windows   [3]*window
	last      time.Time
	granted   bool
	queue     *list.List
	total     int
	throttled int
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock swaps the wall clock, mainly for tests.
func WithClock(c Clock) Option {
	return func(l *Limiter) {
		l.clock = c
	}
}

// New creates a new Limiter.
func New(cfg Config, opts ...Option) *Limiter {
	l := &Limiter{
		clock:    system.New(),
		minDelay: cfg.MinDelay,
		windows: [3]*window{
			{limit: cfg.RequestsPerSecond, span: time.Second},
			{limit: cfg.RequestsPerMinute, span: time.Minute},
			{limit: cfg.RequestsPerHour, span: time.Hour},
		},
		queue: list.New(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire blocks until the caller may send one request. Callers are admitted
// strictly in the order they called Acquire.
func (l *Limiter) Acquire(ctx context.Context) error {
	start := l.clock.Now()
	w := &waiter{}

	l.mu.Lock()
	el := l.queue.PushBack(w)
	waited := false
	for {
		delay := time.Duration(-1)
		if l.queue.Front() == el {
			now := l.clock.Now()
			delay = l.reserveLocked(now)
			if delay <= 0 {
				l.queue.Remove(el)
				l.total++
				if waited {
					l.throttled++
				}
				l.wakeHeadLocked()
				l.mu.Unlock()
				if waited {
					metrics.ObserveRateLimitDelay("global", l.clock.Now().Sub(start))
				}
				return nil
			}
		}
		w.wake = make(chan struct{})
		wake := w.wake
		l.mu.Unlock()
		waited = true

		var timer <-chan time.Time
		if delay > 0 {
			timer = l.clock.After(delay)
		}
		select {
		case <-ctx.Done():
			l.mu.Lock()
			wasHead := l.queue.Front() == el
			l.queue.Remove(el)
			if wasHead {
				l.wakeHeadLocked()
			}
			l.mu.Unlock()
			return fmt.Errorf("rate limit wait: %w", ctx.Err())
		case <-timer:
		case <-wake:
		}
		l.mu.Lock()
	}
}

// reserveLocked grants a slot at now and returns 0, or returns how long the
// head of the queue must wait.
func (l *Limiter) reserveLocked(now time.Time) time.Duration {
	var delay time.Duration
	for _, w := range l.windows {
		w.roll(now)
		if d := w.wait(now); d > delay {
			delay = d
		}
	}
	if l.granted && l.minDelay > 0 {
		if d := l.last.Add(l.minDelay).Sub(now); d > delay {
			delay = d
		}
	}
	if delay > 0 {
		return delay
	}
	for _, w := range l.windows {
		w.count++
	}
	l.last = now
	l.granted = true
	return 0
}

func (l *Limiter) wakeHeadLocked() {
	front := l.queue.Front()
	if front == nil {
		return
	}
	w, ok := front.Value.(*waiter)
	if !ok || w.wake == nil {
		return
	}
	select {
	case <-w.wake:
	default:
		close(w.wake)
	}
}

// Stats returns the current counters.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		SecondCount: l.windows[0].count,
		MinuteCount: l.windows[1].count,
		HourCount:   l.windows[2].count,
		Waiting:     l.queue.Len(),
		Granted:     l.total,
		Throttled:   l.throttled,
	}
}

// Reset clears every counter. Queued callers keep their place.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, w := range l.windows {
		w.count = 0
		w.start = time.Time{}
	}
	l.granted = false
	l.wakeHeadLocked()
}
