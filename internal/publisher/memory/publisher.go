// Package memory keeps exported record batches in process so a dry run can be
// inspected without touching an external system.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/JakeFAU/realtime-scraper/internal/export"
)

const (
	defaultTopic = "records"
	defaultLimit = 256
)

// PublishedMessage is one exported batch.
type PublishedMessage struct {
	ID      string
	Topic   string
	Records []map[string]any
	At      time.Time
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithLimit caps how many batches are retained. The oldest are evicted first.
// A limit below one keeps every batch.
func WithLimit(n int) Option {
	return func(p *Publisher) { p.limit = n }
}

// WithClock replaces the wall clock used to stamp batches.
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) {
		if now != nil {
			p.now = now
		}
	}
}

// Publisher is the "memory" export format.
type Publisher struct {
	mu       sync.Mutex
	limit    int
	now      func() time.Time
	seq      uint64
	messages []PublishedMessage
}

// New returns an empty Publisher retaining the last 256 batches by default.
func New(opts ...Option) *Publisher {
	p := &Publisher{limit: defaultLimit, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Export stores a copy of records under cfg.Destination.
func (p *Publisher) Export(ctx context.Context, records []map[string]any, cfg export.Config) (export.Result, error) {
	if err := ctx.Err(); err != nil {
		return export.Result{}, err
	}
	topic := cfg.Destination
	if topic == "" {
		topic = defaultTopic
	}
	batch := make([]map[string]any, len(records))
	for i, rec := range records {
		batch[i] = maps.Clone(rec)
	}

	p.mu.Lock()
	p.seq++
	msg := PublishedMessage{
		ID:      fmt.Sprintf("dry-run-%d", p.seq),
		Topic:   topic,
		Records: batch,
		At:      p.now().UTC(),
	}
	p.messages = append(p.messages, msg)
	if p.limit > 0 && len(p.messages) > p.limit {
		p.messages = append([]PublishedMessage(nil), p.messages[len(p.messages)-p.limit:]...)
	}
	p.mu.Unlock()

	return export.Result{Success: true, Destination: topic + "/" + msg.ID, RecordCount: len(records)}, nil
}

// Messages returns the retained batches, oldest first.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PublishedMessage(nil), p.messages...)
}

// Topic returns the retained batches sent to topic.
func (p *Publisher) Topic(topic string) []PublishedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []PublishedMessage
	for _, msg := range p.messages {
		if msg.Topic == topic {
			out = append(out, msg)
		}
	}
	return out
}

// Reset forgets every retained batch. IDs keep counting.
func (p *Publisher) Reset() {
	p.mu.Lock()
	p.messages = nil
	p.mu.Unlock()
}
