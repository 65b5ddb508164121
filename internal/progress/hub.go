package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config controls buffering and delivery for the Hub.
//   - BufferSize: capacity of the pending event channel (default 1024).
//   - MaxBatchEvents: deliver once this many events are pending (default 256).
//   - MaxBatchWait: deliver a partial batch after this long (default 250ms).
//   - SinkTimeout: per-sink deadline for one delivery (default 5s).
//   - BaseContext: parent of every sink context (default context.Background()).
//   - Block: wait for buffer space instead of dropping events.
//   - Logger: receives sink failures and drop reports.
type Config struct {
	BufferSize     int
	MaxBatchEvents int
	MaxBatchWait   time.Duration
	SinkTimeout    time.Duration
	BaseContext    context.Context
	Block          bool
	Logger         *zap.Logger
}

const (
	defaultBufferSize     = 1024
	defaultMaxBatchEvents = 256
	defaultMaxBatchWait   = 250 * time.Millisecond
	defaultSinkTimeout    = 5 * time.Second
)

// HubStats counts events across the life of a Hub.
type HubStats struct {
	Emitted   uint64
	Delivered uint64
	Dropped   uint64
	Rejected  uint64
}

// Hub sequences lifecycle events and delivers them to sinks in emission
// order from a single goroutine. Emit is safe for concurrent use.
type Hub struct {
	cfg    Config
	logger *zap.Logger

	mu    sync.RWMutex
	sinks []Sink

	// emitMu makes sequence assignment and enqueueing one step, so Seq order
	// is channel order.
	emitMu sync.Mutex
	seq    uint64

	events chan Event
	stop   chan struct{}
	done   chan struct{}
	closed atomic.Bool
	once   sync.Once

	// closeCtx bounds the final sink Close calls.
	closeCtx context.Context

	delivered     atomic.Uint64
	dropped       atomic.Uint64
	rejected      atomic.Uint64
	reportedDrops uint64
}

// NewHub starts a Hub delivering to sinks.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = defaultMaxBatchEvents
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	h := &Hub{
		cfg:    cfg,
		logger: cfg.Logger,
		sinks:  append([]Sink(nil), sinks...),
		events: make(chan Event, cfg.BufferSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go h.run()
	return h
}

// AddSink registers sink for events delivered after the call.
func (h *Hub) AddSink(sink Sink) {
	if h == nil || sink == nil {
		return
	}
	h.mu.Lock()
	h.sinks = append(h.sinks, sink)
	h.mu.Unlock()
}

// Emit stamps evt with the next sequence number, and with the current time
// when TS is unset, then queues it. Invalid events are rejected. When the
// buffer is full the event is dropped unless Config.Block is set.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if evt.TS.IsZero() {
		evt.TS = time.Now().UTC()
	}
	if err := evt.Validate(); err != nil {
		h.rejected.Add(1)
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}

	h.emitMu.Lock()
	defer h.emitMu.Unlock()
	evt.Seq = h.seq + 1
	if h.cfg.Block {
		select {
		case h.events <- evt:
			h.seq++
		case <-h.stop:
		}
		return
	}
	select {
	case h.events <- evt:
		h.seq++
	default:
		h.dropped.Add(1)
	}
}

// Stats reports the Hub's counters.
func (h *Hub) Stats() HubStats {
	h.emitMu.Lock()
	emitted := h.seq
	h.emitMu.Unlock()
	return HubStats{
		Emitted:   emitted,
		Delivered: h.delivered.Load(),
		Dropped:   h.dropped.Load(),
		Rejected:  h.rejected.Load(),
	}
}

// Close stops accepting events, delivers what is queued, closes every sink
// and waits for that to finish or ctx to end. Later calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.once.Do(func() {
		h.closeCtx = ctx
		h.closed.Store(true)
		close(h.stop)
	})
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.done)
	ticker := time.NewTicker(h.cfg.MaxBatchWait)
	defer ticker.Stop()

	batch := make([]Event, 0, h.cfg.MaxBatchEvents)
	for {
		select {
		case evt := <-h.events:
			batch = append(batch, evt)
			if len(batch) >= h.cfg.MaxBatchEvents {
				batch = h.deliver(batch)
			}
		case <-ticker.C:
			batch = h.deliver(batch)
		case <-h.stop:
			h.drain(batch)
			return
		}
	}
}

// drain delivers whatever is still buffered and closes the sinks.
func (h *Hub) drain(batch []Event) {
	for {
		select {
		case evt := <-h.events:
			batch = append(batch, evt)
			if len(batch) >= h.cfg.MaxBatchEvents {
				batch = h.deliver(batch)
			}
		default:
			h.deliver(batch)
			for i, sink := range h.sinkList() {
				if err := sink.Close(h.closeCtx); err != nil {
					h.logger.Warn("progress sink close failed", zap.Int("sink", i), zap.Error(err))
				}
			}
			return
		}
	}
}

// deliver hands batch to every sink in registration order and returns the
// emptied batch for reuse.
func (h *Hub) deliver(batch []Event) []Event {
	h.reportDrops()
	if len(batch) == 0 {
		return batch
	}
	out := append([]Event(nil), batch...)
	for i, sink := range h.sinkList() {
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, out); err != nil {
			h.logger.Warn("progress sink consume failed",
				zap.Int("sink", i),
				zap.Uint64("first_seq", out[0].Seq),
				zap.Int("events", len(out)),
				zap.Error(err))
		}
		cancel()
	}
	h.delivered.Add(uint64(len(out)))
	return batch[:0]
}

// reportDrops logs events dropped since the previous report. It runs on the
// delivery goroutine only.
func (h *Hub) reportDrops() {
	total := h.dropped.Load()
	if total == h.reportedDrops {
		return
	}
	h.logger.Warn("progress events dropped due to backpressure", zap.Uint64("dropped", total-h.reportedDrops))
	h.reportedDrops = total
}

func (h *Hub) sinkList() []Sink {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]Sink(nil), h.sinks...)
}
