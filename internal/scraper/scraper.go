// Package scraper is the orchestrator: it runs single scrapes through the
// fetch, parse and extract pipeline, feeds queued jobs to a resizable worker
// pool, caches results and reports lifecycle events and counters.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-scraper/internal/cache"
	"github.com/JakeFAU/realtime-scraper/internal/crawler"
	"github.com/JakeFAU/realtime-scraper/internal/dispatcher"
	"github.com/JakeFAU/realtime-scraper/internal/dom"
	"github.com/JakeFAU/realtime-scraper/internal/export"
	"github.com/JakeFAU/realtime-scraper/internal/extract"
	collyfetcher "github.com/JakeFAU/realtime-scraper/internal/fetcher/colly"
	"github.com/JakeFAU/realtime-scraper/internal/policy/ratelimit"
	"github.com/JakeFAU/realtime-scraper/internal/progress"
	"github.com/JakeFAU/realtime-scraper/internal/queue"
	"github.com/JakeFAU/realtime-scraper/internal/queue/memory"
	"github.com/JakeFAU/realtime-scraper/internal/selector"
	"github.com/JakeFAU/realtime-scraper/internal/telemetry"
	"github.com/JakeFAU/realtime-scraper/internal/worker"
)

const (
	defaultConcurrency  = 5
	defaultPollInterval = time.Second
)

// ErrRendererNotConfigured is returned when a browser engine is requested but
// no render provider was supplied.
var ErrRendererNotConfigured = errors.New("render provider not configured")

// Config tunes the orchestrator. Zero values get defaults.
type Config struct {
	Concurrency     int
	IdleInterval    time.Duration
	PollInterval    time.Duration
	DefaultPriority int
	MaxRetries      int
	SweepInterval   time.Duration
}

// LimiterStats exposes rate limiter counters for Stats.
type LimiterStats interface {
	Stats() ratelimit.Stats
}

// Deps are the collaborators of a Scraper. Nil fields get in-process
// defaults; Renderer and Detector stay nil unless supplied.
type Deps struct {
	Fetcher   crawler.Fetcher
	Renderer  crawler.Renderer
	Detector  crawler.RenderDetector
	Limiter   LimiterStats
	Selector  *selector.Engine
	Extractor *extract.Extractor
	Queue     *memory.Queue
	Cache     *cache.Cache
	Exporter  *export.Manager
	Hub       *progress.Hub
	Tracer    trace.Tracer
	Logger    *zap.Logger
	Now       func() time.Time
}

// Scraper owns one queue, one cache and one worker pool.
type Scraper struct {
	cfg       Config
	fetcher   crawler.Fetcher
	renderer  crawler.Renderer
	detector  crawler.RenderDetector
	limiter   LimiterStats
	selector  *selector.Engine
	extractor *extract.Extractor
	queue     *memory.Queue
	cache     *cache.Cache
	exporter  *export.Manager
	hub       *progress.Hub
	pool      *dispatcher.Dispatcher
	tracer    trace.Tracer
	logger    *zap.Logger
	now       func() time.Time

	procMu    sync.Mutex
	runCtx    context.Context
	runCancel context.CancelFunc
	closeOnce sync.Once

	statsMu sync.Mutex
	stats   crawler.Stats
}

// New wires a Scraper and starts the periodic cache sweep.
func New(cfg Config, deps Deps) *Scraper {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.DefaultPriority <= 0 {
		cfg.DefaultPriority = queue.DefaultPriority
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scraper{
		cfg:       cfg,
		fetcher:   deps.Fetcher,
		renderer:  deps.Renderer,
		detector:  deps.Detector,
		limiter:   deps.Limiter,
		selector:  deps.Selector,
		extractor: deps.Extractor,
		queue:     deps.Queue,
		cache:     deps.Cache,
		exporter:  deps.Exporter,
		hub:       deps.Hub,
		tracer:    deps.Tracer,
		logger:    logger.Named("scraper"),
		now:       deps.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.selector == nil {
		s.selector = selector.New()
	}
	if s.extractor == nil {
		s.extractor = extract.New(s.selector)
	}
	if s.queue == nil {
		s.queue = memory.NewQueue()
	}
	if s.cache == nil {
		s.cache = cache.New(cache.WithLogger(logger))
	}
	if s.exporter == nil {
		s.exporter = export.NewManager(0, logger)
	}
	if s.hub == nil {
		s.hub = progress.NewHub(progress.Config{Block: true, MaxBatchEvents: 1, Logger: logger})
	}
	if s.tracer == nil {
		s.tracer = telemetry.Tracer()
	}
	if s.fetcher == nil {
		limiter := ratelimit.New(ratelimit.Config{})
		s.fetcher = collyfetcher.New(collyfetcher.Config{RespectRobots: true}, collyfetcher.Deps{Limiter: limiter, Logger: logger})
		if s.limiter == nil {
			s.limiter = limiter
		}
	}

	w := worker.New(s.queue, worker.ProcessorFunc(s.processJob), worker.Hooks{
		OnStart:    s.onJobStart,
		OnComplete: s.onJobComplete,
		OnError:    s.onJobError,
	}, worker.Config{IdleInterval: cfg.IdleInterval}, s.logger.Named("worker"))
	s.pool = dispatcher.New(w, cfg.Concurrency, s.logger)

	s.runCtx, s.runCancel = context.WithCancel(context.Background())
	go s.cache.Run(s.runCtx, cfg.SweepInterval)
	return s
}

// Observe registers fn for every lifecycle event emitted after the call.
func (s *Scraper) Observe(fn func(progress.Event)) {
	s.hub.AddSink(progress.ObserverFunc(fn))
}

// AddObserver registers a progress sink such as a log or metrics sink.
func (s *Scraper) AddObserver(sink progress.Sink) {
	s.hub.AddSink(sink)
}

// AddSchema registers an extraction schema.
func (s *Scraper) AddSchema(schema extract.Schema) error {
	return s.extractor.AddSchema(schema)
}

// Schema looks up a registered schema.
func (s *Scraper) Schema(name string) (extract.Schema, bool) {
	return s.extractor.Schema(name)
}

// ListSchemas returns the registered schema names sorted.
func (s *Scraper) ListSchemas() []string {
	return s.extractor.ListSchemas()
}

// AutoDetectSchema parses markup and reports which schemas it looks like.
func (s *Scraper) AutoDetectSchema(markup string) []string {
	doc, _ := dom.Parse(markup)
	return s.extractor.AutoDetectSchema(doc)
}

// ClearCache drops cached results, compiled selectors and the fetch layer's
// robots, pacing and cookie state.
func (s *Scraper) ClearCache() {
	s.cache.Clear()
	s.selector.ClearCache()
	if c, ok := s.fetcher.(interface{ ClearCache() }); ok {
		c.ClearCache()
	}
}

// Export sends records to every configured sink and counts successes.
func (s *Scraper) Export(ctx context.Context, records []map[string]any, cfgs []export.Config) []export.Result {
	results := s.exporter.Export(ctx, records, cfgs)
	succeeded := 0
	for _, res := range results {
		if res.Success {
			succeeded++
		}
	}
	s.statsMu.Lock()
	s.stats.TotalExports += succeeded
	s.statsMu.Unlock()
	return results
}

// Exporter exposes the export manager so callers can register sinks.
func (s *Scraper) Exporter() *export.Manager {
	return s.exporter
}

// Close stops processing, waits for in-flight jobs and flushes observers.
func (s *Scraper) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		s.StopProcessing()
		done := make(chan struct{})
		go func() {
			s.pool.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = fmt.Errorf("wait for workers: %w", ctx.Err())
		}
		s.runCancel()
		if hubErr := s.hub.Close(ctx); hubErr != nil && err == nil {
			err = hubErr
		}
	})
	return err
}

func (s *Scraper) emit(evt progress.Event) {
	evt.TS = s.now().UTC()
	s.hub.Emit(evt)
}
