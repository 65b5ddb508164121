// Package app builds the long-lived services of a scraper process from
// configuration and owns their shutdown.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-scraper/internal/api"
	"github.com/JakeFAU/realtime-scraper/internal/cache"
	"github.com/JakeFAU/realtime-scraper/internal/clock/system"
	"github.com/JakeFAU/realtime-scraper/internal/config"
	"github.com/JakeFAU/realtime-scraper/internal/crawler"
	"github.com/JakeFAU/realtime-scraper/internal/export"
	collyfetcher "github.com/JakeFAU/realtime-scraper/internal/fetcher/colly"
	"github.com/JakeFAU/realtime-scraper/internal/fetcher/headless"
	"github.com/JakeFAU/realtime-scraper/internal/headless/detector"
	"github.com/JakeFAU/realtime-scraper/internal/policy/ratelimit"
	"github.com/JakeFAU/realtime-scraper/internal/progress"
	"github.com/JakeFAU/realtime-scraper/internal/progress/sinks"
	mempub "github.com/JakeFAU/realtime-scraper/internal/publisher/memory"
	"github.com/JakeFAU/realtime-scraper/internal/publisher/pubsub"
	"github.com/JakeFAU/realtime-scraper/internal/publisher/webhook"
	"github.com/JakeFAU/realtime-scraper/internal/queue/memory"
	"github.com/JakeFAU/realtime-scraper/internal/scraper"
	"github.com/JakeFAU/realtime-scraper/internal/storage/gcs"
	"github.com/JakeFAU/realtime-scraper/internal/storage/local"
	memstore "github.com/JakeFAU/realtime-scraper/internal/storage/memory"
	"github.com/JakeFAU/realtime-scraper/internal/storage/postgres"
	"github.com/JakeFAU/realtime-scraper/internal/storage/sqlite"
	"github.com/JakeFAU/realtime-scraper/internal/telemetry"
)

// Options carry process-level collaborators that are not configuration.
type Options struct {
	// Registerer receives the progress collectors. Nil uses the default
	// registry.
	Registerer prometheus.Registerer
	// Renderer overrides the chromedp renderer built when headless is
	// enabled.
	Renderer crawler.Renderer
}

// App holds the shared services of one process.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	tracer  *sdktrace.TracerProvider
	limiter *ratelimit.Limiter
	scraper *scraper.Scraper
	dryRun  *mempub.Publisher
	closers []func(context.Context) error
}

// New wires every service described by cfg. Optional exporters are only
// registered when their destination is configured; a failure to open one
// fails startup.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}

	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Enabled:     cfg.Telemetry.Tracing,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.tracer = tp
	a.closers = append(a.closers, tp.Shutdown)

	a.limiter = ratelimit.New(ratelimit.Config{
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		RequestsPerHour:   cfg.RateLimit.RequestsPerHour,
		MinDelay:          config.Millis(cfg.RateLimit.MinDelayMs),
	}, ratelimit.WithClock(system.New()))
	retry := &crawler.RetryPolicy{
		MaxAttempts:  cfg.Retry.MaxAttempts,
		InitialDelay: config.Millis(cfg.Retry.InitialDelayMs),
		Multiplier:   cfg.Retry.Multiplier,
		MaxDelay:     config.Millis(cfg.Retry.MaxDelayMs),
	}
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:       cfg.Fetch.UserAgent,
		RandomUserAgent: cfg.Fetch.RandomUserAgent,
		RespectRobots:   cfg.Fetch.RespectRobots,
		Timeout:         config.Seconds(cfg.Fetch.TimeoutSeconds),
		Proxy:           cfg.Fetch.Proxy,
		MaxRedirects:    cfg.Fetch.MaxRedirects,
		RobotsTTL:       config.Seconds(cfg.Robots.CacheTTLMinutes * 60),
	}, collyfetcher.Deps{
		Limiter: a.limiter,
		Retry:   retry,
		Logger:  logger.Named("fetcher"),
	})

	renderer := opts.Renderer
	var promoter crawler.RenderDetector
	if renderer == nil && cfg.Headless.Enabled {
		chrome, err := headless.NewChromedp(headless.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Fetch.UserAgent,
			NavigationTimeout: config.Seconds(cfg.Headless.NavTimeoutSec),
			Logger:            logger.Named("headless"),
		})
		if err != nil {
			return nil, a.abort(ctx, fmt.Errorf("init headless renderer: %w", err))
		}
		a.closers = append(a.closers, func(context.Context) error {
			chrome.Close()
			return nil
		})
		renderer = chrome
	}
	if renderer != nil {
		promoter = detector.NewHeuristic(cfg.Headless.PromotionThresh)
	}

	hub := progress.NewHub(progress.Config{Block: true, MaxBatchEvents: 1, Logger: logger})
	hub.AddSink(sinks.NewLogSink(logger.Named("events")))
	promSink, err := sinks.NewPrometheusSink(opts.Registerer)
	if err != nil {
		return nil, a.abort(ctx, err)
	}
	hub.AddSink(promSink)

	exporter := export.NewManager(cfg.Scraper.ExportParallelism, logger.Named("export"))
	if err := a.registerExporters(ctx, exporter, retry); err != nil {
		return nil, a.abort(ctx, err)
	}

	a.scraper = scraper.New(scraper.Config{
		Concurrency:     cfg.Scraper.Concurrency,
		IdleInterval:    config.Millis(cfg.Scraper.IdleIntervalMs),
		PollInterval:    config.Millis(cfg.Scraper.PollIntervalMs),
		DefaultPriority: cfg.Scraper.DefaultPriority,
		MaxRetries:      cfg.Scraper.MaxRetries,
		SweepInterval:   config.Seconds(cfg.Cache.SweepIntervalSeconds),
	}, scraper.Deps{
		Fetcher:  fetcher,
		Renderer: renderer,
		Detector: promoter,
		Limiter:  a.limiter,
		Queue:    memory.NewQueue(),
		Cache:    cache.New(cache.WithDefaultTTL(config.Seconds(cfg.Cache.TTLSeconds)), cache.WithLogger(logger)),
		Exporter: exporter,
		Hub:      hub,
		Tracer:   telemetry.Tracer(),
		Logger:   logger,
	})

	logger.Info("application services initialized",
		zap.Int("concurrency", cfg.Scraper.Concurrency),
		zap.Strings("export_formats", exporter.Formats()),
		zap.Bool("headless", renderer != nil))
	return a, nil
}

// registerExporters binds the blob encoders and every configured destination.
func (a *App) registerExporters(ctx context.Context, m *export.Manager, retry *crawler.RetryPolicy) error {
	var blobs export.BlobStore
	if dir := a.cfg.Export.LocalDir; dir != "" {
		store, err := local.New(local.Config{BaseDir: dir})
		if err != nil {
			return fmt.Errorf("open local export dir: %w", err)
		}
		blobs = store
	} else {
		blobs = memstore.NewBlobStore()
	}
	for _, format := range []string{export.FormatJSON, export.FormatCSV, export.FormatXML} {
		m.Register(format, export.NewBlobSink(blobs, export.WithEncoding(format)))
	}

	a.dryRun = mempub.New()
	m.Register(export.FormatMemory, a.dryRun)
	m.Register(export.FormatWebhook, webhook.New(webhook.Config{URL: a.cfg.Export.WebhookURL}, retry, a.logger.Named("webhook")))

	if bucket := a.cfg.Export.GCSBucket; bucket != "" {
		store, err := gcs.Open(ctx, gcs.Config{Bucket: bucket}, a.logger)
		if err != nil {
			return fmt.Errorf("open gcs export: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return store.Close() })
		m.Register(export.FormatGCS, export.NewBlobSink(store, export.WithPrefix(a.cfg.Export.GCSPrefix)))
	}

	if dsn := a.cfg.Export.PostgresDSN; dsn != "" {
		store, err := postgres.Open(ctx, postgres.Config{DSN: dsn, Table: a.cfg.Export.PostgresTable})
		if err != nil {
			return fmt.Errorf("open postgres export: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error {
			store.Close()
			return nil
		})
		if err := store.EnsureTable(ctx, a.cfg.Export.PostgresTable); err != nil {
			return fmt.Errorf("prepare postgres export: %w", err)
		}
		m.Register(export.FormatPostgres, store)
	}

	if path := a.cfg.Export.SQLitePath; path != "" {
		store, err := sqlite.Open(ctx, path, a.cfg.Export.PostgresTable)
		if err != nil {
			return fmt.Errorf("open sqlite export: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return store.Close() })
		m.Register(export.FormatSQLite, store)
	}

	if project := a.cfg.Export.PubSubProjectID; project != "" {
		pub, err := pubsub.Open(ctx, pubsub.Config{ProjectID: project, Topic: a.cfg.Export.PubSubTopic}, a.logger.Named("pubsub"))
		if err != nil {
			return fmt.Errorf("open pubsub export: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return pub.Close() })
		m.Register(export.FormatPubSub, pub)
	}
	return nil
}

// Logger returns the process logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// Scraper returns the orchestrator.
func (a *App) Scraper() *scraper.Scraper {
	return a.scraper
}

// DryRunMessages returns the batches sent to the "memory" export format.
func (a *App) DryRunMessages() []mempub.PublishedMessage {
	return a.dryRun.Messages()
}

// DefaultOptions builds per-scrape options from the configured defaults.
func (a *App) DefaultOptions() crawler.Options {
	enabled := a.cfg.Cache.Enabled
	return crawler.Options{
		Cache: crawler.CacheOptions{
			Enabled: &enabled,
			TTL:     config.Seconds(a.cfg.Cache.TTLSeconds),
		},
	}
}

// Server builds the ops server over the scraper.
func (a *App) Server() *api.Server {
	return api.NewServer(a.scraper, api.Config{
		APIKey:         a.cfg.Server.APIKey,
		RequestTimeout: config.Seconds(a.cfg.Server.RequestTimeoutSeconds),
	}, a.logger.Named("api"))
}

// Close stops the scraper and releases every opened destination in reverse
// order. All closers run; their errors are joined.
func (a *App) Close(ctx context.Context) error {
	a.logger.Info("shutting down application services")
	var errs []error
	if a.scraper != nil {
		if err := a.scraper.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close scraper: %w", err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	return errors.Join(errs...)
}

// abort releases whatever New opened before failing.
func (a *App) abort(ctx context.Context, err error) error {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if closeErr := a.closers[i](ctx); closeErr != nil {
			a.logger.Warn("cleanup after failed startup", zap.Error(closeErr))
		}
	}
	a.closers = nil
	return err
}
