package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/realtime-scraper/internal/crawler"
	"github.com/JakeFAU/realtime-scraper/internal/progress"
)

// PrometheusSink folds lifecycle events into queue, page and batch collectors.
type PrometheusSink struct {
	jobEvents   *prometheus.CounterVec
	jobsRunning prometheus.Gauge
	jobDuration *prometheus.HistogramVec

	pages        *prometheus.CounterVec
	pageBytes    *prometheus.CounterVec
	pageDuration *prometheus.HistogramVec

	batches   *prometheus.CounterVec
	batchURLs prometheus.Histogram

	processing prometheus.Gauge
	lastSeq    prometheus.Gauge

	mu      sync.Mutex
	running map[string]struct{}
}

// NewPrometheusSink registers the sink's collectors with reg, or with the
// default registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_job_events_total",
			Help: "Queue job transitions by event (added, started, completed, failed).",
		}, []string{"event"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scraper_jobs_running",
			Help: "Jobs currently held by a worker.",
		}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scraper_job_duration_seconds",
			Help:    "Wall time of finished job attempts by outcome.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"outcome"}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_pages_total",
			Help: "Scraped pages by site and HTTP status class.",
		}, []string{"site", "status_class"}),
		pageBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_page_bytes_total",
			Help: "Bytes of scraped pages by site.",
		}, []string{"site"}),
		pageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scraper_page_duration_seconds",
			Help:    "Fetch plus extraction time per page by site.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2.5, 8),
		}, []string{"site"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_batches_total",
			Help: "Batch runs by phase (started, completed).",
		}, []string{"phase"}),
		batchURLs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scraper_batch_urls",
			Help:    "URLs submitted per batch.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 6),
		}),
		processing: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scraper_processing",
			Help: "1 while the worker pool is draining the queue.",
		}),
		lastSeq: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scraper_event_last_seq",
			Help: "Sequence number of the newest delivered event.",
		}),
		running: make(map[string]struct{}),
	}
	collectors := []prometheus.Collector{
		s.jobEvents, s.jobsRunning, s.jobDuration,
		s.pages, s.pageBytes, s.pageDuration,
		s.batches, s.batchURLs,
		s.processing, s.lastSeq,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.observe(evt)
		if evt.Seq > 0 {
			s.lastSeq.Set(float64(evt.Seq))
		}
	}
	return nil
}

func (s *PrometheusSink) observe(evt progress.Event) {
	switch evt.Type {
	case progress.TypeJobAdded:
		s.jobEvents.WithLabelValues("added").Inc()
	case progress.TypeJobStart:
		s.jobEvents.WithLabelValues("started").Inc()
		if s.track(evt.JobID, true) {
			s.jobsRunning.Inc()
		}
	case progress.TypeJobComplete:
		s.finishJob(evt, "completed", "success")
	case progress.TypeJobError:
		s.finishJob(evt, "failed", "error")
	case progress.TypeScrapeComplete, progress.TypeScrapeError:
		site := crawler.Hostname(evt.URL)
		s.pages.WithLabelValues(site, string(progress.ClassifyStatus(evt.StatusCode))).Inc()
		if evt.Bytes > 0 {
			s.pageBytes.WithLabelValues(site).Add(float64(evt.Bytes))
		}
		if evt.Dur > 0 {
			s.pageDuration.WithLabelValues(site).Observe(evt.Dur.Seconds())
		}
	case progress.TypeBatchStart:
		s.batches.WithLabelValues("started").Inc()
		s.batchURLs.Observe(float64(evt.Count))
	case progress.TypeBatchComplete:
		s.batches.WithLabelValues("completed").Inc()
	case progress.TypeProcessingStart:
		s.processing.Set(1)
	case progress.TypeProcessingStop:
		s.processing.Set(0)
	}
}

func (s *PrometheusSink) finishJob(evt progress.Event, event, outcome string) {
	s.jobEvents.WithLabelValues(event).Inc()
	if evt.Dur > 0 {
		s.jobDuration.WithLabelValues(outcome).Observe(evt.Dur.Seconds())
	}
	if s.track(evt.JobID, false) {
		s.jobsRunning.Dec()
	}
}

// track records a job as running or finished and reports whether that
// changed anything. Duplicate starts and unmatched finishes are ignored.
func (s *PrometheusSink) track(id string, running bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[id]
	switch {
	case running && !ok:
		s.running[id] = struct{}{}
		return true
	case !running && ok:
		delete(s.running, id)
		return true
	}
	return false
}

// Close is a no-op.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
