package scraper

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-scraper/internal/crawler"
	"github.com/JakeFAU/realtime-scraper/internal/progress"
	"github.com/JakeFAU/realtime-scraper/internal/queue"
)

// AddJob queues rawURL and starts processing when it is not running. A
// priority <= 0 uses the configured default.
func (s *Scraper) AddJob(rawURL string, opts crawler.Options, priority int) (string, error) {
	return s.AddJobWith(queue.JobSpec{URL: rawURL, Options: opts, Priority: priority})
}

// AddJobWith queues a job with dependencies or a retry budget and starts
// processing when it is not running.
func (s *Scraper) AddJobWith(spec queue.JobSpec) (string, error) {
	if spec.Priority <= 0 {
		spec.Priority = s.cfg.DefaultPriority
	}
	if spec.MaxRetries <= 0 {
		spec.MaxRetries = s.cfg.MaxRetries
	}
	id, err := s.queue.AddJobWith(spec)
	if err != nil {
		return "", err
	}
	s.emitJobAdded(id)
	s.StartProcessing()
	return id, nil
}

// Job returns a snapshot of the job with the given ID.
func (s *Scraper) Job(id string) (*crawler.Job, bool) {
	return s.queue.Job(id)
}

// Jobs returns snapshots of every job in submission order.
func (s *Scraper) Jobs() []*crawler.Job {
	return s.queue.Jobs()
}

// Progress summarizes the queue.
func (s *Scraper) Progress() crawler.Progress {
	return s.queue.Progress()
}

// SetConcurrency resizes the worker pool (minimum 1).
func (s *Scraper) SetConcurrency(n int) {
	s.pool.SetConcurrency(n)
}

// Concurrency reports the worker pool size.
func (s *Scraper) Concurrency() int {
	return s.pool.Concurrency()
}

// StartProcessing launches the worker pool. It is a no-op when running.
func (s *Scraper) StartProcessing() {
	s.procMu.Lock()
	defer s.procMu.Unlock()
	if s.pool.Running() {
		return
	}
	s.emit(progress.Event{Type: progress.TypeProcessingStart, Count: s.pool.Concurrency()})
	s.pool.Start(s.runCtx)
}

// StopProcessing stops workers from taking new jobs. In-flight jobs finish.
func (s *Scraper) StopProcessing() {
	s.procMu.Lock()
	defer s.procMu.Unlock()
	if !s.pool.Running() {
		return
	}
	s.pool.Stop()
	s.emit(progress.Event{Type: progress.TypeProcessingStop})
}

// Processing reports whether the worker pool is running.
func (s *Scraper) Processing() bool {
	return s.pool.Running()
}

// ScrapeBatch queues every URL, processes the queue until nothing is pending
// or running, and returns the successful results in submission order.
// Failed jobs are left out. When ctx ends first the results gathered so far
// are returned with ctx's error.
func (s *Scraper) ScrapeBatch(ctx context.Context, urls []string, opts crawler.Options) ([]*crawler.Result, error) {
	ctx, span := s.tracer.Start(ctx, "scraper.ScrapeBatch")
	defer span.End()
	span.SetAttributes(attribute.Int("scraper.batch_size", len(urls)))

	start := s.now()
	s.emit(progress.Event{Type: progress.TypeBatchStart, Count: len(urls)})

	ids := make([]string, 0, len(urls))
	for _, rawURL := range urls {
		id, err := s.queue.AddJobWith(queue.JobSpec{
			URL:        rawURL,
			Options:    opts,
			Priority:   s.cfg.DefaultPriority,
			MaxRetries: s.cfg.MaxRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("queue batch: %w", err)
		}
		s.emitJobAdded(id)
		ids = append(ids, id)
	}
	s.StartProcessing()

	waitErr := s.waitIdle(ctx)
	s.StopProcessing()
	if waitErr == nil {
		// Hooks run after the queue settles; let them finish.
		s.pool.Wait()
	}

	results := make([]*crawler.Result, 0, len(ids))
	for _, id := range ids {
		job, ok := s.queue.Job(id)
		if ok && job.Status == crawler.JobStatusCompleted && job.Result != nil {
			results = append(results, job.Result)
		}
	}
	span.SetAttributes(attribute.Int("scraper.batch_succeeded", len(results)))
	s.emit(progress.Event{Type: progress.TypeBatchComplete, Count: len(results), Dur: s.now().Sub(start)})
	return results, waitErr
}

func (s *Scraper) waitIdle(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		p := s.queue.Progress()
		if p.PendingJobs == 0 && p.RunningJobs == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for batch: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// processJob is the worker pool's processor.
func (s *Scraper) processJob(ctx context.Context, job *crawler.Job) (*crawler.Result, error) {
	opts := job.Options
	if job.Schema != "" {
		opts.Schema = job.Schema
	}
	return s.Scrape(ctx, job.URL, opts)
}

func (s *Scraper) onJobStart(job *crawler.Job) {
	s.emit(progress.Event{Type: progress.TypeJobStart, JobID: job.ID, URL: job.URL, Job: s.snapshot(job)})
}

func (s *Scraper) onJobComplete(job *crawler.Job, result *crawler.Result) {
	snap := s.snapshot(job)
	s.emit(progress.Event{
		Type:   progress.TypeJobComplete,
		JobID:  job.ID,
		URL:    job.URL,
		Job:    snap,
		Result: result,
		Dur:    s.jobDuration(snap),
	})
}

func (s *Scraper) onJobError(job *crawler.Job, err error) {
	snap := s.snapshot(job)
	s.logger.Debug("job error",
		zap.String("job_id", job.ID),
		zap.String("status", string(snap.Status)),
		zap.Error(err))
	s.emit(progress.Event{
		Type:  progress.TypeJobError,
		JobID: job.ID,
		URL:   job.URL,
		Job:   snap,
		Err:   err.Error(),
		Dur:   s.jobDuration(snap),
	})
}

func (s *Scraper) emitJobAdded(id string) {
	job, ok := s.queue.Job(id)
	if !ok {
		return
	}
	s.emit(progress.Event{Type: progress.TypeJobAdded, JobID: id, URL: job.URL, Job: job})
}

// snapshot prefers the queue's copy, which carries timestamps, over the
// worker's local one.
func (s *Scraper) snapshot(job *crawler.Job) *crawler.Job {
	if snap, ok := s.queue.Job(job.ID); ok {
		return snap
	}
	cp := *job
	return &cp
}

// jobDuration measures a job from StartedAt to CompletedAt, or to now while
// it is still unfinished.
func (s *Scraper) jobDuration(job *crawler.Job) time.Duration {
	if job == nil || job.StartedAt == nil {
		return 0
	}
	end := s.now()
	if job.CompletedAt != nil {
		end = *job.CompletedAt
	}
	if d := end.Sub(*job.StartedAt); d > 0 {
		return d
	}
	return 0
}
