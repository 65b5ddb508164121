// Package worker implements the job processing loop run by each pool member.
package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-scraper/internal/crawler"
	"github.com/JakeFAU/realtime-scraper/internal/metrics"
	"github.com/JakeFAU/realtime-scraper/internal/queue"
)

// DefaultIdleInterval is how long a loop waits when no job is eligible.
const DefaultIdleInterval = time.Second

// Processor runs the scrape pipeline for one job.
type Processor interface {
	Process(ctx context.Context, job *crawler.Job) (*crawler.Result, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, job *crawler.Job) (*crawler.Result, error)

// Process calls f.
func (f ProcessorFunc) Process(ctx context.Context, job *crawler.Job) (*crawler.Result, error) {
	return f(ctx, job)
}

// Hooks observe job transitions. Nil hooks are skipped.
type Hooks struct {
	OnStart    func(job *crawler.Job)
	OnComplete func(job *crawler.Job, result *crawler.Result)
	OnError    func(job *crawler.Job, err error)
}

// Gate admits loops into a processing slot.
type Gate interface {
	// TryAcquire claims a slot; false means the loop should exit.
	TryAcquire() bool
	Release()
	// Done is closed when processing stops.
	Done() <-chan struct{}
}

// Config controls Worker behavior.
type Config struct {
	IdleInterval time.Duration
}

// Worker pulls eligible jobs off the queue and hands them to a Processor.
type Worker struct {
	queue     queue.Queue
	processor Processor
	hooks     Hooks
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker.
func New(q queue.Queue, processor Processor, hooks Hooks, cfg Config, logger *zap.Logger) *Worker {
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = DefaultIdleInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:     q,
		processor: processor,
		hooks:     hooks,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run loops until the gate refuses a slot or ctx ends. A loop that finds no
// eligible job gives its slot back and waits IdleInterval before trying again.
func (w *Worker) Run(ctx context.Context, gate Gate) {
	for {
		if ctx.Err() != nil || !gate.TryAcquire() {
			return
		}
		job, ok := w.queue.NextJob()
		if !ok {
			gate.Release()
			if !w.idle(ctx, gate) {
				return
			}
			continue
		}
		w.processJob(ctx, job)
		gate.Release()
	}
}

func (w *Worker) idle(ctx context.Context, gate Gate) bool {
	timer := time.NewTimer(w.cfg.IdleInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-gate.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (w *Worker) processJob(ctx context.Context, job *crawler.Job) {
	logger := w.logger.With(zap.String("job_id", job.ID), zap.String("url", job.URL))
	if err := w.queue.MarkRunning(job.ID); err != nil {
		logger.Error("mark running failed", zap.Error(err))
		return
	}
	job.Status = crawler.JobStatusRunning
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	if w.hooks.OnStart != nil {
		w.hooks.OnStart(job)
	}
	logger.Debug("job started", zap.Int("attempt", job.RetryCount+1))

	result, err := w.process(ctx, job)
	if err != nil {
		if markErr := w.queue.MarkFailed(job.ID, err.Error()); markErr != nil {
			logger.Error("mark failed failed", zap.Error(markErr))
		}
		job.Error = err.Error()
		job.RetryCount++
		status := crawler.JobStatusRetrying
		if job.RetryCount >= job.MaxRetries {
			status = crawler.JobStatusFailed
		}
		job.Status = status
		metrics.ObserveJob(string(status))
		logger.Warn("job failed", zap.String("status", string(status)), zap.Error(err))
		if w.hooks.OnError != nil {
			w.hooks.OnError(job, err)
		}
		return
	}

	if err := w.queue.MarkCompleted(job.ID, result); err != nil {
		logger.Error("mark completed failed", zap.Error(err))
		return
	}
	job.Status = crawler.JobStatusCompleted
	job.Result = result
	metrics.ObserveJob(string(crawler.JobStatusCompleted))
	logger.Debug("job completed")
	if w.hooks.OnComplete != nil {
		w.hooks.OnComplete(job, result)
	}
}

// process runs the processor and reports a panic as an error.
func (w *Worker) process(ctx context.Context, job *crawler.Job) (result *crawler.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()
	return w.processor.Process(ctx, job)
}
