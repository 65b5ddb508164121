// Package memory provides the in-process job queue.
package memory

import (
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/realtime-scraper/internal/crawler"
	"github.com/JakeFAU/realtime-scraper/internal/id/uuid"
	"github.com/JakeFAU/realtime-scraper/internal/queue"
)

// Option customizes a Queue.
type Option func(*Queue)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithIDGenerator replaces the job ID source.
func WithIDGenerator(ids crawler.IDGenerator) Option {
	return func(q *Queue) { q.ids = ids }
}

// Queue is a priority-ordered, dependency-aware job queue guarded by a mutex.
type Queue struct {
	mu        sync.Mutex
	jobs      map[string]*crawler.Job
	order     []string
	pending   []*crawler.Job
	running   []string
	completed []string
	failed    []string

	now func() time.Time
	ids crawler.IDGenerator
}

var _ queue.Queue = (*Queue)(nil)

// NewQueue constructs an empty queue.
func NewQueue(opts ...Option) *Queue {
	q := &Queue{
		jobs: make(map[string]*crawler.Job),
		now:  time.Now,
		ids:  uuid.NewPrefixed("job"),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// AddJob enqueues url with the default retry budget and returns its ID.
func (q *Queue) AddJob(url string, opts crawler.Options, priority int) (string, error) {
	return q.AddJobWith(queue.JobSpec{URL: url, Options: opts, Priority: priority})
}

// AddBatchJobs enqueues every URL with the same options and priority.
func (q *Queue) AddBatchJobs(urls []string, opts crawler.Options, priority int) ([]string, error) {
	ids := make([]string, 0, len(urls))
	for _, url := range urls {
		id, err := q.AddJob(url, opts, priority)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// AddJobWith enqueues a fully described job.
func (q *Queue) AddJobWith(spec queue.JobSpec) (string, error) {
	id, err := q.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("job id: %w", err)
	}
	priority := spec.Priority
	if priority <= 0 {
		priority = queue.DefaultPriority
	}
	maxRetries := spec.MaxRetries
	if maxRetries <= 0 {
		maxRetries = queue.DefaultMaxRetries
	}
	schema := spec.Schema
	if schema == "" {
		schema = spec.Options.Schema
	}
	if schema == "" && spec.Options.Extraction.Validation {
		schema = crawler.AutoDetectSchema
	}
	job := &crawler.Job{
		ID:           id,
		URL:          spec.URL,
		Schema:       schema,
		Options:      spec.Options,
		Status:       crawler.JobStatusPending,
		Priority:     priority,
		CreatedAt:    q.now(),
		MaxRetries:   maxRetries,
		Dependencies: append([]string(nil), spec.Dependencies...),
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs[id] = job
	q.order = append(q.order, id)
	q.insertByPriority(job)
	return id, nil
}

// NextJob takes the first pending job whose dependencies are all completed
// and moves it to running. A dequeued job is never outside both lists.
func (q *Queue) NextJob() (*crawler.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, job := range q.pending {
		if !q.dependenciesCompleted(job) {
			continue
		}
		q.pending = append(q.pending[:i], q.pending[i+1:]...)
		q.startLocked(job)
		return cloneJob(job), true
	}
	return nil, false
}

// MarkRunning flags a job as in flight. It is a no-op for a job NextJob
// already started.
func (q *Queue) MarkRunning(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return fmt.Errorf("mark running %s: %w", id, queue.ErrJobNotFound)
	}
	if job.Status == crawler.JobStatusRunning {
		return nil
	}
	q.removePending(id)
	q.startLocked(job)
	return nil
}

func (q *Queue) startLocked(job *crawler.Job) {
	started := q.now()
	job.Status = crawler.JobStatusRunning
	job.StartedAt = &started
	q.running = append(q.running, job.ID)
}

// MarkCompleted records a job's result.
func (q *Queue) MarkCompleted(id string, result *crawler.Result) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return fmt.Errorf("mark completed %s: %w", id, queue.ErrJobNotFound)
	}
	finished := q.now()
	job.Status = crawler.JobStatusCompleted
	job.CompletedAt = &finished
	job.Result = result
	job.Progress = 100
	q.removeRunning(id)
	q.completed = append(q.completed, id)
	return nil
}

// MarkFailed records a failed attempt. Jobs with retries left go back to the
// pending list one priority step lower; the rest fail terminally.
func (q *Queue) MarkFailed(id string, errText string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return fmt.Errorf("mark failed %s: %w", id, queue.ErrJobNotFound)
	}
	job.Error = errText
	job.RetryCount++
	q.removeRunning(id)
	if job.RetryCount < job.MaxRetries {
		job.Status = crawler.JobStatusRetrying
		job.Priority = max(1, job.Priority-1)
		q.insertByPriority(job)
		return nil
	}
	finished := q.now()
	job.Status = crawler.JobStatusFailed
	job.CompletedAt = &finished
	q.failed = append(q.failed, id)
	return nil
}

// UpdateProgress sets a job's percent-complete marker.
func (q *Queue) UpdateProgress(id string, progress int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return fmt.Errorf("update progress %s: %w", id, queue.ErrJobNotFound)
	}
	job.Progress = min(max(progress, 0), 100)
	return nil
}

// Job returns a snapshot of the job with the given ID.
func (q *Queue) Job(id string) (*crawler.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return nil, false
	}
	return cloneJob(job), true
}

// Progress summarizes the queue. The estimated completion multiplies the
// mean completed-job duration by the number of jobs still outstanding.
func (q *Queue) Progress() crawler.Progress {
	q.mu.Lock()
	defer q.mu.Unlock()

	progress := crawler.Progress{
		TotalJobs:     len(q.jobs),
		CompletedJobs: len(q.completed),
		FailedJobs:    len(q.failed),
		RunningJobs:   len(q.running),
		PendingJobs:   len(q.pending),
	}

	var (
		total   time.Duration
		counted int
	)
	for _, id := range q.completed {
		job := q.jobs[id]
		if job.StartedAt == nil || job.CompletedAt == nil {
			continue
		}
		total += job.CompletedAt.Sub(*job.StartedAt)
		counted++
	}
	if counted > 0 {
		progress.AverageJobDuration = total / time.Duration(counted)
	}
	remaining := progress.PendingJobs + progress.RunningJobs
	if progress.AverageJobDuration > 0 && remaining > 0 {
		eta := q.now().Add(progress.AverageJobDuration * time.Duration(remaining))
		progress.EstimatedCompletion = &eta
	}
	if len(q.running) > 0 {
		progress.CurrentJob = cloneJob(q.jobs[q.running[0]])
	}
	return progress
}

// Completed returns snapshots of completed jobs in completion order.
func (q *Queue) Completed() []*crawler.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshot(q.completed)
}

// Failed returns snapshots of terminally failed jobs in failure order.
func (q *Queue) Failed() []*crawler.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshot(q.failed)
}

// Jobs returns snapshots of every job in submission order.
func (q *Queue) Jobs() []*crawler.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshot(q.order)
}

// Clear drops every job.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = make(map[string]*crawler.Job)
	q.order = nil
	q.pending = nil
	q.running = nil
	q.completed = nil
	q.failed = nil
}

// insertByPriority places job after every pending entry of greater or equal
// priority.
func (q *Queue) insertByPriority(job *crawler.Job) {
	idx := 0
	for idx < len(q.pending) && q.pending[idx].Priority >= job.Priority {
		idx++
	}
	q.pending = append(q.pending, nil)
	copy(q.pending[idx+1:], q.pending[idx:])
	q.pending[idx] = job
}

// dependenciesCompleted reports whether every dependency URL belongs to a
// completed job. The first job submitted for a URL stands for that URL.
func (q *Queue) dependenciesCompleted(job *crawler.Job) bool {
	for _, dep := range job.Dependencies {
		found := false
		for _, id := range q.order {
			candidate := q.jobs[id]
			if candidate.URL != dep {
				continue
			}
			if candidate.Status != crawler.JobStatusCompleted {
				return false
			}
			found = true
			break
		}
		if !found {
			return false
		}
	}
	return true
}

func (q *Queue) removePending(id string) {
	for i, job := range q.pending {
		if job.ID == id {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return
		}
	}
}

func (q *Queue) removeRunning(id string) {
	for i, runningID := range q.running {
		if runningID == id {
			q.running = append(q.running[:i], q.running[i+1:]...)
			return
		}
	}
}

func (q *Queue) snapshot(ids []string) []*crawler.Job {
	out := make([]*crawler.Job, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneJob(q.jobs[id]))
	}
	return out
}

func cloneJob(job *crawler.Job) *crawler.Job {
	if job == nil {
		return nil
	}
	cp := *job
	cp.Dependencies = append([]string(nil), job.Dependencies...)
	if job.StartedAt != nil {
		started := *job.StartedAt
		cp.StartedAt = &started
	}
	if job.CompletedAt != nil {
		finished := *job.CompletedAt
		cp.CompletedAt = &finished
	}
	return &cp
}
