package memory

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-scraper/internal/crawler"
	"github.com/JakeFAU/realtime-scraper/internal/queue"
)

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("job_%d", s.n), nil
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestQueue() (*Queue, *manualClock) {
	clock := &manualClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	return NewQueue(WithClock(clock.Now), WithIDGenerator(&seqIDs{})), clock
}

func TestAddJobDefaults(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue()
	id, err := q.AddJob("https://example.com", crawler.Options{}, 0)
	require.NoError(t, err)

	job, ok := q.Job(id)
	require.True(t, ok)
	require.Equal(t, crawler.JobStatusPending, job.Status)
	require.Equal(t, queue.DefaultPriority, job.Priority)
	require.Equal(t, queue.DefaultMaxRetries, job.MaxRetries)
	require.Empty(t, job.Schema)

	validated, err := q.AddJob("https://example.com/v", crawler.Options{
		Extraction: crawler.ExtractionOptions{Validation: true},
	}, 3)
	require.NoError(t, err)
	job, _ = q.Job(validated)
	require.Equal(t, crawler.AutoDetectSchema, job.Schema)
}

func TestDefaultIDsArePrefixed(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	id, err := q.AddJob("https://example.com", crawler.Options{}, 1)
	require.NoError(t, err)
	require.Regexp(t, `^job_[0-9a-f-]{36}$`, id)
}

func TestNextJobPriorityOrder(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue()
	low, _ := q.AddJob("https://example.com/low", crawler.Options{}, 1)
	firstHigh, _ := q.AddJob("https://example.com/high-1", crawler.Options{}, 9)
	mid, _ := q.AddJob("https://example.com/mid", crawler.Options{}, 5)
	secondHigh, _ := q.AddJob("https://example.com/high-2", crawler.Options{}, 9)

	var got []string
	for {
		job, ok := q.NextJob()
		if !ok {
			break
		}
		got = append(got, job.ID)
	}
	require.Equal(t, []string{firstHigh, secondHigh, mid, low}, got)
}

func TestRetryThenFail(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue()
	id, err := q.AddJobWith(queue.JobSpec{URL: "https://example.com", Priority: 2, MaxRetries: 3})
	require.NoError(t, err)

	var statuses []crawler.JobStatus
	for range 3 {
		job, ok := q.NextJob()
		require.True(t, ok)
		require.Equal(t, id, job.ID)
		require.NoError(t, q.MarkRunning(id))
		require.NoError(t, q.MarkFailed(id, "boom"))
		snap, _ := q.Job(id)
		statuses = append(statuses, snap.Status)
	}

	require.Equal(t, []crawler.JobStatus{
		crawler.JobStatusRetrying,
		crawler.JobStatusRetrying,
		crawler.JobStatusFailed,
	}, statuses)

	job, _ := q.Job(id)
	require.Equal(t, 3, job.RetryCount)
	require.Equal(t, 1, job.Priority)
	require.Equal(t, "boom", job.Error)
	require.NotNil(t, job.CompletedAt)

	_, ok := q.NextJob()
	require.False(t, ok)
	require.Len(t, q.Failed(), 1)
	progress := q.Progress()
	require.Equal(t, 1, progress.FailedJobs)
	require.Zero(t, progress.PendingJobs)
	require.Zero(t, progress.RunningJobs)
}

func TestRetryLowersPriorityBehindPeers(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue()
	flaky, _ := q.AddJob("https://example.com/flaky", crawler.Options{}, 5)
	steady, _ := q.AddJob("https://example.com/steady", crawler.Options{}, 4)

	job, ok := q.NextJob()
	require.True(t, ok)
	require.Equal(t, flaky, job.ID)
	require.NoError(t, q.MarkRunning(flaky))
	require.NoError(t, q.MarkFailed(flaky, "timeout"))

	job, ok = q.NextJob()
	require.True(t, ok)
	require.Equal(t, steady, job.ID)
	job, ok = q.NextJob()
	require.True(t, ok)
	require.Equal(t, flaky, job.ID)
	require.Equal(t, 1, job.RetryCount)
	require.Equal(t, 4, job.Priority)
}

func TestDependencyGating(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue()
	child, err := q.AddJobWith(queue.JobSpec{
		URL:          "https://example.com/detail",
		Priority:     9,
		Dependencies: []string{"https://example.com/index"},
	})
	require.NoError(t, err)

	_, ok := q.NextJob()
	require.False(t, ok, "dependency not yet submitted")

	parent, err := q.AddJob("https://example.com/index", crawler.Options{}, 1)
	require.NoError(t, err)

	job, ok := q.NextJob()
	require.True(t, ok)
	require.Equal(t, parent, job.ID)

	_, ok = q.NextJob()
	require.False(t, ok, "dependency running")

	require.NoError(t, q.MarkCompleted(parent, &crawler.Result{URL: "https://example.com/index"}))
	job, ok = q.NextJob()
	require.True(t, ok)
	require.Equal(t, child, job.ID)
}

func TestNextJobStartsJob(t *testing.T) {
	t.Parallel()

	q, clock := newTestQueue()
	id, err := q.AddJob("https://example.com", crawler.Options{}, 5)
	require.NoError(t, err)

	job, ok := q.NextJob()
	require.True(t, ok)
	require.Equal(t, crawler.JobStatusRunning, job.Status)
	require.NotNil(t, job.StartedAt)
	started := *job.StartedAt

	progress := q.Progress()
	require.Zero(t, progress.PendingJobs)
	require.Equal(t, 1, progress.RunningJobs)

	clock.Advance(time.Second)
	require.NoError(t, q.MarkRunning(id))
	snap, _ := q.Job(id)
	require.Equal(t, started, *snap.StartedAt)
	require.Equal(t, 1, q.Progress().RunningJobs)

	require.NoError(t, q.MarkCompleted(id, &crawler.Result{}))
	progress = q.Progress()
	require.Zero(t, progress.RunningJobs)
	require.Equal(t, 1, progress.CompletedJobs)
}

func TestProgressEstimates(t *testing.T) {
	t.Parallel()

	q, clock := newTestQueue()
	ids, err := q.AddBatchJobs([]string{"https://a.test", "https://b.test", "https://c.test"}, crawler.Options{}, 5)
	require.NoError(t, err)
	require.Len(t, ids, 3)

	job, _ := q.NextJob()
	require.NoError(t, q.MarkRunning(job.ID))
	clock.Advance(2 * time.Second)
	require.NoError(t, q.MarkCompleted(job.ID, &crawler.Result{}))

	job, _ = q.NextJob()
	require.NoError(t, q.MarkRunning(job.ID))
	require.NoError(t, q.UpdateProgress(job.ID, 40))

	progress := q.Progress()
	require.Equal(t, 3, progress.TotalJobs)
	require.Equal(t, 1, progress.CompletedJobs)
	require.Equal(t, 1, progress.RunningJobs)
	require.Equal(t, 1, progress.PendingJobs)
	require.Equal(t, 2*time.Second, progress.AverageJobDuration)
	require.NotNil(t, progress.EstimatedCompletion)
	require.Equal(t, clock.Now().Add(4*time.Second), *progress.EstimatedCompletion)
	require.NotNil(t, progress.CurrentJob)
	require.Equal(t, job.ID, progress.CurrentJob.ID)
	require.Equal(t, 40, progress.CurrentJob.Progress)

	completed := q.Completed()
	require.Len(t, completed, 1)
	require.Equal(t, 100, completed[0].Progress)
}

func TestUnknownJobErrors(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue()
	require.ErrorIs(t, q.MarkRunning("missing"), queue.ErrJobNotFound)
	require.ErrorIs(t, q.MarkCompleted("missing", nil), queue.ErrJobNotFound)
	require.ErrorIs(t, q.MarkFailed("missing", "x"), queue.ErrJobNotFound)
	require.ErrorIs(t, q.UpdateProgress("missing", 1), queue.ErrJobNotFound)
	_, ok := q.Job("missing")
	require.False(t, ok)
}

func TestJobReturnsCopy(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue()
	id, _ := q.AddJob("https://example.com", crawler.Options{}, 5)
	job, _ := q.Job(id)
	job.Status = crawler.JobStatusFailed

	again, _ := q.Job(id)
	require.Equal(t, crawler.JobStatusPending, again.Status)
}

func TestClear(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue()
	_, _ = q.AddBatchJobs([]string{"https://a.test", "https://b.test"}, crawler.Options{}, 5)
	q.Clear()
	require.Equal(t, crawler.Progress{}, q.Progress())
	_, ok := q.NextJob()
	require.False(t, ok)
}

func TestConcurrentAccess(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := q.AddJob(fmt.Sprintf("https://example.com/%d", i), crawler.Options{}, i%3+1)
			require.NoError(t, err)
			_ = q.MarkRunning(id)
			_ = q.MarkCompleted(id, &crawler.Result{})
		}(i)
	}
	wg.Wait()
	require.Equal(t, 8, q.Progress().CompletedJobs)
}
