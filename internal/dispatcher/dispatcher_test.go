package dispatcher

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-scraper/internal/crawler"
	"github.com/JakeFAU/realtime-scraper/internal/queue/memory"
	"github.com/JakeFAU/realtime-scraper/internal/worker"
)

type peakProcessor struct {
	current atomic.Int32
	peak    atomic.Int32
	release chan struct{}
}

func (p *peakProcessor) Process(ctx context.Context, job *crawler.Job) (*crawler.Result, error) {
	n := p.current.Add(1)
	defer p.current.Add(-1)
	for {
		old := p.peak.Load()
		if n <= old || p.peak.CompareAndSwap(old, n) {
			break
		}
	}
	select {
	case <-p.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &crawler.Result{URL: job.URL}, nil
}

func fill(t *testing.T, q *memory.Queue, n int) {
	t.Helper()
	for i := range n {
		_, err := q.AddJob(fmt.Sprintf("https://example.com/%d", i), crawler.Options{}, 5)
		require.NoError(t, err)
	}
}

func TestDispatcherRespectsConcurrency(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue()
	fill(t, q, 6)
	proc := &peakProcessor{release: make(chan struct{})}
	w := worker.New(q, proc, worker.Hooks{}, worker.Config{IdleInterval: 5 * time.Millisecond}, zap.NewNop())
	d := New(w, 2, zap.NewNop())

	d.Start(context.Background())
	require.True(t, d.Running())
	require.Eventually(t, func() bool { return d.Active() == 2 }, time.Second, 5*time.Millisecond)
	close(proc.release)

	require.Eventually(t, func() bool { return q.Progress().CompletedJobs == 6 }, 2*time.Second, 5*time.Millisecond)
	d.Stop()
	d.Wait()

	require.False(t, d.Running())
	require.LessOrEqual(t, proc.peak.Load(), int32(2))
	require.Zero(t, d.Active())
}

func TestDispatcherSetConcurrencyWhileRunning(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue()
	fill(t, q, 4)
	proc := &peakProcessor{release: make(chan struct{})}
	w := worker.New(q, proc, worker.Hooks{}, worker.Config{IdleInterval: 5 * time.Millisecond}, nil)
	d := New(w, 1, nil)

	d.Start(context.Background())
	require.Eventually(t, func() bool { return d.Active() == 1 }, time.Second, 5*time.Millisecond)

	d.SetConcurrency(3)
	require.Equal(t, 3, d.Concurrency())
	require.Eventually(t, func() bool { return d.Active() == 3 }, time.Second, 5*time.Millisecond)

	close(proc.release)
	require.Eventually(t, func() bool { return q.Progress().CompletedJobs == 4 }, 2*time.Second, 5*time.Millisecond)
	d.Stop()
	d.Wait()
	require.Equal(t, int32(3), proc.peak.Load())
}

func TestDispatcherSetConcurrencyFloor(t *testing.T) {
	t.Parallel()

	d := New(nil, 0, nil)
	require.Equal(t, 1, d.Concurrency())
	d.SetConcurrency(-4)
	require.Equal(t, 1, d.Concurrency())
}

func TestDispatcherStopLetsInFlightFinish(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue()
	fill(t, q, 3)
	proc := &peakProcessor{release: make(chan struct{})}
	w := worker.New(q, proc, worker.Hooks{}, worker.Config{IdleInterval: 5 * time.Millisecond}, nil)
	d := New(w, 1, nil)

	d.Start(context.Background())
	require.Eventually(t, func() bool { return d.Active() == 1 }, time.Second, 5*time.Millisecond)
	d.Stop()
	close(proc.release)
	d.Wait()

	progress := q.Progress()
	require.Equal(t, 1, progress.CompletedJobs)
	require.Equal(t, 2, progress.PendingJobs)
	require.Zero(t, progress.RunningJobs)
}

func TestDispatcherRestartWhileJobInFlight(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue()
	fill(t, q, 1)
	proc := &peakProcessor{release: make(chan struct{})}
	w := worker.New(q, proc, worker.Hooks{}, worker.Config{IdleInterval: 5 * time.Millisecond}, nil)
	d := New(w, 1, nil)

	d.Start(context.Background())
	require.Eventually(t, func() bool { return d.Active() == 1 }, time.Second, 5*time.Millisecond)
	d.Stop()
	d.Start(context.Background())
	require.True(t, d.Running())

	_, err := q.AddJob("https://example.com/next", crawler.Options{}, 5)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return q.Progress().RunningJobs == 2 }, time.Second, 5*time.Millisecond)
	require.Equal(t, 2, d.Active())

	close(proc.release)
	require.Eventually(t, func() bool { return q.Progress().CompletedJobs == 2 }, 2*time.Second, 5*time.Millisecond)

	_, err = q.AddJob("https://example.com/after", crawler.Options{}, 5)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return q.Progress().CompletedJobs == 3 }, 2*time.Second, 5*time.Millisecond)

	d.Stop()
	d.Wait()
	require.Zero(t, d.Active())
}
