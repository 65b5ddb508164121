// Package dispatcher runs a resizable pool of worker loops.
package dispatcher

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-scraper/internal/worker"
)

// Dispatcher fans queue work out to up to Concurrency worker loops.
type Dispatcher struct {
	worker *worker.Worker
	logger *zap.Logger

	mu          sync.Mutex
	concurrency int
	running     bool
	active      int
	loops       int
	generation  int
	// slots counts the slots held by loops of the current generation. Loops
	// left over from a stopped run finish their job outside this count.
	slots       int
	stop        chan struct{}
	ctx         context.Context
	wg          sync.WaitGroup
}

// New creates a Dispatcher running w with the given concurrency (min 1).
func New(w *worker.Worker, concurrency int, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		worker:      w,
		logger:      logger,
		concurrency: max(1, concurrency),
	}
}

// Start launches the worker loops. It is a no-op when already running.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	d.running = true
	d.stop = make(chan struct{})
	d.ctx = ctx
	d.spawnLocked()
	d.logger.Info("processing started", zap.Int("concurrency", d.concurrency))
}

// Stop prevents loops from taking new jobs. Jobs already in flight finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return
	}
	d.running = false
	d.loops = 0
	d.slots = 0
	d.generation++
	close(d.stop)
	d.logger.Info("processing stopped", zap.Int("in_flight", d.active))
}

// Running reports whether the pool accepts new jobs.
func (d *Dispatcher) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// SetConcurrency resizes the pool. While running, extra loops start
// immediately and surplus loops exit after their current job.
func (d *Dispatcher) SetConcurrency(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.concurrency = max(1, n)
	if d.running {
		d.spawnLocked()
	}
}

// Concurrency returns the configured pool size.
func (d *Dispatcher) Concurrency() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.concurrency
}

// Active returns the number of loops currently holding a slot, including
// loops of a stopped run that are still finishing their job.
func (d *Dispatcher) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// Wait blocks until every loop has exited.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) spawnLocked() {
	for d.loops < d.concurrency {
		d.loops++
		d.wg.Add(1)
		generation := d.generation
		g := &gate{d: d, done: d.stop, generation: generation}
		go func() {
			defer d.wg.Done()
			d.worker.Run(d.ctx, g)
			d.mu.Lock()
			if d.generation == generation {
				d.loops--
			}
			d.mu.Unlock()
		}()
	}
}

// gate binds one loop to the stop channel of the run that spawned it.
type gate struct {
	d          *Dispatcher
	done       chan struct{}
	generation int
}

func (g *gate) TryAcquire() bool {
	g.d.mu.Lock()
	defer g.d.mu.Unlock()
	select {
	case <-g.done:
		return false
	default:
	}
	if g.generation != g.d.generation || g.d.slots >= g.d.concurrency {
		return false
	}
	g.d.slots++
	g.d.active++
	return true
}

func (g *gate) Release() {
	g.d.mu.Lock()
	g.d.active--
	if g.generation == g.d.generation {
		g.d.slots--
	}
	g.d.mu.Unlock()
}

func (g *gate) Done() <-chan struct{} {
	return g.done
}
