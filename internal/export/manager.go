package export

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/realtime-scraper/internal/metrics"
)

const defaultParallelism = 4

// Manager routes export configs to registered sinks by format.
type Manager struct {
	mu          sync.RWMutex
	sinks       map[string]Sink
	parallelism int
	logger      *zap.Logger
}

// NewManager returns an empty Manager. parallelism bounds concurrent sink
// calls; values <= 0 use a default of 4.
func NewManager(parallelism int, logger *zap.Logger) *Manager {
	if parallelism <= 0 {
		parallelism = defaultParallelism
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		sinks:       make(map[string]Sink),
		parallelism: parallelism,
		logger:      logger,
	}
}

// Register binds format to sink, replacing any earlier binding.
func (m *Manager) Register(format string, sink Sink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinks[strings.ToLower(format)] = sink
}

// Formats lists the registered formats.
func (m *Manager) Formats() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.sinks))
	for format := range m.sinks {
		out = append(out, format)
	}
	return out
}

// Export runs every config concurrently and returns one Result per config
// in input order. Sink failures are reported in the Result, never returned.
func (m *Manager) Export(ctx context.Context, records []map[string]any, cfgs []Config) []Result {
	results := make([]Result, len(cfgs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.parallelism)
	for i, cfg := range cfgs {
		g.Go(func() error {
			results[i] = m.exportOne(gctx, records, cfg)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (m *Manager) exportOne(ctx context.Context, records []map[string]any, cfg Config) (result Result) {
	format := strings.ToLower(cfg.Format)
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			result = Result{Errors: []string{fmt.Sprintf("sink panic: %v", r)}}
		}
		result.Format = format
		if result.Duration == 0 {
			result.Duration = time.Since(start)
		}
		if result.RecordCount == 0 && result.Success {
			result.RecordCount = len(records)
		}
		metrics.ObserveExport(format, result.Success)
		if !result.Success {
			m.logger.Warn("export failed",
				zap.String("format", format),
				zap.String("destination", cfg.Destination),
				zap.Strings("errors", result.Errors))
		}
	}()

	m.mu.RLock()
	sink, ok := m.sinks[format]
	m.mu.RUnlock()
	if !ok {
		return Result{Destination: cfg.Destination, Errors: []string{fmt.Sprintf("no sink registered for format %q", cfg.Format)}}
	}
	res, err := sink.Export(ctx, records, cfg)
	if err != nil {
		res.Success = false
		res.Errors = append(res.Errors, err.Error())
		if res.Destination == "" {
			res.Destination = cfg.Destination
		}
	}
	return res
}
