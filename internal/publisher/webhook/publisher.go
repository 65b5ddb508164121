// Package webhook delivers exported record batches to an HTTP endpoint.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-scraper/internal/crawler"
	"github.com/JakeFAU/realtime-scraper/internal/export"
)

const headerOptionPrefix = "header."

// Config configures the webhook sink.
type Config struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Publisher POSTs record batches as JSON and implements export.Sink.
type Publisher struct {
	url    string
	client *http.Client
	retry  *crawler.RetryPolicy
	logger *zap.Logger
}

// New builds a Publisher. A nil retry policy sends each batch once.
func New(cfg Config, retry *crawler.RetryPolicy, logger *zap.Logger) *Publisher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if retry == nil {
		retry = &crawler.RetryPolicy{MaxAttempts: 1}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		url:    cfg.URL,
		client: &http.Client{Timeout: timeout},
		retry:  retry,
		logger: logger,
	}
}

// Export sends {"records": [...], "count": n} to cfg.Destination (or the
// configured URL). Options prefixed "header." become request headers and
// Options["method"] overrides POST. Responses >= 400 fail the export; 5xx
// responses are retried.
func (p *Publisher) Export(ctx context.Context, records []map[string]any, cfg export.Config) (export.Result, error) {
	target := cfg.Destination
	if target == "" {
		target = p.url
	}
	if target == "" {
		return export.Result{}, errors.New("webhook url is required")
	}
	if records == nil {
		records = []map[string]any{}
	}
	body, err := json.Marshal(map[string]any{"records": records, "count": len(records)})
	if err != nil {
		return export.Result{}, fmt.Errorf("marshal webhook payload: %w", err)
	}
	method := strings.ToUpper(cfg.Option("method", http.MethodPost))

	err = p.retry.Do(ctx, func(ctx context.Context, attempt int) error {
		if attempt > 0 {
			p.logger.Debug("retrying webhook", zap.String("url", target), zap.Int("attempt", attempt))
		}
		return p.send(ctx, method, target, body, cfg.Options)
	})
	if err != nil {
		return export.Result{Destination: target}, err
	}
	return export.Result{Success: true, Destination: target, RecordCount: len(records)}, nil
}

func (p *Publisher) send(ctx context.Context, method, target string, body []byte, options map[string]string) error {
	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range options {
		if name, ok := strings.CutPrefix(key, headerOptionPrefix); ok && name != "" {
			req.Header.Set(name, value)
		}
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= http.StatusBadRequest {
		return &crawler.StatusError{URL: target, Code: resp.StatusCode}
	}
	return nil
}
