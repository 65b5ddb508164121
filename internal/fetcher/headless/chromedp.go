// Package headless renders pages in a browser so that script-built markup is
// visible to the parser.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-scraper/internal/crawler"
)

const (
	defaultNavigationTimeout = 45 * time.Second
	defaultViewportWidth     = 1920
	defaultViewportHeight    = 1080
	settleDelay              = 500 * time.Millisecond
)

// Config controls the behavior of the renderer.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	Logger            *zap.Logger
}

// Renderer implements crawler.Renderer using chromedp and headless Chrome.
type Renderer struct {
	cfg         Config
	slots       chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// NewChromedp creates a renderer backed by chromedp. The browser process is
// started lazily on the first render.
func NewChromedp(cfg Config) (*Renderer, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	var slots chan struct{}
	if cfg.MaxParallel > 0 {
		slots = make(chan struct{}, cfg.MaxParallel)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Renderer{
		cfg:         cfg,
		slots:       slots,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}, nil
}

// Close shuts the browser down.
func (r *Renderer) Close() {
	r.allocCancel()
}

// Render loads request.URL in a fresh tab and returns the rendered DOM.
func (r *Renderer) Render(ctx context.Context, request crawler.RenderRequest) (crawler.FetchResult, error) {
	if err := r.acquire(ctx); err != nil {
		return crawler.FetchResult{}, err
	}
	defer r.release()

	tabCtx, tabCancel := chromedp.NewContext(r.allocator)
	defer tabCancel()
	stop := context.AfterFunc(ctx, tabCancel)
	defer stop()

	tabCtx, cancel := context.WithTimeout(tabCtx, r.timeout(request))
	defer cancel()

	meta := newResponseMeta()
	chromedp.ListenTarget(tabCtx, meta.captureEvent)

	start := time.Now()
	page, err := r.run(tabCtx, request)
	if err != nil {
		if ctx.Err() != nil {
			return crawler.FetchResult{}, fmt.Errorf("render %s: %w", request.URL, ctx.Err())
		}
		return crawler.FetchResult{}, fmt.Errorf("render %s: %w", request.URL, err)
	}
	end := time.Now()

	status, headers, responseURL := meta.snapshotWithFallbacks(request.URL, page.finalURL)
	result := crawler.FetchResult{
		URL:        request.URL,
		FinalURL:   responseURL,
		StatusCode: status,
		Status:     fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Headers:    headers,
		Body:       []byte(page.html),
		Timing:     crawler.Timing{Start: start, End: end, Duration: end.Sub(start)},
		Cookies:    map[string]string{},
		Rendered:   true,
	}
	if request.Screenshot {
		path, err := writeScreenshot(request, page.screenshot)
		if err != nil {
			return crawler.FetchResult{}, err
		}
		result.Screenshot = path
	}
	r.logger.Debug("rendered page",
		zap.String("url", request.URL),
		zap.Int("status", status),
		zap.Duration("duration", result.Timing.Duration))
	return result, nil
}

type renderedPage struct {
	html       string
	finalURL   string
	screenshot []byte
}

func (r *Renderer) run(ctx context.Context, request crawler.RenderRequest) (renderedPage, error) {
	var page renderedPage
	width, height := int64(request.Viewport.Width), int64(request.Viewport.Height)
	if width <= 0 || height <= 0 {
		width, height = defaultViewportWidth, defaultViewportHeight
	}

	actions := []chromedp.Action{
		r.networkSetupAction(request),
		chromedp.EmulateViewport(width, height),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if request.WaitForSelector != "" {
		actions = append(actions, chromedp.WaitVisible(request.WaitForSelector, chromedp.ByQuery))
	}
	for _, script := range request.ExecuteJS {
		var discard any
		actions = append(actions, chromedp.Evaluate(script, &discard))
	}
	wait := request.WaitTime
	if wait <= 0 {
		wait = settleDelay
	}
	actions = append(actions,
		chromedp.Sleep(wait),
		chromedp.Location(&page.finalURL),
		chromedp.OuterHTML("html", &page.html, chromedp.ByQuery),
	)
	if request.Screenshot {
		actions = append(actions, chromedp.FullScreenshot(&page.screenshot, 90))
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return renderedPage{}, fmt.Errorf("chromedp run: %w", err)
	}
	return page, nil
}

func (r *Renderer) networkSetupAction(request crawler.RenderRequest) chromedp.Action {
	userAgent := request.UserAgent
	if userAgent == "" {
		userAgent = r.cfg.UserAgent
	}
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if userAgent != "" {
			if err := emulation.SetUserAgentOverride(userAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(request.Headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(request.Headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (r *Renderer) timeout(request crawler.RenderRequest) time.Duration {
	if request.Timeout > 0 {
		return request.Timeout
	}
	if r.cfg.NavigationTimeout > 0 {
		return r.cfg.NavigationTimeout
	}
	return defaultNavigationTimeout
}

func (r *Renderer) acquire(ctx context.Context) error {
	if r.slots == nil {
		return nil
	}
	select {
	case r.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (r *Renderer) release() {
	if r.slots == nil {
		return
	}
	select {
	case <-r.slots:
	default:
	}
}

// writeScreenshot stores png at request.ScreenshotPath, or in a temp file
// when no path was given.
func writeScreenshot(request crawler.RenderRequest, png []byte) (string, error) {
	if len(png) == 0 {
		return "", errors.New("screenshot requested but browser returned no image")
	}
	path := request.ScreenshotPath
	if path == "" {
		f, err := os.CreateTemp("", "scrape-*.png")
		if err != nil {
			return "", fmt.Errorf("create screenshot file: %w", err)
		}
		path = f.Name()
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("close screenshot file: %w", err)
		}
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create screenshot dir: %w", err)
		}
	}
	if err := os.WriteFile(path, png, 0o600); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}
	return path, nil
}

type responseMeta struct {
	mu      sync.RWMutex
	status  int
	headers http.Header
	url     string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{headers: http.Header{}}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range event.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	m.status = int(event.Response.Status)
	m.headers = headers
	m.url = event.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

// snapshotWithFallbacks reports the last document response, falling back to
// the browser location and a 200 status when no response event was seen.
func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, http.Header, string) {
	m.mu.RLock()
	status, headers, url := m.status, m.headers.Clone(), m.url
	m.mu.RUnlock()

	switch {
	case finalURL != "":
		url = finalURL
	case url != "":
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	if headers == nil {
		headers = http.Header{}
	}
	return status, headers, url
}

func toNetworkHeaders(h map[string]string) network.Headers {
	headers := network.Headers{}
	for key, value := range h {
		headers[http.CanonicalHeaderKey(key)] = value
	}
	return headers
}
