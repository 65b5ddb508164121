// Package collyfetcher implements crawler.Fetcher using gocolly. Every fetch
// passes robots.txt, crawl-delay pacing and the shared rate limiter before a
// request goes on the wire, and transient failures are retried.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/gocolly/colly/v2/extensions"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-scraper/internal/crawler"
	"github.com/JakeFAU/realtime-scraper/internal/fetcher/session"
	"github.com/JakeFAU/realtime-scraper/internal/metrics"
	"github.com/JakeFAU/realtime-scraper/internal/policy/ratelimit"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultMaxRedirects = 10
)

// Limiter admits outbound requests.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// Pacer spaces requests to one host.
type Pacer interface {
	Wait(ctx context.Context, host string, delay time.Duration) error
}

// Config controls collector behavior.
type Config struct {
	UserAgent       string
	RandomUserAgent bool
	RespectRobots   bool
	Timeout         time.Duration
	Proxy           string
	MaxRedirects    int
	RobotsTTL       time.Duration
}

// Deps are the collaborators a Fetcher uses. Nil fields get defaults.
type Deps struct {
	Limiter Limiter
	Pacer   Pacer
	Robots  crawler.RobotsPolicy
	Retry   *crawler.RetryPolicy
	Cookies *session.Store
	Logger  *zap.Logger
}

// Fetcher implements crawler.Fetcher using the Colly collector.
type Fetcher struct {
	cfg       Config
	transport http.RoundTripper
	limiter   Limiter
	pacer     Pacer
	robots    crawler.RobotsPolicy
	retry     *crawler.RetryPolicy
	cookies   *session.Store
	logger    *zap.Logger
}

// New builds a Fetcher.
func New(cfg Config, deps Deps) *Fetcher {
	transport := newHTTPTransport()
	f := &Fetcher{
		cfg:       cfg,
		transport: transport,
		limiter:   deps.Limiter,
		pacer:     deps.Pacer,
		robots:    deps.Robots,
		retry:     deps.Retry,
		cookies:   deps.Cookies,
		logger:    deps.Logger,
	}
	if f.logger == nil {
		f.logger = zap.NewNop()
	}
	if f.limiter == nil {
		f.limiter = ratelimit.New(ratelimit.Config{})
	}
	if f.pacer == nil {
		f.pacer = ratelimit.NewHostPacer()
	}
	if f.retry == nil {
		f.retry = crawler.NewRetryPolicy()
	}
	if f.cookies == nil {
		f.cookies = session.New()
	}
	if f.robots == nil {
		f.robots = crawler.NewRobotsEnforcer(crawler.RobotsConfig{
			UserAgent: cfg.UserAgent,
			TTL:       cfg.RobotsTTL,
			Logger:    f.logger,
			Client: &http.Client{
				Timeout:   10 * time.Second,
				Transport: newRobotsProbeTransport(transport),
			},
		})
	}
	return f
}

// Cookies exposes the cookie store shared by every fetch.
func (f *Fetcher) Cookies() *session.Store {
	return f.cookies
}

// ClearCache forgets cached robots.txt files, host pacing and cookies.
func (f *Fetcher) ClearCache() {
	if c, ok := f.robots.(interface{ Clear() }); ok {
		c.Clear()
	}
	if c, ok := f.pacer.(interface{ Clear() }); ok {
		c.Clear()
	}
	f.cookies.Clear()
}

// Fetch runs the admission checks for request.URL and then fetches it,
// retrying transient failures.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResult, error) {
	if err := f.admit(ctx, request); err != nil {
		return crawler.FetchResult{}, err
	}

	var result crawler.FetchResult
	policy := *f.retry
	onRetry := f.retry.OnRetry
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		if onRetry != nil {
			onRetry(attempt, delay, err)
		}
		metrics.ObserveRetry(request.URL)
		f.logger.Debug("retrying fetch",
			zap.String("url", request.URL),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", delay),
			zap.Error(err))
	}
	err := policy.Do(ctx, func(ctx context.Context, _ int) error {
		if err := f.limiter.Acquire(ctx); err != nil {
			return err
		}
		res, err := f.fetchOnce(ctx, request)
		if err != nil {
			status := "error"
			var statusErr *crawler.StatusError
			if errors.As(err, &statusErr) {
				status = strconv.Itoa(statusErr.Code)
			}
			metrics.ObserveFetch(request.URL, status, len(res.Body))
			return err
		}
		metrics.ObserveFetch(request.URL, strconv.Itoa(res.StatusCode), len(res.Body))
		result = res
		return nil
	})
	if err != nil {
		return crawler.FetchResult{}, err
	}
	return result, nil
}

// admit applies robots.txt and crawl-delay pacing.
func (f *Fetcher) admit(ctx context.Context, request crawler.FetchRequest) error {
	respect := f.cfg.RespectRobots
	if request.RespectRobots != nil {
		respect = *request.RespectRobots
	}
	if !respect {
		return nil
	}
	decision, err := f.robots.Check(ctx, request.URL)
	if err != nil {
		return fmt.Errorf("robots check: %w", err)
	}
	if !decision.Allowed {
		metrics.ObserveRobotsBlocked(request.URL)
		f.logger.Info("robots.txt disallows url", zap.String("url", request.URL))
		return fmt.Errorf("fetch %s: %w", request.URL, crawler.ErrRobotsDisallowed)
	}
	if err := f.pacer.Wait(ctx, crawler.Hostname(request.URL), decision.CrawlDelay); err != nil {
		return err
	}
	return nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResult, error) {
	var (
		result   crawler.FetchResult
		fetchErr error
		chain    []string
	)
	start := time.Now()
	collector, err := f.buildCollector(ctx, request, &chain)
	if err != nil {
		return crawler.FetchResult{}, err
	}
	f.configureCollectorHooks(collector, request, start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, request, &fetchErr); err != nil {
		return crawler.FetchResult{}, err
	}
	result.RedirectChain = chain
	if result.StatusCode >= http.StatusBadRequest {
		return result, &crawler.StatusError{URL: request.URL, Code: result.StatusCode}
	}
	return result, nil
}

func (f *Fetcher) buildCollector(ctx context.Context, request crawler.FetchRequest, chain *[]string) (*colly.Collector, error) {
	collector := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.ParseHTTPErrorResponse(),
		colly.StdlibContext(ctx),
	)

	proxy := request.Proxy
	if proxy == "" {
		proxy = f.cfg.Proxy
	}
	if proxy != "" {
		collector.WithTransport(newHTTPTransport())
		if err := collector.SetProxy(proxy); err != nil {
			return nil, fmt.Errorf("set proxy: %w", err)
		}
	} else {
		collector.WithTransport(f.transport)
	}
	collector.SetCookieJar(f.cookies)

	timeout := request.Timeout
	if timeout <= 0 {
		timeout = f.cfg.Timeout
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	collector.SetRequestTimeout(timeout)

	switch {
	case request.UserAgent.Value != "":
		collector.UserAgent = request.UserAgent.Value
	case request.UserAgent.Random || (f.cfg.RandomUserAgent && f.cfg.UserAgent == ""):
		extensions.RandomUserAgent(collector)
	case f.cfg.UserAgent != "":
		collector.UserAgent = f.cfg.UserAgent
	}

	follow := request.FollowRedirects == nil || *request.FollowRedirects
	maxRedirects := f.cfg.MaxRedirects
	if maxRedirects <= 0 {
		maxRedirects = defaultMaxRedirects
	}
	collector.SetRedirectHandler(func(_ *http.Request, via []*http.Request) error {
		if !follow {
			return http.ErrUseLastResponse
		}
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", len(via))
		}
		*chain = append(*chain, via[len(via)-1].URL.String())
		return nil
	})
	return collector, nil
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request crawler.FetchRequest,
	start time.Time,
	result *crawler.FetchResult,
	fetchErr *error,
) {
	hooks.OnResponse(func(r *colly.Response) {
		end := time.Now()
		finalURL := request.URL
		if r.Request != nil && r.Request.URL != nil {
			finalURL = r.Request.URL.String()
		}
		headers := http.Header{}
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		cookies := make(map[string]string)
		for _, c := range f.cookies.ParseSetCookie(finalURL, headers) {
			cookies[c.Name] = c.Value
		}
		*result = crawler.FetchResult{
			URL:        request.URL,
			FinalURL:   finalURL,
			StatusCode: r.StatusCode,
			Status:     strings.TrimSpace(fmt.Sprintf("%d %s", r.StatusCode, http.StatusText(r.StatusCode))),
			Headers:    headers,
			Body:       append([]byte(nil), r.Body...),
			Timing:     crawler.Timing{Start: start, End: end, Duration: end.Sub(start)},
			Cookies:    cookies,
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, request crawler.FetchRequest, fetchErr *error) error {
	method := request.Method
	if method == "" {
		method = http.MethodGet
	}
	var headers http.Header
	if len(request.Headers) > 0 {
		headers = http.Header{}
		for key, value := range request.Headers {
			headers.Set(key, value)
		}
	}
	var body *strings.Reader
	if request.Body != "" {
		body = strings.NewReader(request.Body)
	}

	done := make(chan error, 1)
	go func() {
		if body == nil {
			done <- collector.Request(method, request.URL, nil, nil, headers)
			return
		}
		done <- collector.Request(method, request.URL, body, nil, headers)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly request failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
