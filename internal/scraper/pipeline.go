package scraper

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-scraper/internal/cache"
	"github.com/JakeFAU/realtime-scraper/internal/crawler"
	"github.com/JakeFAU/realtime-scraper/internal/dom"
	"github.com/JakeFAU/realtime-scraper/internal/extract"
	"github.com/JakeFAU/realtime-scraper/internal/metrics"
	"github.com/JakeFAU/realtime-scraper/internal/progress"
)

// Scrape fetches rawURL, extracts data according to opts and returns the
// result. Cached results are returned as is while they are fresh.
func (s *Scraper) Scrape(ctx context.Context, rawURL string, opts crawler.Options) (*crawler.Result, error) {
	ctx, span := s.tracer.Start(ctx, "scraper.Scrape", trace.WithAttributes(
		attribute.String("url.full", rawURL),
		attribute.String("scraper.engine", string(opts.Browser.Engine)),
	))
	defer span.End()

	start := s.now()
	s.emit(progress.Event{Type: progress.TypeScrapeStart, URL: rawURL})

	useCache := opts.Cache.IsEnabled()
	key := cache.Key(rawURL, opts)
	if useCache {
		if cached, ok := s.cache.Get(key); ok {
			s.countCache(true)
			span.SetAttributes(attribute.Bool("scraper.cache_hit", true))
			s.emit(progress.Event{Type: progress.TypeScrapeComplete, URL: rawURL, Result: cached})
			return cached, nil
		}
		s.countCache(false)
	}

	fetched, err := s.obtain(ctx, rawURL, opts)
	if err != nil {
		return nil, s.fail(span, rawURL, start, err)
	}

	parser := dom.NewParser(dom.Options{
		PreserveCase:       opts.Parse.PreserveCase,
		PreserveWhitespace: opts.Parse.PreserveWhitespace,
	})
	doc := parser.Parse(string(fetched.Body))

	result, err := s.extractData(doc, opts)
	s.selector.Forget(doc)
	if err != nil {
		return nil, s.fail(span, rawURL, start, err)
	}
	result.URL = rawURL
	result.Metadata.ScrapedAt = start.UTC()
	result.Metadata.Fetch = fetched
	result.Metadata.ParseErrors = parser.Errors()
	if fetched.Screenshot != "" {
		result.Metadata.Screenshots = []string{fetched.Screenshot}
	}
	result.Metadata.Duration = s.now().Sub(start)
	s.countSuccess(result.Metadata.Duration)

	if useCache {
		s.cache.Set(key, result, opts.Cache.TTL)
	}
	if opts.Export.Immediate && len(opts.Export.Formats) > 0 {
		result.Exports = s.Export(ctx, []map[string]any{result.Data}, opts.Export.Formats)
	}

	span.SetAttributes(attribute.Int("http.response.status_code", fetched.StatusCode))
	s.emit(progress.Event{
		Type:       progress.TypeScrapeComplete,
		URL:        rawURL,
		Result:     result,
		Dur:        result.Metadata.Duration,
		StatusCode: fetched.StatusCode,
		Bytes:      int64(len(fetched.Body)),
	})
	return result, nil
}

func (s *Scraper) fail(span trace.Span, rawURL string, start time.Time, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.countFailure(err)

	evt := progress.Event{
		Type: progress.TypeScrapeError,
		URL:  rawURL,
		Err:  err.Error(),
		Dur:  s.now().Sub(start),
	}
	var statusErr *crawler.StatusError
	if errors.As(err, &statusErr) {
		evt.StatusCode = statusErr.Code
	}
	s.emit(evt)
	s.logger.Debug("scrape failed", zap.String("url", rawURL), zap.Error(err))
	return err
}

// obtain returns the page markup, from the fetch layer or the render
// provider depending on the browser engine option.
func (s *Scraper) obtain(ctx context.Context, rawURL string, opts crawler.Options) (crawler.FetchResult, error) {
	switch opts.Browser.Engine {
	case crawler.EngineNone:
		return s.fetcher.Fetch(ctx, crawler.FetchRequest{URL: rawURL, FetchOptions: opts.Fetch})
	case crawler.EngineAuto:
		fetched, err := s.fetcher.Fetch(ctx, crawler.FetchRequest{URL: rawURL, FetchOptions: opts.Fetch})
		if err != nil {
			return fetched, err
		}
		if s.renderer == nil || s.detector == nil || !s.detector.ShouldPromote(fetched) {
			return fetched, nil
		}
		s.logger.Debug("promoting to browser render", zap.String("url", rawURL))
		return s.render(ctx, rawURL, opts)
	default:
		return s.render(ctx, rawURL, opts)
	}
}

func (s *Scraper) render(ctx context.Context, rawURL string, opts crawler.Options) (crawler.FetchResult, error) {
	if s.renderer == nil {
		return crawler.FetchResult{}, fmt.Errorf("render %s: %w", rawURL, ErrRendererNotConfigured)
	}
	userAgent := opts.Browser.UserAgent
	if userAgent == "" {
		userAgent = opts.Fetch.UserAgent.Value
	}
	return s.renderer.Render(ctx, crawler.RenderRequest{
		URL:             rawURL,
		Headers:         opts.Fetch.Headers,
		UserAgent:       userAgent,
		Viewport:        opts.Browser.Viewport,
		Timeout:         opts.Browser.Timeout,
		WaitForSelector: opts.Parse.WaitForSelector,
		WaitTime:        opts.Parse.WaitTime,
		ExecuteJS:       opts.Parse.ExecuteJS,
		Screenshot:      opts.Parse.Screenshots,
		ScreenshotPath:  opts.Parse.ScreenshotPath,
	})
}

// extractData applies the requested schema, custom selectors, structured
// data and pattern extraction, falling back to the basic page record when
// nothing else produced data.
func (s *Scraper) extractData(doc *dom.Node, opts crawler.Options) (*crawler.Result, error) {
	result := &crawler.Result{Data: map[string]any{}}
	eo := opts.Extraction
	xopts := extract.Options{Strict: eo.Strict}

	name := opts.Schema
	if name == crawler.AutoDetectSchema || (name == "" && opts.Inline == nil && eo.Validation) {
		name = ""
		if detected := s.extractor.AutoDetectSchema(doc); len(detected) > 0 {
			name = detected[0]
		}
	}

	var (
		res extract.Result
		err error
		ran bool
	)
	switch {
	case name != "":
		res, err = s.extractor.Extract(doc, name, xopts)
		ran = true
	case opts.Inline != nil:
		if addErr := s.extractor.AddSchema(*opts.Inline); addErr != nil {
			return nil, fmt.Errorf("register inline schema: %w", addErr)
		}
		name = opts.Inline.Name
		res, err = s.extractor.ExtractSchema(doc, *opts.Inline, xopts)
		ran = true
	}
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", name, err)
	}
	if ran {
		result.Extraction = &res
		result.Metadata.SchemaUsed = name
		for k, v := range res.Data {
			result.Data[k] = v
		}
	}

	if len(eo.CustomSelectors) > 0 {
		keys := make([]string, 0, len(eo.CustomSelectors))
		for k := range eo.CustomSelectors {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, key := range keys {
			nodes, err := s.selector.Select(doc, eo.CustomSelectors[key])
			if err != nil {
				return nil, fmt.Errorf("custom selector %q: %w", key, err)
			}
			if len(nodes) == 0 {
				continue
			}
			values := make([]string, len(nodes))
			for i, n := range nodes {
				values[i] = strings.TrimSpace(dom.TextContent(n))
			}
			result.Data[key] = values
		}
	}

	if eo.IncludeStructuredData {
		sd := s.extractor.ExtractStructuredData(doc)
		result.Metadata.StructuredData = &sd
	}
	if eo.IncludePatterns {
		result.Metadata.Patterns = extract.ExtractPatterns(dom.TextContent(doc))
	}

	if len(result.Data) == 0 {
		result.Data = extract.ExtractBasic(doc)
	}
	if eo.IncludeMetadata {
		basic := extract.ExtractBasic(doc)
		result.Data["_page"] = map[string]any{
			"title":       basic["title"],
			"description": basic["description"],
		}
	}
	return result, nil
}

func (s *Scraper) countCache(hit bool) {
	metrics.ObserveCache(hit)
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	if hit {
		s.stats.CacheHits++
	} else {
		s.stats.CacheMisses++
	}
}

func (s *Scraper) countSuccess(d time.Duration) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.stats.TotalRequests++
	s.stats.SuccessfulRequests++
	s.stats.TotalDataExtracted++
	n := time.Duration(s.stats.SuccessfulRequests)
	s.stats.AverageResponseTime += (d - s.stats.AverageResponseTime) / n
}

func (s *Scraper) countFailure(err error) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.stats.TotalRequests++
	s.stats.FailedRequests++
	if errors.Is(err, crawler.ErrRobotsDisallowed) {
		s.stats.RobotsBlocked++
	}
}

// Stats returns a snapshot of the running counters.
func (s *Scraper) Stats() crawler.Stats {
	s.statsMu.Lock()
	stats := s.stats
	s.statsMu.Unlock()
	if s.limiter != nil {
		stats.RateLimited = s.limiter.Stats().Throttled
	}
	events := s.hub.Stats()
	stats.EventsEmitted = events.Emitted
	stats.EventsDropped = events.Dropped
	return stats
}
