package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-scraper/internal/crawler"
	"github.com/JakeFAU/realtime-scraper/internal/export"
	"github.com/JakeFAU/realtime-scraper/internal/extract"
	collyfetcher "github.com/JakeFAU/realtime-scraper/internal/fetcher/colly"
	"github.com/JakeFAU/realtime-scraper/internal/progress"
	"github.com/JakeFAU/realtime-scraper/internal/queue"
)

const articlePage = `<html><head><title>Launch Day</title>
<meta name="description" content="All about the launch"></head>
<body><article><h1>Rocket Launch</h1><span class="author">Ada</span>
<p>Contact press@example.com for details.</p></article>
<a href="/next">Next</a></body></html>`

type recorder struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recorder) record(evt progress.Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

func (r *recorder) types() []progress.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]progress.Type, len(r.events))
	for i, evt := range r.events {
		out[i] = evt.Type
	}
	return out
}

func (r *recorder) count(typ progress.Type) int {
	n := 0
	for _, got := range r.types() {
		if got == typ {
			n++
		}
	}
	return n
}

type fakeRenderer struct {
	calls atomic.Int32
	body  string
	last  crawler.RenderRequest
	mu    sync.Mutex
}

func (f *fakeRenderer) Render(_ context.Context, req crawler.RenderRequest) (crawler.FetchResult, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.last = req
	f.mu.Unlock()
	return crawler.FetchResult{
		URL:        req.URL,
		FinalURL:   req.URL,
		StatusCode: http.StatusOK,
		Body:       []byte(f.body),
		Rendered:   true,
		Screenshot: "shot.png",
	}, nil
}

type promoteAll bool

func (p promoteAll) ShouldPromote(crawler.FetchResult) bool { return bool(p) }

type countingServer struct {
	*httptest.Server
	hits atomic.Int32
}

func newPageServer(t *testing.T) *countingServer {
	t.Helper()
	cs := &countingServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "User-agent: *\nDisallow: /private\n")
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, _ *http.Request) {
		cs.hits.Add(1)
		http.NotFound(w, nil)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		cs.hits.Add(1)
		w.Header().Set("Content-Type", "text/html")
		if r.URL.Path == "/plain" {
			fmt.Fprint(w, `<html><head><title>Plain</title></head><body><h2>Intro</h2><img src="a.png" alt="A"></body></html>`)
			return
		}
		fmt.Fprint(w, articlePage)
	})
	cs.Server = httptest.NewServer(mux)
	t.Cleanup(cs.Close)
	return cs
}

func newTestScraper(t *testing.T, respectRobots bool, deps Deps) *Scraper {
	t.Helper()
	if deps.Fetcher == nil {
		deps.Fetcher = collyfetcher.New(
			collyfetcher.Config{UserAgent: "scraper-test", RespectRobots: respectRobots},
			collyfetcher.Deps{Retry: &crawler.RetryPolicy{MaxAttempts: 1, InitialDelay: time.Millisecond}},
		)
	}
	s := New(Config{
		Concurrency:  2,
		IdleInterval: 5 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
	}, deps)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Close(ctx)
	})
	return s
}

func articleSchema() extract.Schema {
	return extract.Schema{
		Name:       "article",
		Indicators: []string{"article"},
		Rules: []extract.Rule{
			{Name: "headline", Selector: "article h1", Required: true},
			{Name: "author", Selector: ".author"},
		},
	}
}

func boolPtr(b bool) *bool { return &b }

func TestScrapeBasicFallback(t *testing.T) {
	t.Parallel()
	srv := newPageServer(t)
	s := newTestScraper(t, false, Deps{})

	res, err := s.Scrape(context.Background(), srv.URL+"/plain", crawler.Options{})
	require.NoError(t, err)
	require.Equal(t, srv.URL+"/plain", res.URL)
	require.Equal(t, "Plain", res.Data["title"])
	require.Equal(t, []extract.Heading{{Level: 2, Text: "Intro"}}, res.Data["headings"])
	require.Equal(t, []extract.Image{{Src: "a.png", Alt: "A"}}, res.Data["images"])
	require.Equal(t, http.StatusOK, res.Metadata.Fetch.StatusCode)
	require.Empty(t, res.Metadata.SchemaUsed)
	require.Nil(t, res.Extraction)
}

func TestScrapeNamedAndDetectedSchema(t *testing.T) {
	t.Parallel()
	srv := newPageServer(t)
	s := newTestScraper(t, false, Deps{})
	require.NoError(t, s.AddSchema(articleSchema()))

	tests := []struct {
		name   string
		schema string
	}{
		{name: "named", schema: "article"},
		{name: "auto detect", schema: crawler.AutoDetectSchema},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := s.Scrape(context.Background(), srv.URL+"/story", crawler.Options{
				Schema: tc.schema,
				Cache:  crawler.CacheOptions{Enabled: boolPtr(false)},
			})
			require.NoError(t, err)
			require.Equal(t, "article", res.Metadata.SchemaUsed)
			require.Equal(t, "Rocket Launch", res.Data["headline"])
			require.Equal(t, "Ada", res.Data["author"])
			require.NotNil(t, res.Extraction)
			require.Equal(t, 2, res.Extraction.Metadata.SuccessfulRules)
		})
	}
}

func TestScrapeUnknownSchemaFails(t *testing.T) {
	t.Parallel()
	srv := newPageServer(t)
	s := newTestScraper(t, false, Deps{})

	_, err := s.Scrape(context.Background(), srv.URL+"/story", crawler.Options{Schema: "nope"})
	require.ErrorIs(t, err, extract.ErrSchemaNotFound)
	require.Equal(t, 1, s.Stats().FailedRequests)
}

func TestScrapeInlineSchemaIsRegistered(t *testing.T) {
	t.Parallel()
	srv := newPageServer(t)
	s := newTestScraper(t, false, Deps{})

	schema := articleSchema()
	schema.Name = "inline-article"
	res, err := s.Scrape(context.Background(), srv.URL+"/story", crawler.Options{Inline: &schema})
	require.NoError(t, err)
	require.Equal(t, "inline-article", res.Metadata.SchemaUsed)
	require.Contains(t, s.ListSchemas(), "inline-article")
}

func TestScrapeCustomSelectorsPatternsAndMetadata(t *testing.T) {
	t.Parallel()
	srv := newPageServer(t)
	s := newTestScraper(t, false, Deps{})

	res, err := s.Scrape(context.Background(), srv.URL+"/story", crawler.Options{
		Extraction: crawler.ExtractionOptions{
			CustomSelectors: map[string]string{"heading": "h1", "nothing": ".absent"},
			IncludePatterns: true,
			IncludeMetadata: true,
		},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"Rocket Launch"}, res.Data["heading"])
	require.NotContains(t, res.Data, "nothing")
	require.Equal(t, map[string]any{"title": "Launch Day", "description": "All about the launch"}, res.Data["_page"])
	require.Contains(t, res.Metadata.Patterns[extract.PatternEmail], "press@example.com")

	_, err = s.Scrape(context.Background(), srv.URL+"/story", crawler.Options{
		Extraction: crawler.ExtractionOptions{CustomSelectors: map[string]string{"bad": "p:bogus"}},
	})
	require.Error(t, err)
}

func TestScrapeUsesCache(t *testing.T) {
	t.Parallel()
	srv := newPageServer(t)
	s := newTestScraper(t, false, Deps{})

	first, err := s.Scrape(context.Background(), srv.URL+"/story", crawler.Options{})
	require.NoError(t, err)
	second, err := s.Scrape(context.Background(), srv.URL+"/story", crawler.Options{})
	require.NoError(t, err)
	require.Same(t, first, second)
	require.EqualValues(t, 1, srv.hits.Load())

	_, err = s.Scrape(context.Background(), srv.URL+"/story", crawler.Options{Cache: crawler.CacheOptions{Enabled: boolPtr(false)}})
	require.NoError(t, err)
	require.EqualValues(t, 2, srv.hits.Load())

	stats := s.Stats()
	require.Equal(t, 1, stats.CacheHits)
	require.Equal(t, 1, stats.CacheMisses)
	require.Equal(t, 2, stats.TotalRequests)
	require.Equal(t, 2, stats.SuccessfulRequests)
	require.Positive(t, stats.EventsEmitted)
	require.Zero(t, stats.EventsDropped)
	require.Zero(t, s.selector.CacheLen(), "scraped documents are released")

	s.ClearCache()
	_, err = s.Scrape(context.Background(), srv.URL+"/story", crawler.Options{})
	require.NoError(t, err)
	require.EqualValues(t, 3, srv.hits.Load())
}

func TestScrapeRobotsBlocked(t *testing.T) {
	t.Parallel()
	srv := newPageServer(t)
	s := newTestScraper(t, true, Deps{})

	_, err := s.Scrape(context.Background(), srv.URL+"/private/page", crawler.Options{})
	require.ErrorIs(t, err, crawler.ErrRobotsDisallowed)
	require.Zero(t, srv.hits.Load())

	stats := s.Stats()
	require.Equal(t, 1, stats.RobotsBlocked)
	require.Equal(t, 1, stats.FailedRequests)
}

func TestScrapeRenderRouting(t *testing.T) {
	t.Parallel()
	srv := newPageServer(t)
	rendered := `<html><head><title>Rendered</title></head><body></body></html>`

	t.Run("chromium", func(t *testing.T) {
		t.Parallel()
		r := &fakeRenderer{body: rendered}
		s := newTestScraper(t, false, Deps{Renderer: r})
		res, err := s.Scrape(context.Background(), srv.URL+"/spa", crawler.Options{
			Browser: crawler.BrowserOptions{Engine: crawler.EngineChromium, Viewport: crawler.Viewport{Width: 800, Height: 600}},
			Parse:   crawler.ParseOptions{WaitForSelector: "#app", Screenshots: true},
		})
		require.NoError(t, err)
		require.Equal(t, "Rendered", res.Data["title"])
		require.Equal(t, []string{"shot.png"}, res.Metadata.Screenshots)
		require.True(t, res.Metadata.Fetch.Rendered)
		require.EqualValues(t, 1, r.calls.Load())
		r.mu.Lock()
		require.Equal(t, "#app", r.last.WaitForSelector)
		require.Equal(t, 800, r.last.Viewport.Width)
		r.mu.Unlock()
	})

	t.Run("auto promotes", func(t *testing.T) {
		t.Parallel()
		r := &fakeRenderer{body: rendered}
		s := newTestScraper(t, false, Deps{Renderer: r, Detector: promoteAll(true)})
		res, err := s.Scrape(context.Background(), srv.URL+"/auto", crawler.Options{
			Browser: crawler.BrowserOptions{Engine: crawler.EngineAuto},
		})
		require.NoError(t, err)
		require.Equal(t, "Rendered", res.Data["title"])
		require.EqualValues(t, 1, r.calls.Load())
	})

	t.Run("auto keeps fetch", func(t *testing.T) {
		t.Parallel()
		r := &fakeRenderer{body: rendered}
		s := newTestScraper(t, false, Deps{Renderer: r, Detector: promoteAll(false)})
		res, err := s.Scrape(context.Background(), srv.URL+"/plain", crawler.Options{
			Browser: crawler.BrowserOptions{Engine: crawler.EngineAuto},
		})
		require.NoError(t, err)
		require.Equal(t, "Plain", res.Data["title"])
		require.Zero(t, r.calls.Load())
	})

	t.Run("no renderer", func(t *testing.T) {
		t.Parallel()
		s := newTestScraper(t, false, Deps{})
		_, err := s.Scrape(context.Background(), srv.URL+"/spa", crawler.Options{
			Browser: crawler.BrowserOptions{Engine: crawler.EngineChromium},
		})
		require.ErrorIs(t, err, ErrRendererNotConfigured)
	})
}

func TestScrapeImmediateExport(t *testing.T) {
	t.Parallel()
	srv := newPageServer(t)
	s := newTestScraper(t, false, Deps{})

	var exported []map[string]any
	var mu sync.Mutex
	s.Exporter().Register("capture", export.SinkFunc(func(_ context.Context, records []map[string]any, cfg export.Config) (export.Result, error) {
		mu.Lock()
		exported = append(exported, records...)
		mu.Unlock()
		return export.Result{Format: cfg.Format, Success: true, RecordCount: len(records)}, nil
	}))

	res, err := s.Scrape(context.Background(), srv.URL+"/plain", crawler.Options{
		Export: crawler.ExportOptions{Immediate: true, Formats: []export.Config{{Format: "capture"}}},
	})
	require.NoError(t, err)
	require.Len(t, res.Exports, 1)
	require.True(t, res.Exports[0].Success)
	mu.Lock()
	require.Len(t, exported, 1)
	require.Equal(t, "Plain", exported[0]["title"])
	mu.Unlock()
	require.Equal(t, 1, s.Stats().TotalExports)
}

func TestScrapeEventOrder(t *testing.T) {
	t.Parallel()
	srv := newPageServer(t)
	s := newTestScraper(t, false, Deps{})
	rec := &recorder{}
	s.Observe(rec.record)

	_, err := s.Scrape(context.Background(), srv.URL+"/plain", crawler.Options{})
	require.NoError(t, err)
	_, err = s.Scrape(context.Background(), srv.URL+"/missing", crawler.Options{})
	var statusErr *crawler.StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusNotFound, statusErr.Code)

	want := []progress.Type{
		progress.TypeScrapeStart, progress.TypeScrapeComplete,
		progress.TypeScrapeStart, progress.TypeScrapeError,
	}
	require.Eventually(t, func() bool { return len(rec.types()) == len(want) }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, want, rec.types())

	rec.mu.Lock()
	last := rec.events[3]
	rec.mu.Unlock()
	require.Equal(t, http.StatusNotFound, last.StatusCode)
	require.NotEmpty(t, last.Err)
}

func TestScrapeBatchKeepsOrderAndDropsFailures(t *testing.T) {
	t.Parallel()
	srv := newPageServer(t)
	s := newTestScraper(t, false, Deps{})
	rec := &recorder{}
	s.Observe(rec.record)

	urls := []string{srv.URL + "/one", srv.URL + "/missing", srv.URL + "/plain"}
	results, err := s.ScrapeBatch(context.Background(), urls, crawler.Options{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, srv.URL+"/one", results[0].URL)
	require.Equal(t, srv.URL+"/plain", results[1].URL)
	require.False(t, s.Processing())

	p := s.Progress()
	require.Equal(t, 3, p.TotalJobs)
	require.Equal(t, 2, p.CompletedJobs)
	require.Equal(t, 1, p.FailedJobs)

	require.Eventually(t, func() bool { return rec.count(progress.TypeBatchComplete) == 1 }, 2*time.Second, 5*time.Millisecond)
	types := rec.types()
	require.Equal(t, progress.TypeBatchStart, types[0])
	require.Equal(t, progress.TypeBatchComplete, types[len(types)-1])
	require.Equal(t, 3, rec.count(progress.TypeJobAdded))
	require.Equal(t, 2, rec.count(progress.TypeJobComplete))
	require.Equal(t, 3, rec.count(progress.TypeJobError))
}

func TestScrapeBatchContextCancel(t *testing.T) {
	t.Parallel()
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-block
		fmt.Fprint(w, "<html></html>")
	}))
	t.Cleanup(func() {
		close(block)
		srv.Close()
	})
	s := newTestScraper(t, false, Deps{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	results, err := s.ScrapeBatch(ctx, []string{srv.URL + "/slow"}, crawler.Options{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Empty(t, results)
}

func TestAddJobStartsProcessing(t *testing.T) {
	t.Parallel()
	srv := newPageServer(t)
	s := newTestScraper(t, false, Deps{})
	rec := &recorder{}
	s.Observe(rec.record)

	id, err := s.AddJob(srv.URL+"/plain", crawler.Options{}, 0)
	require.NoError(t, err)
	require.True(t, s.Processing())

	require.Eventually(t, func() bool {
		job, ok := s.Job(id)
		return ok && job.Status == crawler.JobStatusCompleted
	}, 2*time.Second, 5*time.Millisecond)
	job, _ := s.Job(id)
	require.Equal(t, 5, job.Priority)
	require.Equal(t, "Plain", job.Result.Data["title"])

	require.Eventually(t, func() bool { return rec.count(progress.TypeJobComplete) == 1 }, 2*time.Second, 5*time.Millisecond)
	types := rec.types()
	require.Equal(t, []progress.Type{progress.TypeJobAdded, progress.TypeProcessingStart, progress.TypeJobStart}, types[:3])

	s.StopProcessing()
	require.False(t, s.Processing())
}

func TestAddJobWithDependencyAndSchema(t *testing.T) {
	t.Parallel()
	srv := newPageServer(t)
	s := newTestScraper(t, false, Deps{})
	require.NoError(t, s.AddSchema(articleSchema()))

	first, err := s.AddJobWith(queueSpec(srv.URL+"/plain", ""))
	require.NoError(t, err)
	spec := queueSpec(srv.URL+"/story", "article")
	spec.Dependencies = []string{srv.URL + "/plain"}
	second, err := s.AddJobWith(spec)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		job, ok := s.Job(second)
		return ok && job.Status == crawler.JobStatusCompleted
	}, 2*time.Second, 5*time.Millisecond)
	a, _ := s.Job(first)
	b, _ := s.Job(second)
	require.Equal(t, crawler.JobStatusCompleted, a.Status)
	require.False(t, b.StartedAt.Before(*a.CompletedAt))
	require.Equal(t, "Rocket Launch", b.Result.Data["headline"])
}

func TestSetConcurrency(t *testing.T) {
	t.Parallel()
	s := newTestScraper(t, false, Deps{})
	require.Equal(t, 2, s.Concurrency())
	s.SetConcurrency(0)
	require.Equal(t, 1, s.Concurrency())
	s.SetConcurrency(8)
	require.Equal(t, 8, s.Concurrency())
}

func TestCloseStopsProcessing(t *testing.T) {
	t.Parallel()
	srv := newPageServer(t)
	s := newTestScraper(t, false, Deps{})
	_, err := s.AddJob(srv.URL+"/plain", crawler.Options{}, 1)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Close(ctx))
	require.False(t, s.Processing())
	require.NoError(t, s.Close(ctx))
}

func TestAutoDetectSchemaFromMarkup(t *testing.T) {
	t.Parallel()
	s := newTestScraper(t, false, Deps{Fetcher: fetcherFunc(func(context.Context, crawler.FetchRequest) (crawler.FetchResult, error) {
		return crawler.FetchResult{}, errors.New("unused")
	})})
	require.NoError(t, s.AddSchema(articleSchema()))
	require.Equal(t, []string{"article"}, s.AutoDetectSchema(articlePage))
	require.Empty(t, s.AutoDetectSchema("<div>nothing</div>"))
	got, ok := s.Schema("article")
	require.True(t, ok)
	require.Len(t, got.Rules, 2)
}

func queueSpec(rawURL, schema string) queue.JobSpec {
	return queue.JobSpec{URL: rawURL, Schema: schema}
}

type fetcherFunc func(context.Context, crawler.FetchRequest) (crawler.FetchResult, error)

func (f fetcherFunc) Fetch(ctx context.Context, req crawler.FetchRequest) (crawler.FetchResult, error) {
	return f(ctx, req)
}

func TestJobDurationUsesInjectedClock(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	s := &Scraper{now: func() time.Time { return at }}
	started := at.Add(-3 * time.Second)
	finished := started.Add(time.Second)

	tests := []struct {
		name string
		job  *crawler.Job
		want time.Duration
	}{
		{name: "nil job", job: nil, want: 0},
		{name: "not started", job: &crawler.Job{}, want: 0},
		{name: "still running", job: &crawler.Job{StartedAt: &started}, want: 3 * time.Second},
		{name: "finished", job: &crawler.Job{StartedAt: &started, CompletedAt: &finished}, want: time.Second},
	}
	for _, tc := range tests {
		require.Equal(t, tc.want, s.jobDuration(tc.job), tc.name)
	}
}
