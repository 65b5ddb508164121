package crawler

import (
	"net/http"
	"time"

	"github.com/JakeFAU/realtime-scraper/internal/export"
	"github.com/JakeFAU/realtime-scraper/internal/extract"
)

// JobStatus represents the lifecycle state of a scrape job.
type JobStatus string

// Job status values tracked by the queue.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusRetrying  JobStatus = "retrying"
)

// AutoDetectSchema is the schema name that asks the extractor to pick a
// registered schema from the page itself.
const AutoDetectSchema = "auto-detect"

// Job is one queued scrape of a URL.
type Job struct {
	ID           string     `json:"id"`
	URL          string     `json:"url"`
	Schema       string     `json:"schema,omitempty"`
	Options      Options    `json:"options"`
	Status       JobStatus  `json:"status"`
	Priority     int        `json:"priority"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	RetryCount   int        `json:"retry_count"`
	MaxRetries   int        `json:"max_retries"`
	Result       *Result    `json:"result,omitempty"`
	Error        string     `json:"error,omitempty"`
	Progress     int        `json:"progress"`
	Dependencies []string   `json:"dependencies,omitempty"`
}

// Options bundles every per-scrape knob.
type Options struct {
	Schema     string            `json:"schema,omitempty"`
	Inline     *extract.Schema   `json:"-"`
	Fetch      FetchOptions      `json:"fetch"`
	Parse      ParseOptions      `json:"parse"`
	Extraction ExtractionOptions `json:"extraction"`
	Export     ExportOptions     `json:"export"`
	Cache      CacheOptions      `json:"cache"`
	Browser    BrowserOptions    `json:"browser"`
}

// UserAgentOption selects the User-Agent header: Random picks a realistic
// browser agent, otherwise Value is sent verbatim when set.
type UserAgentOption struct {
	Random bool   `json:"random,omitempty"`
	Value  string `json:"value,omitempty"`
}

// FetchOptions controls a single HTTP fetch.
type FetchOptions struct {
	Method          string            `json:"method,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
	Body            string            `json:"body,omitempty"`
	Timeout         time.Duration     `json:"timeout,omitempty"`
	Proxy           string            `json:"proxy,omitempty"`
	UserAgent       UserAgentOption   `json:"user_agent"`
	RespectRobots   *bool             `json:"respect_robots,omitempty"`
	FollowRedirects *bool             `json:"follow_redirects,omitempty"`
}

// ParseOptions affects how markup is obtained and turned into a tree.
type ParseOptions struct {
	WaitForSelector    string        `json:"wait_for_selector,omitempty"`
	WaitTime           time.Duration `json:"wait_time,omitempty"`
	ExecuteJS          []string      `json:"execute_js,omitempty"`
	Screenshots        bool          `json:"screenshots,omitempty"`
	ScreenshotPath     string        `json:"screenshot_path,omitempty"`
	PreserveCase       bool          `json:"preserve_case,omitempty"`
	PreserveWhitespace bool          `json:"preserve_whitespace,omitempty"`
}

// ExtractionOptions selects what is pulled out of a parsed page.
type ExtractionOptions struct {
	IncludeMetadata       bool              `json:"include_metadata,omitempty"`
	IncludeStructuredData bool              `json:"include_structured_data,omitempty"`
	IncludePatterns       bool              `json:"include_patterns,omitempty"`
	CustomSelectors       map[string]string `json:"custom_selectors,omitempty"`
	Validation            bool              `json:"validation,omitempty"`
	Strict                bool              `json:"strict,omitempty"`
}

// ExportOptions requests export right after a successful scrape.
type ExportOptions struct {
	Formats   []export.Config `json:"formats,omitempty"`
	Immediate bool            `json:"immediate,omitempty"`
}

// CacheOptions controls result caching. A nil Enabled means enabled.
type CacheOptions struct {
	Enabled *bool         `json:"enabled,omitempty"`
	TTL     time.Duration `json:"ttl,omitempty"`
	Key     string        `json:"key,omitempty"`
}

// IsEnabled reports whether caching applies.
func (c CacheOptions) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// BrowserEngine names the render provider used instead of a plain fetch.
type BrowserEngine string

// Browser engines.
const (
	EngineNone     BrowserEngine = ""
	EngineChromium BrowserEngine = "chromium"
	EngineAuto     BrowserEngine = "auto"
)

// Viewport is the browser window size.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// BrowserOptions routes a scrape through the render provider.
type BrowserOptions struct {
	Engine    BrowserEngine `json:"engine,omitempty"`
	Viewport  Viewport      `json:"viewport"`
	UserAgent string        `json:"user_agent,omitempty"`
	Timeout   time.Duration `json:"timeout,omitempty"`
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL string
	FetchOptions
}

// Timing records when a fetch started and finished.
type Timing struct {
	Start    time.Time     `json:"start"`
	End      time.Time     `json:"end"`
	Duration time.Duration `json:"duration"`
}

// FetchResult is returned by Fetcher and Renderer implementations.
type FetchResult struct {
	URL           string            `json:"url"`
	FinalURL      string            `json:"final_url"`
	StatusCode    int               `json:"status_code"`
	Status        string            `json:"status"`
	Headers       http.Header       `json:"headers"`
	Body          []byte            `json:"-"`
	Timing        Timing            `json:"timing"`
	Cookies       map[string]string `json:"cookies,omitempty"`
	RedirectChain []string          `json:"redirect_chain,omitempty"`
	Rendered      bool              `json:"rendered"`
	Screenshot    string            `json:"screenshot,omitempty"`
}

// RenderRequest asks the render provider for the markup of a page after
// scripts have run.
type RenderRequest struct {
	URL             string
	Headers         map[string]string
	UserAgent       string
	Viewport        Viewport
	Timeout         time.Duration
	WaitForSelector string
	WaitTime        time.Duration
	ExecuteJS       []string
	Screenshot      bool
	ScreenshotPath  string
}

// ResultMetadata describes how a Result was produced.
type ResultMetadata struct {
	ScrapedAt      time.Time               `json:"scraped_at"`
	Duration       time.Duration           `json:"duration"`
	Fetch          FetchResult             `json:"fetch"`
	SchemaUsed     string                  `json:"schema_used,omitempty"`
	StructuredData *extract.StructuredData `json:"structured_data,omitempty"`
	Patterns       map[string][]string     `json:"patterns,omitempty"`
	Screenshots    []string                `json:"screenshots,omitempty"`
	ParseErrors    []string                `json:"parse_errors,omitempty"`
}

// Result is the output of one scrape.
type Result struct {
	URL        string          `json:"url"`
	Data       map[string]any  `json:"data"`
	Metadata   ResultMetadata  `json:"metadata"`
	Extraction *extract.Result `json:"extraction,omitempty"`
	Exports    []export.Result `json:"exports,omitempty"`
}

// Progress summarizes the queue.
type Progress struct {
	TotalJobs           int           `json:"total_jobs"`
	CompletedJobs       int           `json:"completed_jobs"`
	FailedJobs          int           `json:"failed_jobs"`
	RunningJobs         int           `json:"running_jobs"`
	PendingJobs         int           `json:"pending_jobs"`
	CurrentJob          *Job          `json:"current_job,omitempty"`
	EstimatedCompletion *time.Time    `json:"estimated_completion,omitempty"`
	AverageJobDuration  time.Duration `json:"average_job_duration"`
}

// Stats are the scraper's running counters.
type Stats struct {
	TotalRequests       int           `json:"total_requests"`
	SuccessfulRequests  int           `json:"successful_requests"`
	FailedRequests      int           `json:"failed_requests"`
	TotalDataExtracted  int           `json:"total_data_extracted"`
	TotalExports        int           `json:"total_exports"`
	AverageResponseTime time.Duration `json:"average_response_time"`
	CacheHits           int           `json:"cache_hits"`
	CacheMisses         int           `json:"cache_misses"`
	RobotsBlocked       int           `json:"robots_blocked"`
	RateLimited         int           `json:"rate_limited"`
	EventsEmitted       uint64        `json:"events_emitted"`
	EventsDropped       uint64        `json:"events_dropped"`
}
