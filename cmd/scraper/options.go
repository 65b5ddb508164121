package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/pflag"

	"github.com/JakeFAU/realtime-scraper/internal/crawler"
	"github.com/JakeFAU/realtime-scraper/internal/export"
)

// scrapeFlags are the per-scrape options shared by scrape and batch.
type scrapeFlags struct {
	schema     string
	selectors  map[string]string
	render     string
	noCache    bool
	metadata   bool
	structured bool
	patterns   bool
	validate   bool
	strict     bool
	timeout    time.Duration
	userAgent  string
	exports    []string
	exportDest string
}

func (f *scrapeFlags) bind(fs *pflag.FlagSet) {
	fs.StringVar(&f.schema, "schema", "", `schema name, or "auto" to detect one`)
	fs.StringToStringVar(&f.selectors, "selector", nil, "custom field selectors (name=css or name=xpath)")
	fs.StringVar(&f.render, "render", "", `render with a browser: "chromium" or "auto"`)
	fs.BoolVar(&f.noCache, "no-cache", false, "bypass the result cache")
	fs.BoolVar(&f.metadata, "metadata", false, "include page metadata")
	fs.BoolVar(&f.structured, "structured", false, "include JSON-LD and microdata")
	fs.BoolVar(&f.patterns, "patterns", false, "include text pattern matches")
	fs.BoolVar(&f.validate, "validate", false, "validate against the schema")
	fs.BoolVar(&f.strict, "strict", false, "fail on validation errors")
	fs.DurationVar(&f.timeout, "timeout", 0, "fetch timeout (0 uses the configured default)")
	fs.StringVar(&f.userAgent, "user-agent", "", "override the User-Agent header")
	fs.StringSliceVar(&f.exports, "export", nil, "export formats to run after a successful scrape")
	fs.StringVar(&f.exportDest, "export-dest", "", "destination passed to every export format")
}

// options layers the flags over base.
func (f *scrapeFlags) options(base crawler.Options) (crawler.Options, error) {
	opts := base
	opts.Schema = f.schema
	switch engine := crawler.BrowserEngine(f.render); engine {
	case crawler.EngineNone, crawler.EngineChromium, crawler.EngineAuto:
		opts.Browser.Engine = engine
	default:
		return opts, fmt.Errorf("unknown render engine %q", f.render)
	}
	if f.noCache {
		disabled := false
		opts.Cache.Enabled = &disabled
	}
	opts.Extraction.CustomSelectors = f.selectors
	opts.Extraction.IncludeMetadata = f.metadata
	opts.Extraction.IncludeStructuredData = f.structured
	opts.Extraction.IncludePatterns = f.patterns
	opts.Extraction.Validation = f.validate || f.strict
	opts.Extraction.Strict = f.strict
	if f.timeout > 0 {
		opts.Fetch.Timeout = f.timeout
	}
	if f.userAgent != "" {
		opts.Fetch.UserAgent.Value = f.userAgent
	}
	if len(f.exports) > 0 {
		formats := make([]export.Config, 0, len(f.exports))
		for _, format := range f.exports {
			formats = append(formats, export.Config{Format: format, Destination: f.exportDest})
		}
		opts.Export = crawler.ExportOptions{Formats: formats, Immediate: true}
	}
	return opts, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
