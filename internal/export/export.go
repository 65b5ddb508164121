// Package export persists or transmits extracted records to configured
// destinations.
package export

import (
	"context"
	"time"
)

// Supported export formats.
const (
	FormatJSON     = "json"
	FormatCSV      = "csv"
	FormatXML      = "xml"
	FormatPostgres = "postgresql"
	FormatSQLite   = "sqlite"
	FormatGCS      = "gcs"
	FormatWebhook  = "webhook"
	FormatPubSub   = "pubsub"
	FormatMemory   = "memory"
)

// Config names a destination for one export.
type Config struct {
	Format      string            `json:"format" mapstructure:"format"`
	Destination string            `json:"destination,omitempty" mapstructure:"destination"`
	Options     map[string]string `json:"options,omitempty" mapstructure:"options"`
}

// Option returns Options[key] or fallback when unset.
func (c Config) Option(key, fallback string) string {
	if v, ok := c.Options[key]; ok && v != "" {
		return v
	}
	return fallback
}

// Result reports the outcome of one export.
type Result struct {
	Format      string        `json:"format"`
	Success     bool          `json:"success"`
	Destination string        `json:"destination,omitempty"`
	RecordCount int           `json:"record_count"`
	Duration    time.Duration `json:"duration"`
	Errors      []string      `json:"errors,omitempty"`
}

// Sink writes a record set to the destination described by cfg.
type Sink interface {
	Export(ctx context.Context, records []map[string]any, cfg Config) (Result, error)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, records []map[string]any, cfg Config) (Result, error)

// Export calls f.
func (f SinkFunc) Export(ctx context.Context, records []map[string]any, cfg Config) (Result, error) {
	return f(ctx, records, cfg)
}
