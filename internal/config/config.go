// Package config loads and validates scraper configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Scraper   ScraperConfig   `mapstructure:"scraper"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Robots    RobotsConfig    `mapstructure:"robots"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Export    ExportConfig    `mapstructure:"export"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ScraperConfig governs the worker pool and queue defaults.
type ScraperConfig struct {
	Concurrency       int `mapstructure:"concurrency"`
	IdleIntervalMs    int `mapstructure:"idle_interval_ms"`
	PollIntervalMs    int `mapstructure:"poll_interval_ms"`
	DefaultPriority   int `mapstructure:"default_priority"`
	MaxRetries        int `mapstructure:"max_retries"`
	ExportParallelism int `mapstructure:"export_parallelism"`
}

// RateLimitConfig bounds outbound request rates. Zero disables a window.
type RateLimitConfig struct {
	RequestsPerSecond int `mapstructure:"requests_per_second"`
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	RequestsPerHour   int `mapstructure:"requests_per_hour"`
	MinDelayMs        int `mapstructure:"min_delay_ms"`
}

// RetryConfig shapes fetch retry backoff.
type RetryConfig struct {
	MaxAttempts    int     `mapstructure:"max_attempts"`
	InitialDelayMs int     `mapstructure:"initial_delay_ms"`
	Multiplier     float64 `mapstructure:"multiplier"`
	MaxDelayMs     int     `mapstructure:"max_delay_ms"`
}

// FetchConfig configures the HTTP fetcher.
type FetchConfig struct {
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
	UserAgent       string `mapstructure:"user_agent"`
	RandomUserAgent bool   `mapstructure:"random_user_agent"`
	RespectRobots   bool   `mapstructure:"respect_robots"`
	Proxy           string `mapstructure:"proxy"`
	MaxRedirects    int    `mapstructure:"max_redirects"`
}

// RobotsConfig controls robots.txt caching.
type RobotsConfig struct {
	CacheTTLMinutes int `mapstructure:"cache_ttl_minutes"`
}

// CacheConfig controls the result cache.
type CacheConfig struct {
	Enabled              bool `mapstructure:"enabled"`
	TTLSeconds           int  `mapstructure:"ttl_seconds"`
	SweepIntervalSeconds int  `mapstructure:"sweep_interval_seconds"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	MaxParallel     int  `mapstructure:"max_parallel"`
	NavTimeoutSec   int  `mapstructure:"nav_timeout_seconds"`
	PromotionThresh int  `mapstructure:"promotion_threshold"`
}

// ExportConfig names the destinations export sinks are built for. Empty
// values leave the matching sink unregistered.
type ExportConfig struct {
	LocalDir        string `mapstructure:"local_dir"`
	GCSBucket       string `mapstructure:"gcs_bucket"`
	GCSPrefix       string `mapstructure:"gcs_prefix"`
	PostgresDSN     string `mapstructure:"postgres_dsn"`
	PostgresTable   string `mapstructure:"postgres_table"`
	SQLitePath      string `mapstructure:"sqlite_path"`
	WebhookURL      string `mapstructure:"webhook_url"`
	PubSubProjectID string `mapstructure:"pubsub_project_id"`
	PubSubTopic     string `mapstructure:"pubsub_topic"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Port                  int    `mapstructure:"port"`
	APIKey                string `mapstructure:"api_key"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds"`
}

// LoggingConfig toggles zap development features and the level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TelemetryConfig controls tracing.
type TelemetryConfig struct {
	ServiceName string  `mapstructure:"service_name"`
	Tracing     bool    `mapstructure:"tracing"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from .env, disk and the environment. Environment
// variables use the SCRAPER_ prefix with dots replaced by underscores.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("SCRAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("scraper.concurrency", 5)
	v.SetDefault("scraper.idle_interval_ms", 1000)
	v.SetDefault("scraper.poll_interval_ms", 1000)
	v.SetDefault("scraper.default_priority", 5)
	v.SetDefault("scraper.max_retries", 3)
	v.SetDefault("scraper.export_parallelism", 4)
	v.SetDefault("rate_limit.requests_per_second", 10)
	v.SetDefault("rate_limit.requests_per_minute", 0)
	v.SetDefault("rate_limit.requests_per_hour", 0)
	v.SetDefault("rate_limit.min_delay_ms", 0)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_delay_ms", 1000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.max_delay_ms", 30000)
	v.SetDefault("fetch.timeout_seconds", 30)
	v.SetDefault("fetch.user_agent", "realtime-scraper/0.1")
	v.SetDefault("fetch.random_user_agent", false)
	v.SetDefault("fetch.respect_robots", true)
	v.SetDefault("fetch.max_redirects", 10)
	v.SetDefault("robots.cache_ttl_minutes", 60)
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.ttl_seconds", 3600)
	v.SetDefault("cache.sweep_interval_seconds", 300)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("export.postgres_table", "scraped_records")
	v.SetDefault("export.gcs_prefix", "exports")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("telemetry.service_name", "realtime-scraper")
	v.SetDefault("telemetry.tracing", false)
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Scraper.Concurrency <= 0 {
		return fmt.Errorf("scraper.concurrency must be > 0")
	}
	if c.Scraper.DefaultPriority < 1 || c.Scraper.DefaultPriority > 10 {
		return fmt.Errorf("scraper.default_priority must be between 1 and 10")
	}
	if c.Scraper.MaxRetries <= 0 {
		return fmt.Errorf("scraper.max_retries must be > 0")
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.RequestsPerMinute < 0 || c.RateLimit.RequestsPerHour < 0 {
		return fmt.Errorf("rate_limit windows must be >= 0")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be > 0")
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be >= 1")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Cache.Enabled && c.Cache.TTLSeconds <= 0 {
		return fmt.Errorf("cache.ttl_seconds must be > 0 when the cache is enabled")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if (c.Export.PubSubProjectID == "") != (c.Export.PubSubTopic == "") {
		return fmt.Errorf("export.pubsub_project_id and export.pubsub_topic must be set together")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	return nil
}

// Millis converts a millisecond knob into a duration.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// Seconds converts a second knob into a duration.
func Seconds(s int) time.Duration {
	return time.Duration(s) * time.Second
}
