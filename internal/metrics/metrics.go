// Package metrics exposes Prometheus collectors for the scraper.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scraperFetchesTotal           *prometheus.CounterVec
	scraperBytesTotal             *prometheus.CounterVec
	scraperRetriesTotal           *prometheus.CounterVec
	scraperRobotsBlockedTotal     *prometheus.CounterVec
	scraperRobotsFallbackTotal    prometheus.Counter
	scraperCacheLookupsTotal      *prometheus.CounterVec
	scraperJobsTotal              *prometheus.CounterVec
	scraperActiveWorkers          prometheus.Gauge
	scraperRateLimitDelaysSeconds *prometheus.HistogramVec
	scraperExportsTotal           *prometheus.CounterVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		scraperFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_fetches_total",
				Help: "Total number of fetches, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		scraperBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		scraperRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_fetch_retries_total",
				Help: "Total number of fetch retries, labeled by site.",
			},
			[]string{"site"},
		)

		scraperRobotsBlockedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_robots_blocked_total",
				Help: "Total number of URLs refused by robots.txt, labeled by site.",
			},
			[]string{"site"},
		)

		scraperRobotsFallbackTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scraper_robots_fallback_total",
				Help: "Total robots.txt probes that timed out and fell back to allow-all.",
			},
		)

		scraperCacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_cache_lookups_total",
				Help: "Total result cache lookups, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		scraperJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_jobs_total",
				Help: "Total number of jobs processed, labeled by status.",
			},
			[]string{"status"},
		)

		scraperActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scraper_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		scraperRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraper_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		scraperExportsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_exports_total",
				Help: "Total number of export attempts, labeled by format and outcome.",
			},
			[]string{"format", "outcome"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveFetch counts one completed fetch and the bytes it returned.
func ObserveFetch(site string, status string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	scraperFetchesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		scraperBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveRetry counts one retried fetch.
func ObserveRetry(site string) {
	Init()
	scraperRetriesTotal.WithLabelValues(SanitizeSite(site)).Inc()
}

// ObserveRobotsBlocked counts one URL refused by robots.txt.
func ObserveRobotsBlocked(site string) {
	Init()
	scraperRobotsBlockedTotal.WithLabelValues(SanitizeSite(site)).Inc()
}

// ObserveRobotsFallback counts a robots.txt probe that fell back to allow-all.
func ObserveRobotsFallback() {
	Init()
	scraperRobotsFallbackTotal.Inc()
}

// ObserveCache counts a cache lookup as a hit or a miss.
func ObserveCache(hit bool) {
	Init()
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	scraperCacheLookupsTotal.WithLabelValues(outcome).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveJob increments the job counter for the given status.
func ObserveJob(status string) {
	Init()
	scraperJobsTotal.WithLabelValues(status).Inc()
}

// ObserveExport counts one export attempt.
func ObserveExport(format string, success bool) {
	Init()
	outcome := "failure"
	if success {
		outcome = "success"
	}
	scraperExportsTotal.WithLabelValues(format, outcome).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	scraperActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	scraperActiveWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	scraperRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
