// Package progress carries scraper lifecycle events from the orchestrator to
// observers. A Hub batches events on a background goroutine and fans them out
// in emission order to pluggable sinks such as a zap logger, Prometheus
// counters or caller-supplied observer functions.
package progress
