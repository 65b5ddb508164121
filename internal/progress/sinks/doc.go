// Package sinks holds the progress.Sink implementations the scraper wires by
// default: a zap line per event and Prometheus collectors for queue, page and
// batch activity.
package sinks
