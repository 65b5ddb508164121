// Package queue defines the job queue contract shared by the worker pool and
// the scraper.
package queue

import (
	"errors"

	"github.com/JakeFAU/realtime-scraper/internal/crawler"
)

// ErrJobNotFound is returned when an operation names an unknown job ID.
var ErrJobNotFound = errors.New("job not found")

const (
	// DefaultPriority applies when a job is added with priority <= 0.
	DefaultPriority = 5
	// DefaultMaxRetries bounds how often a failing job is requeued.
	DefaultMaxRetries = 3
)

// JobSpec describes a job to enqueue.
type JobSpec struct {
	URL          string
	Options      crawler.Options
	Priority     int
	MaxRetries   int
	Schema       string
	Dependencies []string
}

// Queue is the lifecycle surface the worker pool drives. Implementations must
// be safe for concurrent use.
type Queue interface {
	// NextJob takes the first pending job whose dependencies have all
	// completed and marks it running in the same step.
	NextJob() (*crawler.Job, bool)
	MarkRunning(id string) error
	MarkCompleted(id string, result *crawler.Result) error
	MarkFailed(id string, errText string) error
	Progress() crawler.Progress
}
