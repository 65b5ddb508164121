package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/realtime-scraper/internal/crawler"
)

// Type names a lifecycle milestone.
type Type string

// Lifecycle event types.
const (
	TypeScrapeStart     Type = "scrape_start"
	TypeScrapeComplete  Type = "scrape_complete"
	TypeScrapeError     Type = "scrape_error"
	TypeJobAdded        Type = "job_added"
	TypeJobStart        Type = "job_start"
	TypeJobComplete     Type = "job_complete"
	TypeJobError        Type = "job_error"
	TypeBatchStart      Type = "batch_start"
	TypeBatchComplete   Type = "batch_complete"
	TypeProcessingStart Type = "processing_start"
	TypeProcessingStop  Type = "processing_stop"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event is one lifecycle notification.
type Event struct {
	// Seq is assigned by the Hub, starting at 1, in emission order.
	Seq uint64
	// Type denotes which milestone occurred.
	Type Type
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// JobID is set for job_* events.
	JobID string
	// URL is the page the event is about, when there is one.
	URL string
	// Job is a snapshot of the job for job_* events.
	Job *crawler.Job
	// Result is set on scrape_complete and job_complete.
	Result *crawler.Result
	// Err carries the failure text for *_error events.
	Err string
	// Dur is the elapsed time of the completed unit of work.
	Dur time.Duration
	// Count is the number of URLs or results a batch event refers to.
	Count int
	// StatusCode is the HTTP status of the fetch behind a scrape event.
	StatusCode int
	// Bytes is the response size behind a scrape event.
	Bytes int64
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Type {
	case TypeJobAdded, TypeJobStart, TypeJobComplete, TypeJobError:
		if e.JobID == "" {
			return fmt.Errorf("%s requires job id", e.Type)
		}
	case TypeScrapeStart, TypeScrapeComplete, TypeScrapeError:
		if e.URL == "" {
			return fmt.Errorf("%s requires url", e.Type)
		}
	case TypeBatchStart, TypeBatchComplete, TypeProcessingStart, TypeProcessingStop:
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// ClassifyStatus groups HTTP status codes.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
