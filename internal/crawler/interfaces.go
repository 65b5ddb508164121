package crawler

import (
	"context"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResult, error)
}

// Renderer returns the markup of a page after a browser has rendered it.
type Renderer interface {
	Render(ctx context.Context, request RenderRequest) (FetchResult, error)
}

// RenderDetector decides whether a plain fetch should be retried in a browser.
type RenderDetector interface {
	ShouldPromote(probe FetchResult) bool
}

// RobotsPolicy answers whether a URL may be fetched and how long to wait
// between requests to its host.
type RobotsPolicy interface {
	Check(ctx context.Context, rawURL string) (RobotsDecision, error)
}

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
