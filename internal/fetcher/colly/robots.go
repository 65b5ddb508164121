package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/JakeFAU/realtime-scraper/internal/crawler"
	"github.com/JakeFAU/realtime-scraper/internal/metrics"
)

const allowAllRobots = "User-agent: *\nAllow: /"

// robotsProbeTransport fetches robots.txt with a short retry budget. When
// every attempt times out it answers with an allow-all file so a slow host
// does not stall its pages. Other requests pass straight through.
type robotsProbeTransport struct {
	base  http.RoundTripper
	retry *crawler.RetryPolicy
}

func newRobotsProbeTransport(base http.RoundTripper) *robotsProbeTransport {
	return &robotsProbeTransport{
		base: base,
		retry: &crawler.RetryPolicy{
			MaxAttempts:  4,
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2,
			MaxDelay:     time.Second,
		},
	}
}

// probeTimeout marks a probe failure as a timeout so RetryPolicy retries it.
type probeTimeout struct{ err error }

func (e *probeTimeout) Error() string { return e.err.Error() }
func (e *probeTimeout) Unwrap() error { return e.err }
func (e *probeTimeout) Timeout() bool { return true }
func (e *probeTimeout) Temporary() bool { return true }

var _ net.Error = (*probeTimeout)(nil)

func (t *robotsProbeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("robots probe: nil request")
	}
	if !strings.EqualFold(req.URL.Path, "/robots.txt") {
		return t.base.RoundTrip(req)
	}

	var resp *http.Response
	err := t.retry.Do(req.Context(), func(ctx context.Context, _ int) error {
		r, err := t.base.RoundTrip(req.Clone(ctx))
		if err != nil {
			if probeTimedOut(err) {
				return &probeTimeout{err: err}
			}
			return err
		}
		resp = r
		return nil
	})

	var timeout *probeTimeout
	switch {
	case err == nil:
		return resp, nil
	case errors.As(err, &timeout) && req.Context().Err() == nil:
		metrics.ObserveRobotsFallback()
		return allowAllResponse(req), nil
	default:
		return nil, fmt.Errorf("robots probe %s: %w", req.URL.Host, err)
	}
}

func probeTimedOut(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}

func allowAllResponse(req *http.Request) *http.Response {
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": []string{"text/plain"}},
		Body:          io.NopCloser(strings.NewReader(allowAllRobots)),
		ContentLength: int64(len(allowAllRobots)),
		Request:       req,
	}
}
