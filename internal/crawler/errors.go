package crawler

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrRobotsDisallowed is returned when robots.txt forbids a URL.
var ErrRobotsDisallowed = errors.New("disallowed by robots.txt")

// StatusError reports an HTTP response with a status code of 400 or above.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d %s: %s", e.Code, http.StatusText(e.Code), e.URL)
}

// Temporary reports whether the server signaled a transient failure.
func (e *StatusError) Temporary() bool {
	return e.Code >= http.StatusInternalServerError
}
