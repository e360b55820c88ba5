package viewsync

import (
	"errors"
	"fmt"
)

// HTTPError is a non-2xx response from a view endpoint.
type HTTPError struct {
	StatusCode int
	Status     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Status)
}

// IsStatus reports whether err wraps an HTTPError with the given code.
func IsStatus(err error, code int) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == code
	}
	return false
}

var (
	// ErrRefreshInFlight is returned when a refresh for the same role is
	// still outstanding. Nothing is sent.
	ErrRefreshInFlight = errors.New("refresh already in flight")

	// ErrStaleResponse is returned when a newer response for the role was
	// applied first. The stale response is discarded.
	ErrStaleResponse = errors.New("stale view response")
)
