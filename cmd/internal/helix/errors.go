package helix

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrAuthExpired is matched by a StatusError for a 401 that survived the
	// refresh-and-retry attempt (or that was not allowed to refresh).
	ErrAuthExpired = errors.New("platform api: access token rejected")

	ErrUnknownEndpoint = errors.New("platform api: unknown endpoint")
	ErrBadParams       = errors.New("platform api: invalid parameters")
)

// StatusError is returned for every non-2xx response. The response itself
// is still returned alongside it.
type StatusError struct {
	Endpoint   Endpoint
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("platform api: %s: status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized {
		return ErrAuthExpired
	}
	return nil
}

// StatusCode extracts the HTTP status from err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}
