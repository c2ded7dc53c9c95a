package credential

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no stored credential matches the lookup.
	ErrNotFound = errors.New("credential not found")

	// ErrRefreshFailed is returned when a token could not be refreshed.
	// The credential is left untouched.
	ErrRefreshFailed = errors.New("credential refresh failed")
)

// RefreshError describes a failed refresh. It matches ErrRefreshFailed and
// the underlying cause with errors.Is.
type RefreshError struct {
	Stage  string
	UserID string
	Err    error
}

func (e *RefreshError) Error() string {
	if e.UserID == "" {
		return fmt.Sprintf("%s: %s: %v", ErrRefreshFailed, e.Stage, e.Err)
	}
	return fmt.Sprintf("%s: %s (user %s): %v", ErrRefreshFailed, e.Stage, e.UserID, e.Err)
}

func (e *RefreshError) Unwrap() []error { return []error{ErrRefreshFailed, e.Err} }
