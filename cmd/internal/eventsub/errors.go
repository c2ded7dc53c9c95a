package eventsub

import (
	"errors"
	"fmt"

	v1 "github.com/DJDavid98/DoubleColonBot/shared/contracts/eventsub/v1"
)

var (
	// ErrSubscriptionCreateFailed marks a subject whose create call failed.
	// The subject stays tracked without an external id until the next
	// welcome.
	ErrSubscriptionCreateFailed = errors.New("eventsub: subscription create failed")

	// ErrMalformedMessage is the decode error for frames that are dropped.
	ErrMalformedMessage = v1.ErrMalformed

	// ErrConnectionLost is logged when a live connection goes away. It is
	// never returned to callers; liveness drives the reconnect.
	ErrConnectionLost = errors.New("eventsub: connection lost")

	// ErrClosed is returned by calls made after Run has exited.
	ErrClosed = errors.New("eventsub: manager closed")

	ErrUnsupportedType = errors.New("eventsub: unsupported subscription type")
)

// CreateError records a failed create for one subject.
type CreateError struct {
	Type      string
	SubjectID string
	Err       error
}

func (e *CreateError) Error() string {
	return fmt.Sprintf("eventsub: create %s for %s: %v", e.Type, e.SubjectID, e.Err)
}

func (e *CreateError) Unwrap() []error { return []error{ErrSubscriptionCreateFailed, e.Err} }
