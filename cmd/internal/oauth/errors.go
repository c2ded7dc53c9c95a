package oauth

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState is returned when a callback presents an unknown,
	// expired or already-used state value.
	ErrInvalidState = errors.New("invalid oauth state")

	// ErrMalformedToken is returned when the token endpoint answers 2xx
	// with a body that is not a usable token response.
	ErrMalformedToken = errors.New("malformed token response")

	// ErrTokenRejected matches every TokenError.
	ErrTokenRejected = errors.New("token request rejected")
)

// TokenError carries the non-2xx answer of the token endpoint.
type TokenError struct {
	StatusCode int
	Body       string
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", ErrTokenRejected, e.StatusCode, e.Body)
}

func (e *TokenError) Unwrap() error { return ErrTokenRejected }
