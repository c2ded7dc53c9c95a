// Package logging holds the logger helpers shared by the runtime packages.
package logging

import (
	"crypto/rand"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewCorrelationID returns a ULID string. IDs sort by creation time, which
// keeps related log lines adjacent when grepping.
func NewCorrelationID(now time.Time) string {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return ulid.Make().String()
	}
	return id.String()
}

// WithCorrelation derives a logger tagged with a fresh correlation id and
// the given component name. Each long-lived component gets its own.
func WithCorrelation(log *slog.Logger, component string) *slog.Logger {
	if log == nil {
		log = slog.Default()
	}
	return log.With(
		"component", component,
		"correlation_id", NewCorrelationID(time.Time{}),
	)
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
