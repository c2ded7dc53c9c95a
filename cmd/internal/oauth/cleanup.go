package oauth

import (
	"context"
	"log/slog"
	"time"

	"github.com/DJDavid98/DoubleColonBot/cmd/internal/clock"
)

// DefaultStateTTL is how long a user has to finish the authorization flow.
const DefaultStateTTL = time.Hour

// RunStateCleanup deletes expired states once immediately and then every
// ttl until ctx is done.
func RunStateCleanup(ctx context.Context, log *slog.Logger, store StateStore, ttl time.Duration, c clock.Clock) {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	if c == nil {
		c = clock.Real()
	}

	for {
		n, err := store.DeleteBefore(ctx, c.Now().Add(-ttl))
		if err != nil && ctx.Err() == nil {
			log.Warn("oauth.state.cleanup_failed", "err", err)
		} else if n > 0 {
			log.Info("oauth.state.cleanup", "deleted", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-c.After(ttl):
		}
	}
}
