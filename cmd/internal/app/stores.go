package app

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/DJDavid98/DoubleColonBot/cmd/internal/credential"
	"github.com/DJDavid98/DoubleColonBot/cmd/internal/oauth"
)

// stores groups the persistence the bot needs. With no database configured
// everything lives in memory and is lost on restart.
type stores struct {
	pool        *pgxpool.Pool
	credentials credential.Store
	states      oauth.StateStore
}

func (s stores) dbEnabled() bool { return s.pool != nil }

func (s stores) Close(_ context.Context) error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// newStores decides between Postgres-backed persistence and in-memory dev stores.
func newStores(ctx context.Context, cfg Config, log Logger) (stores, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return stores{
			credentials: credential.NewMemoryStore(),
			states:      oauth.NewMemoryStateStore(),
		}, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return stores{}, err
	}
	log.Info("db.enabled.postgres_store")

	// The app owns the pool; the stores only borrow it.
	return stores{
		pool:        pool,
		credentials: credential.NewPostgresStore(pool),
		states:      oauth.NewPostgresStateStore(pool),
	}, nil
}
