package app

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	dbApplicationName = "doublecolonbot"
	dbPingTimeout     = 3 * time.Second

	// Credential and state rows are touched a few times a minute at most;
	// long-lived idle connections only hold server slots.
	dbMaxConnIdleTime   = 5 * time.Minute
	dbHealthCheckPeriod = 30 * time.Second
)

// dbPoolConfig parses the database URL and applies the bot's pool limits.
// An application_name given in the URL wins over the default.
func dbPoolConfig(cfg Config) (*pgxpool.Config, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	if cfg.DBMinConns > 0 && cfg.DBMinConns <= pcfg.MaxConns {
		pcfg.MinConns = cfg.DBMinConns
	}
	pcfg.MaxConnIdleTime = dbMaxConnIdleTime
	pcfg.HealthCheckPeriod = dbHealthCheckPeriod

	params := pcfg.ConnConfig.RuntimeParams
	if params["application_name"] == "" {
		params["application_name"] = dbApplicationName
	}
	return pcfg, nil
}

// NewDBPool opens the pool backing the credential and state stores and
// checks it can hand out a connection. Schema lives in migrations/ and is
// applied out of band.
func NewDBPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pcfg, err := dbPoolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	if err := PingDB(ctx, pool, dbPingTimeout); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// PingDB round-trips to the server within timeout.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	return pool.Ping(ctx)
}
