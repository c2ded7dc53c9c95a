package oauth

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// StateStore issues single-use state values for the authorization flow.
type StateStore interface {
	Create(ctx context.Context, now time.Time) (string, error)
	// Consume deletes state and reports whether it existed.
	Consume(ctx context.Context, state string) (bool, error)
	// DeleteBefore drops states created before cutoff.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// MemoryStateStore keeps states in process memory.
type MemoryStateStore struct {
	mu     sync.Mutex
	states map[string]time.Time
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string]time.Time)}
}

func (s *MemoryStateStore) Create(_ context.Context, now time.Time) (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[id.String()] = now
	return id.String(), nil
}

func (s *MemoryStateStore) Consume(_ context.Context, state string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.states[state]; !ok {
		return false, nil
	}
	delete(s.states, state)
	return true, nil
}

func (s *MemoryStateStore) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, created := range s.states {
		if created.Before(cutoff) {
			delete(s.states, k)
			n++
		}
	}
	return n, nil
}

// PostgresStateStore implements StateStore on the states table.
type PostgresStateStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStateStore(pool *pgxpool.Pool) *PostgresStateStore {
	return &PostgresStateStore{pool: pool}
}

func (s *PostgresStateStore) Create(ctx context.Context, now time.Time) (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO states (state, created_at) VALUES ($1, $2)`, id, now)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func (s *PostgresStateStore) Consume(ctx context.Context, state string) (bool, error) {
	id, err := uuid.Parse(state)
	if err != nil {
		return false, nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM states WHERE state = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStateStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM states WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
