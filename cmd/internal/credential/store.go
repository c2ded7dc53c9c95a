package credential

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
)

// Store persists credentials keyed by user id.
type Store interface {
	GetByUserID(ctx context.Context, userID string) (Credential, error)
	GetByLogin(ctx context.Context, login string) (Credential, error)
	GetByAccessToken(ctx context.Context, accessToken string) (Credential, error)
	// Put inserts or replaces the credential for c.UserID.
	Put(ctx context.Context, c Credential) error
	List(ctx context.Context) ([]Credential, error)
}

// MemoryStore keeps credentials in process memory. It backs local runs
// without a database and the package tests.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string]Credential
}

func NewMemoryStore(seed ...Credential) *MemoryStore {
	s := &MemoryStore{rows: make(map[string]Credential, len(seed))}
	for _, c := range seed {
		s.rows[c.UserID] = clone(c)
	}
	return s
}

func (s *MemoryStore) GetByUserID(_ context.Context, userID string) (Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.rows[userID]
	if !ok {
		return Credential{}, ErrNotFound
	}
	return clone(c), nil
}

func (s *MemoryStore) GetByLogin(_ context.Context, login string) (Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.rows {
		if strings.EqualFold(c.Login, login) {
			return clone(c), nil
		}
	}
	return Credential{}, ErrNotFound
}

func (s *MemoryStore) GetByAccessToken(_ context.Context, accessToken string) (Credential, error) {
	if accessToken == "" {
		return Credential{}, ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.rows {
		if c.AccessToken == accessToken {
			return clone(c), nil
		}
	}
	return Credential{}, ErrNotFound
}

func (s *MemoryStore) Put(_ context.Context, c Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[c.UserID] = clone(c)
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Credential, 0, len(s.rows))
	for _, c := range s.rows {
		out = append(out, clone(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Login < out[j].Login })
	return out, nil
}

func clone(c Credential) Credential {
	c.Scopes = slices.Clone(c.Scopes)
	return c
}
