package credential

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on the users table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const selectCredential = `
	SELECT id, login, display_name, access_token, refresh_token, scope, expires
	FROM users
`

func (s *PostgresStore) GetByUserID(ctx context.Context, userID string) (Credential, error) {
	return s.getOne(ctx, selectCredential+`WHERE id = $1`, userID)
}

func (s *PostgresStore) GetByLogin(ctx context.Context, login string) (Credential, error) {
	return s.getOne(ctx, selectCredential+`WHERE login = $1`, strings.ToLower(login))
}

func (s *PostgresStore) GetByAccessToken(ctx context.Context, accessToken string) (Credential, error) {
	if accessToken == "" {
		return Credential{}, ErrNotFound
	}
	return s.getOne(ctx, selectCredential+`WHERE access_token = $1`, accessToken)
}

// Put upserts on id. Login and display name follow the platform, so they
// are overwritten along with the tokens.
func (s *PostgresStore) Put(ctx context.Context, c Credential) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, login, display_name, access_token, refresh_token, scope, expires)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			login = EXCLUDED.login,
			display_name = EXCLUDED.display_name,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			scope = EXCLUDED.scope,
			expires = EXCLUDED.expires
	`,
		c.UserID,
		strings.ToLower(c.Login),
		c.DisplayName,
		nullIfEmpty(c.AccessToken),
		nullIfEmpty(c.RefreshToken),
		c.Scopes,
		nullIfZero(c.ExpiresAt),
	)
	return err
}

func (s *PostgresStore) List(ctx context.Context) ([]Credential, error) {
	rows, err := s.pool.Query(ctx, selectCredential+`ORDER BY login`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) getOne(ctx context.Context, query string, arg any) (Credential, error) {
	c, err := scanCredential(s.pool.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return Credential{}, ErrNotFound
	}
	if err != nil {
		return Credential{}, err
	}
	return c, nil
}

func scanCredential(row pgx.Row) (Credential, error) {
	var (
		c       Credential
		access  *string
		refresh *string
		expires *time.Time
	)
	if err := row.Scan(&c.UserID, &c.Login, &c.DisplayName, &access, &refresh, &c.Scopes, &expires); err != nil {
		return Credential{}, err
	}
	if access != nil {
		c.AccessToken = *access
	}
	if refresh != nil {
		c.RefreshToken = *refresh
	}
	if expires != nil {
		c.ExpiresAt = expires.UTC()
	}
	return c, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullIfZero(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
