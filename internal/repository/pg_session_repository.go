package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgSessionStore keeps session values in the session_values table.
type PgSessionStore struct {
	pool *pgxpool.Pool
	ttl  time.Duration
}

var _ SessionStore = (*PgSessionStore)(nil)

// NewPgSessionStore returns a PostgreSQL-backed SessionStore.
func NewPgSessionStore(pool *pgxpool.Pool, ttl time.Duration) *PgSessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &PgSessionStore{pool: pool, ttl: ttl}
}

func (r *PgSessionStore) Get(ctx context.Context, sessionID, key string) (string, error) {
	var value string
	err := r.pool.QueryRow(ctx,
		`SELECT value FROM session_values WHERE session_id = $1 AND key = $2 AND expires_at > now()`,
		sessionID, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return value, err
}

func (r *PgSessionStore) Set(ctx context.Context, sessionID, key, value string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO session_values (session_id, key, value, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (session_id, key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`,
		sessionID, key, value, time.Now().Add(r.ttl))
	return err
}

// Take deletes the row and returns its value in one statement. An expired row
// is removed as well but reported as ErrNotFound.
func (r *PgSessionStore) Take(ctx context.Context, sessionID, key string) (string, error) {
	var (
		value     string
		expiresAt time.Time
	)
	err := r.pool.QueryRow(ctx,
		`DELETE FROM session_values WHERE session_id = $1 AND key = $2 RETURNING value, expires_at`,
		sessionID, key).Scan(&value, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if time.Now().After(expiresAt) {
		return "", ErrNotFound
	}
	return value, nil
}

func (r *PgSessionStore) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// PurgeExpired deletes expired rows and returns how many were removed.
func (r *PgSessionStore) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM session_values WHERE expires_at <= now()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
