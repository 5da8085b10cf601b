package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const idempotencySchema = `
CREATE TABLE IF NOT EXISTS idempotency_keys (
	key         TEXT PRIMARY KEY,
	status_code INTEGER NOT NULL,
	headers     JSONB NOT NULL DEFAULT '{}',
	body        BYTEA NOT NULL,
	cached_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_idempotency_cached_at ON idempotency_keys (cached_at);
`

// PostgresIdempotencyStore provides durable idempotency enforcement backed by PostgreSQL.
type PostgresIdempotencyStore struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// NewPostgresIdempotencyStore creates a new PostgreSQL-backed idempotency store.
func NewPostgresIdempotencyStore(db *sql.DB, ttl time.Duration) *PostgresIdempotencyStore {
	return &PostgresIdempotencyStore{db: db, ttl: ttl, now: time.Now}
}

// Init creates the idempotency_keys table.
func (s *PostgresIdempotencyStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, idempotencySchema)
	return err
}

// Check returns a cached response if the idempotency key was seen before and is within TTL.
func (s *PostgresIdempotencyStore) Check(ctx context.Context, key string) (*CachedResponse, bool, error) {
	var (
		statusCode int
		headers    []byte
		body       []byte
		cachedAt   time.Time
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT status_code, headers, body, cached_at FROM idempotency_keys WHERE key = $1`,
		key,
	).Scan(&statusCode, &headers, &body, &cachedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("idempotency lookup: %w", err)
	}

	if s.now().Sub(cachedAt) > s.ttl {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE key = $1`, key)
		return nil, false, nil
	}

	hdr := make(http.Header)
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &hdr); err != nil {
			return nil, false, fmt.Errorf("idempotency headers: %w", err)
		}
	}
	return &CachedResponse{
		StatusCode: statusCode,
		Headers:    hdr,
		Body:       body,
		CachedAt:   cachedAt,
	}, true, nil
}

// Set stores an idempotency key and its response.
func (s *PostgresIdempotencyStore) Set(ctx context.Context, key string, resp CachedResponse) error {
	headers, err := json.Marshal(resp.Headers)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO idempotency_keys (key, status_code, headers, body, cached_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (key) DO UPDATE SET status_code = $2, headers = $3, body = $4, cached_at = $5`,
		key, resp.StatusCode, headers, resp.Body, s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("idempotency store %s: %w", key, err)
	}
	return nil
}

// Cleanup removes expired idempotency keys older than the TTL.
func (s *PostgresIdempotencyStore) Cleanup(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM idempotency_keys WHERE cached_at < $1`,
		s.now().Add(-s.ttl).UTC(),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
