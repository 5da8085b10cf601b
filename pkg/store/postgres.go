package store

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS expense_reports (
	id TEXT PRIMARY KEY,
	description TEXT NOT NULL,
	amount DOUBLE PRECISION NOT NULL CHECK (amount > 0),
	submitter_id TEXT NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('pending', 'approved', 'rejected', 'signed')),
	signature TEXT,
	public_key TEXT,
	content_digest TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	approved_at TIMESTAMPTZ,
	approver_id TEXT,
	rejected_at TIMESTAMPTZ,
	rejecter_id TEXT,
	signed_at TIMESTAMPTZ,
	signer_id TEXT,
	CHECK (
		(signature IS NULL AND public_key IS NULL AND content_digest IS NULL) OR
		(signature IS NOT NULL AND public_key IS NOT NULL AND content_digest IS NOT NULL)
	)
);

CREATE INDEX IF NOT EXISTS idx_expense_reports_status ON expense_reports (status, created_at);
`

// PostgresStore is the durable report.Repository.
type PostgresStore struct {
	sqlStore
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{sqlStore{db: db, dialect: dialect{numbered: true}}}
}

// Init creates the schema if it does not exist.
func (s *PostgresStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, pgSchema)
	return err
}
