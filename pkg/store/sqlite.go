package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS expense_reports (
	id TEXT PRIMARY KEY,
	description TEXT NOT NULL,
	amount REAL NOT NULL CHECK (amount > 0),
	submitter_id TEXT NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('pending', 'approved', 'rejected', 'signed')),
	signature TEXT,
	public_key TEXT,
	content_digest TEXT,
	created_at TEXT NOT NULL,
	approved_at TEXT,
	approver_id TEXT,
	rejected_at TEXT,
	rejecter_id TEXT,
	signed_at TEXT,
	signer_id TEXT
);
CREATE INDEX IF NOT EXISTS idx_expense_reports_status ON expense_reports (status, created_at);`

// SQLiteStore is the lite-mode report.Repository.
type SQLiteStore struct {
	sqlStore
}

func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{sqlStore{db: db, dialect: dialect{textTime: true}}}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.ExecContext(context.Background(), sqliteSchema)
	return err
}

// OpenSQLite opens (creating if needed) the lite-mode database under dataDir.
func OpenSQLite(dataDir string) (*sql.DB, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	dsn := "file:" + filepath.Join(dataDir, "expenses.db") + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	return db, nil
}
