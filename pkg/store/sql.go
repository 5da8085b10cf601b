package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nicolRB/LogWare/pkg/report"
)

// timeLayout is fixed width so text timestamps sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

const reportColumns = "id, description, amount, submitter_id, status, signature, public_key, content_digest, " +
	"created_at, approved_at, approver_id, rejected_at, rejecter_id, signed_at, signer_id"

// dialect captures what differs between the SQL backends.
type dialect struct {
	// numbered placeholders ($1, $2, ...) instead of ?
	numbered bool
	// timestamps written as fixed-width text instead of native values
	textTime bool
}

// sqlStore implements report.Repository over database/sql. Queries are
// written with ? placeholders and rebound per dialect.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
}

func (s *sqlStore) q(query string) string {
	if !s.dialect.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) timeArg(t time.Time) any {
	if s.dialect.textTime {
		return t.UTC().Format(timeLayout)
	}
	return t.UTC()
}

func (s *sqlStore) nullTimeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return s.timeArg(*t)
}

func (s *sqlStore) Create(ctx context.Context, r report.Report) error {
	query := s.q(`INSERT INTO expense_reports (` + reportColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.Description, r.Amount, r.SubmitterID, string(r.Status),
		nullString(r.Signature), nullJSON(r.PublicKey), nullString(r.ContentDigest),
		s.timeArg(r.CreatedAt),
		s.nullTimeArg(r.ApprovedAt), nullString(r.ApproverID),
		s.nullTimeArg(r.RejectedAt), nullString(r.RejecterID),
		s.nullTimeArg(r.SignedAt), nullString(r.SignerID),
	)
	if err != nil {
		return fmt.Errorf("failed to insert report: %w", err)
	}
	return nil
}

func (s *sqlStore) Get(ctx context.Context, id string) (report.Report, error) {
	query := s.q(`SELECT ` + reportColumns + ` FROM expense_reports WHERE id = ?`)
	r, err := scanReport(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return report.Report{}, report.NotFound(id)
	}
	if err != nil {
		return report.Report{}, fmt.Errorf("failed to load report %s: %w", id, err)
	}
	return r, nil
}

func (s *sqlStore) ListByStatus(ctx context.Context, status report.Status) ([]report.Report, error) {
	query := s.q(`SELECT ` + reportColumns + ` FROM expense_reports WHERE status = ? ORDER BY created_at ASC, id ASC`)
	rows, err := s.db.QueryContext(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]report.Report, 0)
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Transition is a single conditional UPDATE. Zero affected rows means the
// report is missing or another writer moved it first.
func (s *sqlStore) Transition(ctx context.Context, id string, change report.Change) (report.Report, error) {
	var (
		set  string
		args []any
	)
	switch change.Transition {
	case report.TransitionApprove:
		set = "approved_at = ?, approver_id = ?"
		args = []any{s.timeArg(change.At), change.ActorID}
	case report.TransitionReject:
		set = "rejected_at = ?, rejecter_id = ?"
		args = []any{s.timeArg(change.At), change.ActorID}
	case report.TransitionSign:
		if change.Attestation == nil {
			return report.Report{}, report.Validation("signature", "attestation is required")
		}
		set = "signed_at = ?, signer_id = ?, signature = ?, public_key = ?, content_digest = ?"
		args = []any{
			s.timeArg(change.At), change.ActorID,
			change.Attestation.Signature, string(change.Attestation.PublicKey), change.Attestation.ContentDigest,
		}
	default:
		return report.Report{}, fmt.Errorf("unknown transition %q", change.Transition)
	}

	query := s.q(`UPDATE expense_reports SET status = ?, ` + set + ` WHERE id = ? AND status = ?`)
	args = append([]any{string(change.To)}, args...)
	args = append(args, id, string(change.From))

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return report.Report{}, fmt.Errorf("failed to %s report %s: %w", change.Transition, id, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return report.Report{}, err
	}
	if rows == 0 {
		return report.Report{}, s.refusal(ctx, id, change.Transition)
	}
	return s.Get(ctx, id)
}

func (s *sqlStore) refusal(ctx context.Context, id string, t report.Transition) error {
	var current string
	err := s.db.QueryRowContext(ctx, s.q(`SELECT status FROM expense_reports WHERE id = ?`), id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return report.NotFound(id)
	}
	if err != nil {
		return fmt.Errorf("failed to read status of report %s: %w", id, err)
	}
	return report.InvalidTransition(id, report.Status(current), t)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner) (report.Report, error) {
	var (
		r                              report.Report
		status                         string
		signature, publicKey, digest   sql.NullString
		approverID, rejecterID, signer sql.NullString
		createdAt                      dbTime
		approvedAt, rejectedAt         dbTime
		signedAt                       dbTime
	)
	err := row.Scan(
		&r.ID, &r.Description, &r.Amount, &r.SubmitterID, &status,
		&signature, &publicKey, &digest,
		&createdAt, &approvedAt, &approverID, &rejectedAt, &rejecterID, &signedAt, &signer,
	)
	if err != nil {
		return report.Report{}, err
	}

	r.Status = report.Status(status)
	r.Signature = signature.String
	if publicKey.Valid && publicKey.String != "" {
		r.PublicKey = json.RawMessage(publicKey.String)
	}
	r.ContentDigest = digest.String
	r.CreatedAt = createdAt.Time
	r.ApprovedAt = approvedAt.ptr()
	r.ApproverID = approverID.String
	r.RejectedAt = rejectedAt.ptr()
	r.RejecterID = rejecterID.String
	r.SignedAt = signedAt.ptr()
	r.SignerID = signer.String
	return r, nil
}

// dbTime scans native timestamps as well as the text form SQLite stores.
type dbTime struct {
	Time  time.Time
	Valid bool
}

func (t *dbTime) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		t.Time, t.Valid = time.Time{}, false
		return nil
	case time.Time:
		t.Time, t.Valid = v.UTC(), true
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	}
	return fmt.Errorf("cannot scan %T into timestamp", value)
}

func (t *dbTime) parse(s string) error {
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	t.Time, t.Valid = parsed.UTC(), true
	return nil
}

func (t dbTime) ptr() *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullString(s string) driver.Value {
	if s == "" {
		return nil
	}
	return s
}

func nullJSON(raw json.RawMessage) driver.Value {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
