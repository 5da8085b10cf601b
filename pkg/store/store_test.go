package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicolRB/LogWare/pkg/report"
)

var base = time.Date(2026, 3, 14, 9, 30, 0, 123456000, time.UTC)

func newReport(id string, created time.Time) report.Report {
	return report.Report{
		ID:          id,
		Description: "Taxi",
		Amount:      45.50,
		SubmitterID: "u1",
		Status:      report.StatusPending,
		CreatedAt:   created,
	}
}

func approveChange(at time.Time) report.Change {
	return report.Change{
		Transition: report.TransitionApprove,
		From:       report.StatusPending,
		To:         report.StatusApproved,
		At:         at,
		ActorID:    "m1",
	}
}

func signChange(at time.Time) report.Change {
	return report.Change{
		Transition: report.TransitionSign,
		From:       report.StatusApproved,
		To:         report.StatusSigned,
		At:         at,
		ActorID:    "d1",
		Attestation: &report.Attestation{
			Signature:     "c2ln",
			PublicKey:     json.RawMessage(`{"kty":"RSA","n":"AQAB","e":"AQAB"}`),
			ContentDigest: "ZGlnZXN0",
		},
	}
}

func openTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	s, err := NewSQLiteStore(db)
	require.NoError(t, err)
	return s
}

// repositories runs fn against every backend that needs no external server.
func repositories(t *testing.T, fn func(t *testing.T, repo report.Repository)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStore()) })
	t.Run("sqlite", func(t *testing.T) { fn(t, openTestSQLite(t)) })
}

func TestRepository_CreateGet(t *testing.T) {
	repositories(t, func(t *testing.T, repo report.Repository) {
		ctx := context.Background()
		require.NoError(t, repo.Create(ctx, newReport("r1", base)))

		got, err := repo.Get(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, "Taxi", got.Description)
		assert.Equal(t, 45.50, got.Amount)
		assert.Equal(t, report.StatusPending, got.Status)
		assert.True(t, base.Equal(got.CreatedAt))
		assert.Nil(t, got.ApprovedAt)
		assert.Empty(t, got.Signature)
		assert.Nil(t, got.PublicKey)

		_, err = repo.Get(ctx, "missing")
		assert.True(t, errors.Is(err, report.ErrNotFound))
	})
}

func TestRepository_TransitionGuard(t *testing.T) {
	repositories(t, func(t *testing.T, repo report.Repository) {
		ctx := context.Background()
		require.NoError(t, repo.Create(ctx, newReport("r1", base)))

		approved, err := repo.Transition(ctx, "r1", approveChange(base.Add(time.Minute)))
		require.NoError(t, err)
		assert.Equal(t, report.StatusApproved, approved.Status)
		require.NotNil(t, approved.ApprovedAt)
		assert.True(t, base.Add(time.Minute).Equal(*approved.ApprovedAt))
		assert.Equal(t, "m1", approved.ApproverID)

		// approving twice is refused with the observed status
		_, err = repo.Transition(ctx, "r1", approveChange(base.Add(2*time.Minute)))
		require.Error(t, err)
		var rerr *report.Error
		require.True(t, errors.As(err, &rerr))
		assert.Equal(t, report.KindInvalidTransition, rerr.Kind)
		assert.Equal(t, report.StatusApproved, rerr.Current)

		signed, err := repo.Transition(ctx, "r1", signChange(base.Add(3*time.Minute)))
		require.NoError(t, err)
		assert.Equal(t, report.StatusSigned, signed.Status)
		assert.Equal(t, "c2ln", signed.Signature)
		assert.JSONEq(t, `{"kty":"RSA","n":"AQAB","e":"AQAB"}`, string(signed.PublicKey))
		assert.Equal(t, "ZGlnZXN0", signed.ContentDigest)
		assert.Equal(t, "d1", signed.SignerID)

		_, err = repo.Transition(ctx, "missing", approveChange(base))
		assert.True(t, errors.Is(err, report.ErrNotFound))
	})
}

func TestRepository_ListByStatusOrdered(t *testing.T) {
	repositories(t, func(t *testing.T, repo report.Repository) {
		ctx := context.Background()
		require.NoError(t, repo.Create(ctx, newReport("b", base.Add(2*time.Second))))
		require.NoError(t, repo.Create(ctx, newReport("a", base.Add(time.Second))))
		require.NoError(t, repo.Create(ctx, newReport("c", base.Add(500*time.Millisecond))))
		_, err := repo.Transition(ctx, "a", approveChange(base.Add(time.Hour)))
		require.NoError(t, err)

		pending, err := repo.ListByStatus(ctx, report.StatusPending)
		require.NoError(t, err)
		require.Len(t, pending, 2)
		assert.Equal(t, "c", pending[0].ID)
		assert.Equal(t, "b", pending[1].ID)

		signed, err := repo.ListByStatus(ctx, report.StatusSigned)
		require.NoError(t, err)
		assert.Empty(t, signed)
	})
}

func TestRepository_ConcurrentSignHasOneWinner(t *testing.T) {
	repositories(t, func(t *testing.T, repo report.Repository) {
		ctx := context.Background()
		require.NoError(t, repo.Create(ctx, newReport("r1", base)))
		_, err := repo.Transition(ctx, "r1", approveChange(base))
		require.NoError(t, err)

		const writers = 8
		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			wins     int
			refusals int
		)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := repo.Transition(ctx, "r1", signChange(base.Add(time.Minute)))
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					wins++
				case errors.Is(err, report.ErrInvalidTransition):
					refusals++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, wins)
		assert.Equal(t, writers-1, refusals)
	})
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newReport("r1", base)))
	_, err := s.Transition(ctx, "r1", approveChange(base))
	require.NoError(t, err)
	got, err := s.Transition(ctx, "r1", signChange(base))
	require.NoError(t, err)

	got.PublicKey[0] = 'X'
	*got.ApprovedAt = time.Time{}

	again, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, byte('{'), again.PublicKey[0])
	assert.False(t, again.ApprovedAt.IsZero())
}

func TestMemoryStore_DuplicateID(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newReport("r1", base)))
	assert.Error(t, s.Create(ctx, newReport("r1", base)))
}

func TestSQLiteStore_TimestampLayoutSortsChronologically(t *testing.T) {
	a := base.Add(100 * time.Millisecond).Format(timeLayout)
	b := base.Add(120 * time.Millisecond).Format(timeLayout)
	assert.Less(t, a, b)
}
