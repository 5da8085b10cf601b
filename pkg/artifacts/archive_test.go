package artifacts

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicolRB/LogWare/pkg/attest"
	"github.com/nicolRB/LogWare/pkg/report"
)

func signedReport(t *testing.T) report.Report {
	t.Helper()
	created := time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC)
	approved := created.Add(time.Hour)
	r := report.Report{
		ID:          "r-7",
		Description: "Hotel",
		Amount:      310,
		SubmitterID: "u1",
		Status:      report.StatusApproved,
		CreatedAt:   created,
		ApprovedAt:  &approved,
		ApproverID:  "m1",
	}
	signer, err := attest.GenerateKey(attest.ES256)
	require.NoError(t, err)
	a, err := signer.Attest(r)
	require.NoError(t, err)
	report.Change{
		Transition:  report.TransitionSign,
		From:        report.StatusApproved,
		To:          report.StatusSigned,
		At:          approved.Add(time.Hour),
		ActorID:     "d1",
		Attestation: &a,
	}.Apply(&r)
	return r
}

func TestArchive_PutGet(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "evidence"))
	require.NoError(t, err)
	archive := NewArchive(store)
	archive.now = func() time.Time { return time.Date(2026, 5, 3, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	r := signedReport(t)
	hash, err := archive.Put(ctx, r)
	require.NoError(t, err)

	again, err := archive.Put(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, hash, again, "same report and time give the same blob")

	b, res, err := archive.Get(ctx, hash)
	require.NoError(t, err)
	assert.True(t, res.Valid, res.Reason)
	assert.Equal(t, "r-7", b.Report.ID)
	assert.Equal(t, attest.BundleVersion, b.Version)
}

func TestArchive_RefusesUnsigned(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	r := signedReport(t)
	r.Status = report.StatusApproved
	_, err = NewArchive(store).Put(context.Background(), r)
	assert.ErrorIs(t, err, attest.ErrIncomplete)
}

func TestArchive_NotConfigured(t *testing.T) {
	var a *Archive
	_, err := a.Put(context.Background(), report.Report{})
	assert.Error(t, err)
}
