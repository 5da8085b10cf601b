package report_test

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicolRB/LogWare/pkg/report"
	"github.com/nicolRB/LogWare/pkg/store"
)

var t0 = time.Date(2026, 5, 2, 8, 0, 0, 987654321, time.UTC)

type stepClock struct{ now time.Time }

func (c *stepClock) Now() time.Time {
	c.now = c.now.Add(time.Second)
	return c.now
}

func newManager() (*report.Manager, *stepClock) {
	clock := &stepClock{now: t0}
	n := 0
	ids := func() string {
		n++
		return "rep-" + string(rune('0'+n))
	}
	return report.NewManager(store.NewMemoryStore(), report.WithClock(clock.Now), report.WithIDGenerator(ids)), clock
}

func attestation() report.Attestation {
	return report.Attestation{
		Signature:     "c2lnbmF0dXJl",
		PublicKey:     json.RawMessage(`{"kty":"RSA","alg":"RS256","n":"xyz","e":"AQAB"}`),
		ContentDigest: "ZGlnZXN0",
	}
}

func TestSubmit(t *testing.T) {
	m, _ := newManager()
	r, err := m.Submit(context.Background(), report.SubmitInput{Description: "  Taxi ", Amount: 45.50, SubmitterID: "u1"})
	require.NoError(t, err)

	assert.Equal(t, "rep-1", r.ID)
	assert.Equal(t, "Taxi", r.Description)
	assert.Equal(t, report.StatusPending, r.Status)
	assert.Equal(t, "u1", r.SubmitterID)
	assert.Equal(t, time.UTC, r.CreatedAt.Location())
	assert.Zero(t, r.CreatedAt.Nanosecond()%1000, "timestamps are truncated to microseconds")
	_, signed := r.Attestation()
	assert.False(t, signed)
}

func TestSubmit_Validation(t *testing.T) {
	m, _ := newManager()
	cases := []struct {
		name  string
		in    report.SubmitInput
		field string
	}{
		{"empty description", report.SubmitInput{Description: "   ", Amount: 1, SubmitterID: "u1"}, "description"},
		{"long description", report.SubmitInput{Description: strings.Repeat("x", report.MaxDescriptionLength+1), Amount: 1, SubmitterID: "u1"}, "description"},
		{"zero amount", report.SubmitInput{Description: "Taxi", Amount: 0, SubmitterID: "u1"}, "amount"},
		{"negative amount", report.SubmitInput{Description: "Taxi", Amount: -3, SubmitterID: "u1"}, "amount"},
		{"NaN amount", report.SubmitInput{Description: "Taxi", Amount: math.NaN(), SubmitterID: "u1"}, "amount"},
		{"infinite amount", report.SubmitInput{Description: "Taxi", Amount: math.Inf(1), SubmitterID: "u1"}, "amount"},
		{"missing submitter", report.SubmitInput{Description: "Taxi", Amount: 1}, "submitterId"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := m.Submit(context.Background(), tc.in)
			require.True(t, errors.Is(err, report.ErrValidation), "got %v", err)
			var rerr *report.Error
			require.True(t, errors.As(err, &rerr))
			assert.Equal(t, tc.field, rerr.Field)
		})
	}
}

func TestSubmit_NormalizesDescription(t *testing.T) {
	m, _ := newManager()
	// "e" followed by a combining acute accent
	r, err := m.Submit(context.Background(), report.SubmitInput{Description: "Cafe\u0301", Amount: 3, SubmitterID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "Caf\u00e9", r.Description)
}

func TestScenario_SubmitApproveSign(t *testing.T) {
	m, _ := newManager()
	ctx := context.Background()

	r, err := m.Submit(ctx, report.SubmitInput{Description: "Taxi", Amount: 45.50, SubmitterID: "u1"})
	require.NoError(t, err)

	r, err = m.Approve(ctx, r.ID, "m1")
	require.NoError(t, err)
	assert.Equal(t, report.StatusApproved, r.Status)
	require.NotNil(t, r.ApprovedAt)
	assert.Equal(t, "m1", r.ApproverID)

	r, err = m.AttachSignature(ctx, r.ID, attestation(), "d1")
	require.NoError(t, err)
	assert.Equal(t, report.StatusSigned, r.Status)
	require.NotNil(t, r.SignedAt)
	assert.True(t, r.SignedAt.After(*r.ApprovedAt))
	a, ok := r.Attestation()
	require.True(t, ok)
	assert.Equal(t, attestation().Signature, a.Signature)

	signed, err := m.ListByStatus(ctx, report.StatusSigned)
	require.NoError(t, err)
	require.Len(t, signed, 1)
	assert.Equal(t, r.ID, signed[0].ID)
}

func TestScenario_RejectThenSignFails(t *testing.T) {
	m, _ := newManager()
	ctx := context.Background()

	r, err := m.Submit(ctx, report.SubmitInput{Description: "Hotel", Amount: 300, SubmitterID: "u2"})
	require.NoError(t, err)
	r, err = m.Reject(ctx, r.ID, "m1")
	require.NoError(t, err)
	assert.Equal(t, report.StatusRejected, r.Status)
	require.NotNil(t, r.RejectedAt)

	_, err = m.AttachSignature(ctx, r.ID, attestation(), "d1")
	assert.True(t, errors.Is(err, report.ErrInvalidTransition))

	got, err := m.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, report.StatusRejected, got.Status)
	assert.Empty(t, got.Signature)
}

func TestTransitions_OnlyFollowGraph(t *testing.T) {
	ctx := context.Background()
	type step func(m *report.Manager, id string) error
	approve := func(m *report.Manager, id string) error { _, err := m.Approve(ctx, id, "m1"); return err }
	reject := func(m *report.Manager, id string) error { _, err := m.Reject(ctx, id, "m1"); return err }
	sign := func(m *report.Manager, id string) error {
		_, err := m.AttachSignature(ctx, id, attestation(), "d1")
		return err
	}

	cases := []struct {
		name    string
		prefix  []step
		refused step
	}{
		{"sign pending", nil, sign},
		{"approve approved", []step{approve}, approve},
		{"reject approved", []step{approve}, reject},
		{"approve rejected", []step{reject}, approve},
		{"sign rejected", []step{reject}, sign},
		{"approve signed", []step{approve, sign}, approve},
		{"sign signed", []step{approve, sign}, sign},
		{"reject signed", []step{approve, sign}, reject},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, _ := newManager()
			r, err := m.Submit(ctx, report.SubmitInput{Description: "x", Amount: 1, SubmitterID: "u1"})
			require.NoError(t, err)
			for _, s := range tc.prefix {
				require.NoError(t, s(m, r.ID))
			}
			before, _ := m.Get(ctx, r.ID)

			err = tc.refused(m, r.ID)
			assert.True(t, errors.Is(err, report.ErrInvalidTransition), "got %v", err)

			after, _ := m.Get(ctx, r.ID)
			assert.Equal(t, before, after)
		})
	}
}

func TestAttachSignature_MissingFieldLeavesApproved(t *testing.T) {
	ctx := context.Background()
	full := attestation()
	cases := map[string]report.Attestation{
		"signature":     {PublicKey: full.PublicKey, ContentDigest: full.ContentDigest},
		"publicKey":     {Signature: full.Signature, ContentDigest: full.ContentDigest},
		"null key":      {Signature: full.Signature, PublicKey: json.RawMessage("null"), ContentDigest: full.ContentDigest},
		"contentDigest": {Signature: full.Signature, PublicKey: full.PublicKey},
	}
	for name, a := range cases {
		t.Run(name, func(t *testing.T) {
			m, _ := newManager()
			r, _ := m.Submit(ctx, report.SubmitInput{Description: "x", Amount: 1, SubmitterID: "u1"})
			_, err := m.Approve(ctx, r.ID, "m1")
			require.NoError(t, err)

			_, err = m.AttachSignature(ctx, r.ID, a, "d1")
			assert.True(t, errors.Is(err, report.ErrValidation), "got %v", err)

			got, _ := m.Get(ctx, r.ID)
			assert.Equal(t, report.StatusApproved, got.Status)
			assert.Empty(t, got.Signature)
			assert.Nil(t, got.SignedAt)
		})
	}
}

func TestGetAndListErrors(t *testing.T) {
	m, _ := newManager()
	ctx := context.Background()

	_, err := m.Get(ctx, "nope")
	assert.True(t, errors.Is(err, report.ErrNotFound))
	_, err = m.Approve(ctx, "nope", "m1")
	assert.True(t, errors.Is(err, report.ErrNotFound))
	_, err = m.ListByStatus(ctx, report.Status("archived"))
	assert.True(t, errors.Is(err, report.ErrValidation))
}

func TestParseStatus(t *testing.T) {
	for in, want := range map[string]report.Status{
		"pending":   report.StatusPending,
		" Signed ":  report.StatusSigned,
		"aprovado":  report.StatusApproved,
		"rejeitado": report.StatusRejected,
	} {
		got, err := report.ParseStatus(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := report.ParseStatus("draft")
	assert.True(t, errors.Is(err, report.ErrValidation))
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, report.StatusPending.Terminal())
	assert.False(t, report.StatusApproved.Terminal())
	assert.True(t, report.StatusRejected.Terminal())
	assert.True(t, report.StatusSigned.Terminal())
}
