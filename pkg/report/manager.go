package report

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// MaxDescriptionLength bounds the description in runes.
const MaxDescriptionLength = 1000

// SubmitInput carries the fields a submitter controls.
type SubmitInput struct {
	Description string
	Amount      float64
	SubmitterID string
}

// Manager enforces the lifecycle graph on top of a Repository.
type Manager struct {
	repo  Repository
	clock func() time.Time
	newID func() string
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) { m.clock = clock }
}

// WithIDGenerator overrides the UUID generator.
func WithIDGenerator(fn func() string) Option {
	return func(m *Manager) { m.newID = fn }
}

// NewManager creates a Manager backed by repo.
func NewManager(repo Repository, opts ...Option) *Manager {
	m := &Manager{
		repo:  repo,
		clock: time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// now is truncated to microseconds, the finest precision every backend keeps.
// Timestamps are part of the signed payload and must survive a round trip.
func (m *Manager) now() time.Time {
	return m.clock().UTC().Truncate(time.Microsecond)
}

// Submit creates a pending report.
func (m *Manager) Submit(ctx context.Context, in SubmitInput) (Report, error) {
	desc := norm.NFC.String(strings.TrimSpace(in.Description))
	if desc == "" {
		return Report{}, Validation("description", "description is required")
	}
	if len([]rune(desc)) > MaxDescriptionLength {
		return Report{}, Validation("description", "description is too long")
	}
	if math.IsNaN(in.Amount) || math.IsInf(in.Amount, 0) || in.Amount <= 0 {
		return Report{}, Validation("amount", "amount must be a positive number")
	}
	submitter := strings.TrimSpace(in.SubmitterID)
	if submitter == "" {
		return Report{}, Validation("submitterId", "submitter is required")
	}

	r := Report{
		ID:          m.newID(),
		Description: desc,
		Amount:      in.Amount,
		SubmitterID: submitter,
		Status:      StatusPending,
		CreatedAt:   m.now(),
	}
	if err := m.repo.Create(ctx, r); err != nil {
		return Report{}, err
	}
	return r, nil
}

// Approve moves a pending report to approved.
func (m *Manager) Approve(ctx context.Context, id, actorID string) (Report, error) {
	return m.transition(ctx, id, TransitionApprove, actorID, nil)
}

// Reject moves a pending report to rejected.
func (m *Manager) Reject(ctx context.Context, id, actorID string) (Report, error) {
	return m.transition(ctx, id, TransitionReject, actorID, nil)
}

// AttachSignature stores the attestation and moves an approved report to
// signed in one conditional update. The attestation is opaque here; its
// cryptographic validity is a verification concern.
func (m *Manager) AttachSignature(ctx context.Context, id string, a Attestation, actorID string) (Report, error) {
	switch {
	case strings.TrimSpace(a.Signature) == "":
		return Report{}, Validation("signature", "signature is required")
	case !hasJSONValue(a.PublicKey):
		return Report{}, Validation("publicKey", "publicKey is required")
	case strings.TrimSpace(a.ContentDigest) == "":
		return Report{}, Validation("contentDigest", "contentDigest is required")
	}
	return m.transition(ctx, id, TransitionSign, actorID, &a)
}

// Get returns the report with id.
func (m *Manager) Get(ctx context.Context, id string) (Report, error) {
	if strings.TrimSpace(id) == "" {
		return Report{}, NotFound(id)
	}
	return m.repo.Get(ctx, id)
}

// ListByStatus returns the reports in status, oldest first.
func (m *Manager) ListByStatus(ctx context.Context, status Status) ([]Report, error) {
	if _, ok := graph[status]; !ok {
		return nil, Validation("status", "unknown status "+string(status))
	}
	return m.repo.ListByStatus(ctx, status)
}

func (m *Manager) transition(ctx context.Context, id string, t Transition, actorID string, a *Attestation) (Report, error) {
	if strings.TrimSpace(id) == "" {
		return Report{}, NotFound(id)
	}
	from := Source(t)
	to, _ := Next(from, t)
	return m.repo.Transition(ctx, id, Change{
		Transition:  t,
		From:        from,
		To:          to,
		At:          m.now(),
		ActorID:     actorID,
		Attestation: a,
	})
}
