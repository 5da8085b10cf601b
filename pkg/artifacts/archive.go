package artifacts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nicolRB/LogWare/pkg/attest"
	"github.com/nicolRB/LogWare/pkg/report"
)

// MaxBundleSize bounds a single archived evidence bundle.
const MaxBundleSize = 1 << 20

// Archive keeps evidence bundles of signed reports.
type Archive struct {
	store Store
	now   func() time.Time
}

// NewArchive wraps a content-addressed store.
func NewArchive(store Store) *Archive {
	return &Archive{store: store, now: time.Now}
}

// Put builds the evidence bundle of a signed report, stores its canonical
// encoding and returns the content hash.
func (a *Archive) Put(ctx context.Context, r report.Report) (string, error) {
	if a == nil || a.store == nil {
		return "", errors.New("artifacts: archive not configured")
	}
	b, err := attest.NewBundle(r, a.now())
	if err != nil {
		return "", err
	}
	data, err := b.Encode()
	if err != nil {
		return "", fmt.Errorf("artifacts: encode bundle: %w", err)
	}
	if len(data) > MaxBundleSize {
		return "", fmt.Errorf("artifacts: bundle exceeds limit of %d bytes", MaxBundleSize)
	}
	return a.store.Store(ctx, data)
}

// Get loads a bundle by content hash and returns it with its verification
// result.
func (a *Archive) Get(ctx context.Context, hash string) (attest.Bundle, attest.Result, error) {
	if a == nil || a.store == nil {
		return attest.Bundle{}, attest.Result{}, errors.New("artifacts: archive not configured")
	}
	data, err := a.store.Get(ctx, hash)
	if err != nil {
		return attest.Bundle{}, attest.Result{}, err
	}
	b, err := attest.DecodeBundle(data)
	if err != nil {
		return attest.Bundle{}, attest.Result{}, err
	}
	res, err := attest.VerifyBundle(b)
	return b, res, err
}
