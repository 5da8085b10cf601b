//go:build property
// +build property

package report_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/nicolRB/LogWare/pkg/report"
	"github.com/nicolRB/LogWare/pkg/store"
)

var dummyAttestation = report.Attestation{
	Signature:     "c2ln",
	PublicKey:     json.RawMessage(`{"kty":"RSA"}`),
	ContentDigest: "ZGln",
}

// TestLifecycleFollowsGraph applies random transition sequences and checks the
// stored status against a walk of the graph.
// Property: status == fold(Next, pending, accepted transitions)
func TestLifecycleFollowsGraph(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	transitions := gen.OneConstOf(report.TransitionApprove, report.TransitionReject, report.TransitionSign)

	properties.Property("status follows the transition graph", prop.ForAll(
		func(seq []report.Transition) bool {
			ctx := context.Background()
			m := report.NewManager(store.NewMemoryStore())
			r, err := m.Submit(ctx, report.SubmitInput{Description: "Taxi", Amount: 10, SubmitterID: "e1"})
			if err != nil {
				return false
			}

			want := report.StatusPending
			for _, tr := range seq {
				var err error
				switch tr {
				case report.TransitionApprove:
					_, err = m.Approve(ctx, r.ID, "m1")
				case report.TransitionReject:
					_, err = m.Reject(ctx, r.ID, "m1")
				case report.TransitionSign:
					_, err = m.AttachSignature(ctx, r.ID, dummyAttestation, "d1")
				}
				next, ok := report.Next(want, tr)
				if ok != (err == nil) {
					return false
				}
				if !ok && report.KindOf(err) != report.KindInvalidTransition {
					return false
				}
				if ok {
					want = next
				}
			}

			got, err := m.Get(ctx, r.ID)
			if err != nil || got.Status != want {
				return false
			}
			_, attested := got.Attestation()
			return attested == (got.Status == report.StatusSigned)
		},
		gen.SliceOf(transitions),
	))

	properties.TestingRun(t)
}

// TestTerminalStatesAbsorb verifies nothing leaves rejected or signed.
func TestTerminalStatesAbsorb(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("terminal statuses have no outgoing edge", prop.ForAll(
		func(st report.Status, tr report.Transition) bool {
			_, ok := report.Next(st, tr)
			return !ok
		},
		gen.OneConstOf(report.StatusRejected, report.StatusSigned),
		gen.OneConstOf(report.TransitionApprove, report.TransitionReject, report.TransitionSign),
	))

	properties.TestingRun(t)
}
