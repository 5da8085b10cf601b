package attest

import (
	"fmt"
	"time"

	"github.com/nicolRB/LogWare/pkg/canonicalize"
	"github.com/nicolRB/LogWare/pkg/report"
)

// payloadView is the report as it stood at sign time. Signature fields and
// everything recorded by the sign transition itself are excluded.
type payloadView struct {
	ID          string  `json:"id"`
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
	SubmitterID string  `json:"submitterId"`
	Status      string  `json:"status"`
	CreatedAt   string  `json:"createdAt"`
	ApprovedAt  string  `json:"approvedAt"`
	ApproverID  string  `json:"approverId,omitempty"`
}

// Payload returns the canonical bytes a signer signs for r. It is defined for
// approved reports and, for verification, for signed ones; both produce the
// same bytes.
func Payload(r report.Report) ([]byte, error) {
	if r.Status != report.StatusApproved && r.Status != report.StatusSigned {
		return nil, fmt.Errorf("report %s is %s; only approved reports have a signing payload", r.ID, r.Status)
	}
	if r.ApprovedAt == nil {
		return nil, fmt.Errorf("report %s has no approval timestamp", r.ID)
	}
	return canonicalize.JCS(payloadView{
		ID:          r.ID,
		Description: r.Description,
		Amount:      r.Amount,
		SubmitterID: r.SubmitterID,
		Status:      string(report.StatusApproved),
		CreatedAt:   formatTime(r.CreatedAt),
		ApprovedAt:  formatTime(*r.ApprovedAt),
		ApproverID:  r.ApproverID,
	})
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
