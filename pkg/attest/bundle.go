package attest

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nicolRB/LogWare/pkg/canonicalize"
	"github.com/nicolRB/LogWare/pkg/report"
)

// BundleVersion is the current evidence bundle format.
const BundleVersion = 1

// Bundle is the self-contained evidence for a signed report: the record, the
// exact bytes that were signed and the attestation. It verifies offline.
type Bundle struct {
	Version     int                `json:"version"`
	Report      report.Report      `json:"report"`
	Payload     string             `json:"payload"`
	Attestation report.Attestation `json:"attestation"`
	ArchivedAt  time.Time          `json:"archivedAt"`
}

// NewBundle assembles the evidence bundle for a signed report.
func NewBundle(r report.Report, archivedAt time.Time) (Bundle, error) {
	a, ok := r.Attestation()
	if r.Status != report.StatusSigned || !ok {
		return Bundle{}, incomplete(fmt.Sprintf("report %s carries no attestation", r.ID))
	}
	payload, err := Payload(r)
	if err != nil {
		return Bundle{}, err
	}
	return Bundle{
		Version:     BundleVersion,
		Report:      r.Clone(),
		Payload:     base64.StdEncoding.EncodeToString(payload),
		Attestation: a,
		ArchivedAt:  archivedAt.UTC(),
	}, nil
}

// Encode returns the canonical JSON form of the bundle.
func (b Bundle) Encode() ([]byte, error) {
	return canonicalize.JCS(b)
}

// DecodeBundle parses a bundle produced by Encode.
func DecodeBundle(data []byte) (Bundle, error) {
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return Bundle{}, malformed("bundle is not valid JSON", err)
	}
	if b.Version != BundleVersion {
		return Bundle{}, malformed(fmt.Sprintf("unsupported bundle version %d", b.Version), nil)
	}
	return b, nil
}

// VerifyBundle checks that the recorded payload is the report's payload and
// that the attestation verifies against it.
func VerifyBundle(b Bundle) (Result, error) {
	recorded, err := base64.StdEncoding.DecodeString(b.Payload)
	if err != nil {
		return Result{}, malformed("bundle payload is not base64", err)
	}
	res, err := Verify(b.Report)
	if err != nil || !res.Valid {
		return res, err
	}
	expected, err := Payload(b.Report)
	if err != nil {
		return Result{}, err
	}
	stored, _ := b.Report.Attestation()
	if !bytes.Equal(recorded, expected) || !sameAttestation(stored, b.Attestation) {
		res.Valid = false
		res.Reason = "bundle payload or attestation differs from the report"
	}
	return res, nil
}

func sameAttestation(a, b report.Attestation) bool {
	if a.Signature != b.Signature || a.ContentDigest != b.ContentDigest {
		return false
	}
	ca, errA := canonicalize.Transform(a.PublicKey)
	cb, errB := canonicalize.Transform(b.PublicKey)
	return errA == nil && errB == nil && bytes.Equal(ca, cb)
}
