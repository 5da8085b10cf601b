// Package report owns the expense report entity and the transition graph that
// governs its status. It performs no authorization and no logging; callers
// check role eligibility before invoking a transition.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a report.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusSigned   Status = "signed"
)

// legacyStatus maps the status names used by the first version of the
// service (Portuguese) to the current ones.
var legacyStatus = map[string]Status{
	"pendente":  StatusPending,
	"aprovado":  StatusApproved,
	"rejeitado": StatusRejected,
	"assinado":  StatusSigned,
}

// ParseStatus accepts both current and legacy status names.
func ParseStatus(s string) (Status, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	switch Status(v) {
	case StatusPending, StatusApproved, StatusRejected, StatusSigned:
		return Status(v), nil
	}
	if st, ok := legacyStatus[v]; ok {
		return st, nil
	}
	return "", Validation("status", fmt.Sprintf("unknown status %q", s))
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return len(graph[s]) == 0
}

// Transition names an edge of the lifecycle graph.
type Transition string

const (
	TransitionApprove Transition = "approve"
	TransitionReject  Transition = "reject"
	TransitionSign    Transition = "sign"
)

var graph = map[Status]map[Transition]Status{
	StatusPending: {
		TransitionApprove: StatusApproved,
		TransitionReject:  StatusRejected,
	},
	StatusApproved: {
		TransitionSign: StatusSigned,
	},
	StatusRejected: {},
	StatusSigned:   {},
}

// Next returns the status reached by applying t to from.
func Next(from Status, t Transition) (Status, bool) {
	to, ok := graph[from][t]
	return to, ok
}

// Source returns the only status t may be applied to.
func Source(t Transition) Status {
	for from, edges := range graph {
		if _, ok := edges[t]; ok {
			return from
		}
	}
	return ""
}

// Attestation is the {signature, publicKey, contentDigest} triple a signer
// submits. Signature and ContentDigest are base64 strings; PublicKey is a JWK
// object kept verbatim.
type Attestation struct {
	Signature     string          `json:"signature"`
	PublicKey     json.RawMessage `json:"publicKey"`
	ContentDigest string          `json:"contentDigest"`
}

// Complete reports whether all three fields are present.
func (a Attestation) Complete() bool {
	return a.Signature != "" && a.ContentDigest != "" && hasJSONValue(a.PublicKey)
}

func hasJSONValue(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// Report is an expense claim moving through the approval lifecycle.
type Report struct {
	ID          string  `json:"id"`
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
	SubmitterID string  `json:"submitterId"`
	Status      Status  `json:"status"`

	Signature     string          `json:"signature,omitempty"`
	PublicKey     json.RawMessage `json:"publicKey,omitempty"`
	ContentDigest string          `json:"contentDigest,omitempty"`

	CreatedAt  time.Time  `json:"createdAt"`
	ApprovedAt *time.Time `json:"approvedAt,omitempty"`
	ApproverID string     `json:"approverId,omitempty"`
	RejectedAt *time.Time `json:"rejectedAt,omitempty"`
	RejecterID string     `json:"rejecterId,omitempty"`
	SignedAt   *time.Time `json:"signedAt,omitempty"`
	SignerID   string     `json:"signerId,omitempty"`
}

// Attestation returns the stored signature triple, if the report carries one.
func (r Report) Attestation() (Attestation, bool) {
	a := Attestation{Signature: r.Signature, PublicKey: r.PublicKey, ContentDigest: r.ContentDigest}
	return a, a.Complete()
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (r Report) Clone() Report {
	c := r
	if r.PublicKey != nil {
		c.PublicKey = append(json.RawMessage(nil), r.PublicKey...)
	}
	c.ApprovedAt = cloneTime(r.ApprovedAt)
	c.RejectedAt = cloneTime(r.RejectedAt)
	c.SignedAt = cloneTime(r.SignedAt)
	return c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Change is a single guarded status mutation handed to a Repository.
// From is the status the stored record must still have for the change to apply.
type Change struct {
	Transition  Transition
	From        Status
	To          Status
	At          time.Time
	ActorID     string
	Attestation *Attestation
}

// Apply writes the change into r. Repositories call it after the status guard
// has passed so that record, timestamp and signature triple land together.
func (c Change) Apply(r *Report) {
	at := c.At
	r.Status = c.To
	switch c.Transition {
	case TransitionApprove:
		r.ApprovedAt = &at
		r.ApproverID = c.ActorID
	case TransitionReject:
		r.RejectedAt = &at
		r.RejecterID = c.ActorID
	case TransitionSign:
		r.SignedAt = &at
		r.SignerID = c.ActorID
		if c.Attestation != nil {
			r.Signature = c.Attestation.Signature
			r.PublicKey = append(json.RawMessage(nil), c.Attestation.PublicKey...)
			r.ContentDigest = c.Attestation.ContentDigest
		}
	}
}
