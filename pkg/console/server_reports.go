package console

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/nicolRB/LogWare/pkg/api"
	"github.com/nicolRB/LogWare/pkg/attest"
	"github.com/nicolRB/LogWare/pkg/audit"
	"github.com/nicolRB/LogWare/pkg/auth"
	"github.com/nicolRB/LogWare/pkg/canonicalize"
	"github.com/nicolRB/LogWare/pkg/observability"
	"github.com/nicolRB/LogWare/pkg/policy"
	"github.com/nicolRB/LogWare/pkg/report"
)

var submitSchema = api.MustCompileSchema("submit", `{
	"type": "object",
	"required": ["description", "amount"],
	"properties": {
		"description": {"type": "string"},
		"amount": {"type": "number"}
	}
}`)

// signedHash is the field name the first client release used for the digest.
var signSchema = api.MustCompileSchema("sign", `{
	"type": "object",
	"properties": {
		"signature": {"type": "string"},
		"publicKey": {"type": "object"},
		"contentDigest": {"type": "string"},
		"signedHash": {"type": "string"}
	}
}`)

type submitRequest struct {
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
}

type signRequest struct {
	Signature     string          `json:"signature"`
	PublicKey     json.RawMessage `json:"publicKey"`
	ContentDigest string          `json:"contentDigest"`
	SignedHash    string          `json:"signedHash"`
}

func (req signRequest) attestation() report.Attestation {
	digest := req.ContentDigest
	if digest == "" {
		digest = req.SignedHash
	}
	return report.Attestation{Signature: req.Signature, PublicKey: req.PublicKey, ContentDigest: digest}
}

type listResponse struct {
	Status  report.Status   `json:"status"`
	Reports []report.Report `json:"reports"`
	Total   int             `json:"total"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	p, ok := s.authorize(w, r, policy.ActionSubmit, nil)
	if !ok {
		return
	}
	var req submitRequest
	if !api.DecodeJSON(w, r, submitSchema, &req) {
		return
	}

	ctx, done := s.telemetry.TrackOperation(r.Context(), observability.OpSubmit,
		observability.ReportOperation("", "", p.GetID())...)
	rep, err := s.manager.Submit(ctx, report.SubmitInput{
		Description: req.Description,
		Amount:      req.Amount,
		SubmitterID: p.GetID(),
	})
	done(err)
	if err != nil {
		api.WriteDomainError(w, r, err)
		return
	}

	s.telemetry.RecordTransition(ctx, "submit", string(rep.Status))
	s.record(ctx, audit.EventSubmitted, rep.ID, map[string]string{
		"amount": strconv.FormatFloat(rep.Amount, 'f', -1, 64),
	})
	logger(r).InfoContext(ctx, "report submitted", "report_id", rep.ID)
	w.Header().Set("Location", "/api/reports/"+rep.ID)
	writeJSON(w, http.StatusCreated, rep)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	status := report.StatusPending
	if q := r.URL.Query().Get("status"); q != "" {
		st, err := report.ParseStatus(q)
		if err != nil {
			api.WriteDomainError(w, r, err)
			return
		}
		status = st
	}
	s.list(w, r, status)
}

func (s *Server) handleListStatus(status report.Status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.list(w, r, status)
	}
}

func (s *Server) list(w http.ResponseWriter, r *http.Request, status report.Status) {
	if _, ok := s.authorize(w, r, policy.ActionList, nil); !ok {
		return
	}
	reports, err := s.manager.ListByStatus(r.Context(), status)
	if err != nil {
		api.WriteDomainError(w, r, err)
		return
	}
	if reports == nil {
		reports = []report.Report{}
	}
	writeJSON(w, http.StatusOK, listResponse{Status: status, Reports: reports, Total: len(reports)})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.load(w, r, policy.ActionRead)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// handleDecision serves approve and reject.
func (s *Server) handleDecision(t report.Transition) http.HandlerFunc {
	op := observability.OpApprove
	if t == report.TransitionReject {
		op = observability.OpReject
	}
	return func(w http.ResponseWriter, r *http.Request) {
		rep, ok := s.load(w, r, policy.ForTransition(t))
		if !ok {
			return
		}
		actorID := auth.MustGetActorID(r.Context())

		ctx, done := s.telemetry.TrackOperation(r.Context(), op,
			observability.ReportOperation(rep.ID, string(t), actorID)...)
		var err error
		if t == report.TransitionReject {
			rep, err = s.manager.Reject(ctx, rep.ID, actorID)
		} else {
			rep, err = s.manager.Approve(ctx, rep.ID, actorID)
		}
		done(err)
		if err != nil {
			api.WriteDomainError(w, r, err)
			return
		}

		s.telemetry.RecordTransition(ctx, string(t), string(rep.Status))
		s.record(ctx, audit.EventFor(t), rep.ID, map[string]string{"status": string(rep.Status)})
		logger(r).InfoContext(ctx, "report "+string(rep.Status), "report_id", rep.ID)
		writeJSON(w, http.StatusOK, rep)
	}
}

func (s *Server) handleSign(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.load(w, r, policy.ActionSign)
	if !ok {
		return
	}
	var req signRequest
	if !api.DecodeJSON(w, r, signSchema, &req) {
		return
	}
	actorID := auth.MustGetActorID(r.Context())

	ctx, done := s.telemetry.TrackOperation(r.Context(), observability.OpSign,
		observability.ReportOperation(rep.ID, string(report.TransitionSign), actorID)...)
	rep, err := s.manager.AttachSignature(ctx, rep.ID, req.attestation(), actorID)
	done(err)
	if err != nil {
		api.WriteDomainError(w, r, err)
		return
	}

	s.telemetry.RecordTransition(ctx, string(report.TransitionSign), string(rep.Status))
	metadata := map[string]string{"contentDigest": rep.ContentDigest}
	if s.archive != nil {
		hash, err := s.archive.Put(ctx, rep)
		if err != nil {
			logger(r).ErrorContext(ctx, "evidence archival failed", "report_id", rep.ID, "error", err)
		} else {
			metadata["evidence"] = hash
			w.Header().Set("X-Evidence-Hash", hash)
		}
	}
	s.record(ctx, audit.EventSigned, rep.ID, metadata)
	logger(r).InfoContext(ctx, "report signed", "report_id", rep.ID)
	writeJSON(w, http.StatusOK, rep)
}

// handlePayload returns the canonical bytes a signer must sign.
func (s *Server) handlePayload(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.load(w, r, policy.ActionRead)
	if !ok {
		return
	}
	if rep.Status != report.StatusApproved && rep.Status != report.StatusSigned {
		api.WriteDomainError(w, r, report.InvalidTransition(rep.ID, rep.Status, report.TransitionSign))
		return
	}
	payload, err := attest.Payload(rep)
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Digest", "sha-256="+canonicalize.DigestBase64(payload))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.load(w, r, policy.ActionVerify)
	if !ok {
		return
	}

	ctx, done := s.telemetry.TrackOperation(r.Context(), observability.OpVerify,
		observability.ReportOperation(rep.ID, "", auth.MustGetActorID(r.Context()))...)
	res, err := attest.Verify(rep)
	// Verification errors describe the stored attestation, not a service failure.
	var verr *attest.VerificationError
	if errors.As(err, &verr) {
		done(nil)
		s.telemetry.RecordVerification(ctx, "", string(verr.Kind))
	} else {
		done(err)
	}
	if err != nil {
		api.WriteDomainError(w, r, err)
		return
	}
	s.telemetry.RecordVerification(ctx, string(res.Algorithm), verdict(res))
	observability.AddSpanEvent(ctx, "verified", observability.AttestOperation(rep.ID, string(res.Algorithm), verdict(res))...)
	writeJSON(w, http.StatusOK, res)
}

func verdict(res attest.Result) string {
	if res.Valid {
		return "valid"
	}
	return "invalid"
}

// load fetches the report named by the path and checks action against it.
// Not-found is reported before the policy decision.
func (s *Server) load(w http.ResponseWriter, r *http.Request, action policy.Action) (report.Report, bool) {
	if _, err := auth.GetPrincipal(r.Context()); err != nil {
		api.WriteUnauthorized(w, "")
		return report.Report{}, false
	}
	rep, err := s.manager.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		api.WriteDomainError(w, r, err)
		return report.Report{}, false
	}
	if _, ok := s.authorize(w, r, action, &rep); !ok {
		return report.Report{}, false
	}
	return rep, true
}

// authorize evaluates the policy for the request principal. Evaluation
// errors deny.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, action policy.Action, rep *report.Report) (auth.Principal, bool) {
	p, err := auth.GetPrincipal(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, "")
		return nil, false
	}
	subject := policy.Subject{ID: p.GetID(), Roles: p.GetRoles()}
	allowed, err := s.policy.Allow(r.Context(), action, subject, rep)
	observability.AddSpanEvent(r.Context(), "policy", observability.PolicyOperation(string(action), allowed)...)
	if err != nil {
		logger(r).WarnContext(r.Context(), "policy evaluation failed", "action", action, "error", err)
	}
	if !allowed {
		api.WriteForbidden(w, "Not allowed to "+string(action)+" this report")
		return nil, false
	}
	return p, true
}
