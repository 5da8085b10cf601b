package console

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/nicolRB/LogWare/pkg/api"
	"github.com/nicolRB/LogWare/pkg/artifacts"
	"github.com/nicolRB/LogWare/pkg/attest"
	"github.com/nicolRB/LogWare/pkg/audit"
	"github.com/nicolRB/LogWare/pkg/policy"
)

type auditTrailResponse struct {
	ReportID  string        `json:"reportId"`
	Entries   []audit.Entry `json:"entries"`
	ChainHead string        `json:"chainHead"`
}

type evidenceResponse struct {
	Hash   string        `json:"hash"`
	Bundle attest.Bundle `json:"bundle"`
	Result attest.Result `json:"result"`
}

func (s *Server) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.load(w, r, policy.ActionAudit)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, auditTrailResponse{
		ReportID:  rep.ID,
		Entries:   s.chain.Entries(rep.ID),
		ChainHead: s.chain.Head(),
	})
}

// handleAuditExport returns a zip of the report's audit entries and a
// manifest. A broken chain is never exported.
func (s *Server) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.load(w, r, policy.ActionAudit)
	if !ok {
		return
	}
	zipBytes, checksum, err := s.exporter.GeneratePack(r.Context(), rep.ID)
	switch {
	case errors.Is(err, audit.ErrNoEntries):
		api.WriteNotFound(w, "No audit entries for report "+rep.ID)
		return
	case err != nil:
		api.WriteInternal(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"audit-%s.zip\"", rep.ID))
	w.Header().Set("X-Checksum-SHA256", checksum)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(zipBytes)
}

// handleEvidence loads the archived bundle recorded by the sign event and
// verifies it again.
func (s *Server) handleEvidence(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.load(w, r, policy.ActionAudit)
	if !ok {
		return
	}
	hash := ""
	for _, e := range s.chain.Entries(rep.ID) {
		if e.Event.Type == audit.EventSigned && e.Event.Metadata["evidence"] != "" {
			hash = e.Event.Metadata["evidence"]
		}
	}
	if hash == "" {
		api.WriteNotFound(w, "No evidence archived for report "+rep.ID)
		return
	}

	bundle, res, err := s.archive.Get(r.Context(), hash)
	switch {
	case errors.Is(err, artifacts.ErrNotFound):
		api.WriteNotFound(w, "Evidence bundle "+hash+" is missing from the archive")
		return
	case err != nil:
		api.WriteDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, evidenceResponse{Hash: hash, Bundle: bundle, Result: res})
}
