package console

import (
	"context"
	"net/http"
	"time"

	"github.com/nicolRB/LogWare/pkg/api"
	"github.com/nicolRB/LogWare/pkg/auth"
	"github.com/nicolRB/LogWare/pkg/observability"
)

type healthResponse struct {
	Status string                     `json:"status"`
	SLO    []*observability.SLOStatus `json:"slo"`
}

type meResponse struct {
	ID    string   `json:"id"`
	Name  string   `json:"name,omitempty"`
	Email string   `json:"email,omitempty"`
	Roles []string `json:"roles"`
}

// handleHealth is liveness plus the current SLO picture. It reports
// "degraded" while any objective is out of compliance but still answers 200.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	statuses := s.telemetry.SLO().Statuses()
	status := "ok"
	for _, st := range statuses {
		if !st.InCompliance {
			status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: status, SLO: statuses})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Ready(ctx); err != nil {
			logger(r).WarnContext(ctx, "readiness check failed", "error", err)
			api.WriteError(w, http.StatusServiceUnavailable, "Service Unavailable", "Backing store is not reachable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	p, err := auth.GetPrincipal(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, "")
		return
	}
	roles := p.GetRoles()
	if roles == nil {
		roles = []string{}
	}
	writeJSON(w, http.StatusOK, meResponse{
		ID:    p.GetID(),
		Name:  p.GetName(),
		Email: p.GetEmail(),
		Roles: roles,
	})
}
