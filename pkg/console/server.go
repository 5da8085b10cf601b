// Package console serves the expense report HTTP API.
package console

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/nicolRB/LogWare/pkg/api"
	"github.com/nicolRB/LogWare/pkg/artifacts"
	"github.com/nicolRB/LogWare/pkg/audit"
	"github.com/nicolRB/LogWare/pkg/auth"
	"github.com/nicolRB/LogWare/pkg/observability"
	"github.com/nicolRB/LogWare/pkg/policy"
	"github.com/nicolRB/LogWare/pkg/report"
)

// Deps are the collaborators of a Server. Manager, Policy and Validator are
// required; everything else is optional.
type Deps struct {
	Manager   *report.Manager
	Policy    *policy.Engine
	Validator *auth.JWTValidator

	// Audit receives one event per successful operation. Chain, when set,
	// also serves the audit and evidence routes.
	Audit   audit.Logger
	Chain   *audit.Chain
	Archive *artifacts.Archive

	Telemetry *observability.Provider

	GlobalLimiter *api.GlobalRateLimiter
	Limiter       api.LimiterStore
	Backpressure  api.BackpressurePolicy
	Idempotency   api.IdempotencyStorer
	CORSOrigins   []string

	// Ready is probed by /readiness.
	Ready func(ctx context.Context) error
}

// Server defines the HTTP server for the expense API.
type Server struct {
	manager   *report.Manager
	policy    *policy.Engine
	validator *auth.JWTValidator
	audit     audit.Logger
	chain     *audit.Chain
	exporter  *audit.Exporter
	archive   *artifacts.Archive
	telemetry *observability.Provider
	deps      Deps
}

// NewServer validates deps and builds a Server.
func NewServer(ctx context.Context, d Deps) (*Server, error) {
	if d.Manager == nil {
		return nil, errors.New("console: report manager is required")
	}
	if d.Policy == nil {
		return nil, errors.New("console: policy engine is required")
	}
	if d.Validator == nil {
		return nil, errors.New("console: token validator is required")
	}
	if d.Telemetry == nil {
		tp, err := observability.New(ctx, &observability.Config{Enabled: false})
		if err != nil {
			return nil, err
		}
		d.Telemetry = tp
	}

	s := &Server{
		manager:   d.Manager,
		policy:    d.Policy,
		validator: d.Validator,
		audit:     d.Audit,
		chain:     d.Chain,
		archive:   d.Archive,
		telemetry: d.Telemetry,
		deps:      d,
	}
	if s.audit == nil && s.chain != nil {
		s.audit = s.chain
	}
	if s.chain != nil {
		s.exporter = audit.NewExporter(s.chain)
	}
	return s, nil
}

// Routes registers every endpoint on a fresh mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /readiness", s.handleReadiness)
	mux.HandleFunc("GET /api/me", s.handleMe)

	mux.HandleFunc("POST /api/reports", s.handleSubmit)
	mux.HandleFunc("GET /api/reports", s.handleList)
	mux.HandleFunc("GET /api/reports/pending", s.handleListStatus(report.StatusPending))
	mux.HandleFunc("GET /api/reports/signed", s.handleListStatus(report.StatusSigned))
	mux.HandleFunc("GET /api/reports/{id}", s.handleGet)

	for _, method := range []string{http.MethodPut, http.MethodPost} {
		mux.HandleFunc(method+" /api/reports/{id}/approve", s.handleDecision(report.TransitionApprove))
		mux.HandleFunc(method+" /api/reports/{id}/reject", s.handleDecision(report.TransitionReject))
	}
	mux.HandleFunc("POST /api/reports/{id}/sign", s.handleSign)
	mux.HandleFunc("GET /api/reports/{id}/payload", s.handlePayload)
	mux.HandleFunc("GET /api/reports/{id}/verify", s.handleVerify)

	if s.chain != nil {
		mux.HandleFunc("GET /api/reports/{id}/audit", s.handleAuditTrail)
		mux.HandleFunc("GET /api/reports/{id}/audit/export", s.handleAuditExport)
		if s.archive != nil {
			mux.HandleFunc("GET /api/reports/{id}/evidence", s.handleEvidence)
		}
	}
	return mux
}

// Handler returns the routes wrapped in the middleware chain, outermost
// first: request id, access log, CORS, per-IP limit, authentication,
// per-principal limit, idempotency.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.Routes()
	if s.deps.Idempotency != nil {
		h = api.IdempotencyMiddleware(s.deps.Idempotency, actorScope)(h)
	}
	h = auth.RateLimitMiddleware(s.deps.Limiter, s.deps.Backpressure)(h)
	h = auth.NewMiddleware(s.validator)(h)
	if s.deps.GlobalLimiter != nil {
		h = s.deps.GlobalLimiter.Middleware(h)
	}
	if len(s.deps.CORSOrigins) > 0 {
		h = auth.CORSMiddleware(s.deps.CORSOrigins)(h)
	}
	h = auth.AccessLogMiddleware(h)
	return auth.RequestIDMiddleware(h)
}

func actorScope(r *http.Request) string {
	id, err := auth.GetActorID(r.Context())
	if err != nil {
		return ""
	}
	return id
}

// record writes an audit event. The operation it describes has already been
// committed, so a failure is logged and not returned to the client.
func (s *Server) record(ctx context.Context, ev audit.EventType, reportID string, metadata map[string]string) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, ev, reportID, metadata); err != nil {
		auth.Logger(ctx).ErrorContext(ctx, "audit record failed",
			"event", ev, "report_id", reportID, "error", err)
	}
}

func logger(r *http.Request) *slog.Logger {
	return auth.Logger(r.Context()).With("component", "console")
}
