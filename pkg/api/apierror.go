// Package api provides RFC 7807 Problem Detail error responses and the HTTP
// middleware shared by the expense service.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/nicolRB/LogWare/pkg/attest"
	"github.com/nicolRB/LogWare/pkg/report"
)

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
// All API error responses must use this format.
type ProblemDetail struct {
	// Type is a URI reference that identifies the problem type.
	Type string `json:"type"`
	// Title is a short, human-readable summary of the problem type.
	Title string `json:"title"`
	// Status is the HTTP status code.
	Status int `json:"status"`
	// Kind is the machine-readable error kind (validation, not_found, ...).
	Kind string `json:"kind,omitempty"`
	// Detail is a human-readable explanation specific to this occurrence.
	Detail string `json:"detail,omitempty"`
	// Field names the offending request field for validation errors.
	Field string `json:"field,omitempty"`
	// Instance is a URI reference identifying the specific occurrence.
	Instance string `json:"instance,omitempty"`
	// TraceID links to the request ID for this request.
	TraceID string `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

func problemType(status int) string {
	return fmt.Sprintf("urn:logware:error:%d", status)
}

func writeProblem(w http.ResponseWriter, problem *ProblemDetail) {
	if problem.TraceID == "" {
		problem.TraceID = w.Header().Get("X-Request-ID")
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(problem.Status)
	_ = json.NewEncoder(w).Encode(problem)
}

// WriteError writes an RFC 7807 Problem Detail JSON response.
func WriteError(w http.ResponseWriter, status int, title, detail string) {
	writeProblem(w, &ProblemDetail{
		Type:   problemType(status),
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

// WriteErrorR writes an RFC 7807 response enriched with request context
// (trace_id from X-Request-ID, instance from request URI).
func WriteErrorR(w http.ResponseWriter, r *http.Request, status int, title, detail string) {
	writeProblem(w, &ProblemDetail{
		Type:     problemType(status),
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
	})
}

// WriteBadRequest writes a 400 error response.
func WriteBadRequest(w http.ResponseWriter, detail string) {
	writeProblem(w, &ProblemDetail{
		Type:   problemType(http.StatusBadRequest),
		Title:  "Bad Request",
		Status: http.StatusBadRequest,
		Kind:   string(report.KindValidation),
		Detail: detail,
	})
}

// WriteUnauthorized writes a 401 error response.
func WriteUnauthorized(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "Authentication required"
	}
	w.Header().Set("WWW-Authenticate", `Bearer realm="logware"`)
	WriteError(w, http.StatusUnauthorized, "Unauthorized", detail)
}

// WriteForbidden writes a 403 error response.
func WriteForbidden(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "Insufficient permissions"
	}
	WriteError(w, http.StatusForbidden, "Forbidden", detail)
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusNotFound, "Not Found", detail)
}

// WriteMethodNotAllowed writes a 405 error response.
func WriteMethodNotAllowed(w http.ResponseWriter) {
	WriteError(w, http.StatusMethodNotAllowed, "Method Not Allowed", "The HTTP method is not supported for this endpoint")
}

// WriteConflict writes a 409 error response.
func WriteConflict(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusConflict, "Conflict", detail)
}

// WriteRequestTooLarge writes a 413 error response.
func WriteRequestTooLarge(w http.ResponseWriter, limit int64) {
	WriteError(w, http.StatusRequestEntityTooLarge, "Payload Too Large", fmt.Sprintf("Request body exceeds %d bytes", limit))
}

// WriteTooManyRequests writes a 429 error response with Retry-After header.
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	if retryAfterSecs < 1 {
		retryAfterSecs = 1
	}
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	WriteError(w, http.StatusTooManyRequests, "Too Many Requests", "Rate limit exceeded. Retry after the specified interval.")
}

// WriteInternal writes a 500 error response.
// The err parameter is logged but NEVER exposed to the client.
func WriteInternal(w http.ResponseWriter, err error) {
	slog.Error("internal server error", "error", err, "request_id", w.Header().Get("X-Request-ID"))
	WriteError(w, http.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred. Please try again later.")
}

// WriteDomainError maps lifecycle and verification errors to problem
// responses. Anything unrecognised is an internal error.
func WriteDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		rerr *report.Error
		verr *attest.VerificationError
		serr *SchemaError
	)
	switch {
	case errors.As(err, &serr):
		writeProblem(w, &ProblemDetail{
			Type:     problemType(http.StatusBadRequest),
			Title:    "Bad Request",
			Status:   http.StatusBadRequest,
			Kind:     string(report.KindValidation),
			Detail:   serr.Message,
			Field:    serr.Field,
			Instance: r.URL.Path,
		})
	case errors.As(err, &rerr):
		status, title := http.StatusInternalServerError, "Internal Server Error"
		switch rerr.Kind {
		case report.KindValidation:
			status, title = http.StatusBadRequest, "Bad Request"
		case report.KindNotFound:
			status, title = http.StatusNotFound, "Not Found"
		case report.KindInvalidTransition:
			status, title = http.StatusConflict, "Conflict"
		}
		writeProblem(w, &ProblemDetail{
			Type:     problemType(status),
			Title:    title,
			Status:   status,
			Kind:     string(rerr.Kind),
			Detail:   rerr.Message,
			Field:    rerr.Field,
			Instance: r.URL.Path,
		})
	case errors.As(err, &verr):
		status, title := http.StatusUnprocessableEntity, "Unprocessable Entity"
		if verr.Kind == attest.KindIncomplete {
			status, title = http.StatusConflict, "Conflict"
		}
		writeProblem(w, &ProblemDetail{
			Type:     problemType(status),
			Title:    title,
			Status:   status,
			Kind:     string(verr.Kind),
			Detail:   verr.Error(),
			Instance: r.URL.Path,
		})
	default:
		WriteInternal(w, err)
	}
}
