package console

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicolRB/LogWare/pkg/api"
	"github.com/nicolRB/LogWare/pkg/artifacts"
	"github.com/nicolRB/LogWare/pkg/attest"
	"github.com/nicolRB/LogWare/pkg/audit"
	"github.com/nicolRB/LogWare/pkg/auth"
	"github.com/nicolRB/LogWare/pkg/identity"
	"github.com/nicolRB/LogWare/pkg/policy"
	"github.com/nicolRB/LogWare/pkg/report"
	"github.com/nicolRB/LogWare/pkg/store"
)

type harness struct {
	t       *testing.T
	handler http.Handler
	tokens  *identity.TokenManager
	chain   *audit.Chain
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	ks, err := identity.NewInMemoryKeySet()
	require.NoError(t, err)
	engine, err := policy.New(nil)
	require.NoError(t, err)
	fs, err := artifacts.NewFileStore(filepath.Join(t.TempDir(), "evidence"))
	require.NoError(t, err)
	chain := audit.NewChain(&bytes.Buffer{})

	srv, err := NewServer(ctx, Deps{
		Manager:      report.NewManager(store.NewMemoryStore()),
		Policy:       engine,
		Validator:    auth.NewJWTValidator(ks),
		Chain:        chain,
		Archive:      artifacts.NewArchive(fs),
		Limiter:      api.NewMemoryLimiterStore(),
		Backpressure: api.BackpressurePolicy{RPM: 6000, Burst: 100},
		Idempotency:  api.NewIdempotencyStore(time.Hour),
	})
	require.NoError(t, err)

	return &harness{t: t, handler: srv.Handler(), tokens: identity.NewTokenManager(ks), chain: chain}
}

func (h *harness) token(id string, roles ...string) string {
	h.t.Helper()
	tok, err := h.tokens.GenerateToken(context.Background(), identity.Subject{ID: id, Roles: roles}, time.Hour)
	require.NoError(h.t, err)
	return tok
}

func (h *harness) do(method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	h.t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(h.t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "10.0.0.1:5000"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, req)
	return w
}

func decodeReport(t *testing.T, w *httptest.ResponseRecorder) report.Report {
	t.Helper()
	var r report.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &r), w.Body.String())
	return r
}

func decodeProblem(t *testing.T, w *httptest.ResponseRecorder) api.ProblemDetail {
	t.Helper()
	var p api.ProblemDetail
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p), w.Body.String())
	return p
}

func TestServer_SignedLifecycle(t *testing.T) {
	h := newHarness(t)
	employee := h.token("e1", "employee")
	manager := h.token("m1", "manager")
	director := h.token("d1", "director")

	w := h.do(http.MethodPost, "/api/reports", employee, map[string]any{"description": "Taxi to client", "amount": 42.5})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decodeReport(t, w)
	assert.Equal(t, report.StatusPending, created.Status)
	assert.Equal(t, "e1", created.SubmitterID)
	assert.Equal(t, "/api/reports/"+created.ID, w.Header().Get("Location"))

	w = h.do(http.MethodPut, "/api/reports/"+created.ID+"/approve", manager, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	approved := decodeReport(t, w)
	assert.Equal(t, report.StatusApproved, approved.Status)
	assert.Equal(t, "m1", approved.ApproverID)

	w = h.do(http.MethodGet, "/api/reports/"+created.ID+"/payload", director, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	payload := w.Body.Bytes()
	assert.Contains(t, w.Header().Get("Digest"), "sha-256=")

	signer, err := attest.GenerateKey(attest.RS256)
	require.NoError(t, err)
	a, err := signer.SignPayload(payload)
	require.NoError(t, err)

	w = h.do(http.MethodPost, "/api/reports/"+created.ID+"/sign", director, a)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	signed := decodeReport(t, w)
	assert.Equal(t, report.StatusSigned, signed.Status)
	assert.Equal(t, a.ContentDigest, signed.ContentDigest)
	assert.NotEmpty(t, w.Header().Get("X-Evidence-Hash"))

	w = h.do(http.MethodGet, "/api/reports/"+created.ID+"/verify", employee, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res attest.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.True(t, res.Valid)
	assert.Equal(t, attest.RS256, res.Algorithm)

	w = h.do(http.MethodGet, "/api/reports/signed", employee, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list listResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Equal(t, 1, list.Total)
	assert.Equal(t, created.ID, list.Reports[0].ID)

	w = h.do(http.MethodGet, "/api/reports/"+created.ID+"/evidence", director, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var ev evidenceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ev))
	assert.True(t, ev.Result.Valid)
	assert.Equal(t, created.ID, ev.Bundle.Report.ID)

	w = h.do(http.MethodGet, "/api/reports/"+created.ID+"/audit", director, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var trail auditTrailResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &trail))
	require.Len(t, trail.Entries, 3)
	assert.Equal(t, audit.EventSubmitted, trail.Entries[0].Event.Type)
	assert.Equal(t, "e1", trail.Entries[0].Event.ActorID)
	assert.Equal(t, audit.EventApproved, trail.Entries[1].Event.Type)
	assert.Equal(t, audit.EventSigned, trail.Entries[2].Event.Type)
	assert.Equal(t, "d1", trail.Entries[2].Event.ActorID)
	require.NoError(t, h.chain.VerifyChain())

	w = h.do(http.MethodGet, "/api/reports/"+created.ID+"/audit/export", director, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/zip", w.Header().Get("Content-Type"))
	zr, err := zip.NewReader(bytes.NewReader(w.Body.Bytes()), int64(w.Body.Len()))
	require.NoError(t, err)
	assert.Len(t, zr.File, 2)
}

func TestServer_RejectedReportCannotBeSigned(t *testing.T) {
	h := newHarness(t)
	w := h.do(http.MethodPost, "/api/reports", h.token("e1", "colaborador"), map[string]any{"description": "Dinner", "amount": 80})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := decodeReport(t, w).ID

	w = h.do(http.MethodPost, "/api/reports/"+id+"/reject", h.token("m1", "gerente"), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	rejected := decodeReport(t, w)
	assert.Equal(t, report.StatusRejected, rejected.Status)
	assert.Equal(t, "m1", rejected.RejecterID)
	assert.Nil(t, rejected.ApprovedAt)

	director := h.token("d1", "diretor")
	w = h.do(http.MethodPost, "/api/reports/"+id+"/sign", director, map[string]any{
		"signature": "c2ln", "publicKey": map[string]string{"kty": "RSA"}, "contentDigest": "ZGln",
	})
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	assert.Equal(t, string(report.KindInvalidTransition), decodeProblem(t, w).Kind)

	w = h.do(http.MethodGet, "/api/reports/"+id+"/verify", director, nil)
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	assert.Equal(t, string(attest.KindIncomplete), decodeProblem(t, w).Kind)

	w = h.do(http.MethodGet, "/api/reports/"+id+"/payload", director, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = h.do(http.MethodGet, "/api/reports/"+id+"/approve", director, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestServer_TamperedSignatureIsInvalid(t *testing.T) {
	h := newHarness(t)
	w := h.do(http.MethodPost, "/api/reports", h.token("e1", "employee"), map[string]any{"description": "Hotel", "amount": 300})
	id := decodeReport(t, w).ID
	w = h.do(http.MethodPost, "/api/reports/"+id+"/approve", h.token("m1", "manager"), nil)
	approved := decodeReport(t, w)

	signer, err := attest.GenerateKey(attest.ES256)
	require.NoError(t, err)
	tampered := approved
	tampered.Amount = 3000
	a, err := signer.Attest(tampered)
	require.NoError(t, err)

	director := h.token("d1", "director")
	w = h.do(http.MethodPost, "/api/reports/"+id+"/sign", director, map[string]any{
		"signature": a.Signature, "publicKey": a.PublicKey, "signedHash": a.ContentDigest,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, a.ContentDigest, decodeReport(t, w).ContentDigest)

	w = h.do(http.MethodGet, "/api/reports/"+id+"/verify", director, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res attest.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.False(t, res.Valid)
	assert.Equal(t, attest.ReasonDigestMismatch, res.Reason)
}

func TestServer_MalformedPublicKey(t *testing.T) {
	h := newHarness(t)
	w := h.do(http.MethodPost, "/api/reports", h.token("e1", "employee"), map[string]any{"description": "Train", "amount": 12})
	id := decodeReport(t, w).ID
	h.do(http.MethodPost, "/api/reports/"+id+"/approve", h.token("m1", "manager"), nil)

	director := h.token("d1", "director")
	w = h.do(http.MethodPost, "/api/reports/"+id+"/sign", director, map[string]any{
		"signature":     base64.StdEncoding.EncodeToString([]byte("sig")),
		"publicKey":     map[string]string{"kty": "oct", "k": "c2VjcmV0"},
		"contentDigest": base64.StdEncoding.EncodeToString([]byte("digest")),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = h.do(http.MethodGet, "/api/reports/"+id+"/verify", director, nil)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
	assert.Equal(t, string(attest.KindMalformed), decodeProblem(t, w).Kind)
}

func TestServer_Authorization(t *testing.T) {
	h := newHarness(t)
	employee := h.token("e1", "employee")
	w := h.do(http.MethodPost, "/api/reports", employee, map[string]any{"description": "Lunch", "amount": 20})
	require.Equal(t, http.StatusCreated, w.Code)
	id := decodeReport(t, w).ID

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"no token", http.MethodGet, "/api/reports/" + id, "", http.StatusUnauthorized},
		{"garbage token", http.MethodGet, "/api/reports/" + id, "not-a-jwt", http.StatusUnauthorized},
		{"employee cannot approve", http.MethodPut, "/api/reports/" + id + "/approve", employee, http.StatusForbidden},
		{"employee cannot read audit", http.MethodGet, "/api/reports/" + id + "/audit", employee, http.StatusForbidden},
		{"roleless cannot submit", http.MethodPost, "/api/reports", h.token("x1"), http.StatusForbidden},
		{"unknown report", http.MethodPut, "/api/reports/missing/approve", h.token("m1", "manager"), http.StatusNotFound},
		{"health is public", http.MethodGet, "/health", "", http.StatusOK},
		{"readiness is public", http.MethodGet, "/readiness", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body any
			if tt.path == "/api/reports" {
				body = map[string]any{"description": "x", "amount": 1}
			}
			w := h.do(tt.method, tt.path, tt.token, body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}

	// A manager who is also the submitter may not approve.
	mgr := h.token("m2", "manager")
	w = h.do(http.MethodPost, "/api/reports", mgr, map[string]any{"description": "Own claim", "amount": 5})
	require.Equal(t, http.StatusCreated, w.Code)
	own := decodeReport(t, w).ID
	w = h.do(http.MethodPut, "/api/reports/"+own+"/approve", mgr, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = h.do(http.MethodPut, "/api/reports/"+own+"/approve", h.token("a1", "admin"), nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_SubmitValidation(t *testing.T) {
	h := newHarness(t)
	employee := h.token("e1", "employee")

	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"blank description", `{"description":"   ","amount":10}`, "description"},
		{"zero amount", `{"description":"Taxi","amount":0}`, "amount"},
		{"negative amount", `{"description":"Taxi","amount":-3}`, "amount"},
		{"amount as string", `{"description":"Taxi","amount":"10"}`, "amount"},
		{"missing amount", `{"description":"Taxi"}`, ""},
		{"not json", `{`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := h.do(http.MethodPost, "/api/reports", employee, tt.body)
			require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			p := decodeProblem(t, w)
			assert.Equal(t, string(report.KindValidation), p.Kind)
			if tt.field != "" {
				assert.Equal(t, tt.field, p.Field)
			}
		})
	}

	w := h.do(http.MethodGet, "/api/reports", employee, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list listResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Zero(t, list.Total)
	assert.NotNil(t, list.Reports)
}

func TestServer_SignRequiresFullAttestation(t *testing.T) {
	h := newHarness(t)
	w := h.do(http.MethodPost, "/api/reports", h.token("e1", "employee"), map[string]any{"description": "Taxi", "amount": 9})
	id := decodeReport(t, w).ID
	h.do(http.MethodPost, "/api/reports/"+id+"/approve", h.token("m1", "manager"), nil)

	w = h.do(http.MethodPost, "/api/reports/"+id+"/sign", h.token("d1", "director"), map[string]any{
		"signature": "c2ln", "publicKey": map[string]string{"kty": "RSA"},
	})
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	assert.Equal(t, "contentDigest", decodeProblem(t, w).Field)

	w = h.do(http.MethodGet, "/api/reports/"+id, h.token("e1", "employee"), nil)
	got := decodeReport(t, w)
	assert.Equal(t, report.StatusApproved, got.Status)
	assert.Empty(t, got.Signature)
}

func TestServer_ListByLegacyStatus(t *testing.T) {
	h := newHarness(t)
	w := h.do(http.MethodPost, "/api/reports", h.token("e1", "employee"), map[string]any{"description": "Taxi", "amount": 9})
	id := decodeReport(t, w).ID
	h.do(http.MethodPost, "/api/reports/"+id+"/approve", h.token("m1", "manager"), nil)

	w = h.do(http.MethodGet, "/api/reports?status=aprovado", h.token("e2", "employee"), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var list listResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, report.StatusApproved, list.Status)
	assert.Equal(t, 1, list.Total)

	w = h.do(http.MethodGet, "/api/reports?status=archived", h.token("e2", "employee"), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_IdempotentSubmit(t *testing.T) {
	h := newHarness(t)
	employee := h.token("e1", "employee")
	body := map[string]any{"description": "Taxi", "amount": 9}

	first := h.do(http.MethodPost, "/api/reports", employee, body, api.IdempotencyHeader, "k-1")
	require.Equal(t, http.StatusCreated, first.Code)
	second := h.do(http.MethodPost, "/api/reports", employee, body, api.IdempotencyHeader, "k-1")
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replay"))
	assert.Equal(t, decodeReport(t, first).ID, decodeReport(t, second).ID)

	// Another principal reusing the key gets its own report.
	other := h.do(http.MethodPost, "/api/reports", h.token("e2", "employee"), body, api.IdempotencyHeader, "k-1")
	require.Equal(t, http.StatusCreated, other.Code)
	assert.NotEqual(t, decodeReport(t, first).ID, decodeReport(t, other).ID)
}

func TestServer_Me(t *testing.T) {
	h := newHarness(t)
	w := h.do(http.MethodGet, "/api/me", h.token("u1", "gerente", "admin"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var me meResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &me))
	assert.Equal(t, "u1", me.ID)
	assert.ElementsMatch(t, []string{"manager", "admin"}, me.Roles)
}

func TestServer_HealthReportsSLO(t *testing.T) {
	h := newHarness(t)
	w := h.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var hr healthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &hr))
	assert.Equal(t, "ok", hr.Status)
	assert.Len(t, hr.SLO, 5)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestNewServer_RequiresCoreDeps(t *testing.T) {
	_, err := NewServer(context.Background(), Deps{})
	assert.Error(t, err)
}
