package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// IdempotencyHeader carries the client-chosen replay key.
const IdempotencyHeader = "Idempotency-Key"

// CachedResponse stores a previously-seen response for idempotent replay.
type CachedResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	CachedAt   time.Time
}

// IdempotencyStorer defines the interface for idempotency backends.
type IdempotencyStorer interface {
	Check(ctx context.Context, key string) (*CachedResponse, bool, error)
	Set(ctx context.Context, key string, resp CachedResponse) error
}

// MemoryIdempotencyStore holds cached responses keyed by idempotency key (in-memory).
type MemoryIdempotencyStore struct {
	mu      sync.RWMutex
	entries map[string]*CachedResponse
	ttl     time.Duration
	now     func() time.Time
}

// NewIdempotencyStore creates a new in-memory idempotency store.
func NewIdempotencyStore(ttl time.Duration) *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		entries: make(map[string]*CachedResponse),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Run removes expired entries every five minutes until ctx is done.
func (s *MemoryIdempotencyStore) Run(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.expire()
		}
	}
}

func (s *MemoryIdempotencyStore) expire() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, v := range s.entries {
		if now.Sub(v.CachedAt) > s.ttl {
			delete(s.entries, k)
		}
	}
}

// Check returns a cached response if existing and valid.
func (s *MemoryIdempotencyStore) Check(_ context.Context, key string) (*CachedResponse, bool, error) {
	s.mu.RLock()
	cached, exists := s.entries[key]
	s.mu.RUnlock()

	if exists && s.now().Sub(cached.CachedAt) < s.ttl {
		return cached, true, nil
	}
	return nil, false, nil
}

// Set stores a response.
func (s *MemoryIdempotencyStore) Set(_ context.Context, key string, resp CachedResponse) error {
	if resp.CachedAt.IsZero() {
		resp.CachedAt = s.now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = &resp
	return nil
}

// responseCapture wraps http.ResponseWriter to capture the response.
type responseCapture struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
}

func (rc *responseCapture) WriteHeader(code int) {
	rc.statusCode = code
	rc.ResponseWriter.WriteHeader(code)
}

func (rc *responseCapture) Write(b []byte) (int, error) {
	rc.body.Write(b)
	return rc.ResponseWriter.Write(b)
}

// IdempotencyMiddleware ensures that mutating requests with an Idempotency-Key
// header are processed once per scope. Duplicate requests receive the cached
// response. scope namespaces keys, typically by authenticated principal, and
// may be nil.
func IdempotencyMiddleware(store IdempotencyStorer, scope func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodPatch {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get(IdempotencyHeader)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			key = idempotencyKey(r, key, scope)

			cached, exists, err := store.Check(r.Context(), key)
			if err != nil {
				slog.WarnContext(r.Context(), "idempotency lookup failed", "error", err)
			}
			if exists {
				for k, vals := range cached.Headers {
					for _, v := range vals {
						w.Header().Set(k, v)
					}
				}
				w.Header().Set("Idempotent-Replay", "true")
				w.WriteHeader(cached.StatusCode)
				_, _ = w.Write(cached.Body)
				return
			}

			capture := &responseCapture{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(capture, r)

			// Only successful responses are replayed.
			if capture.statusCode >= 200 && capture.statusCode < 300 {
				resp := CachedResponse{
					StatusCode: capture.statusCode,
					Headers:    replayHeaders(w.Header()),
					Body:       capture.body.Bytes(),
				}
				if err := store.Set(r.Context(), key, resp); err != nil {
					slog.WarnContext(r.Context(), "idempotency store failed", "error", err)
				}
			}
		})
	}
}

func idempotencyKey(r *http.Request, key string, scope func(*http.Request) string) string {
	h := sha256.New()
	if scope != nil {
		h.Write([]byte(scope(r)))
	}
	h.Write([]byte{0})
	h.Write([]byte(r.Method + " " + r.URL.Path))
	h.Write([]byte{0})
	h.Write([]byte(key))
	return hex.EncodeToString(h.Sum(nil))
}

func replayHeaders(h http.Header) http.Header {
	out := make(http.Header)
	for _, k := range []string{"Content-Type", "Location"} {
		if v := h.Get(k); v != "" {
			out.Set(k, v)
		}
	}
	return out
}
