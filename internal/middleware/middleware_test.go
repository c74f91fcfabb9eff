package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/saficlean/marketplace/internal/logging"
)

type stubVerifier struct {
	userID string
	role   string
	err    error
}

func (s *stubVerifier) VerifySubject(string) (string, string, error) {
	return s.userID, s.role, s.err
}

func TestAuthPlacesIdentityOnContext(t *testing.T) {
	var gotUser, gotRole string
	handler := Auth(&stubVerifier{userID: "u1", role: "cleaner"})(
		http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			gotUser = logging.GetUserID(r.Context())
			gotRole = logging.GetRole(r.Context())
		}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	req.Header.Set("Authorization", "Bearer token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if gotUser != "u1" || gotRole != "cleaner" {
		t.Fatalf("unexpected identity %s/%s", gotUser, gotRole)
	}
}

func TestAuthRejectsMissingToken(t *testing.T) {
	handler := Auth(&stubVerifier{})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuthAcceptsQueryToken(t *testing.T) {
	called := false
	handler := Auth(&stubVerifier{userID: "u1"})(
		http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/j1/track?token=abc", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if !called {
		t.Fatal("expected handler to run with query token")
	}
}

func TestAuthSkipsConfiguredPaths(t *testing.T) {
	handler := Auth(&stubVerifier{err: errors.New("boom")}, "/api/v1/auth/login")(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected skip path to pass, got %d", rec.Code)
	}
}

func TestCORSPreflightAndOrigins(t *testing.T) {
	handler := CORS("https://app.example.com")(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/jobs", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 preflight, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" {
		t.Fatalf("unexpected allow-origin %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("unexpected allow-origin for disallowed origin")
	}
}

func TestRateLimiterThrottles(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	var last int
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		handler.ServeHTTP(rec, req)
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on burst exhaustion, got %d", last)
	}

	// A different caller has its own bucket.
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected fresh caller to pass, got %d", rec.Code)
	}
}
