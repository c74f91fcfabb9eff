// Package middleware holds the HTTP middleware chain: authentication, CORS
// and rate limiting.
package middleware

import (
	"net/http"
	"strings"

	apperr "github.com/saficlean/marketplace/internal/errors"
	"github.com/saficlean/marketplace/internal/httputil"
	"github.com/saficlean/marketplace/internal/logging"
)

// TokenVerifier validates an access token and returns its subject and role.
// The auth service satisfies this.
type TokenVerifier interface {
	VerifySubject(token string) (userID, role string, err error)
}

// Auth enforces bearer authentication, placing the user identity on the
// request context. Paths in skip are passed through unauthenticated.
func Auth(verifier TokenVerifier, skip ...string) func(http.Handler) http.Handler {
	skipped := make(map[string]bool, len(skip))
	for _, p := range skip {
		skipped[p] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipped[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			token := bearerToken(r)
			if token == "" {
				httputil.WriteError(w, apperr.Unauthorized(""))
				return
			}
			userID, role, err := verifier.VerifySubject(token)
			if err != nil {
				httputil.WriteError(w, err)
				return
			}
			ctx := logging.WithUser(r.Context(), userID, role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken extracts the token from the Authorization header, falling back
// to the token query parameter for WebSocket clients that cannot set headers.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
