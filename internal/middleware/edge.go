package middleware

import (
	"net/http"
	"strings"

	"github.com/iKora128/medical-wiki/internal/auth"
	"github.com/iKora128/medical-wiki/internal/response"
)

// DefaultProtectedPrefixes are the administrative and mutating path prefixes
// that require a credential-shaped value.
var DefaultProtectedPrefixes = []string{
	"/api/admin",
	"/api/articles",
	"/api/bookmarks",
	"/api/profile",
	"/api/comments",
	"/api/questions",
	"/api/quizzes",
}

// Edge rejects requests to protected prefixes that carry no credential at
// all: neither a bearer value nor a session cookie. It never verifies and
// never grants; a request it passes still goes through the gate.
func Edge(prefixes []string) func(http.Handler) http.Handler {
	cleaned := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		p = strings.TrimRight(strings.TrimSpace(p), "/")
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Preflight requests carry no credentials.
			if r.Method == http.MethodOptions || !protected(cleaned, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			if !auth.HasCredentialShape(r) {
				response.Err(w, http.StatusUnauthorized, auth.CodeUnauthorized, auth.MessageUnauthenticated)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// protected reports whether path falls under one of prefixes on a segment
// boundary, so /api/admin covers /api/admin/users but not /api/administrators.
func protected(prefixes []string, path string) bool {
	for _, p := range prefixes {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}
