// Package auth enforces bearer-token authentication on the evaluation API.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/JohnathanBurchill/chaos/internal/httputil"
)

// Config holds authentication configuration.
type Config struct {
	Enabled bool
	Token   string
}

// exemptPaths under /api/ are public regardless of auth configuration.
// Probes and /metrics live outside /api/ and are never checked.
var exemptPaths = map[string]bool{
	"/api/v1/version": true,
}

// protected reports whether path needs a token.
func protected(path string) bool {
	return strings.HasPrefix(path, "/api/") && !exemptPaths[path]
}

// Middleware returns an HTTP middleware that enforces Bearer token auth
// on protected paths when auth is enabled.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled || !protected(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(cfg.Token)) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="chaos"`)
				httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
