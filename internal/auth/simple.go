// Package auth guards the control API with a shared bearer token. The token
// comes from LAUNCHPIT_API_TOKEN; when it is unset the API is open, which is
// the expected mode for the loopback-only default bind.
package auth

import (
	"crypto/subtle"
	"net/http"
	"os"
	"strings"
)

func exempt(path string) bool {
	switch path {
	case "/healthz", "/readyz", "/metrics":
		return true
	}
	return false
}

func Middleware(next http.Handler) http.Handler {
	token := os.Getenv("LAUNCHPIT_API_TOKEN")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token == "" || exempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		// Expect: Authorization: Bearer <token>
		authz := r.Header.Get("Authorization")
		if !strings.HasPrefix(authz, "Bearer ") {
			http.Error(w, "missing API token", http.StatusUnauthorized)
			return
		}

		got := strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			http.Error(w, "invalid API token", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}
