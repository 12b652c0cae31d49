package api

import (
	"net/http"
	"strings"
)

// AuthMiddleware guards the control API with a shared token. An empty token
// disables the check entirely.
func AuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" || authorized(r, token) {
				next.ServeHTTP(w, r)
				return
			}
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
		})
	}
}

// authorized accepts the token either as a ?token= query parameter, which the
// dashboard forwards on every call, or as an Authorization bearer header.
func authorized(r *http.Request, token string) bool {
	if r.URL.Query().Get("token") == token {
		return true
	}
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && auth[len("Bearer "):] == token
}
