package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// bearerAuth rejects requests without "Authorization: Bearer <apiKey>".
// An empty apiKey disables the check.
func bearerAuth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if apiKey == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				writeText(w, http.StatusUnauthorized, "Authorization header is missing")
				return
			}

			authType, token, _ := strings.Cut(header, " ")
			if authType != "Bearer" {
				writeText(w, http.StatusUnauthorized, "Invalid authorization type")
				return
			}
			if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
				writeText(w, http.StatusUnauthorized, "Invalid API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
