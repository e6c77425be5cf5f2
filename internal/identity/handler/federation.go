package handler

import (
	"crypto/subtle"
	"net/http"

	"taskboard-auth/backend/internal/apperr"
	"taskboard-auth/backend/internal/server/httpx"
)

// FederationKeyHeader carries the secret shared with the OAuth proxy.
const FederationKeyHeader = "X-Federation-Key"

// RequireFederationKey admits only requests whose FederationKeyHeader equals key.
func RequireFederationKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(FederationKeyHeader)
			if key == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				httpx.Error(w, r, apperr.New(apperr.Unauthorized, "Invalid federation key"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
