package guard

import (
	"net/http"
	"strings"

	"taskboard-auth/backend/internal/server/httpx"
)

const bearerPrefix = "bearer "

// Middleware authenticates the request with the access token cookie, falling back to an
// Authorization Bearer header, and stores the identity in the request context.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := g.Authorize(r.Context(), TokenFromRequest(r))
		if err != nil {
			httpx.Error(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// TokenFromRequest returns the access token from the cookie or Bearer header, or "".
func TokenFromRequest(r *http.Request) string {
	if v := httpx.GetCookie(r, httpx.AccessCookie); v != "" {
		return v
	}
	return ParseBearer(r.Header.Get("Authorization"))
}

// ParseBearer returns the token of a "Bearer <token>" value, or "" if malformed.
func ParseBearer(v string) string {
	v = strings.TrimSpace(v)
	if len(v) < len(bearerPrefix) || !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
