package httpx

import (
	"net/http"
	"time"
)

// Cookie names carrying the token pair.
const (
	AccessCookie  = "accessToken"
	RefreshCookie = "refreshToken"
)

// CookieManager sets and clears the HttpOnly token cookies.
type CookieManager struct {
	Domain   string
	Secure   bool
	SameSite http.SameSite
}

// NewCookieManager returns a CookieManager with the given attributes.
func NewCookieManager(domain string, secure bool, sameSite http.SameSite) *CookieManager {
	return &CookieManager{Domain: domain, Secure: secure, SameSite: sameSite}
}

// SetAccess sets the access token cookie. Its lifetime follows the refresh token so an
// expired access token is still presented and answered with 410.
func (c *CookieManager) SetAccess(w http.ResponseWriter, token string, maxAge time.Duration) {
	c.set(w, AccessCookie, token, maxAge)
}

// SetTokens sets both token cookies.
func (c *CookieManager) SetTokens(w http.ResponseWriter, accessToken, refreshToken string, maxAge time.Duration) {
	c.set(w, AccessCookie, accessToken, maxAge)
	c.set(w, RefreshCookie, refreshToken, maxAge)
}

// Clear expires both token cookies.
func (c *CookieManager) Clear(w http.ResponseWriter) {
	for _, name := range []string{AccessCookie, RefreshCookie} {
		http.SetCookie(w, &http.Cookie{
			Name: name, Value: "", Path: "/", MaxAge: -1,
			HttpOnly: true, Secure: c.Secure, SameSite: c.SameSite, Domain: c.Domain,
		})
	}
}

func (c *CookieManager) set(w http.ResponseWriter, name, value string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name: name, Value: value, Path: "/", MaxAge: int(maxAge.Seconds()),
		HttpOnly: true, Secure: c.Secure, SameSite: c.SameSite, Domain: c.Domain,
	})
}

// GetCookie returns the named cookie's value, or "".
func GetCookie(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}
