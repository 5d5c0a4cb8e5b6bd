package http

import (
	"net/http"
	"time"
)

// Refresh cookie attributes. The path limits the cookie to the auth routes,
// so it never travels with ordinary API calls.
const (
	RefreshCookieName = "refresh_token"
	RefreshCookiePath = "/api/v1/auth"
)

// CookieConfig controls the refresh cookie written on login, register and
// refresh.
type CookieConfig struct {
	SameSite http.SameSite
	Secure   bool
	MaxAge   time.Duration
}

func (c CookieConfig) set(w http.ResponseWriter, secret string) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    secret,
		Path:     RefreshCookiePath,
		MaxAge:   int(c.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: c.SameSite,
	})
}

func (c CookieConfig) clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    "",
		Path:     RefreshCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: c.SameSite,
	})
}

// refreshSecret returns the refresh secret from the cookie, or from a
// refresh_token field in the JSON body for clients without a cookie jar.
func refreshSecret(r *http.Request) string {
	if c, err := r.Cookie(RefreshCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeOptional(r, &body); err != nil {
		return ""
	}
	return body.RefreshToken
}
