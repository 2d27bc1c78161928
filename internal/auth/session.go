package auth

import (
	"net/http"
	"time"
)

const (
	// SessionCookieName is the HTTP-only cookie carrying the session credential.
	SessionCookieName = "session"

	// SessionTTL is the fixed lifetime of a session credential (5 days).
	SessionTTL = 5 * 24 * time.Hour
)

// NewSessionCookie builds the cookie that stores a freshly minted session.
// Secure is set in production only so local HTTP development keeps working.
func NewSessionCookie(value string, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(SessionTTL / time.Second),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// ClearSessionCookie returns a cookie that expires the session cookie.
func ClearSessionCookie(secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}
