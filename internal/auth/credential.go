package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/xenitab/go-oidc-middleware/oidctoken"
	"github.com/xenitab/go-oidc-middleware/options"
)

// CredentialKind tags which extraction path matched a request.
type CredentialKind int

const (
	// CredentialNone means the request carried nothing usable.
	CredentialNone CredentialKind = iota
	// CredentialSystemKey is the static admin API key presented as a bearer value.
	CredentialSystemKey
	// CredentialSessionCookie is a server-issued session credential.
	CredentialSessionCookie
	// CredentialBearerToken is an identity token from the external provider.
	CredentialBearerToken
)

func (k CredentialKind) String() string {
	switch k {
	case CredentialSystemKey:
		return "system_key"
	case CredentialSessionCookie:
		return "session_cookie"
	case CredentialBearerToken:
		return "bearer_token"
	default:
		return "none"
	}
}

// Credential is the single credential selected for a request.
type Credential struct {
	Kind  CredentialKind
	Value string
}

// defaultTokenStrings reads "Authorization: Bearer <token>".
var defaultTokenStrings = [][]options.TokenStringOption{{}}

// BearerValue returns the trimmed bearer value of the Authorization header,
// or "" when none is present.
func BearerValue(headers http.Header) string {
	if headers == nil {
		return ""
	}
	token, err := oidctoken.GetTokenString(headers.Get, defaultTokenStrings)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(token)
}

// SessionCookieValue returns the session cookie value. When cookies is nil
// they are parsed from the Cookie header, which is how Connect requests
// carry them.
func SessionCookieValue(headers http.Header, cookies []*http.Cookie) string {
	if cookies == nil && headers != nil {
		cookies = (&http.Request{Header: headers}).Cookies()
	}
	for _, c := range cookies {
		if c.Name == SessionCookieName {
			return strings.TrimSpace(c.Value)
		}
	}
	return ""
}

// ExtractCredential picks exactly one credential in priority order:
// the admin API key, then the session cookie, then a bearer identity token.
// An empty adminKey disables the system path.
func ExtractCredential(headers http.Header, cookies []*http.Cookie, adminKey string) Credential {
	bearer := BearerValue(headers)

	if bearer != "" && MatchesAdminKey(bearer, adminKey) {
		return Credential{Kind: CredentialSystemKey, Value: bearer}
	}
	if session := SessionCookieValue(headers, cookies); session != "" {
		return Credential{Kind: CredentialSessionCookie, Value: session}
	}
	if bearer != "" {
		return Credential{Kind: CredentialBearerToken, Value: bearer}
	}
	return Credential{Kind: CredentialNone}
}

// HasCredentialShape reports whether r carries anything that looks like a
// credential. It performs no verification.
func HasCredentialShape(r *http.Request) bool {
	if BearerValue(r.Header) != "" {
		return true
	}
	return SessionCookieValue(r.Header, r.Cookies()) != ""
}

// MatchesAdminKey compares presented against adminKey in constant time.
func MatchesAdminKey(presented, adminKey string) bool {
	if adminKey == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(adminKey)) == 1
}
