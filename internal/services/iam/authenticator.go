package iam

import (
	"context"
	"fmt"
	"net/http"

	"github.com/iKora128/medical-wiki/internal/auth"
)

// Identity is the verified identity recovered from a user credential, before
// the role store is consulted.
type Identity struct {
	UID   string
	Email string
	Name  string

	// ClaimedRole is the provider-embedded role. Informational only.
	ClaimedRole auth.Role
}

// Authenticator validates one kind of user credential.
//
// Implementations:
//   - BearerAuthenticator: identity tokens from the external provider
//   - SessionAuthenticator: session credentials minted by SessionIssuer
//
// Return values:
//   - (identity, nil): Credential valid
//   - (nil, error): Credential rejected; the error wraps auth.ErrUnauthenticated
type Authenticator interface {
	Authenticate(ctx context.Context, cred auth.Credential) (*Identity, error)
}

// AuthRequest wraps HTTP request data so HTTP and Connect requests resolve
// through the same path.
type AuthRequest struct {
	// Headers contains HTTP headers (including Authorization, Cookie)
	Headers http.Header

	// Cookies contains parsed cookies. Nil means parse them from Headers.
	Cookies []*http.Cookie
}

// AuthRequestFromHTTP builds an AuthRequest from r.
func AuthRequestFromHTTP(r *http.Request) AuthRequest {
	return AuthRequest{Headers: r.Header, Cookies: r.Cookies()}
}

// SessionValidator validates session credentials. *SessionIssuer implements it.
type SessionValidator interface {
	Validate(ctx context.Context, credential string) (*SessionClaims, error)
}

// BearerAuthenticator accepts identity tokens presented as bearer values.
type BearerAuthenticator struct {
	verifier TokenVerifier
}

// NewBearerAuthenticator creates an authenticator over verifier.
func NewBearerAuthenticator(verifier TokenVerifier) *BearerAuthenticator {
	return &BearerAuthenticator{verifier: verifier}
}

// Authenticate verifies cred.Value as an identity token.
func (a *BearerAuthenticator) Authenticate(ctx context.Context, cred auth.Credential) (*Identity, error) {
	if cred.Kind != auth.CredentialBearerToken {
		return nil, fmt.Errorf("%w: bearer authenticator got %s", auth.ErrUnauthenticated, cred.Kind)
	}
	claims, err := a.verifier.Verify(ctx, cred.Value)
	if err != nil {
		return nil, err
	}
	return &Identity{
		UID:         claims.Subject,
		Email:       claims.Email,
		Name:        claims.Name,
		ClaimedRole: claims.ClaimedRole(),
	}, nil
}

// SessionAuthenticator accepts session cookies.
type SessionAuthenticator struct {
	sessions SessionValidator
}

// NewSessionAuthenticator creates an authenticator over sessions.
func NewSessionAuthenticator(sessions SessionValidator) *SessionAuthenticator {
	return &SessionAuthenticator{sessions: sessions}
}

// Authenticate validates cred.Value as a session credential.
func (a *SessionAuthenticator) Authenticate(ctx context.Context, cred auth.Credential) (*Identity, error) {
	if cred.Kind != auth.CredentialSessionCookie {
		return nil, fmt.Errorf("%w: session authenticator got %s", auth.ErrUnauthenticated, cred.Kind)
	}
	claims, err := a.sessions.Validate(ctx, cred.Value)
	if err != nil {
		return nil, err
	}
	return &Identity{UID: claims.UID, Email: claims.Email, Name: claims.Name}, nil
}
