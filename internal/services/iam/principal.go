package iam

import (
	"context"

	"github.com/iKora128/medical-wiki/internal/auth"
)

// Principal represents the resolved identity of one request.
//
// This struct is IMMUTABLE after construction. It lives for one request and
// is never persisted.
type Principal struct {
	// UID is the identity provider subject, which is also users.id.
	// For the system principal it is auth.SystemPrincipalID.
	UID string

	// Email is optional; identity tokens may omit it.
	Email string

	Name string

	// Role is read from the role store at resolution time.
	Role auth.Role

	// Credential records which extraction path produced this principal.
	Credential auth.CredentialKind

	// System is true only for the admin API key principal. It is never tied
	// to a users row.
	System bool
}

// IsAdmin reports whether p carries administrator trust.
func (p *Principal) IsAdmin() bool {
	return p != nil && (p.System || p.Role == auth.RoleAdmin)
}

// SystemPrincipal returns the principal granted by the admin API key.
func SystemPrincipal() *Principal {
	return &Principal{
		UID:        auth.SystemPrincipalID,
		Role:       auth.RoleAdmin,
		Credential: auth.CredentialSystemKey,
		System:     true,
	}
}

type principalContextKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext returns the principal stored by WithPrincipal.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(*Principal)
	return p, ok && p != nil
}
