package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
)

// IdentityClaims are the fields read from a verified identity token.
type IdentityClaims struct {
	Subject       string `mapstructure:"sub"`
	Email         string `mapstructure:"email"`
	EmailVerified bool   `mapstructure:"email_verified"`
	Name          string `mapstructure:"name"`

	// RoleClaim is the provider-embedded role, if any. Admin is the legacy
	// boolean form of the same claim.
	RoleClaim string `mapstructure:"role"`
	Admin     bool   `mapstructure:"admin"`

	ExpiresAt time.Time      `mapstructure:"-"`
	Raw       map[string]any `mapstructure:"-"`
}

// ClaimedRole returns the role embedded by the provider, or "" when absent
// or unrecognised. It is informational only; the role store is authoritative.
func (c *IdentityClaims) ClaimedRole() Role {
	if c == nil {
		return ""
	}
	if role, err := ParseRole(c.RoleClaim); err == nil {
		return role
	}
	if c.Admin {
		return RoleAdmin
	}
	return ""
}

// DecodeIdentityClaims decodes a raw claim map. Weak typing accepts
// providers that send booleans as strings.
func DecodeIdentityClaims(raw map[string]any) (*IdentityClaims, error) {
	claims := &IdentityClaims{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           claims,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return nil, fmt.Errorf("build claims decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("decode identity claims: %w", err)
	}

	claims.Subject = strings.TrimSpace(claims.Subject)
	if claims.Subject == "" {
		return nil, fmt.Errorf("claim field sub is empty")
	}
	claims.Email = strings.TrimSpace(claims.Email)
	claims.Raw = raw
	return claims, nil
}
