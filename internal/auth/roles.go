package auth

import (
	"fmt"
	"strings"
)

// Role is the sole authorization axis of the wiki: a principal is either a
// plain user or an administrator.
type Role string

const (
	// RoleUser is granted to every resolved principal.
	RoleUser Role = "USER"
	// RoleAdmin unlocks administrative routes and bulk ingestion.
	RoleAdmin Role = "ADMIN"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

func (r Role) String() string {
	return string(r)
}

// ParseRole normalises s (case-insensitive, trimmed) into a Role.
func ParseRole(s string) (Role, error) {
	role := Role(strings.ToUpper(strings.TrimSpace(s)))
	if !role.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return role, nil
}
