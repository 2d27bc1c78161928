package iam

import "strings"

// AdminAllowList is the operator-configured set of emails that are promoted
// to ADMIN on first sign-in. Matching is case-insensitive.
type AdminAllowList struct {
	emails map[string]struct{}
}

// NewAdminAllowList builds an allow-list, ignoring blank entries.
func NewAdminAllowList(emails []string) *AdminAllowList {
	set := make(map[string]struct{}, len(emails))
	for _, e := range emails {
		if e = normalizeEmail(e); e != "" {
			set[e] = struct{}{}
		}
	}
	return &AdminAllowList{emails: set}
}

// Contains reports whether email is allow-listed. An empty email never matches.
func (l *AdminAllowList) Contains(email string) bool {
	if l == nil {
		return false
	}
	email = normalizeEmail(email)
	if email == "" {
		return false
	}
	_, ok := l.emails[email]
	return ok
}

// Len returns the number of allow-listed emails.
func (l *AdminAllowList) Len() int {
	if l == nil {
		return 0
	}
	return len(l.emails)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
