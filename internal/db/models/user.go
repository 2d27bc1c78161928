package models

import (
	"time"

	"github.com/uptrace/bun"
)

// User is the durable identity record. The primary key is the identity
// provider's subject (uid), so provisioning is keyed and idempotent.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID          string     `bun:"id,pk"`
	Email       *string    `bun:"email"`
	Name        string     `bun:"name,notnull"`
	Role        string     `bun:"role,notnull"`
	CreatedAt   time.Time  `bun:"created_at,notnull"`
	LastLoginAt *time.Time `bun:"last_login_at"`
}

// EmailOrEmpty returns the email address, or "" when none is recorded.
func (u *User) EmailOrEmpty() string {
	if u == nil || u.Email == nil {
		return ""
	}
	return *u.Email
}
