package repository

import (
	"context"
	"errors"
	"time"

	"github.com/iKora128/medical-wiki/internal/auth"
	"github.com/iKora128/medical-wiki/internal/db/models"
)

var (
	// ErrNotFound is returned when a user record does not exist.
	ErrNotFound = errors.New("user not found")

	// ErrUserExists is returned when provisioning a uid that already has a record.
	ErrUserExists = errors.New("user already exists")
)

// UserSeed carries the attributes used to provision a user record.
type UserSeed struct {
	ID    string
	Email string
	Name  string
	Role  auth.Role
}

// RoleStore is the durable uid to role mapping consulted on every request.
//
// Every infrastructure failure, including a context deadline, is reported
// wrapped in auth.ErrStoreUnavailable.
type RoleStore interface {
	// GetRole returns the stored role, or auth.RoleUser when uid has no record.
	GetRole(ctx context.Context, uid string) (auth.Role, error)
	// SetRole upserts the role for uid. Repeating the call is a no-op.
	SetRole(ctx context.Context, uid string, role auth.Role) error
	Exists(ctx context.Context, uid string) (bool, error)
	// EnsureUser provisions the record if absent and returns the stored row.
	// created is true only for the call that inserted it.
	EnsureUser(ctx context.Context, seed UserSeed) (user *models.User, created bool, err error)
	// TouchLogin records a successful login for uid.
	TouchLogin(ctx context.Context, uid string, at time.Time) error
}

// UserFilter narrows a user listing.
type UserFilter struct {
	// EmailContains matches case-insensitively anywhere in the email.
	EmailContains string
	Role          auth.Role
	Page          int
	Limit         int
}

// UserDirectory exposes the administrative read and provisioning paths.
type UserDirectory interface {
	List(ctx context.Context, filter UserFilter) ([]models.User, int, error)
	Get(ctx context.Context, uid string) (*models.User, error)
	Create(ctx context.Context, seed UserSeed) (*models.User, error)
}

// UserRepository is the full persistence surface for user records.
type UserRepository interface {
	RoleStore
	UserDirectory
}
