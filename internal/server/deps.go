package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/iKora128/medical-wiki/internal/auth"
	wikimw "github.com/iKora128/medical-wiki/internal/middleware"
	"github.com/iKora128/medical-wiki/internal/repository"
	"github.com/iKora128/medical-wiki/internal/services/iam"
	"github.com/iKora128/medical-wiki/internal/validation"
)

// principalGate resolves and authorizes principals. *iam.Gate implements it.
type principalGate interface {
	wikimw.Authorizer
}

// sessionMinter exchanges identity tokens for session credentials.
type sessionMinter interface {
	Issue(ctx context.Context, identityToken string, opts ...iam.IssueOption) (*iam.IssuedSession, error)
}

// rolePromoter changes a user's role in the store and at the provider.
type rolePromoter interface {
	Promote(ctx context.Context, uid string, role auth.Role) (*iam.PromoteResult, error)
}

// Compile-time checks that the iam types satisfy the handler contracts.
var (
	_ principalGate = (*iam.Gate)(nil)
	_ sessionMinter = (*iam.SessionIssuer)(nil)
	_ rolePromoter  = (*iam.RoleSynchronizer)(nil)
)

// Deps are the collaborators shared by the HTTP and Connect handlers.
type Deps struct {
	Gate      principalGate
	Sessions  sessionMinter
	Roles     rolePromoter
	Users     repository.UserDirectory
	Validator *validation.Validator
	Logger    *slog.Logger

	// Production sets the Secure attribute on the session cookie.
	Production bool

	// StoreTimeout bounds directory calls made by admin handlers.
	StoreTimeout time.Duration
}

func (d *Deps) validate() error {
	switch {
	case d == nil:
		return errors.New("server deps are required")
	case d.Gate == nil:
		return errors.New("gate is required")
	case d.Sessions == nil:
		return errors.New("session issuer is required")
	case d.Roles == nil:
		return errors.New("role synchronizer is required")
	case d.Users == nil:
		return errors.New("user directory is required")
	case d.Validator == nil:
		return errors.New("request validator is required")
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.StoreTimeout <= 0 {
		d.StoreTimeout = iam.DefaultStoreTimeout
	}
	return nil
}

func (d *Deps) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d.StoreTimeout)
}
