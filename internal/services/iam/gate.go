package iam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/casbin/casbin/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/iKora128/medical-wiki/internal/auth"
	"github.com/iKora128/medical-wiki/internal/metrics"
	"github.com/iKora128/medical-wiki/internal/repository"
	"github.com/iKora128/medical-wiki/internal/telemetry"
)

const (
	// DefaultStoreTimeout bounds the role store work of one resolution.
	DefaultStoreTimeout = 3 * time.Second

	// loginTouchInterval throttles last_login_at writes.
	loginTouchInterval = 15 * time.Minute
)

// GateDeps holds the collaborators of a Gate.
type GateDeps struct {
	Store    repository.RoleStore
	Verifier TokenVerifier
	Sessions SessionValidator

	// Synchronizer and AllowList drive admin bootstrap. Bootstrap is
	// disabled when either is nil.
	Synchronizer *RoleSynchronizer
	AllowList    *AdminAllowList

	// AdminAPIKey enables the system principal. Empty disables it.
	AdminAPIKey string

	Enforcer     casbin.IEnforcer
	StoreTimeout time.Duration
	Logger       *slog.Logger
	Metrics      *metrics.Collector
	Now          func() time.Time
}

// Gate resolves requests to principals and enforces roles.
// It is stateless across requests and safe for concurrent use.
type Gate struct {
	store          repository.RoleStore
	authenticators map[auth.CredentialKind]Authenticator
	sync           *RoleSynchronizer
	allowList      *AdminAllowList
	adminAPIKey    string
	enforcer       casbin.IEnforcer
	storeTimeout   time.Duration
	logger         *slog.Logger
	metrics        *metrics.Collector
	now            func() time.Time
}

// NewGate validates deps and builds a Gate.
func NewGate(deps GateDeps) (*Gate, error) {
	if deps.Store == nil {
		return nil, errors.New("auth gate: role store is required")
	}
	if deps.Verifier == nil {
		return nil, errors.New("auth gate: token verifier is required")
	}
	if deps.Sessions == nil {
		return nil, errors.New("auth gate: session validator is required")
	}

	enforcer := deps.Enforcer
	if enforcer == nil {
		var err error
		if enforcer, err = auth.InitEnforcer(); err != nil {
			return nil, fmt.Errorf("auth gate: %w", err)
		}
	}

	g := &Gate{
		store: deps.Store,
		authenticators: map[auth.CredentialKind]Authenticator{
			auth.CredentialBearerToken:   NewBearerAuthenticator(deps.Verifier),
			auth.CredentialSessionCookie: NewSessionAuthenticator(deps.Sessions),
		},
		sync:         deps.Synchronizer,
		allowList:    deps.AllowList,
		adminAPIKey:  deps.AdminAPIKey,
		enforcer:     enforcer,
		storeTimeout: deps.StoreTimeout,
		logger:       deps.Logger,
		metrics:      deps.Metrics,
		now:          deps.Now,
	}
	if g.storeTimeout <= 0 {
		g.storeTimeout = DefaultStoreTimeout
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g, nil
}

// Resolve extracts exactly one credential from req and resolves it to a
// Principal. Every failure is terminal for the request:
//   - auth.ErrUnauthenticated (or a wrapper of it) when no credential is
//     present or it is invalid
//   - auth.ErrStoreUnavailable when the role store fails or times out
func (g *Gate) Resolve(ctx context.Context, req AuthRequest) (*Principal, error) {
	// Step 1: Credential extraction
	cred := auth.ExtractCredential(req.Headers, req.Cookies, g.adminAPIKey)

	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerIAM, "iam.Resolve",
		attribute.String(telemetry.AttrCredentialKind, cred.Kind.String()),
	)
	defer span.End()

	principal, err := g.resolve(ctx, cred)
	if err != nil {
		telemetry.RecordError(span, err)
		g.metrics.RecordResolution(cred.Kind.String(), outcomeFor(err))
		return nil, err
	}

	span.SetAttributes(
		attribute.String(telemetry.AttrPrincipalUID, principal.UID),
		attribute.String(telemetry.AttrPrincipalRole, principal.Role.String()),
	)
	g.metrics.RecordResolution(cred.Kind.String(), metrics.OutcomeSuccess)
	return principal, nil
}

func (g *Gate) resolve(ctx context.Context, cred auth.Credential) (*Principal, error) {
	switch cred.Kind {
	case auth.CredentialNone:
		return nil, auth.ErrUnauthenticated
	case auth.CredentialSystemKey:
		// Step 2: System principal never touches the role store
		return SystemPrincipal(), nil
	}

	authenticator, ok := g.authenticators[cred.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported credential %s", auth.ErrUnauthenticated, cred.Kind)
	}

	// Step 3: Verify the credential
	identity, err := authenticator.Authenticate(ctx, cred)
	if err != nil {
		return nil, err
	}

	// Step 4: Resolve the principal against the store of record
	principal, err := g.principalFor(ctx, identity, cred.Kind)
	if err != nil {
		if !errors.Is(err, auth.ErrStoreUnavailable) {
			err = fmt.Errorf("%w: %w", auth.ErrStoreUnavailable, err)
		}
		g.logger.Error("role store unavailable during principal resolution",
			"uid", identity.UID,
			"credential", cred.Kind.String(),
			"error", err,
		)
		return nil, err
	}
	return principal, nil
}

func (g *Gate) principalFor(ctx context.Context, id *Identity, kind auth.CredentialKind) (*Principal, error) {
	ctx, cancel := context.WithTimeout(ctx, g.storeTimeout)
	defer cancel()

	// Lazy provisioning is an idempotent upsert keyed by uid.
	user, created, err := g.store.EnsureUser(ctx, repository.UserSeed{
		ID:    id.UID,
		Email: id.Email,
		Name:  id.Name,
		Role:  auth.RoleUser,
	})
	if err != nil {
		return nil, err
	}
	if created {
		trace.SpanFromContext(ctx).SetAttributes(attribute.Bool(telemetry.AttrUserCreated, true))
		g.metrics.RecordProvisioned()
		g.logger.Info("provisioned user record", "uid", id.UID)
	}

	email := id.Email
	if email == "" {
		email = user.EmailOrEmpty()
	}

	// First sign-in of an allow-listed email bootstraps ADMIN.
	firstSignIn := created || user.LastLoginAt == nil
	bootstrapped := false
	if firstSignIn && user.Role != string(auth.RoleAdmin) && g.bootstrapEnabled() && g.allowList.Contains(email) {
		result, err := g.sync.Promote(ctx, id.UID, auth.RoleAdmin)
		if err != nil {
			return nil, err
		}
		g.logger.Info("bootstrapped allow-listed administrator",
			"uid", id.UID,
			"claim_synced", result.ClaimSynced,
		)
		bootstrapped = true
	}

	// The store is authoritative; identity claims never override it.
	role, err := g.store.GetRole(ctx, id.UID)
	if err != nil {
		return nil, err
	}

	now := g.now()
	if user.LastLoginAt == nil || now.Sub(*user.LastLoginAt) >= loginTouchInterval {
		if err := g.store.TouchLogin(ctx, id.UID, now); err != nil {
			// last_login_at marks the bootstrap as spent and must be written with it.
			if bootstrapped {
				return nil, fmt.Errorf("record bootstrap login: %w", err)
			}
			g.logger.Warn("failed to record login", "uid", id.UID, "error", err)
		}
	}

	name := id.Name
	if name == "" {
		name = user.Name
	}

	return &Principal{
		UID:        id.UID,
		Email:      email,
		Name:       name,
		Role:       role,
		Credential: kind,
	}, nil
}

func (g *Gate) bootstrapEnabled() bool {
	return g.sync != nil && g.allowList.Len() > 0
}

// RequireRole enforces required against p. USER is satisfied by any resolved
// principal, ADMIN requires exactly ADMIN, and the system principal always
// passes. A nil principal is unauthenticated.
func RequireRole(p *Principal, required auth.Role) error {
	if p == nil {
		return auth.ErrUnauthenticated
	}
	if p.System {
		return nil
	}
	switch required {
	case auth.RoleUser:
		return nil
	case auth.RoleAdmin:
		if p.Role == auth.RoleAdmin {
			return nil
		}
		return fmt.Errorf("%w: %s required", auth.ErrForbidden, required)
	default:
		return fmt.Errorf("%w: unknown required role %q", auth.ErrForbidden, required)
	}
}

// RequireRole is the Gate-bound form of RequireRole, recorded on the span.
func (g *Gate) RequireRole(ctx context.Context, p *Principal, required auth.Role) error {
	_, span := telemetry.StartSpan(ctx, telemetry.TracerIAM, "iam.RequireRole",
		attribute.String(telemetry.AttrRequiredRole, required.String()),
	)
	defer span.End()

	err := RequireRole(p, required)
	telemetry.RecordError(span, err)
	return err
}

// Authorize checks p against the action policy. Allowed returns nil,
// denied returns auth.ErrForbidden.
func (g *Gate) Authorize(ctx context.Context, p *Principal, action string) error {
	if p == nil {
		return auth.ErrUnauthenticated
	}

	_, span := telemetry.StartSpan(ctx, telemetry.TracerIAM, "iam.Authorize",
		attribute.String(telemetry.AttrAction, action),
		attribute.String(telemetry.AttrPrincipalUID, p.UID),
	)
	defer span.End()

	subject := auth.RoleSubject(p.Role)
	if p.System {
		subject = auth.SystemSubject()
	}

	allowed, err := g.enforcer.Enforce(subject, action)
	if err != nil {
		err = fmt.Errorf("evaluate policy for %s: %w", action, err)
		telemetry.RecordError(span, err)
		return err
	}
	if !allowed {
		err = fmt.Errorf("%w: %s not permitted for %s", auth.ErrForbidden, action, p.Role)
		telemetry.RecordError(span, err)
		return err
	}
	return nil
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, auth.ErrStoreUnavailable):
		return metrics.OutcomeError
	case errors.Is(err, auth.ErrUnauthenticated), errors.Is(err, auth.ErrForbidden):
		return metrics.OutcomeDenied
	default:
		return metrics.OutcomeError
	}
}
