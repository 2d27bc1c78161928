package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/iKora128/medical-wiki/internal/auth"
	"github.com/iKora128/medical-wiki/internal/response"
	"github.com/iKora128/medical-wiki/internal/services/iam"
)

// Resolver resolves a request to a principal. *iam.Gate implements it.
type Resolver interface {
	Resolve(ctx context.Context, req iam.AuthRequest) (*iam.Principal, error)
}

// Authorizer adds action-level policy checks. *iam.Gate implements it.
type Authorizer interface {
	Resolver
	Authorize(ctx context.Context, p *iam.Principal, action string) error
}

// RequirePrincipal resolves every request through the gate and stores the
// principal in the request context. Resolution failures are terminal:
// 401 for missing or invalid credentials, 500 when the role store fails.
func RequirePrincipal(gate Resolver, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := gate.Resolve(r.Context(), iam.AuthRequestFromHTTP(r))
			if err != nil {
				if auth.HTTPStatus(err) == http.StatusUnauthorized {
					logger.Debug("request unauthenticated", "method", r.Method, "path", r.URL.Path, "error", err)
				}
				response.FromError(w, r, logger, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(iam.WithPrincipal(r.Context(), principal)))
		})
	}
}

// RequireRole enforces required on the principal placed by RequirePrincipal.
func RequireRole(required auth.Role, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, _ := iam.PrincipalFromContext(r.Context())
			if err := iam.RequireRole(principal, required); err != nil {
				response.FromError(w, r, logger, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAction checks action against the policy for the principal placed
// by RequirePrincipal.
func RequireAction(gate Authorizer, action string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, _ := iam.PrincipalFromContext(r.Context())
			if err := gate.Authorize(r.Context(), principal, action); err != nil {
				response.FromError(w, r, logger, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
