package middleware

import (
	"context"
	"errors"
	"log/slog"

	"connectrpc.com/connect"

	"github.com/iKora128/medical-wiki/internal/auth"
	"github.com/iKora128/medical-wiki/internal/services/iam"
)

// NewAuthInterceptor resolves every Connect request through the gate.
//
// Connect does not expose cookies directly; the gate parses the session
// cookie from the Cookie header. On failure the client sees only the
// generic message for the mapped code.
func NewAuthInterceptor(gate Resolver, logger *slog.Logger) connect.UnaryInterceptorFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return connect.UnaryInterceptorFunc(func(next connect.UnaryFunc) connect.UnaryFunc {
		return connect.UnaryFunc(func(
			ctx context.Context,
			req connect.AnyRequest,
		) (connect.AnyResponse, error) {
			principal, err := gate.Resolve(ctx, iam.AuthRequest{Headers: req.Header()})
			if err != nil {
				return nil, ConnectError(logger, req.Spec().Procedure, err)
			}
			return next(iam.WithPrincipal(ctx, principal), req)
		})
	})
}

// ConnectError converts an auth core error into a Connect error carrying
// only the public message. Server-side failures are logged.
func ConnectError(logger *slog.Logger, procedure string, err error) *connect.Error {
	code := auth.ConnectCode(err)
	if code == connect.CodeInternal {
		logger.Error("rpc failed", "procedure", procedure, "error", err)
	}
	return connect.NewError(code, errors.New(auth.PublicMessage(err)))
}
