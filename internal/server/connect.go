package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"connectrpc.com/connect"
	"github.com/go-chi/chi/v5"

	"github.com/iKora128/medical-wiki/internal/auth"
	wikimw "github.com/iKora128/medical-wiki/internal/middleware"
	"github.com/iKora128/medical-wiki/internal/repository"
	"github.com/iKora128/medical-wiki/internal/services/iam"
)

const (
	// AuthServiceName is the fully-qualified name of the auth service.
	AuthServiceName = "wikiauth.v1.AuthService"

	// AuthServiceWhoAmIProcedure is the path of the WhoAmI RPC.
	AuthServiceWhoAmIProcedure = "/wikiauth.v1.AuthService/WhoAmI"
	// AuthServiceSetUserRoleProcedure is the path of the SetUserRole RPC.
	AuthServiceSetUserRoleProcedure = "/wikiauth.v1.AuthService/SetUserRole"
)

// JSONCodec carries plain Go structs as JSON. It replaces Connect's default
// "json" codec, which only handles protobuf messages.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// WhoAmIRequest is empty; the principal comes from the request credential.
type WhoAmIRequest struct{}

// SetUserRoleRequest names the user and the new role.
type SetUserRoleRequest struct {
	UID  string `json:"uid"`
	Role string `json:"role"`
}

type authService struct {
	deps *Deps
}

func (s *authService) WhoAmI(ctx context.Context, _ *connect.Request[WhoAmIRequest]) (*connect.Response[PrincipalResponse], error) {
	principal, err := s.authorized(ctx, AuthServiceWhoAmIProcedure, auth.ActionWhoAmI)
	if err != nil {
		return nil, err
	}
	resp := principalResponse(principal)
	return connect.NewResponse(&resp), nil
}

func (s *authService) SetUserRole(ctx context.Context, req *connect.Request[SetUserRoleRequest]) (*connect.Response[SetRoleResponse], error) {
	if _, err := s.authorized(ctx, AuthServiceSetUserRoleProcedure, auth.ActionSetUserRole); err != nil {
		return nil, err
	}

	if req.Msg.UID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("uid is required"))
	}
	role, err := auth.ParseRole(req.Msg.Role)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("role must be USER or ADMIN"))
	}

	lookupCtx, cancel := s.deps.storeContext(ctx)
	_, err = s.deps.Users.Get(lookupCtx, req.Msg.UID)
	cancel()
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, connect.NewError(connect.CodeNotFound, errors.New("user not found"))
		}
		return nil, wikimw.ConnectError(s.deps.Logger, AuthServiceSetUserRoleProcedure, err)
	}

	result, err := s.deps.Roles.Promote(ctx, req.Msg.UID, role)
	if err != nil {
		return nil, wikimw.ConnectError(s.deps.Logger, AuthServiceSetUserRoleProcedure, err)
	}

	resp := &SetRoleResponse{UID: result.UID, Role: result.Role, ClaimSynced: result.ClaimSynced}
	if !result.ClaimSynced {
		resp.Warning = claimWarning
	}
	return connect.NewResponse(resp), nil
}

// authorized loads the principal placed by the auth interceptor and checks action.
func (s *authService) authorized(ctx context.Context, procedure, action string) (*iam.Principal, error) {
	principal, ok := iam.PrincipalFromContext(ctx)
	if !ok {
		return nil, wikimw.ConnectError(s.deps.Logger, procedure, auth.ErrUnauthenticated)
	}
	if err := s.deps.Gate.Authorize(ctx, principal, action); err != nil {
		return nil, wikimw.ConnectError(s.deps.Logger, procedure, err)
	}
	return principal, nil
}

// NewAuthServiceHandler builds the Connect handler for the auth service and
// returns the path it should be mounted on.
func NewAuthServiceHandler(d *Deps, opts ...connect.HandlerOption) (string, http.Handler) {
	svc := &authService{deps: d}
	opts = append([]connect.HandlerOption{connect.WithCodec(JSONCodec{})}, opts...)

	mux := http.NewServeMux()
	mux.Handle(AuthServiceWhoAmIProcedure, connect.NewUnaryHandler(AuthServiceWhoAmIProcedure, svc.WhoAmI, opts...))
	mux.Handle(AuthServiceSetUserRoleProcedure, connect.NewUnaryHandler(AuthServiceSetUserRoleProcedure, svc.SetUserRole, opts...))
	return "/" + AuthServiceName + "/", mux
}

// MountConnectHandlers mounts the auth service with the gate interceptor
// in front of any caller-supplied interceptors.
func MountConnectHandlers(r chi.Router, d *Deps, interceptors ...connect.Interceptor) {
	all := append([]connect.Interceptor{wikimw.NewAuthInterceptor(d.Gate, d.Logger)}, interceptors...)
	path, handler := NewAuthServiceHandler(d, connect.WithInterceptors(all...))
	r.Mount(path, handler)
}
