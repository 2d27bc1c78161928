package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iKora128/medical-wiki/internal/auth"
)

func newConnectServer(t *testing.T, s *stack) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(s.router)
	t.Cleanup(srv.Close)
	return srv
}

func TestConnect_WhoAmI(t *testing.T) {
	s := newStack(t, nil)
	srv := newConnectServer(t, s)
	client := connect.NewClient[WhoAmIRequest, PrincipalResponse](
		srv.Client(), srv.URL+AuthServiceWhoAmIProcedure, connect.WithCodec(JSONCodec{}),
	)

	t.Run("bearer token", func(t *testing.T) {
		req := connect.NewRequest(&WhoAmIRequest{})
		req.Header().Set("Authorization", "Bearer "+s.idToken(t, "uid-1", "nurse@clinic.example"))

		resp, err := client.CallUnary(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "uid-1", resp.Msg.UID)
		assert.Equal(t, auth.RoleUser, resp.Msg.Role)
	})

	t.Run("session cookie header", func(t *testing.T) {
		session := s.login(t, "/auth/session", "uid-2", "")
		req := connect.NewRequest(&WhoAmIRequest{})
		req.Header().Set("Cookie", (&http.Cookie{Name: auth.SessionCookieName, Value: session}).String())

		resp, err := client.CallUnary(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "uid-2", resp.Msg.UID)
	})

	t.Run("no credential", func(t *testing.T) {
		_, err := client.CallUnary(context.Background(), connect.NewRequest(&WhoAmIRequest{}))
		require.Error(t, err)
		assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))
	})
}

func TestConnect_SetUserRole(t *testing.T) {
	s := newStack(t, nil)
	srv := newConnectServer(t, s)
	client := connect.NewClient[SetUserRoleRequest, SetRoleResponse](
		srv.Client(), srv.URL+AuthServiceSetUserRoleProcedure, connect.WithCodec(JSONCodec{}),
	)
	userSession := s.login(t, "/auth/session", "uid-1", "")

	call := func(setHeader func(http.Header), msg *SetUserRoleRequest) (*connect.Response[SetRoleResponse], error) {
		req := connect.NewRequest(msg)
		setHeader(req.Header())
		return client.CallUnary(context.Background(), req)
	}
	systemKey := func(h http.Header) { h.Set("Authorization", "Bearer "+testAPIKey) }

	t.Run("user is denied", func(t *testing.T) {
		_, err := call(func(h http.Header) {
			h.Set("Cookie", auth.SessionCookieName+"="+userSession)
		}, &SetUserRoleRequest{UID: "uid-1", Role: "ADMIN"})
		require.Error(t, err)
		assert.Equal(t, connect.CodePermissionDenied, connect.CodeOf(err))

		role, err := s.repo.GetRole(context.Background(), "uid-1")
		require.NoError(t, err)
		assert.Equal(t, auth.RoleUser, role)
	})

	t.Run("system key promotes", func(t *testing.T) {
		resp, err := call(systemKey, &SetUserRoleRequest{UID: "uid-1", Role: "ADMIN"})
		require.NoError(t, err)
		assert.Equal(t, auth.RoleAdmin, resp.Msg.Role)
		assert.True(t, resp.Msg.ClaimSynced)

		role, err := s.repo.GetRole(context.Background(), "uid-1")
		require.NoError(t, err)
		assert.Equal(t, auth.RoleAdmin, role)
	})

	for name, tc := range map[string]struct {
		msg  *SetUserRoleRequest
		code connect.Code
	}{
		"unknown user": {&SetUserRoleRequest{UID: "nobody", Role: "ADMIN"}, connect.CodeNotFound},
		"invalid role": {&SetUserRoleRequest{UID: "uid-1", Role: "OWNER"}, connect.CodeInvalidArgument},
		"missing uid":  {&SetUserRoleRequest{Role: "ADMIN"}, connect.CodeInvalidArgument},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := call(systemKey, tc.msg)
			require.Error(t, err)
			assert.Equal(t, tc.code, connect.CodeOf(err))
		})
	}
}
