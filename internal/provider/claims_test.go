package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iKora128/medical-wiki/internal/auth"
)

type fakeProvider struct {
	server      *httptest.Server
	tokenHits   atomic.Int32
	lastPath    atomic.Value
	lastAuth    atomic.Value
	lastRole    atomic.Value
	claimStatus int
}

func newFakeProvider(t *testing.T, claimStatus int) *fakeProvider {
	t.Helper()
	p := &fakeProvider{claimStatus: claimStatus}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		p.tokenHits.Add(1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"provider-token","token_type":"bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/admin/users/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		p.lastPath.Store(r.URL.EscapedPath())
		p.lastAuth.Store(r.Header.Get("Authorization"))

		var body roleClaimBody
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			p.lastRole.Store(body.Role)
		}
		w.WriteHeader(p.claimStatus)
		if p.claimStatus >= 300 {
			_, _ = w.Write([]byte("claim rejected"))
		}
	})

	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

func TestHTTPClaimWriter_SetRoleClaim(t *testing.T) {
	p := newFakeProvider(t, http.StatusNoContent)

	w, err := NewHTTPClaimWriter(context.Background(), HTTPConfig{
		Endpoint:     p.server.URL + "/admin/",
		TokenURL:     p.server.URL + "/token",
		ClientID:     "wikiauth",
		ClientSecret: "secret",
	}, p.server.Client())
	require.NoError(t, err)

	require.NoError(t, w.SetRoleClaim(context.Background(), "u 1", auth.RoleAdmin))
	require.NoError(t, w.SetRoleClaim(context.Background(), "u2", auth.RoleUser))

	assert.Equal(t, int32(1), p.tokenHits.Load(), "token is reused until expiry")
	assert.Equal(t, "/admin/users/u2/claims", p.lastPath.Load())
	assert.Equal(t, "Bearer provider-token", p.lastAuth.Load())
	assert.Equal(t, "USER", p.lastRole.Load())
}

func TestHTTPClaimWriter_EscapesUID(t *testing.T) {
	p := newFakeProvider(t, http.StatusOK)

	w, err := NewHTTPClaimWriter(context.Background(), HTTPConfig{Endpoint: p.server.URL + "/admin"}, p.server.Client())
	require.NoError(t, err)

	require.NoError(t, w.SetRoleClaim(context.Background(), "a/b c", auth.RoleAdmin))
	assert.Equal(t, "/admin/users/a%2Fb%20c/claims", p.lastPath.Load())
	assert.Equal(t, "", p.lastAuth.Load(), "no token url means no bearer")
}

func TestHTTPClaimWriter_Non2xxIsError(t *testing.T) {
	p := newFakeProvider(t, http.StatusServiceUnavailable)

	w, err := NewHTTPClaimWriter(context.Background(), HTTPConfig{Endpoint: p.server.URL + "/admin"}, p.server.Client())
	require.NoError(t, err)

	err = w.SetRoleClaim(context.Background(), "u1", auth.RoleAdmin)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "claim rejected")
}

func TestHTTPClaimWriter_RejectsInvalidRole(t *testing.T) {
	p := newFakeProvider(t, http.StatusOK)

	w, err := NewHTTPClaimWriter(context.Background(), HTTPConfig{Endpoint: p.server.URL}, nil)
	require.NoError(t, err)

	assert.Error(t, w.SetRoleClaim(context.Background(), "u1", auth.Role("ROOT")))
	assert.Nil(t, p.lastPath.Load())
}

func TestNewHTTPClaimWriter_RequiresEndpoint(t *testing.T) {
	_, err := NewHTTPClaimWriter(context.Background(), HTTPConfig{}, nil)
	assert.Error(t, err)
}

func TestNopClaimWriter(t *testing.T) {
	var w ClaimWriter = NopClaimWriter{}
	assert.NoError(t, w.SetRoleClaim(context.Background(), "u1", auth.RoleAdmin))
}
