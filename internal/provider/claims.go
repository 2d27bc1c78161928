// Package provider writes role claims back to the external identity provider.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/iKora128/medical-wiki/internal/auth"
)

// ClaimWriter asks the identity provider to embed role in future identity
// tokens for uid.
type ClaimWriter interface {
	SetRoleClaim(ctx context.Context, uid string, role auth.Role) error
}

// NopClaimWriter accepts every claim write and does nothing. It is used when
// no provider endpoint is configured.
type NopClaimWriter struct{}

// SetRoleClaim implements ClaimWriter.
func (NopClaimWriter) SetRoleClaim(context.Context, string, auth.Role) error { return nil }

// HTTPConfig configures an HTTPClaimWriter.
type HTTPConfig struct {
	// Endpoint is the provider's admin API base URL.
	Endpoint string

	// TokenURL, ClientID and ClientSecret enable OAuth2 client credentials.
	// When TokenURL is empty requests are sent unauthenticated.
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string

	Timeout time.Duration
}

// HTTPClaimWriter sets custom claims through the provider's admin HTTP API.
type HTTPClaimWriter struct {
	endpoint string
	client   *http.Client
}

type roleClaimBody struct {
	Role string `json:"role"`
}

// NewHTTPClaimWriter builds a claim writer. base is the HTTP client used for
// both the token exchange and the claim requests; nil means http.DefaultClient.
func NewHTTPClaimWriter(ctx context.Context, cfg HTTPConfig, base *http.Client) (*HTTPClaimWriter, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		return nil, fmt.Errorf("provider claims endpoint is required")
	}
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("parse provider claims endpoint: %w", err)
	}

	if base == nil {
		base = http.DefaultClient
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	client := &http.Client{Transport: base.Transport, Timeout: timeout}
	if cfg.TokenURL != "" {
		ccfg := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		// The token source keeps ctx for later token fetches.
		client = ccfg.Client(context.WithValue(ctx, oauth2.HTTPClient, base))
		client.Timeout = timeout
	}

	return &HTTPClaimWriter{endpoint: endpoint, client: client}, nil
}

// SetRoleClaim PUTs {"role": role} to {endpoint}/users/{uid}/claims.
// Any non-2xx response is an error.
func (w *HTTPClaimWriter) SetRoleClaim(ctx context.Context, uid string, role auth.Role) error {
	if !role.Valid() {
		return fmt.Errorf("set role claim: invalid role %q", role)
	}

	body, err := json.Marshal(roleClaimBody{Role: role.String()})
	if err != nil {
		return fmt.Errorf("encode role claim: %w", err)
	}

	target := fmt.Sprintf("%s/users/%s/claims", w.endpoint, url.PathEscape(uid))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build role claim request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("set role claim for %s: %w", uid, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("set role claim for %s: provider returned %d: %s", uid, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}

var _ ClaimWriter = (*HTTPClaimWriter)(nil)
var _ ClaimWriter = NopClaimWriter{}
