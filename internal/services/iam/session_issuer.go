package iam

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	"github.com/iKora128/medical-wiki/internal/auth"
	"github.com/iKora128/medical-wiki/internal/metrics"
	"github.com/iKora128/medical-wiki/internal/repository"
)

// MinSessionSecretLength is the minimum length of a session signing secret.
const MinSessionSecretLength = 32

const sessionKeyInfoPrefix = "wikiauth session key "

// SigningKey is one generation of the session signing secret.
type SigningKey struct {
	ID     string
	Secret []byte
}

// DeriveSigningKey derives the 32-byte secret of generation id from master
// using HKDF-SHA256.
func DeriveSigningKey(master []byte, id string) (SigningKey, error) {
	if len(master) < MinSessionSecretLength {
		return SigningKey{}, fmt.Errorf("session master secret must be at least %d bytes", MinSessionSecretLength)
	}
	if id == "" {
		return SigningKey{}, errors.New("session key generation id is required")
	}

	secret := make([]byte, 32)
	r := hkdf.New(sha256.New, master, nil, []byte(sessionKeyInfoPrefix+id))
	if _, err := io.ReadFull(r, secret); err != nil {
		return SigningKey{}, fmt.Errorf("derive session key %q: %w", id, err)
	}
	return SigningKey{ID: id, Secret: secret}, nil
}

// SessionClaims are the claims recovered from a valid session credential.
type SessionClaims struct {
	UID       string
	Email     string
	Name      string
	ID        string
	KeyID     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// IssuedSession is a freshly minted session credential.
type IssuedSession struct {
	Token     string
	UID       string
	Email     string
	Name      string
	ExpiresAt time.Time
	// MaxAge is the cookie Max-Age in seconds.
	MaxAge int

	// Promoted is set by the admin login flow.
	Promoted bool
	// ClaimWarning reports a failed provider claim write during the admin
	// login flow. The session is valid regardless.
	ClaimWarning error
}

type sessionPayload struct {
	Subject   string `json:"sub"`
	Email     string `json:"email,omitempty"`
	Name      string `json:"name,omitempty"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
	ID        string `json:"jti"`
}

// IssueOption customises a single Issue call.
type IssueOption func(*issueConfig)

type issueConfig struct {
	adminLogin bool
}

// WithAdminLogin marks the call as an administrative login: the verified
// email must be allow-listed and the uid is promoted to ADMIN before the
// credential is minted.
func WithAdminLogin() IssueOption {
	return func(c *issueConfig) { c.adminLogin = true }
}

// SessionIssuerDeps holds the collaborators of a SessionIssuer.
type SessionIssuerDeps struct {
	Verifier TokenVerifier
	// Keys lists every accepted generation. Keys[0] signs new credentials.
	Keys []SigningKey

	// AllowList, Store and Synchronizer serve the admin login flow. Store
	// provisions the full record before the promotion writes the role.
	AllowList    *AdminAllowList
	Store        repository.RoleStore
	Synchronizer *RoleSynchronizer

	Logger  *slog.Logger
	Metrics *metrics.Collector
	Now     func() time.Time
}

// SessionIssuer exchanges identity tokens for server-signed session
// credentials with a fixed TTL of auth.SessionTTL.
type SessionIssuer struct {
	verifier  TokenVerifier
	signer    jose.Signer
	keys      map[string][]byte
	allowList *AdminAllowList
	store     repository.RoleStore
	sync      *RoleSynchronizer
	logger    *slog.Logger
	metrics   *metrics.Collector
	now       func() time.Time
}

// NewSessionIssuer validates deps and prepares the signer.
func NewSessionIssuer(deps SessionIssuerDeps) (*SessionIssuer, error) {
	if deps.Verifier == nil {
		return nil, errors.New("session issuer: token verifier is required")
	}
	if len(deps.Keys) == 0 {
		return nil, errors.New("session issuer: at least one signing key is required")
	}

	keys := make(map[string][]byte, len(deps.Keys))
	for _, k := range deps.Keys {
		if k.ID == "" {
			return nil, errors.New("session issuer: signing key id is required")
		}
		if len(k.Secret) < MinSessionSecretLength {
			return nil, fmt.Errorf("session issuer: key %q shorter than %d bytes", k.ID, MinSessionSecretLength)
		}
		if _, dup := keys[k.ID]; dup {
			return nil, fmt.Errorf("session issuer: duplicate key id %q", k.ID)
		}
		keys[k.ID] = k.Secret
	}

	current := deps.Keys[0]
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: jose.JSONWebKey{Key: current.Secret, KeyID: current.ID}},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return nil, fmt.Errorf("session issuer: create signer: %w", err)
	}

	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &SessionIssuer{
		verifier:  deps.Verifier,
		signer:    signer,
		keys:      keys,
		allowList: deps.AllowList,
		store:     deps.Store,
		sync:      deps.Synchronizer,
		logger:    logger,
		metrics:   deps.Metrics,
		now:       now,
	}, nil
}

// Issue verifies identityToken and mints a session credential for its subject.
func (s *SessionIssuer) Issue(ctx context.Context, identityToken string, opts ...IssueOption) (*IssuedSession, error) {
	var cfg issueConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	// Step 1: Verify the identity token
	claims, err := s.verifier.Verify(ctx, identityToken)
	if err != nil {
		return nil, err
	}

	issued := &IssuedSession{UID: claims.Subject, Email: claims.Email, Name: claims.Name}

	// Step 2: Admin login flow promotes before anything is minted
	if cfg.adminLogin {
		if !s.allowList.Contains(claims.Email) {
			return nil, fmt.Errorf("%w: email not allow-listed for admin login", auth.ErrForbidden)
		}
		if s.store == nil || s.sync == nil {
			return nil, errors.New("admin login: role store and synchronizer not configured")
		}
		_, created, err := s.store.EnsureUser(ctx, repository.UserSeed{
			ID:    claims.Subject,
			Email: claims.Email,
			Name:  claims.Name,
			Role:  auth.RoleUser,
		})
		if err != nil {
			return nil, fmt.Errorf("admin login: %w", err)
		}
		if created {
			s.metrics.RecordProvisioned()
			s.logger.Info("provisioned user record", "uid", claims.Subject)
		}
		result, err := s.sync.Promote(ctx, claims.Subject, auth.RoleAdmin)
		if err != nil {
			return nil, fmt.Errorf("admin login: %w", err)
		}
		issued.Promoted = true
		issued.ClaimWarning = result.ClaimErr
	}

	// Step 3: Mint with whole-second timestamps
	iat := s.now().Truncate(time.Second)
	exp := iat.Add(auth.SessionTTL)
	payload, err := json.Marshal(sessionPayload{
		Subject:   claims.Subject,
		Email:     claims.Email,
		Name:      claims.Name,
		IssuedAt:  iat.Unix(),
		ExpiresAt: exp.Unix(),
		ID:        uuid.NewString(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode session payload: %w", err)
	}

	object, err := s.signer.Sign(payload)
	if err != nil {
		return nil, fmt.Errorf("sign session: %w", err)
	}
	token, err := object.CompactSerialize()
	if err != nil {
		return nil, fmt.Errorf("serialize session: %w", err)
	}

	issued.Token = token
	issued.ExpiresAt = exp
	issued.MaxAge = int(auth.SessionTTL / time.Second)
	return issued, nil
}

// Validate checks a session credential. It fails with auth.ErrInvalidSession
// when the credential is malformed, signed by an unknown key generation,
// carries a bad signature, or now is at or after its expiry.
func (s *SessionIssuer) Validate(_ context.Context, credential string) (*SessionClaims, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, fmt.Errorf("%w: empty credential", auth.ErrInvalidSession)
	}

	object, err := jose.ParseSignedCompact(credential, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", auth.ErrInvalidSession, err)
	}
	if len(object.Signatures) != 1 {
		return nil, fmt.Errorf("%w: expected one signature", auth.ErrInvalidSession)
	}

	kid := object.Signatures[0].Protected.KeyID
	secret, ok := s.keys[kid]
	if !ok {
		return nil, fmt.Errorf("%w: unknown key generation %q", auth.ErrInvalidSession, kid)
	}

	raw, err := object.Verify(secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", auth.ErrInvalidSession, err)
	}

	var payload sessionPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: decode payload: %w", auth.ErrInvalidSession, err)
	}
	if payload.Subject == "" || payload.ExpiresAt == 0 {
		return nil, fmt.Errorf("%w: incomplete payload", auth.ErrInvalidSession)
	}

	exp := time.Unix(payload.ExpiresAt, 0)
	if !s.now().Before(exp) {
		return nil, fmt.Errorf("%w: expired", auth.ErrInvalidSession)
	}

	return &SessionClaims{
		UID:       payload.Subject,
		Email:     payload.Email,
		Name:      payload.Name,
		ID:        payload.ID,
		KeyID:     kid,
		IssuedAt:  time.Unix(payload.IssuedAt, 0),
		ExpiresAt: exp,
	}, nil
}
