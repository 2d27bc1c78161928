package iam

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/iKora128/medical-wiki/internal/auth"
	"github.com/iKora128/medical-wiki/internal/auth/keyset"
)

// TokenVerifier checks an identity token issued by the external provider.
//
// Verify fails with auth.ErrInvalidToken when the signature is invalid, the
// token is expired or malformed. It has no side effects.
type TokenVerifier interface {
	Verify(ctx context.Context, identityToken string) (*auth.IdentityClaims, error)
}

const (
	defaultVerifiedCacheSize = 4096
	defaultVerifiedCacheTTL  = 5 * time.Minute
)

// allowedSigningMethods are the asymmetric algorithms accepted from the provider.
var allowedSigningMethods = []string{
	jwt.SigningMethodRS256.Alg(),
	jwt.SigningMethodES256.Alg(),
}

// JWTVerifier verifies provider JWTs against a KeySet.
// It is safe for concurrent use.
type JWTVerifier struct {
	keys   keyset.KeySet
	parser *jwt.Parser
	cache  *expirable.LRU[string, *auth.IdentityClaims]
	leeway time.Duration
	now    func() time.Time
}

// VerifierOption configures a JWTVerifier.
type VerifierOption func(*verifierConfig)

type verifierConfig struct {
	cacheSize int
	cacheTTL  time.Duration
	leeway    time.Duration
	now       func() time.Time
}

// WithVerifiedCache sizes the verified-token cache. size <= 0 disables it.
func WithVerifiedCache(size int, ttl time.Duration) VerifierOption {
	return func(c *verifierConfig) {
		c.cacheSize = size
		c.cacheTTL = ttl
	}
}

// WithLeeway tolerates clock skew on exp, nbf and iat.
func WithLeeway(d time.Duration) VerifierOption {
	return func(c *verifierConfig) { c.leeway = d }
}

// WithVerifierClock overrides time.Now.
func WithVerifierClock(now func() time.Time) VerifierOption {
	return func(c *verifierConfig) { c.now = now }
}

// NewJWTVerifier creates a verifier for tokens issued by issuer for audience.
func NewJWTVerifier(keys keyset.KeySet, issuer, audience string, opts ...VerifierOption) (*JWTVerifier, error) {
	if keys == nil {
		return nil, errors.New("token verifier: key set is required")
	}
	if issuer == "" {
		return nil, errors.New("token verifier: issuer is required")
	}
	if audience == "" {
		return nil, errors.New("token verifier: audience is required")
	}

	cfg := verifierConfig{
		cacheSize: defaultVerifiedCacheSize,
		cacheTTL:  defaultVerifiedCacheTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	v := &JWTVerifier{keys: keys, leeway: cfg.leeway, now: cfg.now}
	v.parser = jwt.NewParser(
		jwt.WithValidMethods(allowedSigningMethods),
		jwt.WithIssuer(issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.leeway),
		jwt.WithTimeFunc(func() time.Time { return v.now() }),
	)
	if cfg.cacheSize > 0 {
		v.cache = expirable.NewLRU[string, *auth.IdentityClaims](cfg.cacheSize, nil, cfg.cacheTTL)
	}
	return v, nil
}

// Verify validates identityToken and returns its identity claims.
func (v *JWTVerifier) Verify(ctx context.Context, identityToken string) (*auth.IdentityClaims, error) {
	if identityToken == "" {
		return nil, fmt.Errorf("%w: empty token", auth.ErrInvalidToken)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cacheKey := auth.HashToken(identityToken)
	if v.cache != nil {
		if claims, ok := v.cache.Get(cacheKey); ok {
			if v.now().Before(claims.ExpiresAt.Add(v.leeway)) {
				return claims, nil
			}
			v.cache.Remove(cacheKey)
			return nil, fmt.Errorf("%w: token expired", auth.ErrInvalidToken)
		}
	}

	mapClaims := jwt.MapClaims{}
	_, err := v.parser.ParseWithClaims(identityToken, mapClaims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token header has no kid")
		}
		return v.keys.Key(ctx, kid)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", auth.ErrInvalidToken, err)
	}

	claims, err := auth.DecodeIdentityClaims(mapClaims)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", auth.ErrInvalidToken, err)
	}
	exp, err := mapClaims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, fmt.Errorf("%w: missing exp", auth.ErrInvalidToken)
	}
	claims.ExpiresAt = exp.Time

	if v.cache != nil {
		v.cache.Add(cacheKey, claims)
	}
	return claims, nil
}

var _ TokenVerifier = (*JWTVerifier)(nil)
