package iam

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/iKora128/medical-wiki/internal/auth"
	"github.com/iKora128/medical-wiki/internal/auth/keyset"
	"github.com/iKora128/medical-wiki/internal/db/models"
	"github.com/iKora128/medical-wiki/internal/repository"
)

const (
	testIssuer   = "https://idp.example.test"
	testAudience = "medical-wiki"
	testKID      = "idp-key-1"
	testAPIKey   = "bulk-ingest-api-key"
)

var testSessionSecret = []byte("0123456789abcdef0123456789abcdef")

// fakeClock is a settable clock shared by verifier, issuer and gate.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// tokenFactory signs identity tokens the way the provider would.
type tokenFactory struct {
	key   *rsa.PrivateKey
	kid   string
	clock *fakeClock
}

func newTokenFactory(t *testing.T, clock *fakeClock) *tokenFactory {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return &tokenFactory{key: key, kid: testKID, clock: clock}
}

func (f *tokenFactory) keySet() keyset.KeySet {
	return keyset.NewStatic(map[string]any{f.kid: &f.key.PublicKey})
}

func (f *tokenFactory) claims(uid, email string) jwt.MapClaims {
	now := f.clock.Now()
	c := jwt.MapClaims{
		"iss": testIssuer,
		"aud": testAudience,
		"sub": uid,
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
	if email != "" {
		c["email"] = email
	}
	return c
}

func (f *tokenFactory) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = f.kid
	signed, err := tok.SignedString(f.key)
	require.NoError(t, err)
	return signed
}

func (f *tokenFactory) idToken(t *testing.T, uid, email string) string {
	t.Helper()
	return f.sign(t, f.claims(uid, email))
}

func newTestVerifier(t *testing.T, f *tokenFactory, clock *fakeClock) *JWTVerifier {
	t.Helper()
	v, err := NewJWTVerifier(f.keySet(), testIssuer, testAudience, WithVerifierClock(clock.Now))
	require.NoError(t, err)
	return v
}

// memStore is a map-backed RoleStore that honours context cancellation.
type memStore struct {
	mu        sync.Mutex
	users     map[string]*models.User
	fail      error
	touchFail error
	block     bool
	creates   int
	setRoles  int
	touches   int
}

func newMemStore() *memStore {
	return &memStore{users: make(map[string]*models.User)}
}

var _ repository.RoleStore = (*memStore)(nil)

func (s *memStore) check(ctx context.Context, op string) error {
	s.mu.Lock()
	block, fail := s.block, s.fail
	s.mu.Unlock()

	if block {
		<-ctx.Done()
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w: %w", op, auth.ErrStoreUnavailable, err)
	}
	if fail != nil {
		return fmt.Errorf("%s: %w: %w", op, auth.ErrStoreUnavailable, fail)
	}
	return nil
}

func (s *memStore) setFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

func (s *memStore) GetRole(ctx context.Context, uid string) (auth.Role, error) {
	if err := s.check(ctx, "get role"); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[uid]
	if !ok {
		return auth.RoleUser, nil
	}
	return auth.Role(u.Role), nil
}

func (s *memStore) SetRole(ctx context.Context, uid string, role auth.Role) error {
	if err := s.check(ctx, "set role"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setRoles++
	if u, ok := s.users[uid]; ok {
		u.Role = string(role)
		return nil
	}
	s.users[uid] = &models.User{ID: uid, Role: string(role), CreatedAt: time.Now()}
	return nil
}

func (s *memStore) Exists(ctx context.Context, uid string) (bool, error) {
	if err := s.check(ctx, "exists"); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.users[uid]
	return ok, nil
}

func (s *memStore) EnsureUser(ctx context.Context, seed repository.UserSeed) (*models.User, bool, error) {
	if err := s.check(ctx, "ensure user"); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[seed.ID]; ok {
		copied := *u
		return &copied, false, nil
	}
	u := &models.User{ID: seed.ID, Name: seed.Name, Role: string(auth.RoleUser), CreatedAt: time.Now()}
	if seed.Email != "" {
		email := seed.Email
		u.Email = &email
	}
	s.users[seed.ID] = u
	s.creates++
	copied := *u
	return &copied, true, nil
}

func (s *memStore) TouchLogin(ctx context.Context, uid string, at time.Time) error {
	if err := s.check(ctx, "touch login"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.touchFail != nil {
		return fmt.Errorf("touch login: %w: %w", auth.ErrStoreUnavailable, s.touchFail)
	}
	s.touches++
	if u, ok := s.users[uid]; ok {
		touched := at
		u.LastLoginAt = &touched
	}
	return nil
}

func (s *memStore) role(uid string) auth.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[uid]; ok {
		return auth.Role(u.Role)
	}
	return ""
}

func (s *memStore) user(uid string) (models.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[uid]
	if !ok {
		return models.User{}, false
	}
	return *u, true
}

// fakeClaimWriter records provider claim writes.
type fakeClaimWriter struct {
	mu    sync.Mutex
	calls map[string]auth.Role
	err   error
}

func newFakeClaimWriter(err error) *fakeClaimWriter {
	return &fakeClaimWriter{calls: make(map[string]auth.Role), err: err}
}

func (w *fakeClaimWriter) SetRoleClaim(_ context.Context, uid string, role auth.Role) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.calls[uid] = role
	return nil
}

func (w *fakeClaimWriter) claim(uid string) (auth.Role, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.calls[uid]
	return r, ok
}

var errProviderDown = errors.New("provider claims API unavailable")

// testLogger captures log output so tests can assert on it.
func testLogger() (*slog.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// harness wires the full core over the fakes.
type harness struct {
	clock    *fakeClock
	tokens   *tokenFactory
	verifier *JWTVerifier
	store    *memStore
	claims   *fakeClaimWriter
	sync     *RoleSynchronizer
	issuer   *SessionIssuer
	gate     *Gate
}

type harnessOption func(*GateDeps)

func newHarness(t *testing.T, adminEmails []string, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{clock: newFakeClock(), store: newMemStore(), claims: newFakeClaimWriter(nil)}
	h.tokens = newTokenFactory(t, h.clock)
	h.verifier = newTestVerifier(t, h.tokens, h.clock)
	h.sync = NewRoleSynchronizer(h.store, h.claims, discardLogger(), nil)

	allow := NewAdminAllowList(adminEmails)
	key, err := DeriveSigningKey(testSessionSecret, "g1")
	require.NoError(t, err)

	h.issuer, err = NewSessionIssuer(SessionIssuerDeps{
		Verifier:     h.verifier,
		Keys:         []SigningKey{key},
		AllowList:    allow,
		Store:        h.store,
		Synchronizer: h.sync,
		Logger:       discardLogger(),
		Now:          h.clock.Now,
	})
	require.NoError(t, err)

	deps := GateDeps{
		Store:        h.store,
		Verifier:     h.verifier,
		Sessions:     h.issuer,
		Synchronizer: h.sync,
		AllowList:    allow,
		AdminAPIKey:  testAPIKey,
		Logger:       discardLogger(),
		Now:          h.clock.Now,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	h.gate, err = NewGate(deps)
	require.NoError(t, err)
	return h
}
