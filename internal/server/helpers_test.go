package server

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/iKora128/medical-wiki/internal/auth"
	"github.com/iKora128/medical-wiki/internal/auth/keyset"
	"github.com/iKora128/medical-wiki/internal/db/bunx"
	"github.com/iKora128/medical-wiki/internal/metrics"
	"github.com/iKora128/medical-wiki/internal/migrations"
	"github.com/iKora128/medical-wiki/internal/repository"
	"github.com/iKora128/medical-wiki/internal/services/iam"
	"github.com/iKora128/medical-wiki/internal/validation"
)

const (
	testIssuer   = "https://idp.test.example"
	testAudience = "medical-wiki"
	testKID      = "idp-key-1"
	testAPIKey   = "ingest-key-0123456789abcdef"
)

var testSessionSecret = []byte("0123456789abcdef0123456789abcdef")

type fakeClaimWriter struct {
	mu     sync.Mutex
	err    error
	claims map[string]auth.Role
}

func (w *fakeClaimWriter) SetRoleClaim(_ context.Context, uid string, role auth.Role) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.claims[uid] = role
	return nil
}

func (w *fakeClaimWriter) claim(uid string) (auth.Role, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	role, ok := w.claims[uid]
	return role, ok
}

// stack is the full auth core over an in-memory SQLite store.
type stack struct {
	key      *rsa.PrivateKey
	db       *bun.DB
	repo     *repository.BunUserRepository
	claims   *fakeClaimWriter
	registry *prometheus.Registry
	router   chi.Router
	logs     *bytes.Buffer
}

type stackOption func(*RouterOptions)

func newStack(t *testing.T, adminEmails []string, opts ...stackOption) *stack {
	t.Helper()
	ctx := context.Background()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	db, err := bunx.NewDB(ctx, ":memory:", bunx.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bunx.Close(db) })
	_, err = migrations.Apply(ctx, db)
	require.NoError(t, err)

	s := &stack{
		key:      key,
		db:       db,
		repo:     repository.NewBunUserRepository(db),
		claims:   &fakeClaimWriter{claims: map[string]auth.Role{}},
		registry: prometheus.NewRegistry(),
		logs:     &bytes.Buffer{},
	}
	logger := slog.New(slog.NewTextHandler(s.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	collector := metrics.NewCollector(s.registry)

	verifier, err := iam.NewJWTVerifier(keyset.NewStatic(map[string]any{testKID: &key.PublicKey}), testIssuer, testAudience)
	require.NoError(t, err)

	syncer := iam.NewRoleSynchronizer(s.repo, s.claims, logger, collector)
	allow := iam.NewAdminAllowList(adminEmails)

	signing, err := iam.DeriveSigningKey(testSessionSecret, "g1")
	require.NoError(t, err)
	issuer, err := iam.NewSessionIssuer(iam.SessionIssuerDeps{
		Verifier:     verifier,
		Keys:         []iam.SigningKey{signing},
		AllowList:    allow,
		Store:        s.repo,
		Synchronizer: syncer,
		Logger:       logger,
		Metrics:      collector,
	})
	require.NoError(t, err)

	gate, err := iam.NewGate(iam.GateDeps{
		Store:        s.repo,
		Verifier:     verifier,
		Sessions:     issuer,
		Synchronizer: syncer,
		AllowList:    allow,
		AdminAPIKey:  testAPIKey,
		Logger:       logger,
		Metrics:      collector,
	})
	require.NoError(t, err)

	validator, err := validation.New()
	require.NoError(t, err)

	routerOpts := RouterOptions{
		Deps: &Deps{
			Gate:      gate,
			Sessions:  issuer,
			Roles:     syncer,
			Users:     s.repo,
			Validator: validator,
			Logger:    logger,
		},
		Gatherer: s.registry,
	}
	for _, opt := range opts {
		opt(&routerOpts)
	}

	s.router, err = NewRouter(routerOpts)
	require.NoError(t, err)
	return s
}

func (s *stack) idToken(t *testing.T, uid, email string) string {
	t.Helper()
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":  testIssuer,
		"aud":  testAudience,
		"sub":  uid,
		"name": "Dr. " + uid,
		"iat":  now.Unix(),
		"exp":  now.Add(time.Hour).Unix(),
	}
	if email != "" {
		claims["email"] = email
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = testKID
	signed, err := tok.SignedString(s.key)
	require.NoError(t, err)
	return signed
}

func (s *stack) do(t *testing.T, method, path string, body any, setup ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, fn := range setup {
		fn(req)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

// login exchanges an identity token for the session cookie value.
func (s *stack) login(t *testing.T, path, uid, email string) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, path, SessionRequest{IDToken: s.idToken(t, uid, email)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cookie := sessionCookie(rec)
	require.NotNil(t, cookie)
	return cookie.Value
}

func bearer(token string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func withCookie(value string) func(*http.Request) {
	return func(r *http.Request) { r.AddCookie(&http.Cookie{Name: auth.SessionCookieName, Value: value}) }
}

func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.SessionCookieName {
			return c
		}
	}
	return nil
}

type envelope[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Data    T      `json:"data"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) envelope[T] {
	t.Helper()
	var env envelope[T]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}
