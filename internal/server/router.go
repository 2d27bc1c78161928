package server

import (
	"net/http"

	"connectrpc.com/connect"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/iKora128/medical-wiki/internal/auth"
	"github.com/iKora128/medical-wiki/internal/metrics"
	wikimw "github.com/iKora128/medical-wiki/internal/middleware"
)

// RouterOptions controls the construction of the wiki auth router.
// Deps is required; every other field has a usable zero value.
type RouterOptions struct {
	Deps *Deps

	// EdgePrefixes overrides wikimw.DefaultProtectedPrefixes.
	EdgePrefixes []string
	CORSOptions  *cors.Options

	// SessionLimiter throttles session exchanges. Nil uses the defaults.
	SessionLimiter *wikimw.RateLimiter

	// Gatherer exposes /metrics when set.
	Gatherer prometheus.Gatherer

	// Ingestion handlers are mounted behind ADMIN only when set.
	ArticleIngest http.Handler
	QuizIngest    http.Handler

	Middleware          []func(http.Handler) http.Handler
	ConnectInterceptors []connect.Interceptor
	HealthHandler       http.HandlerFunc
}

// DefaultCORSOptions returns the development CORS policy for the wiki frontend.
func DefaultCORSOptions() cors.Options {
	return cors.Options{
		AllowedOrigins: []string{
			"http://localhost:3000",
			"http://127.0.0.1:3000",
		},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders: []string{
			"Content-Type",
			"Authorization",
			"Connect-Protocol-Version",
			"Connect-Timeout-Ms",
		},
		ExposedHeaders:   []string{"Retry-After", "Connect-Protocol-Version"},
		AllowCredentials: true,
		MaxAge:           300,
	}
}

func defaultHealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// NewRouter assembles the chi router: shared middleware, the edge
// credential check, session endpoints and the resolved API routes.
func NewRouter(opts RouterOptions) (chi.Router, error) {
	d := opts.Deps
	if err := d.validate(); err != nil {
		return nil, err
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	corsCfg := DefaultCORSOptions()
	if opts.CORSOptions != nil {
		corsCfg = *opts.CORSOptions
	}
	r.Use(cors.Handler(corsCfg))

	prefixes := opts.EdgePrefixes
	if len(prefixes) == 0 {
		prefixes = wikimw.DefaultProtectedPrefixes
	}
	r.Use(wikimw.Edge(prefixes))

	for _, mw := range opts.Middleware {
		if mw != nil {
			r.Use(mw)
		}
	}

	healthHandler := opts.HealthHandler
	if healthHandler == nil {
		healthHandler = defaultHealthHandler
	}
	r.Get("/health", healthHandler)
	if opts.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(opts.Gatherer))
	}

	limiter := opts.SessionLimiter
	if limiter == nil {
		limiter = wikimw.NewRateLimiter(wikimw.DefaultRateLimiterConfig(), d.Logger, nil)
	}

	// Session exchange: the credential is in the body, not the request.
	r.Route("/auth", func(r chi.Router) {
		r.With(limiter.Middleware()).Post("/session", HandleSession(d))
		r.With(limiter.Middleware()).Post("/admin/login", HandleAdminLogin(d))
		r.Post("/logout", HandleLogout(d))
	})

	// Everything below runs with a resolved principal.
	r.Group(func(r chi.Router) {
		r.Use(wikimw.RequirePrincipal(d.Gate, d.Logger))

		r.With(wikimw.RequireAction(d.Gate, auth.ActionWhoAmI, d.Logger)).
			Get("/api/auth/whoami", HandleWhoAmI())

		verifyAdmin := r.With(
			wikimw.RequireRole(auth.RoleAdmin, d.Logger),
			wikimw.RequireAction(d.Gate, auth.ActionVerifyAdmin, d.Logger),
		)
		verifyAdmin.Get("/api/auth/verify-admin", HandleVerifyAdmin())
		verifyAdmin.Post("/api/auth/verify-admin", HandleVerifyAdmin())

		r.Route("/api/admin/users", func(r chi.Router) {
			r.Use(wikimw.RequireRole(auth.RoleAdmin, d.Logger))
			r.With(wikimw.RequireAction(d.Gate, auth.ActionListUsers, d.Logger)).Get("/", HandleListUsers(d))
			r.With(wikimw.RequireAction(d.Gate, auth.ActionCreateUser, d.Logger)).Post("/", HandleCreateUser(d))
			r.With(wikimw.RequireAction(d.Gate, auth.ActionSetUserRole, d.Logger)).Patch("/{id}/role", HandleSetUserRole(d))
		})

		ingest := r.With(
			wikimw.RequireRole(auth.RoleAdmin, d.Logger),
			wikimw.RequireAction(d.Gate, auth.ActionIngestBulk, d.Logger),
		)
		if opts.ArticleIngest != nil {
			ingest.Method(http.MethodPost, "/api/articles/bulk", opts.ArticleIngest)
		}
		if opts.QuizIngest != nil {
			ingest.Method(http.MethodPost, "/api/quizzes/bulk", opts.QuizIngest)
		}
	})

	MountConnectHandlers(r, d, opts.ConnectInterceptors...)

	return r, nil
}

// NewH2CHandler wraps the router with an h2c server so Connect clients can
// speak HTTP/2 over cleartext.
func NewH2CHandler(opts RouterOptions) (http.Handler, error) {
	router, err := NewRouter(opts)
	if err != nil {
		return nil, err
	}
	return h2c.NewHandler(router, &http2.Server{}), nil
}
