// Package cmdutil wires the auth core from configuration for CLI commands.
package cmdutil

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/uptrace/bun"

	"github.com/iKora128/medical-wiki/internal/auth/keyset"
	"github.com/iKora128/medical-wiki/internal/config"
	"github.com/iKora128/medical-wiki/internal/db/bunx"
	"github.com/iKora128/medical-wiki/internal/metrics"
	"github.com/iKora128/medical-wiki/internal/provider"
	"github.com/iKora128/medical-wiki/internal/repository"
	"github.com/iKora128/medical-wiki/internal/services/iam"
)

// NewLogger builds the process logger from the log settings.
func NewLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// SigningKeys resolves the configured key generations. Generations without an
// explicit secret are derived from the master secret.
func SigningKeys(cfg config.SessionConfig) ([]iam.SigningKey, error) {
	keys := make([]iam.SigningKey, 0, len(cfg.KeyGenerations))
	for _, g := range cfg.KeyGenerations {
		if g.Secret != "" {
			keys = append(keys, iam.SigningKey{ID: g.ID, Secret: []byte(g.Secret)})
			continue
		}
		key, err := iam.DeriveSigningKey([]byte(cfg.Secret), g.ID)
		if err != nil {
			return nil, fmt.Errorf("session key generation %q: %w", g.ID, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// NewClaimWriter returns the provider claim writer, or a no-op writer when no
// claims endpoint is configured.
func NewClaimWriter(ctx context.Context, cfg config.ProviderConfig) (provider.ClaimWriter, error) {
	if cfg.ClaimsEndpoint == "" {
		return provider.NopClaimWriter{}, nil
	}
	return provider.NewHTTPClaimWriter(ctx, provider.HTTPConfig{
		Endpoint:     cfg.ClaimsEndpoint,
		TokenURL:     cfg.TokenURL,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
	}, nil)
}

// StoreBundle bundles the user store with its DB connection for commands
// that only touch the store of record.
type StoreBundle struct {
	DB    *bun.DB
	Users *repository.BunUserRepository
	Roles *iam.RoleSynchronizer
}

// Close releases the underlying database connection.
func (b *StoreBundle) Close() {
	if b == nil || b.DB == nil {
		return
	}
	_ = bunx.Close(b.DB)
}

// NewStoreBundle connects to the database and wires the role synchronizer.
func NewStoreBundle(ctx context.Context, cfg *config.Config, logger *slog.Logger, m *metrics.Collector) (*StoreBundle, error) {
	db, err := bunx.NewDB(ctx, cfg.DatabaseURL, bunx.Options{MaxOpenConns: cfg.MaxDBConnections})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	claims, err := NewClaimWriter(ctx, cfg.Provider)
	if err != nil {
		_ = bunx.Close(db)
		return nil, fmt.Errorf("configure provider claim writer: %w", err)
	}

	users := repository.NewBunUserRepository(db)
	return &StoreBundle{
		DB:    db,
		Users: users,
		Roles: iam.NewRoleSynchronizer(users, claims, logger, m),
	}, nil
}

// ServeBundle is everything the server command needs.
type ServeBundle struct {
	*StoreBundle

	Registry *prometheus.Registry
	Metrics  *metrics.Collector
	Keys     *keyset.RemoteKeySet
	Verifier *iam.JWTVerifier
	Sessions *iam.SessionIssuer
	Gate     *iam.Gate
}

// NewServeBundle wires the full auth core. Signing keys are fetched lazily
// on first use; callers run Keys.Run for background refresh.
func NewServeBundle(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*ServeBundle, error) {
	if err := cfg.ValidateServe(); err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)

	signing, err := SigningKeys(cfg.Session)
	if err != nil {
		return nil, err
	}

	keyOpts := []keyset.Option{
		keyset.WithLogger(logger),
		keyset.WithRefreshHook(collector.RecordKeyRefresh),
	}
	if cfg.OIDC.JWKSURL != "" {
		keyOpts = append(keyOpts, keyset.WithJWKSURL(cfg.OIDC.JWKSURL))
	}
	keys, err := keyset.NewRemote(cfg.OIDC.Issuer, keyOpts...)
	if err != nil {
		return nil, err
	}

	verifier, err := iam.NewJWTVerifier(keys, cfg.OIDC.Issuer, cfg.OIDC.Audience, iam.WithLeeway(cfg.OIDC.Leeway))
	if err != nil {
		return nil, err
	}

	store, err := NewStoreBundle(ctx, cfg, logger, collector)
	if err != nil {
		return nil, err
	}

	allow := iam.NewAdminAllowList(cfg.Admin.Emails)
	sessions, err := iam.NewSessionIssuer(iam.SessionIssuerDeps{
		Verifier:     verifier,
		Keys:         signing,
		AllowList:    allow,
		Store:        store.Users,
		Synchronizer: store.Roles,
		Logger:       logger,
		Metrics:      collector,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("create session issuer: %w", err)
	}

	gate, err := iam.NewGate(iam.GateDeps{
		Store:        store.Users,
		Verifier:     verifier,
		Sessions:     sessions,
		Synchronizer: store.Roles,
		AllowList:    allow,
		AdminAPIKey:  cfg.Admin.APIKey,
		StoreTimeout: cfg.Store.Timeout,
		Logger:       logger,
		Metrics:      collector,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("create auth gate: %w", err)
	}

	if allow.Len() == 0 {
		logger.Warn("admin allow-list is empty; admin bootstrap is disabled")
	}
	if cfg.Admin.APIKey == "" {
		logger.Info("admin api key not set; system principal is disabled")
	}

	return &ServeBundle{
		StoreBundle: store,
		Registry:    registry,
		Metrics:     collector,
		Keys:        keys,
		Verifier:    verifier,
		Sessions:    sessions,
		Gate:        gate,
	}, nil
}
