package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. WIKIAUTH_DATABASE_URL.
const EnvPrefix = "WIKIAUTH"

// Config holds the application configuration
type Config struct {
	// Server bind address (host:port)
	ServerAddr string

	// Public base URL, used for CORS and logs
	ServerURL string

	// Production enables the Secure cookie attribute
	Production bool

	// Database connection string (DSN). postgres:// selects Postgres,
	// anything else is a SQLite path.
	DatabaseURL string

	// Maximum database connection pool size
	MaxDBConnections int

	Log       LogConfig
	OIDC      OIDCConfig
	Session   SessionConfig
	Admin     AdminConfig
	Edge      EdgeConfig
	Store     StoreConfig
	Provider  ProviderConfig
	RateLimit RateLimitConfig

	// CORSOrigins lists the browser origins allowed to send credentials.
	CORSOrigins []string
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // text or json
}

// OIDCConfig describes the external identity provider whose tokens are accepted.
type OIDCConfig struct {
	Issuer   string
	Audience string

	// JWKSURL skips discovery when set.
	JWKSURL string

	// RefreshInterval is the background signing key refresh period.
	RefreshInterval time.Duration

	// Leeway tolerates clock skew when checking exp and nbf.
	Leeway time.Duration
}

// KeyGeneration is one session signing key generation. An empty Secret means
// the key is derived from SessionConfig.Secret.
type KeyGeneration struct {
	ID     string
	Secret string
}

// SessionConfig configures session credential signing.
type SessionConfig struct {
	// Secret is the master secret for derived key generations.
	Secret string

	// KeyGenerations lists accepted generations, newest first. The first
	// one signs new sessions.
	KeyGenerations []KeyGeneration
}

// AdminConfig holds the system key and the bootstrap allow-list.
type AdminConfig struct {
	// APIKey grants the system principal to bulk ingestion tooling.
	APIKey string

	// Emails are promoted to ADMIN on first sign-in.
	Emails []string
}

// EdgeConfig configures the credential shape pre-check.
type EdgeConfig struct {
	ProtectedPrefixes []string
}

// StoreConfig bounds role store calls.
type StoreConfig struct {
	Timeout time.Duration
}

// ProviderConfig configures the provider's admin API used for role claims.
// Claim writes are disabled when ClaimsEndpoint is empty.
type ProviderConfig struct {
	ClaimsEndpoint string
	TokenURL       string
	ClientID       string
	ClientSecret   string
}

// RateLimitConfig limits session exchanges per client IP.
type RateLimitConfig struct {
	SessionRPS float64
	Burst      int
}

// DefaultKeyGeneration is used when no generations are configured.
const DefaultKeyGeneration = "g1"

// MinAdminAPIKeyLength is the minimum accepted admin API key length.
const MinAdminAPIKeyLength = 16

func setDefaults() {
	viper.SetDefault("server_addr", "localhost:8080")
	viper.SetDefault("server_url", "http://localhost:8080")
	viper.SetDefault("production", false)
	viper.SetDefault("database_url", "wikiauth.db")
	viper.SetDefault("max_db_connections", 25)
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
	viper.SetDefault("oidc.refresh_interval", "15m")
	viper.SetDefault("oidc.leeway", "30s")
	viper.SetDefault("store.timeout", "3s")
	viper.SetDefault("ratelimit.session_rps", 1.0)
	viper.SetDefault("ratelimit.burst", 10)
}

// Load reads configuration from the config file already loaded into viper,
// WIKIAUTH_ prefixed environment variables and defaults, in that order of
// increasing precedence for the environment.
func Load() (*Config, error) {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	setDefaults()

	generations, err := parseKeyGenerations(stringList("session.key_generations"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ServerAddr:       viper.GetString("server_addr"),
		ServerURL:        viper.GetString("server_url"),
		Production:       viper.GetBool("production"),
		DatabaseURL:      viper.GetString("database_url"),
		MaxDBConnections: viper.GetInt("max_db_connections"),
		Log: LogConfig{
			Level:  strings.ToLower(viper.GetString("log.level")),
			Format: strings.ToLower(viper.GetString("log.format")),
		},
		OIDC: OIDCConfig{
			Issuer:          viper.GetString("oidc.issuer"),
			Audience:        viper.GetString("oidc.audience"),
			JWKSURL:         viper.GetString("oidc.jwks_url"),
			RefreshInterval: viper.GetDuration("oidc.refresh_interval"),
			Leeway:          viper.GetDuration("oidc.leeway"),
		},
		Session: SessionConfig{
			Secret:         viper.GetString("session.secret"),
			KeyGenerations: generations,
		},
		Admin: AdminConfig{
			APIKey: viper.GetString("admin.api_key"),
			Emails: stringList("admin.emails"),
		},
		Edge: EdgeConfig{
			ProtectedPrefixes: stringList("edge.protected_prefixes"),
		},
		Store: StoreConfig{
			Timeout: viper.GetDuration("store.timeout"),
		},
		Provider: ProviderConfig{
			ClaimsEndpoint: viper.GetString("provider.claims_endpoint"),
			TokenURL:       viper.GetString("provider.token_url"),
			ClientID:       viper.GetString("provider.client_id"),
			ClientSecret:   viper.GetString("provider.client_secret"),
		},
		RateLimit: RateLimitConfig{
			SessionRPS: viper.GetFloat64("ratelimit.session_rps"),
			Burst:      viper.GetInt("ratelimit.burst"),
		},
		CORSOrigins: stringList("cors.allowed_origins"),
	}

	if len(cfg.Session.KeyGenerations) == 0 {
		cfg.Session.KeyGenerations = []KeyGeneration{{ID: DefaultKeyGeneration}}
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("WIKIAUTH_DATABASE_URL is required")
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		return nil, fmt.Errorf("log.format must be text or json, got %q", cfg.Log.Format)
	}

	return cfg, nil
}

// ValidateServe checks the settings the HTTP server needs beyond Load.
func (c *Config) ValidateServe() error {
	if c.OIDC.Issuer == "" {
		return errors.New("WIKIAUTH_OIDC_ISSUER is required")
	}
	if c.OIDC.Audience == "" {
		return errors.New("WIKIAUTH_OIDC_AUDIENCE is required")
	}
	for _, g := range c.Session.KeyGenerations {
		if g.Secret == "" && c.Session.Secret == "" {
			return fmt.Errorf("WIKIAUTH_SESSION_SECRET is required to derive key generation %q", g.ID)
		}
	}
	if c.Admin.APIKey != "" && len(c.Admin.APIKey) < MinAdminAPIKeyLength {
		return fmt.Errorf("WIKIAUTH_ADMIN_API_KEY must be at least %d characters", MinAdminAPIKeyLength)
	}
	if c.Provider.TokenURL != "" && c.Provider.ClaimsEndpoint == "" {
		return errors.New("WIKIAUTH_PROVIDER_CLAIMS_ENDPOINT is required when a provider token url is set")
	}
	return nil
}

// stringList reads key as a YAML list or a comma-separated string, which is
// how lists arrive through environment variables.
func stringList(key string) []string {
	var raw []string
	switch v := viper.Get(key).(type) {
	case nil:
		return nil
	case string:
		raw = strings.Split(v, ",")
	case []string:
		raw = v
	case []any:
		for _, item := range v {
			raw = append(raw, fmt.Sprint(item))
		}
	default:
		raw = viper.GetStringSlice(key)
	}

	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// parseKeyGenerations accepts "id" (derived) and "id:secret" (explicit).
func parseKeyGenerations(entries []string) ([]KeyGeneration, error) {
	seen := make(map[string]struct{}, len(entries))
	out := make([]KeyGeneration, 0, len(entries))
	for _, entry := range entries {
		id, secret, _ := strings.Cut(entry, ":")
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, fmt.Errorf("session.key_generations: empty id in %q", entry)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("session.key_generations: duplicate id %q", id)
		}
		seen[id] = struct{}{}
		out = append(out, KeyGeneration{ID: id, Secret: strings.TrimSpace(secret)})
	}
	return out, nil
}
