package keyset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/zitadel/oidc/v3/pkg/client"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	defaultHTTPTimeout      = 10 * time.Second
	defaultMissRefreshEvery = 30 * time.Second
	maxJWKSBytes            = 1 << 20
)

// Snapshot is an immutable view of the provider's keys.
type Snapshot struct {
	Keys      map[string]jose.JSONWebKey
	FetchedAt time.Time
	Version   int
}

// RemoteKeySet fetches a JWKS document over HTTP and caches it.
//
// Lookups never block on a lock: they read the current snapshot through an
// atomic pointer. The first lookup initialises the cache, Run refreshes it on
// a timer, and a lookup for an unknown key ID triggers at most one extra
// refresh per miss interval so rotated keys are picked up promptly.
type RemoteKeySet struct {
	snapshot atomic.Pointer[Snapshot]

	issuer     string
	jwksURL    string
	urlMu      sync.Mutex
	httpClient *http.Client

	refreshGroup singleflight.Group
	missLimiter  *rate.Limiter

	logger    *slog.Logger
	onRefresh func(error)
}

// Option configures a RemoteKeySet.
type Option func(*RemoteKeySet)

// WithJWKSURL skips discovery and fetches keys from url.
func WithJWKSURL(url string) Option {
	return func(s *RemoteKeySet) {
		s.jwksURL = url
	}
}

// WithHTTPClient sets the client used for discovery and JWKS fetches.
func WithHTTPClient(c *http.Client) Option {
	return func(s *RemoteKeySet) {
		if c != nil {
			s.httpClient = c
		}
	}
}

// WithMissRefreshInterval bounds how often an unknown key ID may trigger a refresh.
func WithMissRefreshInterval(d time.Duration) Option {
	return func(s *RemoteKeySet) {
		s.missLimiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithLogger sets the logger used by Run.
func WithLogger(l *slog.Logger) Option {
	return func(s *RemoteKeySet) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRefreshHook registers fn to observe every refresh outcome.
func WithRefreshHook(fn func(error)) Option {
	return func(s *RemoteKeySet) {
		s.onRefresh = fn
	}
}

// NewRemote creates a key set for issuer. The JWKS URL is discovered from the
// issuer's OpenID configuration unless WithJWKSURL is given. Nothing is
// fetched until the first lookup or refresh.
func NewRemote(issuer string, opts ...Option) (*RemoteKeySet, error) {
	s := &RemoteKeySet{
		issuer:      issuer,
		httpClient:  &http.Client{Timeout: defaultHTTPTimeout},
		missLimiter: rate.NewLimiter(rate.Every(defaultMissRefreshEvery), 1),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.issuer == "" && s.jwksURL == "" {
		return nil, errors.New("keyset: issuer or jwks url is required")
	}
	return s, nil
}

// Key returns the public key for kid.
func (s *RemoteKeySet) Key(ctx context.Context, kid string) (any, error) {
	snap := s.snapshot.Load()
	if snap == nil {
		var err error
		if snap, err = s.refresh(ctx); err != nil {
			return nil, fmt.Errorf("initial key fetch: %w", err)
		}
	}

	if key, ok := snap.Keys[kid]; ok {
		return key.Key, nil
	}

	if !s.missLimiter.Allow() {
		return nil, ErrKeyNotFound
	}
	snap, err := s.refresh(ctx)
	if err != nil {
		return nil, fmt.Errorf("refresh after unknown kid %q: %w", kid, err)
	}
	if key, ok := snap.Keys[kid]; ok {
		return key.Key, nil
	}
	return nil, ErrKeyNotFound
}

// Snapshot returns the current snapshot, or nil before the first fetch.
func (s *RemoteKeySet) Snapshot() *Snapshot {
	return s.snapshot.Load()
}

// Refresh fetches the JWKS document and atomically swaps the snapshot.
// Concurrent callers share a single fetch.
func (s *RemoteKeySet) Refresh(ctx context.Context) error {
	_, err := s.refresh(ctx)
	return err
}

// Run refreshes the key set every interval until ctx is cancelled.
func (s *RemoteKeySet) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil {
				s.logger.Error("background key refresh failed", "error", err)
				continue
			}
			if snap := s.Snapshot(); snap != nil {
				s.logger.Debug("signing keys refreshed", "version", snap.Version, "keys", len(snap.Keys))
			}
		case <-ctx.Done():
			s.logger.Info("stopping background key refresh")
			return
		}
	}
}

// refresh shares one fetch between concurrent callers. The fetch runs
// detached from any single caller's cancellation; each caller still stops
// waiting when its own ctx is done.
func (s *RemoteKeySet) refresh(ctx context.Context) (*Snapshot, error) {
	detached := context.WithoutCancel(ctx)
	ch := s.refreshGroup.DoChan("refresh", func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(detached, defaultHTTPTimeout)
		defer cancel()

		keys, err := s.fetch(fetchCtx)
		if s.onRefresh != nil {
			s.onRefresh(err)
		}
		if err != nil {
			return nil, err
		}

		version := 1
		if prev := s.snapshot.Load(); prev != nil {
			version = prev.Version + 1
		}
		snap := &Snapshot{Keys: keys, FetchedAt: time.Now(), Version: version}
		s.snapshot.Store(snap)
		return snap, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Snapshot), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *RemoteKeySet) fetch(ctx context.Context) (map[string]jose.JSONWebKey, error) {
	url, err := s.resolveJWKSURL(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build jwks request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch jwks: unexpected status %d", resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJWKSBytes)).Decode(&set); err != nil {
		return nil, fmt.Errorf("decode jwks: %w", err)
	}

	keys := make(map[string]jose.JSONWebKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.KeyID == "" || !k.Valid() || !k.IsPublic() {
			continue
		}
		if k.Use != "" && k.Use != "sig" {
			continue
		}
		keys[k.KeyID] = k
	}
	if len(keys) == 0 {
		return nil, errors.New("jwks contains no usable signing keys")
	}
	return keys, nil
}

func (s *RemoteKeySet) resolveJWKSURL(ctx context.Context) (string, error) {
	s.urlMu.Lock()
	defer s.urlMu.Unlock()

	if s.jwksURL != "" {
		return s.jwksURL, nil
	}

	discovery, err := client.Discover(ctx, s.issuer, s.httpClient)
	if err != nil {
		return "", fmt.Errorf("discover %s: %w", s.issuer, err)
	}
	if discovery.JwksURI == "" {
		return "", fmt.Errorf("discovery document for %s has no jwks_uri", s.issuer)
	}
	s.jwksURL = discovery.JwksURI
	return s.jwksURL, nil
}
