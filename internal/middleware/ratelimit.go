package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/iKora128/medical-wiki/internal/metrics"
	"github.com/iKora128/medical-wiki/internal/response"
)

// RateLimiterConfig configures the per-client limiter.
type RateLimiterConfig struct {
	Rate  rate.Limit // requests per second per client
	Burst int
	// MaxClients bounds the number of tracked clients.
	MaxClients int
	// IdleTTL drops a client's limiter after this long without requests.
	IdleTTL time.Duration
}

// DefaultRateLimiterConfig allows one session exchange per second per
// client with bursts of ten.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		Rate:       rate.Limit(1),
		Burst:      10,
		MaxClients: 10000,
		IdleTTL:    10 * time.Minute,
	}
}

// RateLimiter keeps one token bucket per client IP.
type RateLimiter struct {
	config   RateLimiterConfig
	mu       sync.Mutex
	limiters *expirable.LRU[string, *rate.Limiter]
	logger   *slog.Logger
	metrics  *metrics.Collector
}

// NewRateLimiter creates a limiter. Zero fields fall back to the defaults.
func NewRateLimiter(config RateLimiterConfig, logger *slog.Logger, m *metrics.Collector) *RateLimiter {
	defaults := DefaultRateLimiterConfig()
	if config.Rate <= 0 {
		config.Rate = defaults.Rate
	}
	if config.Burst <= 0 {
		config.Burst = defaults.Burst
	}
	if config.MaxClients <= 0 {
		config.MaxClients = defaults.MaxClients
	}
	if config.IdleTTL <= 0 {
		config.IdleTTL = defaults.IdleTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{
		config:   config,
		limiters: expirable.NewLRU[string, *rate.Limiter](config.MaxClients, nil, config.IdleTTL),
		logger:   logger,
		metrics:  m,
	}
}

// Middleware rejects requests over the client's budget with 429.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := clientIP(r)
			if !rl.limiterFor(client).Allow() {
				rl.metrics.RecordRateLimited()
				rl.logger.Warn("rate limit exceeded", slog.String("client", client), slog.String("path", r.URL.Path))
				writeRateLimitResponse(w, rl.config.Rate)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientCount returns the number of tracked clients.
func (rl *RateLimiter) ClientCount() int {
	return rl.limiters.Len()
}

func (rl *RateLimiter) limiterFor(client string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if l, ok := rl.limiters.Get(client); ok {
		return l
	}
	l := rate.NewLimiter(rl.config.Rate, rl.config.Burst)
	rl.limiters.Add(client, l)
	return l
}

// clientIP expects chi's RealIP middleware to have normalised RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	retryAfterSec := int(math.Ceil(1.0 / float64(r)))
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	response.Err(w, http.StatusTooManyRequests, response.CodeRateLimited, "too many requests")
}
