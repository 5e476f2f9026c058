package middleware

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/zeventbooks/eventgate/internal/config"
	"github.com/zeventbooks/eventgate/internal/envelope"
	"github.com/zeventbooks/eventgate/internal/observability"
)

// Rate limiter defaults.
const (
	// DefaultClientTTL is how long an idle per-client limiter is kept.
	DefaultClientTTL = 10 * time.Minute

	// cleanupInterval is how often expired client entries are removed.
	cleanupInterval = time.Minute
)

// clientEntry holds a limiter and its last access time for TTL cleanup.
type clientEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter limits inbound request rates, either globally or per
// client IP.
type RateLimiter struct {
	limiter   *rate.Limiter
	perClient bool
	clients   map[string]*clientEntry
	mu        sync.Mutex
	rps       int
	burst     int
	logger    observability.Logger
	clientTTL time.Duration
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// RateLimiterOption configures a RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithRateLimiterLogger sets the logger for the rate limiter.
func WithRateLimiterLogger(logger observability.Logger) RateLimiterOption {
	return func(rl *RateLimiter) {
		rl.logger = logger
	}
}

// WithClientTTL sets the idle TTL for per-client limiter entries.
func WithClientTTL(ttl time.Duration) RateLimiterOption {
	return func(rl *RateLimiter) {
		rl.clientTTL = ttl
	}
}

// NewRateLimiter creates a rate limiter.
func NewRateLimiter(rps, burst int, perClient bool, opts ...RateLimiterOption) *RateLimiter {
	rl := &RateLimiter{
		limiter:   rate.NewLimiter(rate.Limit(rps), burst),
		perClient: perClient,
		clients:   make(map[string]*clientEntry),
		rps:       rps,
		burst:     burst,
		logger:    observability.NopLogger(),
		clientTTL: DefaultClientTTL,
		stopCh:    make(chan struct{}),
	}

	for _, opt := range opts {
		opt(rl)
	}

	return rl
}

// Allow reports whether a request from clientIP is within the limit.
func (rl *RateLimiter) Allow(clientIP string) bool {
	if rl.perClient {
		return rl.allowPerClient(clientIP)
	}
	return rl.limiter.Allow()
}

// allowPerClient looks up or creates the client limiter and refreshes
// its last access time in a single critical section.
func (rl *RateLimiter) allowPerClient(clientIP string) bool {
	now := time.Now()

	rl.mu.Lock()
	entry, exists := rl.clients[clientIP]
	if !exists {
		entry = &clientEntry{
			limiter:    rate.NewLimiter(rate.Limit(rl.rps), rl.burst),
			lastAccess: now,
		}
		rl.clients[clientIP] = entry
	} else {
		entry.lastAccess = now
	}
	limiter := entry.limiter
	rl.mu.Unlock()

	return limiter.Allow()
}

// CleanupOldClients removes per-client limiters idle longer than maxAge.
func (rl *RateLimiter) CleanupOldClients(maxAge time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	removed := 0
	for ip, entry := range rl.clients {
		if now.Sub(entry.lastAccess) > maxAge {
			delete(rl.clients, ip)
			removed++
		}
	}

	if removed > 0 {
		rl.logger.Debug("cleaned up expired rate limiter entries",
			observability.Int("removed", removed),
			observability.Int("remaining", len(rl.clients)),
		)
	}
}

// StartCleanup starts the background cleanup loop for per-client state.
func (rl *RateLimiter) StartCleanup() {
	go func() {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				rl.CleanupOldClients(rl.clientTTL)
			case <-rl.stopCh:
				return
			}
		}
	}()
}

// Stop terminates the cleanup loop.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// RateLimit returns a middleware that rejects requests over the limit
// with a 429 envelope.
func RateLimit(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := getClientIP(r)

			if !rl.Allow(clientIP) {
				rl.logger.Warn("rate limit exceeded",
					observability.String("client_ip", clientIP),
					observability.String("path", r.URL.Path),
				)

				corrID := observability.CorrIDFromContext(r.Context())
				env := envelope.Failure(envelope.CodeRateLimited, "too many requests", corrID)

				w.Header().Set(HeaderContentType, ContentTypeJSON)
				w.Header().Set(HeaderRetryAfter, "1")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write(env.Encode())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitFromConfig builds rate limit middleware from gateway config.
// The returned limiter may be nil when limiting is disabled; callers
// should Stop() a non-nil limiter during shutdown.
func RateLimitFromConfig(
	cfg config.RateLimitConfig,
	logger observability.Logger,
) (func(http.Handler) http.Handler, *RateLimiter) {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler {
			return next
		}, nil
	}

	rl := NewRateLimiter(cfg.RPS, cfg.Burst, cfg.PerClient, WithRateLimiterLogger(logger))
	if cfg.PerClient {
		rl.StartCleanup()
	}

	return RateLimit(rl), rl
}
