package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/zeventbooks/eventgate/internal/config"
	"github.com/zeventbooks/eventgate/internal/metrics"
	"github.com/zeventbooks/eventgate/internal/middleware"
	"github.com/zeventbooks/eventgate/internal/observability"
)

// Server assembles the gateway handler behind the middleware chain and
// manages the HTTP listener lifecycle.
type Server struct {
	httpServer *http.Server
	limiter    *middleware.RateLimiter
	logger     observability.Logger
	addr       string
	mu         sync.Mutex
	running    bool
}

// ServerOption configures optional server collaborators.
type ServerOption func(*serverOptions)

type serverOptions struct {
	tracer *observability.Tracer
}

// WithServerTracer inserts the tracing middleware into the chain.
func WithServerTracer(t *observability.Tracer) ServerOption {
	return func(o *serverOptions) {
		o.tracer = t
	}
}

// NewServer builds the full handler stack for the gateway: recovery
// outermost so panics anywhere below become structured 500s, then
// request IDs, transparency headers, CORS, rate limiting, and access
// logging around the orchestrator. The metrics endpoint bypasses the
// pipeline entirely.
func NewServer(cfg *config.Config, g *Gateway, m *metrics.Metrics, logger observability.Logger, opts ...ServerOption) *Server {
	var so serverOptions
	for _, opt := range opts {
		opt(&so)
	}

	rateLimit, limiter := middleware.RateLimitFromConfig(cfg.RateLimit, logger)

	chain := []func(http.Handler) http.Handler{
		middleware.Recovery(logger),
		middleware.RequestID(),
	}
	if so.tracer != nil {
		chain = append(chain, observability.TracingMiddleware(so.tracer))
	}
	chain = append(chain,
		middleware.Transparency(cfg.GatewayID, cfg.Version),
		middleware.CORS(),
		rateLimit,
		middleware.Logging(logger),
	)

	handler := middleware.Chain(g, chain...)

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.Handle("/", handler)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port)

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  orDefault(cfg.Server.ReadTimeout.Duration(), 30*time.Second),
			WriteTimeout: orDefault(cfg.Server.WriteTimeout.Duration(), 30*time.Second),
			IdleTimeout:  orDefault(cfg.Server.IdleTimeout.Duration(), 120*time.Second),
		},
		limiter: limiter,
		logger:  logger,
		addr:    addr,
	}
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

// Handler returns the assembled root handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start runs the listener. It blocks until the server stops.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("starting HTTP server",
		observability.String("address", s.addr),
	)

	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop drains in-flight requests and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("stopping HTTP server")

	if s.limiter != nil {
		s.limiter.Stop()
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info("HTTP server stopped")
	return nil
}
