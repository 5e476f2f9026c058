// Package backend issues outbound calls to the upstream RPC service. The
// upstream is treated as opaque, slow, and occasionally misbehaving; the
// client's one promise to callers is that every call returns a
// TransportResult and never an error or a panic.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/zeventbooks/eventgate/internal/brand"
	"github.com/zeventbooks/eventgate/internal/envelope"
	"github.com/zeventbooks/eventgate/internal/observability"
	"github.com/zeventbooks/eventgate/internal/util"
)

// Defaults for the outbound call budget.
const (
	// DefaultTimeout is the hard upper bound per outbound call.
	DefaultTimeout = 12 * time.Second

	// DefaultMaxBodyBytes caps how much of an upstream response is read.
	DefaultMaxBodyBytes = 10 << 20

	// DefaultBreakerThreshold is the consecutive-failure count that trips
	// the circuit breaker.
	DefaultBreakerThreshold = 5

	// DefaultBreakerCooldown is how long the breaker stays open before
	// probing again.
	DefaultBreakerCooldown = 30 * time.Second
)

// Mode selects the outbound call shape.
type Mode int

// Call modes.
const (
	// ModeRPC posts a {method, payload} envelope to the fixed RPC endpoint.
	ModeRPC Mode = iota
	// ModePath issues a REST-style call to a derived path.
	ModePath
)

// Request describes a single outbound call.
type Request struct {
	Mode Mode

	// HTTPMethod applies to ModePath calls. Defaults to GET.
	HTTPMethod string

	// Path is the upstream path for ModePath calls.
	Path string

	// Query is forwarded on ModePath calls.
	Query url.Values

	// RPCMethod and Payload form the envelope for ModeRPC calls.
	RPCMethod string
	Payload   json.RawMessage

	// Brand is forwarded so the upstream can partition per tenant.
	Brand brand.ID
}

// Backend is the single interface the gateway uses to reach the upstream.
type Backend interface {
	// Call performs one outbound call. It always returns a
	// TransportResult; transport failures are carried inside it.
	Call(ctx context.Context, req *Request) *envelope.TransportResult
}

// Client is the HTTP implementation of Backend.
type Client struct {
	baseURL      string
	rpcPath      string
	httpClient   *http.Client
	timeout      time.Duration
	maxBodyBytes int64
	breaker      *gobreaker.CircuitBreaker
	logger       observability.Logger
}

// ClientOption is a functional option for configuring the client.
type ClientOption func(*Client)

// WithClientLogger sets the logger for the client.
func WithClientLogger(logger observability.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithTimeout overrides the per-call timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithMaxBodyBytes overrides the response body cap.
func WithMaxBodyBytes(n int64) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.maxBodyBytes = n
		}
	}
}

// WithBreakerSettings overrides the breaker trip threshold and cooldown.
func WithBreakerSettings(threshold uint32, cooldown time.Duration) ClientOption {
	return func(c *Client) {
		c.breaker = newBreaker(threshold, cooldown, c.logger)
	}
}

// NewClient creates a backend client for the given base URL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	if baseURL == "" {
		return nil, util.NewConfigError("backend.baseUrl", "base URL is required")
	}

	c := &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		rpcPath:      "/rpc",
		timeout:      DefaultTimeout,
		maxBodyBytes: DefaultMaxBodyBytes,
		logger:       observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{
			// The context deadline is the real budget; this is a
			// backstop in case a caller passes an unbounded context.
			Timeout: c.timeout + time.Second,
		}
	}

	if c.breaker == nil {
		c.breaker = newBreaker(DefaultBreakerThreshold, DefaultBreakerCooldown, c.logger)
	}

	return c, nil
}

// newBreaker builds the circuit breaker guarding the upstream.
func newBreaker(threshold uint32, cooldown time.Duration, logger observability.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "backend",
		Timeout: cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				observability.String("breaker", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
		},
	})
}

// Call performs one outbound call. Single attempt: a failed call is
// reported immediately, retry is not this layer's job.
func (c *Client) Call(ctx context.Context, req *Request) *envelope.TransportResult {
	start := time.Now()

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.do(ctx, req)
	})

	if err != nil {
		return &envelope.TransportResult{
			Duration:       time.Since(start),
			TransportError: c.classify(err),
		}
	}

	return result.(*envelope.TransportResult)
}

// do builds and executes the HTTP request.
func (c *Client) do(ctx context.Context, req *Request) (*envelope.TransportResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := c.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes))
	duration := time.Since(start)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("backend call completed",
		observability.String("url", httpReq.URL.String()),
		observability.Int("status", resp.StatusCode),
		observability.Duration("duration", duration),
	)

	return &envelope.TransportResult{
		HTTPStatus: resp.StatusCode,
		Headers:    resp.Header.Clone(),
		Body:       body,
		Duration:   duration,
	}, nil
}

// buildRequest constructs the outbound HTTP request for either call shape.
func (c *Client) buildRequest(ctx context.Context, req *Request) (*http.Request, error) {
	switch req.Mode {
	case ModeRPC:
		return c.buildRPCRequest(ctx, req)
	case ModePath:
		return c.buildPathRequest(ctx, req)
	default:
		return nil, fmt.Errorf("unknown call mode %d", req.Mode)
	}
}

// buildRPCRequest posts the {method, payload} envelope to the fixed endpoint.
func (c *Client) buildRPCRequest(ctx context.Context, req *Request) (*http.Request, error) {
	payload := req.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	body, err := json.Marshal(map[string]any{
		"method":  req.RPCMethod,
		"payload": payload,
		"brand":   req.Brand,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode rpc envelope: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.rpcPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return httpReq, nil
}

// buildPathRequest issues a REST-style call to a derived path. The brand is
// forwarded as a query parameter so the upstream can partition per tenant.
func (c *Client) buildPathRequest(ctx context.Context, req *Request) (*http.Request, error) {
	method := req.HTTPMethod
	if method == "" {
		method = http.MethodGet
	}

	query := url.Values{}
	for k, vs := range req.Query {
		for _, v := range vs {
			query.Add(k, v)
		}
	}
	if req.Brand != "" {
		query.Set("brand", string(req.Brand))
	}

	target := c.baseURL + req.Path
	if encoded := query.Encode(); encoded != "" {
		target += "?" + encoded
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")
	return httpReq, nil
}

// classify maps raw transport failures onto the package's error taxonomy so
// the normalizer can pick a 502 or 504 with errors.Is.
func (c *Client) classify(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return util.NewTimeoutError("backend call", c.timeout)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return util.NewUpstreamError("backend", "circuit breaker open", util.ErrBreakerOpen)
	default:
		return util.NewUpstreamError("backend", "call failed", err)
	}
}

// Ensure Client implements Backend.
var _ Backend = (*Client)(nil)
