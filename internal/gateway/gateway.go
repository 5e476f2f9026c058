// Package gateway wires the router, brand resolver, auth guard, backend
// client, normalizer, cache validator, and health aggregator into the
// per-request pipeline:
//
//	Routing -> BrandResolving -> Authorizing -> Dispatching ->
//	Normalizing -> CacheChecking -> Responding
//
// Every request walks the same states. Authorizing runs for public
// routes too, as a no-op, so the code path stays uniform.
package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zeventbooks/eventgate/internal/auth"
	"github.com/zeventbooks/eventgate/internal/backend"
	"github.com/zeventbooks/eventgate/internal/brand"
	"github.com/zeventbooks/eventgate/internal/cache"
	"github.com/zeventbooks/eventgate/internal/envelope"
	"github.com/zeventbooks/eventgate/internal/health"
	"github.com/zeventbooks/eventgate/internal/metrics"
	"github.com/zeventbooks/eventgate/internal/middleware"
	"github.com/zeventbooks/eventgate/internal/observability"
	"github.com/zeventbooks/eventgate/internal/router"
	"github.com/zeventbooks/eventgate/internal/util"
)

// maxInboundBody caps request bodies read by the gateway itself.
const maxInboundBody = 1 << 20

// Gateway is the per-request orchestrator. All fields are set at
// construction and read-only afterwards, so a single instance serves
// concurrent requests without locks.
type Gateway struct {
	router     *router.Router
	brands     *brand.Resolver
	guard      *auth.Guard
	backend    backend.Backend
	normalizer *envelope.Normalizer
	validator  *cache.Validator
	health     *health.Aggregator
	metrics    *metrics.Metrics
	logger     observability.Logger
	buildID    string
}

// Option is a functional option for configuring the gateway.
type Option func(*Gateway)

// WithGatewayLogger sets the logger.
func WithGatewayLogger(logger observability.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// WithBuildID sets the build identifier reported by health responses.
func WithBuildID(id string) Option {
	return func(g *Gateway) {
		g.buildID = id
	}
}

// New creates a gateway over the given collaborators.
func New(
	rt *router.Router,
	brands *brand.Resolver,
	guard *auth.Guard,
	be backend.Backend,
	agg *health.Aggregator,
	opts ...Option,
) *Gateway {
	g := &Gateway{
		router:    rt,
		brands:    brands,
		guard:     guard,
		backend:   be,
		health:    agg,
		validator: cache.NewValidator(),
		logger:    observability.NopLogger(),
		metrics:   metrics.New(""),
		buildID:   "dev",
	}
	for _, opt := range opts {
		opt(g)
	}
	g.normalizer = envelope.NewNormalizer(envelope.WithNormalizerLogger(g.logger))
	return g
}

// ServeHTTP runs the request pipeline.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	g.metrics.IncActiveRequests()
	defer g.metrics.DecActiveRequests()

	corrID := observability.CorrIDFromContext(r.Context())
	if corrID == "" {
		corrID = uuid.New().String()
	}

	// BrandResolving happens before table lookup because the brand
	// prefix must be stripped for the route path to match.
	res := g.brands.Resolve(r.URL.Path, r.URL.Query())
	r = r.WithContext(observability.ContextWithBrandID(r.Context(), string(res.Brand)))

	route, err := g.router.Resolve(r.Method, res.Path, r.URL.Query(), res.Brand)
	if err != nil {
		g.respondRouteError(w, r, res.Path, err, corrID, start)
		return
	}

	if target, ok := g.legacyRedirect(route, res, r.URL.Query()); ok {
		http.Redirect(w, r, target, http.StatusFound)
		g.finish(r, route, http.StatusFound, start)
		return
	}

	if !res.Known {
		if route.Kind == router.KindJSONAPI {
			g.respondFailure(w, r, route, envelope.CodeBadInput,
				"unknown brand "+strconv.Quote(string(res.Brand)), corrID, start)
			return
		}
		// Page and asset surfaces degrade to the root brand rather
		// than turning a typo into an error page.
		res.Brand = brand.Root
	}

	authResult := g.guard.Authorize(r, route.Scope)
	if !authResult.Allowed() {
		g.respondUnauthorized(w, r, route, authResult, corrID, start)
		return
	}

	switch route.Kind {
	case router.KindJSONAPI:
		g.serveAPI(w, r, route, res.Brand, corrID, start)
	case router.KindHTML:
		g.servePage(w, r, route, res.Brand, corrID, start)
	case router.KindPassthrough:
		g.servePassthrough(w, r, route, res.Brand, corrID, start)
	}
}

// legacyRedirect answers old-style ?p=<page>&tenant=<brand> URLs with
// their canonical path form, preserving the rest of the query.
func (g *Gateway) legacyRedirect(route *router.Route, res brand.Resolution, query url.Values) (string, bool) {
	if route.Kind != router.KindHTML || !route.ViaQuery {
		return "", false
	}
	if res.Source != brand.SourceQuery || !res.Known {
		return "", false
	}

	rest := url.Values{}
	for k, vs := range query {
		switch k {
		case "p", "page", "tenant", "brand":
		default:
			rest[k] = vs
		}
	}

	target := "/" + string(res.Brand) + "/" + route.Name
	if encoded := rest.Encode(); encoded != "" {
		target += "?" + encoded
	}
	return target, true
}

// serveAPI dispatches a JSON route, normalizes the result, applies
// conditional-read semantics, and writes the envelope.
func (g *Gateway) serveAPI(w http.ResponseWriter, r *http.Request, route *router.Route, b brand.ID, corrID string, start time.Time) {
	if route.Local {
		g.serveEnvStatus(w, r, route, b, start)
		return
	}

	req, badInput := g.buildBackendRequest(r, route, b)
	if badInput != "" {
		g.respondFailure(w, r, route, envelope.CodeBadInput, badInput, corrID, start)
		return
	}

	tr := g.backend.Call(r.Context(), req)
	g.stampBackendHeaders(w, tr)
	g.metrics.RecordBackendCall(modeLabel(req.Mode), callOutcome(tr), tr.Duration)

	norm := g.normalizer.Normalize(tr, corrID)
	g.metrics.RecordNormalization(normalizationLabel(norm))

	status, env := norm.Status, norm.Envelope

	if route.Health {
		// Health shapes are flat, not value-wrapped; once normalization
		// confirms a JSON success the upstream body passes through
		// verbatim so fields like storage state survive.
		w.Header().Set("Cache-Control", cache.ControlNoCache)
		if env.OK {
			g.writeJSON(w, status, tr.Body)
			g.finish(r, route, status, start)
			return
		}
	} else if route.Cacheable && env.OK {
		outcome := g.validator.Apply(r.Header.Get("If-None-Match"), env)
		w.Header().Set("ETag", outcome.ETag)
		w.Header().Set("Cache-Control", cache.ControlBundle)
		if outcome.NotModified {
			g.metrics.RecordCacheValidation("hit")
			w.WriteHeader(http.StatusNotModified)
			g.finish(r, route, http.StatusNotModified, start)
			return
		}
		if r.Header.Get("If-None-Match") != "" {
			g.metrics.RecordCacheValidation("miss")
		} else {
			g.metrics.RecordCacheValidation("fresh")
		}
	}

	g.writeJSON(w, status, env.Encode())
	g.finish(r, route, status, start)
}

// serveEnvStatus answers the gateway-local health route from the
// aggregator without an upstream proxy call.
func (g *Gateway) serveEnvStatus(w http.ResponseWriter, r *http.Request, route *router.Route, b brand.ID, start time.Time) {
	report := g.health.Check(r.Context())
	g.metrics.SetBackendHealth(report.OK)

	status := report.HTTPStatus()
	body, err := json.Marshal(report.FlatStatus(g.buildID, string(b)))
	if err != nil {
		body = []byte(`{"ok":false,"detail":"status encoding failed"}`)
		status = http.StatusInternalServerError
	}

	w.Header().Set("Cache-Control", cache.ControlNoCache)
	g.writeJSON(w, status, body)
	g.finish(r, route, status, start)
}

// buildBackendRequest maps a resolved API route onto the outbound call
// shape. A non-empty second return value is a client-input problem.
func (g *Gateway) buildBackendRequest(r *http.Request, route *router.Route, b brand.ID) (*backend.Request, string) {
	switch route.Name {
	case "status", "api.status":
		return &backend.Request{Mode: backend.ModePath, Path: "/status", Brand: b}, ""
	case "ping":
		return &backend.Request{Mode: backend.ModePath, Path: "/ping", Brand: b}, ""
	case "api.events.list":
		return &backend.Request{Mode: backend.ModeRPC, RPCMethod: "listEvents", Brand: b}, ""
	case "api.events.publicBundle":
		payload, _ := json.Marshal(map[string]string{"eventId": route.Params["id"]})
		return &backend.Request{Mode: backend.ModeRPC, RPCMethod: "getPublicBundle", Payload: payload, Brand: b}, ""
	case "api.admin.events.results":
		payload, _ := json.Marshal(map[string]string{"eventId": route.Params["id"]})
		return &backend.Request{Mode: backend.ModeRPC, RPCMethod: "getEventResults", Payload: payload, Brand: b}, ""
	case "api.admin.events.list":
		if r.Method == http.MethodGet {
			return &backend.Request{Mode: backend.ModeRPC, RPCMethod: "listEventsAdmin", Brand: b}, ""
		}
		body, msg := g.readJSONBody(r)
		if msg != "" {
			return nil, msg
		}
		return &backend.Request{Mode: backend.ModeRPC, RPCMethod: "createEvent", Payload: body, Brand: b}, ""
	case "api.rpc":
		return g.buildRPCRequest(r, b)
	default:
		return &backend.Request{Mode: backend.ModePath, Path: route.Path, Query: r.URL.Query(), Brand: b}, ""
	}
}

// buildRPCRequest validates the free-form RPC surface: the body must be
// a JSON object with a non-empty "method" string.
func (g *Gateway) buildRPCRequest(r *http.Request, b brand.ID) (*backend.Request, string) {
	body, msg := g.readJSONBody(r)
	if msg != "" {
		return nil, msg
	}

	var call struct {
		Method  string          `json:"method"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(body, &call); err != nil {
		return nil, "request body must be a JSON object"
	}
	if call.Method == "" {
		return nil, "missing required field \"method\""
	}

	return &backend.Request{
		Mode:      backend.ModeRPC,
		RPCMethod: call.Method,
		Payload:   call.Payload,
		Brand:     b,
	}, ""
}

// readJSONBody reads and syntax-checks the inbound body.
func (g *Gateway) readJSONBody(r *http.Request) (json.RawMessage, string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxInboundBody))
	if err != nil {
		return nil, "unreadable request body"
	}
	if len(body) == 0 {
		return nil, "empty request body"
	}
	if !json.Valid(body) {
		return nil, "request body is not valid JSON"
	}
	return body, ""
}

// servePage proxies a page route and owns every error surface: the
// backend's error pages are never forwarded to a browser.
func (g *Gateway) servePage(w http.ResponseWriter, r *http.Request, route *router.Route, b brand.ID, corrID string, start time.Time) {
	query := url.Values{}
	for k, vs := range r.URL.Query() {
		switch k {
		case "p", "page", "tenant", "brand":
		default:
			query[k] = vs
		}
	}

	tr := g.backend.Call(r.Context(), &backend.Request{
		Mode:  backend.ModePath,
		Path:  "/" + route.Name,
		Query: query,
		Brand: b,
	})
	g.stampBackendHeaders(w, tr)
	g.metrics.RecordBackendCall(modeLabel(backend.ModePath), callOutcome(tr), tr.Duration)

	if tr.Failed() {
		status := http.StatusBadGateway
		if errors.Is(tr.TransportError, util.ErrTimeout) {
			status = http.StatusGatewayTimeout
		}
		g.respondErrorPage(w, r, route, status, "the backend did not respond", corrID, start)
		return
	}

	if tr.HTTPStatus >= http.StatusBadRequest {
		status := tr.HTTPStatus
		if status >= http.StatusInternalServerError {
			status = http.StatusBadGateway
		}
		g.respondErrorPage(w, r, route, status, "the backend could not render this page", corrID, start)
		return
	}

	w.Header().Set(middleware.HeaderContentType, middleware.ContentTypeHTML)
	w.WriteHeader(tr.HTTPStatus)
	_, _ = w.Write(tr.Body)
	g.finish(r, route, tr.HTTPStatus, start)
}

// servePassthrough forwards a static asset verbatim.
func (g *Gateway) servePassthrough(w http.ResponseWriter, r *http.Request, route *router.Route, b brand.ID, corrID string, start time.Time) {
	tr := g.backend.Call(r.Context(), &backend.Request{
		Mode:  backend.ModePath,
		Path:  route.Path,
		Query: r.URL.Query(),
		Brand: b,
	})
	g.stampBackendHeaders(w, tr)
	g.metrics.RecordBackendCall(modeLabel(backend.ModePath), callOutcome(tr), tr.Duration)

	if tr.Failed() {
		g.respondErrorPage(w, r, route, http.StatusBadGateway, "asset unavailable", corrID, start)
		return
	}

	if ct := tr.Headers.Get(middleware.HeaderContentType); ct != "" {
		w.Header().Set(middleware.HeaderContentType, ct)
	}
	w.WriteHeader(tr.HTTPStatus)
	_, _ = w.Write(tr.Body)
	g.finish(r, route, tr.HTTPStatus, start)
}

// respondRouteError maps router failures onto the right surface: JSON
// for API-shaped paths, the gateway's own HTML page otherwise.
func (g *Gateway) respondRouteError(w http.ResponseWriter, r *http.Request, path string, err error, corrID string, start time.Time) {
	code := envelope.CodeNotFound
	message := "no such route"

	var mna *router.MethodNotAllowedError
	if errors.As(err, &mna) {
		code = envelope.CodeMethodNotAllowed
		message = mna.Error()
	}

	if isAPIShaped(path) {
		g.respondFailure(w, r, nil, code, message, corrID, start)
		return
	}
	g.respondErrorPage(w, r, nil, code.HTTPStatus(), message, corrID, start)
}

// respondUnauthorized writes the 401 envelope. The WWW-Authenticate
// challenge is always present so browser clients know which scheme to
// retry with.
func (g *Gateway) respondUnauthorized(w http.ResponseWriter, r *http.Request, route *router.Route, result auth.Result, corrID string, start time.Time) {
	g.metrics.RecordAuthFailure(result.State.String())

	code := envelope.CodeMissingToken
	message := "missing credentials"
	if result.State == auth.StateBearerInvalid {
		code = envelope.CodeInvalidToken
		message = "invalid credentials"
	}

	w.Header().Set("WWW-Authenticate", "Bearer")
	if route.Kind == router.KindHTML {
		g.respondErrorPage(w, r, route, http.StatusUnauthorized, message, corrID, start)
		return
	}
	g.respondFailure(w, r, route, code, message, corrID, start)
}

// respondFailure writes a failure envelope for an API surface.
func (g *Gateway) respondFailure(w http.ResponseWriter, r *http.Request, route *router.Route, code envelope.Code, message, corrID string, start time.Time) {
	env := envelope.Failure(code, message, corrID)
	g.writeJSON(w, env.Status, env.Encode())
	g.finish(r, route, env.Status, start)
}

// respondErrorPage writes the gateway-owned HTML error page.
func (g *Gateway) respondErrorPage(w http.ResponseWriter, r *http.Request, route *router.Route, status int, message, corrID string, start time.Time) {
	w.Header().Set(middleware.HeaderContentType, middleware.ContentTypeHTML)
	w.WriteHeader(status)
	_, _ = w.Write(renderErrorPage(status, message, corrID))
	g.finish(r, route, status, start)
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set(middleware.HeaderContentType, middleware.ContentTypeJSON)
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// stampBackendHeaders records the upstream outcome on the response for
// operator transparency.
func (g *Gateway) stampBackendHeaders(w http.ResponseWriter, tr *envelope.TransportResult) {
	w.Header().Set(middleware.HeaderBackendDurationMs, strconv.FormatInt(tr.DurationMs(), 10))
	if !tr.Failed() {
		w.Header().Set(middleware.HeaderBackendStatus, strconv.Itoa(tr.HTTPStatus))
	}
}

// finish records request metrics. route may be nil when resolution failed.
func (g *Gateway) finish(r *http.Request, route *router.Route, status int, start time.Time) {
	name, kind := "", "html"
	if route != nil {
		name = route.Name
		kind = route.Kind.String()
	}
	g.metrics.RecordRequest(r.Method, name, kind, status, time.Since(start))
}

// isAPIShaped reports whether a brand-stripped path belongs to the JSON
// surface for error-rendering purposes.
func isAPIShaped(path string) bool {
	return path == "/api" || strings.HasPrefix(path, "/api/") ||
		path == "/status" || path == "/ping" || path == "/env-status"
}

func modeLabel(m backend.Mode) string {
	if m == backend.ModeRPC {
		return "rpc"
	}
	return "path"
}

// callOutcome classifies a transport result for metrics.
func callOutcome(tr *envelope.TransportResult) string {
	switch {
	case tr.TransportError == nil:
		return "ok"
	case errors.Is(tr.TransportError, util.ErrTimeout):
		return "timeout"
	case errors.Is(tr.TransportError, util.ErrBreakerOpen):
		return "breaker_open"
	default:
		return "error"
	}
}

// normalizationLabel classifies a normalized response for metrics.
func normalizationLabel(n *envelope.Normalized) string {
	env := n.Envelope
	switch {
	case env.OK:
		return "ok"
	case env.Code == envelope.CodeUpstreamNonJSON:
		return "non_json"
	case env.Code == envelope.CodeUpstreamUnreachable:
		return "unreachable"
	default:
		return "error"
	}
}
