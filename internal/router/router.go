// Package router maps inbound requests to route descriptors over a static
// table built once at startup.
//
// Resolution order is first-match-wins: health endpoints, then JSON API
// prefix routes, then page paths (explicit canonical path beats alias beats
// the legacy ?page=/?p= query discriminator), then static passthrough.
// Anything else is a locally generated 404; unknown paths are never
// forwarded to the backend.
package router

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/zeventbooks/eventgate/internal/auth"
	"github.com/zeventbooks/eventgate/internal/brand"
	"github.com/zeventbooks/eventgate/internal/util"
)

// Kind is the closed set of route variants. Every switch over Kind handles
// all three.
type Kind int

// Route kinds.
const (
	// KindHTML routes render a page surface.
	KindHTML Kind = iota
	// KindJSONAPI routes speak the JSON envelope dialect.
	KindJSONAPI
	// KindPassthrough routes forward static assets verbatim.
	KindPassthrough
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindJSONAPI:
		return "json_api"
	case KindPassthrough:
		return "passthrough"
	default:
		return "html"
	}
}

// Route describes a resolved request target. Instances are produced per
// request from the immutable table and carry no shared state.
type Route struct {
	Kind  Kind
	Name  string
	Path  string
	Scope auth.Scope

	// AliasOf holds the original alias path when the request arrived on a
	// friendly alias rather than the canonical path.
	AliasOf string

	// ViaQuery marks a page that was selected by the legacy ?page=/?p=
	// query discriminator rather than its path.
	ViaQuery bool

	// Params holds extracted path parameters (e.g. the event id).
	Params map[string]string

	// Health marks status-class routes that must never be served stale.
	Health bool

	// Local marks routes answered by the gateway itself without an
	// outbound call.
	Local bool

	// Cacheable marks bundle-style reads eligible for conditional GET.
	Cacheable bool
}

// apiRoute is one entry of the JSON API table.
type apiRoute struct {
	name      string
	methods   []string
	segments  []string
	scope     auth.Scope
	health    bool
	cacheable bool
}

// MethodNotAllowedError reports a matched path called with the wrong method.
type MethodNotAllowedError struct {
	Method string
	Path   string
}

// Error implements the error interface.
func (e *MethodNotAllowedError) Error() string {
	return "method " + e.Method + " not allowed for " + e.Path
}

// Is checks if the error matches the target.
func (e *MethodNotAllowedError) Is(target error) bool {
	_, ok := target.(*MethodNotAllowedError)
	return ok
}

// Router resolves requests against the static route table. The table and
// alias maps are built once and read-only afterwards, so resolution needs
// no locks.
type Router struct {
	pages        map[string]bool
	aliases      map[string]string
	brandAliases map[brand.ID]map[string]string
	api          []apiRoute
}

// Option is a functional option for configuring the router.
type Option func(*Router)

// WithBrandAliases installs per-brand custom alias tables that merge over
// the defaults.
func WithBrandAliases(tables map[string]map[string]string) Option {
	return func(r *Router) {
		for b, table := range tables {
			id := brand.ID(strings.ToLower(b))
			merged := make(map[string]string, len(table))
			for alias, canonical := range table {
				merged[normalizeSegment(alias)] = normalizeSegment(canonical)
			}
			r.brandAliases[id] = merged
		}
	}
}

// New creates a router with the default route table.
func New(opts ...Option) *Router {
	r := &Router{
		pages:        defaultPages(),
		aliases:      defaultAliases(),
		brandAliases: make(map[brand.ID]map[string]string),
		api:          defaultAPIRoutes(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// defaultPages lists the canonical page targets.
func defaultPages() map[string]bool {
	return map[string]bool{
		"events":      true,
		"admin":       true,
		"display":     true,
		"poster":      true,
		"public":      true,
		"sponsors":    true,
		"config":      true,
		"reports":     true,
		"diagnostics": true,
	}
}

// defaultAliases maps friendly aliases to canonical pages.
func defaultAliases() map[string]string {
	return map[string]string{
		"schedule":  "events",
		"calendar":  "events",
		"manage":    "admin",
		"dashboard": "admin",
		"tv":        "display",
		"kiosk":     "display",
		"sponsor":   "sponsors",
	}
}

// defaultAPIRoutes builds the ordered JSON API table.
func defaultAPIRoutes() []apiRoute {
	return []apiRoute{
		{
			name:     "api.status",
			methods:  []string{http.MethodGet},
			segments: []string{"api", "status"},
			scope:    auth.ScopePublic,
			health:   true,
		},
		{
			name:      "api.events.publicBundle",
			methods:   []string{http.MethodGet},
			segments:  []string{"api", "events", ":id", "publicBundle"},
			scope:     auth.ScopePublic,
			cacheable: true,
		},
		{
			name:     "api.events.list",
			methods:  []string{http.MethodGet},
			segments: []string{"api", "events"},
			scope:    auth.ScopePublic,
		},
		{
			name:     "api.admin.events.results",
			methods:  []string{http.MethodGet},
			segments: []string{"api", "admin", "events", ":id", "results"},
			scope:    auth.ScopeAdmin,
		},
		{
			name:     "api.admin.events.list",
			methods:  []string{http.MethodGet, http.MethodPost},
			segments: []string{"api", "admin", "events"},
			scope:    auth.ScopeAdmin,
		},
		{
			name:     "api.rpc",
			methods:  []string{http.MethodPost},
			segments: []string{"api", "rpc"},
			scope:    auth.ScopePublic,
		},
	}
}

// Resolve maps a brand-stripped request to a route descriptor. It is a pure
// function over the static table plus request data.
func (r *Router) Resolve(method, path string, query url.Values, b brand.ID) (*Route, error) {
	path = normalizePath(path)

	if route, matched, err := r.resolveHealth(method, path); matched {
		return route, err
	}

	if strings.HasPrefix(path, "/api/") || path == "/api" {
		return r.resolveAPI(method, path)
	}

	if route, matched, err := r.resolvePassthrough(method, path); matched {
		return route, err
	}

	return r.resolvePage(method, path, query, b)
}

// resolveHealth matches the fixed health endpoints.
func (r *Router) resolveHealth(method, path string) (*Route, bool, error) {
	var route *Route

	switch path {
	case "/env-status":
		route = &Route{Kind: KindJSONAPI, Name: "env-status", Path: path, Health: true, Local: true}
	case "/status":
		route = &Route{Kind: KindJSONAPI, Name: "status", Path: path, Health: true}
	case "/ping":
		route = &Route{Kind: KindJSONAPI, Name: "ping", Path: path, Health: true}
	default:
		return nil, false, nil
	}

	if method != http.MethodGet {
		return nil, true, &MethodNotAllowedError{Method: method, Path: path}
	}
	return route, true, nil
}

// resolveAPI matches the JSON API table.
func (r *Router) resolveAPI(method, path string) (*Route, error) {
	segments := splitPath(path)

	for _, entry := range r.api {
		params, ok := matchSegments(entry.segments, segments)
		if !ok {
			continue
		}

		if !methodAllowed(entry.methods, method) {
			return nil, &MethodNotAllowedError{Method: method, Path: path}
		}

		return &Route{
			Kind:      KindJSONAPI,
			Name:      entry.name,
			Path:      path,
			Scope:     entry.scope,
			Params:    params,
			Health:    entry.health,
			Cacheable: entry.cacheable,
		}, nil
	}

	return nil, util.NewRouteNotFoundError(method, path)
}

// resolvePassthrough matches static asset paths forwarded verbatim.
func (r *Router) resolvePassthrough(method, path string) (*Route, bool, error) {
	if path != "/favicon.ico" && !strings.HasPrefix(path, "/static/") {
		return nil, false, nil
	}
	if method != http.MethodGet {
		return nil, true, &MethodNotAllowedError{Method: method, Path: path}
	}
	return &Route{Kind: KindPassthrough, Name: "static", Path: path}, true, nil
}

// resolvePage matches canonical pages, aliases, and finally the legacy
// query discriminator.
func (r *Router) resolvePage(method, path string, query url.Values, b brand.ID) (*Route, error) {
	if method != http.MethodGet && method != http.MethodHead {
		return nil, &MethodNotAllowedError{Method: method, Path: path}
	}

	if path == "/" {
		if route := r.pageFromQuery(query, b); route != nil {
			return route, nil
		}
		// Bare root renders the default landing page.
		return r.pageRoute("events", "", false), nil
	}

	segment := normalizeSegment(strings.TrimPrefix(path, "/"))
	if strings.Contains(segment, "/") {
		// Pages are single-segment; nested unknown paths get the
		// gateway's own 404, never the backend's.
		return nil, util.NewRouteNotFoundError(method, path)
	}

	if r.pages[segment] {
		return r.pageRoute(segment, "", false), nil
	}

	if canonical, ok := r.lookupAlias(segment, b); ok {
		return r.pageRoute(canonical, path, false), nil
	}

	if route := r.pageFromQuery(query, b); route != nil {
		return route, nil
	}

	return nil, util.NewRouteNotFoundError(method, path)
}

// pageFromQuery resolves the legacy ?page=/?p= discriminator.
func (r *Router) pageFromQuery(query url.Values, b brand.ID) *Route {
	name := query.Get("page")
	if name == "" {
		name = query.Get("p")
	}
	if name == "" {
		return nil
	}

	name = normalizeSegment(name)
	if r.pages[name] {
		route := r.pageRoute(name, "", true)
		return route
	}
	if canonical, ok := r.lookupAlias(name, b); ok {
		route := r.pageRoute(canonical, "", true)
		route.AliasOf = name
		return route
	}
	return nil
}

// lookupAlias consults the brand's custom aliases before the defaults.
func (r *Router) lookupAlias(segment string, b brand.ID) (string, bool) {
	if table, ok := r.brandAliases[b]; ok {
		if canonical, ok := table[segment]; ok && r.pages[canonical] {
			return canonical, true
		}
	}
	canonical, ok := r.aliases[segment]
	return canonical, ok
}

// pageRoute builds an HTML route descriptor.
func (r *Router) pageRoute(name, aliasOf string, viaQuery bool) *Route {
	return &Route{
		Kind:     KindHTML,
		Name:     name,
		Path:     "/" + name,
		Scope:    auth.ScopePublic,
		AliasOf:  aliasOf,
		ViaQuery: viaQuery,
	}
}

// normalizePath ensures a leading slash and strips a single trailing slash.
func normalizePath(path string) string {
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	if path == "" {
		path = "/"
	}
	return path
}

// normalizeSegment lower-cases and trims a path or alias segment.
func normalizeSegment(s string) string {
	return strings.ToLower(strings.Trim(strings.TrimSpace(s), "/"))
}

// splitPath splits a normalized path into segments.
func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// matchSegments matches request segments against a pattern, extracting
// :param values.
func matchSegments(pattern, segments []string) (map[string]string, bool) {
	if len(pattern) != len(segments) {
		return nil, false
	}

	var params map[string]string
	for i, p := range pattern {
		if strings.HasPrefix(p, ":") {
			if segments[i] == "" {
				return nil, false
			}
			if params == nil {
				params = make(map[string]string)
			}
			params[p[1:]] = segments[i]
			continue
		}
		if p != segments[i] {
			return nil, false
		}
	}
	return params, true
}

// methodAllowed checks the method against the route's allow-list.
func methodAllowed(methods []string, method string) bool {
	for _, m := range methods {
		if m == method {
			return true
		}
	}
	return false
}
