// Package auth enforces bearer-token authentication on admin-scoped routes.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/zeventbooks/eventgate/internal/observability"
)

// Scope classifies how much authority a route requires.
type Scope int

// Route scopes.
const (
	// ScopePublic routes never consult credentials.
	ScopePublic Scope = iota
	// ScopeAdmin routes require the configured bearer token.
	ScopeAdmin
)

// String returns the string representation of the scope.
func (s Scope) String() string {
	switch s {
	case ScopeAdmin:
		return "admin"
	default:
		return "public"
	}
}

// State is the outcome of evaluating a request's credentials.
type State int

// Authorization states.
const (
	// StateAnonymous is granted on public routes without looking at credentials.
	StateAnonymous State = iota
	// StateBearerValid means a bearer token was presented and matched.
	StateBearerValid
	// StateBearerInvalid means a bearer token was presented and did not match.
	StateBearerInvalid
	// StateQueryKeyValid means the legacy ?key= fallback matched (GET only).
	StateQueryKeyValid
	// StateMissing means an admin route was called without usable credentials.
	StateMissing
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateBearerValid:
		return "bearer_valid"
	case StateBearerInvalid:
		return "bearer_invalid"
	case StateQueryKeyValid:
		return "query_key_valid"
	case StateMissing:
		return "missing"
	default:
		return "anonymous"
	}
}

// Result carries the authorization decision for one request.
type Result struct {
	State State
}

// Allowed reports whether the request may proceed.
func (r Result) Allowed() bool {
	switch r.State {
	case StateAnonymous, StateBearerValid, StateQueryKeyValid:
		return true
	default:
		return false
	}
}

// Guard evaluates credentials against the configured admin token. The token
// is loaded once at startup and never mutated, so the guard is safe for
// concurrent use without locks.
type Guard struct {
	adminToken []byte
	logger     observability.Logger
}

// GuardOption is a functional option for configuring the guard.
type GuardOption func(*Guard)

// WithGuardLogger sets the logger for the guard.
func WithGuardLogger(logger observability.Logger) GuardOption {
	return func(g *Guard) {
		g.logger = logger
	}
}

// NewGuard creates a guard for the given admin token. An empty token
// disables admin access entirely: every admin-scoped request is rejected.
func NewGuard(adminToken string, opts ...GuardOption) *Guard {
	g := &Guard{
		adminToken: []byte(adminToken),
		logger:     observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Authorize evaluates the request for the required scope. Public routes
// short-circuit to Anonymous so the pipeline stays uniform without ever
// consulting credentials.
func (g *Guard) Authorize(r *http.Request, scope Scope) Result {
	if scope == ScopePublic {
		return Result{State: StateAnonymous}
	}

	header := r.Header.Get("Authorization")
	if header != "" {
		return g.authorizeBearer(r, header)
	}

	// Legacy clients pass the token as ?key=; accepted on GET only.
	if key := r.URL.Query().Get("key"); key != "" && r.Method == http.MethodGet {
		if g.tokenMatches(key) {
			return Result{State: StateQueryKeyValid}
		}
		g.logger.Warn("legacy query key rejected",
			observability.String("path", r.URL.Path),
		)
		return Result{State: StateBearerInvalid}
	}

	return Result{State: StateMissing}
}

// authorizeBearer validates the Authorization header.
func (g *Guard) authorizeBearer(r *http.Request, header string) Result {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		g.logger.Warn("malformed authorization scheme",
			observability.String("path", r.URL.Path),
		)
		return Result{State: StateBearerInvalid}
	}

	token := strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return Result{State: StateMissing}
	}

	if g.tokenMatches(token) {
		return Result{State: StateBearerValid}
	}

	g.logger.Warn("bearer token rejected",
		observability.String("path", r.URL.Path),
	)
	return Result{State: StateBearerInvalid}
}

// tokenMatches compares in constant time. An empty configured token never
// matches anything.
func (g *Guard) tokenMatches(presented string) bool {
	if len(g.adminToken) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare(g.adminToken, []byte(presented)) == 1
}
