package router

import (
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeventbooks/eventgate/internal/auth"
	"github.com/zeventbooks/eventgate/internal/brand"
	"github.com/zeventbooks/eventgate/internal/util"
)

func TestResolvePages(t *testing.T) {
	t.Parallel()

	r := New()

	tests := []struct {
		name     string
		path     string
		expected string
		aliasOf  string
	}{
		{name: "canonical events", path: "/events", expected: "events"},
		{name: "schedule alias", path: "/schedule", expected: "events", aliasOf: "/schedule"},
		{name: "calendar alias", path: "/calendar", expected: "events", aliasOf: "/calendar"},
		{name: "canonical admin", path: "/admin", expected: "admin"},
		{name: "manage alias", path: "/manage", expected: "admin", aliasOf: "/manage"},
		{name: "dashboard alias", path: "/dashboard", expected: "admin", aliasOf: "/dashboard"},
		{name: "tv alias", path: "/tv", expected: "display", aliasOf: "/tv"},
		{name: "kiosk alias", path: "/kiosk", expected: "display", aliasOf: "/kiosk"},
		{name: "sponsor alias", path: "/sponsor", expected: "sponsors", aliasOf: "/sponsor"},
		{name: "poster page", path: "/poster", expected: "poster"},
		{name: "public page", path: "/public", expected: "public"},
		{name: "diagnostics page", path: "/diagnostics", expected: "diagnostics"},
		{name: "trailing slash", path: "/events/", expected: "events"},
		{name: "root defaults to events", path: "/", expected: "events"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			route, err := r.Resolve(http.MethodGet, tt.path, url.Values{}, brand.Root)
			require.NoError(t, err)
			assert.Equal(t, KindHTML, route.Kind)
			assert.Equal(t, tt.expected, route.Name)
			assert.Equal(t, tt.aliasOf, route.AliasOf)
			assert.Equal(t, auth.ScopePublic, route.Scope)
		})
	}
}

func TestResolveQueryDiscriminator(t *testing.T) {
	t.Parallel()

	r := New()

	route, err := r.Resolve(http.MethodGet, "/", url.Values{"page": []string{"events"}}, brand.Root)
	require.NoError(t, err)
	assert.Equal(t, "events", route.Name)
	assert.True(t, route.ViaQuery)

	route, err = r.Resolve(http.MethodGet, "/", url.Values{"p": []string{"manage"}}, brand.Root)
	require.NoError(t, err)
	assert.Equal(t, "admin", route.Name)
	assert.True(t, route.ViaQuery)
}

func TestResolveExplicitPathBeatsQuery(t *testing.T) {
	t.Parallel()

	r := New()

	route, err := r.Resolve(http.MethodGet, "/poster", url.Values{"page": []string{"events"}}, brand.Root)
	require.NoError(t, err)
	assert.Equal(t, "poster", route.Name)
	assert.False(t, route.ViaQuery)
}

func TestResolveAPIRoutes(t *testing.T) {
	t.Parallel()

	r := New()

	tests := []struct {
		name      string
		method    string
		path      string
		expected  string
		scope     auth.Scope
		health    bool
		cacheable bool
		params    map[string]string
	}{
		{
			name:     "status",
			method:   http.MethodGet,
			path:     "/api/status",
			expected: "api.status",
			scope:    auth.ScopePublic,
			health:   true,
		},
		{
			name:     "events list",
			method:   http.MethodGet,
			path:     "/api/events",
			expected: "api.events.list",
			scope:    auth.ScopePublic,
		},
		{
			name:      "public bundle",
			method:    http.MethodGet,
			path:      "/api/events/ev-42/publicBundle",
			expected:  "api.events.publicBundle",
			scope:     auth.ScopePublic,
			cacheable: true,
			params:    map[string]string{"id": "ev-42"},
		},
		{
			name:     "admin events",
			method:   http.MethodGet,
			path:     "/api/admin/events",
			expected: "api.admin.events.list",
			scope:    auth.ScopeAdmin,
		},
		{
			name:     "admin results",
			method:   http.MethodGet,
			path:     "/api/admin/events/ev-42/results",
			expected: "api.admin.events.results",
			scope:    auth.ScopeAdmin,
			params:   map[string]string{"id": "ev-42"},
		},
		{
			name:     "rpc",
			method:   http.MethodPost,
			path:     "/api/rpc",
			expected: "api.rpc",
			scope:    auth.ScopePublic,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			route, err := r.Resolve(tt.method, tt.path, url.Values{}, brand.Root)
			require.NoError(t, err)
			assert.Equal(t, KindJSONAPI, route.Kind)
			assert.Equal(t, tt.expected, route.Name)
			assert.Equal(t, tt.scope, route.Scope)
			assert.Equal(t, tt.health, route.Health)
			assert.Equal(t, tt.cacheable, route.Cacheable)
			assert.Equal(t, tt.params, route.Params)
		})
	}
}

func TestResolveHealthRoutes(t *testing.T) {
	t.Parallel()

	r := New()

	route, err := r.Resolve(http.MethodGet, "/env-status", url.Values{}, brand.Root)
	require.NoError(t, err)
	assert.Equal(t, "env-status", route.Name)
	assert.True(t, route.Health)
	assert.True(t, route.Local)

	route, err = r.Resolve(http.MethodGet, "/status", url.Values{}, brand.Root)
	require.NoError(t, err)
	assert.Equal(t, "status", route.Name)
	assert.True(t, route.Health)
	assert.False(t, route.Local)

	route, err = r.Resolve(http.MethodGet, "/ping", url.Values{}, brand.Root)
	require.NoError(t, err)
	assert.Equal(t, "ping", route.Name)
}

func TestResolveNotFound(t *testing.T) {
	t.Parallel()

	r := New()

	_, err := r.Resolve(http.MethodGet, "/nosuchpage", url.Values{}, brand.Root)
	require.Error(t, err)
	assert.True(t, errors.Is(err, util.ErrNotFound))

	_, err = r.Resolve(http.MethodGet, "/api/nosuch", url.Values{}, brand.Root)
	require.Error(t, err)
	assert.True(t, errors.Is(err, util.ErrNotFound))

	_, err = r.Resolve(http.MethodGet, "/events/nested/path", url.Values{}, brand.Root)
	require.Error(t, err)
	assert.True(t, errors.Is(err, util.ErrNotFound))
}

func TestResolveMethodNotAllowed(t *testing.T) {
	t.Parallel()

	r := New()

	var mna *MethodNotAllowedError

	_, err := r.Resolve(http.MethodPost, "/api/events", url.Values{}, brand.Root)
	require.Error(t, err)
	assert.True(t, errors.As(err, &mna))

	_, err = r.Resolve(http.MethodGet, "/api/rpc", url.Values{}, brand.Root)
	require.Error(t, err)
	assert.True(t, errors.As(err, &mna))

	_, err = r.Resolve(http.MethodDelete, "/events", url.Values{}, brand.Root)
	require.Error(t, err)
	assert.True(t, errors.As(err, &mna))

	_, err = r.Resolve(http.MethodPost, "/status", url.Values{}, brand.Root)
	require.Error(t, err)
	assert.True(t, errors.As(err, &mna))
}

func TestResolvePassthrough(t *testing.T) {
	t.Parallel()

	r := New()

	route, err := r.Resolve(http.MethodGet, "/favicon.ico", url.Values{}, brand.Root)
	require.NoError(t, err)
	assert.Equal(t, KindPassthrough, route.Kind)

	route, err = r.Resolve(http.MethodGet, "/static/app.css", url.Values{}, brand.Root)
	require.NoError(t, err)
	assert.Equal(t, KindPassthrough, route.Kind)
	assert.Equal(t, "static", route.Name)
}

func TestResolveBrandAliases(t *testing.T) {
	t.Parallel()

	r := New(WithBrandAliases(map[string]map[string]string{
		"acme": {"lineup": "events"},
	}))

	route, err := r.Resolve(http.MethodGet, "/lineup", url.Values{}, brand.ID("acme"))
	require.NoError(t, err)
	assert.Equal(t, "events", route.Name)
	assert.Equal(t, "/lineup", route.AliasOf)

	// Custom alias is scoped to its brand.
	_, err = r.Resolve(http.MethodGet, "/lineup", url.Values{}, brand.Root)
	require.Error(t, err)
	assert.True(t, errors.Is(err, util.ErrNotFound))
}

func TestResolveAdminAliasEquivalence(t *testing.T) {
	t.Parallel()

	r := New()

	direct, err := r.Resolve(http.MethodGet, "/events", url.Values{}, brand.Root)
	require.NoError(t, err)

	aliased, err := r.Resolve(http.MethodGet, "/schedule", url.Values{}, brand.Root)
	require.NoError(t, err)

	assert.Equal(t, direct.Name, aliased.Name)
	assert.Equal(t, direct.Path, aliased.Path)
	assert.Equal(t, direct.Kind, aliased.Kind)
}
