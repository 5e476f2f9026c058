package util

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigError(t *testing.T) {
	t.Parallel()

	err := NewConfigError("backend.baseUrl", "is required")
	assert.Contains(t, err.Error(), "backend.baseUrl")
	assert.True(t, errors.Is(err, ErrConfigInvalid))

	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestRouteNotFoundError(t *testing.T) {
	t.Parallel()

	err := NewRouteNotFoundError("GET", "/nope")
	assert.Equal(t, "no route found for GET /nope", err.Error())
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrTimeout))
}

func TestUpstreamError(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	err := NewUpstreamError("backend", "call failed", cause)

	assert.Contains(t, err.Error(), "connection refused")
	assert.True(t, errors.Is(err, ErrUpstreamUnavail))
	assert.True(t, errors.Is(err, cause))
}

func TestUpstreamErrorWrapsBreakerSentinel(t *testing.T) {
	t.Parallel()

	err := NewUpstreamError("backend", "rejected", ErrBreakerOpen)
	assert.True(t, errors.Is(err, ErrBreakerOpen))
	assert.True(t, errors.Is(err, ErrUpstreamUnavail))
}

func TestTimeoutError(t *testing.T) {
	t.Parallel()

	err := NewTimeoutError("rpc call", 12*time.Second)
	assert.Contains(t, err.Error(), "12s")
	assert.True(t, errors.Is(err, ErrTimeout))
}

func TestWrapError(t *testing.T) {
	t.Parallel()

	require.NoError(t, WrapError(nil, "context"))

	wrapped := WrapError(ErrNotFound, "loading route")
	assert.Equal(t, "loading route: not found", wrapped.Error())
	assert.True(t, errors.Is(wrapped, ErrNotFound))
}
