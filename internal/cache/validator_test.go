package cache

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeventbooks/eventgate/internal/envelope"
)

func bundleEnvelope(t *testing.T) *envelope.Envelope {
	t.Helper()
	env, err := envelope.Success(map[string]any{"id": "ev-42", "name": "Launch"})
	require.NoError(t, err)
	return env
}

func TestETagComputedFromValue(t *testing.T) {
	t.Parallel()

	v := NewValidator()

	first := v.ETagFor(bundleEnvelope(t))
	second := v.ETagFor(bundleEnvelope(t))

	assert.Equal(t, first, second, "same value must produce the same tag")
	assert.True(t, len(first) > 2)
	assert.Equal(t, byte('"'), first[0])
}

func TestETagPrefersUpstreamTag(t *testing.T) {
	t.Parallel()

	v := NewValidator()

	env := bundleEnvelope(t)
	env.ETag = "upstream-tag"
	assert.Equal(t, `"upstream-tag"`, v.ETagFor(env))
}

func TestApplyFreshRead(t *testing.T) {
	t.Parallel()

	v := NewValidator()

	env := bundleEnvelope(t)
	out := v.Apply("", env)

	assert.Equal(t, http.StatusOK, out.Status)
	assert.False(t, out.NotModified)
	assert.NotEmpty(t, out.ETag)
	assert.Equal(t, out.ETag, `"`+env.ETag+`"`, "envelope carries the unquoted tag")
}

func TestApplyConditionalMatch(t *testing.T) {
	t.Parallel()

	v := NewValidator()

	env := bundleEnvelope(t)
	fresh := v.Apply("", env)

	// Conditional follow-up with the tag from the first read.
	env2 := bundleEnvelope(t)
	out := v.Apply(fresh.ETag, env2)

	assert.Equal(t, http.StatusNotModified, out.Status)
	assert.True(t, out.NotModified)
	assert.Equal(t, fresh.ETag, out.ETag, "tag must be echoed on 304")
	assert.True(t, env2.NotModified)
}

func TestApplyConditionalMismatch(t *testing.T) {
	t.Parallel()

	v := NewValidator()

	env := bundleEnvelope(t)
	out := v.Apply(`"different"`, env)

	assert.Equal(t, http.StatusOK, out.Status)
	assert.False(t, out.NotModified)
}

func TestApplyToleratesClientTagForms(t *testing.T) {
	t.Parallel()

	v := NewValidator()

	env := bundleEnvelope(t)
	fresh := v.Apply("", env)
	raw := env.ETag

	tests := []struct {
		name        string
		ifNoneMatch string
	}{
		{name: "quoted", ifNoneMatch: fresh.ETag},
		{name: "unquoted", ifNoneMatch: raw},
		{name: "weak prefix", ifNoneMatch: "W/" + fresh.ETag},
		{name: "wildcard", ifNoneMatch: "*"},
		{name: "list", ifNoneMatch: `"zzz", ` + fresh.ETag},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			out := v.Apply(tt.ifNoneMatch, bundleEnvelope(t))
			assert.True(t, out.NotModified, "If-None-Match %q should match", tt.ifNoneMatch)
		})
	}
}

func TestTagChangesWithValue(t *testing.T) {
	t.Parallel()

	v := NewValidator()

	a, err := envelope.Success(map[string]string{"id": "a"})
	require.NoError(t, err)
	b, err := envelope.Success(map[string]string{"id": "b"})
	require.NoError(t, err)

	assert.NotEqual(t, v.ETagFor(a), v.ETagFor(b))
}

func TestFailureEnvelopeStillTagged(t *testing.T) {
	t.Parallel()

	v := NewValidator()

	env := envelope.Failure(envelope.CodeNotFound, "no such event", "c1")
	tag := v.ETagFor(env)
	assert.NotEmpty(t, tag)
	assert.True(t, json.Valid(env.Encode()))
}
