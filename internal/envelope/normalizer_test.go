package envelope

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeventbooks/eventgate/internal/util"
)

func decode(t *testing.T, n *Normalized) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(n.Envelope.Encode(), &out))
	return out
}

func TestNormalizeTimeout(t *testing.T) {
	t.Parallel()

	n := NewNormalizer()

	tr := &TransportResult{
		Duration:       time.Second,
		TransportError: util.NewTimeoutError("backend call", time.Second),
	}

	res := n.Normalize(tr, "corr-1")
	assert.Equal(t, http.StatusGatewayTimeout, res.Status)
	assert.False(t, res.Envelope.OK)
	assert.Equal(t, CodeUpstreamUnreachable, res.Envelope.Code)
	assert.Equal(t, "corr-1", res.Envelope.CorrID)
}

func TestNormalizeConnectionFailure(t *testing.T) {
	t.Parallel()

	n := NewNormalizer()

	tr := &TransportResult{
		TransportError: util.NewUpstreamError("backend", "connection refused", nil),
	}

	res := n.Normalize(tr, "")
	assert.Equal(t, http.StatusBadGateway, res.Status)
	assert.Equal(t, CodeUpstreamUnreachable, res.Envelope.Code)
	assert.NotEmpty(t, res.Envelope.CorrID, "corrId is generated when absent")
}

func TestNormalizeHTMLBody(t *testing.T) {
	t.Parallel()

	n := NewNormalizer()

	tr := &TransportResult{
		HTTPStatus: http.StatusOK,
		Body:       []byte(`<html><body>You need permission to access this document.</body></html>`),
	}

	res := n.Normalize(tr, "corr-2")
	assert.Equal(t, http.StatusBadGateway, res.Status)
	assert.Equal(t, CodeUpstreamNonJSON, res.Envelope.Code)

	encoded := string(res.Envelope.Encode())
	assert.True(t, json.Valid([]byte(encoded)))
	assert.NotContains(t, encoded, "<html")
	assert.NotContains(t, encoded, "<!DOCTYPE")
	assert.Contains(t, res.Envelope.Message, "permission")
}

func TestNormalizeEmptyBody(t *testing.T) {
	t.Parallel()

	n := NewNormalizer()

	tr := &TransportResult{HTTPStatus: http.StatusOK, Body: []byte("  \n")}

	res := n.Normalize(tr, "corr-3")
	assert.Equal(t, http.StatusBadGateway, res.Status)
	assert.Equal(t, CodeUpstreamNonJSON, res.Envelope.Code)
}

func TestNormalizeExcerptBounded(t *testing.T) {
	t.Parallel()

	n := NewNormalizer(WithExcerptLen(32))

	tr := &TransportResult{
		HTTPStatus: http.StatusOK,
		Body:       []byte("<!DOCTYPE html>" + strings.Repeat("x", 4096)),
	}

	res := n.Normalize(tr, "corr-4")
	assert.Less(t, len(res.Envelope.Message), 128)
	assert.NotContains(t, res.Envelope.Message, "<")
	assert.NotContains(t, res.Envelope.Message, ">")
}

func TestNormalizeWrapsNonEnvelopeJSON(t *testing.T) {
	t.Parallel()

	n := NewNormalizer()

	tests := []struct {
		name string
		body string
	}{
		{name: "object without ok", body: `{"events":[{"id":"e1"}]}`},
		{name: "array", body: `[1,2,3]`},
		{name: "scalar", body: `42`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tr := &TransportResult{HTTPStatus: http.StatusOK, Body: []byte(tt.body)}
			res := n.Normalize(tr, "")
			require.Equal(t, http.StatusOK, res.Status)

			out := decode(t, res)
			assert.Equal(t, true, out["ok"])
			assert.Contains(t, out, "value")
		})
	}
}

func TestNormalizePassesThroughSuccessEnvelope(t *testing.T) {
	t.Parallel()

	n := NewNormalizer()

	tr := &TransportResult{
		HTTPStatus: http.StatusOK,
		Body:       []byte(`{"ok":true,"value":{"id":"e1"},"etag":"abc"}`),
	}

	res := n.Normalize(tr, "")
	assert.Equal(t, http.StatusOK, res.Status)
	assert.True(t, res.Envelope.OK)
	assert.Equal(t, "abc", res.Envelope.ETag)
	assert.JSONEq(t, `{"id":"e1"}`, string(res.Envelope.Value))
}

func TestNormalizeCoercesFalseSuccessStatus(t *testing.T) {
	t.Parallel()

	n := NewNormalizer()

	// Upstream contract violation: ok=false under HTTP 200.
	tr := &TransportResult{
		HTTPStatus: http.StatusOK,
		Body:       []byte(`{"ok":false,"code":"BAD_INPUT","message":"missing field"}`),
	}

	res := n.Normalize(tr, "corr-5")
	assert.Equal(t, http.StatusInternalServerError, res.Status)
	assert.False(t, res.Envelope.OK)
	assert.Equal(t, http.StatusInternalServerError, res.Envelope.Status)
	assert.Equal(t, CodeBadInput, res.Envelope.Code)
	assert.Equal(t, "corr-5", res.Envelope.CorrID)
}

func TestNormalizePreservesUpstreamFailureStatus(t *testing.T) {
	t.Parallel()

	n := NewNormalizer()

	tr := &TransportResult{
		HTTPStatus: http.StatusNotFound,
		Body:       []byte(`{"ok":false,"status":404,"code":"NOT_FOUND","message":"no such event"}`),
	}

	res := n.Normalize(tr, "")
	assert.Equal(t, http.StatusNotFound, res.Status)
	assert.Equal(t, CodeNotFound, res.Envelope.Code)
	assert.NotEmpty(t, res.Envelope.CorrID)
}

func TestNormalizeFailureDefaults(t *testing.T) {
	t.Parallel()

	n := NewNormalizer()

	tr := &TransportResult{
		HTTPStatus: http.StatusInternalServerError,
		Body:       []byte(`{"ok":false}`),
	}

	res := n.Normalize(tr, "")
	assert.Equal(t, http.StatusInternalServerError, res.Status)
	assert.Equal(t, CodeInternal, res.Envelope.Code)
	assert.NotEmpty(t, res.Envelope.Message)
}

func TestNormalizeSuccessWithFailureStatusLine(t *testing.T) {
	t.Parallel()

	n := NewNormalizer()

	// ok:true wins over the upstream status line: status class follows ok.
	tr := &TransportResult{
		HTTPStatus: http.StatusBadGateway,
		Body:       []byte(`{"ok":true,"value":{}}`),
	}

	res := n.Normalize(tr, "")
	assert.Equal(t, http.StatusOK, res.Status)
	assert.True(t, res.Envelope.OK)
}

func TestNormalizeNonBooleanOK(t *testing.T) {
	t.Parallel()

	n := NewNormalizer()

	tr := &TransportResult{
		HTTPStatus: http.StatusOK,
		Body:       []byte(`{"ok":"yes"}`),
	}

	res := n.Normalize(tr, "")
	assert.Equal(t, http.StatusBadGateway, res.Status)
	assert.Equal(t, CodeUpstreamNonJSON, res.Envelope.Code)
}

func TestStatusOKAlignment(t *testing.T) {
	t.Parallel()

	n := NewNormalizer()

	// Across all failure modes the status class must agree with ok.
	cases := []*TransportResult{
		{TransportError: util.NewTimeoutError("backend call", time.Second)},
		{TransportError: util.NewUpstreamError("backend", "refused", nil)},
		{HTTPStatus: http.StatusOK, Body: []byte(`not json`)},
		{HTTPStatus: http.StatusOK, Body: nil},
		{HTTPStatus: http.StatusOK, Body: []byte(`{"ok":false}`)},
		{HTTPStatus: http.StatusBadRequest, Body: []byte(`{"ok":false,"code":"BAD_INPUT","message":"x"}`)},
		{HTTPStatus: http.StatusOK, Body: []byte(`{"ok":true,"value":1}`)},
	}

	for _, tr := range cases {
		res := n.Normalize(tr, "")
		if res.Status >= 400 {
			assert.False(t, res.Envelope.OK, "status %d must carry ok=false", res.Status)
		} else {
			assert.True(t, res.Envelope.OK, "status %d must carry ok=true", res.Status)
		}
		assert.True(t, json.Valid(res.Envelope.Encode()))
	}
}

func TestFlatStatusNeverContainsValue(t *testing.T) {
	t.Parallel()

	fs := NewFlatStatus(true, "b-1", "acme")
	fs.Set("storage", "ok")
	fs.Set("value", "must be dropped")

	data, err := json.Marshal(fs)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.NotContains(t, out, "value")
	assert.Equal(t, true, out["ok"])
	assert.Equal(t, "b-1", out["buildId"])
	assert.Equal(t, "acme", out["brandId"])
	assert.Equal(t, "ok", out["storage"])
	assert.NotEmpty(t, out["time"])
}

func TestEnvelopeEncodeShape(t *testing.T) {
	t.Parallel()

	env, err := Success(map[string]string{"id": "e1"})
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(env.Encode(), &out))
	assert.Contains(t, out, "value")
	assert.NotContains(t, out, "code")

	fail := Failure(CodeBadInput, "bad", "c1")
	out = nil
	require.NoError(t, json.Unmarshal(fail.Encode(), &out))
	assert.NotContains(t, out, "value")
	assert.Equal(t, "BAD_INPUT", out["code"])
	assert.Equal(t, float64(400), out["status"])
}
