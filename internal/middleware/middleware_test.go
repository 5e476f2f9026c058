package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeventbooks/eventgate/internal/config"
	"github.com/zeventbooks/eventgate/internal/observability"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func TestChainOrder(t *testing.T) {
	t.Parallel()

	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(okHandler(), mw("outer"), mw("inner"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestRequestIDGenerated(t *testing.T) {
	t.Parallel()

	var gotRequestID, gotCorrID string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRequestID = observability.RequestIDFromContext(r.Context())
		gotCorrID = observability.CorrIDFromContext(r.Context())
	})

	rec := httptest.NewRecorder()
	RequestID()(inner).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	assert.NotEmpty(t, gotRequestID)
	assert.NotEmpty(t, gotCorrID)
	assert.Equal(t, gotRequestID, rec.Header().Get(RequestIDHeader))
}

func TestRequestIDPreservesInbound(t *testing.T) {
	t.Parallel()

	var gotRequestID, gotCorrID string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRequestID = observability.RequestIDFromContext(r.Context())
		gotCorrID = observability.CorrIDFromContext(r.Context())
	})

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(RequestIDHeader, "client-supplied")

	RequestID()(inner).ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "client-supplied", gotRequestID)
	assert.NotEqual(t, "client-supplied", gotCorrID)
}

func TestRecoveryWritesEnvelope(t *testing.T) {
	t.Parallel()

	panicking := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	req := httptest.NewRequest("GET", "/api/events", nil)
	req = req.WithContext(observability.ContextWithCorrID(req.Context(), "corr-7"))

	rec := httptest.NewRecorder()
	Recovery(observability.NopLogger())(panicking).ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["ok"])
	assert.Equal(t, "INTERNAL", body["code"])
	assert.Equal(t, "corr-7", body["corrId"])
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/api/events", nil)
	CORS()(okHandler()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestCORSOnAPIResponses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		want bool
	}{
		{"/api/events", true},
		{"/acme/api/events", true},
		{"/api", true},
		{"/events", false},
		{"/acme/events", false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()

			rec := httptest.NewRecorder()
			CORS()(okHandler()).ServeHTTP(rec, httptest.NewRequest("GET", tt.path, nil))

			origin := rec.Header().Get("Access-Control-Allow-Origin")
			if tt.want {
				assert.Equal(t, "*", origin)
			} else {
				assert.Empty(t, origin)
			}
		})
	}
}

func TestCORSOnErrorResponses(t *testing.T) {
	t.Parallel()

	failing := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	CORS()(failing).ServeHTTP(rec, httptest.NewRequest("GET", "/api/missing", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimitGlobal(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(1, 1, false)
	h := RateLimit(rl)(okHandler())

	first := httptest.NewRecorder()
	h.ServeHTTP(first, httptest.NewRequest("GET", "/api/events", nil))
	require.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	h.ServeHTTP(second, httptest.NewRequest("GET", "/api/events", nil))
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "1", second.Header().Get(HeaderRetryAfter))

	var body map[string]any
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &body))
	assert.Equal(t, "RATE_LIMITED", body["code"])
}

func TestRateLimitPerClient(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(1, 1, true)
	defer rl.Stop()

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"))
}

func TestRateLimitCleanup(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(1, 1, true)
	defer rl.Stop()

	rl.Allow("10.0.0.1")
	rl.CleanupOldClients(0)

	rl.mu.Lock()
	remaining := len(rl.clients)
	rl.mu.Unlock()
	assert.Zero(t, remaining)
}

func TestRateLimitFromConfigDisabled(t *testing.T) {
	t.Parallel()

	mw, rl := RateLimitFromConfig(config.RateLimitConfig{}, observability.NopLogger())
	assert.Nil(t, rl)

	rec := httptest.NewRecorder()
	mw(okHandler()).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTransparencyHeaders(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	h := Transparency("eventgate", "1.2.3")(okHandler())
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/events", nil))

	assert.Equal(t, "eventgate", rec.Header().Get(HeaderProxiedBy))
	assert.Equal(t, "1.2.3", rec.Header().Get(HeaderWorkerVersion))
}

func TestGetClientIP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		remote string
		xff    string
		xrip   string
		want   string
	}{
		{name: "remote addr", remote: "10.1.2.3:4567", want: "10.1.2.3"},
		{name: "forwarded single", remote: "10.1.2.3:4567", xff: "203.0.113.9", want: "203.0.113.9"},
		{name: "forwarded chain", remote: "10.1.2.3:4567", xff: "203.0.113.9, 10.0.0.1", want: "203.0.113.9"},
		{name: "real ip", remote: "10.1.2.3:4567", xrip: "198.51.100.4", want: "198.51.100.4"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remote
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xrip != "" {
				r.Header.Set("X-Real-IP", tt.xrip)
			}

			assert.Equal(t, tt.want, getClientIP(r))
		})
	}
}

func TestResponseWriterCaptures(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, status: http.StatusOK}

	rw.WriteHeader(http.StatusTeapot)
	_, err := rw.Write([]byte("short and stout"))
	require.NoError(t, err)

	assert.Equal(t, http.StatusTeapot, rw.status)
	assert.Equal(t, 15, rw.size)
}
