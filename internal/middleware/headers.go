package middleware

import "net/http"

// Transparency header names. The proxy and version headers are set on
// every response here; the per-request backend headers are set by the
// dispatch path once the upstream call completes.
const (
	HeaderProxiedBy         = "X-Proxied-By"
	HeaderWorkerVersion     = "X-Worker-Version"
	HeaderBackendStatus     = "X-Backend-Status"
	HeaderBackendDurationMs = "X-Backend-Duration-Ms"
)

// Transparency returns a middleware that stamps every response with
// the gateway identity and build version.
func Transparency(gatewayID, version string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set(HeaderProxiedBy, gatewayID)
			h.Set(HeaderWorkerVersion, version)

			next.ServeHTTP(w, r)
		})
	}
}
