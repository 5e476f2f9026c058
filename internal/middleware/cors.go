package middleware

import (
	"net/http"
	"strings"
)

// CORS header values for the API surface. The API is intentionally
// open to any origin; authorization happens via bearer tokens, not
// cookies, so credentials are never allowed.
const (
	corsAllowOrigin  = "*"
	corsAllowMethods = "GET, POST, OPTIONS"
	corsAllowHeaders = "Authorization, Content-Type, If-None-Match, X-Request-ID"
	corsExposeHeader = "ETag, X-Backend-Status, X-Backend-Duration-Ms, X-Request-ID"
	corsMaxAge       = "86400"
)

// CORS returns a middleware that applies permissive CORS headers to
// API paths. Error responses pass through the same writer, so 4xx and
// 5xx bodies carry the headers too. Preflight requests short-circuit
// with 204.
func CORS() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isAPIPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("Access-Control-Allow-Origin", corsAllowOrigin)
			h.Set("Access-Control-Expose-Headers", corsExposeHeader)

			if r.Method == http.MethodOptions {
				h.Set("Access-Control-Allow-Methods", corsAllowMethods)
				h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
				h.Set("Access-Control-Max-Age", corsMaxAge)
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// isAPIPath reports whether the path belongs to the JSON API surface,
// with or without a leading brand segment.
func isAPIPath(path string) bool {
	trimmed := strings.TrimPrefix(path, "/")
	if strings.HasPrefix(trimmed, "api/") || trimmed == "api" {
		return true
	}
	if idx := strings.IndexByte(trimmed, '/'); idx >= 0 {
		rest := trimmed[idx+1:]
		return strings.HasPrefix(rest, "api/") || rest == "api"
	}
	return false
}
