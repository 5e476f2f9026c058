package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/zeventbooks/eventgate/internal/observability"
)

// RequestIDHeader is the header name for the request ID.
const RequestIDHeader = "X-Request-ID"

// RequestID returns a middleware that assigns each request an ID and a
// correlation ID. The request ID is taken from the inbound header when
// present; the correlation ID is always generated by the gateway so it
// can be attached to error envelopes without trusting client input.
func RequestID() func(http.Handler) http.Handler {
	return RequestIDWithGenerator(func() string {
		return uuid.New().String()
	})
}

// RequestIDWithGenerator returns a RequestID middleware using a custom
// ID generator.
func RequestIDWithGenerator(generator func() string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = generator()
			}

			ctx := observability.ContextWithRequestID(r.Context(), requestID)
			ctx = observability.ContextWithCorrID(ctx, generator())
			r = r.WithContext(ctx)

			w.Header().Set(RequestIDHeader, requestID)

			next.ServeHTTP(w, r)
		})
	}
}
