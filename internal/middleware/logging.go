package middleware

import (
	"net/http"
	"time"

	"github.com/zeventbooks/eventgate/internal/observability"
)

// Logging returns a middleware that writes one access log line per
// request after the handler completes.
func Logging(logger observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				status:         http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			duration := time.Since(start)
			ctx := r.Context()

			logger.Info("http request",
				observability.String("method", r.Method),
				observability.String("path", r.URL.Path),
				observability.String("query", r.URL.RawQuery),
				observability.Int("status", rw.status),
				observability.Int("size", rw.size),
				observability.Duration("duration", duration),
				observability.String("remote_addr", r.RemoteAddr),
				observability.String("user_agent", r.UserAgent()),
				observability.String("request_id", observability.RequestIDFromContext(ctx)),
				observability.String("corr_id", observability.CorrIDFromContext(ctx)),
				observability.String("brand", observability.BrandIDFromContext(ctx)),
			)
		})
	}
}
