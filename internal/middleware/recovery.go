package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/zeventbooks/eventgate/internal/envelope"
	"github.com/zeventbooks/eventgate/internal/observability"
)

// Recovery returns a middleware that recovers from panics and responds
// with a synthetic internal error envelope carrying the correlation ID.
func Recovery(logger observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					stack := debug.Stack()
					corrID := observability.CorrIDFromContext(r.Context())

					logger.Error("panic recovered",
						observability.String("path", r.URL.Path),
						observability.String("method", r.Method),
						observability.Any("error", err),
						observability.String("corr_id", corrID),
						observability.String("stack", string(stack)),
					)

					env := envelope.Failure(envelope.CodeInternal, "internal error", corrID)
					w.Header().Set(HeaderContentType, ContentTypeJSON)
					w.WriteHeader(http.StatusInternalServerError)
					_, _ = w.Write(env.Encode())
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
