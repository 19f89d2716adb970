package middleware

import (
	"net/http"

	"nestedgraph/internal/observability"
)

// MetricsMiddleware counts requests per route and status, and makes the
// metrics available to handlers through the request context.
func MetricsMiddleware(metrics *observability.MutationMetrics, route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if metrics == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := observability.ContextWithMutationMetrics(r.Context(), metrics)
			sw := newStatusWriter(w)
			next.ServeHTTP(sw, r.WithContext(ctx))
			metrics.RecordHTTPRequest(ctx, route, sw.status)
		})
	}
}

// BodyLimitMiddleware caps request bodies at maxBytes. Reads past the limit
// fail with *http.MaxBytesError.
func BodyLimitMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if maxBytes <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
