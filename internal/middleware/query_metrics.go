package middleware

import (
	"net/http"

	"content-query/internal/observability"
)

// QueryMetricsMiddleware makes the query metrics available to downstream
// handlers through the request context.
func QueryMetricsMiddleware(metrics *observability.QueryMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if metrics == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := observability.ContextWithQueryMetrics(r.Context(), metrics)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
