package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"

	"content-query/internal/logging"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// QueryTracingMiddleware instruments query endpoints with an inner span and
// correlates request-scoped log lines with the trace.
func QueryTracingMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tracer := otel.Tracer("content-query/query")
			ctx, span := tracer.Start(r.Context(), "query.request")
			defer span.End()

			if spanCtx := span.SpanContext(); spanCtx.IsValid() {
				reqLogger := logging.FromContext(ctx).WithFields(
					slog.String("trace_id", spanCtx.TraceID().String()),
					slog.String("span_id", spanCtx.SpanID().String()),
				)
				ctx = logging.WithLogger(ctx, reqLogger)
			}

			if span.IsRecording() {
				span.SetAttributes(
					attribute.String("http.method", r.Method),
					attribute.String("http.route", r.URL.Path),
				)
			}

			// Wrap response writer to capture status and body
			wrapped := &envelopeResponseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(wrapped, r.WithContext(ctx))

			if span.IsRecording() {
				span.SetAttributes(attribute.Int("http.status_code", wrapped.statusCode))
				if wrapped.statusCode >= 400 || responseHasEnvelopeError(wrapped.body.Bytes()) {
					span.SetStatus(codes.Error, "query failed")
				}
			}
		})
	}
}

// envelopeResponseWriter wraps http.ResponseWriter to capture the status code
// and response body for outcome reporting.
type envelopeResponseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
	body       bytes.Buffer
}

func (w *envelopeResponseWriter) WriteHeader(statusCode int) {
	if !w.written {
		w.statusCode = statusCode
		w.written = true
		w.ResponseWriter.WriteHeader(statusCode)
	}
}

func (w *envelopeResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	if len(b) > 0 {
		_, _ = w.body.Write(b)
	}
	return w.ResponseWriter.Write(b)
}

// responseHasEnvelopeError reports whether a response body is a query envelope
// carrying an error, even when the HTTP status is 200 (e.g. validate outcomes).
func responseHasEnvelopeError(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return false
	}

	var payload struct {
		Success *bool           `json:"success"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(trimmed, &payload); err != nil {
		return false
	}
	if payload.Success != nil && !*payload.Success {
		return true
	}

	errValue := bytes.TrimSpace(payload.Error)
	if len(errValue) == 0 || bytes.Equal(errValue, []byte("null")) {
		return false
	}
	return true
}
