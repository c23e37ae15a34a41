package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueryTracingMiddlewarePassesThrough(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"success":true,"data":[]}`))
	})

	handler := QueryTracingMiddleware()(inner)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/query", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"data":[]}`, rec.Body.String())
}

func TestResponseHasEnvelopeError(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected bool
	}{
		{"empty body", "", false},
		{"success envelope", `{"success":true,"data":[]}`, false},
		{"failure envelope", `{"success":false,"error":{"kind":"validation"}}`, true},
		{"error without success flag", `{"error":{"kind":"store"}}`, true},
		{"null error", `{"success":true,"error":null}`, false},
		{"non-JSON body", "internal error", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, responseHasEnvelopeError([]byte(tt.body)))
		})
	}
}
