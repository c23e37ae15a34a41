package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-signing-secret"

func signToken(t *testing.T, method jwt.SigningMethod, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(method, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func identityHandler(t *testing.T, cfg IdentityConfig) (http.Handler, *Identity) {
	t.Helper()
	var captured Identity
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	mw, err := IdentityMiddleware(cfg, nil, nil)
	require.NoError(t, err)
	return mw(inner), &captured
}

func TestIdentityMiddlewareDisabledPassesThrough(t *testing.T) {
	handler, captured := identityHandler(t, IdentityConfig{Enabled: false})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/query", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, captured.Anonymous())
}

func TestIdentityMiddlewareRequiresSecret(t *testing.T) {
	_, err := IdentityMiddleware(IdentityConfig{Enabled: true}, nil, nil)
	assert.Error(t, err)
}

func TestIdentityMiddlewareMissingTokenIsAnonymous(t *testing.T) {
	handler, captured := identityHandler(t, IdentityConfig{Enabled: true, Secret: testSecret})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/query", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, captured.Anonymous())
	assert.Empty(t, captured.TenantID)
}

func TestIdentityMiddlewareValidToken(t *testing.T) {
	handler, captured := identityHandler(t, IdentityConfig{Enabled: true, Secret: testSecret})

	token := signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{
		"sub":    "actor-42",
		"tenant": "tenant-7",
		"exp":    time.Now().Add(time.Hour).Unix(),
	})

	req := httptest.NewRequest(http.MethodPost, "/api/query", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "actor-42", captured.ActorID)
	assert.Equal(t, "tenant-7", captured.TenantID)
	assert.False(t, captured.Anonymous())
}

func TestIdentityMiddlewareCustomTenantClaim(t *testing.T) {
	handler, captured := identityHandler(t, IdentityConfig{
		Enabled:     true,
		Secret:      testSecret,
		TenantClaim: "org",
	})

	token := signToken(t, jwt.SigningMethodHS384, testSecret, jwt.MapClaims{
		"sub": "actor-1",
		"org": "org-9",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	req := httptest.NewRequest(http.MethodPost, "/api/query", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "org-9", captured.TenantID)
}

func TestIdentityMiddlewareRejectsBadSignature(t *testing.T) {
	handler, _ := identityHandler(t, IdentityConfig{Enabled: true, Secret: testSecret})

	token := signToken(t, jwt.SigningMethodHS256, "wrong-secret", jwt.MapClaims{
		"sub": "actor-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	req := httptest.NewRequest(http.MethodPost, "/api/query", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid bearer token")
}

func TestIdentityMiddlewareRejectsExpiredToken(t *testing.T) {
	handler, _ := identityHandler(t, IdentityConfig{
		Enabled:   true,
		Secret:    testSecret,
		ClockSkew: time.Second,
	})

	token := signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{
		"sub": "actor-1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})

	req := httptest.NewRequest(http.MethodPost, "/api/query", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestIdentityMiddlewareRejectsTokenWithoutSubject(t *testing.T) {
	handler, _ := identityHandler(t, IdentityConfig{Enabled: true, Secret: testSecret})

	token := signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	req := httptest.NewRequest(http.MethodPost, "/api/query", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "no subject")
}

func TestIdentityMiddlewareRejectsTokenWithoutExpiry(t *testing.T) {
	handler, _ := identityHandler(t, IdentityConfig{Enabled: true, Secret: testSecret})

	token := signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{
		"sub": "actor-1",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/query", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		expected string
	}{
		{"empty header", "", ""},
		{"bearer token", "Bearer abc.def.ghi", "abc.def.ghi"},
		{"case-insensitive scheme", "bearer abc", "abc"},
		{"wrong scheme", "Basic dXNlcjpwYXNz", ""},
		{"scheme only", "Bearer", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, bearerToken(tt.header))
		})
	}
}
