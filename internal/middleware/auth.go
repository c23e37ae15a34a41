package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"content-query/internal/logging"
	"content-query/internal/observability"

	"github.com/golang-jwt/jwt/v5"
)

// IdentityConfig controls bearer-token identity extraction.
type IdentityConfig struct {
	Enabled     bool
	Secret      string
	ClockSkew   time.Duration
	TenantClaim string
}

// Identity carries the validated caller identity. A zero ActorID means
// the request is anonymous.
type Identity struct {
	ActorID  string
	TenantID string
	Claims   map[string]interface{}
}

// Anonymous reports whether no authenticated actor is attached.
func (id Identity) Anonymous() bool {
	return id.ActorID == ""
}

type identityContextKey struct{}

// IdentityFromContext returns the caller identity from a request context.
// Requests that never passed the middleware read as anonymous.
func IdentityFromContext(ctx context.Context) Identity {
	value := ctx.Value(identityContextKey{})
	if value == nil {
		return Identity{}
	}
	id, _ := value.(Identity)
	return id
}

// WithIdentity attaches an identity to a context; used by tests and by
// the middleware itself.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityMiddleware validates Bearer tokens and attaches the caller
// identity to the request context. Requests without a token proceed as
// anonymous; requests with an invalid token are rejected.
func IdentityMiddleware(cfg IdentityConfig, logger *logging.Logger, metrics *observability.AuthMetrics) (func(http.Handler) http.Handler, error) {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler { return next }, nil
	}
	if cfg.Secret == "" {
		return nil, errors.New("identity auth enabled but no signing secret configured")
	}
	if cfg.ClockSkew == 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	if cfg.TenantClaim == "" {
		cfg.TenantClaim = "tenant"
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
		jwt.WithLeeway(cfg.ClockSkew),
		jwt.WithExpirationRequired(),
	)
	secret := []byte(cfg.Secret)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := bearerToken(r.Header.Get("Authorization"))
			if tokenString == "" {
				if metrics != nil {
					metrics.RecordAnonymousRequest(r.Context(), r.URL.Path)
				}
				next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), Identity{})))
				return
			}

			if metrics != nil {
				metrics.RecordAuthAttempt(r.Context(), r.URL.Path)
			}

			claims := jwt.MapClaims{}
			_, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
				return secret, nil
			})
			if err != nil {
				if logger != nil {
					reqLogger := logging.FromContext(r.Context())
					reqLogger.Warn("authentication failed: invalid bearer token",
						slog.String("endpoint", r.URL.Path),
						slog.String("remote_addr", r.RemoteAddr),
						slog.String("error", err.Error()),
					)
				}
				if metrics != nil {
					metrics.RecordAuthFailure(r.Context(), r.URL.Path, "invalid_token")
				}
				writeUnauthorized(w, "invalid bearer token")
				return
			}

			subject, _ := claims.GetSubject()
			if subject == "" {
				if metrics != nil {
					metrics.RecordAuthFailure(r.Context(), r.URL.Path, "missing_subject")
				}
				writeUnauthorized(w, "token has no subject")
				return
			}
			identity := Identity{
				ActorID: subject,
				Claims:  claims,
			}
			if tenant, ok := claims[cfg.TenantClaim].(string); ok {
				identity.TenantID = tenant
			}
			if metrics != nil {
				metrics.RecordAuthSuccess(r.Context(), r.URL.Path, identity.TenantID)
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}, nil
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprintf(w, `{"success":false,"error":{"kind":"unauthorized","message":%q}}`, message)
}
