package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// AuthMetrics holds authentication metrics for the bearer-token middleware.
type AuthMetrics struct {
	authAttempts      metric.Int64Counter
	authFailures      metric.Int64Counter
	authSuccesses     metric.Int64Counter
	anonymousRequests metric.Int64Counter
}

// InitAuthMetrics initializes authentication-specific metrics.
func InitAuthMetrics() (*AuthMetrics, error) {
	meter := otel.Meter("content-query/security")

	authAttempts, err := meter.Int64Counter(
		"security.auth.attempts.total",
		metric.WithDescription("Total number of authentication attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth attempts counter: %w", err)
	}

	authFailures, err := meter.Int64Counter(
		"security.auth.failures.total",
		metric.WithDescription("Total number of authentication failures"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth failures counter: %w", err)
	}

	authSuccesses, err := meter.Int64Counter(
		"security.auth.successes.total",
		metric.WithDescription("Total number of successful authentications"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth successes counter: %w", err)
	}

	anonymousRequests, err := meter.Int64Counter(
		"security.anonymous.requests.total",
		metric.WithDescription("Total number of requests served without a bearer token"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create anonymous requests counter: %w", err)
	}

	return &AuthMetrics{
		authAttempts:      authAttempts,
		authFailures:      authFailures,
		authSuccesses:     authSuccesses,
		anonymousRequests: anonymousRequests,
	}, nil
}

// RecordAuthAttempt records an authentication attempt
func (m *AuthMetrics) RecordAuthAttempt(ctx context.Context, endpoint string) {
	m.authAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
	))
}

// RecordAuthFailure records a failed authentication attempt
func (m *AuthMetrics) RecordAuthFailure(ctx context.Context, endpoint, reason string) {
	m.authFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("reason", reason),
	))
}

// RecordAuthSuccess records a successful authentication
func (m *AuthMetrics) RecordAuthSuccess(ctx context.Context, endpoint, tenant string) {
	m.authSuccesses.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("tenant", tenant),
	))
}

// RecordAnonymousRequest records a request that carried no bearer token
func (m *AuthMetrics) RecordAnonymousRequest(ctx context.Context, endpoint string) {
	m.anonymousRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
	))
}
