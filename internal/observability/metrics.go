package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// QueryMetrics holds custom metrics for query execution
type QueryMetrics struct {
	queryDuration    metric.Float64Histogram
	queryCounter     metric.Int64Counter
	errorCounter     metric.Int64Counter
	activeQueries    metric.Int64UpDownCounter
	queryComplexity  metric.Int64Histogram
	resultsCount     metric.Int64Histogram
	cacheHits        metric.Int64Counter
	cacheMisses      metric.Int64Counter
	expandBatchKeys  metric.Int64Histogram
	securityRejects  metric.Int64Counter
	slowQueryCounter metric.Int64Counter
}

// InitQueryMetrics initializes query-specific metrics
func InitQueryMetrics() (*QueryMetrics, error) {
	meter := otel.Meter("content-query")

	queryDuration, err := meter.Float64Histogram(
		"query.duration",
		metric.WithDescription("Duration of content queries in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create query duration histogram: %w", err)
	}

	queryCounter, err := meter.Int64Counter(
		"query.requests.total",
		metric.WithDescription("Total number of content queries"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create query counter: %w", err)
	}

	errorCounter, err := meter.Int64Counter(
		"query.errors.total",
		metric.WithDescription("Total number of query errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create error counter: %w", err)
	}

	activeQueries, err := meter.Int64UpDownCounter(
		"query.requests.active",
		metric.WithDescription("Number of queries currently executing"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active queries counter: %w", err)
	}

	queryComplexity, err := meter.Int64Histogram(
		"query.complexity",
		metric.WithDescription("Complexity score of executed queries"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create query complexity histogram: %w", err)
	}

	resultsCount, err := meter.Int64Histogram(
		"query.results.count",
		metric.WithDescription("Number of rows returned by queries"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create results count histogram: %w", err)
	}

	cacheHits, err := meter.Int64Counter(
		"query.cache.hits",
		metric.WithDescription("Number of query cache hits"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache hits counter: %w", err)
	}

	cacheMisses, err := meter.Int64Counter(
		"query.cache.misses",
		metric.WithDescription("Number of query cache misses"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache misses counter: %w", err)
	}

	expandBatchKeys, err := meter.Int64Histogram(
		"query.expand.batch_keys",
		metric.WithDescription("Number of parent keys per expansion batch"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create expand batch keys histogram: %w", err)
	}

	securityRejects, err := meter.Int64Counter(
		"query.security.rejections",
		metric.WithDescription("Number of queries rejected by security validation"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create security rejections counter: %w", err)
	}

	slowQueryCounter, err := meter.Int64Counter(
		"query.slow.total",
		metric.WithDescription("Number of queries exceeding the slow-query threshold"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create slow query counter: %w", err)
	}

	return &QueryMetrics{
		queryDuration:    queryDuration,
		queryCounter:     queryCounter,
		errorCounter:     errorCounter,
		activeQueries:    activeQueries,
		queryComplexity:  queryComplexity,
		resultsCount:     resultsCount,
		cacheHits:        cacheHits,
		cacheMisses:      cacheMisses,
		expandBatchKeys:  expandBatchKeys,
		securityRejects:  securityRejects,
		slowQueryCounter: slowQueryCounter,
	}, nil
}

// RecordQuery records one executed query with its duration and outcome
func (m *QueryMetrics) RecordQuery(ctx context.Context, source string, duration time.Duration, cached, hasError bool) {
	attrs := []attribute.KeyValue{
		attribute.String("source", source),
		attribute.Bool("cached", cached),
		attribute.Bool("has_error", hasError),
	}

	m.queryDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	m.queryCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if hasError {
		m.errorCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("source", source),
		))
	}
}

// RecordComplexity records the complexity score of an executed query
func (m *QueryMetrics) RecordComplexity(ctx context.Context, source string, score int64) {
	m.queryComplexity.Record(ctx, score, metric.WithAttributes(
		attribute.String("source", source),
	))
}

// RecordResultsCount records the number of rows returned
func (m *QueryMetrics) RecordResultsCount(ctx context.Context, source string, count int64) {
	m.resultsCount.Record(ctx, count, metric.WithAttributes(
		attribute.String("source", source),
	))
}

func (m *QueryMetrics) RecordCacheHit(ctx context.Context, source string) {
	m.cacheHits.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
	))
}

func (m *QueryMetrics) RecordCacheMiss(ctx context.Context, source string) {
	m.cacheMisses.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
	))
}

func (m *QueryMetrics) RecordExpandBatch(ctx context.Context, relation string, keys int64) {
	m.expandBatchKeys.Record(ctx, keys, metric.WithAttributes(
		attribute.String("relation", relation),
	))
}

func (m *QueryMetrics) RecordSecurityRejection(ctx context.Context, source, rule string) {
	m.securityRejects.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("rule", rule),
	))
}

func (m *QueryMetrics) RecordSlowQuery(ctx context.Context, source string) {
	m.slowQueryCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
	))
}

// IncrementActiveQueries increments the active queries counter
func (m *QueryMetrics) IncrementActiveQueries(ctx context.Context) {
	m.activeQueries.Add(ctx, 1)
}

// DecrementActiveQueries decrements the active queries counter
func (m *QueryMetrics) DecrementActiveQueries(ctx context.Context) {
	m.activeQueries.Add(ctx, -1)
}

// InitMetrics initializes all custom metrics and returns the QueryMetrics instance
func InitMetrics(logger *slog.Logger) (*QueryMetrics, error) {
	metrics, err := InitQueryMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize query metrics: %w", err)
	}

	logger.Info("custom query metrics initialized")
	return metrics, nil
}

type queryMetricsContextKey struct{}

// ContextWithQueryMetrics stores query metrics in the provided context.
func ContextWithQueryMetrics(ctx context.Context, metrics *QueryMetrics) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, queryMetricsContextKey{}, metrics)
}

// QueryMetricsFromContext retrieves query metrics from the context.
func QueryMetricsFromContext(ctx context.Context) *QueryMetrics {
	if ctx == nil {
		return nil
	}
	metrics, _ := ctx.Value(queryMetricsContextKey{}).(*QueryMetrics)
	return metrics
}
