// Package engine executes validated content queries: it compiles the
// request into SQL, pages results with opaque cursors, batches relation
// expansion, computes aggregates, and serves repeated queries from the
// shared cache.
package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"content-query/internal/cache"
	"content-query/internal/complexity"
	"content-query/internal/dbexec"
	"content-query/internal/loader"
	"content-query/internal/observability"
	"content-query/internal/qerr"
	"content-query/internal/query"
	"content-query/internal/schema"
	"content-query/internal/security"
	"content-query/internal/sqlutil"
)

// Config carries execution tuning knobs.
type Config struct {
	DefaultLimit       int
	MaxLimit           int
	DefaultCacheTTL    time.Duration
	SlowQueryThreshold time.Duration
}

func (c Config) withDefaults() Config {
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = 10
	}
	if c.MaxLimit <= 0 {
		c.MaxLimit = 100
	}
	if c.DefaultCacheTTL <= 0 {
		c.DefaultCacheTTL = 5 * time.Minute
	}
	if c.SlowQueryThreshold <= 0 {
		c.SlowQueryThreshold = time.Second
	}
	return c
}

// Engine runs the full query pipeline.
type Engine struct {
	registry  *schema.Registry
	validator *security.Validator
	analyzer  *complexity.Analyzer
	executor  dbexec.QueryExecutor
	cache     *cache.Cache
	loaders   *loader.Registry
	logger    *slog.Logger
	metrics   *observability.QueryMetrics
	cfg       Config
}

// New assembles an engine. The cache and metrics may be nil, in which
// case every query executes uncached and unrecorded.
func New(
	registry *schema.Registry,
	validator *security.Validator,
	analyzer *complexity.Analyzer,
	executor dbexec.QueryExecutor,
	queryCache *cache.Cache,
	logger *slog.Logger,
	metrics *observability.QueryMetrics,
	cfg Config,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		registry:  registry,
		validator: validator,
		analyzer:  analyzer,
		executor:  executor,
		cache:     queryCache,
		loaders:   loader.NewRegistry(),
		logger:    logger,
		metrics:   metrics,
		cfg:       cfg.withDefaults(),
	}
	e.registerLoaders()
	return e
}

// Analyze reports complexity, warnings and suggestions for a request
// without touching the store.
func (e *Engine) Analyze(req *query.Request) complexity.Report {
	return e.analyzer.Analyze(req)
}

// Validate runs security validation only; it never reaches the store
// or the cache.
func (e *Engine) Validate(req *query.Request, actorID, tenantID string) error {
	return e.validator.Validate(req, actorID, tenantID)
}

// InvalidateSource drops every cached result that touched the named
// source, including results that reached it through expansion.
func (e *Engine) InvalidateSource(ctx context.Context, source string) (int, error) {
	if e.cache == nil {
		return 0, nil
	}
	return e.cache.InvalidateTag(ctx, "src:"+source)
}

// InvalidateTenant drops every cached result scoped to the tenant.
func (e *Engine) InvalidateTenant(ctx context.Context, tenantID string) (int, error) {
	if e.cache == nil {
		return 0, nil
	}
	return e.cache.InvalidateTag(ctx, "tenant:"+tenantID)
}

// Execute validates, optimizes and runs one query for the given actor.
func (e *Engine) Execute(ctx context.Context, req *query.Request, actorID, tenantID string) (*Result, error) {
	start := time.Now()
	if e.metrics != nil {
		e.metrics.IncrementActiveQueries(ctx)
		defer e.metrics.DecrementActiveQueries(ctx)
	}

	if err := e.validator.Validate(req, actorID, tenantID); err != nil {
		if secErr, ok := qerr.IsSecurity(err); ok && e.metrics != nil {
			e.metrics.RecordSecurityRejection(ctx, req.Source, secErr.Rule)
		}
		return nil, err
	}

	req = e.analyzer.Optimize(req)
	if req.Page.Limit > e.cfg.MaxLimit {
		req.Page.Limit = e.cfg.MaxLimit
	}
	score := complexity.Score(req)

	result, cached, err := e.executeCached(ctx, req, actorID, tenantID)
	elapsed := time.Since(start)

	if e.metrics != nil {
		e.metrics.RecordQuery(ctx, req.Source, elapsed, cached, err != nil)
	}
	if err != nil {
		return nil, err
	}

	result.Meta.Query.ExecutionTimeMs = elapsed.Milliseconds()
	result.Meta.Query.Cached = cached
	result.Meta.Query.Complexity = score

	if e.metrics != nil {
		e.metrics.RecordComplexity(ctx, req.Source, int64(score))
		e.metrics.RecordResultsCount(ctx, req.Source, int64(len(result.Data)))
	}
	if elapsed > e.cfg.SlowQueryThreshold {
		e.logger.WarnContext(ctx, "slow query",
			"source", req.Source,
			"duration_ms", elapsed.Milliseconds(),
			"complexity", score,
			"cached", cached,
		)
		if e.metrics != nil {
			e.metrics.RecordSlowQuery(ctx, req.Source)
		}
	}
	return result, nil
}

// executeCached serves the request through the cache when one is
// configured, with stampede protection on misses.
func (e *Engine) executeCached(ctx context.Context, req *query.Request, actorID, tenantID string) (*Result, bool, error) {
	anonymous := actorID == ""
	if e.cache == nil {
		result, err := e.run(ctx, req, tenantID, anonymous)
		return result, false, err
	}

	key := cacheKey(req, actorID, tenantID)
	ttl := e.cfg.DefaultCacheTTL
	if req.Cache != nil && req.Cache.TTLSeconds > 0 {
		ttl = time.Duration(req.Cache.TTLSeconds) * time.Second
	}

	var fresh *Result
	payload, cached, err := e.cache.WithLock(ctx, key, ttl, func(ctx context.Context) (json.RawMessage, error) {
		result, runErr := e.run(ctx, req, tenantID, anonymous)
		if runErr != nil {
			return nil, runErr
		}
		fresh = result
		return json.Marshal(result)
	})
	if err != nil {
		return nil, false, err
	}

	if e.metrics != nil {
		if cached {
			e.metrics.RecordCacheHit(ctx, req.Source)
		} else {
			e.metrics.RecordCacheMiss(ctx, req.Source)
		}
	}

	if !cached && fresh != nil {
		e.cache.Tag(ctx, key, ttl, e.cacheTags(req, tenantID)...)
		return fresh, false, nil
	}

	var result Result
	if err := json.Unmarshal(payload, &result); err != nil {
		// A corrupt cache entry must not fail the query.
		e.logger.WarnContext(ctx, "dropping corrupt cache entry", "key", key, "error", err)
		_ = e.cache.Delete(ctx, key)
		result2, runErr := e.run(ctx, req, tenantID, anonymous)
		return result2, false, runErr
	}
	return &result, cached, nil
}

// run executes the SQL pipeline for one request: fetch a page, resolve
// expansions, compute totals and aggregates, sanitize.
func (e *Engine) run(ctx context.Context, req *query.Request, tenantID string, anonymous bool) (*Result, error) {
	src, ok := e.registry.Source(req.Source)
	if !ok {
		return nil, qerr.NewSecurity(qerr.RuleSource, "source %q is not queryable", req.Source)
	}

	where, err := e.baseConditions(src, req, tenantID, anonymous)
	if err != nil {
		return nil, err
	}
	order, err := resolveOrder(src, req.Sort)
	if err != nil {
		return nil, err
	}
	signature := orderSignature(order)

	limit := req.Page.Limit
	if limit <= 0 {
		limit = e.cfg.DefaultLimit
	}

	var seek sq.Sqlizer
	if req.Page.Cursor != "" {
		source, orderKey, values, err := query.DecodeCursor(req.Page.Cursor)
		if err != nil {
			return nil, err
		}
		if err := query.ValidateCursor(src.Name, signature, source, orderKey); err != nil {
			return nil, err
		}
		if len(values) != len(order) {
			return nil, qerr.NewValidation("cursor", "cursor does not match the requested ordering")
		}
		seek = buildSeekCondition(order, values)
	}

	rows, hasMore, err := e.fetchPage(ctx, src, where, seek, order, limit)
	if err != nil {
		return nil, err
	}

	cursorInfo := CursorInfo{}
	if hasMore && len(rows) > 0 {
		last := rows[len(rows)-1]
		values := make([]any, len(order))
		for i, o := range order {
			values[i] = last[o.field]
		}
		next := query.EncodeCursor(src.Name, signature, values...)
		cursorInfo.Next = &next
	}
	if req.Page.Cursor != "" {
		prev := req.Page.Cursor
		cursorInfo.Prev = &prev
	}

	total, err := e.countTotal(ctx, src, where)
	if err != nil {
		return nil, err
	}

	var aggregates map[string]float64
	if req.Aggregate.Targets() > 0 {
		aggregates, err = e.computeAggregates(ctx, src, where, req.Aggregate)
		if err != nil {
			return nil, err
		}
	}

	if len(req.Expand) > 0 {
		ld := e.loaders.NewLoader()
		if err := e.expandRows(ctx, ld, src, rows, req.Expand); err != nil {
			return nil, err
		}
	}

	sanitized, _ := e.validator.SanitizeOutput(rows).([]map[string]any)
	if sanitized == nil {
		sanitized = []map[string]any{}
	}

	return &Result{
		Data: sanitized,
		Meta: Meta{
			Total:      total,
			Cursor:     cursorInfo,
			Aggregates: aggregates,
		},
	}, nil
}

// baseConditions combines the caller's predicate with the mandatory
// scoping filters: tenant isolation and, for anonymous actors on
// status-bearing sources, exclusion of restricted content states.
func (e *Engine) baseConditions(src *schema.Source, req *query.Request, tenantID string, anonymous bool) ([]sq.Sqlizer, error) {
	var conds []sq.Sqlizer
	if req.Where != nil {
		cond, err := buildPredicate(src, req.Where)
		if err != nil {
			return nil, err
		}
		if cond != nil {
			conds = append(conds, cond)
		}
	}
	if src.TenantColumn != "" && tenantID != "" {
		conds = append(conds, sq.Eq{sqlutil.QuoteIdentifier(src.TenantColumn): tenantID})
	}
	if anonymous && src.StatusColumn != "" {
		restricted := make([]string, 0, len(schema.RestrictedStatuses))
		for status := range schema.RestrictedStatuses {
			restricted = append(restricted, status)
		}
		conds = append(conds, sq.NotEq{sqlutil.QuoteIdentifier(src.StatusColumn): restricted})
	}
	return conds, nil
}

// fetchPage runs the main select with limit+1 to detect a next page.
func (e *Engine) fetchPage(ctx context.Context, src *schema.Source, where []sq.Sqlizer, seek sq.Sqlizer, order []orderColumn, limit int) ([]map[string]any, bool, error) {
	columns, fields := selectColumns(src)
	builder := sq.Select(columns...).From(sqlutil.QuoteIdentifier(src.Table))
	for _, cond := range where {
		builder = builder.Where(cond)
	}
	if seek != nil {
		builder = builder.Where(seek)
	}
	builder = applyOrder(builder, order).
		Limit(uint64(limit + 1)).
		PlaceholderFormat(sq.Question)

	sqlStr, args, err := builder.ToSql()
	if err != nil {
		return nil, false, err
	}
	dbRows, err := e.executor.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, false, qerr.NewStore("query "+src.Name, err)
	}
	defer dbRows.Close()

	rows, err := scanRows(dbRows, fields)
	if err != nil {
		return nil, false, qerr.NewStore("scan "+src.Name, err)
	}
	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	return rows, hasMore, nil
}

// countTotal counts the full filtered set, ignoring pagination.
func (e *Engine) countTotal(ctx context.Context, src *schema.Source, where []sq.Sqlizer) (int64, error) {
	builder := sq.Select("COUNT(*)").From(sqlutil.QuoteIdentifier(src.Table))
	for _, cond := range where {
		builder = builder.Where(cond)
	}
	sqlStr, args, err := builder.PlaceholderFormat(sq.Question).ToSql()
	if err != nil {
		return 0, err
	}
	rows, err := e.executor.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, qerr.NewStore("count "+src.Name, err)
	}
	defer rows.Close()

	var total int64
	if rows.Next() {
		if err := rows.Scan(&total); err != nil {
			return 0, qerr.NewStore("count "+src.Name, err)
		}
	}
	return total, rows.Err()
}

// computeAggregates runs the requested aggregate computations over the
// full filtered set in one query. Empty sets yield zero values, never
// SQL NULLs.
func (e *Engine) computeAggregates(ctx context.Context, src *schema.Source, where []sq.Sqlizer, agg *query.Aggregate) (map[string]float64, error) {
	var exprs []string
	var names []string
	if agg.Count {
		exprs = append(exprs, "COUNT(*)")
		names = append(names, "count")
	}
	addField := func(fn, field string) error {
		f, ok := src.Field(field)
		if !ok {
			return qerr.NewValidation(field, "unknown aggregate field %q on source %q", field, src.Name)
		}
		exprs = append(exprs, "COALESCE("+fn+"("+sqlutil.QuoteIdentifier(f.Column)+"), 0)")
		names = append(names, strings.ToLower(fn)+"_"+field)
		return nil
	}
	for _, field := range agg.Sum {
		if err := addField("SUM", field); err != nil {
			return nil, err
		}
	}
	for _, field := range agg.Avg {
		if err := addField("AVG", field); err != nil {
			return nil, err
		}
	}

	builder := sq.Select(exprs...).From(sqlutil.QuoteIdentifier(src.Table))
	for _, cond := range where {
		builder = builder.Where(cond)
	}
	sqlStr, args, err := builder.PlaceholderFormat(sq.Question).ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := e.executor.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, qerr.NewStore("aggregate "+src.Name, err)
	}
	defer rows.Close()

	out := make(map[string]float64, len(names))
	if rows.Next() {
		dest := make([]any, len(names))
		scanned := make([]sql.NullFloat64, len(names))
		for i := range scanned {
			dest[i] = &scanned[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, qerr.NewStore("aggregate "+src.Name, err)
		}
		for i, name := range names {
			out[name] = scanned[i].Float64
		}
	} else {
		for _, name := range names {
			out[name] = 0
		}
	}
	return out, rows.Err()
}

// orderSignature renders the resolved order (including the implicit ID
// tiebreak) into the cursor's ordering signature.
func orderSignature(order []orderColumn) string {
	sort := make([]query.SortField, len(order))
	for i, o := range order {
		sort[i] = query.SortField{Field: o.field, Desc: o.desc}
	}
	return query.OrderKeySignature(sort)
}

