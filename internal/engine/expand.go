package engine

import (
	"context"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"content-query/internal/loader"
	"content-query/internal/qerr"
	"content-query/internal/query"
	"content-query/internal/schema"
	"content-query/internal/sqlutil"
)

// registerLoaders installs one batch fetcher per (source, relation)
// pair under a qualified name, so post.author and comment.author can
// target different key shapes without colliding.
func (e *Engine) registerLoaders() {
	for _, name := range e.registry.Names() {
		src, _ := e.registry.Source(name)
		for i := range src.Relations {
			rel := &src.Relations[i]
			e.loaders.Register(loaderName(src.Name, rel.Name), e.batchFunc(src, rel))
		}
	}
}

func loaderName(source, relation string) string {
	return source + "." + relation
}

// batchFunc builds the fetcher that resolves one relation for a batch
// of parent keys in a single query.
func (e *Engine) batchFunc(src *schema.Source, rel *schema.Relation) loader.BatchFunc {
	target, ok := e.registry.Source(rel.Target)
	if !ok {
		// NewRegistry validates targets; this only fires on a
		// programming error.
		return func(context.Context, []string) (map[string]any, error) {
			return nil, fmt.Errorf("relation %s.%s targets unknown source %s", src.Name, rel.Name, rel.Target)
		}
	}

	switch {
	case rel.IsJunction():
		return e.junctionBatch(rel, target)
	case rel.Cardinality == schema.One:
		return e.toOneBatch(rel, target)
	default:
		return e.toManyBatch(rel, target)
	}
}

// toOneBatch resolves FK values to single target rows.
func (e *Engine) toOneBatch(rel *schema.Relation, target *schema.Source) loader.BatchFunc {
	return func(ctx context.Context, keys []string) (map[string]any, error) {
		columns, fields := selectColumns(target)
		sqlStr, args, err := sq.Select(columns...).
			From(sqlutil.QuoteIdentifier(target.Table)).
			Where(sq.Eq{sqlutil.QuoteIdentifier(target.IDColumn): keys}).
			PlaceholderFormat(sq.Question).
			ToSql()
		if err != nil {
			return nil, err
		}
		rows, err := e.executor.QueryContext(ctx, sqlStr, args...)
		if err != nil {
			return nil, qerr.NewStore("expand "+rel.Name, err)
		}
		defer rows.Close()

		scanned, err := scanRows(rows, fields)
		if err != nil {
			return nil, qerr.NewStore("expand "+rel.Name, err)
		}
		idField := idFieldName(target)
		out := make(map[string]any, len(scanned))
		for _, row := range scanned {
			out[keyString(row[idField])] = row
		}
		return out, nil
	}
}

// toManyBatch resolves parent IDs to slices of target rows via the FK
// on the target table.
func (e *Engine) toManyBatch(rel *schema.Relation, target *schema.Source) loader.BatchFunc {
	return func(ctx context.Context, keys []string) (map[string]any, error) {
		columns, fields := selectColumns(target)
		// The grouping FK leads the select list so rows can be bucketed
		// by parent even when the FK is not an exposed field.
		columns = append([]string{sqlutil.QuoteIdentifier(rel.RemoteColumn)}, columns...)
		fields = append([]string{groupKeyField}, fields...)

		sqlStr, args, err := sq.Select(columns...).
			From(sqlutil.QuoteIdentifier(target.Table)).
			Where(sq.Eq{sqlutil.QuoteIdentifier(rel.RemoteColumn): keys}).
			OrderBy(sqlutil.QuoteIdentifier(target.IDColumn) + " ASC").
			PlaceholderFormat(sq.Question).
			ToSql()
		if err != nil {
			return nil, err
		}
		rows, err := e.executor.QueryContext(ctx, sqlStr, args...)
		if err != nil {
			return nil, qerr.NewStore("expand "+rel.Name, err)
		}
		defer rows.Close()

		scanned, err := scanRows(rows, fields)
		if err != nil {
			return nil, qerr.NewStore("expand "+rel.Name, err)
		}
		return groupByKey(scanned), nil
	}
}

// junctionBatch resolves parent IDs through a join table to slices of
// target rows.
func (e *Engine) junctionBatch(rel *schema.Relation, target *schema.Source) loader.BatchFunc {
	return func(ctx context.Context, keys []string) (map[string]any, error) {
		junction := sqlutil.QuoteIdentifier(rel.JunctionTable)
		targetTable := sqlutil.QuoteIdentifier(target.Table)

		columns, fields := selectColumns(target)
		qualified := make([]string, len(columns))
		for i, col := range columns {
			qualified[i] = targetTable + "." + col
		}
		qualified = append([]string{junction + "." + sqlutil.QuoteIdentifier(rel.JunctionLocalColumn)}, qualified...)
		fields = append([]string{groupKeyField}, fields...)

		join := fmt.Sprintf(
			"%s ON %s.%s = %s.%s",
			targetTable,
			targetTable, sqlutil.QuoteIdentifier(target.IDColumn),
			junction, sqlutil.QuoteIdentifier(rel.JunctionRemoteColumn),
		)
		sqlStr, args, err := sq.Select(qualified...).
			From(junction).
			Join(join).
			Where(sq.Eq{junction + "." + sqlutil.QuoteIdentifier(rel.JunctionLocalColumn): keys}).
			OrderBy(targetTable + "." + sqlutil.QuoteIdentifier(target.IDColumn) + " ASC").
			PlaceholderFormat(sq.Question).
			ToSql()
		if err != nil {
			return nil, err
		}
		rows, err := e.executor.QueryContext(ctx, sqlStr, args...)
		if err != nil {
			return nil, qerr.NewStore("expand "+rel.Name, err)
		}
		defer rows.Close()

		scanned, err := scanRows(rows, fields)
		if err != nil {
			return nil, qerr.NewStore("expand "+rel.Name, err)
		}
		return groupByKey(scanned), nil
	}
}

// groupKeyField is the synthetic leading column batch fetchers use to
// bucket rows by parent; it is stripped before rows are attached.
const groupKeyField = "__group_key"

func groupByKey(rows []map[string]any) map[string]any {
	out := make(map[string]any)
	for _, row := range rows {
		key := keyString(row[groupKeyField])
		delete(row, groupKeyField)
		bucket, _ := out[key].([]map[string]any)
		out[key] = append(bucket, row)
	}
	return out
}

// expandRows resolves every requested expand path against the fetched
// rows, one batched query per (hop, generation). Paths are walked hop
// by hop so a.b.c issues at most three queries regardless of row count.
func (e *Engine) expandRows(ctx context.Context, ld *loader.Loader, src *schema.Source, rows []map[string]any, expand []string) error {
	for _, path := range expand {
		if err := e.expandPath(ctx, ld, src, rows, query.ExpandSegments(path)); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) expandPath(ctx context.Context, ld *loader.Loader, src *schema.Source, rows []map[string]any, segments []string) error {
	if len(segments) == 0 || len(rows) == 0 {
		return nil
	}
	rel, ok := src.Relation(segments[0])
	if !ok {
		return qerr.NewValidation("expand", "unknown relation %q on source %q", segments[0], src.Name)
	}

	children, err := e.expandHop(ctx, ld, src, rel, rows)
	if err != nil {
		return err
	}
	if len(segments) == 1 || len(children) == 0 {
		return nil
	}
	next, _ := e.registry.Source(rel.Target)
	return e.expandPath(ctx, ld, next, children, segments[1:])
}

// expandHop attaches one relation across a generation of rows and
// returns the newly attached child rows for the next hop.
func (e *Engine) expandHop(ctx context.Context, ld *loader.Loader, src *schema.Source, rel *schema.Relation, rows []map[string]any) ([]map[string]any, error) {
	keyField := idFieldName(src)
	if !rel.IsJunction() && rel.Cardinality == schema.One {
		keyField = rel.LocalColumn
	}

	keys := make([]string, 0, len(rows))
	for _, row := range rows {
		if v, ok := row[keyField]; ok && v != nil {
			keys = append(keys, keyString(v))
		}
	}

	name := loaderName(src.Name, rel.Name)
	if e.metrics != nil {
		e.metrics.RecordExpandBatch(ctx, name, int64(len(keys)))
	}
	values, err := ld.LoadMany(ctx, name, keys)
	if err != nil {
		return nil, err
	}
	byKey := make(map[string]any, len(keys))
	for i, key := range keys {
		byKey[key] = values[i]
	}

	var children []map[string]any
	for _, row := range rows {
		v, ok := row[keyField]
		var value any
		if ok && v != nil {
			value = byKey[keyString(v)]
		}
		if rel.Cardinality == schema.Many {
			bucket, _ := value.([]map[string]any)
			if bucket == nil {
				bucket = []map[string]any{}
			}
			row[rel.Name] = bucket
			children = append(children, bucket...)
			continue
		}
		child, _ := value.(map[string]any)
		if child == nil {
			row[rel.Name] = nil
			continue
		}
		row[rel.Name] = child
		children = append(children, child)
	}
	return children, nil
}

// keyString normalizes a scanned key value for loader memoization.
func keyString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", val))
	}
}
