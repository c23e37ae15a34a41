package engine

import (
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"content-query/internal/qerr"
	"content-query/internal/query"
	"content-query/internal/schema"
	"content-query/internal/sqlutil"
)

// buildPredicate translates a validated predicate tree into a squirrel
// condition over the source's columns. Positional placeholders mean OR
// branches reusing the same field can never collide.
func buildPredicate(src *schema.Source, p query.Predicate) (sq.Sqlizer, error) {
	switch node := p.(type) {
	case nil:
		return nil, nil
	case query.FieldTest:
		return buildFieldTest(src, node)
	case query.And:
		conds, err := buildChildren(src, node.Children)
		if err != nil {
			return nil, err
		}
		return collapse(conds, func(c []sq.Sqlizer) sq.Sqlizer { return sq.And(c) }), nil
	case query.Or:
		conds, err := buildChildren(src, node.Children)
		if err != nil {
			return nil, err
		}
		return collapse(conds, func(c []sq.Sqlizer) sq.Sqlizer { return sq.Or(c) }), nil
	default:
		return nil, fmt.Errorf("unknown predicate node %T", p)
	}
}

func buildChildren(src *schema.Source, children []query.Predicate) ([]sq.Sqlizer, error) {
	conds := make([]sq.Sqlizer, 0, len(children))
	for _, child := range children {
		cond, err := buildPredicate(src, child)
		if err != nil {
			return nil, err
		}
		if cond != nil {
			conds = append(conds, cond)
		}
	}
	return conds, nil
}

func collapse(conds []sq.Sqlizer, combine func([]sq.Sqlizer) sq.Sqlizer) sq.Sqlizer {
	switch len(conds) {
	case 0:
		return nil
	case 1:
		return conds[0]
	default:
		return combine(conds)
	}
}

func buildFieldTest(src *schema.Source, test query.FieldTest) (sq.Sqlizer, error) {
	field, ok := src.Field(test.Field)
	if !ok {
		return nil, qerr.NewValidation(test.Field, "unknown field %q on source %q", test.Field, src.Name)
	}
	column := sqlutil.QuoteIdentifier(field.Column)

	switch test.Op {
	case query.OpEq:
		return sq.Eq{column: test.Value}, nil
	case query.OpNe:
		return sq.NotEq{column: test.Value}, nil
	case query.OpGt:
		return sq.Gt{column: test.Value}, nil
	case query.OpGte:
		return sq.GtOrEq{column: test.Value}, nil
	case query.OpLt:
		return sq.Lt{column: test.Value}, nil
	case query.OpLte:
		return sq.LtOrEq{column: test.Value}, nil
	case query.OpBetween:
		bounds, err := arrayValues(test.Value)
		if err != nil || len(bounds) != 2 {
			return nil, qerr.NewValidation(test.Field, "between requires an array of exactly two values")
		}
		return sq.Expr(fmt.Sprintf("%s BETWEEN ? AND ?", column), bounds[0], bounds[1]), nil
	case query.OpIn:
		values, err := arrayValues(test.Value)
		if err != nil {
			return nil, qerr.NewValidation(test.Field, "in requires an array")
		}
		return sq.Eq{column: values}, nil
	case query.OpNotIn:
		values, err := arrayValues(test.Value)
		if err != nil {
			return nil, qerr.NewValidation(test.Field, "notIn requires an array")
		}
		return sq.NotEq{column: values}, nil
	case query.OpLike:
		return sq.Like{column: test.Value}, nil
	case query.OpNotLike:
		return sq.NotLike{column: test.Value}, nil
	case query.OpContains:
		pattern, err := likePattern(test.Field, test.Value, true, true)
		if err != nil {
			return nil, err
		}
		return sq.Like{column: pattern}, nil
	case query.OpStartsWith:
		pattern, err := likePattern(test.Field, test.Value, false, true)
		if err != nil {
			return nil, err
		}
		return sq.Like{column: pattern}, nil
	case query.OpEndsWith:
		pattern, err := likePattern(test.Field, test.Value, true, false)
		if err != nil {
			return nil, err
		}
		return sq.Like{column: pattern}, nil
	default:
		return nil, qerr.NewValidation(test.Field, "unknown operator %q", test.Op)
	}
}

func arrayValues(value any) ([]any, error) {
	arr, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("value must be an array")
	}
	return arr, nil
}

// likeEscaper neutralizes LIKE metacharacters in user text so contains,
// startsWith and endsWith match literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePattern(field string, value any, prefix, suffix bool) (string, error) {
	s, ok := value.(string)
	if !ok {
		return "", qerr.NewValidation(field, "text search operators require a string value")
	}
	pattern := likeEscaper.Replace(s)
	if prefix {
		pattern = "%" + pattern
	}
	if suffix {
		pattern += "%"
	}
	return pattern, nil
}

// orderColumn is one resolved ordering term: the physical column plus
// the field name it came from, so cursor values can be read back off
// scanned rows.
type orderColumn struct {
	field  string
	column string
	desc   bool
}

// resolveOrder turns the requested sort into a total order by appending
// the ID column as a tiebreak. With no sort at all, rows are ordered by
// ID alone so pagination stays deterministic.
func resolveOrder(src *schema.Source, sort []query.SortField) ([]orderColumn, error) {
	order := make([]orderColumn, 0, len(sort)+1)
	seenID := false
	for _, s := range sort {
		field, ok := src.Field(s.Field)
		if !ok {
			return nil, qerr.NewValidation(s.Field, "unknown sort field %q on source %q", s.Field, src.Name)
		}
		if field.Column == src.IDColumn {
			seenID = true
		}
		order = append(order, orderColumn{field: s.Field, column: field.Column, desc: s.Desc})
	}
	if !seenID {
		order = append(order, orderColumn{field: idFieldName(src), column: src.IDColumn})
	}
	return order, nil
}

// idFieldName maps the source's ID column back to a field name for row
// lookups; the column itself is always selected.
func idFieldName(src *schema.Source) string {
	for _, f := range src.Fields {
		if f.Column == src.IDColumn {
			return f.Name
		}
	}
	return src.IDColumn
}

func applyOrder(builder sq.SelectBuilder, order []orderColumn) sq.SelectBuilder {
	for _, o := range order {
		dir := "ASC"
		if o.desc {
			dir = "DESC"
		}
		builder = builder.OrderBy(fmt.Sprintf("%s %s", sqlutil.QuoteIdentifier(o.column), dir))
	}
	return builder
}

// buildSeekCondition produces the lexicographic row-comparison that
// resumes a page after the cursor position: for order (a, b, id) it
// emits a > ? OR (a = ? AND b > ?) OR (a = ? AND b = ? AND id > ?),
// with comparisons flipped on descending terms.
func buildSeekCondition(order []orderColumn, values []string) sq.Sqlizer {
	branches := make([]sq.Sqlizer, 0, len(order))
	for i, o := range order {
		terms := make([]sq.Sqlizer, 0, i+1)
		for j := 0; j < i; j++ {
			terms = append(terms, sq.Eq{sqlutil.QuoteIdentifier(order[j].column): values[j]})
		}
		column := sqlutil.QuoteIdentifier(o.column)
		if o.desc {
			terms = append(terms, sq.Lt{column: values[i]})
		} else {
			terms = append(terms, sq.Gt{column: values[i]})
		}
		branches = append(branches, collapse(terms, func(c []sq.Sqlizer) sq.Sqlizer { return sq.And(c) }))
	}
	if len(branches) == 1 {
		return branches[0]
	}
	return sq.Or(branches)
}

// selectColumns resolves the column list for a source query: the ID
// column, every non-sensitive field, and the FK columns behind to-one
// relations so any row can serve as an expansion parent. Sensitive
// columns never leave the database.
func selectColumns(src *schema.Source) (columns []string, fields []string) {
	seen := map[string]struct{}{}
	add := func(field, column string) {
		if _, dup := seen[column]; dup {
			return
		}
		seen[column] = struct{}{}
		columns = append(columns, sqlutil.QuoteIdentifier(column))
		fields = append(fields, field)
	}

	add(idFieldName(src), src.IDColumn)
	for _, f := range src.Fields {
		if f.Sensitive {
			continue
		}
		add(f.Name, f.Column)
	}
	for _, rel := range src.Relations {
		if rel.LocalColumn != "" {
			add(rel.LocalColumn, rel.LocalColumn)
		}
	}
	return columns, fields
}

// scanRows reads every row of a generic select into field-keyed maps.
func scanRows(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}, fields []string) ([]map[string]any, error) {
	var out []map[string]any
	for rows.Next() {
		dest := make([]any, len(fields))
		for i := range dest {
			dest[i] = new(any)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(fields))
		for i, field := range fields {
			row[field] = normalizeValue(*dest[i].(*any))
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// normalizeValue converts driver-level values into JSON-friendly ones;
// the MySQL driver hands back []byte for text columns.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	default:
		return v
	}
}
