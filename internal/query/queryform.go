package query

import (
	"encoding/json"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"content-query/internal/qerr"
)

// Reserved query-string parameters; anything else is treated as a field
// filter in the flattened form.
var reservedParams = map[string]struct{}{
	"expand": {}, "sort": {}, "limit": {}, "cursor": {},
	"where": {}, "count": {}, "sum": {}, "avg": {},
	"cache_ttl": {}, "cache_key": {},
}

// ParseForm builds a canonical Request from the flattened query-string form:
// comma-separated expand, "-field" descending sort, scalar limit/cursor, an
// optional "where" parameter carrying a JSON predicate tree, and any other
// parameter interpreted as an equality filter (repeated values become "in").
func ParseForm(source string, values url.Values) (*Request, error) {
	req := &Request{Source: source}

	if expand := strings.TrimSpace(values.Get("expand")); expand != "" {
		for _, entry := range strings.Split(expand, ",") {
			entry = strings.TrimSpace(entry)
			if entry != "" {
				req.Expand = append(req.Expand, entry)
			}
		}
	}

	if rawSort := strings.TrimSpace(values.Get("sort")); rawSort != "" {
		entries := strings.Split(rawSort, ",")
		parsed, err := ParseSortList(entries)
		if err != nil {
			return nil, err
		}
		req.Sort = parsed
	}

	if rawLimit := values.Get("limit"); rawLimit != "" {
		limit, err := strconv.Atoi(rawLimit)
		if err != nil {
			return nil, qerr.NewValidation("limit", "limit must be an integer")
		}
		req.Page.Limit = limit
	}
	req.Page.Cursor = values.Get("cursor")

	if err := parseFormAggregate(req, values); err != nil {
		return nil, err
	}
	if err := parseFormCache(req, values); err != nil {
		return nil, err
	}

	where, err := parseFormWhere(values)
	if err != nil {
		return nil, err
	}
	req.Where = where

	return req, nil
}

func parseFormWhere(values url.Values) (Predicate, error) {
	var children []Predicate

	if rawWhere := values.Get("where"); rawWhere != "" {
		decoded, err := DecodePredicate(json.RawMessage(rawWhere))
		if err != nil {
			return nil, err
		}
		if decoded != nil {
			children = append(children, decoded)
		}
	}

	// Remaining parameters flatten to equality filters. Sorted iteration
	// keeps the resulting tree deterministic for cache keying.
	names := make([]string, 0, len(values))
	for name := range values {
		if _, reserved := reservedParams[name]; reserved {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		vals := values[name]
		switch len(vals) {
		case 0:
		case 1:
			children = append(children, FieldTest{Field: name, Op: OpEq, Value: vals[0]})
		default:
			in := make([]any, 0, len(vals))
			for _, v := range vals {
				in = append(in, v)
			}
			children = append(children, FieldTest{Field: name, Op: OpIn, Value: in})
		}
	}

	switch len(children) {
	case 0:
		return nil, nil
	case 1:
		return children[0], nil
	default:
		return And{Children: children}, nil
	}
}

func parseFormAggregate(req *Request, values url.Values) error {
	agg := &Aggregate{}
	if rawCount := values.Get("count"); rawCount != "" {
		count, err := strconv.ParseBool(rawCount)
		if err != nil {
			return qerr.NewValidation("count", "count must be a boolean")
		}
		agg.Count = count
	}
	if rawSum := strings.TrimSpace(values.Get("sum")); rawSum != "" {
		agg.Sum = splitCommaList(rawSum)
	}
	if rawAvg := strings.TrimSpace(values.Get("avg")); rawAvg != "" {
		agg.Avg = splitCommaList(rawAvg)
	}
	if agg.Targets() > 0 {
		req.Aggregate = agg
	}
	return nil
}

func parseFormCache(req *Request, values url.Values) error {
	ttlRaw := values.Get("cache_ttl")
	key := values.Get("cache_key")
	if ttlRaw == "" && key == "" {
		return nil
	}
	override := &CacheOverride{Key: key}
	if ttlRaw != "" {
		ttl, err := strconv.Atoi(ttlRaw)
		if err != nil || ttl < 0 {
			return qerr.NewValidation("cache_ttl", "cache_ttl must be a non-negative integer")
		}
		override.TTLSeconds = ttl
	}
	req.Cache = override
	return nil
}

func splitCommaList(raw string) []string {
	var out []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			out = append(out, entry)
		}
	}
	return out
}
