// Package query defines the canonical QueryRequest accepted by the execution
// engine, the typed predicate tree, cursor encoding, and the flattened
// query-string form used by GET endpoints.
package query

import (
	"encoding/json"
	"strings"

	"content-query/internal/qerr"
)

// Operator is a comparison operator usable in a predicate leaf.
type Operator string

const (
	OpEq         Operator = "eq"
	OpNe         Operator = "ne"
	OpGt         Operator = "gt"
	OpGte        Operator = "gte"
	OpLt         Operator = "lt"
	OpLte        Operator = "lte"
	OpBetween    Operator = "between"
	OpIn         Operator = "in"
	OpNotIn      Operator = "notIn"
	OpLike       Operator = "like"
	OpNotLike    Operator = "notLike"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "startsWith"
	OpEndsWith   Operator = "endsWith"
)

// Operators is the fixed operator allow-list. Anything outside it is
// rejected during validation.
var Operators = map[Operator]struct{}{
	OpEq: {}, OpNe: {}, OpGt: {}, OpGte: {}, OpLt: {}, OpLte: {},
	OpBetween: {}, OpIn: {}, OpNotIn: {}, OpLike: {}, OpNotLike: {},
	OpContains: {}, OpStartsWith: {}, OpEndsWith: {},
}

// RangeOperators are operators the analyzer flags as potentially expensive.
var RangeOperators = map[Operator]struct{}{
	OpGt: {}, OpGte: {}, OpLt: {}, OpLte: {}, OpBetween: {},
}

// TextSearchOperators are pattern-matching operators the analyzer flags.
var TextSearchOperators = map[Operator]struct{}{
	OpLike: {}, OpNotLike: {}, OpContains: {}, OpStartsWith: {}, OpEndsWith: {},
}

// SortField is one entry of an ordered sort list.
type SortField struct {
	Field string
	Desc  bool
}

// Page holds cursor pagination parameters. A zero Limit means "use the
// configured default".
type Page struct {
	Limit  int    `json:"limit,omitempty"`
	Cursor string `json:"cursor,omitempty"`
}

// Aggregate selects the aggregate computations to run over the full
// filtered set.
type Aggregate struct {
	Count bool     `json:"count,omitempty"`
	Sum   []string `json:"sum,omitempty"`
	Avg   []string `json:"avg,omitempty"`
}

// Targets returns the number of aggregate computations requested.
func (a *Aggregate) Targets() int {
	if a == nil {
		return 0
	}
	n := len(a.Sum) + len(a.Avg)
	if a.Count {
		n++
	}
	return n
}

// CacheOverride lets a caller pin the cache TTL or key for one request.
type CacheOverride struct {
	TTLSeconds int    `json:"ttl,omitempty"`
	Key        string `json:"key,omitempty"`
}

// Request is the canonical query accepted by the execution engine. One
// Request is constructed per inbound call and discarded after the response
// is produced.
type Request struct {
	Source    string         `json:"source"`
	Expand    []string       `json:"expand,omitempty"`
	Where     Predicate      `json:"-"`
	Sort      []SortField    `json:"-"`
	Page      Page           `json:"page"`
	Aggregate *Aggregate     `json:"aggregate,omitempty"`
	Cache     *CacheOverride `json:"cache,omitempty"`
}

// requestWire is the JSON body shape; where and sort need custom decoding.
type requestWire struct {
	Source    string          `json:"source"`
	Expand    []string        `json:"expand"`
	Where     json.RawMessage `json:"where"`
	Sort      []string        `json:"sort"`
	Page      Page            `json:"page"`
	Aggregate *Aggregate      `json:"aggregate"`
	Cache     *CacheOverride  `json:"cache"`
}

// UnmarshalJSON decodes the structured request body, turning the loose wire
// shapes (predicate map, "-field" sort strings) into typed values.
func (r *Request) UnmarshalJSON(data []byte) error {
	var wire requestWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return qerr.NewValidation("body", "malformed request body: %v", err)
	}
	where, err := DecodePredicate(wire.Where)
	if err != nil {
		return err
	}
	sort, err := ParseSortList(wire.Sort)
	if err != nil {
		return err
	}
	r.Source = wire.Source
	r.Expand = wire.Expand
	r.Where = where
	r.Sort = sort
	r.Page = wire.Page
	r.Aggregate = wire.Aggregate
	r.Cache = wire.Cache
	return nil
}

// MarshalJSON re-emits the wire shape, keeping round-trips lossless.
func (r Request) MarshalJSON() ([]byte, error) {
	wire := requestWire{
		Source:    r.Source,
		Expand:    r.Expand,
		Page:      r.Page,
		Aggregate: r.Aggregate,
		Cache:     r.Cache,
	}
	if r.Where != nil {
		raw, err := json.Marshal(r.Where)
		if err != nil {
			return nil, err
		}
		wire.Where = raw
	}
	for _, s := range r.Sort {
		wire.Sort = append(wire.Sort, s.String())
	}
	return json.Marshal(wire)
}

// ParseSortList parses "-field"-prefixed sort entries into SortFields.
func ParseSortList(entries []string) ([]SortField, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	out := make([]SortField, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		desc := strings.HasPrefix(entry, "-")
		field := strings.TrimPrefix(entry, "-")
		if field == "" {
			return nil, qerr.NewValidation("sort", "empty sort field")
		}
		out = append(out, SortField{Field: field, Desc: desc})
	}
	return out, nil
}

func (s SortField) String() string {
	if s.Desc {
		return "-" + s.Field
	}
	return s.Field
}

// ExpandDepth returns the number of dotted hops in an expand path.
func ExpandDepth(path string) int {
	path = strings.Trim(path, ".")
	if path == "" {
		return 0
	}
	return strings.Count(path, ".") + 1
}

// ExpandSegments splits a dotted expand path into its hops.
func ExpandSegments(path string) []string {
	path = strings.Trim(path, ".")
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}
