// Package security enforces the query allow-lists, structural limits, and
// the hard complexity ceiling, and strips sensitive fields from output.
// All configuration is injected at construction so differently-configured
// validators (e.g. per-tenant limits) can coexist.
package security

import (
	"content-query/internal/complexity"
	"content-query/internal/qerr"
	"content-query/internal/query"
	"content-query/internal/schema"
)

// Limits bounds the structural shape of an accepted query.
type Limits struct {
	MaxExpand      int `mapstructure:"max_expand"`
	MaxExpandDepth int `mapstructure:"max_expand_depth"`
	MaxWhereDepth  int `mapstructure:"max_where_depth"`
	MaxConditions  int `mapstructure:"max_conditions"`
	MaxSortFields  int `mapstructure:"max_sort_fields"`
	MaxPageLimit   int `mapstructure:"max_page_limit"`
	MaxComplexity  int `mapstructure:"max_complexity"`
}

// DefaultLimits returns the stock limit set.
func DefaultLimits() Limits {
	return Limits{
		MaxExpand:      5,
		MaxExpandDepth: 3,
		MaxWhereDepth:  5,
		MaxConditions:  20,
		MaxSortFields:  3,
		MaxPageLimit:   100,
		MaxComplexity:  100,
	}
}

// Validator checks requests against the schema registry and limits.
type Validator struct {
	registry  *schema.Registry
	limits    Limits
	sensitive map[string]struct{}
}

// Baseline sensitive keys stripped from output even when a source forgets to
// register them.
var baselineSensitive = []string{
	"password", "password_hash", "secret", "token", "session_token",
	"api_key", "salt", "author_ip",
}

// NewValidator builds a Validator over the given registry and limits.
func NewValidator(registry *schema.Registry, limits Limits) *Validator {
	sensitive := make(map[string]struct{})
	for _, key := range baselineSensitive {
		sensitive[key] = struct{}{}
	}
	for _, name := range registry.Names() {
		src, _ := registry.Source(name)
		for _, field := range src.SensitiveFields() {
			sensitive[field] = struct{}{}
		}
	}
	return &Validator{registry: registry, limits: limits, sensitive: sensitive}
}

// Limits returns the configured limit set.
func (v *Validator) Limits() Limits {
	return v.limits
}

// Validate runs every security check in order and returns the first
// violation as a SecurityError. It never touches the cache or the store.
func (v *Validator) Validate(req *query.Request, actorID, tenantID string) error {
	src, ok := v.registry.Source(req.Source)
	if !ok {
		return qerr.NewSecurity(qerr.RuleSource, "Source %q is not allowed", req.Source)
	}

	if err := v.validateExpand(src, req.Expand); err != nil {
		return err
	}
	if err := v.validateWhere(src, req.Where); err != nil {
		return err
	}
	if err := v.validateSort(src, req.Sort); err != nil {
		return err
	}
	if err := v.validateAggregate(src, req.Aggregate); err != nil {
		return err
	}
	if req.Page.Limit > v.limits.MaxPageLimit {
		return qerr.NewSecurity(qerr.RuleLimit, "Page limit %d exceeds maximum of %d", req.Page.Limit, v.limits.MaxPageLimit)
	}
	if score := complexity.RawScore(req); score > v.limits.MaxComplexity {
		return qerr.NewSecurity(qerr.RuleComplexity, "Query complexity %d exceeds the allowed ceiling of %d", score, v.limits.MaxComplexity)
	}
	return v.validateVisibility(src, req.Where, actorID)
}

func (v *Validator) validateExpand(src *schema.Source, expand []string) error {
	if len(expand) > v.limits.MaxExpand {
		return qerr.NewSecurity(qerr.RuleExpand, "Too many expand relations. Maximum allowed: %d", v.limits.MaxExpand)
	}
	for _, path := range expand {
		segments := query.ExpandSegments(path)
		if len(segments) == 0 {
			return qerr.NewSecurity(qerr.RuleExpand, "Empty expand path")
		}
		if len(segments) > v.limits.MaxExpandDepth {
			return qerr.NewSecurity(qerr.RuleExpand, "Expand path %q exceeds maximum depth of %d", path, v.limits.MaxExpandDepth)
		}
		current := src
		for _, segment := range segments {
			rel, ok := current.Relation(segment)
			if !ok {
				return qerr.NewSecurity(qerr.RuleExpand, "Relation %q is not allowed on %q", segment, current.Name)
			}
			target, ok := v.registry.Source(rel.Target)
			if !ok {
				return qerr.NewSecurity(qerr.RuleExpand, "Relation %q targets unknown source %q", segment, rel.Target)
			}
			current = target
		}
	}
	return nil
}

func (v *Validator) validateWhere(src *schema.Source, where query.Predicate) error {
	if where == nil {
		return nil
	}
	if depth := query.Depth(where); depth > v.limits.MaxWhereDepth {
		return qerr.NewSecurity(qerr.RuleDepth, "Filter nesting depth %d exceeds maximum of %d", depth, v.limits.MaxWhereDepth)
	}
	if count := query.ConditionCount(where); count > v.limits.MaxConditions {
		return qerr.NewSecurity(qerr.RuleConditions, "Too many conditions: %d exceeds maximum of %d", count, v.limits.MaxConditions)
	}

	var violation error
	query.WalkFields(where, func(ft query.FieldTest) {
		if violation != nil {
			return
		}
		if v.isSensitiveName(src, ft.Field) {
			violation = qerr.NewSecurity(qerr.RuleSensitive, "Field %q contains sensitive data and cannot be filtered", ft.Field)
			return
		}
		if _, ok := src.Field(ft.Field); !ok {
			violation = qerr.NewSecurity(qerr.RuleField, "Field %q is not allowed for %q", ft.Field, src.Name)
			return
		}
		if _, ok := query.Operators[ft.Op]; !ok {
			violation = qerr.NewSecurity(qerr.RuleOperator, "Operator %q is not allowed", ft.Op)
		}
	})
	return violation
}

func (v *Validator) validateSort(src *schema.Source, sort []query.SortField) error {
	if len(sort) > v.limits.MaxSortFields {
		return qerr.NewSecurity(qerr.RuleSort, "Too many sort fields: %d exceeds maximum of %d", len(sort), v.limits.MaxSortFields)
	}
	for _, s := range sort {
		if v.isSensitiveName(src, s.Field) {
			return qerr.NewSecurity(qerr.RuleSensitive, "Field %q contains sensitive data and cannot be sorted", s.Field)
		}
		if _, ok := src.Field(s.Field); !ok {
			return qerr.NewSecurity(qerr.RuleSort, "Sort field %q is not allowed for %q", s.Field, src.Name)
		}
	}
	return nil
}

func (v *Validator) validateAggregate(src *schema.Source, agg *query.Aggregate) error {
	if agg == nil {
		return nil
	}
	targets := append(append([]string(nil), agg.Sum...), agg.Avg...)
	for _, field := range targets {
		if v.isSensitiveName(src, field) {
			return qerr.NewSecurity(qerr.RuleSensitive, "Field %q contains sensitive data and cannot be aggregated", field)
		}
		if _, ok := src.Field(field); !ok {
			return qerr.NewSecurity(qerr.RuleAggregate, "Aggregate field %q is not allowed for %q", field, src.Name)
		}
	}
	return nil
}

// validateVisibility rejects anonymous requests that filter for restricted
// content states (drafts, private, pending, trash).
func (v *Validator) validateVisibility(src *schema.Source, where query.Predicate, actorID string) error {
	if actorID != "" || where == nil || src.StatusColumn == "" {
		return nil
	}
	var violation error
	query.WalkFields(where, func(ft query.FieldTest) {
		if violation != nil || ft.Field != src.StatusColumn {
			return
		}
		values := []any{ft.Value}
		if list, ok := ft.Value.([]any); ok {
			values = list
		}
		for _, value := range values {
			if schema.IsRestrictedStatus(value) {
				violation = qerr.NewSecurity(qerr.RuleIdentity, "An authenticated actor is required to query %v content", value)
				return
			}
		}
	})
	return violation
}

// isSensitiveName reports whether the name is sensitive for the source or
// registry-wide. Checked before the allow-list so that a sensitive name
// yields the sensitivity message even when it is also unregistered.
func (v *Validator) isSensitiveName(src *schema.Source, name string) bool {
	if src.IsSensitive(name) {
		return true
	}
	_, ok := v.sensitive[name]
	return ok
}

// SanitizeOutput recursively removes every sensitive-field key from maps and
// slices. It never fails; unhandled value kinds pass through unchanged.
func (v *Validator) SanitizeOutput(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, val := range typed {
			if _, sensitive := v.sensitive[key]; sensitive {
				continue
			}
			out[key] = v.SanitizeOutput(val)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, 0, len(typed))
		for _, item := range typed {
			out = append(out, v.SanitizeOutput(item).(map[string]any))
		}
		return out
	case []any:
		out := make([]any, 0, len(typed))
		for _, item := range typed {
			out = append(out, v.SanitizeOutput(item))
		}
		return out
	default:
		return value
	}
}
