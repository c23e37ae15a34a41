package query

import (
	"encoding/json"
	"sort"

	"content-query/internal/qerr"
)

// Predicate is the closed variant type for the filter tree: a node is either
// a single field test or an AND/OR combinator over child nodes. Keeping the
// tree typed makes the validator and query builder exhaustive — unknown keys
// in the wire form fail decoding instead of being silently ignored.
type Predicate interface {
	json.Marshaler
	isPredicate()
}

// FieldTest compares one field against a value with an operator.
type FieldTest struct {
	Field string
	Op    Operator
	Value any
}

// And combines child predicates conjunctively.
type And struct {
	Children []Predicate
}

// Or combines child predicates disjunctively.
type Or struct {
	Children []Predicate
}

func (FieldTest) isPredicate() {}
func (And) isPredicate()       {}
func (Or) isPredicate()        {}

func (f FieldTest) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{f.Field: map[string]any{string(f.Op): f.Value}})
}

func (a And) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{"AND": marshalChildren(a.Children)})
}

func (o Or) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{"OR": marshalChildren(o.Children)})
}

func marshalChildren(children []Predicate) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(children))
	for _, c := range children {
		raw, err := json.Marshal(c)
		if err != nil {
			continue
		}
		out = append(out, raw)
	}
	return out
}

// DecodePredicate parses the wire predicate shape into the typed tree.
// A node object may hold "AND"/"OR" keys (arrays of child nodes) and field
// keys mapping to either a bare value (equality; arrays mean "in") or an
// {operator: value} object. Multiple keys in one object combine with AND.
// An empty or absent node decodes to nil.
func DecodePredicate(raw json.RawMessage) (Predicate, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var node map[string]json.RawMessage
	if err := json.Unmarshal(raw, &node); err != nil {
		return nil, qerr.NewValidation("where", "predicate node must be an object")
	}
	return decodeNode(node)
}

func decodeNode(node map[string]json.RawMessage) (Predicate, error) {
	if len(node) == 0 {
		return nil, nil
	}

	// Sorted key iteration keeps decoding deterministic.
	keys := make([]string, 0, len(node))
	for key := range node {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var children []Predicate
	for _, key := range keys {
		value := node[key]
		switch key {
		case "AND", "OR":
			var items []map[string]json.RawMessage
			if err := json.Unmarshal(value, &items); err != nil {
				return nil, qerr.NewValidation("where", "%s must be an array of objects", key)
			}
			var sub []Predicate
			for _, item := range items {
				child, err := decodeNode(item)
				if err != nil {
					return nil, err
				}
				if child != nil {
					sub = append(sub, child)
				}
			}
			if len(sub) == 0 {
				continue
			}
			if key == "AND" {
				children = append(children, And{Children: sub})
			} else {
				children = append(children, Or{Children: sub})
			}
		default:
			tests, err := decodeFieldTests(key, value)
			if err != nil {
				return nil, err
			}
			children = append(children, tests...)
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

func decodeFieldTests(field string, raw json.RawMessage) ([]Predicate, error) {
	// Operator object: {"gte": 10, "lt": 100}.
	var opMap map[string]json.RawMessage
	if err := json.Unmarshal(raw, &opMap); err == nil {
		if len(opMap) == 0 {
			return nil, qerr.NewValidation("where", "filter for %s must not be empty", field)
		}
		ops := make([]string, 0, len(opMap))
		for op := range opMap {
			ops = append(ops, op)
		}
		sort.Strings(ops)
		out := make([]Predicate, 0, len(ops))
		for _, op := range ops {
			var value any
			if err := json.Unmarshal(opMap[op], &value); err != nil {
				return nil, qerr.NewValidation("where", "invalid value for %s.%s", field, op)
			}
			out = append(out, FieldTest{Field: field, Op: Operator(op), Value: value})
		}
		return out, nil
	}

	// Bare value: scalar means equality, array means set membership.
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, qerr.NewValidation("where", "invalid filter value for %s", field)
	}
	if _, isArray := value.([]any); isArray {
		return []Predicate{FieldTest{Field: field, Op: OpIn, Value: value}}, nil
	}
	return []Predicate{FieldTest{Field: field, Op: OpEq, Value: value}}, nil
}

// Depth returns the maximum nesting depth of the tree. A single field test
// has depth 1.
func Depth(p Predicate) int {
	switch node := p.(type) {
	case nil:
		return 0
	case FieldTest:
		return 1
	case And:
		return 1 + maxChildDepth(node.Children)
	case Or:
		return 1 + maxChildDepth(node.Children)
	default:
		return 1
	}
}

func maxChildDepth(children []Predicate) int {
	max := 0
	for _, c := range children {
		if d := Depth(c); d > max {
			max = d
		}
	}
	return max
}

// ConditionCount returns the number of field-test leaves in the tree.
func ConditionCount(p Predicate) int {
	count := 0
	WalkFields(p, func(FieldTest) { count++ })
	return count
}

// ContainsOr reports whether any OR combinator appears in the tree.
func ContainsOr(p Predicate) bool {
	switch node := p.(type) {
	case Or:
		return true
	case And:
		for _, c := range node.Children {
			if ContainsOr(c) {
				return true
			}
		}
	}
	return false
}

// WalkFields visits every field-test leaf in the tree, depth-first.
func WalkFields(p Predicate, visit func(FieldTest)) {
	switch node := p.(type) {
	case FieldTest:
		visit(node)
	case And:
		for _, c := range node.Children {
			WalkFields(c, visit)
		}
	case Or:
		for _, c := range node.Children {
			WalkFields(c, visit)
		}
	}
}
