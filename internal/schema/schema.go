// Package schema defines the entity registry backing the query layer: the
// allow-listed sources, their queryable fields, sensitive fields, and
// relations. Anything not registered here is rejected by the security
// validator before it reaches the store.
package schema

import (
	"fmt"
	"strings"

	"github.com/jinzhu/inflection"
)

// Cardinality describes how many related rows a relation yields per parent.
type Cardinality string

const (
	// One resolves to a single related record or nil.
	One Cardinality = "one"
	// Many resolves to an ordered collection of related records.
	Many Cardinality = "many"
)

// Field is a queryable attribute of a source.
type Field struct {
	Name      string `mapstructure:"name"`
	Column    string `mapstructure:"column"`
	Sensitive bool   `mapstructure:"sensitive"`
}

// Relation is an expandable link to another source. Exactly one key mapping
// applies depending on shape:
//   - LocalColumn: FK on the owning row pointing at the target PK (one).
//   - RemoteColumn: FK on the target rows pointing back at the owner (many).
//   - JunctionTable + both junction columns: many-to-many through a join table.
type Relation struct {
	Name        string      `mapstructure:"name"`
	Target      string      `mapstructure:"target"`
	Cardinality Cardinality `mapstructure:"cardinality"`

	LocalColumn  string `mapstructure:"local_column"`
	RemoteColumn string `mapstructure:"remote_column"`

	JunctionTable        string `mapstructure:"junction_table"`
	JunctionLocalColumn  string `mapstructure:"junction_local_column"`
	JunctionRemoteColumn string `mapstructure:"junction_remote_column"`
}

// IsJunction reports whether the relation resolves through a join table.
func (r Relation) IsJunction() bool {
	return r.JunctionTable != ""
}

// Source is an allow-listed entity type.
type Source struct {
	Name         string     `mapstructure:"name"`
	Table        string     `mapstructure:"table"`
	IDColumn     string     `mapstructure:"id_column"`
	TenantColumn string     `mapstructure:"tenant_column"`
	StatusColumn string     `mapstructure:"status_column"`
	Fields       []Field    `mapstructure:"fields"`
	Relations    []Relation `mapstructure:"relations"`

	fieldsByName    map[string]*Field
	relationsByName map[string]*Relation
}

// Field looks up a queryable field by name.
func (s *Source) Field(name string) (*Field, bool) {
	f, ok := s.fieldsByName[name]
	return f, ok
}

// Relation looks up an expandable relation by name.
func (s *Source) Relation(name string) (*Relation, bool) {
	r, ok := s.relationsByName[name]
	return r, ok
}

// IsSensitive reports whether name is a registered sensitive field. Names
// that are not registered at all are not sensitive — they are simply not
// allow-listed.
func (s *Source) IsSensitive(name string) bool {
	f, ok := s.fieldsByName[name]
	return ok && f.Sensitive
}

// SensitiveFields returns the names of all sensitive fields on the source.
func (s *Source) SensitiveFields() []string {
	var out []string
	for _, f := range s.Fields {
		if f.Sensitive {
			out = append(out, f.Name)
		}
	}
	return out
}

// Registry holds every allow-listed source keyed by name.
type Registry struct {
	sources map[string]*Source
}

// NewRegistry validates and indexes the given sources. Table names default
// to the pluralized source name; ID columns default to "id".
func NewRegistry(sources ...Source) (*Registry, error) {
	reg := &Registry{sources: make(map[string]*Source, len(sources))}
	for i := range sources {
		src := sources[i]
		if strings.TrimSpace(src.Name) == "" {
			return nil, fmt.Errorf("source %d has no name", i)
		}
		if _, dup := reg.sources[src.Name]; dup {
			return nil, fmt.Errorf("duplicate source %q", src.Name)
		}
		if src.Table == "" {
			src.Table = inflection.Plural(src.Name)
		}
		if src.IDColumn == "" {
			src.IDColumn = "id"
		}
		src.fieldsByName = make(map[string]*Field, len(src.Fields))
		for j := range src.Fields {
			f := &src.Fields[j]
			if f.Name == "" {
				return nil, fmt.Errorf("source %q: field %d has no name", src.Name, j)
			}
			if f.Column == "" {
				f.Column = f.Name
			}
			if _, dup := src.fieldsByName[f.Name]; dup {
				return nil, fmt.Errorf("source %q: duplicate field %q", src.Name, f.Name)
			}
			src.fieldsByName[f.Name] = f
		}
		src.relationsByName = make(map[string]*Relation, len(src.Relations))
		for j := range src.Relations {
			r := &src.Relations[j]
			if r.Name == "" {
				return nil, fmt.Errorf("source %q: relation %d has no name", src.Name, j)
			}
			if r.Cardinality != One && r.Cardinality != Many {
				return nil, fmt.Errorf("source %q: relation %q has cardinality %q, want one or many", src.Name, r.Name, r.Cardinality)
			}
			if _, dup := src.relationsByName[r.Name]; dup {
				return nil, fmt.Errorf("source %q: duplicate relation %q", src.Name, r.Name)
			}
			src.relationsByName[r.Name] = r
		}
		reg.sources[src.Name] = &src
	}

	// Relation targets must themselves be registered sources.
	for _, src := range reg.sources {
		for _, r := range src.Relations {
			if _, ok := reg.sources[r.Target]; !ok {
				return nil, fmt.Errorf("source %q: relation %q targets unknown source %q", src.Name, r.Name, r.Target)
			}
		}
	}
	return reg, nil
}

// Source looks up a registered source by name.
func (reg *Registry) Source(name string) (*Source, bool) {
	s, ok := reg.sources[name]
	return s, ok
}

// Names returns every registered source name.
func (reg *Registry) Names() []string {
	out := make([]string, 0, len(reg.sources))
	for name := range reg.sources {
		out = append(out, name)
	}
	return out
}

// RestrictedStatuses are content states that only an authenticated actor may
// filter for. An anonymous request selecting one of these is rejected.
var RestrictedStatuses = map[string]struct{}{
	"draft":   {},
	"pending": {},
	"private": {},
	"trash":   {},
}

// IsRestrictedStatus reports whether the given status value requires a
// non-anonymous actor.
func IsRestrictedStatus(value any) bool {
	s, ok := value.(string)
	if !ok {
		return false
	}
	_, restricted := RestrictedStatuses[strings.ToLower(s)]
	return restricted
}
