// Package loader provides named, request-scoped batch loaders for relation
// expansion. All keys requested for one relation within a query's expansion
// phase coalesce into exactly one underlying fetch for that relation,
// eliminating N+1 patterns. Batching is an explicit two-pass
// collect-then-resolve; nothing relies on scheduler coalescing.
package loader

import (
	"context"
	"fmt"
	"sync"
)

// BatchFunc resolves a batch of keys in a single fetch. The returned map is
// keyed by input key; absent keys mean "no value" and are not an error.
type BatchFunc func(ctx context.Context, keys []string) (map[string]any, error)

// Registry maps relation names to their batch fetchers. A Registry is
// long-lived and shared; per-request memoization lives on Loader.
type Registry struct {
	mu       sync.RWMutex
	fetchers map[string]BatchFunc
}

// NewRegistry returns an empty fetcher registry.
func NewRegistry() *Registry {
	return &Registry{fetchers: make(map[string]BatchFunc)}
}

// Register installs the batch fetcher for a relation name, replacing any
// previous registration.
func (r *Registry) Register(relation string, fn BatchFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetchers[relation] = fn
}

// Relations returns the registered relation names.
func (r *Registry) Relations() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.fetchers))
	for name := range r.fetchers {
		out = append(out, name)
	}
	return out
}

func (r *Registry) fetcher(relation string) (BatchFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.fetchers[relation]
	return fn, ok
}

// Loader memoizes resolved keys for the duration of one query's expansion
// phase. Create one per query and discard it afterwards; the memo is never
// shared across requests.
type Loader struct {
	registry *Registry

	mu   sync.Mutex
	memo map[string]map[string]any // relation -> key -> resolved value (nil allowed)
}

// NewLoader creates a request-scoped loader over the registry.
func (r *Registry) NewLoader() *Loader {
	return &Loader{
		registry: r,
		memo:     make(map[string]map[string]any),
	}
}

// Load resolves a single key. Missing values resolve to nil; only an
// unknown relation name is an error.
func (l *Loader) Load(ctx context.Context, relation, key string) (any, error) {
	values, err := l.LoadMany(ctx, relation, []string{key})
	if err != nil {
		return nil, err
	}
	return values[0], nil
}

// LoadMany resolves keys in input order. Keys not yet memoized are coalesced
// into one fetch; missing entries resolve to nil, never an error.
func (l *Loader) LoadMany(ctx context.Context, relation string, keys []string) ([]any, error) {
	fn, ok := l.registry.fetcher(relation)
	if !ok {
		return nil, fmt.Errorf("unknown relation loader: %s", relation)
	}

	// Pass one: collect keys that still need fetching.
	l.mu.Lock()
	resolved := l.memo[relation]
	if resolved == nil {
		resolved = make(map[string]any)
		l.memo[relation] = resolved
	}
	var pending []string
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if _, done := resolved[key]; done {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		pending = append(pending, key)
	}
	l.mu.Unlock()

	// Pass two: one fetch for everything pending.
	if len(pending) > 0 {
		fetched, err := fn(ctx, pending)
		if err != nil {
			return nil, fmt.Errorf("batch fetch for relation %s: %w", relation, err)
		}
		l.mu.Lock()
		for _, key := range pending {
			resolved[key] = fetched[key]
		}
		l.mu.Unlock()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]any, len(keys))
	for i, key := range keys {
		out[i] = resolved[key]
	}
	return out, nil
}

// Prime seeds a resolved value so a later Load for the same key skips the
// fetch. Priming never overwrites an already-resolved key.
func (l *Loader) Prime(relation, key string, value any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	resolved := l.memo[relation]
	if resolved == nil {
		resolved = make(map[string]any)
		l.memo[relation] = resolved
	}
	if _, done := resolved[key]; !done {
		resolved[key] = value
	}
}

// ClearCache drops memoized entries for the named relations, or for every
// relation when none are given.
func (l *Loader) ClearCache(relations ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(relations) == 0 {
		l.memo = make(map[string]map[string]any)
		return
	}
	for _, relation := range relations {
		delete(l.memo, relation)
	}
}
