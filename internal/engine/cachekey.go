package engine

import (
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"content-query/internal/query"
)

// cacheKey derives a deterministic cache key for a request. Requests
// that differ only in the textual order of predicate keys or expand
// lists canonicalize to the same key, while anything that can change
// the visible result (actor, tenant) is folded in.
func cacheKey(req *query.Request, actorID, tenantID string) string {
	if req.Cache != nil && req.Cache.Key != "" {
		return req.Cache.Key
	}
	canonical, err := json.Marshal(req)
	if err != nil {
		// Marshal of our own wire types cannot fail in practice; fall
		// back to a key that still partitions by source.
		canonical = []byte(req.Source)
	}
	digest := xxhash.New()
	_, _ = digest.Write(canonical)
	_, _ = digest.WriteString("|a=" + actorID)
	_, _ = digest.WriteString("|t=" + tenantID)
	return fmt.Sprintf("%s:%016x", req.Source, digest.Sum64())
}

// cacheTags lists the invalidation tags a cached result belongs to:
// its root source, every source reached through expansion, and the
// tenant when the source is tenant-scoped.
func (e *Engine) cacheTags(req *query.Request, tenantID string) []string {
	sources := map[string]struct{}{req.Source: {}}
	if src, ok := e.registry.Source(req.Source); ok {
		for _, path := range req.Expand {
			current := src
			for _, segment := range query.ExpandSegments(path) {
				rel, ok := current.Relation(segment)
				if !ok {
					break
				}
				sources[rel.Target] = struct{}{}
				next, ok := e.registry.Source(rel.Target)
				if !ok {
					break
				}
				current = next
			}
		}
	}
	tags := make([]string, 0, len(sources)+1)
	for name := range sources {
		tags = append(tags, "src:"+name)
	}
	if tenantID != "" {
		tags = append(tags, "tenant:"+tenantID)
	}
	return tags
}
