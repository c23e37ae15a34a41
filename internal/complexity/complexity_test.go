package complexity

import (
	"testing"

	"content-query/internal/query"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScore(t *testing.T) {
	tests := []struct {
		name string
		req  *query.Request
		want int
	}{
		{
			name: "bare request",
			req:  &query.Request{Source: "post"},
			want: WeightBase,
		},
		{
			name: "expand adds per relation",
			req:  &query.Request{Source: "post", Expand: []string{"author", "comments"}},
			want: WeightBase + 2*WeightPerExpand,
		},
		{
			name: "conditions and depth",
			req: &query.Request{
				Source: "post",
				Where: query.And{Children: []query.Predicate{
					query.FieldTest{Field: "a", Op: query.OpEq, Value: 1},
					query.FieldTest{Field: "b", Op: query.OpEq, Value: 2},
				}},
			},
			want: WeightBase + WeightPerDepth + 2*WeightPerCondition,
		},
		{
			name: "sort and aggregates",
			req: &query.Request{
				Source:    "post",
				Sort:      []query.SortField{{Field: "views"}},
				Aggregate: &query.Aggregate{Count: true, Sum: []string{"views"}, Avg: []string{"rating"}},
			},
			want: WeightBase + WeightPerSort + WeightCount + WeightPerSumField + WeightPerAvgField,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Score(tt.req))
		})
	}
}

func TestScore_CapsAtMax(t *testing.T) {
	req := &query.Request{
		Source: "post",
		Expand: []string{"a", "b", "c", "d", "e", "f"},
	}
	assert.Equal(t, MaxScore, Score(req))
	assert.Greater(t, RawScore(req), MaxScore, "raw score must not be capped")
}

func TestAnalyze_Warnings(t *testing.T) {
	a := NewAnalyzer()

	report := a.Analyze(&query.Request{Source: "post"})
	assert.Empty(t, report.Warnings)
	assert.NotZero(t, report.EstimatedTimeMs)

	report = a.Analyze(&query.Request{
		Source: "post",
		Expand: []string{"a", "b", "c", "d", "e", "f"},
		Where: query.Or{Children: []query.Predicate{
			query.FieldTest{Field: "x", Op: query.OpEq, Value: 1},
			query.FieldTest{Field: "y", Op: query.OpEq, Value: 2},
		}},
		Page: query.Page{Limit: 150},
	})
	assert.Contains(t, report.Warnings, "Query complexity is very high; consider simplifying filters or expansions")
	assert.Contains(t, report.Warnings, "More than 5 expand relations increases response size and load time")
	assert.Contains(t, report.Warnings, "OR conditions prevent efficient index usage")
	assert.Contains(t, report.Warnings, "Page limit above 100 will be rejected by validation")
}

func TestAnalyze_Suggestions(t *testing.T) {
	a := NewAnalyzer()

	report := a.Analyze(&query.Request{
		Source: "post",
		Where:  query.FieldTest{Field: "views", Op: query.OpBetween, Value: []any{1, 10}},
		Sort:   []query.SortField{{Field: "views"}},
		Page:   query.Page{Limit: 50},
	})
	assert.Contains(t, report.Suggestions, "Enable caching to reuse results for repeated queries")
	assert.Contains(t, report.Suggestions, "Use cursor pagination for large pages to keep results stable")
	assert.Contains(t, report.Suggestions, "Ensure sort fields are indexed")
	assert.Contains(t, report.Suggestions, "Range operators benefit from indexed columns")

	report = a.Analyze(&query.Request{
		Source: "post",
		Where:  query.FieldTest{Field: "title", Op: query.OpContains, Value: "go"},
		Cache:  &query.CacheOverride{TTLSeconds: 60},
	})
	assert.Contains(t, report.Suggestions, "Text-search operators can be slow; consider a dedicated search index")
	assert.NotContains(t, report.Suggestions, "Enable caching to reuse results for repeated queries")
}

func TestOptimize(t *testing.T) {
	a := NewAnalyzer()

	t.Run("orders expand shallow first", func(t *testing.T) {
		req := &query.Request{
			Source: "post",
			Expand: []string{"comments.author", "author", "tags"},
		}
		out := a.Optimize(req)
		assert.Equal(t, []string{"author", "tags", "comments.author"}, out.Expand)
		// The input is never mutated.
		assert.Equal(t, []string{"comments.author", "author", "tags"}, req.Expand)
	})

	t.Run("clamps page limit", func(t *testing.T) {
		out := a.Optimize(&query.Request{Source: "post"})
		assert.Equal(t, 10, out.Page.Limit)

		out = a.Optimize(&query.Request{Source: "post", Page: query.Page{Limit: 500}})
		assert.Equal(t, 100, out.Page.Limit)

		out = a.Optimize(&query.Request{Source: "post", Page: query.Page{Limit: 25}})
		assert.Equal(t, 25, out.Page.Limit)
	})

	t.Run("injects cache for moderate complexity", func(t *testing.T) {
		req := &query.Request{
			Source: "post",
			Expand: []string{"author", "comments", "tags"},
		}
		require.GreaterOrEqual(t, Score(req), 60)
		out := a.Optimize(req)
		require.NotNil(t, out.Cache)
		assert.Equal(t, 300, out.Cache.TTLSeconds)

		simple := a.Optimize(&query.Request{Source: "post"})
		assert.Nil(t, simple.Cache)
	})
}
