// Package complexity scores query cost. The weight table here is shared with
// the security validator's hard ceiling; everything else in this package is
// advisory and never blocks a request.
package complexity

import (
	"sort"

	"content-query/internal/query"
)

// Cost weights. The validator enforces a ceiling over the same table, so a
// change here shifts both the advisory score and the hard limit.
const (
	WeightBase         = 10
	WeightPerExpand    = 20
	WeightPerDepth     = 10 // per nesting level beyond the first
	WeightPerCondition = 5
	WeightPerSort      = 5
	WeightCount        = 5
	WeightPerSumField  = 10
	WeightPerAvgField  = 10

	// MaxScore caps the reported score; the configured ceiling is enforced
	// separately by the validator.
	MaxScore = 100
)

// Time-estimate model, in milliseconds.
const (
	timeBase         = 50
	timePerExpand    = 100
	timePerDepth     = 50
	timePerCondition = 10
	timePerSort      = 20
	timePerAggregate = 30
)

// Warning and suggestion thresholds.
const (
	thresholdVeryHigh  = 90
	thresholdModerate  = 60
	maxExpandAdvisory  = 5
	maxExpandDepth     = 3
	maxConditions      = 20
	maxSortFields      = 3
	maxPageLimit       = 100
	cursorAdviceLimit  = 20
	aggregateAdvisory  = 2
	defaultLimit       = 10
	defaultCacheTTLSec = 300
)

// Report is the advisory output of Analyze.
type Report struct {
	Complexity      int      `json:"complexity"`
	EstimatedTimeMs int      `json:"estimatedTimeMs"`
	Warnings        []string `json:"warnings"`
	Suggestions     []string `json:"suggestions"`
}

// Analyzer computes advisory cost reports. It holds no mutable state and is
// safe for concurrent use.
type Analyzer struct{}

// NewAnalyzer returns an Analyzer.
func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// Score computes the complexity score for a request using the shared weight
// table, capped at MaxScore.
func Score(req *query.Request) int {
	score := WeightBase
	score += WeightPerExpand * len(req.Expand)
	if depth := query.Depth(req.Where); depth > 1 {
		score += WeightPerDepth * (depth - 1)
	}
	score += WeightPerCondition * query.ConditionCount(req.Where)
	score += WeightPerSort * len(req.Sort)
	if req.Aggregate != nil {
		if req.Aggregate.Count {
			score += WeightCount
		}
		score += WeightPerSumField * len(req.Aggregate.Sum)
		score += WeightPerAvgField * len(req.Aggregate.Avg)
	}
	if score > MaxScore {
		score = MaxScore
	}
	return score
}

// RawScore is Score without the cap; the validator compares it against the
// configured ceiling so that over-budget queries are distinguishable.
func RawScore(req *query.Request) int {
	score := WeightBase
	score += WeightPerExpand * len(req.Expand)
	if depth := query.Depth(req.Where); depth > 1 {
		score += WeightPerDepth * (depth - 1)
	}
	score += WeightPerCondition * query.ConditionCount(req.Where)
	score += WeightPerSort * len(req.Sort)
	if req.Aggregate != nil {
		if req.Aggregate.Count {
			score += WeightCount
		}
		score += WeightPerSumField * len(req.Aggregate.Sum)
		score += WeightPerAvgField * len(req.Aggregate.Avg)
	}
	return score
}

// Analyze reports the complexity score, a time estimate, and advisory
// warnings and suggestions. It never blocks or mutates the request.
func (a *Analyzer) Analyze(req *query.Request) Report {
	report := Report{
		Complexity:      Score(req),
		EstimatedTimeMs: estimateTime(req),
		Warnings:        []string{},
		Suggestions:     []string{},
	}

	switch {
	case report.Complexity >= thresholdVeryHigh:
		report.Warnings = append(report.Warnings, "Query complexity is very high; consider simplifying filters or expansions")
	case report.Complexity >= thresholdModerate:
		report.Warnings = append(report.Warnings, "Query complexity is moderate; monitor execution time")
	}

	if len(req.Expand) > maxExpandAdvisory {
		report.Warnings = append(report.Warnings, "More than 5 expand relations increases response size and load time")
	}
	if maxDepth := maxExpandPathDepth(req.Expand); maxDepth > maxExpandDepth {
		report.Warnings = append(report.Warnings, "Expand paths deeper than 3 levels multiply relation fetches")
	}
	if conditions := query.ConditionCount(req.Where); conditions > maxConditions {
		report.Warnings = append(report.Warnings, "More than 20 filter conditions slows query planning")
	}
	if query.ContainsOr(req.Where) {
		report.Warnings = append(report.Warnings, "OR conditions prevent efficient index usage")
	}
	if len(req.Sort) > maxSortFields {
		report.Warnings = append(report.Warnings, "More than 3 sort fields slows ordering")
	}
	if req.Page.Limit > maxPageLimit {
		report.Warnings = append(report.Warnings, "Page limit above 100 will be rejected by validation")
	}
	if report.Complexity >= thresholdModerate && req.Cache == nil {
		report.Warnings = append(report.Warnings, "Complex query without caching; repeated execution is expensive")
	}

	if req.Cache == nil {
		report.Suggestions = append(report.Suggestions, "Enable caching to reuse results for repeated queries")
	}
	if req.Page.Limit > cursorAdviceLimit && req.Page.Cursor == "" {
		report.Suggestions = append(report.Suggestions, "Use cursor pagination for large pages to keep results stable")
	}
	if len(req.Sort) > 0 {
		report.Suggestions = append(report.Suggestions, "Ensure sort fields are indexed")
	}
	if usesOperatorClass(req.Where, query.RangeOperators) {
		report.Suggestions = append(report.Suggestions, "Range operators benefit from indexed columns")
	}
	if usesOperatorClass(req.Where, query.TextSearchOperators) {
		report.Suggestions = append(report.Suggestions, "Text-search operators can be slow; consider a dedicated search index")
	}
	if req.Aggregate.Targets() > aggregateAdvisory {
		report.Suggestions = append(report.Suggestions, "More than 2 aggregate targets each run an extra query; trim unused ones")
	}

	return report
}

// Optimize returns an adjusted copy of the request: expand paths ordered
// shallow-before-deep (the relation set is never changed), the page limit
// clamped to [1,100] with a default of 10, and a default-TTL cache config
// injected when complexity is moderate or above and none was supplied.
func (a *Analyzer) Optimize(req *query.Request) *query.Request {
	out := *req

	if len(req.Expand) > 0 {
		expand := append([]string(nil), req.Expand...)
		sort.SliceStable(expand, func(i, j int) bool {
			di, dj := query.ExpandDepth(expand[i]), query.ExpandDepth(expand[j])
			if di != dj {
				return di < dj
			}
			return expand[i] < expand[j]
		})
		out.Expand = expand
	}

	switch {
	case req.Page.Limit <= 0:
		out.Page.Limit = defaultLimit
	case req.Page.Limit > maxPageLimit:
		out.Page.Limit = maxPageLimit
	}

	if out.Cache == nil && Score(req) >= thresholdModerate {
		out.Cache = &query.CacheOverride{TTLSeconds: defaultCacheTTLSec}
	}

	return &out
}

func estimateTime(req *query.Request) int {
	est := timeBase
	est += timePerExpand * len(req.Expand)
	if depth := query.Depth(req.Where); depth > 1 {
		est += timePerDepth * (depth - 1)
	}
	est += timePerCondition * query.ConditionCount(req.Where)
	est += timePerSort * len(req.Sort)
	est += timePerAggregate * req.Aggregate.Targets()

	limit := req.Page.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	return est * (100 + limit) / 100
}

func maxExpandPathDepth(expand []string) int {
	max := 0
	for _, path := range expand {
		if d := query.ExpandDepth(path); d > max {
			max = d
		}
	}
	return max
}

func usesOperatorClass(p query.Predicate, class map[query.Operator]struct{}) bool {
	found := false
	query.WalkFields(p, func(ft query.FieldTest) {
		if _, ok := class[ft.Op]; ok {
			found = true
		}
	})
	return found
}
