package engine

// Result is the envelope returned for every executed query.
type Result struct {
	Data []map[string]any `json:"data"`
	Meta Meta             `json:"meta"`
}

// Meta carries the bookkeeping that rides alongside the rows.
type Meta struct {
	Total      int64              `json:"total"`
	Cursor     CursorInfo         `json:"cursor"`
	Aggregates map[string]float64 `json:"aggregates,omitempty"`
	Query      QueryInfo          `json:"query"`
}

// CursorInfo holds the opaque page cursors. A nil cursor means there is
// no further page in that direction.
type CursorInfo struct {
	Next *string `json:"next"`
	Prev *string `json:"prev"`
}

// QueryInfo describes how the query was served.
type QueryInfo struct {
	ExecutionTimeMs int64 `json:"executionTimeMs"`
	Cached          bool  `json:"cached"`
	Complexity      int   `json:"complexity"`
}
