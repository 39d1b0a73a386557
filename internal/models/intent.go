package models

const (
	UrgencyLow    = "low"
	UrgencyMedium = "medium"
	UrgencyHigh   = "high"
)

// IntentResult is the structured interpretation of a free-form query.
// Created fresh per query, never persisted.
type IntentResult struct {
	PrimaryProblem string   `json:"primary_problem"`
	Context        []string `json:"context"`
	Symptoms       []string `json:"symptoms"`
	Urgency        string   `json:"urgency"`
}

// ProblemVariation is a confidence-weighted alternative phrasing of an
// intent's primary problem. Ordering is not guaranteed sorted.
type ProblemVariation struct {
	Problem    string  `json:"problem"`
	Confidence float64 `json:"confidence"`
	Category   string  `json:"category"`
}

// ProductMatch is a ranked intent-search result. A result set contains at
// most one match per product ID.
type ProductMatch struct {
	ProductID    string   `json:"product_id"`
	ProductTitle string   `json:"product_title"`
	Confidence   float64  `json:"confidence"`
	Reasons      []string `json:"reasons"`
	Price        float64  `json:"price"`
}

type ResponseMetadata struct {
	RequestID string `json:"request_id,omitempty"`
	Source    string `json:"source"`
	CacheHit  bool   `json:"cache_hit"`
	Stale     bool   `json:"stale"`
	TimedOut  bool   `json:"timed_out,omitempty"`
}

// KeywordSearchResponse is the answer to the literal keyword path.
type KeywordSearchResponse struct {
	Products []Product        `json:"products"`
	Total    int64            `json:"total"`
	TookMs   int64            `json:"took_ms"`
	Metadata ResponseMetadata `json:"metadata"`
}

// IntentSearchResponse is the answer to the intent path.
type IntentSearchResponse struct {
	Matches  []ProductMatch   `json:"matches"`
	Intent   *IntentResult    `json:"intent,omitempty"`
	TookMs   int64            `json:"took_ms"`
	Metadata ResponseMetadata `json:"metadata"`
}

// SearchRequest is the caller-facing request shared by both paths.
type SearchRequest struct {
	Query      string         `json:"query"`
	Filters    *SearchFilters `json:"filters,omitempty"`
	Size       int            `json:"size,omitempty"`
	ForceFresh bool           `json:"force_fresh,omitempty"`
	RequestID  string         `json:"request_id,omitempty"`
}
