package models

import "time"

// Product is the catalog's view of a sellable item. The search core treats
// it as read-only; the catalog source owns the data.
type Product struct {
	ID                string    `json:"id"`
	Title             string    `json:"title"`
	Description       string    `json:"description,omitempty"`
	Tags              []string  `json:"tags,omitempty"`
	Categories        []string  `json:"categories,omitempty"`
	Price             float64   `json:"price"`
	InventoryQuantity int       `json:"inventory_quantity"`
	Availability      bool      `json:"availability"`
	UsageScenarios    []string  `json:"usage_scenarios,omitempty"`
	CreatedAt         time.Time `json:"created_at,omitempty"`
	UpdatedAt         time.Time `json:"updated_at,omitempty"`
}

// SearchFilters are additive constraints applied on top of a query.
// All populated filters must hold (AND semantics).
type SearchFilters struct {
	Category    string   `json:"category,omitempty"`
	PriceMin    *float64 `json:"price_min,omitempty"`
	PriceMax    *float64 `json:"price_max,omitempty"`
	InStockOnly bool     `json:"in_stock_only,omitempty"`
}

// ChangeEvent describes a catalog mutation flowing through the indexing
// pipeline. Type is one of CREATE, UPDATE, DELETE.
type ChangeEvent struct {
	Type      string    `json:"type"`
	ProductID string    `json:"product_id"`
	Product   *Product  `json:"product,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Version   int64     `json:"version"`
}

type IndexAction struct {
	Action    string         `json:"action"` // index, delete
	Index     string         `json:"index"`
	ID        string         `json:"id"`
	Body      map[string]any `json:"body,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

type AnalyticsEvent struct {
	EventType   string         `json:"event_type"`
	QueryHash   string         `json:"query_hash"`
	QueryType   string         `json:"query_type"`
	DurationMs  float64        `json:"duration_ms"`
	TotalHits   int64          `json:"total_hits"`
	TimedOut    bool           `json:"timed_out"`
	Timestamp   time.Time      `json:"timestamp"`
	TraceID     string         `json:"trace_id"`
	Source      string         `json:"source"`
	ExtraFields map[string]any `json:"extra_fields,omitempty"`
}
