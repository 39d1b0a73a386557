package models

import "time"

// SearchableField configures how one product field participates in
// keyword search.
type SearchableField struct {
	Weight float64 `json:"weight"`
	Fuzzy  bool    `json:"fuzzy"`
}

type SearchSettings struct {
	FuzzyDistance      int    `json:"fuzzy_distance"`
	MinimumShouldMatch string `json:"minimum_should_match"`
	BoostExactMatches  bool   `json:"boost_exact_matches"`
}

// BusinessSearchConfig is the generated, business-specific search schema.
// It is produced once per business and cached until explicit regeneration.
type BusinessSearchConfig struct {
	IndexName        string                     `json:"index_name"`
	BusinessType     string                     `json:"business_type"`
	SearchableFields map[string]SearchableField `json:"searchable_fields"`
	SynonymGroups    [][]string                 `json:"synonym_groups"`
	SearchSettings   SearchSettings             `json:"search_settings"`
	DomainKeywords   []string                   `json:"domain_keywords"`
	GeneratedAt      time.Time                  `json:"generated_at,omitempty"`
	SampleSize       int                        `json:"sample_size,omitempty"`
}

// ScenarioMap maps a product ID to the short problem keywords the product
// addresses. Every catalog product gets an entry, real or fallback.
type ScenarioMap map[string][]string

// ReverseDictionary maps a problem keyword to the product IDs whose
// scenario lists contain it. Derived purely from a ScenarioMap.
type ReverseDictionary map[string][]string

// ScenarioDocument wraps a ScenarioMap for persistence.
type ScenarioDocument struct {
	Scenarios    ScenarioMap `json:"scenarios"`
	GeneratedAt  time.Time   `json:"generated_at"`
	ProductCount int         `json:"product_count"`
}

// ReverseDictionaryDocument wraps a ReverseDictionary for persistence.
type ReverseDictionaryDocument struct {
	ReverseDictionary ReverseDictionary `json:"reverse_dictionary"`
	GeneratedAt       time.Time         `json:"generated_at"`
	TotalProblems     int               `json:"total_problems"`
	TotalProducts     int               `json:"total_products"`
}
