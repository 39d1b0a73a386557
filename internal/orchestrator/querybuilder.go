package orchestrator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shubhsaxena/intent-search/internal/elasticsearch"
	"github.com/shubhsaxena/intent-search/internal/models"
)

// QueryBuilder renders search requests into Elasticsearch query DSL. All
// weighting and fuzziness comes from the generated business config, never
// from hardcoded field lists.
type QueryBuilder struct{}

func NewQueryBuilder() *QueryBuilder {
	return &QueryBuilder{}
}

// BuildKeywordQuery builds the weighted keyword query. Fields flagged fuzzy
// in the config get the configured edit distance; the rest match exactly.
// A blank query browses the whole catalog with filters still applied. Only
// product records participate, and ties on score break on inventory so
// in-stock depth floats up.
func (qb *QueryBuilder) BuildKeywordQuery(cfg *models.BusinessSearchConfig, req *models.SearchRequest, size int) map[string]any {
	var boolQuery map[string]any
	if strings.TrimSpace(req.Query) == "" {
		boolQuery = map[string]any{
			"must":   []map[string]any{{"match_all": map[string]any{}}},
			"filter": qb.keywordFilters(req.Filters),
		}
		return qb.keywordBody(boolQuery, size)
	}

	fuzzyFields, exactFields := partitionFields(cfg.SearchableFields)

	var should []map[string]any
	if len(fuzzyFields) > 0 {
		should = append(should, map[string]any{
			"multi_match": map[string]any{
				"query":                req.Query,
				"fields":               fuzzyFields,
				"fuzziness":            cfg.SearchSettings.FuzzyDistance,
				"minimum_should_match": cfg.SearchSettings.MinimumShouldMatch,
			},
		})
	}
	if len(exactFields) > 0 {
		should = append(should, map[string]any{
			"multi_match": map[string]any{
				"query":                req.Query,
				"fields":               exactFields,
				"minimum_should_match": cfg.SearchSettings.MinimumShouldMatch,
			},
		})
	}
	if cfg.SearchSettings.BoostExactMatches {
		allFields := append(append([]string{}, fuzzyFields...), exactFields...)
		should = append(should, map[string]any{
			"multi_match": map[string]any{
				"query":  req.Query,
				"type":   "phrase",
				"fields": allFields,
				"boost":  2.0,
			},
		})
	}

	boolQuery = map[string]any{
		"should":               should,
		"minimum_should_match": 1,
		"filter":               qb.keywordFilters(req.Filters),
	}
	return qb.keywordBody(boolQuery, size)
}

func (qb *QueryBuilder) keywordBody(boolQuery map[string]any, size int) map[string]any {
	return map[string]any{
		"query": map[string]any{"bool": boolQuery},
		"size":  size,
		"sort": []map[string]any{
			{"_score": map[string]any{"order": "desc"}},
			{"inventory_quantity": map[string]any{"order": "desc"}},
		},
	}
}

func (qb *QueryBuilder) keywordFilters(filters *models.SearchFilters) []map[string]any {
	result := []map[string]any{
		{"term": map[string]any{"type": elasticsearch.TypeProduct}},
	}
	if filters == nil {
		return result
	}

	if filters.Category != "" {
		result = append(result, map[string]any{
			"term": map[string]any{"categories": filters.Category},
		})
	}
	if filters.PriceMin != nil || filters.PriceMax != nil {
		priceRange := map[string]any{}
		if filters.PriceMin != nil {
			priceRange["gte"] = *filters.PriceMin
		}
		if filters.PriceMax != nil {
			priceRange["lte"] = *filters.PriceMax
		}
		result = append(result, map[string]any{
			"range": map[string]any{"price": priceRange},
		})
	}
	if filters.InStockOnly {
		result = append(result, map[string]any{
			"range": map[string]any{"inventory_quantity": map[string]any{"gt": 0}},
		})
	}
	return result
}

// BuildVectorQuery scores scenario records by cosine similarity to the
// problem embedding. The +1.0 keeps the script score non-negative as
// Elasticsearch requires; callers normalize back to [0, 1] by halving.
func (qb *QueryBuilder) BuildVectorQuery(embedding []float32, size int) map[string]any {
	return map[string]any{
		"query": map[string]any{
			"script_score": map[string]any{
				"query": map[string]any{
					"bool": map[string]any{
						"filter": []map[string]any{
							{"term": map[string]any{"type": elasticsearch.TypeScenario}},
						},
					},
				},
				"script": map[string]any{
					"source": "cosineSimilarity(params.query_vector, 'scenario_embedding') + 1.0",
					"params": map[string]any{"query_vector": embedding},
				},
			},
		},
		"size": size,
	}
}

// BuildScenarioLexicalQuery is the degraded intent path: plain text match
// against the scenario labels when embeddings are unavailable.
func (qb *QueryBuilder) BuildScenarioLexicalQuery(problem string, size int) map[string]any {
	return map[string]any{
		"query": map[string]any{
			"bool": map[string]any{
				"must": []map[string]any{
					{"match": map[string]any{
						"scenario_text": strings.ReplaceAll(problem, "_", " "),
					}},
				},
				"filter": []map[string]any{
					{"term": map[string]any{"type": elasticsearch.TypeScenario}},
				},
			},
		},
		"size": size,
	}
}

// partitionFields splits configured fields into fuzzy and exact boost
// expressions, sorted by name so queries are deterministic.
func partitionFields(fields map[string]models.SearchableField) (fuzzy, exact []string) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		f := fields[name]
		expr := fmt.Sprintf("%s^%g", name, f.Weight)
		if f.Fuzzy {
			fuzzy = append(fuzzy, expr)
		} else {
			exact = append(exact, expr)
		}
	}
	return fuzzy, exact
}
