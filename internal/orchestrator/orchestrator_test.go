package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/shubhsaxena/intent-search/internal/config"
	"github.com/shubhsaxena/intent-search/internal/elasticsearch"
	"github.com/shubhsaxena/intent-search/internal/models"
)

type fakeBackend struct {
	mu       sync.Mutex
	searchFn func(queryType string, query map[string]any) (*elasticsearch.SearchResult, error)
	docs     map[string]map[string]any
	types    []string
}

func (b *fakeBackend) Search(_ context.Context, queryType string, query map[string]any) (*elasticsearch.SearchResult, error) {
	b.mu.Lock()
	b.types = append(b.types, queryType)
	b.mu.Unlock()
	return b.searchFn(queryType, query)
}

func (b *fakeBackend) GetDocument(_ context.Context, id string) (map[string]any, error) {
	src, ok := b.docs[id]
	if !ok {
		return nil, nil
	}
	return src, nil
}

func (b *fakeBackend) queryTypes() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.types...)
}

type fakeConfigs struct{}

func (fakeConfigs) GenerateConfig(context.Context, []models.Product) (*models.BusinessSearchConfig, error) {
	return baseConfig(), nil
}

func (fakeConfigs) BusinessContext(context.Context) (string, []string) {
	return "garden", []string{"garden", "plants"}
}

type fakeEmbedder struct {
	embeddings [][]float32
	err        error
}

func (e *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	if e.embeddings != nil {
		return e.embeddings, nil
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i)}
	}
	return out, nil
}

func testConfig() config.SearchConfig {
	return config.SearchConfig{
		BusinessID:          "biz1",
		MaxKeywordResults:   20,
		MaxIntentResults:    10,
		MaxMatchReasons:     3,
		VectorSearchEnabled: true,
		LexicalScoreDivisor: 10.0,
	}
}

// intentStub scripts the analyzer for two variations: the primary problem
// at full confidence and a weaker alternative.
func intentStub() *stubGen {
	return &stubGen{responses: map[string]string{
		"typed this search query":      `{"primary_problem": "plant_wilting", "urgency": "medium"}`,
		"related problem formulations": `[{"problem": "plant_wilting", "confidence": 1.0, "category": "plant_health"}, {"problem": "root_rot", "confidence": 0.5, "category": "disease"}]`,
	}}
}

// queryVectorOf digs the embedding back out of a vector query so the fake
// backend can tell variations apart.
func queryVectorOf(query map[string]any) float32 {
	script := query["query"].(map[string]any)["script_score"].(map[string]any)["script"].(map[string]any)
	vec := script["params"].(map[string]any)["query_vector"].([]float32)
	return vec[0]
}

func scenarioHit(productID, scenario string, score float64) elasticsearch.Hit {
	return elasticsearch.Hit{
		ID:    elasticsearch.ScenarioDocID(productID, scenario),
		Score: score,
		Source: map[string]any{
			"type":             "scenario",
			"product_id":       productID,
			"scenario_keyword": scenario,
		},
	}
}

func productDocs() map[string]map[string]any {
	return map[string]map[string]any{
		"p1": {"type": "product", "product_id": "p1", "title": "Root Revive Tonic", "price": 12.5},
		"p2": {"type": "product", "product_id": "p2", "title": "Self Watering Pot", "price": 24.0},
	}
}

func newTestOrchestrator(backend *fakeBackend, gen *stubGen, embedder *fakeEmbedder, cfg config.SearchConfig) *Orchestrator {
	logger := zap.NewNop()
	return New(backend, nil, fakeConfigs{}, NewIntentAnalyzer(gen, logger), embedder, nil, nil, cfg, logger)
}

func TestSearchByIntentAggregatesByMax(t *testing.T) {
	backend := &fakeBackend{
		docs: productDocs(),
		searchFn: func(queryType string, query map[string]any) (*elasticsearch.SearchResult, error) {
			if queryType != "intent_vector" {
				t.Errorf("unexpected query type %q", queryType)
			}
			// Variation 0 (plant_wilting, conf 1.0) and variation 1
			// (root_rot, conf 0.5) both hit p1.
			if queryVectorOf(query) == 0 {
				return &elasticsearch.SearchResult{Hits: []elasticsearch.Hit{
					scenarioHit("p1", "plant_wilting", 1.8),
					scenarioHit("p2", "overwatered_plant", 1.2),
				}}, nil
			}
			return &elasticsearch.SearchResult{Hits: []elasticsearch.Hit{
				scenarioHit("p1", "root_rot", 2.0),
			}}, nil
		},
	}

	o := newTestOrchestrator(backend, intentStub(), &fakeEmbedder{}, testConfig())

	resp, err := o.SearchByIntent(context.Background(), &models.SearchRequest{Query: "my plant is dying"})
	if err != nil {
		t.Fatalf("SearchByIntent: %v", err)
	}

	if resp.Metadata.Source != "vector" {
		t.Errorf("source = %q, want vector", resp.Metadata.Source)
	}
	if resp.Intent == nil || resp.Intent.PrimaryProblem != "plant_wilting" {
		t.Errorf("intent = %+v", resp.Intent)
	}
	if len(resp.Matches) != 2 {
		t.Fatalf("got %d matches, want 2", len(resp.Matches))
	}

	// p1's confidence is max(1.0*0.9, 0.5*1.0) = 0.9, not the sum.
	p1 := resp.Matches[0]
	if p1.ProductID != "p1" {
		t.Fatalf("top match = %q, want p1", p1.ProductID)
	}
	if p1.Confidence < 0.899 || p1.Confidence > 0.901 {
		t.Errorf("p1 confidence = %v, want 0.9 (max across variations)", p1.Confidence)
	}
	if len(p1.Reasons) != 2 {
		t.Errorf("p1 reasons = %v, want both scenarios", p1.Reasons)
	}
	for _, r := range p1.Reasons {
		if !strings.HasPrefix(r, "scenario_match:") {
			t.Errorf("reason %q lacks the scenario_match: prefix", r)
		}
	}
	if p1.ProductTitle != "Root Revive Tonic" || p1.Price != 12.5 {
		t.Errorf("p1 enrichment = %+v", p1)
	}

	p2 := resp.Matches[1]
	if p2.ProductID != "p2" {
		t.Fatalf("second match = %q, want p2", p2.ProductID)
	}
	if p2.Confidence < 0.599 || p2.Confidence > 0.601 {
		t.Errorf("p2 confidence = %v, want 0.6", p2.Confidence)
	}
}

func TestSearchByIntentReasonsCapped(t *testing.T) {
	backend := &fakeBackend{
		docs: productDocs(),
		searchFn: func(queryType string, query map[string]any) (*elasticsearch.SearchResult, error) {
			if queryVectorOf(query) != 0 {
				return &elasticsearch.SearchResult{}, nil
			}
			return &elasticsearch.SearchResult{Hits: []elasticsearch.Hit{
				scenarioHit("p1", "nutrient_deficiency", 1.6),
				scenarioHit("p1", "yellow_leaves", 1.5),
				scenarioHit("p1", "slow_growth", 1.4),
				scenarioHit("p1", "pale_foliage", 1.3),
				scenarioHit("p1", "nutrient_deficiency", 1.2),
			}}, nil
		},
	}

	o := newTestOrchestrator(backend, intentStub(), &fakeEmbedder{}, testConfig())

	resp, err := o.SearchByIntent(context.Background(), &models.SearchRequest{Query: "leaves going pale"})
	if err != nil {
		t.Fatalf("SearchByIntent: %v", err)
	}
	if len(resp.Matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(resp.Matches))
	}

	m := resp.Matches[0]
	if len(m.Reasons) != 3 {
		t.Errorf("reasons = %v, want capped at 3", m.Reasons)
	}
	seen := make(map[string]bool)
	for _, r := range m.Reasons {
		if seen[r] {
			t.Errorf("duplicate reason %q", r)
		}
		seen[r] = true
		if !strings.HasPrefix(r, "scenario_match:") {
			t.Errorf("reason %q lacks the scenario_match: prefix", r)
		}
	}
	// Highest hit wins the confidence: 1.0 * 1.6/2 = 0.8.
	if m.Confidence < 0.799 || m.Confidence > 0.801 {
		t.Errorf("confidence = %v, want 0.8", m.Confidence)
	}
}

func TestSearchByIntentDropsVanishedProducts(t *testing.T) {
	backend := &fakeBackend{
		docs: map[string]map[string]any{
			"p2": {"type": "product", "product_id": "p2", "title": "Self Watering Pot", "price": 24.0},
		},
		searchFn: func(queryType string, query map[string]any) (*elasticsearch.SearchResult, error) {
			if queryVectorOf(query) != 0 {
				return &elasticsearch.SearchResult{}, nil
			}
			return &elasticsearch.SearchResult{Hits: []elasticsearch.Hit{
				scenarioHit("p1", "plant_wilting", 2.0),
				scenarioHit("p2", "plant_wilting", 1.0),
			}}, nil
		},
	}

	o := newTestOrchestrator(backend, intentStub(), &fakeEmbedder{}, testConfig())

	resp, err := o.SearchByIntent(context.Background(), &models.SearchRequest{Query: "wilting"})
	if err != nil {
		t.Fatalf("SearchByIntent: %v", err)
	}
	// p1 scored higher but its product record is gone; p2 takes the slot.
	if len(resp.Matches) != 1 || resp.Matches[0].ProductID != "p2" {
		t.Errorf("matches = %+v, want only p2", resp.Matches)
	}
}

func TestSearchByIntentLexicalFallback(t *testing.T) {
	backend := &fakeBackend{
		docs: productDocs(),
		searchFn: func(queryType string, query map[string]any) (*elasticsearch.SearchResult, error) {
			if queryType != "intent_lexical" {
				return nil, errors.New("vector path should not be reached")
			}
			return &elasticsearch.SearchResult{Hits: []elasticsearch.Hit{
				scenarioHit("p1", "plant_wilting", 5.0),
				scenarioHit("p2", "plant_wilting", 50.0),
			}}, nil
		},
	}

	o := newTestOrchestrator(backend, intentStub(), &fakeEmbedder{err: errors.New("embedding quota exceeded")}, testConfig())

	resp, err := o.SearchByIntent(context.Background(), &models.SearchRequest{Query: "wilting"})
	if err != nil {
		t.Fatalf("SearchByIntent: %v", err)
	}
	if resp.Metadata.Source != "lexical" {
		t.Errorf("source = %q, want lexical", resp.Metadata.Source)
	}

	for _, qt := range backend.queryTypes() {
		if qt == "intent_vector" {
			t.Error("vector search ran despite embedding failure")
		}
	}

	byID := make(map[string]models.ProductMatch)
	for _, m := range resp.Matches {
		byID[m.ProductID] = m
	}
	// Score 5.0 scales to 0.5; score 50 clamps to 1.0.
	if c := byID["p1"].Confidence; c < 0.49 || c > 0.51 {
		t.Errorf("p1 confidence = %v, want 0.5", c)
	}
	if c := byID["p2"].Confidence; c != 1.0 {
		t.Errorf("p2 confidence = %v, want clamped 1.0", c)
	}
	if r := byID["p1"].Reasons; len(r) != 1 || r[0] != "scenario_match:plant_wilting" {
		t.Errorf("p1 reasons = %v, want [scenario_match:plant_wilting]", r)
	}
}

func TestSearchByIntentVectorDisabled(t *testing.T) {
	backend := &fakeBackend{
		docs: productDocs(),
		searchFn: func(queryType string, query map[string]any) (*elasticsearch.SearchResult, error) {
			if queryType != "intent_lexical" {
				return nil, errors.New("vector path should not be reached")
			}
			return &elasticsearch.SearchResult{Hits: []elasticsearch.Hit{
				scenarioHit("p1", "plant_wilting", 8.0),
			}}, nil
		},
	}

	cfg := testConfig()
	cfg.VectorSearchEnabled = false
	o := newTestOrchestrator(backend, intentStub(), &fakeEmbedder{}, cfg)

	resp, err := o.SearchByIntent(context.Background(), &models.SearchRequest{Query: "wilting"})
	if err != nil {
		t.Fatalf("SearchByIntent: %v", err)
	}
	if resp.Metadata.Source != "lexical" {
		t.Errorf("source = %q, want lexical", resp.Metadata.Source)
	}
}

func TestSearchByIntentConfidenceBounds(t *testing.T) {
	backend := &fakeBackend{
		docs: productDocs(),
		searchFn: func(queryType string, query map[string]any) (*elasticsearch.SearchResult, error) {
			return &elasticsearch.SearchResult{Hits: []elasticsearch.Hit{
				scenarioHit("p1", "plant_wilting", 2.0),
				scenarioHit("p2", "plant_wilting", 0.0),
			}}, nil
		},
	}

	o := newTestOrchestrator(backend, intentStub(), &fakeEmbedder{}, testConfig())

	resp, err := o.SearchByIntent(context.Background(), &models.SearchRequest{Query: "wilting"})
	if err != nil {
		t.Fatalf("SearchByIntent: %v", err)
	}
	for _, m := range resp.Matches {
		if m.Confidence < 0 || m.Confidence > 1 {
			t.Errorf("confidence %v for %s out of [0,1]", m.Confidence, m.ProductID)
		}
	}
}

func TestSearchByKeyword(t *testing.T) {
	backend := &fakeBackend{
		searchFn: func(queryType string, query map[string]any) (*elasticsearch.SearchResult, error) {
			if queryType != "keyword" {
				t.Errorf("query type = %q, want keyword", queryType)
			}
			return &elasticsearch.SearchResult{
				Total: 2,
				Hits: []elasticsearch.Hit{
					{ID: "p1", Score: 3.2, Source: map[string]any{"product_id": "p1", "title": "Plant Food", "price": 9.99, "inventory_quantity": 12.0}},
					{ID: "p2", Score: 1.1, Source: map[string]any{"product_id": "p2", "title": "Potting Soil", "price": 6.49, "inventory_quantity": 3.0}},
				},
			}, nil
		},
	}

	o := newTestOrchestrator(backend, intentStub(), &fakeEmbedder{}, testConfig())

	resp, err := o.SearchByKeyword(context.Background(), &models.SearchRequest{Query: "plant food"})
	if err != nil {
		t.Fatalf("SearchByKeyword: %v", err)
	}
	if resp.Total != 2 || len(resp.Products) != 2 {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.Products[0].Title != "Plant Food" || resp.Products[0].InventoryQuantity != 12 {
		t.Errorf("first product = %+v", resp.Products[0])
	}
	if resp.Metadata.Source != "elasticsearch" {
		t.Errorf("source = %q", resp.Metadata.Source)
	}
}

func TestSearchByKeywordBackendFailureReturnsEmpty(t *testing.T) {
	backend := &fakeBackend{
		searchFn: func(string, map[string]any) (*elasticsearch.SearchResult, error) {
			return nil, errors.New("all nodes down")
		},
	}

	o := newTestOrchestrator(backend, intentStub(), &fakeEmbedder{}, testConfig())

	resp, err := o.SearchByKeyword(context.Background(), &models.SearchRequest{Query: "plant food"})
	if err != nil {
		t.Fatalf("backend failure should degrade, got error: %v", err)
	}
	if len(resp.Products) != 0 || resp.Total != 0 {
		t.Errorf("resp = %+v, want empty", resp)
	}
	if resp.Metadata.Source != "degraded_empty" {
		t.Errorf("source = %q, want degraded_empty", resp.Metadata.Source)
	}
}
