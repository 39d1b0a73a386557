package confgen

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shubhsaxena/intent-search/internal/configstore"
	"github.com/shubhsaxena/intent-search/internal/llm"
	"github.com/shubhsaxena/intent-search/internal/models"
	"github.com/shubhsaxena/intent-search/internal/observability"
)

// GenerateUsageScenarios maps every product to the problems it solves,
// batching LLM calls so one bad response only costs its own batch. The
// returned map has exactly one entry per input product; products whose
// batch failed get a generic fallback pair instead of being dropped.
// It always regenerates: callers own the check against the cached scenario
// document (GenerateConfig and ensureDownstreamArtifacts both do).
func (g *LLMConfigGenerator) GenerateUsageScenarios(ctx context.Context, products []models.Product) models.ScenarioMap {
	businessType, _ := g.BusinessContext(ctx)

	batchSize := g.cfg.ScenarioBatchSize
	if batchSize <= 0 {
		batchSize = 5
	}

	scenarios := make(models.ScenarioMap, len(products))
	for start := 0; start < len(products); start += batchSize {
		end := start + batchSize
		if end > len(products) {
			end = len(products)
		}
		batch := products[start:end]

		if err := ctx.Err(); err != nil {
			g.applyFallbackScenarios(scenarios, batch, businessType)
			continue
		}

		parsed, err := g.scenariosForBatch(ctx, batch, businessType)
		if err != nil {
			g.logger.Warn("scenario batch failed, using fallback",
				zap.Int("batch_start", start),
				zap.Int("batch_size", len(batch)),
				zap.Error(fmt.Errorf("%w: %w", ErrGenerationFailure, err)),
			)
			observability.ScenarioBatchesTotal.WithLabelValues("fallback").Inc()
			g.applyFallbackScenarios(scenarios, batch, businessType)
			continue
		}

		observability.ScenarioBatchesTotal.WithLabelValues("generated").Inc()
		for _, p := range batch {
			// Only IDs from this batch are accepted; the model sometimes
			// invents entries, and those must not leak into the map.
			list := normalizeScenarios(parsed[p.ID])
			if len(list) == 0 {
				list = fallbackScenarios(businessType)
			}
			scenarios[p.ID] = list
		}
	}

	return scenarios
}

func (g *LLMConfigGenerator) scenariosForBatch(ctx context.Context, batch []models.Product, businessType string) (map[string][]string, error) {
	type productBrief struct {
		ID          string   `json:"id"`
		Title       string   `json:"title"`
		Description string   `json:"description"`
		Tags        []string `json:"tags"`
	}
	briefs := make([]productBrief, 0, len(batch))
	for _, p := range batch {
		briefs = append(briefs, productBrief{
			ID:          p.ID,
			Title:       p.Title,
			Description: truncate(p.Description, 200),
			Tags:        p.Tags,
		})
	}
	data, err := json.Marshal(briefs)
	if err != nil {
		return nil, err
	}

	resp, err := g.textGen.Generate(ctx, fmt.Sprintf(usageScenariosPrompt, businessType, string(data)))
	if err != nil {
		return nil, err
	}

	var parsed map[string][]string
	if err := json.Unmarshal([]byte(llm.ExtractJSON(resp)), &parsed); err != nil {
		return nil, fmt.Errorf("parsing scenario response: %w", err)
	}
	return parsed, nil
}

func (g *LLMConfigGenerator) applyFallbackScenarios(scenarios models.ScenarioMap, batch []models.Product, businessType string) {
	for _, p := range batch {
		scenarios[p.ID] = fallbackScenarios(businessType)
	}
}

// fallbackScenarios gives a product a minimal scenario pair so it stays
// reachable through intent search even when generation failed.
func fallbackScenarios(businessType string) []string {
	return []string{"general_" + businessType, "business_operations"}
}

func normalizeScenarios(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (g *LLMConfigGenerator) persistScenarios(ctx context.Context, scenarios models.ScenarioMap) {
	doc := models.ScenarioDocument{
		Scenarios:    scenarios,
		GeneratedAt:  time.Now().UTC(),
		ProductCount: len(scenarios),
	}
	if err := g.store.Put(ctx, configstore.KeyUsageScenarios, &doc); err != nil {
		g.logger.Warn("persisting usage scenarios failed",
			zap.Error(fmt.Errorf("%w: %w", ErrPersistenceFailure, err)),
		)
		return
	}
	observability.ConfigGenerationsTotal.WithLabelValues("usage_scenarios", "generated").Inc()
	g.logger.Info("generated usage scenarios", zap.Int("products", len(scenarios)))
}

// Scenarios returns the cached scenario map, or nil when none exists.
func (g *LLMConfigGenerator) Scenarios(ctx context.Context) models.ScenarioMap {
	var doc models.ScenarioDocument
	found, err := g.store.Get(ctx, configstore.KeyUsageScenarios, &doc)
	if err != nil || !found {
		return nil
	}
	return doc.Scenarios
}
