package confgen

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shubhsaxena/intent-search/internal/configstore"
	"github.com/shubhsaxena/intent-search/internal/models"
	"github.com/shubhsaxena/intent-search/internal/observability"
)

// BuildReverseDictionary inverts a scenario map into problem -> product IDs.
// Keys are trimmed; blank scenarios are dropped. A product listed twice
// under the same scenario appears twice in the value list, mirroring the
// input faithfully rather than deduplicating.
func BuildReverseDictionary(scenarios models.ScenarioMap) models.ReverseDictionary {
	dict := make(models.ReverseDictionary)
	for productID, list := range scenarios {
		for _, scenario := range list {
			scenario = strings.TrimSpace(scenario)
			if scenario == "" {
				continue
			}
			dict[scenario] = append(dict[scenario], productID)
		}
	}
	return dict
}

func (g *LLMConfigGenerator) persistReverseDictionary(ctx context.Context, dict models.ReverseDictionary) {
	products := make(map[string]struct{})
	for _, ids := range dict {
		for _, id := range ids {
			products[id] = struct{}{}
		}
	}

	doc := models.ReverseDictionaryDocument{
		ReverseDictionary: dict,
		GeneratedAt:       time.Now().UTC(),
		TotalProblems:     len(dict),
		TotalProducts:     len(products),
	}
	if err := g.store.Put(ctx, configstore.KeyReverseDictionary, &doc); err != nil {
		g.logger.Warn("persisting reverse dictionary failed",
			zap.Error(fmt.Errorf("%w: %w", ErrPersistenceFailure, err)),
		)
		return
	}
	observability.ConfigGenerationsTotal.WithLabelValues("reverse_dictionary", "generated").Inc()
	g.logger.Info("generated reverse dictionary",
		zap.Int("problems", doc.TotalProblems),
		zap.Int("products", doc.TotalProducts),
	)
}

// ReverseDictionary returns the cached inversion, or nil when none exists.
func (g *LLMConfigGenerator) ReverseDictionary(ctx context.Context) models.ReverseDictionary {
	var doc models.ReverseDictionaryDocument
	found, err := g.store.Get(ctx, configstore.KeyReverseDictionary, &doc)
	if err != nil || !found {
		return nil
	}
	return doc.ReverseDictionary
}
