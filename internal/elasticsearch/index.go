package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shubhsaxena/intent-search/internal/models"
)

// Record type discriminators. Products, usage scenarios and config
// documents share one index.
const (
	TypeProduct  = "product"
	TypeScenario = "scenario"
	TypeConfig   = "config"
)

// EnsureIndex creates the business index if it does not exist. Synonym
// groups from the generated search config feed the custom analyzer so the
// backend expands synonyms at query time.
func (c *Client) EnsureIndex(ctx context.Context, synonymGroups [][]string) error {
	exists, err := c.indexExists(ctx)
	if err != nil {
		return err
	}
	if exists {
		c.logger.Debug("index already exists")
		return nil
	}

	synonyms := make([]string, 0, len(synonymGroups))
	for _, group := range synonymGroups {
		if len(group) > 1 {
			synonyms = append(synonyms, strings.Join(group, ","))
		}
	}

	analysis := map[string]any{
		"analyzer": map[string]any{
			"business_search_analyzer": map[string]any{
				"type":      "custom",
				"tokenizer": "standard",
				"filter":    []string{"lowercase"},
			},
		},
	}
	if len(synonyms) > 0 {
		analysis["filter"] = map[string]any{
			"business_synonym_filter": map[string]any{
				"type":     "synonym",
				"synonyms": synonyms,
			},
		}
		analysis["analyzer"] = map[string]any{
			"business_search_analyzer": map[string]any{
				"type":      "custom",
				"tokenizer": "standard",
				"filter":    []string{"lowercase", "business_synonym_filter"},
			},
		}
	}

	body := map[string]any{
		"settings": map[string]any{
			"number_of_shards":   c.cfg.NumShards,
			"number_of_replicas": c.cfg.NumReplicas,
			"analysis":           analysis,
		},
		"mappings": map[string]any{
			"properties": map[string]any{
				"type":               map[string]any{"type": "keyword"},
				"product_id":         map[string]any{"type": "keyword"},
				"title":              map[string]any{"type": "text", "analyzer": "business_search_analyzer"},
				"description":        map[string]any{"type": "text", "analyzer": "business_search_analyzer"},
				"tags":               map[string]any{"type": "text", "analyzer": "business_search_analyzer"},
				"categories":         map[string]any{"type": "text", "analyzer": "business_search_analyzer"},
				"price":              map[string]any{"type": "float"},
				"inventory_quantity": map[string]any{"type": "integer"},
				"availability":       map[string]any{"type": "boolean"},
				"created_at":         map[string]any{"type": "date"},
				"updated_at":         map[string]any{"type": "date"},

				"scenario_text":    map[string]any{"type": "text", "analyzer": "business_search_analyzer"},
				"scenario_keyword": map[string]any{"type": "keyword"},
				"scenario_embedding": map[string]any{
					"type": "dense_vector",
					"dims": c.cfg.EmbeddingDims,
				},

				"config_name": map[string]any{"type": "keyword"},
				"data":        map[string]any{"type": "object", "enabled": false},
			},
		},
	}

	return c.createIndex(ctx, body)
}

func (c *Client) indexExists(ctx context.Context) (bool, error) {
	res, err := c.es.Indices.Exists([]string{c.index}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("checking index existence: %w", err)
	}
	defer res.Body.Close()
	return res.StatusCode == 200, nil
}

func (c *Client) createIndex(ctx context.Context, body map[string]any) error {
	payload, err := jsonReader(body)
	if err != nil {
		return err
	}

	res, err := c.es.Indices.Create(
		c.index,
		c.es.Indices.Create.WithBody(payload),
		c.es.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("creating index %s: %w", c.index, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		return fmt.Errorf("create index %s status=%s body=%s", c.index, res.Status(), string(bodyBytes))
	}

	c.logger.Info("created elasticsearch index")
	return nil
}

// ProductDoc builds the indexable record for a product.
func ProductDoc(p models.Product) map[string]any {
	return map[string]any{
		"type":               TypeProduct,
		"product_id":         p.ID,
		"title":              p.Title,
		"description":        p.Description,
		"tags":               p.Tags,
		"categories":         p.Categories,
		"price":              p.Price,
		"inventory_quantity": p.InventoryQuantity,
		"availability":       p.Availability,
		"created_at":         p.CreatedAt,
		"updated_at":         p.UpdatedAt,
	}
}

// ScenarioDoc builds the indexable record for one usage scenario keyword of
// a product. Embedding may be nil when vector search is disabled.
func ScenarioDoc(productID, scenario string, embedding []float32) map[string]any {
	doc := map[string]any{
		"type":             TypeScenario,
		"product_id":       productID,
		"scenario_text":    ScenarioText(scenario),
		"scenario_keyword": scenario,
		"updated_at":       time.Now().UTC(),
	}
	if len(embedding) > 0 {
		doc["scenario_embedding"] = embedding
	}
	return doc
}

// ScenarioText renders a snake_case scenario label as the analyzable text
// that gets matched and embedded.
func ScenarioText(scenario string) string {
	return strings.ReplaceAll(scenario, "_", " ")
}

// ScenarioDocID gives scenario records a stable identity so re-syncs
// overwrite rather than accumulate.
func ScenarioDocID(productID, scenario string) string {
	return fmt.Sprintf("scenario_%s_%s", productID, scenario)
}

// ProductFromSource converts a product record back into the shared model.
func ProductFromSource(src map[string]any) models.Product {
	p := models.Product{}
	if v, ok := src["product_id"].(string); ok {
		p.ID = v
	}
	if v, ok := src["title"].(string); ok {
		p.Title = v
	}
	if v, ok := src["description"].(string); ok {
		p.Description = v
	}
	if v, ok := src["price"].(float64); ok {
		p.Price = v
	}
	if v, ok := src["inventory_quantity"].(float64); ok {
		p.InventoryQuantity = int(v)
	}
	if v, ok := src["availability"].(bool); ok {
		p.Availability = v
	}
	p.Tags = stringSlice(src["tags"])
	p.Categories = stringSlice(src["categories"])
	return p
}

func stringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func jsonReader(v map[string]any) (io.Reader, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling index body: %w", err)
	}
	return bytes.NewReader(data), nil
}
