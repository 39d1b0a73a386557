package indexing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shubhsaxena/intent-search/internal/cache"
	"github.com/shubhsaxena/intent-search/internal/catalog"
	"github.com/shubhsaxena/intent-search/internal/clickhouse"
	"github.com/shubhsaxena/intent-search/internal/config"
	"github.com/shubhsaxena/intent-search/internal/elasticsearch"
	"github.com/shubhsaxena/intent-search/internal/llm"
	"github.com/shubhsaxena/intent-search/internal/models"
	"github.com/shubhsaxena/intent-search/internal/observability"
)

// ArtifactSource exposes the generated artifacts the processor needs.
// *confgen.LLMConfigGenerator satisfies it.
type ArtifactSource interface {
	Scenarios(ctx context.Context) models.ScenarioMap
	LoadConfig(ctx context.Context) *models.BusinessSearchConfig
}

// Processor keeps the business index in sync with the catalog. Change
// events buffer into bulk requests; each product change also refreshes the
// product's scenario records so intent search stays current.
type Processor struct {
	es        *elasticsearch.Client
	ch        *clickhouse.Client
	cache     *cache.RedisCache
	source    catalog.Source
	embedder  llm.Embedder
	artifacts ArtifactSource
	esCfg     config.ElasticsearchConfig
	logger    *zap.Logger

	mu     sync.Mutex
	buffer []models.IndexAction
	ticker *time.Ticker
	done   chan struct{}
}

func NewProcessor(
	es *elasticsearch.Client,
	ch *clickhouse.Client,
	redisCache *cache.RedisCache,
	source catalog.Source,
	embedder llm.Embedder,
	artifacts ArtifactSource,
	esCfg config.ElasticsearchConfig,
	logger *zap.Logger,
) *Processor {
	p := &Processor{
		es:        es,
		ch:        ch,
		cache:     redisCache,
		source:    source,
		embedder:  embedder,
		artifacts: artifacts,
		esCfg:     esCfg,
		logger:    logger,
		buffer:    make([]models.IndexAction, 0, esCfg.BulkSize),
		ticker:    time.NewTicker(esCfg.BulkFlushInterval),
		done:      make(chan struct{}),
	}

	go p.flushLoop()

	return p
}

// HandleEvent is the kafka consumer callback. Errors returned here trigger
// the consumer's retry-then-DLQ handling.
func (p *Processor) HandleEvent(ctx context.Context, event *models.ChangeEvent) error {
	actions, err := p.transformEvent(ctx, event)
	if err != nil {
		return fmt.Errorf("transforming event for %s: %w", event.ProductID, err)
	}

	p.mu.Lock()
	p.buffer = append(p.buffer, actions...)
	shouldFlush := len(p.buffer) >= p.esCfg.BulkSize
	p.mu.Unlock()

	if shouldFlush {
		if err := p.flush(ctx); err != nil {
			p.logger.Error("flush on buffer full failed", zap.Error(err))
		}
	}

	// Changelog write is best-effort and must not block indexing.
	if p.ch != nil {
		go func() {
			chCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := p.ch.InsertChangeEvent(chCtx, event); err != nil {
				p.logger.Warn("clickhouse changelog insert failed",
					zap.String("product_id", event.ProductID),
					zap.Error(err),
				)
			}
		}()
	}

	if p.cache != nil {
		go func() {
			cacheCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := p.cache.InvalidateSearchResults(cacheCtx); err != nil {
				p.logger.Warn("cache invalidation failed",
					zap.String("product_id", event.ProductID),
					zap.Error(err),
				)
			}
		}()
	}

	return nil
}

func (p *Processor) transformEvent(ctx context.Context, event *models.ChangeEvent) ([]models.IndexAction, error) {
	switch event.Type {
	case "CREATE", "UPDATE":
		product := event.Product
		if product == nil {
			fetched, err := p.source.GetProductByID(ctx, event.ProductID)
			if err != nil {
				return nil, fmt.Errorf("fetching changed product: %w", err)
			}
			if fetched == nil {
				// Deleted between the event and now; treat as a delete.
				return p.deleteActions(ctx, event.ProductID), nil
			}
			product = fetched
		}
		return p.upsertActions(ctx, *product), nil

	case "DELETE":
		return p.deleteActions(ctx, event.ProductID), nil

	default:
		return nil, fmt.Errorf("unknown event type: %s", event.Type)
	}
}

// upsertActions builds the product record plus one scenario record per
// usage scenario. Scenario records carry embeddings when an embedder is
// wired; otherwise they still land for the lexical intent path.
func (p *Processor) upsertActions(ctx context.Context, product models.Product) []models.IndexAction {
	now := time.Now().UTC()
	actions := []models.IndexAction{{
		Action:    "index",
		ID:        product.ID,
		Body:      elasticsearch.ProductDoc(product),
		Timestamp: now,
	}}

	scenarios := p.scenariosFor(ctx, product)
	embeddings := p.embedScenarios(ctx, scenarios)
	for i, scenario := range scenarios {
		var embedding []float32
		if i < len(embeddings) {
			embedding = embeddings[i]
		}
		actions = append(actions, models.IndexAction{
			Action:    "index",
			ID:        elasticsearch.ScenarioDocID(product.ID, scenario),
			Body:      elasticsearch.ScenarioDoc(product.ID, scenario, embedding),
			Timestamp: now,
		})
	}
	return actions
}

func (p *Processor) deleteActions(ctx context.Context, productID string) []models.IndexAction {
	now := time.Now().UTC()
	actions := []models.IndexAction{{
		Action:    "delete",
		ID:        productID,
		Timestamp: now,
	}}

	// The scenario map tells us which scenario records exist for this
	// product; without it there is nothing to enumerate.
	if p.artifacts != nil {
		for _, scenario := range p.artifacts.Scenarios(ctx)[productID] {
			actions = append(actions, models.IndexAction{
				Action:    "delete",
				ID:        elasticsearch.ScenarioDocID(productID, scenario),
				Timestamp: now,
			})
		}
	}
	return actions
}

// scenariosFor prefers scenarios carried on the product itself and falls
// back to the generated scenario map.
func (p *Processor) scenariosFor(ctx context.Context, product models.Product) []string {
	if len(product.UsageScenarios) > 0 {
		return product.UsageScenarios
	}
	if p.artifacts == nil {
		return nil
	}
	return p.artifacts.Scenarios(ctx)[product.ID]
}

func (p *Processor) embedScenarios(ctx context.Context, scenarios []string) [][]float32 {
	if p.embedder == nil || len(scenarios) == 0 {
		return nil
	}

	embeddings, err := p.embedder.Embed(ctx, scenarioTexts(scenarios))
	if err != nil {
		p.logger.Warn("scenario embedding failed, indexing without vectors",
			zap.Int("scenarios", len(scenarios)),
			zap.Error(err),
		)
		return nil
	}
	return embeddings
}

func scenarioTexts(scenarios []string) []string {
	texts := make([]string, len(scenarios))
	for i, s := range scenarios {
		texts[i] = elasticsearch.ScenarioText(s)
	}
	return texts
}

// SyncFromCatalog rebuilds the whole business index from the catalog:
// mappings first, then every product and its scenario records in bulk.
// Returns the number of products indexed.
func (p *Processor) SyncFromCatalog(ctx context.Context) (int, error) {
	var synonyms [][]string
	if p.artifacts != nil {
		if cfg := p.artifacts.LoadConfig(ctx); cfg != nil {
			synonyms = cfg.SynonymGroups
		}
	}
	if err := p.es.EnsureIndex(ctx, synonyms); err != nil {
		return 0, fmt.Errorf("ensuring index: %w", err)
	}

	products, err := p.source.ListProducts(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("listing catalog products: %w", err)
	}

	var batch []models.IndexAction
	for _, product := range products {
		batch = append(batch, p.upsertActions(ctx, product)...)

		if len(batch) >= p.esCfg.BulkSize {
			if err := p.es.BulkIndex(ctx, batch); err != nil {
				return 0, fmt.Errorf("bulk indexing sync batch: %w", err)
			}
			observability.IndexingEventsTotal.WithLabelValues("sync", "success").Add(float64(len(batch)))
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if err := p.es.BulkIndex(ctx, batch); err != nil {
			return 0, fmt.Errorf("bulk indexing final sync batch: %w", err)
		}
		observability.IndexingEventsTotal.WithLabelValues("sync", "success").Add(float64(len(batch)))
	}

	if p.cache != nil {
		if err := p.cache.InvalidateSearchResults(ctx); err != nil {
			p.logger.Warn("cache invalidation after sync failed", zap.Error(err))
		}
	}

	p.logger.Info("catalog sync completed", zap.Int("products", len(products)))
	return len(products), nil
}

func (p *Processor) flushLoop() {
	for {
		select {
		case <-p.ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := p.flush(ctx); err != nil {
				p.logger.Error("periodic flush failed", zap.Error(err))
			}
			cancel()
		case <-p.done:
			return
		}
	}
}

func (p *Processor) flush(ctx context.Context) error {
	p.mu.Lock()
	if len(p.buffer) == 0 {
		p.mu.Unlock()
		return nil
	}
	batch := make([]models.IndexAction, len(p.buffer))
	copy(batch, p.buffer)
	p.buffer = p.buffer[:0]
	p.mu.Unlock()

	start := time.Now()
	if err := p.es.BulkIndex(ctx, batch); err != nil {
		// Put the batch back for the next flush attempt.
		p.mu.Lock()
		p.buffer = append(batch, p.buffer...)
		p.mu.Unlock()

		observability.IndexingEventsTotal.WithLabelValues("bulk", "error").Inc()
		return fmt.Errorf("bulk index flush: %w", err)
	}

	observability.IndexingEventsTotal.WithLabelValues("bulk", "success").Add(float64(len(batch)))
	p.logger.Info("bulk flush completed",
		zap.Int("count", len(batch)),
		zap.Duration("duration", time.Since(start)),
	)

	return nil
}

func (p *Processor) Stop() error {
	p.ticker.Stop()
	close(p.done)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return p.flush(ctx)
}
