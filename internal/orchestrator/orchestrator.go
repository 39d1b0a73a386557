package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/shubhsaxena/intent-search/internal/config"
	"github.com/shubhsaxena/intent-search/internal/elasticsearch"
	"github.com/shubhsaxena/intent-search/internal/llm"
	"github.com/shubhsaxena/intent-search/internal/models"
	"github.com/shubhsaxena/intent-search/internal/observability"
)

// SearchBackend is the slice of the Elasticsearch client the orchestrator
// needs. *elasticsearch.Client satisfies it.
type SearchBackend interface {
	Search(ctx context.Context, queryType string, query map[string]any) (*elasticsearch.SearchResult, error)
	GetDocument(ctx context.Context, id string) (map[string]any, error)
}

// ConfigProvider supplies the generated business config and context.
// *confgen.LLMConfigGenerator satisfies it.
type ConfigProvider interface {
	GenerateConfig(ctx context.Context, sampleProducts []models.Product) (*models.BusinessSearchConfig, error)
	BusinessContext(ctx context.Context) (string, []string)
}

// AnalyticsSink receives finished-search usage events. *clickhouse.Client
// satisfies it; a nil sink disables usage analytics.
type AnalyticsSink interface {
	WriteSearchEvent(ctx context.Context, queryHash, path, source string, resultCount, tookMs int64) error
}

// ResultCache caches finished responses. *cache.RedisCache satisfies it; a
// nil cache disables caching entirely.
type ResultCache interface {
	GetKeywordResults(ctx context.Context, req *models.SearchRequest) (*models.KeywordSearchResponse, error)
	SetKeywordResults(ctx context.Context, req *models.SearchRequest, resp *models.KeywordSearchResponse) error
	GetStaleKeywordResults(ctx context.Context, req *models.SearchRequest) (*models.KeywordSearchResponse, error)
	GetIntentResults(ctx context.Context, req *models.SearchRequest) (*models.IntentSearchResponse, error)
	SetIntentResults(ctx context.Context, req *models.SearchRequest, resp *models.IntentSearchResponse) error
}

// Orchestrator runs the two search paths: weighted keyword search over
// product records and intent search over scenario embeddings.
type Orchestrator struct {
	backend   SearchBackend
	cache     ResultCache
	configs   ConfigProvider
	analyzer  *IntentAnalyzer
	embedder  llm.Embedder
	builder   *QueryBuilder
	slowQuery *observability.SlowQueryDetector
	analytics AnalyticsSink
	cfg       config.SearchConfig
	logger    *zap.Logger
}

func New(
	backend SearchBackend,
	resultCache ResultCache,
	configs ConfigProvider,
	analyzer *IntentAnalyzer,
	embedder llm.Embedder,
	slowQuery *observability.SlowQueryDetector,
	analytics AnalyticsSink,
	cfg config.SearchConfig,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		backend:   backend,
		cache:     resultCache,
		configs:   configs,
		analyzer:  analyzer,
		embedder:  embedder,
		builder:   NewQueryBuilder(),
		slowQuery: slowQuery,
		analytics: analytics,
		cfg:       cfg,
		logger:    logger,
	}
}

// recordSearchEvent ships one finished search to the analytics sink without
// blocking the response. Only a hash of the query text leaves the process.
func (o *Orchestrator) recordSearchEvent(path, source string, resultCount, tookMs int64, query string) {
	if o.analytics == nil {
		return
	}
	hash := sha256.Sum256([]byte(query))
	queryHash := hex.EncodeToString(hash[:8])
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := o.analytics.WriteSearchEvent(ctx, queryHash, path, source, resultCount, tookMs); err != nil {
			o.logger.Warn("search event write failed", zap.String("path", path), zap.Error(err))
		}
	}()
}

// SearchByKeyword runs the weighted keyword path. Backend failures degrade
// to stale cache and finally to an empty result; the error return is
// reserved for context cancellation.
func (o *Orchestrator) SearchByKeyword(ctx context.Context, req *models.SearchRequest) (*models.KeywordSearchResponse, error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "orchestrator.keyword_search",
		attribute.String("query", req.Query),
	)
	defer span.End()

	size := req.Size
	if size <= 0 || size > o.cfg.MaxKeywordResults {
		size = o.cfg.MaxKeywordResults
	}

	if o.cache != nil && !req.ForceFresh {
		cached, err := o.cache.GetKeywordResults(ctx, req)
		if err != nil {
			o.logger.Warn("keyword cache lookup error", zap.Error(err))
		}
		if cached != nil {
			cached.Metadata.CacheHit = true
			cached.TookMs = time.Since(start).Milliseconds()
			observability.SearchRequestsTotal.WithLabelValues("keyword", "cache_hit").Inc()
			return cached, nil
		}
	}

	searchCfg, err := o.configs.GenerateConfig(ctx, nil)
	if err != nil {
		return nil, err
	}

	query := o.builder.BuildKeywordQuery(searchCfg, req, size)
	result, err := o.backend.Search(ctx, "keyword", query)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		o.logger.Warn("keyword search backend failed", zap.Error(fmt.Errorf("%w: %w", ErrBackendFailure, err)))
		return o.keywordFallback(ctx, req, start), nil
	}

	products := make([]models.Product, 0, len(result.Hits))
	for _, hit := range result.Hits {
		products = append(products, elasticsearch.ProductFromSource(hit.Source))
	}

	resp := &models.KeywordSearchResponse{
		Products: products,
		Total:    result.Total,
		TookMs:   time.Since(start).Milliseconds(),
		Metadata: models.ResponseMetadata{
			Source:    "elasticsearch",
			RequestID: req.RequestID,
			TimedOut:  result.TimedOut,
		},
	}

	if o.cache != nil {
		if err := o.cache.SetKeywordResults(ctx, req, resp); err != nil {
			o.logger.Warn("keyword cache set error", zap.Error(err))
		}
	}

	observability.SearchRequestsTotal.WithLabelValues("keyword", "success").Inc()
	observability.SearchRequestDuration.WithLabelValues("keyword", "elasticsearch", "success").Observe(time.Since(start).Seconds())
	if o.slowQuery != nil {
		o.slowQuery.Intercept(ctx, req.Query, "keyword", time.Since(start), result.Total)
	}
	o.recordSearchEvent("keyword", "elasticsearch", result.Total, resp.TookMs, req.Query)

	return resp, nil
}

// keywordFallback serves stale cached results when the backend is down,
// and an empty (but well-formed) response when even those are gone.
func (o *Orchestrator) keywordFallback(ctx context.Context, req *models.SearchRequest, start time.Time) *models.KeywordSearchResponse {
	if o.cache != nil {
		stale, err := o.cache.GetStaleKeywordResults(ctx, req)
		if err == nil && stale != nil {
			stale.Metadata.Stale = true
			stale.Metadata.Source = "stale_cache"
			stale.TookMs = time.Since(start).Milliseconds()
			observability.SearchRequestsTotal.WithLabelValues("keyword", "stale_cache").Inc()
			return stale
		}
	}

	observability.SearchRequestsTotal.WithLabelValues("keyword", "degraded_empty").Inc()
	return &models.KeywordSearchResponse{
		Products: []models.Product{},
		Total:    0,
		TookMs:   time.Since(start).Milliseconds(),
		Metadata: models.ResponseMetadata{
			Source:    "degraded_empty",
			RequestID: req.RequestID,
		},
	}
}

// scenarioCandidate accumulates evidence for one product across problem
// variations. Confidence keeps the maximum, never the sum, so a product
// matching five weak variations cannot outrank one strong match.
type scenarioCandidate struct {
	productID  string
	confidence float64
	reasons    []string
	reasonSet  map[string]struct{}
}

func (c *scenarioCandidate) observe(confidence float64, reason string, maxReasons int) {
	if confidence > c.confidence {
		c.confidence = confidence
	}
	if reason == "" {
		return
	}
	if _, seen := c.reasonSet[reason]; seen {
		return
	}
	if len(c.reasons) >= maxReasons {
		return
	}
	c.reasonSet[reason] = struct{}{}
	c.reasons = append(c.reasons, reason)
}

// SearchByIntent runs the intent path: extract the problem, expand it into
// variations, score scenario records by embedding similarity, aggregate per
// product and enrich the winners from their product records.
func (o *Orchestrator) SearchByIntent(ctx context.Context, req *models.SearchRequest) (*models.IntentSearchResponse, error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "orchestrator.intent_search",
		attribute.String("query", req.Query),
	)
	defer span.End()

	if o.cache != nil && !req.ForceFresh {
		cached, err := o.cache.GetIntentResults(ctx, req)
		if err != nil {
			o.logger.Warn("intent cache lookup error", zap.Error(err))
		}
		if cached != nil {
			cached.Metadata.CacheHit = true
			cached.TookMs = time.Since(start).Milliseconds()
			observability.SearchRequestsTotal.WithLabelValues("intent", "cache_hit").Inc()
			return cached, nil
		}
	}

	businessType, domainKeywords := o.configs.BusinessContext(ctx)
	intent := o.analyzer.AnalyzeIntent(ctx, req.Query, businessType)
	variations := o.analyzer.ExpandProblems(ctx, intent, businessType, domainKeywords)

	candidates, source := o.scoreVariations(ctx, variations)
	matches := o.enrichCandidates(ctx, candidates)

	resp := &models.IntentSearchResponse{
		Matches: matches,
		Intent:  intent,
		TookMs:  time.Since(start).Milliseconds(),
		Metadata: models.ResponseMetadata{
			Source:    source,
			RequestID: req.RequestID,
		},
	}

	if o.cache != nil {
		if err := o.cache.SetIntentResults(ctx, req, resp); err != nil {
			o.logger.Warn("intent cache set error", zap.Error(err))
		}
	}

	observability.SearchRequestsTotal.WithLabelValues("intent", "success").Inc()
	observability.SearchRequestDuration.WithLabelValues("intent", source, "success").Observe(time.Since(start).Seconds())
	if o.slowQuery != nil {
		o.slowQuery.Intercept(ctx, req.Query, "intent", time.Since(start), int64(len(matches)))
	}
	o.recordSearchEvent("intent", source, int64(len(matches)), resp.TookMs, req.Query)

	return resp, nil
}

// scoreVariations tries the vector path first and degrades to the lexical
// scenario path when embeddings are unavailable. Returns the candidate set
// and the source label for response metadata.
func (o *Orchestrator) scoreVariations(ctx context.Context, variations []models.ProblemVariation) (map[string]*scenarioCandidate, string) {
	if o.cfg.VectorSearchEnabled && o.embedder != nil {
		problems := make([]string, len(variations))
		for i, v := range variations {
			problems[i] = v.Problem
		}

		embeddings, err := o.embedder.Embed(ctx, problems)
		if err != nil || len(embeddings) != len(variations) {
			if err == nil {
				err = fmt.Errorf("got %d embeddings for %d problems", len(embeddings), len(variations))
			}
			o.logger.Warn("embedding batch unavailable, falling back to lexical scenarios",
				zap.Error(fmt.Errorf("%w: %w", ErrEmbeddingUnavailable, err)),
			)
			observability.IntentFallbacksTotal.WithLabelValues("embedding_unavailable").Inc()
		} else {
			candidates := o.vectorCandidates(ctx, variations, embeddings)
			if len(candidates) > 0 {
				return candidates, "vector"
			}
			observability.IntentFallbacksTotal.WithLabelValues("no_vector_candidates").Inc()
		}
	}

	return o.lexicalCandidates(ctx, variations), "lexical"
}

// vectorCandidates fans out one similarity search per variation. Raw script
// scores sit in [0, 2] because of the +1.0 shift; halving them restores a
// [0, 1] similarity that the variation confidence then scales.
func (o *Orchestrator) vectorCandidates(ctx context.Context, variations []models.ProblemVariation, embeddings [][]float32) map[string]*scenarioCandidate {
	type variationHits struct {
		variation models.ProblemVariation
		hits      []elasticsearch.Hit
	}

	results := make([]variationHits, len(variations))
	var wg sync.WaitGroup
	for i := range variations {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			query := o.builder.BuildVectorQuery(embeddings[i], o.cfg.MaxIntentResults)
			result, err := o.backend.Search(ctx, "intent_vector", query)
			if err != nil {
				o.logger.Warn("vector scenario search failed",
					zap.String("problem", variations[i].Problem),
					zap.Error(fmt.Errorf("%w: %w", ErrBackendFailure, err)),
				)
				return
			}
			results[i] = variationHits{variation: variations[i], hits: result.Hits}
		}(i)
	}
	wg.Wait()

	candidates := make(map[string]*scenarioCandidate)
	for _, r := range results {
		for _, hit := range r.hits {
			similarity := clamp01(hit.Score / 2.0)
			o.addCandidate(candidates, hit, r.variation.Confidence*similarity)
		}
	}
	return candidates
}

func (o *Orchestrator) lexicalCandidates(ctx context.Context, variations []models.ProblemVariation) map[string]*scenarioCandidate {
	candidates := make(map[string]*scenarioCandidate)
	for _, v := range variations {
		query := o.builder.BuildScenarioLexicalQuery(v.Problem, o.cfg.MaxIntentResults)
		result, err := o.backend.Search(ctx, "intent_lexical", query)
		if err != nil {
			o.logger.Warn("lexical scenario search failed",
				zap.String("problem", v.Problem),
				zap.Error(fmt.Errorf("%w: %w", ErrBackendFailure, err)),
			)
			continue
		}
		for _, hit := range result.Hits {
			// BM25 scores are unbounded; the divisor maps the useful range
			// onto [0, 1] before the clamp.
			scaled := clamp01(hit.Score / o.cfg.LexicalScoreDivisor)
			o.addCandidate(candidates, hit, v.Confidence*scaled)
		}
	}
	return candidates
}

func (o *Orchestrator) addCandidate(candidates map[string]*scenarioCandidate, hit elasticsearch.Hit, confidence float64) {
	productID, _ := hit.Source["product_id"].(string)
	if productID == "" {
		return
	}
	// Reasons surface to the caller as scenario_match:<scenario> so they
	// are distinguishable from other evidence kinds.
	reason, _ := hit.Source["scenario_keyword"].(string)
	if reason != "" {
		reason = "scenario_match:" + reason
	}

	c, ok := candidates[productID]
	if !ok {
		c = &scenarioCandidate{
			productID: productID,
			reasonSet: make(map[string]struct{}),
		}
		candidates[productID] = c
	}
	c.observe(clamp01(confidence), reason, o.cfg.MaxMatchReasons)
}

// enrichCandidates ranks candidates by confidence and resolves each into a
// full product match. Candidates whose product record is gone are dropped
// and the next best takes their slot.
func (o *Orchestrator) enrichCandidates(ctx context.Context, candidates map[string]*scenarioCandidate) []models.ProductMatch {
	ranked := make([]*scenarioCandidate, 0, len(candidates))
	for _, c := range candidates {
		ranked = append(ranked, c)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].confidence != ranked[j].confidence {
			return ranked[i].confidence > ranked[j].confidence
		}
		return ranked[i].productID < ranked[j].productID
	})

	matches := make([]models.ProductMatch, 0, o.cfg.MaxIntentResults)
	for _, c := range ranked {
		if len(matches) == o.cfg.MaxIntentResults {
			break
		}

		src, err := o.backend.GetDocument(ctx, c.productID)
		if err != nil {
			o.logger.Warn("candidate enrichment failed",
				zap.String("product_id", c.productID),
				zap.Error(err),
			)
			continue
		}
		if src == nil {
			o.logger.Debug("candidate product record gone, dropping",
				zap.String("product_id", c.productID),
				zap.Error(ErrLookupMiss),
			)
			continue
		}

		product := elasticsearch.ProductFromSource(src)
		matches = append(matches, models.ProductMatch{
			ProductID:    c.productID,
			ProductTitle: product.Title,
			Confidence:   c.confidence,
			Reasons:      c.reasons,
			Price:        product.Price,
		})
	}
	return matches
}
