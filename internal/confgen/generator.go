package confgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shubhsaxena/intent-search/internal/catalog"
	"github.com/shubhsaxena/intent-search/internal/config"
	"github.com/shubhsaxena/intent-search/internal/configstore"
	"github.com/shubhsaxena/intent-search/internal/llm"
	"github.com/shubhsaxena/intent-search/internal/models"
	"github.com/shubhsaxena/intent-search/internal/observability"
)

// Error kinds for this component. They are handled internally by
// substituting documented defaults and never reach the search caller.
var (
	ErrGenerationFailure  = errors.New("config generation failure")
	ErrPersistenceFailure = errors.New("config persistence failure")
)

// ConfigGenerator produces a business search config from a product sample.
// The LLM-backed implementation is the only one today; the interface keeps
// room for a rule-based generator.
type ConfigGenerator interface {
	GenerateConfig(ctx context.Context, sampleProducts []models.Product) (*models.BusinessSearchConfig, error)
}

// LLMConfigGenerator derives the search config, usage scenarios and reverse
// dictionary from the catalog with Gemini, caching all three artifacts in
// the config store.
type LLMConfigGenerator struct {
	store   configstore.Store
	catalog catalog.Source
	textGen llm.TextGenerator
	cfg     config.SearchConfig
	logger  *zap.Logger

	// Serializes generation. Two callers racing on a cold cache would both
	// generate and the second persist would silently win.
	mu sync.Mutex

	// Guards the opportunistic background fill of missing downstream
	// artifacts so a burst of cache hits spawns at most one fill.
	downstreamMu sync.Mutex
}

func NewLLMConfigGenerator(
	store configstore.Store,
	source catalog.Source,
	textGen llm.TextGenerator,
	cfg config.SearchConfig,
	logger *zap.Logger,
) *LLMConfigGenerator {
	return &LLMConfigGenerator{
		store:   store,
		catalog: source,
		textGen: textGen,
		cfg:     cfg,
		logger:  logger,
	}
}

// GenerateConfig returns the cached config when present, generating it from
// a product sample otherwise. A nil sample is fetched from the catalog,
// capped at the configured sample size. Generation failures degrade to the
// documented default config; the error return is reserved for context
// cancellation.
func (g *LLMConfigGenerator) GenerateConfig(ctx context.Context, sampleProducts []models.Product) (*models.BusinessSearchConfig, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if cached := g.loadConfig(ctx); cached != nil {
		g.logger.Debug("using cached search config", zap.String("business_type", cached.BusinessType))
		// Downstream artifacts may be missing (e.g. a previous run died
		// between persists). Fill them without blocking this caller.
		go g.ensureDownstreamArtifacts(context.WithoutCancel(ctx))
		return cached, nil
	}

	if sampleProducts == nil {
		var err error
		sampleProducts, err = g.catalog.ListProducts(ctx, g.cfg.SampleSize)
		if err != nil {
			g.logger.Warn("fetching sample products failed", zap.Error(err))
			sampleProducts = nil
		}
	}

	if len(sampleProducts) == 0 {
		g.logger.Warn("no products available for config generation, using fallback")
		fallback := g.fallbackConfig()
		g.persistConfig(ctx, fallback, 0)
		observability.ConfigGenerationsTotal.WithLabelValues("search_config", "fallback").Inc()
		return fallback, nil
	}

	if len(sampleProducts) > g.cfg.SampleSize {
		sampleProducts = sampleProducts[:g.cfg.SampleSize]
	}

	businessType := g.classifyBusinessType(ctx, sampleProducts)
	cfg := g.analyzeProducts(ctx, sampleProducts, businessType)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.persistConfig(ctx, cfg, len(sampleProducts))
	observability.ConfigGenerationsTotal.WithLabelValues("search_config", "generated").Inc()
	g.logger.Info("generated search config",
		zap.String("business_type", cfg.BusinessType),
		zap.Int("sample_size", len(sampleProducts)),
	)

	// Scenario map and reverse dictionary cover the full catalog, not just
	// the sample the config was inferred from.
	g.generateDownstreamArtifacts(ctx, cfg.BusinessType)

	return cfg, nil
}

// RegenerateConfig deletes all cached artifacts and generates from scratch.
// The reverse dictionary and scenario map are downstream of the same
// catalog sample, so they always go together.
func (g *LLMConfigGenerator) RegenerateConfig(ctx context.Context, sampleProducts []models.Product) (*models.BusinessSearchConfig, error) {
	g.mu.Lock()
	for _, key := range []string{
		configstore.KeySearchConfig,
		configstore.KeyUsageScenarios,
		configstore.KeyReverseDictionary,
	} {
		if err := g.store.Delete(ctx, key); err != nil {
			g.logger.Warn("deleting cached artifact failed",
				zap.String("key", key),
				zap.Error(fmt.Errorf("%w: %w", ErrPersistenceFailure, err)),
			)
		}
	}
	g.mu.Unlock()

	return g.GenerateConfig(ctx, sampleProducts)
}

// BusinessContext returns the business type and domain keywords from the
// cached config, or a generic fallback when none exists yet.
func (g *LLMConfigGenerator) BusinessContext(ctx context.Context) (string, []string) {
	if cfg := g.loadConfig(ctx); cfg != nil {
		return cfg.BusinessType, cfg.DomainKeywords
	}
	return "general", []string{"products", "items"}
}

func (g *LLMConfigGenerator) LoadConfig(ctx context.Context) *models.BusinessSearchConfig {
	return g.loadConfig(ctx)
}

func (g *LLMConfigGenerator) loadConfig(ctx context.Context) *models.BusinessSearchConfig {
	var cfg models.BusinessSearchConfig
	found, err := g.store.Get(ctx, configstore.KeySearchConfig, &cfg)
	if err != nil {
		// A broken cache read is treated as a miss: we regenerate.
		g.logger.Warn("loading search config failed, treating as miss",
			zap.Error(fmt.Errorf("%w: %w", ErrPersistenceFailure, err)),
		)
		return nil
	}
	if !found {
		return nil
	}
	return &cfg
}

func (g *LLMConfigGenerator) persistConfig(ctx context.Context, cfg *models.BusinessSearchConfig, sampleSize int) {
	cfg.GeneratedAt = time.Now().UTC()
	cfg.SampleSize = sampleSize
	if err := g.store.Put(ctx, configstore.KeySearchConfig, cfg); err != nil {
		// Best effort: the in-memory config just computed stays valid.
		g.logger.Warn("persisting search config failed",
			zap.Error(fmt.Errorf("%w: %w", ErrPersistenceFailure, err)),
		)
	}
}

// ensureDownstreamArtifacts generates whichever of the scenario map and
// reverse dictionary is missing, without touching the config.
func (g *LLMConfigGenerator) ensureDownstreamArtifacts(ctx context.Context) {
	g.downstreamMu.Lock()
	defer g.downstreamMu.Unlock()

	var scenarioDoc models.ScenarioDocument
	scenariosFound, err := g.store.Get(ctx, configstore.KeyUsageScenarios, &scenarioDoc)
	if err != nil {
		g.logger.Warn("checking usage scenarios failed", zap.Error(err))
		scenariosFound = false
	}

	if !scenariosFound {
		businessType, _ := g.BusinessContext(ctx)
		g.generateDownstreamArtifacts(ctx, businessType)
		return
	}

	var reverseDoc models.ReverseDictionaryDocument
	reverseFound, err := g.store.Get(ctx, configstore.KeyReverseDictionary, &reverseDoc)
	if err != nil {
		g.logger.Warn("checking reverse dictionary failed", zap.Error(err))
		reverseFound = false
	}
	if reverseFound {
		return
	}

	// Scenarios exist but the inversion is missing; rebuild it from what we
	// have rather than regenerating scenarios.
	g.persistReverseDictionary(ctx, BuildReverseDictionary(scenarioDoc.Scenarios))
}

func (g *LLMConfigGenerator) generateDownstreamArtifacts(ctx context.Context, businessType string) {
	products, err := g.catalog.ListProducts(ctx, 0)
	if err != nil {
		g.logger.Warn("fetching products for scenario generation failed", zap.Error(err))
		return
	}
	if len(products) == 0 {
		g.logger.Warn("no products available for scenario generation")
		return
	}

	scenarios := g.GenerateUsageScenarios(ctx, products)
	if len(scenarios) == 0 {
		g.logger.Warn("usage scenario generation produced nothing")
		return
	}

	g.persistScenarios(ctx, scenarios)
	g.persistReverseDictionary(ctx, BuildReverseDictionary(scenarios))
}

// classifyBusinessType tries the category taxonomy first and only falls
// back to a free-form LLM classification when no known taxonomy matches.
func (g *LLMConfigGenerator) classifyBusinessType(ctx context.Context, products []models.Product) string {
	counts := make(map[string]int)
	for _, p := range products {
		for _, cat := range p.Categories {
			counts[cat]++
		}
	}

	if len(counts) > 0 {
		type catCount struct {
			name  string
			count int
		}
		ranked := make([]catCount, 0, len(counts))
		for name, count := range counts {
			ranked = append(ranked, catCount{name, count})
		}
		sort.Slice(ranked, func(i, j int) bool {
			if ranked[i].count != ranked[j].count {
				return ranked[i].count > ranked[j].count
			}
			return ranked[i].name < ranked[j].name
		})
		if len(ranked) > 3 {
			ranked = ranked[:3]
		}
		top := make([]string, len(ranked))
		for i, c := range ranked {
			top[i] = c.name
		}
		if bt := classifyFromCategories(top); bt != "" {
			return bt
		}
	}

	if bt := g.llmBusinessType(ctx, products); bt != "" {
		return bt
	}
	return "general"
}

var businessTaxonomies = []struct {
	name  string
	terms []string
}{
	{"garden", []string{"garden", "plant", "seed", "soil", "fertilizer", "flower", "vegetable"}},
	{"restaurant", []string{"food", "menu", "drink", "beverage", "appetizer", "entree", "dessert"}},
	{"electronics", []string{"electronics", "computer", "phone", "tablet", "audio", "camera"}},
	{"clothing", []string{"clothing", "apparel", "shirt", "pants", "dress", "shoes"}},
}

func classifyFromCategories(categories []string) string {
	joined := strings.ToLower(strings.Join(categories, " "))
	for _, taxonomy := range businessTaxonomies {
		for _, term := range taxonomy.terms {
			if strings.Contains(joined, term) {
				return taxonomy.name
			}
		}
	}
	return ""
}

func (g *LLMConfigGenerator) llmBusinessType(ctx context.Context, products []models.Product) string {
	sample := products
	if len(sample) > 5 {
		sample = sample[:5]
	}

	type productBrief struct {
		Title      string   `json:"title"`
		Categories []string `json:"categories"`
		Tags       []string `json:"tags"`
	}
	briefs := make([]productBrief, 0, len(sample))
	for _, p := range sample {
		tags := p.Tags
		if len(tags) > 5 {
			tags = tags[:5]
		}
		briefs = append(briefs, productBrief{Title: p.Title, Categories: p.Categories, Tags: tags})
	}
	data, err := json.Marshal(briefs)
	if err != nil {
		return ""
	}

	prompt := fmt.Sprintf(businessTypePrompt, string(data))
	resp, err := g.textGen.Generate(ctx, prompt)
	if err != nil {
		g.logger.Warn("llm business type classification failed",
			zap.Error(fmt.Errorf("%w: %w", ErrGenerationFailure, err)),
		)
		return ""
	}

	bt := cleanIdentifier(strings.ToLower(strings.TrimSpace(resp)))
	if bt == "" || len(strings.Split(bt, "_")) > 2 {
		return ""
	}
	return bt
}

type llmConfigResponse struct {
	BusinessType     string                            `json:"business_type"`
	SearchableFields map[string]models.SearchableField `json:"searchable_fields"`
	SynonymGroups    []string                          `json:"synonym_groups"`
	DomainKeywords   []string                          `json:"domain_keywords"`
	SearchSettings   *models.SearchSettings            `json:"search_settings"`
}

// analyzeProducts asks the LLM for field weights, synonym groups and domain
// keywords. Every malformed or missing piece is replaced by a documented
// default; the result is always usable.
func (g *LLMConfigGenerator) analyzeProducts(ctx context.Context, products []models.Product, businessType string) *models.BusinessSearchConfig {
	cfg := g.fallbackConfig()
	cfg.BusinessType = businessType
	cfg.IndexName = indexNameFor(businessType)

	type productBrief struct {
		Title       string   `json:"title"`
		Description string   `json:"description"`
		Categories  []string `json:"categories"`
		Tags        []string `json:"tags"`
		Price       float64  `json:"price"`
	}
	briefs := make([]productBrief, 0, len(products))
	for _, p := range products {
		briefs = append(briefs, productBrief{
			Title:       p.Title,
			Description: truncate(p.Description, 200),
			Categories:  p.Categories,
			Tags:        p.Tags,
			Price:       p.Price,
		})
	}
	data, err := json.Marshal(briefs)
	if err != nil {
		return cfg
	}

	resp, err := g.textGen.Generate(ctx, fmt.Sprintf(searchConfigPrompt, len(products), string(data)))
	if err != nil {
		g.logger.Warn("llm config analysis failed, using defaults",
			zap.Error(fmt.Errorf("%w: %w", ErrGenerationFailure, err)),
		)
		return cfg
	}

	var parsed llmConfigResponse
	if err := json.Unmarshal([]byte(llm.ExtractJSON(resp)), &parsed); err != nil {
		g.logger.Warn("llm config response unparseable, using defaults",
			zap.Error(fmt.Errorf("%w: %w", ErrGenerationFailure, err)),
		)
		return cfg
	}

	if parsed.BusinessType != "" {
		bt := cleanIdentifier(strings.ToLower(parsed.BusinessType))
		if bt != "" {
			cfg.BusinessType = bt
			cfg.IndexName = indexNameFor(bt)
		}
	}
	if fields := validFields(parsed.SearchableFields); len(fields) > 0 {
		cfg.SearchableFields = fields
	}
	cfg.SynonymGroups = splitSynonymGroups(parsed.SynonymGroups)
	cfg.DomainKeywords = parsed.DomainKeywords
	if parsed.SearchSettings != nil && parsed.SearchSettings.FuzzyDistance >= 0 && parsed.SearchSettings.MinimumShouldMatch != "" {
		cfg.SearchSettings = *parsed.SearchSettings
	}

	return cfg
}

// validFields drops fields violating the weight invariant instead of
// letting a zero boost silently hide a field from search.
func validFields(fields map[string]models.SearchableField) map[string]models.SearchableField {
	out := make(map[string]models.SearchableField, len(fields))
	for name, f := range fields {
		if f.Weight > 0 {
			out[name] = f
		}
	}
	return out
}

// splitSynonymGroups normalizes the LLM's comma-joined synonym strings into
// term lists, dropping groups with fewer than two distinct terms.
func splitSynonymGroups(groups []string) [][]string {
	var out [][]string
	for _, group := range groups {
		var terms []string
		for _, term := range strings.Split(group, ",") {
			term = strings.TrimSpace(term)
			if term != "" {
				terms = append(terms, term)
			}
		}
		if len(terms) > 1 {
			out = append(out, terms)
		}
	}
	return out
}

func (g *LLMConfigGenerator) fallbackConfig() *models.BusinessSearchConfig {
	return &models.BusinessSearchConfig{
		IndexName:        "products",
		BusinessType:     "general",
		SearchableFields: defaultSearchableFields(),
		SynonymGroups:    nil,
		SearchSettings:   defaultSearchSettings(),
		DomainKeywords:   nil,
	}
}

func defaultSearchableFields() map[string]models.SearchableField {
	return map[string]models.SearchableField{
		"title":       {Weight: 3.0, Fuzzy: true},
		"description": {Weight: 1.5, Fuzzy: true},
		"tags":        {Weight: 2.0, Fuzzy: false},
		"categories":  {Weight: 1.8, Fuzzy: false},
	}
}

func defaultSearchSettings() models.SearchSettings {
	return models.SearchSettings{
		FuzzyDistance:      2,
		MinimumShouldMatch: "75%",
		BoostExactMatches:  true,
	}
}

func indexNameFor(businessType string) string {
	cleaned := cleanIdentifier(businessType)
	if cleaned == "" {
		return "products"
	}
	return cleaned + "_products"
}

var (
	identifierPattern = regexp.MustCompile(`[^a-z\s_]`)
	underscoreRuns    = regexp.MustCompile(`_+`)
)

// cleanIdentifier lowercases, strips punctuation and collapses whitespace
// into single underscores, capped at 20 characters.
func cleanIdentifier(s string) string {
	cleaned := identifierPattern.ReplaceAllString(strings.ToLower(s), "")
	cleaned = strings.ReplaceAll(cleaned, " ", "_")
	cleaned = underscoreRuns.ReplaceAllString(cleaned, "_")
	cleaned = strings.Trim(cleaned, "_")
	if len(cleaned) > 20 {
		cleaned = cleaned[:20]
		cleaned = strings.Trim(cleaned, "_")
	}
	return cleaned
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
