package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/shubhsaxena/intent-search/internal/elasticsearch"
	"github.com/shubhsaxena/intent-search/internal/models"
)

const maxRequestBodySize = 1 << 20 // 1 MB

// KeywordSearcher and IntentSearcher are the orchestrator's two paths.
type KeywordSearcher interface {
	SearchByKeyword(ctx context.Context, req *models.SearchRequest) (*models.KeywordSearchResponse, error)
}

type IntentSearcher interface {
	SearchByIntent(ctx context.Context, req *models.SearchRequest) (*models.IntentSearchResponse, error)
}

// ConfigAdmin regenerates the search artifacts. *confgen.LLMConfigGenerator
// satisfies it.
type ConfigAdmin interface {
	RegenerateConfig(ctx context.Context, sampleProducts []models.Product) (*models.BusinessSearchConfig, error)
}

// CatalogSyncer rebuilds the index from the catalog. *indexing.Processor
// satisfies it.
type CatalogSyncer interface {
	SyncFromCatalog(ctx context.Context) (int, error)
}

// ProductReader resolves single product records for lookup and inventory
// checks. *elasticsearch.Client satisfies it.
type ProductReader interface {
	GetDocument(ctx context.Context, id string) (map[string]any, error)
}

// ChangePublisher feeds catalog mutations into the indexing pipeline.
// *kafka.Producer satisfies it; nil disables the mutation endpoints.
type ChangePublisher interface {
	PublishChangeEvent(ctx context.Context, event *models.ChangeEvent) error
}

// ProblemAnalytics answers aggregate questions about intent searches.
// *clickhouse.Client satisfies it; nil disables the analytics endpoint.
type ProblemAnalytics interface {
	TopProblems(ctx context.Context, days, limit int) (map[string]int64, error)
}

type Handler struct {
	keyword   KeywordSearcher
	intent    IntentSearcher
	configs   ConfigAdmin
	syncer    CatalogSyncer
	products  ProductReader
	publisher ChangePublisher
	analytics ProblemAnalytics
	logger    *zap.Logger
}

func NewHandler(
	keyword KeywordSearcher,
	intent IntentSearcher,
	configs ConfigAdmin,
	syncer CatalogSyncer,
	products ProductReader,
	publisher ChangePublisher,
	analytics ProblemAnalytics,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		keyword:   keyword,
		intent:    intent,
		configs:   configs,
		syncer:    syncer,
		products:  products,
		publisher: publisher,
		analytics: analytics,
		logger:    logger,
	}
}

// Search is the keyword path: GET /api/v1/search?q=... or POST with a JSON
// body.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := RequestIDFromContext(ctx)

	req, err := h.parseSearchRequest(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Query == "" {
		h.writeError(w, http.StatusBadRequest, "missing_query", "Query parameter 'q' is required")
		return
	}
	req.RequestID = requestID

	resp, err := h.keyword.SearchByKeyword(ctx, req)
	if err != nil {
		h.logger.Error("keyword search failed",
			zap.String("request_id", requestID),
			zap.String("query", req.Query),
			zap.Error(err),
		)
		h.writeError(w, http.StatusInternalServerError, "search_error", "Search service temporarily unavailable")
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// SearchIntent is the problem-solving path: the query is treated as a
// description of the customer's problem, not as keywords.
func (h *Handler) SearchIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := RequestIDFromContext(ctx)

	req, err := h.parseSearchRequest(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Query == "" {
		h.writeError(w, http.StatusBadRequest, "missing_query", "Query parameter 'q' is required")
		return
	}
	req.RequestID = requestID

	resp, err := h.intent.SearchByIntent(ctx, req)
	if err != nil {
		h.logger.Error("intent search failed",
			zap.String("request_id", requestID),
			zap.String("query", req.Query),
			zap.Error(err),
		)
		h.writeError(w, http.StatusInternalServerError, "search_error", "Search service temporarily unavailable")
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// RegenerateConfig drops and rebuilds all generated search artifacts.
func (h *Handler) RegenerateConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cfg, err := h.configs.RegenerateConfig(ctx, nil)
	if err != nil {
		h.logger.Error("config regeneration failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "regeneration_error", "Config regeneration failed")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":        "regenerated",
		"business_type": cfg.BusinessType,
		"generated_at":  cfg.GeneratedAt,
		"sample_size":   cfg.SampleSize,
	})
}

// SyncCatalog rebuilds the business index from the product catalog.
func (h *Handler) SyncCatalog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	count, err := h.syncer.SyncFromCatalog(ctx)
	if err != nil {
		h.logger.Error("catalog sync failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "sync_error", "Catalog sync failed")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":   "synced",
		"products": count,
	})
}

// GetProduct returns one product record by ID.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing_id", "Product id is required")
		return
	}

	src, err := h.products.GetDocument(ctx, id)
	if err != nil {
		h.logger.Error("product lookup failed", zap.String("product_id", id), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "lookup_error", "Product lookup failed")
		return
	}
	if src == nil {
		h.writeError(w, http.StatusNotFound, "not_found", "Product not found")
		return
	}

	h.writeJSON(w, http.StatusOK, elasticsearch.ProductFromSource(src))
}

// CheckInventory reports whether a product is in stock and at what depth.
func (h *Handler) CheckInventory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing_id", "Product id is required")
		return
	}

	src, err := h.products.GetDocument(ctx, id)
	if err != nil {
		h.logger.Error("inventory lookup failed", zap.String("product_id", id), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "lookup_error", "Inventory lookup failed")
		return
	}
	if src == nil {
		h.writeError(w, http.StatusNotFound, "not_found", "Product not found")
		return
	}

	product := elasticsearch.ProductFromSource(src)
	h.writeJSON(w, http.StatusOK, map[string]any{
		"product_id": product.ID,
		"in_stock":   product.Availability && product.InventoryQuantity > 0,
		"quantity":   product.InventoryQuantity,
	})
}

// UpsertProduct publishes a product create/update to the change topic. The
// indexing pipeline picks it up asynchronously, so the response is 202.
func (h *Handler) UpsertProduct(w http.ResponseWriter, r *http.Request) {
	if h.publisher == nil {
		h.writeError(w, http.StatusServiceUnavailable, "publisher_unavailable", "Catalog change publishing is not configured")
		return
	}

	var product models.Product
	limited := io.LimitReader(r.Body, maxRequestBodySize)
	if err := json.NewDecoder(limited).Decode(&product); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if product.ID == "" {
		h.writeError(w, http.StatusBadRequest, "missing_id", "Product id is required")
		return
	}

	event := &models.ChangeEvent{
		Type:      "UPDATE",
		ProductID: product.ID,
		Product:   &product,
		Timestamp: time.Now().UTC(),
		Version:   time.Now().UnixMilli(),
	}
	if err := h.publisher.PublishChangeEvent(r.Context(), event); err != nil {
		h.logger.Error("publishing product change failed", zap.String("product_id", product.ID), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "publish_error", "Product change could not be published")
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]string{
		"status":     "accepted",
		"product_id": product.ID,
	})
}

// DeleteProduct publishes a product deletion to the change topic.
func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	if h.publisher == nil {
		h.writeError(w, http.StatusServiceUnavailable, "publisher_unavailable", "Catalog change publishing is not configured")
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing_id", "Product id is required")
		return
	}

	event := &models.ChangeEvent{
		Type:      "DELETE",
		ProductID: id,
		Timestamp: time.Now().UTC(),
		Version:   time.Now().UnixMilli(),
	}
	if err := h.publisher.PublishChangeEvent(r.Context(), event); err != nil {
		h.logger.Error("publishing product deletion failed", zap.String("product_id", id), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "publish_error", "Product deletion could not be published")
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]string{
		"status":     "accepted",
		"product_id": id,
	})
}

// TopProblems reports the most frequent intent searches over the last days.
func (h *Handler) TopProblems(w http.ResponseWriter, r *http.Request) {
	if h.analytics == nil {
		h.writeError(w, http.StatusServiceUnavailable, "analytics_unavailable", "Search analytics is not configured")
		return
	}

	days := 7
	if d := r.URL.Query().Get("days"); d != "" {
		if v, err := strconv.Atoi(d); err == nil && v > 0 {
			days = v
		}
	}
	limit := 10
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 100 {
			limit = v
		}
	}

	problems, err := h.analytics.TopProblems(r.Context(), days, limit)
	if err != nil {
		h.logger.Error("top problems query failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "analytics_error", "Analytics query failed")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"days":     days,
		"problems": problems,
	})
}

func (h *Handler) parseSearchRequest(r *http.Request) (*models.SearchRequest, error) {
	if r.Method == http.MethodPost {
		var req models.SearchRequest
		limited := io.LimitReader(r.Body, maxRequestBodySize)
		if err := json.NewDecoder(limited).Decode(&req); err != nil {
			return nil, err
		}
		return &req, nil
	}

	// GET request
	req := &models.SearchRequest{
		Query: r.URL.Query().Get("q"),
	}

	if s := r.URL.Query().Get("size"); s != "" {
		size, err := strconv.Atoi(s)
		if err == nil && size > 0 {
			req.Size = size
		}
	}
	if r.URL.Query().Get("force_fresh") == "true" {
		req.ForceFresh = true
	}

	filters := &models.SearchFilters{}
	hasFilters := false
	if c := r.URL.Query().Get("category"); c != "" {
		filters.Category = c
		hasFilters = true
	}
	if p := r.URL.Query().Get("price_min"); p != "" {
		if v, err := strconv.ParseFloat(p, 64); err == nil {
			filters.PriceMin = &v
			hasFilters = true
		}
	}
	if p := r.URL.Query().Get("price_max"); p != "" {
		if v, err := strconv.ParseFloat(p, 64); err == nil {
			filters.PriceMax = &v
			hasFilters = true
		}
	}
	if r.URL.Query().Get("in_stock") == "true" {
		filters.InStockOnly = true
		hasFilters = true
	}
	if hasFilters {
		req.Filters = filters
	}

	return req, nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("writing json response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, map[string]string{
		"error": message,
		"code":  code,
	})
}
