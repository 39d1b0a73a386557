package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/shubhsaxena/intent-search/internal/models"
)

type stubKeyword struct {
	resp *models.KeywordSearchResponse
	err  error
	req  *models.SearchRequest
}

func (s *stubKeyword) SearchByKeyword(_ context.Context, req *models.SearchRequest) (*models.KeywordSearchResponse, error) {
	s.req = req
	return s.resp, s.err
}

type stubIntent struct {
	resp *models.IntentSearchResponse
	err  error
}

func (s *stubIntent) SearchByIntent(context.Context, *models.SearchRequest) (*models.IntentSearchResponse, error) {
	return s.resp, s.err
}

type stubProducts struct {
	docs map[string]map[string]any
	err  error
}

func (s *stubProducts) GetDocument(_ context.Context, id string) (map[string]any, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.docs[id], nil
}

func newTestHandler() *Handler {
	return &Handler{logger: zap.NewNop()}
}

func TestParseSearchRequestGET(t *testing.T) {
	h := newTestHandler()

	req := httptest.NewRequest(http.MethodGet,
		"/search?q=plant+food&size=5&category=fertilizer&price_min=5.5&price_max=20&in_stock=true&force_fresh=true", nil)

	sr, err := h.parseSearchRequest(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sr.Query != "plant food" {
		t.Errorf("query = %q", sr.Query)
	}
	if sr.Size != 5 {
		t.Errorf("size = %d, want 5", sr.Size)
	}
	if !sr.ForceFresh {
		t.Error("force_fresh not set")
	}
	if sr.Filters == nil {
		t.Fatal("filters not parsed")
	}
	if sr.Filters.Category != "fertilizer" {
		t.Errorf("category = %q", sr.Filters.Category)
	}
	if sr.Filters.PriceMin == nil || *sr.Filters.PriceMin != 5.5 {
		t.Errorf("price_min = %v", sr.Filters.PriceMin)
	}
	if sr.Filters.PriceMax == nil || *sr.Filters.PriceMax != 20 {
		t.Errorf("price_max = %v", sr.Filters.PriceMax)
	}
	if !sr.Filters.InStockOnly {
		t.Error("in_stock not set")
	}
}

func TestParseSearchRequestGETNoFilters(t *testing.T) {
	h := newTestHandler()

	sr, err := h.parseSearchRequest(httptest.NewRequest(http.MethodGet, "/search?q=soil", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sr.Filters != nil {
		t.Errorf("filters = %+v, want nil when none given", sr.Filters)
	}
}

func TestParseSearchRequestPOST(t *testing.T) {
	h := newTestHandler()

	body := `{"query": "leaves turning yellow", "size": 3, "filters": {"in_stock_only": true}}`
	req := httptest.NewRequest(http.MethodPost, "/search", strings.NewReader(body))

	sr, err := h.parseSearchRequest(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sr.Query != "leaves turning yellow" || sr.Size != 3 {
		t.Errorf("parsed = %+v", sr)
	}
	if sr.Filters == nil || !sr.Filters.InStockOnly {
		t.Errorf("filters = %+v", sr.Filters)
	}
}

func TestParseSearchRequestPOSTInvalidJSON(t *testing.T) {
	h := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/search", strings.NewReader("{not json"))
	if _, err := h.parseSearchRequest(req); err == nil {
		t.Error("expected error for invalid body")
	}
}

func TestSearchMissingQuery(t *testing.T) {
	h := newTestHandler()

	w := httptest.NewRecorder()
	h.Search(w, httptest.NewRequest(http.MethodGet, "/search", nil))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestSearchSuccess(t *testing.T) {
	kw := &stubKeyword{resp: &models.KeywordSearchResponse{
		Products: []models.Product{{ID: "p1", Title: "Plant Food"}},
		Total:    1,
	}}
	h := &Handler{keyword: kw, logger: zap.NewNop()}

	w := httptest.NewRecorder()
	h.Search(w, httptest.NewRequest(http.MethodGet, "/search?q=plant+food", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp models.KeywordSearchResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Total != 1 || resp.Products[0].ID != "p1" {
		t.Errorf("response = %+v", resp)
	}
}

func TestSearchBackendError(t *testing.T) {
	kw := &stubKeyword{err: errors.New("context canceled")}
	h := &Handler{keyword: kw, logger: zap.NewNop()}

	w := httptest.NewRecorder()
	h.Search(w, httptest.NewRequest(http.MethodGet, "/search?q=soil", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestSearchIntentSuccess(t *testing.T) {
	in := &stubIntent{resp: &models.IntentSearchResponse{
		Matches: []models.ProductMatch{{ProductID: "p1", Confidence: 0.9, Reasons: []string{"plant_wilting"}}},
		Intent:  &models.IntentResult{PrimaryProblem: "plant_wilting", Urgency: models.UrgencyHigh},
	}}
	h := &Handler{intent: in, logger: zap.NewNop()}

	w := httptest.NewRecorder()
	h.SearchIntent(w, httptest.NewRequest(http.MethodGet, "/search/intent?q=my+plant+is+dying", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp models.IntentSearchResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(resp.Matches) != 1 || resp.Matches[0].ProductID != "p1" {
		t.Errorf("matches = %+v", resp.Matches)
	}
	if resp.Intent.PrimaryProblem != "plant_wilting" {
		t.Errorf("intent = %+v", resp.Intent)
	}
}

func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestGetProduct(t *testing.T) {
	products := &stubProducts{docs: map[string]map[string]any{
		"p1": {"type": "product", "product_id": "p1", "title": "Plant Food", "price": 9.99},
	}}
	h := &Handler{products: products, logger: zap.NewNop()}

	t.Run("found", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := withURLParam(httptest.NewRequest(http.MethodGet, "/products/p1", nil), "id", "p1")
		h.GetProduct(w, r)

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
		var p models.Product
		if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
			t.Fatalf("decoding: %v", err)
		}
		if p.ID != "p1" || p.Title != "Plant Food" {
			t.Errorf("product = %+v", p)
		}
	})

	t.Run("missing", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := withURLParam(httptest.NewRequest(http.MethodGet, "/products/nope", nil), "id", "nope")
		h.GetProduct(w, r)

		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", w.Code)
		}
	})
}

type stubPublisher struct {
	events []*models.ChangeEvent
	err    error
}

func (s *stubPublisher) PublishChangeEvent(_ context.Context, event *models.ChangeEvent) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

type stubAnalytics struct {
	problems map[string]int64
	days     int
	limit    int
}

func (s *stubAnalytics) TopProblems(_ context.Context, days, limit int) (map[string]int64, error) {
	s.days = days
	s.limit = limit
	return s.problems, nil
}

func TestUpsertProduct(t *testing.T) {
	pub := &stubPublisher{}
	h := &Handler{publisher: pub, logger: zap.NewNop()}

	body := `{"id": "p1", "title": "Plant Food", "price": 9.99}`
	w := httptest.NewRecorder()
	h.UpsertProduct(w, httptest.NewRequest(http.MethodPost, "/admin/products", strings.NewReader(body)))

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if len(pub.events) != 1 {
		t.Fatalf("published %d events, want 1", len(pub.events))
	}
	ev := pub.events[0]
	if ev.Type != "UPDATE" || ev.ProductID != "p1" || ev.Product == nil || ev.Product.Title != "Plant Food" {
		t.Errorf("event = %+v", ev)
	}
}

func TestUpsertProductMissingID(t *testing.T) {
	h := &Handler{publisher: &stubPublisher{}, logger: zap.NewNop()}

	w := httptest.NewRecorder()
	h.UpsertProduct(w, httptest.NewRequest(http.MethodPost, "/admin/products", strings.NewReader(`{"title": "No ID"}`)))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestUpsertProductNoPublisher(t *testing.T) {
	h := newTestHandler()

	w := httptest.NewRecorder()
	h.UpsertProduct(w, httptest.NewRequest(http.MethodPost, "/admin/products", strings.NewReader(`{"id": "p1"}`)))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestDeleteProduct(t *testing.T) {
	pub := &stubPublisher{}
	h := &Handler{publisher: pub, logger: zap.NewNop()}

	w := httptest.NewRecorder()
	r := withURLParam(httptest.NewRequest(http.MethodDelete, "/admin/products/p1", nil), "id", "p1")
	h.DeleteProduct(w, r)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d", w.Code)
	}
	if len(pub.events) != 1 || pub.events[0].Type != "DELETE" || pub.events[0].ProductID != "p1" {
		t.Errorf("events = %+v", pub.events)
	}
}

func TestTopProblems(t *testing.T) {
	analytics := &stubAnalytics{problems: map[string]int64{"abc123": 42}}
	h := &Handler{analytics: analytics, logger: zap.NewNop()}

	w := httptest.NewRecorder()
	h.TopProblems(w, httptest.NewRequest(http.MethodGet, "/admin/analytics/problems?days=30&limit=5", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if analytics.days != 30 || analytics.limit != 5 {
		t.Errorf("query params not forwarded: days=%d limit=%d", analytics.days, analytics.limit)
	}

	var resp struct {
		Days     int              `json:"days"`
		Problems map[string]int64 `json:"problems"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if resp.Problems["abc123"] != 42 {
		t.Errorf("problems = %v", resp.Problems)
	}
}

func TestTopProblemsNoAnalytics(t *testing.T) {
	h := newTestHandler()

	w := httptest.NewRecorder()
	h.TopProblems(w, httptest.NewRequest(http.MethodGet, "/admin/analytics/problems", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestCheckInventory(t *testing.T) {
	products := &stubProducts{docs: map[string]map[string]any{
		"p1": {"type": "product", "product_id": "p1", "title": "Plant Food", "availability": true, "inventory_quantity": 7.0},
		"p2": {"type": "product", "product_id": "p2", "title": "Rare Orchid", "availability": true, "inventory_quantity": 0.0},
	}}
	h := &Handler{products: products, logger: zap.NewNop()}

	tests := []struct {
		id          string
		wantInStock bool
		wantQty     float64
	}{
		{"p1", true, 7},
		{"p2", false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := withURLParam(httptest.NewRequest(http.MethodGet, "/products/"+tt.id+"/inventory", nil), "id", tt.id)
			h.CheckInventory(w, r)

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d", w.Code)
			}
			var resp map[string]any
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decoding: %v", err)
			}
			if resp["in_stock"] != tt.wantInStock {
				t.Errorf("in_stock = %v, want %v", resp["in_stock"], tt.wantInStock)
			}
			if resp["quantity"] != tt.wantQty {
				t.Errorf("quantity = %v, want %v", resp["quantity"], tt.wantQty)
			}
		})
	}
}
