package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Each backend gets this long to answer the readiness check before it is
// reported unhealthy.
const readinessCheckTimeout = 5 * time.Second

// HealthChecker is the check shape shared by the result cache, the
// analytics sink and the change-event consumer.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ESHealthChecker reports the search index cluster status (green, yellow or
// red). The index is the one dependency search cannot serve without, so its
// status string surfaces verbatim instead of collapsing to healthy/unhealthy.
type ESHealthChecker interface {
	HealthCheck(ctx context.Context) (string, error)
}

type HealthHandler struct {
	checks  map[string]HealthChecker
	esCheck ESHealthChecker
	logger  *zap.Logger
}

func NewHealthHandler(logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		checks: make(map[string]HealthChecker),
		logger: logger,
	}
}

// Register adds an optional backend to the readiness check. Backends the
// process started without (cache, analytics) are simply never registered.
func (h *HealthHandler) Register(name string, checker HealthChecker) {
	h.checks[name] = checker
}

func (h *HealthHandler) RegisterES(checker ESHealthChecker) {
	h.esCheck = checker
}

type componentStatus struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Liveness answers as long as the process is up. Backend state is the
// readiness check's concern.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
}

// Readiness checks every registered backend concurrently and reports
// per-component status with latency. The service is degraded when any
// component is unhealthy or the search index cluster is red; yellow is
// still serving.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessCheckTimeout)
	defer cancel()

	components := make(map[string]componentStatus)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for name, checker := range h.checks {
		wg.Add(1)
		go func(name string, checker HealthChecker) {
			defer wg.Done()
			start := time.Now()
			err := checker.HealthCheck(ctx)
			result := componentStatus{
				Status:  "healthy",
				Latency: time.Since(start).String(),
			}
			if err != nil {
				result.Status = "unhealthy"
				result.Error = err.Error()
			}
			mu.Lock()
			components[name] = result
			mu.Unlock()
		}(name, checker)
	}

	if h.esCheck != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			status, err := h.esCheck.HealthCheck(ctx)
			result := componentStatus{
				Status:  status,
				Latency: time.Since(start).String(),
			}
			if err != nil {
				result.Error = err.Error()
			}
			mu.Lock()
			components["elasticsearch"] = result
			mu.Unlock()
		}()
	}

	wg.Wait()

	httpStatus := http.StatusOK
	overall := "healthy"
	for _, result := range components {
		if result.Status == "unhealthy" || result.Status == "red" {
			httpStatus = http.StatusServiceUnavailable
			overall = "degraded"
			break
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]any{
		"status":     overall,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}
