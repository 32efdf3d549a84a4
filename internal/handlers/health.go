package handlers

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/eldtechnologies/relay/internal/metrics"
)

const version = "0.1.0"

// Check represents the status of a health check.
type Check struct {
	Status  string `json:"status"`            // "pass", "fail" or "skip"
	Latency string `json:"latency,omitempty"` // e.g., "2ms"
	Message string `json:"message,omitempty"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string           `json:"status"` // "healthy" or "degraded"
	Version   string           `json:"version"`
	Region    string           `json:"region,omitempty"`
	Instance  string           `json:"instance,omitempty"`
	Checks    map[string]Check `json:"checks"`
	Timestamp string           `json:"timestamp"`
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Health handles the health check endpoint. Redis is optional; the data store
// is not.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]Check)
	allHealthy := true

	checks["store"] = ping(ctx, "store", h.store)
	if checks["store"].Status != "pass" {
		allHealthy = false
	}

	if h.redis != nil {
		checks["redis"] = ping(ctx, "redis", h.redis)
		if checks["redis"].Status != "pass" {
			allHealthy = false
		}
	} else {
		checks["redis"] = Check{Status: "skip", Message: "not configured"}
	}

	status := "healthy"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	h.JSON(w, statusCode, HealthResponse{
		Status:    status,
		Version:   version,
		Region:    os.Getenv("FLY_REGION"),
		Instance:  os.Getenv("FLY_ALLOC_ID"),
		Checks:    checks,
		Timestamp: h.now().UTC().Format(time.RFC3339),
	})
}

func ping(ctx context.Context, name string, p pinger) Check {
	if p == nil {
		return Check{Status: "fail", Message: "not configured"}
	}
	start := time.Now()
	if err := p.Ping(ctx); err != nil {
		return Check{Status: "fail", Message: "connection failed"}
	}
	elapsed := time.Since(start)
	metrics.StoreLatency.WithLabelValues(name).Observe(elapsed.Seconds())
	return Check{Status: "pass", Latency: elapsed.String()}
}

// RootResponse represents the root endpoint response.
type RootResponse struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Root handles the root endpoint.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, RootResponse{Name: "relay", Version: version})
}
