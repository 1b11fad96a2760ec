package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/soup/internal/middleware"
)

// readyTimeout bounds all dependency checks of one readiness probe.
const readyTimeout = 5 * time.Second

// HealthChecker defines the interface for components that can be health checked.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthHandlers provides health and readiness check endpoints for Kubernetes probes.
type HealthHandlers struct {
	dbChecker      HealthChecker
	redisChecker   HealthChecker
	metricsEnabled bool
}

// HealthHandlersConfig configures the health check handlers. Nil checkers
// mean the dependency is not configured (in-memory backends) and report ok.
type HealthHandlersConfig struct {
	DBChecker      HealthChecker
	RedisChecker   HealthChecker
	MetricsEnabled bool
}

// NewHealthHandlers creates a new health check handler.
func NewHealthHandlers(config HealthHandlersConfig) *HealthHandlers {
	return &HealthHandlers{
		dbChecker:      config.DBChecker,
		redisChecker:   config.RedisChecker,
		metricsEnabled: config.MetricsEnabled,
	}
}

// HealthResponse represents the JSON response for health checks.
type HealthResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Health handles GET /health (liveness probe). It never touches dependencies.
func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}

	writeHealth(w, r, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Checks:    map[string]string{"runtime": "ok"},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready handles GET /ready (readiness probe).
// Returns 503 if the item store or the frecency store is unreachable.
func (h *HealthHandlers) Ready(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	checks := make(map[string]string)
	healthy := true
	for name, checker := range map[string]HealthChecker{
		"database": h.dbChecker,
		"redis":    h.redisChecker,
	} {
		if checker == nil {
			checks[name] = "ok"
			continue
		}
		if err := checker.HealthCheck(ctx); err != nil {
			checks[name] = "error"
			healthy = false
			slog.WarnContext(ctx, "readiness check failed", "check", name, "error", err)
			continue
		}
		checks[name] = "ok"
	}

	if h.metricsEnabled {
		checks["metrics"] = "ok"
	} else {
		checks["metrics"] = "disabled"
	}

	status, statusCode := "healthy", http.StatusOK
	if !healthy {
		status, statusCode = "unhealthy", http.StatusServiceUnavailable
	}

	writeHealth(w, r, statusCode, HealthResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func writeHealth(w http.ResponseWriter, r *http.Request, status int, resp HealthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode health response", "error", err)
	}
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	ctx := middleware.SetErrorCode(r.Context(), ErrCodeMethodNotAllowed)
	w.Header().Set("Allow", http.MethodGet)
	WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed, "Method not allowed")
}
