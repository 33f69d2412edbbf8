package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/wx-station-poller/internal/lifecycle"
	"github.com/kjstillabower/wx-station-poller/internal/models"
	"github.com/kjstillabower/wx-station-poller/internal/traffic"
)

const serviceName = "wx-station-poller"

// HealthConfig holds thresholds for the health handler.
type HealthConfig struct {
	DegradedWindow   time.Duration
	DegradedErrorPct int
	// MemcachedPing, when set, is reported under checks.memcached.
	MemcachedPing func() error
}

// LatestStore returns the most recently published reading.
type LatestStore interface {
	Get() (models.Reading, bool)
}

// RecordSource returns a stored record encoded as published, such as the
// memcached copy written by a previous run.
type RecordSource interface {
	Latest(ctx context.Context) ([]byte, bool, error)
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	latest       LatestStore
	fallback     RecordSource
	outcomes     *traffic.Tracker
	state        *lifecycle.State
	healthConfig *HealthConfig
	logger       *zap.Logger

	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. healthConfig may be nil to disable the degraded check.
func NewHandler(
	latest LatestStore,
	outcomes *traffic.Tracker,
	state *lifecycle.State,
	healthConfig *HealthConfig,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		latest:       latest,
		outcomes:     outcomes,
		state:        state,
		healthConfig: healthConfig,
		logger:       logger,
	}
}

// SetLatestFallback makes GET /latest serve src when nothing has been
// published since startup.
func (h *Handler) SetLatestFallback(src RecordSource) {
	h.fallback = src
}

// GetLatest handles GET /latest with the last published record.
func (h *Handler) GetLatest(w http.ResponseWriter, r *http.Request) {
	if reading, ok := h.latest.Get(); ok {
		writeJSON(w, http.StatusOK, reading)
		return
	}
	if h.fallback != nil {
		raw, ok, err := h.fallback.Latest(r.Context())
		switch {
		case err != nil:
			h.logger.Warn("latest fallback failed",
				zap.String("correlation_id", CorrelationID(r.Context())),
				zap.Error(err))
		case ok && json.Valid(raw):
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(append(raw, '\n'))
			return
		}
	}
	writeError(w, r, http.StatusNotFound, "NO_READING", "No reading has been published yet")
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	snap := h.outcomes.Snapshot()
	checks := map[string]string{"station": "unknown"}
	switch {
	case result.status == "degraded":
		checks["station"] = "unhealthy"
	case !snap.LastSuccess.IsZero():
		checks["station"] = "healthy"
	}
	if h.healthConfig != nil && h.healthConfig.MemcachedPing != nil {
		if h.healthConfig.MemcachedPing() == nil {
			checks["memcached"] = "healthy"
		} else {
			checks["memcached"] = "unhealthy"
		}
	}

	resp := map[string]interface{}{
		"status":    result.status,
		"service":   serviceName,
		"version":   "dev",
		"checks":    checks,
		"cycles":    snap.Cycles,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if !snap.LastSuccess.IsZero() {
		resp["lastSuccess"] = snap.LastSuccess.UTC().Format(time.RFC3339)
	}
	if snap.LastErrorCategory != "" {
		resp["lastError"] = map[string]string{
			"category": snap.LastErrorCategory,
			"at":       snap.LastError.UTC().Format(time.RFC3339),
		}
	}
	writeJSON(w, result.statusCode, resp)
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > starting > degraded > ok.
func (h *Handler) computeHealthStatus() healthResult {
	if h.state != nil && h.state.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if h.outcomes.Snapshot().Cycles == 0 {
		return healthResult{"starting", http.StatusOK, "no_cycle_yet"}
	}
	if h.healthConfig != nil && h.healthConfig.DegradedWindow > 0 && h.healthConfig.DegradedErrorPct > 0 {
		errors, total := h.outcomes.ErrorRate(h.healthConfig.DegradedWindow)
		if total > 0 && errors*100 >= h.healthConfig.DegradedErrorPct*total {
			return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
		}
	}
	return healthResult{"ok", http.StatusOK, ""}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response with code, message and the request's correlation ID.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": CorrelationID(r.Context()),
		},
	})
}
