package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/echosofme/echos-server/internal/config"
	"github.com/go-chi/chi/v5"
)

// EngineStatus reports whether the warm inference container is up. Nil when
// inference does not run in Docker.
type EngineStatus interface {
	IsRunning(ctx context.Context) (bool, error)
}

// HealthHandler reports service and inference-engine health.
type HealthHandler struct {
	*Handler
	inferenceMode string
	engine        EngineStatus
}

// NewHealthHandler creates a health handler. engine may be nil.
func NewHealthHandler(base *Handler, inferenceMode string, engine EngineStatus) *HealthHandler {
	return &HealthHandler{
		Handler:       base,
		inferenceMode: inferenceMode,
		engine:        engine,
	}
}

// RegisterRoutes registers health routes. These sit outside the identity
// middleware so probes never mint users.
func (h *HealthHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/health", h.Health)
}

// Health handles GET /api/health.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	resp := map[string]interface{}{
		"status":         "ok",
		"inference_mode": h.inferenceModeLabel(),
	}

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed: database unreachable", "error", err)
		status = http.StatusServiceUnavailable
		resp["status"] = "degraded"
		resp["database"] = "unreachable"
	} else {
		resp["database"] = "ok"
	}

	if h.engine != nil {
		running, err := h.engine.IsRunning(ctx)
		switch {
		case err != nil:
			// The engine being down is not an outage: chat degrades to
			// fallback synthesis.
			resp["engine"] = "unknown"
		case running:
			resp["engine"] = "running"
		default:
			resp["engine"] = "stopped"
		}
	}

	JSON(w, status, resp)
}

func (h *HealthHandler) inferenceModeLabel() string {
	if h.inferenceMode == config.InferenceModeDisabled {
		return "disabled"
	}
	return h.inferenceMode
}
