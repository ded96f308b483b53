package handler

import (
	"log/slog"
	"net/http"
	"time"
)

// HealthHandler serves the health-check endpoint with engine status.
type HealthHandler struct {
	mode      string
	startedAt time.Time
	openCount func() int
	logger    *slog.Logger
}

// NewHealthHandler creates a HealthHandler. openCount reports the current
// size of the active position table.
func NewHealthHandler(mode string, openCount func() int, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		mode:      mode,
		startedAt: time.Now().UTC(),
		openCount: openCount,
		logger:    logger,
	}
}

// HealthCheck responds with the engine's liveness status, operating mode,
// uptime, and active position count.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"mode":           h.mode,
		"open_positions": h.openCount(),
		"uptime":         time.Since(h.startedAt).Round(time.Second).String(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}
