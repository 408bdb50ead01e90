package api

import (
	"log/slog"
	"net/http"

	"github.com/socialpulse/socialpulse/internal/database"
)

type HealthHandler struct {
	db     *database.DB
	logger *slog.Logger
}

func NewHealthHandler(db *database.DB, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{db: db, logger: logger}
}

// Healthz handles GET /healthz
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		writeJSON(w, h.logger, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	if err := database.HealthCheck(r.Context(), h.db); err != nil {
		h.logger.Error("health check failed", "error", err)
		writeJSON(w, h.logger, http.StatusServiceUnavailable, map[string]string{
			"status":   "unhealthy",
			"database": "unreachable",
		})
		return
	}

	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"database": database.Stats(h.db),
	})
}
