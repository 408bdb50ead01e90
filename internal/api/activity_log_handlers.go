package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/socialpulse/socialpulse/internal/auth"
	"github.com/socialpulse/socialpulse/internal/models"
)

// ActivityRecorder stores account history entries.
type ActivityRecorder interface {
	Log(ctx context.Context, entry models.ActivityLog) error
}

type ActivityLogHandlers struct {
	repo   models.ActivityLogRepository
	logger *slog.Logger
}

func NewActivityLogHandlers(repo models.ActivityLogRepository, logger *slog.Logger) *ActivityLogHandlers {
	return &ActivityLogHandlers{
		repo:   repo,
		logger: logger,
	}
}

// ListActivities handles GET /api/activity-logs
func (h *ActivityLogHandlers) ListActivities(w http.ResponseWriter, r *http.Request) {
	setCORS(w, "GET, OPTIONS")

	if r.Method != http.MethodGet {
		writeError(w, h.logger, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	userID, _ := auth.UserIDFromContext(r.Context())

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l <= 0 {
			writeError(w, h.logger, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = l
	}

	activityType := models.ActivityType(r.URL.Query().Get("activity_type"))
	if activityType != "" && !activityType.Valid() {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid activity_type")
		return
	}

	logs, err := h.repo.List(r.Context(), userID, limit, activityType)
	if err != nil {
		h.logger.Error("failed to list activity logs", "user_id", userID, "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to retrieve activity logs")
		return
	}

	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{
		"logs":  logs,
		"count": len(logs),
	})
}
