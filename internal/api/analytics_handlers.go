package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/socialpulse/socialpulse/internal/analytics"
	"github.com/socialpulse/socialpulse/internal/auth"
	"github.com/socialpulse/socialpulse/internal/collector"
	"github.com/socialpulse/socialpulse/internal/models"
)

// DefaultAnalyticsWindow is the date range served when none is requested.
const DefaultAnalyticsWindow = 30 * 24 * time.Hour

// Syncer refreshes an account's stored samples from the provider.
// *collector.Collector satisfies it.
type Syncer interface {
	Sync(ctx context.Context, account *models.SocialAccount) (*collector.Result, error)
}

// AnalyticsHandler serves the Instagram dashboard payload.
type AnalyticsHandler struct {
	accounts  models.SocialAccountRepository
	analytics models.AnalyticsRepository
	syncer    Syncer
	logger    *slog.Logger
	now       func() time.Time
}

func NewAnalyticsHandler(accounts models.SocialAccountRepository, analytics models.AnalyticsRepository, syncer Syncer, logger *slog.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{
		accounts:  accounts,
		analytics: analytics,
		syncer:    syncer,
		logger:    logger,
		now:       time.Now,
	}
}

// AccountSummary is the account block of an analytics response.
type AccountSummary struct {
	ID          string                 `json:"id"`
	Username    string                 `json:"username"`
	DisplayName *string                `json:"display_name"`
	Platform    models.Platform        `json:"platform"`
	AccountType *string                `json:"account_type"`
	AvatarURL   *string                `json:"avatar_url"`
	Metadata    models.AccountMetadata `json:"metadata"`
}

type DateRangeResponse struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type AnalyticsResponse struct {
	Data        analytics.Dashboard `json:"data"`
	Account     AccountSummary      `json:"account"`
	DateRange   DateRangeResponse   `json:"date_range"`
	LastUpdated *time.Time          `json:"last_updated"`
	Refresh     *collector.Result   `json:"refresh,omitempty"`
}

// GetInstagramAnalytics handles
// GET /api/analytics/instagram?account_id=&metric_type=&start_date=&end_date=&force_refresh=
func (h *AnalyticsHandler) GetInstagramAnalytics(w http.ResponseWriter, r *http.Request) {
	setCORS(w, "GET, OPTIONS")

	if r.Method != http.MethodGet {
		writeError(w, h.logger, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	ctx := r.Context()
	userID, _ := auth.UserIDFromContext(ctx)
	query := r.URL.Query()

	metricType := query.Get("metric_type")
	switch metricType {
	case "", models.MetricTypeProfile, models.MetricTypeMedia:
	default:
		writeError(w, h.logger, http.StatusBadRequest, "metric_type must be 'profile' or 'media'")
		return
	}

	dateRange, err := h.parseDateRange(query.Get("start_date"), query.Get("end_date"))
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}

	account, err := h.targetAccount(ctx, userID, query.Get("account_id"))
	if err != nil {
		h.logger.Error("failed to load instagram account", "user_id", userID, "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to fetch analytics data")
		return
	}
	if account == nil {
		writeError(w, h.logger, http.StatusNotFound, "Instagram account not found")
		return
	}

	response := AnalyticsResponse{}

	if query.Get("force_refresh") == "true" && h.syncer != nil {
		result, err := h.syncer.Sync(ctx, account)
		if err != nil {
			h.logger.Warn("analytics refresh failed, serving stored data", "account_id", account.ID, "error", err)
		} else {
			response.Refresh = result
		}
	}

	samples, err := h.analytics.QuerySamples(ctx, account.ID, models.SampleQuery{
		MetricType: metricType,
		Range:      &dateRange,
	})
	if err != nil {
		h.logger.Error("failed to query analytics", "account_id", account.ID, "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to fetch analytics data")
		return
	}

	response.Data = analytics.BuildDashboard(samples, account)
	response.Account = AccountSummary{
		ID:          account.ID,
		Username:    account.Username,
		DisplayName: account.DisplayName,
		Platform:    account.Platform,
		AccountType: account.AccountType,
		AvatarURL:   account.AvatarURL,
		Metadata:    account.Metadata,
	}
	response.DateRange = DateRangeResponse{
		Start: dateRange.Start.Format(models.DateLayout),
		End:   dateRange.End.Format(models.DateLayout),
	}
	response.LastUpdated = lastUpdated(samples)

	writeJSON(w, h.logger, http.StatusOK, response)
}

// targetAccount returns the requested account when the user owns it, or the
// user's active Instagram account when none is requested. It returns nil
// when neither resolves to an Instagram account of the user.
func (h *AnalyticsHandler) targetAccount(ctx context.Context, userID, accountID string) (*models.SocialAccount, error) {
	if accountID == "" {
		return h.accounts.GetActiveAccount(ctx, userID, models.PlatformInstagram)
	}

	account, err := h.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil || account.UserID != userID || account.Platform != models.PlatformInstagram {
		return nil, nil
	}
	return account, nil
}

func (h *AnalyticsHandler) parseDateRange(start, end string) (models.DateRange, error) {
	if start == "" || end == "" {
		now := h.now().UTC()
		return models.DateRange{Start: now.Add(-DefaultAnalyticsWindow), End: now}, nil
	}

	s, err := parseDate(start)
	if err != nil {
		return models.DateRange{}, models.ValidationError{Field: "start_date", Message: "must be YYYY-MM-DD or RFC 3339"}
	}
	e, err := parseDate(end)
	if err != nil {
		return models.DateRange{}, models.ValidationError{Field: "end_date", Message: "must be YYYY-MM-DD or RFC 3339"}
	}
	if s.After(e) {
		return models.DateRange{}, models.ValidationError{Field: "start_date", Message: "must not be after end_date"}
	}
	return models.DateRange{Start: s, End: e}, nil
}

func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse(models.DateLayout, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func lastUpdated(samples []*models.AnalyticsSample) *time.Time {
	var latest *time.Time
	for _, s := range samples {
		if latest == nil || s.CreatedAt.After(*latest) {
			t := s.CreatedAt
			latest = &t
		}
	}
	return latest
}
