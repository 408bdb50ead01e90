package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/socialpulse/socialpulse/internal/auth"
	"github.com/socialpulse/socialpulse/internal/database"
	"github.com/socialpulse/socialpulse/internal/models"
)

// Connector starts and completes the Instagram authorization flow.
// *accounts.Service satisfies it.
type Connector interface {
	AuthorizationURL(state string) string
	ConnectInstagram(ctx context.Context, userID, code string) (*models.SocialAccount, error)
}

// SocialAccountsHandler serves /api/social-accounts for the signed-in user.
type SocialAccountsHandler struct {
	accounts      models.SocialAccountRepository
	connector     Connector
	activity      ActivityRecorder
	jwtSecret     string
	secureCookies bool
	logger        *slog.Logger
}

func NewSocialAccountsHandler(accounts models.SocialAccountRepository, connector Connector, activity ActivityRecorder, jwtSecret string, secureCookies bool, logger *slog.Logger) *SocialAccountsHandler {
	return &SocialAccountsHandler{
		accounts:      accounts,
		connector:     connector,
		activity:      activity,
		jwtSecret:     jwtSecret,
		secureCookies: secureCookies,
		logger:        logger,
	}
}

type initiateAuthRequest struct {
	Platform string `json:"platform"`
	Action   string `json:"action"`
}

type updateAccountRequest struct {
	AccountID string          `json:"account_id"`
	Updates   json.RawMessage `json:"updates"`
}

func (h *SocialAccountsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	setCORS(w, "GET, POST, PATCH, DELETE, OPTIONS")

	switch r.Method {
	case http.MethodGet:
		h.List(w, r)
	case http.MethodPost:
		h.InitiateAuth(w, r)
	case http.MethodPatch:
		h.Update(w, r)
	case http.MethodDelete:
		h.Delete(w, r)
	default:
		writeError(w, h.logger, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// List handles GET /api/social-accounts
func (h *SocialAccountsHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	accounts, err := h.accounts.ListAccounts(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list social accounts", "user_id", userID, "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to fetch social accounts")
		return
	}
	if accounts == nil {
		accounts = []*models.SocialAccount{}
	}

	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{"data": accounts})
}

// InitiateAuth handles POST /api/social-accounts
// Body: {"platform": "instagram", "action": "initiate_auth"}
func (h *SocialAccountsHandler) InitiateAuth(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	var req initiateAuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Action != "initiate_auth" {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid action")
		return
	}
	if models.Platform(req.Platform) != models.PlatformInstagram {
		writeError(w, h.logger, http.StatusBadRequest, "Platform not supported yet")
		return
	}

	state, cookie, err := auth.NewState(userID, h.jwtSecret)
	if err != nil {
		h.logger.Error("failed to create oauth state", "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "Internal server error")
		return
	}
	auth.SetStateCookie(w, cookie, h.secureCookies)

	writeJSON(w, h.logger, http.StatusOK, map[string]string{
		"auth_url": h.connector.AuthorizationURL(state),
		"platform": string(models.PlatformInstagram),
	})
}

// Update handles PATCH /api/social-accounts
// Body: {"account_id": "...", "updates": {"display_name": "..."}}
func (h *SocialAccountsHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	var req updateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.AccountID == "" {
		writeError(w, h.logger, http.StatusBadRequest, "Account ID is required")
		return
	}

	if _, ok := h.ownedAccount(w, r, req.AccountID, userID); !ok {
		return
	}

	update, err := models.DecodeAccountUpdate(req.Updates)
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := h.accounts.UpdateAccount(r.Context(), req.AccountID, update)
	if err != nil {
		var validationErr models.ValidationError
		switch {
		case errors.As(err, &validationErr):
			writeError(w, h.logger, http.StatusBadRequest, validationErr.Error())
		case errors.Is(err, database.ErrNotFound):
			writeError(w, h.logger, http.StatusNotFound, "Account not found")
		default:
			h.logger.Error("failed to update social account", "account_id", req.AccountID, "error", err)
			writeError(w, h.logger, http.StatusInternalServerError, "Failed to update social account")
		}
		return
	}

	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{"data": updated})
}

// Delete handles DELETE /api/social-accounts?account_id=...
func (h *SocialAccountsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		writeError(w, h.logger, http.StatusBadRequest, "Account ID is required")
		return
	}

	account, ok := h.ownedAccount(w, r, accountID, userID)
	if !ok {
		return
	}

	if err := h.accounts.DeleteAccount(r.Context(), accountID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, h.logger, http.StatusNotFound, "Account not found")
			return
		}
		h.logger.Error("failed to delete social account", "account_id", accountID, "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to delete social account")
		return
	}

	h.logger.Info("disconnected social account", "account_id", accountID, "user_id", userID)

	if h.activity != nil {
		err := h.activity.Log(r.Context(), models.ActivityLog{
			UserID:          userID,
			SocialAccountID: accountID,
			ActivityType:    models.ActivityTypeDisconnect,
			Platform:        account.Platform,
			Message:         "Disconnected @" + account.Username,
		})
		if err != nil {
			h.logger.Warn("failed to record disconnect", "account_id", accountID, "error", err)
		}
	}

	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{
		"success":    true,
		"message":    "Account disconnected successfully",
		"account_id": accountID,
	})
}

// ownedAccount loads id and writes a 404 unless it belongs to userID.
func (h *SocialAccountsHandler) ownedAccount(w http.ResponseWriter, r *http.Request, id, userID string) (*models.SocialAccount, bool) {
	account, err := h.accounts.GetAccount(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to load social account", "account_id", id, "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to load social account")
		return nil, false
	}
	if account == nil || account.UserID != userID {
		writeError(w, h.logger, http.StatusNotFound, "Account not found")
		return nil, false
	}
	return account, true
}
