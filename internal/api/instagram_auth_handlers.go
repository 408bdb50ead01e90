package api

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/socialpulse/socialpulse/internal/accounts"
	"github.com/socialpulse/socialpulse/internal/auth"
)

// Callback failure reasons that do not come from the connect flow itself.
const (
	ReasonNoCode       = "no_code"
	ReasonInvalidState = "invalid_state"
)

// InstagramAuthHandler receives the provider redirect after the consent
// screen and sends the browser back to the application.
type InstagramAuthHandler struct {
	connector     Connector
	jwtSecret     string
	appBaseURL    string
	secureCookies bool
	logger        *slog.Logger
}

func NewInstagramAuthHandler(connector Connector, jwtSecret, appBaseURL string, secureCookies bool, logger *slog.Logger) *InstagramAuthHandler {
	return &InstagramAuthHandler{
		connector:     connector,
		jwtSecret:     jwtSecret,
		appBaseURL:    appBaseURL,
		secureCookies: secureCookies,
		logger:        logger,
	}
}

// Callback handles GET /api/auth/instagram?code=...&state=...
func (h *InstagramAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	auth.ClearStateCookie(w, h.secureCookies)

	if providerErr := query.Get("error"); providerErr != "" {
		reason := query.Get("error_reason")
		h.logger.Warn("instagram authorization denied",
			"error", providerErr,
			"error_reason", reason,
			"error_description", query.Get("error_description"))
		if reason == "" {
			reason = providerErr
		}
		h.fail(w, r, reason)
		return
	}

	code := query.Get("code")
	if code == "" {
		h.fail(w, r, ReasonNoCode)
		return
	}

	userID, err := auth.UserIDFromRequest(r, h.jwtSecret)
	if err != nil {
		h.redirect(w, r, "/auth/sign-in", url.Values{"error": {"not_authenticated"}})
		return
	}

	var stateCookie string
	if c, err := r.Cookie(auth.StateCookie); err == nil {
		stateCookie = c.Value
	}
	if err := auth.VerifyState(stateCookie, query.Get("state"), userID, h.jwtSecret); err != nil {
		h.logger.Warn("rejected instagram callback", "user_id", userID, "error", err)
		h.fail(w, r, ReasonInvalidState)
		return
	}

	account, err := h.connector.ConnectInstagram(r.Context(), userID, code)
	if err != nil {
		reason := accounts.FailureReason(err)
		h.logger.Error("instagram connect failed", "user_id", userID, "reason", reason, "error", err)
		h.fail(w, r, reason)
		return
	}

	h.logger.Info("instagram account connected",
		"user_id", userID,
		"account_id", account.ID,
		"username", account.Username)
	h.redirect(w, r, "/", url.Values{"instagram_connected": {"true"}})
}

func (h *InstagramAuthHandler) fail(w http.ResponseWriter, r *http.Request, reason string) {
	h.redirect(w, r, "/", url.Values{
		"error":  {"instagram_auth_failed"},
		"reason": {reason},
	})
}

func (h *InstagramAuthHandler) redirect(w http.ResponseWriter, r *http.Request, path string, params url.Values) {
	target := h.appBaseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	http.Redirect(w, r, target, http.StatusFound)
}
