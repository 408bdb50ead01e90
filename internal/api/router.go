package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/socialpulse/socialpulse/internal/auth"
	"github.com/socialpulse/socialpulse/internal/database"
	"github.com/socialpulse/socialpulse/internal/models"
)

// Dependencies are the collaborators the API routes need.
type Dependencies struct {
	DB          *database.DB
	Accounts    models.SocialAccountRepository
	Analytics   models.AnalyticsRepository
	ActivityLog models.ActivityLogRepository
	Connector   Connector
	Syncer      Syncer
	Auth        auth.Config
	AppBaseURL  string
	Logger      *slog.Logger
}

// SetupRoutes configures all API routes
func SetupRoutes(mux *http.ServeMux, deps Dependencies) {
	secureCookies := strings.HasPrefix(deps.AppBaseURL, "https://")

	var activity ActivityRecorder
	if deps.ActivityLog != nil {
		activity = deps.ActivityLog
	}

	socialAccountsHandler := NewSocialAccountsHandler(deps.Accounts, deps.Connector, activity, deps.Auth.JWTSecret, secureCookies, deps.Logger)
	instagramAuthHandler := NewInstagramAuthHandler(deps.Connector, deps.Auth.JWTSecret, deps.AppBaseURL, secureCookies, deps.Logger)
	analyticsHandler := NewAnalyticsHandler(deps.Accounts, deps.Analytics, deps.Syncer, deps.Logger)
	healthHandler := NewHealthHandler(deps.DB, deps.Logger)

	// Auth middleware
	authMiddleware := auth.Middleware(deps.Auth)

	mux.HandleFunc("/healthz", healthHandler.Healthz)

	// OAuth callback (browser redirect, session checked by the handler)
	mux.HandleFunc("/api/auth/instagram", instagramAuthHandler.Callback)

	mux.HandleFunc("/api/social-accounts", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			setCORS(w, "GET, POST, PATCH, DELETE, OPTIONS")
			w.WriteHeader(http.StatusOK)
			return
		}
		authMiddleware(socialAccountsHandler).ServeHTTP(w, r)
	})

	mux.HandleFunc("/api/analytics/instagram", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			setCORS(w, "GET, OPTIONS")
			w.WriteHeader(http.StatusOK)
			return
		}
		authMiddleware(http.HandlerFunc(analyticsHandler.GetInstagramAnalytics)).ServeHTTP(w, r)
	})

	if deps.ActivityLog != nil {
		activityLogHandlers := NewActivityLogHandlers(deps.ActivityLog, deps.Logger)
		mux.HandleFunc("/api/activity-logs", func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				setCORS(w, "GET, OPTIONS")
				w.WriteHeader(http.StatusOK)
				return
			}
			authMiddleware(http.HandlerFunc(activityLogHandlers.ListActivities)).ServeHTTP(w, r)
		})
	}

	// CORS preflight
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			setCORS(w, "GET, POST, PATCH, DELETE, OPTIONS")
			w.WriteHeader(http.StatusOK)
			return
		}
		http.NotFound(w, r)
	})
}
