package models

import (
	"context"
	"time"
)

// ActivityType represents the type of activity being logged.
type ActivityType string

const (
	ActivityTypeConnect      ActivityType = "connect"
	ActivityTypeDisconnect   ActivityType = "disconnect"
	ActivityTypeSync         ActivityType = "sync"
	ActivityTypeTokenRefresh ActivityType = "token_refresh"
)

// Valid reports whether t is a known activity type.
func (t ActivityType) Valid() bool {
	switch t {
	case ActivityTypeConnect, ActivityTypeDisconnect, ActivityTypeSync, ActivityTypeTokenRefresh:
		return true
	}
	return false
}

// ActivityLog is an entry in a user's account history.
type ActivityLog struct {
	ID              string                 `json:"id"`
	UserID          string                 `json:"user_id"`
	SocialAccountID string                 `json:"social_account_id,omitempty"`
	ActivityType    ActivityType           `json:"activity_type"`
	Platform        Platform               `json:"platform,omitempty"`
	Message         string                 `json:"message"`
	Details         map[string]interface{} `json:"details,omitempty"`
	SampleCount     *int                   `json:"sample_count,omitempty"`
	DurationMs      *int                   `json:"duration_ms,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
}

// ActivityLogRepository stores account history.
type ActivityLogRepository interface {
	Log(ctx context.Context, entry ActivityLog) error

	// List returns the user's entries, newest first
	List(ctx context.Context, userID string, limit int, activityType ActivityType) ([]ActivityLog, error)

	// DeleteOlderThan prunes entries older than age across all users
	DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error)
}
