package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/socialpulse/socialpulse/internal/models"
)

const (
	defaultActivityLimit = 100
	maxActivityLimit     = 1000
)

// SQLActivityLogRepository handles account history storage and retrieval.
type SQLActivityLogRepository struct {
	db  *DB
	now func() time.Time
}

// NewSQLActivityLogRepository creates a new activity log repository.
func NewSQLActivityLogRepository(db *DB) *SQLActivityLogRepository {
	return &SQLActivityLogRepository{db: db, now: time.Now}
}

// SetClock replaces the time source used for created_at and pruning.
func (r *SQLActivityLogRepository) SetClock(now func() time.Time) {
	r.now = now
}

// Log stores a new activity log entry.
func (r *SQLActivityLogRepository) Log(ctx context.Context, entry models.ActivityLog) error {
	if entry.UserID == "" {
		return models.ValidationError{Field: "user_id", Message: "is required"}
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.now()
	}

	var details interface{}
	if entry.Details != nil {
		detailsJSON, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal details: %w", err)
		}
		details = string(detailsJSON)
	}

	var accountID interface{}
	if entry.SocialAccountID != "" {
		accountID = entry.SocialAccountID
	}

	query := `
		INSERT INTO activity_logs
		(id, user_id, social_account_id, activity_type, platform, message, details, sample_count, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.ExecContext(ctx, r.db.Dialect.Rebind(query),
		entry.ID,
		entry.UserID,
		accountID,
		string(entry.ActivityType),
		string(entry.Platform),
		entry.Message,
		details,
		entry.SampleCount,
		entry.DurationMs,
		entry.CreatedAt.UTC(),
	)
	return wrapErr("log activity", err)
}

// List retrieves a user's activity, optionally filtered by type.
func (r *SQLActivityLogRepository) List(ctx context.Context, userID string, limit int, activityType models.ActivityType) ([]models.ActivityLog, error) {
	if limit <= 0 {
		limit = defaultActivityLimit
	}
	if limit > maxActivityLimit {
		limit = maxActivityLimit
	}

	query := `
		SELECT id, user_id, social_account_id, activity_type, platform, message,
		       details, sample_count, duration_ms, created_at
		FROM activity_logs
		WHERE user_id = $1
	`
	args := []interface{}{userID}

	if activityType != "" {
		args = append(args, string(activityType))
		query += fmt.Sprintf(" AND activity_type = $%d", len(args))
	}

	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := r.db.QueryContext(ctx, r.db.Dialect.Rebind(query), args...)
	if err != nil {
		return nil, wrapErr("list activity", err)
	}
	defer rows.Close()

	logs := []models.ActivityLog{}
	for rows.Next() {
		var entry models.ActivityLog
		var accountID sql.NullString
		var detailsJSON []byte
		var createdAt timestamp

		err := rows.Scan(
			&entry.ID,
			&entry.UserID,
			&accountID,
			&entry.ActivityType,
			&entry.Platform,
			&entry.Message,
			&detailsJSON,
			&entry.SampleCount,
			&entry.DurationMs,
			&createdAt,
		)
		if err != nil {
			return nil, wrapErr("list activity", err)
		}

		if len(detailsJSON) > 0 {
			if err := json.Unmarshal(detailsJSON, &entry.Details); err != nil {
				return nil, wrapErr("list activity", fmt.Errorf("failed to unmarshal details: %w", err))
			}
		}
		entry.SocialAccountID = accountID.String
		entry.CreatedAt = createdAt.Time

		logs = append(logs, entry)
	}

	return logs, wrapErr("list activity", rows.Err())
}

// DeleteOlderThan deletes activity logs older than the specified duration.
func (r *SQLActivityLogRepository) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := r.now().Add(-age).UTC()

	result, err := r.db.ExecContext(ctx, r.db.Dialect.Rebind(`DELETE FROM activity_logs WHERE created_at < $1`), cutoff)
	if err != nil {
		return 0, wrapErr("prune activity", err)
	}

	affected, err := result.RowsAffected()
	return affected, wrapErr("prune activity", err)
}
