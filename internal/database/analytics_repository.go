package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/socialpulse/socialpulse/internal/models"
)

// SQLAnalyticsRepository stores Instagram metric samples.
type SQLAnalyticsRepository struct {
	db  *DB
	now func() time.Time
}

func NewSQLAnalyticsRepository(db *DB) *SQLAnalyticsRepository {
	return &SQLAnalyticsRepository{db: db, now: time.Now}
}

// SetClock replaces the time source used for created_at and default dates.
func (r *SQLAnalyticsRepository) SetClock(now func() time.Time) {
	r.now = now
}

// StoreSample upserts sample. Re-collecting the same metric for the same day
// and media overwrites the stored value.
func (r *SQLAnalyticsRepository) StoreSample(ctx context.Context, sample *models.AnalyticsSample) error {
	if err := validateSample(sample); err != nil {
		return err
	}

	valueJSON, err := json.Marshal(sample.MetricValue)
	if err != nil {
		return fmt.Errorf("marshal metric value: %w", err)
	}

	now := r.now().UTC()
	if sample.DateCollected.IsZero() {
		sample.DateCollected = now
	}
	sample.DateCollected = models.TruncateDate(sample.DateCollected)
	sample.CreatedAt = now

	query := `
		INSERT INTO instagram_analytics
		(id, social_account_id, metric_type, metric_name, metric_value,
		 period, media_id, date_collected, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (social_account_id, metric_type, metric_name, date_collected, media_id)
		DO UPDATE SET
			metric_value = excluded.metric_value,
			period = excluded.period,
			created_at = excluded.created_at
	`

	_, err = r.db.ExecContext(ctx, r.db.Dialect.Rebind(query),
		uuid.NewString(),
		sample.SocialAccountID,
		sample.MetricType,
		sample.MetricName,
		string(valueJSON),
		sample.Period,
		sample.MediaID,
		dateParam(sample.DateCollected),
		now,
	)
	if err != nil {
		return wrapErr("store sample", err)
	}

	idQuery := `
		SELECT id FROM instagram_analytics
		WHERE social_account_id = $1 AND metric_type = $2 AND metric_name = $3
		  AND date_collected = $4 AND media_id = $5
	`
	err = r.db.QueryRowContext(ctx, r.db.Dialect.Rebind(idQuery),
		sample.SocialAccountID,
		sample.MetricType,
		sample.MetricName,
		dateParam(sample.DateCollected),
		sample.MediaID,
	).Scan(&sample.ID)
	return wrapErr("store sample", err)
}

func validateSample(sample *models.AnalyticsSample) error {
	if sample == nil {
		return models.ValidationError{Field: "sample", Message: "sample is required"}
	}
	if sample.SocialAccountID == "" {
		return models.ValidationError{Field: "social_account_id", Message: "account id is required"}
	}
	switch sample.MetricType {
	case models.MetricTypeProfile, models.MetricTypeMedia:
	default:
		return models.ValidationError{Field: "metric_type", Message: fmt.Sprintf("must be profile or media, got %q", sample.MetricType)}
	}
	if strings.TrimSpace(sample.MetricName) == "" {
		return models.ValidationError{Field: "metric_name", Message: "metric name is required"}
	}
	return nil
}

// QuerySamples returns samples for accountID, optionally filtered by metric type
// and an inclusive date range, ordered newest date first.
func (r *SQLAnalyticsRepository) QuerySamples(ctx context.Context, accountID string, query models.SampleQuery) ([]*models.AnalyticsSample, error) {
	conditions := []string{"social_account_id = $1"}
	args := []interface{}{accountID}

	if query.MetricType != "" {
		args = append(args, query.MetricType)
		conditions = append(conditions, fmt.Sprintf("metric_type = $%d", len(args)))
	}
	if query.Range != nil {
		args = append(args, dateParam(query.Range.Start))
		conditions = append(conditions, fmt.Sprintf("date_collected >= $%d", len(args)))
		args = append(args, dateParam(query.Range.End))
		conditions = append(conditions, fmt.Sprintf("date_collected <= $%d", len(args)))
	}

	sqlQuery := `
		SELECT id, social_account_id, metric_type, metric_name, metric_value,
		       period, media_id, date_collected, created_at
		FROM instagram_analytics
		WHERE ` + strings.Join(conditions, " AND ") + `
		ORDER BY date_collected DESC, created_at DESC, metric_name ASC
	`

	rows, err := r.db.QueryContext(ctx, r.db.Dialect.Rebind(sqlQuery), args...)
	if err != nil {
		return nil, wrapErr("query samples", err)
	}
	defer rows.Close()

	samples := make([]*models.AnalyticsSample, 0)
	for rows.Next() {
		var sample models.AnalyticsSample
		var valueJSON []byte
		var period sql.NullString
		var dateCollected, createdAt timestamp

		if err := rows.Scan(
			&sample.ID,
			&sample.SocialAccountID,
			&sample.MetricType,
			&sample.MetricName,
			&valueJSON,
			&period,
			&sample.MediaID,
			&dateCollected,
			&createdAt,
		); err != nil {
			return nil, wrapErr("query samples", err)
		}

		// An unreadable payload charts as zero instead of failing the query.
		if len(valueJSON) > 0 && json.Unmarshal(valueJSON, &sample.MetricValue) != nil {
			sample.MetricValue = models.MetricValue{}
		}
		sample.Period = nullString(period)
		sample.DateCollected = models.TruncateDate(dateCollected.Time)
		sample.CreatedAt = createdAt.Time

		samples = append(samples, &sample)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("query samples", err)
	}

	return samples, nil
}

// DeleteSamplesForAccount removes every sample recorded for accountID and
// returns the number of rows deleted.
func (r *SQLAnalyticsRepository) DeleteSamplesForAccount(ctx context.Context, accountID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, r.db.Dialect.Rebind(`DELETE FROM instagram_analytics WHERE social_account_id = $1`), accountID)
	if err != nil {
		return 0, wrapErr("delete samples", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, wrapErr("delete samples", err)
	}
	return affected, nil
}
