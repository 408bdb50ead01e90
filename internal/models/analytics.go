package models

import (
	"context"
	"encoding/json"
	"time"
)

// Metric types group samples by the level they were collected at.
const (
	MetricTypeProfile = "profile"
	MetricTypeMedia   = "media"
)

// DateLayout is the calendar-date format used for date_collected and chart labels.
const DateLayout = "2006-01-02"

// AnalyticsSample is one recorded value of a named metric for an account, and
// optionally a single post, on a calendar date. The tuple (SocialAccountID,
// MetricType, MetricName, DateCollected, MediaID) is unique.
type AnalyticsSample struct {
	ID              string      `json:"id"`
	SocialAccountID string      `json:"social_account_id"`
	MetricType      string      `json:"metric_type"`
	MetricName      string      `json:"metric_name"`
	MetricValue     MetricValue `json:"metric_value"`
	Period          *string     `json:"period"`
	MediaID         string      `json:"media_id,omitempty"`
	DateCollected   time.Time   `json:"date_collected"`
	CreatedAt       time.Time   `json:"created_at"`
}

// MetricValue is the numeric payload of a sample. Providers report either a
// value or a count; anything else they send is preserved in Extra.
type MetricValue struct {
	Value *float64
	Count *float64
	Extra map[string]interface{}
}

// NewValue returns a MetricValue holding v.
func NewValue(v float64) MetricValue {
	return MetricValue{Value: &v}
}

// NewCount returns a MetricValue holding a count.
func NewCount(c float64) MetricValue {
	return MetricValue{Count: &c}
}

// Numeric returns the sample's value, falling back to count when the value is
// missing or zero, and to 0 when neither is present.
func (m MetricValue) Numeric() float64 {
	if m.Value != nil && *m.Value != 0 {
		return *m.Value
	}
	if m.Count != nil {
		return *m.Count
	}
	return 0
}

// Fields flattens the payload into a plain map.
func (m MetricValue) Fields() map[string]interface{} {
	out := make(map[string]interface{}, len(m.Extra)+2)
	for k, v := range m.Extra {
		out[k] = v
	}
	if m.Value != nil {
		out["value"] = *m.Value
	}
	if m.Count != nil {
		out["count"] = *m.Count
	}
	return out
}

func (m MetricValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Fields())
}

// UnmarshalJSON never fails on well-formed JSON. A bare number becomes Value,
// a non-numeric value or count is kept in Extra, and any other non-object
// decodes to an empty MetricValue.
func (m *MetricValue) UnmarshalJSON(data []byte) error {
	*m = MetricValue{}

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		var f float64
		if json.Unmarshal(data, &f) == nil {
			m.Value = &f
		}
		return nil
	}

	for key, value := range raw {
		if key == "value" || key == "count" {
			if value == nil {
				continue
			}
			if f, ok := value.(float64); ok {
				if key == "value" {
					m.Value = &f
				} else {
					m.Count = &f
				}
				continue
			}
		}
		if m.Extra == nil {
			m.Extra = make(map[string]interface{})
		}
		m.Extra[key] = value
	}
	return nil
}

// DateRange is an inclusive range of calendar dates.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether the calendar date of t falls within the range.
func (r DateRange) Contains(t time.Time) bool {
	d := TruncateDate(t)
	return !d.Before(TruncateDate(r.Start)) && !d.After(TruncateDate(r.End))
}

// TruncateDate returns midnight UTC of t's calendar date in UTC.
func TruncateDate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// SampleQuery filters samples for an account.
type SampleQuery struct {
	MetricType string
	Range      *DateRange
}

// ChartDataPoint is a chart-ready value for a date label.
type ChartDataPoint struct {
	Date     string                 `json:"date"`
	Value    float64                `json:"value"`
	Target   *float64               `json:"target,omitempty"`
	Label    string                 `json:"label,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// PostSummary ranks a single post by engagement.
type PostSummary struct {
	MediaID         string  `json:"media_id"`
	Date            string  `json:"date"`
	Likes           float64 `json:"likes"`
	Comments        float64 `json:"comments"`
	Shares          float64 `json:"shares"`
	Saves           float64 `json:"saves"`
	TotalEngagement float64 `json:"total_engagement"`
	EngagementRate  float64 `json:"engagement_rate"`
}

// Trend directions.
const (
	TrendUp     = "up"
	TrendDown   = "down"
	TrendStable = "stable"
)

// GrowthRate describes the change between two values.
type GrowthRate struct {
	Rate      float64 `json:"rate"`
	Trend     string  `json:"trend"`
	Formatted string  `json:"formatted"`
}

// MetricsSummary compares the latest value of a series with an earlier one.
type MetricsSummary struct {
	Current       float64 `json:"current"`
	Previous      float64 `json:"previous"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"change_percent"`
	Trend         string  `json:"trend"`
	Formatted     string  `json:"formatted"`
}

// AnalyticsRepository persists metric samples.
type AnalyticsRepository interface {
	// StoreSample upserts sample on its idempotency key
	StoreSample(ctx context.Context, sample *AnalyticsSample) error

	// QuerySamples returns matching samples, newest date first
	QuerySamples(ctx context.Context, accountID string, query SampleQuery) ([]*AnalyticsSample, error)

	// DeleteSamplesForAccount removes all of an account's samples
	DeleteSamplesForAccount(ctx context.Context, accountID string) (int64, error)
}
