package instagram

import (
	"encoding/json"
	"time"
)

// InsightsResponse is the envelope returned by the insights endpoints.
type InsightsResponse struct {
	Data []Insight `json:"data"`
}

// Insight is a single metric with its reported values.
type Insight struct {
	ID          string         `json:"id,omitempty"`
	Name        string         `json:"name"`
	Period      string         `json:"period"`
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	Values      []InsightValue `json:"values,omitempty"`
	TotalValue  *struct {
		Value float64 `json:"value"`
	} `json:"total_value,omitempty"`
}

// InsightValue is one reading. Value is usually a number but breakdown
// metrics report an object keyed by dimension.
type InsightValue struct {
	Value   json.RawMessage `json:"value"`
	EndTime string          `json:"end_time,omitempty"`
}

// Number returns the value when it is numeric.
func (v InsightValue) Number() (float64, bool) {
	var f float64
	if err := json.Unmarshal(v.Value, &f); err != nil {
		return 0, false
	}
	return f, true
}

// EndDate parses EndTime, returning the zero time when absent or malformed.
func (v InsightValue) EndDate() time.Time {
	if v.EndTime == "" {
		return time.Time{}
	}
	for _, layout := range []string{"2006-01-02T15:04:05-0700", time.RFC3339} {
		if t, err := time.Parse(layout, v.EndTime); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// Latest returns the most recent numeric reading of the insight, preferring
// total_value when present.
func (i Insight) Latest() (float64, time.Time, bool) {
	if i.TotalValue != nil {
		return i.TotalValue.Value, time.Time{}, true
	}
	for idx := len(i.Values) - 1; idx >= 0; idx-- {
		if n, ok := i.Values[idx].Number(); ok {
			return n, i.Values[idx].EndDate(), true
		}
	}
	return 0, time.Time{}, false
}

// Media is a post owned by the account.
type Media struct {
	ID           string `json:"id"`
	Caption      string `json:"caption,omitempty"`
	MediaType    string `json:"media_type,omitempty"`
	MediaURL     string `json:"media_url,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	Permalink    string `json:"permalink,omitempty"`
	Timestamp    string `json:"timestamp,omitempty"`
}

// MediaPage is one page of the /me/media edge.
type MediaPage struct {
	Data   []Media `json:"data"`
	Paging *struct {
		Cursors struct {
			Before string `json:"before"`
			After  string `json:"after"`
		} `json:"cursors"`
		Next string `json:"next,omitempty"`
	} `json:"paging,omitempty"`
}
