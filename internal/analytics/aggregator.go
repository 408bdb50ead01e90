// Package analytics shapes stored metric samples into chart-ready series.
// Every function is pure and total: malformed or missing values count as 0
// and empty input yields empty output.
package analytics

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/socialpulse/socialpulse/internal/models"
)

// EngagementTarget is the engagement rate, in percent, charts draw as a goal.
const EngagementTarget = 5.0

// stableThreshold is the absolute percentage change below which a trend is
// reported as stable.
const stableThreshold = 1.0

// GroupBy selects the bucket width for AggregateByPeriod.
type GroupBy string

const (
	GroupByDay   GroupBy = "day"
	GroupByWeek  GroupBy = "week"
	GroupByMonth GroupBy = "month"
)

// ParseGroupBy maps s to a GroupBy, defaulting to day.
func ParseGroupBy(s string) GroupBy {
	switch GroupBy(s) {
	case GroupByWeek, GroupByMonth:
		return GroupBy(s)
	default:
		return GroupByDay
	}
}

// ToTimeSeries returns the samples named metricName whose date falls inside
// r (inclusive), ascending by date.
func ToTimeSeries(samples []*models.AnalyticsSample, metricName string, r models.DateRange) []models.ChartDataPoint {
	filtered := make([]*models.AnalyticsSample, 0, len(samples))
	for _, s := range samples {
		if s == nil || s.MetricName != metricName || !r.Contains(s.DateCollected) {
			continue
		}
		filtered = append(filtered, s)
	}
	sortAscending(filtered)

	points := make([]models.ChartDataPoint, 0, len(filtered))
	for _, s := range filtered {
		points = append(points, samplePoint(s))
	}
	return points
}

// EngagementRate computes (likes[i]+comments[i])/followers*100 per point of
// likes, rounded to two decimals. A missing comment point counts as 0.
func EngagementRate(likes, comments []models.ChartDataPoint, followers float64) []models.ChartDataPoint {
	if len(likes) == 0 || followers == 0 {
		return []models.ChartDataPoint{}
	}

	target := EngagementTarget
	points := make([]models.ChartDataPoint, 0, len(likes))
	for i, like := range likes {
		var commentValue float64
		if i < len(comments) {
			commentValue = comments[i].Value
		}
		total := like.Value + commentValue

		points = append(points, models.ChartDataPoint{
			Date:   like.Date,
			Value:  round2(total / followers * 100),
			Target: &target,
			Metadata: map[string]interface{}{
				"likes":            like.Value,
				"comments":         commentValue,
				"total_engagement": total,
				"followers":        followers,
			},
		})
	}
	return points
}

// GrowthRate compares current against previous. A zero previous value never
// divides: any positive current value counts as +100%.
func GrowthRate(current, previous float64) models.GrowthRate {
	if previous == 0 {
		if current > 0 {
			return models.GrowthRate{Rate: 100, Trend: models.TrendUp, Formatted: "+100%"}
		}
		return models.GrowthRate{Rate: 0, Trend: models.TrendStable, Formatted: "0%"}
	}

	rate := (current - previous) / previous * 100
	trend := models.TrendStable
	if math.Abs(rate) >= stableThreshold {
		if rate > 0 {
			trend = models.TrendUp
		} else {
			trend = models.TrendDown
		}
	}

	return models.GrowthRate{
		Rate:      round2(rate),
		Trend:     trend,
		Formatted: formatPercent(rate),
	}
}

// AggregateByPeriod buckets samples by day, Monday-start week, or month and
// averages each bucket. Labels are YYYY-MM-DD for day and week buckets and
// YYYY-MM for months.
func AggregateByPeriod(samples []*models.AnalyticsSample, groupBy GroupBy) []models.ChartDataPoint {
	groupBy = ParseGroupBy(string(groupBy))

	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, s := range samples {
		if s == nil {
			continue
		}
		key := bucketKey(s.DateCollected, groupBy)
		sums[key] += s.MetricValue.Numeric()
		counts[key]++
	}

	keys := make([]string, 0, len(sums))
	for k := range sums {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	points := make([]models.ChartDataPoint, 0, len(keys))
	for _, k := range keys {
		points = append(points, models.ChartDataPoint{
			Date:  k,
			Value: sums[k] / float64(counts[k]),
		})
	}
	return points
}

func bucketKey(t time.Time, groupBy GroupBy) string {
	d := models.TruncateDate(t)
	switch groupBy {
	case GroupByWeek:
		offset := (int(d.Weekday()) + 6) % 7
		return d.AddDate(0, 0, -offset).Format(models.DateLayout)
	case GroupByMonth:
		return d.Format("2006-01")
	default:
		return d.Format(models.DateLayout)
	}
}

// AggregateMediaMetrics runs AggregateByPeriod over the media samples of each
// named metric.
func AggregateMediaMetrics(samples []*models.AnalyticsSample, metricNames []string, groupBy GroupBy) map[string][]models.ChartDataPoint {
	result := make(map[string][]models.ChartDataPoint, len(metricNames))
	for _, name := range metricNames {
		matching := make([]*models.AnalyticsSample, 0)
		for _, s := range samples {
			if s != nil && s.MetricType == models.MetricTypeMedia && s.MetricName == name {
				matching = append(matching, s)
			}
		}
		result[name] = AggregateByPeriod(matching, groupBy)
	}
	return result
}

// Summarize compares the latest point with the one comparisonDays points
// earlier (or the first point when the series is shorter).
func Summarize(points []models.ChartDataPoint, comparisonDays int) models.MetricsSummary {
	if len(points) == 0 {
		return models.MetricsSummary{Trend: models.TrendStable, Formatted: "0%"}
	}
	if comparisonDays < 0 {
		comparisonDays = 0
	}

	sorted := make([]models.ChartDataPoint, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date < sorted[j].Date })

	current := sorted[len(sorted)-1].Value
	idx := len(sorted) - comparisonDays - 1
	if idx < 0 {
		idx = 0
	}
	previous := sorted[idx].Value

	change := current - previous
	var changePercent float64
	if previous > 0 {
		changePercent = change / previous * 100
	}

	trend := models.TrendStable
	if math.Abs(changePercent) > stableThreshold {
		if changePercent > 0 {
			trend = models.TrendUp
		} else {
			trend = models.TrendDown
		}
	}

	return models.MetricsSummary{
		Current:       current,
		Previous:      previous,
		Change:        change,
		ChangePercent: round2(changePercent),
		Trend:         trend,
		Formatted:     formatPercent(changePercent),
	}
}

// FormatMetricValue renders v for display: percentages for engagement
// metrics, otherwise K and M suffixes above a thousand.
func FormatMetricValue(v float64, metricType string) string {
	switch {
	case metricType == "engagement" || metricType == "engagement_rate":
		return formatNumber(v) + "%"
	case v >= 1_000_000:
		return fmt.Sprintf("%.1fM", v/1_000_000)
	case v >= 1_000:
		return fmt.Sprintf("%.1fK", v/1_000)
	default:
		return formatNumber(v)
	}
}

func samplePoint(s *models.AnalyticsSample) models.ChartDataPoint {
	metadata := s.MetricValue.Fields()
	if s.MediaID != "" {
		metadata["media_id"] = s.MediaID
	}
	return models.ChartDataPoint{
		Date:     s.DateCollected.UTC().Format(models.DateLayout),
		Value:    s.MetricValue.Numeric(),
		Metadata: metadata,
	}
}

func sortAscending(samples []*models.AnalyticsSample) {
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].DateCollected.Before(samples[j].DateCollected)
	})
}

func round2(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Round(v*100) / 100
}

func formatPercent(rate float64) string {
	sign := ""
	if rate > 0 {
		sign = "+"
	}
	return sign + formatNumber(round2(rate)) + "%"
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
