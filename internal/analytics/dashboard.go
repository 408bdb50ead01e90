package analytics

import (
	"sort"

	"github.com/socialpulse/socialpulse/internal/models"
)

// Profile and media metric names the dashboard charts.
const (
	MetricFollowerCount = "follower_count"
	MetricImpressions   = "impressions"
	MetricReach         = "reach"
	MetricProfileViews  = "profile_views"
	MetricLikes         = "likes"
	MetricComments      = "comments"
	MetricShares        = "shares"
	MetricSaves         = "saves"
)

// DefaultTopPosts bounds the ranked post list in a dashboard.
const DefaultTopPosts = 10

type ProfileMetrics struct {
	Followers    []models.ChartDataPoint `json:"followers"`
	Impressions  []models.ChartDataPoint `json:"impressions"`
	Reach        []models.ChartDataPoint `json:"reach"`
	ProfileViews []models.ChartDataPoint `json:"profile_views"`
}

type MediaMetrics struct {
	Likes    []models.ChartDataPoint `json:"likes"`
	Comments []models.ChartDataPoint `json:"comments"`
	Shares   []models.ChartDataPoint `json:"shares"`
	Saves    []models.ChartDataPoint `json:"saves"`
}

// CurrentStats are the headline numbers, taken from the account's profile
// snapshot rather than from samples.
type CurrentStats struct {
	Followers      int64   `json:"followers"`
	Following      int64   `json:"following"`
	Posts          int64   `json:"posts"`
	EngagementRate float64 `json:"engagement_rate"`
}

// Dashboard is the payload served for an account's analytics view.
type Dashboard struct {
	ProfileMetrics ProfileMetrics          `json:"profile_metrics"`
	MediaMetrics   MediaMetrics            `json:"media_metrics"`
	CurrentStats   CurrentStats            `json:"current_stats"`
	Engagement     []models.ChartDataPoint `json:"engagement"`
	FollowerGrowth models.MetricsSummary   `json:"follower_growth"`
	TopPosts       []models.PostSummary    `json:"top_posts"`
}

// BuildDashboard groups samples by metric name into ascending series and
// derives the engagement chart, follower growth and top posts. account may
// be nil.
func BuildDashboard(samples []*models.AnalyticsSample, account *models.SocialAccount) Dashboard {
	series := groupByMetric(samples)

	var stats CurrentStats
	if account != nil {
		stats.Followers = account.Metadata.FollowersCount
		stats.Following = account.Metadata.FollowsCount
		stats.Posts = account.Metadata.MediaCount
	}
	followers := float64(stats.Followers)

	likes := series[MetricLikes]
	comments := series[MetricComments]
	stats.EngagementRate = averageEngagement(likes, comments, followers)

	return Dashboard{
		ProfileMetrics: ProfileMetrics{
			Followers:    series[MetricFollowerCount],
			Impressions:  series[MetricImpressions],
			Reach:        series[MetricReach],
			ProfileViews: series[MetricProfileViews],
		},
		MediaMetrics: MediaMetrics{
			Likes:    likes,
			Comments: comments,
			Shares:   series[MetricShares],
			Saves:    series[MetricSaves],
		},
		CurrentStats:   stats,
		Engagement:     EngagementRate(likes, comments, followers),
		FollowerGrowth: Summarize(series[MetricFollowerCount], 7),
		TopPosts:       WithEngagementRate(TopPosts(samples, DefaultTopPosts), followers),
	}
}

// groupByMetric returns a non-nil ascending series for every charted
// metric name.
func groupByMetric(samples []*models.AnalyticsSample) map[string][]models.ChartDataPoint {
	grouped := make(map[string][]*models.AnalyticsSample)
	for _, s := range samples {
		if s == nil {
			continue
		}
		grouped[s.MetricName] = append(grouped[s.MetricName], s)
	}

	names := []string{
		MetricFollowerCount, MetricImpressions, MetricReach, MetricProfileViews,
		MetricLikes, MetricComments, MetricShares, MetricSaves,
	}
	series := make(map[string][]models.ChartDataPoint, len(names))
	for _, name := range names {
		group := grouped[name]
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].DateCollected.Before(group[j].DateCollected)
		})
		points := make([]models.ChartDataPoint, 0, len(group))
		for _, s := range group {
			points = append(points, samplePoint(s))
		}
		series[name] = points
	}
	return series
}

// averageEngagement is the mean per-post engagement as a percentage of
// followers.
func averageEngagement(likes, comments []models.ChartDataPoint, followers float64) float64 {
	if len(likes) == 0 || followers <= 0 {
		return 0
	}
	var total float64
	for i, like := range likes {
		total += like.Value
		if i < len(comments) {
			total += comments[i].Value
		}
	}
	return round2(total / float64(len(likes)) / followers * 100)
}
