package analytics

import (
	"sort"
	"time"

	"github.com/socialpulse/socialpulse/internal/models"
)

type postAccumulator struct {
	summary models.PostSummary
	latest  time.Time
	seen    map[string]time.Time
}

// TopPosts groups media samples by media id and ranks posts by
// likes+comments+shares+saves, highest first. When a post has several
// readings of the same metric the most recent one wins. limit <= 0 returns
// every post. EngagementRate is left at 0; see WithEngagementRate.
func TopPosts(samples []*models.AnalyticsSample, limit int) []models.PostSummary {
	posts := make(map[string]*postAccumulator)

	for _, s := range samples {
		if s == nil || s.MetricType != models.MetricTypeMedia || s.MediaID == "" {
			continue
		}

		acc, ok := posts[s.MediaID]
		if !ok {
			acc = &postAccumulator{
				summary: models.PostSummary{MediaID: s.MediaID},
				seen:    make(map[string]time.Time),
			}
			posts[s.MediaID] = acc
		}
		if s.DateCollected.After(acc.latest) || acc.summary.Date == "" {
			acc.latest = s.DateCollected
			acc.summary.Date = s.DateCollected.UTC().Format(models.DateLayout)
		}

		if prev, dup := acc.seen[s.MetricName]; dup && prev.After(s.DateCollected) {
			continue
		}
		acc.seen[s.MetricName] = s.DateCollected

		value := s.MetricValue.Numeric()
		switch s.MetricName {
		case "likes":
			acc.summary.Likes = value
		case "comments":
			acc.summary.Comments = value
		case "shares":
			acc.summary.Shares = value
		case "saves", "saved":
			acc.summary.Saves = value
		}
	}

	result := make([]models.PostSummary, 0, len(posts))
	for _, acc := range posts {
		p := acc.summary
		p.TotalEngagement = p.Likes + p.Comments + p.Shares + p.Saves
		result = append(result, p)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].TotalEngagement != result[j].TotalEngagement {
			return result[i].TotalEngagement > result[j].TotalEngagement
		}
		return result[i].MediaID < result[j].MediaID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

// WithEngagementRate sets each post's engagement rate relative to followers.
func WithEngagementRate(posts []models.PostSummary, followers float64) []models.PostSummary {
	if followers <= 0 {
		return posts
	}
	for i := range posts {
		posts[i].EngagementRate = round2(posts[i].TotalEngagement / followers * 100)
	}
	return posts
}
