// Package collector pulls Instagram profile and post insights into the
// analytics store.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/socialpulse/socialpulse/internal/instagram"
	"github.com/socialpulse/socialpulse/internal/models"
)

// ErrNoValidToken is returned when the account has no usable credential.
var ErrNoValidToken = errors.New("no valid access token for account")

var (
	ProfileInsightMetrics = []string{"reach", "impressions", "profile_views"}
	MediaInsightMetrics   = []string{"likes", "comments", "shares", "saved"}
)

// Provider is the subset of the Instagram client used for collection.
type Provider interface {
	GetProfile(ctx context.Context, token string) (*instagram.Profile, error)
	GetUserInsights(ctx context.Context, token string, metrics []string, period string) (*instagram.InsightsResponse, error)
	GetUserMedia(ctx context.Context, token string, limit int) (*instagram.MediaPage, error)
	GetMediaInsights(ctx context.Context, token, mediaID string, metrics []string) (*instagram.InsightsResponse, error)
}

// Observer receives sync outcomes. *metrics.Collector satisfies it.
type Observer interface {
	RecordSamplesStored(metricType string, n int)
	RecordSyncRun(outcome string)
}

// ActivityRecorder stores account history entries.
type ActivityRecorder interface {
	Log(ctx context.Context, entry models.ActivityLog) error
}

// Result summarizes one account sync.
type Result struct {
	AccountID      string `json:"account_id"`
	ProfileSamples int    `json:"profile_samples"`
	MediaSamples   int    `json:"media_samples"`
	Failures       int    `json:"failures"`
}

// Collector stores a daily snapshot of an account's metrics.
type Collector struct {
	provider   Provider
	accounts   models.SocialAccountRepository
	analytics  models.AnalyticsRepository
	observer   Observer
	activity   ActivityRecorder
	logger     *slog.Logger
	now        func() time.Time
	mediaLimit int
}

func New(provider Provider, accounts models.SocialAccountRepository, analytics models.AnalyticsRepository, observer Observer, logger *slog.Logger) *Collector {
	return &Collector{
		provider:   provider,
		accounts:   accounts,
		analytics:  analytics,
		observer:   observer,
		logger:     logger,
		now:        time.Now,
		mediaLimit: 25,
	}
}

// SetClock replaces the time source for the collection date.
func (c *Collector) SetClock(now func() time.Time) {
	c.now = now
}

// SetActivityLog records each sync in the owning user's account history.
func (c *Collector) SetActivityLog(activity ActivityRecorder) {
	c.activity = activity
}

// Sync collects profile counters, profile insights and recent post insights
// for account. A missing token or a failed profile fetch aborts the run;
// insight failures are logged, counted in Result.Failures and skipped.
func (c *Collector) Sync(ctx context.Context, account *models.SocialAccount) (*Result, error) {
	start := time.Now()
	result, err := c.sync(ctx, account)
	if c.observer != nil {
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		c.observer.RecordSyncRun(outcome)
	}
	c.recordActivity(ctx, account, result, err, time.Since(start))
	return result, err
}

func (c *Collector) recordActivity(ctx context.Context, account *models.SocialAccount, result *Result, syncErr error, elapsed time.Duration) {
	if c.activity == nil {
		return
	}

	durationMs := int(elapsed.Milliseconds())
	entry := models.ActivityLog{
		UserID:          account.UserID,
		SocialAccountID: account.ID,
		ActivityType:    models.ActivityTypeSync,
		Platform:        account.Platform,
		DurationMs:      &durationMs,
	}
	if syncErr != nil {
		entry.Message = "Analytics sync failed"
		entry.Details = map[string]interface{}{"error": syncErr.Error()}
	} else {
		samples := result.ProfileSamples + result.MediaSamples
		entry.SampleCount = &samples
		entry.Message = fmt.Sprintf("Collected %d samples", samples)
		entry.Details = map[string]interface{}{
			"profile_samples": result.ProfileSamples,
			"media_samples":   result.MediaSamples,
			"failures":        result.Failures,
		}
	}

	if err := c.activity.Log(ctx, entry); err != nil {
		c.logger.Warn("failed to record sync activity", "account_id", account.ID, "error", err)
	}
}

func (c *Collector) sync(ctx context.Context, account *models.SocialAccount) (*Result, error) {
	if account.Platform != models.PlatformInstagram {
		return nil, fmt.Errorf("invalid platform: %s", account.Platform)
	}

	token, ok, err := c.accounts.GetValidToken(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("load token: %w", err)
	}
	if !ok {
		return nil, ErrNoValidToken
	}

	result := &Result{AccountID: account.ID}
	today := models.TruncateDate(c.now())

	profile, err := c.provider.GetProfile(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := c.refreshMetadata(ctx, account, profile); err != nil {
		return nil, err
	}

	counters := map[string]int64{
		"follower_count": profile.FollowersCount,
		"follows_count":  profile.FollowsCount,
		"media_count":    profile.MediaCount,
	}
	for name, value := range counters {
		if err := c.store(ctx, account.ID, models.MetricTypeProfile, name, "", nil, float64(value), today); err != nil {
			return nil, err
		}
		result.ProfileSamples++
	}

	insights, err := c.provider.GetUserInsights(ctx, token, ProfileInsightMetrics, "day")
	if err != nil {
		c.logger.Warn("profile insights unavailable", "account_id", account.ID, "error", err)
		result.Failures++
	} else {
		n, err := c.storeInsights(ctx, account.ID, models.MetricTypeProfile, "", insights, today)
		if err != nil {
			return nil, err
		}
		result.ProfileSamples += n
	}

	media, err := c.provider.GetUserMedia(ctx, token, c.mediaLimit)
	if err != nil {
		c.logger.Warn("media list unavailable", "account_id", account.ID, "error", err)
		result.Failures++
	} else {
		for _, post := range media.Data {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			postInsights, err := c.provider.GetMediaInsights(ctx, token, post.ID, MediaInsightMetrics)
			if err != nil {
				c.logger.Warn("media insights unavailable",
					"account_id", account.ID,
					"media_id", post.ID,
					"error", err)
				result.Failures++
				continue
			}
			n, err := c.storeInsights(ctx, account.ID, models.MetricTypeMedia, post.ID, postInsights, today)
			if err != nil {
				return nil, err
			}
			result.MediaSamples += n
		}
	}

	if c.observer != nil {
		c.observer.RecordSamplesStored(models.MetricTypeProfile, result.ProfileSamples)
		c.observer.RecordSamplesStored(models.MetricTypeMedia, result.MediaSamples)
	}

	c.logger.Info("analytics sync complete",
		"account_id", account.ID,
		"profile_samples", result.ProfileSamples,
		"media_samples", result.MediaSamples,
		"failures", result.Failures)

	return result, nil
}

func (c *Collector) refreshMetadata(ctx context.Context, account *models.SocialAccount, profile *instagram.Profile) error {
	metadata := account.Metadata
	metadata.FollowersCount = profile.FollowersCount
	metadata.FollowsCount = profile.FollowsCount
	metadata.MediaCount = profile.MediaCount
	metadata.Biography = profile.Biography
	metadata.Website = profile.Website

	update := models.AccountUpdate{Metadata: &metadata}
	if profile.ProfilePictureURL != "" {
		avatar := profile.ProfilePictureURL
		update.AvatarURL = &avatar
	}

	updated, err := c.accounts.UpdateAccount(ctx, account.ID, update)
	if err != nil {
		return fmt.Errorf("update account metadata: %w", err)
	}
	*account = *updated
	return nil
}

func (c *Collector) storeInsights(ctx context.Context, accountID, metricType, mediaID string, insights *instagram.InsightsResponse, today time.Time) (int, error) {
	stored := 0
	for _, insight := range insights.Data {
		value, at, ok := insight.Latest()
		if !ok {
			continue
		}
		date := today
		if !at.IsZero() {
			date = models.TruncateDate(at)
		}

		var period *string
		if insight.Period != "" {
			p := insight.Period
			period = &p
		}

		if err := c.store(ctx, accountID, metricType, metricName(insight.Name), mediaID, period, value, date); err != nil {
			return stored, err
		}
		stored++
	}
	return stored, nil
}

func (c *Collector) store(ctx context.Context, accountID, metricType, name, mediaID string, period *string, value float64, date time.Time) error {
	sample := &models.AnalyticsSample{
		SocialAccountID: accountID,
		MetricType:      metricType,
		MetricName:      name,
		MetricValue:     models.NewValue(value),
		Period:          period,
		MediaID:         mediaID,
		DateCollected:   date,
	}
	if err := c.analytics.StoreSample(ctx, sample); err != nil {
		return fmt.Errorf("store %s sample %s: %w", metricType, name, err)
	}
	return nil
}

// metricName maps provider metric names onto the names charts use.
func metricName(name string) string {
	switch name {
	case "saved":
		return "saves"
	case "followers_count":
		return "follower_count"
	default:
		return name
	}
}
