package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialpulse/socialpulse/internal/models"
)

func newAnalyticsFixture(t *testing.T) (*SQLAnalyticsRepository, *fakeClock, string) {
	t.Helper()
	accounts, _, db := newAccountRepo(t)

	account := newInstagramAccount("user-1", "ig-1")
	require.NoError(t, accounts.CreateAccount(context.Background(), account))

	clock := newFakeClock(baseTime)
	repo := NewSQLAnalyticsRepository(db)
	repo.SetClock(clock.Now)
	return repo, clock, account.ID
}

func day(d int) time.Time {
	return time.Date(2024, 6, d, 0, 0, 0, 0, time.UTC)
}

func TestStoreSampleIsIdempotentPerDay(t *testing.T) {
	repo, clock, accountID := newAnalyticsFixture(t)
	ctx := context.Background()

	first := &models.AnalyticsSample{
		SocialAccountID: accountID,
		MetricType:      models.MetricTypeProfile,
		MetricName:      "follower_count",
		MetricValue:     models.NewValue(100),
		DateCollected:   day(1).Add(9 * time.Hour),
	}
	require.NoError(t, repo.StoreSample(ctx, first))
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, day(1), first.DateCollected, "truncated to the calendar day")

	clock.Advance(time.Hour)
	period := "day"
	second := &models.AnalyticsSample{
		SocialAccountID: accountID,
		MetricType:      models.MetricTypeProfile,
		MetricName:      "follower_count",
		MetricValue:     models.NewValue(120),
		Period:          &period,
		DateCollected:   day(1),
	}
	require.NoError(t, repo.StoreSample(ctx, second))
	assert.Equal(t, first.ID, second.ID, "same row overwritten")

	samples, err := repo.QuerySamples(ctx, accountID, models.SampleQuery{})
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, 120.0, samples[0].MetricValue.Numeric())
	require.NotNil(t, samples[0].Period)
	assert.Equal(t, "day", *samples[0].Period)
	assert.WithinDuration(t, baseTime.Add(time.Hour), samples[0].CreatedAt, 0)
}

func TestStoreSampleDistinguishesMediaAndDates(t *testing.T) {
	repo, _, accountID := newAnalyticsFixture(t)
	ctx := context.Background()

	samples := []*models.AnalyticsSample{
		{SocialAccountID: accountID, MetricType: models.MetricTypeMedia, MetricName: "likes", MediaID: "m1", MetricValue: models.NewValue(5), DateCollected: day(2)},
		{SocialAccountID: accountID, MetricType: models.MetricTypeMedia, MetricName: "likes", MediaID: "m2", MetricValue: models.NewValue(7), DateCollected: day(2)},
		{SocialAccountID: accountID, MetricType: models.MetricTypeMedia, MetricName: "likes", MediaID: "m1", MetricValue: models.NewValue(9), DateCollected: day(3)},
		{SocialAccountID: accountID, MetricType: models.MetricTypeProfile, MetricName: "likes", MetricValue: models.NewValue(1), DateCollected: day(2)},
	}
	for _, s := range samples {
		require.NoError(t, repo.StoreSample(ctx, s))
	}

	all, err := repo.QuerySamples(ctx, accountID, models.SampleQuery{})
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestStoreSampleDefaultsToToday(t *testing.T) {
	repo, _, accountID := newAnalyticsFixture(t)

	sample := &models.AnalyticsSample{
		SocialAccountID: accountID,
		MetricType:      models.MetricTypeProfile,
		MetricName:      "reach",
		MetricValue:     models.NewCount(33),
	}
	require.NoError(t, repo.StoreSample(context.Background(), sample))
	assert.Equal(t, day(1), sample.DateCollected)
}

func TestStoreSampleValidates(t *testing.T) {
	repo, _, accountID := newAnalyticsFixture(t)
	ctx := context.Background()

	cases := map[string]*models.AnalyticsSample{
		"nil":          nil,
		"no account":   {MetricType: models.MetricTypeProfile, MetricName: "reach"},
		"bad type":     {SocialAccountID: accountID, MetricType: "story", MetricName: "reach"},
		"missing name": {SocialAccountID: accountID, MetricType: models.MetricTypeProfile},
	}

	for name, sample := range cases {
		t.Run(name, func(t *testing.T) {
			var vErr models.ValidationError
			assert.ErrorAs(t, repo.StoreSample(ctx, sample), &vErr)
		})
	}
}

func TestQuerySamplesFiltersAndOrders(t *testing.T) {
	repo, _, accountID := newAnalyticsFixture(t)
	ctx := context.Background()

	for d := 1; d <= 5; d++ {
		require.NoError(t, repo.StoreSample(ctx, &models.AnalyticsSample{
			SocialAccountID: accountID,
			MetricType:      models.MetricTypeProfile,
			MetricName:      "follower_count",
			MetricValue:     models.NewValue(float64(100 + d)),
			DateCollected:   day(d),
		}))
	}
	require.NoError(t, repo.StoreSample(ctx, &models.AnalyticsSample{
		SocialAccountID: accountID,
		MetricType:      models.MetricTypeMedia,
		MetricName:      "likes",
		MediaID:         "m1",
		MetricValue:     models.NewValue(40),
		DateCollected:   day(3),
	}))

	profile, err := repo.QuerySamples(ctx, accountID, models.SampleQuery{MetricType: models.MetricTypeProfile})
	require.NoError(t, err)
	require.Len(t, profile, 5)
	for i := 1; i < len(profile); i++ {
		assert.True(t, profile[i-1].DateCollected.After(profile[i].DateCollected), "newest first")
	}
	assert.Equal(t, day(5), profile[0].DateCollected)

	ranged, err := repo.QuerySamples(ctx, accountID, models.SampleQuery{
		Range: &models.DateRange{Start: day(2), End: day(4).Add(23 * time.Hour)},
	})
	require.NoError(t, err)
	assert.Len(t, ranged, 4, "days 2-4 inclusive plus the media sample on day 3")

	media, err := repo.QuerySamples(ctx, accountID, models.SampleQuery{MetricType: models.MetricTypeMedia})
	require.NoError(t, err)
	require.Len(t, media, 1)
	assert.Equal(t, "m1", media[0].MediaID)

	none, err := repo.QuerySamples(ctx, "other-account", models.SampleQuery{})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestQuerySamplesSurvivesCorruptPayloads(t *testing.T) {
	repo, _, accountID := newAnalyticsFixture(t)
	ctx := context.Background()

	for _, name := range []string{"follower_count", "reach", "impressions", "profile_views"} {
		require.NoError(t, repo.StoreSample(ctx, &models.AnalyticsSample{
			SocialAccountID: accountID,
			MetricType:      models.MetricTypeProfile,
			MetricName:      name,
			MetricValue:     models.NewValue(10),
			DateCollected:   day(1),
		}))
	}

	corrupt := map[string]string{
		"reach":         `{"value":"n/a"}`,
		"impressions":   `42`,
		"profile_views": `not json`,
	}
	for name, payload := range corrupt {
		_, err := repo.db.ExecContext(ctx,
			repo.db.Dialect.Rebind(`UPDATE instagram_analytics SET metric_value = $1 WHERE metric_name = $2`),
			payload, name)
		require.NoError(t, err)
	}

	samples, err := repo.QuerySamples(ctx, accountID, models.SampleQuery{})
	require.NoError(t, err)
	require.Len(t, samples, 4)

	values := map[string]float64{}
	for _, s := range samples {
		values[s.MetricName] = s.MetricValue.Numeric()
	}
	assert.Equal(t, map[string]float64{
		"follower_count": 10,
		"reach":          0,
		"impressions":    42,
		"profile_views":  0,
	}, values)
}

func TestDeleteSamplesForAccount(t *testing.T) {
	repo, _, accountID := newAnalyticsFixture(t)
	ctx := context.Background()

	for d := 1; d <= 3; d++ {
		require.NoError(t, repo.StoreSample(ctx, &models.AnalyticsSample{
			SocialAccountID: accountID,
			MetricType:      models.MetricTypeProfile,
			MetricName:      "reach",
			MetricValue:     models.NewValue(1),
			DateCollected:   day(d),
		}))
	}

	deleted, err := repo.DeleteSamplesForAccount(ctx, accountID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, deleted)

	remaining, err := repo.QuerySamples(ctx, accountID, models.SampleQuery{})
	require.NoError(t, err)
	assert.Empty(t, remaining)
}
