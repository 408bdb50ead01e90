package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialpulse/socialpulse/internal/models"
	"github.com/socialpulse/socialpulse/internal/retry"
	"github.com/socialpulse/socialpulse/internal/security"
)

var baseTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newAccountRepo(t *testing.T) (*SQLSocialAccountRepository, *fakeClock, *DB) {
	t.Helper()
	db := newTestDB(t)
	clock := newFakeClock(baseTime)
	repo := NewSQLSocialAccountRepository(db, newTestCipher(t), discardLogger())
	repo.SetClock(clock.Now)
	repo.SetRetryPolicy(retry.Policy{
		MaxRetries:     10,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		BackoffFactor:  2,
	})
	return repo, clock, db
}

func newInstagramAccount(userID, platformUserID string) *models.SocialAccount {
	name := "Display " + platformUserID
	return &models.SocialAccount{
		UserID:         userID,
		Platform:       models.PlatformInstagram,
		PlatformUserID: platformUserID,
		Username:       "user_" + platformUserID,
		DisplayName:    &name,
		Metadata: models.AccountMetadata{
			FollowersCount: 1000,
			MediaCount:     12,
			Biography:      "bio",
		},
	}
}

func activeCount(t *testing.T, accounts []*models.SocialAccount, platform models.Platform) int {
	t.Helper()
	n := 0
	for _, a := range accounts {
		if a.Platform == platform && a.IsActive {
			n++
		}
	}
	return n
}

func TestCreateAccountKeepsSingleActivePerPlatform(t *testing.T) {
	repo, clock, _ := newAccountRepo(t)
	ctx := context.Background()

	first := newInstagramAccount("user-1", "ig-1")
	require.NoError(t, repo.CreateAccount(ctx, first))
	assert.NotEmpty(t, first.ID)
	assert.True(t, first.IsActive)
	assert.WithinDuration(t, baseTime, first.CreatedAt, 0)

	clock.Advance(time.Minute)
	second := newInstagramAccount("user-1", "ig-2")
	require.NoError(t, repo.CreateAccount(ctx, second))

	// A different platform and a different user are unaffected.
	clock.Advance(time.Minute)
	tiktok := newInstagramAccount("user-1", "tt-1")
	tiktok.Platform = models.PlatformTikTok
	require.NoError(t, repo.CreateAccount(ctx, tiktok))
	other := newInstagramAccount("user-2", "ig-3")
	require.NoError(t, repo.CreateAccount(ctx, other))

	accounts, err := repo.ListAccounts(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, accounts, 3)

	assert.Equal(t, tiktok.ID, accounts[0].ID, "newest first")
	assert.Equal(t, second.ID, accounts[1].ID)
	assert.Equal(t, first.ID, accounts[2].ID)

	assert.Equal(t, 1, activeCount(t, accounts, models.PlatformInstagram))
	assert.True(t, accounts[1].IsActive)
	assert.False(t, accounts[2].IsActive)
	assert.True(t, accounts[0].IsActive)

	stored, err := repo.GetAccount(ctx, second.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "user_ig-2", stored.Username)
	assert.Equal(t, "Display ig-2", *stored.DisplayName)
	assert.Nil(t, stored.AvatarURL)
	assert.Equal(t, int64(1000), stored.Metadata.FollowersCount)
	assert.Equal(t, "bio", stored.Metadata.Biography)

	otherActive, err := repo.GetActiveAccount(ctx, "user-2", models.PlatformInstagram)
	require.NoError(t, err)
	require.NotNil(t, otherActive)
	assert.Equal(t, other.ID, otherActive.ID)
}

func TestListActiveAccountsSpansUsers(t *testing.T) {
	repo, clock, _ := newAccountRepo(t)
	ctx := context.Background()

	replaced := newInstagramAccount("user-1", "ig-1")
	require.NoError(t, repo.CreateAccount(ctx, replaced))
	clock.Advance(time.Minute)
	current := newInstagramAccount("user-1", "ig-2")
	require.NoError(t, repo.CreateAccount(ctx, current))
	clock.Advance(time.Minute)
	other := newInstagramAccount("user-2", "ig-3")
	require.NoError(t, repo.CreateAccount(ctx, other))
	tiktok := newInstagramAccount("user-2", "tt-1")
	tiktok.Platform = models.PlatformTikTok
	require.NoError(t, repo.CreateAccount(ctx, tiktok))

	active, err := repo.ListActiveAccounts(ctx, models.PlatformInstagram)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, current.ID, active[0].ID)
	assert.Equal(t, other.ID, active[1].ID)
}

func TestCreateAccountConcurrentWritersLeaveOneActive(t *testing.T) {
	repo, _, _ := newAccountRepo(t)
	ctx := context.Background()

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- repo.CreateAccount(ctx, newInstagramAccount("user-1", fmt.Sprintf("ig-%d", i)))
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	accounts, err := repo.ListAccounts(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, accounts, writers)
	assert.Equal(t, 1, activeCount(t, accounts, models.PlatformInstagram))
}

func TestActivePartialIndexRejectsSecondActiveRow(t *testing.T) {
	repo, _, db := newAccountRepo(t)
	ctx := context.Background()

	account := newInstagramAccount("user-1", "ig-1")
	require.NoError(t, repo.CreateAccount(ctx, account))

	_, err := db.ExecContext(ctx, db.Dialect.Rebind(`
		INSERT INTO social_accounts
		(id, user_id, platform, platform_user_id, username, is_active, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`), "raw-id", "user-1", "instagram", "ig-raw", "raw", true, "{}", baseTime, baseTime)
	require.Error(t, err)
	assert.True(t, isUniqueViolation(err), "got %v", err)
}

func TestCreateAccountValidatesInput(t *testing.T) {
	repo, _, _ := newAccountRepo(t)
	ctx := context.Background()

	cases := map[string]func(a *models.SocialAccount){
		"user":     func(a *models.SocialAccount) { a.UserID = "" },
		"platform": func(a *models.SocialAccount) { a.Platform = "myspace" },
		"remote":   func(a *models.SocialAccount) { a.PlatformUserID = " " },
		"username": func(a *models.SocialAccount) { a.Username = "" },
		"id":       func(a *models.SocialAccount) { a.ID = "acct-1" },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			account := newInstagramAccount("user-1", "ig-1")
			mutate(account)

			err := repo.CreateAccount(ctx, account)
			var vErr models.ValidationError
			assert.ErrorAs(t, err, &vErr)
		})
	}
}

func TestGetAccountMissingReturnsNil(t *testing.T) {
	repo, _, _ := newAccountRepo(t)

	account, err := repo.GetAccount(context.Background(), "does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, account)

	active, err := repo.GetActiveAccount(context.Background(), "nobody", models.PlatformInstagram)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestNonUUIDAccountIDsAreNotFound(t *testing.T) {
	repo, _, _ := newAccountRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.CreateAccount(ctx, newInstagramAccount("user-1", "ig-1")))

	account, err := repo.GetAccount(ctx, "not-a-uuid")
	require.NoError(t, err)
	assert.Nil(t, account)

	name := "x"
	_, err = repo.UpdateAccount(ctx, "not-a-uuid", models.AccountUpdate{DisplayName: &name})
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, repo.DeleteAccount(ctx, "not-a-uuid"), ErrNotFound)
	assert.ErrorIs(t, repo.UpdateToken(ctx, models.TokenInput{SocialAccountID: "not-a-uuid", AccessToken: "x"}), ErrNotFound)
}

func TestUpdateAccountAppliesWhitelistedFields(t *testing.T) {
	repo, clock, _ := newAccountRepo(t)
	ctx := context.Background()

	account := newInstagramAccount("user-1", "ig-1")
	require.NoError(t, repo.CreateAccount(ctx, account))

	clock.Advance(time.Hour)
	name := "Renamed"
	avatar := "https://cdn.example.com/a.jpg"
	updated, err := repo.UpdateAccount(ctx, account.ID, models.AccountUpdate{
		DisplayName: &name,
		AvatarURL:   &avatar,
		Metadata: &models.AccountMetadata{
			FollowersCount: 2000,
			Extra:          map[string]interface{}{"category": "creator"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "Renamed", *updated.DisplayName)
	assert.Equal(t, avatar, *updated.AvatarURL)
	assert.Equal(t, int64(2000), updated.Metadata.FollowersCount)
	assert.Equal(t, "creator", updated.Metadata.Extra["category"])
	assert.Equal(t, "user_ig-1", updated.Username, "non-whitelisted fields untouched")
	assert.WithinDuration(t, baseTime, updated.CreatedAt, 0)
	assert.WithinDuration(t, baseTime.Add(time.Hour), updated.UpdatedAt, 0)
}

func TestUpdateAccountActivationDeactivatesSiblings(t *testing.T) {
	repo, clock, _ := newAccountRepo(t)
	ctx := context.Background()

	first := newInstagramAccount("user-1", "ig-1")
	require.NoError(t, repo.CreateAccount(ctx, first))
	clock.Advance(time.Minute)
	second := newInstagramAccount("user-1", "ig-2")
	require.NoError(t, repo.CreateAccount(ctx, second))

	active := true
	updated, err := repo.UpdateAccount(ctx, first.ID, models.AccountUpdate{IsActive: &active})
	require.NoError(t, err)
	assert.True(t, updated.IsActive)

	accounts, err := repo.ListAccounts(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, activeCount(t, accounts, models.PlatformInstagram))

	current, err := repo.GetActiveAccount(ctx, "user-1", models.PlatformInstagram)
	require.NoError(t, err)
	assert.Equal(t, first.ID, current.ID)

	inactive := false
	_, err = repo.UpdateAccount(ctx, first.ID, models.AccountUpdate{IsActive: &inactive})
	require.NoError(t, err)

	accounts, err = repo.ListAccounts(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 0, activeCount(t, accounts, models.PlatformInstagram))
}

func TestUpdateAccountErrors(t *testing.T) {
	repo, _, _ := newAccountRepo(t)
	ctx := context.Background()

	_, err := repo.UpdateAccount(ctx, "missing", models.AccountUpdate{})
	var vErr models.ValidationError
	assert.ErrorAs(t, err, &vErr)

	name := "x"
	_, err = repo.UpdateAccount(ctx, "missing", models.AccountUpdate{DisplayName: &name})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteAccountCascades(t *testing.T) {
	repo, _, db := newAccountRepo(t)
	analytics := NewSQLAnalyticsRepository(db)
	ctx := context.Background()

	account := newInstagramAccount("user-1", "ig-1")
	require.NoError(t, repo.CreateAccount(ctx, account))
	_, err := repo.StoreToken(ctx, models.TokenInput{SocialAccountID: account.ID, AccessToken: "tok"})
	require.NoError(t, err)
	require.NoError(t, analytics.StoreSample(ctx, &models.AnalyticsSample{
		SocialAccountID: account.ID,
		MetricType:      models.MetricTypeProfile,
		MetricName:      "follower_count",
		MetricValue:     models.NewValue(10),
	}))

	require.NoError(t, repo.DeleteAccount(ctx, account.ID))

	gone, err := repo.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	for _, table := range []string{"access_tokens", "instagram_analytics"} {
		var n int
		require.NoError(t, db.QueryRowContext(ctx,
			db.Dialect.Rebind("SELECT COUNT(*) FROM "+table+" WHERE social_account_id = $1"), account.ID).Scan(&n))
		assert.Zero(t, n, table)
	}

	err = repo.DeleteAccount(ctx, account.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreTokenEncryptsAndUpserts(t *testing.T) {
	repo, clock, db := newAccountRepo(t)
	ctx := context.Background()

	account := newInstagramAccount("user-1", "ig-1")
	require.NoError(t, repo.CreateAccount(ctx, account))

	expires := baseTime.Add(60 * 24 * time.Hour)
	refresh := "refresh-plain"
	token, err := repo.StoreToken(ctx, models.TokenInput{
		SocialAccountID: account.ID,
		AccessToken:     "access-plain",
		RefreshToken:    &refresh,
		ExpiresAt:       &expires,
		Scopes:          []string{"instagram_business_basic", "instagram_business_manage_insights"},
	})
	require.NoError(t, err)

	assert.Equal(t, "bearer", token.TokenType)
	assert.NotContains(t, token.AccessToken, "access-plain")
	require.NotNil(t, token.RefreshToken)
	assert.NotContains(t, *token.RefreshToken, "refresh-plain")
	require.NotNil(t, token.ExpiresAt)
	assert.True(t, expires.Equal(*token.ExpiresAt))
	assert.Equal(t, []string{"instagram_business_basic", "instagram_business_manage_insights"}, token.Scopes)

	var raw string
	require.NoError(t, db.QueryRowContext(ctx,
		db.Dialect.Rebind("SELECT access_token FROM access_tokens WHERE social_account_id = $1"), account.ID).Scan(&raw))
	assert.False(t, strings.Contains(raw, "access-plain"))
	assert.Contains(t, raw, ":")

	clock.Advance(time.Hour)
	second, err := repo.StoreToken(ctx, models.TokenInput{SocialAccountID: account.ID, AccessToken: "rotated"})
	require.NoError(t, err)
	assert.Equal(t, token.ID, second.ID, "upsert keeps one row per account")
	assert.Nil(t, second.ExpiresAt)
	assert.Nil(t, second.RefreshToken)
	assert.Empty(t, second.Scopes)

	plain, ok, err := repo.GetValidToken(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "rotated", plain)
}

func TestGetValidTokenExpiry(t *testing.T) {
	repo, clock, _ := newAccountRepo(t)
	ctx := context.Background()

	account := newInstagramAccount("user-1", "ig-1")
	require.NoError(t, repo.CreateAccount(ctx, account))

	expires := baseTime.Add(time.Hour)
	_, err := repo.StoreToken(ctx, models.TokenInput{SocialAccountID: account.ID, AccessToken: "live", ExpiresAt: &expires})
	require.NoError(t, err)

	plain, ok, err := repo.GetValidToken(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "live", plain)

	clock.Set(expires)
	_, ok, err = repo.GetValidToken(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, ok, "a token expiring exactly now is still valid")

	clock.Set(expires.Add(time.Second))
	plain, ok, err = repo.GetValidToken(ctx, account.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, plain)
}

func TestGetValidTokenMissingOrCorrupt(t *testing.T) {
	repo, _, db := newAccountRepo(t)
	ctx := context.Background()

	_, ok, err := repo.GetValidToken(ctx, "no-such-account")
	require.NoError(t, err)
	assert.False(t, ok)

	account := newInstagramAccount("user-1", "ig-1")
	require.NoError(t, repo.CreateAccount(ctx, account))
	_, err = repo.StoreToken(ctx, models.TokenInput{SocialAccountID: account.ID, AccessToken: "tok"})
	require.NoError(t, err)

	_, err = db.ExecContext(ctx,
		db.Dialect.Rebind("UPDATE access_tokens SET access_token = $1 WHERE social_account_id = $2"),
		"not-a-valid-blob", account.ID)
	require.NoError(t, err)

	plain, ok, err := repo.GetValidToken(ctx, account.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, plain)
}

func TestGetValidTokenForeignKeyCipher(t *testing.T) {
	repo, _, db := newAccountRepo(t)
	ctx := context.Background()

	account := newInstagramAccount("user-1", "ig-1")
	require.NoError(t, repo.CreateAccount(ctx, account))
	_, err := repo.StoreToken(ctx, models.TokenInput{SocialAccountID: account.ID, AccessToken: "tok"})
	require.NoError(t, err)

	foreign, err := security.NewTokenCipher([]byte("different-key"))
	require.NoError(t, err)
	otherRepo := NewSQLSocialAccountRepository(db, foreign, discardLogger())

	_, ok, err := otherRepo.GetValidToken(ctx, account.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdateTokenAndExpiringList(t *testing.T) {
	repo, _, _ := newAccountRepo(t)
	ctx := context.Background()

	soon := newInstagramAccount("user-1", "ig-1")
	require.NoError(t, repo.CreateAccount(ctx, soon))
	later := newInstagramAccount("user-2", "ig-2")
	require.NoError(t, repo.CreateAccount(ctx, later))
	forever := newInstagramAccount("user-3", "ig-3")
	require.NoError(t, repo.CreateAccount(ctx, forever))

	soonExp := baseTime.Add(24 * time.Hour)
	laterExp := baseTime.Add(30 * 24 * time.Hour)
	_, err := repo.StoreToken(ctx, models.TokenInput{SocialAccountID: soon.ID, AccessToken: "a", ExpiresAt: &soonExp})
	require.NoError(t, err)
	_, err = repo.StoreToken(ctx, models.TokenInput{SocialAccountID: later.ID, AccessToken: "b", ExpiresAt: &laterExp})
	require.NoError(t, err)
	_, err = repo.StoreToken(ctx, models.TokenInput{SocialAccountID: forever.ID, AccessToken: "c"})
	require.NoError(t, err)

	expiring, err := repo.ListTokensExpiringBefore(ctx, baseTime.Add(7*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, expiring, 1)
	assert.Equal(t, soon.ID, expiring[0].SocialAccountID)
	assert.True(t, soonExp.Equal(expiring[0].ExpiresAt))

	newExp := baseTime.Add(60 * 24 * time.Hour)
	require.NoError(t, repo.UpdateToken(ctx, models.TokenInput{SocialAccountID: soon.ID, AccessToken: "a2", ExpiresAt: &newExp}))

	plain, ok, err := repo.GetValidToken(ctx, soon.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "a2", plain)

	expiring, err = repo.ListTokensExpiringBefore(ctx, baseTime.Add(7*24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, expiring)

	err = repo.UpdateToken(ctx, models.TokenInput{SocialAccountID: "missing", AccessToken: "x"})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestUpdateTokenRotatesRefreshToken(t *testing.T) {
	repo, _, _ := newAccountRepo(t)
	ctx := context.Background()
	cipher := newTestCipher(t)

	account := newInstagramAccount("user-1", "ig-1")
	require.NoError(t, repo.CreateAccount(ctx, account))
	original := "refresh-1"
	_, err := repo.StoreToken(ctx, models.TokenInput{
		SocialAccountID: account.ID,
		AccessToken:     "a",
		RefreshToken:    &original,
		Scopes:          []string{"instagram_business_basic"},
	})
	require.NoError(t, err)

	rotated := "refresh-2"
	require.NoError(t, repo.UpdateToken(ctx, models.TokenInput{SocialAccountID: account.ID, AccessToken: "a2", RefreshToken: &rotated}))

	token, err := repo.getToken(ctx, account.ID)
	require.NoError(t, err)
	require.NotNil(t, token.RefreshToken)
	assert.NotContains(t, *token.RefreshToken, "refresh-2")
	plain, err := cipher.Decrypt(*token.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "refresh-2", plain)
	assert.Equal(t, []string{"instagram_business_basic"}, token.Scopes)

	require.NoError(t, repo.UpdateToken(ctx, models.TokenInput{SocialAccountID: account.ID, AccessToken: "a3"}))
	token, err = repo.getToken(ctx, account.ID)
	require.NoError(t, err)
	require.NotNil(t, token.RefreshToken)
	plain, err = cipher.Decrypt(*token.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "refresh-2", plain, "omitted refresh token keeps the stored one")
}

func TestCreateAccountWithTokenStoresBoth(t *testing.T) {
	repo, _, _ := newAccountRepo(t)
	ctx := context.Background()

	first := newInstagramAccount("user-1", "ig-1")
	require.NoError(t, repo.CreateAccount(ctx, first))

	expires := baseTime.Add(60 * 24 * time.Hour)
	second := newInstagramAccount("user-1", "ig-2")
	token, err := repo.CreateAccountWithToken(ctx, second, models.TokenInput{
		AccessToken: "long-lived",
		ExpiresAt:   &expires,
		Scopes:      []string{"instagram_business_basic"},
	})
	require.NoError(t, err)
	assert.Equal(t, second.ID, token.SocialAccountID)
	assert.Equal(t, "bearer", token.TokenType)
	assert.NotContains(t, token.AccessToken, "long-lived")
	assert.True(t, second.IsActive)

	plain, ok, err := repo.GetValidToken(ctx, second.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "long-lived", plain)

	previous, err := repo.GetAccount(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, previous.IsActive)
}

func TestCreateAccountWithTokenRollsBackOnTokenFailure(t *testing.T) {
	repo, _, db := newAccountRepo(t)
	ctx := context.Background()

	first := newInstagramAccount("user-1", "ig-1")
	require.NoError(t, repo.CreateAccount(ctx, first))
	_, err := db.ExecContext(ctx, "DROP TABLE access_tokens")
	require.NoError(t, err)

	_, err = repo.CreateAccountWithToken(ctx, newInstagramAccount("user-1", "ig-2"), models.TokenInput{AccessToken: "t"})
	var dataErr *DataAccessError
	require.ErrorAs(t, err, &dataErr)

	accounts, err := repo.ListAccounts(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, first.ID, accounts[0].ID)
	assert.True(t, accounts[0].IsActive)
}

func TestCreateAccountWithTokenRequiresAccessToken(t *testing.T) {
	repo, _, _ := newAccountRepo(t)
	ctx := context.Background()

	_, err := repo.CreateAccountWithToken(ctx, newInstagramAccount("user-1", "ig-1"), models.TokenInput{})
	var vErr models.ValidationError
	assert.ErrorAs(t, err, &vErr)

	accounts, err := repo.ListAccounts(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, accounts)
}
