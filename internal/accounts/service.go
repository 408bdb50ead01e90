// Package accounts runs the Instagram connect flow and keeps stored
// credentials fresh.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/socialpulse/socialpulse/internal/instagram"
	"github.com/socialpulse/socialpulse/internal/models"
)

// Connect flow steps, used for metrics and failure reasons.
const (
	StepTokenExchange = "token_exchange"
	StepTokenUpgrade  = "token_upgrade"
	StepProfileFetch  = "profile_fetch"
	StepStorage       = "storage"
)

const defaultScope = "instagram_business_basic"

// Provider is the subset of the Instagram client the service needs.
type Provider interface {
	AuthorizationURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*instagram.ShortLivedToken, error)
	ExchangeLongLived(ctx context.Context, shortToken string) (*instagram.LongLivedToken, error)
	RefreshToken(ctx context.Context, token string) (*instagram.LongLivedToken, error)
	GetProfile(ctx context.Context, token string) (*instagram.Profile, error)
}

// Observer receives connect and refresh outcomes. *metrics.Collector
// satisfies it.
type Observer interface {
	RecordOAuthStep(step, outcome string)
	RecordTokenRefresh(outcome string)
}

// ActivityRecorder stores account history entries.
type ActivityRecorder interface {
	Log(ctx context.Context, entry models.ActivityLog) error
}

// Service connects Instagram accounts for users.
type Service struct {
	provider Provider
	repo     models.SocialAccountRepository
	observer Observer
	activity ActivityRecorder
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(provider Provider, repo models.SocialAccountRepository, observer Observer, logger *slog.Logger) *Service {
	return &Service{
		provider: provider,
		repo:     repo,
		observer: observer,
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock replaces the time source used for token expiry.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// SetActivityLog records connects and token refreshes in the user's account
// history.
func (s *Service) SetActivityLog(activity ActivityRecorder) {
	s.activity = activity
}

// AuthorizationURL returns the provider URL carrying state.
func (s *Service) AuthorizationURL(state string) string {
	return s.provider.AuthorizationURL(state)
}

// StepError reports which connect step failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// FailureReason maps a ConnectInstagram error to the reason code shown to
// the user.
func FailureReason(err error) string {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr.Step
	}
	return StepStorage
}

// ConnectInstagram completes the authorization code flow for userID:
// exchange, upgrade, profile fetch, then account and token storage. Nothing
// is persisted unless every provider call succeeds, and the account and its
// token are written in a single transaction.
func (s *Service) ConnectInstagram(ctx context.Context, userID, code string) (*models.SocialAccount, error) {
	short, err := s.provider.ExchangeCode(ctx, code)
	if err = s.step(StepTokenExchange, err); err != nil {
		return nil, err
	}

	long, err := s.provider.ExchangeLongLived(ctx, short.AccessToken)
	if err = s.step(StepTokenUpgrade, err); err != nil {
		return nil, err
	}

	profile, err := s.provider.GetProfile(ctx, long.AccessToken)
	if err = s.step(StepProfileFetch, err); err != nil {
		return nil, err
	}

	scopes := []string(short.Permissions)
	if len(scopes) == 0 {
		scopes = []string{defaultScope}
	}
	tokenType := long.TokenType
	if tokenType == "" {
		tokenType = "bearer"
	}

	account := accountFromProfile(userID, profile)
	_, err = s.repo.CreateAccountWithToken(ctx, account, models.TokenInput{
		AccessToken: long.AccessToken,
		TokenType:   tokenType,
		ExpiresAt:   long.ExpiresAt(s.now()),
		Scopes:      scopes,
	})
	if err != nil {
		return nil, s.step(StepStorage, fmt.Errorf("store account: %w", err))
	}
	s.step(StepStorage, nil)

	s.logger.Info("instagram account connected",
		"user_id", userID,
		"account_id", account.ID,
		"username", account.Username)

	s.logActivity(ctx, models.ActivityLog{
		UserID:          userID,
		SocialAccountID: account.ID,
		ActivityType:    models.ActivityTypeConnect,
		Platform:        models.PlatformInstagram,
		Message:         fmt.Sprintf("Connected @%s", account.Username),
		Details:         map[string]interface{}{"scopes": scopes},
	})

	return account, nil
}

func (s *Service) logActivity(ctx context.Context, entry models.ActivityLog) {
	if s.activity == nil {
		return
	}
	if err := s.activity.Log(ctx, entry); err != nil {
		s.logger.Warn("failed to record account activity",
			"activity_type", entry.ActivityType,
			"account_id", entry.SocialAccountID,
			"error", err)
	}
}

func (s *Service) step(name string, err error) error {
	if err != nil {
		s.record(name, "failure")
		s.logger.Warn("instagram connect step failed", "step", name, "error", err)
		return &StepError{Step: name, Err: err}
	}
	s.record(name, "success")
	return nil
}

func (s *Service) record(step, outcome string) {
	if s.observer != nil {
		s.observer.RecordOAuthStep(step, outcome)
	}
}

func accountFromProfile(userID string, p *instagram.Profile) *models.SocialAccount {
	displayName := p.Name
	if displayName == "" {
		displayName = p.Username
	}

	account := &models.SocialAccount{
		UserID:         userID,
		Platform:       models.PlatformInstagram,
		PlatformUserID: p.ID,
		Username:       p.Username,
		DisplayName:    &displayName,
		Metadata: models.AccountMetadata{
			FollowersCount: p.FollowersCount,
			FollowsCount:   p.FollowsCount,
			MediaCount:     p.MediaCount,
			Biography:      p.Biography,
			Website:        p.Website,
		},
	}
	if p.ProfilePictureURL != "" {
		avatar := p.ProfilePictureURL
		account.AvatarURL = &avatar
	}
	if p.AccountType != "" {
		accountType := p.AccountType
		account.AccountType = &accountType
	}
	return account
}

// RefreshExpiring refreshes every stored token that expires within window.
// Tokens that are already expired or unreadable are skipped since the
// provider only refreshes live tokens. It returns the number refreshed.
func (s *Service) RefreshExpiring(ctx context.Context, window time.Duration) (int, error) {
	expiring, err := s.repo.ListTokensExpiringBefore(ctx, s.now().Add(window))
	if err != nil {
		return 0, fmt.Errorf("list expiring tokens: %w", err)
	}

	refreshed := 0
	for _, tok := range expiring {
		if ctx.Err() != nil {
			return refreshed, ctx.Err()
		}

		plaintext, ok, err := s.repo.GetValidToken(ctx, tok.SocialAccountID)
		if err != nil {
			return refreshed, fmt.Errorf("load token for %s: %w", tok.SocialAccountID, err)
		}
		if !ok {
			continue
		}

		err = s.refresh(ctx, tok.SocialAccountID, plaintext)
		s.logRefresh(ctx, tok.SocialAccountID, err)
		if err != nil {
			s.refreshOutcome("failure")
			s.logger.Warn("token refresh failed",
				"account_id", tok.SocialAccountID,
				"error", err)
			continue
		}
		s.refreshOutcome("success")
		refreshed++
	}

	return refreshed, nil
}

func (s *Service) refresh(ctx context.Context, accountID, token string) error {
	fresh, err := s.provider.RefreshToken(ctx, token)
	if err != nil {
		return err
	}

	tokenType := fresh.TokenType
	if tokenType == "" {
		tokenType = "bearer"
	}
	return s.repo.UpdateToken(ctx, models.TokenInput{
		SocialAccountID: accountID,
		AccessToken:     fresh.AccessToken,
		TokenType:       tokenType,
		ExpiresAt:       fresh.ExpiresAt(s.now()),
	})
}

func (s *Service) logRefresh(ctx context.Context, accountID string, refreshErr error) {
	if s.activity == nil {
		return
	}
	account, err := s.repo.GetAccount(ctx, accountID)
	if err != nil || account == nil {
		return
	}

	entry := models.ActivityLog{
		UserID:          account.UserID,
		SocialAccountID: account.ID,
		ActivityType:    models.ActivityTypeTokenRefresh,
		Platform:        account.Platform,
		Message:         "Access token refreshed",
	}
	if refreshErr != nil {
		entry.Message = "Access token refresh failed"
		entry.Details = map[string]interface{}{"error": refreshErr.Error()}
	}
	s.logActivity(ctx, entry)
}

func (s *Service) refreshOutcome(outcome string) {
	if s.observer != nil {
		s.observer.RecordTokenRefresh(outcome)
	}
}
