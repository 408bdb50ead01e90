package models

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Platform identifies a social network.
type Platform string

const (
	PlatformInstagram Platform = "instagram"
	PlatformTikTok    Platform = "tiktok"
	PlatformYouTube   Platform = "youtube"
	PlatformTwitter   Platform = "twitter"
)

// Valid reports whether p is a known platform.
func (p Platform) Valid() bool {
	switch p {
	case PlatformInstagram, PlatformTikTok, PlatformYouTube, PlatformTwitter:
		return true
	}
	return false
}

// ParsePlatform converts raw into a Platform, rejecting unknown values.
func ParsePlatform(raw string) (Platform, error) {
	p := Platform(raw)
	if !p.Valid() {
		return "", ValidationError{Field: "platform", Message: fmt.Sprintf("unsupported platform %q", raw)}
	}
	return p, nil
}

// SocialAccount is a connected third-party profile owned by a user. At most one
// account per (user, platform) is active at any time.
type SocialAccount struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	Platform       Platform        `json:"platform"`
	PlatformUserID string          `json:"platform_user_id"`
	Username       string          `json:"username"`
	DisplayName    *string         `json:"display_name"`
	AvatarURL      *string         `json:"avatar_url"`
	AccountType    *string         `json:"account_type"`
	IsActive       bool            `json:"is_active"`
	Metadata       AccountMetadata `json:"metadata"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// AccountMetadata holds profile counters captured at connect time. Provider
// fields without a typed home are kept in Extra.
type AccountMetadata struct {
	FollowersCount int64
	FollowsCount   int64
	MediaCount     int64
	Biography      string
	Website        string
	Extra          map[string]interface{}
}

var accountMetadataKeys = map[string]struct{}{
	"followers_count": {},
	"follows_count":   {},
	"media_count":     {},
	"biography":       {},
	"website":         {},
}

func (m AccountMetadata) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(m.Extra)+5)
	for k, v := range m.Extra {
		out[k] = v
	}
	out["followers_count"] = m.FollowersCount
	out["follows_count"] = m.FollowsCount
	out["media_count"] = m.MediaCount
	if m.Biography != "" {
		out["biography"] = m.Biography
	}
	if m.Website != "" {
		out["website"] = m.Website
	}
	return json.Marshal(out)
}

func (m *AccountMetadata) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*m = AccountMetadata{}
	for key, value := range raw {
		var err error
		switch key {
		case "followers_count":
			err = json.Unmarshal(value, &m.FollowersCount)
		case "follows_count":
			err = json.Unmarshal(value, &m.FollowsCount)
		case "media_count":
			err = json.Unmarshal(value, &m.MediaCount)
		case "biography":
			err = json.Unmarshal(value, &m.Biography)
		case "website":
			err = json.Unmarshal(value, &m.Website)
		default:
			var v interface{}
			if err = json.Unmarshal(value, &v); err == nil {
				if m.Extra == nil {
					m.Extra = make(map[string]interface{})
				}
				m.Extra[key] = v
			}
		}
		if err != nil {
			return fmt.Errorf("metadata.%s: %w", key, err)
		}
	}
	return nil
}

// AccessToken is the persisted credential for a SocialAccount. AccessToken and
// RefreshToken always hold ciphertext.
type AccessToken struct {
	ID              string     `json:"id"`
	SocialAccountID string     `json:"social_account_id"`
	AccessToken     string     `json:"-"`
	RefreshToken    *string    `json:"-"`
	TokenType       string     `json:"token_type"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	Scopes          []string   `json:"scopes"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// TokenInput carries plaintext credentials to be encrypted and stored.
type TokenInput struct {
	SocialAccountID string
	AccessToken     string
	RefreshToken    *string
	TokenType       string
	ExpiresAt       *time.Time
	Scopes          []string
}

// ExpiringToken identifies a stored token nearing expiry.
type ExpiringToken struct {
	SocialAccountID string
	ExpiresAt       time.Time
}

// SocialAccountRepository persists accounts and their credentials.
type SocialAccountRepository interface {
	// ListAccounts returns the user's accounts, newest first
	ListAccounts(ctx context.Context, userID string) ([]*SocialAccount, error)

	// ListActiveAccounts returns the active account of every user on platform
	ListActiveAccounts(ctx context.Context, platform Platform) ([]*SocialAccount, error)

	// GetAccount returns nil when the account does not exist
	GetAccount(ctx context.Context, id string) (*SocialAccount, error)

	// GetActiveAccount returns the user's active account for platform, or nil
	GetActiveAccount(ctx context.Context, userID string, platform Platform) (*SocialAccount, error)

	// CreateAccount inserts account as the only active one for its user and platform
	CreateAccount(ctx context.Context, account *SocialAccount) error

	// CreateAccountWithToken is CreateAccount plus StoreToken in one transaction
	CreateAccountWithToken(ctx context.Context, account *SocialAccount, token TokenInput) (*AccessToken, error)

	// UpdateAccount applies whitelisted changes and returns the updated row
	UpdateAccount(ctx context.Context, id string, update AccountUpdate) (*SocialAccount, error)

	// DeleteAccount removes the account with its token and analytics
	DeleteAccount(ctx context.Context, id string) error

	// StoreToken encrypts and upserts the account's credential
	StoreToken(ctx context.Context, input TokenInput) (*AccessToken, error)

	// UpdateToken replaces the credential after a provider refresh
	UpdateToken(ctx context.Context, input TokenInput) error

	// GetValidToken returns the plaintext token if present, decryptable and unexpired
	GetValidToken(ctx context.Context, accountID string) (string, bool, error)

	// ListTokensExpiringBefore returns tokens whose expiry is before t
	ListTokensExpiringBefore(ctx context.Context, t time.Time) ([]ExpiringToken, error)
}
