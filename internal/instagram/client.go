package instagram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Scopes requested during authorization.
const Scopes = "instagram_business_basic,instagram_business_manage_insights"

// ProfileFields is the field list requested from /me.
const ProfileFields = "id,username,account_type,media_count,followers_count,follows_count,name,biography,website,profile_picture_url"

const mediaFields = "id,caption,media_type,media_url,thumbnail_url,permalink,timestamp"

var (
	DefaultUserInsightMetrics  = []string{"followers_count", "media_count"}
	DefaultMediaInsightMetrics = []string{"views", "likes", "comments", "shares"}
)

// Config holds the application credentials registered with Instagram.
type Config struct {
	AppID       string
	AppSecret   string
	RedirectURI string
}

// Endpoints are the provider base URLs. Tests point them at httptest servers.
type Endpoints struct {
	AuthorizeURL string
	APIBaseURL   string
	GraphBaseURL string
}

// DefaultEndpoints returns the production Instagram endpoints.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		AuthorizeURL: "https://www.instagram.com/oauth/authorize",
		APIBaseURL:   "https://api.instagram.com",
		GraphBaseURL: "https://graph.instagram.com",
	}
}

// Client talks to the Instagram login and Graph APIs. It never retries.
type Client struct {
	config     Config
	endpoints  Endpoints
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client for the production endpoints.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	return &Client{
		config:    cfg,
		endpoints: DefaultEndpoints(),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// SetEndpoints overrides the provider base URLs.
func (c *Client) SetEndpoints(e Endpoints) {
	c.endpoints = e
}

// SetHTTPClient replaces the underlying HTTP client.
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.httpClient = hc
}

// ShortLivedToken is the response of the authorization code exchange.
type ShortLivedToken struct {
	AccessToken string      `json:"access_token"`
	UserID      json.Number `json:"user_id"`
	Permissions ScopeList   `json:"permissions,omitempty"`
}

// LongLivedToken is a token valid for roughly sixty days.
type LongLivedToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// ExpiresAt returns the absolute expiry relative to now, or nil when the
// provider did not report a lifetime.
func (t *LongLivedToken) ExpiresAt(now time.Time) *time.Time {
	if t.ExpiresIn <= 0 {
		return nil
	}
	at := now.Add(time.Duration(t.ExpiresIn) * time.Second).UTC()
	return &at
}

// Profile is the subset of the /me resource the service stores.
type Profile struct {
	ID                string `json:"id"`
	Username          string `json:"username"`
	AccountType       string `json:"account_type"`
	MediaCount        int64  `json:"media_count"`
	FollowersCount    int64  `json:"followers_count"`
	FollowsCount      int64  `json:"follows_count"`
	Name              string `json:"name,omitempty"`
	Biography         string `json:"biography,omitempty"`
	Website           string `json:"website,omitempty"`
	ProfilePictureURL string `json:"profile_picture_url,omitempty"`
}

// ScopeList decodes permissions sent either as a JSON array or a
// comma separated string.
type ScopeList []string

func (s *ScopeList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*s = list
		return nil
	}
	var joined string
	if err := json.Unmarshal(data, &joined); err != nil {
		return fmt.Errorf("permissions: %w", err)
	}
	*s = nil
	for _, part := range strings.Split(joined, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*s = append(*s, part)
		}
	}
	return nil
}

// AuthorizationURL builds the URL the user is redirected to. state is omitted
// when empty.
func (c *Client) AuthorizationURL(state string) string {
	params := url.Values{}
	params.Set("client_id", c.config.AppID)
	params.Set("redirect_uri", c.config.RedirectURI)
	params.Set("scope", Scopes)
	params.Set("response_type", "code")
	if state != "" {
		params.Set("state", state)
	}
	return c.endpoints.AuthorizeURL + "?" + params.Encode()
}

// ExchangeCode trades an authorization code for a short-lived token.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*ShortLivedToken, error) {
	form := url.Values{}
	form.Set("client_id", c.config.AppID)
	form.Set("client_secret", c.config.AppSecret)
	form.Set("grant_type", "authorization_code")
	form.Set("redirect_uri", c.config.RedirectURI)
	form.Set("code", code)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoints.APIBaseURL+"/oauth/access_token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &TokenExchangeError{Message: err.Error(), Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var token ShortLivedToken
	if status, msg, err := c.do(req, &token); err != nil || msg != "" {
		return nil, &TokenExchangeError{StatusCode: status, Message: messageOr(msg, err), Err: err}
	}

	c.logger.Debug("exchanged authorization code", "instagram_user_id", token.UserID.String())
	return &token, nil
}

// ExchangeLongLived upgrades a short-lived token.
func (c *Client) ExchangeLongLived(ctx context.Context, shortToken string) (*LongLivedToken, error) {
	params := url.Values{}
	params.Set("grant_type", "ig_exchange_token")
	params.Set("client_secret", c.config.AppSecret)
	params.Set("access_token", shortToken)

	var token LongLivedToken
	status, msg, err := c.get(ctx, "/access_token", params, &token)
	if err != nil || msg != "" {
		return nil, &TokenUpgradeError{StatusCode: status, Message: messageOr(msg, err), Err: err}
	}
	return &token, nil
}

// RefreshToken extends a long-lived token that has not yet expired.
func (c *Client) RefreshToken(ctx context.Context, token string) (*LongLivedToken, error) {
	params := url.Values{}
	params.Set("grant_type", "ig_refresh_token")
	params.Set("access_token", token)

	var refreshed LongLivedToken
	status, msg, err := c.get(ctx, "/refresh_access_token", params, &refreshed)
	if err != nil || msg != "" {
		return nil, &TokenRefreshError{StatusCode: status, Message: messageOr(msg, err), Err: err}
	}
	return &refreshed, nil
}

// GetProfile fetches the profile of the token owner.
func (c *Client) GetProfile(ctx context.Context, token string) (*Profile, error) {
	params := url.Values{}
	params.Set("fields", ProfileFields)
	params.Set("access_token", token)

	var profile Profile
	status, msg, err := c.get(ctx, "/me", params, &profile)
	if err != nil || msg != "" {
		return nil, &ProfileFetchError{StatusCode: status, Message: messageOr(msg, err), Err: err}
	}
	return &profile, nil
}

// GetUserInsights fetches account level insights. Empty metrics and period
// fall back to DefaultUserInsightMetrics and "day".
func (c *Client) GetUserInsights(ctx context.Context, token string, metrics []string, period string) (*InsightsResponse, error) {
	if len(metrics) == 0 {
		metrics = DefaultUserInsightMetrics
	}
	if period == "" {
		period = "day"
	}

	params := url.Values{}
	params.Set("metric", strings.Join(metrics, ","))
	params.Set("period", period)
	params.Set("access_token", token)

	var insights InsightsResponse
	status, msg, err := c.get(ctx, "/me/insights", params, &insights)
	if err != nil || msg != "" {
		return nil, &InsightsFetchError{Resource: "me", StatusCode: status, Message: messageOr(msg, err), Err: err}
	}
	return &insights, nil
}

// GetMediaInsights fetches insights for one post.
func (c *Client) GetMediaInsights(ctx context.Context, token, mediaID string, metrics []string) (*InsightsResponse, error) {
	if len(metrics) == 0 {
		metrics = DefaultMediaInsightMetrics
	}

	params := url.Values{}
	params.Set("metric", strings.Join(metrics, ","))
	params.Set("access_token", token)

	var insights InsightsResponse
	status, msg, err := c.get(ctx, "/"+url.PathEscape(mediaID)+"/insights", params, &insights)
	if err != nil || msg != "" {
		return nil, &InsightsFetchError{Resource: mediaID, StatusCode: status, Message: messageOr(msg, err), Err: err}
	}
	return &insights, nil
}

// GetUserMedia lists the most recent posts of the token owner.
func (c *Client) GetUserMedia(ctx context.Context, token string, limit int) (*MediaPage, error) {
	if limit <= 0 {
		limit = 25
	}

	params := url.Values{}
	params.Set("fields", mediaFields)
	params.Set("limit", strconv.Itoa(limit))
	params.Set("access_token", token)

	var page MediaPage
	status, msg, err := c.get(ctx, "/me/media", params, &page)
	if err != nil || msg != "" {
		return nil, &InsightsFetchError{Resource: "me/media", StatusCode: status, Message: messageOr(msg, err), Err: err}
	}
	return &page, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out interface{}) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoints.GraphBaseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return 0, "", err
	}
	return c.do(req, out)
}

// do executes req. A non-2xx response yields the provider's error message
// (or the status text) with a nil error; transport and decode failures yield
// an error.
func (c *Client) do(req *http.Request, out interface{}) (int, string, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("instagram API error",
			"path", req.URL.Path,
			"status", resp.StatusCode)
		return resp.StatusCode, errorMessage(resp.StatusCode, body), nil
	}

	if err := json.Unmarshal(body, out); err != nil {
		return resp.StatusCode, "", fmt.Errorf("decode response: %w", err)
	}
	return resp.StatusCode, "", nil
}

// errorMessage extracts error_message (login API) or error.message (Graph API)
// from body, falling back to the HTTP status text.
func errorMessage(status int, body []byte) string {
	var payload struct {
		ErrorMessage string          `json:"error_message"`
		Error        json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.ErrorMessage != "" {
			return payload.ErrorMessage
		}
		var graphErr struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(payload.Error, &graphErr) == nil && graphErr.Message != "" {
			return graphErr.Message
		}
	}
	if text := http.StatusText(status); text != "" {
		return text
	}
	return fmt.Sprintf("status %d", status)
}

func messageOr(msg string, err error) string {
	if msg != "" {
		return msg
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
