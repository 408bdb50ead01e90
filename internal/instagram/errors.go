package instagram

import "fmt"

// TokenExchangeError is returned when the authorization code cannot be
// exchanged for a token.
type TokenExchangeError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *TokenExchangeError) Error() string {
	return fmt.Sprintf("instagram token exchange failed: %s", e.Message)
}

func (e *TokenExchangeError) Unwrap() error { return e.Err }

// TokenUpgradeError is returned when a short-lived token cannot be upgraded.
type TokenUpgradeError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *TokenUpgradeError) Error() string {
	return fmt.Sprintf("long-lived token exchange failed: %s", e.Message)
}

func (e *TokenUpgradeError) Unwrap() error { return e.Err }

type TokenRefreshError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *TokenRefreshError) Error() string {
	return fmt.Sprintf("token refresh failed: %s", e.Message)
}

func (e *TokenRefreshError) Unwrap() error { return e.Err }

type ProfileFetchError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *ProfileFetchError) Error() string {
	return fmt.Sprintf("failed to fetch instagram profile: %s", e.Message)
}

func (e *ProfileFetchError) Unwrap() error { return e.Err }

// InsightsFetchError covers the insights and media listing endpoints.
// Resource names the account or media object queried.
type InsightsFetchError struct {
	Resource   string
	StatusCode int
	Message    string
	Err        error
}

func (e *InsightsFetchError) Error() string {
	return fmt.Sprintf("failed to fetch instagram insights for %s: %s", e.Resource, e.Message)
}

func (e *InsightsFetchError) Unwrap() error { return e.Err }
