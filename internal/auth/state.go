package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// StateCookie carries the signed OAuth state between authorization and
// callback.
const StateCookie = "oauth_state"

// StateTTL bounds how long a user has to complete the provider consent screen.
const StateTTL = 10 * time.Minute

var ErrInvalidState = errors.New("invalid oauth state")

type stateClaims struct {
	Nonce string `json:"nonce"`
	jwt.RegisteredClaims
}

// NewState returns a random nonce for the provider's state parameter and a
// signed cookie value binding it to userID.
func NewState(userID, secret string) (string, string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate state: %w", err)
	}
	nonce := base64.RawURLEncoding.EncodeToString(buf)

	now := time.Now()
	claims := stateClaims{
		Nonce: nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(StateTTL)),
			Issuer:    issuer,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", "", fmt.Errorf("sign state: %w", err)
	}
	return nonce, signed, nil
}

// VerifyState checks that cookieValue was issued for userID and carries state.
func VerifyState(cookieValue, state, userID, secret string) error {
	if cookieValue == "" || state == "" {
		return ErrInvalidState
	}

	claims := &stateClaims{}
	token, err := jwt.ParseWithClaims(cookieValue, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return ErrInvalidState
	}
	if claims.Nonce != state || claims.Subject != userID {
		return ErrInvalidState
	}
	return nil
}

// SetStateCookie stores the signed state on the response.
func SetStateCookie(w http.ResponseWriter, value string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     StateCookie,
		Value:    value,
		Path:     "/api/auth",
		MaxAge:   int(StateTTL.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearStateCookie expires the state cookie once the callback has used it.
func ClearStateCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     StateCookie,
		Value:    "",
		Path:     "/api/auth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}
