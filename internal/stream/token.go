package stream

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// UserCredentials lets a client open the provider's realtime connections as
// the given user.
type UserCredentials struct {
	APIKey    string    `json:"apiKey"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// UserToken mints realtime credentials for one provider user, valid for ttl.
func (c *Client) UserToken(externalID string, ttl time.Duration) (*UserCredentials, error) {
	now := time.Now()
	expiresAt := now.Add(ttl)

	claims := jwt.MapClaims{
		"user_id": externalID,
		"iat":     now.Unix(),
		"exp":     expiresAt.Unix(),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(c.apiSecret))
	if err != nil {
		return nil, fmt.Errorf("sign user token: %w", err)
	}

	return &UserCredentials{
		APIKey:    c.apiKey,
		Token:     token,
		ExpiresAt: expiresAt,
	}, nil
}

// serverToken signs a short-lived server-scope token for API requests.
func (c *Client) serverToken() (string, error) {
	claims := jwt.MapClaims{
		"server": true,
		"iat":    time.Now().Unix(),
		"exp":    time.Now().Add(time.Minute).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(c.apiSecret))
}
