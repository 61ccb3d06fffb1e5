package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/pairprep/interview-server-go/internal/errors"
)

type sessionClaims struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	ProfileImage string `json:"image_url"`
	jwt.RegisteredClaims
}

// JWTVerifier verifies provider session tokens signed with a shared secret.
type JWTVerifier struct {
	secret []byte
	issuer string
}

// NewJWTVerifier creates a verifier for HS256 session tokens. An empty
// issuer disables the issuer check (local development).
func NewJWTVerifier(secret, issuer string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), issuer: issuer}
}

func (v *JWTVerifier) Verify(ctx context.Context, token string) (*Principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var claims sessionClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperrors.New(apperrors.ErrCodeTokenExpired, "Session token expired")
		}
		return nil, apperrors.InvalidToken("Invalid session token").WithCause(err)
	}
	if !parsed.Valid {
		return nil, apperrors.InvalidToken("Invalid session token")
	}
	if claims.Subject == "" {
		return nil, apperrors.InvalidToken("Session token has no subject")
	}

	return &Principal{
		ExternalID:   claims.Subject,
		Name:         claims.Name,
		Email:        claims.Email,
		ProfileImage: claims.ProfileImage,
	}, nil
}

// SignTestToken mints a token the verifier accepts. Test helper; production
// tokens come from the identity provider.
func SignTestToken(secret, issuer, subject, name, email, image string) (string, error) {
	claims := sessionClaims{
		Name:         name,
		Email:        email,
		ProfileImage: image,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: subject,
			Issuer:  issuer,
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}
