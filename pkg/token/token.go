package token

import (
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Claims defines the identity payload carried by a session token. The
// identity provider issues these; this package only verifies them.
type Claims struct {
	Email string `json:"email"`
	Login string `json:"login"`
	Role  string `json:"role,omitempty"`
	jwtlib.RegisteredClaims
}

// Generate issues a signed token with the provided secret and ttl.
// Used by tests and local tooling; production tokens come from the
// identity provider.
func Generate(email, login, role, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email: email,
		Login: login,
		Role:  role,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    "slipway",
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// Parse validates and extracts claims from a token.
func Parse(token string, secret string) (*Claims, error) {
	parsed, err := jwtlib.ParseWithClaims(token, &Claims{}, func(t *jwtlib.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Name}))
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwtlib.ErrTokenInvalidClaims
	}
	return claims, nil
}
