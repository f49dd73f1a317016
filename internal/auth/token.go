package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenVerifier signs and verifies the HMAC-signed tokens that admit
// real-time connections.
type TokenVerifier struct {
	secret []byte
	expiry time.Duration
}

// NewTokenVerifier builds a verifier with the given secret and the
// expiry applied to newly signed tokens.
func NewTokenVerifier(secret string, expiry time.Duration) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret), expiry: expiry}
}

type tokenClaims struct {
	jwt.RegisteredClaims
}

// Sign issues a token for the given user id. Used by the login surface
// and by tests.
func (v *TokenVerifier) Sign(userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", errors.New("auth: user id required")
	}

	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(v.expiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// Verify checks the token's signature and expiry and returns the user id
// it names. Any verification failure maps to ErrInvalidCredential.
func (v *TokenVerifier) Verify(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &tokenClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", ErrInvalidCredential
	}

	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return "", ErrInvalidCredential
	}
	return claims.Subject, nil
}
