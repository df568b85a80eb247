// Package auth issues and verifies the access tokens clients present when
// connecting to the sync gateway.
package auth

import (
	"fmt"
	"time"

	crewdeck_errors "crewdeck/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the token payload identifying a viewer.
type Claims struct {
	UID         string `json:"uid"`
	DisplayName string `json:"name"`
	PhotoURL    string `json:"photoURL,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator signs and parses access tokens with a shared HMAC secret.
type Authenticator struct {
	secret []byte
	ttl    time.Duration
}

func New(secret string, ttl time.Duration) *Authenticator {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Authenticator{secret: []byte(secret), ttl: ttl}
}

// Issue mints an access token for the given viewer identity.
func (a *Authenticator) Issue(uid, displayName, photoURL string) (string, error) {
	if uid == "" {
		return "", crewdeck_errors.ErrInvalidInput
	}
	now := time.Now()
	claims := Claims{
		UID:         uid,
		DisplayName: displayName,
		PhotoURL:    photoURL,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// Parse verifies a token and returns its claims.
func (a *Authenticator) Parse(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, crewdeck_errors.ErrUnauthorized
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", crewdeck_errors.ErrUnauthorized, err)
	}
	if !token.Valid || claims.UID == "" {
		return nil, crewdeck_errors.ErrUnauthorized
	}
	return claims, nil
}
