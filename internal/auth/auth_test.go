package auth

import (
	"testing"
	"time"

	crewdeck_errors "crewdeck/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueParseRoundTrip(t *testing.T) {
	a := New("secret", time.Hour)

	token, err := a.Issue("u1", "Alice", "https://example.com/a.png")
	require.NoError(t, err)

	claims, err := a.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UID)
	assert.Equal(t, "Alice", claims.DisplayName)
	assert.Equal(t, "https://example.com/a.png", claims.PhotoURL)
	assert.Equal(t, "u1", claims.Subject)
}

func TestIssueRequiresUID(t *testing.T) {
	a := New("secret", time.Hour)
	_, err := a.Issue("", "Alice", "")
	assert.ErrorIs(t, err, crewdeck_errors.ErrInvalidInput)
}

func TestParseRejectsWrongSecret(t *testing.T) {
	token, err := New("secret-a", time.Hour).Issue("u1", "Alice", "")
	require.NoError(t, err)

	_, err = New("secret-b", time.Hour).Parse(token)
	assert.ErrorIs(t, err, crewdeck_errors.ErrUnauthorized)
}

func TestParseRejectsExpiredToken(t *testing.T) {
	a := New("secret", time.Hour)
	now := time.Now().Add(-2 * time.Hour)
	claims := Claims{
		UID: "u1",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u1",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = a.Parse(token)
	assert.ErrorIs(t, err, crewdeck_errors.ErrUnauthorized)
}

func TestParseRejectsUnsignedToken(t *testing.T) {
	a := New("secret", time.Hour)
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UID: "u1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = a.Parse(token)
	assert.ErrorIs(t, err, crewdeck_errors.ErrUnauthorized)
}

func TestParseRejectsEmptyToken(t *testing.T) {
	_, err := New("secret", time.Hour).Parse("")
	assert.ErrorIs(t, err, crewdeck_errors.ErrUnauthorized)
}
