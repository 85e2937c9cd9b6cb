package secrets

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionFromAuthClaims(t *testing.T) {
	now := time.Now()
	exp := now.Add(time.Hour)

	claims := &JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    "go-secrets",
			Audience:  jwt.ClaimStrings{"web"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		UID: "uid-1",
		Metadata: map[string]any{
			"provider": "google",
		},
	}

	session, err := sessionFromAuthClaims(claims)
	require.NoError(t, err)

	assert.Equal(t, "uid-1", session.UserID)
	assert.Equal(t, []string{"web"}, session.Audience)
	assert.Equal(t, "go-secrets", session.Issuer)
	assert.WithinDuration(t, now, *session.IssuedAt, time.Second)
	assert.WithinDuration(t, exp, *session.ExpirationDate, time.Second)
	assert.Equal(t, map[string]any{"provider": "google"}, session.Data["metadata"])
}

func TestSessionFromAuthClaims_NilClaims(t *testing.T) {
	_, err := sessionFromAuthClaims(nil)
	assert.ErrorIs(t, err, ErrUnableToParseData)
}

func TestSessionFromClaims_MapClaims(t *testing.T) {
	now := time.Now()

	claims := jwt.MapClaims{
		"sub": "user-1",
		"iss": "go-secrets",
		"aud": "web",
		"iat": float64(now.Unix()),
		"exp": float64(now.Add(time.Hour).Unix()),
		"dat": map[string]any{
			"remember_me": true,
		},
	}

	session, err := sessionFromClaims(claims)
	require.NoError(t, err)

	assert.Equal(t, "user-1", session.UserID)
	assert.Equal(t, "go-secrets", session.Issuer)
	assert.Equal(t, []string{"web"}, session.Audience)
	assert.Equal(t, true, session.Data["remember_me"])
	require.NotNil(t, session.IssuedAt)
	require.NotNil(t, session.ExpirationDate)
}

func TestGetIssuerFromClaims_FallsBackToSubject(t *testing.T) {
	claims := &JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: "user-1",
		},
	}

	assert.Equal(t, "user-1", getIssuerFromClaims(claims))
}
