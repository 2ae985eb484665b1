package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAccessSecret  = "test-access-secret-at-least-32-chars!"
	testRefreshSecret = "test-refresh-secret-at-least-32-chars"
)

func newTestJWTService() *JWTService {
	return NewJWTService(testAccessSecret, testRefreshSecret, 15*time.Minute, 7*24*time.Hour)
}

func TestSignPairRoundTrip(t *testing.T) {
	svc := newTestJWTService()
	userID := uuid.New()

	pair, err := svc.SignPair(userID, "user@example.com", 3)
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	assert.NotEqual(t, pair.AccessToken, pair.RefreshToken)

	access, err := svc.VerifyAccessToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, userID, access.UserID)
	assert.Equal(t, "user@example.com", access.Email)

	refresh, err := svc.VerifyRefreshToken(pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, userID, refresh.UserID)
	assert.Equal(t, int64(3), refresh.TokenVersion)
}

func TestAccessExpiryBeforeRefreshExpiry(t *testing.T) {
	svc := newTestJWTService()

	pair, err := svc.SignPair(uuid.New(), "user@example.com", 0)
	require.NoError(t, err)

	access, err := svc.VerifyAccessToken(pair.AccessToken)
	require.NoError(t, err)
	refresh, err := svc.VerifyRefreshToken(pair.RefreshToken)
	require.NoError(t, err)

	assert.True(t, access.ExpiresAt.Before(refresh.ExpiresAt.Time),
		"access token must expire before the refresh token")
}

func TestTokensAreNotInterchangeable(t *testing.T) {
	svc := newTestJWTService()

	pair, err := svc.SignPair(uuid.New(), "user@example.com", 0)
	require.NoError(t, err)

	// Separate secrets: a refresh token must not verify as an access token
	// and vice versa.
	_, err = svc.VerifyAccessToken(pair.RefreshToken)
	assert.Error(t, err)
	_, err = svc.VerifyRefreshToken(pair.AccessToken)
	assert.Error(t, err)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	svc := newTestJWTService()
	other := NewJWTService(
		"different-access-secret-32-chars-min!",
		"different-refresh-secret-32-chars-min",
		15*time.Minute, 7*24*time.Hour,
	)

	pair, err := svc.SignPair(uuid.New(), "user@example.com", 0)
	require.NoError(t, err)

	_, err = other.VerifyAccessToken(pair.AccessToken)
	assert.Error(t, err)
	_, err = other.VerifyRefreshToken(pair.RefreshToken)
	assert.Error(t, err)
}

func TestVerifyRejectsExpiredAccessToken(t *testing.T) {
	svc := NewJWTService(testAccessSecret, testRefreshSecret, -time.Minute, time.Hour)

	pair, err := svc.SignPair(uuid.New(), "user@example.com", 0)
	require.NoError(t, err)

	_, err = svc.VerifyAccessToken(pair.AccessToken)
	assert.Error(t, err)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	svc := newTestJWTService()

	_, err := svc.VerifyAccessToken("not-a-jwt")
	assert.Error(t, err)
	_, err = svc.VerifyRefreshToken("")
	assert.Error(t, err)
}
