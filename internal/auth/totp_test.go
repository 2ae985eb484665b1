package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateMFASecret(t *testing.T) {
	secret, url, err := GenerateMFASecret("user@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, secret)
	assert.True(t, strings.HasPrefix(url, "otpauth://totp/"), "provisioning URL should be otpauth: %s", url)
	assert.Contains(t, url, "TaskManager")

	secret2, _, err := GenerateMFASecret("user@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, secret, secret2, "each enrollment gets a fresh secret")
}

func TestValidateTOTPCurrentCode(t *testing.T) {
	secret, _, err := GenerateMFASecret("user@example.com")
	require.NoError(t, err)

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)

	assert.True(t, ValidateTOTP(code, secret))
	assert.False(t, ValidateTOTP("000000", secret))
	assert.False(t, ValidateTOTP(code, secret+"A"), "code must be bound to the secret")
}

func TestValidateTOTPSkewWindow(t *testing.T) {
	secret, _, err := GenerateMFASecret("user@example.com")
	require.NoError(t, err)

	now := time.Now()

	// Codes one step either side of now are inside the allowed skew.
	prev, err := totp.GenerateCode(secret, now.Add(-30*time.Second))
	require.NoError(t, err)
	next, err := totp.GenerateCode(secret, now.Add(30*time.Second))
	require.NoError(t, err)
	assert.True(t, ValidateTOTP(prev, secret), "one step behind should be accepted")
	assert.True(t, ValidateTOTP(next, secret), "one step ahead should be accepted")

	// Three steps out is beyond the skew window.
	stale, err := totp.GenerateCode(secret, now.Add(-90*time.Second))
	require.NoError(t, err)
	future, err := totp.GenerateCode(secret, now.Add(90*time.Second))
	require.NoError(t, err)
	assert.False(t, ValidateTOTP(stale, secret), "three steps behind should be rejected")
	assert.False(t, ValidateTOTP(future, secret), "three steps ahead should be rejected")
}
