package auth

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashFingerprintDeterministic(t *testing.T) {
	h1 := HashFingerprint("device-abc", "salt")
	h2 := HashFingerprint("device-abc", "salt")
	assert.Equal(t, h1, h2)

	decoded, err := hex.DecodeString(h1)
	require.NoError(t, err)
	assert.Len(t, decoded, 32)
}

func TestHashFingerprintSensitivity(t *testing.T) {
	base := HashFingerprint("device-abc", "salt")
	assert.NotEqual(t, base, HashFingerprint("device-abd", "salt"))
	assert.NotEqual(t, base, HashFingerprint("device-abc", "other-salt"))
}
