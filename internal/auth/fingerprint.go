package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// HashFingerprint returns SHA-256(fingerprint:salt) as hex. Only the hash is
// stored; the raw fingerprint never leaves the request path.
func HashFingerprint(fingerprint, salt string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s", fingerprint, salt)))
	return hex.EncodeToString(sum[:])
}
