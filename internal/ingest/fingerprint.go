package ingest

import (
	"crypto/sha1"
	"encoding/hex"
)

// FingerprintLen is the number of hex characters kept from the digest.
const FingerprintLen = 10

// Fingerprint returns the first ten lowercase hex characters of the SHA-1
// digest of input.
func Fingerprint(input string) string {
	sum := sha1.Sum([]byte(input))
	return hex.EncodeToString(sum[:])[:FingerprintLen]
}
