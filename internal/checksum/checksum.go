// Package checksum fingerprints canonical note files and search queries.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
)

// Size is the length of a Sum in hex digits.
const Size = sha256.Size * 2

// Sum returns the hex-encoded SHA-256 digest of data. The index stores it
// per note to detect files changed outside the service.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Short returns the first n hex digits of the digest of s. n is clamped to
// [1, Size].
func Short(s string, n int) string {
	n = max(1, min(n, Size))
	return Sum([]byte(s))[:n]
}

// Same reports whether data hashes to sum. An empty sum never matches.
func Same(data []byte, sum string) bool {
	return sum != "" && Sum(data) == sum
}
