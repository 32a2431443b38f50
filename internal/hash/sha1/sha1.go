// Package sha1 provides the content-addressing digest used for chunk identity.
package sha1

import (
	"crypto/sha1" //nolint:gosec // identity digest, not a security boundary
	"encoding/hex"
)

// Hasher implements ingest.Hasher using SHA-1 hex digests.
type Hasher struct{}

// New returns a SHA-1 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	return Sum(data), nil
}

// Sum returns the hex SHA-1 digest of data.
func Sum(data []byte) string {
	sum := sha1.Sum(data) //nolint:gosec
	return hex.EncodeToString(sum[:])
}
