// Package sha256 provides SHA-256 hashing utilities.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Hasher implements seo.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// HashText canonicalizes textual content before hashing so that two pages
// differing only in whitespace or case produce the same digest. This is the
// content-hash key used by the deduplicator.
func (h *Hasher) HashText(text string) (string, error) {
	normalized := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	return h.Hash([]byte(normalized))
}
