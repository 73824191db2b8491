// Package sha256 derives storage keys for persistent cache stores.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher maps identity keys to fixed-length hex digests. Digest satisfies cache.KeyFunc.
type Hasher struct {
	// Namespace is mixed into every digest so separate caches can share one store.
	Namespace string
}

// New returns a Hasher with no namespace.
func New() *Hasher {
	return &Hasher{}
}

// Digest returns the hex digest of the namespaced key.
func (h *Hasher) Digest(key string) string {
	sum := sha256.Sum256([]byte(h.Namespace + key))
	return hex.EncodeToString(sum[:])
}
