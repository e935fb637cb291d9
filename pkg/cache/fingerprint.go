package cache

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// FingerprintKey folds arbitrary-length parts (a query string, a mode, a
// knowledge base name, ...) into a fixed-length cache key, so caches never
// have to store long user text as a map key. Parts are separated by a NUL
// byte so ("ab","c") and ("a","bc") never collide.
func FingerprintKey(parts ...string) string {
	h, _ := blake2b.New256(nil)
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
