package cache

import (
	"crypto/sha256"
	"encoding/hex"
)

// Key identifies image contents. It is the SHA-256 digest of the raw upload,
// so it is stable across processes and restarts.
type Key [sha256.Size]byte

// Derive computes the key for the full byte sequence of an upload.
func Derive(data []byte) Key {
	return Key(sha256.Sum256(data))
}

func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// Short is a log-friendly prefix of the key.
func (k Key) Short() string {
	return hex.EncodeToString(k[:6])
}
