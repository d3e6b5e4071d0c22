package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns prefix_<32 hex chars>, or just the hex when prefix is empty.
func NewID(prefix string) string {
	return join(prefix, randomHex(16))
}

// ShortID is NewID with 8 random bytes, used for request ids and log correlation.
func ShortID(prefix string) string {
	return join(prefix, randomHex(8))
}

func randomHex(n int) string {
	bytes := make([]byte, n)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

func join(prefix, id string) string {
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
