// Package kv is the client-side key-value persistence used for persona state.
package kv

import "errors"

var ErrNotFound = errors.New("key not found")

// Store is a best-effort blob store keyed by string.
type Store interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
}
