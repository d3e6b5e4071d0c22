package kv

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// Memory keeps blobs in process memory. Values never expire.
type Memory struct {
	c *cache.Cache
}

func NewMemory() *Memory {
	return &Memory{c: cache.New(cache.NoExpiration, 10*time.Minute)}
}

func (m *Memory) Get(key string) ([]byte, error) {
	v, ok := m.c.Get(key)
	if !ok {
		return nil, ErrNotFound
	}
	stored := v.([]byte)
	out := make([]byte, len(stored))
	copy(out, stored)
	return out, nil
}

func (m *Memory) Set(key string, value []byte) error {
	stored := make([]byte, len(value))
	copy(stored, value)
	m.c.Set(key, stored, cache.NoExpiration)
	return nil
}

func (m *Memory) Delete(key string) error {
	m.c.Delete(key)
	return nil
}
