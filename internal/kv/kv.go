// Package kv provides the key-value cache behind static pulls.
package kv

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// Store is a byte-valued cache with per-entry expiry.
type Store interface {
	Get(key string) ([]byte, bool, error)
	Put(key string, value []byte, ttl time.Duration) error
}

// LRU is an in-process Store bounded to a fixed number of entries.
// Entries past their TTL read as misses and are evicted on access.
type LRU struct {
	cache *lru.Cache
}

type entry struct {
	value     []byte
	expiresAt time.Time // zero: never
}

// NewLRU returns an LRU holding at most size entries.
func NewLRU(size int) (*LRU, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("new lru cache: %w", err)
	}
	return &LRU{cache: cache}, nil
}

// Get returns a copy of the cached value of key.
func (c *LRU) Get(key string) ([]byte, bool, error) {
	v, ok := c.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	e := v.(entry)
	if !e.expiresAt.IsZero() && !timeNow().Before(e.expiresAt) {
		c.cache.Remove(key)
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

// Put stores a copy of value under key. A ttl of 0 never expires.
func (c *LRU) Put(key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		return fmt.Errorf("put %s: negative ttl %s", key, ttl)
	}
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = timeNow().Add(ttl)
	}
	c.cache.Add(key, e)
	return nil
}

// Len returns the number of cached entries, expired ones included.
func (c *LRU) Len() int {
	return c.cache.Len()
}

var timeNow = time.Now
