package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/mohammed-shakir/shapetiles/internal/core/observability"
)

type LRU struct {
	lru *expirable.LRU[string, []byte]
}

// NewLRU keeps up to size blobs, each for at most ttl (0 means no expiry).
func NewLRU(size int, ttl time.Duration) *LRU {
	if size <= 0 {
		size = 4096
	}
	return &LRU{lru: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

func (c *LRU) Get(_ context.Context, key string) ([]byte, bool) {
	v, ok := c.lru.Get(key)
	if ok {
		observability.AddCacheHits(1)
	} else {
		observability.AddCacheMisses(1)
	}
	return v, ok
}

func (c *LRU) Set(_ context.Context, key string, val []byte) {
	c.lru.Add(key, val)
}

func (c *LRU) Len() int { return c.lru.Len() }

func (c *LRU) Close() error {
	c.lru.Purge()
	return nil
}
