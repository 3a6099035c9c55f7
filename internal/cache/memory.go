package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"docscope/internal/retrieval"
)

// MemoryCache is an in-process LRU whose entries expire after a fixed TTL.
// The ttl passed to SetRelated is ignored in favour of the one given at construction.
type MemoryCache struct {
	lru *expirable.LRU[string, []retrieval.RelatedSection]
}

// NewMemoryCache creates a cache holding at most size entries.
func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	if size <= 0 {
		size = 512
	}
	return &MemoryCache{lru: expirable.NewLRU[string, []retrieval.RelatedSection](size, nil, ttl)}
}

func (c *MemoryCache) GetRelated(_ context.Context, key string) ([]retrieval.RelatedSection, bool, error) {
	results, ok := c.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	return append([]retrieval.RelatedSection(nil), results...), true, nil
}

func (c *MemoryCache) SetRelated(_ context.Context, key string, results []retrieval.RelatedSection, _ time.Duration) error {
	c.lru.Add(key, append([]retrieval.RelatedSection{}, results...))
	return nil
}

func (c *MemoryCache) InvalidateDocument(context.Context, string) error {
	c.lru.Purge()
	return nil
}

// Len is the number of live entries.
func (c *MemoryCache) Len() int { return c.lru.Len() }

func (c *MemoryCache) Close() error {
	c.lru.Purge()
	return nil
}
