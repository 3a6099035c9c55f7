package cache

import (
	"context"
	"time"

	"docscope/internal/retrieval"
)

// NoOpCache is a cache implementation that does nothing.
// Used when caching is disabled or Redis is unavailable: all operations
// succeed but every lookup is a miss.
type NoOpCache struct{}

// NewNoOpCache creates a new no-op cache instance
func NewNoOpCache() *NoOpCache {
	return &NoOpCache{}
}

// GetRelated always misses
func (c *NoOpCache) GetRelated(ctx context.Context, key string) ([]retrieval.RelatedSection, bool, error) {
	return nil, false, nil
}

// SetRelated does nothing and always succeeds
func (c *NoOpCache) SetRelated(ctx context.Context, key string, results []retrieval.RelatedSection, ttl time.Duration) error {
	return nil
}

// InvalidateDocument does nothing and always succeeds
func (c *NoOpCache) InvalidateDocument(ctx context.Context, docID string) error {
	return nil
}

// Close does nothing and always succeeds
func (c *NoOpCache) Close() error {
	return nil
}
