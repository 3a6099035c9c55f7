package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"docscope/internal/retrieval"
)

// Cache provides related-section result caching
type Cache interface {
	// GetRelated retrieves cached results by key.
	// found is false on a miss.
	GetRelated(ctx context.Context, key string) (results []retrieval.RelatedSection, found bool, err error)

	// SetRelated stores results with TTL
	SetRelated(ctx context.Context, key string, results []retrieval.RelatedSection, ttl time.Duration) error

	// InvalidateDocument drops cached results after docID changed. Any
	// document can appear in any result list, so every entry goes.
	InvalidateDocument(ctx context.Context, docID string) error

	// Close closes the cache connection
	Close() error
}

// Key derives a cache key from the normalized selection, the excluded
// document and the result limit.
func Key(selectedText, excludeDocID string, topK int) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(selectedText)), " ")
	sum := sha256.Sum256([]byte(normalized + "\x00" + excludeDocID + "\x00" + strconv.Itoa(topK)))
	return hex.EncodeToString(sum[:])
}
