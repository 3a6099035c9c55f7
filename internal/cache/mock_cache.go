package cache

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"docscope/internal/retrieval"
)

// MockCache is a mock implementation of the Cache interface for testing
type MockCache struct {
	mock.Mock
}

func (m *MockCache) GetRelated(ctx context.Context, key string) ([]retrieval.RelatedSection, bool, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).([]retrieval.RelatedSection), args.Bool(1), args.Error(2)
}

func (m *MockCache) SetRelated(ctx context.Context, key string, results []retrieval.RelatedSection, ttl time.Duration) error {
	args := m.Called(ctx, key, results, ttl)
	return args.Error(0)
}

func (m *MockCache) InvalidateDocument(ctx context.Context, docID string) error {
	args := m.Called(ctx, docID)
	return args.Error(0)
}

func (m *MockCache) Close() error {
	args := m.Called()
	return args.Error(0)
}
