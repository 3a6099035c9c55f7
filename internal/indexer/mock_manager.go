package indexer

import (
	"context"

	"github.com/stretchr/testify/mock"

	"docscope/internal/store"
	"docscope/internal/vectorindex"
)

// MockManager is a mock implementation of Manager using testify/mock.
type MockManager struct {
	mock.Mock
}

func (m *MockManager) IngestFile(ctx context.Context, path string, opts IngestOptions) (IngestResult, error) {
	args := m.Called(ctx, path, opts)
	return args.Get(0).(IngestResult), args.Error(1)
}

func (m *MockManager) IngestBatch(ctx context.Context, items []BatchItem, opts IngestOptions) BatchResult {
	args := m.Called(ctx, items, opts)
	return args.Get(0).(BatchResult)
}

func (m *MockManager) GetDocument(ctx context.Context, docID string) (store.Document, error) {
	args := m.Called(ctx, docID)
	return args.Get(0).(store.Document), args.Error(1)
}

func (m *MockManager) ListDocuments(ctx context.Context) ([]DocumentSummary, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]DocumentSummary), args.Error(1)
}

func (m *MockManager) GetSection(ctx context.Context, docID, sectionID string) (store.Section, error) {
	args := m.Called(ctx, docID, sectionID)
	return args.Get(0).(store.Section), args.Error(1)
}

func (m *MockManager) Navigate(ctx context.Context, docID, sectionID string) (Navigation, error) {
	args := m.Called(ctx, docID, sectionID)
	return args.Get(0).(Navigation), args.Error(1)
}

func (m *MockManager) Delete(ctx context.Context, docID string) error {
	args := m.Called(ctx, docID)
	return args.Error(0)
}

func (m *MockManager) SearchRelated(ctx context.Context, req SearchRequest) (SearchResponse, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(SearchResponse), args.Error(1)
}

func (m *MockManager) Stats(ctx context.Context) (Stats, error) {
	args := m.Called(ctx)
	return args.Get(0).(Stats), args.Error(1)
}

func (m *MockManager) Rebuild(ctx context.Context) (vectorindex.RebuildStats, error) {
	args := m.Called(ctx)
	return args.Get(0).(vectorindex.RebuildStats), args.Error(1)
}
