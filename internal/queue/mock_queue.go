package queue

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockQueue records enqueued tasks for handler tests.
type MockQueue struct {
	mock.Mock
}

func (m *MockQueue) Enqueue(ctx context.Context, task Task) error {
	args := m.Called(ctx, task)
	return args.Error(0)
}

func (m *MockQueue) Worker(ctx context.Context, taskType TaskType, handler Handler) error {
	args := m.Called(ctx, taskType, handler)
	return args.Error(0)
}

// OnIngest expects an ingest task whose payload satisfies match.
func (m *MockQueue) OnIngest(match func(IngestPayload) bool) *mock.Call {
	return m.On("Enqueue", mock.Anything, mock.MatchedBy(func(task Task) bool {
		p, err := DecodeIngest(task)
		return err == nil && match(p)
	}))
}

// IngestPayloads decodes the ingest tasks enqueued so far, in order.
func (m *MockQueue) IngestPayloads() []IngestPayload {
	var out []IngestPayload
	for _, c := range m.Calls {
		if c.Method != "Enqueue" {
			continue
		}
		if p, err := DecodeIngest(c.Arguments.Get(1).(Task)); err == nil {
			out = append(out, p)
		}
	}
	return out
}
