package embeddings

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Vector
		expected float32
	}{
		{name: "identical vectors", a: Vector{1, 0, 0}, b: Vector{1, 0, 0}, expected: 1.0},
		{name: "orthogonal vectors", a: Vector{1, 0}, b: Vector{0, 1}, expected: 0.0},
		{name: "opposite vectors", a: Vector{1, 0}, b: Vector{-1, 0}, expected: -1.0},
		{name: "empty vectors", a: Vector{}, b: Vector{}, expected: 0.0},
		{name: "different length vectors", a: Vector{1, 2}, b: Vector{1, 2, 3}, expected: 0.0},
		{name: "normalized vectors 45 degrees", a: Vector{1, 0}, b: Vector{0.707, 0.707}, expected: 0.707},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, CosineSimilarity(tt.a, tt.b), 0.01)
		})
	}
}

func TestNormalize(t *testing.T) {
	v, ok := Normalize(Vector{3, 4})
	require.True(t, ok)
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)
	assert.InDelta(t, 1.0, Dot(v, v), 1e-6)

	_, ok = Normalize(Vector{0, 0})
	assert.False(t, ok)
	_, ok = Normalize(Vector{float32(math.NaN()), 1})
	assert.False(t, ok)
	_, ok = Normalize(Vector{float32(math.Inf(1)), 1})
	assert.False(t, ok)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abcdef", 3))
	assert.Equal(t, "abcdef", Truncate("abcdef", 0))
	assert.Equal(t, "héll", Truncate("héllo", 4))
	assert.Equal(t, "short", Truncate("short", 10))
}

func TestStaticEmbedder(t *testing.T) {
	ctx := context.Background()
	e := NewStaticEmbedder(0)
	assert.Equal(t, DefaultDimensions, e.Dimensions())
	assert.Equal(t, StaticModelName, e.ModelName())

	a1, err := e.Embed(ctx, "Photosynthesis converts light energy into chemical energy")
	require.NoError(t, err)
	a2, err := e.Embed(ctx, "Photosynthesis converts light energy into chemical energy")
	require.NoError(t, err)
	assert.Equal(t, a1, a2)

	near, _ := e.Embed(ctx, "photosynthesis turns light energy into chemical energy")
	far, _ := e.Embed(ctx, "quarterly revenue grew in the retail division")
	assert.Greater(t, CosineSimilarity(a1, near), CosineSimilarity(a1, far))

	zero, err := e.Embed(ctx, "   ")
	require.NoError(t, err)
	_, ok := Normalize(zero)
	assert.False(t, ok)
}

func TestProvider(t *testing.T) {
	ctx := context.Background()
	errUpstream := errors.New("upstream 503")

	tests := []struct {
		name    string
		text    string
		setup   func(*MockEmbedder)
		wantErr error
	}{
		{
			name:    "empty input",
			text:    "  ",
			setup:   func(m *MockEmbedder) {},
			wantErr: ErrEmbeddingFailed,
		},
		{
			name: "upstream error keeps both causes",
			text: "hello",
			setup: func(m *MockEmbedder) {
				m.On("Embed", mock.Anything, "hello").Return(nil, errUpstream).Once()
			},
			wantErr: errUpstream,
		},
		{
			name: "wrong dimension",
			text: "hello",
			setup: func(m *MockEmbedder) {
				m.On("Embed", mock.Anything, "hello").Return(Vector{1, 0}, nil).Once()
				m.On("Dimensions").Return(3)
			},
			wantErr: ErrEmbeddingFailed,
		},
		{
			name: "zero vector",
			text: "hello",
			setup: func(m *MockEmbedder) {
				m.On("Embed", mock.Anything, "hello").Return(Vector{0, 0, 0}, nil).Once()
				m.On("Dimensions").Return(3)
			},
			wantErr: ErrEmbeddingFailed,
		},
		{
			name: "truncates and normalizes",
			text: "0123456789abcdef",
			setup: func(m *MockEmbedder) {
				m.On("Embed", mock.Anything, "01234567").Return(Vector{0, 3, 4}, nil).Once()
				m.On("Dimensions").Return(3)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inner := &MockEmbedder{}
			tt.setup(inner)
			p := NewProvider(inner, ProviderOptions{MaxSequenceLength: 2})

			vec, err := p.Embed(ctx, tt.text)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.ErrorIs(t, err, ErrEmbeddingFailed)
				assert.Nil(t, vec)
			} else {
				require.NoError(t, err)
				assert.InDelta(t, 1.0, Dot(vec, vec), 1e-6)
			}
			inner.AssertExpectations(t)
		})
	}
}

type slowEmbedder struct {
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (s *slowEmbedder) Embed(_ context.Context, _ string) (Vector, error) {
	n := s.inFlight.Add(1)
	for {
		prev := s.maxSeen.Load()
		if n <= prev || s.maxSeen.CompareAndSwap(prev, n) {
			break
		}
	}
	time.Sleep(2 * time.Millisecond)
	s.inFlight.Add(-1)
	return Vector{1, 0}, nil
}

func (s *slowEmbedder) Dimensions() int   { return 2 }
func (s *slowEmbedder) ModelName() string { return "slow" }

func TestProviderSerializesDeviceCalls(t *testing.T) {
	inner := &slowEmbedder{}
	p := NewProvider(inner, ProviderOptions{Serialize: true})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Embed(context.Background(), "text")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), inner.maxSeen.Load())
}

func TestCachedEmbedder(t *testing.T) {
	inner := &MockEmbedder{}
	inner.On("ModelName").Return("m")
	inner.On("Embed", mock.Anything, "repeat me").Return(Vector{1, 0}, nil).Once()
	inner.On("Embed", mock.Anything, "fails").Return(nil, errors.New("boom")).Twice()

	c := NewCachedEmbedder(inner, 4)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		vec, err := c.Embed(ctx, "repeat me")
		require.NoError(t, err)
		assert.Equal(t, Vector{1, 0}, vec)
	}
	// Failures are not cached.
	for i := 0; i < 2; i++ {
		_, err := c.Embed(ctx, "fails")
		assert.Error(t, err)
	}
	assert.Equal(t, 1, c.Len())
	inner.AssertExpectations(t)
}

func TestTokenizeDropsStopWords(t *testing.T) {
	assert.Equal(t, []string{"cost", "storm"}, tokenize("The cost of the storm"))
	assert.Empty(t, trigrams("ab"))
	assert.True(t, strings.HasPrefix(strings.Join(trigrams("Héllo"), ","), "hél"))
}
