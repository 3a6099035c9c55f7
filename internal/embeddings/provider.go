package embeddings

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// CharsPerToken approximates how many characters one model token covers.
const CharsPerToken = 4

// ProviderOptions configures a Provider.
type ProviderOptions struct {
	// MaxSequenceLength is the model's token capacity; input is cut to MaxSequenceLength*CharsPerToken chars.
	MaxSequenceLength int
	// Serialize allows only one call into the underlying model at a time.
	Serialize bool
}

// Provider wraps an Embedder with input truncation, optional call
// serialization, degenerate-vector rejection and L2 normalization.
type Provider struct {
	inner    Embedder
	maxChars int
	device   *sync.Mutex
}

// NewProvider wraps inner.
func NewProvider(inner Embedder, opts ProviderOptions) *Provider {
	p := &Provider{inner: inner}
	if opts.MaxSequenceLength > 0 {
		p.maxChars = opts.MaxSequenceLength * CharsPerToken
	}
	if opts.Serialize {
		p.device = &sync.Mutex{}
	}
	return p
}

// Embed returns a unit-length vector or an error wrapping ErrEmbeddingFailed.
func (p *Provider) Embed(ctx context.Context, text string) (Vector, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty input", ErrEmbeddingFailed)
	}
	text = Truncate(text, p.maxChars)

	if p.device != nil {
		p.device.Lock()
		defer p.device.Unlock()
	}
	vec, err := p.inner.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}
	if len(vec) != p.inner.Dimensions() {
		return nil, fmt.Errorf("%w: got %d dimensions, want %d", ErrEmbeddingFailed, len(vec), p.inner.Dimensions())
	}
	norm, ok := Normalize(vec)
	if !ok {
		return nil, fmt.Errorf("%w: degenerate vector", ErrEmbeddingFailed)
	}
	return norm, nil
}

func (p *Provider) Dimensions() int { return p.inner.Dimensions() }

func (p *Provider) ModelName() string { return p.inner.ModelName() }
