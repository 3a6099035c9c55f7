package embeddings

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"docscope/internal/retry"
)

// OpenAIEmbedder calls OpenAI's embeddings API (or any compatible endpoint).
type OpenAIEmbedder struct {
	model  openai.EmbeddingModel
	dims   int
	client *openai.Client
}

const (
	defaultEmbeddingTimeout = 30 * time.Second
	embeddingAttempts       = 3
)

// NewOpenAIEmbedder creates a new OpenAI embedder. baseURL may be empty.
func NewOpenAIEmbedder(apiKey, baseURL string, model openai.EmbeddingModel, dims int) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key required")
	}
	if model == "" {
		model = openai.EmbeddingModelTextEmbedding3Small
	}
	if dims <= 0 {
		dims = DefaultDimensions
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	cli := openai.NewClient(opts...)
	return &OpenAIEmbedder{
		model:  model,
		dims:   dims,
		client: &cli,
	}, nil
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	var vec Vector
	err := retry.Do(ctx, embeddingAttempts, 500*time.Millisecond, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, defaultEmbeddingTimeout)
		defer cancel()

		resp, err := e.client.Embeddings.New(callCtx, openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{
				OfString: openai.String(text),
			},
			Model:      e.model,
			Dimensions: openai.Int(int64(e.dims)),
		})
		if err != nil {
			return err
		}
		if len(resp.Data) == 0 {
			return fmt.Errorf("empty embedding response")
		}
		// Convert []float64 to []float32
		embedding := resp.Data[0].Embedding
		vec = make(Vector, len(embedding))
		for i, v := range embedding {
			vec[i] = float32(v)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	return vec, nil
}

func (e *OpenAIEmbedder) Dimensions() int { return e.dims }

func (e *OpenAIEmbedder) ModelName() string { return string(e.model) }
