// Package embeddings turns document chunks and prompts into vectors for the
// vector query path. The OpenAI driver also serves any OpenAI-compatible
// endpoint (LocalAI, Ollama) through a custom base URL.
package embeddings

import (
	"context"
	"fmt"

	goopenai "github.com/sashabaranov/go-openai"
)

// OpenAIDriver embeds text with the OpenAI embeddings API.
// Supports text-embedding-3-small (1536d), text-embedding-3-large (3072d),
// and text-embedding-ada-002 (1536d).
type OpenAIDriver struct {
	client     *goopenai.Client
	model      string
	dimensions int
	batchSize  int
}

// OpenAIOption configures the OpenAI driver.
type OpenAIOption func(*openAIOptions)

type openAIOptions struct {
	baseURL   string
	batchSize int
	dims      int
}

// WithBaseURL points the driver at an OpenAI-compatible endpoint.
func WithBaseURL(url string) OpenAIOption {
	return func(o *openAIOptions) { o.baseURL = url }
}

// WithBatchSize sets the max texts per API request.
func WithBatchSize(size int) OpenAIOption {
	return func(o *openAIOptions) { o.batchSize = size }
}

// WithDimensions overrides the vector size for models not known here.
func WithDimensions(dims int) OpenAIOption {
	return func(o *openAIOptions) { o.dims = dims }
}

// NewOpenAIDriver creates an OpenAI embedding driver.
func NewOpenAIDriver(apiKey, model string, opts ...OpenAIOption) *OpenAIDriver {
	o := openAIOptions{batchSize: 512}
	switch model {
	case "text-embedding-3-large":
		o.dims = 3072
	default:
		o.dims = 1536
	}
	for _, opt := range opts {
		opt(&o)
	}

	cfg := goopenai.DefaultConfig(apiKey)
	if o.baseURL != "" {
		cfg.BaseURL = o.baseURL
	}
	return &OpenAIDriver{
		client:     goopenai.NewClientWithConfig(cfg),
		model:      model,
		dimensions: o.dims,
		batchSize:  o.batchSize,
	}
}

func (d *OpenAIDriver) Dimensions() int { return d.dimensions }

// Embed generates vectors for texts, splitting into API-sized batches.
func (d *OpenAIDriver) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += d.batchSize {
		end := min(start+d.batchSize, len(texts))
		batch, err := d.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

func (d *OpenAIDriver) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := d.client.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
		Input: texts,
		Model: goopenai.EmbeddingModel(d.model),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}

	// Reorder by index
	vectors := make([][]float32, len(texts))
	for _, e := range resp.Data {
		if e.Index < len(vectors) {
			vectors[e.Index] = e.Embedding
		}
	}
	for i, v := range vectors {
		if v == nil {
			return nil, fmt.Errorf("openai embeddings: missing vector for input %d", i)
		}
	}
	return vectors, nil
}
