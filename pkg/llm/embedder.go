package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"golang.org/x/time/rate"

	"github.com/xhad/docseek/internal/types"
)

// EmbedderConfig configures the embedding gateway.
type EmbedderConfig struct {
	Model   string
	BaseURL string // Ollama server URL
	// BatchSize caps the number of texts sent in one model call.
	BatchSize int
	// Dimension, when set, is enforced on every returned vector.
	Dimension int
	// RateLimit is model calls per second; zero disables limiting.
	RateLimit float64
}

// Gateway converts text into fixed-dimension vectors through an embedding
// model. Indexing goes through EmbedBatch; queries through Embed.
type Gateway struct {
	config   EmbedderConfig
	embedder embeddings.Embedder
	limiter  *rate.Limiter
}

// NewEmbedderWithConfig builds a gateway backed by an Ollama embedding model.
func NewEmbedderWithConfig(config EmbedderConfig) (*Gateway, error) {
	if config.Model == "" {
		config.Model = "nomic-embed-text:latest" // Default Ollama model
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434" // Default Ollama URL
	}

	client, err := ollama.New(ollama.WithModel(config.Model), ollama.WithServerURL(config.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to initialize embedding model: %v", types.ErrEmbedding, err)
	}

	embedder, err := embeddings.NewEmbedder(client, embeddings.WithBatchSize(batchSizeOrDefault(config.BatchSize)))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to initialize embedder: %v", types.ErrEmbedding, err)
	}

	return NewGateway(embedder, config), nil
}

// NewGateway wraps any langchaingo embedder.
func NewGateway(embedder embeddings.Embedder, config EmbedderConfig) *Gateway {
	config.BatchSize = batchSizeOrDefault(config.BatchSize)

	g := &Gateway{
		config:   config,
		embedder: embedder,
	}
	if config.RateLimit > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), 1)
	}
	return g
}

func batchSizeOrDefault(n int) int {
	if n <= 0 {
		return 512
	}
	return n
}

// Embed returns the vector for a single query text.
func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}

	vector, err := g.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create query embedding: %v", types.ErrEmbedding, err)
	}
	if err := g.checkDimension(vector, len(vector)); err != nil {
		return nil, err
	}
	return vector, nil
}

// EmbedBatch returns one vector per text, in order, all of the same dimension.
func (g *Gateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))

	for start := 0; start < len(texts); start += g.config.BatchSize {
		end := start + g.config.BatchSize
		if end > len(texts) {
			end = len(texts)
		}

		if err := g.wait(ctx); err != nil {
			return nil, err
		}

		batch, err := g.embedder.EmbedDocuments(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("%w: failed to create embeddings: %v", types.ErrEmbedding, err)
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("%w: model returned %d vectors for %d texts", types.ErrEmbedding, len(batch), end-start)
		}
		vectors = append(vectors, batch...)
	}

	if len(vectors) == 0 {
		return vectors, nil
	}
	want := len(vectors[0])
	for _, v := range vectors {
		if err := g.checkDimension(v, want); err != nil {
			return nil, err
		}
	}
	return vectors, nil
}

func (g *Gateway) checkDimension(v []float32, want int) error {
	if g.config.Dimension > 0 {
		want = g.config.Dimension
	}
	if len(v) == 0 || len(v) != want {
		return fmt.Errorf("%w: %w: got vector of length %d, want %d",
			types.ErrEmbedding, types.ErrDimensionMismatch, len(v), want)
	}
	return nil
}

func (g *Gateway) wait(ctx context.Context) error {
	if g.limiter == nil {
		return nil
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limiter: %v", types.ErrEmbedding, err)
	}
	return nil
}
