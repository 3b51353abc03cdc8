package llm_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/docseek/internal/types"
	"github.com/xhad/docseek/pkg/llm"
)

// stubEmbedder returns a vector of length dim whose first element is the
// text length, and records how texts were batched.
type stubEmbedder struct {
	dim     int
	err     error
	short   bool
	batches [][]string
}

func (s *stubEmbedder) vector(text string) []float32 {
	v := make([]float32, s.dim)
	v[0] = float32(len(text))
	return v
}

func (s *stubEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.batches = append(s.batches, texts)
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		out = append(out, s.vector(t))
	}
	if s.short {
		out = out[:len(out)-1]
	}
	return out, nil
}

func (s *stubEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.vector(text), nil
}

func TestNewEmbedderWithConfig(t *testing.T) {
	emb, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Model:   "nomic-embed-text:latest",
		BaseURL: "http://localhost:11434",
	})
	require.NoError(t, err)
	assert.NotNil(t, emb)
}

func TestGateway_Embed(t *testing.T) {
	g := llm.NewGateway(&stubEmbedder{dim: 4}, llm.EmbedderConfig{})

	v, err := g.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 0, 0, 0}, v)
}

func TestGateway_EmbedBatchPreservesOrderAcrossBatches(t *testing.T) {
	stub := &stubEmbedder{dim: 3}
	g := llm.NewGateway(stub, llm.EmbedderConfig{BatchSize: 2})

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vectors, err := g.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)

	require.Len(t, vectors, len(texts))
	for i, text := range texts {
		assert.Equal(t, float32(len(text)), vectors[i][0])
	}
	assert.Len(t, stub.batches, 3)
}

func TestGateway_EmbedBatchEmpty(t *testing.T) {
	stub := &stubEmbedder{dim: 3}
	g := llm.NewGateway(stub, llm.EmbedderConfig{})

	vectors, err := g.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
	assert.Empty(t, stub.batches)
}

func TestGateway_Errors(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		stub    *stubEmbedder
		config  llm.EmbedderConfig
		wantErr error
	}{
		{"model unavailable", &stubEmbedder{dim: 3, err: errors.New("connection refused")}, llm.EmbedderConfig{}, types.ErrEmbedding},
		{"missing vectors", &stubEmbedder{dim: 3, short: true}, llm.EmbedderConfig{}, types.ErrEmbedding},
		{"wrong dimension", &stubEmbedder{dim: 3}, llm.EmbedderConfig{Dimension: 768}, types.ErrDimensionMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := llm.NewGateway(tt.stub, tt.config)
			_, err := g.EmbedBatch(ctx, []string{"one", "two"})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestGateway_RateLimitHonoursContext(t *testing.T) {
	g := llm.NewGateway(&stubEmbedder{dim: 2}, llm.EmbedderConfig{RateLimit: 0.001})

	ctx, cancel := context.WithCancel(context.Background())
	_, err := g.Embed(ctx, "first")
	require.NoError(t, err)

	cancel()
	_, err = g.Embed(ctx, "second")
	assert.ErrorIs(t, err, types.ErrEmbedding)
}
