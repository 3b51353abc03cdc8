package types

import (
	"context"

	"github.com/xhad/docseek/internal/models"
)

// Core interfaces
type Extractor interface {
	Extract(path string) ([]string, error)
}

type EmbeddingGateway interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type VectorStore interface {
	Exists(ctx context.Context, fileHash string) (bool, error)
	Append(ctx context.Context, records []models.Record) error
	TopK(ctx context.Context, query []float32, k int) ([]models.SearchResult, error)
	Count(ctx context.Context) (int, error)
	Close()
}

// Answerer turns a question and retrieved passages into a grounded answer.
type Answerer interface {
	Answer(ctx context.Context, question string, passages []string) (string, error)
}
