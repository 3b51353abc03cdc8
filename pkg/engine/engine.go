// Package engine ties extraction, chunking, embedding and storage together
// into document indexing and similarity search.
package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xhad/docseek/internal/logger"
	"github.com/xhad/docseek/internal/metrics"
	"github.com/xhad/docseek/internal/models"
	"github.com/xhad/docseek/internal/types"
	"github.com/xhad/docseek/pkg/fingerprint"
	"github.com/xhad/docseek/pkg/processor"
)

const DefaultTopK = 10

// Chunker turns the pages of one document into chunks.
type Chunker interface {
	Split(pages []string) processor.SplitResult
}

// StreamAnswerer is implemented by answerers that can emit partial output.
type StreamAnswerer interface {
	AnswerStream(ctx context.Context, question string, passages []string, onChunk func(string)) (string, error)
}

type Status string

const (
	StatusIndexed   Status = "indexed"
	StatusDuplicate Status = "duplicate"
	StatusEmpty     Status = "empty"
	StatusFailed    Status = "failed"
)

// IndexResult reports what IndexDocument did with one file. Err is set
// only when Status is StatusFailed.
type IndexResult struct {
	Path     string
	FileHash string
	Status   Status
	Chunks   int
	Err      error
}

type Engine struct {
	extractor types.Extractor
	chunker   Chunker
	gateway   types.EmbeddingGateway
	store     types.VectorStore
	answerer  types.Answerer

	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	topK    int
}

type Option func(*Engine)

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger.OrNop(l) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithAnswerer enables Ask and AskStream.
func WithAnswerer(a types.Answerer) Option {
	return func(e *Engine) { e.answerer = a }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithDefaultTopK sets the k used when a search passes k <= 0.
func WithDefaultTopK(k int) Option {
	return func(e *Engine) {
		if k > 0 {
			e.topK = k
		}
	}
}

func New(extractor types.Extractor, chunker Chunker, gateway types.EmbeddingGateway, store types.VectorStore, opts ...Option) *Engine {
	e := &Engine{
		extractor: extractor,
		chunker:   chunker,
		gateway:   gateway,
		store:     store,
		logger:    zap.NewNop(),
		now:       time.Now,
		topK:      DefaultTopK,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// IndexDocument fingerprints, extracts, chunks, embeds and stores the
// document at path. Failures are logged and reported in the result; they
// are never returned as an error so a caller can keep going through a
// corpus.
func (e *Engine) IndexDocument(ctx context.Context, path string) (result IndexResult) {
	start := time.Now()
	result = IndexResult{Path: path}
	log := e.logger.With(zap.String("path", path))

	defer func() {
		if r := recover(); r != nil {
			result.Status = StatusFailed
			result.Chunks = 0
			result.Err = fmt.Errorf("panic while indexing: %v", r)
			log.Error("failed to index document", zap.Error(result.Err))
		}
		e.metrics.RecordIndex(string(result.Status), result.Chunks, time.Since(start))
	}()

	fail := func(err error) IndexResult {
		log.Error("failed to index document", zap.Error(err))
		result.Status = StatusFailed
		result.Err = err
		return result
	}

	hash, err := fingerprint.File(path)
	if err != nil {
		return fail(err)
	}
	result.FileHash = hash
	log = log.With(zap.String("file_hash", hash))

	exists, err := e.store.Exists(ctx, hash)
	if err != nil {
		return fail(err)
	}
	if exists {
		log.Info("document already indexed")
		result.Status = StatusDuplicate
		return result
	}

	pages, err := e.extractor.Extract(path)
	if err != nil {
		return fail(err)
	}

	split := e.chunker.Split(pages)
	if split.Err != nil {
		return fail(split.Err)
	}
	if split.Empty() {
		log.Info("no text to index", zap.Int("pages", len(pages)))
		result.Status = StatusEmpty
		return result
	}

	vectors, err := e.gateway.EmbedBatch(ctx, split.Chunks)
	if err != nil {
		return fail(err)
	}
	if len(vectors) != len(split.Chunks) {
		return fail(fmt.Errorf("%w: got %d vectors for %d chunks", types.ErrEmbedding, len(vectors), len(split.Chunks)))
	}

	meta := models.Metadata{
		FileName:  strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		FileHash:  hash,
		Timestamp: e.now().UTC(),
	}
	records := make([]models.Record, len(split.Chunks))
	for i, chunk := range split.Chunks {
		records[i] = models.Record{
			ID:        uuid.NewString(),
			Embedding: vectors[i],
			Content:   chunk,
			Metadata:  meta,
		}
	}

	if err := e.store.Append(ctx, records); err != nil {
		if errors.Is(err, types.ErrAlreadyIndexed) {
			log.Info("document indexed concurrently")
			result.Status = StatusDuplicate
			return result
		}
		return fail(err)
	}

	log.Info("indexed document", zap.Int("chunks", len(records)), zap.Int("pages", len(pages)))
	result.Status = StatusIndexed
	result.Chunks = len(records)
	return result
}

// IndexPaths indexes every PDF named by paths, one document at a time.
// Directories are walked recursively and glob patterns are expanded.
// onResult, when non-nil, is called after each document. The returned
// error is only set when the paths cannot be expanded or ctx is done.
func (e *Engine) IndexPaths(ctx context.Context, paths []string, onResult func(IndexResult)) ([]IndexResult, error) {
	files, err := ExpandPaths(paths)
	if err != nil {
		return nil, err
	}
	return e.IndexFiles(ctx, files, onResult)
}

// IndexFiles is IndexPaths for a list already resolved by ExpandPaths:
// every entry is indexed as a single document.
func (e *Engine) IndexFiles(ctx context.Context, files []string, onResult func(IndexResult)) ([]IndexResult, error) {
	results := make([]IndexResult, 0, len(files))
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		r := e.IndexDocument(ctx, file)
		results = append(results, r)
		if onResult != nil {
			onResult(r)
		}
	}
	return results, nil
}

// SearchQuery embeds text and returns the k most similar chunks. Unlike
// IndexDocument, failures are returned to the caller.
func (e *Engine) SearchQuery(ctx context.Context, text string, k int) (results []models.SearchResult, err error) {
	start := time.Now()
	defer func() { e.metrics.RecordSearch(err, time.Since(start)) }()

	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty query", types.ErrInvalidInput)
	}
	if k <= 0 {
		k = e.topK
	}

	vector, err := e.gateway.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	results, err = e.store.TopK(ctx, vector, k)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("search", zap.String("query", text), zap.Int("k", k), zap.Int("results", len(results)))
	return results, nil
}

// Ask answers question from the k best matching chunks and returns the
// answer together with the chunks it was given.
func (e *Engine) Ask(ctx context.Context, question string, k int) (string, []models.SearchResult, error) {
	return e.AskStream(ctx, question, k, nil)
}

// AskStream is Ask with partial output passed to onChunk as it is
// generated. Answerers that cannot stream deliver the whole answer once.
func (e *Engine) AskStream(ctx context.Context, question string, k int, onChunk func(string)) (string, []models.SearchResult, error) {
	if e.answerer == nil {
		return "", nil, fmt.Errorf("%w: no answerer configured", types.ErrInvalidInput)
	}

	results, err := e.SearchQuery(ctx, question, k)
	if err != nil {
		return "", nil, err
	}

	passages := make([]string, len(results))
	for i, r := range results {
		passages[i] = r.Content
	}

	var answer string
	if s, ok := e.answerer.(StreamAnswerer); ok && onChunk != nil {
		answer, err = s.AnswerStream(ctx, question, passages, onChunk)
	} else {
		answer, err = e.answerer.Answer(ctx, question, passages)
		if err == nil && onChunk != nil {
			onChunk(answer)
		}
	}
	if err != nil {
		return "", results, err
	}
	return answer, results, nil
}

// Count returns the number of stored chunks.
func (e *Engine) Count(ctx context.Context) (int, error) {
	return e.store.Count(ctx)
}
