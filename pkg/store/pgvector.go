package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/xhad/docseek/internal/logger"
	"github.com/xhad/docseek/internal/models"
	"github.com/xhad/docseek/internal/types"
)

type VectorStoreConfig struct {
	ConnString string
	TableName  string
	VectorDim  int
	// Index selects an approximate index on the embedding column:
	// "none" (exact scan), "ivfflat" or "hnsw".
	Index  string
	Logger *zap.Logger
}

// PGVector stores records in Postgres using the pgvector extension.
//
// Two tables are used: <table> holds one row per chunk, <table>_documents
// holds one row per fingerprint. The primary key on the second table is
// what makes concurrent indexing of the same document safe.
type PGVector struct {
	config VectorStoreConfig
	pool   *pgxpool.Pool
	logger *zap.Logger

	records   string
	documents string
}

func NewWithConfig(ctx context.Context, config VectorStoreConfig) (*PGVector, error) {
	if config.TableName == "" {
		config.TableName = "documents"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 768 // nomic-embed-text
	}
	if config.Index == "" {
		config.Index = "none"
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to database: %v", types.ErrStorage, err)
	}

	vs := &PGVector{
		config:    config,
		pool:      pool,
		logger:    logger.OrNop(config.Logger),
		records:   pgx.Identifier{config.TableName}.Sanitize(),
		documents: pgx.Identifier{config.TableName + "_documents"}.Sanitize(),
	}

	if err := vs.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return vs, nil
}

func (vs *PGVector) initialize(ctx context.Context) error {
	releaseClaim := pgx.Identifier{vs.config.TableName + "_release_claim"}.Sanitize()
	statements := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			file_hash TEXT PRIMARY KEY,
			file_name TEXT NOT NULL,
			indexed_at TIMESTAMPTZ NOT NULL
		)`, vs.documents),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			record_id UUID NOT NULL UNIQUE,
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			metadata JSONB NOT NULL
		)`, vs.records, vs.config.VectorDim),
		fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s
		ON %s ((metadata->>'file_hash'))`,
			pgx.Identifier{vs.config.TableName + "_file_hash_idx"}.Sanitize(), vs.records),
		// A claim lives only as long as its document has records.
		fmt.Sprintf(`
		CREATE OR REPLACE FUNCTION %[1]s() RETURNS trigger AS $$
		BEGIN
			IF NOT EXISTS (SELECT 1 FROM %[2]s WHERE metadata->>'file_hash' = OLD.metadata->>'file_hash') THEN
				DELETE FROM %[3]s WHERE file_hash = OLD.metadata->>'file_hash';
			END IF;
			RETURN NULL;
		END;
		$$ LANGUAGE plpgsql`, releaseClaim, vs.records, vs.documents),
		fmt.Sprintf(`
		CREATE OR REPLACE TRIGGER %s
		AFTER DELETE ON %s
		FOR EACH ROW EXECUTE FUNCTION %s()`, releaseClaim, vs.records, releaseClaim),
		// Claims orphaned by TRUNCATE or before the trigger existed.
		fmt.Sprintf(`
		DELETE FROM %s d WHERE NOT EXISTS (
			SELECT 1 FROM %s r WHERE r.metadata->>'file_hash' = d.file_hash
		)`, vs.documents, vs.records),
	}

	switch vs.config.Index {
	case "none":
	case "ivfflat":
		statements = append(statements, fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s
		ON %s
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)`,
			pgx.Identifier{vs.config.TableName + "_embedding_idx"}.Sanitize(), vs.records))
	case "hnsw":
		statements = append(statements, fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s
		ON %s
		USING hnsw (embedding vector_cosine_ops)`,
			pgx.Identifier{vs.config.TableName + "_embedding_idx"}.Sanitize(), vs.records))
	default:
		return fmt.Errorf("%w: unknown vector index %q", types.ErrInvalidInput, vs.config.Index)
	}

	for _, stmt := range statements {
		if _, err := vs.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("%w: failed to initialize schema: %v", types.ErrStorage, err)
		}
	}
	return nil
}

// Exists reports whether any record carries fileHash.
func (vs *PGVector) Exists(ctx context.Context, fileHash string) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE metadata->>'file_hash' = $1)`, vs.records)

	var exists bool
	if err := vs.pool.QueryRow(ctx, query, fileHash).Scan(&exists); err != nil {
		return false, fmt.Errorf("%w: failed to check %s: %v", types.ErrStorage, fileHash, err)
	}
	return exists, nil
}

// Append inserts records in a single transaction. Either every record is
// committed or none is.
func (vs *PGVector) Append(ctx context.Context, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}
	for _, r := range records {
		if len(r.Embedding) != vs.config.VectorDim {
			return fmt.Errorf("%w: record has %d dimensions, store has %d",
				types.ErrDimensionMismatch, len(r.Embedding), vs.config.VectorDim)
		}
	}

	// Begin transaction
	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", types.ErrStorage, err)
	}
	defer tx.Rollback(ctx)

	claim := fmt.Sprintf(`
		INSERT INTO %s (file_hash, file_name, indexed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (file_hash) DO NOTHING`, vs.documents)

	for _, doc := range documentsOf(records) {
		tag, err := tx.Exec(ctx, claim, doc.FileHash, doc.FileName, doc.Timestamp)
		if err != nil {
			return fmt.Errorf("%w: failed to claim %s: %v", types.ErrStorage, doc.FileHash, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s", types.ErrAlreadyIndexed, doc.FileHash)
		}
	}

	stmt := fmt.Sprintf(`
		INSERT INTO %s (record_id, content, embedding, metadata)
		VALUES ($1, $2, $3, $4)`, vs.records)

	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(stmt, r.ID, r.Content, pgvector.NewVector(r.Embedding), r.Metadata)
	}

	results := tx.SendBatch(ctx, batch)
	for i := range records {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("%w: failed to insert record %d: %v", types.ErrStorage, i, err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("%w: failed to insert records: %v", types.ErrStorage, err)
	}

	// Commit transaction
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: failed to commit transaction: %v", types.ErrStorage, err)
	}

	vs.logger.Debug("appended records", zap.Int("records", len(records)))
	return nil
}

// TopK returns the k records closest to queryEmbedding by cosine distance.
func (vs *PGVector) TopK(ctx context.Context, queryEmbedding []float32, k int) ([]models.SearchResult, error) {
	if k <= 0 {
		return []models.SearchResult{}, nil
	}
	if len(queryEmbedding) != vs.config.VectorDim {
		return nil, fmt.Errorf("%w: query has %d dimensions, store has %d",
			types.ErrDimensionMismatch, len(queryEmbedding), vs.config.VectorDim)
	}

	// Query similar documents
	query := fmt.Sprintf(`
		SELECT content, metadata, 1 - (embedding <=> $1) AS score
		FROM %s
		ORDER BY embedding <=> $1, id
		LIMIT $2`,
		vs.records)

	rows, err := vs.pool.Query(ctx, query, pgvector.NewVector(queryEmbedding), k)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query documents: %v", types.ErrStorage, err)
	}
	defer rows.Close()

	results := []models.SearchResult{}
	for rows.Next() {
		var r models.SearchResult
		if err := rows.Scan(&r.Content, &r.Metadata, &r.Score); err != nil {
			return nil, fmt.Errorf("%w: failed to scan row: %v", types.ErrStorage, err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to read rows: %v", types.ErrStorage, err)
	}

	return results, nil
}

func (vs *PGVector) Count(ctx context.Context) (int, error) {
	var n int
	err := vs.pool.QueryRow(ctx, fmt.Sprintf("SELECT count(*) FROM %s", vs.records)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to count records: %v", types.ErrStorage, err)
	}
	return n, nil
}

func (vs *PGVector) Close() {
	if vs.pool != nil {
		vs.pool.Close()
	}
}

// documentsOf returns the distinct document metadata in first-seen order.
func documentsOf(records []models.Record) []models.Metadata {
	seen := make(map[string]bool)
	var docs []models.Metadata
	for _, r := range records {
		if !seen[r.Metadata.FileHash] {
			seen[r.Metadata.FileHash] = true
			docs = append(docs, r.Metadata)
		}
	}
	return docs
}
