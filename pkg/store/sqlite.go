package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/xhad/docseek/internal/logger"
	"github.com/xhad/docseek/internal/models"
	"github.com/xhad/docseek/internal/types"
)

type SQLiteConfig struct {
	Path string
	// VectorDim fixes the embedding dimension. Zero means the dimension
	// of the first appended record is adopted and persisted.
	VectorDim int
	Logger    *zap.Logger
}

// SQLite is an embedded store that keeps embeddings as little-endian
// float32 blobs and ranks them in process with an exact cosine scan.
type SQLite struct {
	db     *sql.DB
	logger *zap.Logger

	mu  sync.RWMutex
	dim int
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS store_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS documents (
		file_hash TEXT PRIMARY KEY,
		file_name TEXT NOT NULL,
		indexed_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		record_id TEXT NOT NULL UNIQUE,
		content TEXT NOT NULL,
		embedding BLOB NOT NULL,
		metadata TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS records_file_hash_idx
		ON records (json_extract(metadata, '$.file_hash'))`,
	// A claim lives only as long as its document has records.
	`CREATE TRIGGER IF NOT EXISTS records_release_claim
		AFTER DELETE ON records
		WHEN NOT EXISTS (
			SELECT 1 FROM records
			WHERE json_extract(metadata, '$.file_hash') = json_extract(OLD.metadata, '$.file_hash')
		)
		BEGIN
			DELETE FROM documents WHERE file_hash = json_extract(OLD.metadata, '$.file_hash');
		END`,
	// Claims orphaned before the trigger existed.
	`DELETE FROM documents WHERE NOT EXISTS (
		SELECT 1 FROM records
		WHERE json_extract(records.metadata, '$.file_hash') = documents.file_hash
	)`,
}

func NewSQLite(ctx context.Context, config SQLiteConfig) (*SQLite, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("%w: sqlite path is required", types.ErrInvalidInput)
	}
	if dir := filepath.Dir(config.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: creating data directory: %v", types.ErrIO, err)
		}
	}

	db, err := sql.Open("sqlite", config.Path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("%w: opening database: %v", types.ErrStorage, err)
	}
	// A single connection serializes writers so the document claim and
	// the record inserts never interleave between transactions.
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db, dim: config.VectorDim, logger: logger.OrNop(config.Logger)}
	if err := s.initialize(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) initialize(ctx context.Context) error {
	for _, stmt := range sqliteSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: creating schema: %v", types.ErrStorage, err)
		}
	}

	var stored string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM store_meta WHERE key = 'dimension'`).Scan(&stored)
	switch {
	case err == sql.ErrNoRows:
		if s.dim > 0 {
			return s.saveDimension(ctx, s.db, s.dim)
		}
		return nil
	case err != nil:
		return fmt.Errorf("%w: reading dimension: %v", types.ErrStorage, err)
	}

	dim, err := strconv.Atoi(stored)
	if err != nil {
		return fmt.Errorf("%w: corrupt dimension %q", types.ErrStorage, stored)
	}
	if s.dim > 0 && s.dim != dim {
		return fmt.Errorf("%w: store has %d dimensions, configured %d",
			types.ErrDimensionMismatch, dim, s.dim)
	}
	s.dim = dim
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLite) saveDimension(ctx context.Context, db execer, dim int) error {
	_, err := db.ExecContext(ctx,
		`INSERT OR REPLACE INTO store_meta (key, value) VALUES ('dimension', ?)`, strconv.Itoa(dim))
	if err != nil {
		return fmt.Errorf("%w: saving dimension: %v", types.ErrStorage, err)
	}
	return nil
}

func (s *SQLite) Exists(ctx context.Context, fileHash string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM records WHERE json_extract(metadata, '$.file_hash') = ?)`,
		fileHash).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: checking %s: %v", types.ErrStorage, fileHash, err)
	}
	return exists, nil
}

// Append inserts records in one transaction. A fingerprint that was
// already claimed aborts the whole batch with ErrAlreadyIndexed.
func (s *SQLite) Append(ctx context.Context, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: beginning transaction: %v", types.ErrStorage, err)
	}
	defer tx.Rollback()

	// The dimension is read inside the transaction so that two first
	// appends cannot persist different dimensions.
	var stored int
	err = tx.QueryRowContext(ctx, `SELECT CAST(value AS INTEGER) FROM store_meta WHERE key = 'dimension'`).Scan(&stored)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("%w: reading dimension: %v", types.ErrStorage, err)
	}

	dim := stored
	if dim == 0 {
		dim = len(records[0].Embedding)
	}
	for _, r := range records {
		if len(r.Embedding) != dim || dim == 0 {
			return fmt.Errorf("%w: record has %d dimensions, store has %d",
				types.ErrDimensionMismatch, len(r.Embedding), dim)
		}
	}
	if stored == 0 {
		if err := s.saveDimension(ctx, tx, dim); err != nil {
			return err
		}
	}

	for _, doc := range documentsOf(records) {
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO documents (file_hash, file_name, indexed_at) VALUES (?, ?, ?)`,
			doc.FileHash, doc.FileName, doc.Timestamp.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("%w: claiming %s: %v", types.ErrStorage, doc.FileHash, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", types.ErrAlreadyIndexed, doc.FileHash)
		}
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO records (record_id, content, embedding, metadata) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("%w: preparing insert: %v", types.ErrStorage, err)
	}
	defer stmt.Close()

	for i, r := range records {
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("%w: encoding metadata: %v", types.ErrStorage, err)
		}
		if _, err := stmt.ExecContext(ctx, r.ID, r.Content, float32SliceToBytes(r.Embedding), string(meta)); err != nil {
			return fmt.Errorf("%w: inserting record %d: %v", types.ErrStorage, i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: committing: %v", types.ErrStorage, err)
	}
	s.mu.Lock()
	s.dim = dim
	s.mu.Unlock()

	s.logger.Debug("appended records", zap.Int("records", len(records)))
	return nil
}

// TopK scans every record and returns the k most similar to query.
func (s *SQLite) TopK(ctx context.Context, query []float32, k int) ([]models.SearchResult, error) {
	if k <= 0 {
		return []models.SearchResult{}, nil
	}
	s.mu.RLock()
	dim := s.dim
	s.mu.RUnlock()
	if dim > 0 && len(query) != dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, store has %d",
			types.ErrDimensionMismatch, len(query), dim)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT content, embedding, metadata FROM records ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("%w: querying records: %v", types.ErrStorage, err)
	}
	defer rows.Close()

	candidates := []models.SearchResult{}
	for rows.Next() {
		var (
			r        models.SearchResult
			blob     []byte
			metadata string
		)
		if err := rows.Scan(&r.Content, &blob, &metadata); err != nil {
			return nil, fmt.Errorf("%w: scanning record: %v", types.ErrStorage, err)
		}
		if err := json.Unmarshal([]byte(metadata), &r.Metadata); err != nil {
			return nil, fmt.Errorf("%w: decoding metadata: %v", types.ErrStorage, err)
		}
		r.Score = CosineSimilarity(query, bytesToFloat32Slice(blob))
		candidates = append(candidates, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading records: %v", types.ErrStorage, err)
	}

	return rankTopK(candidates, k), nil
}

func (s *SQLite) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: counting records: %v", types.ErrStorage, err)
	}
	return n, nil
}

func (s *SQLite) Close() {
	if err := s.db.Close(); err != nil {
		s.logger.Warn("closing sqlite store", zap.Error(err))
	}
}

func float32SliceToBytes(floats []float32) []byte {
	buf := make([]byte, len(floats)*4)
	for i, f := range floats {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func bytesToFloat32Slice(data []byte) []float32 {
	floats := make([]float32, len(data)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return floats
}
