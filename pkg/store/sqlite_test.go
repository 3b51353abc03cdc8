package store_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/docseek/internal/models"
	"github.com/xhad/docseek/internal/types"
	"github.com/xhad/docseek/pkg/store"
)

var indexedAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func record(hash, content string, vec ...float32) models.Record {
	return models.Record{
		ID:        uuid.NewString(),
		Embedding: vec,
		Content:   content,
		Metadata: models.Metadata{
			FileName:  "doc-" + hash,
			FileHash:  hash,
			Timestamp: indexedAt,
		},
	}
}

func newSQLite(t *testing.T) *store.SQLite {
	t.Helper()
	s, err := store.NewSQLite(context.Background(), store.SQLiteConfig{
		Path: filepath.Join(t.TempDir(), "docseek.db"),
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func contents(results []models.SearchResult) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.Content)
	}
	return out
}

func TestSQLite_AppendAndTopK(t *testing.T) {
	ctx := context.Background()
	s := newSQLite(t)

	exists, err := s.Exists(ctx, "h1")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, s.Append(ctx, []models.Record{
		record("h1", "north", 1, 0, 0),
		record("h1", "east", 0, 1, 0),
		record("h1", "north-ish", 0.9, 0.1, 0),
	}))

	exists, err = s.Exists(ctx, "h1")
	require.NoError(t, err)
	assert.True(t, exists)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	results, err := s.TopK(ctx, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, []string{"north", "north-ish"}, contents(results))
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
	assert.Greater(t, results[0].Score, results[1].Score)

	assert.Equal(t, "h1", results[0].Metadata.FileHash)
	assert.Equal(t, "doc-h1", results[0].Metadata.FileName)
	assert.True(t, indexedAt.Equal(results[0].Metadata.Timestamp))
}

func TestSQLite_TopKEdges(t *testing.T) {
	ctx := context.Background()
	s := newSQLite(t)

	results, err := s.TopK(ctx, []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results, "empty store")

	require.NoError(t, s.Append(ctx, []models.Record{
		record("h1", "first", 1, 1),
		record("h1", "second", 1, 1),
		record("h1", "third", 1, 1),
	}))

	results, err = s.TopK(ctx, []float32{1, 1}, 0)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = s.TopK(ctx, []float32{1, 1}, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "third"}, contents(results), "ties keep insertion order")

	_, err = s.TopK(ctx, []float32{1, 1, 1}, 1)
	assert.ErrorIs(t, err, types.ErrDimensionMismatch)
}

func TestSQLite_DuplicateAppend(t *testing.T) {
	ctx := context.Background()
	s := newSQLite(t)

	require.NoError(t, s.Append(ctx, []models.Record{record("h1", "a", 1, 0)}))

	err := s.Append(ctx, []models.Record{record("h1", "a again", 1, 0)})
	assert.ErrorIs(t, err, types.ErrAlreadyIndexed)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLite_AppendIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := newSQLite(t)

	require.NoError(t, s.Append(ctx, []models.Record{record("h1", "a", 1, 0)}))

	tests := []struct {
		name    string
		records []models.Record
		wantErr error
	}{
		{
			name:    "already claimed fingerprint",
			records: []models.Record{record("h2", "b", 0, 1), record("h1", "c", 1, 1)},
			wantErr: types.ErrAlreadyIndexed,
		},
		{
			name:    "dimension mismatch",
			records: []models.Record{record("h2", "b", 0, 1), record("h2", "c", 1, 1, 1)},
			wantErr: types.ErrDimensionMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Append(ctx, tt.records)
			assert.ErrorIs(t, err, tt.wantErr)

			exists, err := s.Exists(ctx, "h2")
			require.NoError(t, err)
			assert.False(t, exists)

			n, err := s.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, n)
		})
	}

	// The rolled back claim does not block a later append.
	require.NoError(t, s.Append(ctx, []models.Record{record("h2", "b", 0, 1)}))
}

func TestSQLite_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "docseek.db")

	s, err := store.NewSQLite(ctx, store.SQLiteConfig{Path: path})
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, []models.Record{record("h1", "a", 1, 0, 0)}))
	s.Close()

	s, err = store.NewSQLite(ctx, store.SQLiteConfig{Path: path})
	require.NoError(t, err)
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	err = s.Append(ctx, []models.Record{record("h2", "b", 1, 0)})
	assert.ErrorIs(t, err, types.ErrDimensionMismatch)
	s.Close()

	_, err = store.NewSQLite(ctx, store.SQLiteConfig{Path: path, VectorDim: 768})
	assert.ErrorIs(t, err, types.ErrDimensionMismatch)
}

func TestSQLite_DeletedRecordsCanBeReindexed(t *testing.T) {
	tests := []struct {
		name string
		// setup runs on a raw connection before the records are deleted.
		setup string
	}{
		{"trigger releases claim", ""},
		{"orphaned claim cleared on open", "DROP TRIGGER records_release_claim"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), "docseek.db")

			s, err := store.NewSQLite(ctx, store.SQLiteConfig{Path: path})
			require.NoError(t, err)
			require.NoError(t, s.Append(ctx, []models.Record{
				record("h1", "north", 1, 0),
				record("h2", "east", 0, 1),
			}))
			s.Close()

			db, err := sql.Open("sqlite", path)
			require.NoError(t, err)
			if tt.setup != "" {
				_, err = db.ExecContext(ctx, tt.setup)
				require.NoError(t, err)
			}
			_, err = db.ExecContext(ctx, `DELETE FROM records WHERE json_extract(metadata, '$.file_hash') = 'h1'`)
			require.NoError(t, err)
			require.NoError(t, db.Close())

			s, err = store.NewSQLite(ctx, store.SQLiteConfig{Path: path})
			require.NoError(t, err)
			defer s.Close()

			exists, err := s.Exists(ctx, "h1")
			require.NoError(t, err)
			assert.False(t, exists)

			require.NoError(t, s.Append(ctx, []models.Record{record("h1", "north again", 1, 0)}))

			exists, err = s.Exists(ctx, "h1")
			require.NoError(t, err)
			assert.True(t, exists)

			// The untouched document keeps its claim.
			err = s.Append(ctx, []models.Record{record("h2", "east again", 0, 1)})
			assert.ErrorIs(t, err, types.ErrAlreadyIndexed)

			n, err := s.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, n)
		})
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := store.Open(ctx, store.Config{
		Driver: store.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "docseek.db"),
	})
	require.NoError(t, err)
	s.Close()

	_, err = store.Open(ctx, store.Config{Driver: "mongo"})
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	_, err = store.Open(ctx, store.Config{Driver: store.DriverSQLite})
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}
