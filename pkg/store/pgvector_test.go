package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xhad/docseek/internal/models"
	"github.com/xhad/docseek/internal/types"
	"github.com/xhad/docseek/pkg/store"
)

func startPGVector(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	pgC, err := tcPostgres.RunContainer(ctx,
		testcontainers.WithImage("pgvector/pgvector:pg16"),
		tcPostgres.WithDatabase("docseek"),
		tcPostgres.WithUsername("docseek"),
		tcPostgres.WithPassword("docseek"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	dsn, err := pgC.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

func TestPGVector(t *testing.T) {
	dsn := startPGVector(t)
	ctx := context.Background()

	s, err := store.NewWithConfig(ctx, store.VectorStoreConfig{
		ConnString: dsn,
		TableName:  "test_documents",
		VectorDim:  3,
	})
	require.NoError(t, err)
	defer s.Close()

	results, err := s.TopK(ctx, []float32{1, 0, 0}, 3)
	require.NoError(t, err)
	assert.Empty(t, results)

	require.NoError(t, s.Append(ctx, []models.Record{
		record("h1", "north", 1, 0, 0),
		record("h1", "east", 0, 1, 0),
		record("h1", "north-ish", 0.9, 0.1, 0),
	}))

	exists, err := s.Exists(ctx, "h1")
	require.NoError(t, err)
	assert.True(t, exists)

	results, err = s.TopK(ctx, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, []string{"north", "north-ish"}, contents(results))
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
	assert.Equal(t, "doc-h1", results[0].Metadata.FileName)
	assert.True(t, indexedAt.Equal(results[0].Metadata.Timestamp))

	t.Run("duplicate fingerprint rolls back", func(t *testing.T) {
		err := s.Append(ctx, []models.Record{record("h2", "b", 0, 0, 1), record("h1", "c", 1, 1, 0)})
		assert.ErrorIs(t, err, types.ErrAlreadyIndexed)

		exists, err := s.Exists(ctx, "h2")
		require.NoError(t, err)
		assert.False(t, exists)

		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		err := s.Append(ctx, []models.Record{record("h3", "x", 1, 0)})
		assert.ErrorIs(t, err, types.ErrDimensionMismatch)
	})

	t.Run("deleted records can be reindexed", func(t *testing.T) {
		pool, err := pgxpool.New(ctx, dsn)
		require.NoError(t, err)
		defer pool.Close()

		_, err = pool.Exec(ctx, `DELETE FROM test_documents WHERE metadata->>'file_hash' = 'h1'`)
		require.NoError(t, err)

		exists, err := s.Exists(ctx, "h1")
		require.NoError(t, err)
		assert.False(t, exists)

		require.NoError(t, s.Append(ctx, []models.Record{record("h1", "north again", 1, 0, 0)}))

		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func TestPGVector_UnknownIndex(t *testing.T) {
	dsn := startPGVector(t)

	_, err := store.NewWithConfig(context.Background(), store.VectorStoreConfig{
		ConnString: dsn,
		VectorDim:  3,
		Index:      "lsh",
	})
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}
