//go:build integration

package collection

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/corpus-go/internal/rag"
)

// Run with:
//
//	QDRANT_HOST=localhost go test -tags=integration ./internal/collection/
//	PGVECTOR_DSN=postgres://... go test -tags=integration ./internal/collection/

func exerciseStore(t *testing.T, s rag.CollectionStore) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	require.NoError(t, s.EnsureCollection(ctx))
	require.NoError(t, s.EnsureCollection(ctx), "EnsureCollection is idempotent")

	vec := func(hot int) []float32 {
		v := make([]float32, s.Dimension())
		v[hot] = 1
		return v
	}
	id := uuid.NewString()
	stale := uuid.NewString()

	require.NoError(t, s.Upsert(ctx, []rag.Chunk{
		{ID: id, SourceID: "it", Text: "first", Embedding: vec(0), Metadata: map[string]string{"k": "v"}},
		{ID: stale, SourceID: "it", Text: "stale", Embedding: vec(1)},
	}))
	require.NoError(t, s.Upsert(ctx, []rag.Chunk{
		{ID: id, SourceID: "it", Text: "second", Embedding: vec(0), Metadata: map[string]string{"k": "v"}},
	}))

	hits, err := s.Search(ctx, rag.SearchRequest{Embedding: vec(0), K: 1, Filter: map[string]string{"k": "v"}})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, id, hits[0].ChunkID)
	assert.Equal(t, "second", hits[0].Text)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-2)

	removed, err := s.DeleteStale(ctx, "it", []string{id})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = s.DeleteStale(ctx, "it", nil)
	require.NoError(t, err)
}

func TestQdrantStore_Integration(t *testing.T) {
	host := os.Getenv("QDRANT_HOST")
	if host == "" {
		t.Skip("QDRANT_HOST not set")
	}
	port, _ := strconv.Atoi(os.Getenv("QDRANT_PORT"))
	client, err := NewQdrantClient(&QdrantConfig{Host: host, Port: port})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	for _, dim := range []int{768, 4096} {
		name := "it_" + strconv.Itoa(dim) + "_" + strconv.FormatInt(time.Now().UnixNano(), 36)
		exerciseStore(t, NewQdrantStore(client, name, dim, nil))
		_ = client.DeleteCollection(context.Background(), name)
	}
}

func TestPgvectorStore_Integration(t *testing.T) {
	dsn := os.Getenv("PGVECTOR_DSN")
	if dsn == "" {
		t.Skip("PGVECTOR_DSN not set")
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	for _, dim := range []int{768, 3072} {
		name := "it_" + strconv.Itoa(dim) + "_" + strconv.FormatInt(time.Now().UnixNano(), 36)
		exerciseStore(t, NewPgvectorStore(pool, name, dim, nil))
		_, _ = pool.Exec(context.Background(), "DROP TABLE IF EXISTS "+tableName(name))
	}
}
