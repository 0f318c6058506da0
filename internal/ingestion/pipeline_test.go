package ingestion

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/corpus-go/internal/collection"
	"github.com/54b3r/corpus-go/internal/embedder"
	"github.com/54b3r/corpus-go/internal/rag"
)

var testTier = rag.Tier{Name: "STANDARD", Model: "nomic-embed-text", Collection: "docs", Dimension: 64}

// flakyFetcher fails transiently a fixed number of times before succeeding.
type flakyFetcher struct {
	failures int32
	calls    atomic.Int32
	content  string
}

func (f *flakyFetcher) Fetch(_ context.Context, src rag.Source) (string, error) {
	if f.calls.Add(1) <= f.failures {
		return "", &rag.FetchError{SourceID: src.ID, Kind: src.FetchKind, Transient: true, Err: errors.New("503")}
	}
	return f.content, nil
}

func newTestPipeline(t *testing.T, f Fetcher, batch int) *Pipeline {
	t.Helper()
	p, err := NewPipeline(f, embedder.NewHashEmbedder(nil, testTier.Dimension), Config{
		BatchSize:    batch,
		FetchBackoff: time.Millisecond,
	})
	require.NoError(t, err)
	return p
}

func TestPipeline_ProcessWritesChunks(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("kubernetes schedules pods onto nodes. ", 60)
	p := newTestPipeline(t, &flakyFetcher{content: text}, 4)
	store := collection.NewMemoryStore(testTier.Collection, testTier.Dimension)

	src := rag.Source{
		ID:           "k8s_docs",
		Tier:         "STANDARD",
		FetchKind:    "http",
		BaseConfig:   map[string]string{"url": "https://kubernetes.io/docs/concepts/workloads/pods/"},
		ChunkSize:    200,
		ChunkOverlap: 20,
		Metadata:     map[string]string{"team": "platform", "doc_type": "curated"},
	}

	var (
		mu     sync.Mutex
		stages []Stage
	)
	res, err := p.Process(context.Background(), src, testTier, store, func(s Stage) {
		mu.Lock()
		stages = append(stages, s)
		mu.Unlock()
	})
	require.NoError(t, err)

	assert.Equal(t, []Stage{StageFetching, StageChunking, StageEmbedding, StageUpserting}, stages)
	want := len(Chunk(text, 200, 20))
	require.Len(t, res.ChunkIDs, want)

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, n)

	first, ok := store.Get(res.ChunkIDs[0])
	require.True(t, ok)
	assert.Equal(t, ChunkID("k8s_docs", 0), first.ID)
	assert.Equal(t, "k8s_docs", first.Metadata["source_id"])
	assert.Equal(t, "STANDARD", first.Metadata["tier"])
	assert.Equal(t, "0", first.Metadata["chunk_index"])
	assert.Equal(t, "platform", first.Metadata["team"])
	assert.Equal(t, "curated", first.Metadata["doc_type"], "source metadata wins over inferred")
	assert.Equal(t, "kubernetes.io", first.Metadata["host"])
	assert.Equal(t, "concepts", first.Metadata["section"])
	assert.Equal(t, src.BaseConfig["url"], first.Metadata["url"])
}

func TestPipeline_ReprocessIsIdempotent(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("owasp cheat sheet series. ", 40)
	p := newTestPipeline(t, &flakyFetcher{content: text}, 8)
	store := collection.NewMemoryStore(testTier.Collection, testTier.Dimension)
	src := rag.Source{ID: "owasp_docs", FetchKind: "inline", ChunkSize: 100, ChunkOverlap: 10}

	first, err := p.Process(context.Background(), src, testTier, store, nil)
	require.NoError(t, err)
	second, err := p.Process(context.Background(), src, testTier, store, nil)
	require.NoError(t, err)

	assert.Equal(t, first.ChunkIDs, second.ChunkIDs)
	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(first.ChunkIDs), n)
}

func TestPipeline_RetriesTransientFetch(t *testing.T) {
	t.Parallel()

	f := &flakyFetcher{failures: 2, content: "retry me"}
	p := newTestPipeline(t, f, 4)
	store := collection.NewMemoryStore(testTier.Collection, testTier.Dimension)

	res, err := p.Process(context.Background(), rag.Source{ID: "flaky", FetchKind: "http", ChunkSize: 100}, testTier, store, nil)
	require.NoError(t, err)
	assert.Len(t, res.ChunkIDs, 1)
	assert.Equal(t, int32(3), f.calls.Load())
}

func TestPipeline_GivesUpAfterFetchAttempts(t *testing.T) {
	t.Parallel()

	f := &flakyFetcher{failures: 100, content: "never"}
	p := newTestPipeline(t, f, 4)
	store := collection.NewMemoryStore(testTier.Collection, testTier.Dimension)

	_, err := p.Process(context.Background(), rag.Source{ID: "down", FetchKind: "http", ChunkSize: 100}, testTier, store, nil)
	var fe *rag.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "down", fe.SourceID)
	assert.Equal(t, int32(3), f.calls.Load())
}

func TestPipeline_DimensionMismatchWritesNothing(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(t, &flakyFetcher{content: "short text"}, 4)
	store := collection.NewMemoryStore("code", 4096)

	_, err := p.Process(context.Background(), rag.Source{ID: "mismatch", FetchKind: "inline", ChunkSize: 100}, testTier, store, nil)
	var dm *rag.DimensionMismatchError
	require.True(t, errors.As(err, &dm))
	assert.Equal(t, 4096, dm.Want)
	assert.Equal(t, testTier.Dimension, dm.Got)

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPipeline_CancelledContextStops(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(t, &flakyFetcher{content: strings.Repeat("x ", 500)}, 2)
	store := collection.NewMemoryStore(testTier.Collection, testTier.Dimension)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := p.Process(ctx, rag.Source{ID: "cancel", FetchKind: "inline", ChunkSize: 50}, testTier, store, func(s Stage) {
		if s == StageChunking {
			cancel()
		}
	})
	require.ErrorIs(t, err, context.Canceled)

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNewPipeline_RequiresDependencies(t *testing.T) {
	t.Parallel()

	_, err := NewPipeline(nil, embedder.NewHashEmbedder(nil, 8), Config{})
	assert.Error(t, err)
	_, err = NewPipeline(NewFetcher(FetcherConfig{}), nil, Config{})
	assert.Error(t, err)
}
