package retriever

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/corpus-go/internal/collection"
	"github.com/54b3r/corpus-go/internal/embedder"
	"github.com/54b3r/corpus-go/internal/metrics"
	"github.com/54b3r/corpus-go/internal/rag"
	"github.com/54b3r/corpus-go/internal/registry"
)

var testTiers = []rag.Tier{
	{Name: "HIGH", Model: "text-embedding-3-large", Collection: "code", Dimension: 4096},
	{Name: "STANDARD", Model: "nomic-embed-text", Collection: "docs", Dimension: 768},
}

var corpus = map[string][]string{
	"HIGH": {
		"kubernetes pods run one or more containers",
		"a deployment manages replica sets of pods",
		"services expose pods over a stable address",
		"configmaps inject configuration into pods",
	},
	"STANDARD": {
		"validate input to prevent injection attacks",
		"kubernetes security hardening for pods",
		"use parameterised queries against sql injection",
	},
}

var models = map[string]int{"text-embedding-3-large": 4096, "nomic-embed-text": 768}

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New(testTiers, []rag.Source{
		{ID: "k8s_docs", Tier: "HIGH", FetchKind: "inline"},
		{ID: "owasp_docs", Tier: "STANDARD", FetchKind: "inline"},
	})
	require.NoError(t, err)
	return reg
}

// seed writes the corpus into memory stores using the hash embedder.
func seed(t *testing.T, emb rag.Embedder) map[string]rag.CollectionStore {
	t.Helper()
	stores := collection.NewMemoryStores(testTiers).ByTier()
	source := map[string]string{"HIGH": "k8s_docs", "STANDARD": "owasp_docs"}
	for _, tier := range testTiers {
		texts := corpus[tier.Name]
		vecs, err := emb.Embed(context.Background(), tier.Model, texts)
		require.NoError(t, err)
		chunks := make([]rag.Chunk, len(texts))
		for i, text := range texts {
			chunks[i] = rag.Chunk{
				ID:        fmt.Sprintf("%s-%d", tier.Collection, i),
				SourceID:  source[tier.Name],
				Text:      text,
				Embedding: vecs[i],
				Metadata:  map[string]string{"source_id": source[tier.Name], "team": tier.Name},
			}
		}
		require.NoError(t, stores[tier.Name].Upsert(context.Background(), chunks))
	}
	return stores
}

func newTestRetriever(t *testing.T, emb rag.Embedder, stores map[string]rag.CollectionStore, cfg Config) *Retriever {
	t.Helper()
	r, err := New(newTestRegistry(t), emb, stores, metrics.New(prometheus.NewRegistry()), nil, cfg)
	require.NoError(t, err)
	return r
}

func TestQuery_SearchesEveryTier(t *testing.T) {
	t.Parallel()
	emb := embedder.NewHashEmbedder(models, 0)
	r := newTestRetriever(t, emb, seed(t, emb), Config{})

	got, err := r.Query(context.Background(), Request{Text: "kubernetes pods", KPerTier: 2})
	require.NoError(t, err)
	require.Len(t, got, 4)

	assert.Equal(t, "HIGH", got[0].Tier)
	assert.Equal(t, "code", got[0].Collection)
	assert.Equal(t, "STANDARD", got[1].Tier)
	assert.Equal(t, "docs", got[1].Collection)
	assert.Equal(t, "kubernetes security hardening for pods", got[1].Text)
	assert.Equal(t, "owasp_docs", got[1].Source)
	for i, res := range got {
		assert.Equal(t, i+1, res.Rank)
		assert.GreaterOrEqual(t, res.RawScore, float32(0))
		assert.LessOrEqual(t, res.RawScore, float32(1))
	}
}

func TestQuery_KPerTierBoundsEachTier(t *testing.T) {
	t.Parallel()
	emb := embedder.NewHashEmbedder(models, 0)
	r := newTestRetriever(t, emb, seed(t, emb), Config{})

	got, err := r.Query(context.Background(), Request{Text: "pods", KPerTier: 1, Merge: MergeConcat})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "HIGH", got[0].Tier)
	assert.Equal(t, "STANDARD", got[1].Tier)
}

func TestQuery_HighThresholdReturnsEmpty(t *testing.T) {
	t.Parallel()
	emb := embedder.NewHashEmbedder(models, 0)
	r := newTestRetriever(t, emb, seed(t, emb), Config{})

	got, err := r.Query(context.Background(), Request{Text: "how do I secure a cluster", KPerTier: 5, ScoreThreshold: 0.9})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestQuery_ActiveTiersAndFilter(t *testing.T) {
	t.Parallel()
	emb := embedder.NewHashEmbedder(models, 0)
	r := newTestRetriever(t, emb, seed(t, emb), Config{})

	got, err := r.Query(context.Background(), Request{Text: "injection", KPerTier: 10, ActiveTiers: []string{"STANDARD"}})
	require.NoError(t, err)
	require.NotEmpty(t, got)
	for _, res := range got {
		assert.Equal(t, "STANDARD", res.Tier)
	}

	got, err = r.Query(context.Background(), Request{Text: "pods", KPerTier: 10, Filter: map[string]string{"team": "HIGH"}})
	require.NoError(t, err)
	require.Len(t, got, len(corpus["HIGH"]))
	for _, res := range got {
		assert.Equal(t, "HIGH", res.Metadata["team"])
	}
}

func TestQuery_UnknownTier(t *testing.T) {
	t.Parallel()
	emb := embedder.NewHashEmbedder(models, 0)
	r := newTestRetriever(t, emb, seed(t, emb), Config{})

	_, err := r.Query(context.Background(), Request{Text: "pods", ActiveTiers: []string{"ULTRA"}})
	assert.ErrorIs(t, err, rag.ErrUnknownTier)

	_, err = r.Query(context.Background(), Request{Text: "  "})
	assert.ErrorIs(t, err, ErrEmptyQuery)

}

func TestQuery_RejectsOutOfRangeParameters(t *testing.T) {
	t.Parallel()
	emb := embedder.NewHashEmbedder(models, 0)
	r := newTestRetriever(t, emb, seed(t, emb), Config{})

	for name, req := range map[string]Request{
		"k too large":        {Text: "pods", KPerTier: MaxKPerTier + 1},
		"threshold above 1":  {Text: "pods", ScoreThreshold: 1.5},
		"negative threshold": {Text: "pods", ScoreThreshold: -0.2},
		"unknown merge":      {Text: "pods", Merge: "borda"},
	} {
		_, err := r.Query(context.Background(), req)
		assert.ErrorIs(t, err, ErrInvalidRequest, name)
	}
}

// slowEmbedder blocks one model until the context ends.
type slowEmbedder struct {
	rag.Embedder
	slowModel string
}

func (e slowEmbedder) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if model == e.slowModel {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return e.Embedder.Embed(ctx, model, texts)
}

func TestQuery_DeadlineFailsWholeQuery(t *testing.T) {
	t.Parallel()
	emb := embedder.NewHashEmbedder(models, 0)
	stores := seed(t, emb)
	r := newTestRetriever(t, slowEmbedder{Embedder: emb, slowModel: "text-embedding-3-large"}, stores, Config{Timeout: 50 * time.Millisecond})

	got, err := r.Query(context.Background(), Request{Text: "pods"})
	assert.Nil(t, got)

	var partial *rag.QueryPartialTierFailure
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, "HIGH", partial.Tier)
	var timeout *rag.QueryTimeoutError
	assert.ErrorAs(t, err, &timeout)
}

func TestQuery_CallerCancellationFailsQuery(t *testing.T) {
	t.Parallel()
	emb := embedder.NewHashEmbedder(models, 0)
	r := newTestRetriever(t, slowEmbedder{Embedder: emb, slowModel: "nomic-embed-text"}, seed(t, emb), Config{})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := r.Query(ctx, Request{Text: "pods"})
	var partial *rag.QueryPartialTierFailure
	require.ErrorAs(t, err, &partial)
	assert.ErrorIs(t, err, context.Canceled)
}

// brokenStore fails every search.
type brokenStore struct {
	*collection.MemoryStore
}

func (brokenStore) Search(context.Context, rag.SearchRequest) ([]rag.Hit, error) {
	return nil, errors.New("qdrant: connection reset")
}

func TestQuery_TierFailureFailsWholeQuery(t *testing.T) {
	t.Parallel()
	emb := embedder.NewHashEmbedder(models, 0)
	stores := seed(t, emb)
	stores["STANDARD"] = brokenStore{collection.NewMemoryStore("docs", 768)}
	r := newTestRetriever(t, emb, stores, Config{})

	got, err := r.Query(context.Background(), Request{Text: "pods"})
	assert.Nil(t, got)
	var partial *rag.QueryPartialTierFailure
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, "STANDARD", partial.Tier)
	assert.Contains(t, err.Error(), "connection reset")
}

// countingEmbedder counts calls per model.
type countingEmbedder struct {
	rag.Embedder
	calls atomic.Int32
}

func (e *countingEmbedder) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	return e.Embedder.Embed(ctx, model, texts)
}

func TestQuery_EmbedsOncePerModel(t *testing.T) {
	t.Parallel()

	tiers := []rag.Tier{
		{Name: "A", Model: "shared", Collection: "a", Dimension: 64},
		{Name: "B", Model: "shared", Collection: "b", Dimension: 64},
	}
	reg, err := registry.New(tiers, nil)
	require.NoError(t, err)
	emb := &countingEmbedder{Embedder: embedder.NewHashEmbedder(nil, 64)}

	r, err := New(reg, emb, collection.NewMemoryStores(tiers).ByTier(), nil, nil, Config{})
	require.NoError(t, err)

	_, err = r.Query(context.Background(), Request{Text: "anything"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), emb.calls.Load())
}
