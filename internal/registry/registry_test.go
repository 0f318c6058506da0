package registry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/corpus-go/internal/rag"
)

func fixtureSources() []rag.Source {
	return []rag.Source{
		{ID: "owasp_docs", Tier: "STANDARD", FetchKind: FetchInline, BaseConfig: map[string]string{"text": "xss"}},
		{ID: "k8s_docs", Tier: "HIGH", FetchKind: FetchHTTP, BaseConfig: map[string]string{"url": "https://kubernetes.io/docs/"}, ChunkSize: 500, ChunkOverlap: 50},
	}
}

func TestRegistry_Classify(t *testing.T) {
	t.Parallel()

	r, err := New(DefaultTiers(), fixtureSources())
	require.NoError(t, err)

	c, err := r.Classify("k8s_docs")
	require.NoError(t, err)
	assert.Equal(t, "HIGH", c.Tier.Name)
	assert.Equal(t, "code", c.Tier.Collection)
	assert.Equal(t, 4096, c.Tier.Dimension)
	assert.Equal(t, 500, c.Source.ChunkSize)
	assert.Equal(t, 50, c.Source.ChunkOverlap)

	c, err = r.Classify("owasp_docs")
	require.NoError(t, err)
	assert.Equal(t, "docs", c.Tier.Collection)
	assert.Equal(t, DefaultChunkSize, c.Source.ChunkSize, "defaults apply when unset")
	assert.Zero(t, c.Source.ChunkOverlap)
}

func TestRegistry_ExplicitZeroOverlapIsKept(t *testing.T) {
	t.Parallel()

	r, err := New(DefaultTiers(), []rag.Source{
		{ID: "z", Tier: "STANDARD", FetchKind: FetchInline, ChunkSize: 500, ChunkOverlap: 0},
	})
	require.NoError(t, err)

	c, err := r.Classify("z")
	require.NoError(t, err)
	assert.Equal(t, 500, c.Source.ChunkSize)
	assert.Zero(t, c.Source.ChunkOverlap)
}

func TestRegistry_UnknownSource(t *testing.T) {
	t.Parallel()

	r, err := New(DefaultTiers(), fixtureSources())
	require.NoError(t, err)

	_, err = r.Classify("nope")
	var unknown *rag.UnknownSourceError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "nope", unknown.SourceID)
}

func TestRegistry_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		tiers   []rag.Tier
		sources []rag.Source
	}{
		{"no tiers", nil, nil},
		{"zero dimension", []rag.Tier{{Name: "A", Model: "m", Collection: "c"}}, nil},
		{"duplicate tier", []rag.Tier{
			{Name: "A", Model: "m", Collection: "c1", Dimension: 3},
			{Name: "A", Model: "m", Collection: "c2", Dimension: 3},
		}, nil},
		{"shared collection", []rag.Tier{
			{Name: "A", Model: "m", Collection: "c", Dimension: 3},
			{Name: "B", Model: "m", Collection: "c", Dimension: 3},
		}, nil},
		{"unknown tier", DefaultTiers(), []rag.Source{{ID: "s", Tier: "LOW", FetchKind: FetchInline}}},
		{"unknown fetch kind", DefaultTiers(), []rag.Source{{ID: "s", Tier: "HIGH", FetchKind: "ftp"}}},
		{"overlap too large", DefaultTiers(), []rag.Source{{ID: "s", Tier: "HIGH", FetchKind: FetchInline, ChunkSize: 10, ChunkOverlap: 10}}},
		{"duplicate source", DefaultTiers(), []rag.Source{
			{ID: "s", Tier: "HIGH", FetchKind: FetchInline},
			{ID: "s", Tier: "STANDARD", FetchKind: FetchInline},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tt.tiers, tt.sources)
			assert.Error(t, err)
		})
	}
}

func TestRegistry_ListingIsStableAndIsolated(t *testing.T) {
	t.Parallel()

	src := fixtureSources()
	r, err := New(DefaultTiers(), src)
	require.NoError(t, err)

	// Mutating the input after construction must not leak into the registry.
	src[0].BaseConfig["text"] = "changed"

	sources := r.Sources()
	require.Len(t, sources, 2)
	assert.Equal(t, "k8s_docs", sources[0].ID)
	assert.Equal(t, "owasp_docs", sources[1].ID)
	assert.Equal(t, "xss", sources[1].BaseConfig["text"])

	tiers := r.Tiers()
	assert.Equal(t, "STANDARD", tiers[0].Name)
	assert.Equal(t, "HIGH", tiers[1].Name)

	_, ok := r.Tier("HIGH")
	assert.True(t, ok)
	_, ok = r.Tier("LOW")
	assert.False(t, ok)
}
