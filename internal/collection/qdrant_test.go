package collection

import (
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/corpus-go/internal/rag"
)

func TestQdrantPayloadRoundTrip(t *testing.T) {
	t.Parallel()

	c := rag.Chunk{
		ID:       "2f1c4f0e-9d3a-5b6e-8f7a-1b2c3d4e5f60",
		SourceID: "k8s_docs",
		Text:     "Pods are the smallest deployable units.",
		Offset:   900,
		Metadata: map[string]string{"host": "kubernetes.io", "doc_type": "reference"},
	}
	payload := qdrant.NewValueMap(pointPayload(c, "2026-01-01T00:00:00Z", "2026-01-02T00:00:00Z"))

	h := hitFromPayload(c.ID, 1.2, payload)
	assert.Equal(t, c.Text, h.Text)
	assert.Equal(t, "k8s_docs", h.Source)
	assert.Equal(t, c.Metadata, h.Metadata)
	assert.Equal(t, float32(1), h.Score, "score is clamped")
}

func TestQdrantFilters(t *testing.T) {
	t.Parallel()

	assert.Nil(t, filterFor(nil))

	f := filterFor(map[string]string{"doc_type": "guide"})
	require.Len(t, f.GetMust(), 1)
	assert.Equal(t, "metadata.doc_type", f.GetMust()[0].GetField().GetKey())

	sf := sourceFilter("s1", []string{"2f1c4f0e-9d3a-5b6e-8f7a-1b2c3d4e5f60"})
	require.Len(t, sf.GetMust(), 1)
	require.Len(t, sf.GetMustNot(), 1)
	assert.Len(t, sf.GetMustNot()[0].GetHasId().GetHasId(), 1)

	assert.Empty(t, sourceFilter("s1", nil).GetMustNot(), "no keep list removes every point of the source")
}

func TestCheckVectorSize(t *testing.T) {
	t.Parallel()

	infoWith := func(cfg *qdrant.VectorsConfig) *qdrant.CollectionInfo {
		return &qdrant.CollectionInfo{Config: &qdrant.CollectionConfig{
			Params: &qdrant.CollectionParams{VectorsConfig: cfg},
		}}
	}

	assert.NoError(t, checkVectorSize("docs", 768, infoWith(qdrant.NewVectorsConfig(&qdrant.VectorParams{Size: 768}))))

	err := checkVectorSize("docs", 1024, infoWith(qdrant.NewVectorsConfig(&qdrant.VectorParams{Size: 768})))
	var unavailable *rag.StoreUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, "docs", unavailable.Collection)
	assert.Contains(t, err.Error(), "768")
	assert.Contains(t, err.Error(), "1024")
	assert.False(t, rag.IsTransient(err))

	err = checkVectorSize("docs", 768, infoWith(qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
		"dense": {Size: 768},
	})))
	require.ErrorAs(t, err, &unavailable)

	require.ErrorAs(t, checkVectorSize("docs", 768, &qdrant.CollectionInfo{}), &unavailable)
}
