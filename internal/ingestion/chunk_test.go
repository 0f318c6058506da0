package ingestion

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunk_OverlapAndOffsets(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("a", 25)
	pieces := Chunk(text, 10, 2)

	require.Len(t, pieces, 3)
	assert.Equal(t, []int{0, 8, 16}, []int{pieces[0].Offset, pieces[1].Offset, pieces[2].Offset})
	assert.Len(t, pieces[0].Text, 10)
	assert.Len(t, pieces[2].Text, 9)
	for i, p := range pieces {
		assert.Equal(t, i, p.Index)
	}
}

func TestChunk_CountsRunesNotBytes(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("é", 12)
	pieces := Chunk(text, 6, 0)

	require.Len(t, pieces, 2)
	assert.Equal(t, 6, pieces[1].Offset)
	assert.Equal(t, strings.Repeat("é", 6), pieces[0].Text)
}

func TestChunk_DropsWhitespaceWindows(t *testing.T) {
	t.Parallel()

	text := "hello" + strings.Repeat(" ", 10) + "world"
	pieces := Chunk(text, 5, 0)

	require.Len(t, pieces, 2)
	assert.Equal(t, "hello", pieces[0].Text)
	assert.Equal(t, "world", pieces[1].Text)
	assert.Equal(t, 1, pieces[1].Index)
	assert.Equal(t, 15, pieces[1].Offset)
}

func TestChunk_EdgeCases(t *testing.T) {
	t.Parallel()

	assert.Empty(t, Chunk("", 10, 2))
	assert.Empty(t, Chunk("   \n\t", 10, 2))
	assert.Empty(t, Chunk("abc", 0, 0))

	// Overlap not smaller than size falls back to no overlap.
	pieces := Chunk("abcdefgh", 4, 4)
	require.Len(t, pieces, 2)
	assert.Equal(t, "efgh", pieces[1].Text)
}

func TestChunkID_Deterministic(t *testing.T) {
	t.Parallel()

	a := ChunkID("k8s_docs", 0)
	assert.Equal(t, a, ChunkID("k8s_docs", 0))
	assert.NotEqual(t, a, ChunkID("k8s_docs", 900))
	assert.NotEqual(t, a, ChunkID("owasp_docs", 0))
	assert.Len(t, a, 36)
}
