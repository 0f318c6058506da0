package ingestion

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// chunkNamespace is the UUIDv5 namespace for chunk ids. Changing it would
// orphan every stored chunk.
var chunkNamespace = uuid.MustParse("6f2b1d0c-6a7e-4c57-9b1e-3f0d6c2a9e41")

// Piece is one chunk of a source's text before embedding.
type Piece struct {
	// Index is the position of the piece within the source.
	Index int
	// Offset is the rune offset of the piece start within the fetched text.
	Offset int
	// Text is the piece content with surrounding whitespace trimmed.
	Text string
}

// Chunk splits text into overlapping windows of at most size runes, each
// window starting size-overlap runes after the previous one. Offsets refer
// to the untrimmed input so that ids stay stable while the text before a
// piece is unchanged. Whitespace-only windows are dropped.
func Chunk(text string, size, overlap int) []Piece {
	if size <= 0 {
		return nil
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	runes := []rune(text)
	step := size - overlap

	var pieces []Piece
	for start := 0; start < len(runes); start += step {
		end := min(start+size, len(runes))
		window := strings.TrimFunc(string(runes[start:end]), unicode.IsSpace)
		if window != "" {
			pieces = append(pieces, Piece{Index: len(pieces), Offset: start, Text: window})
		}
		if end == len(runes) {
			break
		}
	}
	return pieces
}

// ChunkID returns the deterministic id of the chunk of sourceID that starts
// at offset. Re-ingesting unchanged content yields the same ids, so upserts
// overwrite in place.
func ChunkID(sourceID string, offset int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(sourceID+"#"+strconv.Itoa(offset))).String()
}
