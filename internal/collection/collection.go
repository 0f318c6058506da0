// Package collection implements rag.CollectionStore for Qdrant, PostgreSQL
// with pgvector, and an in-process memory backend. One store serves one
// tier: a single collection sized to the tier's vector dimension.
package collection

import (
	"github.com/54b3r/corpus-go/internal/rag"
)

// Precision is the storage representation of a collection's vectors.
type Precision int

const (
	// Full stores 32-bit floats.
	Full Precision = iota
	// Half stores 16-bit floats.
	Half
)

// HalfPrecisionThreshold is the largest dimension stored at full precision.
// Larger vectors are stored as float16, halving their footprint; pgvector's
// vector type also cannot be ANN-indexed beyond 2000 dimensions.
const HalfPrecisionThreshold = 2000

// PrecisionFor returns the storage precision used for dimension.
// The choice never changes what callers read or write.
func PrecisionFor(dimension int) Precision {
	if dimension > HalfPrecisionThreshold {
		return Half
	}
	return Full
}

func (p Precision) String() string {
	if p == Half {
		return "float16"
	}
	return "float32"
}

// Payload keys shared by the backends.
const (
	fieldText      = "text"
	fieldSourceID  = "source_id"
	fieldOffset    = "offset"
	fieldMetadata  = "metadata"
	fieldCreatedAt = "created_at"
	fieldUpdatedAt = "updated_at"
)

// checkDimensions rejects the whole batch if any chunk has the wrong
// embedding length, so nothing is written for a misconfigured tier.
func checkDimensions(collection string, dimension int, chunks []rag.Chunk) error {
	for _, c := range chunks {
		if len(c.Embedding) != dimension {
			return &rag.DimensionMismatchError{
				Collection: collection,
				ChunkID:    c.ID,
				Want:       dimension,
				Got:        len(c.Embedding),
			}
		}
	}
	return nil
}

// clampScore maps a cosine similarity onto [0,1].
func clampScore(s float32) float32 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// matchesFilter reports whether metadata contains every filter pair.
func matchesFilter(metadata, filter map[string]string) bool {
	for k, v := range filter {
		if metadata[k] != v {
			return false
		}
	}
	return true
}
