package embedder

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashEmbedder is a deterministic, offline embedder based on feature hashing
// of lower-cased word unigrams and bigrams. Texts that share words produce
// vectors with positive cosine similarity. It backs the "hash" provider used
// for local development and tests.
type HashEmbedder struct {
	// dimensions maps a model name to its output length.
	dimensions map[string]int
	// fallback is the output length for models absent from dimensions.
	fallback int
}

// NewHashEmbedder returns a HashEmbedder producing vectors of
// dimensions[model] length, or fallback for unknown models.
func NewHashEmbedder(dimensions map[string]int, fallback int) *HashEmbedder {
	if fallback <= 0 {
		fallback = 768
	}
	return &HashEmbedder{dimensions: dimensions, fallback: fallback}
}

// Embed returns one L2-normalised vector per text.
func (e *HashEmbedder) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dim := e.fallback
	if d, ok := e.dimensions[model]; ok && d > 0 {
		dim = d
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = hashVector(t, dim)
	}
	return out, nil
}

func hashVector(text string, dim int) []float32 {
	vec := make([]float32, dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	add := func(feature string, weight float32) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(feature))
		sum := h.Sum64()
		idx := int(sum % uint64(dim))
		if sum&(1<<63) != 0 {
			weight = -weight
		}
		vec[idx] += weight
	}

	for i, w := range words {
		add(w, 1)
		if i > 0 {
			add(words[i-1]+" "+w, 0.5)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		// Empty or punctuation-only text: a fixed unit vector keeps cosine defined.
		vec[0] = 1
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}
