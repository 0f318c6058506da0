package embedder

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/embedding"
)

// EinoEmbedder adapts any eino embedding component to rag.Embedder, so
// embedders from the eino ecosystem can be registered as a provider.
type EinoEmbedder struct {
	inner embedding.Embedder
}

// NewEinoEmbedder wraps inner.
func NewEinoEmbedder(inner embedding.Embedder) *EinoEmbedder {
	return &EinoEmbedder{inner: inner}
}

// Embed calls EmbedStrings with the model option set and narrows the
// float64 vectors eino returns to float32.
func (e *EinoEmbedder) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	vecs, err := e.inner.EmbedStrings(ctx, texts, embedding.WithModel(model))
	if err != nil {
		return nil, fmt.Errorf("eino embedder: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("eino embedder: expected %d embeddings, got %d", len(texts), len(vecs))
	}
	out := make([][]float32, len(vecs))
	for i, v := range vecs {
		f := make([]float32, len(v))
		for j, x := range v {
			f[j] = float32(x)
		}
		out[i] = f
	}
	return out, nil
}
