package embedder

import (
	"math"
	"testing"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestHashEmbedder(t *testing.T) {
	t.Parallel()

	e := NewHashEmbedder(map[string]int{"big": 4096}, 768)

	big, err := e.Embed(t.Context(), "big", []string{"secure kubernetes deployment"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(big[0]) != 4096 {
		t.Errorf("dimension: want 4096, got %d", len(big[0]))
	}

	vecs, err := e.Embed(t.Context(), "unknown", []string{
		"secure kubernetes deployment",
		"Kubernetes deployment security hardening",
		"chocolate cake recipe",
		"secure kubernetes deployment",
	})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs[0]) != 768 {
		t.Errorf("fallback dimension: want 768, got %d", len(vecs[0]))
	}
	if got := cosine(vecs[0], vecs[3]); math.Abs(got-1) > 1e-5 {
		t.Errorf("identical text must embed identically, cosine=%v", got)
	}
	related, unrelated := cosine(vecs[0], vecs[1]), cosine(vecs[0], vecs[2])
	if related <= unrelated {
		t.Errorf("related text should score higher: related=%v unrelated=%v", related, unrelated)
	}
}
