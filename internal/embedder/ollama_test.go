package embedder

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/54b3r/corpus-go/internal/rag"
)

func TestOllamaEmbedder_Embed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("path: got %q, want /api/embed", r.URL.Path)
		}
		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "nomic-embed-text" {
			t.Errorf("model: got %q, want nomic-embed-text", req.Model)
		}
		resp := ollamaEmbedResponse{}
		for i := range req.Input {
			resp.Embeddings = append(resp.Embeddings, []float32{float32(i), 1, 0})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)

	emb := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL})
	vecs, err := emb.Embed(t.Context(), "nomic-embed-text", []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 2 || vecs[1][0] != 1 {
		t.Errorf("unexpected vectors: %v", vecs)
	}
}

func TestOllamaEmbedder_StatusClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		transient bool
	}{
		{"server error", http.StatusBadGateway, true},
		{"throttled", http.StatusTooManyRequests, true},
		{"model missing", http.StatusNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Error: "nope"})
			}))
			t.Cleanup(srv.Close)

			_, err := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL}).Embed(t.Context(), "m", []string{"x"})
			if err == nil {
				t.Fatal("expected error")
			}
			if got := rag.IsTransient(err); got != tt.transient {
				t.Errorf("IsTransient: got %v, want %v (err=%v)", got, tt.transient, err)
			}
		})
	}
}

func TestOllamaEmbedder_ConnectionRefusedIsTransient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewOllamaEmbedder(&OllamaConfig{Host: url}).Embed(t.Context(), "m", []string{"x"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !rag.IsTransient(err) {
		t.Errorf("connection failure should be transient: %v", err)
	}
	var ese *rag.EmbeddingServiceError
	if errors.As(err, &ese) {
		t.Error("backend must not build EmbeddingServiceError itself")
	}
}
