package embedder

import (
	"log/slog"
	"testing"

	"github.com/54b3r/corpus-go/internal/rag"
)

func TestLooksLikeChatModel(t *testing.T) {
	t.Parallel()

	for model, want := range map[string]bool{
		"nomic-embed-text":       false,
		"text-embedding-3-large": false,
		"gpt-4o":                 true,
		"llama3.1:8b":            true,
	} {
		if got := looksLikeChatModel(model); got != want {
			t.Errorf("looksLikeChatModel(%q) = %v, want %v", model, got, want)
		}
	}
}

func TestValidateForRAG_MissingCredentials(t *testing.T) {
	t.Setenv("EMBEDDING_PROVIDER", "ollama")
	t.Setenv("EMBEDDING_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	tiers := []rag.Tier{
		{Name: "STANDARD", Model: "nomic-embed-text", Collection: "docs", Dimension: 768},
		{Name: "HIGH", Model: "text-embedding-3-large", Provider: ProviderOpenAI, Collection: "code", Dimension: 3072},
	}
	if err := ValidateForRAG(slog.Default(), tiers); err == nil {
		t.Fatal("expected error for openai tier without API key")
	}

	t.Setenv("OPENAI_API_KEY", "sk-test")
	if err := ValidateForRAG(slog.Default(), tiers); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateForRAG_ArkCredentials(t *testing.T) {
	t.Setenv("EMBEDDING_PROVIDER", "ark")
	t.Setenv("EMBEDDING_API_KEY", "")
	t.Setenv("ARK_API_KEY", "")

	tiers := []rag.Tier{{Name: "STANDARD", Model: "ep-docs", Collection: "docs", Dimension: 1024}}
	if err := ValidateForRAG(slog.Default(), tiers); err == nil {
		t.Fatal("expected error for ark without API key")
	}

	t.Setenv("ARK_API_KEY", "ark-test")
	if err := ValidateForRAG(slog.Default(), tiers); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
