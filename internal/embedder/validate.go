package embedder

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/54b3r/corpus-go/internal/rag"
)

// knownChatModelPrefixes contains name fragments that identify chat/completion
// models which are NOT suitable for embedding. A tier model matching any of
// these triggers a startup warning.
var knownChatModelPrefixes = []string{
	"gpt-4",
	"gpt-3.5",
	"gpt-35",
	"o1",
	"o3",
	"llama3",
	"llama2",
	"llama-3",
	"llama-2",
	"mistral",
	"mixtral",
	"gemma",
	"phi-",
	"phi3",
	"claude",
	"command-r",
	"deepseek",
	"qwen",
	"solar",
	"vicuna",
	"falcon",
	"yi-",
}

// looksLikeChatModel returns true when the model name resembles a known
// chat/completion model rather than a dedicated embedding model.
func looksLikeChatModel(model string) bool {
	lower := strings.ToLower(model)
	for _, prefix := range knownChatModelPrefixes {
		if strings.Contains(lower, prefix) {
			return true
		}
	}
	return false
}

// ValidateForRAG checks that every tier can be embedded before any job or
// query runs. It returns an error when a provider is clearly misconfigured
// (e.g. azure with no API key) and logs a warning for each tier whose model
// looks like a chat model rather than an embedding model.
//
// Call it at startup so operators get a clear error rather than a cryptic
// failure during the first embed call.
func ValidateForRAG(log *slog.Logger, tiers []rag.Tier) error {
	defaultProvider := getEnvOrDefault("EMBEDDING_PROVIDER", ProviderOllama)

	checked := make(map[string]bool)
	for _, t := range tiers {
		provider := t.Provider
		if provider == "" {
			provider = defaultProvider
		}
		if !checked[provider] {
			if err := validateProvider(provider); err != nil {
				return fmt.Errorf("embedder: tier %q: %w", t.Name, err)
			}
			checked[provider] = true
		}

		if looksLikeChatModel(t.Model) {
			log.Warn("embedder: tier model looks like a chat model, not an embedding model; "+
				"this will likely produce poor or broken embeddings",
				slog.String("tier", t.Name),
				slog.String("model", t.Model),
				slog.String("hint", "use a dedicated embedding model e.g. nomic-embed-text, text-embedding-3-large"),
			)
		}
	}
	return nil
}

// validateProvider checks the credentials one provider needs.
func validateProvider(provider string) error {
	switch provider {
	case ProviderOpenAI:
		if os.Getenv("EMBEDDING_API_KEY") == "" && os.Getenv("OPENAI_API_KEY") == "" {
			return fmt.Errorf("no OpenAI API key found, set OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
	case ProviderAzure:
		if os.Getenv("EMBEDDING_API_KEY") == "" && os.Getenv("AZURE_OPENAI_API_KEY") == "" {
			return fmt.Errorf("no Azure API key found, set AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		if os.Getenv("EMBEDDING_ENDPOINT") == "" && os.Getenv("AZURE_OPENAI_ENDPOINT") == "" {
			return fmt.Errorf("no Azure endpoint found, set AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT")
		}
	case ProviderGemini:
		if os.Getenv("EMBEDDING_API_KEY") == "" && os.Getenv("GOOGLE_API_KEY") == "" {
			return fmt.Errorf("no Google API key found, set GOOGLE_API_KEY or EMBEDDING_API_KEY")
		}
	case ProviderArk:
		if os.Getenv("EMBEDDING_API_KEY") == "" && os.Getenv("ARK_API_KEY") == "" {
			return fmt.Errorf("no Ark API key found, set ARK_API_KEY or EMBEDDING_API_KEY")
		}
	case ProviderOllama, ProviderHash:
	default:
		return fmt.Errorf("unknown provider %q", provider)
	}
	return nil
}
