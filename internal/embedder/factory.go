// Package embedder provides the embedding client and the backends it routes
// to. Each backend implements rag.Embedder for one provider (Ollama, OpenAI,
// Azure OpenAI, Gemini, Volcano Engine Ark via eino, or the offline hash
// embedder);
// Client adds batching, retries, rate limiting, and model routing on top.
package embedder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/54b3r/corpus-go/internal/metrics"
	"github.com/54b3r/corpus-go/internal/rag"
)

// Provider names accepted by EMBEDDING_PROVIDER and tier configuration.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
	ProviderAzure  = "azure"
	ProviderGemini = "gemini"
	ProviderArk    = "ark"
	ProviderHash   = "hash"
)

// Options carries the non-env inputs of NewFromEnv.
type Options struct {
	// Tiers supply the model to provider routing and per-model dimensions.
	Tiers []rag.Tier
	// Redis enables the embedding cache when non-nil.
	Redis redis.UniversalClient
	// Metrics receives embedding counters. May be nil.
	Metrics *metrics.Metrics
	// Logger is used for retry and cache warnings.
	Logger *slog.Logger
	// Extra registers additional backends by provider name, overriding the
	// built-in ones.
	Extra map[string]rag.Embedder
}

// NewFromEnv builds the embedding Client from environment variables.
//
// Resolution:
//
//  1. EMBEDDING_PROVIDER selects the default provider (default: ollama)
//  2. every provider named by a tier is constructed as well
//  3. EMBEDDING_API_KEY / EMBEDDING_ENDPOINT override the per-provider
//     credentials (OPENAI_API_KEY, AZURE_OPENAI_*, GOOGLE_API_KEY, ARK_*,
//     OLLAMA_HOST)
//  4. EMBEDDING_BATCH_SIZE, EMBEDDING_TIMEOUT, EMBEDDING_MAX_ATTEMPTS and
//     EMBEDDING_QPS tune the client
//  5. when opts.Redis is set every backend is wrapped with the Redis cache
//     (TTL from EMBEDDING_CACHE_TTL)
func NewFromEnv(ctx context.Context, opts Options) (*Client, error) {
	defaultProvider := getEnvOrDefault("EMBEDDING_PROVIDER", ProviderOllama)

	needed := map[string]bool{defaultProvider: true}
	for _, t := range opts.Tiers {
		if t.Provider != "" {
			needed[t.Provider] = true
		}
	}

	dims := make(map[string]int, len(opts.Tiers))
	for _, t := range opts.Tiers {
		dims[t.Model] = t.Dimension
	}

	timeout := getEnvDuration("EMBEDDING_TIMEOUT", DefaultTimeout)

	backends := make(map[string]rag.Embedder, len(needed)+len(opts.Extra))
	for name, b := range opts.Extra {
		backends[name] = b
	}
	for name := range needed {
		if _, ok := backends[name]; ok {
			continue
		}
		b, err := newBackend(ctx, name, dims, providerModels(opts.Tiers, name, defaultProvider), timeout)
		if err != nil {
			return nil, err
		}
		backends[name] = b
	}

	if opts.Redis != nil {
		ttl := getEnvDuration("EMBEDDING_CACHE_TTL", DefaultCacheTTL)
		for name, b := range backends {
			backends[name] = NewCache(b, opts.Redis, ttl, opts.Metrics, opts.Logger)
		}
	}

	return NewClient(ClientConfig{
		BatchSize:       getEnvInt("EMBEDDING_BATCH_SIZE", DefaultBatchSize),
		Timeout:         timeout,
		MaxAttempts:     getEnvInt("EMBEDDING_MAX_ATTEMPTS", DefaultMaxAttempts),
		QPS:             getEnvFloat("EMBEDDING_QPS", 0),
		DefaultProvider: defaultProvider,
	}, backends, opts.Tiers, opts.Metrics, opts.Logger)
}

// newBackend constructs the named provider backend.
func newBackend(ctx context.Context, name string, dims map[string]int, models []string, timeout time.Duration) (rag.Embedder, error) {
	switch name {
	case ProviderOllama:
		host := getEnv("EMBEDDING_ENDPOINT")
		if host == "" {
			host = getEnvOrDefault("OLLAMA_HOST", "http://localhost:11434")
		}
		return NewOllamaEmbedder(&OllamaConfig{Host: host, Timeout: timeout}), nil

	case ProviderOpenAI:
		apiKey := getEnv("EMBEDDING_API_KEY")
		if apiKey == "" {
			apiKey = getEnv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: openai requires OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		baseURL := getEnv("EMBEDDING_ENDPOINT")
		if baseURL == "" {
			baseURL = "https://api.openai.com/v1"
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    baseURL,
			APIKey:     apiKey,
			Dimensions: shortenable(dims),
			Timeout:    timeout,
		}), nil

	case ProviderAzure:
		apiKey := getEnv("EMBEDDING_API_KEY")
		if apiKey == "" {
			apiKey = getEnv("AZURE_OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		endpoint := getEnv("EMBEDDING_ENDPOINT")
		if endpoint == "" {
			endpoint = getEnv("AZURE_OPENAI_ENDPOINT")
		}
		if endpoint == "" {
			return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT")
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    strings.TrimRight(endpoint, "/") + "/openai",
			APIKey:     apiKey,
			Dimensions: shortenable(dims),
			Azure:      true,
			APIVersion: getEnvOrDefault("AZURE_OPENAI_API_VERSION", "2025-04-01-preview"),
			Timeout:    timeout,
		}), nil

	case ProviderGemini:
		apiKey := getEnv("EMBEDDING_API_KEY")
		if apiKey == "" {
			apiKey = getEnv("GOOGLE_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: gemini requires GOOGLE_API_KEY or EMBEDDING_API_KEY")
		}
		return NewGeminiEmbedder(ctx, &GeminiConfig{APIKey: apiKey, Dimensions: dims})

	case ProviderArk:
		apiKey := getEnv("EMBEDDING_API_KEY")
		if apiKey == "" {
			apiKey = getEnv("ARK_API_KEY")
		}
		baseURL := getEnv("EMBEDDING_ENDPOINT")
		if baseURL == "" {
			baseURL = getEnv("ARK_BASE_URL")
		}
		return NewArkEmbedder(ctx, &ArkConfig{
			APIKey:  apiKey,
			BaseURL: baseURL,
			Region:  getEnv("ARK_REGION"),
			Models:  models,
			Timeout: timeout,
		})

	case ProviderHash:
		return NewHashEmbedder(dims, 0), nil

	default:
		return nil, fmt.Errorf("embedder: unknown provider %q, valid values: ollama, openai, azure, gemini, ark, hash", name)
	}
}

// providerModels returns the models of the tiers served by provider. Tiers
// without a provider are served by defaultProvider.
func providerModels(tiers []rag.Tier, provider, defaultProvider string) []string {
	var out []string
	for _, t := range tiers {
		p := t.Provider
		if p == "" {
			p = defaultProvider
		}
		if p == provider && !slices.Contains(out, t.Model) {
			out = append(out, t.Model)
		}
	}
	return out
}

// shortenable keeps only the models that accept a requested output
// dimension (the text-embedding-3 family). Other models reject the field.
func shortenable(dims map[string]int) map[string]int {
	out := make(map[string]int)
	for model, d := range dims {
		if strings.HasPrefix(model, "text-embedding-3") {
			out[model] = d
		}
	}
	return out
}

// getEnv returns the value of the named environment variable, or empty string.
func getEnv(key string) string {
	return os.Getenv(key)
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvFloat is getEnvInt for floats.
func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// getEnvDuration parses a Go duration ("45s", "2m"). Unparseable values
// fall back.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
