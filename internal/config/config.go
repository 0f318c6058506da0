// Package config provides YAML-based configuration for corpus.
// Configuration is loaded with a layered precedence: defaults → YAML file → env vars.
// Environment variables always win. A .env file in the working directory is
// read first and never overrides variables that are already set.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. CORPUS_CONFIG environment variable
//  3. ~/.corpus/config.yaml
//  4. ./corpus.yaml
//
// Scalar settings are mirrored into env vars so every component reads one
// source of truth. Tiers and sources are structured and are only read from
// the YAML file; if no file is found the built-in tiers are used and no
// sources are registered.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/54b3r/corpus-go/internal/rag"
	"github.com/54b3r/corpus-go/internal/registry"
)

// Config is the top-level YAML configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase, underscored).
type Config struct {
	// Tiers declares the embedding tiers. Empty means the built-in tiers.
	Tiers []rag.Tier `yaml:"tiers"`

	// Sources declares the ingestible sources.
	Sources []rag.Source `yaml:"sources"`

	// Embedding configures the embedding client and providers.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// VectorStore configures the collection store backend.
	VectorStore VectorStoreConfig `yaml:"vector_store"`

	// Redis configures the embedding cache.
	Redis RedisConfig `yaml:"redis"`

	// Jobs configures ingestion job execution and retention.
	Jobs JobsConfig `yaml:"jobs"`

	// Query configures the retriever.
	Query QueryConfig `yaml:"query"`

	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// Provider is the default backend: ollama, openai, azure, gemini, ark, hash.
	Provider string `yaml:"provider"`
	// Endpoint overrides the provider endpoint.
	Endpoint string `yaml:"endpoint"`
	// APIKey is the embedding API key. Prefer env var EMBEDDING_API_KEY.
	APIKey string `yaml:"api_key"`
	// OllamaHost is the Ollama API endpoint.
	OllamaHost string `yaml:"ollama_host"`
	// AzureEndpoint is the Azure OpenAI resource endpoint.
	AzureEndpoint string `yaml:"azure_endpoint"`
	// AzureAPIVersion is the Azure OpenAI API version.
	AzureAPIVersion string `yaml:"azure_api_version"`
	// BatchSize is the number of texts per embedding request.
	BatchSize int `yaml:"batch_size"`
	// Timeout is the per-request timeout (Go duration string).
	Timeout string `yaml:"timeout"`
	// MaxAttempts caps attempts per batch for transient failures.
	MaxAttempts int `yaml:"max_attempts"`
	// QPS caps embedding requests per second. Zero means unlimited.
	QPS float64 `yaml:"qps"`
}

// VectorStoreConfig holds collection store settings.
type VectorStoreConfig struct {
	// Backend selects qdrant, pgvector or memory.
	Backend string `yaml:"backend"`
	// Qdrant holds Qdrant connection settings.
	Qdrant QdrantConfig `yaml:"qdrant"`
	// PostgresDSN is the pgvector connection string. Prefer env var PGVECTOR_DSN.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// QdrantConfig holds Qdrant vector store settings.
type QdrantConfig struct {
	// Host is the Qdrant server hostname.
	Host string `yaml:"host"`
	// Port is the Qdrant gRPC port.
	Port int `yaml:"port"`
	// APIKey is the Qdrant API key. Prefer env var QDRANT_API_KEY.
	APIKey string `yaml:"api_key"`
	// TLS enables TLS for the Qdrant connection.
	TLS bool `yaml:"tls"`
}

// RedisConfig holds embedding cache settings.
type RedisConfig struct {
	// Addr is host:port of the Redis server. Empty disables the cache.
	Addr string `yaml:"addr"`
	// Password is the Redis password. Prefer env var REDIS_PASSWORD.
	Password string `yaml:"password"`
	// CacheTTL is how long cached vectors live (Go duration string).
	CacheTTL string `yaml:"cache_ttl"`
}

// JobsConfig holds ingestion job settings.
type JobsConfig struct {
	// DBPath is the SQLite job database path.
	DBPath string `yaml:"db_path"`
	// Workers is the per-tier worker pool size.
	Workers int `yaml:"workers"`
	// Timeout is the overall job deadline (Go duration string).
	Timeout string `yaml:"timeout"`
	// Reconcile enables deleting stale chunks after a source succeeds.
	// Nil keeps the default (enabled).
	Reconcile *bool `yaml:"reconcile"`
	// Retention is how long finished jobs are kept (Go duration string).
	Retention string `yaml:"retention"`
}

// QueryConfig holds retriever settings.
type QueryConfig struct {
	// Timeout is the per-query deadline (Go duration string).
	Timeout string `yaml:"timeout"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `yaml:"host"`
	// Port is the TCP port.
	Port int `yaml:"port"`
	// APIKey is the Bearer token for API authentication. Prefer env var CORPUS_API_KEY.
	APIKey string `yaml:"api_key"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// envMapping maps YAML config fields to their corresponding env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"EMBEDDING_PROVIDER", func(c *Config) string { return c.Embedding.Provider }},
	{"EMBEDDING_ENDPOINT", func(c *Config) string { return c.Embedding.Endpoint }},
	{"EMBEDDING_API_KEY", func(c *Config) string { return c.Embedding.APIKey }},
	{"OLLAMA_HOST", func(c *Config) string { return c.Embedding.OllamaHost }},
	{"AZURE_OPENAI_ENDPOINT", func(c *Config) string { return c.Embedding.AzureEndpoint }},
	{"AZURE_OPENAI_API_VERSION", func(c *Config) string { return c.Embedding.AzureAPIVersion }},
	{"EMBEDDING_BATCH_SIZE", func(c *Config) string { return intStr(c.Embedding.BatchSize) }},
	{"EMBEDDING_TIMEOUT", func(c *Config) string { return c.Embedding.Timeout }},
	{"EMBEDDING_MAX_ATTEMPTS", func(c *Config) string { return intStr(c.Embedding.MaxAttempts) }},
	{"EMBEDDING_QPS", func(c *Config) string { return floatStr(c.Embedding.QPS) }},
	{"VECTOR_STORE", func(c *Config) string { return c.VectorStore.Backend }},
	{"QDRANT_HOST", func(c *Config) string { return c.VectorStore.Qdrant.Host }},
	{"QDRANT_PORT", func(c *Config) string { return intStr(c.VectorStore.Qdrant.Port) }},
	{"QDRANT_API_KEY", func(c *Config) string { return c.VectorStore.Qdrant.APIKey }},
	{"QDRANT_TLS", func(c *Config) string { return boolStr(c.VectorStore.Qdrant.TLS) }},
	{"PGVECTOR_DSN", func(c *Config) string { return c.VectorStore.PostgresDSN }},
	{"REDIS_ADDR", func(c *Config) string { return c.Redis.Addr }},
	{"REDIS_PASSWORD", func(c *Config) string { return c.Redis.Password }},
	{"EMBEDDING_CACHE_TTL", func(c *Config) string { return c.Redis.CacheTTL }},
	{"CORPUS_JOBS_DB", func(c *Config) string { return c.Jobs.DBPath }},
	{"INGEST_WORKERS", func(c *Config) string { return intStr(c.Jobs.Workers) }},
	{"INGEST_JOB_TIMEOUT", func(c *Config) string { return c.Jobs.Timeout }},
	{"INGEST_RECONCILE", func(c *Config) string { return boolPtrStr(c.Jobs.Reconcile) }},
	{"JOB_RETENTION", func(c *Config) string { return c.Jobs.Retention }},
	{"QUERY_TIMEOUT", func(c *Config) string { return c.Query.Timeout }},
	{"CORPUS_HOST", func(c *Config) string { return c.Server.Host }},
	{"CORPUS_PORT", func(c *Config) string { return intStr(c.Server.Port) }},
	{"CORPUS_API_KEY", func(c *Config) string { return c.Server.APIKey }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
}

// Load reads .env and a YAML config file, applies non-empty scalar values
// as environment variables without overwriting existing ones, and returns
// the parsed file together with the path that was loaded. The path is empty
// when no file was found.
func Load(explicitPath string, log *slog.Logger) (*Config, string, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, "", fmt.Errorf("config: failed to read .env: %w", err)
	}

	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return &Config{}, "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	if err := defaultChunkOverlap(data, cfg.Sources); err != nil {
		return nil, "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		yamlVal := m.value(&cfg)
		if yamlVal == "" {
			continue
		}
		if _, set := os.LookupEnv(m.envKey); set {
			continue // env wins
		}
		os.Setenv(m.envKey, yamlVal)
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
		slog.Int("tiers", len(cfg.Tiers)),
		slog.Int("sources", len(cfg.Sources)),
	)

	return &cfg, path, nil
}

// defaultChunkOverlap sets registry.DefaultChunkOverlap on every source whose
// YAML omits chunk_overlap. An explicit 0 is kept.
func defaultChunkOverlap(data []byte, sources []rag.Source) error {
	var declared struct {
		Sources []struct {
			ChunkOverlap *int `yaml:"chunk_overlap"`
		} `yaml:"sources"`
	}
	if err := yaml.Unmarshal(data, &declared); err != nil {
		return err
	}
	for i := range sources {
		if i < len(declared.Sources) && declared.Sources[i].ChunkOverlap != nil {
			continue
		}
		size := sources[i].ChunkSize
		if size == 0 {
			size = registry.DefaultChunkSize
		}
		if size > registry.DefaultChunkOverlap {
			sources[i].ChunkOverlap = registry.DefaultChunkOverlap
		}
	}
	return nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("CORPUS_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".corpus", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("corpus.yaml"); err == nil {
		return "corpus.yaml"
	}

	return ""
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return fmt.Sprintf("%d", v)
}

// floatStr converts a float64 to string, returning "" for zero values.
func floatStr(v float64) string {
	if v == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}

// boolStr converts a bool to string, returning "" for false.
func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}

// boolPtrStr converts an optional bool to string, returning "" for nil.
func boolPtrStr(v *bool) string {
	if v == nil {
		return ""
	}
	if *v {
		return "true"
	}
	return "false"
}
