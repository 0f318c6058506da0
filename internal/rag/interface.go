// Package rag defines the shared vocabulary of the corpus engine: tiers,
// sources, chunks, query results, the error taxonomy, and the interfaces
// that the embedding, storage, ingestion, and retrieval layers implement.
// Concrete backends (Qdrant, pgvector, Ollama, ...) live in their own
// packages and satisfy these interfaces so orchestration code never
// depends on a specific backend.
package rag

import (
	"context"
	"time"
)

// Tier is a named embedding configuration: one model, one target
// collection, one vector dimension.
type Tier struct {
	// Name is the tier identifier used by sources and queries (e.g. "HIGH").
	Name string `json:"name" yaml:"name"`

	// Model is the embedding model name passed to the embedding service.
	Model string `json:"model" yaml:"model"`

	// Provider selects the embedding backend that serves Model
	// (ollama, openai, azure, gemini, ark, hash). Empty means the default provider.
	Provider string `json:"provider,omitempty" yaml:"provider"`

	// Collection is the physical collection every chunk of this tier is written to.
	Collection string `json:"collection" yaml:"collection"`

	// Dimension is the length of every embedding stored in Collection.
	Dimension int `json:"dimension" yaml:"dimension"`
}

// Source describes a content source. Sources are declared in configuration
// and never mutated at runtime.
type Source struct {
	// ID is the unique source identifier (e.g. "k8s_docs").
	ID string `json:"id" yaml:"id"`

	// Tier is the name of the tier this source is embedded with.
	Tier string `json:"tier" yaml:"tier"`

	// FetchKind selects the fetch strategy (http, file, inline).
	FetchKind string `json:"fetch_kind" yaml:"fetch_kind"`

	// BaseConfig holds fetch-specific settings (url, path, text, ...).
	BaseConfig map[string]string `json:"base_config,omitempty" yaml:"base_config"`

	// ChunkSize is the maximum number of characters per chunk.
	ChunkSize int `json:"chunk_size" yaml:"chunk_size"`

	// ChunkOverlap is the number of characters shared by consecutive chunks.
	ChunkOverlap int `json:"chunk_overlap" yaml:"chunk_overlap"`

	// Metadata is copied onto every chunk produced from this source.
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata"`
}

// Chunk is the atomic unit of storage and retrieval.
type Chunk struct {
	// ID is deterministic in (SourceID, Offset); see ingestion.ChunkID.
	ID string

	// SourceID is the source the chunk was cut from.
	SourceID string

	// Text is the raw chunk content.
	Text string

	// Embedding is the chunk vector; its length equals the tier dimension.
	Embedding []float32

	// Metadata holds arbitrary string key-value pairs.
	Metadata map[string]string

	// Collection is the collection the chunk belongs to.
	Collection string

	// Offset is the rune offset of the chunk within the fetched content.
	Offset int

	// CreatedAt is when the row was first written. Set by the store.
	CreatedAt time.Time

	// UpdatedAt is when the row was last written. Set by the store.
	UpdatedAt time.Time
}

// Hit is a single nearest-neighbour result returned by a CollectionStore.
type Hit struct {
	// ChunkID is the id of the matching chunk.
	ChunkID string
	// Text is the chunk content.
	Text string
	// Source is the id of the source the chunk came from.
	Source string
	// Metadata holds the chunk's stored metadata.
	Metadata map[string]string
	// Score is max(0, cosine similarity), in [0,1].
	Score float32
}

// SearchRequest parameterises a CollectionStore search.
type SearchRequest struct {
	// Embedding is the query vector. Its length must equal the store dimension.
	Embedding []float32
	// K is the maximum number of hits to return.
	K int
	// ScoreThreshold drops hits scoring below it. Zero disables the threshold.
	ScoreThreshold float32
	// Filter restricts hits to chunks whose metadata matches every pair exactly.
	Filter map[string]string
}

// QueryResult is one entry of a merged multi-tier query response.
type QueryResult struct {
	ChunkID    string            `json:"chunk_id"`
	Text       string            `json:"text"`
	Metadata   map[string]string `json:"metadata"`
	Collection string            `json:"collection"`
	Tier       string            `json:"tier"`
	Source     string            `json:"source"`
	// RawScore is the score reported by the tier's store.
	RawScore float32 `json:"raw_score"`
	// Score is the score used for the final ordering; equal to RawScore
	// unless a normalising merge strategy was requested.
	Score float32 `json:"score"`
	// Rank is the 1-based position in the merged list.
	Rank int `json:"rank"`
}

// CollectionStore is a per-tier keyed similarity-search service.
// Implementations must be safe to call from multiple goroutines.
type CollectionStore interface {
	// Name returns the collection name.
	Name() string

	// Dimension returns the declared vector dimension.
	Dimension() int

	// EnsureCollection idempotently creates the backing collection.
	EnsureCollection(ctx context.Context) error

	// Upsert writes chunks, replacing any existing row with the same id.
	// It fails with *DimensionMismatchError before writing anything if any
	// chunk has the wrong embedding length.
	Upsert(ctx context.Context, chunks []Chunk) error

	// Search returns at most req.K hits ordered by descending score.
	Search(ctx context.Context, req SearchRequest) ([]Hit, error)

	// DeleteStale removes every chunk of sourceID whose id is not in keepIDs
	// and returns the number of rows removed.
	DeleteStale(ctx context.Context, sourceID string, keepIDs []string) (int, error)

	// Count returns the number of rows in the collection.
	Count(ctx context.Context) (int, error)

	// Close releases any resources held by the store.
	Close() error
}

// Embedder converts ordered texts into ordered vectors for a named model.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed returns one vector per text, in input order.
	Embed(ctx context.Context, model string, texts []string) ([][]float32, error)
}
