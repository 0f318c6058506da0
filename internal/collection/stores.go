package collection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/qdrant/go-client/qdrant"

	"github.com/54b3r/corpus-go/internal/rag"
)

// Backend names accepted by VECTOR_STORE.
const (
	BackendQdrant   = "qdrant"
	BackendPgvector = "pgvector"
	BackendMemory   = "memory"
)

// Config selects and configures the vector store backend.
type Config struct {
	// Backend is one of qdrant, pgvector, memory.
	Backend string
	// Qdrant holds the Qdrant connection settings.
	Qdrant QdrantConfig
	// PostgresDSN is the pgx connection string for the pgvector backend.
	PostgresDSN string
}

// Stores owns one CollectionStore per tier plus the connections they share.
type Stores struct {
	byTier map[string]rag.CollectionStore
	qdrant *qdrant.Client
	pool   *pgxpool.Pool
}

// Open connects to the configured backend and builds one store per tier.
// Collections are not created here; the job manager calls EnsureCollection
// before a job writes.
func Open(ctx context.Context, cfg Config, tiers []rag.Tier, log *slog.Logger) (*Stores, error) {
	s := &Stores{byTier: make(map[string]rag.CollectionStore, len(tiers))}

	switch cfg.Backend {
	case BackendQdrant, "":
		client, err := NewQdrantClient(&cfg.Qdrant)
		if err != nil {
			return nil, err
		}
		s.qdrant = client
		for _, t := range tiers {
			s.byTier[t.Name] = NewQdrantStore(client, t.Collection, t.Dimension, log)
		}

	case BackendPgvector:
		if cfg.PostgresDSN == "" {
			return nil, errors.New("collection: pgvector backend requires PGVECTOR_DSN")
		}
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("collection: failed to create connection pool: %w", err)
		}
		s.pool = pool
		for _, t := range tiers {
			s.byTier[t.Name] = NewPgvectorStore(pool, t.Collection, t.Dimension, log)
		}

	case BackendMemory:
		return NewMemoryStores(tiers), nil

	default:
		return nil, fmt.Errorf("collection: unknown backend %q, valid values: qdrant, pgvector, memory", cfg.Backend)
	}

	return s, nil
}

// NewMemoryStores builds memory-backed stores for tiers.
func NewMemoryStores(tiers []rag.Tier) *Stores {
	s := &Stores{byTier: make(map[string]rag.CollectionStore, len(tiers))}
	for _, t := range tiers {
		s.byTier[t.Name] = NewMemoryStore(t.Collection, t.Dimension)
	}
	return s
}

// ByTier returns the tier name to store mapping.
func (s *Stores) ByTier() map[string]rag.CollectionStore {
	out := make(map[string]rag.CollectionStore, len(s.byTier))
	for k, v := range s.byTier {
		out[k] = v
	}
	return out
}

// Qdrant returns the shared Qdrant client, or nil for other backends.
func (s *Stores) Qdrant() *qdrant.Client { return s.qdrant }

// Pool returns the shared Postgres pool, or nil for other backends.
func (s *Stores) Pool() *pgxpool.Pool { return s.pool }

// Close closes every store and the shared connections.
func (s *Stores) Close() error {
	var errs []error
	for _, st := range s.byTier {
		if err := st.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.qdrant != nil {
		if err := s.qdrant.Close(); err != nil {
			errs = append(errs, fmt.Errorf("collection: close qdrant client: %w", err))
		}
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return errors.Join(errs...)
}
