package collection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/54b3r/corpus-go/internal/rag"
)

// pgvector can build an HNSW index on halfvec columns up to this dimension.
// Larger collections fall back to exact scans.
const maxHalfvecIndexDimension = 4000

// PgvectorStore implements rag.CollectionStore on one PostgreSQL table with
// a pgvector column. Collections above HalfPrecisionThreshold use halfvec.
type PgvectorStore struct {
	// pool is the shared connection pool. It is owned by the caller.
	pool *pgxpool.Pool

	// collection is the logical collection name.
	collection string

	// table is the sanitised, quoted table identifier.
	table string

	// dimension is the vector size.
	dimension int

	// precision selects vector or halfvec.
	precision Precision

	log *slog.Logger
}

var identUnsafe = regexp.MustCompile(`[^a-z0-9_]+`)

// tableName maps a collection name onto a table name.
func tableName(collection string) string {
	return "corpus_" + identUnsafe.ReplaceAllString(strings.ToLower(collection), "_")
}

// NewPgvectorStore returns a store backed by the table corpus_<collection>.
func NewPgvectorStore(pool *pgxpool.Pool, collection string, dimension int, log *slog.Logger) *PgvectorStore {
	if log == nil {
		log = slog.Default()
	}
	return &PgvectorStore{
		pool:       pool,
		collection: collection,
		table:      pgx.Identifier{tableName(collection)}.Sanitize(),
		dimension:  dimension,
		precision:  PrecisionFor(dimension),
		log:        log,
	}
}

// Name returns the collection name.
func (s *PgvectorStore) Name() string { return s.collection }

// Dimension returns the vector dimension.
func (s *PgvectorStore) Dimension() int { return s.dimension }

// columnType returns the SQL type of the embedding column.
func (s *PgvectorStore) columnType() string {
	if s.precision == Half {
		return fmt.Sprintf("halfvec(%d)", s.dimension)
	}
	return fmt.Sprintf("vector(%d)", s.dimension)
}

// schemaStatements returns the DDL that EnsureCollection runs, in order.
func (s *PgvectorStore) schemaStatements() []string {
	base := tableName(s.collection)
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id           UUID PRIMARY KEY,
			source_id    TEXT NOT NULL,
			text         TEXT NOT NULL,
			metadata     JSONB NOT NULL DEFAULT '{}',
			chunk_offset INTEGER NOT NULL DEFAULT 0,
			embedding    %s NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.table, s.columnType()),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (source_id)`,
			pgx.Identifier{base + "_source_idx"}.Sanitize(), s.table),
	}

	switch {
	case s.precision == Full:
		stmts = append(stmts, fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding vector_cosine_ops)`,
			pgx.Identifier{base + "_embedding_idx"}.Sanitize(), s.table))
	case s.dimension <= maxHalfvecIndexDimension:
		stmts = append(stmts, fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding halfvec_cosine_ops)`,
			pgx.Identifier{base + "_embedding_idx"}.Sanitize(), s.table))
	}
	return stmts
}

// EnsureCollection creates the pgvector extension, the table, and its
// indexes if they are missing.
func (s *PgvectorStore) EnsureCollection(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return &rag.StoreUnavailableError{Collection: s.collection, Err: fmt.Errorf("pgvector: ping failed: %w", err)}
	}
	for _, stmt := range s.schemaStatements() {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return &rag.StoreUnavailableError{Collection: s.collection, Err: fmt.Errorf("pgvector: schema setup failed: %w", err)}
		}
	}
	if s.precision == Half && s.dimension > maxHalfvecIndexDimension {
		s.log.Warn("pgvector: collection too wide for an HNSW index, searches will scan",
			slog.String("collection", s.collection),
			slog.Int("dimension", s.dimension),
		)
	}
	return nil
}

// embeddingParam encodes v for the embedding column.
func (s *PgvectorStore) embeddingParam(v []float32) any {
	if s.precision == Half {
		return pgvector.NewHalfVector(v)
	}
	return pgvector.NewVector(v)
}

// Upsert writes chunks in one transaction with INSERT ... ON CONFLICT so
// concurrent writers of the same id resolve to last-write-wins.
func (s *PgvectorStore) Upsert(ctx context.Context, chunks []rag.Chunk) error {
	if err := checkDimensions(s.collection, s.dimension, chunks); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, source_id, text, metadata, chunk_offset, embedding)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			source_id    = EXCLUDED.source_id,
			text         = EXCLUDED.text,
			metadata     = EXCLUDED.metadata,
			chunk_offset = EXCLUDED.chunk_offset,
			embedding    = EXCLUDED.embedding,
			updated_at   = now()
	`, s.table)

	batch := &pgx.Batch{}
	for _, c := range chunks {
		meta, err := json.Marshal(nonNil(c.Metadata))
		if err != nil {
			return fmt.Errorf("pgvector: encode metadata of %s: %w", c.ID, err)
		}
		batch.Queue(query, c.ID, c.SourceID, c.Text, string(meta), c.Offset, s.embeddingParam(c.Embedding))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pgvector: begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	br := tx.SendBatch(ctx, batch)
	for i := range chunks {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("pgvector: upsert chunk %d into %q: %w", i, s.collection, err)
		}
	}
	// Batch results must be closed before commit, otherwise the connection is still busy.
	if err := br.Close(); err != nil {
		return fmt.Errorf("pgvector: close batch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("pgvector: commit: %w", err)
	}
	return nil
}

// searchQuery builds the top-k query. $1 is the query vector, $2 the
// metadata filter, $3 the limit and $4 the optional threshold.
func (s *PgvectorStore) searchQuery(withThreshold bool) string {
	q := fmt.Sprintf(`
		SELECT id::text, source_id, text, metadata, 1 - (embedding <=> $1) AS score
		FROM %s
		WHERE metadata @> $2::jsonb`, s.table)
	if withThreshold {
		q += ` AND 1 - (embedding <=> $1) >= $4`
	}
	q += `
		ORDER BY embedding <=> $1
		LIMIT $3`
	return q
}

// Search returns the top req.K rows by cosine similarity.
func (s *PgvectorStore) Search(ctx context.Context, req rag.SearchRequest) ([]rag.Hit, error) {
	if len(req.Embedding) != s.dimension {
		return nil, &rag.DimensionMismatchError{Collection: s.collection, ChunkID: "query", Want: s.dimension, Got: len(req.Embedding)}
	}
	if req.K <= 0 {
		return []rag.Hit{}, nil
	}

	filter, err := json.Marshal(nonNil(req.Filter))
	if err != nil {
		return nil, fmt.Errorf("pgvector: encode filter: %w", err)
	}

	args := []any{s.embeddingParam(req.Embedding), string(filter), req.K}
	withThreshold := req.ScoreThreshold > 0
	if withThreshold {
		args = append(args, float64(req.ScoreThreshold))
	}

	rows, err := s.pool.Query(ctx, s.searchQuery(withThreshold), args...)
	if err != nil {
		return nil, fmt.Errorf("pgvector: search in %q failed: %w", s.collection, err)
	}
	defer rows.Close()

	hits := make([]rag.Hit, 0, req.K)
	for rows.Next() {
		var (
			h     rag.Hit
			meta  []byte
			score float64
		)
		if err := rows.Scan(&h.ChunkID, &h.Source, &h.Text, &meta, &score); err != nil {
			return nil, fmt.Errorf("pgvector: scan row: %w", err)
		}
		h.Metadata = make(map[string]string)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &h.Metadata); err != nil {
				return nil, fmt.Errorf("pgvector: decode metadata of %s: %w", h.ChunkID, err)
			}
		}
		h.Score = clampScore(float32(score))
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgvector: search in %q failed: %w", s.collection, err)
	}
	return hits, nil
}

// DeleteStale removes rows of sourceID whose id is not in keepIDs.
func (s *PgvectorStore) DeleteStale(ctx context.Context, sourceID string, keepIDs []string) (int, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE source_id = $1 AND NOT (id::text = ANY($2))`, s.table)
	if keepIDs == nil {
		keepIDs = []string{}
	}
	tag, err := s.pool.Exec(ctx, query, sourceID, keepIDs)
	if err != nil {
		return 0, fmt.Errorf("pgvector: delete stale rows in %q failed: %w", s.collection, err)
	}
	return int(tag.RowsAffected()), nil
}

// Count returns the number of rows.
func (s *PgvectorStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("pgvector: count %q failed: %w", s.collection, err)
	}
	return n, nil
}

// Close is a no-op; the pool is shared and closed by its owner.
func (s *PgvectorStore) Close() error { return nil }

func nonNil(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
