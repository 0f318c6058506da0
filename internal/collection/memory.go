package collection

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/54b3r/corpus-go/internal/rag"
)

// MemoryStore is a brute-force in-process CollectionStore. It is used by
// tests and by the "memory" backend for local development; contents are lost
// on exit.
type MemoryStore struct {
	name      string
	dimension int
	now       func() time.Time

	mu   sync.RWMutex
	rows map[string]rag.Chunk
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore(name string, dimension int) *MemoryStore {
	return &MemoryStore{
		name:      name,
		dimension: dimension,
		now:       time.Now,
		rows:      make(map[string]rag.Chunk),
	}
}

// Name returns the collection name.
func (s *MemoryStore) Name() string { return s.name }

// Dimension returns the vector dimension.
func (s *MemoryStore) Dimension() int { return s.dimension }

// EnsureCollection is a no-op for the memory backend.
func (s *MemoryStore) EnsureCollection(ctx context.Context) error {
	return ctx.Err()
}

// Upsert replaces rows by id under a single lock, keeping the original
// created_at of rows that already exist.
func (s *MemoryStore) Upsert(ctx context.Context, chunks []rag.Chunk) error {
	if err := checkDimensions(s.name, s.dimension, chunks); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range chunks {
		row := c
		row.Collection = s.name
		row.Embedding = append([]float32(nil), c.Embedding...)
		row.Metadata = copyMetadata(c.Metadata)
		row.CreatedAt = now
		if prev, ok := s.rows[c.ID]; ok {
			row.CreatedAt = prev.CreatedAt
		}
		row.UpdatedAt = now
		s.rows[c.ID] = row
	}
	return nil
}

// Search scans every row and returns the top req.K by cosine similarity.
// Ties are broken by chunk id so results are deterministic.
func (s *MemoryStore) Search(ctx context.Context, req rag.SearchRequest) ([]rag.Hit, error) {
	if len(req.Embedding) != s.dimension {
		return nil, &rag.DimensionMismatchError{Collection: s.name, ChunkID: "query", Want: s.dimension, Got: len(req.Embedding)}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.K <= 0 {
		return []rag.Hit{}, nil
	}

	s.mu.RLock()
	hits := make([]rag.Hit, 0, len(s.rows))
	for _, row := range s.rows {
		if !matchesFilter(row.Metadata, req.Filter) {
			continue
		}
		score := clampScore(cosine(req.Embedding, row.Embedding))
		if req.ScoreThreshold > 0 && score < req.ScoreThreshold {
			continue
		}
		hits = append(hits, rag.Hit{
			ChunkID:  row.ID,
			Text:     row.Text,
			Source:   row.SourceID,
			Metadata: copyMetadata(row.Metadata),
			Score:    score,
		})
	}
	s.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if len(hits) > req.K {
		hits = hits[:req.K]
	}
	return hits, nil
}

// DeleteStale removes rows of sourceID whose id is not in keepIDs.
func (s *MemoryStore) DeleteStale(ctx context.Context, sourceID string, keepIDs []string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	keep := make(map[string]struct{}, len(keepIDs))
	for _, id := range keepIDs {
		keep[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, row := range s.rows {
		if row.SourceID != sourceID {
			continue
		}
		if _, ok := keep[id]; ok {
			continue
		}
		delete(s.rows, id)
		removed++
	}
	return removed, nil
}

// Count returns the number of rows.
func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows), nil
}

// Get returns the row stored under id.
func (s *MemoryStore) Get(id string) (rag.Chunk, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.rows[id]
	return c, ok
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

func copyMetadata(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
