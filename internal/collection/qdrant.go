package collection

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/qdrant/go-client/qdrant"

	"github.com/54b3r/corpus-go/internal/rag"
)

// QdrantConfig holds connection parameters for a Qdrant instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// NewQdrantClient dials Qdrant with defaults applied.
func NewQdrantClient(cfg *QdrantConfig) (*qdrant.Client, error) {
	host, port := cfg.Host, cfg.Port
	if host == "" {
		host = "localhost"
	}
	if port == 0 {
		port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}
	return client, nil
}

// QdrantStore implements rag.CollectionStore on one Qdrant collection.
// Vectors above HalfPrecisionThreshold dimensions are stored as float16.
type QdrantStore struct {
	// client is the shared Qdrant gRPC client. It is owned by the caller.
	client *qdrant.Client

	// collection is the Qdrant collection name.
	collection string

	// dimension is the vector size of the collection.
	dimension int

	// log receives collection lifecycle events.
	log *slog.Logger
}

// NewQdrantStore returns a store for collection. Call EnsureCollection
// before the first write.
func NewQdrantStore(client *qdrant.Client, collection string, dimension int, log *slog.Logger) *QdrantStore {
	if log == nil {
		log = slog.Default()
	}
	return &QdrantStore{client: client, collection: collection, dimension: dimension, log: log}
}

// Name returns the collection name.
func (s *QdrantStore) Name() string { return s.collection }

// Dimension returns the vector dimension.
func (s *QdrantStore) Dimension() int { return s.dimension }

// EnsureCollection creates the collection and its source_id payload index
// if they do not already exist. An existing collection must have the
// store's vector size.
func (s *QdrantStore) EnsureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return &rag.StoreUnavailableError{Collection: s.collection, Err: fmt.Errorf("qdrant: failed to check collection existence: %w", err)}
	}
	if exists {
		info, err := s.client.GetCollectionInfo(ctx, s.collection)
		if err != nil {
			return &rag.StoreUnavailableError{Collection: s.collection, Err: fmt.Errorf("qdrant: failed to read collection info: %w", err)}
		}
		return checkVectorSize(s.collection, s.dimension, info)
	}

	params := &qdrant.VectorParams{
		Size:     uint64(s.dimension),
		Distance: qdrant.Distance_Cosine,
	}
	precision := PrecisionFor(s.dimension)
	if precision == Half {
		params.Datatype = qdrant.Datatype_Float16.Enum()
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig:  qdrant.NewVectorsConfig(params),
	})
	if err != nil {
		return &rag.StoreUnavailableError{Collection: s.collection, Err: fmt.Errorf("qdrant: failed to create collection: %w", err)}
	}

	_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: s.collection,
		FieldName:      fieldSourceID,
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		return &rag.StoreUnavailableError{Collection: s.collection, Err: fmt.Errorf("qdrant: failed to index %s: %w", fieldSourceID, err)}
	}

	s.log.Info("qdrant: created collection",
		slog.String("collection", s.collection),
		slog.Int("dimension", s.dimension),
		slog.String("precision", precision.String()),
	)
	return nil
}

// checkVectorSize fails when info describes a collection whose unnamed
// vector size differs from dimension.
func checkVectorSize(collection string, dimension int, info *qdrant.CollectionInfo) error {
	params := info.GetConfig().GetParams().GetVectorsConfig().GetParams()
	if params == nil {
		return &rag.StoreUnavailableError{Collection: collection,
			Err: fmt.Errorf("qdrant: collection has no single unnamed vector config")}
	}
	if got := params.GetSize(); got != uint64(dimension) {
		return &rag.StoreUnavailableError{Collection: collection,
			Err: fmt.Errorf("qdrant: existing vector size %d does not match tier dimension %d", got, dimension)}
	}
	return nil
}

// Upsert writes chunks as points keyed by chunk id. Qdrant replaces the
// whole payload on upsert, so the created_at of existing points is read
// first and carried over.
func (s *QdrantStore) Upsert(ctx context.Context, chunks []rag.Chunk) error {
	if err := checkDimensions(s.collection, s.dimension, chunks); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	created, err := s.createdAt(ctx, chunks)
	if err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for _, c := range chunks {
		createdAt := now
		if prev, ok := created[c.ID]; ok {
			createdAt = prev
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(c.ID),
			Vectors: qdrant.NewVectors(c.Embedding...),
			Payload: qdrant.NewValueMap(pointPayload(c, createdAt, now)),
		})
	}

	wait := true
	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert into %q failed: %w", s.collection, err)
	}
	return nil
}

// createdAt returns the stored created_at of every chunk that already exists.
func (s *QdrantStore) createdAt(ctx context.Context, chunks []rag.Chunk) (map[string]string, error) {
	ids := make([]*qdrant.PointId, len(chunks))
	for i, c := range chunks {
		ids[i] = qdrant.NewIDUUID(c.ID)
	}
	existing, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.collection,
		Ids:            ids,
		WithPayload:    qdrant.NewWithPayloadInclude(fieldCreatedAt),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: lookup of existing points in %q failed: %w", s.collection, err)
	}
	out := make(map[string]string, len(existing))
	for _, p := range existing {
		if v, ok := p.GetPayload()[fieldCreatedAt]; ok {
			out[p.GetId().GetUuid()] = v.GetStringValue()
		}
	}
	return out, nil
}

// pointPayload builds the stored payload of one chunk.
func pointPayload(c rag.Chunk, createdAt, updatedAt string) map[string]any {
	meta := make(map[string]any, len(c.Metadata))
	for k, v := range c.Metadata {
		meta[k] = v
	}
	return map[string]any{
		fieldText:      c.Text,
		fieldSourceID:  c.SourceID,
		fieldOffset:    int64(c.Offset),
		fieldMetadata:  meta,
		fieldCreatedAt: createdAt,
		fieldUpdatedAt: updatedAt,
	}
}

// filterFor translates an exact-match metadata filter into Qdrant conditions
// on the nested metadata object.
func filterFor(filter map[string]string) *qdrant.Filter {
	if len(filter) == 0 {
		return nil
	}
	must := make([]*qdrant.Condition, 0, len(filter))
	for k, v := range filter {
		must = append(must, qdrant.NewMatch(fieldMetadata+"."+k, v))
	}
	return &qdrant.Filter{Must: must}
}

// Search runs a cosine query. Qdrant applies the threshold and filter
// server-side; scores are clamped to [0,1].
func (s *QdrantStore) Search(ctx context.Context, req rag.SearchRequest) ([]rag.Hit, error) {
	if len(req.Embedding) != s.dimension {
		return nil, &rag.DimensionMismatchError{Collection: s.collection, ChunkID: "query", Want: s.dimension, Got: len(req.Embedding)}
	}
	if req.K <= 0 {
		return []rag.Hit{}, nil
	}

	limit := uint64(req.K)
	q := &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(req.Embedding...),
		Limit:          &limit,
		Filter:         filterFor(req.Filter),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if req.ScoreThreshold > 0 {
		threshold := req.ScoreThreshold
		q.ScoreThreshold = &threshold
	}

	results, err := s.client.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("qdrant: search in %q failed: %w", s.collection, err)
	}

	hits := make([]rag.Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, hitFromPayload(r.GetId().GetUuid(), r.GetScore(), r.GetPayload()))
	}
	return hits, nil
}

// hitFromPayload decodes a stored payload into a Hit.
func hitFromPayload(id string, score float32, p map[string]*qdrant.Value) rag.Hit {
	h := rag.Hit{
		ChunkID:  id,
		Score:    clampScore(score),
		Metadata: make(map[string]string),
	}
	if v, ok := p[fieldText]; ok {
		h.Text = v.GetStringValue()
	}
	if v, ok := p[fieldSourceID]; ok {
		h.Source = v.GetStringValue()
	}
	if v, ok := p[fieldMetadata]; ok {
		for k, mv := range v.GetStructValue().GetFields() {
			if sv, isString := mv.GetKind().(*qdrant.Value_StringValue); isString {
				h.Metadata[k] = sv.StringValue
				continue
			}
			if iv, isInt := mv.GetKind().(*qdrant.Value_IntegerValue); isInt {
				h.Metadata[k] = strconv.FormatInt(iv.IntegerValue, 10)
			}
		}
	}
	return h
}

// sourceFilter selects the points of sourceID, excluding keepIDs.
func sourceFilter(sourceID string, keepIDs []string) *qdrant.Filter {
	f := &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewMatch(fieldSourceID, sourceID)}}
	if len(keepIDs) > 0 {
		ids := make([]*qdrant.PointId, len(keepIDs))
		for i, id := range keepIDs {
			ids[i] = qdrant.NewIDUUID(id)
		}
		f.MustNot = []*qdrant.Condition{qdrant.NewHasID(ids...)}
	}
	return f
}

// DeleteStale removes points of sourceID not listed in keepIDs.
func (s *QdrantStore) DeleteStale(ctx context.Context, sourceID string, keepIDs []string) (int, error) {
	filter := sourceFilter(sourceID, keepIDs)

	exact := true
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Filter:         filter,
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant: count stale points in %q failed: %w", s.collection, err)
	}
	if n == 0 {
		return 0, nil
	}

	wait := true
	_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         qdrant.NewPointsSelectorFilter(filter),
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant: delete stale points in %q failed: %w", s.collection, err)
	}
	return int(n), nil
}

// Count returns the exact number of points in the collection.
func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	exact := true
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant: count %q failed: %w", s.collection, err)
	}
	return int(n), nil
}

// Close is a no-op; the client is shared and closed by its owner.
func (s *QdrantStore) Close() error { return nil }
