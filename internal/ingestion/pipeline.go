// Package ingestion implements the per-source ingestion pipeline: fetch the
// raw content, split it into overlapping chunks with deterministic ids,
// embed the chunks in batches, and upsert them into the tier's collection.
// The job manager drives one Pipeline run per source.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/54b3r/corpus-go/internal/logging"
	"github.com/54b3r/corpus-go/internal/rag"
)

// Stage is a step of the per-source pipeline, reported as it starts.
type Stage string

// Pipeline stages in execution order.
const (
	StageFetching  Stage = "FETCHING"
	StageChunking  Stage = "CHUNKING"
	StageEmbedding Stage = "EMBEDDING"
	StageUpserting Stage = "UPSERTING"
)

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// BatchSize is the number of chunks embedded and upserted together.
	// Defaults to 32 if zero.
	BatchSize int

	// FetchAttempts caps fetch attempts for transient failures.
	// Defaults to 3 if zero.
	FetchAttempts int

	// FetchBackoff is the wait before the first fetch retry.
	// Defaults to 1s if zero.
	FetchBackoff time.Duration
}

// Pipeline processes one source at a time. It is safe for concurrent use;
// the job manager runs many sources through one Pipeline.
type Pipeline struct {
	// fetcher retrieves raw source content.
	fetcher Fetcher

	// embedder converts chunk texts into vectors.
	embedder rag.Embedder

	// cfg holds the resolved pipeline configuration.
	cfg Config
}

// Result summarises a successful source run.
type Result struct {
	// ChunkIDs are the ids written, in chunk order.
	ChunkIDs []string
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
func NewPipeline(fetcher Fetcher, embedder rag.Embedder, cfg Config) (*Pipeline, error) {
	if fetcher == nil {
		return nil, errors.New("ingestion: fetcher must not be nil")
	}
	if embedder == nil {
		return nil, errors.New("ingestion: embedder must not be nil")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.FetchAttempts <= 0 {
		cfg.FetchAttempts = 3
	}
	if cfg.FetchBackoff <= 0 {
		cfg.FetchBackoff = time.Second
	}
	return &Pipeline{fetcher: fetcher, embedder: embedder, cfg: cfg}, nil
}

// Process runs fetch, chunk, embed and upsert for src into store using the
// model of tier. onStage is called as each stage starts. All embedding
// completes before the first upsert so a source never reports a stage out
// of order. When ctx ends no further batch is started. The logger carried
// by ctx is expected to hold the job and source attributes.
func (p *Pipeline) Process(ctx context.Context, src rag.Source, tier rag.Tier, store rag.CollectionStore, onStage func(Stage)) (Result, error) {
	if onStage == nil {
		onStage = func(Stage) {}
	}
	log := logging.FromContext(ctx)

	onStage(StageFetching)
	content, err := p.fetch(ctx, src)
	if err != nil {
		return Result{}, err
	}

	onStage(StageChunking)
	pieces := Chunk(content, src.ChunkSize, src.ChunkOverlap)
	chunks := p.buildChunks(src, tier, pieces)
	log.Debug("ingestion: chunked source", slog.Int("chunks", len(chunks)), slog.Int("runes", len([]rune(content))))

	onStage(StageEmbedding)
	for start := 0; start < len(chunks); start += p.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return Result{}, fmt.Errorf("ingestion: embedding %s: %w", src.ID, err)
		}
		end := min(start+p.cfg.BatchSize, len(chunks))
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Text)
		}
		vecs, err := p.embedder.Embed(ctx, tier.Model, texts)
		if err != nil {
			return Result{}, fmt.Errorf("ingestion: embedding %s: %w", src.ID, err)
		}
		if len(vecs) != len(texts) {
			return Result{}, fmt.Errorf("ingestion: embedding %s: got %d vectors for %d chunks", src.ID, len(vecs), len(texts))
		}
		for i, v := range vecs {
			chunks[start+i].Embedding = v
		}
	}

	onStage(StageUpserting)
	ids := make([]string, 0, len(chunks))
	for start := 0; start < len(chunks); start += p.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return Result{}, fmt.Errorf("ingestion: upserting %s: %w", src.ID, err)
		}
		end := min(start+p.cfg.BatchSize, len(chunks))
		if err := store.Upsert(ctx, chunks[start:end]); err != nil {
			return Result{}, fmt.Errorf("ingestion: upserting %s: %w", src.ID, err)
		}
		for _, c := range chunks[start:end] {
			ids = append(ids, c.ID)
		}
	}

	log.Info("ingestion: source written",
		slog.Int("chunks", len(ids)),
		slog.String("collection", store.Name()),
	)
	return Result{ChunkIDs: ids}, nil
}

// fetch retries transient fetch failures with exponential backoff.
func (p *Pipeline) fetch(ctx context.Context, src rag.Source) (string, error) {
	var content string
	op := func() error {
		c, err := p.fetcher.Fetch(ctx, src)
		if err != nil {
			if ctx.Err() != nil || !rag.IsTransient(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		content = c
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.cfg.FetchBackoff
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.cfg.FetchAttempts-1)), ctx)

	notify := func(err error, wait time.Duration) {
		logging.FromContext(ctx).Warn("ingestion: fetch failed, retrying",
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		var fe *rag.FetchError
		if errors.As(err, &fe) || ctx.Err() != nil {
			return "", err
		}
		return "", &rag.FetchError{SourceID: src.ID, Kind: src.FetchKind, Err: err}
	}
	return content, nil
}

// buildChunks turns pieces into chunks with ids and metadata. Source
// metadata wins over inferred URL metadata.
func (p *Pipeline) buildChunks(src rag.Source, tier rag.Tier, pieces []Piece) []rag.Chunk {
	var inferred *InferredMetadata
	if u := src.BaseConfig["url"]; src.FetchKind == "http" && u != "" {
		m := InferMetadata(u)
		inferred = &m
	}

	chunks := make([]rag.Chunk, len(pieces))
	for i, piece := range pieces {
		meta := make(map[string]string, len(src.Metadata)+6)
		for k, v := range src.Metadata {
			meta[k] = v
		}
		meta["source_id"] = src.ID
		meta["tier"] = tier.Name
		meta["chunk_index"] = strconv.Itoa(piece.Index)
		if inferred != nil {
			if _, ok := meta["url"]; !ok {
				meta["url"] = src.BaseConfig["url"]
			}
			inferred.apply(meta)
		}
		chunks[i] = rag.Chunk{
			ID:         ChunkID(src.ID, piece.Offset),
			SourceID:   src.ID,
			Text:       piece.Text,
			Metadata:   meta,
			Collection: tier.Collection,
			Offset:     piece.Offset,
		}
	}
	return chunks
}
