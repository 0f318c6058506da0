// Package retriever answers a text query against several tiers at once.
// Each active tier embeds the query with its own model and searches its own
// collection concurrently; the per-tier lists are then merged into one
// ranked list. A query either returns every tier's results or fails.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/54b3r/corpus-go/internal/metrics"
	"github.com/54b3r/corpus-go/internal/rag"
	"github.com/54b3r/corpus-go/internal/registry"
)

const (
	// DefaultTimeout is the request deadline applied when the caller's
	// context has none shorter.
	DefaultTimeout = 10 * time.Second
	// DefaultKPerTier is used when a request leaves KPerTier unset.
	DefaultKPerTier = 5
	// MaxKPerTier bounds KPerTier.
	MaxKPerTier = 100
)

var (
	// ErrEmptyQuery is returned for a query with no text.
	ErrEmptyQuery = errors.New("query text must not be empty")
	// ErrInvalidRequest wraps request parameters outside their allowed range.
	ErrInvalidRequest = errors.New("invalid query request")
)

// Request is one multi-tier query.
type Request struct {
	// Text is the query text.
	Text string
	// KPerTier is the maximum number of hits taken from each tier.
	KPerTier int
	// ScoreThreshold drops hits scoring below it, in [0,1].
	ScoreThreshold float32
	// ActiveTiers restricts the query to these tiers, in this order.
	// Empty means every tier in registry order.
	ActiveTiers []string
	// Filter restricts hits to chunks whose metadata matches every pair.
	Filter map[string]string
	// Merge selects the merge strategy. Empty means interleave.
	Merge MergeStrategy
}

// Config holds the retriever settings.
type Config struct {
	// Timeout is the per-query deadline. Defaults to DefaultTimeout if zero.
	Timeout time.Duration
}

// Retriever fans a query out over tiers. It is safe for concurrent use.
type Retriever struct {
	registry *registry.Registry
	embedder rag.Embedder
	stores   map[string]rag.CollectionStore
	metrics  *metrics.Metrics
	log      *slog.Logger
	cfg      Config
}

// New constructs a Retriever. stores maps tier names to collection stores.
func New(reg *registry.Registry, emb rag.Embedder, stores map[string]rag.CollectionStore,
	m *metrics.Metrics, log *slog.Logger, cfg Config) (*Retriever, error) {
	if reg == nil || emb == nil {
		return nil, errors.New("retriever: registry and embedder are required")
	}
	for _, t := range reg.Tiers() {
		if _, ok := stores[t.Name]; !ok {
			return nil, fmt.Errorf("retriever: no collection store for tier %q", t.Name)
		}
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Retriever{registry: reg, embedder: emb, stores: stores, metrics: m, log: log, cfg: cfg}, nil
}

// Query embeds req.Text once per tier model, searches every active tier
// concurrently and merges the results. If any tier fails, or the deadline
// passes before every tier finishes, Query returns a
// *rag.QueryPartialTierFailure and no results.
func (r *Retriever) Query(ctx context.Context, req Request) ([]rag.QueryResult, error) {
	tiers, err := r.validate(&req)
	if err != nil {
		r.metrics.Query("invalid")
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	embed := r.queryEmbedder(req.Text)
	lists := make([][]rag.QueryResult, len(tiers))
	g, gctx := errgroup.WithContext(ctx)
	for i, tier := range tiers {
		g.Go(func() error {
			start := time.Now()
			res, err := r.searchTier(gctx, tier, req, embed)
			r.metrics.TierLatency(tier.Name, time.Since(start))
			if err != nil {
				return r.tierFailure(ctx, tier, err)
			}
			lists[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		outcome := "error"
		var te *rag.QueryTimeoutError
		if errors.As(err, &te) {
			outcome = "timeout"
		}
		r.metrics.Query(outcome)
		r.log.Warn("retriever: query failed", slog.String("outcome", outcome), slog.String("error", err.Error()))
		return nil, err
	}

	results := Merge(req.Merge, lists)
	r.metrics.Query("ok")
	r.log.Debug("retriever: query served",
		slog.Int("tiers", len(tiers)),
		slog.Int("results", len(results)),
		slog.String("merge", string(req.Merge)),
	)
	return results, nil
}

// validate applies defaults to req and resolves its active tiers.
func (r *Retriever) validate(req *Request) ([]rag.Tier, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyQuery
	}
	if req.KPerTier <= 0 {
		req.KPerTier = DefaultKPerTier
	}
	if req.KPerTier > MaxKPerTier {
		return nil, fmt.Errorf("%w: k_per_tier must be at most %d, got %d", ErrInvalidRequest, MaxKPerTier, req.KPerTier)
	}
	if req.ScoreThreshold < 0 || req.ScoreThreshold > 1 {
		return nil, fmt.Errorf("%w: score_threshold must be in [0,1], got %g", ErrInvalidRequest, req.ScoreThreshold)
	}
	merge, err := ParseMergeStrategy(string(req.Merge))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	req.Merge = merge

	if len(req.ActiveTiers) == 0 {
		return r.registry.Tiers(), nil
	}
	var tiers []rag.Tier
	var names []string
	for _, name := range req.ActiveTiers {
		if slices.Contains(names, name) {
			continue
		}
		t, ok := r.registry.Tier(name)
		if !ok {
			return nil, fmt.Errorf("retriever: %w %q", rag.ErrUnknownTier, name)
		}
		names = append(names, name)
		tiers = append(tiers, t)
	}
	return tiers, nil
}

// queryEmbedder returns a function embedding text at most once per model.
func (r *Retriever) queryEmbedder(text string) func(ctx context.Context, model string) ([]float32, error) {
	type result struct {
		once sync.Once
		vec  []float32
		err  error
	}
	var mu sync.Mutex
	byModel := make(map[string]*result)

	return func(ctx context.Context, model string) ([]float32, error) {
		mu.Lock()
		res, ok := byModel[model]
		if !ok {
			res = &result{}
			byModel[model] = res
		}
		mu.Unlock()

		res.once.Do(func() {
			vecs, err := r.embedder.Embed(ctx, model, []string{text})
			switch {
			case err != nil:
				res.err = err
			case len(vecs) != 1:
				res.err = fmt.Errorf("embedding service returned %d vectors for 1 text", len(vecs))
			default:
				res.vec = vecs[0]
			}
		})
		return res.vec, res.err
	}
}

func (r *Retriever) searchTier(ctx context.Context, tier rag.Tier, req Request,
	embed func(context.Context, string) ([]float32, error)) ([]rag.QueryResult, error) {
	vec, err := embed(ctx, tier.Model)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	st := r.stores[tier.Name]
	hits, err := st.Search(ctx, rag.SearchRequest{
		Embedding:      vec,
		K:              req.KPerTier,
		ScoreThreshold: req.ScoreThreshold,
		Filter:         req.Filter,
	})
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", st.Name(), err)
	}
	if len(hits) > req.KPerTier {
		hits = hits[:req.KPerTier]
	}

	out := make([]rag.QueryResult, 0, len(hits))
	for _, h := range hits {
		out = append(out, rag.QueryResult{
			ChunkID:    h.ChunkID,
			Text:       h.Text,
			Metadata:   h.Metadata,
			Collection: st.Name(),
			Tier:       tier.Name,
			Source:     h.Source,
			RawScore:   h.Score,
			Score:      h.Score,
		})
	}
	return out, nil
}

// tierFailure wraps a leg error. A leg that ran out of time is reported as
// a timeout whatever error the backend produced.
func (r *Retriever) tierFailure(ctx context.Context, tier rag.Tier, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &rag.QueryPartialTierFailure{Tier: tier.Name, Err: &rag.QueryTimeoutError{Tier: tier.Name}}
	}
	return &rag.QueryPartialTierFailure{Tier: tier.Name, Err: err}
}
