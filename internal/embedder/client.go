package embedder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/54b3r/corpus-go/internal/metrics"
	"github.com/54b3r/corpus-go/internal/rag"
)

// Client defaults.
const (
	DefaultBatchSize      = 32
	DefaultTimeout        = 30 * time.Second
	DefaultMaxAttempts    = 4
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 10 * time.Second
)

// ClientConfig tunes batching, retries, and rate limiting.
type ClientConfig struct {
	// BatchSize is the maximum number of texts per upstream call.
	BatchSize int
	// Timeout bounds one upstream call (one batch attempt).
	Timeout time.Duration
	// MaxAttempts caps the attempts per batch, including the first.
	MaxAttempts int
	// InitialBackoff is the wait before the first retry.
	InitialBackoff time.Duration
	// MaxBackoff caps the wait between retries.
	MaxBackoff time.Duration
	// QPS limits upstream calls per second across all models. Zero disables
	// the limiter.
	QPS float64
	// DefaultProvider serves models that no tier routes explicitly.
	DefaultProvider string
}

// Client is the embedding client used by ingestion and retrieval. It routes
// each model to the backend of the tier that declares it, splits input into
// bounded batches, and retries transient failures with exponential backoff.
// It implements rag.Embedder and is safe for concurrent use.
type Client struct {
	cfg      ClientConfig
	backends map[string]rag.Embedder
	routes   map[string]string
	limiter  *rate.Limiter
	metrics  *metrics.Metrics
	log      *slog.Logger
}

// NewClient builds a Client. backends maps a provider name to its backend;
// tiers supply the model to provider routing.
func NewClient(cfg ClientConfig, backends map[string]rag.Embedder, tiers []rag.Tier, m *metrics.Metrics, log *slog.Logger) (*Client, error) {
	if len(backends) == 0 {
		return nil, errors.New("embedder: at least one backend is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.DefaultProvider == "" && len(backends) == 1 {
		for name := range backends {
			cfg.DefaultProvider = name
		}
	}
	if log == nil {
		log = slog.Default()
	}

	routes := make(map[string]string, len(tiers))
	for _, t := range tiers {
		provider := t.Provider
		if provider == "" {
			provider = cfg.DefaultProvider
		}
		if _, ok := backends[provider]; !ok {
			return nil, fmt.Errorf("embedder: tier %q uses provider %q which is not configured", t.Name, provider)
		}
		if prev, ok := routes[t.Model]; ok && prev != provider {
			return nil, fmt.Errorf("embedder: model %q is routed to both %q and %q", t.Model, prev, provider)
		}
		routes[t.Model] = provider
	}

	c := &Client{
		cfg:      cfg,
		backends: backends,
		routes:   routes,
		metrics:  m,
		log:      log,
	}
	if cfg.QPS > 0 {
		burst := int(cfg.QPS)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.QPS), burst)
	}
	return c, nil
}

// Embed returns one vector per text, in input order. Texts are sent in
// batches of at most BatchSize. When a batch fails permanently the returned
// error is a *rag.EmbeddingServiceError carrying that batch's texts.
func (c *Client) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	backend, err := c.backendFor(model)
	if err != nil {
		return nil, err
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("embedder: %w", err)
		}
		end := min(start+c.cfg.BatchSize, len(texts))
		vecs, err := c.embedBatch(ctx, backend, model, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// backendFor resolves the backend serving model.
func (c *Client) backendFor(model string) (rag.Embedder, error) {
	provider, ok := c.routes[model]
	if !ok {
		provider = c.cfg.DefaultProvider
	}
	b, ok := c.backends[provider]
	if !ok {
		return nil, fmt.Errorf("embedder: no backend for model %q (provider %q)", model, provider)
	}
	return b, nil
}

// embedBatch runs one batch through the retry loop.
func (c *Client) embedBatch(ctx context.Context, backend rag.Embedder, model string, batch []string) ([][]float32, error) {
	var (
		vecs     [][]float32
		attempts int
	)

	op := func() error {
		attempts++
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}
		c.metrics.EmbedBatch(model)

		callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()

		out, err := backend.Embed(callCtx, model, batch)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			if rag.IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		if len(out) != len(batch) {
			return backoff.Permanent(fmt.Errorf("backend returned %d vectors for %d texts", len(out), len(batch)))
		}
		vecs = out
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.cfg.InitialBackoff
	eb.MaxInterval = c.cfg.MaxBackoff
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(c.cfg.MaxAttempts-1)), ctx)

	notify := func(err error, wait time.Duration) {
		c.metrics.EmbedRetry(model)
		c.log.Warn("embedder: transient failure, retrying",
			slog.String("model", model),
			slog.Int("batch_size", len(batch)),
			slog.Int("attempt", attempts),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("embedder: %w", ctx.Err())
		}
		c.metrics.EmbedFailure(model)
		return nil, &rag.EmbeddingServiceError{
			Model:    model,
			Texts:    append([]string(nil), batch...),
			Attempts: attempts,
			Err:      err,
		}
	}
	return vecs, nil
}
