package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/54b3r/corpus-go/internal/metrics"
	"github.com/54b3r/corpus-go/internal/rag"
)

// DefaultCacheTTL is how long a cached embedding lives.
const DefaultCacheTTL = 24 * time.Hour

// Cache wraps a backend with a Redis read-through cache keyed by model and
// the SHA-256 of the text. Redis failures never fail an Embed call; the
// cache degrades to pass-through.
type Cache struct {
	next    rag.Embedder
	rdb     redis.UniversalClient
	ttl     time.Duration
	metrics *metrics.Metrics
	log     *slog.Logger
}

// NewCache wraps next with a Redis cache.
func NewCache(next rag.Embedder, rdb redis.UniversalClient, ttl time.Duration, m *metrics.Metrics, log *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &Cache{next: next, rdb: rdb, ttl: ttl, metrics: m, log: log}
}

// cacheKey returns emb:<model>:<sha256(text)>.
func cacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(text))
	return "emb:" + model + ":" + hex.EncodeToString(sum[:])
}

// Embed serves cached vectors and forwards only the misses to the wrapped
// backend, preserving input order.
func (c *Cache) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = cacheKey(model, t)
	}

	out := make([][]float32, len(texts))
	missIdx := make([]int, 0, len(texts))

	vals, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		c.metrics.CacheLookup("error", len(texts))
		c.log.Warn("embedder: cache lookup failed, passing through",
			slog.String("model", model),
			slog.String("error", err.Error()),
		)
		return c.next.Embed(ctx, model, texts)
	}

	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			missIdx = append(missIdx, i)
			continue
		}
		vec, ok := decodeVector(s)
		if !ok {
			missIdx = append(missIdx, i)
			continue
		}
		out[i] = vec
	}
	c.metrics.CacheLookup("hit", len(texts)-len(missIdx))
	c.metrics.CacheLookup("miss", len(missIdx))

	if len(missIdx) == 0 {
		return out, nil
	}

	missTexts := make([]string, len(missIdx))
	for j, i := range missIdx {
		missTexts[j] = texts[i]
	}
	vecs, err := c.next.Embed(ctx, model, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, errors.New("embedder: backend returned wrong number of vectors")
	}

	pipe := c.rdb.Pipeline()
	for j, i := range missIdx {
		out[i] = vecs[j]
		pipe.Set(ctx, keys[i], encodeVector(vecs[j]), c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Warn("embedder: cache write failed",
			slog.String("model", model),
			slog.Int("count", len(missIdx)),
			slog.String("error", err.Error()),
		)
	}
	return out, nil
}

// encodeVector packs v as little-endian float32s.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

// decodeVector reverses encodeVector.
func decodeVector(s string) ([]float32, bool) {
	if len(s) == 0 || len(s)%4 != 0 {
		return nil, false
	}
	b := []byte(s)
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, true
}
