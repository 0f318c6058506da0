// Package registry maps source identifiers to embedding tiers and chunking
// parameters. A Registry is built once from configuration and passed by
// reference to the job manager and the retriever; it is never mutated.
package registry

import (
	"errors"
	"fmt"
	"sort"

	"github.com/54b3r/corpus-go/internal/rag"
)

// Chunking defaults. DefaultChunkSize replaces a zero chunk size; a zero
// overlap is kept as declared, so DefaultChunkOverlap is applied by the
// config loader only when the key is absent.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 100
)

// Fetch kinds understood by the ingestion fetcher.
const (
	FetchHTTP   = "http"
	FetchFile   = "file"
	FetchInline = "inline"
)

// Classification is the result of classifying a source id.
type Classification struct {
	// Source is the registered source.
	Source rag.Source
	// Tier is the tier the source is embedded with.
	Tier rag.Tier
}

// Registry is an immutable source and tier catalogue.
type Registry struct {
	tiers     []rag.Tier
	tierIndex map[string]int
	sources   map[string]rag.Source
	order     []string
}

// DefaultTiers returns the built-in tiers used when configuration declares
// none: STANDARD for prose and HIGH for code and dense reference material.
func DefaultTiers() []rag.Tier {
	return []rag.Tier{
		{Name: "STANDARD", Model: "nomic-embed-text", Collection: "docs", Dimension: 768},
		{Name: "HIGH", Model: "text-embedding-3-large", Collection: "code", Dimension: 4096},
	}
}

// New validates tiers and sources and returns a Registry.
func New(tiers []rag.Tier, sources []rag.Source) (*Registry, error) {
	if len(tiers) == 0 {
		return nil, errors.New("registry: at least one tier is required")
	}

	r := &Registry{
		tiers:     make([]rag.Tier, 0, len(tiers)),
		tierIndex: make(map[string]int, len(tiers)),
		sources:   make(map[string]rag.Source, len(sources)),
	}

	collections := make(map[string]string, len(tiers))
	for _, t := range tiers {
		switch {
		case t.Name == "":
			return nil, errors.New("registry: tier name is required")
		case t.Model == "":
			return nil, fmt.Errorf("registry: tier %q: model is required", t.Name)
		case t.Collection == "":
			return nil, fmt.Errorf("registry: tier %q: collection is required", t.Name)
		case t.Dimension <= 0:
			return nil, fmt.Errorf("registry: tier %q: dimension must be positive, got %d", t.Name, t.Dimension)
		}
		if _, dup := r.tierIndex[t.Name]; dup {
			return nil, fmt.Errorf("registry: duplicate tier %q", t.Name)
		}
		if other, dup := collections[t.Collection]; dup {
			return nil, fmt.Errorf("registry: tiers %q and %q share collection %q", other, t.Name, t.Collection)
		}
		collections[t.Collection] = t.Name
		r.tierIndex[t.Name] = len(r.tiers)
		r.tiers = append(r.tiers, t)
	}

	for _, s := range sources {
		if s.ID == "" {
			return nil, errors.New("registry: source id is required")
		}
		if _, dup := r.sources[s.ID]; dup {
			return nil, fmt.Errorf("registry: duplicate source %q", s.ID)
		}
		if _, ok := r.tierIndex[s.Tier]; !ok {
			return nil, fmt.Errorf("registry: source %q references unknown tier %q", s.ID, s.Tier)
		}
		switch s.FetchKind {
		case FetchHTTP, FetchFile, FetchInline:
		default:
			return nil, fmt.Errorf("registry: source %q has unknown fetch kind %q", s.ID, s.FetchKind)
		}
		if s.ChunkSize == 0 {
			s.ChunkSize = DefaultChunkSize
		}
		if s.ChunkSize < 0 {
			return nil, fmt.Errorf("registry: source %q: chunk_size must be positive, got %d", s.ID, s.ChunkSize)
		}
		if s.ChunkOverlap < 0 || s.ChunkOverlap >= s.ChunkSize {
			return nil, fmt.Errorf("registry: source %q: chunk_overlap must be in [0, %d), got %d", s.ID, s.ChunkSize, s.ChunkOverlap)
		}
		s.BaseConfig = cloneMap(s.BaseConfig)
		s.Metadata = cloneMap(s.Metadata)
		r.sources[s.ID] = s
		r.order = append(r.order, s.ID)
	}
	sort.Strings(r.order)

	return r, nil
}

// Classify returns the source and tier for sourceID. It fails with
// *rag.UnknownSourceError when the id is not registered.
func (r *Registry) Classify(sourceID string) (Classification, error) {
	s, ok := r.sources[sourceID]
	if !ok {
		return Classification{}, &rag.UnknownSourceError{SourceID: sourceID}
	}
	return Classification{Source: s, Tier: r.tiers[r.tierIndex[s.Tier]]}, nil
}

// Tier returns the named tier.
func (r *Registry) Tier(name string) (rag.Tier, bool) {
	i, ok := r.tierIndex[name]
	if !ok {
		return rag.Tier{}, false
	}
	return r.tiers[i], true
}

// Tiers returns all tiers in declaration order.
func (r *Registry) Tiers() []rag.Tier {
	return append([]rag.Tier(nil), r.tiers...)
}

// Sources returns all sources sorted by id.
func (r *Registry) Sources() []rag.Source {
	out := make([]rag.Source, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.sources[id])
	}
	return out
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
