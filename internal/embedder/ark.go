package embedder

import (
	"context"
	"fmt"
	"sort"
	"time"

	einoark "github.com/cloudwego/eino-ext/components/embedding/ark"
)

// ArkConfig holds the settings for the Volcano Engine Ark embedding backend.
type ArkConfig struct {
	// APIKey authenticates against Ark.
	APIKey string
	// BaseURL overrides the Ark endpoint. Empty uses the SDK default.
	BaseURL string
	// Region overrides the Ark region. Empty uses the SDK default.
	Region string
	// Models lists the endpoint ids served by this backend.
	Models []string
	// Timeout bounds each request.
	Timeout time.Duration
}

// ArkEmbedder serves Ark models through the eino Ark embedding component.
// Ark binds the model at construction, so one component is built per model.
type ArkEmbedder struct {
	models map[string]*EinoEmbedder
}

// NewArkEmbedder builds one eino component per configured model.
func NewArkEmbedder(ctx context.Context, cfg *ArkConfig) (*ArkEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("embedder: ark requires ARK_API_KEY or EMBEDDING_API_KEY")
	}
	// retries are owned by Client
	noRetries := 0
	timeout := cfg.Timeout
	e := &ArkEmbedder{models: make(map[string]*EinoEmbedder, len(cfg.Models))}
	for _, model := range cfg.Models {
		inner, err := einoark.NewEmbedder(ctx, &einoark.EmbeddingConfig{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Region:     cfg.Region,
			Model:      model,
			Timeout:    &timeout,
			RetryTimes: &noRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("embedder: ark model %q: %w", model, err)
		}
		e.models[model] = NewEinoEmbedder(inner)
	}
	return e, nil
}

// Embed routes texts to the component bound to model.
func (e *ArkEmbedder) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	inner, ok := e.models[model]
	if !ok {
		return nil, fmt.Errorf("embedder: ark backend has no endpoint for model %q", model)
	}
	return inner.Embed(ctx, model, texts)
}

// Models returns the served model names, sorted.
func (e *ArkEmbedder) Models() []string {
	out := make([]string, 0, len(e.models))
	for m := range e.models {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
