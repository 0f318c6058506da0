package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/54b3r/corpus-go/internal/collection"
	"github.com/54b3r/corpus-go/internal/config"
	"github.com/54b3r/corpus-go/internal/embedder"
	"github.com/54b3r/corpus-go/internal/ingestion"
	"github.com/54b3r/corpus-go/internal/jobs"
	"github.com/54b3r/corpus-go/internal/metrics"
	"github.com/54b3r/corpus-go/internal/registry"
	"github.com/54b3r/corpus-go/internal/retriever"
	"github.com/54b3r/corpus-go/internal/server"
	"github.com/54b3r/corpus-go/internal/store"
)

// app holds the wired components shared by the commands. Fields a command
// did not ask for are nil.
type app struct {
	log      *slog.Logger
	rt       config.Runtime
	registry *registry.Registry
	metrics  *metrics.Metrics

	stores    *collection.Stores
	redis     *redis.Client
	embedder  *embedder.Client
	retriever *retriever.Retriever

	repo    *store.SQLiteJobStore
	manager *jobs.Manager
}

// appOptions selects which parts of the app are built.
type appOptions struct {
	// Jobs opens the job store and builds the job manager.
	Jobs bool
	// Metrics registers domain metrics against this registerer.
	Metrics prometheus.Registerer
}

// newRegistry builds the registry from the loaded config, falling back to
// the built-in tiers when none are declared.
func newRegistry() (*registry.Registry, error) {
	tiers := loaded.Tiers
	if len(tiers) == 0 {
		tiers = registry.DefaultTiers()
	}
	return registry.New(tiers, loaded.Sources)
}

// openRepo opens the job database at CORPUS_JOBS_DB or the default path.
func openRepo(rt config.Runtime) (*store.SQLiteJobStore, error) {
	path := rt.JobsDB
	if path == "" {
		p, err := store.DefaultDBPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	return store.Open(path)
}

// newApp wires registry, stores, embedder and retriever, plus the job
// manager when opts.Jobs is set. Close must be called on success.
func newApp(ctx context.Context, log *slog.Logger, opts appOptions) (_ *app, err error) {
	rt, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	reg, err := newRegistry()
	if err != nil {
		return nil, err
	}
	if err := embedder.ValidateForRAG(log, reg.Tiers()); err != nil {
		return nil, err
	}

	a := &app{log: log, rt: rt, registry: reg}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	if opts.Metrics != nil {
		a.metrics = metrics.New(opts.Metrics)
	}

	a.stores, err = collection.Open(ctx, collection.Config{
		Backend: rt.VectorStore,
		Qdrant: collection.QdrantConfig{
			Host:   rt.QdrantHost,
			Port:   rt.QdrantPort,
			APIKey: rt.QdrantAPIKey,
			UseTLS: rt.QdrantTLS,
		},
		PostgresDSN: rt.PostgresDSN,
	}, reg.Tiers(), log)
	if err != nil {
		return nil, err
	}
	log.Info("collection stores ready", slog.String("backend", rt.VectorStore), slog.Int("tiers", len(reg.Tiers())))

	embOpts := embedder.Options{Tiers: reg.Tiers(), Metrics: a.metrics, Logger: log}
	if rt.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: rt.RedisAddr, Password: rt.RedisPassword})
		embOpts.Redis = a.redis
		log.Info("embedding cache enabled", slog.String("redis", rt.RedisAddr))
	}
	a.embedder, err = embedder.NewFromEnv(ctx, embOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}

	a.retriever, err = retriever.New(reg, a.embedder, a.stores.ByTier(), a.metrics, log,
		retriever.Config{Timeout: rt.QueryTimeout})
	if err != nil {
		return nil, err
	}

	if !opts.Jobs {
		return a, nil
	}

	a.repo, err = openRepo(rt)
	if err != nil {
		return nil, err
	}
	pipeline, err := ingestion.NewPipeline(ingestion.NewFetcher(ingestion.FetcherConfig{}), a.embedder, ingestion.Config{})
	if err != nil {
		return nil, err
	}
	a.manager, err = jobs.NewManager(reg, a.stores.ByTier(), pipeline, a.repo, a.metrics, log, jobs.Config{
		Workers:    rt.Workers,
		JobTimeout: rt.JobTimeout,
		Reconcile:  rt.Reconcile,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// pingers returns readiness probes for the dependencies in use.
func (a *app) pingers() []server.Pinger {
	var ps []server.Pinger
	if c := a.stores.Qdrant(); c != nil {
		ps = append(ps, server.NewQdrantPinger(c))
	}
	if p := a.stores.Pool(); p != nil {
		ps = append(ps, server.NewPostgresPinger(p))
	}
	if a.redis != nil {
		ps = append(ps, server.NewRedisPinger(a.redis))
	}
	return ps
}

// Close shuts the job manager down and releases every connection.
func (a *app) Close(ctx context.Context) {
	var errs []error
	if a.manager != nil {
		errs = append(errs, a.manager.Shutdown(ctx))
	}
	if a.repo != nil {
		errs = append(errs, a.repo.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.stores != nil {
		errs = append(errs, a.stores.Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.log.Warn("shutdown: errors while closing", slog.Any("error", err))
	}
}
