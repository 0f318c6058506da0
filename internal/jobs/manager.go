// Package jobs runs asynchronous ingestion jobs. A job classifies its
// sources through the registry, prepares every involved collection, and then
// drives each source through the ingestion pipeline on a bounded worker pool
// owned by the source's tier. Every state transition is written to the job
// repository so a job can be polled while it runs.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/panjf2000/ants/v2"

	"github.com/54b3r/corpus-go/internal/ingestion"
	"github.com/54b3r/corpus-go/internal/logging"
	"github.com/54b3r/corpus-go/internal/metrics"
	"github.com/54b3r/corpus-go/internal/rag"
	"github.com/54b3r/corpus-go/internal/registry"
	"github.com/54b3r/corpus-go/internal/store"
)

// Job is the persisted ingestion job record.
type Job = store.Job

const (
	// DefaultWorkers is the per-tier worker pool size.
	DefaultWorkers = 4
	// DefaultJobTimeout is the overall deadline of one job.
	DefaultJobTimeout = 30 * time.Minute
)

var (
	// ErrNothingToRetry is returned by Retry when the job has no failed sources.
	ErrNothingToRetry = errors.New("job has no failed sources")
	// ErrNoSources is returned when an ingestion request names no sources.
	ErrNoSources = errors.New("no sources requested")
	// ErrShuttingDown is returned for requests made after Shutdown.
	ErrShuttingDown = errors.New("job manager is shutting down")
	// ErrJobNotTerminal is returned by Retry for a job that is still running.
	ErrJobNotTerminal = errors.New("job has not finished")
)

// Processor runs one source through fetch, chunk, embed and upsert.
// *ingestion.Pipeline satisfies it.
type Processor interface {
	Process(ctx context.Context, src rag.Source, tier rag.Tier, store rag.CollectionStore, onStage func(ingestion.Stage)) (ingestion.Result, error)
}

// Config holds the job manager settings.
type Config struct {
	// Workers is the number of sources processed concurrently per tier.
	// Defaults to DefaultWorkers if zero.
	Workers int

	// JobTimeout is the overall deadline of a job.
	// Defaults to DefaultJobTimeout if zero.
	JobTimeout time.Duration

	// Reconcile deletes chunks of a source that were not rewritten by a
	// successful run.
	Reconcile bool
}

// Manager owns job execution. It is safe for concurrent use.
type Manager struct {
	registry  *registry.Registry
	stores    map[string]rag.CollectionStore
	processor Processor
	repo      store.JobStore
	metrics   *metrics.Metrics
	log       *slog.Logger
	cfg       Config
	now       func() time.Time

	pools       map[string]*ants.Pool
	releaseOnce sync.Once

	// base is the parent context of asynchronous jobs; Shutdown cancels it.
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	running map[string]*run
}

// run is the in-process state of an executing job.
type run struct {
	mu   sync.Mutex
	job  *Job
	done chan struct{}
}

// NewManager constructs a Manager. stores maps tier names to their
// collection store and must cover every registry tier.
func NewManager(reg *registry.Registry, stores map[string]rag.CollectionStore, processor Processor,
	repo store.JobStore, m *metrics.Metrics, log *slog.Logger, cfg Config) (*Manager, error) {
	if reg == nil || processor == nil || repo == nil {
		return nil, errors.New("jobs: registry, processor and repository are required")
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultJobTimeout
	}

	mgr := &Manager{
		registry:  reg,
		stores:    stores,
		processor: processor,
		repo:      repo,
		metrics:   m,
		log:       log,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
		pools:     make(map[string]*ants.Pool),
		running:   make(map[string]*run),
	}
	mgr.base, mgr.cancel = context.WithCancel(context.Background())

	for _, tier := range reg.Tiers() {
		if _, ok := stores[tier.Name]; !ok {
			mgr.releasePools()
			return nil, fmt.Errorf("jobs: no collection store for tier %q", tier.Name)
		}
		pool, err := ants.NewPool(cfg.Workers, ants.WithPanicHandler(func(p any) {
			log.Error("jobs: source task panicked", slog.String("tier", tier.Name), slog.Any("panic", p))
		}))
		if err != nil {
			mgr.releasePools()
			return nil, fmt.Errorf("jobs: creating worker pool for tier %q: %w", tier.Name, err)
		}
		mgr.pools[tier.Name] = pool
	}
	return mgr, nil
}

// Submit validates sourceIDs, persists a PENDING job and starts it in the
// background. Unknown sources fail with *rag.UnknownSourceError and no job
// is created.
func (m *Manager) Submit(ctx context.Context, sourceIDs []string) (*Job, error) {
	return m.submit(ctx, sourceIDs, "")
}

// Run is Submit followed by execution in the caller's goroutine. It returns
// the job in its terminal state.
func (m *Manager) Run(ctx context.Context, sourceIDs []string) (*Job, error) {
	r, err := m.create(ctx, sourceIDs, "")
	if err != nil {
		return nil, err
	}
	m.execute(ctx, r)
	return m.snapshot(r), nil
}

// Retry starts a new job over the sources of jobID that ended in ERROR.
// Upserts are idempotent by chunk id, so sources that partially wrote
// before failing are safe to rerun.
func (m *Manager) Retry(ctx context.Context, jobID string) (*Job, error) {
	prev, err := m.repo.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !prev.Status.Terminal() {
		return nil, fmt.Errorf("jobs: retry %s: %w (status %s)", jobID, ErrJobNotTerminal, prev.Status)
	}
	failed := prev.Failed()
	if len(failed) == 0 {
		return nil, fmt.Errorf("jobs: retry %s: %w", jobID, ErrNothingToRetry)
	}
	return m.submit(ctx, failed, jobID)
}

// Get returns the current state of a job.
func (m *Manager) Get(ctx context.Context, jobID string) (*Job, error) {
	m.mu.Lock()
	r, ok := m.running[jobID]
	m.mu.Unlock()
	if ok {
		return m.snapshot(r), nil
	}
	return m.repo.Get(ctx, jobID)
}

// List returns up to limit jobs, newest first.
func (m *Manager) List(ctx context.Context, limit int) ([]*Job, error) {
	return m.repo.List(ctx, limit)
}

// Reap deletes terminal jobs last updated more than retention ago.
func (m *Manager) Reap(ctx context.Context, retention time.Duration) (int, error) {
	n, err := m.repo.Reap(ctx, m.now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("jobs: reap: %w", err)
	}
	if n > 0 {
		m.log.Info("jobs: reaped finished jobs", slog.Int("count", n), slog.Duration("retention", retention))
	}
	return n, nil
}

// Wait blocks until jobID finishes in this process or ctx ends, then
// returns the job.
func (m *Manager) Wait(ctx context.Context, jobID string) (*Job, error) {
	m.mu.Lock()
	r, ok := m.running[jobID]
	m.mu.Unlock()
	if ok {
		select {
		case <-r.done:
			return m.snapshot(r), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return m.repo.Get(ctx, jobID)
}

// FailOrphaned marks jobs left PENDING or RUNNING by a previous process as
// FAILED. It must be called before any job is submitted.
func (m *Manager) FailOrphaned(ctx context.Context) (int, error) {
	jobs, err := m.repo.List(ctx, 1000)
	if err != nil {
		return 0, fmt.Errorf("jobs: listing orphans: %w", err)
	}
	n := 0
	for _, job := range jobs {
		if job.Status.Terminal() {
			continue
		}
		now := m.now()
		for _, s := range job.Sources {
			if !s.State.Terminal() {
				s.State = store.SourceError
				s.Error = "interrupted by process restart"
				s.UpdatedAt = now
			}
		}
		job.Status = store.JobFailed
		job.ErrorSummary = "interrupted by process restart"
		job.UpdatedAt = now
		if err := m.repo.Update(ctx, job); err != nil {
			return n, fmt.Errorf("jobs: failing orphan %s: %w", job.ID, err)
		}
		n++
	}
	if n > 0 {
		m.log.Warn("jobs: marked orphaned jobs failed", slog.Int("count", n))
	}
	return n, nil
}

// Shutdown stops accepting jobs, cancels in-flight jobs and waits for them
// to record their final state or for ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("jobs: shutdown: %w", ctx.Err())
	}
	m.releasePools()
	return err
}

func (m *Manager) releasePools() {
	m.releaseOnce.Do(func() {
		for _, p := range m.pools {
			p.Release()
		}
	})
}

func (m *Manager) submit(ctx context.Context, sourceIDs []string, retryOf string) (*Job, error) {
	r, err := m.create(ctx, sourceIDs, retryOf)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		delete(m.running, r.job.ID)
		m.mu.Unlock()
		m.update(ctx, r, func(job *Job) {
			job.Status = store.JobFailed
			job.ErrorSummary = ErrShuttingDown.Error()
		})
		close(r.done)
		return nil, ErrShuttingDown
	}
	m.wg.Add(1)
	m.mu.Unlock()

	job := m.snapshot(r)
	go func() {
		defer m.wg.Done()
		m.execute(m.base, r)
	}()
	return job, nil
}

// create classifies sourceIDs, persists a PENDING job and registers it as
// running in this process.
func (m *Manager) create(ctx context.Context, sourceIDs []string, retryOf string) (*run, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, ErrShuttingDown
	}

	ids := dedupe(sourceIDs)
	if len(ids) == 0 {
		return nil, ErrNoSources
	}
	now := m.now()
	job := &Job{
		ID:               ulid.Make().String(),
		RetryOf:          retryOf,
		RequestedSources: ids,
		Status:           store.JobPending,
		Sources:          make(map[string]*store.SourceStatus, len(ids)),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	for _, id := range ids {
		c, err := m.registry.Classify(id)
		if err != nil {
			return nil, err
		}
		job.Sources[id] = &store.SourceStatus{State: store.SourceQueued, Tier: c.Tier.Name, UpdatedAt: now}
	}
	if err := m.repo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("jobs: %w", err)
	}

	r := &run{job: job, done: make(chan struct{})}
	m.mu.Lock()
	m.running[job.ID] = r
	m.mu.Unlock()

	m.log.Info("jobs: job created",
		slog.String("job_id", job.ID),
		slog.Any("sources", ids),
		slog.String("retry_of", retryOf),
	)
	return r, nil
}

// execute drives r to a terminal state.
func (m *Manager) execute(parent context.Context, r *run) {
	defer func() {
		m.mu.Lock()
		delete(m.running, r.job.ID)
		m.mu.Unlock()
		close(r.done)
	}()

	jobID := r.job.ID
	log := m.log.With(slog.String("job_id", jobID))
	ctx, cancel := context.WithTimeout(parent, m.cfg.JobTimeout)
	defer cancel()
	ctx = logging.WithLogger(ctx, log)

	m.metrics.JobStarted()
	m.update(ctx, r, func(job *Job) {
		job.Status = store.JobRunning
		job.Deadline = m.now().Add(m.cfg.JobTimeout)
	})
	log.Info("jobs: job started", slog.Time("deadline", r.job.Deadline))

	groups := m.groupByTier(r.job)

	if err := m.prepareCollections(ctx, groups); err != nil {
		log.Error("jobs: collection unavailable, aborting job", slog.String("error", err.Error()))
		m.update(ctx, r, func(job *Job) {
			now := m.now()
			for _, s := range job.Sources {
				s.State = store.SourceError
				s.Error = err.Error()
				s.UpdatedAt = now
			}
			job.Status = store.JobFailed
			job.ErrorSummary = err.Error()
		})
		m.finish(log, r)
		return
	}

	var wg sync.WaitGroup
	for _, g := range groups {
		pool := m.pools[g.tier.Name]
		for _, c := range g.sources {
			wg.Add(1)
			err := pool.Submit(func() {
				defer wg.Done()
				m.processSource(ctx, r, c)
			})
			if err != nil {
				wg.Done()
				m.fail(withSource(ctx, c), r, c, fmt.Errorf("scheduling source: %w", err))
			}
		}
	}
	wg.Wait()

	m.update(ctx, r, func(job *Job) {
		now := m.now()
		for id, s := range job.Sources {
			if !s.State.Terminal() {
				s.State = store.SourceError
				s.Error = fmt.Sprintf("source %s did not finish", id)
				s.UpdatedAt = now
			}
		}
		job.Status, job.ErrorSummary = summarise(job)
	})
	m.finish(log, r)
}

func (m *Manager) finish(log *slog.Logger, r *run) {
	job := m.snapshot(r)
	m.metrics.JobFinished(string(job.Status))
	log.Info("jobs: job finished",
		slog.String("status", string(job.Status)),
		slog.Duration("elapsed", job.UpdatedAt.Sub(job.CreatedAt)),
	)
}

// tierGroup is the set of sources of one job that share a tier.
type tierGroup struct {
	tier    rag.Tier
	sources []registry.Classification
}

// groupByTier returns the job's sources grouped by tier, in registry tier
// order with sources sorted by id.
func (m *Manager) groupByTier(job *Job) []tierGroup {
	byTier := make(map[string][]registry.Classification)
	for _, id := range job.RequestedSources {
		c, err := m.registry.Classify(id)
		if err != nil {
			continue
		}
		byTier[c.Tier.Name] = append(byTier[c.Tier.Name], c)
	}
	var groups []tierGroup
	for _, tier := range m.registry.Tiers() {
		srcs, ok := byTier[tier.Name]
		if !ok {
			continue
		}
		sort.Slice(srcs, func(i, j int) bool { return srcs[i].Source.ID < srcs[j].Source.ID })
		groups = append(groups, tierGroup{tier: tier, sources: srcs})
	}
	return groups
}

// prepareCollections ensures the collection of every involved tier exists.
func (m *Manager) prepareCollections(ctx context.Context, groups []tierGroup) error {
	for _, g := range groups {
		if err := m.stores[g.tier.Name].EnsureCollection(ctx); err != nil {
			var su *rag.StoreUnavailableError
			if !errors.As(err, &su) {
				err = &rag.StoreUnavailableError{Collection: g.tier.Collection, Err: err}
			}
			return err
		}
	}
	return nil
}

// processSource runs one source and records its outcome.
func (m *Manager) processSource(ctx context.Context, r *run, c registry.Classification) {
	ctx = withSource(ctx, c)
	log := logging.FromContext(ctx)

	if ctx.Err() != nil {
		m.fail(ctx, r, c, m.abortReason(ctx, r, ctx.Err()))
		return
	}

	st := m.stores[c.Tier.Name]
	res, err := m.processor.Process(ctx, c.Source, c.Tier, st, func(stage ingestion.Stage) {
		m.advance(ctx, r, c.Source.ID, store.SourceState(stage), nil)
	})
	if err != nil {
		if ctx.Err() != nil {
			err = m.abortReason(ctx, r, err)
		}
		m.fail(ctx, r, c, err)
		return
	}

	m.metrics.ChunksUpserted(st.Name(), len(res.ChunkIDs))
	stale := 0
	if m.cfg.Reconcile {
		n, err := st.DeleteStale(ctx, c.Source.ID, res.ChunkIDs)
		if err != nil {
			log.Warn("jobs: reconcile failed", slog.String("error", err.Error()))
		} else {
			stale = n
			m.metrics.StaleDeleted(st.Name(), n)
		}
	}

	m.advance(ctx, r, c.Source.ID, store.SourceDone, func(s *store.SourceStatus) {
		s.Chunks = len(res.ChunkIDs)
		s.StaleDeleted = stale
	})
	m.metrics.SourceFinished(c.Tier.Name, "done")
	log.Info("jobs: source done", slog.Int("chunks", len(res.ChunkIDs)), slog.Int("stale_deleted", stale))
}

// abortReason describes why a source stopped when the job context ended.
func (m *Manager) abortReason(ctx context.Context, r *run, cause error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", &rag.JobTimeoutError{JobID: r.job.ID, Timeout: m.cfg.JobTimeout}, cause)
	}
	return fmt.Errorf("job cancelled: %w", cause)
}

// withSource scopes the context logger to one source.
func withSource(ctx context.Context, c registry.Classification) context.Context {
	return logging.WithLogger(ctx, logging.FromContext(ctx).With(
		slog.String("source_id", c.Source.ID),
		slog.String("tier", c.Tier.Name),
	))
}

// fail records err on the source. ctx must carry the logger from withSource.
func (m *Manager) fail(ctx context.Context, r *run, c registry.Classification, err error) {
	logging.FromContext(ctx).Warn("jobs: source failed", slog.String("error", err.Error()))
	m.advance(ctx, r, c.Source.ID, store.SourceError, func(s *store.SourceStatus) {
		s.Error = err.Error()
	})
	m.metrics.SourceFinished(c.Tier.Name, "error")
}

// advance moves a source forward to state. Backward or post-terminal
// transitions are ignored.
func (m *Manager) advance(ctx context.Context, r *run, sourceID string, state store.SourceState, mutate func(*store.SourceStatus)) {
	m.update(ctx, r, func(job *Job) {
		s, ok := job.Sources[sourceID]
		if !ok || !s.State.CanAdvance(state) {
			return
		}
		s.State = state
		s.UpdatedAt = m.now()
		if mutate != nil {
			mutate(s)
		}
	})
}

// update applies fn to the job and persists it. Writes are serialised per
// job so the stored record never moves backwards.
func (m *Manager) update(ctx context.Context, r *run, fn func(*Job)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.job)
	r.job.UpdatedAt = m.now()
	// The job context may already be done; the record must still be written.
	if err := m.repo.Update(context.WithoutCancel(ctx), r.job); err != nil {
		logging.FromContext(ctx).Error("jobs: persisting job state failed", slog.String("error", err.Error()))
	}
}

func (m *Manager) snapshot(r *run) *Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.job.Clone()
}

// summarise derives the terminal job status from its sources.
func summarise(job *Job) (store.JobStatus, string) {
	failed := job.Failed()
	switch {
	case len(failed) == 0:
		return store.JobCompleted, ""
	case len(failed) == len(job.Sources):
		return store.JobFailed, errorSummary(job, failed)
	default:
		return store.JobPartialFailure, errorSummary(job, failed)
	}
}

func errorSummary(job *Job, failed []string) string {
	parts := make([]string, 0, len(failed))
	for _, id := range failed {
		parts = append(parts, id+": "+job.Sources[id].Error)
	}
	return fmt.Sprintf("%d of %d sources failed: %s", len(failed), len(job.Sources), strings.Join(parts, "; "))
}

// dedupe drops empty and repeated ids, keeping first occurrence order.
func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || slices.Contains(out, id) {
			continue
		}
		out = append(out, id)
	}
	return out
}
