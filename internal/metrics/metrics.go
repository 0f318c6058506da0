// Package metrics registers the Prometheus metrics owned by the ingestion,
// embedding, and retrieval layers. The HTTP server keeps its own request
// metrics in internal/server.
//
// Every method is safe to call on a nil *Metrics so that library code and
// tests can run without a registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// namespace prefixes every metric name.
const namespace = "corpus"

// Metrics holds the domain metrics. A single instance is created at startup
// and shared by the job manager, the embedding client, and the retriever.
type Metrics struct {
	// jobsTotal counts jobs that reached a terminal status, by status.
	jobsTotal *prometheus.CounterVec

	// activeJobs is the number of jobs currently RUNNING.
	activeJobs prometheus.Gauge

	// sourcesTotal counts finished source tasks by tier and outcome (done, error).
	sourcesTotal *prometheus.CounterVec

	// chunksUpserted counts chunks written, by collection.
	chunksUpserted *prometheus.CounterVec

	// staleDeleted counts chunks removed by the reconcile pass, by collection.
	staleDeleted *prometheus.CounterVec

	// embedBatches counts embedding batches sent upstream, by model.
	embedBatches *prometheus.CounterVec

	// embedRetries counts retried embedding attempts, by model.
	embedRetries *prometheus.CounterVec

	// embedFailures counts batches that failed permanently, by model.
	embedFailures *prometheus.CounterVec

	// cacheLookups counts embedding cache lookups by result (hit, miss, error).
	cacheLookups *prometheus.CounterVec

	// queriesTotal counts multi-tier queries by outcome (ok, timeout, error).
	queriesTotal *prometheus.CounterVec

	// tierLatency records the embed+search latency of one tier leg.
	tierLatency *prometheus.HistogramVec
}

// New registers all domain metrics against reg. promauto.With(reg) keeps
// tests hermetic when they pass a fresh prometheus.Registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		jobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "jobs_total",
			Help:      "Ingestion jobs that reached a terminal status, partitioned by status.",
		}, []string{"status"}),

		activeJobs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "active_jobs",
			Help:      "Number of ingestion jobs currently running.",
		}),

		sourcesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "sources_total",
			Help:      "Source tasks finished, partitioned by tier and outcome.",
		}, []string{"tier", "outcome"}),

		chunksUpserted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "chunks_upserted_total",
			Help:      "Chunks written to a collection.",
		}, []string{"collection"}),

		staleDeleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "stale_chunks_deleted_total",
			Help:      "Chunks removed by the reconcile pass because the latest ingestion no longer produced them.",
		}, []string{"collection"}),

		embedBatches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "batches_total",
			Help:      "Embedding batches sent to a backend.",
		}, []string{"model"}),

		embedRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "retries_total",
			Help:      "Embedding attempts retried after a transient failure.",
		}, []string{"model"}),

		embedFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "failures_total",
			Help:      "Embedding batches that failed permanently.",
		}, []string{"model"}),

		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "cache_lookups_total",
			Help:      "Embedding cache lookups, partitioned by result.",
		}, []string{"result"}),

		queriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "requests_total",
			Help:      "Multi-tier queries, partitioned by outcome.",
		}, []string{"outcome"}),

		tierLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "tier_duration_seconds",
			Help:      "Latency of one tier leg (embed and search).",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tier"}),
	}
}

// JobStarted increments the active job gauge.
func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.activeJobs.Inc()
}

// JobFinished records a terminal job status and decrements the active gauge.
func (m *Metrics) JobFinished(status string) {
	if m == nil {
		return
	}
	m.activeJobs.Dec()
	m.jobsTotal.WithLabelValues(status).Inc()
}

// SourceFinished records the outcome of one source task.
func (m *Metrics) SourceFinished(tier, outcome string) {
	if m == nil {
		return
	}
	m.sourcesTotal.WithLabelValues(tier, outcome).Inc()
}

// ChunksUpserted adds n to the upserted chunk counter of collection.
func (m *Metrics) ChunksUpserted(collection string, n int) {
	if m == nil {
		return
	}
	m.chunksUpserted.WithLabelValues(collection).Add(float64(n))
}

// StaleDeleted adds n to the reconcile deletion counter of collection.
func (m *Metrics) StaleDeleted(collection string, n int) {
	if m == nil {
		return
	}
	m.staleDeleted.WithLabelValues(collection).Add(float64(n))
}

// EmbedBatch counts one batch sent for model.
func (m *Metrics) EmbedBatch(model string) {
	if m == nil {
		return
	}
	m.embedBatches.WithLabelValues(model).Inc()
}

// EmbedRetry counts one retried attempt for model.
func (m *Metrics) EmbedRetry(model string) {
	if m == nil {
		return
	}
	m.embedRetries.WithLabelValues(model).Inc()
}

// EmbedFailure counts one permanently failed batch for model.
func (m *Metrics) EmbedFailure(model string) {
	if m == nil {
		return
	}
	m.embedFailures.WithLabelValues(model).Inc()
}

// CacheLookup counts n cache lookups with the given result.
func (m *Metrics) CacheLookup(result string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.cacheLookups.WithLabelValues(result).Add(float64(n))
}

// Query records the outcome of one multi-tier query.
func (m *Metrics) Query(outcome string) {
	if m == nil {
		return
	}
	m.queriesTotal.WithLabelValues(outcome).Inc()
}

// TierLatency records how long one tier leg took.
func (m *Metrics) TierLatency(tier string, d time.Duration) {
	if m == nil {
		return
	}
	m.tierLatency.WithLabelValues(tier).Observe(d.Seconds())
}
