package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func Test_Metrics_NilReceiverIsNoop(t *testing.T) {
	t.Parallel()
	var m *Metrics

	// None of these may panic.
	m.JobStarted()
	m.JobFinished("COMPLETED")
	m.SourceFinished("HIGH", "done")
	m.ChunksUpserted("code", 3)
	m.StaleDeleted("code", 1)
	m.EmbedBatch("nomic-embed-text")
	m.EmbedRetry("nomic-embed-text")
	m.EmbedFailure("nomic-embed-text")
	m.CacheLookup("hit", 2)
	m.Query("ok")
	m.TierLatency("HIGH", time.Second)
}

func Test_Metrics_Counters(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.JobStarted()
	m.JobStarted()
	m.JobFinished("PARTIAL_FAILURE")
	m.ChunksUpserted("docs", 4)
	m.ChunksUpserted("docs", 2)
	m.CacheLookup("miss", 0)

	if got := testutil.ToFloat64(m.activeJobs); got != 1 {
		t.Errorf("active jobs: want 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.jobsTotal.WithLabelValues("PARTIAL_FAILURE")); got != 1 {
		t.Errorf("jobs_total{PARTIAL_FAILURE}: want 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.chunksUpserted.WithLabelValues("docs")); got != 6 {
		t.Errorf("chunks_upserted_total{docs}: want 6, got %v", got)
	}
	if got := testutil.CollectAndCount(m.cacheLookups); got != 0 {
		t.Errorf("cache lookups with n=0 must not create a series, got %d", got)
	}
}
