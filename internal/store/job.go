package store

import (
	"slices"
	"time"
)

// JobStatus is the overall state of an ingestion job.
type JobStatus string

const (
	// JobPending is a job that has been persisted but not started.
	JobPending JobStatus = "PENDING"
	// JobRunning is a job whose sources are being processed.
	JobRunning JobStatus = "RUNNING"
	// JobCompleted is a job whose sources all reached DONE.
	JobCompleted JobStatus = "COMPLETED"
	// JobPartialFailure is a job with at least one DONE and one ERROR source.
	JobPartialFailure JobStatus = "PARTIAL_FAILURE"
	// JobFailed is a job whose sources all ended in ERROR, or that was
	// aborted before any source started.
	JobFailed JobStatus = "FAILED"
)

// Terminal reports whether s is a final status.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobPartialFailure || s == JobFailed
}

// SourceState is the state of one source within a job.
type SourceState string

const (
	SourceQueued    SourceState = "QUEUED"
	SourceFetching  SourceState = "FETCHING"
	SourceChunking  SourceState = "CHUNKING"
	SourceEmbedding SourceState = "EMBEDDING"
	SourceUpserting SourceState = "UPSERTING"
	SourceDone      SourceState = "DONE"
	SourceError     SourceState = "ERROR"
)

var sourceOrder = map[SourceState]int{
	SourceQueued:    0,
	SourceFetching:  1,
	SourceChunking:  2,
	SourceEmbedding: 3,
	SourceUpserting: 4,
	SourceDone:      5,
	SourceError:     5,
}

// Terminal reports whether s is DONE or ERROR.
func (s SourceState) Terminal() bool {
	return s == SourceDone || s == SourceError
}

// CanAdvance reports whether a source in state s may move to next.
// States only move forward and terminal states are final.
func (s SourceState) CanAdvance(next SourceState) bool {
	if s.Terminal() {
		return false
	}
	return sourceOrder[next] > sourceOrder[s]
}

// SourceStatus is the per-source record of a job.
type SourceStatus struct {
	State        SourceState `json:"state"`
	Tier         string      `json:"tier"`
	Chunks       int         `json:"chunks"`
	StaleDeleted int         `json:"stale_deleted,omitempty"`
	Error        string      `json:"error,omitempty"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Job is the persisted record of one ingestion request.
type Job struct {
	ID string `json:"job_id"`
	// RetryOf is the id of the job this one retries, if any.
	RetryOf          string                   `json:"retry_of,omitempty"`
	RequestedSources []string                 `json:"requested_sources"`
	Status           JobStatus                `json:"status"`
	Sources          map[string]*SourceStatus `json:"per_source_status"`
	ErrorSummary     string                   `json:"error_summary,omitempty"`
	CreatedAt        time.Time                `json:"created_at"`
	UpdatedAt        time.Time                `json:"updated_at"`
	// Deadline is when unfinished sources are marked ERROR. Zero before
	// the job starts running.
	Deadline time.Time `json:"deadline,omitzero"`
}

// Clone returns a deep copy of j.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.RequestedSources = slices.Clone(j.RequestedSources)
	c.Sources = make(map[string]*SourceStatus, len(j.Sources))
	for id, s := range j.Sources {
		cp := *s
		c.Sources[id] = &cp
	}
	return &c
}

// Failed returns the ids of sources that ended in ERROR, sorted.
func (j *Job) Failed() []string {
	var ids []string
	for id, s := range j.Sources {
		if s.State == SourceError {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}
