package rag

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrJobNotFound is returned when a job id does not exist in the job store.
var ErrJobNotFound = errors.New("job not found")

// ErrUnknownTier is returned when a query names a tier that is not configured.
var ErrUnknownTier = errors.New("unknown tier")

// UnknownSourceError reports a source id absent from the registry.
// Ingestion requests containing one are rejected before a job is created.
type UnknownSourceError struct {
	SourceID string
}

func (e *UnknownSourceError) Error() string {
	return fmt.Sprintf("unknown source %q", e.SourceID)
}

// FetchError reports a failure of the fetch collaborator for one source.
type FetchError struct {
	SourceID string
	Kind     string
	// Transient marks failures worth retrying (network errors, 5xx, 429).
	Transient bool
	Err       error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s source %q: %v", e.Kind, e.SourceID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// EmbeddingServiceError reports a permanent embedding failure. Texts holds
// the batch that failed so callers can tell which chunks were affected.
type EmbeddingServiceError struct {
	Model    string
	Texts    []string
	Attempts int
	Err      error
}

func (e *EmbeddingServiceError) Error() string {
	return fmt.Sprintf("embedding model %q failed for batch of %d texts after %d attempt(s): %v",
		e.Model, len(e.Texts), e.Attempts, e.Err)
}

func (e *EmbeddingServiceError) Unwrap() error { return e.Err }

// DimensionMismatchError reports a vector whose length differs from the
// collection dimension. It is a configuration bug and never retried.
type DimensionMismatchError struct {
	Collection string
	ChunkID    string
	Want       int
	Got        int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("collection %q: chunk %s has dimension %d, want %d",
		e.Collection, e.ChunkID, e.Got, e.Want)
}

// StoreUnavailableError reports that a collection store could not be reached
// or prepared.
type StoreUnavailableError struct {
	Collection string
	Err        error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("collection %q unavailable: %v", e.Collection, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

// JobTimeoutError marks sources left unfinished when a job deadline expired.
type JobTimeoutError struct {
	JobID   string
	Timeout time.Duration
}

func (e *JobTimeoutError) Error() string {
	return fmt.Sprintf("job %s exceeded its deadline of %s", e.JobID, e.Timeout)
}

// QueryTimeoutError reports that a tier leg did not finish before the
// request deadline.
type QueryTimeoutError struct {
	Tier string
}

func (e *QueryTimeoutError) Error() string {
	return fmt.Sprintf("tier %q did not complete before the query deadline", e.Tier)
}

func (e *QueryTimeoutError) Unwrap() error { return context.DeadlineExceeded }

// QueryPartialTierFailure is returned when any tier of a multi-tier query
// fails. A query never returns a partial merge.
type QueryPartialTierFailure struct {
	Tier string
	Err  error
}

func (e *QueryPartialTierFailure) Error() string {
	return fmt.Sprintf("query failed on tier %q: %v", e.Tier, e.Err)
}

func (e *QueryPartialTierFailure) Unwrap() error { return e.Err }

// transientError marks an error as retryable.
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient wraps err so IsTransient reports true for it.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err is worth retrying: explicitly marked
// transient errors, transient fetch errors, network errors, and per-call
// timeouts. Context cancellation of the caller is never transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var te *transientError
	if errors.As(err, &te) {
		return true
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Transient
	}
	var dm *DimensionMismatchError
	if errors.As(err, &dm) {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
