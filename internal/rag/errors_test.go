package rag

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestIsTransient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"marked", Transient(errors.New("503")), true},
		{"wrapped marked", fmt.Errorf("call: %w", Transient(errors.New("503"))), true},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"transient fetch", &FetchError{SourceID: "a", Kind: "http", Transient: true, Err: errors.New("502")}, true},
		{"permanent fetch", &FetchError{SourceID: "a", Kind: "http", Err: errors.New("404")}, false},
		{"dimension", &DimensionMismatchError{Collection: "docs", Want: 3, Got: 2}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestQueryPartialTierFailure_Unwrap(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("query: %w", &QueryPartialTierFailure{Tier: "HIGH", Err: &QueryTimeoutError{Tier: "HIGH"}})

	var partial *QueryPartialTierFailure
	if !errors.As(err, &partial) {
		t.Fatal("expected QueryPartialTierFailure in chain")
	}
	if partial.Tier != "HIGH" {
		t.Errorf("Tier: got %q, want HIGH", partial.Tier)
	}
	var timeout *QueryTimeoutError
	if !errors.As(err, &timeout) {
		t.Error("expected QueryTimeoutError in chain")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("expected context.DeadlineExceeded in chain")
	}
}

func TestEmbeddingServiceError_CarriesBatch(t *testing.T) {
	t.Parallel()

	texts := []string{"a", "b"}
	err := &EmbeddingServiceError{Model: "m", Texts: texts, Attempts: 3, Err: errors.New("bad request")}

	var ese *EmbeddingServiceError
	if !errors.As(fmt.Errorf("wrap: %w", err), &ese) {
		t.Fatal("expected EmbeddingServiceError")
	}
	if len(ese.Texts) != 2 || ese.Texts[1] != "b" {
		t.Errorf("Texts: got %v", ese.Texts)
	}
}
