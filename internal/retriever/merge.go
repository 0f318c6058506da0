package retriever

import (
	"fmt"
	"sort"
	"strings"

	"github.com/54b3r/corpus-go/internal/rag"
)

// MergeStrategy selects how per-tier result lists are combined.
type MergeStrategy string

const (
	// MergeInterleave takes the i-th result of every tier, in active-tier
	// order, before any (i+1)-th result. Raw scores are not compared across
	// tiers because they come from different embedding spaces.
	MergeInterleave MergeStrategy = "interleave"
	// MergeConcat appends each tier's list in active-tier order.
	MergeConcat MergeStrategy = "concat"
	// MergeRRF orders by reciprocal rank fusion over per-tier ranks.
	MergeRRF MergeStrategy = "rrf"
	// MergeMinMax normalises each tier's scores to [0,1] and sorts globally.
	MergeMinMax MergeStrategy = "minmax"
)

// rrfK is the rank offset of reciprocal rank fusion.
const rrfK = 60

// ParseMergeStrategy returns the strategy named s. Empty means interleave.
func ParseMergeStrategy(s string) (MergeStrategy, error) {
	switch m := MergeStrategy(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return MergeInterleave, nil
	case MergeInterleave, MergeConcat, MergeRRF, MergeMinMax:
		return m, nil
	default:
		return "", fmt.Errorf("unknown merge strategy %q (want interleave, concat, rrf or minmax)", s)
	}
}

// Merge combines per-tier lists, each ordered by descending raw score, into
// one list. Duplicate chunk ids keep their first occurrence. Rank is the
// 1-based position in the returned list.
func Merge(strategy MergeStrategy, lists [][]rag.QueryResult) []rag.QueryResult {
	var merged []rag.QueryResult
	switch strategy {
	case MergeConcat:
		for _, l := range lists {
			merged = append(merged, l...)
		}
	case MergeRRF:
		merged = fuse(lists, func(_ []rag.QueryResult, i int) float32 {
			return 1 / float32(rrfK+i+1)
		})
	case MergeMinMax:
		merged = fuse(lists, minMaxScore)
	default:
		merged = interleave(lists)
	}

	seen := make(map[string]struct{}, len(merged))
	out := make([]rag.QueryResult, 0, len(merged))
	for _, r := range merged {
		if _, dup := seen[r.ChunkID]; dup {
			continue
		}
		seen[r.ChunkID] = struct{}{}
		r.Rank = len(out) + 1
		out = append(out, r)
	}
	return out
}

func interleave(lists [][]rag.QueryResult) []rag.QueryResult {
	var out []rag.QueryResult
	for i := 0; ; i++ {
		added := false
		for _, l := range lists {
			if i < len(l) {
				out = append(out, l[i])
				added = true
			}
		}
		if !added {
			return out
		}
	}
}

// fuse rescores every result with score(list, index) and sorts globally by
// the new score. Equal scores keep tier order, then per-tier order.
func fuse(lists [][]rag.QueryResult, score func(list []rag.QueryResult, i int) float32) []rag.QueryResult {
	var out []rag.QueryResult
	for _, l := range lists {
		for i, r := range l {
			r.Score = score(l, i)
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func minMaxScore(l []rag.QueryResult, i int) float32 {
	lo, hi := l[0].RawScore, l[0].RawScore
	for _, r := range l[1:] {
		lo = min(lo, r.RawScore)
		hi = max(hi, r.RawScore)
	}
	if hi == lo {
		return 1
	}
	return (l[i].RawScore - lo) / (hi - lo)
}
