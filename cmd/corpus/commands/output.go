package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/54b3r/corpus-go/internal/store"
)

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printJob writes a human-readable job report.
func printJob(w io.Writer, job *store.Job) {
	fmt.Fprintf(w, "job %s  %s\n", job.ID, job.Status)
	if job.RetryOf != "" {
		fmt.Fprintf(w, "retry of %s\n", job.RetryOf)
	}
	ids := make([]string, 0, len(job.Sources))
	for id := range job.Sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tTIER\tSTATE\tCHUNKS\tSTALE\tERROR")
	for _, id := range ids {
		s := job.Sources[id]
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n", id, s.Tier, s.State, s.Chunks, s.StaleDeleted, s.Error)
	}
	_ = tw.Flush()
	if job.ErrorSummary != "" {
		fmt.Fprintf(w, "%s\n", job.ErrorSummary)
	}
}

// jobError returns a non-nil error unless job completed, so the process
// exits non-zero on partial or total failure.
func jobError(job *store.Job) error {
	if job.Status == store.JobCompleted {
		return nil
	}
	return fmt.Errorf("job %s finished %s", job.ID, job.Status)
}
