package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/corpus-go/internal/logging"
	"github.com/54b3r/corpus-go/internal/retriever"
)

// NewQueryCmd constructs the `corpus query` command.
func NewQueryCmd() *cobra.Command {
	var (
		k         int
		threshold float32
		tiers     []string
		filters   map[string]string
		merge     string
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Search every tier and print the merged results",
		Long: `Embed the query once per tier model, search each tier's collection
concurrently and merge the results.

If any tier fails or the query deadline (QUERY_TIMEOUT) passes, the
command fails and prints no results.

Examples:
  corpus query "how do pods get scheduled"
  corpus query -k 3 --tier HIGH "sql injection prevention"
  corpus query --filter doc_type=guide --merge rrf "csrf tokens"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			strategy, err := retriever.ParseMergeStrategy(merge)
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}

			a, err := newApp(ctx, log, appOptions{})
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}
			defer a.Close(ctx)

			results, err := a.retriever.Query(ctx, retriever.Request{
				Text:           strings.Join(args, " "),
				KPerTier:       k,
				ScoreThreshold: threshold,
				ActiveTiers:    tiers,
				Filter:         filters,
				Merge:          strategy,
			})
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, results)
			}
			if len(results) == 0 {
				fmt.Fprintln(out, "no results")
				return nil
			}
			for _, r := range results {
				fmt.Fprintf(out, "%d. [%s/%s] %.3f  %s\n", r.Rank, r.Tier, r.Collection, r.Score, r.Source)
				fmt.Fprintf(out, "   %s\n\n", preview(r.Text, 200))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&k, "k-per-tier", "k", retriever.DefaultKPerTier, "Maximum results per tier")
	cmd.Flags().Float32Var(&threshold, "threshold", 0, "Minimum score in [0,1]; 0 disables the threshold")
	cmd.Flags().StringArrayVar(&tiers, "tier", nil, "Restrict the query to this tier (repeatable)")
	cmd.Flags().StringToStringVar(&filters, "filter", nil, "Metadata filter key=value (repeatable)")
	cmd.Flags().StringVar(&merge, "merge", "", "Merge strategy: interleave, concat, rrf, minmax")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print results as JSON")

	return cmd
}

// preview collapses whitespace and truncates s to n runes.
func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
