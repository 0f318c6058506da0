package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// NewSourcesCmd constructs the `corpus sources` command, which lists the
// configured tiers and sources.
func NewSourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List configured tiers and sources",
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := newRegistry()
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIER\tMODEL\tCOLLECTION\tDIMENSION")
			for _, t := range reg.Tiers() {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", t.Name, t.Model, t.Collection, t.Dimension)
			}
			fmt.Fprintln(tw)
			fmt.Fprintln(tw, "SOURCE\tTIER\tKIND\tCHUNK")
			for _, s := range reg.Sources() {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\n", s.ID, s.Tier, s.FetchKind, s.ChunkSize, s.ChunkOverlap)
			}
			return tw.Flush()
		},
	}
}
