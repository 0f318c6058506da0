package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/corpus-go/internal/config"
)

// NewReapCmd constructs the `corpus reap` command, which deletes finished
// jobs older than the retention period.
func NewReapCmd() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "reap",
		Short: "Delete finished jobs older than the retention period",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := config.FromEnv()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("older-than") {
				olderThan = rt.JobRetention
			}
			repo, err := openRepo(rt)
			if err != nil {
				return err
			}
			defer repo.Close()

			n, err := repo.Reap(cmd.Context(), time.Now().UTC().Add(-olderThan))
			if err != nil {
				return fmt.Errorf("reap: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d job(s) finished more than %s ago\n", n, olderThan)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 7*24*time.Hour, "Retention period (default from JOB_RETENTION)")
	return cmd
}
