package commands

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/corpus-go/internal/config"
	"github.com/54b3r/corpus-go/internal/logging"
)

// NewJobsCmd constructs the `corpus jobs` command group.
func NewJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and retry ingestion jobs",
	}
	cmd.AddCommand(newJobsGetCmd(), newJobsListCmd(), newJobsRetryCmd())
	return cmd
}

func newJobsGetCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "get <job_id>",
		Short: "Show a job with per-source status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := config.FromEnv()
			if err != nil {
				return err
			}
			repo, err := openRepo(rt)
			if err != nil {
				return err
			}
			defer repo.Close()

			job, err := repo.Get(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("jobs get: %w", err)
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), job)
			}
			printJob(cmd.OutOrStdout(), job)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the job as JSON")
	return cmd
}

func newJobsListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent jobs, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := config.FromEnv()
			if err != nil {
				return err
			}
			repo, err := openRepo(rt)
			if err != nil {
				return err
			}
			defer repo.Close()

			list, err := repo.List(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("jobs list: %w", err)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "JOB\tSTATUS\tSOURCES\tFAILED\tCREATED")
			for _, j := range list {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n",
					j.ID, j.Status, len(j.Sources), len(j.Failed()), j.CreatedAt.Local().Format(time.DateTime))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of jobs to list")
	return cmd
}

func newJobsRetryCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "retry <job_id>",
		Short: "Re-run the failed sources of a finished job",
		Long: `Create a new job for the sources that ended in ERROR and run it in
the foreground. The command exits non-zero unless every retried source
completes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			a, err := newApp(ctx, log, appOptions{Jobs: true})
			if err != nil {
				return fmt.Errorf("jobs retry: %w", err)
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				a.Close(closeCtx)
			}()

			job, err := a.manager.Retry(ctx, args[0])
			if err != nil {
				return fmt.Errorf("jobs retry: %w", err)
			}
			job, err = a.manager.Wait(ctx, job.ID)
			if err != nil {
				return fmt.Errorf("jobs retry: %w", err)
			}
			if asJSON {
				if err := printJSON(cmd.OutOrStdout(), job); err != nil {
					return err
				}
			} else {
				printJob(cmd.OutOrStdout(), job)
			}
			return jobError(job)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the final job as JSON")
	return cmd
}
