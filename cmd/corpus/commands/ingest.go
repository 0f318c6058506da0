package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/corpus-go/internal/logging"
)

// NewIngestCmd constructs the `corpus ingest` command, which runs one
// ingestion job in the foreground and reports its per-source outcome.
func NewIngestCmd() *cobra.Command {
	var sourceIDs []string
	var all bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest configured sources into their tier collections",
		Long: `Fetch, chunk, embed and upsert the named sources.

Each source is written to the collection of its tier. Re-ingesting a
source overwrites its chunks in place; chunks that no longer exist in the
source are deleted unless INGEST_RECONCILE=false.

The command exits non-zero unless every source completes.

Examples:
  corpus ingest --source k8s_docs
  corpus ingest --source k8s_docs --source owasp_cheatsheets
  corpus ingest --all --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			a, err := newApp(ctx, log, appOptions{Jobs: true})
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				a.Close(closeCtx)
			}()

			if all {
				sourceIDs = sourceIDs[:0]
				for _, s := range a.registry.Sources() {
					sourceIDs = append(sourceIDs, s.ID)
				}
			}
			if len(sourceIDs) == 0 {
				return fmt.Errorf("ingest: at least one --source (or --all) is required")
			}

			log.Info("starting ingestion", slog.Int("sources", len(sourceIDs)))
			job, err := a.manager.Run(ctx, sourceIDs)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
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

	cmd.Flags().StringArrayVarP(&sourceIDs, "source", "s", nil, "Source id to ingest (repeatable)")
	cmd.Flags().BoolVar(&all, "all", false, "Ingest every configured source")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the final job as JSON")

	return cmd
}
