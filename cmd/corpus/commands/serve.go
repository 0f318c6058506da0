package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/corpus-go/internal/jobs"
	"github.com/54b3r/corpus-go/internal/logging"
	"github.com/54b3r/corpus-go/internal/server"
)

// reapInterval is how often the serve command sweeps expired jobs.
const reapInterval = time.Hour

// NewServeCmd constructs the `corpus serve` command, which starts the HTTP
// API backed by the job manager and the retriever.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the corpus HTTP API",
		Long: `Start the corpus HTTP API.

Endpoints:
  POST /api/ingest                submit an ingestion job
  GET  /api/jobs                  list recent jobs
  GET  /api/jobs/{job_id}         job status with per-source progress
  POST /api/jobs/{job_id}/retry   retry the failed sources of a job
  POST /api/query                 multi-tier semantic query
  GET  /api/sources               configured tiers and sources
  GET  /api/health, /api/ready    liveness and readiness
  GET  /metrics                   Prometheus metrics

Jobs left unfinished by a previous process are marked FAILED at startup.
Finished jobs older than JOB_RETENTION are deleted hourly.

Examples:
  corpus serve
  corpus serve --port 9090
  VECTOR_STORE=pgvector PGVECTOR_DSN=postgres://... corpus serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			a, err := newApp(ctx, log, appOptions{Jobs: true, Metrics: prometheus.DefaultRegisterer})
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				a.Close(shutdownCtx)
			}()

			if _, err := a.manager.FailOrphaned(ctx); err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			if !cmd.Flags().Changed("host") {
				host = a.rt.Host
			}
			if !cmd.Flags().Changed("port") {
				port = a.rt.Port
			}

			srv, err := server.New(a.manager, a.retriever, a.registry, &server.Config{
				Host:    host,
				Port:    port,
				Logger:  log,
				Pingers: a.pingers(),
				APIKey:  a.rt.APIKey,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			go sweepJobs(ctx, a.manager, a.rt.JobRetention, log)

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to (overrides CORPUS_HOST)")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on (overrides CORPUS_PORT)")

	return cmd
}

// sweepJobs deletes expired finished jobs every reapInterval until ctx ends.
func sweepJobs(ctx context.Context, m *jobs.Manager, retention time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for {
		if _, err := m.Reap(ctx, retention); err != nil {
			log.Warn("serve: job retention sweep failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
