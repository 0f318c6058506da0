// Package commands defines all Cobra CLI commands for the corpus binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/54b3r/corpus-go/internal/audit"
	"github.com/54b3r/corpus-go/internal/config"
	"github.com/54b3r/corpus-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loaded is the parsed YAML config, set by the root PersistentPreRunE.
var loaded = &config.Config{}

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "corpus",
		Short: "corpus: multi-collection RAG ingestion and retrieval",
		Long: `corpus ingests configured content sources into per-tier vector
collections and answers semantic queries across them.

Each source belongs to one embedding tier. A tier fixes the embedding
model, the target collection and the vector dimension. Queries fan out
over every tier concurrently and the results are merged.

Tiers and sources are declared in a YAML config file
(~/.corpus/config.yaml or ./corpus.yaml). Scalar settings can also be set
with environment variables, which always win.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			cfg, path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loaded = cfg

			audit.LogCommandStart(log, cmd.Name(), path)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.corpus/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewIngestCmd(),
		NewQueryCmd(),
		NewJobsCmd(),
		NewSourcesCmd(),
		NewReapCmd(),
		NewVersionCmd(),
	)

	return root
}
