package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/proxyfetch/internal/config"
)

// cfg is populated before any subcommand runs.
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "proxyfetch",
	Short: "Adaptive fetch client with proxy failover",
	Long: `proxyfetch retrieves pages through a ranked list of fetch strategies
(zenrows, scraperapi, jina, direct), retrying in rounds until one returns 200.

  fetch     fetch one URL and write the body to stdout or a file
  stats     print the per-strategy success counts from the stats store
  serve     expose /fetch, /stats and /metrics over HTTP
  publish   push every hit of a saved search result to NATS`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(*cobra.Command, []string) {
		_ = zap.L().Sync()
	},
}

// setup loads configuration and installs the global logger.
func setup(*cobra.Command, []string) error {
	loaded, err := config.Load()
	if err != nil {
		return eris.Wrap(err, "proxyfetch: load config")
	}
	if err := config.InitLogger(loaded.Log); err != nil {
		return eris.Wrap(err, "proxyfetch: init logger")
	}
	cfg = loaded
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
