package main

import (
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/proxyfetch/internal/model"
	"github.com/sells-group/proxyfetch/internal/store"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print persisted strategy stats as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("stats"); err != nil {
			return err
		}

		ctx := cmd.Context()
		st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		stats, err := st.LoadStrategyStats(ctx)
		if err != nil {
			return err
		}
		return writeStatsYAML(cmd.OutOrStdout(), stats)
	},
}

type statsRow struct {
	Successes int     `yaml:"successes"`
	Attempts  int     `yaml:"attempts"`
	Rate      float64 `yaml:"rate"`
}

// writeStatsYAML renders stats keyed by strategy id.
func writeStatsYAML(w io.Writer, stats map[string]model.StrategyStats) error {
	rows := make(map[string]statsRow, len(stats))
	for name, s := range stats {
		rows[name] = statsRow{Successes: s.Successes, Attempts: s.Attempts, Rate: s.Rate()}
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(rows); err != nil {
		return eris.Wrap(err, "encode stats")
	}
	return enc.Close()
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
