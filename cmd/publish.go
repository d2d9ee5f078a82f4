package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/proxyfetch/internal/metrics"
	"github.com/sells-group/proxyfetch/internal/model"
	"github.com/sells-group/proxyfetch/internal/publish"
)

var publishCmd = &cobra.Command{
	Use:   "publish <search-result.json>",
	Short: "Publish every hit of a saved search result to NATS",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("publish"); err != nil {
			return err
		}

		result, err := readSearchResult(args[0])
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		broker, err := publish.ConnectNATS(cfg.Broker.URL, cfg.Broker.Subject)
		if err != nil {
			return err
		}
		defer broker.Close() //nolint:errcheck

		collector, err := metrics.New(nil)
		if err != nil {
			return err
		}

		pool := publish.NewPool(ctx, broker, poolConfig(collector))
		uc := publish.NewSearchUseCase(publish.StaticSearcher{Result: result}, pool)

		if _, err := uc.Execute(ctx, result.Query, result.Sort, result.Page); err != nil {
			pool.Close()
			return err
		}
		pool.Close()

		s := pool.Stats()
		logPublishTotals(collector, len(result.Doujins))
		if s.Failed > 0 || s.Dropped > 0 {
			return eris.Errorf("%d of %d messages not published", s.Failed+s.Dropped, len(result.Doujins))
		}
		return nil
	},
}

func poolConfig(obs publish.Observer) publish.PoolConfig {
	return publish.PoolConfig{
		Workers:        cfg.Broker.Workers,
		QueueSize:      cfg.Broker.QueueSize,
		PublishRetries: cfg.Broker.PublishRetries,
		RetryBackoff:   500 * time.Millisecond,
		PublishTimeout: 10 * time.Second,
		Observer:       obs,
	}
}

// logPublishTotals reports the collector's per-outcome publish counts.
func logPublishTotals(collector *metrics.Collector, hits int) {
	totals, err := collector.PublishTotals()
	if err != nil {
		zap.L().Warn("read publish metrics", zap.Error(err))
		return
	}
	zap.L().Info("publish complete",
		zap.String("subject", cfg.Broker.Subject),
		zap.Int("hits", hits),
		zap.Float64(publish.OutcomePublished, totals[publish.OutcomePublished]),
		zap.Float64(publish.OutcomeFailed, totals[publish.OutcomeFailed]),
		zap.Float64(publish.OutcomeDropped, totals[publish.OutcomeDropped]),
	)
}

// readSearchResult loads a JSON-encoded search result from path.
func readSearchResult(path string) (*model.SearchResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read %s", path)
	}
	var result model.SearchResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, eris.Wrapf(err, "decode %s", path)
	}
	return &result, nil
}

func init() {
	rootCmd.AddCommand(publishCmd)
}
