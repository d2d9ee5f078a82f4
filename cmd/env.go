package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/proxyfetch/internal/config"
	"github.com/sells-group/proxyfetch/internal/fetch"
	"github.com/sells-group/proxyfetch/internal/store"
)

// fetchEnv bundles the fetch client with its optional stats store.
type fetchEnv struct {
	Client *fetch.Client
	Store  store.Store
}

// Close releases the store, if any.
func (e *fetchEnv) Close() {
	if e.Store != nil {
		if err := e.Store.Close(); err != nil {
			zap.L().Warn("close store", zap.Error(err))
		}
	}
}

// initFetch opens the configured store and builds the fetch client on top.
func initFetch(ctx context.Context, c *config.Config, opts ...fetch.Option) (*fetchEnv, error) {
	env := &fetchEnv{}

	if c.Store.Driver != "" {
		st, err := store.Open(ctx, c.Store.Driver, c.Store.DatabaseURL)
		if err != nil {
			return nil, err
		}
		env.Store = st
		opts = append(opts, fetch.WithStatsStore(st))
	}

	client, err := fetch.New(ctx, c.Fetch.ClientConfig(), opts...)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Client = client

	zap.L().Debug("fetch client ready",
		zap.Strings("strategies", client.Ranking()),
		zap.String("store", c.Store.Driver),
	)
	return env, nil
}
