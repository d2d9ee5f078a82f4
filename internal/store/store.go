// Package store persists strategy stats so rankings survive restarts.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/proxyfetch/internal/model"
)

// Store persists per-strategy attempt counters.
type Store interface {
	LoadStrategyStats(ctx context.Context) (map[string]model.StrategyStats, error)
	SaveStrategyStats(ctx context.Context, stats map[string]model.StrategyStats) error

	Migrate(ctx context.Context) error
	Close() error
}

// Open returns a migrated store for driver ("sqlite" or "postgres").
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	var (
		st  Store
		err error
	)
	switch driver {
	case "sqlite":
		if dsn == "" {
			dsn = "proxyfetch.db"
		}
		st, err = NewSQLite(dsn)
	case "postgres":
		st, err = NewPostgres(ctx, dsn)
	default:
		return nil, eris.Errorf("store: unsupported driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}
