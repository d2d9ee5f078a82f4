package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/proxyfetch/internal/model"
)

// Pool is the subset of pgxpool.Pool used by PostgresStore.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// NewPostgres creates a PostgresStore with a small connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	cfg.MaxConns = 4
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS strategy_stats (
	name       TEXT PRIMARY KEY,
	successes  BIGINT NOT NULL DEFAULT 0 CHECK (successes >= 0),
	attempts   BIGINT NOT NULL DEFAULT 0 CHECK (attempts >= successes),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) LoadStrategyStats(ctx context.Context) (map[string]model.StrategyStats, error) {
	rows, err := s.pool.Query(ctx, `SELECT name, successes, attempts FROM strategy_stats`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load strategy stats")
	}
	defer rows.Close()

	out := make(map[string]model.StrategyStats)
	for rows.Next() {
		var (
			name                string
			successes, attempts int64
		)
		if err := rows.Scan(&name, &successes, &attempts); err != nil {
			return nil, eris.Wrap(err, "postgres: scan strategy stats")
		}
		out[name] = model.StrategyStats{Successes: int(successes), Attempts: int(attempts)}
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate strategy stats")
}

func (s *PostgresStore) SaveStrategyStats(ctx context.Context, stats map[string]model.StrategyStats) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin")
	}

	for _, name := range sortedNames(stats) {
		st := stats[name]
		_, err := tx.Exec(ctx,
			`INSERT INTO strategy_stats (name, successes, attempts, updated_at) VALUES ($1, $2, $3, now())
			 ON CONFLICT (name) DO UPDATE SET successes = EXCLUDED.successes, attempts = EXCLUDED.attempts, updated_at = now()`,
			name, int64(st.Successes), int64(st.Attempts),
		)
		if err != nil {
			_ = tx.Rollback(ctx)
			return eris.Wrapf(err, "postgres: save stats for %s", name)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit")
}
