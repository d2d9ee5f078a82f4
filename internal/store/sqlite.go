package store

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/proxyfetch/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS strategy_stats (
	name       TEXT PRIMARY KEY,
	successes  INTEGER NOT NULL DEFAULT 0 CHECK (successes >= 0),
	attempts   INTEGER NOT NULL DEFAULT 0 CHECK (attempts >= successes),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) LoadStrategyStats(ctx context.Context) (map[string]model.StrategyStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, successes, attempts FROM strategy_stats`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load strategy stats")
	}
	defer rows.Close()

	out := make(map[string]model.StrategyStats)
	for rows.Next() {
		var (
			name string
			st   model.StrategyStats
		)
		if err := rows.Scan(&name, &st.Successes, &st.Attempts); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan strategy stats")
		}
		out[name] = st
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate strategy stats")
}

func (s *SQLiteStore) SaveStrategyStats(ctx context.Context, stats map[string]model.StrategyStats) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	for _, name := range sortedNames(stats) {
		st := stats[name]
		_, err := tx.ExecContext(ctx,
			`INSERT INTO strategy_stats (name, successes, attempts, updated_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT(name) DO UPDATE SET successes = excluded.successes, attempts = excluded.attempts, updated_at = excluded.updated_at`,
			name, st.Successes, st.Attempts, now,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: save stats for %s", name)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit")
}

func sortedNames(stats map[string]model.StrategyStats) []string {
	names := make([]string, 0, len(stats))
	for n := range stats {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
