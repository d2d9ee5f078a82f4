// Package fetch provides an adaptive HTTP fetch client that spreads requests
// over interchangeable strategies (direct, or third-party fetch proxies),
// prefers the strategies with the best observed success rate, and retries in
// rounds with a pause when every strategy fails.
package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/proxyfetch/internal/model"
	"github.com/sells-group/proxyfetch/internal/resilience"
)

// StatsStore persists strategy stats across processes.
type StatsStore interface {
	LoadStrategyStats(ctx context.Context) (map[string]model.StrategyStats, error)
	SaveStrategyStats(ctx context.Context, stats map[string]model.StrategyStats) error
}

// Option configures a Client.
type Option func(*Client)

// WithStatsStore seeds the stats from store and saves them after each Fetch.
func WithStatsStore(store StatsStore) Option {
	return func(c *Client) {
		c.store = store
	}
}

// Observer receives attempt outcomes. Outcome is one of OutcomeSuccess,
// OutcomeStatus or OutcomeError.
type Observer interface {
	ObserveAttempt(strategy, outcome string, elapsed time.Duration)
	ObservePause()
	ObserveExhausted()
}

// Attempt outcomes reported to an Observer.
const (
	OutcomeSuccess = "success"
	OutcomeStatus  = "status"
	OutcomeError   = "error"
)

type nopObserver struct{}

func (nopObserver) ObserveAttempt(string, string, time.Duration) {}
func (nopObserver) ObservePause()                                {}
func (nopObserver) ObserveExhausted()                            {}

// WithObserver reports attempts, pauses and exhaustion to o.
func WithObserver(o Observer) Option {
	return func(c *Client) {
		if o != nil {
			c.observer = o
		}
	}
}

// Client fetches URLs through its strategies. It is safe for concurrent use;
// all calls share the client's stats.
type Client struct {
	strategies []Strategy
	table      *statsTable
	pause      time.Duration
	maxRounds  int
	store      StatsStore
	observer   Observer

	// saveMu orders saves; savedAttempts is the attempt total last written.
	saveMu        sync.Mutex
	savedAttempts int

	// sleep is swapped in tests to observe pauses.
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds the configured strategies and returns a Client over them.
func New(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	strategies, err := BuildStrategies(cfg)
	if err != nil {
		return nil, err
	}
	return NewClient(ctx, cfg, strategies, opts...)
}

// NewClient returns a Client over explicit strategies, tried in the given
// order until evidence reorders them. cfg.Strategies is ignored.
func NewClient(ctx context.Context, cfg Config, strategies []Strategy, opts ...Option) (*Client, error) {
	if len(strategies) == 0 {
		return nil, eris.New("fetch: at least one strategy is required")
	}
	cfg = cfg.withDefaults()

	names := make([]string, 0, len(strategies))
	seen := make(map[string]bool, len(strategies))
	for _, s := range strategies {
		if seen[s.Name()] {
			return nil, eris.Errorf("fetch: strategy %q registered twice", s.Name())
		}
		seen[s.Name()] = true
		names = append(names, s.Name())
	}

	c := &Client{
		strategies: append([]Strategy(nil), strategies...),
		table:      newStatsTable(names),
		pause:      cfg.PauseDuration,
		maxRounds:  cfg.MaxRounds,
		observer:   nopObserver{},
		sleep:      resilience.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.store != nil {
		loaded, err := c.store.LoadStrategyStats(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "fetch: load strategy stats")
		}
		for _, name := range c.table.seed(loaded) {
			zap.L().Debug("fetch: ignoring stored stats", zap.String("strategy", name))
		}
		c.savedAttempts = totalAttempts(c.table.snapshot())
	}

	return c, nil
}

// Fetch returns the first 200 response obtained from any strategy. Each
// round tries every strategy once in success-rate order; between failed
// rounds the client pauses. After the last round it returns
// ErrRetriesExhausted. If ctx ends first, the context error is returned.
func (c *Client) Fetch(ctx context.Context, req *Request) (*Response, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if c.store != nil {
		defer c.persist(ctx)
	}

	for round := 1; round <= c.maxRounds; round++ {
		for _, s := range rank(c.strategies, c.table.snapshot()) {
			resp := c.attempt(ctx, s, req, round)
			if err := ctx.Err(); err != nil {
				return nil, eris.Wrap(err, "fetch: cancelled")
			}
			if resp != nil {
				return resp, nil
			}
		}

		if round == c.maxRounds {
			break
		}
		zap.L().Warn("fetch: all strategies failed, pausing before next round",
			zap.String("url", req.URL),
			zap.Int("round", round),
			zap.Int("max_rounds", c.maxRounds),
			zap.Duration("pause", c.pause),
		)
		c.observer.ObservePause()
		if err := c.sleep(ctx, c.pause); err != nil {
			return nil, eris.Wrap(err, "fetch: pause interrupted")
		}
	}

	c.observer.ObserveExhausted()
	zap.L().Error("fetch: retries exhausted",
		zap.String("url", req.URL),
		zap.Int("rounds", c.maxRounds),
	)
	return nil, ErrRetriesExhausted
}

// attempt dispatches once and records the outcome. It returns the response
// only for status 200. Attempts cut short by ctx or refused by a rate limiter
// are not recorded.
func (c *Client) attempt(ctx context.Context, s Strategy, req *Request, round int) *Response {
	start := time.Now()
	resp, err := s.Dispatch(ctx, req)
	if ctx.Err() != nil {
		return nil
	}
	elapsed := time.Since(start)
	if errors.Is(err, errThrottled) {
		zap.L().Debug("fetch: strategy throttled, attempt not counted",
			zap.String("strategy", s.Name()),
			zap.String("url", req.URL),
			zap.Int("round", round),
			zap.Error(err),
		)
		return nil
	}
	if err == nil && resp == nil {
		err = eris.Errorf("fetch: %s returned no response", s.Name())
	}

	if err != nil {
		c.table.record(s.Name(), false)
		c.observer.ObserveAttempt(s.Name(), OutcomeError, elapsed)
		zap.L().Warn("fetch: strategy dispatch failed",
			zap.String("strategy", s.Name()),
			zap.String("url", req.URL),
			zap.Int("round", round),
			zap.String("error_type", resilience.ClassifyError(err)),
			zap.Error(err),
		)
		return nil
	}

	if resp.StatusCode != http.StatusOK {
		c.table.record(s.Name(), false)
		c.observer.ObserveAttempt(s.Name(), OutcomeStatus, elapsed)
		zap.L().Info("fetch: strategy returned non-success status",
			zap.String("strategy", s.Name()),
			zap.String("url", req.URL),
			zap.Int("round", round),
			zap.Int("status", resp.StatusCode),
			zap.Bool("transient", resilience.IsTransientHTTPStatus(resp.StatusCode)),
			zap.Error(&StatusError{Strategy: s.Name(), StatusCode: resp.StatusCode}),
		)
		return nil
	}

	c.table.record(s.Name(), true)
	c.observer.ObserveAttempt(s.Name(), OutcomeSuccess, elapsed)
	resp.Strategy = s.Name()
	zap.L().Debug("fetch: strategy succeeded",
		zap.String("strategy", s.Name()),
		zap.String("url", req.URL),
		zap.Int("round", round),
		zap.Int("bytes", len(resp.Body)),
	)
	return resp
}

// persist saves the current stats. Saves are serialized and the snapshot is
// taken under the lock, so a later save never writes older counters. Nothing
// is written when no attempt was recorded since the last save.
func (c *Client) persist(ctx context.Context) {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	snap := c.table.snapshot()
	total := totalAttempts(snap)
	if total <= c.savedAttempts {
		return
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := c.store.SaveStrategyStats(saveCtx, snap); err != nil {
		zap.L().Warn("fetch: save strategy stats", zap.Error(err))
		return
	}
	c.savedAttempts = total
}

func totalAttempts(stats map[string]model.StrategyStats) int {
	n := 0
	for _, s := range stats {
		n += s.Attempts
	}
	return n
}

// Stats returns a snapshot of the per-strategy counters.
func (c *Client) Stats() map[string]model.StrategyStats {
	return c.table.snapshot()
}

// Ranking returns strategy ids in the order the next round would try them.
func (c *Client) Ranking() []string {
	ordered := rank(c.strategies, c.table.snapshot())
	names := make([]string, 0, len(ordered))
	for _, s := range ordered {
		names = append(names, s.Name())
	}
	return names
}

func validateRequest(req *Request) error {
	if req == nil || req.URL == "" {
		return eris.New("fetch: url is required")
	}
	u, err := url.Parse(req.URL)
	if err != nil {
		return eris.Wrapf(err, "fetch: invalid url %q", req.URL)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return eris.Errorf("fetch: invalid url %q", req.URL)
	}
	return nil
}
