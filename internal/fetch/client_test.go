package fetch

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/proxyfetch/internal/model"
)

type outcome struct {
	status int
	err    error
}

// fakeStrategy replays scripted outcomes; the last one repeats.
type fakeStrategy struct {
	name     string
	mu       sync.Mutex
	outcomes []outcome
	calls    int
}

func newFake(name string, outcomes ...outcome) *fakeStrategy {
	return &fakeStrategy{name: name, outcomes: outcomes}
}

func (f *fakeStrategy) Name() string { return f.name }

func (f *fakeStrategy) Dispatch(_ context.Context, _ *Request) (*Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := f.outcomes[min(f.calls, len(f.outcomes)-1)]
	f.calls++
	if o.err != nil {
		return nil, o.err
	}
	return &Response{StatusCode: o.status, Body: []byte(f.name)}, nil
}

func (f *fakeStrategy) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func ok() outcome { return outcome{status: http.StatusOK} }

func status(code int) outcome { return outcome{status: code} }

func failure(msg string) outcome { return outcome{err: errors.New(msg)} }

type pauseRecorder struct {
	mu     sync.Mutex
	pauses []time.Duration
}

func (p *pauseRecorder) sleep(_ context.Context, d time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pauses = append(p.pauses, d)
	return nil
}

func newTestClient(t *testing.T, cfg Config, strategies ...Strategy) (*Client, *pauseRecorder) {
	t.Helper()
	c, err := NewClient(context.Background(), cfg, strategies)
	require.NoError(t, err)
	rec := &pauseRecorder{}
	c.sleep = rec.sleep
	return c, rec
}

func testRequest() *Request {
	return &Request{URL: "https://nhentai.net/api/galleries/search?query=test"}
}

func TestFetch_FirstStrategySucceeds(t *testing.T) {
	a := newFake("a", ok())
	b := newFake("b", ok())
	c, rec := newTestClient(t, Config{MaxRounds: 3, PauseDuration: time.Minute}, a, b)

	resp, err := c.Fetch(context.Background(), testRequest())

	require.NoError(t, err)
	assert.Equal(t, "a", resp.Strategy)
	assert.Equal(t, "a", string(resp.Body))
	assert.Equal(t, 0, b.Calls())
	assert.Empty(t, rec.pauses)
	assert.Equal(t, model.StrategyStats{Successes: 1, Attempts: 1}, c.Stats()["a"])
	assert.Equal(t, model.StrategyStats{}, c.Stats()["b"])
}

func TestFetch_FailoverWithinRound(t *testing.T) {
	z := newFake("Z", status(http.StatusServiceUnavailable))
	s := newFake("S", ok())
	c, rec := newTestClient(t, Config{MaxRounds: 2, PauseDuration: 0}, z, s)

	resp, err := c.Fetch(context.Background(), testRequest())

	require.NoError(t, err)
	assert.Equal(t, "S", resp.Strategy)
	assert.Equal(t, model.StrategyStats{Successes: 0, Attempts: 1}, c.Stats()["Z"])
	assert.Equal(t, model.StrategyStats{Successes: 1, Attempts: 1}, c.Stats()["S"])
	assert.Equal(t, 1, z.Calls())
	assert.Equal(t, 1, s.Calls())
	assert.Empty(t, rec.pauses, "no second round")
}

func TestFetch_AllFail_ExhaustsRounds(t *testing.T) {
	a := newFake("a", status(http.StatusForbidden))
	b := newFake("b", status(http.StatusInternalServerError))
	pause := 10 * time.Minute
	c, rec := newTestClient(t, Config{MaxRounds: 4, PauseDuration: pause}, a, b)

	resp, err := c.Fetch(context.Background(), testRequest())

	assert.Nil(t, resp)
	require.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, []time.Duration{pause, pause, pause}, rec.pauses)
	assert.Equal(t, model.StrategyStats{Attempts: 4}, c.Stats()["a"])
	assert.Equal(t, model.StrategyStats{Attempts: 4}, c.Stats()["b"])
}

func TestFetch_SingleRoundNeverPauses(t *testing.T) {
	a := newFake("a", failure("boom"))
	c, rec := newTestClient(t, Config{MaxRounds: 1, PauseDuration: time.Hour}, a)

	_, err := c.Fetch(context.Background(), testRequest())

	require.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Empty(t, rec.pauses)
}

func TestFetch_DispatchErrorCountedAndRoundContinues(t *testing.T) {
	a := newFake("a", failure("connection reset by peer"))
	b := newFake("b", ok())
	c, _ := newTestClient(t, Config{MaxRounds: 1}, a, b)

	resp, err := c.Fetch(context.Background(), testRequest())

	require.NoError(t, err)
	assert.Equal(t, "b", resp.Strategy)
	assert.Equal(t, model.StrategyStats{Attempts: 1}, c.Stats()["a"])
}

func TestFetch_NilResponseCountsAsFailure(t *testing.T) {
	c, _ := newTestClient(t, Config{MaxRounds: 1}, nilStrategy{}, newFake("b", ok()))

	resp, err := c.Fetch(context.Background(), testRequest())

	require.NoError(t, err)
	assert.Equal(t, "b", resp.Strategy)
	assert.Equal(t, model.StrategyStats{Attempts: 1}, c.Stats()["nil"])
}

func TestFetch_Only200IsSuccess(t *testing.T) {
	for _, code := range []int{http.StatusCreated, http.StatusNoContent, http.StatusMovedPermanently, http.StatusNotFound} {
		a := newFake("a", status(code))
		c, _ := newTestClient(t, Config{MaxRounds: 1}, a)

		_, err := c.Fetch(context.Background(), testRequest())

		require.ErrorIs(t, err, ErrRetriesExhausted, "status %d", code)
		assert.Equal(t, model.StrategyStats{Attempts: 1}, c.Stats()["a"])
	}
}

func TestFetch_PrefersHigherSuccessRateOnLaterCalls(t *testing.T) {
	a := newFake("a", status(http.StatusTooManyRequests))
	b := newFake("b", ok())
	c, _ := newTestClient(t, Config{MaxRounds: 1}, a, b)

	_, err := c.Fetch(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, c.Ranking())

	resp, err := c.Fetch(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "b", resp.Strategy)
	assert.Equal(t, 1, a.Calls(), "a skipped once b ranks first")
}

func TestFetch_ReranksBetweenRounds(t *testing.T) {
	// Both fail round 1, so round 2 still sees equal rates and keeps the
	// configured order; b succeeds on its second call.
	a := newFake("a", status(http.StatusBadGateway))
	b := newFake("b", status(http.StatusBadGateway), ok())
	c, rec := newTestClient(t, Config{MaxRounds: 3, PauseDuration: time.Second}, a, b)

	resp, err := c.Fetch(context.Background(), testRequest())

	require.NoError(t, err)
	assert.Equal(t, "b", resp.Strategy)
	assert.Len(t, rec.pauses, 1)
	assert.Equal(t, model.StrategyStats{Attempts: 2}, c.Stats()["a"])
	assert.Equal(t, model.StrategyStats{Successes: 1, Attempts: 2}, c.Stats()["b"])
	assert.Equal(t, []string{"b", "a"}, c.Ranking())
}

func TestFetch_ContextCancelledDuringPause(t *testing.T) {
	a := newFake("a", status(http.StatusServiceUnavailable))
	c, err := NewClient(context.Background(), Config{MaxRounds: 3, PauseDuration: time.Hour}, []Strategy{a})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = c.Fetch(ctx, testRequest())

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrRetriesExhausted)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 1, a.Calls())
}

func TestFetch_ContextCancelledAttemptNotRecorded(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := cancelingStrategy{cancel: cancel}
	c, _ := newTestClient(t, Config{MaxRounds: 2}, s)

	_, err := c.Fetch(ctx, testRequest())

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, model.StrategyStats{}, c.Stats()["canceling"])
}

func TestFetch_InvalidRequest(t *testing.T) {
	a := newFake("a", ok())
	c, _ := newTestClient(t, Config{}, a)

	for _, req := range []*Request{nil, {}, {URL: "nhentai.net/g/1"}, {URL: "ftp://nhentai.net"}} {
		_, err := c.Fetch(context.Background(), req)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrRetriesExhausted)
	}
	assert.Equal(t, 0, a.Calls())
}

func TestFetch_StatsMatchOutcomes(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	codes := []int{200, 200, 403, 429, 500, 503}

	var script []outcome
	want200 := 0
	for i := 0; i < 200; i++ {
		if rng.IntN(5) == 0 {
			script = append(script, failure("dial tcp: i/o timeout"))
			continue
		}
		code := codes[rng.IntN(len(codes))]
		if code == 200 {
			want200++
		}
		script = append(script, status(code))
	}
	// Trailing failure so exhausted scripts never fabricate extra successes.
	script = append(script, status(http.StatusInternalServerError))

	a := newFake("a", script...)
	c, _ := newTestClient(t, Config{MaxRounds: 3}, a)

	for a.Calls() < 200 {
		_, _ = c.Fetch(context.Background(), testRequest())
		st := c.Stats()["a"]
		require.LessOrEqual(t, st.Successes, st.Attempts)
	}

	st := c.Stats()["a"]
	assert.Equal(t, a.Calls(), st.Attempts)
	assert.Equal(t, want200, st.Successes)
}

func TestFetch_ConcurrentCallsKeepStatsConsistent(t *testing.T) {
	bad := newFake("bad", status(http.StatusServiceUnavailable))
	good := newFake("good", ok())
	c, _ := newTestClient(t, Config{MaxRounds: 1}, bad, good)

	const n = 64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Fetch(context.Background(), testRequest())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stats := c.Stats()
	assert.Equal(t, model.StrategyStats{Successes: n, Attempts: n}, stats["good"])
	assert.Equal(t, bad.Calls(), stats["bad"].Attempts)
	assert.Equal(t, 0, stats["bad"].Successes)
}

type memStore struct {
	mu    sync.Mutex
	load  map[string]model.StrategyStats
	saved []map[string]model.StrategyStats
	err   error
}

func (m *memStore) LoadStrategyStats(_ context.Context) (map[string]model.StrategyStats, error) {
	return m.load, m.err
}

func (m *memStore) SaveStrategyStats(_ context.Context, stats map[string]model.StrategyStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, stats)
	return nil
}

func TestNewClient_SeedsFromStore(t *testing.T) {
	store := &memStore{load: map[string]model.StrategyStats{
		"a":       {Successes: 1, Attempts: 4},
		"b":       {Successes: 3, Attempts: 4},
		"unknown": {Successes: 1, Attempts: 1},
		"c":       {Successes: 5, Attempts: 1},
	}}
	a, b, cs := newFake("a", ok()), newFake("b", ok()), newFake("c", ok())

	c, err := NewClient(context.Background(), Config{MaxRounds: 1}, []Strategy{a, b, cs}, WithStatsStore(store))
	require.NoError(t, err)

	assert.Equal(t, []string{"b", "a", "c"}, c.Ranking())
	assert.Equal(t, model.StrategyStats{}, c.Stats()["c"], "inconsistent stored stats are ignored")
	assert.NotContains(t, c.Stats(), "unknown")

	_, err = c.Fetch(context.Background(), testRequest())
	require.NoError(t, err)
	require.Len(t, store.saved, 1)
	assert.Equal(t, model.StrategyStats{Successes: 4, Attempts: 5}, store.saved[0]["b"])
}

func TestNewClient_StoreLoadError(t *testing.T) {
	store := &memStore{err: errors.New("db down")}
	_, err := NewClient(context.Background(), Config{}, []Strategy{newFake("a", ok())}, WithStatsStore(store))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load strategy stats")
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(context.Background(), Config{}, nil)
	require.Error(t, err)

	_, err = NewClient(context.Background(), Config{}, []Strategy{newFake("a", ok()), newFake("a", ok())})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registered twice")
}

func TestNewClient_Defaults(t *testing.T) {
	c, err := NewClient(context.Background(), Config{PauseDuration: -time.Second}, []Strategy{newFake("a", ok())})
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxRounds, c.maxRounds)
	assert.Equal(t, time.Duration(0), c.pause)
}

type nilStrategy struct{}

func (nilStrategy) Name() string { return "nil" }
func (nilStrategy) Dispatch(_ context.Context, _ *Request) (*Response, error) {
	return nil, nil
}

type cancelingStrategy struct{ cancel context.CancelFunc }

func (cancelingStrategy) Name() string { return "canceling" }
func (s cancelingStrategy) Dispatch(ctx context.Context, _ *Request) (*Response, error) {
	s.cancel()
	return nil, ctx.Err()
}

type recordingObserver struct {
	mu        sync.Mutex
	attempts  []string
	pauses    int
	exhausted int
}

func (o *recordingObserver) ObserveAttempt(strategy, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attempts = append(o.attempts, strategy+":"+outcome)
}

func (o *recordingObserver) ObservePause() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pauses++
}

func (o *recordingObserver) ObserveExhausted() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.exhausted++
}

func TestFetch_ReportsToObserver(t *testing.T) {
	obs := &recordingObserver{}
	a := newFake("a", failure("reset"))
	b := newFake("b", status(http.StatusTooManyRequests))
	c, err := NewClient(context.Background(), Config{MaxRounds: 2}, []Strategy{a, b}, WithObserver(obs))
	require.NoError(t, err)
	c.sleep = (&pauseRecorder{}).sleep

	_, err = c.Fetch(context.Background(), testRequest())
	require.ErrorIs(t, err, ErrRetriesExhausted)

	assert.Equal(t, []string{"a:error", "b:status", "a:error", "b:status"}, obs.attempts)
	assert.Equal(t, 1, obs.pauses)
	assert.Equal(t, 1, obs.exhausted)

	c2, err := NewClient(context.Background(), Config{}, []Strategy{newFake("ok", ok())}, WithObserver(obs))
	require.NoError(t, err)
	_, err = c2.Fetch(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "ok:success", obs.attempts[len(obs.attempts)-1])
}

func (m *memStore) snapshots() []map[string]model.StrategyStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]map[string]model.StrategyStats(nil), m.saved...)
}

func TestFetch_ConcurrentSavesNeverGoBackwards(t *testing.T) {
	store := &memStore{}
	a := newFake("a", status(http.StatusBadGateway), ok())
	c, err := NewClient(context.Background(), Config{MaxRounds: 1}, []Strategy{a}, WithStatsStore(store))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Fetch(context.Background(), testRequest())
		}()
	}
	wg.Wait()

	saved := store.snapshots()
	require.NotEmpty(t, saved)
	last := 0
	for _, snap := range saved {
		assert.Greater(t, snap["a"].Attempts, last, "each save carries more attempts than the one before")
		last = snap["a"].Attempts
	}
	assert.Equal(t, c.Stats()["a"], saved[len(saved)-1]["a"])
}

func TestPersist_SkipsWhenNothingChanged(t *testing.T) {
	store := &memStore{load: map[string]model.StrategyStats{"a": {Successes: 2, Attempts: 3}}}
	c, err := NewClient(context.Background(), Config{MaxRounds: 1}, []Strategy{newFake("a", ok())}, WithStatsStore(store))
	require.NoError(t, err)

	c.persist(context.Background())
	assert.Empty(t, store.snapshots(), "seeded stats are not written back")

	_, err = c.Fetch(context.Background(), testRequest())
	require.NoError(t, err)
	c.persist(context.Background())

	saved := store.snapshots()
	require.Len(t, saved, 1)
	assert.Equal(t, model.StrategyStats{Successes: 3, Attempts: 4}, saved[0]["a"])
}
