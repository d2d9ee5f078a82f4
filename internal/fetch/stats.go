package fetch

import (
	"sort"
	"sync"

	"github.com/sells-group/proxyfetch/internal/model"
)

// statsTable owns the per-strategy counters of one Client.
type statsTable struct {
	mu    sync.Mutex
	stats map[string]model.StrategyStats
}

func newStatsTable(names []string) *statsTable {
	t := &statsTable{stats: make(map[string]model.StrategyStats, len(names))}
	for _, n := range names {
		t.stats[n] = model.StrategyStats{}
	}
	return t
}

// record counts one attempt for name, and a success when ok.
func (t *statsTable) record(name string, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, found := t.stats[name]
	if !found {
		return
	}
	s.Attempts++
	if ok {
		s.Successes++
	}
	t.stats[name] = s
}

// seed replaces the counters of known strategies. Unknown names and
// inconsistent counters are skipped and reported back.
func (t *statsTable) seed(in map[string]model.StrategyStats) (skipped []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for name, s := range in {
		if _, found := t.stats[name]; !found || !s.Valid() {
			skipped = append(skipped, name)
			continue
		}
		t.stats[name] = s
	}
	sort.Strings(skipped)
	return skipped
}

func (t *statsTable) snapshot() map[string]model.StrategyStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]model.StrategyStats, len(t.stats))
	for k, v := range t.stats {
		out[k] = v
	}
	return out
}

// rank orders strategies by success rate, highest first. Equal rates keep
// their configured order. The rates come from a single snapshot, so a
// concurrent record may not be reflected until the next call.
func rank(strategies []Strategy, stats map[string]model.StrategyStats) []Strategy {
	ordered := make([]Strategy, len(strategies))
	copy(ordered, strategies)
	sort.SliceStable(ordered, func(i, j int) bool {
		return stats[ordered[i].Name()].Rate() > stats[ordered[j].Name()].Rate()
	})
	return ordered
}
