package model

// StrategyStats holds the attempt bookkeeping for one fetch strategy.
// Successes never exceeds Attempts.
type StrategyStats struct {
	Successes int `json:"successes" yaml:"successes"`
	Attempts  int `json:"attempts" yaml:"attempts"`
}

// Rate returns Successes/Attempts, or 0 for an untried strategy.
func (s StrategyStats) Rate() float64 {
	if s.Attempts <= 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Attempts)
}

// Valid reports whether the counters are non-negative and consistent.
func (s StrategyStats) Valid() bool {
	return s.Successes >= 0 && s.Attempts >= 0 && s.Successes <= s.Attempts
}
