package usecase

import (
	"sync/atomic"

	"artifact-semantics/internal/semantic/domain/model"
)

// StatsRecorder accumulates evaluation counters with lock-free atomic
// increments; workers update it concurrently without coordination.
type StatsRecorder struct {
	rulesEvaluated        atomic.Int64
	rulesMatched          atomic.Int64
	identitiesEvaluated   atomic.Int64
	identitiesWithMatches atomic.Int64
	fallbacks             atomic.Int64
	storesSkipped         atomic.Int64

	byScope map[model.Scope]*atomic.Int64
}

// NewStatsRecorder creates a recorder with a counter per scope.
func NewStatsRecorder() *StatsRecorder {
	byScope := make(map[model.Scope]*atomic.Int64, len(model.Scopes()))
	for _, s := range model.Scopes() {
		byScope[s] = &atomic.Int64{}
	}
	return &StatsRecorder{byScope: byScope}
}

// RulesEvaluated adds n evaluated rules (both tiers summed).
func (s *StatsRecorder) RulesEvaluated(n int) {
	s.rulesEvaluated.Add(int64(n))
}

// RuleMatched counts one matched rule under its scope.
func (s *StatsRecorder) RuleMatched(scope model.Scope) {
	s.rulesMatched.Add(1)
	if c, ok := s.byScope[scope]; ok {
		c.Add(1)
	}
}

// IdentityEvaluated records one completed identity evaluation.
func (s *StatsRecorder) IdentityEvaluated(hadMatches bool) {
	s.identitiesEvaluated.Add(1)
	if hadMatches {
		s.identitiesWithMatches.Add(1)
	}
}

// Fallback counts one rule sent to the in-memory path.
func (s *StatsRecorder) Fallback() {
	s.fallbacks.Add(1)
}

// StoreSkipped counts one store eliminated by the pre-filter.
func (s *StatsRecorder) StoreSkipped() {
	s.storesSkipped.Add(1)
}

// Snapshot returns a point-in-time copy of all counters.
func (s *StatsRecorder) Snapshot(cancelled bool) model.Statistics {
	byScope := make(map[model.Scope]int64, len(s.byScope))
	for scope, c := range s.byScope {
		byScope[scope] = c.Load()
	}
	return model.Statistics{
		RulesEvaluated:        s.rulesEvaluated.Load(),
		RulesMatched:          s.rulesMatched.Load(),
		IdentitiesEvaluated:   s.identitiesEvaluated.Load(),
		IdentitiesWithMatches: s.identitiesWithMatches.Load(),
		Fallbacks:             s.fallbacks.Load(),
		StoresSkipped:         s.storesSkipped.Load(),
		MatchesByScope:        byScope,
		Cancelled:             cancelled,
	}
}

// Reset zeroes every counter.
func (s *StatsRecorder) Reset() {
	s.rulesEvaluated.Store(0)
	s.rulesMatched.Store(0)
	s.identitiesEvaluated.Store(0)
	s.identitiesWithMatches.Store(0)
	s.fallbacks.Store(0)
	s.storesSkipped.Store(0)
	for _, c := range s.byScope {
		c.Store(0)
	}
}
