package core

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"
)

// DefaultWinCooldown is how long a winner sits out before it may win again.
const DefaultWinCooldown = 120 * time.Second

// Selector draws round winners at random, weighted by reputation.
type Selector struct {
	mu       sync.Mutex
	rng      *rand.Rand
	cooldown time.Duration
}

// NewSelector returns a selector drawing from src.
func NewSelector(cooldown time.Duration, src rand.Source) *Selector {
	return &Selector{rng: rand.New(src), cooldown: cooldown}
}

// Pick chooses one candidate. Candidates that won within the cooldown are
// skipped and every other candidate weighs max(1, reputation). It returns
// false when nobody is eligible.
func (s *Selector) Pick(candidates []string, accounts AccountReader, now time.Time) (string, bool) {
	eligible := s.Eligible(candidates, accounts, now)
	if len(eligible) == 0 {
		return "", false
	}

	weights := make([]float64, len(eligible))
	for i, id := range eligible {
		weights[i] = float64(max(1, accounts.Get(id).Reputation))
	}
	cumulative := floats.CumSum(make([]float64, len(weights)), weights)
	total := cumulative[len(cumulative)-1]

	s.mu.Lock()
	draw := s.rng.Float64() * total
	s.mu.Unlock()

	idx := sort.Search(len(cumulative), func(i int) bool { return cumulative[i] > draw })
	if idx == len(cumulative) {
		idx = len(cumulative) - 1
	}
	return eligible[idx], true
}

// Eligible returns the distinct candidates outside their cooldown, sorted.
func (s *Selector) Eligible(candidates []string, accounts AccountReader, now time.Time) []string {
	seen := make(map[string]struct{}, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, id := range candidates {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if accounts.Get(id).WonWithin(now, s.cooldown) {
			continue
		}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
