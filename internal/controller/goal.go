package controller

import (
	"errors"
	"fmt"
	"time"

	"github.com/felixkranz/aps/internal/observation"
	"github.com/felixkranz/aps/internal/partition"
)

// #region tiers

// GoalTier selects the failure signal: critical goals judge channels by a
// Beta-Binomial upper confidence bound, operational goals by the raw rolling
// rate.
type GoalTier string

const (
	TierCritical    GoalTier = "critical"
	TierOperational GoalTier = "operational"
)

// Valid reports whether t is a declared tier.
func (t GoalTier) Valid() bool {
	return t == TierCritical || t == TierOperational
}

// #endregion tiers

// #region goal

// FailurePredicate decides whether one observation counts as a failure for
// a goal. Predicates must be pure.
type FailurePredicate func(observation.Observation) bool

// Goal binds a failure definition to the channels it supervises. Epsilon is
// the escalation threshold on the effective failure signal; critical goals
// conventionally run with epsilon 0 (any statistically credible failure
// escalates).
type Goal struct {
	ID       string
	Tier     GoalTier
	Fails    FailurePredicate
	Epsilon  float64
	Window   time.Duration
	Channels []string
}

// Validate reports the first construction problem.
func (g Goal) Validate() error {
	switch {
	case g.ID == "":
		return errors.New("goal: empty id")
	case !g.Tier.Valid():
		return fmt.Errorf("goal %s: invalid tier %q", g.ID, g.Tier)
	case g.Fails == nil:
		return fmt.Errorf("goal %s: nil failure predicate", g.ID)
	case g.Epsilon < 0:
		return fmt.Errorf("goal %s: negative epsilon", g.ID)
	case g.Window <= 0:
		return fmt.Errorf("goal %s: non-positive window", g.ID)
	case len(g.Channels) == 0:
		return fmt.Errorf("goal %s: no channels", g.ID)
	}
	return nil
}

// Covers reports whether the goal supervises the channel.
func (g Goal) Covers(channelID string) bool {
	for _, ch := range g.Channels {
		if ch == channelID {
			return true
		}
	}
	return false
}

// #endregion goal

// #region predicates

// FailureSymbols builds a predicate that fires on any of the given output
// symbols.
func FailureSymbols(symbols ...partition.Symbol) FailurePredicate {
	set := make(map[partition.Symbol]struct{}, len(symbols))
	for _, s := range symbols {
		set[s] = struct{}{}
	}
	return func(o observation.Observation) bool {
		_, ok := set[o.SigmaOut]
		return ok
	}
}

// LatencyAbove builds a predicate that fires when an observation's latency
// exceeds the limit.
func LatencyAbove(limit time.Duration) FailurePredicate {
	return func(o observation.Observation) bool {
		return o.Latency > limit
	}
}

// AnyOf combines predicates with OR.
func AnyOf(preds ...FailurePredicate) FailurePredicate {
	return func(o observation.Observation) bool {
		for _, p := range preds {
			if p != nil && p(o) {
				return true
			}
		}
		return false
	}
}

// #endregion predicates
