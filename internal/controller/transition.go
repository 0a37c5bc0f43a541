package controller

import (
	"fmt"
	"time"

	"github.com/felixkranz/aps/internal/events"
	"github.com/felixkranz/aps/internal/theta"
)

// #region tuning

// Tuning holds the hysteresis and caching parameters. The defaults encode
// the protective asymmetry: escalation is fast, de-escalation deliberate.
type Tuning struct {
	MinObservations    int           // gate on every transition
	EscalateCooldown   time.Duration // minimum gap after any transition before escalating
	DeescalateCooldown time.Duration // minimum gap before de-escalating
	Confidence         float64       // UCB quantile for critical-tier goals
	CacheStaleness     time.Duration // theta cache entry lifetime
}

// DefaultTuning returns the standard parameters.
func DefaultTuning() Tuning {
	return Tuning{
		MinObservations:    20,
		EscalateCooldown:   time.Minute,
		DeescalateCooldown: 5 * time.Minute,
		Confidence:         DefaultConfidence,
		CacheStaleness:     time.Hour,
	}
}

// WithDefaults fills unset fields from DefaultTuning. Zero and negative
// values count as unset.
func (t Tuning) WithDefaults() Tuning {
	def := DefaultTuning()
	if t.MinObservations <= 0 {
		t.MinObservations = def.MinObservations
	}
	if t.EscalateCooldown <= 0 {
		t.EscalateCooldown = def.EscalateCooldown
	}
	if t.DeescalateCooldown <= 0 {
		t.DeescalateCooldown = def.DeescalateCooldown
	}
	if t.Confidence <= 0 || t.Confidence >= 1 {
		t.Confidence = def.Confidence
	}
	if t.CacheStaleness <= 0 {
		t.CacheStaleness = def.CacheStaleness
	}
	return t
}

// #endregion tuning

// #region decision

// Decision is the outcome of one escalation evaluation for one channel.
// Direction is empty when the channel holds its level.
type Decision struct {
	Target    theta.Level `json:"target"`
	Direction string      `json:"direction,omitempty"`
	Reason    string      `json:"reason"`
}

// Decide applies the hysteresis rules to one failure signal. Pure: the
// cooldown gate and the cache are layered on top by the cycle (and by the
// replay harness).
//
// Escalation may jump straight to critical when the signal clears both
// thresholds; de-escalation always steps one level. Inside the dead zone
// [epsilon/2, epsilon] the channel holds. With epsilon 0, escalation
// additionally requires at least one observed failure, otherwise the UCB's
// positive floor would escalate a clean channel forever.
func Decide(current theta.Level, total, failures int, effective, epsilon float64, minObs int) Decision {
	if total < minObs {
		return Decision{
			Target: current,
			Reason: fmt.Sprintf("insufficient observations (%d < %d)", total, minObs),
		}
	}

	target := current
	switch {
	case effective > 2*epsilon:
		target = theta.LevelCritical
	case effective > epsilon:
		target = theta.LevelDegraded
	}

	if target > current {
		if epsilon == 0 && failures == 0 {
			return Decision{Target: current, Reason: "ucb floor without observed failures"}
		}
		return Decision{
			Target:    target,
			Direction: events.DirectionEscalate,
			Reason:    fmt.Sprintf("signal %.4f above epsilon %.4f", effective, epsilon),
		}
	}

	if current > theta.LevelNominal && effective < epsilon/2 {
		return Decision{
			Target:    current - 1,
			Direction: events.DirectionDeescalate,
			Reason:    fmt.Sprintf("signal %.4f under epsilon/2 %.4f", effective, epsilon/2),
		}
	}

	return Decision{Target: current, Reason: "dead zone holds level"}
}

// Gate suppresses a transition still inside its cooldown, holding the
// channel at current. sinceLast is the time since the channel's previous
// transition; pass a negative value for a channel that never transitioned.
func Gate(d Decision, current theta.Level, sinceLast time.Duration, t Tuning) Decision {
	if d.Direction == "" || sinceLast < 0 {
		return d
	}

	cooldown, reason := t.EscalateCooldown, "escalation cooldown active"
	if d.Direction == events.DirectionDeescalate {
		cooldown, reason = t.DeescalateCooldown, "de-escalation cooldown active"
	}
	if sinceLast < cooldown {
		return Decision{Target: current, Reason: reason}
	}
	return d
}

// #endregion decision
