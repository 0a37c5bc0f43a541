// Package replay re-runs recorded observations through the controller's
// decision logic offline. The harness simulates the evaluation cycle over a
// channel's history with the pure Decide and Gate functions, produces the
// transitions that logic would fire, and diffs them against the escalation
// records the live controller actually wrote. Everything runs in memory;
// loading from a database or a JSON fixture is the caller's concern.
package replay

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/felixkranz/aps/internal/controller"
	"github.com/felixkranz/aps/internal/events"
	"github.com/felixkranz/aps/internal/observation"
	"github.com/felixkranz/aps/internal/theta"
)

const defaultInterval = 30 * time.Second

// #region types

// Scenario is one channel's recorded history plus the decision parameters
// that were live when it was recorded.
type Scenario struct {
	Channel  string
	Goal     controller.Goal
	Tuning   controller.Tuning
	Ladder   []theta.Config // declared configs; first config per level wins
	StartID  string         // active config at scenario start
	Interval time.Duration  // evaluation period; default 30s

	Observations []observation.Observation
	Recorded     []events.EscalationRecord
}

// Step captures one simulated evaluation cycle.
type Step struct {
	Cycle     int
	At        time.Time
	Theta     string // config in effect when the cycle evaluated
	Total     int
	Failures  int
	Raw       float64
	Effective float64
	Decision  controller.Decision
	Fired     bool
}

// Divergence marks one position where the replayed transition sequence and
// the recorded one disagree. Replayed is nil when the live controller fired
// a transition the replay did not; Recorded is nil for the reverse.
type Divergence struct {
	Index    int
	Replayed *events.EscalationRecord
	Recorded *events.EscalationRecord
	Detail   string
}

// Result bundles a full replay run. Recorded counts the non-manual recorded
// events the diff considered.
type Result struct {
	Steps       []Step
	Transitions []events.EscalationRecord
	Divergences []Divergence
	Recorded    int
	Final       theta.Config
}

// Summary aggregates a replay run.
type Summary struct {
	Cycles        int
	Transitions   int
	Escalations   int
	Deescalations int
	Recorded      int
	Divergences   int
	FinalTheta    string
}

// #endregion types

// #region run

// Run simulates the evaluation cycle over the scenario's observations.
// Manual switches in the recorded events are applied to the simulated state
// at their recorded time (they are operator input, not something the
// decision logic predicts) and excluded from the diff; timestamps are never
// compared, only the transition sequence.
func Run(sc Scenario) (Result, error) {
	if sc.Channel == "" {
		return Result{}, errors.New("replay: empty channel")
	}
	if err := sc.Goal.Validate(); err != nil {
		return Result{}, fmt.Errorf("replay: %w", err)
	}
	if len(sc.Observations) == 0 {
		return Result{}, errors.New("replay: no observations")
	}

	byLevel := make(map[theta.Level]theta.Config)
	byID := make(map[string]theta.Config, len(sc.Ladder))
	for _, cfg := range sc.Ladder {
		if _, ok := byLevel[cfg.Level]; !ok {
			byLevel[cfg.Level] = cfg
		}
		byID[cfg.ID] = cfg
	}
	cur, ok := byID[sc.StartID]
	if !ok {
		return Result{}, fmt.Errorf("replay: start theta %q not in ladder", sc.StartID)
	}

	tuning := sc.Tuning.WithDefaults()
	interval := sc.Interval
	if interval <= 0 {
		interval = defaultInterval
	}

	obs := make([]observation.Observation, len(sc.Observations))
	copy(obs, sc.Observations)
	sort.SliceStable(obs, func(i, j int) bool {
		return obs[i].ObservedAt.Before(obs[j].ObservedAt)
	})

	var manual []events.EscalationRecord
	var recordedAuto []events.EscalationRecord
	for _, rec := range sc.Recorded {
		if rec.ChannelID != "" && rec.ChannelID != sc.Channel {
			continue
		}
		if rec.Direction == events.DirectionManual {
			manual = append(manual, rec)
			continue
		}
		recordedAuto = append(recordedAuto, rec)
	}
	sort.SliceStable(manual, func(i, j int) bool {
		return manual[i].SwitchedAt.Before(manual[j].SwitchedAt)
	})

	var res Result
	var (
		lastTransition time.Time
		hasTransition  bool
		manualIdx      int
		lo, hi         int
	)

	first := obs[0].ObservedAt
	last := obs[len(obs)-1].ObservedAt
	end := last.Add(interval)

	cycle := 0
	for at := first.Add(interval); !at.After(end); at = at.Add(interval) {
		cycle++

		for manualIdx < len(manual) && manual[manualIdx].SwitchedAt.Before(at) {
			rec := manual[manualIdx]
			manualIdx++
			next, ok := byID[rec.ToTheta]
			if !ok {
				continue
			}
			cur = next
			lastTransition = rec.SwitchedAt
			hasTransition = true
		}

		since := at.Add(-sc.Goal.Window)
		for lo < len(obs) && obs[lo].ObservedAt.Before(since) {
			lo++
		}
		for hi < len(obs) && obs[hi].ObservedAt.Before(at) {
			hi++
		}
		window := obs[lo:hi]

		failures := 0
		for _, o := range window {
			if sc.Goal.Fails(o) {
				failures++
			}
		}
		total := len(window)
		raw := 0.0
		if total > 0 {
			raw = float64(failures) / float64(total)
		}
		effective := raw
		if sc.Goal.Tier == controller.TierCritical {
			effective = controller.FailureUCB(failures, total, tuning.Confidence)
		}

		d := controller.Decide(cur.Level, total, failures, effective, sc.Goal.Epsilon, tuning.MinObservations)
		sinceLast := time.Duration(-1)
		if hasTransition {
			sinceLast = at.Sub(lastTransition)
		}
		d = controller.Gate(d, cur.Level, sinceLast, tuning)

		step := Step{
			Cycle: cycle, At: at, Theta: cur.ID,
			Total: total, Failures: failures,
			Raw: raw, Effective: effective,
			Decision: d,
		}

		if d.Direction != "" {
			if next, ok := byLevel[d.Target]; ok {
				res.Transitions = append(res.Transitions, events.EscalationRecord{
					ChannelID:      sc.Channel,
					FromTheta:      cur.ID,
					ToTheta:        next.ID,
					Direction:      d.Direction,
					FromLevel:      cur.Level,
					ToLevel:        next.Level,
					TriggerRate:    effective,
					TriggerEpsilon: sc.Goal.Epsilon,
					GoalID:         sc.Goal.ID,
					SwitchedAt:     at,
				})
				cur = next
				lastTransition = at
				hasTransition = true
				step.Fired = true
			} else {
				step.Decision.Reason = fmt.Sprintf("no config at level %s; holding", d.Target)
			}
		}
		res.Steps = append(res.Steps, step)
	}

	res.Divergences = diff(res.Transitions, recordedAuto)
	res.Recorded = len(recordedAuto)
	res.Final = cur
	return res, nil
}

// diff compares the replayed transition sequence against the recorded one,
// position by position.
func diff(replayed, recorded []events.EscalationRecord) []Divergence {
	var out []Divergence
	n := len(replayed)
	if len(recorded) > n {
		n = len(recorded)
	}
	for i := 0; i < n; i++ {
		switch {
		case i >= len(recorded):
			out = append(out, Divergence{
				Index:    i,
				Replayed: &replayed[i],
				Detail:   fmt.Sprintf("replay fired %s %s -> %s; nothing recorded", replayed[i].Direction, replayed[i].FromTheta, replayed[i].ToTheta),
			})
		case i >= len(replayed):
			out = append(out, Divergence{
				Index:    i,
				Recorded: &recorded[i],
				Detail:   fmt.Sprintf("recorded %s %s -> %s; replay fired nothing", recorded[i].Direction, recorded[i].FromTheta, recorded[i].ToTheta),
			})
		case replayed[i].Direction != recorded[i].Direction ||
			replayed[i].FromTheta != recorded[i].FromTheta ||
			replayed[i].ToTheta != recorded[i].ToTheta:
			out = append(out, Divergence{
				Index:    i,
				Replayed: &replayed[i],
				Recorded: &recorded[i],
				Detail: fmt.Sprintf("replayed %s %s -> %s, recorded %s %s -> %s",
					replayed[i].Direction, replayed[i].FromTheta, replayed[i].ToTheta,
					recorded[i].Direction, recorded[i].FromTheta, recorded[i].ToTheta),
			})
		}
	}
	return out
}

// Summarize aggregates a replay result.
func Summarize(res Result) Summary {
	s := Summary{
		Cycles:      len(res.Steps),
		Transitions: len(res.Transitions),
		Recorded:    res.Recorded,
		Divergences: len(res.Divergences),
		FinalTheta:  res.Final.ID,
	}
	for _, rec := range res.Transitions {
		switch rec.Direction {
		case events.DirectionEscalate:
			s.Escalations++
		case events.DirectionDeescalate:
			s.Deescalations++
		}
	}
	return s
}

// #endregion run
