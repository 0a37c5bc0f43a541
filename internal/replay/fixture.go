package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/felixkranz/aps/internal/controller"
	"github.com/felixkranz/aps/internal/events"
	"github.com/felixkranz/aps/internal/observation"
	"github.com/felixkranz/aps/internal/partition"
	"github.com/felixkranz/aps/internal/theta"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a golden replay scenario.
// Durations are Go duration strings, timestamps RFC3339.
type Fixture struct {
	Description  string               `json:"description"`
	Channel      string               `json:"channel"`
	Goal         FixtureGoal          `json:"goal"`
	Tuning       FixtureTuning        `json:"tuning"`
	Thetas       []FixtureTheta       `json:"thetas"`
	StartTheta   string               `json:"start_theta"`
	Interval     string               `json:"interval"`
	Observations []FixtureObservation `json:"observations"`
	Recorded     []FixtureRecorded    `json:"recorded"`
	Expected     []FixtureExpected    `json:"expected"`
}

// FixtureGoal mirrors controller.Goal; the predicate is declared as failure
// symbols plus an optional latency limit.
type FixtureGoal struct {
	ID             string   `json:"id"`
	Tier           string   `json:"tier"`
	Epsilon        float64  `json:"epsilon"`
	Window         string   `json:"window"`
	FailureSymbols []string `json:"failure_symbols"`
	LatencyLimit   string   `json:"latency_limit,omitempty"`
}

// FixtureTuning mirrors controller.Tuning; zero fields fall to defaults.
type FixtureTuning struct {
	MinObservations    int     `json:"min_observations"`
	EscalateCooldown   string  `json:"escalate_cooldown"`
	DeescalateCooldown string  `json:"deescalate_cooldown"`
	Confidence         float64 `json:"confidence"`
}

// FixtureTheta mirrors theta.Config with a named level.
type FixtureTheta struct {
	ID          string `json:"id"`
	Level       string `json:"level"`
	PartitionID string `json:"partition_id"`
	Protocol    string `json:"protocol"`
}

// FixtureObservation is the slimmed observation a scenario needs: when it
// happened and how it was classified.
type FixtureObservation struct {
	At        string  `json:"at"`
	SigmaIn   string  `json:"sigma_in"`
	SigmaOut  string  `json:"sigma_out"`
	LatencyMS int64   `json:"latency_ms,omitempty"`
	Cost      float64 `json:"cost,omitempty"`
}

// FixtureRecorded is one transition the live controller wrote.
type FixtureRecorded struct {
	At        string `json:"at"`
	Direction string `json:"direction"`
	From      string `json:"from"`
	To        string `json:"to"`
}

// FixtureExpected is the golden transition the replay itself should fire.
type FixtureExpected struct {
	Direction string `json:"direction"`
	From      string `json:"from"`
	To        string `json:"to"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// Scenario converts the fixture into a runnable scenario.
func (f *Fixture) Scenario() (Scenario, error) {
	goal, err := f.Goal.goal(f.Channel)
	if err != nil {
		return Scenario{}, err
	}
	tuning, err := f.Tuning.tuning()
	if err != nil {
		return Scenario{}, err
	}

	ladder := make([]theta.Config, 0, len(f.Thetas))
	for _, ft := range f.Thetas {
		cfg, err := ft.config(f.Channel)
		if err != nil {
			return Scenario{}, err
		}
		ladder = append(ladder, cfg)
	}

	obs := make([]observation.Observation, 0, len(f.Observations))
	for i, fo := range f.Observations {
		o, err := fo.observation(f.Channel)
		if err != nil {
			return Scenario{}, fmt.Errorf("observation %d: %w", i, err)
		}
		obs = append(obs, o)
	}

	recorded := make([]events.EscalationRecord, 0, len(f.Recorded))
	for i, fr := range f.Recorded {
		rec, err := fr.record(f.Channel)
		if err != nil {
			return Scenario{}, fmt.Errorf("recorded %d: %w", i, err)
		}
		recorded = append(recorded, rec)
	}

	interval := time.Duration(0)
	if f.Interval != "" {
		interval, err = time.ParseDuration(f.Interval)
		if err != nil {
			return Scenario{}, fmt.Errorf("interval: %w", err)
		}
	}

	return Scenario{
		Channel:      f.Channel,
		Goal:         goal,
		Tuning:       tuning,
		Ladder:       ladder,
		StartID:      f.StartTheta,
		Interval:     interval,
		Observations: obs,
		Recorded:     recorded,
	}, nil
}

// Check compares the replayed transitions against the fixture's expected
// sequence and returns one message per mismatch.
func (f *Fixture) Check(res Result) []string {
	var problems []string
	for i, want := range f.Expected {
		if i >= len(res.Transitions) {
			problems = append(problems, fmt.Sprintf(
				"expected[%d]: %s %s -> %s never fired", i, want.Direction, want.From, want.To))
			continue
		}
		got := res.Transitions[i]
		if got.Direction != want.Direction || got.FromTheta != want.From || got.ToTheta != want.To {
			problems = append(problems, fmt.Sprintf(
				"expected[%d]: want %s %s -> %s, got %s %s -> %s",
				i, want.Direction, want.From, want.To, got.Direction, got.FromTheta, got.ToTheta))
		}
	}
	for i := len(f.Expected); i < len(res.Transitions); i++ {
		got := res.Transitions[i]
		problems = append(problems, fmt.Sprintf(
			"unexpected transition[%d]: %s %s -> %s", i, got.Direction, got.FromTheta, got.ToTheta))
	}
	return problems
}

func (g FixtureGoal) goal(channel string) (controller.Goal, error) {
	tier := controller.GoalTier(g.Tier)
	if g.Tier == "" {
		tier = controller.TierOperational
	}

	window, err := time.ParseDuration(g.Window)
	if err != nil {
		return controller.Goal{}, fmt.Errorf("goal window: %w", err)
	}

	var preds []controller.FailurePredicate
	if len(g.FailureSymbols) > 0 {
		symbols := make([]partition.Symbol, len(g.FailureSymbols))
		for i, s := range g.FailureSymbols {
			symbols[i] = partition.Symbol(s)
		}
		preds = append(preds, controller.FailureSymbols(symbols...))
	}
	if g.LatencyLimit != "" {
		limit, err := time.ParseDuration(g.LatencyLimit)
		if err != nil {
			return controller.Goal{}, fmt.Errorf("goal latency limit: %w", err)
		}
		preds = append(preds, controller.LatencyAbove(limit))
	}

	var fails controller.FailurePredicate
	switch len(preds) {
	case 0:
		return controller.Goal{}, fmt.Errorf("goal %q: no failure definition", g.ID)
	case 1:
		fails = preds[0]
	default:
		fails = controller.AnyOf(preds...)
	}

	return controller.Goal{
		ID:       g.ID,
		Tier:     tier,
		Fails:    fails,
		Epsilon:  g.Epsilon,
		Window:   window,
		Channels: []string{channel},
	}, nil
}

func (t FixtureTuning) tuning() (controller.Tuning, error) {
	out := controller.Tuning{
		MinObservations: t.MinObservations,
		Confidence:      t.Confidence,
	}
	var err error
	if t.EscalateCooldown != "" {
		if out.EscalateCooldown, err = time.ParseDuration(t.EscalateCooldown); err != nil {
			return controller.Tuning{}, fmt.Errorf("escalate cooldown: %w", err)
		}
	}
	if t.DeescalateCooldown != "" {
		if out.DeescalateCooldown, err = time.ParseDuration(t.DeescalateCooldown); err != nil {
			return controller.Tuning{}, fmt.Errorf("de-escalate cooldown: %w", err)
		}
	}
	return out, nil
}

func (t FixtureTheta) config(channel string) (theta.Config, error) {
	level, err := theta.ParseLevel(t.Level)
	if err != nil {
		return theta.Config{}, fmt.Errorf("theta %q: %w", t.ID, err)
	}
	protocol, err := theta.ParseProtocol(t.Protocol)
	if err != nil {
		return theta.Config{}, fmt.Errorf("theta %q: %w", t.ID, err)
	}
	return theta.Config{
		ID:          t.ID,
		ChannelID:   channel,
		Level:       level,
		PartitionID: t.PartitionID,
		Protocol:    protocol,
	}, nil
}

func (o FixtureObservation) observation(channel string) (observation.Observation, error) {
	at, err := time.Parse(time.RFC3339, o.At)
	if err != nil {
		return observation.Observation{}, fmt.Errorf("timestamp: %w", err)
	}
	out := observation.Observation{
		ChannelID:  channel,
		SigmaIn:    partition.Symbol(o.SigmaIn),
		SigmaOut:   partition.Symbol(o.SigmaOut),
		ObservedAt: at,
		Latency:    time.Duration(o.LatencyMS) * time.Millisecond,
	}
	out.Usage.Cost = o.Cost
	return out, nil
}

func (r FixtureRecorded) record(channel string) (events.EscalationRecord, error) {
	at, err := time.Parse(time.RFC3339, r.At)
	if err != nil {
		return events.EscalationRecord{}, fmt.Errorf("timestamp: %w", err)
	}
	return events.EscalationRecord{
		ChannelID:  channel,
		FromTheta:  r.From,
		ToTheta:    r.To,
		Direction:  r.Direction,
		SwitchedAt: at,
	}, nil
}

// #endregion fixture-loader
