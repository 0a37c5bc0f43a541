package replay

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/felixkranz/aps/internal/events"
	"github.com/felixkranz/aps/internal/observation"
	"github.com/felixkranz/aps/internal/theta"
)

// TestFixtureSearchBurst loads the search_burst fixture, replays it, and
// checks the transition sequence against both the recorded log and the
// expected block. This is the primary regression test for the decision
// logic: if epsilon handling, windowing, or cooldowns drift, this catches it.
func TestFixtureSearchBurst(t *testing.T) {
	f, err := LoadFixture(filepath.Join("testdata", "search_burst.json"))
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}

	sc, err := f.Scenario()
	if err != nil {
		t.Fatalf("Scenario: %v", err)
	}

	res, err := Run(sc)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if problems := f.Check(res); len(problems) != 0 {
		t.Fatalf("check: %v", problems)
	}
	if len(res.Divergences) != 0 {
		t.Errorf("divergences = %+v", res.Divergences)
	}

	sum := Summarize(res)
	if sum.Cycles != 4 || sum.Transitions != 1 || sum.Escalations != 1 {
		t.Errorf("summary = %+v", sum)
	}
	if sum.FinalTheta != "search-crosscheck" {
		t.Errorf("final theta = %s", sum.FinalTheta)
	}
}

// TestLoadFixtureNotFound verifies error on missing file.
func TestLoadFixtureNotFound(t *testing.T) {
	_, err := LoadFixture("testdata/nonexistent.json")
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
	if !strings.Contains(err.Error(), "read fixture") {
		t.Errorf("error = %v", err)
	}
}

// TestLoadFixtureMalformed verifies error on invalid JSON.
func TestLoadFixtureMalformed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(path, []byte("{not valid json}"), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	_, err := LoadFixture(path)
	if err == nil {
		t.Fatal("expected error for malformed JSON, got nil")
	}
	if !strings.Contains(err.Error(), "parse fixture") {
		t.Errorf("error = %v", err)
	}
}

// TestFixtureScenarioConversion checks field-by-field conversion into
// domain types, including the combined symbol/latency failure predicate.
func TestFixtureScenarioConversion(t *testing.T) {
	f := Fixture{
		Channel: "search",
		Goal: FixtureGoal{
			ID:             "search-operational",
			Tier:           "critical",
			Epsilon:        0.05,
			Window:         "30m",
			FailureSymbols: []string{"refusal"},
			LatencyLimit:   "2s",
		},
		Tuning: FixtureTuning{
			MinObservations:    7,
			EscalateCooldown:   "90s",
			DeescalateCooldown: "10m",
			Confidence:         0.99,
		},
		Thetas: []FixtureTheta{
			{ID: "search-passive", Level: "nominal", PartitionID: "search-coarse", Protocol: "passive"},
			{ID: "search-crosscheck", Level: "critical", PartitionID: "search-fine", Protocol: "crosscheck"},
		},
		StartTheta: "search-passive",
		Interval:   "2m",
		Observations: []FixtureObservation{
			{At: "2026-04-05T10:00:00Z", SigmaIn: "query", SigmaOut: "answer", LatencyMS: 2500, Cost: 0.01},
		},
		Recorded: []FixtureRecorded{
			{At: "2026-04-05T10:05:00Z", Direction: "manual", From: "search-passive", To: "search-crosscheck"},
		},
	}

	sc, err := f.Scenario()
	if err != nil {
		t.Fatalf("Scenario: %v", err)
	}

	if sc.Channel != "search" || sc.StartID != "search-passive" || sc.Interval != 2*time.Minute {
		t.Errorf("scenario = %+v", sc)
	}
	if sc.Goal.Tier != "critical" || sc.Goal.Epsilon != 0.05 || sc.Goal.Window != 30*time.Minute {
		t.Errorf("goal = %+v", sc.Goal)
	}
	if sc.Tuning.MinObservations != 7 || sc.Tuning.EscalateCooldown != 90*time.Second || sc.Tuning.Confidence != 0.99 {
		t.Errorf("tuning = %+v", sc.Tuning)
	}
	if len(sc.Ladder) != 2 || sc.Ladder[1].Level != theta.LevelCritical || sc.Ladder[1].Protocol != theta.ProtocolCrosscheck {
		t.Errorf("ladder = %+v", sc.Ladder)
	}
	if sc.Ladder[0].ChannelID != "search" {
		t.Errorf("ladder channel = %s", sc.Ladder[0].ChannelID)
	}

	if len(sc.Observations) != 1 {
		t.Fatalf("observations = %+v", sc.Observations)
	}
	obs := sc.Observations[0]
	if obs.ChannelID != "search" || obs.SigmaIn != "query" || obs.Latency != 2500*time.Millisecond || obs.Usage.Cost != 0.01 {
		t.Errorf("observation = %+v", obs)
	}
	if want := time.Date(2026, 4, 5, 10, 0, 0, 0, time.UTC); !obs.ObservedAt.Equal(want) {
		t.Errorf("observed at %v, want %v", obs.ObservedAt, want)
	}

	// Both predicates apply: a slow answer fails on latency, a fast
	// refusal fails on its symbol.
	if !sc.Goal.Fails(obs) {
		t.Error("slow answer should fail on latency limit")
	}
	fastRefusal := observation.Observation{SigmaOut: "refusal", Latency: 100 * time.Millisecond}
	if !sc.Goal.Fails(fastRefusal) {
		t.Error("refusal should fail on symbol")
	}
	fastAnswer := observation.Observation{SigmaOut: "answer", Latency: 100 * time.Millisecond}
	if sc.Goal.Fails(fastAnswer) {
		t.Error("fast answer should pass")
	}

	if len(sc.Recorded) != 1 {
		t.Fatalf("recorded = %+v", sc.Recorded)
	}
	rec := sc.Recorded[0]
	if rec.Direction != events.DirectionManual || rec.ChannelID != "search" || rec.ToTheta != "search-crosscheck" {
		t.Errorf("recorded = %+v", rec)
	}
}

// TestFixtureScenarioErrors walks the conversion error paths.
func TestFixtureScenarioErrors(t *testing.T) {
	base := func() Fixture {
		return Fixture{
			Channel: "search",
			Goal: FixtureGoal{
				ID:             "g",
				Window:         "1h",
				FailureSymbols: []string{"refusal"},
			},
			Thetas: []FixtureTheta{
				{ID: "t0", Level: "nominal", PartitionID: "p", Protocol: "passive"},
			},
			StartTheta: "t0",
			Observations: []FixtureObservation{
				{At: "2026-04-05T10:00:00Z", SigmaIn: "query", SigmaOut: "answer"},
			},
		}
	}

	f := base()
	f.Goal.Window = "soon"
	if _, err := f.Scenario(); err == nil || !strings.Contains(err.Error(), "goal window") {
		t.Errorf("window error = %v", err)
	}

	f = base()
	f.Goal.FailureSymbols = nil
	if _, err := f.Scenario(); err == nil || !strings.Contains(err.Error(), "no failure definition") {
		t.Errorf("predicate error = %v", err)
	}

	f = base()
	f.Thetas[0].Level = "extreme"
	if _, err := f.Scenario(); err == nil || !strings.Contains(err.Error(), `unknown level "extreme"`) {
		t.Errorf("level error = %v", err)
	}

	f = base()
	f.Thetas[0].Protocol = "guesswork"
	if _, err := f.Scenario(); err == nil || !strings.Contains(err.Error(), `unknown protocol "guesswork"`) {
		t.Errorf("protocol error = %v", err)
	}

	f = base()
	f.Observations[0].At = "yesterday"
	if _, err := f.Scenario(); err == nil || !strings.Contains(err.Error(), "observation 0") {
		t.Errorf("timestamp error = %v", err)
	}

	f = base()
	f.Interval = "often"
	if _, err := f.Scenario(); err == nil || !strings.Contains(err.Error(), "interval") {
		t.Errorf("interval error = %v", err)
	}

	f = base()
	f.Tuning.EscalateCooldown = "short"
	if _, err := f.Scenario(); err == nil || !strings.Contains(err.Error(), "escalate cooldown") {
		t.Errorf("cooldown error = %v", err)
	}
}

// TestFixtureCheck covers the three mismatch shapes.
func TestFixtureCheck(t *testing.T) {
	f := Fixture{
		Expected: []FixtureExpected{
			{Direction: "escalate", From: "a", To: "b"},
			{Direction: "escalate", From: "b", To: "c"},
		},
	}

	match := Result{Transitions: []events.EscalationRecord{
		{Direction: "escalate", FromTheta: "a", ToTheta: "b"},
		{Direction: "escalate", FromTheta: "b", ToTheta: "c"},
	}}
	if problems := f.Check(match); len(problems) != 0 {
		t.Errorf("match problems = %v", problems)
	}

	wrong := Result{Transitions: []events.EscalationRecord{
		{Direction: "escalate", FromTheta: "a", ToTheta: "c"},
	}}
	problems := f.Check(wrong)
	if len(problems) != 2 {
		t.Fatalf("wrong problems = %v", problems)
	}
	if !strings.Contains(problems[0], "want escalate a -> b") {
		t.Errorf("problems[0] = %q", problems[0])
	}
	if !strings.Contains(problems[1], "never fired") {
		t.Errorf("problems[1] = %q", problems[1])
	}

	extra := Result{Transitions: []events.EscalationRecord{
		{Direction: "escalate", FromTheta: "a", ToTheta: "b"},
		{Direction: "escalate", FromTheta: "b", ToTheta: "c"},
		{Direction: "deescalate", FromTheta: "c", ToTheta: "b"},
	}}
	problems = f.Check(extra)
	if len(problems) != 1 || !strings.Contains(problems[0], "unexpected transition[2]") {
		t.Errorf("extra problems = %v", problems)
	}
}
