package controller

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/felixkranz/aps/internal/observation"
)

func validGoal() Goal {
	return Goal{
		ID:       "no-refusals",
		Tier:     TierOperational,
		Fails:    FailureSymbols("refusal"),
		Epsilon:  0.1,
		Window:   time.Hour,
		Channels: []string{"search"},
	}
}

func TestGoalValidate(t *testing.T) {
	assert.NoError(t, validGoal().Validate())

	tests := []struct {
		name   string
		mutate func(*Goal)
		want   string
	}{
		{"empty id", func(g *Goal) { g.ID = "" }, "empty id"},
		{"invalid tier", func(g *Goal) { g.Tier = "paranoid" }, "invalid tier"},
		{"nil predicate", func(g *Goal) { g.Fails = nil }, "nil failure predicate"},
		{"negative epsilon", func(g *Goal) { g.Epsilon = -0.1 }, "negative epsilon"},
		{"zero window", func(g *Goal) { g.Window = 0 }, "non-positive window"},
		{"no channels", func(g *Goal) { g.Channels = nil }, "no channels"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			g := validGoal()
			tc.mutate(&g)
			err := g.Validate()
			assert.ErrorContains(t, err, tc.want)
		})
	}
}

func TestGoalCovers(t *testing.T) {
	g := validGoal()
	g.Channels = []string{"search", "extract"}
	assert.True(t, g.Covers("search"))
	assert.True(t, g.Covers("extract"))
	assert.False(t, g.Covers("planner"))
}

func TestGoalTierValid(t *testing.T) {
	assert.True(t, TierCritical.Valid())
	assert.True(t, TierOperational.Valid())
	assert.False(t, GoalTier("").Valid())
	assert.False(t, GoalTier("cautious").Valid())
}

func TestFailureSymbolsPredicate(t *testing.T) {
	fails := FailureSymbols("refusal", "timeout")
	assert.True(t, fails(observation.Observation{SigmaOut: "refusal"}))
	assert.True(t, fails(observation.Observation{SigmaOut: "timeout"}))
	assert.False(t, fails(observation.Observation{SigmaOut: "answer"}))
	assert.False(t, FailureSymbols()(observation.Observation{SigmaOut: "refusal"}))
}

func TestLatencyAbovePredicate(t *testing.T) {
	slow := LatencyAbove(time.Second)
	assert.True(t, slow(observation.Observation{Latency: 2 * time.Second}))
	assert.False(t, slow(observation.Observation{Latency: time.Second}))
	assert.False(t, slow(observation.Observation{Latency: 10 * time.Millisecond}))
}

func TestAnyOfPredicate(t *testing.T) {
	combined := AnyOf(FailureSymbols("refusal"), LatencyAbove(time.Second), nil)
	assert.True(t, combined(observation.Observation{SigmaOut: "refusal"}))
	assert.True(t, combined(observation.Observation{SigmaOut: "answer", Latency: 3 * time.Second}))
	assert.False(t, combined(observation.Observation{SigmaOut: "answer", Latency: time.Millisecond}))
	assert.False(t, AnyOf()(observation.Observation{SigmaOut: "refusal"}))
}
