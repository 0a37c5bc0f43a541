package controller

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/felixkranz/aps/internal/events"
	"github.com/felixkranz/aps/internal/theta"
)

func TestDecide(t *testing.T) {
	const minObs = 20
	tests := []struct {
		name      string
		current   theta.Level
		total     int
		failures  int
		effective float64
		epsilon   float64
		target    theta.Level
		direction string
	}{
		{
			name:    "escalates one level above epsilon",
			current: theta.LevelNominal, total: 30, failures: 6,
			effective: 0.20, epsilon: 0.10,
			target: theta.LevelDegraded, direction: events.DirectionEscalate,
		},
		{
			name:    "jumps straight to critical above twice epsilon",
			current: theta.LevelNominal, total: 40, failures: 10,
			effective: 0.25, epsilon: 0.10,
			target: theta.LevelCritical, direction: events.DirectionEscalate,
		},
		{
			name:    "escalates degraded to critical",
			current: theta.LevelDegraded, total: 40, failures: 10,
			effective: 0.25, epsilon: 0.10,
			target: theta.LevelCritical, direction: events.DirectionEscalate,
		},
		{
			name:    "holds at degraded when signal matches the level",
			current: theta.LevelDegraded, total: 40, failures: 6,
			effective: 0.15, epsilon: 0.10,
			target: theta.LevelDegraded, direction: "",
		},
		{
			name:    "de-escalates one level under half epsilon",
			current: theta.LevelDegraded, total: 50, failures: 1,
			effective: 0.02, epsilon: 0.10,
			target: theta.LevelNominal, direction: events.DirectionDeescalate,
		},
		{
			name:    "de-escalation from critical steps to degraded only",
			current: theta.LevelCritical, total: 50, failures: 0,
			effective: 0.01, epsilon: 0.10,
			target: theta.LevelDegraded, direction: events.DirectionDeescalate,
		},
		{
			name:    "dead zone holds elevated level",
			current: theta.LevelDegraded, total: 50, failures: 3,
			effective: 0.07, epsilon: 0.10,
			target: theta.LevelDegraded, direction: "",
		},
		{
			name:    "nominal holds under epsilon",
			current: theta.LevelNominal, total: 50, failures: 3,
			effective: 0.07, epsilon: 0.10,
			target: theta.LevelNominal, direction: "",
		},
		{
			name:    "insufficient observations hold despite total failure",
			current: theta.LevelNominal, total: 5, failures: 5,
			effective: 1.0, epsilon: 0.10,
			target: theta.LevelNominal, direction: "",
		},
		{
			name:    "zero epsilon without observed failures holds on ucb floor",
			current: theta.LevelNominal, total: 40, failures: 0,
			effective: 0.05, epsilon: 0,
			target: theta.LevelNominal, direction: "",
		},
		{
			name:    "zero epsilon with one observed failure escalates to critical",
			current: theta.LevelNominal, total: 40, failures: 1,
			effective: 0.11, epsilon: 0,
			target: theta.LevelCritical, direction: events.DirectionEscalate,
		},
		{
			name:    "critical has nowhere left to escalate",
			current: theta.LevelCritical, total: 40, failures: 20,
			effective: 0.5, epsilon: 0.10,
			target: theta.LevelCritical, direction: "",
		},
		{
			name:    "zero epsilon never de-escalates by rule",
			current: theta.LevelCritical, total: 200, failures: 0,
			effective: 0.009, epsilon: 0,
			target: theta.LevelCritical, direction: "",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := Decide(tc.current, tc.total, tc.failures, tc.effective, tc.epsilon, minObs)
			assert.Equal(t, tc.target, d.Target)
			assert.Equal(t, tc.direction, d.Direction)
			assert.NotEmpty(t, d.Reason)
		})
	}
}

func TestGate(t *testing.T) {
	tuning := Tuning{
		MinObservations:    20,
		EscalateCooldown:   time.Minute,
		DeescalateCooldown: 5 * time.Minute,
	}
	escalate := Decision{
		Target:    theta.LevelDegraded,
		Direction: events.DirectionEscalate,
		Reason:    "signal above epsilon",
	}
	deescalate := Decision{
		Target:    theta.LevelNominal,
		Direction: events.DirectionDeescalate,
		Reason:    "signal under half epsilon",
	}

	t.Run("never transitioned passes through", func(t *testing.T) {
		got := Gate(escalate, theta.LevelNominal, -1, tuning)
		assert.Equal(t, escalate, got)
	})

	t.Run("escalation inside cooldown holds", func(t *testing.T) {
		got := Gate(escalate, theta.LevelNominal, 10*time.Second, tuning)
		assert.Empty(t, got.Direction)
		assert.Equal(t, theta.LevelNominal, got.Target)
		assert.Contains(t, got.Reason, "cooldown")
	})

	t.Run("escalation past cooldown passes", func(t *testing.T) {
		got := Gate(escalate, theta.LevelNominal, 90*time.Second, tuning)
		assert.Equal(t, escalate, got)
	})

	t.Run("de-escalation waits longer than escalation", func(t *testing.T) {
		// 90s clears the escalate cooldown but not the de-escalate one.
		got := Gate(deescalate, theta.LevelDegraded, 90*time.Second, tuning)
		assert.Empty(t, got.Direction)
		assert.Equal(t, theta.LevelDegraded, got.Target)
	})

	t.Run("de-escalation past its cooldown passes", func(t *testing.T) {
		got := Gate(deescalate, theta.LevelDegraded, 6*time.Minute, tuning)
		assert.Equal(t, deescalate, got)
	})

	t.Run("hold decisions are never gated", func(t *testing.T) {
		hold := Decision{Target: theta.LevelDegraded, Reason: "dead zone holds level"}
		got := Gate(hold, theta.LevelDegraded, 0, tuning)
		assert.Equal(t, hold, got)
	})
}

func TestTuningWithDefaults(t *testing.T) {
	assert.Equal(t, DefaultTuning(), Tuning{}.WithDefaults())

	custom := Tuning{MinObservations: 50}.WithDefaults()
	assert.Equal(t, 50, custom.MinObservations)
	assert.Equal(t, DefaultTuning().EscalateCooldown, custom.EscalateCooldown)
	assert.Equal(t, DefaultTuning().Confidence, custom.Confidence)
}
