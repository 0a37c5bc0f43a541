package events

import (
	"time"

	"github.com/felixkranz/aps/internal/observation"
	"github.com/felixkranz/aps/internal/theta"
)

// #region kinds

// Kind identifies what an event carries.
type Kind string

const (
	KindObservation Kind = "observation" // one wrapped invocation completed
	KindCycle       Kind = "cycle"       // one controller evaluation cycle completed
	KindEscalation  Kind = "escalation"  // active theta switched
)

// #endregion kinds

// #region event

// Event is a fire-and-forget notification. Exactly one payload field is set,
// matching Kind.
type Event struct {
	Kind      Kind      `json:"kind"`
	ChannelID string    `json:"channel_id"`
	At        time.Time `json:"at"`

	Observation *observation.Observation `json:"observation,omitempty"`
	Cycle       *CycleSummary            `json:"cycle,omitempty"`
	Escalation  *EscalationRecord        `json:"escalation,omitempty"`
}

// CycleSummary aggregates one controller pass over all channels.
type CycleSummary struct {
	Cycle       int64         `json:"cycle"`
	Channels    []string      `json:"channels"`
	Escalations int           `json:"escalations"`
	Bottleneck  string        `json:"bottleneck,omitempty"`
	BottleneckC float64       `json:"bottleneck_capacity,omitempty"`
	Elapsed     time.Duration `json:"elapsed"`
}

// #endregion event

// #region escalation

// Direction of a theta switch.
const (
	DirectionEscalate   = "escalate"
	DirectionDeescalate = "deescalate"
	DirectionManual     = "manual"
)

// EscalationRecord is one append-only audit row describing a theta switch:
// which channel moved, between which configs and levels, and what triggered
// it. TriggerRate is the UCB failure estimate at decision time (-1 for
// manual switches, which carry no estimate).
type EscalationRecord struct {
	ChannelID      string      `json:"channel_id"`
	FromTheta      string      `json:"from_theta"`
	ToTheta        string      `json:"to_theta"`
	Direction      string      `json:"direction"`
	FromLevel      theta.Level `json:"from_level"`
	ToLevel        theta.Level `json:"to_level"`
	TriggerRate    float64     `json:"trigger_rate"`
	TriggerEpsilon float64     `json:"trigger_epsilon"`
	GoalID         string      `json:"goal_id,omitempty"`
	CacheHit       bool        `json:"cache_hit"`
	SwitchedAt     time.Time   `json:"switched_at"`
}

// #endregion escalation
