package metric

import (
	"time"

	"github.com/felixkranz/aps/internal/stats"
	"github.com/felixkranz/aps/internal/theta"
)

// #region snapshot

// Snapshot is one per-channel metrics row written by an evaluation cycle:
// the failure signal the escalation decision saw, the information-theoretic
// measures over the same window, and the level that was active when the
// snapshot was taken.
type Snapshot struct {
	ID           string           `json:"id"`
	Cycle        int64            `json:"cycle"`
	ChannelID    string           `json:"channel_id"`
	GoalID       string           `json:"goal_id,omitempty"`
	WindowStart  time.Time        `json:"window_start"`
	WindowEnd    time.Time        `json:"window_end"`
	Observations int              `json:"observations"`
	Failures     int              `json:"failures"`
	FailureRate  float64          `json:"failure_rate"`
	FailureUCB   float64          `json:"failure_ucb"`
	MutualInfo   float64          `json:"mutual_info_bits"`
	Capacity     float64          `json:"capacity_bits"`
	Efficiency   stats.Efficiency `json:"efficiency"`
	Level        theta.Level      `json:"level"`
	CreatedAt    time.Time        `json:"created_at"`
}

// #endregion snapshot
