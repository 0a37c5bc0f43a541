package observation

import (
	"time"

	"github.com/felixkranz/aps/internal/partition"
	"github.com/felixkranz/aps/internal/usage"
)

// #region observation

// Observation is the single record emitted per boundary crossing attempt.
// Append-only: once written it is never mutated.
type Observation struct {
	ID           string            `json:"id"`
	ChannelID    string            `json:"channel_id"`
	ThetaID      string            `json:"theta_id"`
	SigmaIn      partition.Symbol  `json:"sigma_in"`
	SigmaOut     partition.Symbol  `json:"sigma_out"`
	ObservedAt   time.Time         `json:"observed_at"`
	Latency      time.Duration     `json:"latency"`
	Usage        usage.Usage       `json:"usage"`
	CapabilityID string            `json:"capability_id"`
	TraceID      string            `json:"trace_id"`
	PathID       string            `json:"path_id"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Clone returns a deep copy (metadata map included).
func (o Observation) Clone() Observation {
	if o.Metadata != nil {
		m := make(map[string]string, len(o.Metadata))
		for k, v := range o.Metadata {
			m[k] = v
		}
		o.Metadata = m
	}
	return o
}

// #endregion observation
