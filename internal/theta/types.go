package theta

import "fmt"

// #region level

// Level is the escalation level a theta configuration belongs to.
type Level int

const (
	LevelNominal  Level = 0 // passive observation only
	LevelDegraded Level = 1 // confirm protocol engaged
	LevelCritical Level = 2 // crosscheck protocol engaged
)

// Valid reports whether l is one of the three declared levels.
func (l Level) Valid() bool {
	return l >= LevelNominal && l <= LevelCritical
}

func (l Level) String() string {
	switch l {
	case LevelNominal:
		return "nominal"
	case LevelDegraded:
		return "degraded"
	case LevelCritical:
		return "critical"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// ParseLevel maps a level name back to its Level.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "nominal":
		return LevelNominal, nil
	case "degraded":
		return LevelDegraded, nil
	case "critical":
		return LevelCritical, nil
	default:
		return 0, fmt.Errorf("unknown level %q", s)
	}
}

// #endregion level

// #region protocol

// Protocol names the regeneration behavior a theta configuration demands.
type Protocol string

const (
	ProtocolPassive    Protocol = "passive"
	ProtocolConfirm    Protocol = "confirm"
	ProtocolCrosscheck Protocol = "crosscheck"
)

// Valid reports whether p is a declared protocol.
func (p Protocol) Valid() bool {
	return p == ProtocolPassive || p == ProtocolConfirm || p == ProtocolCrosscheck
}

// ParseProtocol maps a protocol name back to its Protocol.
func ParseProtocol(s string) (Protocol, error) {
	p := Protocol(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown protocol %q", s)
	}
	return p, nil
}

// #endregion protocol

// #region config

// Config is one supervision configuration for a channel. Exactly one config
// is active per channel at any time; the controller switches between them.
//
// CapabilityOverride is advisory only: it is stored, logged, and surfaced
// through queries and events, but never enforced on the wrapped capability.
// Authoritative wiring is a later, explicit step.
type Config struct {
	ID                 string   `json:"id"`
	ChannelID          string   `json:"channel_id"`
	Level              Level    `json:"level"`
	PartitionID        string   `json:"partition_id"`
	CapabilityOverride string   `json:"capability_override,omitempty"`
	Protocol           Protocol `json:"protocol"`
}

// Validate checks the fields a store or registry is willing to accept.
func (c Config) Validate() error {
	switch {
	case c.ID == "":
		return fmt.Errorf("theta config: empty id")
	case c.ChannelID == "":
		return fmt.Errorf("theta config %q: empty channel id", c.ID)
	case !c.Level.Valid():
		return fmt.Errorf("theta config %q: invalid level %d", c.ID, c.Level)
	case c.PartitionID == "":
		return fmt.Errorf("theta config %q: empty partition id", c.ID)
	case !c.Protocol.Valid():
		return fmt.Errorf("theta config %q: invalid protocol %q", c.ID, c.Protocol)
	}
	return nil
}

// #endregion config
