// Package ops exposes the subsystem over MCP. Every tool is a thin adapter
// on the root query API: it reads state and formats markdown for an
// operator or an agent; the only mutating tool is aps_switch_theta, which
// goes through the same audited path as the controller's own transitions.
package ops

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/felixkranz/aps"
)

// Version is set at build time via ldflags.
var Version = "dev"

// NewServer registers the operator tools on a fresh MCP server. The System
// stays owned by the caller; closing it invalidates the server.
func NewServer(sys *aps.System) *server.MCPServer {
	s := server.NewMCPServer(
		"aps-ops",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)

	metricsTool := NewMetricsTool(sys)
	s.AddTool(metricsTool.Definition(), metricsTool.Handle)

	thetaTool := NewThetaTool(sys)
	s.AddTool(thetaTool.Definition(), thetaTool.Handle)

	switchTool := NewSwitchTool(sys)
	s.AddTool(switchTool.Definition(), switchTool.Handle)

	bottlenecksTool := NewBottlenecksTool(sys)
	s.AddTool(bottlenecksTool.Definition(), bottlenecksTool.Handle)

	traceTool := NewTraceTool(sys)
	s.AddTool(traceTool.Definition(), traceTool.Handle)

	cacheTool := NewCacheTool(sys)
	s.AddTool(cacheTool.Definition(), cacheTool.Handle)

	return s
}

func serverInstructions() string {
	return `APS operator tools. The subsystem watches instrumented channels,
estimates per-channel failure rates and information capacity, and adapts
each channel's active theta configuration (regeneration protocol, partition
scheme, capability override) when a goal's failure budget is exceeded.

Start with aps_metrics for the current picture, aps_theta for one channel's
configuration and audit trail, and aps_bottlenecks for the weakest link on
realized paths. aps_trace follows one request across channels.
aps_switch_theta overrides the controller; the override is audited and
respected until the controller escalates or de-escalates again.`
}
