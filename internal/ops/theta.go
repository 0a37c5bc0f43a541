package ops

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/felixkranz/aps"
)

// ThetaTool handles the aps_theta MCP tool.
type ThetaTool struct {
	sys *aps.System
}

// NewThetaTool creates a ThetaTool.
func NewThetaTool(sys *aps.System) *ThetaTool {
	return &ThetaTool{sys: sys}
}

// Definition returns the MCP tool definition for aps_theta.
func (t *ThetaTool) Definition() mcp.Tool {
	return mcp.NewTool("aps_theta",
		mcp.WithDescription(
			"Active theta configuration for a channel: level, regeneration "+
				"protocol, partition scheme and capability override, plus every "+
				"declared configuration and the recent escalation audit trail.",
		),
		mcp.WithString("channel",
			mcp.Required(),
			mcp.Description("Channel id"),
		),
		mcp.WithNumber("audit_limit",
			mcp.Description("Number of audit records to include (default: 5)"),
		),
	)
}

// Handle processes the aps_theta tool call.
func (t *ThetaTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	channel := req.GetString("channel", "")
	if channel == "" {
		return mcp.NewToolResultError("channel is required"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Theta: %s\n\n", channel)

	cur, err := t.sys.CurrentTheta(ctx, channel)
	switch {
	case err != nil:
		fmt.Fprintf(&b, "No active theta (%v).\n", err)
	default:
		fmt.Fprintf(&b, "Active: **%s**\n", cur.ID)
		writeTheta(&b, cur)
	}

	declared, err := t.sys.Thetas(ctx, channel)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list thetas: %v", err)), nil
	}
	if len(declared) > 0 {
		b.WriteString("\n## Declared configurations\n")
		for _, cfg := range declared {
			marker := ""
			if cfg.ID == cur.ID {
				marker = " (active)"
			}
			fmt.Fprintf(&b, "\n### %s%s\n", cfg.ID, marker)
			writeTheta(&b, cfg)
		}
	}

	recs, err := t.sys.Escalations(ctx, channel, intArg(req, "audit_limit", 5))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("escalations: %v", err)), nil
	}
	if len(recs) > 0 {
		b.WriteString("\n## Recent transitions\n")
		for _, rec := range recs {
			fmt.Fprintf(&b, "- %s %s: %s -> %s (level %d -> %d, trigger rate %.4f)\n",
				rec.SwitchedAt.UTC().Format(time.RFC3339), rec.Direction,
				rec.FromTheta, rec.ToTheta, int(rec.FromLevel), int(rec.ToLevel), rec.TriggerRate)
		}
	}

	return mcp.NewToolResultText(b.String()), nil
}

func writeTheta(b *strings.Builder, cfg aps.ThetaConfig) {
	fmt.Fprintf(b, "- Level: %d (%s)\n", int(cfg.Level), cfg.Level)
	fmt.Fprintf(b, "- Protocol: %s\n", cfg.Protocol)
	fmt.Fprintf(b, "- Partition: %s\n", cfg.PartitionID)
	if cfg.CapabilityOverride != "" {
		fmt.Fprintf(b, "- Capability override: %s\n", cfg.CapabilityOverride)
	}
}

// SwitchTool handles the aps_switch_theta MCP tool.
type SwitchTool struct {
	sys *aps.System
}

// NewSwitchTool creates a SwitchTool.
func NewSwitchTool(sys *aps.System) *SwitchTool {
	return &SwitchTool{sys: sys}
}

// Definition returns the MCP tool definition for aps_switch_theta.
func (t *SwitchTool) Definition() mcp.Tool {
	return mcp.NewTool("aps_switch_theta",
		mcp.WithDescription(
			"Manually activate a theta configuration on a channel. The switch "+
				"is audited with direction \"manual\" and holds until the "+
				"controller's own escalation logic moves the channel again.",
		),
		mcp.WithString("channel",
			mcp.Required(),
			mcp.Description("Channel id"),
		),
		mcp.WithString("theta",
			mcp.Required(),
			mcp.Description("Theta configuration id to activate"),
		),
	)
}

// Handle processes the aps_switch_theta tool call.
func (t *SwitchTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	channel := req.GetString("channel", "")
	thetaID := req.GetString("theta", "")
	if channel == "" || thetaID == "" {
		return mcp.NewToolResultError("channel and theta are required"), nil
	}

	if err := t.sys.SwitchTheta(ctx, channel, thetaID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("switch theta: %v", err)), nil
	}

	cur, err := t.sys.CurrentTheta(ctx, channel)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("switched, but readback failed: %v", err)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Switched channel %q to %s.\n\n", channel, cur.ID)
	writeTheta(&b, cur)
	return mcp.NewToolResultText(b.String()), nil
}
