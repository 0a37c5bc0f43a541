package ops

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/felixkranz/aps"
)

// TraceTool handles the aps_trace MCP tool.
type TraceTool struct {
	sys *aps.System
}

// NewTraceTool creates a TraceTool.
func NewTraceTool(sys *aps.System) *TraceTool {
	return &TraceTool{sys: sys}
}

// Definition returns the MCP tool definition for aps_trace.
func (t *TraceTool) Definition() mcp.Tool {
	return mcp.NewTool("aps_trace",
		mcp.WithDescription(
			"Every observation recorded under one trace id, oldest first: "+
				"which channels the request crossed, how each invocation was "+
				"classified, and what it cost.",
		),
		mcp.WithString("trace_id",
			mcp.Required(),
			mcp.Description("Trace id to follow"),
		),
	)
}

// Handle processes the aps_trace tool call.
func (t *TraceTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	traceID := req.GetString("trace_id", "")
	if traceID == "" {
		return mcp.NewToolResultError("trace_id is required"), nil
	}

	obs, err := t.sys.Trace(ctx, traceID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("trace: %v", err)), nil
	}
	if len(obs) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No observations for trace %q.", traceID)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Trace %s (%d observations)\n", traceID, len(obs))
	for _, o := range obs {
		fmt.Fprintf(&b, "\n## %s (%s)\n", o.ChannelID, o.ObservedAt.UTC().Format(time.RFC3339))
		fmt.Fprintf(&b, "- Path: %s\n", o.PathID)
		fmt.Fprintf(&b, "- Theta: %s, capability: %s\n", o.ThetaID, o.CapabilityID)
		fmt.Fprintf(&b, "- Classified: %s -> %s\n", o.SigmaIn, o.SigmaOut)
		fmt.Fprintf(&b, "- Latency: %s\n", o.Latency)
		usage := fmt.Sprintf("- Usage: %d units, cost %.6f", o.Usage.TotalUnits, o.Usage.Cost)
		if o.Usage.Estimated {
			usage += " (estimated)"
		}
		b.WriteString(usage + "\n")
		if attempt, ok := o.Metadata["attempt"]; ok && attempt != "1" {
			fmt.Fprintf(&b, "- Attempt: %s\n", attempt)
		}
		if msg, ok := o.Metadata["error"]; ok {
			fmt.Fprintf(&b, "- Error: %s\n", msg)
		}
	}
	return mcp.NewToolResultText(b.String()), nil
}
