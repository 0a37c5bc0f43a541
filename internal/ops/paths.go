package ops

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/felixkranz/aps"
)

// BottlenecksTool handles the aps_bottlenecks MCP tool.
type BottlenecksTool struct {
	sys *aps.System
}

// NewBottlenecksTool creates a BottlenecksTool.
func NewBottlenecksTool(sys *aps.System) *BottlenecksTool {
	return &BottlenecksTool{sys: sys}
}

// Definition returns the MCP tool definition for aps_bottlenecks.
func (t *BottlenecksTool) Definition() mcp.Tool {
	return mcp.NewTool("aps_bottlenecks",
		mcp.WithDescription(
			"Realized request paths and the weakest channel on each. "+
				"End-to-end capacity of a path cannot exceed its bottleneck's "+
				"capacity, so these channels bound what the composed system "+
				"can carry.",
		),
	)
}

// Handle processes the aps_bottlenecks tool call.
func (t *BottlenecksTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	routes, err := t.sys.Routes(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("routes: %v", err)), nil
	}
	if len(routes) == 0 {
		return mcp.NewToolResultText("No realized paths yet. Paths appear once instrumented capabilities have been invoked and a cycle has run."), nil
	}

	necks, err := t.sys.Bottlenecks(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("bottlenecks: %v", err)), nil
	}
	byPath := make(map[string]aps.Bottleneck, len(necks))
	for _, n := range necks {
		byPath[n.PathID] = n
	}

	var b strings.Builder
	b.WriteString("# Realized paths\n")
	for _, route := range routes {
		fmt.Fprintf(&b, "\n## %s\n", route.PathID)
		fmt.Fprintf(&b, "- Traversals: %d (last %s)\n",
			route.Traversals, route.LastSeen.UTC().Format(time.RFC3339))
		if n, ok := byPath[route.PathID]; ok {
			fmt.Fprintf(&b, "- Bottleneck: %s at %.4f bits\n", n.ChannelID, n.Capacity)
		} else {
			b.WriteString("- Bottleneck: unknown (no capacity measured on this path yet)\n")
		}
	}
	return mcp.NewToolResultText(b.String()), nil
}
