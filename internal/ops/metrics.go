package ops

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/felixkranz/aps"
)

// MetricsTool handles the aps_metrics MCP tool.
type MetricsTool struct {
	sys *aps.System
}

// NewMetricsTool creates a MetricsTool.
func NewMetricsTool(sys *aps.System) *MetricsTool {
	return &MetricsTool{sys: sys}
}

// Definition returns the MCP tool definition for aps_metrics.
func (t *MetricsTool) Definition() mcp.Tool {
	return mcp.NewTool("aps_metrics",
		mcp.WithDescription(
			"Latest per-channel metrics: failure rate, UCB, mutual information, "+
				"capacity and efficiency. Pass a channel to get its snapshot history "+
				"instead of the cross-channel summary.",
		),
		mcp.WithString("channel",
			mcp.Description("Channel id to show history for (omit for all channels)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Number of history snapshots (default: 10)"),
		),
	)
}

// Handle processes the aps_metrics tool call.
func (t *MetricsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	channel := req.GetString("channel", "")
	if channel != "" {
		hist, err := t.sys.MetricsHistory(ctx, channel, intArg(req, "limit", 10))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("metrics history: %v", err)), nil
		}
		if len(hist) == 0 {
			return mcp.NewToolResultText(fmt.Sprintf("No metrics recorded for channel %q yet.", channel)), nil
		}
		return mcp.NewToolResultText(formatHistory(channel, hist)), nil
	}

	latest, err := t.sys.LatestMetrics(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("latest metrics: %v", err)), nil
	}
	if len(latest) == 0 {
		return mcp.NewToolResultText("No metrics recorded yet. The controller writes one snapshot per channel per evaluation cycle."), nil
	}
	return mcp.NewToolResultText(formatLatest(latest)), nil
}

func formatLatest(latest map[string]aps.Metrics) string {
	channels := make([]string, 0, len(latest))
	for ch := range latest {
		channels = append(channels, ch)
	}
	sort.Strings(channels)

	var b strings.Builder
	b.WriteString("# Channel metrics\n")
	for _, ch := range channels {
		b.WriteString("\n## " + ch + "\n")
		writeSnapshot(&b, latest[ch])
	}
	return b.String()
}

func formatHistory(channel string, hist []aps.Metrics) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Metrics history: %s\n", channel)
	for _, snap := range hist {
		fmt.Fprintf(&b, "\n## Cycle %d (%s)\n", snap.Cycle, snap.CreatedAt.UTC().Format(time.RFC3339))
		writeSnapshot(&b, snap)
	}
	return b.String()
}

func writeSnapshot(b *strings.Builder, snap aps.Metrics) {
	if snap.GoalID != "" {
		fmt.Fprintf(b, "- Goal: %s\n", snap.GoalID)
	}
	fmt.Fprintf(b, "- Window: %s .. %s\n",
		snap.WindowStart.UTC().Format(time.RFC3339), snap.WindowEnd.UTC().Format(time.RFC3339))
	fmt.Fprintf(b, "- Observations: %d (%d failures, rate %.4f, UCB %.4f)\n",
		snap.Observations, snap.Failures, snap.FailureRate, snap.FailureUCB)
	fmt.Fprintf(b, "- Mutual information: %.4f bits, capacity %.4f bits\n",
		snap.MutualInfo, snap.Capacity)
	fmt.Fprintf(b, "- Efficiency: %s/cost, %s/unit, %s/sec\n",
		ratio(snap.Efficiency.PerCost), ratio(snap.Efficiency.PerUnit), ratio(snap.Efficiency.PerTime))
	fmt.Fprintf(b, "- Level: %d (%s)\n", int(snap.Level), snap.Level)
}

func ratio(v float64) string {
	if math.IsInf(v, 1) {
		return "unbounded"
	}
	return fmt.Sprintf("%.4f bits", v)
}
