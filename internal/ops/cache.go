package ops

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/felixkranz/aps"
)

// CacheTool handles the aps_cache MCP tool.
type CacheTool struct {
	sys *aps.System
}

// NewCacheTool creates a CacheTool.
func NewCacheTool(sys *aps.System) *CacheTool {
	return &CacheTool{sys: sys}
}

// Definition returns the MCP tool definition for aps_cache.
func (t *CacheTool) Definition() mcp.Tool {
	return mcp.NewTool("aps_cache",
		mcp.WithDescription(
			"Stabilization cache contents: which theta each (channel, operating "+
				"context fingerprint) pair last stabilized on, when it was "+
				"validated, and how often it has been reused.",
		),
	)
}

// Handle processes the aps_cache tool call.
func (t *CacheTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entries, err := t.sys.CacheContents(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cache contents: %v", err)), nil
	}
	if len(entries) == 0 {
		return mcp.NewToolResultText("Stabilization cache is empty. Entries appear when a channel stabilizes under a theta for a given operating context."), nil
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ChannelID != entries[j].ChannelID {
			return entries[i].ChannelID < entries[j].ChannelID
		}
		return entries[i].Fingerprint < entries[j].Fingerprint
	})

	var b strings.Builder
	fmt.Fprintf(&b, "# Stabilization cache (%d entries)\n", len(entries))
	for _, e := range entries {
		fmt.Fprintf(&b, "\n## %s / %s\n", e.ChannelID, shortFingerprint(e.Fingerprint))
		fmt.Fprintf(&b, "- Theta: %s\n", e.ThetaID)
		fmt.Fprintf(&b, "- Failure rate at cache: %.4f\n", e.FailureRateAtCache)
		fmt.Fprintf(&b, "- Cached: %s, last validated: %s\n",
			e.CachedAt.UTC().Format(time.RFC3339), e.LastValidated.UTC().Format(time.RFC3339))
		fmt.Fprintf(&b, "- Hits: %d\n", e.HitCount)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
