package ops

import "github.com/mark3labs/mcp-go/mcp"

// intArg extracts an integer argument, falling back when the key is missing
// or not a number (JSON numbers arrive as float64).
func intArg(req mcp.CallToolRequest, key string, def int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return def
	}
	return int(v)
}
