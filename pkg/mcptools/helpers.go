// Package mcptools exposes the memory store and edit grouper as MCP tools.
//
// Each tool is a struct with its dependencies injected via constructor,
// a Definition() returning the mcp.Tool schema, and a Handle() that
// processes the request. Tool failures are returned as error results, never
// as Go errors.
package mcptools

import (
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jenozu/orchestrator/pkg/memory"
)

// intArg extracts an integer argument from a tool request, returning
// defaultVal if the key is missing or not a number (JSON numbers are float64).
func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(v)
}

// boolArg extracts a boolean argument from a tool request.
func boolArg(req mcp.CallToolRequest, key string, defaultVal bool) bool {
	v, ok := req.GetArguments()[key].(bool)
	if !ok {
		return defaultVal
	}
	return v
}

func formatScored(b *strings.Builder, results []memory.Scored) {
	for i, r := range results {
		fmt.Fprintf(b, "%d. [%s] %s\n", i+1, r.Key, r.ErrorSignature)
		fmt.Fprintf(b, "   solution: %s\n", r.Solution)
		fmt.Fprintf(b, "   success: %d/%d (%.0f%%)", r.SuccessCount, r.Occurrences, r.SuccessRate()*100)
		if r.Score > 0 {
			fmt.Fprintf(b, "  score: %.3f", r.Score)
		}
		b.WriteString("\n")
	}
}
