package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jenozu/orchestrator/pkg/edits"
)

// EditsCheckTool handles the edits_check MCP tool.
type EditsCheckTool struct{}

// NewEditsCheckTool creates an EditsCheckTool.
func NewEditsCheckTool() *EditsCheckTool {
	return &EditsCheckTool{}
}

// Definition returns the MCP tool definition for edits_check.
func (t *EditsCheckTool) Definition() mcp.Tool {
	return mcp.NewTool("edits_check",
		mcp.WithDescription(
			"Group proposed file edits by file and report files touched by more than one proposal. "+
				"Run this before applying edits from several agents.",
		),
		mcp.WithString("proposals",
			mcp.Required(),
			mcp.Description(`JSON array of {"path","old","new","agent","rationale"} objects`),
		),
	)
}

// Handle processes the edits_check tool call.
func (t *EditsCheckTool) Handle(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw := req.GetString("proposals", "")
	if raw == "" {
		return mcp.NewToolResultError("'proposals' is required"), nil
	}
	var proposals []edits.Proposal
	if err := json.Unmarshal([]byte(raw), &proposals); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid proposals: %v", err)), nil
	}

	g := edits.NewGrouper()
	g.Add(proposals...)
	conflicts := g.DetectConflicts()

	var b strings.Builder
	fmt.Fprintf(&b, "%d proposals across %d files\n", g.Len(), len(g.Files()))
	if len(conflicts) == 0 {
		b.WriteString("No conflicts.\n")
		return mcp.NewToolResultText(b.String()), nil
	}
	fmt.Fprintf(&b, "%d conflicting files:\n", len(conflicts))
	for _, file := range g.ConflictingFiles() {
		fmt.Fprintf(&b, "- %s (%s)\n", file, strings.Join(conflicts[file], ", "))
	}
	return mcp.NewToolResultText(b.String()), nil
}
