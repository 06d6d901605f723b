package mcptools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jenozu/orchestrator/pkg/memory"
)

// LearnTool handles the memory_learn MCP tool.
type LearnTool struct {
	mem memory.Backend
}

// NewLearnTool creates a LearnTool.
func NewLearnTool(mem memory.Backend) *LearnTool {
	return &LearnTool{mem: mem}
}

// Definition returns the MCP tool definition for memory_learn.
func (t *LearnTool) Definition() mcp.Tool {
	return mcp.NewTool("memory_learn",
		mcp.WithDescription(
			"Record a fix that was tried for an error so future runs can reuse it. "+
				"Report whether the fix worked; repeated use is tracked with memory_outcome.",
		),
		mcp.WithString("category",
			mcp.Required(),
			mcp.Description("Category of the learned solution (e.g. error_fixes, lint, build)"),
		),
		mcp.WithString("error",
			mcp.Required(),
			mcp.Description("Error signature the fix applies to"),
		),
		mcp.WithString("solution",
			mcp.Required(),
			mcp.Description("The fix that was applied"),
		),
		mcp.WithBoolean("success",
			mcp.Description("Whether the fix worked (default: true)"),
		),
	)
}

// Handle processes the memory_learn tool call.
func (t *LearnTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	category := req.GetString("category", "")
	errSig := req.GetString("error", "")
	solution := req.GetString("solution", "")

	if category == "" {
		return mcp.NewToolResultError("'category' is required"), nil
	}
	if solution == "" {
		return mcp.NewToolResultError("'solution' is required"), nil
	}
	if !t.mem.Enabled() {
		return mcp.NewToolResultError("memory is disabled"), nil
	}

	key, err := t.mem.Learn(ctx, category, errSig, solution, nil, boolArg(req, "success", true))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to learn: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Learned solution in %s\nKey: %s", category, key)), nil
}

// ─── RecallTool ─────────────────────────────────────────────────────────────

// RecallTool handles the memory_recall MCP tool.
type RecallTool struct {
	mem memory.Backend
}

// NewRecallTool creates a RecallTool.
func NewRecallTool(mem memory.Backend) *RecallTool {
	return &RecallTool{mem: mem}
}

// Definition returns the MCP tool definition for memory_recall.
func (t *RecallTool) Definition() mcp.Tool {
	return mcp.NewTool("memory_recall",
		mcp.WithDescription("Search learned solutions in a category by similarity to a query."),
		mcp.WithString("category",
			mcp.Required(),
			mcp.Description("Category to search"),
		),
		mcp.WithString("query",
			mcp.Description("Error text or keywords; empty lists the category"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Max results (default: 5)"),
		),
	)
}

// Handle processes the memory_recall tool call.
func (t *RecallTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	category := req.GetString("category", "")
	if category == "" {
		return mcp.NewToolResultError("'category' is required"), nil
	}

	results := t.mem.Search(ctx, category, req.GetString("query", ""), intArg(req, "limit", memory.DefaultLimit))
	if len(results) == 0 {
		return mcp.NewToolResultText("No learned solutions found."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d solutions:\n\n", len(results))
	formatScored(&b, results)
	return mcp.NewToolResultText(b.String()), nil
}

// ─── TopTool ────────────────────────────────────────────────────────────────

// TopTool handles the memory_top MCP tool.
type TopTool struct {
	mem memory.Backend
}

// NewTopTool creates a TopTool.
func NewTopTool(mem memory.Backend) *TopTool {
	return &TopTool{mem: mem}
}

// Definition returns the MCP tool definition for memory_top.
func (t *TopTool) Definition() mcp.Tool {
	return mcp.NewTool("memory_top",
		mcp.WithDescription("List the most effective learned solutions in a category, highest success rate first."),
		mcp.WithString("category",
			mcp.Required(),
			mcp.Description("Category to rank"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Max results (default: 5)"),
		),
	)
}

// Handle processes the memory_top tool call.
func (t *TopTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	category := req.GetString("category", "")
	if category == "" {
		return mcp.NewToolResultError("'category' is required"), nil
	}

	results := t.mem.TopByEffectiveness(ctx, category, intArg(req, "limit", memory.DefaultLimit))
	if len(results) == 0 {
		return mcp.NewToolResultText("No learned solutions found."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Top %d solutions in %s:\n\n", len(results), category)
	formatScored(&b, results)
	return mcp.NewToolResultText(b.String()), nil
}

// ─── OutcomeTool ────────────────────────────────────────────────────────────

// OutcomeTool handles the memory_outcome MCP tool.
type OutcomeTool struct {
	mem memory.Backend
}

// NewOutcomeTool creates an OutcomeTool.
func NewOutcomeTool(mem memory.Backend) *OutcomeTool {
	return &OutcomeTool{mem: mem}
}

// Definition returns the MCP tool definition for memory_outcome.
func (t *OutcomeTool) Definition() mcp.Tool {
	return mcp.NewTool("memory_outcome",
		mcp.WithDescription("Report whether reusing a learned solution worked. Updates its success statistics."),
		mcp.WithString("category",
			mcp.Required(),
			mcp.Description("Category of the solution"),
		),
		mcp.WithString("key",
			mcp.Required(),
			mcp.Description("Key returned by memory_learn or memory_recall"),
		),
		mcp.WithBoolean("success",
			mcp.Required(),
			mcp.Description("Whether the reuse succeeded"),
		),
	)
}

// Handle processes the memory_outcome tool call.
func (t *OutcomeTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	category := req.GetString("category", "")
	key := req.GetString("key", "")
	if category == "" || key == "" {
		return mcp.NewToolResultError("'category' and 'key' are required"), nil
	}
	if _, ok := req.GetArguments()["success"].(bool); !ok {
		return mcp.NewToolResultError("'success' is required"), nil
	}

	if !t.mem.UpdateStatistics(ctx, category, key, boolArg(req, "success", false)) {
		return mcp.NewToolResultError(fmt.Sprintf("no solution %s in %s", key, category)), nil
	}
	rec, _ := t.mem.Get(category, key)
	return mcp.NewToolResultText(fmt.Sprintf("Updated %s: %d/%d successful (%.0f%%)",
		key, rec.SuccessCount, rec.Occurrences, rec.SuccessRate()*100)), nil
}
