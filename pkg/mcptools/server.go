package mcptools

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/jenozu/orchestrator/pkg/memory"
)

// NewServer registers every tool on a new MCP server.
func NewServer(name, version string, mem memory.Backend) *server.MCPServer {
	if mem == nil {
		mem = memory.Disabled()
	}

	s := server.NewMCPServer(
		name,
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	learn := NewLearnTool(mem)
	s.AddTool(learn.Definition(), learn.Handle)

	recall := NewRecallTool(mem)
	s.AddTool(recall.Definition(), recall.Handle)

	top := NewTopTool(mem)
	s.AddTool(top.Definition(), top.Handle)

	outcome := NewOutcomeTool(mem)
	s.AddTool(outcome.Definition(), outcome.Handle)

	check := NewEditsCheckTool()
	s.AddTool(check.Definition(), check.Handle)

	return s
}
