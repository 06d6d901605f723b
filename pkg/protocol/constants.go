package protocol

// Directory and file constants used throughout the orchestrator.
const (
	// StateDir is the project-level state directory (e.g., ./.orchestrator).
	StateDir = ".orchestrator"

	// HomeDir is the user-level state directory (e.g., ~/.orchestrator).
	HomeDir = ".orchestrator"

	// LogsDir holds one run log per run ID.
	LogsDir = "logs"

	// RunLogExt is the file extension of a persisted run log.
	RunLogExt = ".log"
)

// Memory namespaces. Records never cross namespaces.
const (
	// NamespaceLearned prefixes learned-solution categories (e.g. learned_solutions/error_fixes).
	NamespaceLearned = "learned_solutions"

	// NamespaceAgentContext prefixes per-agent context entries.
	NamespaceAgentContext = "agent_context"
)
