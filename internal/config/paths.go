package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jenozu/orchestrator/pkg/protocol"
)

// Paths holds all resolved orchestrator state paths.
// Use ResolvePaths() to populate this struct with defaults + env overrides.
type Paths struct {
	Home         string // ~/.orchestrator or ORCH_HOME
	LogDir       string // run logs, ORCH_LOG_DIR
	MemoryDBPath string // memories.db or ORCH_MEMORY_DB
	ConfigPath   string // explicit config file (ORCH_CONFIG), empty if unset
}

// ResolvePaths returns all orchestrator paths, respecting env var overrides.
// Environment variables:
//   - ORCH_HOME: base directory for all state (default: ~/.orchestrator)
//   - ORCH_LOG_DIR: run log directory (default: $ORCH_HOME/logs)
//   - ORCH_MEMORY_DB: memory database (default: $ORCH_HOME/memories.db)
//   - ORCH_CONFIG: config file, bypassing project discovery
func ResolvePaths() (*Paths, error) {
	home, err := resolveHome()
	if err != nil {
		return nil, err
	}
	return &Paths{
		Home:         home,
		LogDir:       resolvePathWithEnv("ORCH_LOG_DIR", home, protocol.LogsDir),
		MemoryDBPath: resolvePathWithEnv("ORCH_MEMORY_DB", home, "memories.db"),
		ConfigPath:   os.Getenv("ORCH_CONFIG"),
	}, nil
}

func resolveHome() (string, error) {
	if v := os.Getenv("ORCH_HOME"); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, protocol.HomeDir), nil
}

// resolvePathWithEnv returns the path from envKey if set, otherwise joins base + suffix.
func resolvePathWithEnv(envKey, base, suffix string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return filepath.Join(base, suffix)
}
