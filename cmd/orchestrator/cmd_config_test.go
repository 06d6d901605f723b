package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jenozu/orchestrator/internal/config"
)

func TestConfigInitAndShow(t *testing.T) {
	env := newTestEnv(t)

	show := env.mustRun(t, "config", "show")
	if !strings.Contains(show, "# defaults") || !strings.Contains(show, "search: fts") {
		t.Errorf("defaults = %q", show)
	}

	path := strings.TrimSpace(env.mustRun(t, "config", "init"))
	want := filepath.Join(env.project, ".orchestrator", "config.yaml")
	if path != want {
		t.Errorf("init path = %q, want %q", path, want)
	}
	if _, err := config.Load(path); err != nil {
		t.Errorf("written config does not load: %v", err)
	}

	if _, err := env.run(t, "config", "init"); err == nil {
		t.Error("expected error when config exists")
	}
	env.mustRun(t, "config", "init", "--force")

	show = env.mustRun(t, "config", "show")
	if !strings.Contains(show, "# "+want) {
		t.Errorf("show did not use project config: %q", show)
	}
}

func TestConfigShow_ExplicitTOML(t *testing.T) {
	env := newTestEnv(t)
	path := filepath.Join(t.TempDir(), "orch.toml")
	if err := os.WriteFile(path, []byte("search = \"vector\"\nmax_parallel = 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	show := env.mustRun(t, "--config", path, "config", "show")
	if !strings.Contains(show, "search: vector") || !strings.Contains(show, "max_parallel: 2") {
		t.Errorf("show = %q", show)
	}
}

func TestConfigShow_InvalidConfig(t *testing.T) {
	env := newTestEnv(t)
	env.writeProjectFile(t, ".orchestrator/config.yaml", "search: telepathy\n")
	if _, err := env.run(t, "config", "show"); err == nil {
		t.Error("expected validation error")
	}
}

func TestConfigPaths(t *testing.T) {
	env := newTestEnv(t)
	out := env.mustRun(t, "config", "paths")
	for _, want := range []string{
		"home:      " + env.home,
		"logs:      " + filepath.Join(env.home, "logs"),
		"memory db: " + filepath.Join(env.home, "memories.db"),
		"config:    (defaults)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("paths missing %q:\n%s", want, out)
		}
	}
}
