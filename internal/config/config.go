// Package config loads orchestrator settings from .orchestrator/config.yaml
// or .orchestrator/config.toml and resolves state paths.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/jenozu/orchestrator/pkg/protocol"
)

// Search backends.
const (
	SearchFTS    = "fts"
	SearchVector = "vector"
	SearchNone   = "none"
)

// Persistence kinds returned by ParsePersistence.
const (
	PersistNone     = "none"
	PersistSQLite   = "sqlite"
	PersistPostgres = "postgres"
)

// Config represents the .orchestrator/config.{yaml,toml} structure.
type Config struct {
	// Stages enables built-in pipeline stages by name; empty enables all.
	Stages []string `yaml:"stages,omitempty" toml:"stages,omitempty"`

	// Search selects the memory search backend: fts, vector, or none.
	Search string `yaml:"search,omitempty" toml:"search,omitempty"`

	Generator GeneratorConfig `yaml:"generator,omitempty" toml:"generator,omitempty"`

	// MaxParallel bounds concurrently running tasks in a DAG run.
	MaxParallel int `yaml:"max_parallel,omitempty" toml:"max_parallel,omitempty"`

	// Persistence is "none", "sqlite" (memory db path), "sqlite:<path>", or
	// a postgres:// URL.
	Persistence string `yaml:"persistence,omitempty" toml:"persistence,omitempty"`

	// HTTPAddr is the default listen address for serve --http.
	HTTPAddr string `yaml:"http_addr,omitempty" toml:"http_addr,omitempty"`
}

// GeneratorConfig configures the model CLI used by generator stages. An
// empty Command disables them.
type GeneratorConfig struct {
	Command []string `yaml:"command,omitempty" toml:"command,omitempty"`
	Model   string   `yaml:"model,omitempty" toml:"model,omitempty"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	var c Config
	return c.withDefaults()
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Search == "" {
		out.Search = SearchFTS
	}
	if out.MaxParallel <= 0 {
		out.MaxParallel = 4
	}
	if out.Persistence == "" {
		out.Persistence = PersistSQLite
	}
	if out.HTTPAddr == "" {
		out.HTTPAddr = ":8080"
	}
	return out
}

// Validate reports unknown enum values.
func (c *Config) Validate() error {
	var errs []error
	if !slices.Contains([]string{SearchFTS, SearchVector, SearchNone}, c.Search) {
		errs = append(errs, fmt.Errorf("search: unknown backend %q", c.Search))
	}
	if _, _, err := ParsePersistence(c.Persistence, ""); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Load reads path, choosing the decoder by extension (.yaml, .yml, .toml),
// and fills defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path from ORCH_CONFIG or project discovery
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var c Config
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &c)
	case ".toml":
		err = toml.Unmarshal(data, &c)
	default:
		return Config{}, fmt.Errorf("config %s: unsupported extension %q", path, ext)
	}
	if err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	c = c.withDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return c, nil
}

// configNames are tried in order inside <project>/.orchestrator.
var configNames = []string{"config.yaml", "config.yml", "config.toml"}

// Discover returns the config for projectRoot: the explicit path if set,
// else the first config file under <projectRoot>/.orchestrator, else
// Default(). The returned string is the file used ("" for defaults).
func Discover(projectRoot, explicit string) (Config, string, error) {
	if explicit != "" {
		c, err := Load(explicit)
		return c, explicit, err
	}
	for _, name := range configNames {
		p := filepath.Join(projectRoot, protocol.StateDir, name)
		if _, err := os.Stat(p); err == nil {
			c, err := Load(p)
			return c, p, err
		}
	}
	return Default(), "", nil
}

// ParsePersistence splits a persistence setting into its kind and target.
// The bare "sqlite" setting resolves to defaultDB.
func ParsePersistence(setting, defaultDB string) (kind, target string, err error) {
	switch {
	case setting == PersistNone:
		return PersistNone, "", nil
	case setting == PersistSQLite:
		return PersistSQLite, defaultDB, nil
	case strings.HasPrefix(setting, "sqlite:"):
		path := strings.TrimPrefix(setting, "sqlite:")
		if path == "" {
			return "", "", errors.New("persistence: empty sqlite path")
		}
		return PersistSQLite, path, nil
	case strings.HasPrefix(setting, "postgres://"), strings.HasPrefix(setting, "postgresql://"):
		return PersistPostgres, setting, nil
	default:
		return "", "", fmt.Errorf("persistence: unsupported setting %q", setting)
	}
}

// Capabilities reports which optional collaborators a config enables.
type Capabilities struct {
	Search      bool
	Generator   bool
	Persistence bool
}

// Capabilities derives the capability flags for c.
func (c *Config) Capabilities() Capabilities {
	return Capabilities{
		Search:      c.Search != SearchNone,
		Generator:   len(c.Generator.Command) > 0,
		Persistence: c.Persistence != PersistNone,
	}
}

// Map renders the flags for a run summary.
func (c Capabilities) Map() map[string]any {
	return map[string]any{
		protocol.CapabilitySearch:      c.Search,
		protocol.CapabilityGenerator:   c.Generator,
		protocol.CapabilityPersistence: c.Persistence,
	}
}

// Render encodes c as YAML, used by `orchestrator config init`.
func Render(c Config) ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("render config: %w", err)
	}
	return out, nil
}
