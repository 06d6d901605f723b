// Package stages provides the built-in project bootstrap stages: knowledge
// retrieval, intent parsing, rules and task list generation, and
// requirements drafting. Every stage is wrapped with pipeline.Guard, so a
// generator failure leaves {"<stage>_result": nil, "error": msg} in the
// state instead of aborting the run.
package stages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"slices"
	"strings"

	"github.com/jenozu/orchestrator/pkg/edits"
	"github.com/jenozu/orchestrator/pkg/generate"
	"github.com/jenozu/orchestrator/pkg/memory"
	"github.com/jenozu/orchestrator/pkg/pipeline"
)

// Stage names in run order.
const (
	Knowledge    = "knowledge"
	Intent       = "intent"
	Rules        = "rules"
	Requirements = "requirements"
)

// Names lists every built-in stage in run order.
var Names = []string{Knowledge, Intent, Rules, Requirements}

// State keys read and written by the built-in stages.
const (
	RequestKey         = "raw_user_request"
	KnowledgeKey       = "knowledge"
	KnowledgeFoundKey  = "knowledge_retrieved"
	ParsedIntentKey    = "parsed_intent"
	RulesGeneratedKey  = "rules_generated"
	RulesPathKey       = "rules_path"
	TaskListPathKey    = "task_list_path"
	PRDPathKey         = "prd_path"
	RequirementsStatus = "requirements_status"
)

// Output locations, relative to Config.Root.
const (
	RulesFile    = ".cursor/rules.md"
	TaskListFile = "docs/tasks.md"
	PRDFile      = "docs/prd.md"
)

// KnowledgeCategory is the memory category searched by the knowledge stage.
const KnowledgeCategory = "error_fixes"

// Config wires the stages to their collaborators.
type Config struct {
	Generator generate.Generator // nil or generate.Null disables generator stages
	Memory    memory.Backend     // nil or disabled drops the knowledge stage
	Root      string             // directory generated documents are written under
	FS        edits.FileSystem   // default edits.OSFileSystem
	Logger    *log.Logger        // default log.Default()

	// Enabled restricts the stage set by name; empty enables all.
	Enabled []string
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Generator == nil {
		out.Generator = generate.Null{}
	}
	if out.Memory == nil {
		out.Memory = memory.Disabled()
	}
	if out.Root == "" {
		out.Root = "."
	}
	if out.FS == nil {
		out.FS = edits.OSFileSystem{}
	}
	if out.Logger == nil {
		out.Logger = log.Default()
	}
	return out
}

func (c *Config) enabled(name string) bool {
	if len(c.Enabled) == 0 {
		return true
	}
	return slices.Contains(c.Enabled, name)
}

// Build returns the built-in stages in run order. A stage whose collaborator
// is missing, or that is not enabled, is returned unavailable so that
// pipeline.Compose routes around it.
func Build(cfg Config) []pipeline.Stage {
	c := cfg.withDefaults()
	b := &builder{cfg: c}
	genOK := generate.Available(c.Generator)

	stage := func(name string, ok bool, fn pipeline.StageFunc) pipeline.Stage {
		if !ok || !c.enabled(name) {
			return pipeline.Stage{Name: name}
		}
		return pipeline.Guard(name, fn)
	}

	return []pipeline.Stage{
		stage(Knowledge, c.Memory.Enabled(), b.knowledge),
		stage(Intent, genOK, b.intent),
		stage(Rules, genOK, b.rules),
		stage(Requirements, genOK, b.requirements),
	}
}

type builder struct {
	cfg Config
}

func (b *builder) write(rel, content string) (string, error) {
	path := filepath.Join(b.cfg.Root, filepath.FromSlash(rel))
	if err := b.cfg.FS.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", rel, err)
	}
	return rel, nil
}

func (b *builder) text(ctx context.Context, system, user string) (string, error) {
	out, err := b.cfg.Generator.Generate(ctx, system, user, nil)
	if err != nil {
		return "", err
	}
	s, _ := out[generate.TextKey].(string)
	if strings.TrimSpace(s) == "" {
		return "", errors.New("generator returned no text")
	}
	return s, nil
}

func request(state pipeline.State) string {
	s, _ := state[RequestKey].(string)
	return strings.TrimSpace(s)
}

func intentJSON(state pipeline.State) (string, error) {
	intent, ok := state[ParsedIntentKey].(map[string]any)
	if !ok || intent == nil {
		return "", errors.New("no parsed intent found")
	}
	raw, err := json.MarshalIndent(intent, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode intent: %w", err)
	}
	return string(raw), nil
}

// knowledge pulls the most effective past fixes that match the request.
func (b *builder) knowledge(ctx context.Context, state pipeline.State) (pipeline.State, error) {
	found := b.cfg.Memory.Search(ctx, KnowledgeCategory, request(state), memory.DefaultLimit)
	hints := make([]map[string]any, 0, len(found))
	for _, s := range found {
		hints = append(hints, map[string]any{
			"error":        s.ErrorSignature,
			"solution":     s.Solution,
			"success_rate": s.SuccessRate(),
		})
	}
	return pipeline.State{
		KnowledgeKey:                  hints,
		KnowledgeFoundKey:             len(hints) > 0,
		pipeline.ResultKey(Knowledge): len(hints),
	}, nil
}

func (b *builder) intent(ctx context.Context, state pipeline.State) (pipeline.State, error) {
	req := request(state)
	if req == "" {
		return nil, errors.New("no raw user request provided")
	}

	parsed, err := b.cfg.Generator.Generate(ctx, intentSystemPrompt, fmt.Sprintf("Translate this project request into JSON: %q", req), IntentSchema)
	if err != nil {
		return nil, err
	}
	return pipeline.State{
		ParsedIntentKey:            parsed,
		pipeline.ResultKey(Intent): parsed,
	}, nil
}

func (b *builder) rules(ctx context.Context, state pipeline.State) (pipeline.State, error) {
	intent, err := intentJSON(state)
	if err != nil {
		return nil, err
	}

	user := "Generate project rules for the following intent:\n\n" + intent
	if hints := knowledgeHints(state); hints != "" {
		user += "\n\nFixes that worked on earlier projects:\n" + hints
	}
	rules, err := b.text(ctx, rulesSystemPrompt, user)
	if err != nil {
		return nil, fmt.Errorf("rules: %w", err)
	}
	rulesPath, err := b.write(RulesFile, rules)
	if err != nil {
		return nil, err
	}

	tasks, err := b.text(ctx, taskListSystemPrompt,
		"Generate a sequential master task list (Markdown checklist) for the following project intent:\n\n"+intent)
	if err != nil {
		return nil, fmt.Errorf("task list: %w", err)
	}
	tasksPath, err := b.write(TaskListFile, tasks)
	if err != nil {
		return nil, err
	}

	b.cfg.Logger.Printf("stages: wrote %s and %s", rulesPath, tasksPath)
	return pipeline.State{
		RulesGeneratedKey:         true,
		RulesPathKey:              rulesPath,
		TaskListPathKey:           tasksPath,
		pipeline.ResultKey(Rules): rulesPath,
	}, nil
}

func (b *builder) requirements(ctx context.Context, state pipeline.State) (pipeline.State, error) {
	idea := request(state)
	if intent, err := intentJSON(state); err == nil {
		idea = intent
	}
	if idea == "" {
		return nil, errors.New("nothing to draft requirements from")
	}

	prd, err := b.text(ctx, prdSystemPrompt, "Create a PRD for:\n\n"+idea)
	if err != nil {
		return nil, fmt.Errorf("requirements: %w", err)
	}
	path, err := b.write(PRDFile, prd)
	if err != nil {
		return nil, err
	}
	return pipeline.State{
		PRDPathKey:                       path,
		RequirementsStatus:               "drafted",
		pipeline.ResultKey(Requirements): path,
	}, nil
}

func knowledgeHints(state pipeline.State) string {
	hints, _ := state[KnowledgeKey].([]map[string]any)
	var sb strings.Builder
	for _, h := range hints {
		rate, _ := h["success_rate"].(float64)
		fmt.Fprintf(&sb, "- %v: %v (success rate %.0f%%)\n", h["error"], h["solution"], rate*100)
	}
	return sb.String()
}
