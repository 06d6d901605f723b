package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"strings"
)

// DefaultCommand is the model CLI invoked when Exec.Command is empty.
var DefaultCommand = []string{"claude", "-p"}

// CommandRunner runs a subprocess and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecCommandRunner implements CommandRunner using os/exec.
type ExecCommandRunner struct{}

// Run executes name with an empty stdin (the CLI hangs on a nil stdin when
// there is no TTY) and without CLAUDECODE* variables in the environment.
func (ExecCommandRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec // command comes from project config
	cmd.Stdin = strings.NewReader("")
	cmd.Env = slices.DeleteFunc(os.Environ(), func(e string) bool {
		return strings.HasPrefix(e, "CLAUDECODE")
	})

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return out, fmt.Errorf("%w: %s", err, msg)
		}
		return out, err
	}
	return out, nil
}

// Exec runs a model CLI once per request with
//
//	<command...> <prompt> --output-format json [--model M] [--system-prompt S]
//
// and decodes the JSON result envelope it prints.
type Exec struct {
	Command []string      // default DefaultCommand
	Model   string        // optional
	Runner  CommandRunner // default ExecCommandRunner
}

// Args returns the argument vector for one request, excluding the command
// name itself.
func (e *Exec) Args(systemPrompt, userPrompt string, schema map[string]any) ([]string, error) {
	command := e.Command
	if len(command) == 0 {
		command = DefaultCommand
	}

	prompt := userPrompt
	if schema != nil {
		raw, err := json.MarshalIndent(schema, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("generate: encode schema: %w", err)
		}
		prompt += "\n\nRespond with ONLY a JSON object matching this schema:\n" + string(raw)
	}

	args := append(slices.Clone(command[1:]), prompt, "--output-format", "json")
	if e.Model != "" {
		args = append(args, "--model", e.Model)
	}
	if systemPrompt != "" {
		args = append(args, "--system-prompt", systemPrompt)
	}
	return args, nil
}

// Generate runs the command and parses its stdout.
func (e *Exec) Generate(ctx context.Context, systemPrompt, userPrompt string, schema map[string]any) (map[string]any, error) {
	command := e.Command
	if len(command) == 0 {
		command = DefaultCommand
	}
	runner := e.Runner
	if runner == nil {
		runner = ExecCommandRunner{}
	}

	args, err := e.Args(systemPrompt, userPrompt, schema)
	if err != nil {
		return nil, err
	}
	out, err := runner.Run(ctx, command[0], args...)
	if err != nil {
		return nil, fmt.Errorf("generate: %s: %w", command[0], err)
	}
	return ParseOutput(out, schema != nil)
}

// envelope is the --output-format json wrapper printed by the CLI.
type envelope struct {
	Type    string `json:"type"`
	Result  string `json:"result"`
	IsError bool   `json:"is_error"`
}

// ParseOutput decodes CLI output. A result envelope is unwrapped; when
// structured is set the result text must itself hold a JSON object
// (optionally inside a ``` fence). Output that is already a bare JSON object
// is returned as is.
func ParseOutput(out []byte, structured bool) (map[string]any, error) {
	out = bytes.TrimSpace(out)
	if len(out) == 0 {
		return nil, errors.New("generate: empty output")
	}

	var env envelope
	if err := json.Unmarshal(out, &env); err == nil && env.Type == "result" {
		if env.IsError {
			return nil, fmt.Errorf("generate: model error: %s", env.Result)
		}
		if !structured {
			return map[string]any{TextKey: env.Result}, nil
		}
		return decodeObject(env.Result)
	}

	if !structured {
		return map[string]any{TextKey: string(out)}, nil
	}
	return decodeObject(string(out))
}

func decodeObject(text string) (map[string]any, error) {
	text = stripFence(strings.TrimSpace(text))
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return nil, fmt.Errorf("generate: response is not a JSON object: %w", err)
	}
	if obj == nil {
		return nil, errors.New("generate: response is null")
	}
	return obj, nil
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
