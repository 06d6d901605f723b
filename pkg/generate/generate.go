// Package generate provides structured generation backends for pipeline
// stages: a disabled Null generator and an Exec generator that shells out to
// a model CLI.
package generate

import (
	"context"

	"github.com/jenozu/orchestrator/pkg/protocol"
)

// TextKey holds the raw response when no schema was requested.
const TextKey = "text"

// Generator turns a prompt pair into a JSON object. A nil schema asks for
// free text, returned under TextKey; a non-nil schema asks for an object
// shaped like it.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string, schema map[string]any) (map[string]any, error)
}

// Null reports the generator capability as unavailable on every call.
type Null struct{}

// Generate always fails with *protocol.CapabilityUnavailableError.
func (Null) Generate(context.Context, string, string, map[string]any) (map[string]any, error) {
	return nil, &protocol.CapabilityUnavailableError{
		Capability: protocol.CapabilityGenerator,
		Reason:     "no generator configured",
	}
}

// Available reports whether g can produce output.
func Available(g Generator) bool {
	if g == nil {
		return false
	}
	_, isNull := g.(Null)
	return !isNull
}
