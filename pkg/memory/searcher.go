package memory

import (
	"context"

	"github.com/jenozu/orchestrator/pkg/protocol"
)

// Hit is one search result: the indexed key and its relevance score.
// Higher scores are more relevant.
type Hit struct {
	Key   string
	Score float64
}

// Searcher is the text-matching collaborator. Search with an empty query
// returns the namespace's entries in insertion order.
type Searcher interface {
	Index(ctx context.Context, namespace, key, text string) error
	Search(ctx context.Context, namespace, query string, limit int) ([]Hit, error)
}

// NullSearcher indexes nothing and finds nothing.
type NullSearcher struct{}

// Index discards the entry.
func (NullSearcher) Index(context.Context, string, string, string) error { return nil }

// Search always returns no hits.
func (NullSearcher) Search(context.Context, string, string, int) ([]Hit, error) { return nil, nil }

// disabled is the Backend used when no memory capability is configured.
// Every operation returns a neutral value.
type disabled struct{}

// Disabled returns a Backend that stores nothing. Learn returns "", reads
// return empty results and UpdateStatistics reports false.
func Disabled() Backend { return disabled{} }

func (disabled) Enabled() bool { return false }

func (disabled) Learn(context.Context, string, string, string, map[string]any, bool) (string, error) {
	return "", nil
}

func (disabled) UpdateStatistics(context.Context, string, string, bool) bool { return false }

func (disabled) Search(context.Context, string, string, int) []Scored { return []Scored{} }

func (disabled) TopByEffectiveness(context.Context, string, int) []Scored { return []Scored{} }

func (disabled) Get(string, string) (Record, bool) { return Record{}, false }

func (disabled) Records(string) []Record { return nil }

func (disabled) Categories() []string { return nil }

func (disabled) RecordAgentContext(context.Context, string, map[string]any) string { return "" }

func (disabled) AgentContext(context.Context, string, int) []AgentContextEntry {
	return []AgentContextEntry{}
}

// Lookup returns the record at (category, key) or *protocol.RecordNotFoundError.
func Lookup(b Backend, category, key string) (Record, error) {
	rec, ok := b.Get(category, key)
	if !ok {
		return Record{}, &protocol.RecordNotFoundError{Category: category, Key: key}
	}
	return rec, nil
}
