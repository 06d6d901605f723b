// Package edits groups file edits proposed by concurrently running agents
// and flags files that more than one proposal touches.
//
// Conflict flagging is deliberately coarse: any file with two or more
// proposals is reported, whether or not the edited regions overlap.
package edits

import (
	"slices"
	"sync"
)

// Proposal is one proposed replacement of OldContent with NewContent in
// FilePath. Proposals are values and are never modified after creation.
type Proposal struct {
	FilePath   string `json:"path"`
	OldContent string `json:"old"`
	NewContent string `json:"new"`
	AgentID    string `json:"agent"`
	Rationale  string `json:"rationale,omitempty"`
}

// BatchEdit is one edit inside a BatchFile.
type BatchEdit struct {
	Old       string `json:"old"`
	New       string `json:"new"`
	Agent     string `json:"agent"`
	Rationale string `json:"rationale"`
}

// BatchFile groups the edits for a single file in batch-apply format.
type BatchFile struct {
	File  string      `json:"file"`
	Edits []BatchEdit `json:"edits"`
}

// Grouper collects proposals for one batch. It is safe for concurrent Add.
type Grouper struct {
	mu        sync.Mutex
	proposals []Proposal
}

// NewGrouper creates an empty Grouper.
func NewGrouper() *Grouper {
	return &Grouper{}
}

// Add appends proposals. Content is not validated.
func (g *Grouper) Add(p ...Proposal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.proposals = append(g.proposals, p...)
}

// Len returns the number of proposals added.
func (g *Grouper) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.proposals)
}

// snapshot returns the proposals and the file order, taken under one lock.
func (g *Grouper) snapshot() (map[string][]Proposal, []string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	byFile := make(map[string][]Proposal)
	var files []string
	for _, p := range g.proposals {
		if _, seen := byFile[p.FilePath]; !seen {
			files = append(files, p.FilePath)
		}
		byFile[p.FilePath] = append(byFile[p.FilePath], p)
	}
	return byFile, files
}

// GroupByFile returns proposals keyed by file path, in insertion order
// within each file.
func (g *Grouper) GroupByFile() map[string][]Proposal {
	byFile, _ := g.snapshot()
	return byFile
}

// Files returns the distinct file paths in first-seen order.
func (g *Grouper) Files() []string {
	_, files := g.snapshot()
	return files
}

// DetectConflicts returns, for every file with more than one proposal, the
// agent ids of those proposals in insertion order. An agent that proposed
// twice for the same file appears twice.
func (g *Grouper) DetectConflicts() map[string][]string {
	byFile, _ := g.snapshot()

	conflicts := make(map[string][]string)
	for path, props := range byFile {
		if len(props) < 2 {
			continue
		}
		agents := make([]string, len(props))
		for i, p := range props {
			agents[i] = p.AgentID
		}
		conflicts[path] = agents
	}
	return conflicts
}

// ConflictingFiles returns the keys of DetectConflicts in first-seen order.
func (g *Grouper) ConflictingFiles() []string {
	byFile, files := g.snapshot()
	return slices.DeleteFunc(files, func(f string) bool { return len(byFile[f]) < 2 })
}

// ToBatchFormat converts the proposals to batch-apply format, one entry per
// file in first-seen order. It has no side effects.
func (g *Grouper) ToBatchFormat() []BatchFile {
	byFile, files := g.snapshot()

	out := make([]BatchFile, 0, len(files))
	for _, f := range files {
		bf := BatchFile{File: f, Edits: make([]BatchEdit, 0, len(byFile[f]))}
		for _, p := range byFile[f] {
			bf.Edits = append(bf.Edits, BatchEdit{
				Old:       p.OldContent,
				New:       p.NewContent,
				Agent:     p.AgentID,
				Rationale: p.Rationale,
			})
		}
		out = append(out, bf)
	}
	return out
}

// ProposalsFromOutputs converts a worker's outputs["edits"] list into
// proposals attributed to agentID. Each item is a map with "path", "old",
// "new" and optional "rationale" strings. Items that are not maps or lack
// a path are skipped.
func ProposalsFromOutputs(agentID string, outputs map[string]any) []Proposal {
	items, ok := outputs["edits"].([]any)
	if !ok {
		if typed, isTyped := outputs["edits"].([]map[string]any); isTyped {
			items = make([]any, len(typed))
			for i := range typed {
				items[i] = typed[i]
			}
		}
	}

	var out []Proposal
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		p := Proposal{
			FilePath:   str(m["path"]),
			OldContent: str(m["old"]),
			NewContent: str(m["new"]),
			AgentID:    agentID,
			Rationale:  str(m["rationale"]),
		}
		if p.FilePath == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
