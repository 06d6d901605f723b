// Package memory stores learned solutions per category and keeps online
// success statistics for each one, so that later runs can prefer fixes that
// worked before.
//
// Records live in memory. Text matching is delegated to a Searcher; the
// store only attaches the searcher's score and applies its own ranking.
// Snapshots to SQLite or Postgres are taken by the caller through a
// Persister, never from inside a store operation.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jenozu/orchestrator/pkg/protocol"
)

// DefaultLimit is used by Search and friends when limit <= 0.
const DefaultLimit = 5

// Record is one learned solution with its accumulated statistics.
type Record struct {
	Key            string         `json:"key"`
	Category       string         `json:"category"`
	ErrorSignature string         `json:"error"`
	Solution       string         `json:"solution"`
	Context        map[string]any `json:"context"`
	Occurrences    int            `json:"occurrences"`
	SuccessCount   int            `json:"success_count"`
	FirstSeen      time.Time      `json:"first_seen"`
	LastUpdated    time.Time      `json:"last_updated"`
}

// SuccessRate is SuccessCount / Occurrences, or 0 for a zero record.
func (r Record) SuccessRate() float64 {
	if r.Occurrences <= 0 {
		return 0
	}
	return float64(r.SuccessCount) / float64(r.Occurrences)
}

// MarshalJSON adds the derived success_rate field.
func (r Record) MarshalJSON() ([]byte, error) {
	type plain Record
	return json.Marshal(struct {
		plain
		SuccessRate float64 `json:"success_rate"`
	}{plain(r), r.SuccessRate()})
}

func (r *Record) clone() Record {
	out := *r
	out.Context = maps.Clone(r.Context)
	return out
}

// indexText is the text handed to the Searcher for r.
func (r *Record) indexText() string {
	var b strings.Builder
	b.WriteString(r.ErrorSignature)
	b.WriteString("\n")
	b.WriteString(r.Solution)
	if len(r.Context) > 0 {
		keys := slices.Sorted(maps.Keys(r.Context))
		for _, k := range keys {
			fmt.Fprintf(&b, "\n%s: %v", k, r.Context[k])
		}
	}
	return b.String()
}

// Scored is a record with the relevance score reported by the Searcher.
type Scored struct {
	Record
	Score float64 `json:"score"`
}

// MarshalJSON keeps the embedded record's fields flat next to score.
func (s Scored) MarshalJSON() ([]byte, error) {
	type plain Record
	return json.Marshal(struct {
		plain
		SuccessRate float64 `json:"success_rate"`
		Score       float64 `json:"score"`
	}{plain(s.Record), s.Record.SuccessRate(), s.Score})
}

// AgentContextEntry is one context snapshot recorded for an agent.
type AgentContextEntry struct {
	Key       string         `json:"key"`
	Context   map[string]any `json:"context"`
	Timestamp time.Time      `json:"timestamp"`
}

// Backend is the set of operations workers use. Store implements it with
// in-memory records; Disabled returns an implementation that stores nothing.
type Backend interface {
	Enabled() bool
	Learn(ctx context.Context, category, errorSignature, solution string, details map[string]any, success bool) (string, error)
	UpdateStatistics(ctx context.Context, category, key string, success bool) bool
	Search(ctx context.Context, category, query string, limit int) []Scored
	TopByEffectiveness(ctx context.Context, category string, limit int) []Scored
	Get(category, key string) (Record, bool)
	Records(category string) []Record
	Categories() []string
	RecordAgentContext(ctx context.Context, agentID string, details map[string]any) string
	AgentContext(ctx context.Context, agentID string, limit int) []AgentContextEntry
}

// Config holds Store configuration.
type Config struct {
	Searcher Searcher         // default NullSearcher
	Logger   *log.Logger      // default log.Default()
	Now      func() time.Time // default time.Now
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Searcher == nil {
		out.Searcher = NullSearcher{}
	}
	if out.Logger == nil {
		out.Logger = log.Default()
	}
	if out.Now == nil {
		out.Now = time.Now
	}
	return out
}

// Store is the in-memory record store. It is safe for concurrent use; one
// mutex serializes every read-modify-write of a record, so statistics
// updates on the same key never lose an increment.
type Store struct {
	cfg Config

	mu       sync.Mutex
	records  map[string]map[string]*Record // category -> key -> record
	order    map[string][]string           // category -> keys in insertion order
	agentCtx map[string][]AgentContextEntry
}

var _ Backend = (*Store)(nil)

// NewStore creates an empty Store.
func NewStore(cfg Config) *Store {
	return &Store{
		cfg:      cfg.withDefaults(),
		records:  make(map[string]map[string]*Record),
		order:    make(map[string][]string),
		agentCtx: make(map[string][]AgentContextEntry),
	}
}

// Namespace returns the searcher namespace for a learned-solution category.
func Namespace(category string) string {
	return protocol.NamespaceLearned + "/" + category
}

// Enabled always reports true for a Store.
func (s *Store) Enabled() bool { return true }

// Learn creates a new record with occurrences=1 and indexes it. It never
// deduplicates. An indexing failure is logged; the record is still kept and
// its key returned.
func (s *Store) Learn(ctx context.Context, category, errorSignature, solution string, details map[string]any, success bool) (string, error) {
	if category == "" {
		return "", fmt.Errorf("memory learn: empty category")
	}

	now := s.cfg.Now()
	rec := &Record{
		Key:            uuid.NewString(),
		Category:       category,
		ErrorSignature: errorSignature,
		Solution:       solution,
		Context:        maps.Clone(details),
		Occurrences:    1,
		FirstSeen:      now,
		LastUpdated:    now,
	}
	if success {
		rec.SuccessCount = 1
	}

	s.mu.Lock()
	s.insertLocked(rec)
	text := rec.indexText()
	s.mu.Unlock()

	if err := s.cfg.Searcher.Index(ctx, Namespace(category), rec.Key, text); err != nil {
		s.cfg.Logger.Printf("memory: index %s/%s: %v", category, rec.Key, err)
	}
	return rec.Key, nil
}

func (s *Store) insertLocked(rec *Record) {
	byKey, ok := s.records[rec.Category]
	if !ok {
		byKey = make(map[string]*Record)
		s.records[rec.Category] = byKey
	}
	if _, exists := byKey[rec.Key]; !exists {
		s.order[rec.Category] = append(s.order[rec.Category], rec.Key)
	}
	byKey[rec.Key] = rec
}

// UpdateStatistics records one more application of a solution. It returns
// false, changing nothing, when (category, key) does not exist.
func (s *Store) UpdateStatistics(_ context.Context, category, key string, success bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[category][key]
	if !ok {
		return false
	}
	rec.Occurrences++
	if success {
		rec.SuccessCount++
	}
	rec.LastUpdated = s.cfg.Now()
	return true
}

// Search returns records matching query in the searcher's order, each with
// the searcher's score, capped at limit. Searcher failures yield an empty
// result.
func (s *Store) Search(ctx context.Context, category, query string, limit int) []Scored {
	if limit <= 0 {
		limit = DefaultLimit
	}

	hits, err := s.cfg.Searcher.Search(ctx, Namespace(category), query, limit)
	if err != nil {
		s.cfg.Logger.Printf("memory: search %s: %v", category, err)
		return []Scored{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Scored, 0, min(len(hits), limit))
	for _, h := range hits {
		rec, ok := s.records[category][h.Key]
		if !ok {
			continue
		}
		out = append(out, Scored{Record: rec.clone(), Score: h.Score})
		if len(out) == limit {
			break
		}
	}
	return out
}

// TopByEffectiveness fetches 2*limit records with an empty query and ranks
// them by success rate, highest first. Equal rates keep search order.
func (s *Store) TopByEffectiveness(ctx context.Context, category string, limit int) []Scored {
	if limit <= 0 {
		limit = DefaultLimit
	}
	results := s.Search(ctx, category, "", limit*2)
	sortByRate(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

func sortByRate(results []Scored) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].SuccessRate() > results[j].SuccessRate()
	})
}

// Get returns a copy of the record at (category, key).
func (s *Store) Get(category, key string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[category][key]
	if !ok {
		return Record{}, false
	}
	return rec.clone(), true
}

// Records returns every record in category in insertion order. An empty
// category returns records from all categories, categories sorted by name.
func (s *Store) Records(category string) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	cats := []string{category}
	if category == "" {
		cats = s.categoriesLocked()
	}
	var out []Record
	for _, c := range cats {
		for _, key := range s.order[c] {
			out = append(out, s.records[c][key].clone())
		}
	}
	return out
}

// Categories returns all categories holding at least one record, sorted.
func (s *Store) Categories() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.categoriesLocked()
}

func (s *Store) categoriesLocked() []string {
	return slices.Sorted(maps.Keys(s.order))
}

// Restore inserts previously persisted records, keeping their keys and
// statistics, and re-indexes them. A record whose key already exists is
// replaced. Records that would break 0 <= SuccessCount <= Occurrences are
// skipped. Returns the number restored.
func (s *Store) Restore(ctx context.Context, records []Record) int {
	type pending struct{ ns, key, text string }
	var index []pending

	s.mu.Lock()
	for i := range records {
		r := records[i]
		if r.Category == "" || r.Key == "" || r.Occurrences < 1 ||
			r.SuccessCount < 0 || r.SuccessCount > r.Occurrences {
			s.cfg.Logger.Printf("memory: restore: skipping invalid record %s/%s", r.Category, r.Key)
			continue
		}
		rec := r.clone()
		s.insertLocked(&rec)
		index = append(index, pending{Namespace(rec.Category), rec.Key, rec.indexText()})
	}
	s.mu.Unlock()

	for _, p := range index {
		if err := s.cfg.Searcher.Index(ctx, p.ns, p.key, p.text); err != nil {
			s.cfg.Logger.Printf("memory: restore: index %s: %v", p.key, err)
		}
	}
	return len(index)
}

// RecordAgentContext stores a context snapshot for agentID and returns its
// key.
func (s *Store) RecordAgentContext(_ context.Context, agentID string, details map[string]any) string {
	e := AgentContextEntry{
		Key:       uuid.NewString(),
		Context:   maps.Clone(details),
		Timestamp: s.cfg.Now(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agentCtx[agentID] = append(s.agentCtx[agentID], e)
	return e.Key
}

// AgentContext returns up to limit snapshots for agentID, most recent first.
func (s *Store) AgentContext(_ context.Context, agentID string, limit int) []AgentContextEntry {
	if limit <= 0 {
		limit = DefaultLimit
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.agentCtx[agentID]
	out := make([]AgentContextEntry, 0, min(limit, len(entries)))
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := entries[i]
		e.Context = maps.Clone(e.Context)
		out = append(out, e)
	}
	return out
}
