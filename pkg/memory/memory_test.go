package memory //nolint:testpackage // white-box tests use the store's unexported state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"sync"
	"testing"
	"time"
)

// fakeClock hands out strictly increasing timestamps.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

// stubSearcher returns canned hits or a canned error.
type stubSearcher struct {
	hits    []Hit
	err     error
	indexed []string
	limit   int
}

func (s *stubSearcher) Index(_ context.Context, _, key, _ string) error {
	s.indexed = append(s.indexed, key)
	return nil
}

func (s *stubSearcher) Search(_ context.Context, _, _ string, limit int) ([]Hit, error) {
	s.limit = limit
	return s.hits, s.err
}

func newTestStore(t *testing.T, searcher Searcher) *Store {
	t.Helper()
	return NewStore(Config{
		Searcher: searcher,
		Logger:   log.New(io.Discard, "", 0),
		Now:      newFakeClock().Now,
	})
}

func assertRate(t *testing.T, rec Record, wantOcc, wantSucc int) {
	t.Helper()
	if rec.Occurrences != wantOcc || rec.SuccessCount != wantSucc {
		t.Fatalf("occurrences=%d successCount=%d, want %d/%d",
			rec.Occurrences, rec.SuccessCount, wantOcc, wantSucc)
	}
	want := float64(wantSucc) / float64(wantOcc)
	if rec.SuccessRate() != want {
		t.Errorf("SuccessRate() = %v, want %v", rec.SuccessRate(), want)
	}
}

func TestStore_NullRefScenario(t *testing.T) {
	s := newTestStore(t, NewVectorIndex())
	ctx := context.Background()

	key, err := s.Learn(ctx, "fixes", "NullRef", "add null check", map[string]any{}, true)
	if err != nil || key == "" {
		t.Fatalf("Learn = %q, %v", key, err)
	}
	s.UpdateStatistics(ctx, "fixes", key, false)
	s.UpdateStatistics(ctx, "fixes", key, false)

	rec, ok := s.Get("fixes", key)
	if !ok {
		t.Fatal("record missing after Learn")
	}
	assertRate(t, rec, 3, 1)
	if math.Abs(rec.SuccessRate()-0.333) > 0.001 {
		t.Errorf("SuccessRate() = %v, want ~0.333", rec.SuccessRate())
	}
	if !rec.LastUpdated.After(rec.FirstSeen) {
		t.Errorf("LastUpdated %v not after FirstSeen %v", rec.LastUpdated, rec.FirstSeen)
	}
}

func TestStore_LearnCreatesFreshRecords(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	k1, _ := s.Learn(ctx, "fixes", "NullRef", "add null check", nil, true)
	k2, _ := s.Learn(ctx, "fixes", "NullRef", "add null check", nil, false)
	if k1 == k2 {
		t.Fatal("Learn deduplicated identical input")
	}

	r1, _ := s.Get("fixes", k1)
	r2, _ := s.Get("fixes", k2)
	assertRate(t, r1, 1, 1)
	assertRate(t, r2, 1, 0)
	if !r1.FirstSeen.Equal(r1.LastUpdated) {
		t.Error("new record has FirstSeen != LastUpdated")
	}
}

func TestStore_LearnRejectsEmptyCategory(t *testing.T) {
	s := newTestStore(t, nil)
	if _, err := s.Learn(context.Background(), "", "e", "s", nil, true); err == nil {
		t.Error("expected error for empty category")
	}
}

func TestStore_StatisticsAccumulate(t *testing.T) {
	patterns := [][]bool{
		{},
		{true},
		{false},
		{true, true, true},
		{false, true, false, true, false},
		{true, false, true, true, false, false, true, false, true, true},
	}
	ctx := context.Background()
	for i, outcomes := range patterns {
		t.Run(fmt.Sprintf("pattern-%d", i), func(t *testing.T) {
			s := newTestStore(t, nil)
			key, _ := s.Learn(ctx, "fixes", "sig", "sol", nil, false)

			successes := 0
			for _, ok := range outcomes {
				if !s.UpdateStatistics(ctx, "fixes", key, ok) {
					t.Fatal("UpdateStatistics on existing record reported false")
				}
				if ok {
					successes++
				}
				rec, _ := s.Get("fixes", key)
				if rec.SuccessCount < 0 || rec.SuccessCount > rec.Occurrences {
					t.Fatalf("invariant broken: %d/%d", rec.SuccessCount, rec.Occurrences)
				}
			}

			rec, _ := s.Get("fixes", key)
			assertRate(t, rec, len(outcomes)+1, successes)
		})
	}
}

func TestStore_UpdateStatisticsMissingIsNoOp(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()
	key, _ := s.Learn(ctx, "fixes", "sig", "sol", nil, true)

	if s.UpdateStatistics(ctx, "fixes", "no-such-key", true) {
		t.Error("update on missing key reported true")
	}
	if s.UpdateStatistics(ctx, "other", key, true) {
		t.Error("update crossed namespaces")
	}
	rec, _ := s.Get("fixes", key)
	assertRate(t, rec, 1, 1)
	if _, ok := s.Get("other", key); ok {
		t.Error("record visible in another category")
	}
}

func TestStore_ConcurrentUpdatesDoNotLoseIncrements(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()
	key, _ := s.Learn(ctx, "fixes", "sig", "sol", nil, true)

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(success bool) {
			defer wg.Done()
			s.UpdateStatistics(ctx, "fixes", key, success)
		}(i%2 == 0)
	}
	wg.Wait()

	rec, _ := s.Get("fixes", key)
	assertRate(t, rec, workers+1, workers/2+1)
}

func TestStore_SearchAttachesScoresAndCaps(t *testing.T) {
	stub := &stubSearcher{}
	s := newTestStore(t, stub)
	ctx := context.Background()

	a, _ := s.Learn(ctx, "fixes", "a", "a", nil, true)
	b, _ := s.Learn(ctx, "fixes", "b", "b", nil, true)
	c, _ := s.Learn(ctx, "fixes", "c", "c", nil, true)
	stub.hits = []Hit{{Key: b, Score: 0.9}, {Key: "ghost", Score: 0.8}, {Key: a, Score: 0.5}, {Key: c, Score: 0.1}}

	got := s.Search(ctx, "fixes", "anything", 2)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Key != b || got[0].Score != 0.9 || got[1].Key != a || got[1].Score != 0.5 {
		t.Errorf("results = %+v", got)
	}
	if len(stub.indexed) != 3 {
		t.Errorf("indexed %d records, want 3", len(stub.indexed))
	}
}

func TestStore_SearchDegradesOnSearcherError(t *testing.T) {
	s := newTestStore(t, &stubSearcher{err: errors.New("index offline")})
	ctx := context.Background()
	_, _ = s.Learn(ctx, "fixes", "a", "a", nil, true)

	got := s.Search(ctx, "fixes", "a", 5)
	if got == nil || len(got) != 0 {
		t.Errorf("Search = %v, want empty non-nil", got)
	}
	if top := s.TopByEffectiveness(ctx, "fixes", 5); len(top) != 0 {
		t.Errorf("TopByEffectiveness = %v, want empty", top)
	}
}

func TestStore_SearchWithNullSearcher(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()
	_, _ = s.Learn(ctx, "fixes", "a", "a", nil, true)
	if got := s.Search(ctx, "fixes", "", 5); len(got) != 0 {
		t.Errorf("Search = %v, want empty", got)
	}
}

func TestStore_TopByEffectivenessRanking(t *testing.T) {
	s := newTestStore(t, NewVectorIndex())
	ctx := context.Background()

	learn := func(sig string, outcomes ...bool) string {
		key, _ := s.Learn(ctx, "fixes", sig, sig+" fix", nil, outcomes[0])
		for _, o := range outcomes[1:] {
			s.UpdateStatistics(ctx, "fixes", key, o)
		}
		return key
	}
	half1 := learn("half-first", true, false)
	full := learn("full", true)
	zero := learn("zero", false)
	half2 := learn("half-second", false, true)

	top := s.TopByEffectiveness(ctx, "fixes", 4)
	want := []string{full, half1, half2, zero}
	if len(top) != len(want) {
		t.Fatalf("len = %d, want %d", len(top), len(want))
	}
	for i := range want {
		if top[i].Key != want[i] {
			t.Errorf("rank %d = %s (%s), want %s", i, top[i].Key, top[i].ErrorSignature, want[i])
		}
		if i > 0 && top[i].SuccessRate() > top[i-1].SuccessRate() {
			t.Errorf("rank %d rate %v above rank %d", i, top[i].SuccessRate(), i-1)
		}
	}

	if got := s.TopByEffectiveness(ctx, "fixes", 1); len(got) != 1 || got[0].Key != full {
		t.Errorf("top 1 = %+v", got)
	}
}

func TestStore_TopByEffectivenessFetchesDoubleLimit(t *testing.T) {
	stub := &stubSearcher{}
	s := newTestStore(t, stub)
	ctx := context.Background()

	_ = s.TopByEffectiveness(ctx, "fixes", 3)
	if stub.limit != 6 {
		t.Errorf("searcher limit = %d, want 6", stub.limit)
	}
}

func TestStore_AgentContextMostRecentFirst(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if key := s.RecordAgentContext(ctx, "prd", map[string]any{"step": i}); key == "" {
			t.Fatal("RecordAgentContext returned empty key")
		}
	}
	s.RecordAgentContext(ctx, "ui", map[string]any{"step": 99})

	got := s.AgentContext(ctx, "prd", 3)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, want := range []int{3, 2, 1} {
		if got[i].Context["step"] != want {
			t.Errorf("entry %d step = %v, want %d", i, got[i].Context["step"], want)
		}
	}
	if len(s.AgentContext(ctx, "nobody", 3)) != 0 {
		t.Error("unknown agent returned context")
	}
}

func TestStore_RecordsAndCategories(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()
	k1, _ := s.Learn(ctx, "lint", "a", "a", nil, true)
	k2, _ := s.Learn(ctx, "build", "b", "b", nil, true)
	k3, _ := s.Learn(ctx, "lint", "c", "c", nil, true)

	lint := s.Records("lint")
	if len(lint) != 2 || lint[0].Key != k1 || lint[1].Key != k3 {
		t.Errorf("Records(lint) = %+v", lint)
	}
	all := s.Records("")
	if len(all) != 3 || all[0].Key != k2 {
		t.Errorf("Records(\"\") = %+v", all)
	}
	cats := s.Categories()
	if len(cats) != 2 || cats[0] != "build" || cats[1] != "lint" {
		t.Errorf("Categories() = %v", cats)
	}
}

func TestStore_RestoreKeepsStatistics(t *testing.T) {
	vi := NewVectorIndex()
	s := newTestStore(t, vi)
	ctx := context.Background()
	now := time.Now().UTC()

	n := s.Restore(ctx, []Record{
		{Key: "k1", Category: "fixes", ErrorSignature: "timeout", Solution: "raise deadline", Occurrences: 4, SuccessCount: 3, FirstSeen: now, LastUpdated: now},
		{Key: "bad", Category: "fixes", Solution: "x", Occurrences: 1, SuccessCount: 2},
		{Key: "", Category: "fixes", Solution: "x", Occurrences: 1},
	})
	if n != 1 {
		t.Fatalf("Restore = %d, want 1", n)
	}
	rec, ok := s.Get("fixes", "k1")
	if !ok {
		t.Fatal("restored record missing")
	}
	assertRate(t, rec, 4, 3)

	hits := s.Search(ctx, "fixes", "deadline", 5)
	if len(hits) != 1 || hits[0].Key != "k1" {
		t.Errorf("restored record not searchable: %+v", hits)
	}

	s.UpdateStatistics(ctx, "fixes", "k1", false)
	rec, _ = s.Get("fixes", "k1")
	assertRate(t, rec, 5, 3)
}

func TestStore_GetReturnsCopy(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()
	key, _ := s.Learn(ctx, "fixes", "a", "a", map[string]any{"file": "main.go"}, true)

	rec, _ := s.Get("fixes", key)
	rec.Context["file"] = "mutated"
	rec.Occurrences = 100

	again, _ := s.Get("fixes", key)
	if again.Context["file"] != "main.go" || again.Occurrences != 1 {
		t.Errorf("Get leaked internal state: %+v", again)
	}
}

func TestRecord_MarshalJSONIncludesRate(t *testing.T) {
	r := Record{Key: "k", Category: "fixes", Occurrences: 4, SuccessCount: 1}
	b, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatal(err)
	}
	if m["success_rate"] != 0.25 || m["key"] != "k" {
		t.Errorf("json = %s", b)
	}

	b, err = json.Marshal(Scored{Record: r, Score: 0.7})
	if err != nil {
		t.Fatal(err)
	}
	m = nil
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatal(err)
	}
	if m["score"] != 0.7 || m["success_rate"] != 0.25 || m["category"] != "fixes" {
		t.Errorf("scored json = %s", b)
	}
}

func TestDisabled(t *testing.T) {
	d := Disabled()
	ctx := context.Background()

	if d.Enabled() {
		t.Error("Disabled().Enabled() = true")
	}
	key, err := d.Learn(ctx, "fixes", "a", "b", nil, true)
	if key != "" || err != nil {
		t.Errorf("Learn = %q, %v", key, err)
	}
	if d.UpdateStatistics(ctx, "fixes", "k", true) {
		t.Error("UpdateStatistics reported true")
	}
	if got := d.Search(ctx, "fixes", "a", 5); got == nil || len(got) != 0 {
		t.Errorf("Search = %v", got)
	}
	if got := d.TopByEffectiveness(ctx, "fixes", 5); len(got) != 0 {
		t.Errorf("TopByEffectiveness = %v", got)
	}
	if d.RecordAgentContext(ctx, "prd", nil) != "" {
		t.Error("RecordAgentContext returned a key")
	}
	if _, err := Lookup(d, "fixes", "k"); err == nil {
		t.Error("Lookup on disabled backend succeeded")
	}
}

func TestTracker(t *testing.T) {
	s := newTestStore(t, nil)
	tr := NewTracker(s)
	ctx := context.Background()

	k, err := tr.RecordLearningEvent(ctx, "fixes", "a", "a", nil, true)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = tr.RecordLearningEvent(ctx, "fixes", "b", "b", nil, false)
	if !tr.RecordReuse(ctx, "fixes", k, true) {
		t.Fatal("RecordReuse on existing record reported false")
	}
	if tr.RecordReuse(ctx, "fixes", "missing", true) {
		t.Error("RecordReuse on missing record reported true")
	}

	st := tr.Stats()
	want := TrackerStats{TotalPatterns: 2, PatternsUsed: 1, SuccessfulFixes: 2, FailedFixes: 1}
	if st != want {
		t.Errorf("Stats() = %+v, want %+v", st, want)
	}
	if st.TotalAttempts() != 3 {
		t.Errorf("TotalAttempts() = %d", st.TotalAttempts())
	}
	if math.Abs(st.SuccessRate()-2.0/3.0) > 1e-9 {
		t.Errorf("SuccessRate() = %v", st.SuccessRate())
	}
	if (TrackerStats{}).SuccessRate() != 0 {
		t.Error("empty stats rate != 0")
	}
}
