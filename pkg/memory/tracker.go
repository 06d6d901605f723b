package memory

import (
	"context"
	"sync"
)

// TrackerStats counts learning events seen by a Tracker.
type TrackerStats struct {
	TotalPatterns   int `json:"total_patterns"`
	PatternsUsed    int `json:"patterns_used"`
	SuccessfulFixes int `json:"successful_fixes"`
	FailedFixes     int `json:"failed_fixes"`
}

// TotalAttempts is SuccessfulFixes + FailedFixes.
func (s TrackerStats) TotalAttempts() int {
	return s.SuccessfulFixes + s.FailedFixes
}

// SuccessRate is SuccessfulFixes / TotalAttempts, 0 with no attempts.
func (s TrackerStats) SuccessRate() float64 {
	if n := s.TotalAttempts(); n > 0 {
		return float64(s.SuccessfulFixes) / float64(n)
	}
	return 0
}

// Tracker wraps a Backend and counts what the system learns over one
// process lifetime.
type Tracker struct {
	mem Backend

	mu    sync.Mutex
	stats TrackerStats
}

// NewTracker creates a Tracker over mem.
func NewTracker(mem Backend) *Tracker {
	return &Tracker{mem: mem}
}

// RecordLearningEvent learns a new solution and counts the outcome.
func (t *Tracker) RecordLearningEvent(ctx context.Context, category, errorSignature, solution string, details map[string]any, success bool) (string, error) {
	key, err := t.mem.Learn(ctx, category, errorSignature, solution, details, success)
	if err != nil {
		return "", err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.TotalPatterns++
	t.count(success)
	return key, nil
}

// RecordReuse applies the outcome of reusing an existing solution. Unknown
// records are not counted.
func (t *Tracker) RecordReuse(ctx context.Context, category, key string, success bool) bool {
	if !t.mem.UpdateStatistics(ctx, category, key, success) {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.PatternsUsed++
	t.count(success)
	return true
}

func (t *Tracker) count(success bool) {
	if success {
		t.stats.SuccessfulFixes++
	} else {
		t.stats.FailedFixes++
	}
}

// Stats returns a snapshot of the counters.
func (t *Tracker) Stats() TrackerStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}
