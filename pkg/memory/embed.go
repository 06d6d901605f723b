package memory

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"
)

// maxVocabSize caps the vocabulary so vectors cannot grow without bound.
// Terms first seen after the cap is reached get zero weight.
const maxVocabSize = 10000

// Embedder computes L2-normalized term-frequency vectors. The vocabulary
// (term -> dimension) grows as new terms are indexed; vectors computed
// earlier are simply shorter and compare as zero-padded.
type Embedder struct {
	vocab map[string]int
}

// NewEmbedder creates an Embedder with an empty vocabulary.
func NewEmbedder() *Embedder {
	return &Embedder{vocab: make(map[string]int)}
}

// tokenize splits text into lowercase alphanumeric tokens.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Embed returns the vector for text, adding new terms to the vocabulary.
// Empty input returns nil.
func (e *Embedder) Embed(text string) []float32 {
	return e.embed(text, true)
}

// EmbedQuery is Embed without vocabulary growth: unknown terms are ignored.
func (e *Embedder) EmbedQuery(text string) []float32 {
	return e.embed(text, false)
}

func (e *Embedder) embed(text string, grow bool) []float32 {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return nil
	}

	tf := make(map[string]int, len(tokens))
	for _, t := range tokens {
		tf[t]++
	}

	if grow {
		// Assign dimensions in token order so vectors are deterministic.
		for _, t := range tokens {
			if _, ok := e.vocab[t]; !ok && len(e.vocab) < maxVocabSize {
				e.vocab[t] = len(e.vocab)
			}
		}
	}

	vec := make([]float32, len(e.vocab))
	for term, count := range tf {
		if idx, ok := e.vocab[term]; ok {
			vec[idx] = float32(count)
		}
	}
	normalize32(vec)
	return vec
}

// VocabSize returns the number of dimensions.
func (e *Embedder) VocabSize() int {
	return len(e.vocab)
}

func normalize32(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
}

// CosineSimilarity returns the cosine of the angle between a and b, treating
// the shorter vector as zero-padded. Returns 0 if either is empty.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	n := min(len(a), len(b))

	var dot, normA, normB float64
	for i := range n {
		av, bv := float64(a[i]), float64(b[i])
		dot += av * bv
		normA += av * av
		normB += bv * bv
	}
	for _, av := range a[n:] {
		normA += float64(av) * float64(av)
	}
	for _, bv := range b[n:] {
		normB += float64(bv) * float64(bv)
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}

type vectorEntry struct {
	key string
	vec []float32
}

// VectorIndex is an in-process Searcher scoring entries by cosine
// similarity of term-frequency vectors.
type VectorIndex struct {
	mu       sync.Mutex
	embedder *Embedder
	spaces   map[string][]vectorEntry
}

var _ Searcher = (*VectorIndex)(nil)

// NewVectorIndex creates an empty VectorIndex.
func NewVectorIndex() *VectorIndex {
	return &VectorIndex{
		embedder: NewEmbedder(),
		spaces:   make(map[string][]vectorEntry),
	}
}

// Index adds or replaces key in namespace. Replacing keeps the original
// insertion position.
func (v *VectorIndex) Index(_ context.Context, namespace, key, text string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	vec := v.embedder.Embed(text)
	entries := v.spaces[namespace]
	for i := range entries {
		if entries[i].key == key {
			entries[i].vec = vec
			return nil
		}
	}
	v.spaces[namespace] = append(entries, vectorEntry{key: key, vec: vec})
	return nil
}

// Search returns up to limit entries with positive similarity, best first.
// Ties keep insertion order. An empty query lists entries in insertion order
// with score 0.
func (v *VectorIndex) Search(_ context.Context, namespace, query string, limit int) ([]Hit, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	entries := v.spaces[namespace]
	if strings.TrimSpace(query) == "" {
		n := len(entries)
		if limit > 0 {
			n = min(n, limit)
		}
		hits := make([]Hit, 0, n)
		for _, e := range entries[:n] {
			hits = append(hits, Hit{Key: e.key})
		}
		return hits, nil
	}

	q := v.embedder.EmbedQuery(query)
	var hits []Hit
	for _, e := range entries {
		if score := CosineSimilarity(q, e.vec); score > 0 {
			hits = append(hits, Hit{Key: e.key, Score: score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}
