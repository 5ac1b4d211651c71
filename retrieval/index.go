package retrieval

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"gonum.org/v1/gonum/floats"
)

type indexEntry struct {
	id   string
	vec  []float64
	norm float64
	meta Metadata
}

// MemoryIndex is a brute-force cosine similarity index.
type MemoryIndex struct {
	mu      sync.RWMutex
	entries []indexEntry
	dim     int
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{}
}

// Add inserts a vector. All vectors must share one dimension.
func (m *MemoryIndex) Add(id string, vec []float32, meta Metadata) error {
	if len(vec) == 0 {
		return fmt.Errorf("empty vector for %s", id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dim == 0 {
		m.dim = len(vec)
	} else if len(vec) != m.dim {
		return fmt.Errorf("vector %s has %d dims, index has %d", id, len(vec), m.dim)
	}
	v := toFloat64(vec)
	m.entries = append(m.entries, indexEntry{id: id, vec: v, norm: floats.Norm(v, 2), meta: meta})
	return nil
}

func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Query returns up to topK entries by descending cosine similarity.
func (m *MemoryIndex) Query(ctx context.Context, vector []float32, topK int) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.entries) == 0 {
		return nil, nil
	}
	if len(vector) != m.dim {
		return nil, fmt.Errorf("query has %d dims, index has %d", len(vector), m.dim)
	}
	q := toFloat64(vector)
	qNorm := floats.Norm(q, 2)

	matches := make([]Match, 0, len(m.entries))
	for _, e := range m.entries {
		score := 0.0
		if qNorm > 0 && e.norm > 0 {
			score = floats.Dot(q, e.vec) / (qNorm * e.norm)
		}
		matches = append(matches, Match{ID: e.id, Score: score, Metadata: e.meta})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// StoredVector is a persisted review embedding.
type StoredVector struct {
	ID       string
	Vector   []float32
	Metadata Metadata
}

// VectorSource lists the stored vectors of one index.
type VectorSource interface {
	Vectors(ctx context.Context, index string) ([]StoredVector, error)
}

// LoadIndexes builds one MemoryIndex per name. A failing source aborts the load.
func LoadIndexes(ctx context.Context, src VectorSource, names []string) (map[string]CategoryIndex, error) {
	out := make(map[string]CategoryIndex, len(names))
	for _, name := range names {
		rows, err := src.Vectors(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("load index %s: %w", name, err)
		}
		idx := NewMemoryIndex()
		for _, r := range rows {
			if err := idx.Add(r.ID, r.Vector, r.Metadata); err != nil {
				return nil, fmt.Errorf("load index %s: %w", name, err)
			}
		}
		out[name] = idx
	}
	return out, nil
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
