package similarity

import (
	"sort"
	"sync"

	"github.com/m-mizutani/goerr/v2"

	"trendscope/internal/domain/trend"
)

// Match is an indexed vector that passed a similarity query
type Match struct {
	ID    string
	Score float64
}

// Index keeps vectors of one dimension and answers similarity queries.
// Queries may run concurrently; Insert and Remove take the write lock.
type Index struct {
	dim     int
	vectors map[string][]float64
	mu      sync.RWMutex
}

// NewIndex creates an empty index for vectors of length dim
func NewIndex(dim int) *Index {
	return &Index{
		dim:     dim,
		vectors: make(map[string][]float64),
	}
}

// Dimension returns the vector length accepted by the index
func (idx *Index) Dimension() int {
	return idx.dim
}

// Insert adds or replaces the vector stored under id
func (idx *Index) Insert(id string, v []float64) error {
	if len(v) != idx.dim {
		return goerr.Wrap(trend.ErrDimensionMismatch, "cannot index vector",
			goerr.V("id", id),
			goerr.V("expected", idx.dim),
			goerr.V("actual", len(v)),
		)
	}

	cp := append([]float64(nil), v...)

	idx.mu.Lock()
	idx.vectors[id] = cp
	idx.mu.Unlock()

	return nil
}

// Reset swaps the whole content of the index for entries. The new map is
// built before the write lock is taken, so readers only wait for the swap.
func (idx *Index) Reset(entries map[string][]float64) error {
	next := make(map[string][]float64, len(entries))
	for id, v := range entries {
		if len(v) != idx.dim {
			return goerr.Wrap(trend.ErrDimensionMismatch, "cannot index vector",
				goerr.V("id", id),
				goerr.V("expected", idx.dim),
				goerr.V("actual", len(v)),
			)
		}
		next[id] = append([]float64(nil), v...)
	}

	idx.mu.Lock()
	idx.vectors = next
	idx.mu.Unlock()

	return nil
}

// Remove drops id from the index. Unknown ids are ignored.
func (idx *Index) Remove(id string) {
	idx.mu.Lock()
	delete(idx.vectors, id)
	idx.mu.Unlock()
}

// Get returns a copy of the vector stored under id
func (idx *Index) Get(id string) ([]float64, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	v, ok := idx.vectors[id]
	if !ok {
		return nil, false
	}
	return append([]float64(nil), v...), true
}

// Len returns the number of indexed vectors
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.vectors)
}

// NearestAbove returns every indexed vector whose cosine similarity with
// query is at least threshold, best match first.
func (idx *Index) NearestAbove(query []float64, threshold float64) ([]Match, error) {
	if len(query) != idx.dim {
		return nil, goerr.Wrap(trend.ErrDimensionMismatch, "cannot query index",
			goerr.V("expected", idx.dim),
			goerr.V("actual", len(query)),
		)
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var matches []Match
	for id, v := range idx.vectors {
		sim, err := Cosine(query, v)
		if err != nil {
			return nil, err
		}
		if sim >= threshold {
			matches = append(matches, Match{ID: id, Score: sim})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})

	return matches, nil
}
