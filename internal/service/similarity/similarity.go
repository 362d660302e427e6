// Package similarity holds the embedding-space primitives shared by theme
// aggregation and trend formation: cosine similarity, a concurrent vector
// index and a disjoint set keyed by stable identifiers.
package similarity

import (
	"math"

	"github.com/m-mizutani/goerr/v2"
	"gonum.org/v1/gonum/floats"

	"trendscope/internal/domain/trend"
)

// Cosine returns the cosine similarity of a and b in [-1, 1]. Vectors of
// different length fail with trend.ErrDimensionMismatch. A zero vector has
// similarity 0 with everything.
func Cosine(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, goerr.Wrap(trend.ErrDimensionMismatch, "cannot compare vectors",
			goerr.V("left_dim", len(a)),
			goerr.V("right_dim", len(b)),
		)
	}

	normA, normB := floats.Norm(a, 2), floats.Norm(b, 2)
	if normA == 0 || normB == 0 {
		return 0, nil
	}

	sim := floats.Dot(a, b) / (normA * normB)
	if sim > 1 {
		sim = 1
	} else if sim < -1 {
		sim = -1
	}
	return sim, nil
}

// Validate checks that v has the expected dimension and only finite values
func Validate(v []float64, dim int) error {
	if len(v) == 0 {
		return goerr.Wrap(trend.ErrValidation, "missing embedding")
	}
	if len(v) != dim {
		return goerr.Wrap(trend.ErrValidation, "wrong embedding dimension",
			goerr.V("expected", dim),
			goerr.V("actual", len(v)),
		)
	}
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return goerr.Wrap(trend.ErrValidation, "non-finite embedding value",
				goerr.V("index", i),
			)
		}
	}
	return nil
}

// Mean returns the element-wise weighted mean of vectors. All vectors must
// share one dimension; weights must be positive.
func Mean(vectors [][]float64, weights []float64) []float64 {
	if len(vectors) == 0 {
		return nil
	}
	out := make([]float64, len(vectors[0]))
	for i, v := range vectors {
		floats.AddScaled(out, weights[i], v)
	}
	floats.Scale(1/floats.Sum(weights[:len(vectors)]), out)
	return out
}
