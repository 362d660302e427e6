package similarity_test

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/m-mizutani/gt"

	"trendscope/internal/domain/trend"
	"trendscope/internal/service/similarity"
)

func TestCosine(t *testing.T) {
	testCases := map[string]struct {
		a, b []float64
		want float64
	}{
		"identical":  {a: []float64{1, 2, 3}, b: []float64{1, 2, 3}, want: 1},
		"opposite":   {a: []float64{1, 0}, b: []float64{-1, 0}, want: -1},
		"orthogonal": {a: []float64{1, 0}, b: []float64{0, 1}, want: 0},
		"scaled":     {a: []float64{1, 1}, b: []float64{3, 3}, want: 1},
		"zero":       {a: []float64{0, 0}, b: []float64{1, 1}, want: 0},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			got, err := similarity.Cosine(tc.a, tc.b)
			gt.NoError(t, err)
			gt.True(t, math.Abs(got-tc.want) < 1e-9)
		})
	}
}

func TestCosineDimensionMismatch(t *testing.T) {
	_, err := similarity.Cosine([]float64{1, 0}, []float64{1, 0, 0})
	gt.Error(t, err)
	gt.True(t, errors.Is(err, trend.ErrDimensionMismatch))
}

func TestValidate(t *testing.T) {
	gt.NoError(t, similarity.Validate([]float64{0.1, 0.2, 0.3}, 3))

	for name, v := range map[string][]float64{
		"missing":   nil,
		"short":     {1, 2},
		"nan":       {1, math.NaN(), 0},
		"infinite":  {1, math.Inf(1), 0},
		"neg infty": {math.Inf(-1), 0, 0},
	} {
		t.Run(name, func(t *testing.T) {
			err := similarity.Validate(v, 3)
			gt.True(t, errors.Is(err, trend.ErrValidation))
		})
	}
}

func TestIndexNearestAbove(t *testing.T) {
	idx := similarity.NewIndex(3)
	gt.NoError(t, idx.Insert("x", []float64{1, 0, 0}))
	gt.NoError(t, idx.Insert("near-x", []float64{0.99, 0.1, 0}))
	gt.NoError(t, idx.Insert("y", []float64{0, 1, 0}))

	matches, err := idx.NearestAbove([]float64{1, 0, 0}, 0.8)
	gt.NoError(t, err)
	gt.A(t, matches).Length(2)
	gt.Equal(t, matches[0].ID, "x")
	gt.Equal(t, matches[1].ID, "near-x")

	idx.Remove("x")
	matches, err = idx.NearestAbove([]float64{1, 0, 0}, 0.8)
	gt.NoError(t, err)
	gt.A(t, matches).Length(1)
	gt.Equal(t, idx.Len(), 2)
}

func TestIndexRejectsOtherDimensions(t *testing.T) {
	idx := similarity.NewIndex(3)

	err := idx.Insert("a", []float64{1, 0})
	gt.True(t, errors.Is(err, trend.ErrDimensionMismatch))

	_, err = idx.NearestAbove([]float64{1, 0, 0, 0}, 0.5)
	gt.True(t, errors.Is(err, trend.ErrDimensionMismatch))
}

func TestIndexInsertCopiesVector(t *testing.T) {
	idx := similarity.NewIndex(2)
	v := []float64{1, 0}
	gt.NoError(t, idx.Insert("a", v))
	v[0] = -1

	got, ok := idx.Get("a")
	gt.True(t, ok)
	gt.Equal(t, got[0], 1.0)
}

func TestIndexConcurrentReaders(t *testing.T) {
	idx := similarity.NewIndex(2)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_ = idx.Insert(fmt.Sprintf("v%d", i), []float64{1, float64(i) / 200})
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				_, err := idx.NearestAbove([]float64{1, 0}, 0.9)
				if err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	gt.Equal(t, idx.Len(), 200)
}

func TestDisjointSet(t *testing.T) {
	ds := similarity.NewDisjointSet("a", "b", "c", "d", "e")
	ds.Union("a", "b")
	ds.Union("b", "c")
	ds.Union("d", "e")

	gt.True(t, ds.Connected("a", "c"))
	gt.False(t, ds.Connected("a", "d"))

	comps := ds.Components()
	gt.A(t, comps).Length(2)
	gt.Equal(t, comps[0], []string{"a", "b", "c"})
	gt.Equal(t, comps[1], []string{"d", "e"})
}

func TestDisjointSetAddsUnknownIDs(t *testing.T) {
	ds := similarity.NewDisjointSet()
	ds.Union("x", "y")
	gt.True(t, ds.Connected("y", "x"))
	gt.A(t, ds.Components()).Length(1)
}
