package sampler

import (
	"iter"

	"github.com/copyleftdev/stratopt/internal/optimization"
)

// GridSearch enumerates the Cartesian product of every dimension.
//
// Dimensions are walked in insertion order with the last dimension varying
// fastest. Combinations are generated one at a time from an index vector, so
// the product is never materialized.
type GridSearch struct {
	dims []optimization.Dimension
	size int
}

// NewGridSearch creates a grid sampler over space.
func NewGridSearch(space *optimization.ParameterSpace) *GridSearch {
	return &GridSearch{
		dims: space.Dimensions(),
		size: space.Cardinality(),
	}
}

// Algorithm implements Sampler.
func (g *GridSearch) Algorithm() optimization.Algorithm {
	return optimization.AlgorithmGridSearch
}

// Len implements Sampler.
func (g *GridSearch) Len() int {
	return g.size
}

// Candidates implements Sampler.
func (g *GridSearch) Candidates() iter.Seq[optimization.ParameterSet] {
	return func(yield func(optimization.ParameterSet) bool) {
		if len(g.dims) == 0 {
			return
		}
		idx := make([]int, len(g.dims))
		for {
			params := make(optimization.ParameterSet, len(g.dims))
			for i, d := range g.dims {
				params[d.Name] = d.Definition.At(idx[i])
			}
			if !yield(params) {
				return
			}
			if !g.advance(idx) {
				return
			}
		}
	}
}

// advance increments idx like an odometer and reports false once every
// combination has been produced.
func (g *GridSearch) advance(idx []int) bool {
	for i := len(idx) - 1; i >= 0; i-- {
		idx[i]++
		if idx[i] < g.dims[i].Definition.Len() {
			return true
		}
		idx[i] = 0
	}
	return false
}
