package sampler

import (
	"iter"
	"math/rand"

	"github.com/copyleftdev/stratopt/internal/optimization"
)

// maxDrawAttempts bounds how often a de-duplicating RandomSearch redraws
// before it gives up on finding an unseen assignment.
const maxDrawAttempts = 1000

// RandomSearch draws a fixed number of assignments from a seeded generator.
// Each dimension is sampled independently and uniformly. Duplicates are
// permitted unless Deduplicate is set.
type RandomSearch struct {
	dims        []optimization.Dimension
	size        int
	Iterations  int
	Seed        int64
	Deduplicate bool
}

// NewRandomSearch creates a random sampler. Use New to get validation of
// iterations.
func NewRandomSearch(space *optimization.ParameterSpace, iterations int, seed int64) *RandomSearch {
	return &RandomSearch{
		dims:       space.Dimensions(),
		size:       space.Cardinality(),
		Iterations: iterations,
		Seed:       seed,
	}
}

// Algorithm implements Sampler.
func (r *RandomSearch) Algorithm() optimization.Algorithm {
	return optimization.AlgorithmRandomSearch
}

// Len implements Sampler.
func (r *RandomSearch) Len() int {
	if r.Deduplicate && r.size < r.Iterations {
		return r.size
	}
	return r.Iterations
}

// Candidates implements Sampler. The generator is reseeded on every call so
// the sequence is reproducible.
func (r *RandomSearch) Candidates() iter.Seq[optimization.ParameterSet] {
	return func(yield func(optimization.ParameterSet) bool) {
		rng := rand.New(rand.NewSource(r.Seed)) // #nosec G404 -- reproducible sampling, not security sensitive

		var seen map[string]struct{}
		if r.Deduplicate {
			seen = make(map[string]struct{}, r.Len())
		}

		for n := 0; n < r.Iterations; n++ {
			params := r.draw(rng)
			if seen != nil {
				if len(seen) >= r.size {
					return
				}
				attempts := 1
				for _, dup := seen[params.Key()]; dup; _, dup = seen[params.Key()] {
					if attempts >= maxDrawAttempts {
						return
					}
					params = r.draw(rng)
					attempts++
				}
				seen[params.Key()] = struct{}{}
			}
			if !yield(params) {
				return
			}
		}
	}
}

func (r *RandomSearch) draw(rng *rand.Rand) optimization.ParameterSet {
	params := make(optimization.ParameterSet, len(r.dims))
	for _, d := range r.dims {
		switch def := d.Definition.(type) {
		case optimization.Fixed:
			params[d.Name] = def.Value
		default:
			params[d.Name] = def.At(rng.Intn(def.Len()))
		}
	}
	return params
}
