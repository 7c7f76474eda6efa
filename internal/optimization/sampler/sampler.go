// Package sampler turns a parameter space into a finite sequence of concrete
// parameter assignments.
package sampler

import (
	"iter"

	"github.com/copyleftdev/stratopt/internal/errors"
	"github.com/copyleftdev/stratopt/internal/optimization"
)

// DefaultSeed is used by RandomSearch when no seed is configured.
const DefaultSeed int64 = 42

// DefaultMaxCombinations bounds grid searches when neither the caller nor the
// algorithm params set a limit.
const DefaultMaxCombinations = 100_000

// Sampler produces candidate parameter sets for an optimization run.
type Sampler interface {
	// Algorithm returns the algorithm implemented by the sampler.
	Algorithm() optimization.Algorithm

	// Len returns the number of candidates the sampler plans to emit. A
	// de-duplicating sampler may emit fewer.
	Len() int

	// Candidates returns a lazy sequence of candidates. Every call starts the
	// sequence from the beginning.
	Candidates() iter.Seq[optimization.ParameterSet]
}

// Defaults carries engine-level fallbacks for algorithm params.
type Defaults struct {
	Seed            int64
	MaxCombinations int
}

// New validates cfg.AlgorithmParams and builds the sampler for cfg.Algorithm.
// All problems are reported as ConfigurationError before anything is sampled.
func New(space *optimization.ParameterSpace, cfg optimization.OptimizationConfig, defaults Defaults) (Sampler, error) {
	if space == nil {
		return nil, errors.Configuration("parameter space is required").WithComponent("sampler")
	}
	if defaults.Seed == 0 {
		defaults.Seed = DefaultSeed
	}
	if defaults.MaxCombinations <= 0 {
		defaults.MaxCombinations = DefaultMaxCombinations
	}

	params := cfg.AlgorithmParams
	switch cfg.Algorithm {
	case optimization.AlgorithmGridSearch:
		limit, err := optimization.IntParam(params, optimization.ParamMaxCombinations, defaults.MaxCombinations)
		if err != nil {
			return nil, err
		}
		if limit <= 0 {
			return nil, errors.Configurationf("%s must be positive, got %d", optimization.ParamMaxCombinations, limit).WithComponent("sampler")
		}
		grid := NewGridSearch(space)
		if n := grid.Len(); n > limit {
			return nil, errors.Configurationf("grid has %d combinations, exceeding the limit of %d", n, limit).WithComponent("sampler")
		}
		return grid, nil

	case optimization.AlgorithmRandomSearch:
		if err := optimization.RequireParam(params, optimization.ParamIterationCount); err != nil {
			return nil, err
		}
		iterations, err := optimization.IntParam(params, optimization.ParamIterationCount, 0)
		if err != nil {
			return nil, err
		}
		if iterations <= 0 {
			return nil, errors.Configurationf("%s must be positive, got %d", optimization.ParamIterationCount, iterations).WithComponent("sampler")
		}
		seed, err := optimization.Int64Param(params, optimization.ParamSeed, defaults.Seed)
		if err != nil {
			return nil, err
		}
		dedupe, err := optimization.BoolParam(params, optimization.ParamDeduplicate, false)
		if err != nil {
			return nil, err
		}
		rs := NewRandomSearch(space, iterations, seed)
		rs.Deduplicate = dedupe
		return rs, nil

	default:
		_, err := optimization.ParseAlgorithm(string(cfg.Algorithm))
		return nil, err
	}
}
