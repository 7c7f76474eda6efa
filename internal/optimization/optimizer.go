package optimization

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/copyleftdev/stratopt/internal/errors"
)

// Optimizer defines the interface for optimization engines
type Optimizer interface {
	// Optimize runs the search and always returns a result unless the inputs
	// are invalid.
	Optimize(ctx context.Context, space *ParameterSpace, base StrategyConfig, cfg OptimizationConfig) (*OptimizationResult, error)

	// BestTrial returns the best trial found so far
	BestTrial() *Trial

	// History returns the trials recorded so far
	History() []Trial

	// Stop interrupts a running search at the next trial boundary
	Stop()
}

// Algorithm names a sampling strategy.
type Algorithm string

const (
	// AlgorithmGridSearch enumerates the full Cartesian product.
	AlgorithmGridSearch Algorithm = "GridSearch"
	// AlgorithmRandomSearch draws a fixed number of seeded random samples.
	AlgorithmRandomSearch Algorithm = "RandomSearch"
)

// ParseAlgorithm matches s exactly against the known algorithm names.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(s) {
	case AlgorithmGridSearch, AlgorithmRandomSearch:
		return Algorithm(s), nil
	default:
		return "", errors.Configurationf("unknown algorithm %q (valid: %s, %s)", s, AlgorithmGridSearch, AlgorithmRandomSearch)
	}
}

// Algorithm parameter keys.
const (
	ParamIterationCount  = "iteration_count"
	ParamSeed            = "seed"
	ParamDeduplicate     = "deduplicate"
	ParamMaxCombinations = "max_combinations"
)

// OptimizationConfig selects the algorithm and objective for a run.
type OptimizationConfig struct {
	Algorithm         Algorithm      `json:"algorithm" yaml:"algorithm"`
	ObjectiveFunction string         `json:"objective_function" yaml:"objective_function"`
	ObjectiveParams   map[string]any `json:"objective_params,omitempty" yaml:"objective_params"`
	AlgorithmParams   map[string]any `json:"algorithm_params,omitempty" yaml:"algorithm_params"`
}

// TrialStatus is the lifecycle state of a trial.
type TrialStatus string

const (
	TrialPending   TrialStatus = "pending"
	TrialSucceeded TrialStatus = "succeeded"
	TrialFailed    TrialStatus = "failed"
)

// Trial records one evaluation of a parameter set.
type Trial struct {
	ID           int           `json:"id"`
	Params       ParameterSet  `json:"params"`
	Status       TrialStatus   `json:"status"`
	Score        *float64      `json:"score,omitempty"`
	ErrorKind    errors.Kind   `json:"error_kind,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// Succeeded reports whether the trial produced a score.
func (t *Trial) Succeeded() bool {
	return t != nil && t.Status == TrialSucceeded && t.Score != nil
}

// ScoreValue returns the score and whether one is present.
func (t *Trial) ScoreValue() (float64, bool) {
	if !t.Succeeded() {
		return 0, false
	}
	return *t.Score, true
}

// Clone returns a deep copy of the trial sharing no maps or pointers with t.
func (t *Trial) Clone() Trial {
	c := *t
	c.Params = t.Params.Clone()
	if t.Score != nil {
		score := *t.Score
		c.Score = &score
	}
	return c
}

// TimingInfo records when a run started and ended.
type TimingInfo struct {
	StartedAt time.Time     `json:"started_at"`
	EndedAt   time.Time     `json:"ended_at"`
	Duration  time.Duration `json:"duration"`
}

// OptimizationResult is the immutable outcome of a run.
type OptimizationResult struct {
	BestTrial      *Trial              `json:"best_trial"`
	AllTrials      []Trial             `json:"all_trials"`
	TotalTrials    int                 `json:"total_trials"`
	ErrorSummary   map[errors.Kind]int `json:"error_summary"`
	Timing         TimingInfo          `json:"timing_info"`
	WasInterrupted bool                `json:"was_interrupted"`

	Algorithm     Algorithm  `json:"algorithm"`
	Objective     string     `json:"objective"`
	PlannedTrials int        `json:"planned_trials"`
	Scores        ScoreStats `json:"scores"`
}

// SucceededCount returns the number of trials that produced a score.
func (r *OptimizationResult) SucceededCount() int {
	n := 0
	for i := range r.AllTrials {
		if r.AllTrials[i].Succeeded() {
			n++
		}
	}
	return n
}

// FailedCount returns the number of failed trials.
func (r *OptimizationResult) FailedCount() int {
	return r.TotalTrials - r.SucceededCount()
}

// TopTrials returns up to n succeeded trials ordered by descending score,
// ties broken by trial id.
func (r *OptimizationResult) TopTrials(n int) []Trial {
	succeeded := make([]Trial, 0, len(r.AllTrials))
	for _, t := range r.AllTrials {
		if t.Succeeded() {
			succeeded = append(succeeded, t)
		}
	}
	sort.SliceStable(succeeded, func(i, j int) bool {
		return *succeeded[i].Score > *succeeded[j].Score
	})
	if n >= 0 && n < len(succeeded) {
		succeeded = succeeded[:n]
	}
	return succeeded
}

// FailureSummary renders one line per error kind, e.g.
// "37/100 trials failed with DataError".
func (r *OptimizationResult) FailureSummary() []string {
	var lines []string
	for _, kind := range errors.Kinds {
		if n := r.ErrorSummary[kind]; n > 0 {
			lines = append(lines, fmt.Sprintf("%d/%d trials failed with %s", n, r.TotalTrials, kind))
		}
	}
	return lines
}
