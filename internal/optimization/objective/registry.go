// Package objective holds the scoring functions an optimization run can
// maximize and the registry that resolves them by name.
package objective

import (
	"sort"
	"strings"

	"github.com/copyleftdev/stratopt/internal/errors"
	"github.com/copyleftdev/stratopt/internal/optimization"
)

// Name identifies a registered objective.
type Name string

const (
	SharpeRatio                    Name = "SharpeRatio"
	SortinoRatio                   Name = "SortinoRatio"
	CalmarRatio                    Name = "CalmarRatio"
	ProfitFactor                   Name = "ProfitFactor"
	TotalReturn                    Name = "TotalReturn"
	MinimizeDrawdown               Name = "MinimizeDrawdown"
	WinRate                        Name = "WinRate"
	Balanced                       Name = "Balanced"
	SharpeWithHoldPeriodConstraint Name = "SharpeWithHoldPeriodConstraint"
)

// ScoreFunc converts an analysis result into a score. Higher is better.
type ScoreFunc func(result *optimization.AnalysisResult, params map[string]any) (float64, error)

// Objective is a named scoring rule.
type Objective struct {
	Name        Name
	Description string
	Score       ScoreFunc

	// Validate checks objective params before a run starts. Optional.
	Validate func(params map[string]any) error
}

// Evaluate scores result, rejecting non-finite scores as BacktestError.
func (o Objective) Evaluate(result *optimization.AnalysisResult, params map[string]any) (float64, error) {
	if result == nil {
		return 0, errors.Backtest("backtest returned no analysis result").WithComponent("objective")
	}
	s, err := o.Score(result, params)
	if err != nil {
		return 0, err
	}
	if err := checkFinite(o.Name, s); err != nil {
		return 0, err
	}
	return s, nil
}

// Registry maps names to objectives. Lookups are exact and case sensitive.
type Registry struct {
	entries map[Name]Objective
}

// NewRegistry builds a registry from objs. Duplicate or incomplete entries
// are rejected.
func NewRegistry(objs ...Objective) (*Registry, error) {
	r := &Registry{entries: make(map[Name]Objective, len(objs))}
	for _, o := range objs {
		if err := r.Register(o); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// DefaultRegistry returns a registry with every built-in objective.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(Builtins()...)
	if err != nil {
		panic(err)
	}
	return r
}

// Register adds o to the registry.
func (r *Registry) Register(o Objective) error {
	if o.Name == "" {
		return errors.Configuration("objective name must not be empty").WithComponent("objective")
	}
	if o.Score == nil {
		return errors.Configurationf("objective %q has no score function", o.Name).WithComponent("objective")
	}
	if _, dup := r.entries[o.Name]; dup {
		return errors.Configurationf("objective %q already registered", o.Name).WithComponent("objective")
	}
	r.entries[o.Name] = o
	return nil
}

// Lookup resolves name. Unknown names fail with a ConfigurationError listing
// the registered names.
func (r *Registry) Lookup(name string) (Objective, error) {
	o, ok := r.entries[Name(name)]
	if !ok {
		return Objective{}, errors.Configurationf("unknown objective function %q (valid: %s)",
			name, strings.Join(r.Names(), ", ")).WithComponent("objective")
	}
	return o, nil
}

// Resolve looks up name and validates params against it.
func (r *Registry) Resolve(name string, params map[string]any) (Objective, error) {
	o, err := r.Lookup(name)
	if err != nil {
		return Objective{}, err
	}
	if o.Validate != nil {
		if err := o.Validate(params); err != nil {
			return Objective{}, errors.Wrapf(errors.KindConfiguration, err, "objective %s", o.Name).WithComponent("objective")
		}
	}
	return o, nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, string(n))
	}
	sort.Strings(names)
	return names
}
