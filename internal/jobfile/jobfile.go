// Package jobfile loads optimization job definitions: the base strategy
// configuration, the parameter space and the optimization config.
package jobfile

import (
	"bytes"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/copyleftdev/stratopt/internal/errors"
	"github.com/copyleftdev/stratopt/internal/optimization"
)

// Job is a complete optimization job definition.
type Job struct {
	Strategy       optimization.StrategyConfig     `json:"strategy" yaml:"strategy"`
	Optimization   optimization.OptimizationConfig `json:"optimization" yaml:"optimization"`
	ParameterSpace SpaceSpec                       `json:"parameter_space" yaml:"parameter_space"`
}

// Load reads and parses the YAML job file at path.
func Load(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(errors.KindConfiguration, err, "read job file %s", path).WithComponent("jobfile")
	}
	return Parse(data)
}

// Parse decodes a YAML job definition. Unknown fields are rejected.
func Parse(data []byte) (*Job, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var job Job
	if err := dec.Decode(&job); err != nil {
		if errors.KindOf(err) == errors.KindConfiguration {
			return nil, err
		}
		return nil, errors.Wrap(errors.KindConfiguration, err, "parse job file").WithComponent("jobfile")
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}
	return &job, nil
}

// Validate checks the parts of the job that can be checked without a
// registry or sampler.
func (j *Job) Validate() error {
	if j.Strategy.Name == "" {
		return errors.Configuration("strategy.name is required").WithComponent("jobfile")
	}
	if _, err := optimization.ParseAlgorithm(string(j.Optimization.Algorithm)); err != nil {
		return err
	}
	if j.Optimization.ObjectiveFunction == "" {
		return errors.Configuration("optimization.objective_function is required").WithComponent("jobfile")
	}
	if len(j.ParameterSpace) == 0 {
		return errors.Configuration("parameter_space must declare at least one parameter").WithComponent("jobfile")
	}
	return nil
}

// Space builds the job's parameter space.
func (j *Job) Space() (*optimization.ParameterSpace, error) {
	return j.ParameterSpace.Build()
}
