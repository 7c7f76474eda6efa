package jobfile

import (
	"math"

	"gopkg.in/yaml.v3"

	"github.com/copyleftdev/stratopt/internal/errors"
	"github.com/copyleftdev/stratopt/internal/optimization"
)

// RangeSpec declares a numeric range. Integer defaults to true when start,
// stop and step are all whole numbers.
type RangeSpec struct {
	Start   float64 `json:"start" yaml:"start"`
	Stop    float64 `json:"stop" yaml:"stop"`
	Step    float64 `json:"step" yaml:"step"`
	Integer *bool   `json:"integer,omitempty" yaml:"integer,omitempty"`
}

// DimensionSpec declares one tunable parameter. Exactly one of Fixed, Range
// and Choices must be set.
type DimensionSpec struct {
	Name    string     `json:"name" yaml:"name"`
	Fixed   any        `json:"fixed,omitempty" yaml:"fixed,omitempty"`
	Range   *RangeSpec `json:"range,omitempty" yaml:"range,omitempty"`
	Choices []any      `json:"choices,omitempty" yaml:"choices,omitempty"`
}

// SpaceSpec is an ordered list of dimension declarations.
//
// In YAML it may also be written as a mapping from parameter name to
// declaration; mapping order is preserved.
type SpaceSpec []DimensionSpec

// UnmarshalYAML accepts both the sequence and the mapping form.
func (s *SpaceSpec) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		var dims []DimensionSpec
		if err := node.Decode(&dims); err != nil {
			return err
		}
		*s = dims
		return nil

	case yaml.MappingNode:
		dims := make([]DimensionSpec, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			var d DimensionSpec
			if err := node.Content[i+1].Decode(&d); err != nil {
				return err
			}
			if d.Name != "" && d.Name != node.Content[i].Value {
				return errors.Configurationf("line %d: parameter %q declares conflicting name %q",
					node.Content[i].Line, node.Content[i].Value, d.Name)
			}
			d.Name = node.Content[i].Value
			dims = append(dims, d)
		}
		*s = dims
		return nil

	default:
		return errors.Configurationf("line %d: parameter_space must be a sequence or a mapping", node.Line)
	}
}

// Build validates the declarations and builds a parameter space.
func (s SpaceSpec) Build() (*optimization.ParameterSpace, error) {
	dims := make([]optimization.Dimension, 0, len(s))
	for _, d := range s {
		def, err := d.definition()
		if err != nil {
			return nil, err
		}
		dims = append(dims, optimization.Dimension{Name: d.Name, Definition: def})
	}
	return optimization.NewParameterSpace(dims...)
}

func (d DimensionSpec) definition() (optimization.ParameterDefinition, error) {
	set := 0
	if d.Fixed != nil {
		set++
	}
	if d.Range != nil {
		set++
	}
	if d.Choices != nil {
		set++
	}
	if set != 1 {
		return nil, errors.Configurationf("parameter %q must declare exactly one of fixed, range or choices", d.Name).
			WithComponent("jobfile")
	}

	switch {
	case d.Fixed != nil:
		return optimization.NewFixed(normalizeNumbers([]any{d.Fixed})[0]), nil
	case d.Range != nil:
		r := d.Range
		integer := isWhole(r.Start) && isWhole(r.Stop) && isWhole(r.Step)
		if r.Integer != nil {
			integer = *r.Integer
		}
		return optimization.Range{Start: r.Start, Stop: r.Stop, Step: r.Step, Integer: integer}, nil
	default:
		return optimization.NewChoices(normalizeNumbers(d.Choices)...), nil
	}
}

func isWhole(f float64) bool {
	return f == math.Trunc(f) && !math.IsInf(f, 0)
}

// normalizeNumbers turns whole float64 values into int when every numeric
// choice is whole, so JSON and YAML job definitions produce the same values.
func normalizeNumbers(values []any) []any {
	for _, v := range values {
		if f, ok := v.(float64); ok && !isWhole(f) {
			return values
		}
	}
	out := make([]any, len(values))
	for i, v := range values {
		if f, ok := v.(float64); ok {
			out[i] = int(f)
			continue
		}
		out[i] = v
	}
	return out
}
