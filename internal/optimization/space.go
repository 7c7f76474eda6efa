package optimization

import (
	"fmt"
	"math"
	"math/bits"
	"strings"

	"github.com/copyleftdev/stratopt/internal/errors"
)

// rangeTolerance absorbs floating point error when deciding whether stop is
// reachable from start in whole steps.
const rangeTolerance = 1e-9

// maxRangeSteps is the largest step count whose value count still fits in an int.
const maxRangeSteps = float64(math.MaxInt) - 1

// DefinitionKind identifies the variant of a ParameterDefinition.
type DefinitionKind string

const (
	// KindFixed is a parameter pinned to a single value.
	KindFixed DefinitionKind = "fixed"
	// KindRange is a numeric range discretized by a step.
	KindRange DefinitionKind = "range"
	// KindChoices is an ordered set of discrete values.
	KindChoices DefinitionKind = "choices"
)

// ParameterDefinition describes the candidate values of one tunable parameter.
//
// The set of implementations is closed: Fixed, Range and Choices. Consumers
// switch on the concrete type.
type ParameterDefinition interface {
	// Kind returns the variant tag.
	Kind() DefinitionKind
	// Len returns the number of discrete candidate values.
	Len() int
	// At returns the i-th candidate value in canonical order.
	At(i int) any

	validate() error
}

// Fixed pins a parameter to a single value.
type Fixed struct {
	Value any
}

// NewFixed creates a fixed parameter definition.
func NewFixed(value any) Fixed {
	return Fixed{Value: value}
}

// Kind implements ParameterDefinition.
func (f Fixed) Kind() DefinitionKind { return KindFixed }

// Len implements ParameterDefinition.
func (f Fixed) Len() int { return 1 }

// At implements ParameterDefinition.
func (f Fixed) At(int) any { return f.Value }

func (f Fixed) validate() error {
	if f.Value == nil {
		return errors.Configuration("fixed value must not be nil")
	}
	return nil
}

// Range is a numeric interval [Start, Stop] walked in Step increments.
// Integer ranges produce int values, all others produce float64.
type Range struct {
	Start   float64
	Stop    float64
	Step    float64
	Integer bool
}

// NewRange creates a floating point range definition.
func NewRange(start, stop, step float64) Range {
	return Range{Start: start, Stop: stop, Step: step}
}

// NewIntRange creates an integer range definition.
func NewIntRange(start, stop, step int) Range {
	return Range{Start: float64(start), Stop: float64(stop), Step: float64(step), Integer: true}
}

// Kind implements ParameterDefinition.
func (r Range) Kind() DefinitionKind { return KindRange }

// Len implements ParameterDefinition.
func (r Range) Len() int {
	if r.Step <= 0 || r.Stop < r.Start {
		return 0
	}
	span := math.Floor((r.Stop-r.Start)/r.Step + rangeTolerance)
	if span >= maxRangeSteps {
		return math.MaxInt
	}
	return int(span) + 1
}

// At implements ParameterDefinition. Values are computed from the index so
// repeated addition never accumulates error.
func (r Range) At(i int) any {
	v := r.Start + float64(i)*r.Step
	if math.Abs(v-r.Stop) <= rangeTolerance*r.Step {
		v = r.Stop
	}
	if r.Integer {
		return int(math.Round(v))
	}
	return v
}

func (r Range) validate() error {
	for _, v := range []float64{r.Start, r.Stop, r.Step} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.Configurationf("range bounds must be finite, got start=%v stop=%v step=%v", r.Start, r.Stop, r.Step)
		}
	}
	if r.Start >= r.Stop {
		return errors.Configurationf("range start (%v) must be less than stop (%v)", r.Start, r.Stop)
	}
	if r.Step <= 0 {
		return errors.Configurationf("range step must be positive, got %v", r.Step)
	}
	if (r.Stop-r.Start)/r.Step >= maxRangeSteps {
		return errors.Configurationf("range [%v, %v] with step %v has too many values", r.Start, r.Stop, r.Step)
	}
	if r.Integer {
		for _, v := range []float64{r.Start, r.Stop, r.Step} {
			if v != math.Trunc(v) {
				return errors.Configurationf("integer range requires whole numbers, got start=%v stop=%v step=%v", r.Start, r.Stop, r.Step)
			}
		}
	}
	return nil
}

// Choices is an ordered set of discrete candidate values.
type Choices struct {
	Options []any
}

// NewChoices creates a choices definition preserving declaration order.
func NewChoices(options ...any) Choices {
	return Choices{Options: append([]any(nil), options...)}
}

// Kind implements ParameterDefinition.
func (c Choices) Kind() DefinitionKind { return KindChoices }

// Len implements ParameterDefinition.
func (c Choices) Len() int { return len(c.Options) }

// At implements ParameterDefinition.
func (c Choices) At(i int) any { return c.Options[i] }

func (c Choices) validate() error {
	if len(c.Options) == 0 {
		return errors.Configuration("choices must not be empty")
	}
	seen := make(map[string]struct{}, len(c.Options))
	for _, opt := range c.Options {
		if opt == nil {
			return errors.Configuration("choices must not contain nil")
		}
		key := valueKey(opt)
		if _, dup := seen[key]; dup {
			return errors.Configurationf("duplicate choice %v", opt)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// Values returns every candidate value of def in canonical order.
func Values(def ParameterDefinition) []any {
	out := make([]any, def.Len())
	for i := range out {
		out[i] = def.At(i)
	}
	return out
}

// Dimension is a named parameter definition.
type Dimension struct {
	Name       string
	Definition ParameterDefinition
}

// ParameterSpace is an immutable, ordered collection of dimensions.
type ParameterSpace struct {
	dims  []Dimension
	index map[string]int
}

// NewParameterSpace validates dims and builds a space. Dimension order is
// preserved and drives grid enumeration order.
func NewParameterSpace(dims ...Dimension) (*ParameterSpace, error) {
	if len(dims) == 0 {
		return nil, errors.Configuration("parameter space has no dimensions").WithComponent("parameter_space")
	}

	space := &ParameterSpace{
		dims:  make([]Dimension, 0, len(dims)),
		index: make(map[string]int, len(dims)),
	}
	for _, d := range dims {
		if err := validateName(d.Name); err != nil {
			return nil, err
		}
		if _, dup := space.index[d.Name]; dup {
			return nil, errors.Configurationf("duplicate parameter %q", d.Name).WithComponent("parameter_space")
		}
		if d.Definition == nil {
			return nil, errors.Configurationf("parameter %q has no definition", d.Name).WithComponent("parameter_space")
		}
		if err := d.Definition.validate(); err != nil {
			return nil, errors.Wrapf(errors.KindConfiguration, err, "parameter %q", d.Name).WithComponent("parameter_space")
		}
		space.index[d.Name] = len(space.dims)
		space.dims = append(space.dims, d)
	}
	return space, nil
}

// MustParameterSpace is like NewParameterSpace but panics on error.
func MustParameterSpace(dims ...Dimension) *ParameterSpace {
	space, err := NewParameterSpace(dims...)
	if err != nil {
		panic(err)
	}
	return space
}

// Dimensions returns the dimensions in insertion order.
func (s *ParameterSpace) Dimensions() []Dimension {
	return append([]Dimension(nil), s.dims...)
}

// Names returns the parameter names in insertion order.
func (s *ParameterSpace) Names() []string {
	names := make([]string, len(s.dims))
	for i, d := range s.dims {
		names[i] = d.Name
	}
	return names
}

// Lookup returns the definition of the named parameter.
func (s *ParameterSpace) Lookup(name string) (ParameterDefinition, bool) {
	i, ok := s.index[name]
	if !ok {
		return nil, false
	}
	return s.dims[i].Definition, true
}

// Len returns the number of dimensions.
func (s *ParameterSpace) Len() int {
	return len(s.dims)
}

// Cardinality returns the number of grid combinations. The product saturates
// at math.MaxInt instead of overflowing.
func (s *ParameterSpace) Cardinality() int {
	total := uint64(1)
	for _, d := range s.dims {
		hi, lo := bits.Mul64(total, uint64(d.Definition.Len()))
		if hi != 0 || lo > math.MaxInt {
			return math.MaxInt
		}
		total = lo
	}
	return int(total)
}

// Contains reports whether params is a valid combination of this space.
func (s *ParameterSpace) Contains(params ParameterSet) bool {
	if len(params) != len(s.dims) {
		return false
	}
	for _, d := range s.dims {
		v, ok := params[d.Name]
		if !ok {
			return false
		}
		found := false
		for i := 0; i < d.Definition.Len(); i++ {
			if valueKey(d.Definition.At(i)) == valueKey(v) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func validateName(name string) error {
	if name == "" {
		return errors.Configuration("parameter name must not be empty").WithComponent("parameter_space")
	}
	for _, part := range strings.Split(name, ".") {
		if part == "" {
			return errors.Configurationf("parameter name %q has an empty path segment", name).WithComponent("parameter_space")
		}
	}
	return nil
}

// valueKey renders a value with its dynamic type so 1 and 1.0 stay distinct.
func valueKey(v any) string {
	return fmt.Sprintf("%T:%v", v, v)
}
