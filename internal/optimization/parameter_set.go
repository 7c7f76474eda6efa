package optimization

import (
	"sort"
	"strings"
)

// ParameterSet is one concrete assignment of a value to every parameter name.
type ParameterSet map[string]any

// Clone creates a copy of the parameter set
func (ps ParameterSet) Clone() ParameterSet {
	clone := make(ParameterSet, len(ps))
	for k, v := range ps {
		clone[k] = v
	}
	return clone
}

// Names returns the parameter names in sorted order.
func (ps ParameterSet) Names() []string {
	names := make([]string, 0, len(ps))
	for name := range ps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Key returns a canonical representation usable as a map key. Two sets share
// a key only if they assign values of the same type and value to the same names.
func (ps ParameterSet) Key() string {
	var b strings.Builder
	for i, name := range ps.Names() {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(valueKey(ps[name]))
	}
	return b.String()
}

// String formats the set with sorted names, e.g. {fast_ma: 5, slow_ma: 20}.
func (ps ParameterSet) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, name := range ps.Names() {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(formatValue(ps[name]))
	}
	b.WriteByte('}')
	return b.String()
}
