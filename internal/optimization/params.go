package optimization

import (
	"fmt"
	"math"
	"strconv"

	"github.com/copyleftdev/stratopt/internal/errors"
)

// IntParam reads an integer from a loosely typed parameter map. JSON and YAML
// decoders produce float64 and int respectively, so whole floats are accepted.
func IntParam(params map[string]any, key string, def int) (int, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case uint:
		return int(n), nil
	case uint64:
		if n > math.MaxInt {
			return 0, errors.Configurationf("%s: %d overflows int", key, n)
		}
		return int(n), nil
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, errors.Configurationf("%s must be a whole number, got %v", key, n)
		}
		return int(n), nil
	default:
		return 0, errors.Configurationf("%s must be an integer, got %T", key, v)
	}
}

// Int64Param reads an int64, see IntParam.
func Int64Param(params map[string]any, key string, def int64) (int64, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int64:
		return n, nil
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, errors.Wrapf(errors.KindConfiguration, err, "%s must be an integer", key)
		}
		return parsed, nil
	}
	i, err := IntParam(params, key, int(def))
	return int64(i), err
}

// FloatParam reads a float from a loosely typed parameter map.
func FloatParam(params map[string]any, key string, def float64) (float64, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case int32:
		f = float64(n)
	default:
		return 0, errors.Configurationf("%s must be a number, got %T", key, v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errors.Configurationf("%s must be finite, got %v", key, f)
	}
	return f, nil
}

// BoolParam reads a boolean from a loosely typed parameter map.
func BoolParam(params map[string]any, key string, def bool) (bool, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, errors.Configurationf("%s must be a boolean, got %T", key, v)
	}
	return b, nil
}

// RequireParam reports a ConfigurationError when key is absent.
func RequireParam(params map[string]any, key string) error {
	if v, ok := params[key]; !ok || v == nil {
		return errors.Configurationf("missing required parameter %q", key)
	}
	return nil
}

func formatValue(v any) string {
	switch t := v.(type) {
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case string:
		return t
	default:
		return fmt.Sprintf("%v", v)
	}
}
