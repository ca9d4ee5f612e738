package opsdeck_streaming

import (
	"fmt"
	"reflect"
	"strings"
)

// compiledCondition is a filter condition with its field path pre-parsed
// into ordered segments, so the failure mode of a lookup (missing segment)
// is explicit rather than discovered by string splitting at match time.
type compiledCondition struct {
	path     []string
	operator FilterOperator
	value    any
}

// filterChain is the compiled form of a FilteringConfig. A nil or empty
// chain matches everything.
type filterChain []compiledCondition

func compileFilter(cfg *FilteringConfig) filterChain {
	if cfg == nil || !cfg.Enabled || len(cfg.Conditions) == 0 {
		return nil
	}
	chain := make(filterChain, 0, len(cfg.Conditions))
	for _, cond := range cfg.Conditions {
		chain = append(chain, compiledCondition{
			path:     strings.Split(cond.Field, "."),
			operator: cond.Operator,
			value:    cond.Value,
		})
	}
	return chain
}

// match reports whether the point passes every condition (logical AND).
func (fc filterChain) match(point DataPoint) bool {
	for _, cond := range fc {
		got, found := resolveField(point, cond.path)
		if !compare(cond.operator, got, found, cond.value) {
			return false
		}
	}
	return true
}

// resolveField walks the dot-path through the point. The first segment
// addresses a point field (value, metadata, tags, timestamp); subsequent
// segments descend through nested maps. A missing segment yields
// (nil, false): the field is undefined, not an error, and each operator
// defines how it compares against undefined.
func resolveField(point DataPoint, path []string) (any, bool) {
	if len(path) == 0 {
		return nil, false
	}

	var current any
	switch path[0] {
	case "value":
		current = point.Value
	case "metadata":
		current = point.Metadata
	case "tags":
		current = point.Tags
	case "timestamp":
		current = point.Timestamp
	default:
		return nil, false
	}

	for _, segment := range path[1:] {
		child, ok := lookupKey(current, segment)
		if !ok {
			return nil, false
		}
		current = child
	}
	return current, true
}

func lookupKey(v any, key string) (any, bool) {
	switch m := v.(type) {
	case map[string]any:
		child, ok := m[key]
		return child, ok
	case map[string]string:
		child, ok := m[key]
		return child, ok
	case map[string]float64:
		child, ok := m[key]
		return child, ok
	default:
		return nil, false
	}
}

func compare(op FilterOperator, got any, found bool, want any) bool {
	switch op {
	case OperatorEq:
		return found && valuesEqual(got, want)
	case OperatorNe:
		return !found || !valuesEqual(got, want)
	case OperatorGt:
		g, w, ok := numericPair(got, found, want)
		return ok && g > w
	case OperatorLt:
		g, w, ok := numericPair(got, found, want)
		return ok && g < w
	case OperatorGte:
		g, w, ok := numericPair(got, found, want)
		return ok && g >= w
	case OperatorLte:
		g, w, ok := numericPair(got, found, want)
		return ok && g <= w
	case OperatorIn:
		return found && memberOf(got, want)
	case OperatorContains:
		return found && strings.Contains(stringify(got), stringify(want))
	default:
		return false
	}
}

func valuesEqual(a, b any) bool {
	if fa, aok := toFloat(a); aok {
		if fb, bok := toFloat(b); bok {
			return fa == fb
		}
	}
	return reflect.DeepEqual(a, b)
}

func numericPair(got any, found bool, want any) (g, w float64, ok bool) {
	if !found {
		return 0, 0, false
	}
	g, gok := toFloat(got)
	w, wok := toFloat(want)
	return g, w, gok && wok
}

// memberOf reports whether got appears in want, where want is a list of
// candidate values.
func memberOf(got, want any) bool {
	switch list := want.(type) {
	case []any:
		for _, candidate := range list {
			if valuesEqual(got, candidate) {
				return true
			}
		}
	case []string:
		for _, candidate := range list {
			if valuesEqual(got, candidate) {
				return true
			}
		}
	case []float64:
		for _, candidate := range list {
			if valuesEqual(got, candidate) {
				return true
			}
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
