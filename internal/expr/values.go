package expr

import (
	"math"
	"strconv"
	"strings"
	"unicode"
)

// Truthy reports whether v counts as true in a condition. false, 0, NaN, the
// empty string, null and undefined are falsy; every other value is truthy.
func Truthy(v any) bool {
	switch t := normalize(v).(type) {
	case nil:
		return false
	case undefinedType:
		return false
	case bool:
		return t
	case float64:
		return t != 0 && !math.IsNaN(t)
	case string:
		return t != ""
	default:
		return true
	}
}

// ToNumber converts v to a number. Strings must be numeric in full; anything
// that cannot be converted yields NaN.
func ToNumber(v any) float64 {
	switch t := normalize(v).(type) {
	case nil:
		return 0
	case undefinedType:
		return math.NaN()
	case bool:
		if t {
			return 1
		}
		return 0
	case float64:
		return t
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0
		}
		switch s {
		case "Infinity", "+Infinity":
			return math.Inf(1)
		case "-Infinity":
			return math.Inf(-1)
		}
		if strings.IndexFunc(s, func(r rune) bool { return (r != 'e' && r != 'E' && unicode.IsLetter(r)) || r == '_' }) >= 0 {
			return math.NaN()
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}

// ToString renders v the way string concatenation does.
func ToString(v any) string {
	switch t := normalize(v).(type) {
	case nil:
		return "null"
	case undefinedType:
		return "undefined"
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return FormatNumber(t)
	case string:
		return t
	case []any:
		parts := make([]string, len(t))
		for i, item := range t {
			if item == nil {
				continue
			}
			parts[i] = ToString(item)
		}
		return strings.Join(parts, ",")
	case map[string]any:
		return "[object Object]"
	default:
		return "[object Object]"
	}
}

// FormatNumber renders a float without a trailing ".0" for whole numbers.
func FormatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// StrictEqual compares without type conversion.
func StrictEqual(a, b any) bool {
	a, b = normalize(a), normalize(b)
	switch x := a.(type) {
	case nil:
		return b == nil
	case undefinedType:
		_, ok := b.(undefinedType)
		return ok
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case float64:
		y, ok := b.(float64)
		return ok && x == y
	case string:
		y, ok := b.(string)
		return ok && x == y
	default:
		return false
	}
}

// LooseEqual compares with the usual conversions: null and undefined equal
// each other, booleans compare as numbers, and a number compared with a string
// converts the string.
func LooseEqual(a, b any) bool {
	a, b = normalize(a), normalize(b)
	if isNullish(a) || isNullish(b) {
		return isNullish(a) && isNullish(b)
	}

	if x, ok := a.(bool); ok {
		return LooseEqual(boolNumber(x), b)
	}
	if y, ok := b.(bool); ok {
		return LooseEqual(a, boolNumber(y))
	}

	switch x := a.(type) {
	case float64:
		switch y := b.(type) {
		case float64:
			return x == y
		case string:
			return x == ToNumber(y)
		}
	case string:
		switch y := b.(type) {
		case string:
			return x == y
		case float64:
			return ToNumber(x) == y
		}
	}
	return false
}

func isNullish(v any) bool {
	if v == nil {
		return true
	}
	_, ok := v.(undefinedType)
	return ok
}

func boolNumber(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
