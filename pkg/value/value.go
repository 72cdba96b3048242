// Package value implements the dynamic value model shared by the compiler
// and the script runtime. Values are numbers, strings, or booleans; every
// coercion follows the block-language semantics (numeric strings parse as
// numbers, non-numeric strings coerce to 0, booleans coerce to 1/0) so a
// bad value never aborts a running script.
package value

import (
	"math"
	"strconv"
	"strings"
)

// Value is a dynamically typed script value: float64, string, or bool.
// A nil Value reads as zero/empty/false under every coercion.
type Value interface{}

// ToNumber coerces a value to a number. Unparseable strings and NaN
// coerce to 0.
func ToNumber(v Value) float64 {
	n := ToNumberOrNaN(v)
	if math.IsNaN(n) {
		return 0
	}
	return n
}

// ToNumberOrNaN coerces a value to a number but preserves NaN, for
// operations whose contract distinguishes "not a number" from zero.
func ToNumberOrNaN(v Value) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case bool:
		if x {
			return 1
		}
		return 0
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0
		}
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return math.NaN()
		}
		return n
	case nil:
		return 0
	default:
		return math.NaN()
	}
}

// ToString coerces a value to its string form. Whole numbers render
// without a decimal point.
func ToString(v Value) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return formatNumber(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		if x {
			return "true"
		}
		return "false"
	case nil:
		return ""
	default:
		return ""
	}
}

// ToBoolean coerces a value to a boolean. The strings "", "0", and
// "false" (any case) are false; every other string is true.
func ToBoolean(v Value) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		if x == "" || x == "0" {
			return false
		}
		return !strings.EqualFold(x, "false")
	case float64:
		return x != 0 && !math.IsNaN(x)
	case int:
		return x != 0
	case int64:
		return x != 0
	case nil:
		return false
	default:
		return false
	}
}

// IsNumeric reports whether a value reads cleanly as a number, i.e.
// coercing it does not fall back to the 0 default.
func IsNumeric(v Value) bool {
	switch x := v.(type) {
	case float64, int, int64, bool:
		return true
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return false
		}
		_, err := strconv.ParseFloat(s, 64)
		return err == nil
	default:
		return false
	}
}

// Compare orders two values: negative when a < b, zero when equal,
// positive when a > b. Both sides numeric compares numerically,
// otherwise a case-insensitive string comparison applies.
func Compare(a, b Value) int {
	if IsNumeric(a) && IsNumeric(b) {
		na, nb := ToNumber(a), ToNumber(b)
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		default:
			return 0
		}
	}
	sa := strings.ToLower(ToString(a))
	sb := strings.ToLower(ToString(b))
	return strings.Compare(sa, sb)
}

// Equals reports value equality under Compare ordering.
func Equals(a, b Value) bool {
	return Compare(a, b) == 0
}

// formatNumber renders a float the way scripts expect to read it back:
// integral values have no fraction, non-finite values spell out.
func formatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e21 {
		return strconv.FormatFloat(f, 'f', 0, 64)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
