package value

import (
	"math"
	"testing"
)

func TestToNumber(t *testing.T) {
	tests := []struct {
		name string
		in   Value
		want float64
	}{
		{"float", 3.5, 3.5},
		{"int", 7, 7},
		{"numeric string", "42", 42},
		{"float string", "3.14", 3.14},
		{"padded string", "  8  ", 8},
		{"non-numeric string", "banana", 0},
		{"empty string", "", 0},
		{"true", true, 1},
		{"false", false, 0},
		{"nil", nil, 0},
		{"negative string", "-12.5", -12.5},
		{"exponent string", "1e3", 1000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ToNumber(tt.in); got != tt.want {
				t.Errorf("ToNumber(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestToNumberOrNaN(t *testing.T) {
	if !math.IsNaN(ToNumberOrNaN("banana")) {
		t.Error("expected NaN for non-numeric string")
	}
	if ToNumberOrNaN("5") != 5 {
		t.Error("numeric string should parse")
	}
}

func TestToString(t *testing.T) {
	tests := []struct {
		name string
		in   Value
		want string
	}{
		{"whole float", 5.0, "5"},
		{"fractional", 3.25, "3.25"},
		{"string", "hi", "hi"},
		{"true", true, "true"},
		{"false", false, "false"},
		{"negative", -2.0, "-2"},
		{"nan", math.NaN(), "NaN"},
		{"inf", math.Inf(1), "Infinity"},
		{"nil", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ToString(tt.in); got != tt.want {
				t.Errorf("ToString(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestToBoolean(t *testing.T) {
	tests := []struct {
		name string
		in   Value
		want bool
	}{
		{"true", true, true},
		{"false", false, false},
		{"empty string", "", false},
		{"zero string", "0", false},
		{"false string", "false", false},
		{"FALSE string", "FALSE", false},
		{"other string", "anything", true},
		{"zero", 0.0, false},
		{"nonzero", 0.5, true},
		{"nan", math.NaN(), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ToBoolean(tt.in); got != tt.want {
				t.Errorf("ToBoolean(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

// Coercions must be pure and stable: applying one twice matches applying
// it once.
func TestCoercionIdempotence(t *testing.T) {
	inputs := []Value{3.5, "42", "banana", "", true, false, nil, math.NaN(), "  7 "}
	for _, in := range inputs {
		n := ToNumber(in)
		if n2 := ToNumber(n); n2 != n {
			t.Errorf("ToNumber not idempotent for %v: %v then %v", in, n, n2)
		}
		s := ToString(in)
		if s2 := ToString(s); s2 != s {
			t.Errorf("ToString not idempotent for %v: %q then %q", in, s, s2)
		}
		b := ToBoolean(in)
		if b2 := ToBoolean(b); b2 != b {
			t.Errorf("ToBoolean not idempotent for %v: %v then %v", in, b, b2)
		}
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
		want int
	}{
		{"numeric equal", 5.0, "5", 0},
		{"numeric less", 3.0, 4.0, -1},
		{"numeric greater", "10", "9", 1},
		{"string equal case-insensitive", "Apple", "apple", 0},
		{"string order", "apple", "banana", -1},
		{"mixed falls back to string", "banana", 5.0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compare(tt.a, tt.b)
			if (got < 0) != (tt.want < 0) || (got > 0) != (tt.want > 0) {
				t.Errorf("Compare(%v, %v) = %v, want sign of %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestEquals(t *testing.T) {
	if !Equals("5", 5.0) {
		t.Error("numeric string should equal number")
	}
	if Equals("5", "6") {
		t.Error("distinct numbers must not be equal")
	}
}
