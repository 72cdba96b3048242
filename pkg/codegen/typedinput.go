package codegen

import (
	"math"

	"github.com/chazu/stagehand/pkg/runtime"
	"github.com/chazu/stagehand/pkg/value"
)

// InputType is the static type lattice tracked during code generation.
// Consumers pick a coercion based on their own contract, never on the
// producer's assumption; a NUMBER input lets that coercion disappear.
type InputType int

const (
	TypeUnknown InputType = iota
	TypeNumber
	TypeString
	TypeBoolean
	TypeNumberOrNaN
)

func (t InputType) String() string {
	switch t {
	case TypeNumber:
		return "number"
	case TypeString:
		return "string"
	case TypeBoolean:
		return "boolean"
	case TypeNumberOrNaN:
		return "number-or-nan"
	default:
		return "unknown"
	}
}

// TypedInput pairs a generated value closure with its static type.
// Every expression compiles to exactly one TypedInput.
type TypedInput struct {
	Type InputType

	// Eval is the generic form, always present.
	Eval func(*runtime.Thread) value.Value

	// Specialized forms, present when the static type guarantees them.
	num func(*runtime.Thread) float64
	str func(*runtime.Thread) string
	b   func(*runtime.Thread) bool
}

func numberInput(f func(*runtime.Thread) float64) TypedInput {
	return TypedInput{
		Type: TypeNumber,
		Eval: func(th *runtime.Thread) value.Value { return f(th) },
		num:  f,
	}
}

func numberOrNaNInput(f func(*runtime.Thread) float64) TypedInput {
	return TypedInput{
		Type: TypeNumberOrNaN,
		Eval: func(th *runtime.Thread) value.Value { return f(th) },
		num:  f,
	}
}

func stringInput(f func(*runtime.Thread) string) TypedInput {
	return TypedInput{
		Type: TypeString,
		Eval: func(th *runtime.Thread) value.Value { return f(th) },
		str:  f,
	}
}

func boolInput(f func(*runtime.Thread) bool) TypedInput {
	return TypedInput{
		Type: TypeBoolean,
		Eval: func(th *runtime.Thread) value.Value { return f(th) },
		b:    f,
	}
}

func unknownInput(f func(*runtime.Thread) value.Value) TypedInput {
	return TypedInput{Type: TypeUnknown, Eval: f}
}

// AsNumber returns a number-producing closure. Statically NUMBER
// inputs pass through untouched; everything else gets a counted
// runtime coercion.
func (ti TypedInput) AsNumber(job *compileJob) func(*runtime.Thread) float64 {
	switch ti.Type {
	case TypeNumber:
		return ti.num
	case TypeNumberOrNaN:
		// Only the NaN-to-zero check remains.
		job.stats.CoercionSites++
		f := ti.num
		return func(th *runtime.Thread) float64 {
			n := f(th)
			if math.IsNaN(n) {
				return 0
			}
			return n
		}
	default:
		job.stats.CoercionSites++
		eval := ti.Eval
		return func(th *runtime.Thread) float64 {
			return value.ToNumber(eval(th))
		}
	}
}

// AsString returns a string-producing closure, eliding the coercion
// for statically STRING inputs.
func (ti TypedInput) AsString(job *compileJob) func(*runtime.Thread) string {
	if ti.Type == TypeString {
		return ti.str
	}
	job.stats.CoercionSites++
	eval := ti.Eval
	return func(th *runtime.Thread) string {
		return value.ToString(eval(th))
	}
}

// AsBoolean returns a boolean-producing closure. A statically STRING
// input in boolean context is not a compile error; it gets the runtime
// coercion like any other mismatch.
func (ti TypedInput) AsBoolean(job *compileJob) func(*runtime.Thread) bool {
	if ti.Type == TypeBoolean {
		return ti.b
	}
	job.stats.CoercionSites++
	eval := ti.Eval
	return func(th *runtime.Thread) bool {
		return value.ToBoolean(eval(th))
	}
}

// AsRaw returns the uncoerced value closure.
func (ti TypedInput) AsRaw() func(*runtime.Thread) value.Value {
	return ti.Eval
}
