package lib

import (
	"math"
	"math/rand/v2"

	"github.com/ThakeeNathees/pocketlang-sub001/vm"
)

// unary wraps a float64 function as a native function of one argument.
func unary(f func(float64) float64) vm.NativeFn {
	return func(v *vm.VM) {
		n, ok := v.ValidateSlotNumber(1)
		if !ok {
			return
		}
		v.SetSlotNumber(0, f(n))
	}
}

// unaryDomain is unary for functions defined on [-1, 1].
func unaryDomain(f func(float64) float64) vm.NativeFn {
	return func(v *vm.VM) {
		n, ok := v.ValidateSlotNumber(1)
		if !ok {
			return
		}
		if n < -1 || n > 1 {
			v.SetRuntimeError("Argument should be between -1 and +1")
			return
		}
		v.SetSlotNumber(0, f(n))
	}
}

func binary(f func(a, b float64) float64) vm.NativeFn {
	return func(v *vm.VM) {
		a, ok := v.ValidateSlotNumber(1)
		if !ok {
			return
		}
		b, ok := v.ValidateSlotNumber(2)
		if !ok {
			return
		}
		v.SetSlotNumber(0, f(a, b))
	}
}

func sign(n float64) float64 {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}

func mathHash(v *vm.VM) {
	value := v.GetSlotValue(1)
	if !vm.IsHashable(value) {
		v.SetRuntimeErrorFmt("Type '%s' is not hashable.", value.TypeName())
		return
	}
	v.SetSlotNumber(0, float64(v.GetSlotHash(1)))
}

func mathRand(v *vm.VM) {
	v.SetSlotNumber(0, float64(rand.IntN(0x8000)))
}

var mathFunctions = []function{
	{"floor", unary(math.Floor), 1, doc("math.floor(value:Number) -> Number", "Returns the floor value.")},
	{"ceil", unary(math.Ceil), 1, doc("math.ceil(value:Number) -> Number", "Returns the ceiling value.")},
	{"pow", binary(math.Pow), 2, doc("math.pow(a:Number, b:Number) -> Number", "Returns a raised to the power b, like a ** b.")},
	{"sqrt", unary(math.Sqrt), 1, doc("math.sqrt(value:Number) -> Number", "Returns the square root of the value.")},
	{"abs", unary(math.Abs), 1, doc("math.abs(value:Number) -> Number", "Returns the absolute value.")},
	{"sign", unary(sign), 1, doc("math.sign(value:Number) -> Number", "Returns the sign of the value, one of +1, 0 and -1.")},
	{"sin", unary(math.Sin), 1, doc("math.sin(rad:Number) -> Number", "Returns the sine of an angle in radians.")},
	{"cos", unary(math.Cos), 1, doc("math.cos(rad:Number) -> Number", "Returns the cosine of an angle in radians.")},
	{"tan", unary(math.Tan), 1, doc("math.tan(rad:Number) -> Number", "Returns the tangent of an angle in radians.")},
	{"sinh", unary(math.Sinh), 1, doc("math.sinh(val:Number) -> Number", "Returns the hyperbolic sine.")},
	{"cosh", unary(math.Cosh), 1, doc("math.cosh(val:Number) -> Number", "Returns the hyperbolic cosine.")},
	{"tanh", unary(math.Tanh), 1, doc("math.tanh(val:Number) -> Number", "Returns the hyperbolic tangent.")},
	{"asin", unaryDomain(math.Asin), 1, doc("math.asin(num:Number) -> Number", "Returns the arc sine in radians.")},
	{"acos", unaryDomain(math.Acos), 1, doc("math.acos(num:Number) -> Number", "Returns the arc cosine in radians.")},
	{"atan", unary(math.Atan), 1, doc("math.atan(num:Number) -> Number", "Returns the arc tangent in radians.")},
	{"atan2", binary(math.Atan2), 2, doc("math.atan2(y:Number, x:Number) -> Number",
		"Returns the arc tangent of y / x, using the signs of both to determine the quadrant.")},
	{"log10", unary(math.Log10), 1, doc("math.log10(value:Number) -> Number", "Returns the base 10 logarithm.")},
	{"log2", unary(math.Log2), 1, doc("math.log2(value:Number) -> Number", "Returns the base 2 logarithm.")},
	{"ln", unary(math.Log), 1, doc("math.ln(value:Number) -> Number", "Returns the natural logarithm.")},
	{"round", unary(math.Round), 1, doc("math.round(value:Number) -> Number", "Rounds to the nearest integer, halves away from zero.")},
	{"hash", mathHash, 1, doc("math.hash(value:Var) -> Number", "Returns the hash of a hashable value.")},
	{"rand", mathRand, 0, doc("math.rand() -> Number", "Returns a random integer in the range 0..0x7fff.")},
}

func setupMath(v *vm.VM, h *vm.Handle) {
	v.ModuleAddGlobal(h, "PI", vm.NumberValue(math.Pi))
	v.ModuleAddGlobal(h, "E", vm.NumberValue(math.E))
	v.ModuleAddGlobal(h, "NAN", vm.NumberValue(math.NaN()))
	v.ModuleAddGlobal(h, "INFINITY", vm.NumberValue(math.Inf(1)))
}
