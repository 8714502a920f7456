package vm

import (
	"math"
	"strings"

	"fortio.org/safecast"
)

// ---------------------------------------------------------------------------
// Validators
// ---------------------------------------------------------------------------

const rightOperand = "Right operand"

func (vm *VM) validateNumeric(v Value, name string) (float64, bool) {
	if n, ok := isNumeric(v); ok {
		return n, true
	}
	vm.setErrorf("%s must be a numeric value.", name)
	return 0, false
}

func (vm *VM) validateInteger(v Value, name string) (int64, bool) {
	if i, ok := isInteger(v); ok {
		return i, true
	}
	vm.setErrorf("%s must be an Integer.", name)
	return 0, false
}

func (vm *VM) validateIndex(index int64, size int, container string) bool {
	if index < 0 || int64(size) <= index {
		vm.setErrorf("%s index out of bound.", container)
		return false
	}
	return true
}

// ---------------------------------------------------------------------------
// Operator overloads
// ---------------------------------------------------------------------------

// callUnaryOpMethod calls the overload name of self if it exists. Errors
// raised by the overload are left pending on the running fiber.
func (vm *VM) callUnaryOpMethod(self Value, name string) (Value, bool) {
	m := vm.hasMethod(self, name)
	if m == nil {
		return Null, false
	}
	ret, _ := vm.callMethod(self, m, nil)
	return ret, true
}

func (vm *VM) callBinaryOpMethod(self, other Value, name string) (Value, bool) {
	m := vm.hasMethod(self, name)
	if m == nil {
		return Null, false
	}
	ret, _ := vm.callMethod(self, m, []Value{other})
	return ret, true
}

// instanceBinaryOp tries the overload of op on an instance left operand.
// Inplace operations look for the "op=" method first.
func (vm *VM) instanceBinaryOp(v1, v2 Value, op string, inplace bool) (Value, bool) {
	if !v1.IsObjectType(ObjInstance) {
		return Null, false
	}
	if inplace {
		if ret, ok := vm.callBinaryOpMethod(v1, v2, op+"="); ok {
			return ret, true
		}
	}
	return vm.callBinaryOpMethod(v1, v2, op)
}

func (vm *VM) instanceUnaryOp(v Value, name string) (Value, bool) {
	if !v.IsObjectType(ObjInstance) {
		return Null, false
	}
	return vm.callUnaryOpMethod(v, name)
}

func (vm *VM) unsupportedUnary(v Value, op string) Value {
	vm.setErrorf("Unsupported operand (%s) for unary operator %s.", v.TypeName(), op)
	return Null
}

func (vm *VM) unsupportedBinary(v1, v2 Value, op string) Value {
	vm.setErrorf("Unsupported operand types for operator '%s' %s and %s",
		op, v1.TypeName(), v2.TypeName())
	return Null
}

// numericOp applies fn when v1 is numeric. ok is false when v1 is not
// numeric and other behaviors should be tried.
func (vm *VM) numericOp(v1, v2 Value, fn func(a, b float64) Value) (ret Value, ok bool) {
	n1, isNum := isNumeric(v1)
	if !isNum {
		return Null, false
	}
	n2, valid := vm.validateNumeric(v2, rightOperand)
	if !valid {
		return Null, true
	}
	return fn(n1, n2), true
}

func (vm *VM) bitwiseOp(v1, v2 Value, fn func(a, b int64) (int64, bool)) (ret Value, ok bool) {
	i1, isInt := isInteger(v1)
	if !isInt {
		return Null, false
	}
	i2, valid := vm.validateInteger(v2, rightOperand)
	if !valid {
		return Null, true
	}
	r, valid := fn(i1, i2)
	if !valid {
		vm.setError("Right operand must be a non negative Integer.")
		return Null, true
	}
	return NumberValue(float64(r)), true
}

// ---------------------------------------------------------------------------
// Unary operators
// ---------------------------------------------------------------------------

func (vm *VM) varPositive(v Value) Value {
	if _, ok := isNumeric(v); ok {
		return v
	}
	if ret, ok := vm.instanceUnaryOp(v, "+self"); ok {
		return ret
	}
	return vm.unsupportedUnary(v, "unary +")
}

func (vm *VM) varNegative(v Value) Value {
	if n, ok := isNumeric(v); ok {
		return NumberValue(-n)
	}
	if ret, ok := vm.instanceUnaryOp(v, "-self"); ok {
		return ret
	}
	return vm.unsupportedUnary(v, "unary -")
}

func (vm *VM) varNot(v Value) Value {
	if ret, ok := vm.instanceUnaryOp(v, "!self"); ok {
		return ret
	}
	return BoolValue(!Truthy(v))
}

func (vm *VM) varBitNot(v Value) Value {
	if i, ok := isInteger(v); ok {
		return NumberValue(float64(^i))
	}
	if ret, ok := vm.instanceUnaryOp(v, "~self"); ok {
		return ret
	}
	return vm.unsupportedUnary(v, "unary ~")
}

// ---------------------------------------------------------------------------
// Binary operators
// ---------------------------------------------------------------------------

func (vm *VM) varAdd(v1, v2 Value, inplace bool) Value {
	if ret, ok := vm.numericOp(v1, v2, func(a, b float64) Value { return NumberValue(a + b) }); ok {
		return ret
	}

	switch o1 := v1.obj.(type) {
	case *String:
		if o2 := v2.AsString(); o2 != nil {
			return ObjectValue(vm.stringJoin(o1, o2))
		}
	case *List:
		if o2 := v2.AsList(); o2 != nil {
			if inplace {
				o1.Elements.Concat(vm, &o2.Elements)
				return v1
			}
			return ObjectValue(vm.listAdd(o1, o2))
		}
	}

	if ret, ok := vm.instanceBinaryOp(v1, v2, "+", inplace); ok {
		return ret
	}
	return vm.unsupportedBinary(v1, v2, "+")
}

func (vm *VM) varSubtract(v1, v2 Value, inplace bool) Value {
	if ret, ok := vm.numericOp(v1, v2, func(a, b float64) Value { return NumberValue(a - b) }); ok {
		return ret
	}
	if ret, ok := vm.instanceBinaryOp(v1, v2, "-", inplace); ok {
		return ret
	}
	return vm.unsupportedBinary(v1, v2, "-")
}

func (vm *VM) varMultiply(v1, v2 Value, inplace bool) Value {
	if ret, ok := vm.numericOp(v1, v2, func(a, b float64) Value { return NumberValue(a * b) }); ok {
		return ret
	}
	if ret, ok := vm.instanceBinaryOp(v1, v2, "*", inplace); ok {
		return ret
	}
	if s := v1.AsString(); s != nil {
		if n, ok := isInteger(v2); ok {
			return ObjectValue(vm.stringRepeat(s, n))
		}
	}
	return vm.unsupportedBinary(v1, v2, "*")
}

func (vm *VM) varDivide(v1, v2 Value, inplace bool) Value {
	if ret, ok := vm.numericOp(v1, v2, func(a, b float64) Value { return NumberValue(a / b) }); ok {
		return ret
	}
	if ret, ok := vm.instanceBinaryOp(v1, v2, "/", inplace); ok {
		return ret
	}
	return vm.unsupportedBinary(v1, v2, "/")
}

func (vm *VM) varModulo(v1, v2 Value, inplace bool) Value {
	if ret, ok := vm.numericOp(v1, v2, func(a, b float64) Value { return NumberValue(math.Mod(a, b)) }); ok {
		return ret
	}
	if ret, ok := vm.instanceBinaryOp(v1, v2, "%", inplace); ok {
		return ret
	}
	return vm.unsupportedBinary(v1, v2, "%")
}

func (vm *VM) varExponent(v1, v2 Value, inplace bool) Value {
	if ret, ok := vm.numericOp(v1, v2, func(a, b float64) Value { return NumberValue(math.Pow(a, b)) }); ok {
		return ret
	}
	if ret, ok := vm.instanceBinaryOp(v1, v2, "**", inplace); ok {
		return ret
	}
	return vm.unsupportedBinary(v1, v2, "**")
}

func (vm *VM) varBitAnd(v1, v2 Value, inplace bool) Value {
	if ret, ok := vm.bitwiseOp(v1, v2, func(a, b int64) (int64, bool) { return a & b, true }); ok {
		return ret
	}
	if ret, ok := vm.instanceBinaryOp(v1, v2, "&", inplace); ok {
		return ret
	}
	return vm.unsupportedBinary(v1, v2, "&")
}

func (vm *VM) varBitOr(v1, v2 Value, inplace bool) Value {
	if ret, ok := vm.bitwiseOp(v1, v2, func(a, b int64) (int64, bool) { return a | b, true }); ok {
		return ret
	}
	if ret, ok := vm.instanceBinaryOp(v1, v2, "|", inplace); ok {
		return ret
	}
	return vm.unsupportedBinary(v1, v2, "|")
}

func (vm *VM) varBitXor(v1, v2 Value, inplace bool) Value {
	if ret, ok := vm.bitwiseOp(v1, v2, func(a, b int64) (int64, bool) { return a ^ b, true }); ok {
		return ret
	}
	if ret, ok := vm.instanceBinaryOp(v1, v2, "^", inplace); ok {
		return ret
	}
	return vm.unsupportedBinary(v1, v2, "^")
}

// shiftCount converts a shift operand, rejecting negative counts.
func shiftCount(n int64) (uint, bool) {
	c, err := safecast.Conv[uint](n)
	return c, err == nil
}

func (vm *VM) varBitLshift(v1, v2 Value, inplace bool) Value {
	if ret, ok := vm.bitwiseOp(v1, v2, func(a, b int64) (int64, bool) {
		c, ok := shiftCount(b)
		return a << c, ok
	}); ok {
		return ret
	}
	if ret, ok := vm.instanceBinaryOp(v1, v2, "<<", inplace); ok {
		return ret
	}
	return vm.unsupportedBinary(v1, v2, "<<")
}

func (vm *VM) varBitRshift(v1, v2 Value, inplace bool) Value {
	if ret, ok := vm.bitwiseOp(v1, v2, func(a, b int64) (int64, bool) {
		c, ok := shiftCount(b)
		return a >> c, ok
	}); ok {
		return ret
	}
	if ret, ok := vm.instanceBinaryOp(v1, v2, ">>", inplace); ok {
		return ret
	}
	return vm.unsupportedBinary(v1, v2, ">>")
}

func (vm *VM) varEquals(v1, v2 Value) Value {
	if ret, ok := vm.instanceBinaryOp(v1, v2, "==", false); ok {
		return ret
	}
	return BoolValue(IsEqual(v1, v2))
}

func (vm *VM) varGreater(v1, v2 Value) Value {
	if ret, ok := vm.numericOp(v1, v2, func(a, b float64) Value { return BoolValue(a > b) }); ok {
		return ret
	}
	if ret, ok := vm.instanceBinaryOp(v1, v2, ">", false); ok {
		return ret
	}
	return vm.unsupportedBinary(v1, v2, ">")
}

func (vm *VM) varLesser(v1, v2 Value) Value {
	if ret, ok := vm.numericOp(v1, v2, func(a, b float64) Value { return BoolValue(a < b) }); ok {
		return ret
	}
	if ret, ok := vm.instanceBinaryOp(v1, v2, "<", false); ok {
		return ret
	}
	return vm.unsupportedBinary(v1, v2, "<")
}

// varOpRange builds a range from two numbers, or concatenates the string
// form of v2 to the string v1.
func (vm *VM) varOpRange(v1, v2 Value) Value {
	if v1.IsNumber() && v2.IsNumber() {
		return ObjectValue(vm.newRange(v1.num, v2.num))
	}
	if s := v1.AsString(); s != nil {
		str := vm.varToString(v2, false)
		if str == nil {
			return Null
		}
		return ObjectValue(vm.stringJoin(s, str))
	}
	if ret, ok := vm.instanceBinaryOp(v1, v2, "..", false); ok {
		return ret
	}
	return vm.unsupportedBinary(v1, v2, "..")
}

// varContains implements elem in container.
func (vm *VM) varContains(elem, container Value) bool {
	if !container.IsObject() {
		vm.setErrorf("'%s' is not iterable.", container.TypeName())
		return false
	}

	switch o := container.obj.(type) {
	case *String:
		sub := elem.AsString()
		if sub == nil {
			vm.setError("Expected a string operand.")
			return false
		}
		return strings.Contains(o.Data, sub.Data)

	case *List:
		for _, e := range o.Elements.Data {
			if IsEqual(elem, e) {
				return true
			}
		}
		return false

	case *Map:
		return !o.Get(elem).IsUndefined()
	}

	if ret, ok := vm.instanceBinaryOp(container, elem, "in", false); ok {
		return Truthy(ret)
	}
	vm.setErrorf("Argument of type %s is not iterable.", container.TypeName())
	return false
}

// ---------------------------------------------------------------------------
// Attributes
// ---------------------------------------------------------------------------

func (vm *VM) docString(doc string) Value {
	return ObjectValue(vm.newString(doc))
}

// getAttrib returns the attribute name of on, setting an error when there
// is none.
func (vm *VM) getAttrib(on Value, name *String) Value {
	attrib := name.Data
	if attrib == "_class" {
		return ObjectValue(vm.getClass(on))
	}
	if !on.IsObject() {
		vm.setErrorf("'%s' object has no attribute named '%s'.", on.TypeName(), attrib)
		return Null
	}

	switch o := on.obj.(type) {
	case *String:
		if attrib == "length" {
			return NumberValue(float64(len(o.Data)))
		}

	case *List:
		if attrib == "length" {
			return NumberValue(float64(o.Elements.Len()))
		}

	case *Range:
		switch attrib {
		case "as_list":
			return ObjectValue(vm.rangeAsList(o))
		case "first":
			return NumberValue(o.From)
		case "last":
			return NumberValue(o.To)
		}

	case *Module:
		if v, ok := o.Global(attrib); ok {
			return v
		}

	case *Closure:
		switch attrib {
		case "name":
			return ObjectValue(vm.newString(o.Fn.Name))
		case "_docs":
			return vm.docString(o.Fn.Docstring)
		case "arity":
			return NumberValue(float64(o.Fn.Arity))
		}

	case *MethodBind:
		switch attrib {
		case "_docs":
			return vm.docString(o.Method.Fn.Docstring)
		case "name":
			return ObjectValue(vm.newString(o.Method.Fn.Name))
		case "instance":
			if o.Instance.IsUndefined() {
				return Null
			}
			return o.Instance
		}

	case *Fiber:
		switch attrib {
		case "is_done":
			return BoolValue(o.state == FiberDone)
		case "function":
			return ObjectValue(o.closure)
		}

	case *Class:
		switch attrib {
		case "_docs":
			return vm.docString(o.Docstring)
		case "name":
			return ObjectValue(vm.newString(o.Name.Data))
		case "parent":
			if o.SuperClass != nil {
				return ObjectValue(o.SuperClass)
			}
			return Null
		}
		if v := o.StaticAttribs.Get(ObjectValue(name)); !v.IsUndefined() {
			return v
		}
		if m := o.ownMethod(attrib); m != nil {
			return ObjectValue(vm.newMethodBind(m))
		}

	case *Instance:
		if o.Native != nil {
			if getter := vm.hasMethod(on, getterName); getter != nil {
				ret, _ := vm.callMethod(on, getter, []Value{ObjectValue(name)})
				return ret
			}
		}
		if v := o.Attribs.Get(ObjectValue(name)); !v.IsUndefined() {
			return v
		}
		if m := vm.hasMethod(on, attrib); m != nil {
			mb := vm.newMethodBind(m)
			mb.Instance = on
			return ObjectValue(mb)
		}
	}

	vm.setErrorf("'%s' object has no attribute named '%s'.", on.TypeName(), attrib)
	return Null
}

// setAttrib stores value as the attribute name of on.
func (vm *VM) setAttrib(on Value, name *String, value Value) {
	switch o := on.obj.(type) {
	case *Module:
		o.SetGlobal(vm, name.Data, value)
		return

	case *Class:
		o.StaticAttribs.Set(vm, ObjectValue(name), value)
		return

	case *Instance:
		if o.Native != nil {
			if setter := vm.hasMethod(on, setterName); setter != nil {
				vm.callMethod(on, setter, []Value{ObjectValue(name), value})
				return
			}
		}
		o.Attribs.Set(vm, ObjectValue(name), value)
		return
	}

	vm.setErrorf("'%s' object has no mutable attribute named '%s'", on.TypeName(), name.Data)
}

// ---------------------------------------------------------------------------
// Subscripts
// ---------------------------------------------------------------------------

// normalizeSlice maps a range onto a sequence of count elements and returns
// the first index, the length and whether the slice is reversed.
func (vm *VM) normalizeSlice(r *Range, count int) (start, length int, reversed bool, ok bool) {
	f, okFrom := numberToInteger(r.From)
	t, okTo := numberToInteger(r.To)
	if !okFrom || !okTo {
		vm.setError("Expected a whole number.")
		return 0, 0, false, false
	}

	from, to := int(f), int(t)
	if from < 0 {
		from += count
	}
	if to < 0 {
		to += count
	}
	if to < from {
		from, to = to, from
		reversed = true
	}

	if from < 0 || count <= to {
		// 0..0, 0..-1, -1..0 and -1..-1 slice an empty sequence.
		if count == 0 && (from == 0 || from == -1) && (to == 0 || to == -1) {
			return 0, 0, false, true
		}
		vm.setError("Index out of bound.")
		return 0, 0, false, false
	}
	return from, to - from + 1, reversed, true
}

func (vm *VM) sliceString(s *String, r *Range) *String {
	start, length, reversed, ok := vm.normalizeSlice(r, len(s.Data))
	if !ok {
		return nil
	}
	if start == 0 && length == len(s.Data) && !reversed {
		return s
	}
	slice := []byte(s.Data[start : start+length])
	if reversed {
		for i, j := 0, len(slice)-1; i < j; i, j = i+1, j-1 {
			slice[i], slice[j] = slice[j], slice[i]
		}
	}
	return vm.newString(string(slice))
}

func (vm *VM) sliceList(l *List, r *Range) *List {
	start, length, reversed, ok := vm.normalizeSlice(r, l.Elements.Len())
	if !ok {
		return nil
	}
	slice := vm.newList(length)
	vm.pushTempRef(slice)
	for i := 0; i < length; i++ {
		index := start + i
		if reversed {
			index = start + length - 1 - i
		}
		vm.listAppend(slice, l.Elements.Data[index])
	}
	vm.popTempRef()
	return slice
}

// getSubscript implements on[key].
func (vm *VM) getSubscript(on, key Value) Value {
	switch o := on.obj.(type) {
	case *String:
		if index, ok := isInteger(key); ok {
			if index < 0 {
				index += int64(len(o.Data))
			}
			if index < 0 || index >= int64(len(o.Data)) {
				vm.setError("String index out of bound.")
				return Null
			}
			return ObjectValue(vm.newString(o.Data[index : index+1]))
		}
		if r, ok := key.obj.(*Range); ok {
			if s := vm.sliceString(o, r); s != nil {
				return ObjectValue(s)
			}
			return Null
		}

	case *List:
		if index, ok := isInteger(key); ok {
			if index < 0 {
				index += int64(o.Elements.Len())
			}
			if index < 0 || index >= int64(o.Elements.Len()) {
				vm.setError("List index out of bound.")
				return Null
			}
			return o.Elements.Data[index]
		}
		if r, ok := key.obj.(*Range); ok {
			if l := vm.sliceList(o, r); l != nil {
				return ObjectValue(l)
			}
			return Null
		}

	case *Map:
		v := o.Get(key)
		if v.IsUndefined() {
			if !IsHashable(key) {
				vm.setErrorf("Unhashable key '%s'.", key.TypeName())
				return Null
			}
			repr := vm.varToString(key, true)
			if repr != nil {
				vm.setErrorf("Key '%s' not exists", repr.Data)
			}
			return Null
		}
		return v

	case *Instance:
		if ret, ok := vm.callBinaryOpMethod(on, key, "[]"); ok {
			return ret
		}
	}

	vm.setErrorf("%s type is not subscriptable.", on.TypeName())
	return Null
}

// setSubscript implements on[key] = value.
func (vm *VM) setSubscript(on, key, value Value) {
	switch o := on.obj.(type) {
	case *List:
		index, ok := vm.validateInteger(key, "List index")
		if !ok {
			return
		}
		if index < 0 {
			index += int64(o.Elements.Len())
		}
		if index < 0 || index >= int64(o.Elements.Len()) {
			vm.setError("List index out of bound.")
			return
		}
		o.Elements.Data[index] = value
		return

	case *Map:
		if !IsHashable(key) {
			vm.setErrorf("%s type is not hashable.", key.TypeName())
			return
		}
		o.Set(vm, key, value)
		return

	case *Instance:
		if m := vm.hasMethod(on, "[]="); m != nil {
			vm.callMethod(on, m, []Value{key, value})
			return
		}
	}

	vm.setErrorf("%s type is not subscriptable.", on.TypeName())
}
