package vm

import (
	"math"
)

// Value is a pocket value: null, a boolean, a number or a reference to a
// heap object.
//
// Values are an explicit tagged struct rather than a NaN-boxed word. Every
// predicate and extractor below is O(1) and allocation free. The zero Value
// is null.
//
// Undefined is internal to the runtime: it marks empty map slots and
// tombstones, a missing self and an unbound method. Scripts never observe it.
type Value struct {
	kind ValueKind
	num  float64 // number payload, or 0/1 for booleans
	obj  Object
}

// ValueKind is the tag of a Value.
type ValueKind uint8

const (
	KindNull      ValueKind = iota // null (zero value)
	KindUndefined                  // internal marker
	KindBool                       // true or false
	KindNumber                     // float64
	KindObject                     // heap object reference
)

// Pre-defined values
var (
	Null      = Value{}
	Undefined = Value{kind: KindUndefined}
	True      = Value{kind: KindBool, num: 1}
	False     = Value{kind: KindBool}
)

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

// BoolValue returns the boolean value b.
func BoolValue(b bool) Value {
	if b {
		return True
	}
	return False
}

// NumberValue returns the number value n.
func NumberValue(n float64) Value {
	return Value{kind: KindNumber, num: n}
}

// ObjectValue wraps a heap object. A nil object yields null.
func ObjectValue(o Object) Value {
	if o == nil {
		return Null
	}
	return Value{kind: KindObject, obj: o}
}

// ---------------------------------------------------------------------------
// Type checking
// ---------------------------------------------------------------------------

// Kind returns the tag of v.
func (v Value) Kind() ValueKind { return v.kind }

// IsNull returns true if v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// IsUndefined returns true if v is the internal undefined marker.
func (v Value) IsUndefined() bool { return v.kind == KindUndefined }

// IsBool returns true if v is a boolean.
func (v Value) IsBool() bool { return v.kind == KindBool }

// IsNumber returns true if v is a number.
func (v Value) IsNumber() bool { return v.kind == KindNumber }

// IsObject returns true if v references a heap object.
func (v Value) IsObject() bool { return v.kind == KindObject }

// IsObjectType returns true if v references a heap object of type t.
func (v Value) IsObjectType(t ObjectType) bool {
	return v.kind == KindObject && v.obj.header().typ == t
}

// ---------------------------------------------------------------------------
// Extraction
// ---------------------------------------------------------------------------

// AsBool returns the boolean payload. Only valid when IsBool.
func (v Value) AsBool() bool { return v.num != 0 }

// AsNumber returns the numeric payload. Only valid when IsNumber.
func (v Value) AsNumber() float64 { return v.num }

// AsObject returns the referenced object, or nil for non-object values.
func (v Value) AsObject() Object { return v.obj }

// AsString returns the referenced String, or nil.
func (v Value) AsString() *String {
	s, _ := v.obj.(*String)
	return s
}

// AsList returns the referenced List, or nil.
func (v Value) AsList() *List {
	l, _ := v.obj.(*List)
	return l
}

// AsMap returns the referenced Map, or nil.
func (v Value) AsMap() *Map {
	m, _ := v.obj.(*Map)
	return m
}

// AsClosure returns the referenced Closure, or nil.
func (v Value) AsClosure() *Closure {
	c, _ := v.obj.(*Closure)
	return c
}

// AsClass returns the referenced Class, or nil.
func (v Value) AsClass() *Class {
	c, _ := v.obj.(*Class)
	return c
}

// AsInstance returns the referenced Instance, or nil.
func (v Value) AsInstance() *Instance {
	i, _ := v.obj.(*Instance)
	return i
}

// AsModule returns the referenced Module, or nil.
func (v Value) AsModule() *Module {
	m, _ := v.obj.(*Module)
	return m
}

// AsFiber returns the referenced Fiber, or nil.
func (v Value) AsFiber() *Fiber {
	f, _ := v.obj.(*Fiber)
	return f
}

// ---------------------------------------------------------------------------
// Public type tags
// ---------------------------------------------------------------------------

// VarType is the host visible type of a value. It also indexes the VM's
// builtin classes, so the order must not change.
type VarType int

const (
	TypeObject VarType = iota
	TypeNull
	TypeBool
	TypeNumber
	TypeString
	TypeList
	TypeMap
	TypeRange
	TypeModule
	TypeClosure
	TypeMethodBind
	TypeFiber
	TypeClass
	TypeInstance
)

var varTypeNames = [...]string{
	TypeObject:     "Object",
	TypeNull:       "Null",
	TypeBool:       "Bool",
	TypeNumber:     "Number",
	TypeString:     "String",
	TypeList:       "List",
	TypeMap:        "Map",
	TypeRange:      "Range",
	TypeModule:     "Module",
	TypeClosure:    "Closure",
	TypeMethodBind: "MethodBind",
	TypeFiber:      "Fiber",
	TypeClass:      "Class",
	TypeInstance:   "Inst",
}

// String returns the builtin class name of the type.
func (t VarType) String() string {
	if t < 0 || int(t) >= len(varTypeNames) {
		return "Unknown"
	}
	return varTypeNames[t]
}

// Type returns the host visible type of v. Undefined reports as null.
func (v Value) Type() VarType {
	switch v.kind {
	case KindBool:
		return TypeBool
	case KindNumber:
		return TypeNumber
	case KindObject:
		return objectVarType(v.obj.header().typ)
	}
	return TypeNull
}

func objectVarType(t ObjectType) VarType {
	switch t {
	case ObjString:
		return TypeString
	case ObjList:
		return TypeList
	case ObjMap:
		return TypeMap
	case ObjRange:
		return TypeRange
	case ObjModule:
		return TypeModule
	case ObjClosure:
		return TypeClosure
	case ObjMethodBind:
		return TypeMethodBind
	case ObjFiber:
		return TypeFiber
	case ObjClass:
		return TypeClass
	case ObjInstance:
		return TypeInstance
	}
	fatalf("object type %s has no public type", t)
	return TypeObject
}

// varObjectType maps a public type to the object type that backs it.
func varObjectType(t VarType) (ObjectType, bool) {
	switch t {
	case TypeString:
		return ObjString, true
	case TypeList:
		return ObjList, true
	case TypeMap:
		return ObjMap, true
	case TypeRange:
		return ObjRange, true
	case TypeModule:
		return ObjModule, true
	case TypeClosure:
		return ObjClosure, true
	case TypeMethodBind:
		return ObjMethodBind, true
	case TypeFiber:
		return ObjFiber, true
	case TypeClass:
		return ObjClass, true
	case TypeInstance:
		return ObjInstance, true
	}
	return 0, false
}

// TypeName returns the type name used in error messages. Instances report
// the name of their class.
func (v Value) TypeName() string {
	switch v.kind {
	case KindNull, KindUndefined:
		return "Null"
	case KindBool:
		return "Bool"
	case KindNumber:
		return "Number"
	}
	if inst, ok := v.obj.(*Instance); ok {
		return inst.Class.Name.Data
	}
	return v.obj.header().typ.String()
}

// ---------------------------------------------------------------------------
// Equality and truthiness
// ---------------------------------------------------------------------------

// IsSame reports identity equality: same tag, same bits, same object.
func IsSame(a, b Value) bool {
	return a.kind == b.kind &&
		math.Float64bits(a.num) == math.Float64bits(b.num) &&
		a.obj == b.obj
}

// IsEqual reports value equality. Numbers compare numerically (so +0 equals
// -0), ranges and strings compare by content, lists and maps structurally.
func IsEqual(a, b Value) bool {
	if IsSame(a, b) {
		return true
	}
	if a.kind == KindNumber && b.kind == KindNumber {
		return a.num == b.num
	}
	if a.kind != KindObject || b.kind != KindObject {
		return false
	}
	if a.obj.header().typ != b.obj.header().typ {
		return false
	}

	switch o1 := a.obj.(type) {
	case *Range:
		o2 := b.obj.(*Range)
		return o1.From == o2.From && o1.To == o2.To

	case *String:
		o2 := b.obj.(*String)
		return o1.Hash == o2.Hash && o1.Data == o2.Data

	case *List:
		o2 := b.obj.(*List)
		if o1.Elements.Len() != o2.Elements.Len() {
			return false
		}
		for i, e := range o1.Elements.Data {
			if !IsEqual(e, o2.Elements.Data[i]) {
				return false
			}
		}
		return true

	case *Map:
		o2 := b.obj.(*Map)
		if o1.Count != o2.Count {
			return false
		}
		for _, e := range o1.Entries {
			if e.Key.IsUndefined() {
				continue
			}
			v := o2.Get(e.Key)
			if v.IsUndefined() || !IsEqual(e.Value, v) {
				return false
			}
		}
		return true
	}
	return false
}

// Truthy returns the boolean interpretation of v: null, false, 0, empty
// strings, lists and maps are false.
func Truthy(v Value) bool {
	switch v.kind {
	case KindNull, KindUndefined:
		return false
	case KindBool:
		return v.num != 0
	case KindNumber:
		return v.num != 0
	}
	switch o := v.obj.(type) {
	case *String:
		return len(o.Data) != 0
	case *List:
		return o.Elements.Len() != 0
	case *Map:
		return o.Count != 0
	}
	return true
}

// ---------------------------------------------------------------------------
// Numeric helpers
// ---------------------------------------------------------------------------

// isNumeric reports whether v can be used as a number. Booleans coerce to
// 0 and 1.
func isNumeric(v Value) (float64, bool) {
	switch v.kind {
	case KindNumber:
		return v.num, true
	case KindBool:
		return v.num, true
	}
	return 0, false
}

// isInteger reports whether v is numeric with no fractional part and within
// the int64 range.
func isInteger(v Value) (int64, bool) {
	n, ok := isNumeric(v)
	if !ok {
		return 0, false
	}
	return numberToInteger(n)
}

func numberToInteger(n float64) (int64, bool) {
	if math.IsNaN(n) || math.IsInf(n, 0) || math.Floor(n) != n {
		return 0, false
	}
	if n < math.MinInt64 || n >= math.MaxInt64 {
		return 0, false
	}
	return int64(n), true
}
