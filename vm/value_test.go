package vm

import (
	"math"
	"testing"
)

func TestTruthy(t *testing.T) {
	v := NewVM(nil)
	defer v.Free()

	list := v.newList(0)
	full := v.newList(0)
	full.Elements.Write(v, Null)
	m := v.newMap()

	tests := []struct {
		name  string
		value Value
		want  bool
	}{
		{"null", Null, false},
		{"undefined", Undefined, false},
		{"false", False, false},
		{"true", True, true},
		{"zero", NumberValue(0), false},
		{"negative zero", NumberValue(math.Copysign(0, -1)), false},
		{"number", NumberValue(-3), true},
		{"empty string", ObjectValue(v.newString("")), false},
		{"string", ObjectValue(v.newString("x")), true},
		{"empty list", ObjectValue(list), false},
		{"list", ObjectValue(full), true},
		{"empty map", ObjectValue(m), false},
		{"range", ObjectValue(v.newRange(0, 0)), true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Truthy(tc.value); got != tc.want {
				t.Errorf("Truthy() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestIsSameAndIsEqual(t *testing.T) {
	v := NewVM(nil)
	defer v.Free()

	negZero := NumberValue(math.Copysign(0, -1))
	if IsSame(NumberValue(0), negZero) {
		t.Error("IsSame(0, -0) = true, want false")
	}
	if !IsEqual(NumberValue(0), negZero) {
		t.Error("IsEqual(0, -0) = false, want true")
	}

	a, b := v.newString("abc"), v.newString("abc")
	if IsSame(ObjectValue(a), ObjectValue(b)) {
		t.Error("distinct strings are the same object")
	}
	if !IsEqual(ObjectValue(a), ObjectValue(b)) {
		t.Error("equal strings compare unequal")
	}

	l1, l2 := v.newList(0), v.newList(0)
	for _, n := range []float64{1, 2, 3} {
		l1.Elements.Write(v, NumberValue(n))
		l2.Elements.Write(v, NumberValue(n))
	}
	if !IsEqual(ObjectValue(l1), ObjectValue(l2)) {
		t.Error("equal lists compare unequal")
	}
	l2.Elements.Write(v, Null)
	if IsEqual(ObjectValue(l1), ObjectValue(l2)) {
		t.Error("lists of different length compare equal")
	}

	m1, m2 := v.newMap(), v.newMap()
	m1.Set(v, ObjectValue(v.newString("k")), NumberValue(1))
	m2.Set(v, ObjectValue(v.newString("k")), NumberValue(1))
	if !IsEqual(ObjectValue(m1), ObjectValue(m2)) {
		t.Error("equal maps compare unequal")
	}
	m2.Set(v, NumberValue(2), Null)
	if IsEqual(ObjectValue(m1), ObjectValue(m2)) {
		t.Error("maps with different counts compare equal")
	}

	if !IsEqual(ObjectValue(v.newRange(1, 5)), ObjectValue(v.newRange(1, 5))) {
		t.Error("equal ranges compare unequal")
	}
	if IsEqual(NumberValue(1), True) {
		t.Error("1 == true")
	}
	if IsEqual(Null, Undefined) {
		t.Error("null == undefined")
	}
}

func TestHashString(t *testing.T) {
	tests := []struct {
		input string
		want  uint32
	}{
		{"", 2166136261},
		{"a", 0xe40c292c},
		{"foobar", 0xbf9cf968},
	}
	for _, tc := range tests {
		if got := hashString(tc.input); got != tc.want {
			t.Errorf("hashString(%q) = %#x, want %#x", tc.input, got, tc.want)
		}
	}
}

func TestHashNumberNormalizesZero(t *testing.T) {
	if hashNumber(0) != hashNumber(math.Copysign(0, -1)) {
		t.Error("0 and -0 hash differently")
	}
	if hashNumber(1) == hashNumber(2) {
		t.Error("1 and 2 hash the same")
	}
}

func TestTypeName(t *testing.T) {
	v := NewVM(nil)
	defer v.Free()

	tests := []struct {
		value Value
		want  string
	}{
		{Null, "Null"},
		{True, "Bool"},
		{NumberValue(1), "Number"},
		{ObjectValue(v.newString("s")), "String"},
		{ObjectValue(v.newList(0)), "List"},
		{ObjectValue(v.newMap()), "Map"},
		{ObjectValue(v.newRange(0, 1)), "Range"},
	}
	for _, tc := range tests {
		if got := tc.value.TypeName(); got != tc.want {
			t.Errorf("TypeName() = %q, want %q", got, tc.want)
		}
	}
}
