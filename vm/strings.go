package vm

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unsafe"
)

// ---------------------------------------------------------------------------
// Stringification
// ---------------------------------------------------------------------------

// outerSeq chains the lists and maps being printed so self references print
// as [...] and {...} instead of recursing forever.
type outerSeq struct {
	outer *outerSeq
	obj   Object
}

func (s *outerSeq) contains(obj Object) bool {
	for ; s != nil; s = s.outer {
		if s.obj == obj {
			return true
		}
	}
	return false
}

// FormatNumber formats n the way scripts print numbers.
func FormatNumber(n float64) string {
	switch {
	case math.IsNaN(n):
		return "nan"
	case math.IsInf(n, 1):
		return "+inf"
	case math.IsInf(n, -1):
		return "-inf"
	}
	return strconv.FormatFloat(n, 'g', 16, 64)
}

func writeQuoted(b *strings.Builder, s string) {
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if c >= 0x20 && c < 0x7f {
				b.WriteByte(c)
			} else {
				fmt.Fprintf(b, `\x%02x`, c)
			}
		}
	}
	b.WriteByte('"')
}

func writeValue(b *strings.Builder, v Value, outer *outerSeq, repr bool) {
	switch v.kind {
	case KindNull, KindUndefined:
		b.WriteString("null")
		return
	case KindBool:
		if v.AsBool() {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
		return
	case KindNumber:
		b.WriteString(FormatNumber(v.num))
		return
	}

	switch o := v.obj.(type) {
	case *String:
		if outer == nil && !repr {
			b.WriteString(o.Data)
		} else {
			writeQuoted(b, o.Data)
		}

	case *List:
		if o.Elements.Len() == 0 {
			b.WriteString("[]")
			return
		}
		if outer.contains(o) {
			b.WriteString("[...]")
			return
		}
		seq := &outerSeq{outer: outer, obj: o}
		b.WriteByte('[')
		for i, e := range o.Elements.Data {
			if i != 0 {
				b.WriteString(", ")
			}
			writeValue(b, e, seq, true)
		}
		b.WriteByte(']')

	case *Map:
		if len(o.Entries) == 0 {
			b.WriteString("{}")
			return
		}
		if outer.contains(o) {
			b.WriteString("{...}")
			return
		}
		seq := &outerSeq{outer: outer, obj: o}
		b.WriteByte('{')
		first := true
		o.Each(func(key, value Value) bool {
			if !first {
				b.WriteString(", ")
			}
			first = false
			writeValue(b, key, seq, true)
			b.WriteByte(':')
			writeValue(b, value, seq, true)
			return true
		})
		b.WriteByte('}')

	case *Range:
		fmt.Fprintf(b, "[Range:%s..%s]", FormatNumber(o.From), FormatNumber(o.To))

	case *Module:
		if o.Name != nil {
			fmt.Fprintf(b, "[Module:%s]", o.Name.Data)
		} else {
			fmt.Fprintf(b, "[Module:\"%s\"]", o.Path.Data)
		}

	case *Function:
		fmt.Fprintf(b, "[Func:%s]", o.Name)

	case *Closure:
		fmt.Fprintf(b, "[Closure:%s]", o.Fn.Name)

	case *MethodBind:
		fmt.Fprintf(b, "[MethodBind:%s]", o.Method.Fn.Name)

	case *Fiber:
		fmt.Fprintf(b, "[Fiber:%s]", o.closure.Fn.Name)

	case *Upvalue:
		b.WriteString("[Upvalue]")

	case *Class:
		fmt.Fprintf(b, "[Class:%s]", o.Name.Data)

	case *Instance:
		fmt.Fprintf(b, "['%s' instance at 0x%08x]", o.Class.Name.Data,
			uint32(uintptr(unsafe.Pointer(o))))

	default:
		fatalf("cannot stringify %T", v.obj)
	}
}

// toString returns the string form of v. Strings are returned as is.
func (vm *VM) toString(v Value) *String {
	if s := v.AsString(); s != nil {
		return s
	}
	var b strings.Builder
	writeValue(&b, v, nil, false)
	return vm.newString(b.String())
}

// toRepr returns the repr form of v, quoting strings.
func (vm *VM) toRepr(v Value) *String {
	var b strings.Builder
	writeValue(&b, v, nil, true)
	return vm.newString(b.String())
}

// ToString returns the string form of v without calling script overrides.
func ToString(v Value) string {
	if s := v.AsString(); s != nil {
		return s.Data
	}
	var b strings.Builder
	writeValue(&b, v, nil, false)
	return b.String()
}

// ToRepr returns the repr form of v without calling script overrides.
func ToRepr(v Value) string {
	var b strings.Builder
	writeValue(&b, v, nil, true)
	return b.String()
}

// ---------------------------------------------------------------------------
// String operations
// ---------------------------------------------------------------------------

// stringJoin concatenates two strings. An empty operand returns the other.
func (vm *VM) stringJoin(s1, s2 *String) *String {
	if len(s1.Data) == 0 {
		return s2
	}
	if len(s2.Data) == 0 {
		return s1
	}
	return vm.newString(s1.Data + s2.Data)
}

func (vm *VM) stringLower(s *String) *String {
	lower := strings.ToLower(s.Data)
	if lower == s.Data {
		return s
	}
	return vm.newString(lower)
}

func (vm *VM) stringUpper(s *String) *String {
	upper := strings.ToUpper(s.Data)
	if upper == s.Data {
		return s
	}
	return vm.newString(upper)
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\v' || c == '\f' || c == '\r'
}

// stringStrip trims leading and trailing white space. An already trimmed
// string is returned as is.
func (vm *VM) stringStrip(s *String) *String {
	start, end := 0, len(s.Data)
	for start < end && isSpace(s.Data[start]) {
		start++
	}
	for end > start && isSpace(s.Data[end-1]) {
		end--
	}
	if start == 0 && end == len(s.Data) {
		return s
	}
	return vm.newString(s.Data[start:end])
}

// stringReplace replaces count occurrences of old with new; -1 replaces all.
func (vm *VM) stringReplace(s, old, new *String, count int) *String {
	if len(s.Data) == 0 || len(old.Data) == 0 || count == 0 || old.Data == new.Data {
		return s
	}
	if !strings.Contains(s.Data, old.Data) {
		return s
	}
	return vm.newString(strings.Replace(s.Data, old.Data, new.Data, count))
}

// stringSplit splits s around every sep. sep must not be empty.
func (vm *VM) stringSplit(s, sep *String) *List {
	parts := strings.Split(s.Data, sep.Data)
	list := vm.newList(len(parts))
	vm.pushTempRef(list)
	defer vm.popTempRef()

	if len(parts) == 1 {
		vm.listAppend(list, ObjectValue(s))
		return list
	}
	for _, p := range parts {
		vm.listAppend(list, ObjectValue(vm.newString(p)))
	}
	return list
}

// stringRepeat returns s repeated n times. Non positive counts give an
// empty string.
func (vm *VM) stringRepeat(s *String, n int64) *String {
	if len(s.Data) == 0 {
		return s
	}
	if n <= 0 {
		return vm.newString("")
	}
	return vm.newString(strings.Repeat(s.Data, int(n)))
}

// ---------------------------------------------------------------------------
// Number parsing
// ---------------------------------------------------------------------------

const (
	maxBinLiteralDigits = 66
	maxHexLiteralDigits = 18
	errInvalidNumeric   = "Invalid numeric string."
)

// ParseNumber parses a numeric string with an optional sign: binary (0b),
// hexadecimal (0x) or decimal with an optional fraction and exponent. On
// failure the message describes the problem.
func ParseNumber(s string) (float64, string) {
	sign := 1.0
	str := s
	if strings.HasPrefix(str, "-") {
		sign = -1
		str = str[1:]
	} else if strings.HasPrefix(str, "+") {
		str = str[1:]
	}

	if len(s) >= 3 && (strings.HasPrefix(str, "0b") || strings.HasPrefix(str, "0B")) {
		digits := str[2:]
		if digits == "" {
			return 0, errInvalidNumeric
		}
		var bin uint64
		for i := 0; i < len(digits); i++ {
			c := digits[i]
			if c != '0' && c != '1' {
				return 0, errInvalidNumeric
			}
			if i+2 > maxBinLiteralDigits {
				return 0, "Binary literal is too long."
			}
			bin = bin<<1 | uint64(c-'0')
		}
		return sign * float64(bin), ""
	}

	if len(s) >= 3 && (strings.HasPrefix(str, "0x") || strings.HasPrefix(str, "0X")) {
		digits := str[2:]
		if digits == "" {
			return 0, errInvalidNumeric
		}
		var hex uint64
		for i := 0; i < len(digits); i++ {
			c := digits[i]
			var d byte
			switch {
			case '0' <= c && c <= '9':
				d = c - '0'
			case 'a' <= c && c <= 'f':
				d = c - 'a' + 10
			case 'A' <= c && c <= 'F':
				d = c - 'A' + 10
			default:
				return 0, errInvalidNumeric
			}
			if i+2 > maxHexLiteralDigits {
				return 0, "Hex literal is too long."
			}
			hex = hex<<4 | uint64(d)
		}
		return sign * float64(hex), ""
	}

	if str == "" {
		return 0, errInvalidNumeric
	}

	i := 0
	isDigit := func(c byte) bool { return '0' <= c && c <= '9' }
	for i < len(str) && isDigit(str[i]) {
		i++
	}
	if i < len(str) && str[i] == '.' {
		i++
		for i < len(str) && isDigit(str[i]) {
			i++
		}
	}
	if i < len(str) && (str[i] == 'e' || str[i] == 'E') {
		i++
		if i < len(str) && (str[i] == '+' || str[i] == '-') {
			i++
		}
		if i >= len(str) || !isDigit(str[i]) {
			return 0, errInvalidNumeric
		}
		for i < len(str) && isDigit(str[i]) {
			i++
		}
	}
	if i != len(str) {
		return 0, errInvalidNumeric
	}

	n, err := strconv.ParseFloat(str, 64)
	if err != nil {
		if ne, ok := err.(*strconv.NumError); ok && ne.Err == strconv.ErrRange {
			return 0, "Numeric string is too long."
		}
		return 0, errInvalidNumeric
	}
	return sign * n, ""
}
