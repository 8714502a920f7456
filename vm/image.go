package vm

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ---------------------------------------------------------------------------
// Module images
//
// A module image is the compiled form of a module: its constant pool, its
// globals and the index of its main body. Images are CBOR encoded with
// integer keys in canonical form, so compiling the same source twice gives
// the same bytes.
// ---------------------------------------------------------------------------

// ImageVersion is the format version written into module images.
const ImageVersion = 1

// ErrImageVersion is returned when an image was written by another format
// version.
var ErrImageVersion = errors.New("unsupported module image version")

var imageEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	imageEncMode = em
}

type constKind uint8

const (
	constNumber constKind = iota
	constString
	constFunction
	constClass
)

type valueKind uint8

const (
	imageNull valueKind = iota
	imageBool
	imageNumber
	imageConstant // Index refers to the constant pool
	imageBody     // the module's main body closure
	imageName     // the module's name string
	imagePath     // the module's path string
)

type moduleImage struct {
	Version     int          `cbor:"1,keyasint"`
	Name        string       `cbor:"2,keyasint,omitempty"`
	Path        string       `cbor:"3,keyasint,omitempty"`
	Constants   []constImage `cbor:"4,keyasint"`
	GlobalNames []uint32     `cbor:"5,keyasint"`
	Globals     []valueImage `cbor:"6,keyasint"`
	Body        int          `cbor:"7,keyasint"`
}

type constImage struct {
	Kind   constKind   `cbor:"1,keyasint"`
	Number float64     `cbor:"2,keyasint,omitempty"`
	String string      `cbor:"3,keyasint,omitempty"`
	Fn     *fnImage    `cbor:"4,keyasint,omitempty"`
	Class  *classImage `cbor:"5,keyasint,omitempty"`
}

type fnImage struct {
	Name      string   `cbor:"1,keyasint"`
	Doc       string   `cbor:"2,keyasint,omitempty"`
	Arity     int      `cbor:"3,keyasint"`
	IsMethod  bool     `cbor:"4,keyasint,omitempty"`
	Upvalues  int      `cbor:"5,keyasint,omitempty"`
	Code      []byte   `cbor:"6,keyasint"`
	Lines     []uint32 `cbor:"7,keyasint"`
	StackSize int      `cbor:"8,keyasint"`
}

type classImage struct {
	Name string `cbor:"1,keyasint"`
	Doc  string `cbor:"2,keyasint,omitempty"`
}

type valueImage struct {
	Kind   valueKind `cbor:"1,keyasint"`
	Number float64   `cbor:"2,keyasint,omitempty"`
	Index  int       `cbor:"3,keyasint,omitempty"`
}

// EncodeModuleImage serializes the compiled module held by module.
func (vm *VM) EncodeModuleImage(module *Handle) ([]byte, error) {
	m := module.Value().AsModule()
	if m == nil {
		return nil, fmt.Errorf("cannot encode a %s as a module image", module.Value().TypeName())
	}
	if m.Body == nil {
		return nil, fmt.Errorf("module %s has no body", m.DisplayName())
	}

	img := moduleImage{Version: ImageVersion, Body: -1}
	if m.Name != nil {
		img.Name = m.Name.Data
	}
	if m.Path != nil {
		img.Path = m.Path.Data
	}

	for i, c := range m.Constants.Data {
		ci, err := encodeConstant(c)
		if err != nil {
			return nil, fmt.Errorf("constant %d: %w", i, err)
		}
		if c.obj == Object(m.Body.Fn) {
			img.Body = i
		}
		img.Constants = append(img.Constants, ci)
	}
	if img.Body == -1 {
		return nil, fmt.Errorf("module %s: body function is not a constant", m.DisplayName())
	}

	img.GlobalNames = append(img.GlobalNames, m.GlobalNames.Data...)
	for i, g := range m.Globals.Data {
		gi, err := encodeGlobal(m, g)
		if err != nil {
			return nil, fmt.Errorf("global %s: %w", m.GlobalName(i), err)
		}
		img.Globals = append(img.Globals, gi)
	}

	return imageEncMode.Marshal(&img)
}

func encodeConstant(c Value) (constImage, error) {
	if c.IsNumber() {
		return constImage{Kind: constNumber, Number: c.AsNumber()}, nil
	}
	switch o := c.obj.(type) {
	case *String:
		return constImage{Kind: constString, String: o.Data}, nil
	case *Function:
		if o.IsNative() {
			return constImage{}, fmt.Errorf("cannot encode native function %s", o.Name)
		}
		return constImage{Kind: constFunction, Fn: &fnImage{
			Name:      o.Name,
			Doc:       o.Docstring,
			Arity:     o.Arity,
			IsMethod:  o.IsMethod,
			Upvalues:  o.UpvalueCount,
			Code:      o.Code.Opcodes.Data,
			Lines:     o.Code.Lines.Data,
			StackSize: o.Code.StackSize,
		}}, nil
	case *Class:
		return constImage{Kind: constClass, Class: &classImage{Name: o.Name.Data, Doc: o.Docstring}}, nil
	}
	return constImage{}, fmt.Errorf("cannot encode constant of type %s", c.TypeName())
}

func encodeGlobal(m *Module, g Value) (valueImage, error) {
	switch g.kind {
	case KindNull, KindUndefined:
		return valueImage{Kind: imageNull}, nil
	case KindBool:
		return valueImage{Kind: imageBool, Number: g.num}, nil
	case KindNumber:
		return valueImage{Kind: imageNumber, Number: g.num}, nil
	}
	if c, ok := g.obj.(*Closure); ok && c == m.Body {
		return valueImage{Kind: imageBody}, nil
	}
	if s, ok := g.obj.(*String); ok && s == m.Name {
		return valueImage{Kind: imageName}, nil
	}
	if s, ok := g.obj.(*String); ok && s == m.Path {
		return valueImage{Kind: imagePath}, nil
	}
	if s, ok := g.obj.(*String); ok {
		if index := findStringConstant(m, s.Data); index != -1 {
			return valueImage{Kind: imageConstant, Index: index}, nil
		}
	}
	for i, c := range m.Constants.Data {
		if IsSame(c, g) {
			return valueImage{Kind: imageConstant, Index: i}, nil
		}
	}
	return valueImage{}, fmt.Errorf("cannot encode global of type %s", g.TypeName())
}

func findStringConstant(m *Module, s string) int {
	for i, c := range m.Constants.Data {
		if str, ok := c.obj.(*String); ok && str.Data == s {
			return i
		}
	}
	return -1
}

// DecodeModuleImage rebuilds a module from an image written by
// EncodeModuleImage. The module is not registered or run; pass the handle
// to RunModule.
func (vm *VM) DecodeModuleImage(data []byte) (*Handle, error) {
	var img moduleImage
	if err := cbor.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("cannot decode module image: %w", err)
	}
	if img.Version != ImageVersion {
		return nil, fmt.Errorf("%w: %d (want %d)", ErrImageVersion, img.Version, ImageVersion)
	}
	if img.Body < 0 || img.Body >= len(img.Constants) || img.Constants[img.Body].Kind != constFunction {
		return nil, fmt.Errorf("module image body %d is not a function", img.Body)
	}
	if len(img.GlobalNames) != len(img.Globals) {
		return nil, fmt.Errorf("module image has %d global names for %d globals", len(img.GlobalNames), len(img.Globals))
	}

	m := vm.newModule()
	vm.pushTempRef(m)
	defer vm.popTempRef()

	if img.Path != "" {
		m.Path = vm.newString(img.Path)
	}
	if img.Name != "" {
		m.Name = vm.newString(img.Name)
	}

	for i, ci := range img.Constants {
		if err := vm.decodeConstant(m, ci); err != nil {
			return nil, fmt.Errorf("constant %d: %w", i, err)
		}
	}

	body := m.Constants.Data[img.Body].obj.(*Function)
	m.Body = vm.newClosure(body)

	for i, gi := range img.Globals {
		nameIndex := int(img.GlobalNames[i])
		if m.StringAt(nameIndex) == nil {
			return nil, fmt.Errorf("global %d: name %d is not a string constant", i, nameIndex)
		}
		v, err := decodeGlobal(m, gi)
		if err != nil {
			return nil, fmt.Errorf("global %s: %w", m.StringAt(nameIndex).Data, err)
		}
		m.GlobalNames.Write(vm, img.GlobalNames[i])
		m.Globals.Write(vm, v)
	}

	return vm.NewHandle(ObjectValue(m)), nil
}

func (vm *VM) decodeConstant(m *Module, ci constImage) error {
	var v Value
	switch ci.Kind {
	case constNumber:
		v = NumberValue(ci.Number)

	case constString:
		v = ObjectValue(vm.newString(ci.String))

	case constFunction:
		if ci.Fn == nil {
			return errors.New("function constant without a function")
		}
		if len(ci.Fn.Code) != len(ci.Fn.Lines) {
			return fmt.Errorf("function %s has %d code bytes and %d lines", ci.Fn.Name, len(ci.Fn.Code), len(ci.Fn.Lines))
		}
		fn := &Function{
			Name:         ci.Fn.Name,
			Owner:        m,
			Arity:        ci.Fn.Arity,
			IsMethod:     ci.Fn.IsMethod,
			Docstring:    ci.Fn.Doc,
			UpvalueCount: ci.Fn.Upvalues,
			Code:         &FnCode{StackSize: ci.Fn.StackSize},
		}
		vm.allocObject(fn, ObjFunc, sizeOf[Function]()+sizeOf[FnCode]())
		vm.pushTempRef(fn)
		fn.Code.Opcodes.Reserve(vm, len(ci.Fn.Code))
		fn.Code.Opcodes.Data = append(fn.Code.Opcodes.Data, ci.Fn.Code...)
		fn.Code.Lines.Reserve(vm, len(ci.Fn.Lines))
		fn.Code.Lines.Data = append(fn.Code.Lines.Data, ci.Fn.Lines...)
		vm.popTempRef()
		v = ObjectValue(fn)

	case constClass:
		if ci.Class == nil {
			return errors.New("class constant without a class")
		}
		cls, _ := vm.newClass(ci.Class.Name, vm.builtinClasses[TypeObject], nil, ci.Class.Doc)
		cls.Owner = m
		v = ObjectValue(cls)

	default:
		return fmt.Errorf("unknown constant kind %d", ci.Kind)
	}

	if v.IsObject() {
		vm.pushTempRef(v.obj)
		defer vm.popTempRef()
	}
	m.Constants.Write(vm, v)
	return nil
}

func decodeGlobal(m *Module, gi valueImage) (Value, error) {
	switch gi.Kind {
	case imageNull:
		return Null, nil
	case imageBool:
		return BoolValue(gi.Number != 0), nil
	case imageNumber:
		return NumberValue(gi.Number), nil
	case imageBody:
		return ObjectValue(m.Body), nil
	case imageName, imagePath:
		s := m.Name
		if gi.Kind == imagePath {
			s = m.Path
		}
		if s == nil {
			return Null, errors.New("module image has no name or path for the global")
		}
		return ObjectValue(s), nil
	case imageConstant:
		if gi.Index < 0 || gi.Index >= m.Constants.Len() {
			return Null, fmt.Errorf("constant index %d out of range", gi.Index)
		}
		return m.Constants.Data[gi.Index], nil
	}
	return Null, fmt.Errorf("unknown global kind %d", gi.Kind)
}
