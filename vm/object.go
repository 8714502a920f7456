package vm

import (
	"fmt"
	"unsafe"
)

// ObjectType identifies the layout of a heap object.
type ObjectType uint8

const (
	ObjString ObjectType = iota
	ObjList
	ObjMap
	ObjRange
	ObjModule
	ObjFunc
	ObjClosure
	ObjMethodBind
	ObjUpvalue
	ObjFiber
	ObjClass
	ObjInstance
)

var objectTypeNames = [...]string{
	ObjString:     "String",
	ObjList:       "List",
	ObjMap:        "Map",
	ObjRange:      "Range",
	ObjModule:     "Module",
	ObjFunc:       "Func",
	ObjClosure:    "Closure",
	ObjMethodBind: "MethodBind",
	ObjUpvalue:    "Upvalue",
	ObjFiber:      "Fiber",
	ObjClass:      "Class",
	ObjInstance:   "Inst",
}

// String returns the type name of the object type.
func (t ObjectType) String() string {
	if int(t) >= len(objectTypeNames) {
		return fmt.Sprintf("ObjectType(%d)", t)
	}
	return objectTypeNames[t]
}

// Object is implemented by every heap allocated value.
type Object interface {
	header() *objHeader
}

// objHeader is embedded in every object. It links the object into the VM's
// heap list and carries the mark bit used by the collector.
type objHeader struct {
	typ    ObjectType
	marked bool
	next   Object
	size   int // accounted size of the object itself, buffers excluded
}

func (h *objHeader) header() *objHeader { return h }

// Type returns the object type.
func (h *objHeader) Type() ObjectType { return h.typ }

// ---------------------------------------------------------------------------
// Object layouts
// ---------------------------------------------------------------------------

// String is an immutable byte string with a precomputed hash.
type String struct {
	objHeader
	Data string
	Hash uint32
}

// List is a growable array of values.
type List struct {
	objHeader
	Elements Buffer[Value]
}

// Range is a half open numeric range [From, To).
type Range struct {
	objHeader
	From float64
	To   float64
}

// Module is a compilation unit: a constant pool, named globals and the
// implicit main body closure.
type Module struct {
	objHeader

	// Name is set for native and named modules. Scripts are identified by
	// Path instead.
	Name *String
	Path *String

	Constants   Buffer[Value]
	GlobalNames Buffer[uint32] // indices into Constants
	Globals     Buffer[Value]

	Body        *Closure
	Initialized bool
}

// NativeFn is the signature of host functions callable from scripts.
// Arguments are read from slots 1..Argc and the result is written to slot 0.
type NativeFn func(vm *VM)

// FnCode is the bytecode of a script function.
type FnCode struct {
	Opcodes   Buffer[byte]
	Lines     Buffer[uint32] // one entry per opcode byte
	StackSize int
}

// Function is either a native function or a bytecode function.
type Function struct {
	objHeader

	Name  string
	Owner *Module

	// Arity is -1 for variadic functions and -2 while the compiler has not
	// yet parsed the parameter list.
	Arity        int
	IsMethod     bool
	Docstring    string
	UpvalueCount int

	Native NativeFn // nil for script functions
	Code   *FnCode  // nil for native functions
}

// IsNative reports whether f is implemented by the host.
func (f *Function) IsNative() bool { return f.Code == nil }

// Closure is a function paired with its captured upvalues.
type Closure struct {
	objHeader
	Fn       *Function
	Upvalues []*Upvalue
}

// MethodBind is a method closure bound to an instance. Instance is
// Undefined while the method is unbound.
type MethodBind struct {
	objHeader
	Method   *Closure
	Instance Value
}

// Upvalue is a captured variable. While open it refers to a slot on the
// stack of fiber; once closed it owns the value.
type Upvalue struct {
	objHeader

	fiber  *Fiber
	slot   int
	closed Value
	isOpen bool

	next *Upvalue // next open upvalue of the fiber, ordered by slot
}

// Get returns the current value of the captured variable.
func (u *Upvalue) Get() Value {
	if u.isOpen {
		return u.fiber.stack[u.slot]
	}
	return u.closed
}

// Set stores v into the captured variable.
func (u *Upvalue) Set(v Value) {
	if u.isOpen {
		u.fiber.stack[u.slot] = v
		return
	}
	u.closed = v
}

func (u *Upvalue) close() {
	u.closed = u.fiber.stack[u.slot]
	u.isOpen = false
	u.fiber = nil
}

// NewInstanceFn creates the host payload of a native instance.
type NewInstanceFn func(vm *VM) any

// DeleteInstanceFn releases the host payload of a native instance when the
// instance is collected.
type DeleteInstanceFn func(vm *VM, native any)

// Class is a script or builtin class.
type Class struct {
	objHeader

	Owner     *Module
	Name      *String
	Docstring string

	// ClassOf is the builtin type this class describes, or TypeInstance for
	// user classes.
	ClassOf    VarType
	SuperClass *Class

	Ctor          *Closure
	Methods       Buffer[*Closure]
	StaticAttribs *Map

	NewFn    NewInstanceFn
	DeleteFn DeleteInstanceFn
}

// Instance is an instance of a user or native class.
type Instance struct {
	objHeader
	Class   *Class
	Attribs *Map
	Native  any
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

func sizeOf[T any]() int {
	var zero T
	return int(unsafe.Sizeof(zero))
}

// newString allocates a string holding s.
func (vm *VM) newString(s string) *String {
	str := &String{Data: s, Hash: hashString(s)}
	vm.allocObject(str, ObjString, sizeOf[String]()+len(s))
	return str
}

// newStringFmt allocates a formatted string.
func (vm *VM) newStringFmt(format string, args ...any) *String {
	return vm.newString(fmt.Sprintf(format, args...))
}

// newList allocates an empty list with room for size elements.
func (vm *VM) newList(size int) *List {
	list := &List{}
	vm.allocObject(list, ObjList, sizeOf[List]())
	if size > 0 {
		vm.pushTempRef(list)
		list.Elements.Reserve(vm, size)
		vm.popTempRef()
	}
	return list
}

func (vm *VM) newMap() *Map {
	m := &Map{}
	vm.allocObject(m, ObjMap, sizeOf[Map]())
	return m
}

func (vm *VM) newRange(from, to float64) *Range {
	r := &Range{From: from, To: to}
	vm.allocObject(r, ObjRange, sizeOf[Range]())
	return r
}

func (vm *VM) newModule() *Module {
	m := &Module{}
	vm.allocObject(m, ObjModule, sizeOf[Module]())
	return m
}

// newFunction allocates a function. Builtin natives have no owner; every
// other function is added to the constant pool of its owner and the index
// is returned.
func (vm *VM) newFunction(name string, owner *Module, native bool, doc string) (*Function, int) {
	if !native && owner == nil {
		fatalf("script function %q has no owner module", name)
	}

	fn := &Function{Owner: owner, Arity: -2, Docstring: doc, Name: name}
	if !native {
		fn.Code = &FnCode{}
	}
	vm.allocObject(fn, ObjFunc, sizeOf[Function]()+sizeOf[FnCode]())

	index := -1
	if owner != nil {
		vm.pushTempRef(fn)
		index = owner.AddConstant(vm, ObjectValue(fn))
		fn.Name = owner.AddString(vm, name).Data
		vm.popTempRef()
	}
	return fn, index
}

func (vm *VM) newClosure(fn *Function) *Closure {
	c := &Closure{Fn: fn, Upvalues: make([]*Upvalue, fn.UpvalueCount)}
	vm.allocObject(c, ObjClosure, sizeOf[Closure]()+fn.UpvalueCount*sizeOf[*Upvalue]())
	return c
}

func (vm *VM) newMethodBind(method *Closure) *MethodBind {
	mb := &MethodBind{Method: method, Instance: Undefined}
	vm.allocObject(mb, ObjMethodBind, sizeOf[MethodBind]())
	return mb
}

func (vm *VM) newUpvalue(fiber *Fiber, slot int) *Upvalue {
	u := &Upvalue{fiber: fiber, slot: slot, isOpen: true}
	vm.allocObject(u, ObjUpvalue, sizeOf[Upvalue]())
	return u
}

// newClass allocates a class. Classes with an owner module are added to its
// constants and defined as a global of the same name; builtin classes have
// no owner.
func (vm *VM) newClass(name string, super *Class, owner *Module, doc string) (*Class, int) {
	cls := &Class{Owner: owner, ClassOf: TypeInstance, SuperClass: super, Docstring: doc}
	vm.allocObject(cls, ObjClass, sizeOf[Class]())

	vm.pushTempRef(cls)
	defer vm.popTempRef()

	cls.StaticAttribs = vm.newMap()

	index := -1
	if owner != nil {
		cls.Name = owner.AddString(vm, name)
		index = owner.AddConstant(vm, ObjectValue(cls))
		owner.SetGlobal(vm, name, ObjectValue(cls))
	} else {
		cls.Name = vm.newString(name)
	}
	return cls, index
}

// newInstance allocates an instance of a user class, running the native new
// callback when the class has one.
func (vm *VM) newInstance(cls *Class) *Instance {
	if cls.ClassOf != TypeInstance {
		fatalf("cannot create an instance of builtin class %s", cls.Name.Data)
	}
	inst := &Instance{Class: cls}
	vm.allocObject(inst, ObjInstance, sizeOf[Instance]())

	vm.pushTempRef(inst)
	if cls.NewFn != nil {
		inst.Native = cls.NewFn(vm)
	}
	inst.Attribs = vm.newMap()
	vm.popTempRef()
	return inst
}

// NewStringObject allocates a string owned by the VM heap.
func (vm *VM) NewStringObject(s string) *String {
	return vm.newString(s)
}

// NewFunctionObject creates a script function owned by module and returns
// it with its constant index.
func (vm *VM) NewFunctionObject(name string, owner *Module, doc string) (*Function, int) {
	return vm.newFunction(name, owner, false, doc)
}

// NewClassObject creates a script class in module with Object as its base.
// The base is replaced by the compiled class body when an explicit parent
// is given.
func (vm *VM) NewClassObject(name string, owner *Module) (*Class, int) {
	return vm.newClass(name, vm.builtinClasses[TypeObject], owner, "")
}

// ---------------------------------------------------------------------------
// Lists and ranges
// ---------------------------------------------------------------------------

// listAppend appends v to list.
func (vm *VM) listAppend(list *List, v Value) {
	if v.IsObject() {
		vm.pushTempRef(v.obj)
		defer vm.popTempRef()
	}
	list.Elements.Write(vm, v)
}

func (vm *VM) listInsert(list *List, index int, v Value) {
	if v.IsObject() {
		vm.pushTempRef(v.obj)
		defer vm.popTempRef()
	}
	list.Elements.Insert(vm, index, v)
}

func (vm *VM) listRemoveAt(list *List, index int) Value {
	removed := list.Elements.Data[index]
	if removed.IsObject() {
		vm.pushTempRef(removed.obj)
		defer vm.popTempRef()
	}
	return list.Elements.RemoveAt(vm, index)
}

// listAdd returns the concatenation of l1 and l2. An empty operand returns
// the other list unchanged.
func (vm *VM) listAdd(l1, l2 *List) *List {
	if l1.Elements.Len() == 0 {
		return l2
	}
	if l2.Elements.Len() == 0 {
		return l1
	}
	list := vm.newList(l1.Elements.Len() + l2.Elements.Len())
	vm.pushTempRef(list)
	list.Elements.Concat(vm, &l1.Elements)
	list.Elements.Concat(vm, &l2.Elements)
	vm.popTempRef()
	return list
}

func (vm *VM) rangeAsList(r *Range) *List {
	if r.From >= r.To {
		return vm.newList(0)
	}
	list := vm.newList(int(r.To - r.From))
	vm.pushTempRef(list)
	for i := r.From; i < r.To; i++ {
		list.Elements.Write(vm, NumberValue(i))
	}
	vm.popTempRef()
	return list
}

// ---------------------------------------------------------------------------
// Module helpers
// ---------------------------------------------------------------------------

// AddConstant adds v to the constant pool unless an identical value is
// already there, and returns its index.
func (m *Module) AddConstant(vm *VM, v Value) int {
	for i, c := range m.Constants.Data {
		if IsSame(c, v) {
			return i
		}
	}
	m.Constants.Write(vm, v)
	return m.Constants.Len() - 1
}

// AddString interns s in the constant pool and returns the string object.
func (m *Module) AddString(vm *VM, s string) *String {
	str, _ := m.AddStringIndex(vm, s)
	return str
}

// AddStringIndex interns s in the constant pool and returns the string and
// its constant index.
func (m *Module) AddStringIndex(vm *VM, s string) (*String, int) {
	for i, c := range m.Constants.Data {
		if str, ok := c.obj.(*String); ok && str.Data == s {
			return str, i
		}
	}
	str := vm.newString(s)
	vm.pushTempRef(str)
	m.Constants.Write(vm, ObjectValue(str))
	vm.popTempRef()
	return str, m.Constants.Len() - 1
}

// StringAt returns the string constant at index, or nil when the constant
// is missing or not a string.
func (m *Module) StringAt(index int) *String {
	if index < 0 || index >= m.Constants.Len() {
		return nil
	}
	str, _ := m.Constants.Data[index].obj.(*String)
	return str
}

// SetGlobal defines or updates the global name and returns its index.
func (m *Module) SetGlobal(vm *VM, name string, v Value) int {
	if i := m.GlobalIndex(name); i != -1 {
		m.Globals.Data[i] = v
		return i
	}
	if v.IsObject() {
		vm.pushTempRef(v.obj)
		defer vm.popTempRef()
	}
	_, nameIndex := m.AddStringIndex(vm, name)
	m.GlobalNames.Write(vm, uint32(nameIndex))
	m.Globals.Write(vm, v)
	return m.Globals.Len() - 1
}

// GlobalIndex returns the index of the global name, or -1.
func (m *Module) GlobalIndex(name string) int {
	for i, nameIndex := range m.GlobalNames.Data {
		str := m.StringAt(int(nameIndex))
		if str == nil {
			fatalf("global name %d of module is not a string", i)
		}
		if str.Data == name {
			return i
		}
	}
	return -1
}

// GlobalName returns the name of the global at index.
func (m *Module) GlobalName(index int) string {
	return m.StringAt(int(m.GlobalNames.Data[index])).Data
}

// Global returns the value of the global name.
func (m *Module) Global(name string) (Value, bool) {
	i := m.GlobalIndex(name)
	if i == -1 {
		return Null, false
	}
	return m.Globals.Data[i], true
}

// TruncateGlobals drops every global past count. The compiler uses it to
// roll back the definitions of a failed compilation.
func (m *Module) TruncateGlobals(count int) {
	m.Globals.Truncate(count)
	m.GlobalNames.Truncate(count)
}

// DisplayName returns the name used in error messages and stack traces.
func (m *Module) DisplayName() string {
	if m.Path != nil {
		return m.Path.Data
	}
	if m.Name != nil {
		return m.Name.Data
	}
	return ""
}

// AddMain creates the implicit main body closure of the module.
func (m *Module) AddMain(vm *VM) {
	if m.Body != nil {
		fatalf("module already has a body")
	}
	m.Initialized = false

	fn, _ := vm.newFunction(mainFnName, m, false, "")
	fn.Arity = 0

	vm.pushTempRef(fn)
	m.Body = vm.newClosure(fn)
	vm.popTempRef()

	m.SetGlobal(vm, mainFnName, ObjectValue(m.Body))
}

const (
	mainFnName = "@main"

	// LiteralFnName is the name given to anonymous function literals.
	LiteralFnName = "@func"

	// CtorName is the name of class constructors.
	CtorName = "_init"

	getterName = "@getter"
	setterName = "@setter"
)
