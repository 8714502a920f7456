package vm

import (
	"fmt"
	"math"

	"fortio.org/safecast"
)

// ---------------------------------------------------------------------------
// Handles
// ---------------------------------------------------------------------------

// Handle keeps a value alive for the host until it is released.
type Handle struct {
	value      Value
	prev, next *Handle
}

// Value returns the value the handle holds.
func (h *Handle) Value() Value { return h.value }

// NewHandle roots v until ReleaseHandle is called.
func (vm *VM) NewHandle(v Value) *Handle {
	h := &Handle{value: v, next: vm.handles}
	if vm.handles != nil {
		vm.handles.prev = h
	}
	vm.handles = h
	return h
}

// ReleaseHandle unroots the value of h.
func (vm *VM) ReleaseHandle(h *Handle) {
	if h == nil {
		fatalf("released a nil handle")
	}
	if h == vm.handles {
		vm.handles = h.next
	}
	if h.next != nil {
		h.next.prev = h.prev
	}
	if h.prev != nil {
		h.prev.next = h.next
	}
	h.prev, h.next = nil, nil
}

// ---------------------------------------------------------------------------
// Registration
// ---------------------------------------------------------------------------

// RegisterBuiltinFn adds a global builtin function visible to every
// module. Builtins are resolved at compile time, so they must be registered
// before compiling the scripts that use them.
func (vm *VM) RegisterBuiltinFn(name string, fn NativeFn, arity int, doc string) {
	if vm.BuiltinFnIndex(name) != -1 {
		fatalf("builtin function %q already exists", name)
	}
	vm.addBuiltinFn(name, arity, fn, doc)
}

// NewModule creates a native module. It is importable once registered
// with RegisterModule.
func (vm *VM) NewModule(name string) *Handle {
	m := vm.newModuleInternal(name)
	vm.pushTempRef(m)
	defer vm.popTempRef()
	return vm.NewHandle(ObjectValue(m))
}

// NewScriptModule creates an unregistered module for the script at path,
// initialized like the main script of RunFile. Compile it with
// CompileModule and run it with RunModule.
func (vm *VM) NewScriptModule(path string) *Handle {
	m := vm.newModule()
	vm.pushTempRef(m)
	defer vm.popTempRef()
	m.Path = vm.newString(path)
	vm.initializeModule(m, true)
	return vm.NewHandle(ObjectValue(m))
}

// RegisterModule makes the module importable by its name.
func (vm *VM) RegisterModule(module *Handle) {
	m := handleModule(module)
	vm.registerModule(m, m.Name)
}

// ModuleAddFunction defines a native function as a global of the module.
// An arity of -1 accepts any number of arguments.
func (vm *VM) ModuleAddFunction(module *Handle, name string, fn NativeFn, arity int, doc string) {
	if fn == nil {
		fatalf("native function %q is nil", name)
	}
	vm.moduleAddFunction(handleModule(module), name, fn, arity, doc)
}

// ModuleAddGlobal defines or replaces the global name of the module.
func (vm *VM) ModuleAddGlobal(module *Handle, name string, v Value) {
	handleModule(module).SetGlobal(vm, name, v)
}

// ModuleAddSource compiles source into the module, adding its
// definitions to the module's globals.
func (vm *VM) ModuleAddSource(module *Handle, source string) Result {
	m := handleModule(module)
	result := vm.compileModule(m, source, nil)
	if result != ResultSuccess {
		return result
	}
	// Native modules are already initialized; their script part runs now.
	_, result = vm.callFunction(m.Body, nil)
	return result
}

// NewClass creates a class in module. A nil base inherits Object. newFn
// and deleteFn, when set, manage the host payload of each instance.
func (vm *VM) NewClass(name string, base, module *Handle, newFn NewInstanceFn, deleteFn DeleteInstanceFn, doc string) *Handle {
	super := vm.builtinClasses[TypeObject]
	if base != nil {
		super = base.Value().AsClass()
		if super == nil {
			fatalf("base of class %q is not a class", name)
		}
	}
	cls, _ := vm.newClass(name, super, handleModule(module), doc)
	cls.NewFn = newFn
	cls.DeleteFn = deleteFn

	vm.pushTempRef(cls)
	defer vm.popTempRef()
	return vm.NewHandle(ObjectValue(cls))
}

// ClassAddMethod adds a native method to the class. A method named _init
// becomes the constructor; @getter and @setter handle attribute access of
// native instances.
func (vm *VM) ClassAddMethod(class *Handle, name string, fn NativeFn, arity int, doc string) {
	cls := class.Value().AsClass()
	if cls == nil {
		fatalf("ClassAddMethod expects a class handle")
	}
	if fn == nil {
		fatalf("native method %q is nil", name)
	}

	f, _ := vm.newFunction(name, cls.Owner, true, doc)
	vm.pushTempRef(f)
	f.Arity = arity
	f.IsMethod = true
	f.Native = fn
	method := vm.newClosure(f)
	vm.popTempRef()

	vm.pushTempRef(method)
	vm.bindMethod(cls, method)
	vm.popTempRef()
}

func handleModule(h *Handle) *Module {
	if h == nil {
		fatalf("nil module handle")
	}
	m := h.Value().AsModule()
	if m == nil {
		fatalf("expected a module handle, got %s", h.Value().TypeName())
	}
	return m
}

// ---------------------------------------------------------------------------
// Slots
//
// Native functions exchange values with the VM through slots: slot 0 is
// the return value and slots 1..Argc hold the arguments. ReserveSlots makes
// room for more. Outside of a native call the host gets its own slots from
// ReserveSlots.
// ---------------------------------------------------------------------------

func (vm *VM) slotFiber() *Fiber {
	if vm.fiber == nil {
		fatalf("no fiber exists, did you forget to call ReserveSlots()?")
	}
	return vm.fiber
}

func (vm *VM) slotIndex(index int) int {
	f := vm.slotFiber()
	i := f.ret + index
	if index < 0 || i >= len(f.stack) {
		fatalf("slot index %d is too large, did you forget to call ReserveSlots()?", index)
	}
	return i
}

// Slot returns the value of slot index.
func (vm *VM) Slot(index int) Value {
	return vm.fiber.stack[vm.slotIndex(index)]
}

// SetSlot stores v into slot index.
func (vm *VM) SetSlot(index int, v Value) {
	vm.fiber.stack[vm.slotIndex(index)] = v
}

// ReserveSlots makes sure count slots are available.
func (vm *VM) ReserveSlots(count int) {
	if vm.fiber == nil {
		if vm.hostFiber == nil {
			vm.hostFiber = vm.newFiber(nil)
		}
		vm.fiber = vm.hostFiber
	}
	f := vm.fiber
	vm.ensureStackSize(f, f.ret+count)
	// Marked slots end at sp.
	f.sp = max(f.sp, min(f.ret+count, len(f.stack)))
}

// SlotsCount returns the number of usable slots.
func (vm *VM) SlotsCount() int {
	f := vm.slotFiber()
	return len(f.stack) - f.ret
}

// SlotError returns the pending error of the slots and clears it when the
// slots belong to the host. Inside a native call the error stays pending and
// aborts the script once the native returns.
func (vm *VM) SlotError() error {
	f := vm.fiber
	if f == nil || f.err.IsNull() {
		return nil
	}
	err := &RuntimeError{Message: f.errorString()}
	if f == vm.hostFiber {
		f.err = Null
		vm.lastError = err
	}
	return err
}

// Argc returns the number of arguments of the running native function.
func (vm *VM) Argc() int {
	vm.slotFiber()
	return vm.nativeArgc()
}

// CheckArgcRange sets an error unless lo <= argc <= hi.
func (vm *VM) CheckArgcRange(argc, lo, hi int) bool {
	vm.slotFiber()
	return vm.checkArgcRange(argc, lo, hi)
}

func (vm *VM) invalidSlotType(slot int, typeName string) {
	vm.setErrorf("Expected a '%s' at slot %d.", typeName, slot)
}

// ValidateSlotBool returns the boolean in slot or sets an error.
func (vm *VM) ValidateSlotBool(slot int) (bool, bool) {
	v := vm.Slot(slot)
	if !v.IsBool() {
		vm.invalidSlotType(slot, "Boolean")
		return false, false
	}
	return v.AsBool(), true
}

// ValidateSlotNumber returns the number in slot or sets an error.
func (vm *VM) ValidateSlotNumber(slot int) (float64, bool) {
	v := vm.Slot(slot)
	if !v.IsNumber() {
		vm.invalidSlotType(slot, "Number")
		return 0, false
	}
	return v.AsNumber(), true
}

// ValidateSlotInteger returns the integer in slot or sets an error.
func (vm *VM) ValidateSlotInteger(slot int) (int32, bool) {
	n, ok := vm.ValidateSlotNumber(slot)
	if !ok {
		return 0, false
	}
	if math.Floor(n) != n {
		vm.setError("Expected an integer got float.")
		return 0, false
	}
	i, err := safecast.Convert[int32](n)
	if err != nil {
		vm.setErrorf("Integer %s is out of range.", FormatNumber(n))
		return 0, false
	}
	return i, true
}

// ValidateSlotString returns the string in slot or sets an error.
func (vm *VM) ValidateSlotString(slot int) (string, bool) {
	s := vm.Slot(slot).AsString()
	if s == nil {
		vm.invalidSlotType(slot, "String")
		return "", false
	}
	return s.Data, true
}

// ValidateSlotType sets an error unless slot holds a value of type t.
func (vm *VM) ValidateSlotType(slot int, t VarType) bool {
	if vm.Slot(slot).Type() != t {
		vm.invalidSlotType(slot, t.String())
		return false
	}
	return true
}

// ValidateSlotInstanceOf sets an error unless slot holds an instance of
// the class in slot cls.
func (vm *VM) ValidateSlotInstanceOf(slot, cls int) bool {
	inst, class := vm.Slot(slot), vm.Slot(cls)
	if !vm.isType(inst, class) {
		if vm.hasError() {
			return false
		}
		vm.invalidSlotType(slot, class.AsClass().Name.Data)
		return false
	}
	return true
}

// IsSlotInstanceOf reports whether slot inst holds an instance of the
// class in slot cls. The second result is false when cls is not a class.
func (vm *VM) IsSlotInstanceOf(inst, cls int) (bool, bool) {
	is := vm.isType(vm.Slot(inst), vm.Slot(cls))
	return is, !vm.hasError()
}

// GetSlotType returns the type of the value in slot.
func (vm *VM) GetSlotType(slot int) VarType { return vm.Slot(slot).Type() }

// GetSlotBool returns the truthiness of the value in slot.
func (vm *VM) GetSlotBool(slot int) bool { return Truthy(vm.Slot(slot)) }

// GetSlotNumber returns the number in slot, which must hold one.
func (vm *VM) GetSlotNumber(slot int) float64 {
	v := vm.Slot(slot)
	if !v.IsNumber() {
		fatalf("slot %d holds a %s, not a Number", slot, v.TypeName())
	}
	return v.AsNumber()
}

// GetSlotString returns the string in slot, which must hold one.
func (vm *VM) GetSlotString(slot int) string {
	s := vm.Slot(slot).AsString()
	if s == nil {
		fatalf("slot %d holds a %s, not a String", slot, vm.Slot(slot).TypeName())
	}
	return s.Data
}

// GetSlotHandle returns a handle to the value in slot.
func (vm *VM) GetSlotHandle(slot int) *Handle { return vm.NewHandle(vm.Slot(slot)) }

// GetSlotNativeInstance returns the host payload of the instance in slot.
func (vm *VM) GetSlotNativeInstance(slot int) any {
	inst := vm.Slot(slot).AsInstance()
	if inst == nil {
		fatalf("slot %d holds a %s, not an instance", slot, vm.Slot(slot).TypeName())
	}
	return inst.Native
}

// GetSlotHash returns the hash of the hashable value in slot.
func (vm *VM) GetSlotHash(slot int) uint32 {
	v := vm.Slot(slot)
	if !IsHashable(v) {
		fatalf("slot %d holds an unhashable %s", slot, v.TypeName())
	}
	return hashValue(v)
}

func (vm *VM) SetSlotNull(slot int) { vm.SetSlot(slot, Null) }
func (vm *VM) SetSlotBool(slot int, b bool) { vm.SetSlot(slot, BoolValue(b)) }
func (vm *VM) SetSlotNumber(slot int, n float64) { vm.SetSlot(slot, NumberValue(n)) }
func (vm *VM) SetSlotHandle(slot int, h *Handle) { vm.SetSlot(slot, h.Value()) }
func (vm *VM) SetSlotString(slot int, s string) { vm.SetSlot(slot, ObjectValue(vm.newString(s))) }
func (vm *VM) SetSlotValue(slot int, v Value) { vm.SetSlot(slot, v) }
func (vm *VM) GetSlotValue(slot int) Value { return vm.Slot(slot) }
func (vm *VM) SetSlotStringFmt(slot int, format string, args ...any) {
	vm.SetSlot(slot, ObjectValue(vm.newString(fmt.Sprintf(format, args...))))
}

// SetRuntimeError raises msg in the running native function.
func (vm *VM) SetRuntimeError(msg string) {
	vm.slotFiber()
	vm.setError(msg)
}

// SetRuntimeErrorFmt raises a formatted error in the running native
// function.
func (vm *VM) SetRuntimeErrorFmt(format string, args ...any) {
	vm.slotFiber()
	vm.setErrorf(format, args...)
}

// Self returns the host payload of the native instance a method runs on.
func (vm *VM) Self() any {
	inst := vm.slotFiber().self.AsInstance()
	if inst == nil || inst.Native == nil {
		fatalf("self is not a native instance")
	}
	return inst.Native
}

// PlaceSelf stores self of the running method into slot.
func (vm *VM) PlaceSelf(slot int) {
	vm.SetSlot(slot, vm.slotFiber().self)
}

// NewRange stores a new range into slot.
func (vm *VM) NewRange(slot int, from, to float64) {
	vm.SetSlot(slot, ObjectValue(vm.newRange(from, to)))
}

// NewList stores a new empty list into slot.
func (vm *VM) NewList(slot int) {
	vm.SetSlot(slot, ObjectValue(vm.newList(0)))
}

// NewMap stores a new empty map into slot.
func (vm *VM) NewMap(slot int) {
	vm.SetSlot(slot, ObjectValue(vm.newMap()))
}

func (vm *VM) slotList(slot int) *List {
	l := vm.Slot(slot).AsList()
	if l == nil {
		fatalf("slot %d holds a %s, not a List", slot, vm.Slot(slot).TypeName())
	}
	return l
}

// ListInsert inserts the value of slot value into the list in slot list.
// A negative index counts from the end, -1 appending.
func (vm *VM) ListInsert(list, index, value int) bool {
	l := vm.slotList(list)
	if index < 0 {
		index = l.Elements.Len() + index + 1
	}
	if index < 0 || index > l.Elements.Len() {
		vm.setError("Index out of bounds.")
		return false
	}
	vm.listInsert(l, index, vm.Slot(value))
	return true
}

// ListPop removes the element at index from the list in slot list and
// stores it into slot popped when popped is not negative.
func (vm *VM) ListPop(list, index, popped int) bool {
	l := vm.slotList(list)
	if index < 0 {
		index += l.Elements.Len()
	}
	if index < 0 || index >= l.Elements.Len() {
		vm.setError("Index out of bounds.")
		return false
	}
	v := vm.listRemoveAt(l, index)
	if popped >= 0 {
		vm.SetSlot(popped, v)
	}
	return true
}

// ListLength returns the length of the list in slot list.
func (vm *VM) ListLength(list int) int {
	return vm.slotList(list).Elements.Len()
}

// SetAttribute sets the attribute name of the value in slot instance.
func (vm *VM) SetAttribute(instance int, name string, value int) bool {
	s := vm.newString(name)
	vm.pushTempRef(s)
	vm.setAttrib(vm.Slot(instance), s, vm.Slot(value))
	vm.popTempRef()
	return !vm.hasError()
}

// GetAttribute stores the attribute name of the value in slot instance
// into slot index.
func (vm *VM) GetAttribute(instance int, name string, index int) bool {
	s := vm.newString(name)
	vm.pushTempRef(s)
	vm.SetSlot(index, vm.getAttrib(vm.Slot(instance), s))
	vm.popTempRef()
	return !vm.hasError()
}

// newInstanceOf constructs cls with args the way calling the class does.
func (vm *VM) newInstanceOf(cls *Class, args []Value) Value {
	inst := vm.preConstructSelf(cls)
	if vm.hasError() {
		return Null
	}
	if inst.IsObject() {
		vm.pushTempRef(inst.obj)
		defer vm.popTempRef()
	}
	ctor := classCtor(cls)
	if ctor == nil {
		if len(args) != 0 {
			vm.setErrorf("Expected exactly 0 argument(s) for constructor %s.", cls.Name.Data)
		}
		return inst
	}
	ret, _ := vm.callMethod(inst, ctor, args)
	if !inst.IsObjectType(ObjInstance) {
		// Builtin constructors return the new value.
		return ret
	}
	return inst
}

func (vm *VM) slotArgs(argc, argv int) []Value {
	if argc == 0 {
		return nil
	}
	vm.slotIndex(argv + argc - 1)
	start := vm.slotIndex(argv)
	args := make([]Value, argc)
	copy(args, vm.fiber.stack[start:start+argc])
	return args
}

// NewInstanceSlots constructs the class in slot cls with argc arguments
// starting at slot argv and stores the instance into slot index.
func (vm *VM) NewInstanceSlots(cls, index, argc, argv int) bool {
	class := vm.Slot(cls).AsClass()
	if class == nil {
		fatalf("slot %d holds a %s, not a Class", cls, vm.Slot(cls).TypeName())
	}
	vm.SetSlot(index, vm.newInstanceOf(class, vm.slotArgs(argc, argv)))
	return !vm.hasError()
}

// CallFunctionSlots calls the function or class in slot fn with argc
// arguments starting at slot argv. The result goes into slot ret unless
// ret is negative.
func (vm *VM) CallFunctionSlots(fn, argc, argv, ret int) bool {
	callable := vm.Slot(fn)
	args := vm.slotArgs(argc, argv)

	var result Value
	switch o := callable.obj.(type) {
	case *Class:
		result = vm.newInstanceOf(o, args)
	case *Closure:
		if o.Fn.IsMethod {
			fatalf("methods are called through CallMethodSlots")
		}
		result, _ = vm.callFunction(o, args)
	default:
		vm.setError("Expected a Callable.")
		return false
	}
	if ret >= 0 {
		vm.SetSlot(ret, result)
	}
	return !vm.hasError()
}

// CallMethodSlots calls the method name of the value in slot instance.
func (vm *VM) CallMethodSlots(instance int, name string, argc, argv, ret int) bool {
	self := vm.Slot(instance)
	args := vm.slotArgs(argc, argv)

	s := vm.newString(name)
	vm.pushTempRef(s)
	callable, _ := vm.getMethod(self, s)
	vm.popTempRef()
	if vm.hasError() {
		return false
	}

	var result Value
	switch o := callable.obj.(type) {
	case *Class:
		result = vm.newInstanceOf(o, args)
	case *Closure:
		result, _ = vm.callMethod(self, o, args)
	default:
		vm.setErrorf("Instance has no method named '%s'.", name)
		return false
	}
	if ret >= 0 {
		vm.SetSlot(ret, result)
	}
	return !vm.hasError()
}

// ImportModule imports the module at path and stores it into slot index.
func (vm *VM) ImportModule(path string, index int) bool {
	vm.slotFiber()
	p := vm.newString(path)
	vm.pushTempRef(p)
	m := vm.importModule(nil, p)
	vm.popTempRef()
	if m == nil {
		return false
	}
	vm.SetSlot(index, ObjectValue(m))
	if !m.Initialized {
		m.Initialized = true
		vm.callFunction(m.Body, nil)
	}
	return !vm.hasError()
}

// GetClass stores the class of the value in slot instance into slot index.
func (vm *VM) GetClass(instance, index int) {
	vm.SetSlot(index, ObjectValue(vm.getClass(vm.Slot(instance))))
}
