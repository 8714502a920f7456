package vm

import (
	"time"

	"github.com/tliron/commonlog"
)

const (
	maxTempRefs            = 64
	defaultInitialGC       = 10 * 1024 * 1024
	defaultMinHeapSize     = 1024 * 1024
	defaultHeapFillPercent = 75
)

var gcLog = commonlog.GetLogger("pocket.gc")

// GCStats describes one garbage collection cycle.
type GCStats struct {
	Cycle    int
	Before   int // accounted bytes when the cycle started
	After    int // accounted bytes of the surviving objects
	Freed    int // Before - After
	Objects  int // objects swept
	Duration time.Duration
}

// RootMarker is implemented by collaborators that hold heap objects the VM
// cannot see, such as an in-progress compilation.
type RootMarker interface {
	MarkRoots(vm *VM)
}

// ---------------------------------------------------------------------------
// Allocation accounting
// ---------------------------------------------------------------------------

// reallocate accounts a change of newSize-oldSize bytes and runs a
// collection when the heap crossed the threshold. No allocation is allowed
// while collecting.
func (vm *VM) reallocate(oldSize, newSize int) {
	if vm.collecting {
		if newSize > 0 {
			fatalf("allocation while collecting garbage")
		}
		return
	}

	vm.bytesAllocated += newSize - oldSize
	if vm.config.Allocator != nil {
		vm.config.Allocator(oldSize, newSize)
	}

	if newSize > oldSize && vm.bytesAllocated > vm.nextGC {
		vm.collectGarbage()
	}
}

// allocObject accounts and links a new object. A collection triggered here
// runs before the object is linked, so it never sees a half built object.
func (vm *VM) allocObject(o Object, typ ObjectType, size int) {
	h := o.header()
	h.typ = typ
	h.size = size
	vm.reallocate(0, size)
	h.next = vm.first
	vm.first = o
}

// pushTempRef protects obj from collection until the matching popTempRef.
func (vm *VM) pushTempRef(obj Object) {
	if obj == nil {
		fatalf("temp reference to nil")
	}
	if vm.tempRefCount >= maxTempRefs {
		fatalf("too many temp references")
	}
	vm.tempRefs[vm.tempRefCount] = obj
	vm.tempRefCount++
}

func (vm *VM) popTempRef() {
	if vm.tempRefCount <= 0 {
		fatalf("temp reference stack is empty")
	}
	vm.tempRefCount--
	vm.tempRefs[vm.tempRefCount] = nil
}

// PushTempRef protects obj from collection until PopTempRef. Used by the
// compiler while it holds objects that are not yet reachable.
func (vm *VM) PushTempRef(obj Object) { vm.pushTempRef(obj) }

// PopTempRef releases the most recent temp reference.
func (vm *VM) PopTempRef() { vm.popTempRef() }

// PushCompilerRoot registers r as a root until PopCompilerRoot.
func (vm *VM) PushCompilerRoot(r RootMarker) {
	vm.compilerRoots = append(vm.compilerRoots, r)
}

// PopCompilerRoot removes the most recent compiler root.
func (vm *VM) PopCompilerRoot() {
	vm.compilerRoots = vm.compilerRoots[:len(vm.compilerRoots)-1]
}

// ---------------------------------------------------------------------------
// Marking
// ---------------------------------------------------------------------------

// MarkObject marks obj reachable and queues it on the working set.
func (vm *VM) MarkObject(obj Object) {
	if obj == nil {
		return
	}
	h := obj.header()
	if h.marked {
		return
	}
	h.marked = true
	vm.workingSet = append(vm.workingSet, obj)
}

// MarkValue marks the object referenced by v, if any.
func (vm *VM) MarkValue(v Value) {
	if v.kind == KindObject {
		vm.MarkObject(v.obj)
	}
}

func markRef[T any, P interface {
	*T
	Object
}](vm *VM, p P) {
	if p != nil {
		vm.MarkObject(p)
	}
}

func (vm *VM) markValues(values []Value) {
	for _, v := range values {
		vm.MarkValue(v)
	}
}

func (vm *VM) markRoots() {
	for _, fn := range vm.builtinFns[:vm.builtinFnCount] {
		markRef(vm, fn)
	}
	for _, cls := range vm.builtinClasses {
		markRef(vm, cls)
	}
	markRef(vm, vm.modules)
	markRef(vm, vm.searchPaths)

	for _, obj := range vm.tempRefs[:vm.tempRefCount] {
		vm.MarkObject(obj)
	}
	for h := vm.handles; h != nil; h = h.next {
		vm.MarkValue(h.value)
	}
	for _, r := range vm.compilerRoots {
		r.MarkRoots(vm)
	}
	markRef(vm, vm.fiber)
	markRef(vm, vm.hostFiber)
}

// blacken marks everything obj references and counts its live bytes.
func (vm *VM) blacken(obj Object) {
	vm.bytesAllocated += obj.header().size

	switch o := obj.(type) {
	case *String, *Range:

	case *List:
		vm.markValues(o.Elements.Data)
		vm.bytesAllocated += o.Elements.bytes()

	case *Map:
		for _, e := range o.Entries {
			if e.Key.IsUndefined() {
				continue
			}
			vm.MarkValue(e.Key)
			vm.MarkValue(e.Value)
		}
		vm.bytesAllocated += len(o.Entries) * sizeOf[MapEntry]()

	case *Module:
		markRef(vm, o.Path)
		markRef(vm, o.Name)
		vm.markValues(o.Globals.Data)
		vm.markValues(o.Constants.Data)
		markRef(vm, o.Body)
		vm.bytesAllocated += o.Globals.bytes() + o.GlobalNames.bytes() + o.Constants.bytes()

	case *Function:
		markRef(vm, o.Owner)
		if o.Code != nil {
			vm.bytesAllocated += o.Code.Opcodes.bytes() + o.Code.Lines.bytes()
		}

	case *Closure:
		markRef(vm, o.Fn)
		for _, u := range o.Upvalues {
			markRef(vm, u)
		}

	case *MethodBind:
		markRef(vm, o.Method)
		vm.MarkValue(o.Instance)

	case *Upvalue:
		vm.MarkValue(o.closed)
		if o.isOpen {
			markRef(vm, o.fiber)
		}

	case *Fiber:
		markRef(vm, o.closure)
		vm.markValues(o.stack[:o.sp])
		for i := 0; i < o.frameCount; i++ {
			markRef(vm, o.frames[i].closure)
			vm.MarkValue(o.frames[i].self)
		}
		markRef(vm, o.caller)
		markRef(vm, o.native)
		vm.MarkValue(o.err)
		vm.MarkValue(o.self)
		vm.bytesAllocated += cap(o.stack)*sizeOf[Value]() + cap(o.frames)*sizeOf[CallFrame]()

	case *Class:
		markRef(vm, o.Owner)
		markRef(vm, o.Ctor)
		markRef(vm, o.Name)
		markRef(vm, o.StaticAttribs)
		markRef(vm, o.SuperClass)
		for _, m := range o.Methods.Data {
			markRef(vm, m)
		}
		vm.bytesAllocated += o.Methods.bytes()

	case *Instance:
		markRef(vm, o.Attribs)
		markRef(vm, o.Class)
	}
}

// ---------------------------------------------------------------------------
// Collection
// ---------------------------------------------------------------------------

// collectGarbage runs a full mark and sweep cycle and returns the number of
// accounted bytes it released.
func (vm *VM) collectGarbage() int {
	if vm.collecting {
		fatalf("recursive garbage collection")
	}
	start := time.Now()
	before := vm.bytesAllocated
	vm.collecting = true

	vm.markRoots()

	vm.bytesAllocated = 0
	for len(vm.workingSet) > 0 {
		obj := vm.workingSet[len(vm.workingSet)-1]
		vm.workingSet[len(vm.workingSet)-1] = nil
		vm.workingSet = vm.workingSet[:len(vm.workingSet)-1]
		vm.blacken(obj)
	}

	swept := vm.sweep()
	vm.collecting = false

	vm.nextGC = vm.bytesAllocated + vm.bytesAllocated*vm.config.HeapFillPercent/100
	if vm.nextGC < vm.config.MinHeapSize {
		vm.nextGC = vm.config.MinHeapSize
	}

	vm.gcCycles++
	vm.lastGCStats = GCStats{
		Cycle:    vm.gcCycles,
		Before:   before,
		After:    vm.bytesAllocated,
		Freed:    before - vm.bytesAllocated,
		Objects:  swept,
		Duration: time.Since(start),
	}
	gcLog.Debugf("cycle %d: %d -> %d bytes, %d objects freed, next at %d",
		vm.gcCycles, before, vm.bytesAllocated, swept, vm.nextGC)

	return vm.lastGCStats.Freed
}

// sweep unlinks every unmarked object and clears the marks of the rest.
func (vm *VM) sweep() int {
	var head, tail Object
	swept := 0

	for obj := vm.first; obj != nil; {
		h := obj.header()
		next := h.next

		if !h.marked {
			vm.freeObject(obj)
			h.next = nil
			swept++
		} else {
			h.marked = false
			if tail == nil {
				head = obj
			} else {
				tail.header().next = obj
			}
			tail = obj
		}
		obj = next
	}

	if tail != nil {
		tail.header().next = nil
	}
	vm.first = head
	return swept
}

// freeObject releases what the Go runtime cannot: host payloads of native
// instances. The memory itself is reclaimed once the object is unlinked.
func (vm *VM) freeObject(obj Object) {
	if inst, ok := obj.(*Instance); ok && inst.Class.DeleteFn != nil {
		inst.Class.DeleteFn(vm, inst.Native)
		inst.Native = nil
	}
	if vm.config.Allocator != nil {
		vm.config.Allocator(obj.header().size, 0)
	}
}

// CollectGarbage runs a full collection and returns the number of bytes
// released.
func (vm *VM) CollectGarbage() int {
	return vm.collectGarbage()
}

// BytesAllocated returns the accounted size of the heap.
func (vm *VM) BytesAllocated() int { return vm.bytesAllocated }

// LastGCStats returns the statistics of the most recent collection.
func (vm *VM) LastGCStats() GCStats { return vm.lastGCStats }

// ObjectCount walks the heap list and returns the number of live objects.
func (vm *VM) ObjectCount() int {
	n := 0
	for obj := vm.first; obj != nil; obj = obj.header().next {
		n++
	}
	return n
}
