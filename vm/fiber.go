package vm

import (
	"fmt"
)

// ---------------------------------------------------------------------------
// Fiber: a cooperative thread of execution
// ---------------------------------------------------------------------------

const (
	initialCallFrames = 4
	minStackSize      = 128

	// DefaultMaxStackSize is the stack limit in bytes.
	DefaultMaxStackSize = 1024 * 800
)

// FiberState is the state of a fiber.
type FiberState int

const (
	FiberNew FiberState = iota
	FiberRunning
	FiberYielded
	FiberDone
)

func (s FiberState) String() string {
	switch s {
	case FiberNew:
		return "new"
	case FiberRunning:
		return "running"
	case FiberYielded:
		return "yielded"
	case FiberDone:
		return "done"
	}
	return "unknown"
}

// CallFrame is the execution state of one script function invocation. All
// positions are indices into the fiber stack, so growing the stack never
// invalidates a frame.
type CallFrame struct {
	ip      int
	closure *Closure
	rbp     int // index of the return slot; locals start at rbp+1
	self    Value
}

// Fiber owns a value stack and a call frame stack.
type Fiber struct {
	objHeader

	state   FiberState
	closure *Closure

	stack []Value
	sp    int // index of the next free slot
	ret   int // index of the slot the next call returns into

	frames     []CallFrame
	frameCount int

	openUpvalues *Upvalue // ordered by slot, highest first

	// self is the pending self of the next call frame, Undefined when none.
	self Value

	caller *Fiber // fiber that ran or resumed this one
	native *Fiber // fiber that made a re-entrant call from native code
	err    Value  // pending runtime error message, Null when none

	// StackGrowths counts how many times the value stack was reallocated.
	StackGrowths int
}

// State returns the state of the fiber.
func (f *Fiber) State() FiberState { return f.state }

// Function returns the closure the fiber runs.
func (f *Fiber) Function() *Closure { return f.closure }

// FrameCount returns the number of active call frames.
func (f *Fiber) FrameCount() int { return f.frameCount }

// StackSize returns the number of allocated stack slots.
func (f *Fiber) StackSize() int { return len(f.stack) }

// Return returns the value in the fiber's return slot.
func (f *Fiber) Return() Value { return f.stack[f.ret] }

// pow2Ceil returns the smallest power of two >= n, and 1 for n <= 1.
func pow2Ceil(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// newFiber creates a fiber that will run closure. Fibers for native
// functions get just enough stack for their arguments and no frames.
func (vm *VM) newFiber(closure *Closure) *Fiber {
	f := &Fiber{closure: closure, state: FiberNew, self: Undefined}

	if closure == nil || closure.Fn.IsNative() {
		arity := 0
		if closure != nil {
			arity = closure.Fn.Arity
		}
		f.stack = make([]Value, max(pow2Ceil(arity+1), 1))
	} else {
		size := max(pow2Ceil(closure.Fn.Code.StackSize+1), minStackSize)
		f.stack = make([]Value, size)
		f.frames = make([]CallFrame, initialCallFrames)
		f.frames[0] = CallFrame{closure: closure, rbp: 0, self: Undefined}
		f.frameCount = 1
	}
	f.ret = 0
	f.sp = 1

	vm.allocObject(f, ObjFiber, sizeOf[Fiber]())
	vm.pushTempRef(f)
	vm.reallocate(0, cap(f.stack)*sizeOf[Value]()+cap(f.frames)*sizeOf[CallFrame]())
	vm.popTempRef()
	return f
}

// ensureStackSize grows the stack of f to hold at least size slots. It sets
// a runtime error when size exceeds the configured limit.
func (vm *VM) ensureStackSize(f *Fiber, size int) {
	if size >= vm.config.MaxStackSize/sizeOf[Value]() {
		vm.setError("Maximum stack limit reached.")
		return
	}
	if len(f.stack) >= size {
		return
	}

	newSize := pow2Ceil(size)
	stack := make([]Value, newSize)
	copy(stack, f.stack)
	oldBytes := cap(f.stack) * sizeOf[Value]()
	f.stack = stack
	f.StackGrowths++
	vm.reallocate(oldBytes, newSize*sizeOf[Value]())
}

// pushFrame pushes a call frame for closure whose return slot is f.ret.
func (vm *VM) pushFrame(f *Fiber, closure *Closure) {
	if f.frameCount+1 > len(f.frames) {
		capacity := max(len(f.frames)*2, 1)
		frames := make([]CallFrame, capacity)
		copy(frames, f.frames)
		oldBytes := cap(f.frames) * sizeOf[CallFrame]()
		f.frames = frames
		vm.reallocate(oldBytes, capacity*sizeOf[CallFrame]())
	}

	vm.ensureStackSize(f, closure.Fn.Code.StackSize+f.sp+1)

	f.frames[f.frameCount] = CallFrame{closure: closure, ip: 0, rbp: f.ret, self: f.self}
	f.frameCount++
	f.self = Undefined
}

// reuseFrame replaces the top frame with a call to closure, moving the
// arguments down to the frame's base. Used for tail calls.
func (vm *VM) reuseFrame(f *Fiber, closure *Closure) {
	frame := &f.frames[f.frameCount-1]
	frame.closure = closure
	frame.ip = 0
	frame.self = f.self
	f.self = Undefined

	argc := f.sp - f.ret - 1
	target := frame.rbp + 1
	copy(f.stack[target:target+argc], f.stack[f.sp-argc:f.sp])
	f.sp = target + argc

	vm.ensureStackSize(f, closure.Fn.Code.StackSize+f.sp)
}

// ---------------------------------------------------------------------------
// Upvalues
// ---------------------------------------------------------------------------

// captureUpvalue returns the open upvalue of slot, creating it if needed.
func (vm *VM) captureUpvalue(f *Fiber, slot int) *Upvalue {
	var prev *Upvalue
	cur := f.openUpvalues
	for cur != nil && cur.slot > slot {
		prev = cur
		cur = cur.next
	}
	if cur != nil && cur.slot == slot {
		return cur
	}

	u := vm.newUpvalue(f, slot)
	u.next = cur
	if prev == nil {
		f.openUpvalues = u
	} else {
		prev.next = u
	}
	return u
}

// closeUpvalues closes every open upvalue at slot top or above.
func closeUpvalues(f *Fiber, top int) {
	for f.openUpvalues != nil && f.openUpvalues.slot >= top {
		u := f.openUpvalues
		f.openUpvalues = u.next
		u.next = nil
		u.close()
	}
}

// ---------------------------------------------------------------------------
// Fiber protocol
// ---------------------------------------------------------------------------

// prepareFiber checks the arity and state of f and pushes args as the
// parameters of its function.
func (vm *VM) prepareFiber(f *Fiber, args []Value) bool {
	fn := f.closure.Fn
	if fn.Arity < -1 {
		fatalf("function %s has no arity", fn.Name)
	}
	if fn.Arity != -1 && len(args) != fn.Arity {
		vm.setErrorf("Expected exactly %d argument(s) for function %s.", fn.Arity, fn.Name)
		return false
	}

	switch f.state {
	case FiberNew:
	case FiberRunning:
		vm.setError("The fiber has already been running.")
		return false
	case FiberYielded:
		vm.setError("Cannot run a fiber which is yielded, use fiber_resume() instead.")
		return false
	case FiberDone:
		vm.setError("The fiber has done running.")
		return false
	}

	if f.sp != 1 || f.ret != 0 {
		fatalf("fiber was not fresh")
	}

	vm.ensureStackSize(f, f.sp+len(args))
	if len(f.stack) < f.sp+len(args) {
		return false
	}
	copy(f.stack[f.ret+1:], args)
	f.sp += len(args)

	if fn.IsNative() {
		return true
	}

	f.frames[0].self = f.self
	f.self = Undefined
	return true
}

// switchFiber resumes the yielded fiber f, making value the result of its
// yield expression.
func (vm *VM) switchFiber(f *Fiber, value Value) bool {
	switch f.state {
	case FiberYielded:
	case FiberNew:
		vm.setError("The fiber hasn't started. call fiber_run() to start.")
		return false
	case FiberRunning:
		vm.setError("The fiber has already been running.")
		return false
	case FiberDone:
		vm.setError("The fiber has done running.")
		return false
	}

	f.stack[f.ret] = value
	f.caller = vm.fiber
	vm.fiber = f
	return true
}

// yieldFiber suspends the running fiber and passes value to its caller.
func (vm *VM) yieldFiber(value Value) {
	f := vm.fiber
	caller := f.caller
	if caller != nil {
		caller.stack[caller.ret] = value
	} else {
		// Yielding to the host: it reads the value from the return slot.
		f.stack[f.ret] = value
	}

	f.caller = nil
	f.state = FiberYielded
	vm.fiber = caller
}

// callMethod runs closure with self on a fresh fiber linked to the current
// one and returns its result.
func (vm *VM) callMethod(self Value, closure *Closure, args []Value) (Value, Result) {
	f := vm.newFiber(closure)
	f.self = self
	f.native = vm.fiber
	vm.pushTempRef(f)
	defer vm.popTempRef()

	for _, a := range args {
		if a.IsObject() {
			vm.pushTempRef(a.obj)
			defer vm.popTempRef()
		}
	}

	if !vm.prepareFiber(f, args) {
		return Null, ResultRuntimeError
	}

	last := vm.fiber
	if last != nil {
		vm.pushTempRef(last)
		defer vm.popTempRef()
	}

	// Errors of nested calls are handed to the calling fiber, which reports
	// them once when it unwinds.
	nested := last != nil && last != vm.hostFiber
	if nested {
		vm.nativeDepth++
		defer func() { vm.nativeDepth-- }()
	}

	var result Result
	if closure.Fn.IsNative() {
		vm.fiber = f
		f.state = FiberRunning
		closure.Fn.Native(vm)
		f.state = FiberDone
		result = ResultSuccess
		if !f.err.IsNull() {
			if !nested {
				vm.reportError(f)
			}
			result = ResultRuntimeError
		}
	} else {
		result = vm.runFiber(f)
	}

	vm.fiber = last
	if result == ResultRuntimeError && last != nil {
		last.err = f.err
	}
	return f.stack[f.ret], result
}

// callFunction runs closure on a fresh fiber and returns its result.
func (vm *VM) callFunction(closure *Closure, args []Value) (Value, Result) {
	return vm.callMethod(Undefined, closure, args)
}

// ---------------------------------------------------------------------------
// Runtime errors
// ---------------------------------------------------------------------------

// hasError reports whether the running fiber has a pending error.
func (vm *VM) hasError() bool {
	return vm.fiber != nil && !vm.fiber.err.IsNull()
}

// setError sets the pending runtime error of the running fiber. Errors set
// outside of any fiber are recorded as the VM's last error.
func (vm *VM) setError(msg string) {
	if vm.fiber == nil {
		vm.lastError = &RuntimeError{Message: msg}
		return
	}
	vm.fiber.err = ObjectValue(vm.newString(msg))
}

func (vm *VM) setErrorf(format string, args ...any) {
	vm.setError(fmt.Sprintf(format, args...))
}

// errorString returns the pending error message of f.
func (f *Fiber) errorString() string {
	if s := f.err.AsString(); s != nil {
		return s.Data
	}
	return ToString(f.err)
}
