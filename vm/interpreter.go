package vm

import (
	"encoding/binary"
)

// ---------------------------------------------------------------------------
// Interpreter: bytecode execution engine
// ---------------------------------------------------------------------------

// runFiber runs root until its function returns, it yields to the host or a
// runtime error aborts it. Fibers started with Fiber.run and resumed with
// Fiber.resume run inside the same loop.
func (vm *VM) runFiber(root *Fiber) Result {
	if root.state != FiberNew && root.state != FiberYielded {
		fatalf("running a fiber in state %s", root.state)
	}
	vm.fiber = root
	root.state = FiberRunning

	fiber := root

	var (
		frame  *CallFrame
		code   []byte
		ip     int
		rbp    int
		module *Module
	)

	loadFrame := func() {
		frame = &fiber.frames[fiber.frameCount-1]
		code = frame.closure.Fn.Code.Opcodes.Data
		ip = frame.ip
		rbp = frame.rbp
		module = frame.closure.Fn.Owner
	}

	push := func(v Value) {
		fiber.stack[fiber.sp] = v
		fiber.sp++
	}
	pop := func() Value {
		fiber.sp--
		return fiber.stack[fiber.sp]
	}
	peek := func(off int) Value {
		return fiber.stack[fiber.sp+off]
	}
	drop := func(n int) {
		fiber.sp -= n
	}
	readByte := func() byte {
		b := code[ip]
		ip++
		return b
	}
	readShort := func() int {
		v := binary.BigEndian.Uint16(code[ip:])
		ip += 2
		return int(v)
	}

	// fail aborts the run with the pending error of the running fiber.
	fail := func() Result {
		frame.ip = ip
		return vm.abortRun(root, fiber)
	}
	raise := func(msg string) Result {
		vm.setError(msg)
		return fail()
	}

	// binaryOp applies a binary operator to the two topmost values. Operands
	// stay on the stack until the operation is done so a collection cannot
	// free them.
	binaryOp := func(op func(l, r Value) Value) bool {
		r, l := peek(-1), peek(-2)
		result := op(l, r)
		drop(2)
		push(result)
		return !fiber.err.IsNull()
	}

	loadFrame()

	for {
		op := Opcode(code[ip])
		ip++

		switch op {

		// --- Constants and literals ---
		case OpPushConstant:
			push(module.Constants.Data[readShort()])

		case OpPushNull:
			push(Null)

		case OpPush0:
			push(NumberValue(0))

		case OpPushTrue:
			push(True)

		case OpPushFalse:
			push(False)

		case OpSwap:
			top := fiber.sp - 1
			fiber.stack[top], fiber.stack[top-1] = fiber.stack[top-1], fiber.stack[top]

		case OpDup:
			push(peek(-1))

		case OpPushList:
			push(ObjectValue(vm.newList(readShort())))

		case OpPushMap:
			push(ObjectValue(vm.newMap()))

		case OpPushSelf:
			push(frame.self)

		case OpListAppend:
			elem := peek(-1)
			list := peek(-2).AsList()
			list.Elements.Write(vm, elem)
			drop(1)

		case OpMapInsert:
			value, key := peek(-1), peek(-2)
			m := peek(-3).AsMap()
			if !IsHashable(key) {
				return raise(key.TypeName() + " type is not hashable.")
			}
			m.Set(vm, key, value)
			drop(2)

		// --- Locals, globals and upvalues ---
		case OpPushLocal0, OpPushLocal1, OpPushLocal2, OpPushLocal3, OpPushLocal4,
			OpPushLocal5, OpPushLocal6, OpPushLocal7, OpPushLocal8:
			push(fiber.stack[rbp+1+int(op-OpPushLocal0)])

		case OpPushLocalN:
			push(fiber.stack[rbp+1+int(readByte())])

		case OpStoreLocal0, OpStoreLocal1, OpStoreLocal2, OpStoreLocal3, OpStoreLocal4,
			OpStoreLocal5, OpStoreLocal6, OpStoreLocal7, OpStoreLocal8:
			fiber.stack[rbp+1+int(op-OpStoreLocal0)] = peek(-1)

		case OpStoreLocalN:
			fiber.stack[rbp+1+int(readByte())] = peek(-1)

		case OpPushGlobal:
			push(module.Globals.Data[readByte()])

		case OpStoreGlobal:
			module.Globals.Data[readByte()] = peek(-1)

		case OpPushBuiltinFn:
			index := int(readByte())
			if index >= vm.builtinFnCount {
				fatalf("builtin function index %d out of range", index)
			}
			push(ObjectValue(vm.builtinFns[index]))

		case OpPushBuiltinTy:
			push(ObjectValue(vm.builtinClasses[readByte()]))

		case OpPushUpvalue:
			push(frame.closure.Upvalues[readByte()].Get())

		case OpStoreUpvalue:
			frame.closure.Upvalues[readByte()].Set(peek(-1))

		// --- Functions, classes and modules ---
		case OpPushClosure:
			fn, ok := module.Constants.Data[readShort()].obj.(*Function)
			if !ok {
				fatalf("closure constant is not a function")
			}
			closure := vm.newClosure(fn)
			vm.pushTempRef(closure)
			for i := range fn.UpvalueCount {
				isImmediate := readByte()
				index := int(readByte())
				if isImmediate != 0 {
					closure.Upvalues[i] = vm.captureUpvalue(fiber, rbp+1+index)
				} else {
					closure.Upvalues[i] = frame.closure.Upvalues[index]
				}
			}
			push(ObjectValue(closure))
			vm.popTempRef()

		case OpCreateClass:
			base := pop().AsClass()
			if base == nil {
				return raise("Cannot inherit a non class object.")
			}
			if base.ClassOf != TypeInstance && base.ClassOf != TypeObject {
				return raise(base.ClassOf.String() + " type cannot be inherited.")
			}
			derived, ok := module.Constants.Data[readShort()].obj.(*Class)
			if !ok {
				fatalf("class constant is not a class")
			}
			derived.SuperClass = base
			push(ObjectValue(derived))

		case OpBindMethod:
			method := peek(-1).AsClosure()
			cls := peek(-2).AsClass()
			vm.bindMethod(cls, method)
			drop(1)

		case OpCloseUpvalue:
			closeUpvalues(fiber, fiber.sp-1)
			drop(1)

		case OpPop:
			drop(1)

		case OpImport:
			name := module.StringAt(readShort())
			if name == nil {
				fatalf("import name is not a string")
			}
			imported := vm.importModule(module.Path, name)
			if !fiber.err.IsNull() {
				return fail()
			}
			push(ObjectValue(imported))

			if !imported.Initialized {
				imported.Initialized = true
				if imported.Body == nil {
					fatalf("module %s has no body", imported.DisplayName())
				}
				// The body returns the module itself left in its return slot.
				frame.ip = ip
				fiber.ret = fiber.sp - 1
				vm.pushFrame(fiber, imported.Body)
				loadFrame()
				if !fiber.err.IsNull() {
					return fail()
				}
			}

		// --- Calls ---
		case OpSuperCall, OpMethodCall, OpCall, OpTailCall:
			argc := int(readByte())
			fiber.ret = fiber.sp - argc - 1

			var callable Value
			switch op {
			case OpSuperCall:
				fiber.self = fiber.stack[fiber.ret]
				name := module.StringAt(readShort())
				m := vm.getSuperMethod(fiber.self, name)
				if m == nil {
					return fail()
				}
				callable = ObjectValue(m)

			case OpMethodCall:
				fiber.self = fiber.stack[fiber.ret]
				name := module.StringAt(readShort())
				callable, _ = vm.getMethod(fiber.self, name)
				if !fiber.err.IsNull() {
					return fail()
				}

			default:
				callable = fiber.stack[fiber.ret]
			}

			fiber.stack[fiber.ret] = Null

			var closure *Closure
			switch o := callable.obj.(type) {
			case *Closure:
				closure = o

			case *MethodBind:
				if o.Instance.IsUndefined() {
					return raise("Cannot call an unbound method.")
				}
				fiber.self = o.Instance
				closure = o.Method

			case *Class:
				fiber.self = vm.preConstructSelf(o)
				if !fiber.err.IsNull() {
					return fail()
				}
				fiber.stack[fiber.ret] = fiber.self

				closure = classCtor(o)
				if closure == nil {
					if argc != 0 {
						return raise("Expected exactly 0 argument(s) for constructor " + o.Name.Data + ".")
					}
					fiber.self = Undefined
					fiber.sp = fiber.ret + 1
					continue
				}

			default:
				return raise("Expected a callable to call, instead got '" + callable.TypeName() + "'.")
			}

			if closure.Fn.Arity != -1 && closure.Fn.Arity != argc {
				vm.setErrorf("Expected exactly %d argument(s) for function %s", closure.Fn.Arity, closure.Fn.Name)
				return fail()
			}

			if closure.Fn.IsNative() {
				if closure.Fn.Native == nil {
					return raise("Native function pointer of " + closure.Fn.Name + " was nil.")
				}
				frame.ip = ip
				closure.Fn.Native(vm)
				fiber.self = Undefined

				// yield() and exit() can leave no fiber to run.
				fiber.sp = fiber.ret + 1
				if vm.fiber == nil {
					return ResultSuccess
				}
				if vm.fiber != fiber {
					fiber = vm.fiber
					loadFrame()
				}
				if !fiber.err.IsNull() {
					return fail()
				}
				continue
			}

			if op == OpTailCall {
				closeUpvalues(fiber, rbp+1)
				vm.reuseFrame(fiber, closure)
				loadFrame()
			} else {
				frame.ip = ip
				vm.pushFrame(fiber, closure)
				loadFrame()
			}
			if !fiber.err.IsNull() {
				return fail()
			}

		// --- Iteration and control flow ---
		case OpIterTest:
			seq := peek(-3)
			switch seq.kind {
			case KindNull, KindUndefined:
				return raise("Null is not iterable.")
			case KindBool:
				return raise("Boolenan is not iterable.")
			case KindNumber:
				return raise("Number is not iterable.")
			}

		case OpIter:
			offset := readShort()
			valueSlot, iterSlot := fiber.sp-1, fiber.sp-2
			seq := peek(-3)
			it := fiber.stack[iterSlot].AsNumber()
			iter := int(it)

			exit := false
			switch o := seq.obj.(type) {
			case *String:
				if iter >= len(o.Data) {
					exit = true
					break
				}
				fiber.stack[valueSlot] = ObjectValue(vm.newString(o.Data[iter : iter+1]))
				fiber.stack[iterSlot] = NumberValue(float64(iter + 1))

			case *List:
				if iter >= o.Elements.Len() {
					exit = true
					break
				}
				fiber.stack[valueSlot] = o.Elements.Data[iter]
				fiber.stack[iterSlot] = NumberValue(float64(iter + 1))

			case *Map:
				for iter < len(o.Entries) && o.Entries[iter].Key.IsUndefined() {
					iter++
				}
				if iter >= len(o.Entries) {
					exit = true
					break
				}
				fiber.stack[valueSlot] = o.Entries[iter].Key
				fiber.stack[iterSlot] = NumberValue(float64(iter + 1))

			case *Range:
				// The end bound is exclusive, and fractional bounds end the
				// loop on the first value past them.
				current, done := o.From+it, o.From+it >= o.To
				if o.From > o.To {
					current, done = o.From-it, o.From-it <= o.To
				}
				if done {
					exit = true
					break
				}
				fiber.stack[valueSlot] = NumberValue(current)
				fiber.stack[iterSlot] = NumberValue(it + 1)

			default:
				return raise("'" + seq.TypeName() + "' is not iterable.")
			}
			if exit {
				ip += offset
			}

		case OpJump:
			offset := readShort()
			ip += offset

		case OpLoop:
			offset := readShort()
			ip -= offset

		case OpJumpIf:
			offset := readShort()
			if Truthy(pop()) {
				ip += offset
			}

		case OpJumpIfNot:
			offset := readShort()
			if !Truthy(pop()) {
				ip += offset
			}

		case OpOr:
			offset := readShort()
			if Truthy(peek(-1)) {
				ip += offset
			} else {
				drop(1)
			}

		case OpAnd:
			offset := readShort()
			if !Truthy(peek(-1)) {
				ip += offset
			} else {
				drop(1)
			}

		case OpReturn:
			closeUpvalues(fiber, rbp+1)
			value := pop()
			fiber.frameCount--

			if fiber.frameCount == 0 {
				fiber.sp = fiber.ret + 1
				if fiber.caller == nil {
					fiber.stack[fiber.ret] = value
					fiber.state = FiberDone
					vm.fiber = nil
					return ResultSuccess
				}
				caller := fiber.caller
				fiber.state = FiberDone
				fiber.caller = nil
				fiber = caller
				vm.fiber = fiber
				fiber.stack[fiber.ret] = value
			} else {
				fiber.stack[rbp] = value
				fiber.sp = rbp + 1
			}
			loadFrame()

		// --- Attributes and subscripts ---
		case OpGetAttrib:
			on := peek(-1)
			name := module.StringAt(readShort())
			value := vm.getAttrib(on, name)
			drop(1)
			push(value)
			if !fiber.err.IsNull() {
				return fail()
			}

		case OpGetAttribKeep:
			on := peek(-1)
			name := module.StringAt(readShort())
			push(vm.getAttrib(on, name))
			if !fiber.err.IsNull() {
				return fail()
			}

		case OpSetAttrib:
			value, on := peek(-1), peek(-2)
			name := module.StringAt(readShort())
			vm.setAttrib(on, name, value)
			drop(2)
			push(value)
			if !fiber.err.IsNull() {
				return fail()
			}

		case OpGetSubscript:
			key, on := peek(-1), peek(-2)
			value := vm.getSubscript(on, key)
			drop(2)
			push(value)
			if !fiber.err.IsNull() {
				return fail()
			}

		case OpGetSubscriptKeep:
			key, on := peek(-1), peek(-2)
			push(vm.getSubscript(on, key))
			if !fiber.err.IsNull() {
				return fail()
			}

		case OpSetSubscript:
			value, key, on := peek(-1), peek(-2), peek(-3)
			vm.setSubscript(on, key, value)
			drop(3)
			push(value)
			if !fiber.err.IsNull() {
				return fail()
			}

		// --- Operators ---
		case OpPositive, OpNegative, OpNot, OpBitNot:
			v := peek(-1)
			var result Value
			switch op {
			case OpPositive:
				result = vm.varPositive(v)
			case OpNegative:
				result = vm.varNegative(v)
			case OpNot:
				result = vm.varNot(v)
			default:
				result = vm.varBitNot(v)
			}
			drop(1)
			push(result)
			if !fiber.err.IsNull() {
				return fail()
			}

		case OpAdd, OpSubtract, OpMultiply, OpDivide, OpExponent, OpMod,
			OpBitAnd, OpBitOr, OpBitXor, OpBitLshift, OpBitRshift:
			inplace := readByte() != 0
			if binaryOp(func(l, r Value) Value { return vm.arithmetic(op, l, r, inplace) }) {
				return fail()
			}

		case OpEqEq:
			if binaryOp(vm.varEquals) {
				return fail()
			}

		case OpNotEq:
			if binaryOp(func(l, r Value) Value { return BoolValue(!Truthy(vm.varEquals(l, r))) }) {
				return fail()
			}

		case OpLt:
			if binaryOp(vm.varLesser) {
				return fail()
			}

		case OpGt:
			if binaryOp(vm.varGreater) {
				return fail()
			}

		case OpLtEq, OpGtEq:
			compare := vm.varLesser
			if op == OpGtEq {
				compare = vm.varGreater
			}
			if binaryOp(func(l, r Value) Value {
				result := compare(l, r)
				if !fiber.err.IsNull() || Truthy(result) {
					return result
				}
				return vm.varEquals(l, r)
			}) {
				return fail()
			}

		case OpRange:
			if binaryOp(vm.varOpRange) {
				return fail()
			}

		case OpIn:
			if binaryOp(func(elem, container Value) Value {
				return BoolValue(vm.varContains(elem, container))
			}) {
				return fail()
			}

		case OpIs:
			if binaryOp(func(inst, typ Value) Value {
				return BoolValue(vm.isType(inst, typ))
			}) {
				return fail()
			}

		case OpReplPrint:
			if vm.config.WriteFn != nil {
				if v := peek(-1); !v.IsNull() {
					s := vm.varToString(v, true)
					if s == nil {
						return fail()
					}
					vm.config.WriteFn(vm, s.Data+"\n")
				}
			}

		case OpEnd:
			fatalf("executed the end marker of %s", frame.closure.Fn.Name)

		default:
			fatalf("unknown opcode %d", op)
		}
	}
}

// arithmetic applies the binary operator op to l and r.
func (vm *VM) arithmetic(op Opcode, l, r Value, inplace bool) Value {
	switch op {
	case OpAdd:
		return vm.varAdd(l, r, inplace)
	case OpSubtract:
		return vm.varSubtract(l, r, inplace)
	case OpMultiply:
		return vm.varMultiply(l, r, inplace)
	case OpDivide:
		return vm.varDivide(l, r, inplace)
	case OpExponent:
		return vm.varExponent(l, r, inplace)
	case OpMod:
		return vm.varModulo(l, r, inplace)
	case OpBitAnd:
		return vm.varBitAnd(l, r, inplace)
	case OpBitOr:
		return vm.varBitOr(l, r, inplace)
	case OpBitXor:
		return vm.varBitXor(l, r, inplace)
	case OpBitLshift:
		return vm.varBitLshift(l, r, inplace)
	case OpBitRshift:
		return vm.varBitRshift(l, r, inplace)
	}
	fatalf("opcode %s is not arithmetic", op)
	return Null
}

// abortRun unwinds a run of root after failed raised a runtime error. The
// error is reported unless a native caller will handle it, every fiber
// between failed and root is marked done and the error is left on root.
func (vm *VM) abortRun(root, failed *Fiber) Result {
	err := failed.err
	if vm.nativeDepth == 0 {
		vm.reportError(failed)
	}
	vmLog.Debugf("fiber %s aborted: %s", failed.closure.Fn.Name, failed.errorString())

	for f := failed; f != nil; {
		next := f.caller
		f.state = FiberDone
		f.caller = nil
		if f == root {
			break
		}
		f = next
	}
	root.err = err
	vm.fiber = nil
	return ResultRuntimeError
}
