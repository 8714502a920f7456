package vm

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Native call frame access
// ---------------------------------------------------------------------------

// nativeArgc returns the argument count of the running native function.
func (vm *VM) nativeArgc() int {
	return vm.fiber.sp - vm.fiber.ret - 1
}

// nativeArg returns argument n (1 based) of the running native function.
func (vm *VM) nativeArg(n int) Value {
	return vm.fiber.stack[vm.fiber.ret+n]
}

// nativeArgs returns the arguments of the running native function.
func (vm *VM) nativeArgs() []Value {
	return vm.fiber.stack[vm.fiber.ret+1 : vm.fiber.sp]
}

// nativeReturn sets the return value of the running native function.
func (vm *VM) nativeReturn(v Value) {
	vm.fiber.stack[vm.fiber.ret] = v
}

// nativeSelf returns self of the running native method.
func (vm *VM) nativeSelf() Value {
	return vm.fiber.self
}

func (vm *VM) checkArgcRange(argc, lo, hi int) bool {
	if lo > hi {
		fatalf("invalid argc range %d..%d", lo, hi)
	}
	if argc < lo {
		vm.setErrorf("Expected at least %d argument(s).", lo)
		return false
	}
	if argc > hi {
		vm.setErrorf("Expected at most %d argument(s).", hi)
		return false
	}
	return true
}

func (vm *VM) validateArgObject(n int, typ ObjectType, name string) (Object, bool) {
	v := vm.nativeArg(n)
	if !v.IsObjectType(typ) {
		vm.setErrorf("Expected a %s at argument %d.", name, n)
		return nil, false
	}
	return v.obj, true
}

func (vm *VM) validateArgString(n int) (*String, bool) {
	o, ok := vm.validateArgObject(n, ObjString, "string")
	if !ok {
		return nil, false
	}
	return o.(*String), true
}

func (vm *VM) validateArgList(n int) (*List, bool) {
	o, ok := vm.validateArgObject(n, ObjList, "list")
	if !ok {
		return nil, false
	}
	return o.(*List), true
}

func (vm *VM) validateArgClosure(n int) (*Closure, bool) {
	o, ok := vm.validateArgObject(n, ObjClosure, "closure")
	if !ok {
		return nil, false
	}
	return o.(*Closure), true
}

// varToString returns the string form of v, calling the _str and _repr
// overrides of instances. It returns nil when an override failed.
func (vm *VM) varToString(v Value, repr bool) *String {
	if v.IsObjectType(ObjInstance) {
		var m *Closure
		if !repr {
			m = vm.hasMethod(v, "_str")
		}
		if m == nil {
			m = vm.hasMethod(v, "_repr")
		}
		if m != nil {
			ret, result := vm.callMethod(v, m, nil)
			if result != ResultSuccess {
				return nil
			}
			s := ret.AsString()
			if s == nil {
				vm.setError("method _str returned non-string type.")
				return nil
			}
			return s
		}
	}
	if repr {
		return vm.toRepr(v)
	}
	return vm.toString(v)
}

// ---------------------------------------------------------------------------
// Builtin functions
// ---------------------------------------------------------------------------

const maxBuiltinFns = 50

type nativeDef struct {
	name  string
	arity int
	fn    NativeFn
	doc   string
}

func docstring(signature, text string) string {
	return signature + "\n\n" + text
}

var builtinFnDefs = []nativeDef{
	{"help", -1, coreHelp, docstring("help([value:Closure|MethodBind|Class]) -> Null",
		"Prints the docstring of the value.")},
	{"dir", 1, coreDir, docstring("dir(v:Var) -> List[String]",
		"Returns the names of the attributes and methods of v. For a module the names of its globals.")},
	{"assert", -1, coreAssert, docstring("assert(condition:Bool [, msg:String]) -> Null",
		"Terminates the current fiber with the optional message if condition is false.")},
	{"bin", 1, coreBin, docstring("bin(value:Number) -> String",
		"Returns the binary representation of value with a '0b' prefix.")},
	{"hex", 1, coreHex, docstring("hex(value:Number) -> String",
		"Returns the hexadecimal representation of value with a '0x' prefix.")},
	{"yield", -1, coreYield, docstring("yield([value:Var]) -> Var",
		"Suspends the running fiber passing value to its caller. Evaluates to the value the fiber is resumed with.")},
	{"str", 1, coreStr, docstring("str(value:Var) -> String",
		"Returns the string representation of value.")},
	{"chr", 1, coreChr, docstring("chr(value:Number) -> String",
		"Returns the one character string of the byte value.")},
	{"ord", 1, coreOrd, docstring("ord(value:String) -> Number",
		"Returns the byte value of a one character string.")},
	{"min", 2, coreMin, docstring("min(a:Var, b:Var) -> Var",
		"Returns the lesser of a and b.")},
	{"max", 2, coreMax, docstring("max(a:Var, b:Var) -> Var",
		"Returns the greater of a and b.")},
	{"print", -1, corePrint, docstring("print(...) -> Null",
		"Writes the arguments separated by spaces followed by a newline.")},
	{"input", -1, coreInput, docstring("input([msg:Var]) -> String",
		"Prints msg and reads a line without its line ending.")},
	{"exit", -1, coreExit, docstring("exit([value:Number]) -> Null",
		"Exits with the status value, 0 by default.")},
	{"list_append", 2, coreListAppend, docstring("list_append(self:List, value:Var) -> List",
		"Appends value to the list and returns the list.")},
	{"list_join", 1, coreListJoin, docstring("list_join(self:List) -> String",
		"Concatenates the string forms of the elements.")},
}

const helpText = "Call help() with a function, method or class to print its docstring.\n" +
	"Call dir() with any value to list its attributes and methods.\n"

func coreHelp(vm *VM) {
	argc := vm.nativeArgc()
	if argc != 0 && argc != 1 {
		vm.setError("Invalid argument count.")
		return
	}
	write := vm.config.WriteFn
	if write == nil {
		return
	}
	if argc == 0 {
		write(vm, helpText)
		return
	}

	switch o := vm.nativeArg(1).obj.(type) {
	case *Closure:
		if o.Fn.Docstring != "" {
			write(vm, o.Fn.Docstring+"\n\n")
		} else {
			write(vm, fmt.Sprintf("function '%s()' doesn't have a docstring.\n", o.Fn.Name))
		}
	case *MethodBind:
		if o.Method.Fn.Docstring != "" {
			write(vm, o.Method.Fn.Docstring+"\n\n")
		} else {
			write(vm, fmt.Sprintf("method '%s()' doesn't have a docstring.\n", o.Method.Fn.Name))
		}
	case *Class:
		if o.Docstring != "" {
			write(vm, o.Docstring+"\n\n")
		} else {
			write(vm, fmt.Sprintf("class '%s' doesn't have a docstring.\n", o.Name.Data))
		}
	default:
		vm.setError("Expected a Closure, MethodBind or Class to get help.")
	}
}

func (vm *VM) collectMethods(list *List, cls *Class) {
	for _, name := range cls.AllMethodNames() {
		vm.listAppend(list, ObjectValue(vm.newString(name)))
	}
}

func coreDir(vm *VM) {
	v := vm.nativeArg(1)
	list := vm.newList(8)
	vm.pushTempRef(list)
	defer vm.popTempRef()

	switch o := v.obj.(type) {
	case *Module:
		for _, nameIndex := range o.GlobalNames.Data {
			vm.listAppend(list, o.Constants.Data[nameIndex])
		}
	case *Class:
		vm.collectMethods(list, o)
	case *Instance:
		o.Attribs.Each(func(key, _ Value) bool {
			vm.listAppend(list, key)
			return true
		})
		vm.collectMethods(list, o.Class)
	default:
		vm.collectMethods(list, vm.getClass(v))
	}
	vm.nativeReturn(ObjectValue(list))
}

func coreAssert(vm *VM) {
	argc := vm.nativeArgc()
	if argc != 1 && argc != 2 {
		vm.setError("Invalid argument count.")
		return
	}
	if Truthy(vm.nativeArg(1)) {
		return
	}
	if argc == 1 {
		vm.setError("Assertion failed.")
		return
	}
	msg := vm.varToString(vm.nativeArg(2), false)
	if msg == nil {
		return
	}
	vm.setErrorf("Assertion failed: '%s'.", msg.Data)
}

func coreBin(vm *VM) {
	value, ok := vm.validateInteger(vm.nativeArg(1), "Argument 1")
	if !ok {
		return
	}
	var s string
	if value < 0 {
		s = "-0b" + strconv.FormatUint(uint64(-value), 2)
	} else {
		s = "0b" + strconv.FormatUint(uint64(value), 2)
	}
	vm.nativeReturn(ObjectValue(vm.newString(s)))
}

func coreHex(vm *VM) {
	value, ok := vm.validateInteger(vm.nativeArg(1), "Argument 1")
	if !ok {
		return
	}
	const limit = 0xffffffff
	if value > limit || value < -limit {
		vm.setError("Integer is too large.")
		return
	}
	var s string
	if value < 0 {
		s = "-0x" + strconv.FormatInt(-value, 16)
	} else {
		s = "0x" + strconv.FormatInt(value, 16)
	}
	vm.nativeReturn(ObjectValue(vm.newString(s)))
}

func coreYield(vm *VM) {
	argc := vm.nativeArgc()
	if argc > 1 {
		vm.setError("Invalid argument count.")
		return
	}
	value := Null
	if argc == 1 {
		value = vm.nativeArg(1)
	}
	vm.yieldFiber(value)
}

func coreStr(vm *VM) {
	if s := vm.varToString(vm.nativeArg(1), false); s != nil {
		vm.nativeReturn(ObjectValue(s))
	}
}

func coreChr(vm *VM) {
	num, ok := vm.validateInteger(vm.nativeArg(1), "Argument 1")
	if !ok {
		return
	}
	if num < 0 || num > 0xff {
		vm.setError("The number should be in range 0x00 to 0xff.")
		return
	}
	vm.nativeReturn(ObjectValue(vm.newString(string([]byte{byte(num)}))))
}

func coreOrd(vm *VM) {
	c, ok := vm.validateArgString(1)
	if !ok {
		return
	}
	if len(c.Data) != 1 {
		vm.setError("Expected a string of length 1.")
		return
	}
	vm.nativeReturn(NumberValue(float64(c.Data[0])))
}

func coreMin(vm *VM) {
	a, b := vm.nativeArg(1), vm.nativeArg(2)
	lesser := vm.varLesser(a, b)
	if vm.hasError() {
		return
	}
	if Truthy(lesser) {
		vm.nativeReturn(a)
	} else {
		vm.nativeReturn(b)
	}
}

func coreMax(vm *VM) {
	a, b := vm.nativeArg(1), vm.nativeArg(2)
	lesser := vm.varLesser(a, b)
	if vm.hasError() {
		return
	}
	if Truthy(lesser) {
		vm.nativeReturn(b)
	} else {
		vm.nativeReturn(a)
	}
}

func corePrint(vm *VM) {
	write := vm.config.WriteFn
	if write == nil {
		return
	}
	argc := vm.nativeArgc()
	var b strings.Builder
	for i := 1; i <= argc; i++ {
		if i != 1 {
			b.WriteByte(' ')
		}
		s := vm.varToString(vm.nativeArg(i), false)
		if s == nil {
			return
		}
		b.WriteString(s.Data)
	}
	b.WriteByte('\n')
	write(vm, b.String())
}

func coreInput(vm *VM) {
	argc := vm.nativeArgc()
	if argc > 1 {
		vm.setError("Invalid argument count.")
		return
	}
	if vm.config.ReadFn == nil {
		return
	}
	if argc == 1 {
		msg := vm.varToString(vm.nativeArg(1), false)
		if msg == nil {
			return
		}
		if vm.config.WriteFn != nil {
			vm.config.WriteFn(vm, msg.Data)
		}
	}
	line, ok := vm.config.ReadFn(vm)
	if !ok {
		vm.setError("Input function failed.")
		return
	}
	vm.nativeReturn(ObjectValue(vm.newString(line)))
}

func coreExit(vm *VM) {
	argc := vm.nativeArgc()
	if argc > 1 {
		vm.setError("Invalid argument count.")
		return
	}
	var code int64
	if argc == 1 {
		var ok bool
		if code, ok = vm.validateInteger(vm.nativeArg(1), "Argument 1"); !ok {
			return
		}
	}

	exit := vm.config.ExitFn
	if exit == nil {
		exit = os.Exit
	}
	exit(int(code))

	// The host chose to keep running: stop the script.
	vm.fiber = nil
}

func coreListAppend(vm *VM) {
	list, ok := vm.validateArgList(1)
	if !ok {
		return
	}
	vm.listAppend(list, vm.nativeArg(2))
	vm.nativeReturn(ObjectValue(list))
}

func coreListJoin(vm *VM) {
	list, ok := vm.validateArgList(1)
	if !ok {
		return
	}
	var b strings.Builder
	for _, e := range list.Elements.Data {
		s := vm.varToString(e, false)
		if s == nil {
			return
		}
		b.WriteString(s.Data)
	}
	vm.nativeReturn(ObjectValue(vm.newString(b.String())))
}

func (vm *VM) initializeBuiltinFns() {
	for _, def := range builtinFnDefs {
		vm.addBuiltinFn(def.name, def.arity, def.fn, def.doc)
	}
}

func (vm *VM) addBuiltinFn(name string, arity int, fn NativeFn, doc string) {
	if vm.builtinFnCount >= maxBuiltinFns {
		fatalf("too many builtin functions")
	}
	f, _ := vm.newFunction(name, nil, true, doc)
	f.Arity = arity
	f.Native = fn
	vm.pushTempRef(f)
	vm.builtinFns[vm.builtinFnCount] = vm.newClosure(f)
	vm.builtinFnCount++
	vm.popTempRef()
}

// BuiltinFnIndex returns the index of the builtin function name, or -1.
func (vm *VM) BuiltinFnIndex(name string) int {
	for i, fn := range vm.builtinFns[:vm.builtinFnCount] {
		if fn.Fn.Name == name {
			return i
		}
	}
	return -1
}

// BuiltinFnName returns the name of the builtin function at index.
func (vm *VM) BuiltinFnName(index int) string {
	return vm.builtinFns[index].Fn.Name
}

// BuiltinFnNames returns the names of every builtin function in index
// order.
func (vm *VM) BuiltinFnNames() []string {
	names := make([]string, vm.builtinFnCount)
	for i, fn := range vm.builtinFns[:vm.builtinFnCount] {
		names[i] = fn.Fn.Name
	}
	return names
}

// BuiltinFnDoc returns the docstring of the builtin function name.
func (vm *VM) BuiltinFnDoc(name string) (string, bool) {
	i := vm.BuiltinFnIndex(name)
	if i == -1 {
		return "", false
	}
	return vm.builtinFns[i].Fn.Docstring, true
}

// BuiltinClassIndex returns the type of the builtin class name, or -1.
func (vm *VM) BuiltinClassIndex(name string) int {
	for i, cls := range vm.builtinClasses {
		if cls.Name.Data == name {
			return i
		}
	}
	return -1
}

// BuiltinClasses returns the classes of the builtin types in type order.
func (vm *VM) BuiltinClasses() []*Class {
	return append([]*Class(nil), vm.builtinClasses[:]...)
}

// RegisteredModules returns the module registry keyed by the name or path
// each module was registered under.
func (vm *VM) RegisteredModules() map[string]*Module {
	mods := make(map[string]*Module, vm.modules.Count)
	vm.modules.Each(func(key, value Value) bool {
		if name, m := key.AsString(), value.AsModule(); name != nil && m != nil {
			mods[name.Data] = m
		}
		return true
	})
	return mods
}

// ---------------------------------------------------------------------------
// The lang module
// ---------------------------------------------------------------------------

// newModuleInternal creates an initialized native module called name.
func (vm *VM) newModuleInternal(name string) *Module {
	nameStr := vm.newString(name)
	vm.pushTempRef(nameStr)
	defer vm.popTempRef()

	if vm.getModule(nameStr) != nil {
		fatalf("a module named '%s' already exists", name)
	}
	m := vm.newModule()
	m.Name = nameStr
	m.Initialized = true

	vm.pushTempRef(m)
	vm.initializeModule(m, false)
	vm.popTempRef()
	return m
}

// moduleAddFunction defines the native function name as a global of m.
func (vm *VM) moduleAddFunction(m *Module, name string, fn NativeFn, arity int, doc string) {
	f, _ := vm.newFunction(name, m, true, doc)
	f.Native = fn
	f.Arity = arity
	vm.pushTempRef(f)
	m.SetGlobal(vm, name, ObjectValue(vm.newClosure(f)))
	vm.popTempRef()
}

// initializeModule defines the _name and __file__ globals of m. The main
// module is named @main.
func (vm *VM) initializeModule(m *Module, isMain bool) {
	if isMain {
		m.Name = vm.newString(mainFnName)
	} else if m.Name == nil {
		fatalf("module has no name")
	}
	if m.Path != nil {
		m.SetGlobal(vm, "__file__", ObjectValue(m.Path))
	}
	m.SetGlobal(vm, "_name", ObjectValue(m.Name))
}

func langGC(vm *VM) {
	freed := vm.collectGarbage()
	vm.nativeReturn(NumberValue(float64(freed)))
}

func langDisas(vm *VM) {
	closure, ok := vm.validateArgClosure(1)
	if !ok {
		return
	}
	if closure.Fn.IsNative() {
		vm.setError("Cannot disassemble native functions.")
		return
	}
	vm.nativeReturn(ObjectValue(vm.newString(Disassemble(closure.Fn))))
}

// frameLine returns the source line of the instruction frame is executing.
func frameLine(frame *CallFrame) int {
	code := frame.closure.Fn.Code
	index := max(frame.ip-1, 0)
	if index >= code.Lines.Len() {
		return 0
	}
	return int(code.Lines.Data[index])
}

func langBacktrace(vm *VM) {
	var b strings.Builder
	for f := vm.fiber; f != nil; {
		for i := f.frameCount - 1; i >= 0; i-- {
			frame := &f.frames[i]
			fn := frame.closure.Fn
			path := "<?>"
			if fn.Owner != nil && fn.Owner.Path != nil {
				path = fn.Owner.Path.Data
			}
			fmt.Fprintf(&b, "%s;%s;%d\n", fn.Name, path, frameLine(frame))
		}
		if f.caller != nil {
			f = f.caller
		} else {
			f = f.native
		}
	}
	vm.nativeReturn(ObjectValue(vm.newString(b.String())))
}

func langModules(vm *VM) {
	list := vm.newList(8)
	vm.pushTempRef(list)
	defer vm.popTempRef()

	vm.modules.Each(func(_, value Value) bool {
		m := value.AsModule()
		if m == nil {
			fatalf("module registry holds a %s", value.TypeName())
		}
		if strings.HasPrefix(m.DisplayName(), "@") {
			return true
		}
		vm.listAppend(list, value)
		return true
	})
	vm.nativeReturn(ObjectValue(list))
}

func langDebugBreak(vm *VM) {
	if !vm.config.Debug {
		return
	}
	var b strings.Builder
	for f := vm.fiber; f != nil; f = f.caller {
		for i := f.frameCount - 1; i >= 0; i-- {
			frame := &f.frames[i]
			fmt.Fprintf(&b, " %s:%d", frame.closure.Fn.Name, frameLine(frame))
		}
	}
	vmLog.Infof("debug break at%s", b.String())
}

func (vm *VM) initializeCoreModules() {
	lang := vm.newModuleInternal("lang")
	vm.pushTempRef(lang)
	defer vm.popTempRef()

	vm.registerModule(lang, lang.Name)

	vm.moduleAddFunction(lang, "gc", langGC, 0, docstring("lang.gc() -> Number",
		"Runs a garbage collection and returns the number of bytes freed."))
	vm.moduleAddFunction(lang, "disas", langDisas, 1, docstring("lang.disas(fn:Closure) -> String",
		"Returns the disassembly of the script function fn."))
	vm.moduleAddFunction(lang, "backtrace", langBacktrace, 0, docstring("lang.backtrace() -> String",
		"Returns the call stack, one '<function>;<file>;<line>' entry per line."))
	vm.moduleAddFunction(lang, "modules", langModules, 0, docstring("lang.modules() -> List",
		"Returns the registered modules."))
	vm.moduleAddFunction(lang, "debug_break", langDebugBreak, 0, docstring("lang.debug_break() -> Null",
		"Logs the call stack when the VM runs in debug mode."))
}

// ---------------------------------------------------------------------------
// Builtin class constructors
// ---------------------------------------------------------------------------

func ctorNull(vm *VM) { vm.nativeReturn(Null) }

func ctorBool(vm *VM) { vm.nativeReturn(BoolValue(Truthy(vm.nativeArg(1)))) }

func ctorNumber(vm *VM) {
	arg := vm.nativeArg(1)
	if n, ok := isNumeric(arg); ok {
		vm.nativeReturn(NumberValue(n))
		return
	}
	if s := arg.AsString(); s != nil {
		n, errMsg := ParseNumber(s.Data)
		if errMsg != "" {
			vm.setError(errMsg)
			return
		}
		vm.nativeReturn(NumberValue(n))
		return
	}
	vm.setError("Argument must be numeric or string.")
}

func ctorString(vm *VM) {
	argc := vm.nativeArgc()
	if !vm.checkArgcRange(argc, 0, 1) {
		return
	}
	if argc == 0 {
		vm.nativeReturn(ObjectValue(vm.newString("")))
		return
	}
	if s := vm.varToString(vm.nativeArg(1), false); s != nil {
		vm.nativeReturn(ObjectValue(s))
	}
}

func ctorList(vm *VM) {
	args := vm.nativeArgs()
	list := vm.newList(len(args))
	vm.pushTempRef(list)
	for _, a := range vm.nativeArgs() {
		vm.listAppend(list, a)
	}
	vm.popTempRef()
	vm.nativeReturn(ObjectValue(list))
}

func ctorMap(vm *VM) { vm.nativeReturn(ObjectValue(vm.newMap())) }

func ctorRange(vm *VM) {
	from, ok := vm.validateNumeric(vm.nativeArg(1), "Argument 1")
	if !ok {
		return
	}
	to, ok := vm.validateNumeric(vm.nativeArg(2), "Argument 2")
	if !ok {
		return
	}
	vm.nativeReturn(ObjectValue(vm.newRange(from, to)))
}

func ctorFiber(vm *VM) {
	closure, ok := vm.validateArgClosure(1)
	if !ok {
		return
	}
	vm.nativeReturn(ObjectValue(vm.newFiber(closure)))
}

// ---------------------------------------------------------------------------
// Builtin class methods
// ---------------------------------------------------------------------------

func objTypename(vm *VM) {
	vm.nativeReturn(ObjectValue(vm.newString(vm.nativeSelf().TypeName())))
}

func objRepr(vm *VM) {
	vm.nativeReturn(ObjectValue(vm.toRepr(vm.nativeSelf())))
}

func numberTimes(vm *VM) {
	n := vm.nativeSelf().AsNumber()
	closure, ok := vm.validateArgClosure(1)
	if !ok {
		return
	}
	for i := int64(0); float64(i) < n; i++ {
		if _, result := vm.callFunction(closure, []Value{NumberValue(float64(i))}); result != ResultSuccess {
			break
		}
	}
	vm.nativeReturn(Null)
}

func numberIsint(vm *VM) {
	_, ok := numberToInteger(vm.nativeSelf().AsNumber())
	vm.nativeReturn(BoolValue(ok))
}

func numberIsbyte(vm *VM) {
	i, ok := numberToInteger(vm.nativeSelf().AsNumber())
	vm.nativeReturn(BoolValue(ok && 0 <= i && i <= 0xff))
}

func stringSelf(vm *VM) *String { return vm.nativeSelf().AsString() }

func stringStripMethod(vm *VM) {
	vm.nativeReturn(ObjectValue(vm.stringStrip(stringSelf(vm))))
}

func stringLowerMethod(vm *VM) {
	vm.nativeReturn(ObjectValue(vm.stringLower(stringSelf(vm))))
}

func stringUpperMethod(vm *VM) {
	vm.nativeReturn(ObjectValue(vm.stringUpper(stringSelf(vm))))
}

func stringFind(vm *VM) {
	argc := vm.nativeArgc()
	if !vm.checkArgcRange(argc, 1, 2) {
		return
	}
	sub, ok := vm.validateArgString(1)
	if !ok {
		return
	}
	var start int64
	if argc == 2 {
		if start, ok = vm.validateInteger(vm.nativeArg(2), "Argument 2"); !ok {
			return
		}
		start = max(start, 0)
	}

	self := stringSelf(vm)
	if int64(len(self.Data)) <= start {
		vm.nativeReturn(NumberValue(-1))
		return
	}
	index := strings.Index(self.Data[start:], sub.Data)
	if index == -1 {
		vm.nativeReturn(NumberValue(-1))
		return
	}
	vm.nativeReturn(NumberValue(float64(int64(index) + start)))
}

func stringReplaceMethod(vm *VM) {
	argc := vm.nativeArgc()
	if !vm.checkArgcRange(argc, 2, 3) {
		return
	}
	old, ok := vm.validateArgString(1)
	if !ok {
		return
	}
	repl, ok := vm.validateArgString(2)
	if !ok {
		return
	}
	count := int64(-1)
	if argc == 3 {
		if count, ok = vm.validateInteger(vm.nativeArg(3), "Argument 3"); !ok {
			return
		}
		if count < 0 && count != -1 {
			vm.setError("count should either be >= 0 or -1")
			return
		}
	}
	vm.nativeReturn(ObjectValue(vm.stringReplace(stringSelf(vm), old, repl, int(count))))
}

func stringSplitMethod(vm *VM) {
	sep, ok := vm.validateArgString(1)
	if !ok {
		return
	}
	if len(sep.Data) == 0 {
		vm.setError("Cannot use empty string as a seperator.")
		return
	}
	vm.nativeReturn(ObjectValue(vm.stringSplit(stringSelf(vm), sep)))
}

// affixMatch implements startswith and endswith over a string or a list of
// strings.
func (vm *VM) affixMatch(match func(s, affix string) bool, elemErr, argErr string) {
	self := stringSelf(vm)
	switch o := vm.nativeArg(1).obj.(type) {
	case *String:
		vm.nativeReturn(BoolValue(match(self.Data, o.Data)))
	case *List:
		for _, e := range o.Elements.Data {
			s := e.AsString()
			if s == nil {
				vm.setError(elemErr)
				return
			}
			if match(self.Data, s.Data) {
				vm.nativeReturn(True)
				return
			}
		}
		vm.nativeReturn(False)
	default:
		vm.setError(argErr)
	}
}

func stringStartswith(vm *VM) {
	vm.affixMatch(strings.HasPrefix, "Expected a String for prefix.",
		"Expected a String or a List of prifiexes.")
}

func stringEndswith(vm *VM) {
	vm.affixMatch(strings.HasSuffix, "Expected a String for suffix.",
		"Expected a String or a List of suffixes.")
}

func listSelf(vm *VM) *List { return vm.nativeSelf().AsList() }

func listClear(vm *VM) {
	listSelf(vm).Elements.Clear(vm)
}

func listFind(vm *VM) {
	target := vm.nativeArg(1)
	for i, e := range listSelf(vm).Elements.Data {
		if IsEqual(e, target) {
			vm.nativeReturn(NumberValue(float64(i)))
			return
		}
	}
	vm.nativeReturn(NumberValue(-1))
}

func listAppendMethod(vm *VM) {
	vm.listAppend(listSelf(vm), vm.nativeArg(1))
	vm.nativeReturn(vm.nativeSelf())
}

func listPop(vm *VM) {
	self := listSelf(vm)
	argc := vm.nativeArgc()
	if !vm.checkArgcRange(argc, 0, 1) {
		return
	}
	count := int64(self.Elements.Len())
	if count == 0 {
		vm.setError("Cannot pop from an empty list.")
		return
	}
	index := int64(-1)
	if argc == 1 {
		var ok bool
		if index, ok = vm.validateInteger(vm.nativeArg(1), "Argument 1"); !ok {
			return
		}
	}
	if index < 0 {
		index += count
	}
	if index < 0 || index >= count {
		vm.setError("List.pop index out of bounds.")
		return
	}
	vm.nativeReturn(vm.listRemoveAt(self, int(index)))
}

func listInsert(vm *VM) {
	self := listSelf(vm)
	index, ok := vm.validateInteger(vm.nativeArg(1), "Argument 1")
	if !ok {
		return
	}
	if index < 0 || index > int64(self.Elements.Len()) {
		vm.setError("List.insert index out of bounds.")
		return
	}
	vm.listInsert(self, int(index), vm.nativeArg(2))
}

func mapSelf(vm *VM) *Map { return vm.nativeSelf().AsMap() }

func mapClear(vm *VM) { mapSelf(vm).Clear(vm) }

func mapGet(vm *VM) {
	argc := vm.nativeArgc()
	if !vm.checkArgcRange(argc, 1, 2) {
		return
	}
	def := Null
	if argc == 2 {
		def = vm.nativeArg(2)
	}
	if v := mapSelf(vm).Get(vm.nativeArg(1)); !v.IsUndefined() {
		vm.nativeReturn(v)
		return
	}
	vm.nativeReturn(def)
}

func mapHas(vm *VM) {
	vm.nativeReturn(BoolValue(!mapSelf(vm).Get(vm.nativeArg(1)).IsUndefined()))
}

func mapPop(vm *VM) {
	key := vm.nativeArg(1)
	v := mapSelf(vm).Remove(vm, key)
	if v.IsUndefined() {
		vm.setErrorf("Key '%s' does not exists.", vm.toRepr(key).Data)
		return
	}
	vm.nativeReturn(v)
}

func methodBindBind(vm *VM) {
	self := vm.nativeSelf().obj.(*MethodBind)
	instance := vm.nativeArg(1)
	if m := vm.hasMethod(instance, self.Method.Fn.Name); m == nil || m != self.Method {
		vm.setError("Cannot bind method, instance and method types miss-match.")
		return
	}
	self.Instance = instance
	vm.nativeReturn(vm.nativeSelf())
}

func classMethods(vm *VM) {
	self := vm.nativeSelf().AsClass()
	list := vm.newList(self.Methods.Len())
	vm.pushTempRef(list)
	defer vm.popTempRef()

	for _, m := range self.Methods.Data {
		if strings.HasPrefix(m.Fn.Name, "@") {
			continue
		}
		vm.listAppend(list, ObjectValue(vm.newMethodBind(m)))
	}
	vm.nativeReturn(ObjectValue(list))
}

func moduleGlobals(vm *VM) {
	self := vm.nativeSelf().AsModule()
	list := vm.newList(self.Globals.Len())
	vm.pushTempRef(list)
	defer vm.popTempRef()

	for i, v := range self.Globals.Data {
		if strings.HasPrefix(self.GlobalName(i), "@") {
			continue
		}
		vm.listAppend(list, v)
	}
	vm.nativeReturn(ObjectValue(list))
}

func fiberRun(vm *VM) {
	self := vm.nativeSelf().AsFiber()
	if !vm.prepareFiber(self, vm.nativeArgs()) {
		return
	}

	if self.closure.Fn.IsNative() {
		caller := vm.fiber
		self.state = FiberRunning
		vm.fiber = self
		self.closure.Fn.Native(vm)
		vm.fiber = caller
		self.state = FiberDone
		if !self.err.IsNull() {
			caller.err = self.err
			return
		}
		vm.nativeReturn(self.stack[self.ret])
		return
	}

	self.caller = vm.fiber
	vm.fiber = self
	self.state = FiberRunning
}

func fiberResume(vm *VM) {
	self := vm.nativeSelf().AsFiber()
	argc := vm.nativeArgc()
	if !vm.checkArgcRange(argc, 0, 1) {
		return
	}
	value := Null
	if argc == 1 {
		value = vm.nativeArg(1)
	}
	if vm.switchFiber(self, value) {
		self.state = FiberRunning
	}
}

// ---------------------------------------------------------------------------
// Builtin class initialization
// ---------------------------------------------------------------------------

var builtinCtorDefs = map[VarType]nativeDef{
	TypeNull:   {"@ctorNull", 0, ctorNull, ""},
	TypeBool:   {"@ctorBool", 1, ctorBool, ""},
	TypeNumber: {"@ctorNumber", 1, ctorNumber, ""},
	TypeString: {"@ctorString", -1, ctorString, ""},
	TypeRange:  {"@ctorRange", 2, ctorRange, ""},
	TypeList:   {"@ctorList", -1, ctorList, ""},
	TypeMap:    {"@ctorMap", 0, ctorMap, ""},
	TypeFiber:  {"@ctorFiber", 1, ctorFiber, ""},
}

type methodDef struct {
	class VarType
	nativeDef
}

var builtinMethodDefs = []methodDef{
	{TypeObject, nativeDef{"typename", 0, objTypename, docstring("Object.typename() -> String",
		"Returns the type name of the object.")}},
	{TypeObject, nativeDef{"_repr", 0, objRepr, docstring("Object._repr() -> String",
		"Returns the repr string of the object.")}},

	{TypeNumber, nativeDef{"times", 1, numberTimes, docstring("Number.times(f:Closure)",
		"Calls f with 0, 1, ... for as many times as the number.")}},
	{TypeNumber, nativeDef{"isint", 0, numberIsint, docstring("Number.isint() -> Bool",
		"Returns true if the number is a whole number.")}},
	{TypeNumber, nativeDef{"isbyte", 0, numberIsbyte, docstring("Number.isbyte() -> Bool",
		"Returns true if the number is an integer between 0x00 and 0xff.")}},

	{TypeString, nativeDef{"strip", 0, stringStripMethod, docstring("String.strip() -> String",
		"Returns a copy without leading and trailing white space.")}},
	{TypeString, nativeDef{"lower", 0, stringLowerMethod, docstring("String.lower() -> String",
		"Returns a lower case copy.")}},
	{TypeString, nativeDef{"upper", 0, stringUpperMethod, docstring("String.upper() -> String",
		"Returns an upper case copy.")}},
	{TypeString, nativeDef{"find", -1, stringFind, docstring("String.find(sub:String[, start:Number=0]) -> Number",
		"Returns the first index of sub at or after start, or -1.")}},
	{TypeString, nativeDef{"replace", -1, stringReplaceMethod, docstring("String.replace(old:String, new:String[, count:Number=-1]) -> String",
		"Returns a copy with count occurrences of old replaced by new, every occurrence when count is -1.")}},
	{TypeString, nativeDef{"split", 1, stringSplitMethod, docstring("String.split(sep:String) -> List",
		"Splits the string around sep.")}},
	{TypeString, nativeDef{"startswith", 1, stringStartswith, docstring("String.startswith(prefix:String|List) -> Bool",
		"Returns true if the string starts with the prefix or one of the prefixes.")}},
	{TypeString, nativeDef{"endswith", 1, stringEndswith, docstring("String.endswith(suffix:String|List) -> Bool",
		"Returns true if the string ends with the suffix or one of the suffixes.")}},

	{TypeList, nativeDef{"clear", 0, listClear, docstring("List.clear() -> Null",
		"Removes every element.")}},
	{TypeList, nativeDef{"find", 1, listFind, docstring("List.find(value:Var) -> Number",
		"Returns the index of value, or -1.")}},
	{TypeList, nativeDef{"append", 1, listAppendMethod, docstring("List.append(value:Var) -> List",
		"Appends value and returns the list.")}},
	{TypeList, nativeDef{"pop", -1, listPop, docstring("List.pop(index:Number=-1) -> Var",
		"Removes the element at index and returns it.")}},
	{TypeList, nativeDef{"insert", 2, listInsert, docstring("List.insert(index:Number, value:Var) -> Null",
		"Inserts value at index, where 0 <= index <= length.")}},

	{TypeMap, nativeDef{"clear", 0, mapClear, docstring("Map.clear() -> Null",
		"Removes every entry.")}},
	{TypeMap, nativeDef{"get", -1, mapGet, docstring("Map.get(key:Var, default=Null) -> Var",
		"Returns the value of key, or default when missing.")}},
	{TypeMap, nativeDef{"has", 1, mapHas, docstring("Map.has(key:Var) -> Bool",
		"Returns true if key exists.")}},
	{TypeMap, nativeDef{"pop", 1, mapPop, docstring("Map.pop(key:Var) -> Var",
		"Removes key and returns its value.")}},

	{TypeMethodBind, nativeDef{"bind", 1, methodBindBind, docstring("MethodBind.bind(instance:Var) -> MethodBind",
		"Binds the method to instance, which must have the method in its class chain.")}},

	{TypeClass, nativeDef{"methods", 0, classMethods, docstring("Class.methods() -> List",
		"Returns the unbound methods of the class.")}},

	{TypeModule, nativeDef{"globals", 0, moduleGlobals, docstring("Module.globals() -> List",
		"Returns the values of the module globals.")}},

	{TypeFiber, nativeDef{"run", -1, fiberRun, docstring("Fiber.run(...) -> Var",
		"Starts the fiber with the arguments. Evaluates to its return or first yielded value.")}},
	{TypeFiber, nativeDef{"resume", -1, fiberResume, docstring("Fiber.resume([value:Var]) -> Var",
		"Resumes a yielded fiber. Evaluates to its return or next yielded value.")}},
}

func (vm *VM) initializeBuiltinClasses() {
	for t := TypeObject; t < TypeInstance; t++ {
		var super *Class
		if t != TypeObject {
			super = vm.builtinClasses[TypeObject]
		}
		cls, _ := vm.newClass(t.String(), super, nil, "")
		cls.ClassOf = t
		vm.builtinClasses[t] = cls
	}

	for t, def := range builtinCtorDefs {
		fn, _ := vm.newFunction(def.name, nil, true, def.doc)
		fn.Native = def.fn
		fn.Arity = def.arity
		vm.pushTempRef(fn)
		vm.builtinClasses[t].Ctor = vm.newClosure(fn)
		vm.popTempRef()
	}

	for _, def := range builtinMethodDefs {
		fn, _ := vm.newFunction(def.name, nil, true, def.doc)
		fn.IsMethod = true
		fn.Native = def.fn
		fn.Arity = def.arity
		vm.pushTempRef(fn)
		closure := vm.newClosure(fn)
		vm.pushTempRef(closure)
		vm.builtinClasses[def.class].Methods.Write(vm, closure)
		vm.popTempRef()
		vm.popTempRef()
	}
}

func (vm *VM) initializeCore() {
	vm.initializeBuiltinFns()
	vm.initializeCoreModules()
	vm.initializeBuiltinClasses()
}
