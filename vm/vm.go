package vm

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// ErrorFn receives compile errors, runtime error messages and the frames of
// runtime stack traces. For ErrorStackTrace entries message is the function
// name.
type ErrorFn func(vm *VM, kind ErrorKind, file string, line int, message string)

// WriteFn writes text to an output stream.
type WriteFn func(vm *VM, text string)

// ReadFn reads a line of input without its newline. It returns false at the
// end of input.
type ReadFn func(vm *VM) (string, bool)

// LoadScriptFn returns the source of the script at path.
type LoadScriptFn func(vm *VM, path string) (string, bool)

// ResolvePathFn resolves an import path relative to the script at from,
// which is empty for the main script.
type ResolvePathFn func(vm *VM, from, path string) (string, bool)

// Configuration holds the host callbacks and tuning of a VM.
type Configuration struct {
	// Allocator is told about every accounted allocation as a change from
	// oldSize to newSize bytes. The memory itself belongs to Go.
	Allocator func(oldSize, newSize int)

	ErrorFn  ErrorFn
	WriteFn  WriteFn
	StderrFn WriteFn
	ReadFn   ReadFn

	// ExitFn is called by exit(); a returning ExitFn stops the script.
	ExitFn func(code int)

	LoadScriptFn  LoadScriptFn
	ResolvePathFn ResolvePathFn

	// UseANSIEscape colors the default error output.
	UseANSIEscape bool

	MinHeapSize     int
	HeapFillPercent int
	InitialGC       int
	MaxStackSize    int

	// Debug disables tail calls and enables lang.debug_break().
	Debug bool

	UserData any
}

// NewConfiguration returns a configuration that writes to the standard
// streams, reads lines from stdin and loads scripts from the file system.
func NewConfiguration() *Configuration {
	stdin := bufio.NewReader(os.Stdin)
	return &Configuration{
		WriteFn:  func(_ *VM, text string) { io.WriteString(os.Stdout, text) },
		StderrFn: func(_ *VM, text string) { io.WriteString(os.Stderr, text) },
		ReadFn: func(_ *VM) (string, bool) {
			line, err := stdin.ReadString('\n')
			if err != nil && line == "" {
				return "", false
			}
			return strings.TrimRight(line, "\r\n"), true
		},
		ExitFn: os.Exit,
		LoadScriptFn: func(_ *VM, path string) (string, bool) {
			data, err := os.ReadFile(path)
			if err != nil {
				vmLog.Debugf("cannot read %s: %s", path, err)
				return "", false
			}
			return string(data), true
		},
		MinHeapSize:     defaultMinHeapSize,
		HeapFillPercent: defaultHeapFillPercent,
		InitialGC:       defaultInitialGC,
		MaxStackSize:    DefaultMaxStackSize,
	}
}

// ---------------------------------------------------------------------------
// VM
// ---------------------------------------------------------------------------

// VM is a pocket virtual machine. A VM is not safe for concurrent use.
type VM struct {
	config Configuration

	// Heap
	first          Object
	bytesAllocated int
	nextGC         int
	collecting     bool
	workingSet     []Object
	gcCycles       int
	lastGCStats    GCStats

	tempRefs      [maxTempRefs]Object
	tempRefCount  int
	handles       *Handle
	compilerRoots []RootMarker

	// Builtins
	builtinFns     [maxBuiltinFns]*Closure
	builtinFnCount int
	builtinClasses [TypeInstance]*Class

	modules     *Map
	searchPaths *List

	// fiber is the running fiber, nil when no script runs.
	fiber *Fiber

	// hostFiber holds the slots the host uses outside of native calls.
	hostFiber *Fiber

	// nativeDepth counts re-entrant calls from native code that are in
	// progress. Their errors are reported by the fiber that made the call.
	nativeDepth int

	lastError error
}

// NewVM creates a VM. A nil config uses NewConfiguration.
func NewVM(config *Configuration) *VM {
	if config == nil {
		config = NewConfiguration()
	}
	vm := &VM{config: *config}
	if vm.config.MaxStackSize <= 0 {
		vm.config.MaxStackSize = DefaultMaxStackSize
	}
	if vm.config.HeapFillPercent <= 0 {
		vm.config.HeapFillPercent = defaultHeapFillPercent
	}
	if vm.config.InitialGC <= 0 {
		vm.config.InitialGC = defaultInitialGC
	}
	vm.nextGC = vm.config.InitialGC

	vm.modules = vm.newMap()
	vm.searchPaths = vm.newList(8)

	vm.initializeCore()
	return vm
}

// Free releases every object of the VM, running the delete callbacks of
// native instances. Every handle must have been released.
func (vm *VM) Free() {
	for obj := vm.first; obj != nil; {
		next := obj.header().next
		vm.freeObject(obj)
		obj = next
	}
	vm.first = nil
	vm.bytesAllocated = 0

	if vm.handles != nil {
		fatalf("not all handles were released")
	}
}

// UserData returns the host value of the configuration.
func (vm *VM) UserData() any { return vm.config.UserData }

// SetUserData replaces the host value of the configuration.
func (vm *VM) SetUserData(data any) { vm.config.UserData = data }

// Config returns a copy of the VM's configuration.
func (vm *VM) Config() Configuration { return vm.config }

// LastError returns the last compile or runtime error, or nil.
func (vm *VM) LastError() error { return vm.lastError }

// HasError reports whether the running native call raised an error.
func (vm *VM) HasError() bool { return vm.hasError() }

// AddSearchPath appends a directory imports are resolved against when the
// resolver rejects a path relative to the importing script. The path must
// end with a separator.
func (vm *VM) AddSearchPath(path string) {
	if path == "" {
		fatalf("empty search path")
	}
	if last := path[len(path)-1]; last != '/' && last != '\\' {
		fatalf("search path %q should end with either '/' or '\\'", path)
	}
	s := vm.newString(path)
	vm.pushTempRef(s)
	vm.listAppend(vm.searchPaths, ObjectValue(s))
	vm.popTempRef()
}

// ---------------------------------------------------------------------------
// Running code
// ---------------------------------------------------------------------------

// runModuleBody marks m initialized and runs its main body on a new fiber.
// Modules are marked before running so cyclic imports terminate.
func (vm *VM) runModuleBody(m *Module) Result {
	if m.Body == nil {
		fatalf("module %s has no body", m.DisplayName())
	}
	m.Initialized = true
	_, result := vm.callFunction(m.Body, nil)
	return result
}

// RunString compiles and runs source as an anonymous module.
func (vm *VM) RunString(source string) Result {
	m := vm.newModule()
	vm.pushTempRef(m)
	defer vm.popTempRef()

	m.Path = vm.newString("@(String)")
	if result := vm.compileModule(m, source, nil); result != ResultSuccess {
		return result
	}
	return vm.runModuleBody(m)
}

// RunFile compiles and runs the script at path as the main module. A file
// imported earlier is compiled again and replaces the cached module.
func (vm *VM) RunFile(path string) Result {
	if vm.config.LoadScriptFn == nil {
		fatalf("no script loading function configured")
	}

	resolved := path
	if vm.config.ResolvePathFn != nil {
		var ok bool
		if resolved, ok = vm.config.ResolvePathFn(vm, "", path); !ok {
			vm.lastError = fmt.Errorf("cannot find script at %q", path)
			vm.stderr("Error finding script at \"" + path + "\"\n")
			return ResultCompileError
		}
	}

	m := vm.newModule()
	vm.pushTempRef(m)
	defer vm.popTempRef()

	m.Path = vm.newString(resolved)
	vm.initializeModule(m, true)

	source, ok := vm.config.LoadScriptFn(vm, resolved)
	if !ok {
		vm.lastError = fmt.Errorf("cannot load script at %q", resolved)
		vm.stderr("Error loading script at \"" + resolved + "\"\n")
		return ResultCompileError
	}
	if result := vm.compileModule(m, source, nil); result != ResultSuccess {
		return result
	}
	vm.registerModule(m, m.Path)
	vmLog.Infof("running %s", resolved)
	return vm.runModuleBody(m)
}

// RunModule runs the main body of a module compiled with CompileModule.
func (vm *VM) RunModule(module *Handle) Result {
	m := module.Value().AsModule()
	if m == nil {
		fatalf("RunModule expects a module handle")
	}
	return vm.runModuleBody(m)
}

// RunREPL reads lines with ReadFn, compiling and running each complete
// statement in a persistent module until the input ends. Lines are
// buffered while a statement is incomplete.
func (vm *VM) RunREPL() Result {
	if vm.config.ReadFn == nil {
		vm.stderr("REPL failed to input.")
		return ResultRuntimeError
	}
	write := func(text string) {
		if vm.config.WriteFn != nil {
			vm.config.WriteFn(vm, text)
		}
	}

	module := vm.NewModule("@(REPL)")
	defer vm.ReleaseHandle(module)
	m := module.Value().AsModule()
	vm.initializeModule(m, true)

	opts := &CompileOptions{ReplMode: true, Debug: vm.config.Debug}
	var lines strings.Builder
	needMore := false
	result := ResultSuccess

	for {
		if needMore {
			write("... ")
		} else {
			write(">>> ")
		}

		line, ok := vm.config.ReadFn(vm)
		if !ok {
			write("\n")
			return ResultSuccess
		}
		if strings.TrimSpace(line) == "" {
			continue
		}

		if lines.Len() != 0 {
			lines.WriteByte('\n')
		}
		lines.WriteString(line)

		result = vm.compileModule(m, lines.String(), opts)
		if result == ResultUnexpectedEOF {
			needMore = true
			continue
		}
		needMore = false
		lines.Reset()
		if result != ResultSuccess {
			continue
		}

		_, result = vm.callFunction(m.Body, nil)
	}
}

// CallFunction calls the closure held by fn with args on a new fiber and
// returns its result.
func (vm *VM) CallFunction(fn *Handle, args ...Value) (Value, error) {
	closure := fn.Value().AsClosure()
	if closure == nil {
		return Null, errors.New("expected a function handle")
	}
	ret, result := vm.callFunction(closure, args)
	if result != ResultSuccess {
		return Null, vm.callError()
	}
	return ret, nil
}

// CallMethod calls the method name of self with args.
func (vm *VM) CallMethod(self Value, name string, args ...Value) (Value, error) {
	method := vm.hasMethod(self, name)
	if method == nil {
		return Null, fmt.Errorf("'%s' has no method named '%s'", self.TypeName(), name)
	}
	ret, result := vm.callMethod(self, method, args)
	if result != ResultSuccess {
		return Null, vm.callError()
	}
	return ret, nil
}

// callError returns the error of a failed call. Calls made from native code
// leave it pending on the calling fiber instead of reporting it.
func (vm *VM) callError() error {
	if vm.fiber != nil && !vm.fiber.err.IsNull() {
		return &RuntimeError{Message: vm.fiber.errorString()}
	}
	if vm.lastError == nil {
		return errors.New("call failed")
	}
	return vm.lastError
}

// NewFiber creates a fiber that runs the closure held by fn.
func (vm *VM) NewFiber(fn *Handle) *Handle {
	closure := fn.Value().AsClosure()
	if closure == nil {
		fatalf("NewFiber expects a function handle")
	}
	f := vm.newFiber(closure)
	vm.pushTempRef(f)
	defer vm.popTempRef()
	return vm.NewHandle(ObjectValue(f))
}

// RunFiber starts the fiber held by fiber with args. It returns when the
// fiber returns or yields; the value is read with Fiber.Return.
func (vm *VM) RunFiber(fiber *Handle, args ...Value) Result {
	f := fiber.Value().AsFiber()
	if f == nil {
		fatalf("RunFiber expects a fiber handle")
	}
	if !vm.prepareFiber(f, args) {
		return ResultRuntimeError
	}
	if !f.closure.Fn.IsNative() {
		return vm.runFiber(f)
	}

	vm.fiber = f
	f.state = FiberRunning
	f.closure.Fn.Native(vm)
	f.state = FiberDone
	vm.fiber = nil
	if !f.err.IsNull() {
		vm.reportError(f)
		return ResultRuntimeError
	}
	return ResultSuccess
}

// ResumeFiber resumes the yielded fiber held by fiber, making value the
// result of its yield.
func (vm *VM) ResumeFiber(fiber *Handle, value Value) Result {
	f := fiber.Value().AsFiber()
	if f == nil {
		fatalf("ResumeFiber expects a fiber handle")
	}
	if !vm.switchFiber(f, value) {
		return ResultRuntimeError
	}
	return vm.runFiber(f)
}
