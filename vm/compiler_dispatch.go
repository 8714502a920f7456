package vm

import (
	"sync"
)

// ---------------------------------------------------------------------------
// Compiler backend registration
// ---------------------------------------------------------------------------

// CompileOptions tunes a compilation.
type CompileOptions struct {
	// Debug disables tail calls so every call keeps its frame in traces.
	Debug bool

	// ReplMode prints the value of expression statements and returns
	// ResultUnexpectedEOF instead of reporting an error when the source
	// ends in the middle of a statement.
	ReplMode bool
}

// CompileFunc compiles source into module m, appending its globals,
// constants and functions and setting m.Body. The first compile error is
// returned alongside ResultCompileError.
//
// The compiler package registers itself with RegisterCompiler so the VM can
// compile imported scripts without importing it.
type CompileFunc func(vm *VM, m *Module, source string, opts *CompileOptions) (Result, *CompileError)

var (
	compilerMu sync.RWMutex
	compiler   CompileFunc
)

// RegisterCompiler installs the compile backend. It is called from the init
// function of the compiler package.
func RegisterCompiler(fn CompileFunc) {
	compilerMu.Lock()
	defer compilerMu.Unlock()
	compiler = fn
}

func registeredCompiler() CompileFunc {
	compilerMu.RLock()
	defer compilerMu.RUnlock()
	return compiler
}

// compileModule compiles source into m with the registered backend.
func (vm *VM) compileModule(m *Module, source string, opts *CompileOptions) Result {
	compile := registeredCompiler()
	if compile == nil {
		fatalf("no compiler registered, import the compiler package")
	}
	if opts == nil {
		opts = &CompileOptions{Debug: vm.config.Debug}
	}

	result, cerr := compile(vm, m, source, opts)
	if cerr != nil {
		vm.lastError = cerr
		vmLog.Debugf("compile failed: %s", cerr)
	}
	return result
}

// CompileModule compiles source into the module held by module. Compiling
// into a module that already ran keeps its globals, which is how the REPL
// accumulates definitions.
func (vm *VM) CompileModule(module *Handle, source string, opts *CompileOptions) Result {
	m := module.Value().AsModule()
	if m == nil {
		fatalf("CompileModule expects a module handle")
	}
	return vm.compileModule(m, source, opts)
}
