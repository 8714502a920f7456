package vm

import (
	"strings"
)

// ---------------------------------------------------------------------------
// Module registry and imports
// ---------------------------------------------------------------------------

// registerModule caches m under key, which is its name for native modules
// and its resolved path for scripts.
func (vm *VM) registerModule(m *Module, key *String) {
	if !(m.Name != nil && m.Name.Data == key.Data) && !(m.Path != nil && m.Path.Data == key.Data) {
		fatalf("module registered under %q, which is neither its name nor path", key.Data)
	}
	vm.modules.Set(vm, ObjectValue(key), ObjectValue(m))
}

// getModule returns the module cached under key, or nil.
func (vm *VM) getModule(key *String) *Module {
	entry := vm.modules.Get(ObjectValue(key))
	if entry.IsUndefined() {
		return nil
	}
	m := entry.AsModule()
	if m == nil {
		fatalf("module registry holds a %s", entry.TypeName())
	}
	return m
}

// resolveImport resolves path imported from the script at from, trying the
// search paths in order when the resolver rejects it.
func (vm *VM) resolveImport(from, path *String) (string, bool) {
	if vm.config.ResolvePathFn == nil {
		return "", false
	}
	fromPath := ""
	if from != nil {
		fromPath = from.Data
	}

	for i := 0; ; i++ {
		if resolved, ok := vm.config.ResolvePathFn(vm, fromPath, path.Data); ok {
			return resolved, true
		}
		if i >= vm.searchPaths.Elements.Len() {
			return "", false
		}
		sp := vm.searchPaths.Elements.Data[i].AsString()
		if sp == nil {
			fatalf("search path is not a string")
		}
		fromPath = sp.Data
	}
}

// importModule returns the module path refers to, loading and compiling
// the script when it was not imported before. Paths starting with '.' are
// only resolved relative to from; other paths are looked up by name first,
// which finds native modules. Failures set a runtime error and return nil.
func (vm *VM) importModule(from, path *String) *Module {
	if path == nil || path.Data == "" {
		fatalf("empty import path")
	}

	if !strings.HasPrefix(path.Data, ".") {
		if m := vm.getModule(path); m != nil {
			return m
		}
	}

	resolvedPath, ok := vm.resolveImport(from, path)
	if !ok {
		vm.setErrorf("Cannot import module '%s'", path.Data)
		return nil
	}

	resolved := vm.newString(resolvedPath)
	vm.pushTempRef(resolved)
	defer vm.popTempRef()

	if m := vm.getModule(resolved); m != nil {
		return m
	}

	if vm.config.LoadScriptFn == nil {
		vm.setError("Cannot import. The hosting application haven't registered the module loading API")
		return nil
	}

	// Import paths use '/' for resolving; the module name uses '.'.
	name := vm.newString(strings.ReplaceAll(path.Data, "/", "."))
	vm.pushTempRef(name)
	defer vm.popTempRef()

	return vm.importScript(resolved, name)
}

func (vm *VM) importScript(resolved, name *String) *Module {
	source, ok := vm.config.LoadScriptFn(vm, resolved.Data)
	if !ok {
		vm.setErrorf("Error loading module at \"%s\"", resolved.Data)
		return nil
	}

	m := vm.newModule()
	m.Path = resolved
	m.Name = name
	vm.pushTempRef(m)
	defer vm.popTempRef()

	vm.initializeModule(m, false)
	if vm.compileModule(m, source, nil) != ResultSuccess {
		vm.setErrorf("Error compiling module at \"%s\"", resolved.Data)
		return nil
	}
	vm.registerModule(m, resolved)
	vmLog.Infof("imported module %s from %s", name.Data, resolved.Data)
	return m
}
