// Package lib implements the standard modules of pocket scripts: math,
// path, time, re and io. They are built on the public host API of the vm
// package only, the same way an embedding application adds its own modules.
package lib

import (
	"github.com/tliron/commonlog"

	"github.com/ThakeeNathees/pocketlang-sub001/vm"
)

var libLog = commonlog.GetLogger("pocket.lib")

// function is a native function of a standard module.
type function struct {
	name  string
	fn    vm.NativeFn
	arity int
	doc   string
}

type module struct {
	name      string
	functions []function
	setup     func(v *vm.VM, h *vm.Handle)
}

func modules() []module {
	return []module{
		{"math", mathFunctions, setupMath},
		{"path", pathFunctions, nil},
		{"time", timeFunctions, nil},
		{"re", reFunctions, nil},
		{"io", ioFunctions, setupIO},
	}
}

// Register makes the standard modules importable from scripts run by v.
func Register(v *vm.VM) {
	for _, m := range modules() {
		h := v.NewModule(m.name)
		for _, f := range m.functions {
			v.ModuleAddFunction(h, f.name, f.fn, f.arity, f.doc)
		}
		if m.setup != nil {
			m.setup(v, h)
		}
		v.RegisterModule(h)
		v.ReleaseHandle(h)
		libLog.Debugf("registered module %s", m.name)
	}
}

// Names returns the names of the standard modules.
func Names() []string {
	var names []string
	for _, m := range modules() {
		names = append(names, m.name)
	}
	return names
}

// Configure installs the file system import resolver and script loader
// into cfg.
func Configure(cfg *vm.Configuration) {
	cfg.ResolvePathFn = ResolvePath
	cfg.LoadScriptFn = LoadScript
}

func doc(signature, text string) string {
	return signature + "\n\n" + text
}
