package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ThakeeNathees/pocketlang-sub001/vm"
)

var disasCmd = &cobra.Command{
	Use:   "disas <file>",
	Short: "Print the bytecode of a script or module image",
	Args:  cobra.ExactArgs(1),
	RunE:  runDisas,
}

func runDisas(cmd *cobra.Command, args []string) error {
	opts := optionsFromFlags(cmd)
	h, err := newHost(opts, filepath.Dir(args[0]), args)
	if err != nil {
		return err
	}
	defer h.close()

	module, err := h.loadModule(args[0])
	if err != nil {
		return err
	}
	defer h.vm.ReleaseHandle(module)

	disassembleModule(opts.stdout, module.Value().AsModule())
	return nil
}

// loadModule compiles the script at path, or decodes it when it is a
// module image, without running it.
func (h *host) loadModule(path string) (*vm.Handle, error) {
	if filepath.Ext(path) == imageExt {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		module, err := h.vm.DecodeModuleImage(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return module, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	abs, err := absPath(path)
	if err != nil {
		return nil, err
	}
	module := h.vm.NewScriptModule(abs)
	if result := h.vm.CompileModule(module, string(data), &vm.CompileOptions{Debug: h.opts.debug}); result != vm.ResultSuccess {
		h.vm.ReleaseHandle(module)
		return nil, &exitError{code: exitCompileError}
	}
	return module, nil
}

// disassembleModule writes the listing of every script function of m, the
// main body first.
func disassembleModule(w io.Writer, m *vm.Module) {
	if m.Body != nil {
		io.WriteString(w, vm.Disassemble(m.Body.Fn))
	}
	for _, c := range m.Constants.Data {
		fn, ok := c.AsObject().(*vm.Function)
		if !ok || fn.Native != nil {
			continue
		}
		if m.Body != nil && fn == m.Body.Fn {
			continue
		}
		io.WriteString(w, "\n")
		io.WriteString(w, vm.Disassemble(fn))
	}
}
