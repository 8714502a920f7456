package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ThakeeNathees/pocketlang-sub001/lib"
	"github.com/ThakeeNathees/pocketlang-sub001/vm"
)

// imageExt is the extension of compiled module images.
const imageExt = ".pkc"

// sourceName is the path given to code passed with -c.
const sourceName = "$(Source)"

var runCmd = &cobra.Command{
	Use:   "run <file> [args...]",
	Short: "Run a script or a compiled module image",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFile(optionsFromFlags(cmd), args[0], args)
	},
}

func init() {
	runCmd.Flags().SetInterspersed(false)
}

func runRoot(cmd *cobra.Command, args []string) error {
	opts := optionsFromFlags(cmd)
	if cmd.Flags().Changed("command") {
		source, _ := cmd.Flags().GetString("command")
		return runSource(opts, source, append([]string{sourceName}, args...))
	}
	if len(args) == 0 {
		return runREPL(opts)
	}
	return runFile(opts, args[0], args)
}

// runSource runs source given on the command line.
func runSource(opts hostOptions, source string, argv []string) error {
	h, err := newHost(opts, ".", argv)
	if err != nil {
		return err
	}
	defer h.close()

	module := h.vm.NewScriptModule(sourceName)
	defer h.vm.ReleaseHandle(module)
	if result := h.vm.CompileModule(module, source, &vm.CompileOptions{Debug: opts.debug}); result != vm.ResultSuccess {
		return h.finish(result)
	}
	return h.finish(h.vm.RunModule(module))
}

// runFile runs the script or module image at path. argv[0] is the path.
func runFile(opts hostOptions, path string, argv []string) error {
	h, err := newHost(opts, filepath.Dir(path), argv)
	if err != nil {
		return err
	}
	defer h.close()

	if filepath.Ext(path) == imageExt {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		module, err := h.vm.DecodeModuleImage(data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		defer h.vm.ReleaseHandle(module)
		return h.finish(h.vm.RunModule(module))
	}

	if h.cache == nil {
		return h.finish(h.vm.RunFile(path))
	}
	return h.runCached(path)
}

// runCached runs the script at path from its cached image, compiling and
// caching it on a miss.
func (h *host) runCached(path string) error {
	resolved, ok := lib.ResolvePath(h.vm, "", path)
	if !ok {
		return &exitError{code: exitCompileError, err: fmt.Errorf("cannot find script at %q", path)}
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return &exitError{code: exitCompileError, err: err}
	}
	source := string(data)
	key := imageKey(resolved, source)

	image, hit, err := h.cache.Get(key)
	if err != nil {
		log.Warningf("image cache: %s", err)
	}
	if hit {
		module, err := h.vm.DecodeModuleImage(image)
		if err == nil {
			log.Debugf("image cache hit for %s", resolved)
			defer h.vm.ReleaseHandle(module)
			return h.finish(h.vm.RunModule(module))
		}
		log.Warningf("image cache: %s: %s", resolved, err)
	}

	module := h.vm.NewScriptModule(resolved)
	defer h.vm.ReleaseHandle(module)
	if result := h.vm.CompileModule(module, source, &vm.CompileOptions{Debug: h.opts.debug}); result != vm.ResultSuccess {
		return h.finish(result)
	}
	// Encode before running; the image holds the compiled globals only.
	if image, err := h.vm.EncodeModuleImage(module); err != nil {
		log.Warningf("image cache: cannot encode %s: %s", resolved, err)
	} else if err := h.cache.Put(key, resolved, image); err != nil {
		log.Warningf("image cache: %s", err)
	}
	return h.finish(h.vm.RunModule(module))
}
