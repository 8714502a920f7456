package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
	"golang.org/x/term"

	"github.com/ThakeeNathees/pocketlang-sub001/lib"
	"github.com/ThakeeNathees/pocketlang-sub001/manifest"
	"github.com/ThakeeNathees/pocketlang-sub001/vm"
)

var log = commonlog.GetLogger("pocket.cli")

// hostOptions are the settings shared by every command.
type hostOptions struct {
	color      string
	verbosity  int
	debug      bool
	configPath string

	stdout io.Writer
	stderr io.Writer
	stdin  io.Reader

	// exit replaces the recording of exit() codes when set.
	exit func(code int)
	// errorFn replaces the default error report when set.
	errorFn vm.ErrorFn
}

// host is a configured VM with the project manifest it was built from.
type host struct {
	opts     hostOptions
	manifest *manifest.Manifest
	vm       *vm.VM
	cache    *imageCache
	exitCode int
}

func optionsFromFlags(cmd *cobra.Command) hostOptions {
	flags := cmd.Flags()
	mode, _ := flags.GetString("color")
	verbosity, _ := flags.GetCount("verbose")
	debug, _ := flags.GetBool("debug")
	configPath, _ := flags.GetString("config")
	return hostOptions{
		color:      mode,
		verbosity:  verbosity,
		debug:      debug,
		configPath: configPath,
		stdout:     cmd.OutOrStdout(),
		stderr:     cmd.ErrOrStderr(),
		stdin:      cmd.InOrStdin(),
	}
}

// loadManifest returns the manifest named by --config, the nearest
// pocket.toml above dir, or the defaults.
func loadManifest(opts hostOptions, dir string) (*manifest.Manifest, error) {
	if opts.configPath != "" {
		return manifest.LoadFile(opts.configPath)
	}
	m, err := manifest.FindAndLoad(dir)
	if err != nil {
		return nil, err
	}
	if m == nil {
		abs, err := absDir(dir)
		if err != nil {
			return nil, err
		}
		m = manifest.Default(abs)
	}
	return m, nil
}

// newHost loads the manifest for dir and builds a VM with the standard
// library, the project search paths and script arguments in sys.argv.
func newHost(opts hostOptions, dir string, argv []string) (*host, error) {
	m, err := loadManifest(opts, dir)
	if err != nil {
		return nil, err
	}

	verbosity := max(opts.verbosity, m.Log.Verbosity)
	if file := m.LogFile(); file != "" {
		commonlog.Configure(verbosity, &file)
	} else {
		commonlog.Configure(verbosity, nil)
	}

	colored := useColor(opts.color, opts.stderr)
	color.NoColor = !colored

	h := &host{opts: opts, manifest: m}
	cfg := h.configuration(colored)
	h.vm = vm.NewVM(cfg)

	lib.Register(h.vm)
	lib.AddEnvSearchPaths(h.vm)

	deps, err := manifest.NewResolver(m).Resolve()
	if err != nil {
		h.vm.Free()
		return nil, err
	}
	m.AddSearchPaths(h.vm, deps)
	h.registerSys(argv)

	if m.Cache.Enabled {
		h.cache = openImageCache(m.CacheDir())
		log.Debugf("image cache at %s", m.CacheDir())
	}
	return h, nil
}

func (h *host) configuration(colored bool) *vm.Configuration {
	cfg := vm.NewConfiguration()
	lib.Configure(cfg)
	cfg.UseANSIEscape = colored
	cfg.Debug = h.opts.debug
	h.manifest.Apply(cfg)

	stdout, stderr := h.opts.stdout, h.opts.stderr
	cfg.WriteFn = func(_ *vm.VM, text string) { io.WriteString(stdout, text) }
	cfg.StderrFn = func(_ *vm.VM, text string) { io.WriteString(stderr, text) }
	if h.opts.stdin != nil {
		cfg.ReadFn = lineReader(h.opts.stdin)
	}
	cfg.ExitFn = func(code int) { h.exitCode = code }
	if h.opts.exit != nil {
		cfg.ExitFn = h.opts.exit
	}
	if h.opts.errorFn != nil {
		cfg.ErrorFn = h.opts.errorFn
	}
	return cfg
}

// registerSys adds the sys module holding the script arguments.
func (h *host) registerSys(argv []string) {
	v := h.vm
	sys := v.NewModule("sys")
	defer v.ReleaseHandle(sys)

	v.ReserveSlots(2)
	v.NewList(0)
	for _, arg := range argv {
		v.SetSlotString(1, arg)
		v.ListInsert(0, -1, 1)
	}
	v.ModuleAddGlobal(sys, "argv", v.GetSlotValue(0))
	v.RegisterModule(sys)
}

func (h *host) close() {
	if h.vm != nil {
		h.vm.Free()
		h.vm = nil
	}
}

// finish turns the result of running a script into the command's error.
func (h *host) finish(result vm.Result) error {
	switch result {
	case vm.ResultSuccess:
		if h.exitCode != 0 {
			return &exitError{code: h.exitCode}
		}
		return nil
	case vm.ResultCompileError, vm.ResultUnexpectedEOF:
		return &exitError{code: exitCompileError}
	default:
		return &exitError{code: exitRuntimeError}
	}
}

// useColor decides whether output to w is colored for mode "auto", "on"
// or "off".
func useColor(mode string, w io.Writer) bool {
	switch mode {
	case "on", "always":
		return true
	case "off", "never":
		return false
	}
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	f, ok := w.(*os.File)
	return ok && isTerminal(f)
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func absDir(dir string) (string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", dir)
	}
	return absPath(dir)
}

func absPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	return abs, nil
}

// lineReader reads lines from r without their line endings.
func lineReader(r io.Reader) vm.ReadFn {
	br := bufio.NewReader(r)
	return func(*vm.VM) (string, bool) {
		line, err := br.ReadString('\n')
		if err != nil && line == "" {
			return "", false
		}
		return strings.TrimRight(line, "\r\n"), true
	}
}
