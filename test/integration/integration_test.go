package integration_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/ThakeeNathees/pocketlang-sub001/compiler"
	"github.com/ThakeeNathees/pocketlang-sub001/lib"
	"github.com/ThakeeNathees/pocketlang-sub001/manifest"
	"github.com/ThakeeNathees/pocketlang-sub001/vm"
)

// ---------------------------------------------------------------------------
// Integration test helpers
// ---------------------------------------------------------------------------

type host struct {
	out    strings.Builder
	errs   []string
	frames []string
}

// newVM builds a VM with the standard library, capturing its output and
// errors. configure may adjust the configuration before the VM is made.
func newVM(t *testing.T, configure func(*vm.Configuration)) (*vm.VM, *host) {
	t.Helper()
	h := &host{}
	cfg := vm.NewConfiguration()
	lib.Configure(cfg)
	cfg.WriteFn = func(_ *vm.VM, text string) { h.out.WriteString(text) }
	cfg.StderrFn = func(_ *vm.VM, text string) { h.out.WriteString(text) }
	cfg.ErrorFn = func(_ *vm.VM, kind vm.ErrorKind, _ string, _ int, message string) {
		if kind == vm.ErrorStackTrace {
			h.frames = append(h.frames, message)
			return
		}
		h.errs = append(h.errs, message)
	}
	cfg.ExitFn = func(int) {}
	if configure != nil {
		configure(cfg)
	}
	v := vm.NewVM(cfg)
	lib.Register(v)
	t.Cleanup(v.Free)
	return v, h
}

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func mustRun(t *testing.T, v *vm.VM, source string) {
	t.Helper()
	if result := v.RunString(source); result != vm.ResultSuccess {
		t.Fatalf("RunString = %s: %v", result, v.LastError())
	}
}

// ---------------------------------------------------------------------------
// End to end scripts
// ---------------------------------------------------------------------------

func TestIntegrationE2E_Project(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"pocket.toml": "[runtime]\nmin-heap = \"64KiB\"\ninitial-gc = \"128KiB\"\n\n[modules]\nsearch-paths = [\"vendor\"]\n",
		"src/main.pk": "import strutil\nimport shapes\nfrom shapes import Rect\n" +
			"r = Rect(3, 4)\nprint(strutil.shout(\"area\"), r.area(), shapes.count)\n",
		"src/shapes.pk": "count = 0\nclass Rect\n  def _init(w, h)\n    self.w = w\n    self.h = h\n    count += 1\n  end\n" +
			"  def area()\n    return self.w * self.h\n  end\nend\n",
		"vendor/strutil.pk": "def shout(s)\n  return s.upper() + \"!\"\nend\n",
	})

	m, err := manifest.FindAndLoad(filepath.Join(dir, "src"))
	if err != nil || m == nil {
		t.Fatalf("FindAndLoad = %v, %v", m, err)
	}
	v, h := newVM(t, m.Apply)
	m.AddSearchPaths(v, nil)

	if result := v.RunFile(filepath.Join(dir, "src", "main.pk")); result != vm.ResultSuccess {
		t.Fatalf("RunFile = %s: %v", result, v.LastError())
	}
	if got := h.out.String(); got != "AREA! 12 1\n" {
		t.Errorf("output = %q, want %q", got, "AREA! 12 1\n")
	}
}

func TestIntegrationE2E_ModulesRunOnce(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"main.pk":   "import a\nimport b\nprint(a.value + b.value)\n",
		"a.pk":      "import shared\nvalue = shared.next()\n",
		"b.pk":      "import shared\nvalue = shared.next()\n",
		"shared.pk": "print(\"init shared\")\nn = 0\ndef next()\n  n += 1\n  return n\nend\n",
	})

	v, h := newVM(t, nil)
	if result := v.RunFile(filepath.Join(dir, "main.pk")); result != vm.ResultSuccess {
		t.Fatalf("RunFile = %s: %v", result, v.LastError())
	}
	if got := h.out.String(); got != "init shared\n3\n" {
		t.Errorf("output = %q, want %q", got, "init shared\n3\n")
	}
}

func TestIntegrationE2E_GarbageCollection(t *testing.T) {
	v, h := newVM(t, func(cfg *vm.Configuration) {
		cfg.MinHeapSize = 16 << 10
		cfg.InitialGC = 32 << 10
		cfg.HeapFillPercent = 50
	})

	src := `keep = []
for i in 0..2000
  tmp = [i, "item $i", {"i": i}]
  if i % 500 == 0 then keep.append(tmp) end
end
print(keep.length, keep[3][1], keep[2][2]["i"])
`
	mustRun(t, v, src)
	if got := h.out.String(); got != "4 item 1500 1000\n" {
		t.Errorf("output = %q, want %q", got, "4 item 1500 1000\n")
	}
	if v.LastGCStats().Cycle == 0 {
		t.Errorf("no collection ran under a 32KiB threshold")
	}
}

func TestIntegrationE2E_StackLimit(t *testing.T) {
	deep := "def depth(n)\n  if n == 0 then return 0 end\n  return 1 + depth(n - 1)\nend\nprint(depth(100000))\n"
	tail := "def count(n)\n  if n == 0 then return \"done\" end\n  return count(n - 1)\nend\nprint(count(100000))\n"

	tests := []struct {
		name   string
		source string
		debug  bool
		want   vm.Result
	}{
		{"deep recursion", deep, false, vm.ResultRuntimeError},
		{"tail calls", tail, false, vm.ResultSuccess},
		{"tail calls in debug mode", tail, true, vm.ResultRuntimeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, _ := newVM(t, func(cfg *vm.Configuration) {
				cfg.MaxStackSize = 64 << 10
				cfg.Debug = tt.debug
			})
			if result := v.RunString(tt.source); result != tt.want {
				t.Fatalf("RunString = %s (%v), want %s", result, v.LastError(), tt.want)
			}
			if tt.want == vm.ResultRuntimeError {
				if err := v.LastError(); err == nil || !strings.Contains(err.Error(), "Maximum stack limit reached.") {
					t.Errorf("error = %v, want the stack limit", err)
				}
			}
		})
	}
}

func TestIntegrationE2E_RuntimeErrorInImport(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"main.pk":   "import checks\nchecks.validate(-1)\n",
		"checks.pk": "def validate(n)\n  assert(n >= 0, \"negative\")\nend\n",
	})

	v, h := newVM(t, nil)
	if result := v.RunFile(filepath.Join(dir, "main.pk")); result != vm.ResultRuntimeError {
		t.Fatalf("RunFile = %s, want runtime error", result)
	}

	var rerr *vm.RuntimeError
	if !errors.As(v.LastError(), &rerr) {
		t.Fatalf("LastError = %T, want *vm.RuntimeError", v.LastError())
	}
	if len(rerr.Trace) == 0 || rerr.Trace[0].Function != "validate" || filepath.Base(rerr.Trace[0].File) != "checks.pk" {
		t.Errorf("trace = %+v, want validate in checks.pk first", rerr.Trace)
	}
	if len(h.errs) != 1 || !strings.Contains(h.errs[0], "negative") {
		t.Errorf("errors = %q", h.errs)
	}
	if len(h.frames) != len(rerr.Trace) {
		t.Errorf("ErrorFn got %d frames, want %d", len(h.frames), len(rerr.Trace))
	}
}

func TestIntegrationE2E_ImageAcrossVMs(t *testing.T) {
	src := `class Counter
  def _init(start)
    self.n = start
  end
  def tick()
    self.n += 1
    return self.n
  end
end
def adder(k)
  return fn(x) return x + k end
end
c = Counter(10)
c.tick()
print(c.tick(), adder(5)(37), "pi=${3.5}")
`
	compileVM, _ := newVM(t, nil)
	module := compileVM.NewScriptModule("counter.pk")
	if result := compileVM.CompileModule(module, src, nil); result != vm.ResultSuccess {
		t.Fatalf("CompileModule = %s: %v", result, compileVM.LastError())
	}
	image, err := compileVM.EncodeModuleImage(module)
	compileVM.ReleaseHandle(module)
	if err != nil {
		t.Fatalf("EncodeModuleImage: %v", err)
	}

	runVM, h := newVM(t, nil)
	decoded, err := runVM.DecodeModuleImage(image)
	if err != nil {
		t.Fatalf("DecodeModuleImage: %v", err)
	}
	defer runVM.ReleaseHandle(decoded)
	if result := runVM.RunModule(decoded); result != vm.ResultSuccess {
		t.Fatalf("RunModule = %s: %v", result, runVM.LastError())
	}
	if got := h.out.String(); got != "12 42 pi=3.5\n" {
		t.Errorf("output = %q, want %q", got, "12 42 pi=3.5\n")
	}
}

func TestIntegrationE2E_REPL(t *testing.T) {
	lines := []string{"x = 2", "def f(a)", "  return a * x", "end", "f(21)", "x + 3"}
	v, h := newVM(t, func(cfg *vm.Configuration) {
		cfg.ReadFn = func(*vm.VM) (string, bool) {
			if len(lines) == 0 {
				return "", false
			}
			line := lines[0]
			lines = lines[1:]
			return line, true
		}
	})

	if result := v.RunREPL(); result != vm.ResultSuccess {
		t.Fatalf("RunREPL = %s", result)
	}
	out := h.out.String()
	for _, want := range []string{">>> ", "... ", "42\n", "5\n"} {
		if !strings.Contains(out, want) {
			t.Errorf("REPL output %q does not contain %q", out, want)
		}
	}
	if len(h.errs) != 0 {
		t.Errorf("errors = %q", h.errs)
	}
}

func TestIntegrationE2E_HostModule(t *testing.T) {
	v, h := newVM(t, nil)

	var calls []float64
	mod := v.NewModule("host")
	v.ModuleAddFunction(mod, "record", func(v *vm.VM) {
		n, ok := v.ValidateSlotNumber(1)
		if !ok {
			return
		}
		calls = append(calls, n)
		v.SetSlotNumber(0, float64(len(calls)))
	}, 1, "record(n:Number) -> Number\n\nRecords n and returns the number of calls.")
	v.RegisterModule(mod)
	v.ReleaseHandle(mod)

	mustRun(t, v, "import host\nfor i in 1..4 do host.record(i * i) end\nprint(host.record(0))\n")
	if got := h.out.String(); got != "4\n" {
		t.Errorf("output = %q, want %q", got, "4\n")
	}
	if want := []float64{1, 4, 9, 0}; len(calls) != len(want) || calls[2] != 9 {
		t.Errorf("calls = %v, want %v", calls, want)
	}

	if result := v.RunString("import host\nhost.record(\"x\")\n"); result != vm.ResultRuntimeError {
		t.Fatalf("RunString = %s, want runtime error", result)
	}
}

func TestIntegrationE2E_Fibers(t *testing.T) {
	v, h := newVM(t, nil)
	src := `def producer(n)
  for i in 0..n
    yield(i * 10)
  end
  return "end"
end
f = Fiber(producer)
out = [f.run(3)]
while not f.is_done
  out.append(f.resume())
end
print(out)
`
	mustRun(t, v, src)
	if got := h.out.String(); got != "[0, 10, 20, \"end\"]\n" {
		t.Errorf("output = %q, want %q", got, "[0, 10, 20, \"end\"]\n")
	}
}
