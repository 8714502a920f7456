package lib_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/ThakeeNathees/pocketlang-sub001/compiler"
	"github.com/ThakeeNathees/pocketlang-sub001/lib"
	"github.com/ThakeeNathees/pocketlang-sub001/vm"
)

type testHost struct {
	out    strings.Builder
	stderr strings.Builder
	errors []string
}

func newTestVM(t *testing.T) (*vm.VM, *testHost) {
	t.Helper()
	h := &testHost{}
	cfg := vm.NewConfiguration()
	cfg.WriteFn = func(_ *vm.VM, text string) { h.out.WriteString(text) }
	cfg.StderrFn = func(_ *vm.VM, text string) { h.stderr.WriteString(text) }
	cfg.ErrorFn = func(_ *vm.VM, _ vm.ErrorKind, _ string, _ int, message string) {
		h.errors = append(h.errors, message)
	}
	lib.Configure(cfg)
	v := vm.NewVM(cfg)
	lib.Register(v)
	t.Cleanup(v.Free)
	return v, h
}

func run(t *testing.T, source string) string {
	t.Helper()
	v, h := newTestVM(t)
	if result := v.RunString(source); result != vm.ResultSuccess {
		t.Fatalf("RunString = %s: %v", result, v.LastError())
	}
	return h.out.String()
}

func TestMathModule(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   string
	}{
		{"floor and ceil", "import math\nprint(math.floor(2.7), math.ceil(2.1), math.floor(-2.5))", "2 3 -3\n"},
		{"pow and sqrt", "import math\nprint(math.pow(2, 10), math.sqrt(81))", "1024 9\n"},
		{"abs and sign", "import math\nprint(math.abs(-4), math.sign(-4), math.sign(0), math.sign(3))", "4 -1 0 1\n"},
		{"round", "import math\nprint(math.round(2.5), math.round(-2.5), math.round(2.4))", "3 -3 2\n"},
		{"logs", "import math\nprint(math.log10(1000), math.log2(8), math.ln(1))", "3 3 0\n"},
		{"trig", "import math\nprint(math.sin(0), math.cos(0), math.atan2(0, 1))", "0 1 0\n"},
		{"constants", "import math\nprint(math.PI > 3.14, math.E < 2.72, math.INFINITY)", "true true +inf\n"},
		{"hash of equal strings", "import math\nprint(math.hash('abc') == math.hash('a' + 'bc'))", "true\n"},
		{"rand range", "import math\nr = math.rand()\nprint(r >= 0 and r < 32768)", "true\n"},
		{"from import", "from math import floor as f\nprint(f(1.5))", "1\n"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := run(t, tc.source); got != tc.want {
				t.Errorf("output = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestMathErrors(t *testing.T) {
	tests := []struct {
		source string
		want   string
	}{
		{"import math\nmath.asin(2)", "Argument should be between -1 and +1"},
		{"import math\nmath.floor('x')", "Expected a 'Number' at slot 1."},
		{"import math\nmath.hash([])", "Type 'List' is not hashable."},
	}
	for _, tc := range tests {
		v, _ := newTestVM(t)
		if result := v.RunString(tc.source); result != vm.ResultRuntimeError {
			t.Errorf("%q: result = %s, want runtime error", tc.source, result)
			continue
		}
		if err := v.LastError(); err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%q: error = %v, want %q", tc.source, err, tc.want)
		}
	}
}

func TestReModule(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   string
	}{
		{"match at start", `print(re.match("(\\w+)@(\\w+)", "joe@home rest"))`, "[\"joe@home\", \"joe\", \"home\"]\n"},
		{"match not at start", `print(re.match("\\d+", "abc 123"))`, "null\n"},
		{"search", `print(re.search("\\d+", "abc 123"))`, "[\"123\"]\n"},
		{"unmatched group", `print(re.search("a(x)?b", "ab"))`, "[\"ab\", null]\n"},
		{"test", `print(re.test("^h", "hello"), re.test("^x", "hello"))`, "true false\n"},
		{"findall", `print(re.findall("\\d+", "a1b22c333"))`, "[\"1\", \"22\", \"333\"]\n"},
		{"split", `print(re.split(",\\s*", "a, b,c"))`, "[\"a\", \"b\", \"c\"]\n"},
		{"sub string", `print(re.sub("(\\w+)=(\\w+)", "a=1 b=2", "\$2=\$1"))`, "1=a 2=b\n"},
		{"sub count", `print(re.sub("o", "foo boo", "0", 2))`, "f00 boo\n"},
		{"sub function", `print(re.sub("\\d+", "a1b22", fn(m) return "<" + m + ">" end))`, "a<1>b<22>\n"},
		{"lookahead", `print(re.findall("\\w+(?=!)", "hi! there yes!"))`, "[\"hi\", \"yes\"]\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := run(t, "import re\n"+tc.source); got != tc.want {
				t.Errorf("output = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestReErrors(t *testing.T) {
	v, _ := newTestVM(t)
	if result := v.RunString("import re\nre.test('(', 'x')"); result != vm.ResultRuntimeError {
		t.Fatalf("result = %s, want runtime error", result)
	}
	if err := v.LastError(); err == nil || !strings.Contains(err.Error(), "Cannot compile the regex pattern") {
		t.Errorf("error = %v", err)
	}

	v, _ = newTestVM(t)
	if result := v.RunString("import re\nre.sub('a', 'a', 1)"); result != vm.ResultRuntimeError {
		t.Fatalf("result = %s, want runtime error", result)
	}
	if err := v.LastError(); err == nil || !strings.Contains(err.Error(), "Expected a 'String' or a 'Closure' at slot 3.") {
		t.Errorf("error = %v", err)
	}
}

func TestTimeModule(t *testing.T) {
	got := run(t, "import time\nt = time.epoch()\nc = time.clock()\ntime.sleep(1)\nprint(t > 1600000000, time.clock() >= c)")
	if got != "true true\n" {
		t.Errorf("output = %q", got)
	}
}

func TestPathModule(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("12345"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	src := `import path
d = "` + filepath.ToSlash(dir) + `"
f = path.join(d, "a.txt")
print(path.isfile(f), path.isdir(f), path.exists(f), path.size(f))
print(path.basename(f), path.getext(f), path.dirname(f) == d)
print(path.isabs(d), path.isabs("x/y"))
print(path.normpath("a/./b/../c"))
print(path.relpath(d, f))
print(path.listdir(path.join(d, "sub")))
print(path.listdir(d).length)
`
	want := "true false true 5\na.txt .txt true\ntrue false\na/c\na.txt\n[]\n2\n"
	if got := run(t, src); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestResolvePath(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		t.Helper()
		p := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		return filepath.ToSlash(p)
	}
	main := write("main.pk", "")
	util := write("util.pk", "")
	pkg := write("pkg/_init.pk", "")

	tests := []struct {
		from, path string
		want       string
		ok         bool
	}{
		{main, "util", util, true},
		{main, "util.pk", util, true},
		{main, "pkg", pkg, true},
		{main, "./util", util, true},
		{main, "missing", "", false},
		{"", main, main, true},
		{filepath.ToSlash(dir) + "/", "util", util, true},
	}
	for _, tc := range tests {
		got, ok := lib.ResolvePath(nil, tc.from, tc.path)
		if ok != tc.ok || got != tc.want {
			t.Errorf("ResolvePath(%q, %q) = %q, %v, want %q, %v", tc.from, tc.path, got, ok, tc.want, tc.ok)
		}
	}
}

func TestImportScripts(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"main.pk":         "import util\nfrom shapes import area\nprint(util.twice(area(2, 3)))\n",
		"util.pk":         "def twice(n)\n  return n * 2\nend\n",
		"shapes/_init.pk": "def area(w, h)\n  return w * h\nend\n",
	}
	for name, content := range files {
		p := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	v, h := newTestVM(t)
	if result := v.RunFile(filepath.Join(dir, "main.pk")); result != vm.ResultSuccess {
		t.Fatalf("RunFile = %s: %v", result, v.LastError())
	}
	if got := h.out.String(); got != "12\n" {
		t.Errorf("output = %q, want %q", got, "12\n")
	}
}

func TestSearchPaths(t *testing.T) {
	libDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(libDir, "greet.pk"), []byte("def hi()\n  return 'hi'\nend\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(lib.SearchPathEnv, libDir)

	v, h := newTestVM(t)
	lib.AddEnvSearchPaths(v)
	if result := v.RunString("import greet\nprint(greet.hi())"); result != vm.ResultSuccess {
		t.Fatalf("RunString = %s: %v", result, v.LastError())
	}
	if got := h.out.String(); got != "hi\n" {
		t.Errorf("output = %q, want %q", got, "hi\n")
	}
}

func TestIOModule(t *testing.T) {
	dir := filepath.ToSlash(t.TempDir())
	src := `import io
p = "` + dir + `/notes.txt"
io.writefile(p, "one\ntwo\n")
print(io.readfile(p) == "one\ntwo\n")

f = io.File()
f.open(p, "a")
f.write("three\n")
f.close()

f = io.open(p, "r")
print(f.getline() == "one\n")
print(f.read(3))
print(f.read() == "\nthree\n")
print(f.getline() == "")
f.close()

io.write(io.stdout, "out\n")
io.write(io.stderr, "err\n")
`
	v, h := newTestVM(t)
	if result := v.RunString(src); result != vm.ResultSuccess {
		t.Fatalf("RunString = %s: %v", result, v.LastError())
	}
	want := "true\ntrue\ntwo\ntrue\ntrue\nout\n"
	if got := h.out.String(); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
	if got := h.stderr.String(); got != "err\n" {
		t.Errorf("stderr = %q, want %q", got, "err\n")
	}
}

func TestIOErrors(t *testing.T) {
	dir := filepath.ToSlash(t.TempDir())
	tests := []struct {
		source string
		want   string
	}{
		{"io.write(io.stdin, 'x')", "Cannot write to stdin."},
		{"io.write(7, 'x')", "Invalid stream (7)."},
		{"io.File().open('" + dir + "/x', 'q')", "Invalid mode string."},
		{"io.File().open('" + dir + "/missing', 'r')", "Error opening the file."},
		{"f = io.File()\nf.close()", "File already closed."},
		{"f = io.File()\nf.read()", "Cannot read from a closed file."},
		{"f = io.open('" + dir + "/w', 'w')\nf.read()", "File is not readable."},
		{"f = io.open('" + dir + "/w', 'r')\nf.write('x')", "File is not writable."},
	}
	for _, tc := range tests {
		v, _ := newTestVM(t)
		if result := v.RunString("import io\n" + tc.source); result != vm.ResultRuntimeError {
			t.Errorf("%q: result = %s, want runtime error", tc.source, result)
			continue
		}
		if err := v.LastError(); err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%q: error = %v, want %q", tc.source, err, tc.want)
		}
	}
}

func TestNames(t *testing.T) {
	want := []string{"math", "path", "time", "re", "io"}
	got := lib.Names()
	if len(got) != len(want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Names()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
