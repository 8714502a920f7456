package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/ThakeeNathees/pocketlang-sub001/vm"
)

func testOptions() (hostOptions, *bytes.Buffer, *bytes.Buffer) {
	var stdout, stderr bytes.Buffer
	return hostOptions{
		color:  "off",
		stdout: &stdout,
		stderr: &stderr,
		stdin:  strings.NewReader(""),
	}, &stdout, &stderr
}

func writeScript(t *testing.T, dir, name, source string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(source), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitUsage
}

func TestRunFile(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "main.pk", "import sys\nprint('hello', sys.argv[1], sys.argv.length)\n")

	opts, stdout, _ := testOptions()
	if err := runFile(opts, path, []string{path, "world"}); err != nil {
		t.Fatalf("runFile: %v", err)
	}
	if got := stdout.String(); got != "hello world 2\n" {
		t.Errorf("output = %q, want %q", got, "hello world 2\n")
	}
}

func TestRunFileExitCodes(t *testing.T) {
	tests := []struct {
		name   string
		source string
		code   int
	}{
		{"success", "x = 1\n", exitOK},
		{"compile error", "x = \n", exitCompileError},
		{"runtime error", "x = 1 + 'a'\n", exitRuntimeError},
		{"exit", "exit(3)\nprint('unreachable')\n", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := writeScript(t, dir, "main.pk", tt.source)
			opts, stdout, _ := testOptions()
			err := runFile(opts, path, []string{path})
			if got := exitCode(err); got != tt.code {
				t.Errorf("exit code = %d (%v), want %d", got, err, tt.code)
			}
			if strings.Contains(stdout.String(), "unreachable") {
				t.Errorf("script kept running after exit()")
			}
		})
	}
}

func TestRunSource(t *testing.T) {
	opts, stdout, _ := testOptions()
	if err := runSource(opts, "print(1 + 2)", []string{sourceName}); err != nil {
		t.Fatalf("runSource: %v", err)
	}
	if got := stdout.String(); got != "3\n" {
		t.Errorf("output = %q, want %q", got, "3\n")
	}
}

func TestCompileAndRunImage(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "fib.pk", "def fib(n)\n  if n < 2 then return n end\n  return fib(n-1) + fib(n-2)\nend\nprint(fib(10))\n")

	rootCmd.SetArgs([]string{"compile", "--color", "off", path})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("compile: %v", err)
	}
	image := filepath.Join(dir, "fib.pkc")
	if _, err := os.Stat(image); err != nil {
		t.Fatalf("image not written: %v", err)
	}

	opts, stdout, _ := testOptions()
	if err := runFile(opts, image, []string{image}); err != nil {
		t.Fatalf("run image: %v", err)
	}
	if got := stdout.String(); got != "55\n" {
		t.Errorf("output = %q, want %q", got, "55\n")
	}
}

func TestRunCached(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "pocket.toml", "[cache]\nenabled = true\n")
	path := writeScript(t, dir, "main.pk", "print('cached')\n")

	for i := range 2 {
		opts, stdout, _ := testOptions()
		if err := runFile(opts, path, []string{path}); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if got := stdout.String(); got != "cached\n" {
			t.Errorf("run %d: output = %q, want %q", i, got, "cached\n")
		}
	}

	entries, err := os.ReadDir(filepath.Join(dir, ".pocket", "cache", "images"))
	if err != nil {
		t.Fatalf("cache directory: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("cache holds %d entries, want 1", len(entries))
	}
}

func TestDisassemble(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "main.pk", "def add(a, b)\n  return a + b\nend\nprint(add(1, 2))\n")

	opts, stdout, _ := testOptions()
	h, err := newHost(opts, dir, []string{path})
	if err != nil {
		t.Fatal(err)
	}
	defer h.close()

	module, err := h.loadModule(path)
	if err != nil {
		t.Fatalf("loadModule: %v", err)
	}
	defer h.vm.ReleaseHandle(module)

	disassembleModule(stdout, module.Value().AsModule())
	out := stdout.String()
	if !strings.Contains(out, "add") {
		t.Errorf("listing does not mention add:\n%s", out)
	}
	if !strings.HasPrefix(out, "Instruction Dump of function") {
		t.Errorf("listing does not start with the main body:\n%s", out)
	}
}

func TestCheckFiles(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "good.pk", "x = 1\n")
	writeScript(t, dir, "bad.pk", "x = 1\ny = (\n")
	writeScript(t, dir, "notes.txt", "not a script")

	files, err := listScripts([]string{dir})
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 || filepath.Base(files[0]) != "bad.pk" || filepath.Base(files[1]) != "good.pk" {
		t.Fatalf("files = %v, want bad.pk and good.pk", files)
	}

	results, err := checkFiles(files, 2)
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	n := printDiagnostics(&out, results)
	if n == 0 {
		t.Fatalf("no diagnostics for bad.pk")
	}
	if !strings.Contains(out.String(), "bad.pk:") || strings.Contains(out.String(), "good.pk") {
		t.Errorf("unexpected diagnostics:\n%s", out.String())
	}
}

func TestImageCache(t *testing.T) {
	c := openImageCache(t.TempDir())
	key := imageKey("/app/main.pk", "print(1)")

	if _, hit, err := c.Get(key); hit || err != nil {
		t.Fatalf("Get on empty cache = %v, %v", hit, err)
	}
	if err := c.Put(key, "/app/main.pk", []byte{1, 2, 3}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	image, hit, err := c.Get(key)
	if err != nil || !hit {
		t.Fatalf("Get = %v, %v", hit, err)
	}
	if !bytes.Equal(image, []byte{1, 2, 3}) {
		t.Errorf("image = %v", image)
	}

	if other := imageKey("/app/main.pk", "print(2)"); other == key {
		t.Errorf("different sources share a key")
	}
	if other := imageKey("/app/other.pk", "print(1)"); other == key {
		t.Errorf("different paths share a key")
	}
}

func TestImageCacheStaleEntry(t *testing.T) {
	c := openImageCache(t.TempDir())
	key := imageKey("/app/main.pk", "")

	stale := cacheEntry{Schema: imageCacheSchema, ImageVersion: vm.ImageVersion + 1, Image: []byte{1}}
	data, err := msgpack.Marshal(&stale)
	if err != nil {
		t.Fatal(err)
	}
	p := c.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, hit, err := c.Get(key); hit || err != nil {
		t.Errorf("Get of stale entry = %v, %v, want a miss", hit, err)
	}
}

func TestNilImageCache(t *testing.T) {
	var c *imageCache
	if err := c.Put(cacheKey{}, "", nil); err != nil {
		t.Errorf("Put: %v", err)
	}
	if _, hit, err := c.Get(cacheKey{}); hit || err != nil {
		t.Errorf("Get = %v, %v", hit, err)
	}
}

func TestUseColor(t *testing.T) {
	var buf bytes.Buffer
	tests := []struct {
		mode string
		want bool
	}{
		{"on", true},
		{"always", true},
		{"off", false},
		{"never", false},
		{"auto", false}, // not a terminal
	}
	for _, tt := range tests {
		if got := useColor(tt.mode, &buf); got != tt.want {
			t.Errorf("useColor(%q) = %v, want %v", tt.mode, got, tt.want)
		}
	}
}

func TestExitError(t *testing.T) {
	inner := errors.New("boom")
	err := error(&exitError{code: exitRuntimeError, err: inner})
	if !errors.Is(err, inner) {
		t.Errorf("exitError does not unwrap")
	}
	if got := (&exitError{code: 4}).Error(); got != "exit status 4" {
		t.Errorf("Error() = %q", got)
	}
}

func TestVersionString(t *testing.T) {
	if got := versionString(); !strings.Contains(got, version) {
		t.Errorf("versionString() = %q, want it to contain %q", got, version)
	}
}
