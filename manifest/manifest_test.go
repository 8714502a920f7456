package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ThakeeNathees/pocketlang-sub001/vm"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[runtime]
min-heap = "2MiB"
heap-fill-percent = 50
initial-gc = 65536
max-stack = "64KiB"
debug = true

[modules]
search-paths = ["lib/", "vendor"]

[log]
verbosity = 2
file = "pocket.log"

[cache]
enabled = true
dir = "build/cache"

[dependencies]
helper = { path = "../helper" }
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Runtime.MinHeap != 2<<20 {
		t.Errorf("min-heap = %d, want %d", m.Runtime.MinHeap, 2<<20)
	}
	if m.Runtime.HeapFillPercent != 50 {
		t.Errorf("heap-fill-percent = %d, want 50", m.Runtime.HeapFillPercent)
	}
	if m.Runtime.InitialGC != 65536 {
		t.Errorf("initial-gc = %d, want 65536", m.Runtime.InitialGC)
	}
	if m.Runtime.MaxStack != 64<<10 {
		t.Errorf("max-stack = %d, want %d", m.Runtime.MaxStack, 64<<10)
	}
	if !m.Runtime.Debug {
		t.Error("debug = false, want true")
	}
	if len(m.Modules.SearchPaths) != 2 {
		t.Errorf("search paths count = %d, want 2", len(m.Modules.SearchPaths))
	}
	if m.Log.Verbosity != 2 || m.Log.File != "pocket.log" {
		t.Errorf("log = %+v, want verbosity 2 and file pocket.log", m.Log)
	}
	if !m.Cache.Enabled || m.Cache.Dir != "build/cache" {
		t.Errorf("cache = %+v, want enabled in build/cache", m.Cache)
	}
	if dep, ok := m.Dependencies["helper"]; !ok || dep.Path != "../helper" {
		t.Errorf("helper dep = %v, want path ../helper", m.Dependencies["helper"])
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "[modules]\nsearch-paths = []\n")

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Runtime.MinHeap != 1<<20 {
		t.Errorf("default min-heap = %d, want %d", m.Runtime.MinHeap, 1<<20)
	}
	if m.Runtime.HeapFillPercent != 75 {
		t.Errorf("default heap-fill-percent = %d, want 75", m.Runtime.HeapFillPercent)
	}
	if m.Runtime.InitialGC != 10<<20 {
		t.Errorf("default initial-gc = %d, want %d", m.Runtime.InitialGC, 10<<20)
	}
	if m.Runtime.MaxStack != 819200 {
		t.Errorf("default max-stack = %d, want 819200", m.Runtime.MaxStack)
	}
	if m.Cache.Enabled {
		t.Error("cache enabled by default")
	}
	if got, want := m.CacheDir(), filepath.Join(m.Dir, ".pocket", "cache"); got != want {
		t.Errorf("CacheDir() = %q, want %q", got, want)
	}
	if m.LogFile() != "" {
		t.Errorf("LogFile() = %q, want empty", m.LogFile())
	}
}

func TestLoadManifestErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"syntax", "[runtime\n"},
		{"bad size string", "[runtime]\nmin-heap = \"lots\"\n"},
		{"negative size", "[runtime]\nmax-stack = -1\n"},
		{"wrong size type", "[runtime]\ninitial-gc = true\n"},
		{"fill percent", "[runtime]\nheap-fill-percent = 150\n"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			writeManifest(t, dir, tc.content)
			if _, err := Load(dir); err == nil {
				t.Error("Load succeeded, want an error")
			}
		})
	}

	if _, err := Load(t.TempDir()); err == nil {
		t.Error("Load of a directory without a manifest succeeded")
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		input   string
		want    Size
		wantErr bool
	}{
		{"4096", 4096, false},
		{"512B", 512, false},
		{"1KiB", 1024, false},
		{"1.5KiB", 1536, false},
		{"10MiB", 10 << 20, false},
		{"1GiB", 1 << 30, false},
		{"2MB", 2000000, false},
		{"3K", 3072, false},
		{" 8 MiB ", 8 << 20, false},
		{"", 0, true},
		{"MiB", 0, true},
		{"-1KiB", 0, true},
		{"ten", 0, true},
		{"1e30KiB", 0, true},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			got, err := ParseSize(tc.input)
			if tc.wantErr {
				if err == nil {
					t.Errorf("ParseSize(%q) = %d, want error", tc.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSize(%q) error: %v", tc.input, err)
			}
			if got != tc.want {
				t.Errorf("ParseSize(%q) = %d, want %d", tc.input, got, tc.want)
			}
		})
	}
}

func TestApply(t *testing.T) {
	m := Default("/app")
	m.Runtime.MinHeap = 2048
	m.Runtime.HeapFillPercent = 40
	m.Runtime.Debug = true

	cfg := vm.NewConfiguration()
	m.Apply(cfg)

	if cfg.MinHeapSize != 2048 {
		t.Errorf("MinHeapSize = %d, want 2048", cfg.MinHeapSize)
	}
	if cfg.HeapFillPercent != 40 {
		t.Errorf("HeapFillPercent = %d, want 40", cfg.HeapFillPercent)
	}
	if cfg.InitialGC != 10<<20 {
		t.Errorf("InitialGC = %d, want %d", cfg.InitialGC, 10<<20)
	}
	if cfg.MaxStackSize != 819200 {
		t.Errorf("MaxStackSize = %d, want 819200", cfg.MaxStackSize)
	}
	if !cfg.Debug {
		t.Error("Debug = false, want true")
	}
}

func TestFindAndLoad(t *testing.T) {
	dir := t.TempDir()
	subDir := filepath.Join(dir, "a", "b", "c")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatal(err)
	}
	writeManifest(t, dir, "[log]\nverbosity = 1\n")

	m, err := FindAndLoad(subDir)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("FindAndLoad returned nil")
	}
	if m.Log.Verbosity != 1 {
		t.Errorf("verbosity = %d, want 1", m.Log.Verbosity)
	}
	want, _ := filepath.Abs(dir)
	if m.Dir != want {
		t.Errorf("Dir = %q, want %q", m.Dir, want)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	dir := t.TempDir()
	m, err := FindAndLoad(dir)
	if err != nil {
		t.Fatalf("FindAndLoad error: %v", err)
	}
	if m != nil {
		t.Error("expected nil manifest when no pocket.toml exists")
	}
}

func TestSearchPathDirs(t *testing.T) {
	m := &Manifest{
		Dir:     "/app",
		Modules: Modules{SearchPaths: []string{"lib", "vendor/", "/opt/pocket"}},
	}

	paths := m.SearchPathDirs()
	want := []string{"/app/lib/", "/app/vendor/", "/opt/pocket/"}
	if len(paths) != len(want) {
		t.Fatalf("got %d paths, want %d", len(paths), len(want))
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("paths[%d] = %q, want %q", i, paths[i], want[i])
		}
	}
}

func TestLockFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, "lock.toml")

	lf := &LockFile{
		Deps: []LockedDep{
			{Name: "vectors", Git: "https://example.com/vectors.git", Commit: "abc123", Tag: "v0.5.0"},
			{Name: "helper", Path: "../helper"},
		},
	}

	if err := WriteLock(lockPath, lf); err != nil {
		t.Fatalf("WriteLock failed: %v", err)
	}

	loaded, err := ReadLock(lockPath)
	if err != nil {
		t.Fatalf("ReadLock failed: %v", err)
	}

	if len(loaded.Deps) != 2 {
		t.Fatalf("expected 2 deps, got %d", len(loaded.Deps))
	}
	// Entries are written sorted by name.
	if loaded.Deps[0].Name != "helper" || loaded.Deps[1].Name != "vectors" {
		t.Errorf("dep names = %q, %q, want helper, vectors", loaded.Deps[0].Name, loaded.Deps[1].Name)
	}
	if loaded.Deps[1].Commit != "abc123" {
		t.Errorf("vectors commit = %q, want abc123", loaded.Deps[1].Commit)
	}

	found := loaded.FindLockedDep("helper")
	if found == nil || found.Path != "../helper" {
		t.Errorf("FindLockedDep(helper) = %v, want path ../helper", found)
	}
	if notFound := loaded.FindLockedDep("nonexistent"); notFound != nil {
		t.Errorf("FindLockedDep(nonexistent) = %v, want nil", notFound)
	}

	var nilLock *LockFile
	if nilLock.FindLockedDep("helper") != nil {
		t.Error("FindLockedDep on a nil lock file found an entry")
	}
}

func TestReadLockNotFound(t *testing.T) {
	lf, err := ReadLock("/nonexistent/path/lock.toml")
	if err != nil {
		t.Errorf("ReadLock should return nil,nil for missing file, got err: %v", err)
	}
	if lf != nil {
		t.Errorf("ReadLock should return nil for missing file, got %v", lf)
	}
}
