// Package manifest handles pocket.toml project configuration.
package manifest

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"fortio.org/safecast"
	"github.com/BurntSushi/toml"

	"github.com/ThakeeNathees/pocketlang-sub001/vm"
)

// FileName is the name of the manifest file.
const FileName = "pocket.toml"

// Manifest represents a pocket.toml project configuration.
type Manifest struct {
	Runtime      Runtime               `toml:"runtime"`
	Modules      Modules               `toml:"modules"`
	Log          Log                   `toml:"log"`
	Cache        Cache                 `toml:"cache"`
	Dependencies map[string]Dependency `toml:"dependencies"`

	// Dir is the directory containing the pocket.toml file (set at load time).
	Dir string `toml:"-"`
}

// Runtime configures the VM heap and stack.
type Runtime struct {
	MinHeap         Size `toml:"min-heap"`
	HeapFillPercent int  `toml:"heap-fill-percent"`
	InitialGC       Size `toml:"initial-gc"`
	MaxStack        Size `toml:"max-stack"`
	Debug           bool `toml:"debug"`
}

// Modules configures import resolution.
type Modules struct {
	SearchPaths []string `toml:"search-paths"`
}

// Log configures commonlog output.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Cache configures the compiled module image cache.
type Cache struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
}

// Dependency is a library the project imports from, either a local directory
// or a git repository cloned into .pocket/deps.
type Dependency struct {
	Git  string `toml:"git"`
	Tag  string `toml:"tag"`
	Path string `toml:"path"`
}

// Size is a byte count written either as an integer or as a string with a
// binary or decimal suffix ("512KiB", "10MB").
type Size int

// UnmarshalTOML implements toml.Unmarshaler.
func (s *Size) UnmarshalTOML(data any) error {
	switch v := data.(type) {
	case int64:
		n, err := safecast.Conv[int](v)
		if err != nil || n < 0 {
			return fmt.Errorf("invalid size %d", v)
		}
		*s = Size(n)
		return nil
	case string:
		n, err := ParseSize(v)
		if err != nil {
			return err
		}
		*s = n
		return nil
	default:
		return fmt.Errorf("invalid size %v: expected an integer or a string", data)
	}
}

var sizeUnits = []struct {
	suffix string
	scale  int
}{
	{"KiB", 1 << 10},
	{"MiB", 1 << 20},
	{"GiB", 1 << 30},
	{"KB", 1000},
	{"MB", 1000 * 1000},
	{"GB", 1000 * 1000 * 1000},
	{"K", 1 << 10},
	{"M", 1 << 20},
	{"G", 1 << 30},
	{"B", 1},
}

// ParseSize parses a size string such as "1MiB" or "4096".
func ParseSize(text string) (Size, error) {
	s := strings.TrimSpace(text)
	scale := 1
	for _, u := range sizeUnits {
		if strings.HasSuffix(s, u.suffix) {
			s = strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			scale = u.scale
			break
		}
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid size %q", text)
	}
	bytes, err := safecast.Convert[int](math.Trunc(n * float64(scale)))
	if err != nil {
		return 0, fmt.Errorf("size %q out of range: %w", text, err)
	}
	return Size(bytes), nil
}

// Default returns a manifest with every field at its default value, rooted at dir.
func Default(dir string) *Manifest {
	m := &Manifest{Dir: dir}
	m.applyDefaults()
	return m
}

func (m *Manifest) applyDefaults() {
	if m.Runtime.MinHeap == 0 {
		m.Runtime.MinHeap = 1 << 20
	}
	if m.Runtime.HeapFillPercent == 0 {
		m.Runtime.HeapFillPercent = 75
	}
	if m.Runtime.InitialGC == 0 {
		m.Runtime.InitialGC = 10 << 20
	}
	if m.Runtime.MaxStack == 0 {
		m.Runtime.MaxStack = 819200
	}
	if m.Cache.Dir == "" {
		m.Cache.Dir = filepath.Join(".pocket", "cache")
	}
}

// Load parses a pocket.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	return LoadFile(filepath.Join(dir, FileName))
}

// LoadFile parses a manifest file. The manifest is rooted at the directory
// containing it.
func LoadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	if m.Runtime.HeapFillPercent < 0 || m.Runtime.HeapFillPercent > 100 {
		return nil, fmt.Errorf("%s: heap-fill-percent %d is not between 0 and 100", path, m.Runtime.HeapFillPercent)
	}
	m.applyDefaults()

	return &m, nil
}

// FindAndLoad walks up from startDir to find a pocket.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// Apply copies the runtime settings onto a VM configuration.
func (m *Manifest) Apply(cfg *vm.Configuration) {
	cfg.MinHeapSize = int(m.Runtime.MinHeap)
	cfg.HeapFillPercent = m.Runtime.HeapFillPercent
	cfg.InitialGC = int(m.Runtime.InitialGC)
	cfg.MaxStackSize = int(m.Runtime.MaxStack)
	cfg.Debug = cfg.Debug || m.Runtime.Debug
}

// SearchPathDirs returns absolute search paths for the configured module
// directories, each ending with a separator as vm.AddSearchPath expects.
func (m *Manifest) SearchPathDirs() []string {
	var paths []string
	for _, d := range m.Modules.SearchPaths {
		if !filepath.IsAbs(d) {
			d = filepath.Join(m.Dir, d)
		}
		paths = append(paths, dirPath(d))
	}
	return paths
}

// AddSearchPaths registers the module search paths and every resolved
// dependency directory with v.
func (m *Manifest) AddSearchPaths(v *vm.VM, deps []ResolvedDep) {
	for _, p := range m.SearchPathDirs() {
		v.AddSearchPath(p)
	}
	for _, d := range deps {
		v.AddSearchPath(dirPath(d.LocalPath))
	}
}

// CacheDir returns the absolute image cache directory.
func (m *Manifest) CacheDir() string {
	if filepath.IsAbs(m.Cache.Dir) {
		return m.Cache.Dir
	}
	return filepath.Join(m.Dir, m.Cache.Dir)
}

// LogFile returns the absolute log file path, or "" for stderr.
func (m *Manifest) LogFile() string {
	if m.Log.File == "" || filepath.IsAbs(m.Log.File) {
		return m.Log.File
	}
	return filepath.Join(m.Dir, m.Log.File)
}

// DepsDir returns the path to the .pocket/deps directory.
func (m *Manifest) DepsDir() string {
	return filepath.Join(m.Dir, ".pocket", "deps")
}

// LockFilePath returns the path to .pocket/lock.toml.
func (m *Manifest) LockFilePath() string {
	return filepath.Join(m.Dir, ".pocket", "lock.toml")
}

func dirPath(dir string) string {
	dir = filepath.ToSlash(filepath.Clean(dir))
	if !strings.HasSuffix(dir, "/") {
		dir += "/"
	}
	return dir
}
