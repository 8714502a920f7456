package lib

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/ThakeeNathees/pocketlang-sub001/vm"
)

// ScriptExt is the extension of pocket scripts.
const ScriptExt = ".pk"

// packageInit is the script run when a directory is imported.
const packageInit = "_init" + ScriptExt

// ResolvePath resolves the import path relative to the script at from. A
// path given on the command line (from is empty) is relative to the
// working directory. The path may omit the script extension or name a
// directory holding an _init.pk script. Resolved paths use forward slashes.
func ResolvePath(_ *vm.VM, from, path string) (string, bool) {
	var base string
	switch {
	case filepath.IsAbs(path):
		base = path
	case from == "":
		abs, err := filepath.Abs(path)
		if err != nil {
			return "", false
		}
		base = abs
	default:
		dir := filepath.Dir(from)
		if !filepath.IsAbs(dir) {
			abs, err := filepath.Abs(dir)
			if err != nil {
				return "", false
			}
			dir = abs
		}
		base = filepath.Join(dir, path)
	}
	base = filepath.Clean(base)

	for _, candidate := range []string{base, base + ScriptExt, filepath.Join(base, packageInit)} {
		if isFile(candidate) {
			return filepath.ToSlash(candidate), true
		}
	}
	return "", false
}

// LoadScript reads the script at path.
func LoadScript(_ *vm.VM, path string) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		libLog.Debugf("cannot load %s: %s", path, err)
		return "", false
	}
	return string(data), true
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// stringFn wraps a string transformation as a native function.
func stringFn(f func(string) string) vm.NativeFn {
	return func(v *vm.VM) {
		path, ok := v.ValidateSlotString(1)
		if !ok {
			return
		}
		v.SetSlotString(0, f(path))
	}
}

// predicate wraps a path test as a native function.
func predicate(f func(string) bool) vm.NativeFn {
	return func(v *vm.VM) {
		path, ok := v.ValidateSlotString(1)
		if !ok {
			return
		}
		v.SetSlotBool(0, f(path))
	}
}

func absPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return abs
}

func pathGetCwd(v *vm.VM) {
	cwd, err := os.Getwd()
	if err != nil {
		v.SetRuntimeErrorFmt("Cannot get the working directory: %s", err)
		return
	}
	v.SetSlotString(0, cwd)
}

func pathRelpath(v *vm.VM) {
	from, ok := v.ValidateSlotString(1)
	if !ok {
		return
	}
	path, ok := v.ValidateSlotString(2)
	if !ok {
		return
	}
	rel, err := filepath.Rel(absPath(from), absPath(path))
	if err != nil {
		v.SetRuntimeErrorFmt("Cannot make '%s' relative to '%s'.", path, from)
		return
	}
	v.SetSlotString(0, rel)
}

const maxJoinPaths = 8

func pathJoin(v *vm.VM) {
	argc := v.Argc()
	if argc > maxJoinPaths {
		v.SetRuntimeErrorFmt("Cannot join more than %d paths.", maxJoinPaths)
		return
	}
	parts := make([]string, 0, argc)
	for i := 1; i <= argc; i++ {
		part, ok := v.ValidateSlotString(i)
		if !ok {
			return
		}
		parts = append(parts, part)
	}
	v.SetSlotString(0, filepath.Join(parts...))
}

func pathGetExt(path string) string {
	return filepath.Ext(path)
}

func pathListDir(v *vm.VM) {
	argc := v.Argc()
	if !v.CheckArgcRange(argc, 0, 1) {
		return
	}
	path := "."
	if argc == 1 {
		var ok bool
		if path, ok = v.ValidateSlotString(1); !ok {
			return
		}
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			v.SetRuntimeErrorFmt("Path '%s' does not exists.", path)
		} else {
			v.SetRuntimeErrorFmt("Cannot list '%s': %s", path, err)
		}
		return
	}

	v.ReserveSlots(2)
	v.NewList(0)
	for _, e := range entries {
		v.SetSlotString(1, e.Name())
		if !v.ListInsert(0, -1, 1) {
			return
		}
	}
}

func pathMtime(v *vm.VM) {
	path, ok := v.ValidateSlotString(1)
	if !ok {
		return
	}
	mtime := 0.0
	if info, err := os.Stat(path); err == nil {
		mtime = float64(info.ModTime().Unix())
	}
	v.SetSlotNumber(0, mtime)
}

func pathSize(v *vm.VM) {
	path, ok := v.ValidateSlotString(1)
	if !ok {
		return
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		v.SetRuntimeErrorFmt("Path '%s' wasn't a file.", path)
		return
	}
	v.SetSlotNumber(0, float64(info.Size()))
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

var pathFunctions = []function{
	{"getcwd", pathGetCwd, 0, doc("path.getcwd() -> String", "Returns the current working directory.")},
	{"abspath", stringFn(absPath), 1, doc("path.abspath(path:String) -> String", "Returns the absolute form of the path.")},
	{"relpath", pathRelpath, 2, doc("path.relpath(from:String, path:String) -> String", "Returns path relative to from.")},
	{"join", pathJoin, -1, doc("path.join(...) -> String", "Joins the path elements with the separator.")},
	{"normpath", stringFn(filepath.Clean), 1, doc("path.normpath(path:String) -> String",
		"Returns the shortest equivalent path, resolving '.' and '..' elements.")},
	{"basename", stringFn(filepath.Base), 1, doc("path.basename(path:String) -> String", "Returns the last element of the path.")},
	{"dirname", stringFn(filepath.Dir), 1, doc("path.dirname(path:String) -> String", "Returns all but the last element of the path.")},
	{"isabs", predicate(filepath.IsAbs), 1, doc("path.isabs(path:String) -> Bool", "Returns true if the path is absolute.")},
	{"getext", stringFn(pathGetExt), 1, doc("path.getext(path:String) -> String", "Returns the extension of the path, including the dot.")},
	{"exists", predicate(exists), 1, doc("path.exists(path:String) -> Bool", "Returns true if the path exists.")},
	{"isfile", predicate(isFile), 1, doc("path.isfile(path:String) -> Bool", "Returns true if the path is a regular file.")},
	{"isdir", predicate(isDir), 1, doc("path.isdir(path:String) -> Bool", "Returns true if the path is a directory.")},
	{"listdir", pathListDir, -1, doc("path.listdir([path:String]) -> List",
		"Returns the names of the entries of the directory, the working directory by default.")},
	{"mtime", pathMtime, 1, doc("path.mtime(path:String) -> Number", "Returns the modification time in seconds since the epoch.")},
	{"size", pathSize, 1, doc("path.size(path:String) -> Number", "Returns the size of a file in bytes.")},
}

// splitSearchPath splits a list of directories separated like PATH.
func splitSearchPath(list string) []string {
	var dirs []string
	for _, dir := range filepath.SplitList(list) {
		if dir == "" {
			continue
		}
		if !strings.HasSuffix(dir, "/") && !strings.HasSuffix(dir, string(filepath.Separator)) {
			dir += "/"
		}
		dirs = append(dirs, dir)
	}
	return dirs
}

// SearchPathEnv names the environment variable listing extra import
// directories.
const SearchPathEnv = "POCKET_PATH"

// AddEnvSearchPaths adds the directories listed in POCKET_PATH to the
// import search paths of v.
func AddEnvSearchPaths(v *vm.VM) {
	for _, dir := range splitSearchPath(os.Getenv(SearchPathEnv)) {
		v.AddSearchPath(dir)
	}
}
