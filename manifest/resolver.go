package manifest

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/tliron/commonlog"
)

var depLog = commonlog.GetLogger("pocket.deps")

// ResolvedDep is a dependency materialized on disk. Its LocalPath becomes a
// module search path.
type ResolvedDep struct {
	Name      string
	LocalPath string
	Manifest  *Manifest // nil when the dependency has no pocket.toml
	lock      LockedDep
}

// Resolver materializes the dependencies of a manifest and their own
// dependencies, and pins them in the lock file.
type Resolver struct {
	manifest *Manifest
	lock     *LockFile

	done     map[string]*ResolvedDep
	visiting []string
	order    []ResolvedDep
}

// NewResolver returns a resolver for m.
func NewResolver(m *Manifest) *Resolver {
	return &Resolver{manifest: m}
}

// Resolve returns the dependencies with every dependency ahead of the ones
// importing from it. A manifest without dependencies touches nothing on disk.
func (r *Resolver) Resolve() ([]ResolvedDep, error) {
	if len(r.manifest.Dependencies) == 0 {
		return nil, nil
	}

	var err error
	if r.lock, err = ReadLock(r.manifest.LockFilePath()); err != nil {
		return nil, fmt.Errorf("reading lock file: %w", err)
	}
	if err := os.MkdirAll(r.manifest.DepsDir(), 0o755); err != nil {
		return nil, fmt.Errorf("creating deps dir: %w", err)
	}

	r.done = make(map[string]*ResolvedDep)
	r.visiting = nil
	r.order = nil
	if err := r.visit(r.manifest.Dir, r.manifest.Dependencies, true); err != nil {
		return nil, err
	}

	lf := &LockFile{}
	for _, rd := range r.order {
		lf.Deps = append(lf.Deps, rd.lock)
	}
	if err := WriteLock(r.manifest.LockFilePath(), lf); err != nil {
		return nil, fmt.Errorf("writing lock file: %w", err)
	}
	return r.order, nil
}

// visit resolves deps declared by the manifest in dir, depth first. Direct
// dependencies are locked as written; transitive ones are locked by the
// directory they were found in.
func (r *Resolver) visit(dir string, deps map[string]Dependency, direct bool) error {
	for _, name := range slices.Sorted(maps.Keys(deps)) {
		if slices.Contains(r.visiting, name) {
			cycle := append(slices.Clone(r.visiting[slices.Index(r.visiting, name):]), name)
			return fmt.Errorf("dependency cycle: %s", strings.Join(cycle, " -> "))
		}
		if _, ok := r.done[name]; ok {
			continue
		}

		rd, err := r.fetch(dir, name, deps[name])
		if err != nil {
			return fmt.Errorf("resolving %s: %w", name, err)
		}
		if !direct && rd.lock.Git == "" {
			rd.lock.Path = rd.LocalPath
		}
		r.done[name] = rd

		if rd.Manifest != nil {
			r.visiting = append(r.visiting, name)
			err := r.visit(rd.LocalPath, rd.Manifest.Dependencies, false)
			r.visiting = r.visiting[:len(r.visiting)-1]
			if err != nil {
				return err
			}
		}
		r.order = append(r.order, *rd)
	}
	return nil
}

func (r *Resolver) fetch(dir, name string, dep Dependency) (*ResolvedDep, error) {
	var (
		rd  *ResolvedDep
		err error
	)
	switch {
	case dep.Path != "":
		rd, err = fetchLocal(dir, name, dep)
	case dep.Git != "":
		rd, err = r.fetchGit(name, dep)
	default:
		return nil, fmt.Errorf("dependency %q has no git or path specified", name)
	}
	if err != nil {
		return nil, err
	}
	rd.Manifest, _ = Load(rd.LocalPath)
	return rd, nil
}

// fetchLocal resolves a path dependency relative to the directory of the
// manifest declaring it.
func fetchLocal(dir, name string, dep Dependency) (*ResolvedDep, error) {
	p := dep.Path
	if !filepath.IsAbs(p) {
		p = filepath.Join(dir, p)
	}
	p, err := filepath.Abs(p)
	if err != nil {
		return nil, fmt.Errorf("invalid path %q: %w", dep.Path, err)
	}
	if info, err := os.Stat(p); err != nil {
		return nil, fmt.Errorf("local dependency %q not found at %s: %w", name, p, err)
	} else if !info.IsDir() {
		return nil, fmt.Errorf("local dependency %q at %s is not a directory", name, p)
	}
	return &ResolvedDep{
		Name:      name,
		LocalPath: p,
		lock:      LockedDep{Name: name, Path: dep.Path},
	}, nil
}

// fetchGit clones a git dependency into the deps directory, or updates the
// existing clone when its tag moved, and checks out the pinned revision.
func (r *Resolver) fetchGit(name string, dep Dependency) (*ResolvedDep, error) {
	checkout := filepath.Join(r.manifest.DepsDir(), name)
	locked := r.lock.FindLockedDep(name)

	_, statErr := os.Stat(checkout)
	switch {
	case os.IsNotExist(statErr):
		depLog.Infof("cloning %s from %s", name, dep.Git)
		if err := gitClone(dep.Git, checkout); err != nil {
			return nil, err
		}
	case locked == nil || locked.Tag != dep.Tag || locked.Git != dep.Git:
		depLog.Infof("fetching %s", name)
		if err := gitFetch(checkout); err != nil {
			return nil, err
		}
	}

	rev := dep.Tag
	if rev == "" && locked != nil && locked.Git == dep.Git {
		rev = locked.Commit
	}
	if rev != "" {
		if err := gitCheckout(checkout, rev); err != nil {
			return nil, err
		}
	}
	if clean, err := gitIsClean(checkout); err == nil && !clean {
		depLog.Warningf("dependency %s has local changes in %s", name, checkout)
	}

	ld := LockedDep{Name: name, Git: dep.Git, Tag: dep.Tag}
	if commit, err := gitCurrentCommit(checkout); err == nil {
		ld.Commit = commit
	}
	return &ResolvedDep{Name: name, LocalPath: checkout, lock: ld}, nil
}
