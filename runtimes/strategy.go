package runtimes

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/quay/pgfixture/version"
)

// Strategy answers three questions: what runtimes are available, which of
// them best serves a cluster pinned to a version constraint, and which to
// use when there's no constraint at all (a brand-new cluster).
type Strategy interface {
	// Runtimes reports every runtime this strategy knows about.
	Runtimes() []Runtime
	// Select picks the most appropriate runtime for the given version
	// constraint.
	Select(version.PartialVersion) (Runtime, bool)
	// Fallback picks the runtime to use when there's no constraint.
	Fallback() (Runtime, bool)
}

// selectFrom narrows rs to those compatible with p, then picks the highest
// version. This is the stock Select behavior.
func selectFrom(rs []Runtime, p version.PartialVersion) (best Runtime, ok bool) {
	for _, r := range rs {
		if !p.Compatible(r.Version) {
			continue
		}
		if !ok || best.Version.Compare(r.Version) < 0 {
			best, ok = r, true
		}
	}
	return best, ok
}

// fallbackFrom picks the highest version in rs. This is the stock Fallback
// behavior.
func fallbackFrom(rs []Runtime) (best Runtime, ok bool) {
	for _, r := range rs {
		if !ok || best.Version.Compare(r.Version) < 0 {
			best, ok = r, true
		}
	}
	return best, ok
}

// OnPath finds runtimes by walking a PATH-style list of directories,
// keeping those that contain pg_ctl.
type OnPath struct {
	// Path is the list to walk. When empty, the PATH environment
	// variable is used.
	Path string
}

// Runtimes implements [Strategy]. Directories whose pg_ctl version cannot
// be determined are skipped.
func (s OnPath) Runtimes() []Runtime {
	path := s.Path
	if path == "" {
		path = os.Getenv("PATH")
	}
	var rs []Runtime
	for _, dir := range filepath.SplitList(path) {
		if fi, err := os.Stat(filepath.Join(dir, ctlBin)); err != nil || fi.IsDir() {
			continue
		}
		r, err := New(dir)
		if err != nil {
			continue
		}
		rs = append(rs, r)
	}
	return rs
}

// Select implements [Strategy].
func (s OnPath) Select(p version.PartialVersion) (Runtime, bool) {
	return selectFrom(s.Runtimes(), p)
}

// Fallback implements [Strategy].
func (s OnPath) Fallback() (Runtime, bool) {
	return fallbackFrom(s.Runtimes())
}

// OnPlatform finds runtimes using platform-specific knowledge: Debian and
// Ubuntu installations under /usr/lib/postgresql, Homebrew kegs on macOS.
type OnPlatform struct{}

// Runtimes implements [Strategy].
func (OnPlatform) Runtimes() []Runtime {
	var rs []Runtime
	for _, bindir := range platformBindirs() {
		r, err := New(bindir)
		if err != nil {
			continue
		}
		rs = append(rs, r)
	}
	return rs
}

func platformBindirs() []string {
	var pats []string
	switch runtime.GOOS {
	case "linux":
		pats = []string{`/usr/lib/postgresql/*/bin`}
	case "darwin":
		prefix, err := brewPrefix()
		if err != nil || prefix == "" {
			return nil
		}
		pats = []string{filepath.Join(prefix, `Cellar/postgresql@*/*/bin`)}
	default:
		return nil
	}
	var dirs []string
	for _, pat := range pats {
		ms, err := filepath.Glob(pat)
		if err != nil {
			continue
		}
		for _, dir := range ms {
			if fi, err := os.Stat(filepath.Join(dir, ctlBin)); err == nil && !fi.IsDir() {
				dirs = append(dirs, dir)
			}
		}
	}
	return dirs
}

// Select implements [Strategy].
func (s OnPlatform) Select(p version.PartialVersion) (Runtime, bool) {
	return selectFrom(s.Runtimes(), p)
}

// Fallback implements [Strategy].
func (s OnPlatform) Fallback() (Runtime, bool) {
	return fallbackFrom(s.Runtimes())
}

// Set combines strategies in order of preference.
type Set []Strategy

// Runtimes implements [Strategy]. Runtimes are reported in strategy order
// and deduplicated by version: a version seen by an earlier strategy
// shadows the same version from a later one.
func (s Set) Runtimes() []Runtime {
	seen := make(map[version.Version]struct{})
	var rs []Runtime
	for _, strat := range s {
		for _, r := range strat.Runtimes() {
			if _, ok := seen[r.Version]; ok {
				continue
			}
			seen[r.Version] = struct{}{}
			rs = append(rs, r)
		}
	}
	return rs
}

// Select implements [Strategy]: each strategy is asked in turn, and the
// first answer wins.
func (s Set) Select(p version.PartialVersion) (Runtime, bool) {
	for _, strat := range s {
		if r, ok := strat.Select(p); ok {
			return r, true
		}
	}
	return Runtime{}, false
}

// Fallback implements [Strategy]: each strategy is asked in turn, and the
// first answer wins.
func (s Set) Fallback() (Runtime, bool) {
	for _, strat := range s {
		if r, ok := strat.Fallback(); ok {
			return r, true
		}
	}
	return Runtime{}, false
}

// Default is the stock strategy: runtimes on PATH, then platform-specific
// locations.
func Default() Strategy {
	return Set{OnPath{}, OnPlatform{}}
}

// brewPrefix asks Homebrew for its installation prefix.
func brewPrefix() (string, error) {
	out, err := exec.Command("brew", "--prefix").Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
