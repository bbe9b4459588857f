// Package runtimes discovers and wields installed PostgreSQL runtimes.
//
// A system can have many versions of PostgreSQL installed at once. On Debian
// and Ubuntu they live under /usr/lib/postgresql/*, with Homebrew under the
// cellar's postgresql@* kegs, and any of them may also be on PATH. A
// [Strategy] answers which runtimes are available and which one suits a
// given cluster.
package runtimes

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/quay/pgfixture/internal/pathutil"
	"github.com/quay/pgfixture/version"
)

// ctlBin is the binary whose presence marks a directory as a PostgreSQL
// runtime, and whose --version output names the runtime's version.
const ctlBin = `pg_ctl`

// Runtime is a single PostgreSQL installation.
type Runtime struct {
	// BinDir is the directory holding pg_ctl and the other PostgreSQL
	// binaries.
	BinDir string
	// Version of this installation, as reported by pg_ctl.
	Version version.Version
}

// New examines the runtime in bindir, determining its version by running
// pg_ctl (through a process-wide cache).
func New(bindir string) (Runtime, error) {
	v, err := cachedVersion(filepath.Join(bindir, ctlBin))
	if err != nil {
		return Runtime{}, err
	}
	return Runtime{BinDir: bindir, Version: v}, nil
}

// Command returns an [exec.Cmd] for running the named PostgreSQL program
// from this runtime. The program path is qualified with BinDir, and BinDir
// is put at the front of the child's PATH so that programs spawning other
// PostgreSQL programs find the right ones.
func (r Runtime) Command(ctx context.Context, name string, arg ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, filepath.Join(r.BinDir, name), arg...)
	cmd.Env = append(os.Environ(), "PATH="+pathutil.Prepend(r.BinDir, os.Getenv("PATH")))
	return cmd
}

// Execute is like [Runtime.Command] except the program name is not
// qualified with BinDir: the program is found on the adjusted PATH, so a
// program that exists both in BinDir and elsewhere resolves to this
// runtime's copy. Use this to run arbitrary commands in the context of
// this runtime.
func (r Runtime) Execute(ctx context.Context, name string, arg ...string) *exec.Cmd {
	path := pathutil.Prepend(r.BinDir, os.Getenv("PATH"))
	cmd := exec.CommandContext(ctx, lookPath(name, path), arg...)
	cmd.Env = append(os.Environ(), "PATH="+path)
	return cmd
}

// lookPath resolves name against a PATH-style list of directories, like
// [exec.LookPath] but against the provided list instead of the process
// environment. Names containing a path separator, and names that resolve
// nowhere, are returned unchanged; the latter surface their error when the
// command runs.
func lookPath(name, path string) string {
	if strings.ContainsRune(name, os.PathSeparator) {
		return name
	}
	for _, dir := range filepath.SplitList(path) {
		if dir == "" {
			continue
		}
		p := filepath.Join(dir, name)
		if fi, err := os.Stat(p); err == nil && fi.Mode().IsRegular() && fi.Mode()&0o111 != 0 {
			return p
		}
	}
	return name
}

// String implements fmt.Stringer.
func (r Runtime) String() string {
	return fmt.Sprintf("%s (%s)", r.Version, r.BinDir)
}

// Runtimes implements [Strategy]: the runtime itself is the only runtime
// this strategy knows.
func (r Runtime) Runtimes() []Runtime { return []Runtime{r} }

// Select implements [Strategy].
func (r Runtime) Select(p version.PartialVersion) (Runtime, bool) {
	if p.Compatible(r.Version) {
		return r, true
	}
	return Runtime{}, false
}

// Fallback implements [Strategy].
func (r Runtime) Fallback() (Runtime, bool) { return r, true }
