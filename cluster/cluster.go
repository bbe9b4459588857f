// Package cluster creates, starts, introspects, stops, and destroys
// PostgreSQL clusters.
//
// A cluster may not yet exist on disk, may exist but be stopped, or may be
// running; every operation here is idempotent with respect to that state.
// There's no protection against concurrent changes made by other processes:
// that's the coordinate package's job.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/quay/pgfixture/runtimes"
	"github.com/quay/pgfixture/version"
)

// versionFile is the marker file naming the version of PostgreSQL that
// created a data directory.
const versionFile = `PG_VERSION`

// Cluster is a PostgreSQL cluster: a data directory plus the runtime used
// to operate on it.
type Cluster struct {
	dataDir string
	runtime runtimes.Runtime
	run     runner
}

// New represents the cluster at datadir.
//
// The strategy picks the runtime: the one compatible with the data
// directory's on-disk version when the cluster exists, the strategy's
// fallback when it doesn't (the version is then decided by whichever
// runtime creates it).
func New(datadir string, s runtimes.Strategy) (*Cluster, error) {
	pv, found, err := ReadVersion(datadir)
	if err != nil {
		return nil, err
	}
	var r runtimes.Runtime
	var ok bool
	if found {
		if r, ok = s.Select(pv); !ok {
			return nil, &RuntimeNotFoundError{Version: pv}
		}
	} else {
		if r, ok = s.Fallback(); !ok {
			return nil, ErrNoRuntimes
		}
	}
	return &Cluster{dataDir: datadir, runtime: r, run: runCommand}, nil
}

// DataDir reports the cluster's data directory.
func (c *Cluster) DataDir() string { return c.dataDir }

// Runtime reports the runtime operating this cluster.
func (c *Cluster) Runtime() runtimes.Runtime { return c.runtime }

// Pidfile reports the path of the cluster's PID file. The file does not
// necessarily exist.
func (c *Cluster) Pidfile() string { return filepath.Join(c.dataDir, "postmaster.pid") }

// Logfile reports the path of the cluster's log file. The file does not
// necessarily exist.
func (c *Cluster) Logfile() string { return filepath.Join(c.dataDir, "postmaster.log") }

// Exists reports whether the cluster exists on disk.
func (c *Cluster) Exists() bool { return Exists(c.dataDir) }

// Exists is a quick check: does the directory exist and look like a
// PostgreSQL data directory, i.e. does it contain PG_VERSION?
//
// [ReadVersion] is the more thorough measure, and also reports which
// PostgreSQL version is needed to use the cluster.
func Exists(datadir string) bool {
	if fi, err := os.Stat(datadir); err != nil || !fi.IsDir() {
		return false
	}
	fi, err := os.Stat(filepath.Join(datadir, versionFile))
	return err == nil && fi.Mode().IsRegular()
}

// ReadVersion reports the version of PostgreSQL needed to use the cluster
// at datadir, from the PG_VERSION file. For versions before 10 this is
// typically the major and point version (9.6); for 10 and above just the
// major number (14). The second return is false when the marker file does
// not exist.
func ReadVersion(datadir string) (version.PartialVersion, bool, error) {
	b, err := os.ReadFile(filepath.Join(datadir, versionFile))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return version.PartialVersion{}, false, nil
	case err != nil:
		return version.PartialVersion{}, false, fmt.Errorf("cluster: reading version marker: %w", err)
	}
	pv, err := version.ParsePartial(string(b))
	if err != nil {
		return version.PartialVersion{}, false, fmt.Errorf("cluster: version marker in %q: %w", datadir, err)
	}
	return pv, true, nil
}

// Create the cluster if it does not already exist, reporting whether this
// call created it. A concurrent creator winning the race is not an error.
func (c *Cluster) Create(ctx context.Context) (bool, error) {
	did, err := c.create(ctx)
	switch {
	case err == nil:
		return did, nil
	case errors.Is(err, unix.EAGAIN):
		if c.Exists() {
			return false, nil
		}
		return false, ErrInUse
	}
	return false, err
}

func (c *Cluster) create(ctx context.Context) (bool, error) {
	if c.Exists() {
		// Nothing to do; the cluster is already in place.
		return false, nil
	}
	if err := os.MkdirAll(c.dataDir, 0o755); err != nil {
		return false, fmt.Errorf("cluster: creating %q: %w", c.dataDir, err)
	}
	slog.DebugContext(ctx, "creating cluster", "datadir", c.dataDir, "runtime", c.runtime.String())
	cmd := c.ctl(ctx, "init", "-s", "-o", "-E utf8 --locale C -A trust")
	cmd.Env = append(cmd.Env, "TZ=UTC")
	st, err := c.run(cmd)
	if err != nil {
		return false, err
	}
	if !st.ok() {
		return false, fmt.Errorf("cluster: initializing %q failed: %s", c.dataDir, st)
	}
	return true, nil
}

// Start the cluster if it's not already running, creating it first if
// necessary, and reporting whether this call started it.
func (c *Cluster) Start(ctx context.Context) (bool, error) {
	did, err := c.start(ctx)
	switch {
	case err == nil:
		return did, nil
	case errors.Is(err, unix.EAGAIN):
		running, rerr := c.Running(ctx)
		if rerr != nil {
			return false, rerr
		}
		if running {
			return false, nil
		}
		return false, ErrInUse
	}
	return false, err
}

func (c *Cluster) start(ctx context.Context) (bool, error) {
	if _, err := c.create(ctx); err != nil {
		return false, err
	}
	running, err := c.Running(ctx)
	if err != nil {
		return false, err
	}
	if running {
		return false, nil
	}
	slog.DebugContext(ctx, "starting cluster", "datadir", c.dataDir)
	// pg_ctl options:
	//  -l <file> -- log file.
	//  -s -- no informational messages.
	//  -w -- wait until startup is complete.
	// postgres options:
	//  -h '' -- no TCP; Unix socket only.
	//  -k <dir> -- socket directory.
	st, err := c.run(c.ctl(ctx,
		"start",
		"-l", c.Logfile(),
		"-s",
		"-w",
		"-o", fmt.Sprintf("-h '' -k %s", shellQuote(c.dataDir)),
	))
	if err != nil {
		return false, err
	}
	if !st.ok() {
		return false, fmt.Errorf("cluster: starting %q failed: %s", c.dataDir, st)
	}
	return true, nil
}

// Stop the cluster if it's running, reporting whether this call stopped it.
func (c *Cluster) Stop(ctx context.Context) (bool, error) {
	did, err := c.stop(ctx)
	switch {
	case err == nil:
		return did, nil
	case errors.Is(err, unix.EAGAIN):
		running, rerr := c.Running(ctx)
		if rerr != nil {
			return false, rerr
		}
		if !running {
			return false, nil
		}
		return false, ErrInUse
	}
	return false, err
}

func (c *Cluster) stop(ctx context.Context) (bool, error) {
	running, err := c.Running(ctx)
	if err != nil {
		return false, err
	}
	if !running {
		return false, nil
	}
	slog.DebugContext(ctx, "stopping cluster", "datadir", c.dataDir)
	// pg_ctl options:
	//  -w -- wait for shutdown to complete.
	//  -m fast -- disconnect clients instead of waiting for them.
	st, err := c.run(c.ctl(ctx, "stop", "-s", "-w", "-m", "fast"))
	if err != nil {
		return false, err
	}
	if !st.ok() {
		return false, fmt.Errorf("cluster: stopping %q failed: %s", c.dataDir, st)
	}
	return true, nil
}

// Destroy stops the cluster if it's running and removes its data directory
// entirely, reporting whether there was anything to remove.
func (c *Cluster) Destroy(ctx context.Context) (bool, error) {
	did, err := c.destroy(ctx)
	if errors.Is(err, unix.EAGAIN) {
		return false, ErrInUse
	}
	return did, err
}

func (c *Cluster) destroy(ctx context.Context) (bool, error) {
	stopped, err := c.stop(ctx)
	if err != nil {
		return false, err
	}
	fi, serr := os.Stat(c.dataDir)
	if stopped || (serr == nil && fi.IsDir()) {
		slog.DebugContext(ctx, "destroying cluster", "datadir", c.dataDir)
		if err := os.RemoveAll(c.dataDir); err != nil {
			return false, fmt.Errorf("cluster: removing %q: %w", c.dataDir, err)
		}
		return true, nil
	}
	return false, nil
}
