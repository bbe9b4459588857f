package cluster

import (
	"errors"
	"fmt"

	"github.com/quay/pgfixture/version"
)

// ErrInUse is reported when a lifecycle operation loses to another process
// holding the cluster's own lower-level lock. Callers racing to create or
// start a cluster should treat this as "someone else is already doing this";
// the [Cluster.Create], [Cluster.Start], and [Cluster.Stop] wrappers already
// do when an independent recheck confirms the desired state.
var ErrInUse = errors.New("cluster: in use; cannot lock exclusively")

// ErrNoRuntimes is reported when no PostgreSQL runtime can be discovered at
// all.
var ErrNoRuntimes = errors.New("cluster: no PostgreSQL runtimes discovered")

// RuntimeNotFoundError is reported when runtimes were discovered but none is
// compatible with the cluster's on-disk version.
type RuntimeNotFoundError struct {
	Version version.PartialVersion
}

// Error implements error.
func (e *RuntimeNotFoundError) Error() string {
	return fmt.Sprintf("cluster: no PostgreSQL runtime found for version %s", e.Version)
}

// UnsupportedVersionError is reported when the runtime's version has no
// entry in the status decode table, so the cluster's state cannot be
// determined.
type UnsupportedVersionError struct {
	Version version.Version
}

// Error implements error.
func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("cluster: PostgreSQL version not supported: %s", e.Version)
}

// StatusError is reported when `pg_ctl status` finishes in a way the decode
// table has no verdict for. Guessing here could mask a permissions problem
// as "not running", so the raw result is surfaced instead.
type StatusError struct {
	// Code is the exit code, or -1 if the process was killed by a
	// signal.
	Code int
	// Output is the combined output of the status command.
	Output []byte
}

// Error implements error.
func (e *StatusError) Error() string {
	if e.Code == -1 {
		return fmt.Sprintf("cluster: cannot determine state: pg_ctl status killed by signal (output: %q)", e.Output)
	}
	return fmt.Sprintf("cluster: cannot determine state: pg_ctl status exited %d (output: %q)", e.Code, e.Output)
}
