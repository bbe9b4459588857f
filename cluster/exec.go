package cluster

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// procStatus is the decoded result of a finished control command.
type procStatus struct {
	// exited is false when the process was killed by a signal, in which
	// case code is -1.
	exited bool
	code   int
	output []byte
}

func (s procStatus) ok() bool { return s.exited && s.code == 0 }

// String implements fmt.Stringer, for error messages.
func (s procStatus) String() string {
	if !s.exited {
		return fmt.Sprintf("killed by signal (output: %q)", s.output)
	}
	return fmt.Sprintf("exit status %d (output: %q)", s.code, s.output)
}

// runner executes a prepared control command. It's a seam: tests substitute
// a scripted implementation so no real PostgreSQL is needed to exercise the
// lifecycle and decode logic.
type runner func(*exec.Cmd) (procStatus, error)

// runCommand is the real runner.
func runCommand(cmd *exec.Cmd) (procStatus, error) {
	out, err := cmd.CombinedOutput()
	var exit *exec.ExitError
	switch {
	case err == nil:
		return procStatus{exited: true, code: 0, output: out}, nil
	case errors.As(err, &exit):
		code := exit.ExitCode()
		return procStatus{exited: code != -1, code: code, output: out}, nil
	}
	return procStatus{}, fmt.Errorf("cluster: running %v: %w", cmd.Args, err)
}

// ctl prepares a pg_ctl invocation against this cluster. PGHOST is set to
// the data directory so client programs spawned underneath (and pg_ctl's
// own readiness checks) use the cluster's Unix socket.
func (c *Cluster) ctl(ctx context.Context, arg ...string) *exec.Cmd {
	cmd := c.runtime.Command(ctx, "pg_ctl", arg...)
	cmd.Env = append(cmd.Env,
		"PGDATA="+c.dataDir,
		"PGHOST="+c.dataDir,
	)
	return cmd
}

// shellQuote wraps s in single quotes for embedding in a pg_ctl -o value,
// which pg_ctl splits shell-style.
func shellQuote(s string) string {
	return `'` + strings.ReplaceAll(s, `'`, `'\''`) + `'`
}
