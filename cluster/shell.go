package cluster

import (
	"context"
	"os"
)

// Shell runs an interactive psql shell connected to the named database in
// the cluster, inheriting this process's standard streams.
func (c *Cluster) Shell(ctx context.Context, database string) error {
	cmd := c.runtime.Command(ctx, "psql", "--quiet")
	cmd.Env = append(cmd.Env,
		"PGDATA="+c.dataDir,
		"PGHOST="+c.dataDir,
		"PGDATABASE="+database,
	)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	return cmd.Run()
}

// Exec runs an arbitrary command in the context of the cluster: the
// runtime's binaries are at the front of PATH and the PG* environment
// points at the named database over the cluster's socket.
func (c *Cluster) Exec(ctx context.Context, database, name string, arg ...string) error {
	cmd := c.runtime.Execute(ctx, name, arg...)
	cmd.Env = append(cmd.Env,
		"PGDATA="+c.dataDir,
		"PGHOST="+c.dataDir,
		"PGDATABASE="+database,
	)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	return cmd.Run()
}
