package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5"
)

// adminDB is the database administrative statements run against; it exists
// in every cluster.
const adminDB = `template1`

// Connect opens a connection to the named database over the cluster's Unix
// socket. The connecting role is taken from the USER environment variable,
// matching what initdb set up.
func (c *Cluster) Connect(ctx context.Context, database string) (*pgx.Conn, error) {
	cfg, err := pgx.ParseConfig("")
	if err != nil {
		return nil, fmt.Errorf("cluster: connection config: %w", err)
	}
	cfg.Host = c.dataDir // Unix-socket directory, not a hostname.
	cfg.Database = database
	if u := os.Getenv("USER"); u != "" {
		cfg.User = u
	}
	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("cluster: connecting to %q: %w", database, err)
	}
	return conn, nil
}

// Databases reports the names of the databases in the cluster.
func (c *Cluster) Databases(ctx context.Context) ([]string, error) {
	conn, err := c.Connect(ctx, adminDB)
	if err != nil {
		return nil, err
	}
	defer conn.Close(ctx)
	rows, err := conn.Query(ctx, `SELECT datname FROM pg_catalog.pg_database ORDER BY datname;`)
	if err != nil {
		return nil, fmt.Errorf("cluster: listing databases: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("cluster: listing databases: %w", err)
	}
	return names, nil
}

// CreateDB creates the named database.
func (c *Cluster) CreateDB(ctx context.Context, database string) error {
	conn, err := c.Connect(ctx, adminDB)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	stmt := fmt.Sprintf(`CREATE DATABASE %s;`, pgx.Identifier{database}.Sanitize())
	if _, err := conn.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("cluster: creating database %q: %w", database, err)
	}
	return nil
}

// DropDB drops the named database.
func (c *Cluster) DropDB(ctx context.Context, database string) error {
	conn, err := c.Connect(ctx, adminDB)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	stmt := fmt.Sprintf(`DROP DATABASE %s;`, pgx.Identifier{database}.Sanitize())
	if _, err := conn.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("cluster: dropping database %q: %w", database, err)
	}
	return nil
}

// Mode trades cluster durability against speed.
type Mode int

const (
	// ModeSafer resets fsync, full_page_writes, and synchronous_commit
	// to their defaults.
	ModeSafer Mode = iota
	// ModeFaster disables fsync, full_page_writes, and
	// synchronous_commit. A power failure or crash can corrupt the
	// cluster beyond repair.
	ModeFaster
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	switch m {
	case ModeSafer:
		return "slower-but-safer"
	case ModeFaster:
		return "faster-but-less-safe"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// SetMode reconfigures the running cluster for the given mode. The mode is
// sticky: it's recorded in the cluster's configuration and survives
// restarts until changed again.
func (c *Cluster) SetMode(ctx context.Context, m Mode) error {
	var stmts []string
	switch m {
	case ModeSafer:
		stmts = []string{
			`ALTER SYSTEM RESET fsync;`,
			`ALTER SYSTEM RESET full_page_writes;`,
			`ALTER SYSTEM RESET synchronous_commit;`,
		}
	case ModeFaster:
		stmts = []string{
			`ALTER SYSTEM SET fsync = 'off';`,
			`ALTER SYSTEM SET full_page_writes = 'off';`,
			`ALTER SYSTEM SET synchronous_commit = 'off';`,
		}
	default:
		return fmt.Errorf("cluster: unknown mode %v", m)
	}
	conn, err := c.Connect(ctx, adminDB)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	for _, stmt := range stmts {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("cluster: configuring mode %v: %w", m, err)
		}
	}
	if _, err := conn.Exec(ctx, `SELECT pg_reload_conf();`); err != nil {
		return fmt.Errorf("cluster: reloading configuration: %w", err)
	}
	slog.InfoContext(ctx, "cluster mode configured", "datadir", c.dataDir, "mode", m.String())
	return nil
}
