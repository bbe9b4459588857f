// Command pgfixture works with ephemeral PostgreSQL clusters.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/quay/pgfixture/cluster"
	"github.com/quay/pgfixture/coordinate"
	"github.com/quay/pgfixture/lockfile"
	"github.com/quay/pgfixture/runtimes"
)

type commonConfig struct {
	DataDir  string
	Database string
	Destroy  bool
	Mode     string
	Debug    bool
}

type subcmd func(context.Context, *commonConfig, []string) error

func main() {
	var exit int
	defer func() {
		if exit != 0 {
			os.Exit(exit)
		}
	}()
	ctx, done := context.WithCancel(context.Background())
	defer done()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGTERM, syscall.SIGINT)
		<-ch
		done()
	}()

	var cfg commonConfig
	fs := flag.NewFlagSet("pgfixture", flag.ExitOnError)
	fs.Usage = func() {
		out := fs.Output()
		fmt.Fprintf(out, "Usage of %s:\n", os.Args[0])
		fs.PrintDefaults()
		fmt.Fprintf(out, "\nSubcommands\n\n")
		fmt.Fprintln(out, "shell")
		fmt.Fprintln(out, "\tstart a psql shell, creating and starting the cluster as necessary")
		fmt.Fprintln(out, "exec command [arguments...]")
		fmt.Fprintln(out, "\texecute an arbitrary command, creating and starting the cluster as necessary")
		fmt.Fprintln(out, "runtimes")
		fmt.Fprintln(out, "\tlist discovered PostgreSQL runtimes")
		fmt.Fprintln(out)
	}

	fs.StringVar(&cfg.DataDir, "D", envOr("PGDATA", "cluster"), "directory in which to place, or find, the cluster")
	fs.StringVar(&cfg.Database, "d", envOr("PGDATABASE", "data"), "database to connect to, created if missing")
	fs.BoolVar(&cfg.Destroy, "destroy", false, "DELETE THE DATA DIRECTORY after use")
	fs.StringVar(&cfg.Mode, "mode", "", `run the cluster "safer" (the default) or "faster"; the setting is sticky`)
	fs.BoolVar(&cfg.Debug, "debug", false, "enable debug logging")
	if err := fs.Parse(os.Args[1:]); err != nil {
		slog.Error("parsing arguments", "error", err)
		exit = 1
		return
	}
	if cfg.Debug {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	var cmd subcmd
	switch n := fs.Arg(0); n {
	case "shell":
		cmd = Shell
	case "exec":
		cmd = Exec
	case "runtimes":
		cmd = Runtimes
	case "":
		fs.Usage()
		exit = 99
		return
	default:
		fs.Usage()
		fmt.Fprintf(os.Stderr, "\nunknown subcommand %q\n", n)
		exit = 99
		return
	}

	if err := cmd(ctx, &cfg, fs.Args()[1:]); err != nil {
		slog.Error("fatal", "error", err)
		exit = 1
	}
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

// Shell opens an interactive psql session against the configured database.
func Shell(ctx context.Context, cfg *commonConfig, args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("shell: unexpected arguments: %v", args)
	}
	return withCluster(ctx, cfg, func(ctx context.Context, clu *cluster.Cluster) error {
		return clu.Shell(ctx, cfg.Database)
	})
}

// Exec runs an arbitrary command with the cluster up and the connection
// environment (PGDATA, PGHOST, PGDATABASE) prepared. With no arguments it
// falls back to $SHELL.
func Exec(ctx context.Context, cfg *commonConfig, args []string) error {
	if len(args) == 0 {
		sh, ok := os.LookupEnv("SHELL")
		if !ok {
			return errors.New("exec: no command given and SHELL is not set")
		}
		args = []string{sh}
	}
	return withCluster(ctx, cfg, func(ctx context.Context, clu *cluster.Cluster) error {
		return clu.Exec(ctx, cfg.Database, args[0], args[1:]...)
	})
}

// Runtimes prints every PostgreSQL runtime the default discovery strategy
// can find. The default runtime, the one a new cluster would use, is marked
// with "=>".
func Runtimes(_ context.Context, _ *commonConfig, args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("runtimes: unexpected arguments: %v", args)
	}
	s := runtimes.Default()
	fallback, ok := s.Fallback()
	if !ok {
		return cluster.ErrNoRuntimes
	}
	for _, r := range s.Runtimes() {
		marker := "  "
		if r.BinDir == fallback.BinDir {
			marker = "=>"
		}
		fmt.Printf("%s %-10v %s\n", marker, r.Version, r.BinDir)
	}
	return nil
}

// withCluster performs fn with the cluster up, holding a shared lock for
// the duration. The cluster is created, started, stopped, and optionally
// destroyed per the coordination protocol.
func withCluster(ctx context.Context, cfg *commonConfig, fn func(context.Context, *cluster.Cluster) error) error {
	// The data directory has to exist before it can be canonicalized
	// into a lock file path.
	if err := os.Mkdir(cfg.DataDir, 0o755); err != nil && !errors.Is(err, os.ErrExist) {
		return fmt.Errorf("creating data directory: %w", err)
	}
	lock, err := lockfile.OpenFor(cfg.DataDir)
	if err != nil {
		return err
	}
	clu, err := cluster.New(cfg.DataDir, runtimes.Default())
	if err != nil {
		lock.Close()
		return err
	}

	var mode *cluster.Mode
	switch cfg.Mode {
	case "":
	case "safer", "slower-but-safer":
		m := cluster.ModeSafer
		mode = &m
	case "faster", "faster-but-less-safe":
		m := cluster.ModeFaster
		mode = &m
	default:
		lock.Close()
		return fmt.Errorf("unknown mode %q", cfg.Mode)
	}

	action := func(ctx context.Context) (struct{}, error) {
		if mode != nil {
			if err := clu.SetMode(ctx, *mode); err != nil {
				return struct{}{}, err
			}
		}
		if err := ensureDatabase(ctx, clu, cfg.Database); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, fn(ctx, clu)
	}
	if cfg.Destroy {
		_, err = coordinate.RunAndDestroy(ctx, clu, lock, action)
	} else {
		_, err = coordinate.RunAndStop(ctx, clu, lock, action)
	}
	return err
}

func ensureDatabase(ctx context.Context, clu *cluster.Cluster, name string) error {
	dbs, err := clu.Databases(ctx)
	if err != nil {
		return err
	}
	for _, db := range dbs {
		if db == name {
			return nil
		}
	}
	return clu.CreateDB(ctx, name)
}
