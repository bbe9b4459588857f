package cluster

import (
	"context"

	"github.com/quay/pgfixture/version"
)

// The meaning of a nonzero exit code from `pg_ctl status` has changed over
// PostgreSQL's history. Decoding is driven by the table below, keyed by
// version era and exit code, with an explicit "don't know" default: an
// unlisted code is surfaced as a [StatusError] rather than guessed, since
// guessing could mask insufficient permissions or a missing executable as
// "not running".

// era is a band of PostgreSQL versions sharing pg_ctl exit-code behavior.
type era int

const (
	eraUnsupported era = iota
	era90              // 9.0 and 9.1
	era92              // 9.2 and 9.3
	era94              // 9.4 through 9.6
	eraModern          // 10 and later
)

func eraOf(v version.Version) era {
	switch {
	case v.Major >= 10:
		return eraModern
	case v.Major == 9 && v.Minor >= 4:
		return era94
	case v.Major == 9 && v.Minor >= 2:
		return era92
	case v.Major == 9:
		return era90
	}
	return eraUnsupported
}

// verdict is what a tabled exit code tells us.
type verdict int

const (
	// stopped: the data directory is present and accessible but the
	// server is not running.
	stopped verdict = iota + 1
	// stoppedIfMissing: the data directory is absent or not accessible.
	// Absent means not running; present-but-inaccessible means we can't
	// know, and the caller must not guess.
	stoppedIfMissing
)

var statusTable = map[era]map[int]verdict{
	// https://www.postgresql.org/docs/9.0/static/app-pg-ctl.html
	// "1" also covers a missing or inaccessible data directory.
	era90: {1: stopped},
	// https://www.postgresql.org/docs/9.2/static/app-pg-ctl.html
	// "3" also covers a missing data directory.
	era92: {3: stopped},
	// https://www.postgresql.org/docs/9.4/static/app-pg-ctl.html
	era94: {3: stopped, 4: stoppedIfMissing},
	// https://www.postgresql.org/docs/10/static/app-pg-ctl.html
	eraModern: {3: stopped, 4: stoppedIfMissing},
}

// Running reports whether the cluster is running.
//
// This distinguishes carefully between "definitely running", "definitely
// not running", and "don't know"; the latter is an error, never a guess.
func (c *Cluster) Running(ctx context.Context) (bool, error) {
	st, err := c.run(c.ctl(ctx, "status"))
	if err != nil {
		return false, err
	}
	switch {
	case !st.exited:
		// Killed by a signal; no verdict possible.
		return false, &StatusError{Code: -1, Output: st.output}
	case st.code == 0:
		// Clean success always means the server is running.
		return true, nil
	}
	e := eraOf(c.runtime.Version)
	if e == eraUnsupported {
		return false, &UnsupportedVersionError{Version: c.runtime.Version}
	}
	switch statusTable[e][st.code] {
	case stopped:
		return false, nil
	case stoppedIfMissing:
		if !c.Exists() {
			return false, nil
		}
	}
	return false, &StatusError{Code: st.code, Output: st.output}
}
