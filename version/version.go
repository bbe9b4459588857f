// Package version handles PostgreSQL version numbers.
//
// PostgreSQL's versioning scheme changed at release 10: before it, releases
// were numbered major.point.patch (9.6.17) with "9.6" acting as the major
// version; from 10 onward they're numbered major.minor (14.2). This package
// is explicitly not semver: see the PostgreSQL "Versioning Policy" for the
// details this encodes.
package version

import (
	"cmp"
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// ErrMissing is reported when no version number can be found in the input.
var ErrMissing = errors.New("version: not found")

// ErrBadlyFormed is reported when a version number is found but does not
// follow PostgreSQL's versioning scheme.
var ErrBadlyFormed = errors.New("version: badly formed")

// Version is a concrete PostgreSQL release number.
//
// For releases before 10, Major.Minor is the "major" version (e.g. 9.6) and
// Patch the point release. For 10 and later there are only two components
// and Patch is always zero.
type Version struct {
	Major int
	Minor int
	Patch int
}

// The parser tolerates leading and trailing garbage so that output like
// "pg_ctl (PostgreSQL) 12.2" parses cleanly.
var versionRE = regexp.MustCompile(`\b(\d+)[.](\d+)(?:[.](\d+))?\b`)

// Parse extracts a Version from s.
func Parse(s string) (Version, error) {
	m := versionRE.FindStringSubmatch(s)
	if m == nil {
		return Version{}, ErrMissing
	}
	major, err := strconv.Atoi(m[1])
	if err != nil {
		return Version{}, fmt.Errorf("%w: %q: %v", ErrBadlyFormed, s, err)
	}
	minor, err := strconv.Atoi(m[2])
	if err != nil {
		return Version{}, fmt.Errorf("%w: %q: %v", ErrBadlyFormed, s, err)
	}
	switch {
	case m[3] != "" && major >= 10:
		// Three components only exist before 10.
		return Version{}, fmt.Errorf("%w: %q", ErrBadlyFormed, s)
	case m[3] == "" && major < 10:
		// Two components only exist from 10 onward.
		return Version{}, fmt.Errorf("%w: %q", ErrBadlyFormed, s)
	case m[3] == "":
		return Version{Major: major, Minor: minor}, nil
	}
	patch, err := strconv.Atoi(m[3])
	if err != nil {
		return Version{}, fmt.Errorf("%w: %q: %v", ErrBadlyFormed, s, err)
	}
	return Version{Major: major, Minor: minor, Patch: patch}, nil
}

// String implements fmt.Stringer.
func (v Version) String() string {
	if v.Major >= 10 {
		return fmt.Sprintf("%d.%d", v.Major, v.Minor)
	}
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compare returns -1, 0, or 1 as v sorts before, equal to, or after o.
// Numeric comparison of the major component means every pre-10 release sorts
// before every 10-or-later release.
func (v Version) Compare(o Version) int {
	if c := cmp.Compare(v.Major, o.Major); c != 0 {
		return c
	}
	if c := cmp.Compare(v.Minor, o.Minor); c != 0 {
		return c
	}
	return cmp.Compare(v.Patch, o.Patch)
}
