package version

import (
	"cmp"
	"fmt"
	"regexp"
	"strconv"
)

// Absent marks a component omitted from a [PartialVersion].
const Absent = -1

// PartialVersion is a version number with possibly omitted trailing
// components, as found in a cluster's PG_VERSION file: "14" for modern
// clusters, "9.6" for old ones. Omitted components are [Absent] and act as
// wildcards when testing compatibility.
type PartialVersion struct {
	Major int
	Minor int
	Patch int
}

var partialRE = regexp.MustCompile(`\b(\d+)(?:[.](\d+)(?:[.](\d+))?)?\b`)

// ParsePartial extracts a PartialVersion from s. Like [Parse], leading and
// trailing garbage is tolerated.
func ParsePartial(s string) (PartialVersion, error) {
	m := partialRE.FindStringSubmatch(s)
	if m == nil {
		return PartialVersion{}, ErrMissing
	}
	p := PartialVersion{Minor: Absent, Patch: Absent}
	var err error
	if p.Major, err = strconv.Atoi(m[1]); err != nil {
		return PartialVersion{}, fmt.Errorf("%w: %q: %v", ErrBadlyFormed, s, err)
	}
	if m[2] != "" {
		if p.Minor, err = strconv.Atoi(m[2]); err != nil {
			return PartialVersion{}, fmt.Errorf("%w: %q: %v", ErrBadlyFormed, s, err)
		}
	}
	if m[3] != "" {
		if p.Patch, err = strconv.Atoi(m[3]); err != nil {
			return PartialVersion{}, fmt.Errorf("%w: %q: %v", ErrBadlyFormed, s, err)
		}
	}
	return p, nil
}

// String implements fmt.Stringer.
func (p PartialVersion) String() string {
	switch {
	case p.Minor == Absent:
		return strconv.Itoa(p.Major)
	case p.Patch == Absent:
		return fmt.Sprintf("%d.%d", p.Major, p.Minor)
	}
	return fmt.Sprintf("%d.%d.%d", p.Major, p.Minor, p.Patch)
}

// Compare orders partial versions, treating absent components as zero.
// That means 9.6 and 9.6.0 compare equal; callers that care about the
// distinction must check for [Absent] themselves.
func (p PartialVersion) Compare(o PartialVersion) int {
	if c := cmp.Compare(p.Major, o.Major); c != 0 {
		return c
	}
	if c := cmp.Compare(max(p.Minor, 0), max(o.Minor, 0)); c != 0 {
		return c
	}
	return cmp.Compare(max(p.Patch, 0), max(o.Patch, 0))
}

// Compatible reports whether a runtime of version v can serve a cluster
// requiring p.
//
// For 10-and-later runtimes the major versions must match exactly and, when
// p specifies one, the runtime's minor version must be at least p's. For
// pre-10 runtimes the major and (when specified) minor must match exactly
// since together they name the incompatible "major" release line, and the
// runtime's patch must be at least p's when specified.
func (p PartialVersion) Compatible(v Version) bool {
	if p.Major != v.Major {
		return false
	}
	if v.Major >= 10 {
		return p.Minor == Absent || v.Minor >= p.Minor
	}
	if p.Minor != Absent && p.Minor != v.Minor {
		return false
	}
	return p.Patch == Absent || v.Patch >= p.Patch
}
