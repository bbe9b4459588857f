package version

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParsePartial(t *testing.T) {
	tt := []struct {
		In   string
		Want PartialVersion
	}{
		{"14", PartialVersion{Major: 14, Minor: Absent, Patch: Absent}},
		{"9.6", PartialVersion{Major: 9, Minor: 6, Patch: Absent}},
		{"9.6.17", PartialVersion{Major: 9, Minor: 6, Patch: 17}},
		{"14\n", PartialVersion{Major: 14, Minor: Absent, Patch: Absent}},
	}
	for _, tc := range tt {
		t.Run(tc.In, func(t *testing.T) {
			got, err := ParsePartial(tc.In)
			if err != nil {
				t.Fatal(err)
			}
			if !cmp.Equal(got, tc.Want) {
				t.Error(cmp.Diff(got, tc.Want))
			}
		})
	}

	if _, err := ParsePartial("junk"); !errors.Is(err, ErrMissing) {
		t.Errorf("got %v, want ErrMissing", err)
	}
}

func TestPartialString(t *testing.T) {
	tt := []struct {
		In   PartialVersion
		Want string
	}{
		{PartialVersion{Major: 14, Minor: Absent, Patch: Absent}, "14"},
		{PartialVersion{Major: 9, Minor: 6, Patch: Absent}, "9.6"},
		{PartialVersion{Major: 9, Minor: 6, Patch: 17}, "9.6.17"},
	}
	for _, tc := range tt {
		if got := tc.In.String(); got != tc.Want {
			t.Errorf("%#v: got %q, want %q", tc.In, got, tc.Want)
		}
	}
}

func TestCompatible(t *testing.T) {
	tt := []struct {
		Partial PartialVersion
		Runtime Version
		Want    bool
	}{
		// Modern scheme: exact major, runtime minor at least the
		// constraint's.
		{PartialVersion{Major: 14, Minor: Absent, Patch: Absent}, Version{Major: 14, Minor: 0}, true},
		{PartialVersion{Major: 14, Minor: Absent, Patch: Absent}, Version{Major: 14, Minor: 9}, true},
		{PartialVersion{Major: 14, Minor: Absent, Patch: Absent}, Version{Major: 15, Minor: 0}, false},
		{PartialVersion{Major: 14, Minor: 2, Patch: Absent}, Version{Major: 14, Minor: 2}, true},
		{PartialVersion{Major: 14, Minor: 2, Patch: Absent}, Version{Major: 14, Minor: 5}, true},
		{PartialVersion{Major: 14, Minor: 2, Patch: Absent}, Version{Major: 14, Minor: 1}, false},
		// Old scheme: major and minor name the release line and must
		// match exactly; patch is a floor.
		{PartialVersion{Major: 9, Minor: 6, Patch: Absent}, Version{9, 6, 17}, true},
		{PartialVersion{Major: 9, Minor: 6, Patch: Absent}, Version{9, 5, 20}, false},
		{PartialVersion{Major: 9, Minor: 6, Patch: 3}, Version{9, 6, 17}, true},
		{PartialVersion{Major: 9, Minor: 6, Patch: 17}, Version{9, 6, 3}, false},
		{PartialVersion{Major: 9, Minor: Absent, Patch: Absent}, Version{9, 4, 1}, true},
		// Partial and runtime from different eras never match.
		{PartialVersion{Major: 9, Minor: 6, Patch: Absent}, Version{Major: 14, Minor: 2}, false},
		{PartialVersion{Major: 14, Minor: Absent, Patch: Absent}, Version{9, 6, 17}, false},
	}
	for _, tc := range tt {
		if got := tc.Partial.Compatible(tc.Runtime); got != tc.Want {
			t.Errorf("%s compatible with %s: got %v, want %v", tc.Partial, tc.Runtime, got, tc.Want)
		}
	}
}

func TestPartialCompare(t *testing.T) {
	a := PartialVersion{Major: 9, Minor: 6, Patch: Absent}
	b := PartialVersion{Major: 9, Minor: 6, Patch: 0}
	if a.Compare(b) != 0 {
		t.Error("absent components should compare as zero")
	}
	c := PartialVersion{Major: 14, Minor: Absent, Patch: Absent}
	if a.Compare(c) != -1 || c.Compare(a) != 1 {
		t.Error("pre-10 versions should sort below post-10 versions")
	}
}
