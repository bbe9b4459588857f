// Package pathutil has helpers for manipulating PATH-style lists.
package pathutil

import (
	"os"
	"path/filepath"
	"strings"
)

// Prepend returns path with dir at the front. If dir is already present in
// path it is moved to the front rather than duplicated. The environment is
// not modified.
func Prepend(dir, path string) string {
	if path == "" {
		return dir
	}
	out := []string{dir}
	for _, p := range filepath.SplitList(path) {
		if p == dir {
			continue
		}
		out = append(out, p)
	}
	return strings.Join(out, string(os.PathListSeparator))
}
