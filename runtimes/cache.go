package runtimes

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/quay/pgfixture/version"
)

// Version cache for pg_ctl binaries.
//
// Hashing the binary and hitting the cache is roughly an order of magnitude
// faster than spawning `pg_ctl --version`, and discovery strategies may
// probe the same binaries many times in one process.

type cacheEntry struct {
	size int64
	sum  uint64
	v    version.Version
}

var cache = struct {
	sync.RWMutex
	m map[string]cacheEntry
}{m: make(map[string]cacheEntry)}

// cachedVersion reports the version of the PostgreSQL binary at the given
// path. The result is cached per canonical path, validated by the binary's
// size and content hash so a replaced binary is re-examined.
func cachedVersion(binary string) (version.Version, error) {
	canon, err := filepath.EvalSymlinks(binary)
	if err != nil {
		return version.Version{}, fmt.Errorf("runtimes: resolving %q: %w", binary, err)
	}
	size, sum, err := digest(canon)
	if err != nil {
		return version.Version{}, err
	}

	cache.RLock()
	e, ok := cache.m[canon]
	cache.RUnlock()
	if ok && e.size == size && e.sum == sum {
		return e.v, nil
	}

	v, err := binaryVersion(canon)
	if err != nil {
		return version.Version{}, err
	}

	cache.Lock()
	cache.m[canon] = cacheEntry{size: size, sum: sum, v: v}
	cache.Unlock()
	return v, nil
}

func digest(path string) (int64, uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("runtimes: reading %q: %w", path, err)
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return 0, 0, fmt.Errorf("runtimes: reading %q: %w", path, err)
	}
	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return 0, 0, fmt.Errorf("runtimes: reading %q: %w", path, err)
	}
	return fi.Size(), h.Sum64(), nil
}

// binaryVersion runs the binary with --version and parses the output. The
// version parser copes with the leading "pg_ctl (PostgreSQL)" noise.
func binaryVersion(binary string) (version.Version, error) {
	out, err := exec.Command(binary, "--version").Output()
	if err != nil {
		return version.Version{}, fmt.Errorf("runtimes: running %q: %w", binary, err)
	}
	v, err := version.Parse(string(out))
	if err != nil {
		return version.Version{}, fmt.Errorf("runtimes: no version in %q output: %w", binary, err)
	}
	return v, nil
}
