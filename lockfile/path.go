package lockfile

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Namespace for deriving lock file names. Randomly chosen, fixed forever:
// changing it would silently stop new processes from contending with old
// ones.
var namespace = uuid.MustParse("46a4fca6-2b60-464b-8a94-715d4e939e7b")

// OpenFor opens the lock file coordinating access to the resource rooted at
// dir.
//
// The lock file lives in the system temporary directory under a name derived
// from the canonicalized (absolute, symlink-free) form of dir, so processes
// that address the same directory through different relative paths still
// contend on the same lock. The directory must exist.
func OpenFor(dir string) (*Unlocked, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("lockfile: resolving %q: %w", dir, err)
	}
	canon, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("lockfile: resolving %q: %w", dir, err)
	}
	id := uuid.NewSHA1(namespace, []byte(canon))
	name := fmt.Sprintf(".pgfixture.%s", id)
	return Open(filepath.Join(os.TempDir(), name))
}
