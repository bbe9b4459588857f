// Package lockfile implements advisory file locking via flock(2), with the
// lock's state tracked in the type system.
//
// A lock file starts life as an [Unlocked] handle. Transition methods consume
// the handle they're called on and return a handle of the new state; a
// consumed handle is dead and any further method calls on it report
// [ErrHandleConsumed]. This makes it impossible to hold two live views of the
// same lock at once.
//
// The non-blocking Try variants report contention by handing back the
// original handle along with a nil new-state handle. Contention is an
// expected outcome, not an error.
//
// Closing a handle of any state releases the OS lock, as does process exit:
// flock state rides the open file description, so the kernel cleans up after
// a crashed holder and no on-disk bookkeeping is needed. The lock file itself
// is never written to or deleted; a stale file is harmless.
package lockfile

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// ErrHandleConsumed is reported when a transition method is called on a
// handle that a previous transition already consumed.
var ErrHandleConsumed = errors.New("lockfile: handle already consumed by a state transition")

// Unlocked is a handle to a lock file on which no lock is held.
type Unlocked struct {
	f *os.File
}

// Shared is a handle holding a shared (read) lock. Any number of Shared
// holders may coexist.
type Shared struct {
	f *os.File
}

// Exclusive is a handle holding an exclusive (write) lock. An Exclusive
// holder excludes all other holders, shared or exclusive.
type Exclusive struct {
	f *os.File
}

// Open opens the file at the provided path for locking, creating it if
// needed. The file's contents are never read or modified.
func Open(path string) (*Unlocked, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &Unlocked{f: f}, nil
}

// flock issues a blocking flock(2) call.
func flock(f *os.File, how int) error {
	if err := unix.Flock(int(f.Fd()), how); err != nil {
		return os.NewSyscallError("flock", err)
	}
	return nil
}

// tryFlock issues a non-blocking flock(2) call, reporting whether the lock
// was obtained. Contention is not an error.
func tryFlock(f *os.File, how int) (bool, error) {
	err := unix.Flock(int(f.Fd()), how|unix.LOCK_NB)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, unix.EWOULDBLOCK):
		return false, nil
	default:
		return false, os.NewSyscallError("flock", err)
	}
}

// Shared blocks until a shared lock is obtained.
func (l *Unlocked) Shared() (*Shared, error) {
	if l.f == nil {
		return nil, ErrHandleConsumed
	}
	if err := flock(l.f, unix.LOCK_SH); err != nil {
		return nil, err
	}
	n := &Shared{f: l.f}
	l.f = nil
	return n, nil
}

// Exclusive blocks until an exclusive lock is obtained.
func (l *Unlocked) Exclusive() (*Exclusive, error) {
	if l.f == nil {
		return nil, ErrHandleConsumed
	}
	if err := flock(l.f, unix.LOCK_EX); err != nil {
		return nil, err
	}
	n := &Exclusive{f: l.f}
	l.f = nil
	return n, nil
}

// TryExclusive attempts to obtain an exclusive lock without blocking. On
// contention the original handle is returned unchanged and the Exclusive
// result is nil.
func (l *Unlocked) TryExclusive() (*Unlocked, *Exclusive, error) {
	if l.f == nil {
		return nil, nil, ErrHandleConsumed
	}
	ok, err := tryFlock(l.f, unix.LOCK_EX)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return l, nil, nil
	}
	n := &Exclusive{f: l.f}
	l.f = nil
	return nil, n, nil
}

// TryShared attempts to obtain a shared lock without blocking.
func (l *Unlocked) TryShared() (*Unlocked, *Shared, error) {
	if l.f == nil {
		return nil, nil, ErrHandleConsumed
	}
	ok, err := tryFlock(l.f, unix.LOCK_SH)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return l, nil, nil
	}
	n := &Shared{f: l.f}
	l.f = nil
	return nil, n, nil
}

// Close releases any lock by closing the file. Closing a consumed handle is
// a no-op.
func (l *Unlocked) Close() error {
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

// Exclusive blocks until the shared lock is upgraded to exclusive.
//
// Note that upgrading can deadlock if two shared holders block upgrading at
// the same time; prefer [Shared.TryExclusive].
func (l *Shared) Exclusive() (*Exclusive, error) {
	if l.f == nil {
		return nil, ErrHandleConsumed
	}
	if err := flock(l.f, unix.LOCK_EX); err != nil {
		return nil, err
	}
	n := &Exclusive{f: l.f}
	l.f = nil
	return n, nil
}

// TryExclusive attempts to upgrade to an exclusive lock without blocking. On
// contention the original shared handle is returned unchanged and the
// Exclusive result is nil.
func (l *Shared) TryExclusive() (*Shared, *Exclusive, error) {
	if l.f == nil {
		return nil, nil, ErrHandleConsumed
	}
	ok, err := tryFlock(l.f, unix.LOCK_EX)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return l, nil, nil
	}
	n := &Exclusive{f: l.f}
	l.f = nil
	return nil, n, nil
}

// Unlock releases the shared lock. Release is immediate; this never blocks.
func (l *Shared) Unlock() (*Unlocked, error) {
	if l.f == nil {
		return nil, ErrHandleConsumed
	}
	if err := flock(l.f, unix.LOCK_UN); err != nil {
		return nil, err
	}
	n := &Unlocked{f: l.f}
	l.f = nil
	return n, nil
}

// TryUnlock releases the shared lock without blocking. On contention the
// original shared handle is returned unchanged and the Unlocked result is
// nil.
func (l *Shared) TryUnlock() (*Shared, *Unlocked, error) {
	if l.f == nil {
		return nil, nil, ErrHandleConsumed
	}
	ok, err := tryFlock(l.f, unix.LOCK_UN)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return l, nil, nil
	}
	n := &Unlocked{f: l.f}
	l.f = nil
	return nil, n, nil
}

// Close releases the lock by closing the file. Closing a consumed handle is
// a no-op.
func (l *Shared) Close() error {
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

// Shared downgrades the exclusive lock to a shared lock. Downgrading cannot
// deadlock against the holder itself, so the blocking call is safe.
func (l *Exclusive) Shared() (*Shared, error) {
	if l.f == nil {
		return nil, ErrHandleConsumed
	}
	if err := flock(l.f, unix.LOCK_SH); err != nil {
		return nil, err
	}
	n := &Shared{f: l.f}
	l.f = nil
	return n, nil
}

// TryShared attempts to downgrade to a shared lock without blocking.
func (l *Exclusive) TryShared() (*Exclusive, *Shared, error) {
	if l.f == nil {
		return nil, nil, ErrHandleConsumed
	}
	ok, err := tryFlock(l.f, unix.LOCK_SH)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return l, nil, nil
	}
	n := &Shared{f: l.f}
	l.f = nil
	return nil, n, nil
}

// Unlock releases the exclusive lock.
func (l *Exclusive) Unlock() (*Unlocked, error) {
	if l.f == nil {
		return nil, ErrHandleConsumed
	}
	if err := flock(l.f, unix.LOCK_UN); err != nil {
		return nil, err
	}
	n := &Unlocked{f: l.f}
	l.f = nil
	return n, nil
}

// Close releases the lock by closing the file. Closing a consumed handle is
// a no-op.
func (l *Exclusive) Close() error {
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
