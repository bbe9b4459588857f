package coordinate

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quay/pgfixture/cluster"
	"github.com/quay/pgfixture/lockfile"
)

// fakeResource is an in-memory Resource with idempotent transitions and
// transition counts.
type fakeResource struct {
	mu       sync.Mutex
	exists   bool
	running  bool
	starts   int
	stops    int
	destroys int

	// stopErr is returned once from Stop, for fault injection.
	stopErr error
}

func (r *fakeResource) Running(context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running, nil
}

func (r *fakeResource) Start(context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exists = true
	if r.running {
		return false, nil
	}
	r.running = true
	r.starts++
	return true, nil
}

func (r *fakeResource) Stop(context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.stopErr; err != nil {
		r.stopErr = nil
		return false, err
	}
	if !r.running {
		return false, nil
	}
	r.running = false
	r.stops++
	return true, nil
}

func (r *fakeResource) Destroy(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running && !r.exists {
		return false, nil
	}
	if r.running {
		r.running = false
		r.stops++
	}
	r.exists = false
	r.destroys++
	return true, nil
}

func (r *fakeResource) snapshot() fakeResource {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fakeResource{
		exists:   r.exists,
		running:  r.running,
		starts:   r.starts,
		stops:    r.stops,
		destroys: r.destroys,
	}
}

func openLock(t testing.TB, path string) *lockfile.Unlocked {
	t.Helper()
	l, err := lockfile.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func TestRunAndStopLeavesTheResourceInPlace(t *testing.T) {
	ctx := context.Background()
	res := new(fakeResource)
	path := filepath.Join(t.TempDir(), "lock")

	got, err := RunAndStop(ctx, res, openLock(t, path), func(ctx context.Context) (string, error) {
		running, err := res.Running(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if !running {
			t.Error("resource not running inside the action")
		}
		return "result", nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got != "result" {
		t.Errorf("got %q", got)
	}

	s := res.snapshot()
	if s.starts != 1 || s.stops != 1 {
		t.Errorf("starts=%d stops=%d, want 1 and 1", s.starts, s.stops)
	}
	if !s.exists {
		t.Error("resource removed by RunAndStop")
	}
	if s.running {
		t.Error("resource left running with no other users")
	}
}

func TestRunAndDestroyRemovesTheResource(t *testing.T) {
	ctx := context.Background()
	res := new(fakeResource)
	path := filepath.Join(t.TempDir(), "lock")

	if _, err := RunAndDestroy(ctx, res, openLock(t, path), func(ctx context.Context) (struct{}, error) {
		return struct{}{}, nil
	}); err != nil {
		t.Fatal(err)
	}

	s := res.snapshot()
	if s.destroys != 1 {
		t.Errorf("destroys=%d, want 1", s.destroys)
	}
	if s.exists || s.running {
		t.Errorf("resource still present after RunAndDestroy: %+v", &s)
	}
}

func TestAtMostOneStartAmongRacers(t *testing.T) {
	const workers = 8
	ctx := context.Background()
	res := new(fakeResource)
	path := filepath.Join(t.TempDir(), "lock")

	// Every action blocks until all actions have begun, proving that all
	// workers observe the resource up simultaneously under shared locks.
	// Completions are then staggered, each worker returning from its
	// action only after the previous worker's RunAndStop has finished
	// entirely: the last worker is deterministically last out, so its
	// shutdown upgrade cannot contend with a lingering shared holder.
	var barrier sync.WaitGroup
	barrier.Add(workers)
	finished := make([]chan struct{}, workers)
	for i := range finished {
		finished[i] = make(chan struct{})
	}

	var eg errgroup.Group
	for i := 0; i < workers; i++ {
		i := i
		eg.Go(func() error {
			defer close(finished[i])
			_, err := RunAndStop(ctx, res, openLock(t, path), func(ctx context.Context) (struct{}, error) {
				running, err := res.Running(ctx)
				if err != nil {
					return struct{}{}, err
				}
				if !running {
					t.Error("resource not running inside an action")
				}
				barrier.Done()
				barrier.Wait()
				if i > 0 {
					<-finished[i-1]
				}
				return struct{}{}, nil
			})
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		t.Fatal(err)
	}

	s := res.snapshot()
	if s.starts != 1 {
		t.Errorf("starts=%d, want exactly 1", s.starts)
	}
	if s.stops != 1 {
		t.Errorf("stops=%d, want exactly 1", s.stops)
	}
	if s.running {
		t.Error("resource left running after the last user")
	}
}

func TestNoPrematureTeardown(t *testing.T) {
	ctx := context.Background()
	res := new(fakeResource)
	path := filepath.Join(t.TempDir(), "lock")

	inside := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := RunAndStop(ctx, res, openLock(t, path), func(context.Context) (struct{}, error) {
			close(inside)
			<-release
			return struct{}{}, nil
		})
		done <- err
	}()
	<-inside

	// A second user comes and goes while the first is mid-action.
	if _, err := RunAndStop(ctx, res, openLock(t, path), func(context.Context) (struct{}, error) {
		return struct{}{}, nil
	}); err != nil {
		t.Fatal(err)
	}

	if s := res.snapshot(); !s.running {
		t.Fatal("resource stopped while a shared holder was still inside its action")
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	s := res.snapshot()
	if s.running {
		t.Error("resource left running after the last user")
	}
	if s.starts != 1 || s.stops != 1 {
		t.Errorf("starts=%d stops=%d, want 1 and 1", s.starts, s.stops)
	}
}

func TestDestroyDeferredToLastUser(t *testing.T) {
	ctx := context.Background()
	res := new(fakeResource)
	path := filepath.Join(t.TempDir(), "lock")

	inside := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := RunAndDestroy(ctx, res, openLock(t, path), func(context.Context) (struct{}, error) {
			close(inside)
			<-release
			return struct{}{}, nil
		})
		done <- err
	}()
	<-inside

	if _, err := RunAndDestroy(ctx, res, openLock(t, path), func(context.Context) (struct{}, error) {
		return struct{}{}, nil
	}); err != nil {
		t.Fatal(err)
	}

	// The short-lived user must not have destroyed anything.
	if s := res.snapshot(); !s.exists || !s.running {
		t.Fatalf("resource torn down under an active user: %+v", &s)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	s := res.snapshot()
	if s.destroys != 1 {
		t.Errorf("destroys=%d, want 1", s.destroys)
	}
	if s.exists {
		t.Error("resource still present after the last user's RunAndDestroy")
	}
}

func TestStartupRetriesAfterAbandonedExclusive(t *testing.T) {
	ctx := context.Background()
	res := new(fakeResource)
	path := filepath.Join(t.TempDir(), "lock")

	// Simulate a peer that took the exclusive lock and then went away
	// without starting the resource (crash, gave up).
	peer, err := openLock(t, path).Exclusive()
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		time.Sleep(100 * time.Millisecond)
		peer.Close()
	}()

	start := time.Now()
	if _, err := RunAndStop(ctx, res, openLock(t, path), func(context.Context) (struct{}, error) {
		return struct{}{}, nil
	}); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 300*time.Millisecond {
		t.Errorf("finished in %v; expected at least the minimum backoff after the abandoned lock", elapsed)
	}

	s := res.snapshot()
	if s.starts != 1 {
		t.Errorf("starts=%d, want 1", s.starts)
	}
}

func TestActionPanicStillRunsShutdown(t *testing.T) {
	ctx := context.Background()
	res := new(fakeResource)
	path := filepath.Join(t.TempDir(), "lock")

	type sentinel struct{ s string }
	want := sentinel{"boom"}

	func() {
		defer func() {
			got := recover()
			if got != want {
				t.Errorf("recovered %v, want %v", got, want)
			}
		}()
		RunAndStop(ctx, res, openLock(t, path), func(context.Context) (struct{}, error) {
			panic(want)
		})
		t.Error("RunAndStop returned normally from a panicking action")
	}()

	s := res.snapshot()
	if s.stops != 1 {
		t.Errorf("stops=%d, want 1: shutdown must run despite the panic", s.stops)
	}
}

func TestActionErrorStillRunsShutdown(t *testing.T) {
	ctx := context.Background()
	res := new(fakeResource)
	path := filepath.Join(t.TempDir(), "lock")

	wantErr := errors.New("action failed")
	_, err := RunAndStop(ctx, res, openLock(t, path), func(context.Context) (struct{}, error) {
		return struct{}{}, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("got %v, want %v", err, wantErr)
	}
	if s := res.snapshot(); s.stops != 1 {
		t.Errorf("stops=%d, want 1", s.stops)
	}
}

func TestShutdownInUseIsBenign(t *testing.T) {
	ctx := context.Background()
	res := new(fakeResource)
	res.stopErr = cluster.ErrInUse
	path := filepath.Join(t.TempDir(), "lock")

	got, err := RunAndStop(ctx, res, openLock(t, path), func(context.Context) (int, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("ErrInUse during shutdown should not fail the run: %v", err)
	}
	if got != 42 {
		t.Errorf("got %d, want 42", got)
	}
	if s := res.snapshot(); !s.running {
		t.Error("resource should have been left running")
	}
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := new(fakeResource)
	path := filepath.Join(t.TempDir(), "lock")

	_, err := RunAndStop(ctx, res, openLock(t, path), func(context.Context) (struct{}, error) {
		t.Error("action ran despite a canceled context")
		return struct{}{}, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}
