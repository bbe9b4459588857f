// Package coordinate safely shares one resource, typically a
// [cluster.Cluster], among many uncoordinated processes.
//
// Processes never talk to each other; all coordination goes through an
// advisory lock file. Whichever process gets there first creates and starts
// the resource, every concurrent user holds a shared lock while using it,
// and the last one out stops (or destroys) it. A typical use, many
// concurrent test processes wanting the same scratch cluster:
//
//	lock, err := lockfile.OpenFor(datadir)
//	// ...
//	dbs, err := coordinate.RunAndStop(ctx, clu, lock,
//		func(ctx context.Context) ([]string, error) {
//			return clu.Databases(ctx)
//		})
package coordinate

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/quay/pgfixture/cluster"
	"github.com/quay/pgfixture/lockfile"
)

// Resource is the lifecycle surface the coordinator needs. [*cluster.Cluster]
// implements it.
//
// Implementations must be idempotent: Start on a running resource and Stop
// on a stopped one report false and no error. They may report
// [cluster.ErrInUse] when they lose an internal race; the coordinator
// treats that as benign during shutdown.
type Resource interface {
	Running(context.Context) (bool, error)
	Start(context.Context) (bool, error)
	Stop(context.Context) (bool, error)
	Destroy(context.Context) (bool, error)
}

// Retry delay bounds for the startup protocol. The jitter desynchronizes
// competing processes so one of them promptly wins the exclusive lock.
const (
	retryDelayMin  = 200 * time.Millisecond
	retryDelaySpan = 800 * time.Millisecond
)

// RunAndStop performs action while the resource is up.
//
// Using the lock for synchronization, this creates the resource if it does
// not exist and starts it if it's not running, invokes action while holding
// a shared lock, then stops the resource again unless other processes are
// still using it, in which case it is left running.
//
// The lock handle is consumed: the coordinator owns it from here on and
// releases it on every path out.
func RunAndStop[T any](ctx context.Context, res Resource, lock *lockfile.Unlocked, action func(context.Context) (T, error)) (T, error) {
	return run(ctx, res, lock, action, Resource.Stop, outcomeStopped)
}

// RunAndDestroy is like [RunAndStop] except that the resource is destroyed
// afterwards: stopped, and its backing state deleted. If other processes
// are still using the resource it is left running and is not destroyed.
func RunAndDestroy[T any](ctx context.Context, res Resource, lock *lockfile.Unlocked, action func(context.Context) (T, error)) (T, error) {
	return run(ctx, res, lock, action, Resource.Destroy, outcomeDestroyed)
}

func run[T any](
	ctx context.Context,
	res Resource,
	lock *lockfile.Unlocked,
	action func(context.Context) (T, error),
	finish func(Resource, context.Context) (bool, error),
	outcome metric.MeasurementOption,
) (ret T, err error) {
	shared, err := startup(ctx, res, lock)
	if err != nil {
		return ret, err
	}

	// The action must not skip the shutdown protocol, panic or no; a
	// panic is re-raised once shutdown has run.
	var panicked any
	var completed bool
	func() {
		defer func() {
			if !completed {
				panicked = recover()
			}
		}()
		ret, err = action(ctx)
		completed = true
	}()

	serr := shutdown(ctx, res, shared, finish, outcome)
	switch {
	case !completed:
		panic(panicked)
	case serr != nil:
		return ret, serr
	}
	return ret, err
}

// startup obtains a shared lock with the resource guaranteed running.
//
// Exactly one of the racing processes wins the exclusive lock and performs
// the create+start sequence; everyone else converges on a shared lock once
// the resource is confirmed up. A process that gets a shared lock but finds
// the resource not running (the exclusive holder crashed, gave up, or was
// tearing down) backs off for a random interval and retries, so the herd
// does not stampede the lock.
func startup(ctx context.Context, res Resource, lock *lockfile.Unlocked) (*lockfile.Shared, error) {
	ctx, span := tracer.Start(ctx, "coordinate.startup")
	defer span.End()
	for {
		if err := ctx.Err(); err != nil {
			lock.Close()
			return nil, err
		}
		unlocked, excl, err := lock.TryExclusive()
		if err != nil {
			lock.Close()
			return nil, err
		}
		if excl == nil {
			// Someone else holds the lock exclusively. Switch to a
			// shared lock optimistically; this blocks until the
			// exclusive holder releases or downgrades.
			shared, err := unlocked.Shared()
			if err != nil {
				unlocked.Close()
				return nil, err
			}
			running, err := res.Running(ctx)
			if err != nil {
				shared.Close()
				return nil, err
			}
			if running {
				// The resource was started while that exclusive lock
				// was held. The shared lock is proof it stays up.
				return shared, nil
			}
			// Not running after all. Release and retry after a
			// jittered delay.
			unlocked, err = shared.Unlock()
			if err != nil {
				shared.Close()
				return nil, err
			}
			lock = unlocked
			startupRetries.Add(ctx, 1)
			delay := retryDelayMin + time.Duration(rand.Int63n(int64(retryDelaySpan)))
			slog.DebugContext(ctx, "resource not running; backing off", "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				lock.Close()
				return nil, ctx.Err()
			}
			continue
		}
		// We hold the exclusive lock: bring the resource up, then
		// downgrade so other users can get in.
		if _, err := res.Start(ctx); err != nil {
			excl.Close()
			return nil, err
		}
		shared, err := excl.Shared()
		if err != nil {
			excl.Close()
			return nil, err
		}
		return shared, nil
	}
}

// shutdown runs finish on the resource if and only if this process is its
// last user, then releases the lock.
func shutdown(ctx context.Context, res Resource, lock *lockfile.Shared, finish func(Resource, context.Context) (bool, error), outcome metric.MeasurementOption) error {
	ctx, span := tracer.Start(ctx, "coordinate.shutdown")
	defer span.End()
	shared, excl, err := lock.TryExclusive()
	if err != nil {
		lock.Close()
		return err
	}
	if excl == nil {
		// Other processes still hold shared locks: the resource stays
		// up for them. Their own shutdowns will take care of it.
		slog.DebugContext(ctx, "resource in use elsewhere; leaving it running")
		shutdownOutcome.Add(ctx, 1, outcomeLeftRunning)
		return shared.Close()
	}
	defer excl.Close()
	if _, err := finish(res, ctx); err != nil {
		if errors.Is(err, cluster.ErrInUse) {
			// Somebody got in between our lock upgrade and the
			// operation. They're using the resource; leave it to them.
			slog.DebugContext(ctx, "resource grabbed during shutdown; leaving it running")
			shutdownOutcome.Add(ctx, 1, outcomeLeftRunning)
			return nil
		}
		return err
	}
	shutdownOutcome.Add(ctx, 1, outcome)
	return nil
}
