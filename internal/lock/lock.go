// Package lock provides the blocking shared/exclusive locks used for the
// process-wide update lock and for per-document locks.
//
// Acquisition is the only place a goroutine waits in this core. Locks are
// FIFO-fair: a waiting exclusive request blocks later shared requests, so
// writers are not starved by a stream of readers. There is no timeout;
// deadlock freedom comes from callers acquiring document locks in id order.
package lock

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/roach88/xcore/internal/xerr"
)

// Mode is the lock mode.
type Mode int

const (
	// Shared allows concurrent holders.
	Shared Mode = iota + 1
	// Exclusive allows a single holder and no shared holders.
	Exclusive
)

// String returns "shared" or "exclusive".
func (m Mode) String() string {
	switch m {
	case Shared:
		return "shared"
	case Exclusive:
		return "exclusive"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// maxHolders bounds concurrent shared holders; an exclusive holder takes
// all of them.
const maxHolders = 1 << 30

// RWLock is a named shared/exclusive lock.
//
// Thread-safety: all methods are safe for concurrent use.
type RWLock struct {
	name      string
	sem       *semaphore.Weighted
	shared    atomic.Int64
	exclusive atomic.Bool
}

// New creates an unlocked RWLock. The name is used in error messages.
func New(name string) *RWLock {
	return &RWLock{
		name: name,
		sem:  semaphore.NewWeighted(maxHolders),
	}
}

// Name returns the lock name.
func (l *RWLock) Name() string {
	return l.name
}

func weight(mode Mode) int64 {
	if mode == Exclusive {
		return maxHolders
	}
	return 1
}

// Acquire blocks until the lock is held in mode or ctx is done.
// A cancelled acquisition returns xerr.KindLockFailure and holds nothing.
func (l *RWLock) Acquire(ctx context.Context, mode Mode) error {
	if mode != Shared && mode != Exclusive {
		return xerr.New(xerr.KindLockFailure, "invalid lock mode %s on %s", mode, l.name)
	}
	if err := l.sem.Acquire(ctx, weight(mode)); err != nil {
		return xerr.Wrap(xerr.KindLockFailure, err, "acquire %s lock on %s", mode, l.name)
	}
	if mode == Exclusive {
		l.exclusive.Store(true)
	} else {
		l.shared.Add(1)
	}
	return nil
}

// TryAcquire acquires the lock in mode without blocking.
// Returns false if the lock is not immediately available.
func (l *RWLock) TryAcquire(mode Mode) bool {
	if !l.sem.TryAcquire(weight(mode)) {
		return false
	}
	if mode == Exclusive {
		l.exclusive.Store(true)
	} else {
		l.shared.Add(1)
	}
	return true
}

// Release releases one hold in mode.
// Releasing a mode that is not held panics, like sync.RWMutex.
func (l *RWLock) Release(mode Mode) {
	if mode == Exclusive {
		if !l.exclusive.Swap(false) {
			panic(fmt.Sprintf("lock: release of unheld exclusive lock %s", l.name))
		}
	} else {
		if l.shared.Add(-1) < 0 {
			l.shared.Add(1)
			panic(fmt.Sprintf("lock: release of unheld shared lock %s", l.name))
		}
	}
	l.sem.Release(weight(mode))
}

// HeldExclusive reports whether the lock is currently held exclusively.
// Intended for assertions and diagnostics only.
func (l *RWLock) HeldExclusive() bool {
	return l.exclusive.Load()
}

// SharedHolders returns the current number of shared holders.
// Intended for assertions and diagnostics only.
func (l *RWLock) SharedHolders() int64 {
	return l.shared.Load()
}
