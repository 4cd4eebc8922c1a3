// Package lockfile wraps gofrs/flock for the exclusive file-lock
// discipline the session registry uses to coordinate a single writer
// across processes.
package lockfile

import (
	"os"

	"github.com/gofrs/flock"
)

// FlockExclusiveBlocking acquires an exclusive advisory lock on f,
// blocking until it is available.
func FlockExclusiveBlocking(f *os.File) error {
	fl := flock.New(f.Name())
	return fl.Lock()
}

// FlockUnlock releases a lock previously acquired on f's path.
func FlockUnlock(f *os.File) error {
	fl := flock.New(f.Name())
	return fl.Unlock()
}

// Locker wraps a *flock.Flock for callers that want to hold the handle
// across a read-modify-write section rather than re-opening it.
type Locker struct {
	fl *flock.Flock
}

// New returns a Locker for the file at path. The file need not exist
// yet; flock creates it on first Lock.
func New(path string) *Locker {
	return &Locker{fl: flock.New(path)}
}

// Lock blocks until the exclusive lock is acquired.
func (l *Locker) Lock() error { return l.fl.Lock() }

// Unlock releases the lock.
func (l *Locker) Unlock() error { return l.fl.Unlock() }

// WithLock runs fn while holding the exclusive lock.
func (l *Locker) WithLock(fn func() error) error {
	if err := l.Lock(); err != nil {
		return err
	}
	defer l.Unlock()
	return fn()
}
