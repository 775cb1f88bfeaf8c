// Package lock provides an exclusive, non-blocking lease on a file so that only
// one process per deployment runs the scheduler.
package lock

import "errors"

// ErrLocked is returned when another process holds the lock
var ErrLocked = errors.New("lock is held by another process")

// Lock is a held file lock. Release it with Release.
type Lock struct {
	path    string
	release func() error
}

// Path returns the lock file path
func (l *Lock) Path() string {
	return l.path
}

// Release frees the lock. It is safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.release == nil {
		return nil
	}
	release := l.release
	l.release = nil
	return release()
}
