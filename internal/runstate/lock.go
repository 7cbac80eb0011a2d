// Package runstate keeps one supervisor per project root and records the
// pids of a run so a later run can detect leftovers.
package runstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofrs/flock"
)

// lockRetryInterval is the interval between attempts to take the lock.
const lockRetryInterval = 50 * time.Millisecond

// ErrLocked is returned when another supervisor holds the lock.
var ErrLocked = errors.New("another devstack instance is running for this project")

// Lock is an exclusive advisory lock on a file.
type Lock struct {
	fl *flock.Flock
}

// AcquireLock takes the exclusive lock at path, retrying until ctx is done.
// It returns an error wrapping ErrLocked when the lock is still held by
// someone else at that point.
func AcquireLock(ctx context.Context, path string) (*Lock, error) {
	fl := flock.New(path)

	locked, err := fl.TryLockContext(ctx, lockRetryInterval)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("acquiring lock %s: %w", path, ErrLocked)
		}
		return nil, fmt.Errorf("acquiring lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("acquiring lock %s: %w", path, ErrLocked)
	}
	return &Lock{fl: fl}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.fl.Path()
}

// Release unlocks and closes the lock file. The file stays on disk so a
// concurrent acquirer never locks an unlinked inode.
func (l *Lock) Release(logger *slog.Logger) {
	if l == nil || l.fl == nil {
		return
	}
	if err := l.fl.Close(); err != nil && logger != nil {
		logger.Debug("lock_release_failed", "path", l.fl.Path(), "error", err)
	}
}
