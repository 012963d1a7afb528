package utils

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/mitchellh/go-homedir"
)

// lockRetry is how often a blocked writer polls the lock file.
const lockRetry = 250 * time.Millisecond

// WriteLock is held by a process while it writes to a SQLite database file.
// The lock lives next to the database as "<file>.lock".
type WriteLock struct {
	f *flock.Flock
}

// AcquireWriteLock takes the writer lock of dbPath, waiting for other
// farmasearch processes until ctx is done.
func AcquireWriteLock(ctx context.Context, dbPath string) (*WriteLock, error) {
	abs, err := DBFilePath(dbPath)
	if err != nil {
		return nil, fmt.Errorf("resolving database path: %w", err)
	}
	f := flock.New(abs + ".lock")

	ok, err := f.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking %s: %w", f.Path(), err)
	}
	if !ok {
		Log.Warnf("%s is locked by another farmasearch writer, waiting", abs)
		ok, err = f.TryLockContext(ctx, lockRetry)
		if err != nil {
			return nil, fmt.Errorf("waiting for %s: %w", f.Path(), err)
		}
		if !ok {
			return nil, fmt.Errorf("waiting for %s: %w", f.Path(), ctx.Err())
		}
	}
	return &WriteLock{f: f}, nil
}

// Path returns the lock file.
func (l *WriteLock) Path() string { return l.f.Path() }

// Release drops the lock. Releasing twice is a no-op.
func (l *WriteLock) Release() error {
	if !l.f.Locked() {
		return nil
	}
	if err := l.f.Unlock(); err != nil {
		return fmt.Errorf("unlocking %s: %w", l.f.Path(), err)
	}
	return nil
}

// DBFilePath makes dbPath absolute. An empty path means
// ~/.config/farmasearch/farmasearch.sqlite.
func DBFilePath(dbPath string) (string, error) {
	if dbPath != "" {
		return filepath.Abs(dbPath)
	}
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "farmasearch", "farmasearch.sqlite"), nil
}
