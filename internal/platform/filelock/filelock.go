// Package filelock serializes read-modify-write cycles on shared files
// across goroutines and processes on the same host.
package filelock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const retryDelay = 5 * time.Millisecond

var ErrNotAcquired = errors.New("lock not acquired")

// Locker hands out exclusive advisory locks keyed by a logical resource
// name. Each name maps to "<dir>/<name>.lock".
type Locker struct {
	dir string
}

func New(dir string) *Locker {
	return &Locker{dir: dir}
}

// With runs fn while holding the exclusive lock for name. The lock is
// released when fn returns, even on panic.
func (l *Locker) With(ctx context.Context, name string, fn func() error) error {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("creating lock dir: %w", err)
	}

	// A fresh handle per critical section: flock locks are per open file
	// description, so a shared handle would not exclude other goroutines.
	fl := flock.New(filepath.Join(l.dir, name+".lock"))
	locked, err := fl.TryLockContext(ctx, retryDelay)
	if err != nil {
		return fmt.Errorf("locking %s: %w", name, err)
	}
	if !locked {
		return fmt.Errorf("locking %s: %w", name, ErrNotAcquired)
	}
	defer func() { _ = fl.Unlock() }()

	return fn()
}
