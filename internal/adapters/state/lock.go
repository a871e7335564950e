package state

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/leeroybrun/edison-sub004/internal/core"
)

// defaultLockTimeout bounds how long a writer waits on a contended
// entity before failing closed.
const defaultLockTimeout = 5 * time.Second

// withFileLock runs fn while holding the advisory .lock sidecar for an
// entity path. The lock file itself is left in place; only the flock is
// released.
func withFileLock(ctx context.Context, entityPath string, timeout time.Duration, fn func() error) error {
	if timeout <= 0 {
		timeout = defaultLockTimeout
	}
	if err := os.MkdirAll(filepath.Dir(entityPath), 0o755); err != nil {
		return core.ErrPersistence(core.CodeLockAcquireFailed, "creating lock directory").WithCause(err)
	}

	lock := flock.New(entityPath + ".lock")
	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ok, err := lock.TryLockContext(lockCtx, 50*time.Millisecond)
	if err != nil || !ok {
		return core.ErrPersistence(core.CodeLockAcquireFailed,
			"could not acquire lock for "+filepath.Base(entityPath)).
			WithCause(err).
			WithRemediation("another process holds the lock; retry or remove the stale " + filepath.Base(entityPath) + ".lock")
	}
	defer lock.Unlock()

	return fn()
}
