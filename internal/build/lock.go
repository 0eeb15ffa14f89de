package build

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/Aman-CERP/fmindex/internal/codec"
	fmerrors "github.com/Aman-CERP/fmindex/internal/errors"
)

// ShardLock is a cross-process advisory lock on a shard directory. A shard
// has exactly one writer at a time.
type ShardLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewShardLock creates the lock for the shard in dir. The lock file lives
// at <dir>/.build.lock.
func NewShardLock(dir string) *ShardLock {
	path := filepath.Join(dir, codec.LockName)
	return &ShardLock{path: path, flock: flock.New(path)}
}

// TryLock acquires the lock without blocking. It returns an
// ERR_507_LOCKED error when another process holds it.
func (l *ShardLock) TryLock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	acquired, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire shard lock: %w", err)
	}
	if !acquired {
		return fmerrors.New(fmerrors.ErrCodeLocked, "shard is being built by another process", nil).
			WithDetail("lock", l.path)
	}
	l.locked = true
	return nil
}

// Unlock releases the lock. Safe to call when not locked.
func (l *ShardLock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("release shard lock: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *ShardLock) Path() string { return l.path }
