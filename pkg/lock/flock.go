package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
	"golang.org/x/sys/unix"
)

const acquireRetryInterval = 100 * time.Millisecond

// FileLocker implements Locker with flock(2) on per-key files, so the lock
// also holds across separate slipway processes sharing one data directory.
type FileLocker struct {
	dir string
}

func NewFileLocker(dir string) (*FileLocker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	return &FileLocker{dir: dir}, nil
}

func (l *FileLocker) AcquireLock(ctx context.Context, key digest.Digest) (Lock, error) {
	name := strings.ReplaceAll(key.String(), ":", "-") + ".lock"
	f, err := os.OpenFile(filepath.Join(l.dir, name), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return &fileLock{f: f}, nil
		}
		if !errors.Is(err, unix.EWOULDBLOCK) {
			_ = f.Close()
			return nil, fmt.Errorf("flock %s: %w", name, err)
		}

		select {
		case <-ctx.Done():
			_ = f.Close()
			return nil, ctx.Err()
		case <-time.After(acquireRetryInterval):
		}
	}
}

type fileLock struct {
	f *os.File
}

func (l *fileLock) Release() error {
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); err != nil {
		_ = l.f.Close()
		return fmt.Errorf("unlock: %w", err)
	}

	return l.f.Close()
}
