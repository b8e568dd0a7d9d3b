package lock

import (
	"context"

	"github.com/opencontainers/go-digest"
)

// Locker serializes builds that publish the same artifact identity. Workers
// and the CLI may share one store and output directory; a lock is held from
// first cache lookup to final publish.
// Blocks until lock is acquired or context is cancelled.
type Locker interface {
	AcquireLock(ctx context.Context, key digest.Digest) (Lock, error)
}

// Lock represents an acquired lock that must be released
type Lock interface {
	Release() error
}

// NoOpLocker is for single-build invocations and tests.
type NoOpLocker struct{}

func NewNoOpLocker() *NoOpLocker {
	return &NoOpLocker{}
}

func (l *NoOpLocker) AcquireLock(ctx context.Context, key digest.Digest) (Lock, error) {
	return &noopLock{}, nil
}

type noopLock struct{}

func (l *noopLock) Release() error {
	return nil
}
