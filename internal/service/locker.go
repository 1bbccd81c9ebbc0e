package service

import (
	"context"
	"sync"

	apperrors "github.com/pnl-tracker/internal/errors"
)

// Locker serializes the persist and compute-return stages per account.
// storage.PostgresLocker and storage.RedisLocker satisfy it across processes.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// LocalLocker is an in-process keyed mutex
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewLocalLocker creates an empty keyed mutex
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]chan struct{})}
}

// Lock waits for key or returns a lock-busy error once ctx is done
func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	ch, ok := l.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[key] = ch
	}
	l.mu.Unlock()

	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, apperrors.NewLockBusyError(key)
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-ch })
	}, nil
}
